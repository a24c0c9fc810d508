// Package contracttest provides a compiled contract and a simulated chain
// for tests that exercise contract handles end to end.
package contracttest

import (
	"context"
	"crypto/ecdsa"
	"math/big"
	"strings"
	"testing"
	"time"

	"ContractHub/internal/web3/accounts"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/accounts/abi/bind/backends"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
)

// ABI describes OwnedValue: a uint256 initialised to 42 by the constructor,
// an owner set to the deployer, a payable deposit and an owner-only
// transferOwnership that reverts with "not owner".
const ABI = `[{"inputs":[],"stateMutability":"nonpayable","type":"constructor"},{"anonymous":false,"inputs":[{"indexed":true,"internalType":"address","name":"previousOwner","type":"address"},{"indexed":true,"internalType":"address","name":"newOwner","type":"address"}],"name":"OwnershipTransferred","type":"event"},{"anonymous":false,"inputs":[{"indexed":true,"internalType":"uint256","name":"oldValue","type":"uint256"},{"indexed":false,"internalType":"uint256","name":"newValue","type":"uint256"}],"name":"ValueChanged","type":"event"},{"inputs":[],"name":"deposit","outputs":[],"stateMutability":"payable","type":"function"},{"inputs":[],"name":"getOwner","outputs":[{"internalType":"address","name":"","type":"address"}],"stateMutability":"view","type":"function"},{"inputs":[],"name":"getValue","outputs":[{"internalType":"uint256","name":"","type":"uint256"}],"stateMutability":"view","type":"function"},{"inputs":[{"internalType":"uint256","name":"newValue","type":"uint256"}],"name":"setValue","outputs":[],"stateMutability":"nonpayable","type":"function"},{"inputs":[{"internalType":"address","name":"newOwner","type":"address"}],"name":"transferOwnership","outputs":[],"stateMutability":"nonpayable","type":"function"}]`

// Bytecode is the creation code of OwnedValue without a 0x prefix.
const Bytecode = "608060405234801561001057600080fd5b5033600160006101000a81548173ffffffffffffffffffffffffffffffffffffffff021916908373ffffffffffffffffffffffffffffffffffffffff160217905550602a6000819055506104cf806100696000396000f3fe60806040526004361061004a5760003560e01c8063209652551461004f578063552410771461007a578063893d20e8146100a3578063d0e30db0146100ce578063f2fde38b146100d8575b600080fd5b34801561005b57600080fd5b50610064610101565b60405161007191906102ee565b60405180910390f35b34801561008657600080fd5b506100a1600480360381019061009c919061033a565b61010a565b005b3480156100af57600080fd5b506100b8610153565b6040516100c591906103a8565b60405180910390f35b6100d661017d565b005b3480156100e457600080fd5b506100ff60048036038101906100fa91906103ef565b61017f565b005b60008054905090565b60008054905081600081905550807f2db947ef788961acc438340dbcb4e242f80d026b621b7c98ee306199503903828360405161014791906102ee565b60405180910390a25050565b6000600160009054906101000a900473ffffffffffffffffffffffffffffffffffffffff16905090565b565b600160009054906101000a900473ffffffffffffffffffffffffffffffffffffffff1673ffffffffffffffffffffffffffffffffffffffff163373ffffffffffffffffffffffffffffffffffffffff161461020f576040517f08c379a000000000000000000000000000000000000000000000000000000000815260040161020690610479565b60405180910390fd5b6000600160009054906101000a900473ffffffffffffffffffffffffffffffffffffffff16905081600160006101000a81548173ffffffffffffffffffffffffffffffffffffffff021916908373ffffffffffffffffffffffffffffffffffffffff1602179055508173ffffffffffffffffffffffffffffffffffffffff168173ffffffffffffffffffffffffffffffffffffffff167f8be0079c531659141344cd1fd0a4f28419497f9722a3daafe3b4186f6b6457e060405160405180910390a35050565b6000819050919050565b6102e8816102d5565b82525050565b600060208201905061030360008301846102df565b92915050565b600080fd5b610317816102d5565b811461032257600080fd5b50565b6000813590506103348161030e565b92915050565b6000602082840312156103505761034f610309565b5b600061035e84828501610325565b91505092915050565b600073ffffffffffffffffffffffffffffffffffffffff82169050919050565b600061039282610367565b9050919050565b6103a281610387565b82525050565b60006020820190506103bd6000830184610399565b92915050565b6103cc81610387565b81146103d757600080fd5b50565b6000813590506103e9816103c3565b92915050565b60006020828403121561040557610404610309565b5b6000610413848285016103da565b91505092915050565b600082825260208201905092915050565b7f6e6f74206f776e65720000000000000000000000000000000000000000000000600082015250565b600061046360098361041c565b915061046e8261042d565b602082019050919050565b6000602082019050818103600083015261049281610456565b905091905056fea2646970667358221220dde338433c727cae7c4dc53ef84b88f8ce492e974cab93a03ef202c78ff8adec64736f6c63430008110033"

// InitialValue is what getValue returns right after deployment.
const InitialValue = 42

// MustParseABI parses ABI or fails the test.
func MustParseABI(t testing.TB) abi.ABI {
	t.Helper()
	parsed, err := abi.JSON(strings.NewReader(ABI))
	if err != nil {
		t.Fatalf("parse abi: %v", err)
	}
	return parsed
}

// Chain is a simulated chain with two funded accounts.
type Chain struct {
	Backend  *backends.SimulatedBackend
	Keyring  *accounts.Keyring
	Deployer common.Address
	Other    common.Address
	// Unfunded has a signing key but no balance.
	Unfunded common.Address
}

// NewChain starts a simulated chain that seals a block every few
// milliseconds until the test ends.
func NewChain(t testing.TB) *Chain {
	t.Helper()
	keys := make([]*ecdsa.PrivateKey, 3)
	for i := range keys {
		key, err := crypto.GenerateKey()
		if err != nil {
			t.Fatalf("generate key: %v", err)
		}
		keys[i] = key
	}

	funds := new(big.Int).Mul(big.NewInt(1000), big.NewInt(1e18))
	alloc := types.GenesisAlloc{
		crypto.PubkeyToAddress(keys[0].PublicKey): {Balance: funds},
		crypto.PubkeyToAddress(keys[1].PublicKey): {Balance: funds},
	}
	backend := backends.NewSimulatedBackend(alloc, 30_000_000)

	chainID, err := backend.ChainID(context.Background())
	if err != nil {
		t.Fatalf("chain id: %v", err)
	}
	ring := accounts.NewKeyring(chainID)
	chain := &Chain{
		Backend:  backend,
		Keyring:  ring,
		Deployer: ring.Add(keys[0]),
		Other:    ring.Add(keys[1]),
		Unfunded: ring.Add(keys[2]),
	}

	stop := make(chan struct{})
	done := make(chan struct{})
	go func() {
		defer close(done)
		ticker := time.NewTicker(5 * time.Millisecond)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				backend.Commit()
			}
		}
	}()
	t.Cleanup(func() {
		close(stop)
		<-done
		_ = backend.Close()
	})
	return chain
}
