package accounts

import (
	"context"
	stdErrors "errors"
	"math/big"
	"testing"

	xerrors "ContractHub/internal/errors"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

func TestKeyringTransactOpts(t *testing.T) {
	key, err := crypto.GenerateKey()
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	ring := NewKeyring(big.NewInt(1337))
	addr := ring.Add(key)

	opts, err := ring.TransactOpts(context.Background(), addr)
	if err != nil {
		t.Fatalf("transact opts: %v", err)
	}
	if opts.From != addr {
		t.Fatalf("unexpected from %s", opts.From.Hex())
	}
	if opts.Signer == nil {
		t.Fatal("expected signer to be set")
	}
	if opts.Value != nil {
		t.Fatal("value must be left to the caller")
	}
}

func TestKeyringAddHex(t *testing.T) {
	ring := NewKeyring(big.NewInt(1))
	addr, err := ring.AddHex("0x0000000000000000000000000000000000000000000000000000000000000001")
	if err != nil {
		t.Fatalf("add hex: %v", err)
	}
	want := common.HexToAddress("0x7E5F4552091A69125d5DfCb7b8C2659029395Bdf")
	if addr != want {
		t.Fatalf("unexpected address %s", addr.Hex())
	}
	if got := ring.Addresses(); len(got) != 1 || got[0] != want {
		t.Fatalf("unexpected addresses %v", got)
	}

	if _, err := ring.AddHex("not-a-key"); !stdErrors.Is(err, xerrors.New(xerrors.CodeInvalidArgument, "")) {
		t.Fatalf("expected invalid argument, got %v", err)
	}
}

func TestKeyringUnknownAccount(t *testing.T) {
	ring := NewKeyring(big.NewInt(1))
	_, err := ring.TransactOpts(context.Background(), common.HexToAddress("0x01"))
	if xerrors.CodeOf(err) != CodeUnknownAccount {
		t.Fatalf("expected unknown account, got %v", err)
	}
}
