package gateway

import (
	"context"
	"errors"
	"math/big"
	"sync/atomic"
	"testing"
	"time"

	"ContractHub/internal/addressbook"
	"ContractHub/internal/artifact"
	"ContractHub/internal/contract"
	"ContractHub/internal/contract/contracttest"
	xerrors "ContractHub/internal/errors"
	"ContractHub/internal/job"
	"ContractHub/internal/ledger"
	"ContractHub/internal/observability/metrics"

	"github.com/ethereum/go-ethereum/accounts/abi/bind/backends"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/stretchr/testify/require"
)

const contractName = "owned_value"

type fixture struct {
	chain   *contracttest.Chain
	gateway *Gateway
	book    *addressbook.Memory
	ledger  *ledger.MemoryLedger
}

func testContext(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	t.Cleanup(cancel)
	return ctx
}

func newFixture(t *testing.T, arts ...artifact.Artifact) *fixture {
	t.Helper()
	chain := contracttest.NewChain(t)
	if len(arts) == 0 {
		arts = []artifact.Artifact{{
			Name:              contractName,
			ABI:               contracttest.MustParseABI(t),
			Bytecode:          contracttest.Bytecode,
			AlternateEncoding: true,
		}}
	}
	book := addressbook.NewMemory()
	l, err := ledger.NewMemoryLedger("")
	require.NoError(t, err)
	g, err := New(testContext(t), chain.Backend, chain.Keyring, arts,
		WithAddressBook(book),
		WithLedger(l),
		WithMetrics(metrics.New()),
		WithHandleOptions(contract.WithPollInterval(5*time.Millisecond)),
	)
	require.NoError(t, err)
	return &fixture{chain: chain, gateway: g, book: book, ledger: l}
}

func TestDeploySendCallFlow(t *testing.T) {
	ctx := testContext(t)
	f := newFixture(t)

	deployed, err := f.gateway.Deploy(ctx, contractName, TxRequest{From: f.chain.Deployer.Hex()})
	require.NoError(t, err)
	require.NotEmpty(t, deployed.ContractAddress)
	require.Equal(t, uint64(1), deployed.Status)

	stored, err := f.book.Get(ctx, contractName)
	require.NoError(t, err)
	require.Equal(t, deployed.ContractAddress, stored.Hex())

	out, err := f.gateway.Call(ctx, contractName, CallRequest{Method: "getValue"})
	require.NoError(t, err)
	require.Len(t, out, 1)
	require.Equal(t, int64(contracttest.InitialValue), out[0].(*big.Int).Int64())

	sent, err := f.gateway.Send(ctx, contractName, TxRequest{
		Method: "setValue",
		Args:   []any{"7"},
		From:   f.chain.Deployer.Hex(),
	})
	require.NoError(t, err)
	require.Empty(t, sent.ContractAddress)

	out, err = f.gateway.Call(ctx, contractName, CallRequest{Method: "getValue"})
	require.NoError(t, err)
	require.Equal(t, int64(7), out[0].(*big.Int).Int64())

	records, err := f.ledger.List(ctx, ledger.Query{Contract: contractName})
	require.NoError(t, err)
	require.Len(t, records, 2)
	require.Equal(t, ledger.KindSend, records[0].Kind)
	require.Equal(t, sent.TxHash, records[0].TxHash)
	require.Equal(t, ledger.KindDeploy, records[1].Kind)

	infos := f.gateway.Contracts()
	require.Len(t, infos, 1)
	require.Equal(t, deployed.ContractAddress, infos[0].Address)
	require.Equal(t, sent.TxHash, infos[0].LastTxHash)
	require.Contains(t, infos[0].Methods, "setValue(uint256)")
}

func TestEncodeCoercesArguments(t *testing.T) {
	f := newFixture(t)

	data, err := f.gateway.Encode(contractName, CallRequest{Method: "setValue", Args: []any{"0x2a"}})
	require.NoError(t, err)
	require.Equal(t, "0x55241077"+"000000000000000000000000000000000000000000000000000000000000002a", data)

	_, err = f.gateway.Encode(contractName, CallRequest{Method: "setValue", Args: []any{"not-a-number"}})
	require.ErrorIs(t, err, contract.ErrEncoding)

	_, err = f.gateway.Encode(contractName, CallRequest{Method: "missing"})
	require.ErrorIs(t, err, contract.ErrEncoding)
}

func TestUnknownContractAndBadInput(t *testing.T) {
	ctx := testContext(t)
	f := newFixture(t)

	_, err := f.gateway.Call(ctx, "nope", CallRequest{Method: "getValue"})
	require.ErrorIs(t, err, ErrUnknownContract)

	_, err = f.gateway.Send(ctx, contractName, TxRequest{Method: "setValue", Args: []any{"1"}, From: "bogus"})
	require.Equal(t, xerrors.CodeInvalidArgument, xerrors.CodeOf(err))

	_, err = f.gateway.Send(ctx, contractName, TxRequest{Method: "setValue", Args: []any{"1"}, From: f.chain.Deployer.Hex(), Value: "-1"})
	require.Equal(t, xerrors.CodeInvalidArgument, xerrors.CodeOf(err))

	// 未部署时提交写交易属于提交阶段失败。
	_, err = f.gateway.Send(ctx, contractName, TxRequest{Method: "setValue", Args: []any{"1"}, From: f.chain.Deployer.Hex()})
	require.ErrorIs(t, err, contract.ErrSubmission)
	require.True(t, xerrors.RetryableError(err))

	_, err = f.gateway.Call(ctx, contractName, CallRequest{Method: "undeclared"})
	require.ErrorIs(t, err, contract.ErrCall)
}

func TestNewRestoresAddresses(t *testing.T) {
	ctx := testContext(t)
	f := newFixture(t)
	deployed, err := f.gateway.Deploy(ctx, contractName, TxRequest{From: f.chain.Deployer.Hex()})
	require.NoError(t, err)

	manifestAddr := common.HexToAddress("0x00000000000000000000000000000000000000aa")
	arts := []artifact.Artifact{{
		Name:     contractName,
		ABI:      contracttest.MustParseABI(t),
		Bytecode: contracttest.Bytecode,
		Address:  &manifestAddr,
	}}

	// 地址簿覆盖清单中的地址。
	restored, err := New(ctx, f.chain.Backend, f.chain.Keyring, arts, WithAddressBook(f.book))
	require.NoError(t, err)
	require.Equal(t, deployed.ContractAddress, restored.Contracts()[0].Address)

	withoutBook, err := New(ctx, f.chain.Backend, f.chain.Keyring, arts)
	require.NoError(t, err)
	require.Equal(t, manifestAddr.Hex(), withoutBook.Contracts()[0].Address)

	_, err = New(ctx, f.chain.Backend, f.chain.Keyring, append(arts, arts[0]))
	require.Error(t, err)
}

func TestExecuteDispatchesJobs(t *testing.T) {
	ctx := testContext(t)
	f := newFixture(t)

	res, err := f.gateway.Execute(ctx, job.Request{Kind: job.KindDeploy, Contract: contractName, From: f.chain.Deployer.Hex()})
	require.NoError(t, err)
	require.NotEmpty(t, res.ContractAddress)

	gasPrice := "2000000000"
	res, err = f.gateway.Execute(ctx, job.Request{
		Kind:     job.KindSend,
		Contract: contractName,
		Method:   "setValue",
		Args:     []any{float64(9)},
		From:     f.chain.Deployer.Hex(),
		Options:  job.Options{GasLimit: 200_000, GasPrice: gasPrice},
	})
	require.NoError(t, err)
	require.NotEmpty(t, res.TxHash)

	_, err = f.gateway.Execute(ctx, job.Request{Kind: "burn", Contract: contractName})
	require.Equal(t, job.CodeJobValidation, xerrors.CodeOf(err))
}

func TestExecuteUnknownSignerIsNotRetried(t *testing.T) {
	ctx := testContext(t)
	f := newFixture(t)

	_, err := f.gateway.Execute(ctx, job.Request{
		Kind:     job.KindDeploy,
		Contract: contractName,
		From:     "0x00000000000000000000000000000000000000c3",
	})
	require.ErrorIs(t, err, contract.ErrSubmission)
	require.False(t, xerrors.RetryableError(err), "no key will appear between retries")
	_, err = f.book.Get(ctx, contractName)
	require.ErrorIs(t, err, addressbook.ErrNotFound)
}

func TestRecoverFromConfirmationFailure(t *testing.T) {
	ctx := testContext(t)
	f := newFixture(t)
	deployed, err := f.gateway.Deploy(ctx, contractName, TxRequest{From: f.chain.Deployer.Hex()})
	require.NoError(t, err)

	lost := xerrors.Wrap(contract.CodeConfirmation, errors.New("tracking lost"), "确认失败",
		xerrors.WithMetadata(contract.MetadataTxHash, deployed.TxHash))
	j := &job.Job{ID: "job-1", Kind: job.KindDeploy, Contract: contractName, From: f.chain.Deployer.Hex()}

	res, err := f.gateway.Recover(ctx, j, lost)
	require.NoError(t, err)
	require.NotNil(t, res)
	require.Equal(t, deployed.TxHash, res.TxHash)
	require.Equal(t, deployed.ContractAddress, res.ContractAddress)

	unknown := xerrors.Wrap(contract.CodeConfirmation, errors.New("tracking lost"), "确认失败",
		xerrors.WithMetadata(contract.MetadataTxHash, common.HexToHash("0xdead").Hex()))
	res, err = f.gateway.Recover(ctx, j, unknown)
	require.NoError(t, err)
	require.Nil(t, res)

	res, err = f.gateway.Recover(ctx, j, xerrors.New(contract.CodeSubmission, "rejected"))
	require.NoError(t, err)
	require.Nil(t, res)
}

// indexingBackend answers receipt lookups the way geth does while its
// transaction index is still being built.
type indexingBackend struct {
	*backends.SimulatedBackend
	remaining atomic.Int32
	lookups   atomic.Int32
}

func (b *indexingBackend) TransactionReceipt(ctx context.Context, hash common.Hash) (*types.Receipt, error) {
	b.lookups.Add(1)
	if b.remaining.Add(-1) >= 0 {
		return nil, errors.New("transaction indexing is in progress")
	}
	return b.SimulatedBackend.TransactionReceipt(ctx, hash)
}

func TestRecoverWaitsForTransactionIndex(t *testing.T) {
	ctx := testContext(t)
	f := newFixture(t)
	deployed, err := f.gateway.Deploy(ctx, contractName, TxRequest{From: f.chain.Deployer.Hex()})
	require.NoError(t, err)

	backend := &indexingBackend{SimulatedBackend: f.chain.Backend}
	backend.remaining.Store(3)
	book := addressbook.NewMemory()
	g, err := New(ctx, backend, f.chain.Keyring, []artifact.Artifact{{
		Name:              contractName,
		ABI:               contracttest.MustParseABI(t),
		Bytecode:          contracttest.Bytecode,
		AlternateEncoding: true,
	}}, WithAddressBook(book), WithRecoveryPollInterval(time.Millisecond))
	require.NoError(t, err)

	lost := xerrors.Wrap(contract.CodeConfirmation, errors.New("tracking lost"), "确认失败",
		xerrors.WithMetadata(contract.MetadataTxHash, deployed.TxHash))
	j := &job.Job{ID: "job-2", Kind: job.KindDeploy, Contract: contractName, From: f.chain.Deployer.Hex()}

	res, err := g.Recover(ctx, j, lost)
	require.NoError(t, err)
	require.NotNil(t, res)
	require.Equal(t, deployed.ContractAddress, res.ContractAddress)
	require.EqualValues(t, 4, backend.lookups.Load())

	addr, err := book.Get(ctx, contractName)
	require.NoError(t, err)
	require.Equal(t, common.HexToAddress(deployed.ContractAddress), addr)

	backend.remaining.Store(100)
	_, err = g.Recover(ctx, j, lost)
	require.Error(t, err, "gives up after a bounded number of lookups")
}
