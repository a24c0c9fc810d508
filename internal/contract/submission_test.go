package contract

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sync"
	"testing"
	"time"

	"ContractHub/pkg/logger"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

type fakeReader struct {
	mu          sync.Mutex
	receiptErrs []error
	receipt     *types.Receipt
	heads       []uint64
	headErr     error
}

func (f *fakeReader) TransactionReceipt(context.Context, common.Hash) (*types.Receipt, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.receiptErrs) > 0 {
		err := f.receiptErrs[0]
		f.receiptErrs = f.receiptErrs[1:]
		return nil, err
	}
	return f.receipt, nil
}

func (f *fakeReader) BlockNumber(context.Context) (uint64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.headErr != nil {
		return 0, f.headErr
	}
	head := f.heads[0]
	if len(f.heads) > 1 {
		f.heads = f.heads[1:]
	}
	return head, nil
}

func collect(t *testing.T, reader *fakeReader, depth uint64) ([]Confirmation, error) {
	t.Helper()
	tracker := NewPollingTracker(reader, time.Millisecond, logger.Discard())
	sub := NewSubmission(common.HexToHash("0x01"))
	ch := make(chan Confirmation, 16)
	subscription := sub.Subscribe(ch)
	defer subscription.Unsubscribe()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	tracker.Track(ctx, sub, depth)

	var got []Confirmation
	for {
		select {
		case c := <-ch:
			got = append(got, c)
		case err := <-sub.Errors():
			return got, err
		default:
			return got, nil
		}
	}
}

func TestPollingTrackerEmitsUpToDepth(t *testing.T) {
	receipt := &types.Receipt{Status: types.ReceiptStatusSuccessful, BlockNumber: big.NewInt(10)}
	reader := &fakeReader{
		receiptErrs: []error{ethereum.NotFound, ethereum.NotFound},
		receipt:     receipt,
		heads:       []uint64{10, 10, 11, 13},
	}

	got, err := collect(t, reader, 3)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("expected 3 confirmations, got %d", len(got))
	}
	for i, c := range got {
		if c.Number != uint64(i+1) {
			t.Fatalf("confirmation %d has number %d", i, c.Number)
		}
		if c.Receipt != receipt {
			t.Fatalf("confirmation %d carries another receipt", i)
		}
	}
}

func TestPollingTrackerReportsFailedReceipt(t *testing.T) {
	reader := &fakeReader{
		receipt: &types.Receipt{Status: types.ReceiptStatusFailed, BlockNumber: big.NewInt(4)},
		heads:   []uint64{4},
	}

	got, err := collect(t, reader, 1)
	if len(got) != 0 {
		t.Fatalf("failed receipts must not confirm, got %d", len(got))
	}
	if !errors.Is(err, ErrConfirmation) {
		t.Fatalf("expected confirmation error, got %v", err)
	}
}

func TestPollingTrackerGivesUpAfterRepeatedFailures(t *testing.T) {
	rpcErr := errors.New("connection refused")
	reader := &fakeReader{
		receiptErrs: []error{rpcErr, rpcErr, rpcErr, rpcErr, rpcErr, rpcErr},
		heads:       []uint64{1},
	}

	_, err := collect(t, reader, 1)
	if !errors.Is(err, ErrConfirmation) || !errors.Is(err, rpcErr) {
		t.Fatalf("expected wrapped rpc error, got %v", err)
	}
}

func TestPollingTrackerWaitsOutTransactionIndexing(t *testing.T) {
	indexing := errors.New("transaction indexing is in progress")
	errs := make([]error, 3*maxPollFailures)
	for i := range errs {
		errs[i] = indexing
	}
	receipt := &types.Receipt{Status: types.ReceiptStatusSuccessful, BlockNumber: big.NewInt(7)}
	reader := &fakeReader{receiptErrs: errs, receipt: receipt, heads: []uint64{7}}

	got, err := collect(t, reader, 1)
	if err != nil {
		t.Fatalf("indexing must not count as a failure: %v", err)
	}
	if len(got) != 1 || got[0].Receipt != receipt {
		t.Fatalf("expected one confirmation, got %v", got)
	}
}

func TestPollingTrackerPendingDoesNotResetFailures(t *testing.T) {
	rpcErr := errors.New("connection refused")
	var errs []error
	for range maxPollFailures {
		errs = append(errs, rpcErr, ethereum.NotFound)
	}
	reader := &fakeReader{receiptErrs: errs, heads: []uint64{1}}

	_, err := collect(t, reader, 1)
	if !errors.Is(err, ErrConfirmation) || !errors.Is(err, rpcErr) {
		t.Fatalf("expected failures across pending polls to add up, got %v", err)
	}
}

func TestReceiptPending(t *testing.T) {
	cases := []struct {
		err  error
		want bool
	}{
		{nil, false},
		{ethereum.NotFound, true},
		{fmt.Errorf("rpc: %w", ethereum.NotFound), true},
		{errors.New("transaction indexing is in progress"), true},
		{errors.New("connection refused"), false},
	}
	for _, tc := range cases {
		if got := ReceiptPending(tc.err); got != tc.want {
			t.Fatalf("ReceiptPending(%v) = %v, want %v", tc.err, got, tc.want)
		}
	}
}

func TestPollingTrackerStopsOnCancel(t *testing.T) {
	reader := &fakeReader{receiptErrs: make([]error, 1000), heads: []uint64{1}}
	for i := range reader.receiptErrs {
		reader.receiptErrs[i] = ethereum.NotFound
	}
	tracker := NewPollingTracker(reader, time.Millisecond, logger.Discard())
	sub := NewSubmission(common.Hash{})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		tracker.Track(ctx, sub, 1)
		close(done)
	}()
	cancel()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("tracker did not stop after cancellation")
	}
}

func TestSubmissionFailOnlyOnce(t *testing.T) {
	sub := NewSubmission(common.Hash{})
	first := errors.New("first")
	sub.Fail(first)
	sub.Fail(errors.New("second"))

	if err := <-sub.Errors(); err != first {
		t.Fatalf("expected first error, got %v", err)
	}
	select {
	case err := <-sub.Errors():
		t.Fatalf("unexpected second error %v", err)
	default:
	}
}
