package contract

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"ContractHub/internal/web3"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/event"
)

// Confirmation reports that a transaction is buried under Number blocks,
// counting the block that includes it as 1.
type Confirmation struct {
	Number  uint64
	Receipt *types.Receipt
}

// Submission is the observable side of a broadcast transaction: the hash is
// known immediately, confirmations and errors arrive later.
type Submission struct {
	hash     common.Hash
	feed     event.Feed
	errs     chan error
	failOnce sync.Once
}

// NewSubmission creates a submission for an already broadcast transaction.
func NewSubmission(hash common.Hash) *Submission {
	return &Submission{hash: hash, errs: make(chan error, 1)}
}

// Hash returns the transaction hash.
func (s *Submission) Hash() common.Hash {
	return s.hash
}

// Subscribe delivers confirmations to ch until the subscription is released.
func (s *Submission) Subscribe(ch chan<- Confirmation) event.Subscription {
	return s.feed.Subscribe(ch)
}

// Errors exposes the asynchronous error channel. At most one error is ever
// delivered.
func (s *Submission) Errors() <-chan error {
	return s.errs
}

// Confirm publishes a confirmation to all subscribers and returns how many
// received it.
func (s *Submission) Confirm(c Confirmation) int {
	return s.feed.Send(c)
}

// Fail publishes an asynchronous error. Only the first call has an effect.
func (s *Submission) Fail(err error) {
	s.failOnce.Do(func() {
		s.errs <- err
	})
}

// Tracker follows a submission until it reaches the wanted depth, fails, or
// ctx is cancelled. Track blocks for that duration.
type Tracker interface {
	Track(ctx context.Context, sub *Submission, depth uint64)
}

const (
	defaultPollInterval = time.Second
	maxPollFailures     = 5
)

// geth answers receipt lookups with this message until its transaction index
// catches up; the transaction itself may already be mined.
const txIndexingInProgress = "transaction indexing is in progress"

// ReceiptPending reports whether a TransactionReceipt error only means the
// receipt is not available yet.
func ReceiptPending(err error) bool {
	if err == nil {
		return false
	}
	return errors.Is(err, ethereum.NotFound) || strings.Contains(err.Error(), txIndexingInProgress)
}

// PollingTracker tracks submissions by polling receipts and the chain head.
type PollingTracker struct {
	reader   web3.ReceiptReader
	interval time.Duration
	logger   *slog.Logger
}

// NewPollingTracker creates a tracker. A non-positive interval means one second.
func NewPollingTracker(reader web3.ReceiptReader, interval time.Duration, logger *slog.Logger) *PollingTracker {
	if interval <= 0 {
		interval = defaultPollInterval
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &PollingTracker{reader: reader, interval: interval, logger: logger}
}

// Track implements Tracker.
func (t *PollingTracker) Track(ctx context.Context, sub *Submission, depth uint64) {
	if depth == 0 {
		depth = 1
	}
	ticker := time.NewTicker(t.interval)
	defer ticker.Stop()

	var (
		receipt  *types.Receipt
		emitted  uint64
		failures int
	)
	for {
		err := t.poll(ctx, sub, depth, &receipt, &emitted)
		switch {
		case errors.Is(err, errTrackingDone):
			return
		case errors.Is(err, errReceiptPending):
			// neither progress nor failure
		case err != nil:
			if ctx.Err() != nil {
				return
			}
			failures++
			t.logger.Warn("轮询交易状态失败",
				slog.String("tx_hash", sub.Hash().Hex()),
				slog.Int("failures", failures),
				slog.String("error", err.Error()))
			if failures >= maxPollFailures {
				sub.Fail(confirmationError(err, fmt.Sprintf("无法跟踪交易 %s", sub.Hash().Hex())))
				return
			}
		default:
			failures = 0
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

var (
	errTrackingDone   = errors.New("tracking done")
	errReceiptPending = errors.New("receipt pending")
)

func (t *PollingTracker) poll(ctx context.Context, sub *Submission, depth uint64, receipt **types.Receipt, emitted *uint64) error {
	if *receipt == nil {
		r, err := t.reader.TransactionReceipt(ctx, sub.Hash())
		if ReceiptPending(err) {
			return errReceiptPending
		}
		if err != nil {
			return err
		}
		if r.Status == types.ReceiptStatusFailed {
			sub.Fail(confirmationError(errReverted, fmt.Sprintf("交易 %s 在区块 %d 执行失败", r.TxHash.Hex(), r.BlockNumber)))
			return errTrackingDone
		}
		*receipt = r
	}

	head, err := t.reader.BlockNumber(ctx)
	if err != nil {
		return err
	}
	inclusion := (*receipt).BlockNumber.Uint64()
	if head < inclusion {
		return nil
	}
	reached := min(head-inclusion+1, depth)
	for n := *emitted + 1; n <= reached; n++ {
		sub.Confirm(Confirmation{Number: n, Receipt: *receipt})
		*emitted = n
	}
	if *emitted >= depth {
		return errTrackingDone
	}
	return nil
}

var errReverted = errors.New("execution reverted")
