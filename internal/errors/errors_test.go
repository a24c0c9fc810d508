package errors

import (
	stdErrors "errors"
	"fmt"
	"testing"
)

func TestWrapPreservesCause(t *testing.T) {
	cause := stdErrors.New("insufficient funds for gas * price + value")
	wrapped := Wrap(CodeChainUnavailable, cause, "发送交易失败")

	if !stdErrors.Is(wrapped, cause) {
		t.Fatal("expected wrapped error to expose cause")
	}
	if stdErrors.Unwrap(wrapped) != cause {
		t.Fatal("expected Unwrap to return the original error")
	}
	if !stdErrors.Is(fmt.Errorf("outer: %w", wrapped), New(CodeChainUnavailable, "")) {
		t.Fatal("expected errors.Is to match by code through fmt wrapping")
	}
	if stdErrors.Is(wrapped, New(CodeTimeout, "")) {
		t.Fatal("codes must not match")
	}
}

func TestAttributesFallback(t *testing.T) {
	err := New(Code("NOT_REGISTERED"), "")
	if err.Message() != AttributesOf(CodeUnknown).Message {
		t.Fatalf("unexpected default message %q", err.Message())
	}
	if err.Severity() != SeverityCritical {
		t.Fatalf("unexpected severity %s", err.Severity())
	}
}

func TestOverrides(t *testing.T) {
	err := New(CodeStorageFailure, "boom",
		WithRetryable(false),
		WithAlert(false),
		WithSeverity(SeverityInfo),
		WithMetadata("table", "jobs"),
	)
	if err.Retryable() || err.ShouldAlert() {
		t.Fatal("expected overrides to win over registry defaults")
	}
	if err.Severity() != SeverityInfo {
		t.Fatalf("unexpected severity %s", err.Severity())
	}
	meta := err.Metadata()
	meta["table"] = "mutated"
	if err.Metadata()["table"] != "jobs" {
		t.Fatal("metadata must be returned as a copy")
	}
	if CodeOf(fmt.Errorf("ctx: %w", err)) != CodeStorageFailure {
		t.Fatal("CodeOf should unwrap")
	}
	if RetryableError(stdErrors.New("plain")) {
		t.Fatal("plain errors are never retryable")
	}
}

func TestRetryableRespectsCodedCause(t *testing.T) {
	permanent := New(CodeInvalidArgument, "账户未配置私钥")
	if RetryableError(Wrap(CodeQueueFailure, permanent, "提交失败")) {
		t.Fatal("a non-retryable cause must not be retried through a retryable wrapper")
	}
	transient := Wrap(CodeQueueFailure, New(CodeTimeout, ""), "提交失败")
	if !transient.Retryable() {
		t.Fatal("retryable cause keeps the wrapper retryable")
	}
	if !Wrap(CodeQueueFailure, stdErrors.New("connection reset"), "提交失败").Retryable() {
		t.Fatal("plain causes fall back to the registry")
	}
	forced := Wrap(CodeQueueFailure, permanent, "提交失败", WithRetryable(true))
	if !forced.Retryable() {
		t.Fatal("explicit override wins over the cause")
	}
	if Wrap(CodeInvalidArgument, New(CodeTimeout, ""), "参数错误").Retryable() {
		t.Fatal("a non-retryable code stays non-retryable")
	}
}
