package contract

import (
	xerrors "ContractHub/internal/errors"
)

const (
	// CodeSubmission: the transaction was rejected before broadcast. Transient by
	// default; invalid input and unknown signers are flagged non-retryable.
	CodeSubmission xerrors.Code = "CONTRACT_SUBMISSION_FAILED"
	// CodeConfirmation: an error arrived after broadcast (revert, missing code, lost tracking).
	CodeConfirmation xerrors.Code = "CONTRACT_CONFIRMATION_FAILED"
	// CodeCall: a read-only invocation reverted or named an undeclared function.
	CodeCall xerrors.Code = "CONTRACT_CALL_FAILED"
	// CodeEncoding: calldata could not be produced.
	CodeEncoding xerrors.Code = "CONTRACT_ENCODING_FAILED"
)

// MetadataTxHash 是确认阶段错误中携带的交易哈希键。
const MetadataTxHash = "tx_hash"

var (
	// ErrSubmission 匹配所有提交阶段的失败。
	ErrSubmission = xerrors.New(CodeSubmission, "")
	// ErrConfirmation 匹配所有确认阶段的失败。
	ErrConfirmation = xerrors.New(CodeConfirmation, "")
	// ErrCall 匹配只读调用失败。
	ErrCall = xerrors.New(CodeCall, "")
	// ErrEncoding 匹配 ABI 编码失败。
	ErrEncoding = xerrors.New(CodeEncoding, "")
)

func init() {
	xerrors.Register(CodeSubmission, xerrors.Attributes{
		Message:   "transaction submission failed",
		Severity:  xerrors.SeverityWarning,
		Retryable: true,
		Alert:     true,
	})
	xerrors.Register(CodeConfirmation, xerrors.Attributes{
		Message:  "transaction confirmation failed",
		Severity: xerrors.SeverityCritical,
		Alert:    true,
	})
	xerrors.Register(CodeCall, xerrors.Attributes{
		Message:  "contract call failed",
		Severity: xerrors.SeverityInfo,
	})
	xerrors.Register(CodeEncoding, xerrors.Attributes{
		Message:  "abi encoding failed",
		Severity: xerrors.SeverityInfo,
	})
}

func submissionError(cause error, message string) error {
	return xerrors.Wrap(CodeSubmission, cause, message)
}

// rejectedError 是重试也无法成功的提交失败，例如缺少发送方或函数未声明。
func rejectedError(cause error, message string) error {
	return xerrors.Wrap(CodeSubmission, cause, message, xerrors.WithRetryable(false))
}

func confirmationError(cause error, message string) error {
	return xerrors.Wrap(CodeConfirmation, cause, message)
}

func callError(cause error, message string) error {
	return xerrors.Wrap(CodeCall, cause, message)
}

func encodingError(cause error, message string) error {
	return xerrors.Wrap(CodeEncoding, cause, message)
}
