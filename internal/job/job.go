package job

import (
	stdErrors "errors"
	"slices"

	xerrors "ContractHub/internal/errors"
)

// Status 表示任务在生命周期中的状态。
type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusSucceeded Status = "succeeded"
	StatusFailed    Status = "failed"
)

// Kind 区分部署与写交易两类任务。
type Kind string

const (
	KindDeploy Kind = "deploy"
	KindSend   Kind = "send"
)

// Options 是交易参数，原样传递给合约层；空值表示由节点决定。
type Options struct {
	GasLimit  uint64  `json:"gas_limit,omitempty"`
	GasPrice  string  `json:"gas_price,omitempty"`
	GasFeeCap string  `json:"gas_fee_cap,omitempty"`
	GasTipCap string  `json:"gas_tip_cap,omitempty"`
	Nonce     *uint64 `json:"nonce,omitempty"`
}

// Request 描述一次待执行的合约操作。
type Request struct {
	ID       string  `json:"id,omitempty"`
	Kind     Kind    `json:"kind"`
	Contract string  `json:"contract"`
	Method   string  `json:"method,omitempty"`
	Args     []any   `json:"args,omitempty"`
	From     string  `json:"from"`
	Value    string  `json:"value,omitempty"`
	Options  Options `json:"options,omitempty"`
}

// Result 保存交易确认后的回执摘要。
type Result struct {
	TxHash          string `json:"tx_hash"`
	ContractAddress string `json:"contract_address,omitempty"`
	BlockNumber     uint64 `json:"block_number"`
	GasUsed         uint64 `json:"gas_used"`
	Status          uint64 `json:"status"`
}

// Job 是排队执行的合约操作及其状态。
type Job struct {
	ID         string  `json:"id"`
	Kind       Kind    `json:"kind"`
	Contract   string  `json:"contract"`
	Method     string  `json:"method,omitempty"`
	Args       []any   `json:"args,omitempty"`
	From       string  `json:"from"`
	Value      string  `json:"value,omitempty"`
	Options    Options `json:"options"`
	Status     Status  `json:"status"`
	Attempts   int     `json:"attempts"`
	MaxRetries int     `json:"max_retries"`
	LastError  string  `json:"last_error,omitempty"`
	ErrorCode  string  `json:"error_code,omitempty"`
	Result     *Result `json:"result,omitempty"`
	CreatedAt  int64   `json:"created_at"`
	UpdatedAt  int64   `json:"updated_at"`
}

// Request 还原出执行该任务所需的请求。
func (j *Job) Request() Request {
	return Request{
		ID:       j.ID,
		Kind:     j.Kind,
		Contract: j.Contract,
		Method:   j.Method,
		Args:     slices.Clone(j.Args),
		From:     j.From,
		Value:    j.Value,
		Options:  j.Options,
	}
}

// Terminal 报告任务是否已不会再被执行。
func (j *Job) Terminal() bool {
	return j.Status == StatusSucceeded || j.Status == StatusFailed
}

func failureStatus(terminal bool) Status {
	if terminal {
		return StatusFailed
	}
	return StatusPending
}

var (
	// ErrJobNotFound 表示指定的任务不存在。
	ErrJobNotFound = xerrors.New(CodeJobNotFound, "job not found")
	// ErrJobConflict 表示任务在当前状态下无法进行所请求的操作。
	ErrJobConflict = xerrors.New(CodeJobConflict, "job conflict", xerrors.WithSeverity(xerrors.SeverityWarning))
	// ErrJobCompleted 表示任务已经成功完成。
	ErrJobCompleted = xerrors.New(CodeJobCompleted, "job already completed", xerrors.WithSeverity(xerrors.SeverityInfo))
	// ErrJobExhausted 表示任务的重试次数已经耗尽。
	ErrJobExhausted = xerrors.New(CodeJobExhausted, "job retries exhausted", xerrors.WithSeverity(xerrors.SeverityCritical))
)

const (
	CodeJobNotFound   xerrors.Code = "JOB_NOT_FOUND"
	CodeJobConflict   xerrors.Code = "JOB_CONFLICT"
	CodeJobCompleted  xerrors.Code = "JOB_COMPLETED"
	CodeJobExhausted  xerrors.Code = "JOB_RETRIES_EXHAUSTED"
	CodeJobValidation xerrors.Code = "JOB_VALIDATION_FAILED"
	CodeJobPublish    xerrors.Code = "JOB_PUBLISH_FAILED"
	CodeJobProcessing xerrors.Code = "JOB_PROCESSING_FAILED"
	CodeJobCompensate xerrors.Code = "JOB_COMPENSATION_FAILED"
)

func init() {
	xerrors.Register(CodeJobNotFound, xerrors.Attributes{
		Message:  "job not found",
		Severity: xerrors.SeverityInfo,
	})
	xerrors.Register(CodeJobConflict, xerrors.Attributes{
		Message:  "job conflict",
		Severity: xerrors.SeverityWarning,
	})
	xerrors.Register(CodeJobCompleted, xerrors.Attributes{
		Message:  "job already completed",
		Severity: xerrors.SeverityInfo,
	})
	xerrors.Register(CodeJobExhausted, xerrors.Attributes{
		Message:  "job retries exhausted",
		Severity: xerrors.SeverityCritical,
		Alert:    true,
	})
	xerrors.Register(CodeJobValidation, xerrors.Attributes{
		Message:  "job validation failed",
		Severity: xerrors.SeverityInfo,
	})
	xerrors.Register(CodeJobPublish, xerrors.Attributes{
		Message:   "failed to publish job",
		Severity:  xerrors.SeverityCritical,
		Retryable: true,
		Alert:     true,
	})
	xerrors.Register(CodeJobProcessing, xerrors.Attributes{
		Message:   "job execution failed",
		Severity:  xerrors.SeverityWarning,
		Retryable: true,
		Alert:     true,
	})
	xerrors.Register(CodeJobCompensate, xerrors.Attributes{
		Message:  "job compensation failed",
		Severity: xerrors.SeverityCritical,
		Alert:    true,
	})
}

// IsJobError 判断错误是否为指定的任务错误。
func IsJobError(err error, target xerrors.Code) bool {
	if err == nil {
		return false
	}
	switch {
	case stdErrors.Is(err, ErrJobNotFound):
		return target == CodeJobNotFound
	case stdErrors.Is(err, ErrJobConflict):
		return target == CodeJobConflict
	case stdErrors.Is(err, ErrJobCompleted):
		return target == CodeJobCompleted
	case stdErrors.Is(err, ErrJobExhausted):
		return target == CodeJobExhausted
	}
	return false
}

func cloneJob(j *Job) *Job {
	clone := *j
	if j.Result != nil {
		result := *j.Result
		clone.Result = &result
	}
	clone.Args = slices.Clone(j.Args)
	if j.Options.Nonce != nil {
		nonce := *j.Options.Nonce
		clone.Options.Nonce = &nonce
	}
	return &clone
}

// IsValidStatus 检查给定的任务状态是否为支持的枚举值。
func IsValidStatus(status Status) bool {
	switch status {
	case StatusPending, StatusRunning, StatusSucceeded, StatusFailed:
		return true
	default:
		return false
	}
}

// IsValidKind 检查任务类型。
func IsValidKind(kind Kind) bool {
	return kind == KindDeploy || kind == KindSend
}

