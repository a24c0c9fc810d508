package contracthub

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path"
	"strconv"
	"strings"
	"time"
)

// DefaultHTTPTimeout defines the timeout used by clients created without a
// custom http.Client.
const DefaultHTTPTimeout = 15 * time.Second

// Job statuses reported by the server.
const (
	StatusPending   = "pending"
	StatusRunning   = "running"
	StatusSucceeded = "succeeded"
	StatusFailed    = "failed"
)

// Client wraps the HTTP interactions with the ContractHub REST API.
type Client struct {
	baseURL    *url.URL
	httpClient *http.Client
}

// TxOptions are passed to the signer verbatim. Amounts are decimal or
// 0x-prefixed strings.
type TxOptions struct {
	GasLimit  uint64  `json:"gas_limit,omitempty"`
	GasPrice  string  `json:"gas_price,omitempty"`
	GasFeeCap string  `json:"gas_fee_cap,omitempty"`
	GasTipCap string  `json:"gas_tip_cap,omitempty"`
	Nonce     *uint64 `json:"nonce,omitempty"`
}

// JobSubmission is the payload required to queue a deploy or send.
type JobSubmission struct {
	ID       string    `json:"id,omitempty"`
	Kind     string    `json:"kind"`
	Contract string    `json:"contract"`
	Method   string    `json:"method,omitempty"`
	Args     []any     `json:"args,omitempty"`
	From     string    `json:"from"`
	Value    string    `json:"value,omitempty"`
	Options  TxOptions `json:"options,omitempty"`
}

// JobResult summarizes the receipt of a confirmed job.
type JobResult struct {
	TxHash          string `json:"tx_hash"`
	ContractAddress string `json:"contract_address,omitempty"`
	BlockNumber     uint64 `json:"block_number"`
	GasUsed         uint64 `json:"gas_used"`
	Status          uint64 `json:"status"`
}

// Job is the server side view of a submitted job.
type Job struct {
	ID         string     `json:"id"`
	Kind       string     `json:"kind"`
	Contract   string     `json:"contract"`
	Method     string     `json:"method,omitempty"`
	Args       []any      `json:"args,omitempty"`
	From       string     `json:"from"`
	Value      string     `json:"value,omitempty"`
	Options    TxOptions  `json:"options"`
	Status     string     `json:"status"`
	Attempts   int        `json:"attempts"`
	MaxRetries int        `json:"max_retries"`
	LastError  string     `json:"last_error,omitempty"`
	ErrorCode  string     `json:"error_code,omitempty"`
	Result     *JobResult `json:"result,omitempty"`
	CreatedAt  int64      `json:"created_at"`
	UpdatedAt  int64      `json:"updated_at"`
}

// Done reports whether the job will not run again.
func (j Job) Done() bool {
	return j.Status == StatusSucceeded || j.Status == StatusFailed
}

// JobStats aggregates job counts by status.
type JobStats struct {
	Total     int `json:"total"`
	Pending   int `json:"pending"`
	Running   int `json:"running"`
	Succeeded int `json:"succeeded"`
	Failed    int `json:"failed"`
}

// JobList is the response of ListJobs.
type JobList struct {
	Jobs  []Job    `json:"jobs"`
	Stats JobStats `json:"stats"`
}

// ListFilter narrows ListJobs. Zero values are ignored.
type ListFilter struct {
	Limit    int
	Offset   int
	Statuses []string
	Kinds    []string
	Contract string
	Query    string
}

func (f ListFilter) values() url.Values {
	v := url.Values{}
	if f.Limit > 0 {
		v.Set("limit", strconv.Itoa(f.Limit))
	}
	if f.Offset > 0 {
		v.Set("offset", strconv.Itoa(f.Offset))
	}
	if len(f.Statuses) > 0 {
		v.Set("status", strings.Join(f.Statuses, ","))
	}
	if len(f.Kinds) > 0 {
		v.Set("kind", strings.Join(f.Kinds, ","))
	}
	if f.Contract != "" {
		v.Set("contract", f.Contract)
	}
	if f.Query != "" {
		v.Set("q", f.Query)
	}
	return v
}

// CallRequest invokes or encodes a declared function.
type CallRequest struct {
	Method string `json:"method"`
	Args   []any  `json:"args,omitempty"`
	From   string `json:"from,omitempty"`
}

// Contract describes one artifact known to the server.
type Contract struct {
	Name       string   `json:"name"`
	Address    string   `json:"address,omitempty"`
	LastTxHash string   `json:"last_tx_hash,omitempty"`
	Methods    []string `json:"methods"`
}

// LedgerRecord is one confirmed operation.
type LedgerRecord struct {
	Contract        string `json:"contract"`
	Kind            string `json:"kind"`
	Method          string `json:"method,omitempty"`
	TxHash          string `json:"tx_hash"`
	ContractAddress string `json:"contract_address,omitempty"`
	From            string `json:"from"`
	BlockNumber     uint64 `json:"block_number"`
	GasUsed         uint64 `json:"gas_used"`
	Status          uint64 `json:"status"`
	CreatedAt       int64  `json:"created_at"`
}

// APIError represents server side validation or internal errors.
type APIError struct {
	StatusCode int
	Code       string `json:"code"`
	Message    string `json:"error"`
}

func (e *APIError) Error() string {
	if e == nil {
		return ""
	}
	if e.Code != "" {
		return fmt.Sprintf("contracthub api error (%d): %s - %s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("contracthub api error (%d): %s", e.StatusCode, e.Message)
}

// NewClient instantiates a client for the ContractHub API. When httpClient is
// nil, a default client with a sensible timeout is used.
func NewClient(rawURL string, httpClient *http.Client) (*Client, error) {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("invalid base url: %w", err)
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: DefaultHTTPTimeout}
	}
	return &Client{baseURL: parsed, httpClient: httpClient}, nil
}

// SubmitJob queues a deploy or send. Resubmitting with the same ID returns the
// existing job.
func (c *Client) SubmitJob(ctx context.Context, submission JobSubmission) (Job, error) {
	var job Job
	if err := c.post(ctx, "/api/v1/jobs", submission, &job); err != nil {
		return Job{}, err
	}
	return job, nil
}

// GetJob fetches a job by identifier.
func (c *Client) GetJob(ctx context.Context, id string) (Job, error) {
	var job Job
	if err := c.get(ctx, "/api/v1/jobs/"+id, nil, &job); err != nil {
		return Job{}, err
	}
	return job, nil
}

// ListJobs returns jobs matching filter together with their stats.
func (c *Client) ListJobs(ctx context.Context, filter ListFilter) (JobList, error) {
	var list JobList
	if err := c.get(ctx, "/api/v1/jobs", filter.values(), &list); err != nil {
		return JobList{}, err
	}
	return list, nil
}

// WaitForJob polls until the job succeeds or fails, or ctx ends.
func (c *Client) WaitForJob(ctx context.Context, id string, interval time.Duration) (Job, error) {
	if interval <= 0 {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		job, err := c.GetJob(ctx, id)
		if err != nil {
			return Job{}, err
		}
		if job.Done() {
			return job, nil
		}
		select {
		case <-ctx.Done():
			return job, ctx.Err()
		case <-ticker.C:
		}
	}
}

// Contracts lists the artifacts the server manages.
func (c *Client) Contracts(ctx context.Context) ([]Contract, error) {
	var out struct {
		Contracts []Contract `json:"contracts"`
	}
	if err := c.get(ctx, "/api/v1/contracts", nil, &out); err != nil {
		return nil, err
	}
	return out.Contracts, nil
}

// Call performs a read-only invocation and returns the decoded outputs.
// Numbers come back as json.Number so uint256 values keep full precision.
func (c *Client) Call(ctx context.Context, contract string, req CallRequest) ([]any, error) {
	var out struct {
		Outputs []any `json:"outputs"`
	}
	if err := c.post(ctx, "/api/v1/contracts/"+contract+"/call", req, &out); err != nil {
		return nil, err
	}
	return out.Outputs, nil
}

// Encode returns 0x-prefixed calldata for a declared function.
func (c *Client) Encode(ctx context.Context, contract string, req CallRequest) (string, error) {
	var out struct {
		Data string `json:"data"`
	}
	if err := c.post(ctx, "/api/v1/contracts/"+contract+"/encode", req, &out); err != nil {
		return "", err
	}
	return out.Data, nil
}

// Ledger returns the most recent confirmed operations, optionally for one
// contract.
func (c *Client) Ledger(ctx context.Context, contract string, limit int) ([]LedgerRecord, error) {
	v := url.Values{}
	if contract != "" {
		v.Set("contract", contract)
	}
	if limit > 0 {
		v.Set("limit", strconv.Itoa(limit))
	}
	var out struct {
		Records []LedgerRecord `json:"records"`
	}
	if err := c.get(ctx, "/api/v1/ledger", v, &out); err != nil {
		return nil, err
	}
	return out.Records, nil
}

func (c *Client) post(ctx context.Context, endpoint string, payload any, out any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode request: %w", err)
	}
	req, err := c.newRequest(ctx, http.MethodPost, endpoint, nil, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(req, out)
}

func (c *Client) get(ctx context.Context, endpoint string, query url.Values, out any) error {
	req, err := c.newRequest(ctx, http.MethodGet, endpoint, query, nil)
	if err != nil {
		return err
	}
	return c.do(req, out)
}

func (c *Client) newRequest(ctx context.Context, method, endpoint string, query url.Values, body io.Reader) (*http.Request, error) {
	rel := &url.URL{Path: path.Join(c.baseURL.Path, endpoint)}
	if len(query) > 0 {
		rel.RawQuery = query.Encode()
	}
	u := c.baseURL.ResolveReference(rel)
	req, err := http.NewRequestWithContext(ctx, method, u.String(), body)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	return req, nil
}

func (c *Client) do(req *http.Request, out any) error {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("perform request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		apiErr := APIError{StatusCode: resp.StatusCode}
		data, err := io.ReadAll(resp.Body)
		if err != nil {
			return fmt.Errorf("read error response: %w", err)
		}
		if len(data) > 0 {
			_ = json.Unmarshal(data, &apiErr)
		}
		if apiErr.Message == "" {
			apiErr.Message = string(bytes.TrimSpace(data))
		}
		return &apiErr
	}

	if out == nil {
		return nil
	}
	decoder := json.NewDecoder(resp.Body)
	decoder.UseNumber()
	if err := decoder.Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
