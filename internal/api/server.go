package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"ContractHub/internal/contract"
	xerrors "ContractHub/internal/errors"
	"ContractHub/internal/gateway"
	"ContractHub/internal/job"
	"ContractHub/internal/ledger"
	"ContractHub/internal/observability/metrics"
	"ContractHub/internal/web3"
	"ContractHub/pkg/logger"
)

const maxBodyBytes = 1 << 20

// Contracts 是 API 需要的合约网关能力。
type Contracts interface {
	Contracts() []gateway.ContractInfo
	Call(ctx context.Context, name string, req gateway.CallRequest) ([]any, error)
	Encode(name string, req gateway.CallRequest) (string, error)
}

// ChainStatus 提供健康检查所需的链快照。
type ChainStatus interface {
	FetchChainSnapshot(ctx context.Context) (web3.ChainSnapshot, error)
}

// Server 负责暴露 REST 接口，供外部提交合约任务与查询状态。
type Server struct {
	addr      string
	jobs      *job.Service
	contracts Contracts
	ledger    ledger.Ledger
	chain     ChainStatus
	metrics   *metrics.Metrics
	logger    *slog.Logger
}

// Option 配置 Server 的可选依赖。
type Option func(*Server)

// WithContracts 挂载合约调用与编码接口。
func WithContracts(c Contracts) Option {
	return func(s *Server) { s.contracts = c }
}

// WithLedger 挂载操作账本查询接口。
func WithLedger(l ledger.Ledger) Option {
	return func(s *Server) { s.ledger = l }
}

// WithChain 为健康检查提供链快照。
func WithChain(c ChainStatus) Option {
	return func(s *Server) { s.chain = c }
}

// WithMetrics 记录请求指标并暴露 /metrics。
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Server) { s.metrics = m }
}

// NewServer 构造 API 服务实例。
func NewServer(addr string, jobs *job.Service, opts ...Option) *Server {
	s := &Server{addr: addr, jobs: jobs, logger: logger.Named("api")}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s
}

// Handler 返回完整的路由。
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/api/v1/jobs", s.instrument("jobs", s.handleJobs))
	mux.Handle("/api/v1/jobs/", s.instrument("job_detail", s.handleJobDetail))
	mux.Handle("/api/v1/contracts", s.instrument("contracts", s.handleContracts))
	mux.Handle("/api/v1/contracts/", s.instrument("contract_action", s.handleContractAction))
	mux.Handle("/api/v1/ledger", s.instrument("ledger", s.handleLedger))
	mux.Handle("/healthz", s.instrument("healthz", s.handleHealth))
	if s.metrics != nil {
		mux.Handle("/metrics", s.metrics.Handler())
	}
	return mux
}

// Start 启动 HTTP 服务，直到上下文取消或出现错误。
func (s *Server) Start(ctx context.Context) error {
	server := &http.Server{
		Addr:              s.addr,
		Handler:           withContext(ctx, s.Handler()),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()
	s.logger.Info("API 服务已启动", slog.String("addr", s.addr))

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
		return ctx.Err()
	case err := <-errCh:
		return err
	}
}

func (s *Server) handleJobs(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		s.handleCreateJob(w, r)
	case http.MethodGet:
		s.handleListJobs(w, r)
	default:
		writeError(w, http.StatusMethodNotAllowed, "仅支持 GET/POST")
	}
}

func (s *Server) handleCreateJob(w http.ResponseWriter, r *http.Request) {
	if s.jobs == nil {
		writeError(w, http.StatusServiceUnavailable, "任务服务未初始化")
		return
	}
	var req job.Request
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "请求体解析失败: "+err.Error())
		return
	}
	created, err := s.jobs.Submit(r.Context(), req)
	if err != nil {
		s.writeFailure(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, created)
}

func (s *Server) handleListJobs(w http.ResponseWriter, r *http.Request) {
	if s.jobs == nil {
		writeError(w, http.StatusServiceUnavailable, "任务服务未初始化")
		return
	}
	opts, err := parseListOptions(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	jobs, err := s.jobs.List(r.Context(), opts...)
	if err != nil {
		s.writeFailure(w, err)
		return
	}
	stats, err := s.jobs.Stats(r.Context(), opts...)
	if err != nil {
		s.writeFailure(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"jobs": jobs, "stats": stats})
}

func (s *Server) handleJobDetail(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "仅支持 GET")
		return
	}
	id := strings.Trim(strings.TrimPrefix(r.URL.Path, "/api/v1/jobs/"), "/")
	if id == "" {
		writeError(w, http.StatusBadRequest, "缺少任务 ID")
		return
	}
	if s.jobs == nil {
		writeError(w, http.StatusServiceUnavailable, "任务服务未初始化")
		return
	}
	found, err := s.jobs.Get(r.Context(), id)
	if err != nil {
		s.writeFailure(w, err)
		return
	}
	writeJSON(w, http.StatusOK, found)
}

func (s *Server) handleContracts(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "仅支持 GET")
		return
	}
	if s.contracts == nil {
		writeError(w, http.StatusServiceUnavailable, "合约网关未初始化")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"contracts": s.contracts.Contracts()})
}

// handleContractAction 处理 /api/v1/contracts/{name}/call 与 /encode。
func (s *Server) handleContractAction(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "仅支持 POST")
		return
	}
	parts := strings.Split(strings.Trim(strings.TrimPrefix(r.URL.Path, "/api/v1/contracts/"), "/"), "/")
	if len(parts) != 2 || parts[0] == "" {
		writeError(w, http.StatusNotFound, "未知路径")
		return
	}
	if s.contracts == nil {
		writeError(w, http.StatusServiceUnavailable, "合约网关未初始化")
		return
	}
	name, action := parts[0], parts[1]

	var req gateway.CallRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "请求体解析失败: "+err.Error())
		return
	}

	switch action {
	case "call":
		out, err := s.contracts.Call(r.Context(), name, req)
		if err != nil {
			s.writeFailure(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"outputs": out})
	case "encode":
		data, err := s.contracts.Encode(name, req)
		if err != nil {
			s.writeFailure(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"data": data})
	default:
		writeError(w, http.StatusNotFound, "未知操作 "+action)
	}
}

func (s *Server) handleLedger(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "仅支持 GET")
		return
	}
	if s.ledger == nil {
		writeError(w, http.StatusServiceUnavailable, "账本未初始化")
		return
	}
	q := ledger.Query{Contract: strings.TrimSpace(r.URL.Query().Get("contract"))}
	if raw := r.URL.Query().Get("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "limit 必须为整数")
			return
		}
		q.Limit = limit
	}
	records, err := s.ledger.List(r.Context(), q)
	if err != nil {
		s.writeFailure(w, err)
		return
	}
	if records == nil {
		records = []ledger.Record{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"records": records})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "仅支持 GET")
		return
	}
	body := map[string]any{"status": "ok"}
	if s.chain != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
		defer cancel()
		snapshot, err := s.chain.FetchChainSnapshot(ctx)
		if err != nil {
			s.logger.Warn("健康检查获取链快照失败", slog.Any("error", err))
			writeJSON(w, http.StatusServiceUnavailable, map[string]any{"status": "degraded", "error": err.Error()})
			return
		}
		body["chain"] = snapshot
	}
	if s.jobs != nil {
		if stats, err := s.jobs.Stats(r.Context()); err == nil {
			body["jobs"] = stats
		}
	}
	writeJSON(w, http.StatusOK, body)
}

func parseListOptions(r *http.Request) ([]job.ListOption, error) {
	query := r.URL.Query()
	var opts []job.ListOption
	if raw := query.Get("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil {
			return nil, errors.New("limit 必须为整数")
		}
		opts = append(opts, job.WithLimit(limit))
	}
	if raw := query.Get("offset"); raw != "" {
		offset, err := strconv.Atoi(raw)
		if err != nil {
			return nil, errors.New("offset 必须为整数")
		}
		opts = append(opts, job.WithOffset(offset))
	}
	if raw := query.Get("status"); raw != "" {
		var statuses []job.Status
		for _, part := range strings.Split(raw, ",") {
			status := job.Status(strings.TrimSpace(part))
			if !job.IsValidStatus(status) {
				return nil, errors.New("未知的任务状态: " + string(status))
			}
			statuses = append(statuses, status)
		}
		opts = append(opts, job.WithStatuses(statuses...))
	}
	if raw := query.Get("kind"); raw != "" {
		var kinds []job.Kind
		for _, part := range strings.Split(raw, ",") {
			kind := job.Kind(strings.TrimSpace(part))
			if !job.IsValidKind(kind) {
				return nil, errors.New("未知的任务类型: " + string(kind))
			}
			kinds = append(kinds, kind)
		}
		opts = append(opts, job.WithKinds(kinds...))
	}
	if raw := query.Get("contract"); raw != "" {
		opts = append(opts, job.WithContract(raw))
	}
	if raw := query.Get("q"); raw != "" {
		opts = append(opts, job.WithQuery(raw))
	}
	if raw := query.Get("has_result"); raw != "" {
		has, err := strconv.ParseBool(raw)
		if err != nil {
			return nil, errors.New("has_result 必须为布尔值")
		}
		opts = append(opts, job.WithResultPresence(has))
	}
	for key, apply := range map[string]func(time.Time) job.ListOption{
		"updated_since": job.WithUpdatedSince,
		"updated_until": job.WithUpdatedUntil,
	} {
		raw := query.Get(key)
		if raw == "" {
			continue
		}
		ts, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return nil, errors.New(key + " 必须为 RFC3339 时间")
		}
		opts = append(opts, apply(ts))
	}
	switch strings.ToLower(query.Get("order")) {
	case "", "desc":
	case "asc":
		opts = append(opts, job.WithSortOrder(job.SortByUpdatedAsc))
	default:
		return nil, errors.New("order 仅支持 asc/desc")
	}
	return opts, nil
}

// statusOf 将统一错误码映射为 HTTP 状态码。
func statusOf(err error) int {
	switch xerrors.CodeOf(err) {
	case job.CodeJobNotFound, gateway.CodeUnknownContract, xerrors.CodeNotFound:
		return http.StatusNotFound
	case job.CodeJobValidation, xerrors.CodeInvalidArgument, contract.CodeEncoding:
		return http.StatusBadRequest
	case job.CodeJobConflict, job.CodeJobCompleted, xerrors.CodeConflict:
		return http.StatusConflict
	case contract.CodeCall:
		return http.StatusUnprocessableEntity
	case job.CodeJobPublish, xerrors.CodeQueueFailure, xerrors.CodeInitializationFailure, xerrors.CodeChainUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) writeFailure(w http.ResponseWriter, err error) {
	status := statusOf(err)
	if status >= http.StatusInternalServerError {
		s.logger.Error("请求处理失败", slog.Any("error", err))
	}
	writeJSON(w, status, errorBody{Error: err.Error(), Code: string(xerrors.CodeOf(err))})
}

type errorBody struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, errorBody{Error: message})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

// decodeJSON 解析请求体，数字保留为 json.Number 以免丢失精度。
func decodeJSON(r *http.Request, dst any) error {
	dec := json.NewDecoder(http.MaxBytesReader(nil, r.Body, maxBodyBytes))
	dec.UseNumber()
	dec.DisallowUnknownFields()
	return dec.Decode(dst)
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

// instrument 记录每个路由的请求数、错误数与耗时。
func (s *Server) instrument(route string, next http.HandlerFunc) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next(rec, r)
		s.metrics.ObserveHTTPRequest(route, r.Method, rec.status, time.Since(start))
	})
}

// withContext 确保请求处理能够感知根上下文取消。
func withContext(ctx context.Context, handler http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-ctx.Done():
			writeError(w, http.StatusServiceUnavailable, "服务已关闭")
			return
		default:
		}
		handler.ServeHTTP(w, r)
	})
}
