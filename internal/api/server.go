package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"AgentLedger-Chain/internal/auth"
	"AgentLedger-Chain/internal/coin"
	xerrors "AgentLedger-Chain/internal/errors"
	"AgentLedger-Chain/internal/host"
	"AgentLedger-Chain/internal/observability/metrics"
	"AgentLedger-Chain/internal/registry"
	"AgentLedger-Chain/internal/settlement"
	"AgentLedger-Chain/pkg/logger"
)

const maxBodyBytes = 1 << 20

// Ledger 是 API 依赖的账本运行时。
type Ledger interface {
	Execute(ctx context.Context, caller string, funds coin.Coins, msg registry.ExecuteMsg) (*host.Result, error)
	Query(ctx context.Context, msg registry.QueryMsg) (any, error)
	Height() uint64
	Pending() (uint64, error)
}

// SettlementStats 提供结算处理器的运行统计。
type SettlementStats interface {
	Stats() settlement.Stats
}

// ExecuteRequest 是 POST /api/v1/execute 的请求体。
type ExecuteRequest struct {
	Msg   registry.ExecuteMsg `json:"msg"`
	Funds coin.Coins          `json:"funds,omitempty"`
}

// QueryRequest 是 POST /api/v1/query 的请求体。
type QueryRequest struct {
	Msg registry.QueryMsg `json:"msg"`
}

// QueryResponse 包装查询结果。
type QueryResponse struct {
	Height uint64 `json:"height"`
	Data   any    `json:"data"`
}

// HealthResponse 是 GET /healthz 的返回体。
type HealthResponse struct {
	Status        string            `json:"status"`
	Height        uint64            `json:"height"`
	PendingOutbox uint64            `json:"pending_outbox"`
	Settlement    *settlement.Stats `json:"settlement,omitempty"`
	AuthMode      auth.Mode         `json:"auth_mode"`
}

// Server 负责暴露 REST 接口，供外部驱动账本。
type Server struct {
	addr       string
	ledger     Ledger
	auth       *auth.Service
	metrics    *metrics.Recorder
	settlement SettlementStats
	logger     *slog.Logger
}

// Option 定义可选配置。
type Option func(*Server)

// WithAuth 指定身份认证服务，缺省为禁用模式。
func WithAuth(svc *auth.Service) Option {
	return func(s *Server) { s.auth = svc }
}

// WithMetrics 挂载 /metrics 并记录 HTTP 指标。
func WithMetrics(r *metrics.Recorder) Option {
	return func(s *Server) { s.metrics = r }
}

// WithSettlementStats 在健康检查中附带结算统计。
func WithSettlementStats(p SettlementStats) Option {
	return func(s *Server) { s.settlement = p }
}

// NewServer 构造 API 服务实例。
func NewServer(addr string, ledger Ledger, opts ...Option) *Server {
	s := &Server{addr: addr, ledger: ledger, logger: logger.Named("api")}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s
}

// Handler 组装路由与中间件。
func (s *Server) Handler() http.Handler {
	guard := s.auth.Middleware(auth.MiddlewareConfig{
		RequiredPermissions: map[string][]string{
			"/api/v1/execute": {auth.PermissionExecute},
			"/api/v1/query":   {auth.PermissionQuery},
		},
		AuditEvent: "ledger_api",
		OnError: func(w http.ResponseWriter, r *http.Request, err error) {
			writeErrorStatus(w, r, http.StatusUnauthorized, err)
		},
	})

	mux := http.NewServeMux()
	mux.Handle("POST /api/v1/execute", s.observe("/api/v1/execute", guard(http.HandlerFunc(s.handleExecute))))
	mux.Handle("POST /api/v1/query", s.observe("/api/v1/query", guard(http.HandlerFunc(s.handleQuery))))
	mux.Handle("GET /healthz", s.observe("/healthz", http.HandlerFunc(s.handleHealth)))
	if s.metrics != nil {
		mux.Handle("GET /metrics", s.metrics.Handler())
	}
	return withRequestID(mux)
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
	s.logger.Info("API 服务已启动", "addr", s.addr)

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

// handleExecute 以认证后的调用方身份执行一条消息。
func (s *Server) handleExecute(w http.ResponseWriter, r *http.Request) {
	var req ExecuteRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	result, err := s.ledger.Execute(r.Context(), auth.CallerFromContext(r.Context()), req.Funds, req.Msg)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// handleQuery 在已提交状态上执行查询。
func (s *Server) handleQuery(w http.ResponseWriter, r *http.Request) {
	var req QueryRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	out, err := s.ledger.Query(r.Context(), req.Msg)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, QueryResponse{Height: s.ledger.Height(), Data: out})
}

// handleHealth 报告块高度、待投递信封数与结算统计。
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := HealthResponse{Status: "ok", Height: s.ledger.Height(), AuthMode: s.auth.Mode()}
	pending, err := s.ledger.Pending()
	if err != nil {
		s.logger.Warn("读取待投递信封失败", "error", err)
		resp.Status = "degraded"
	}
	resp.PendingOutbox = pending
	if s.settlement != nil {
		stats := s.settlement.Stats()
		resp.Settlement = &stats
	}
	status := http.StatusOK
	if resp.Status != "ok" {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, resp)
}

// decodeBody 严格解析 JSON 请求体，拒绝未知字段。
func decodeBody(w http.ResponseWriter, r *http.Request, out any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(out); err != nil {
		return xerrors.Wrap(xerrors.CodeInvalidInput, err, "请求体解析失败")
	}
	return nil
}

// withContext 确保请求处理能够感知根上下文取消。
func withContext(ctx context.Context, handler http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-ctx.Done():
			writeErrorStatus(w, r, http.StatusServiceUnavailable, errors.New("服务已关闭"))
			return
		default:
		}
		handler.ServeHTTP(w, r)
	})
}
