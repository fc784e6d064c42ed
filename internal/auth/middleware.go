package auth

import (
	"errors"
	"net/http"
	"time"

	xerrors "AgentLedger-Chain/internal/errors"
	loggerpkg "AgentLedger-Chain/pkg/logger"
)

// MiddlewareConfig 配置身份认证中间件的行为。
type MiddlewareConfig struct {
	// RequiredPermissions 定义每个路径所需的权限列表，"*" 为兜底。
	RequiredPermissions map[string][]string
	// AuditEvent 指定记录审计日志时使用的事件名称。
	AuditEvent string
	// OnError 负责写出认证失败响应，为空时使用 http.Error。
	OnError func(w http.ResponseWriter, r *http.Request, err error)
}

// Middleware 返回一个 HTTP 中间件，用于处理身份认证和授权。
func (s *Service) Middleware(cfg MiddlewareConfig) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			audit := loggerpkg.Audit()
			if s != nil && s.audit != nil {
				audit = s.audit
			}
			fail := func(err error, event string) {
				cfg.writeError(w, r, err)
				audit.Warn(event,
					"path", r.URL.Path,
					"method", r.Method,
					"error", err.Error(),
				)
			}

			subject, err := s.AuthenticateRequest(r.Context(), r.Header.Get("Authorization"), r.Header.Get(CallerHeader))
			if err != nil {
				fail(AsLedgerError(err), "access_denied")
				return
			}
			perms := cfg.RequiredPermissions[r.URL.Path]
			if len(perms) == 0 {
				perms = cfg.RequiredPermissions["*"]
			}
			if err := subject.Authorize(perms...); err != nil {
				fail(AsLedgerError(err), "permission_denied")
				return
			}

			start := time.Now()
			aw := &auditWriter{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(aw, r.WithContext(WithSubject(r.Context(), subject)))
			event := cfg.AuditEvent
			if event == "" {
				event = r.URL.Path
			}
			audit.Info("api_request",
				"event", event,
				"method", r.Method,
				"path", r.URL.Path,
				"status", aw.status,
				"duration_ms", time.Since(start).Milliseconds(),
				"caller", subject.Caller,
			)
		})
	}
}

func (cfg MiddlewareConfig) writeError(w http.ResponseWriter, r *http.Request, err error) {
	if cfg.OnError != nil {
		cfg.OnError(w, r, err)
		return
	}
	http.Error(w, err.Error(), http.StatusUnauthorized)
}

// AsLedgerError 把认证错误转换为 Unauthorized 业务错误。
func AsLedgerError(err error) error {
	if err == nil {
		return nil
	}
	reason := "invalid_token"
	switch {
	case errors.Is(err, ErrMissingToken):
		reason = "missing_token"
	case errors.Is(err, ErrPermissionDenied):
		reason = "permission_denied"
	case errors.Is(err, ErrMissingCaller):
		reason = "missing_caller"
	}
	return xerrors.Wrap(xerrors.CodeUnauthorized, err, "authentication failed", xerrors.WithMetadata("reason", reason))
}

// auditWriter 是一个包装了 http.ResponseWriter 的结构体，用于捕获响应状态码。
type auditWriter struct {
	http.ResponseWriter
	status int
}

// WriteHeader 捕获响应状态码并调用底层的 WriteHeader 方法。
func (w *auditWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}
