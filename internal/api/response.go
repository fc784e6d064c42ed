package api

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/google/uuid"

	xerrors "AgentLedger-Chain/internal/errors"
)

// RequestIDHeader 携带请求标识，缺省时由服务端生成。
const RequestIDHeader = "X-Request-ID"

// ErrorBody 描述错误响应。
type ErrorBody struct {
	Code      xerrors.Code      `json:"code"`
	Message   string            `json:"message"`
	Metadata  map[string]string `json:"metadata,omitempty"`
	RequestID string            `json:"request_id,omitempty"`
}

// ErrorResponse 是所有失败请求的返回体。
type ErrorResponse struct {
	Error ErrorBody `json:"error"`
}

// StatusOf 把错误码映射为 HTTP 状态码。
func StatusOf(code xerrors.Code) int {
	switch code {
	case xerrors.CodeUnauthorized:
		return http.StatusForbidden
	case xerrors.CodeNotFound:
		return http.StatusNotFound
	case xerrors.CodeAlreadyExists, xerrors.CodeInactiveEntity, xerrors.CodeInvalidState, xerrors.CodeInvalidTransition:
		return http.StatusConflict
	case xerrors.CodeInvalidInput, xerrors.CodeMisconfiguration:
		return http.StatusBadRequest
	case xerrors.CodeInsufficientBalance, xerrors.CodeArithmeticFailure:
		return http.StatusUnprocessableEntity
	case xerrors.CodeStorageFailure, xerrors.CodeQueueFailure:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, r *http.Request, err error) {
	writeErrorStatus(w, r, StatusOf(xerrors.CodeOf(err)), err)
}

func writeErrorStatus(w http.ResponseWriter, r *http.Request, status int, err error) {
	body := ErrorBody{Code: xerrors.CodeOf(err), Message: err.Error(), RequestID: requestIDFrom(r.Context())}
	if e, ok := xerrors.From(err); ok {
		body.Message = e.Message()
		body.Metadata = e.Metadata()
	}
	writeJSON(w, status, ErrorResponse{Error: body})
}

type requestIDKey struct{}

func requestIDFrom(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}

// withRequestID 透传或生成请求标识并回写到响应头。
func withRequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(RequestIDHeader)
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set(RequestIDHeader, id)
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), requestIDKey{}, id)))
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (w *statusRecorder) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

// observe 记录每个路由的请求数与耗时。
func (s *Server) observe(route string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		s.metrics.ObserveHTTPRequest(route, r.Method, rec.status, time.Since(start))
	})
}
