package auth

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v4"

	xerrors "AgentLedger-Chain/internal/errors"
)

func newJWTService(t *testing.T) *Service {
	t.Helper()
	svc, err := NewService(Config{Mode: ModeJWT, JWT: JWTOptions{Secret: "s3cret", Issuer: "agentledger", Audience: []string{"ledger"}}})
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	return svc
}

func TestNewServiceValidatesMode(t *testing.T) {
	if _, err := NewService(Config{Mode: ModeJWT}); err == nil {
		t.Fatalf("expected missing secret error")
	}
	if _, err := NewService(Config{Mode: "oauth"}); err == nil {
		t.Fatalf("expected unsupported mode error")
	}
	svc, err := NewService(Config{})
	if err != nil {
		t.Fatalf("disabled service: %v", err)
	}
	if svc.Mode() != ModeDisabled {
		t.Fatalf("unexpected mode %s", svc.Mode())
	}
}

func TestIssuedTokenIdentifiesCaller(t *testing.T) {
	svc := newJWTService(t)
	token, expires, err := svc.IssueToken("alice", PermissionQuery)
	if err != nil {
		t.Fatalf("issue token: %v", err)
	}
	if time.Until(expires) <= 0 {
		t.Fatalf("token already expired: %v", expires)
	}

	subject, err := svc.AuthenticateRequest(context.Background(), "Bearer "+token, "mallory")
	if err != nil {
		t.Fatalf("authenticate: %v", err)
	}
	if subject.Caller != "alice" {
		t.Fatalf("caller header must be ignored in jwt mode, got %q", subject.Caller)
	}
	if !subject.HasPermission(PermissionQuery) || subject.HasPermission(PermissionExecute) {
		t.Fatalf("unexpected permissions %v", subject.Permissions)
	}

	token, _, err = svc.IssueToken("bob")
	if err != nil {
		t.Fatalf("issue default token: %v", err)
	}
	subject, err = svc.AuthenticateRequest(context.Background(), "bearer "+token, "")
	if err != nil {
		t.Fatalf("authenticate default token: %v", err)
	}
	if err := subject.Authorize(PermissionExecute, PermissionQuery); err != nil {
		t.Fatalf("default permissions: %v", err)
	}
}

func TestAuthenticateRejectsBadTokens(t *testing.T) {
	svc := newJWTService(t)
	sign := func(secret string, claims ledgerClaims) string {
		token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
		if err != nil {
			t.Fatalf("sign: %v", err)
		}
		return token
	}
	valid := func() ledgerClaims {
		return ledgerClaims{RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "alice",
			Issuer:    "agentledger",
			Audience:  jwt.ClaimStrings{"ledger"},
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		}}
	}

	expired := valid()
	expired.ExpiresAt = jwt.NewNumericDate(time.Now().Add(-time.Minute))
	wrongIssuer := valid()
	wrongIssuer.Issuer = "someone-else"
	wrongAudience := valid()
	wrongAudience.Audience = jwt.ClaimStrings{"other"}
	noSubject := valid()
	noSubject.Subject = ""

	cases := map[string]struct {
		header string
		want   error
	}{
		"missing":        {"", ErrMissingToken},
		"basic scheme":   {"Basic abc", ErrMissingToken},
		"wrong secret":   {"Bearer " + sign("other", valid()), ErrInvalidToken},
		"expired":        {"Bearer " + sign("s3cret", expired), ErrInvalidToken},
		"wrong issuer":   {"Bearer " + sign("s3cret", wrongIssuer), ErrInvalidToken},
		"wrong audience": {"Bearer " + sign("s3cret", wrongAudience), ErrInvalidToken},
		"empty subject":  {"Bearer " + sign("s3cret", noSubject), ErrInvalidToken},
		"garbage":        {"Bearer not.a.jwt", ErrInvalidToken},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := svc.AuthenticateRequest(context.Background(), tc.header, "")
			if !errors.Is(err, tc.want) {
				t.Fatalf("expected %v, got %v", tc.want, err)
			}
		})
	}
}

func TestMiddlewareDisabledUsesCallerHeader(t *testing.T) {
	svc, err := NewService(Config{Mode: ModeDisabled})
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	var seen string
	handler := svc.Middleware(MiddlewareConfig{
		RequiredPermissions: map[string][]string{"*": {PermissionExecute}},
	})(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = CallerFromContext(r.Context())
		w.WriteHeader(http.StatusAccepted)
	}))

	req := httptest.NewRequest(http.MethodPost, "/api/v1/execute", nil)
	req.Header.Set(CallerHeader, " alice ")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusAccepted {
		t.Fatalf("unexpected status %d", rec.Code)
	}
	if seen != "alice" {
		t.Fatalf("unexpected caller %q", seen)
	}
}

func TestMiddlewareEnforcesPermissions(t *testing.T) {
	svc := newJWTService(t)
	var failures []error
	handler := svc.Middleware(MiddlewareConfig{
		RequiredPermissions: map[string][]string{
			"/api/v1/execute": {PermissionExecute},
			"*":               {PermissionQuery},
		},
		OnError: func(w http.ResponseWriter, _ *http.Request, err error) {
			failures = append(failures, err)
			w.WriteHeader(http.StatusForbidden)
		},
	})(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	readOnly, _, err := svc.IssueToken("carol", PermissionQuery)
	if err != nil {
		t.Fatalf("issue token: %v", err)
	}
	do := func(path, token string) int {
		req := httptest.NewRequest(http.MethodPost, path, nil)
		if token != "" {
			req.Header.Set("Authorization", "Bearer "+token)
		}
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		return rec.Code
	}

	if code := do("/api/v1/query", readOnly); code != http.StatusOK {
		t.Fatalf("query should pass, got %d", code)
	}
	if code := do("/api/v1/execute", readOnly); code != http.StatusForbidden {
		t.Fatalf("execute should be denied, got %d", code)
	}
	if code := do("/api/v1/query", ""); code != http.StatusForbidden {
		t.Fatalf("missing token should be denied, got %d", code)
	}
	if len(failures) != 2 {
		t.Fatalf("expected 2 failures, got %d", len(failures))
	}
	for _, err := range failures {
		if xerrors.CodeOf(err) != xerrors.CodeUnauthorized {
			t.Fatalf("unexpected code for %v", err)
		}
	}
	e, _ := xerrors.From(failures[0])
	if e.Metadata()["reason"] != "permission_denied" {
		t.Fatalf("unexpected reason %v", e.Metadata())
	}
}
