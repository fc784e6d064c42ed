package auth

import (
	"errors"
	"fmt"
	"strings"
)

// Common errors returned by the authentication subsystem.
var (
	ErrDisabled         = errors.New("authentication disabled")
	ErrInvalidToken     = errors.New("invalid token")
	ErrMissingToken     = errors.New("missing bearer token")
	ErrMissingCaller    = errors.New("missing caller identity")
	ErrPermissionDenied = errors.New("permission denied")
)

// Permissions understood by the ledger API.
const (
	PermissionExecute = "ledger:execute"
	PermissionQuery   = "ledger:query"
)

// CallerHeader carries the caller address when authentication is disabled.
const CallerHeader = "X-Caller"

// Subject is the authenticated caller attached to a request context. Caller
// becomes the sender of every ledger message submitted on the request.
type Subject struct {
	Caller      string
	Permissions []string
	ExpiresAt   int64

	// unrestricted subjects come from disabled mode and pass every check.
	unrestricted   bool
	permissionsSet map[string]struct{}
}

// normalise prepares the lookup set for permission checks.
func (s *Subject) normalise() {
	if s == nil || s.permissionsSet != nil {
		return
	}
	s.permissionsSet = make(map[string]struct{}, len(s.Permissions))
	for _, perm := range s.Permissions {
		s.permissionsSet[strings.ToLower(strings.TrimSpace(perm))] = struct{}{}
	}
}

// HasPermission reports whether the subject has the specified permission.
func (s *Subject) HasPermission(permission string) bool {
	if s == nil {
		return false
	}
	if s.unrestricted {
		return true
	}
	s.normalise()
	_, ok := s.permissionsSet[strings.ToLower(strings.TrimSpace(permission))]
	return ok
}

// Authorize ensures the subject has all required permissions.
func (s *Subject) Authorize(perms ...string) error {
	if s == nil {
		return ErrInvalidToken
	}
	for _, perm := range perms {
		if perm == "" {
			continue
		}
		if !s.HasPermission(perm) {
			return fmt.Errorf("%w: missing %s", ErrPermissionDenied, perm)
		}
	}
	return nil
}

// Config configures the authentication service.
type Config struct {
	Mode Mode
	JWT  JWTOptions
}

// Mode enumerates the supported authentication providers.
type Mode string

const (
	ModeDisabled Mode = "disabled"
	ModeJWT      Mode = "jwt"
)

// JWTOptions contains parameters for HS256 token issuance and verification.
type JWTOptions struct {
	Secret    string
	Issuer    string
	Audience  []string
	AccessTTL int64
	// DefaultPermissions are granted to tokens that carry no scope claim.
	DefaultPermissions []string
}
