package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v4"

	"AgentLedger-Chain/pkg/logger"
)

const defaultAccessTTL = 3600

// Service 负责 HTTP 端点的身份验证和授权。
type Service struct {
	mode  Mode
	jwt   *jwtManager
	audit *slog.Logger
}

// NewService 构造身份认证服务实例。
func NewService(cfg Config) (*Service, error) {
	mode := Mode(strings.ToLower(strings.TrimSpace(string(cfg.Mode))))
	if mode == "" {
		mode = ModeDisabled
	}
	svc := &Service{mode: mode, audit: logger.Audit()}

	switch mode {
	case ModeDisabled:
		return svc, nil
	case ModeJWT:
		if strings.TrimSpace(cfg.JWT.Secret) == "" {
			return nil, errors.New("jwt secret must be configured")
		}
		ttl := cfg.JWT.AccessTTL
		if ttl <= 0 {
			ttl = defaultAccessTTL
		}
		defaults := cfg.JWT.DefaultPermissions
		if len(defaults) == 0 {
			defaults = []string{PermissionExecute, PermissionQuery}
		}
		svc.jwt = &jwtManager{
			secret:    []byte(cfg.JWT.Secret),
			issuer:    cfg.JWT.Issuer,
			audience:  cfg.JWT.Audience,
			accessTTL: time.Duration(ttl) * time.Second,
			defaults:  defaults,
		}
		return svc, nil
	default:
		return nil, fmt.Errorf("unsupported auth mode: %s", cfg.Mode)
	}
}

// Mode 返回当前身份认证服务的工作模式。
func (s *Service) Mode() Mode {
	if s == nil {
		return ModeDisabled
	}
	return s.mode
}

// IssueToken 为调用方签发访问令牌，permissions 为空时使用默认权限。
func (s *Service) IssueToken(caller string, permissions ...string) (string, time.Time, error) {
	if s == nil || s.mode != ModeJWT || s.jwt == nil {
		return "", time.Time{}, ErrDisabled
	}
	caller = strings.TrimSpace(caller)
	if caller == "" {
		return "", time.Time{}, ErrMissingCaller
	}
	return s.jwt.Generate(caller, permissions, time.Now())
}

// AuthenticateRequest 根据请求头解析调用方。
// 禁用模式下信任 X-Caller 头，JWT 模式下 sub 声明即调用方。
func (s *Service) AuthenticateRequest(ctx context.Context, authorization, caller string) (*Subject, error) {
	if s == nil || s.mode == ModeDisabled {
		return &Subject{Caller: strings.TrimSpace(caller), unrestricted: true}, nil
	}
	parts := strings.SplitN(strings.TrimSpace(authorization), " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") {
		return nil, ErrMissingToken
	}
	token := strings.TrimSpace(parts[1])
	if token == "" {
		return nil, ErrMissingToken
	}
	return s.jwt.Verify(token)
}

// jwtManager 负责 JWT 令牌的签名和验证。
type jwtManager struct {
	secret    []byte
	issuer    string
	audience  []string
	accessTTL time.Duration
	defaults  []string
}

// ledgerClaims 在标准声明之外携带以空格分隔的权限范围。
type ledgerClaims struct {
	Scope string `json:"scope,omitempty"`
	jwt.RegisteredClaims
}

// Generate 签发 HS256 访问令牌。
func (m *jwtManager) Generate(caller string, permissions []string, now time.Time) (string, time.Time, error) {
	expires := now.Add(m.accessTTL)
	claims := ledgerClaims{
		Scope: strings.Join(permissions, " "),
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   caller,
			Issuer:    m.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expires),
		},
	}
	if len(m.audience) > 0 {
		claims.Audience = jwt.ClaimStrings(m.audience)
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(m.secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("sign token: %w", err)
	}
	return signed, expires, nil
}

// Verify 校验签名、有效期、签发方与受众，返回令牌对应的主体。
func (m *jwtManager) Verify(token string) (*Subject, error) {
	var claims ledgerClaims
	parsed, err := jwt.ParseWithClaims(token, &claims, func(*jwt.Token) (any, error) {
		return m.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if !parsed.Valid {
		return nil, ErrInvalidToken
	}
	if m.issuer != "" && !claims.VerifyIssuer(m.issuer, true) {
		return nil, fmt.Errorf("%w: issuer mismatch", ErrInvalidToken)
	}
	for _, aud := range m.audience {
		if !claims.VerifyAudience(aud, true) {
			return nil, fmt.Errorf("%w: audience mismatch", ErrInvalidToken)
		}
	}
	if strings.TrimSpace(claims.Subject) == "" {
		return nil, fmt.Errorf("%w: empty subject", ErrInvalidToken)
	}

	perms := strings.Fields(claims.Scope)
	if len(perms) == 0 {
		perms = append([]string(nil), m.defaults...)
	}
	subject := &Subject{Caller: claims.Subject, Permissions: perms}
	if claims.ExpiresAt != nil {
		subject.ExpiresAt = claims.ExpiresAt.Unix()
	}
	subject.normalise()
	return subject, nil
}
