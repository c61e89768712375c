// Package bearerauth validates optional bearer tokens on gateway requests.
// Deployments that set a shared HMAC secret get HS256 JWT validation; when no
// secret is configured the gateway runs open, which is the local-development
// default.
package bearerauth

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// ErrUnauthorized is returned for missing, malformed, or failed-verification
// tokens. Transports map it to HTTP 401.
var ErrUnauthorized = errors.New("unauthorized")

// UserInfo is the validated identity attached to a request.
type UserInfo struct {
	Subject string
	Claims  jwt.MapClaims
}

// Authenticator checks the Authorization header of inbound requests.
type Authenticator interface {
	// CheckRequest validates r's bearer token. A nil UserInfo with nil error
	// means authentication is disabled.
	CheckRequest(r *http.Request) (*UserInfo, error)
}

// Config controls static HS256 validation.
type Config struct {
	// Secret is the shared HMAC key. Empty disables authentication entirely.
	Secret string
	// Issuer, when set, must match the token's iss claim.
	Issuer string
	// Leeway tolerated on time-based claims. Defaults to 60s.
	Leeway time.Duration
}

type staticAuthenticator struct {
	cfg    Config
	parser *jwt.Parser
}

var _ Authenticator = (*staticAuthenticator)(nil)
var _ Authenticator = disabledAuthenticator{}

// New builds an Authenticator from cfg. An empty secret yields the disabled
// authenticator, which admits every request.
func New(cfg Config) Authenticator {
	if cfg.Secret == "" {
		return disabledAuthenticator{}
	}
	if cfg.Leeway == 0 {
		cfg.Leeway = 60 * time.Second
	}
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{"HS256"}),
		jwt.WithExpirationRequired(),
		jwt.WithLeeway(cfg.Leeway),
	}
	if cfg.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(cfg.Issuer))
	}
	return &staticAuthenticator{cfg: cfg, parser: jwt.NewParser(opts...)}
}

func (a *staticAuthenticator) CheckRequest(r *http.Request) (*UserInfo, error) {
	tok, err := bearerToken(r)
	if err != nil {
		return nil, err
	}
	parsed, err := a.parser.Parse(tok, func(t *jwt.Token) (any, error) {
		return []byte(a.cfg.Secret), nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: token verify failed: %v", ErrUnauthorized, err)
	}
	claims, ok := parsed.Claims.(jwt.MapClaims)
	if !ok {
		return nil, fmt.Errorf("%w: invalid claims type", ErrUnauthorized)
	}
	sub, _ := claims["sub"].(string)
	return &UserInfo{Subject: sub, Claims: claims}, nil
}

type disabledAuthenticator struct{}

func (disabledAuthenticator) CheckRequest(*http.Request) (*UserInfo, error) { return nil, nil }

func bearerToken(r *http.Request) (string, error) {
	h := r.Header.Get("Authorization")
	if h == "" {
		return "", fmt.Errorf("%w: missing authorization header", ErrUnauthorized)
	}
	scheme, tok, found := strings.Cut(h, " ")
	if !found || !strings.EqualFold(scheme, "Bearer") || tok == "" {
		return "", fmt.Errorf("%w: malformed authorization header", ErrUnauthorized)
	}
	return strings.TrimSpace(tok), nil
}
