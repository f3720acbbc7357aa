package auth

import (
	"errors"
	"time"

	"voice-relay/internal/config"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// ErrInvalidToken covers every verification failure: bad signature,
// expiry, malformed claims, unknown source. Callers get no finer detail.
var ErrInvalidToken = errors.New("auth: invalid token")

// Source tags the class of caller a token was minted for. Tokens are not
// tied to a call or a tenant; they gate transport access only.
type Source string

const (
	SourceFrontend Source = "frontend"
	SourceBackend  Source = "backend"
)

func ValidSource(s Source) bool {
	return s == SourceFrontend || s == SourceBackend
}

// Claims are the only supported token claims shape for this service.
type Claims struct {
	jwt.RegisteredClaims

	Source Source `json:"source"`
}

type Manager struct {
	secret []byte
	ttl    time.Duration
}

// NewManager fails when the signing secret is absent. That is a fatal
// startup condition, not a per-request error.
func NewManager(cfg config.AuthConfig) (*Manager, error) {
	if cfg.TokenSecret == "" {
		return nil, errors.New("TOKEN_SECRET is required")
	}
	ttl := cfg.TokenTTL
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &Manager{secret: []byte(cfg.TokenSecret), ttl: ttl}, nil
}

// Issue mints a signed token tagging the caller as source. Expiry is fixed
// at the configured TTL (one hour by default). No revocation list exists;
// a token is reusable until it expires.
func (m *Manager) Issue(source Source, now time.Time) (string, error) {
	if !ValidSource(source) {
		return "", ErrInvalidToken
	}

	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(m.ttl)),
			ID:        uuid.NewString(),
		},
		Source: source,
	}

	t := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return t.SignedString(m.secret)
}

// Verify checks signature and expiry and returns the decoded claims.
func (m *Manager) Verify(tokenString string, now time.Time) (Claims, error) {
	var claims Claims

	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuedAt(),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(func() time.Time { return now }),
		jwt.WithLeeway(30*time.Second), // clock skew tolerance
	)

	_, err := parser.ParseWithClaims(tokenString, &claims, func(token *jwt.Token) (any, error) {
		return m.secret, nil
	})
	if err != nil {
		return Claims{}, ErrInvalidToken
	}

	if !ValidSource(claims.Source) {
		return Claims{}, ErrInvalidToken
	}

	return claims, nil
}
