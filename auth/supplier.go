package auth

import (
	"context"
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// TokenOptions is passed to every token request.
type TokenOptions struct {
	Template string
}

// Supplier issues short-lived tokens for the realtime handshake and HTTP calls.
// GetToken may be called concurrently by the initial connect and by reconnect
// attempts. An empty token means the supplier has none to give.
type Supplier interface {
	SignedIn() bool
	GetToken(ctx context.Context, opts TokenOptions) (string, error)
}

// StaticSupplier always returns the same token. An empty token means signed out.
type StaticSupplier string

func (s StaticSupplier) SignedIn() bool { return s != "" }

func (s StaticSupplier) GetToken(context.Context, TokenOptions) (string, error) {
	return string(s), nil
}

// SignedOut never has a session.
var SignedOut Supplier = StaticSupplier("")

// FuncSupplier adapts a function. It is always signed in.
type FuncSupplier func(ctx context.Context, opts TokenOptions) (string, error)

func (f FuncSupplier) SignedIn() bool { return true }

func (f FuncSupplier) GetToken(ctx context.Context, opts TokenOptions) (string, error) {
	return f(ctx, opts)
}

// Claims carried by minted tokens.
type Claims struct {
	Template string `json:"template,omitempty"`
	jwt.RegisteredClaims
}

// JWTSupplier mints a fresh HS256 token on every call.
type JWTSupplier struct {
	secret  []byte
	subject string
	ttl     time.Duration
	now     func() time.Time
}

func NewJWTSupplier(secret, subject string, ttl time.Duration) (*JWTSupplier, error) {
	if secret == "" {
		return nil, errors.New("jwt supplier: empty secret")
	}
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &JWTSupplier{secret: []byte(secret), subject: subject, ttl: ttl, now: time.Now}, nil
}

func (s *JWTSupplier) SignedIn() bool { return true }

func (s *JWTSupplier) GetToken(ctx context.Context, opts TokenOptions) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	now := s.now()
	claims := Claims{
		Template: opts.Template,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   s.subject,
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
}

// Parse validates a token minted with secret and returns its claims.
func Parse(secret, token string) (*Claims, error) {
	claims := &Claims{}
	tkn, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (interface{}, error) {
		return []byte(secret), nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return nil, err
	}
	if !tkn.Valid {
		return nil, errors.New("invalid token")
	}
	return claims, nil
}
