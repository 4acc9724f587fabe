// Package auth resolves client tokens to player identities, degrading to
// synthesized guest identities rather than rejecting connections.
package auth

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/kestrel-games/arena/internal/config"
)

// ErrNoSecret is returned when token verification is impossible because no
// HMAC secret is configured.
var ErrNoSecret = errors.New("no auth secret configured")

// ErrInvalidToken is returned for tokens that fail verification.
var ErrInvalidToken = errors.New("invalid token")

// Resolver verifies HS256-signed tokens whose subject claim carries the
// player identity.
type Resolver struct {
	secret []byte
	ttl    time.Duration
	logger *zap.Logger
}

// NewResolver creates a Resolver from the auth configuration.
//
// Precondition: logger must be non-nil. An empty secret is allowed; every
// resolution then fails and callers fall back to guest identities.
func NewResolver(cfg config.AuthConfig, logger *zap.Logger) *Resolver {
	return &Resolver{
		secret: []byte(cfg.Secret),
		ttl:    cfg.TokenTTL,
		logger: logger,
	}
}

// Resolve verifies a token and returns the player identity it carries.
//
// Postcondition: Returns ErrNoSecret when no secret is configured,
// ErrInvalidToken for unverifiable or expired tokens.
func (r *Resolver) Resolve(token string) (string, error) {
	if len(r.secret) == 0 {
		return "", ErrNoSecret
	}
	if token == "" {
		return "", fmt.Errorf("%w: empty token", ErrInvalidToken)
	}

	parsed, err := jwt.Parse(token, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return r.secret, nil
	}, jwt.WithValidMethods([]string{"HS256"}), jwt.WithExpirationRequired())
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	sub, err := parsed.Claims.GetSubject()
	if err != nil || sub == "" {
		return "", fmt.Errorf("%w: missing subject", ErrInvalidToken)
	}
	return sub, nil
}

// Identify resolves a token with guest fallback: an unverifiable token or
// missing secret yields a fresh guest identity, never a rejection.
//
// Postcondition: Returns a non-empty player identity and whether it was
// synthesized.
func (r *Resolver) Identify(token string) (playerID string, guest bool) {
	playerID, err := r.Resolve(token)
	if err == nil {
		return playerID, false
	}

	if errors.Is(err, ErrNoSecret) {
		r.logger.Error("auth secret missing, issuing guest identity",
			zap.Error(err),
		)
	} else if token != "" {
		r.logger.Warn("token resolution failed, issuing guest identity",
			zap.Error(err),
		)
	}
	return GuestIdentity(), true
}

// Issue creates a signed token for the given player identity. Used by tests
// and operational tooling; production tokens come from the account service.
//
// Precondition: playerID must be non-empty.
func (r *Resolver) Issue(playerID string) (string, error) {
	if len(r.secret) == 0 {
		return "", ErrNoSecret
	}
	now := time.Now()
	claims := jwt.RegisteredClaims{
		Subject:   playerID,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(r.ttl)),
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(r.secret)
}

// GuestIdentity synthesizes a fresh guest player identity.
func GuestIdentity() string {
	id := strings.ReplaceAll(uuid.NewString(), "-", "")
	return "guest-" + id[:8]
}
