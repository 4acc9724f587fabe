package auth

import (
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/kestrel-games/arena/internal/config"
)

func newTestResolver(secret string) *Resolver {
	return NewResolver(config.AuthConfig{
		Secret:   secret,
		TokenTTL: time.Hour,
	}, zap.NewNop())
}

func TestResolveValidToken(t *testing.T) {
	r := newTestResolver("test-secret")

	token, err := r.Issue("player-42")
	require.NoError(t, err)

	playerID, err := r.Resolve(token)
	require.NoError(t, err)
	assert.Equal(t, "player-42", playerID)
}

func TestResolveRejectsWrongSecret(t *testing.T) {
	issuer := newTestResolver("secret-a")
	verifier := newTestResolver("secret-b")

	token, err := issuer.Issue("player-42")
	require.NoError(t, err)

	_, err = verifier.Resolve(token)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestResolveRejectsExpiredToken(t *testing.T) {
	r := newTestResolver("test-secret")

	claims := jwt.RegisteredClaims{
		Subject:   "player-42",
		IssuedAt:  jwt.NewNumericDate(time.Now().Add(-2 * time.Hour)),
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(-time.Hour)),
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("test-secret"))
	require.NoError(t, err)

	_, err = r.Resolve(token)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestResolveRejectsTokenWithoutExpiry(t *testing.T) {
	r := newTestResolver("test-secret")

	claims := jwt.RegisteredClaims{Subject: "player-42"}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("test-secret"))
	require.NoError(t, err)

	_, err = r.Resolve(token)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestResolveRejectsEmptyToken(t *testing.T) {
	r := newTestResolver("test-secret")

	_, err := r.Resolve("")
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestResolveWithoutSecret(t *testing.T) {
	r := newTestResolver("")

	_, err := r.Resolve("anything")
	assert.ErrorIs(t, err, ErrNoSecret)
}

func TestIdentifyReturnsAuthenticatedPlayer(t *testing.T) {
	r := newTestResolver("test-secret")

	token, err := r.Issue("player-42")
	require.NoError(t, err)

	playerID, guest := r.Identify(token)
	assert.Equal(t, "player-42", playerID)
	assert.False(t, guest)
}

func TestIdentifyFallsBackToGuest(t *testing.T) {
	r := newTestResolver("test-secret")

	playerID, guest := r.Identify("not-a-token")
	assert.True(t, guest)
	assert.True(t, strings.HasPrefix(playerID, "guest-"))
}

func TestIdentifyEmptyTokenIsGuest(t *testing.T) {
	r := newTestResolver("test-secret")

	playerID, guest := r.Identify("")
	assert.True(t, guest)
	assert.True(t, strings.HasPrefix(playerID, "guest-"))
}

func TestGuestIdentityIsUnique(t *testing.T) {
	a := GuestIdentity()
	b := GuestIdentity()
	assert.NotEqual(t, a, b)
	assert.Len(t, a, len("guest-")+8)
}
