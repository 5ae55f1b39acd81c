package auth_test

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jensholdgaard/bazaar/internal/auth"
	"github.com/jensholdgaard/bazaar/internal/clock"
	"github.com/jensholdgaard/bazaar/internal/config"
)

var t0 = time.Date(2026, 5, 10, 9, 0, 0, 0, time.UTC)

func newAuth(clk clock.Clock) *auth.Authenticator {
	return auth.New(config.AuthConfig{JWTSecret: "s3cret", Issuer: "bazaar"}, clk)
}

func TestIssueAndVerify(t *testing.T) {
	a := newAuth(clock.Mock{T: t0})

	token, err := a.Issue("alice", false, time.Hour)
	require.NoError(t, err)

	id, err := a.Verify(token)
	require.NoError(t, err)
	assert.Equal(t, auth.Identity{UserID: "alice"}, id)

	token, err = a.Issue("root", true, time.Hour)
	require.NoError(t, err)
	id, err = a.Verify(token)
	require.NoError(t, err)
	assert.True(t, id.Admin)
}

func TestVerify_Rejects(t *testing.T) {
	clk := clock.NewManual(t0)
	a := newAuth(clk)

	expired, err := a.Issue("alice", false, time.Minute)
	require.NoError(t, err)

	otherIssuer, err := auth.New(config.AuthConfig{JWTSecret: "s3cret", Issuer: "elsewhere"}, clk).Issue("alice", false, time.Hour)
	require.NoError(t, err)

	otherKey, err := auth.New(config.AuthConfig{JWTSecret: "different", Issuer: "bazaar"}, clk).Issue("alice", false, time.Hour)
	require.NoError(t, err)

	noSubject, err := a.Issue("", false, time.Hour)
	require.NoError(t, err)

	none, err := jwt.NewWithClaims(jwt.SigningMethodNone, jwt.RegisteredClaims{
		Subject: "mallory",
		Issuer:  "bazaar",
	}).SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)

	clk.Advance(2 * time.Minute)

	tests := map[string]string{
		"garbage":      "not-a-token",
		"expired":      expired,
		"wrong issuer": otherIssuer,
		"wrong key":    otherKey,
		"no subject":   noSubject,
		"alg none":     none,
	}
	for name, token := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := a.Verify(token)
			assert.ErrorIs(t, err, auth.ErrInvalidToken)
		})
	}
}

func TestVerify_NotYetValid(t *testing.T) {
	clk := clock.NewManual(t0)
	a := newAuth(clk)

	token, err := a.Issue("alice", false, time.Hour)
	require.NoError(t, err)

	clk.Set(t0.Add(-time.Minute))
	_, err = a.Verify(token)
	assert.ErrorIs(t, err, auth.ErrInvalidToken)
}
