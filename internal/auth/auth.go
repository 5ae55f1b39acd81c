// Package auth verifies the bearer tokens that identify marketplace users.
// Tokens are HS256 JWTs whose subject is the user id.
package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v4"

	"github.com/jensholdgaard/bazaar/internal/clock"
	"github.com/jensholdgaard/bazaar/internal/config"
)

// ErrInvalidToken is returned for any token that fails verification.
var ErrInvalidToken = errors.New("invalid or expired token")

// Claims are the JWT claims understood by the service.
type Claims struct {
	Admin bool `json:"admin,omitempty"`
	jwt.RegisteredClaims
}

// Identity is the verified caller.
type Identity struct {
	UserID string
	Admin  bool
}

// Authenticator issues and verifies tokens.
type Authenticator struct {
	secret []byte
	issuer string
	clock  clock.Clock
	parser *jwt.Parser
}

// New creates an Authenticator from cfg.
func New(cfg config.AuthConfig, clk clock.Clock) *Authenticator {
	return &Authenticator{
		secret: []byte(cfg.JWTSecret),
		issuer: cfg.Issuer,
		clock:  clk,
		// Time-based claims are checked against clk in Verify.
		parser: jwt.NewParser(
			jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
			jwt.WithoutClaimsValidation(),
		),
	}
}

// Issue signs a token for userID valid for ttl.
func (a *Authenticator) Issue(userID string, admin bool, ttl time.Duration) (string, error) {
	now := a.clock.Now()
	claims := Claims{
		Admin: admin,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			Issuer:    a.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(a.secret)
	if err != nil {
		return "", fmt.Errorf("signing token: %w", err)
	}
	return signed, nil
}

// Verify parses token and returns the identity it carries.
func (a *Authenticator) Verify(token string) (Identity, error) {
	var claims Claims
	_, err := a.parser.ParseWithClaims(token, &claims, func(*jwt.Token) (any, error) {
		return a.secret, nil
	})
	if err != nil {
		return Identity{}, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	now := a.clock.Now()
	if !claims.VerifyExpiresAt(now, true) || !claims.VerifyNotBefore(now, false) {
		return Identity{}, fmt.Errorf("%w: token not valid at %s", ErrInvalidToken, now.Format(time.RFC3339))
	}
	if a.issuer != "" && !claims.VerifyIssuer(a.issuer, true) {
		return Identity{}, fmt.Errorf("%w: unexpected issuer %q", ErrInvalidToken, claims.Issuer)
	}
	if claims.Subject == "" {
		return Identity{}, fmt.Errorf("%w: missing subject", ErrInvalidToken)
	}
	return Identity{UserID: claims.Subject, Admin: claims.Admin}, nil
}
