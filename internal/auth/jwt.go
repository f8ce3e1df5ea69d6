package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var ErrInvalidToken = errors.New("invalid token")

// DefaultTokenTTL keeps minted tokens valid across the dial handshake and a
// reasonable reconnect window without living long enough to be worth stealing.
const DefaultTokenTTL = 10 * time.Minute

// Minter signs short-lived HS256 tokens carrying the node's peer identity in
// the sid claim.
type Minter struct {
	secret  []byte
	subject string
	ttl     time.Duration
	now     func() time.Time
}

func NewMinter(secret, subject string) (*Minter, error) {
	if secret == "" {
		return nil, errors.New("jwt secret must not be empty")
	}
	if subject == "" {
		return nil, errors.New("subject must not be empty")
	}
	return &Minter{
		secret:  []byte(secret),
		subject: subject,
		ttl:     DefaultTokenTTL,
		now:     time.Now,
	}, nil
}

func (m *Minter) Token() (string, error) {
	now := m.now().UTC()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sid": m.subject,
		"iat": now.Unix(),
		"exp": now.Add(m.ttl).Unix(),
	})
	signed, err := token.SignedString(m.secret)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return signed, nil
}

// Verifier checks HS256 tokens and extracts the sid claim. The signaling
// server side of the deployment uses the same secret.
type Verifier struct {
	secret []byte
}

func NewVerifier(secret string) (*Verifier, error) {
	if secret == "" {
		return nil, errors.New("jwt secret must not be empty")
	}
	return &Verifier{secret: []byte(secret)}, nil
}

// VerifySID validates the token signature and time claims and returns the
// sid. Tokens without exp or sid are rejected; a token that names no identity
// cannot be routed.
func (v *Verifier) VerifySID(raw string) (string, error) {
	token, err := jwt.Parse(raw,
		func(*jwt.Token) (any, error) { return v.secret, nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithIssuedAt(),
	)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrInvalidToken, err)
	}
	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return "", ErrInvalidToken
	}
	sid, ok := claims["sid"].(string)
	if !ok || sid == "" {
		return "", fmt.Errorf("%w: missing sid claim", ErrInvalidToken)
	}
	return sid, nil
}
