// Package auth supplies the credential a node presents when dialing the
// signaling server, and verifies such credentials on the receiving side.
package auth

import (
	"fmt"

	"mentorcall/internal/config"
)

// TokenProvider yields the token sent on each signaling dial. Providers are
// called per dial so short-lived tokens stay fresh across reconnects.
type TokenProvider interface {
	Token() (string, error)
}

// NoAuth connects without credentials.
type NoAuth struct{}

func (NoAuth) Token() (string, error) { return "", nil }

// StaticToken presents a fixed bearer token.
type StaticToken string

func (t StaticToken) Token() (string, error) { return string(t), nil }

func NewProvider(cfg config.Config) (TokenProvider, error) {
	switch cfg.AuthMode {
	case config.AuthModeNone:
		return NoAuth{}, nil
	case config.AuthModeToken:
		return StaticToken(cfg.SignalingToken), nil
	case config.AuthModeJWT:
		return NewMinter(cfg.JWTSecret, cfg.SelfID)
	default:
		return nil, fmt.Errorf("unsupported auth mode %q", cfg.AuthMode)
	}
}
