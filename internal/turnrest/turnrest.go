// Package turnrest mints coturn-compatible TURN REST ephemeral credentials
// (draft-uberti-behave-turn-rest-00) and injects them into an ICE server
// list before a PeerConnection is built.
//
// Algorithm:
//
//	username   = <unix_expiry_timestamp>:<username_prefix>:<session_id>
//	credential = base64(hmac_sha1(shared_secret, username))
package turnrest

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha1"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/pion/webrtc/v4"

	"mentorcall/internal/config"
)

type Generator struct {
	sharedSecret   []byte
	ttlSeconds     int64
	usernamePrefix string
	now            func() time.Time
	sessionID      func() (string, error)
}

// NewGenerator builds a generator from the TURN REST section of the node
// config. Call Enabled() on the config first; an empty shared secret is an
// error here.
func NewGenerator(cfg config.TurnRESTConfig) (*Generator, error) {
	if strings.TrimSpace(cfg.SharedSecret) == "" {
		return nil, errors.New("shared secret is required")
	}
	if cfg.TTLSeconds <= 0 {
		return nil, errors.New("TTLSeconds must be > 0")
	}
	if cfg.UsernamePrefix == "" {
		return nil, errors.New("UsernamePrefix is required")
	}
	if strings.Contains(cfg.UsernamePrefix, ":") {
		return nil, errors.New("UsernamePrefix must not contain ':'")
	}
	return &Generator{
		sharedSecret:   []byte(cfg.SharedSecret),
		ttlSeconds:     cfg.TTLSeconds,
		usernamePrefix: cfg.UsernamePrefix,
		now:            time.Now,
		sessionID:      randomSessionID,
	}, nil
}

type Credentials struct {
	Username   string
	Credential string
	ExpiryUnix int64
}

func (g *Generator) Credentials(sessionID string) (Credentials, error) {
	if sessionID == "" {
		return Credentials{}, errors.New("sessionID is required")
	}
	if strings.Contains(sessionID, ":") {
		return Credentials{}, errors.New("sessionID must not contain ':'")
	}
	expiryUnix := g.now().UTC().Unix() + g.ttlSeconds
	username := fmt.Sprintf("%d:%s:%s", expiryUnix, g.usernamePrefix, sessionID)
	mac := hmac.New(sha1.New, g.sharedSecret)
	_, _ = mac.Write([]byte(username))
	return Credentials{
		Username:   username,
		Credential: base64.StdEncoding.EncodeToString(mac.Sum(nil)),
		ExpiryUnix: expiryUnix,
	}, nil
}

// Inject returns a copy of servers with freshly minted credentials filled
// into every TURN entry that lacks them. STUN entries and TURN entries that
// already carry static credentials pass through untouched.
func (g *Generator) Inject(servers []webrtc.ICEServer) ([]webrtc.ICEServer, error) {
	sessionID, err := g.sessionID()
	if err != nil {
		return nil, err
	}
	creds, err := g.Credentials(sessionID)
	if err != nil {
		return nil, err
	}

	out := make([]webrtc.ICEServer, len(servers))
	copy(out, servers)
	for i := range out {
		if !hasTURNURL(out[i]) {
			continue
		}
		if strings.TrimSpace(out[i].Username) != "" {
			continue
		}
		out[i].Username = creds.Username
		out[i].Credential = creds.Credential
	}
	return out, nil
}

func hasTURNURL(server webrtc.ICEServer) bool {
	for _, raw := range server.URLs {
		url := strings.ToLower(strings.TrimSpace(raw))
		if strings.HasPrefix(url, "turn:") || strings.HasPrefix(url, "turns:") {
			return true
		}
	}
	return false
}

func randomSessionID() (string, error) {
	var b [16]byte
	if _, err := rand.Read(b[:]); err != nil {
		return "", err
	}
	return hex.EncodeToString(b[:]), nil
}
