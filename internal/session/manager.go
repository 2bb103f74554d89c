// Package session manages the single live session of an installation: a
// JSON session file whose claims are additionally signed as a JWT with a
// device-bound key, so an edited file is treated as absent rather than
// honored.
package session

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/accessmate/accessmate/internal/cryptox"
	"github.com/accessmate/accessmate/internal/filex"
)

const sessionFile = "session"

var signingSalt = []byte("accessmate.session.v1")

// Session describes one authenticated login on this installation.
type Session struct {
	Username  string    `json:"username"`
	LoginTime time.Time `json:"login_time"`
	DeviceID  string    `json:"device_id"`
	ExpiresAt time.Time `json:"expires_at"`
	AutoLogin bool      `json:"auto_login"`
	Token     string    `json:"token"`
}

type claims struct {
	jwt.RegisteredClaims
	DeviceID  string `json:"device_id"`
	AutoLogin bool   `json:"auto_login"`
}

// Manager owns the session file. At most one live session exists per
// installation; an expired or tampered file is deleted on read.
type Manager struct {
	path     string
	deviceID string
	key      []byte
}

// NewManager binds the manager to the data directory; secret is the
// platform secret the signing key derives from.
func NewManager(dataDir, deviceID string, secret []byte) *Manager {
	return &Manager{
		path:     filepath.Join(dataDir, sessionFile),
		deviceID: deviceID,
		key:      cryptox.DeriveKey(secret, signingSalt),
	}
}

// Current returns the live session, or nil when none exists. A session past
// its expiry or failing token verification is removed and reported absent,
// so a returned session is always valid at the moment of return.
func (m *Manager) Current() (*Session, error) {
	data, err := os.ReadFile(m.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read session: %w", err)
	}

	var s Session
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, m.Revoke()
	}

	c := &claims{}
	token, err := jwt.ParseWithClaims(s.Token, c, func(t *jwt.Token) (any, error) {
		return m.key, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil || !token.Valid || c.Subject != s.Username || c.DeviceID != s.DeviceID {
		return nil, m.Revoke()
	}
	// The signed expiry is authoritative over the plain JSON field.
	if c.ExpiresAt == nil || !c.ExpiresAt.Time.Equal(s.ExpiresAt) {
		return nil, m.Revoke()
	}

	if !s.ExpiresAt.After(time.Now()) {
		return nil, m.Revoke()
	}
	return &s, nil
}

// Issue writes a fresh session expiring after ttl, replacing any previous
// one.
func (m *Manager) Issue(username string, ttl time.Duration, autoLogin bool) (*Session, error) {
	now := time.Now().UTC().Truncate(time.Second)
	expires := now.Add(ttl)

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   username,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expires),
		},
		DeviceID:  m.deviceID,
		AutoLogin: autoLogin,
	})
	signed, err := token.SignedString(m.key)
	if err != nil {
		return nil, fmt.Errorf("sign session: %w", err)
	}

	s := &Session{
		Username:  username,
		LoginTime: now,
		DeviceID:  m.deviceID,
		ExpiresAt: expires,
		AutoLogin: autoLogin,
		Token:     signed,
	}

	data, err := json.Marshal(s)
	if err != nil {
		return nil, err
	}
	if err := filex.WriteFileAtomic(m.path, data, 0o600); err != nil {
		return nil, fmt.Errorf("write session: %w", err)
	}
	return s, nil
}

// Revoke deletes the session file if present.
func (m *Manager) Revoke() error {
	if err := os.Remove(m.path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove session: %w", err)
	}
	return nil
}
