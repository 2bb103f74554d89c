// Package login implements password and automatic login against the local
// credential vault, including per-username lockout and the device trust
// gate for automatic logins.
package login

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/accessmate/accessmate/internal/common"
	"github.com/accessmate/accessmate/internal/cryptox"
	"github.com/accessmate/accessmate/internal/logging"
	"github.com/accessmate/accessmate/internal/session"
	"github.com/accessmate/accessmate/internal/vault"
)

const (
	defaultMaxFailedAttempts = 3
	defaultLockoutDuration   = 300 * time.Second
	saltSize                 = 16
)

// attemptState tracks consecutive failures for one username. The state is
// in-memory only and resets on process restart.
type attemptState struct {
	failures    int
	lockedUntil time.Time
}

// Config carries the tunables of the service; zero values fall back to the
// defaults above.
type Config struct {
	DeviceID          string
	Platform          string
	SessionTTL        time.Duration
	DeviceTrust       bool
	MaxFailedAttempts int
	LockoutDuration   time.Duration
}

// Service authenticates users against the vault and issues sessions.
type Service struct {
	vault      *vault.Vault
	sessions   *session.Manager
	biometrics BiometricVerifier
	log        logging.Logger

	deviceID    string
	platform    string
	sessionTTL  time.Duration
	deviceTrust bool
	maxFailed   int
	lockoutFor  time.Duration

	mu       sync.Mutex
	attempts map[string]*attemptState
}

func NewService(v *vault.Vault, sm *session.Manager, bm BiometricVerifier, cfg Config, log logging.Logger) *Service {
	s := &Service{
		vault:       v,
		sessions:    sm,
		biometrics:  bm,
		log:         log,
		deviceID:    cfg.DeviceID,
		platform:    cfg.Platform,
		sessionTTL:  cfg.SessionTTL,
		deviceTrust: cfg.DeviceTrust,
		maxFailed:   cfg.MaxFailedAttempts,
		lockoutFor:  cfg.LockoutDuration,
		attempts:    make(map[string]*attemptState),
	}
	if s.sessionTTL <= 0 {
		s.sessionTTL = 24 * time.Hour
	}
	if s.maxFailed <= 0 {
		s.maxFailed = defaultMaxFailedAttempts
	}
	if s.lockoutFor <= 0 {
		s.lockoutFor = defaultLockoutDuration
	}
	return s
}

// PasswordLogin authenticates username/password and issues a session. The
// first successful login on a fresh installation creates the stored
// credential; afterwards the password is checked against it. A success
// marks this device trusted and clears the failure counter.
func (s *Service) PasswordLogin(ctx context.Context, username, password string, rememberBiometric bool) (*session.Session, error) {
	if username == "" || password == "" {
		return nil, fmt.Errorf("%w: username and password are required", common.ErrValidation)
	}
	if err := s.checkLockout(username); err != nil {
		return nil, err
	}

	cred, err := s.vault.Load()
	switch {
	case err == nil && cred.Username == username:
		hash := cryptox.HashPassword([]byte(password), cred.Salt)
		if subtle.ConstantTimeCompare(hash, cred.PasswordHash) != 1 {
			return nil, s.noteFailure(ctx, username)
		}
		if rememberBiometric != cred.UsesBiometric {
			cred.UsesBiometric = rememberBiometric
			if err := s.vault.Store(cred); err != nil {
				return nil, err
			}
		}
	case err == nil || errors.Is(err, common.ErrNoCredential):
		// A different or missing stored user: this login establishes the
		// installation's remembered credential.
		salt := common.GenerateRandByteArray(saltSize)
		cred = &vault.Credential{
			Username:      username,
			PasswordHash:  cryptox.HashPassword([]byte(password), salt),
			Salt:          salt,
			UsesBiometric: rememberBiometric,
			DeviceID:      s.deviceID,
			Platform:      s.platform,
			CreatedAt:     time.Now().UTC(),
		}
		if err := s.vault.Store(cred); err != nil {
			return nil, err
		}
	default:
		return nil, err
	}

	s.clearFailures(username)
	if err := s.vault.AddTrusted(s.deviceID); err != nil {
		return nil, fmt.Errorf("trust device: %w", err)
	}
	s.log.Info(ctx, "password login succeeded", "username", username)
	return s.sessions.Issue(username, s.sessionTTL, true)
}

// AutoLogin attempts a non-interactive login: a still-live session is
// reused; otherwise the stored credential is used, gated on device trust
// and, when the credential requires it, a biometric check. Success issues a
// fresh session and marks the device trusted.
func (s *Service) AutoLogin(ctx context.Context) (*session.Session, error) {
	if live, err := s.sessions.Current(); err != nil {
		return nil, err
	} else if live != nil {
		return live, nil
	}

	cred, err := s.vault.Load()
	if err != nil {
		return nil, err
	}

	if s.deviceTrust && !s.vault.IsTrusted(s.deviceID) {
		s.log.Warn(ctx, "auto-login refused on untrusted device", "device_id", s.deviceID)
		return nil, common.ErrUntrustedDevice
	}

	if cred.UsesBiometric {
		if s.biometrics == nil {
			return nil, common.ErrBiometricDenied
		}
		ok, err := s.biometrics.Verify(ctx, cred.Username)
		if err != nil {
			return nil, fmt.Errorf("biometric check: %w", err)
		}
		if !ok {
			return nil, common.ErrBiometricDenied
		}
	}

	if err := s.vault.AddTrusted(s.deviceID); err != nil {
		return nil, fmt.Errorf("trust device: %w", err)
	}
	s.log.Info(ctx, "auto-login succeeded", "username", cred.Username)
	return s.sessions.Issue(cred.Username, s.sessionTTL, true)
}

// Logout revokes the current session. The stored credential is untouched,
// so auto-login remains possible afterwards.
func (s *Service) Logout() error {
	return s.sessions.Revoke()
}

// DisableAutoLogin removes the stored credential and the live session, so
// the next start requires an interactive password login.
func (s *Service) DisableAutoLogin() error {
	if err := s.vault.Clear(); err != nil {
		return err
	}
	return s.sessions.Revoke()
}

// checkLockout fails with ErrLockedOut while the username's lockout window
// is open. An elapsed window clears the counter.
func (s *Service) checkLockout(username string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	st, ok := s.attempts[username]
	if !ok {
		return nil
	}
	if st.lockedUntil.IsZero() {
		return nil
	}
	if time.Now().Before(st.lockedUntil) {
		return fmt.Errorf("%w: retry after %s", common.ErrLockedOut,
			time.Until(st.lockedUntil).Round(time.Second))
	}
	delete(s.attempts, username)
	return nil
}

// noteFailure counts a failed attempt and starts the lockout window once
// the threshold is reached. The attempt itself is still reported as bad
// credentials; ErrLockedOut is only seen by attempts made while the window
// is open.
func (s *Service) noteFailure(ctx context.Context, username string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	st, ok := s.attempts[username]
	if !ok {
		st = &attemptState{}
		s.attempts[username] = st
	}
	st.failures++
	if st.failures >= s.maxFailed {
		st.lockedUntil = time.Now().Add(s.lockoutFor)
		s.log.Warn(ctx, "username locked out", "username", username, "failures", st.failures)
	}
	return common.ErrBadCredentials
}

func (s *Service) clearFailures(username string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.attempts, username)
}
