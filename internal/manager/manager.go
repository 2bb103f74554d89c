// Package manager implements the top-level façade of the client: it owns
// the per-session stores and the sync engine, and orchestrates login,
// logout, feature activation, and cross-device copy on behalf of the UI.
package manager

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"path/filepath"
	"sync"
	"time"

	"github.com/accessmate/accessmate/internal/common"
	"github.com/accessmate/accessmate/internal/config"
	"github.com/accessmate/accessmate/internal/device"
	"github.com/accessmate/accessmate/internal/feature"
	"github.com/accessmate/accessmate/internal/filex"
	"github.com/accessmate/accessmate/internal/logging"
	"github.com/accessmate/accessmate/internal/login"
	"github.com/accessmate/accessmate/internal/profile"
	"github.com/accessmate/accessmate/internal/session"
	"github.com/accessmate/accessmate/internal/settings"
	"github.com/accessmate/accessmate/internal/syncer"
	"github.com/accessmate/accessmate/internal/vault"
)

// Status is what the UI renders in its account panel.
type Status struct {
	LoggedIn       bool
	Username       string
	DeviceID       string
	Platform       device.Platform
	ActiveFeatures []string
	Sync           syncer.Status
}

// outboundProxy decouples store construction from engine construction: the
// stores are loaded first (the engine's interval comes from a setting).
// Until the engine exists, records go straight to the outbound journal, so
// mutations made while cloud sync is off still replicate once a later
// session starts the engine over the same journal.
type outboundProxy struct {
	journal *syncer.Journal

	mu     sync.Mutex
	engine *syncer.Engine
}

func (p *outboundProxy) get() *syncer.Engine {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.engine
}

func (p *outboundProxy) set(e *syncer.Engine) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.engine = e
}

func (p *outboundProxy) Enqueue(rec *syncer.ChangeRecord) error {
	if e := p.get(); e != nil {
		return e.Enqueue(rec)
	}
	return p.journal.Append(rec)
}

func (p *outboundProxy) Flush(ctx context.Context) error {
	if e := p.get(); e != nil {
		return e.Flush(ctx)
	}
	return common.ErrSyncDisabled
}

// Manager wires the whole client together. All methods are safe for
// concurrent use; the session-scoped fields are guarded by mu.
type Manager struct {
	cfg      *config.Config
	log      logging.Logger
	dataDir  string
	identity *device.Identity
	vault    *vault.Vault
	sessions *session.Manager
	login    *login.Service
	features *feature.Activator

	mu       sync.Mutex
	profiles *profile.Store
	settings *settings.Store
	engine   *syncer.Engine
	outbound *outboundProxy
}

// New resolves the data directory, loads the device identity, and builds
// the session-independent components. Cloud sync stays off until a login
// starts the engine.
func New(cfg *config.Config, biometrics login.BiometricVerifier, log logging.Logger) (*Manager, error) {
	dataDir, err := filex.DataDir(cfg.DataDir)
	if err != nil {
		return nil, fmt.Errorf("resolve data dir: %w", err)
	}

	identity, err := device.Load(dataDir)
	if err != nil {
		return nil, fmt.Errorf("load device identity: %w", err)
	}

	// Without an OS keychain the platform secret is device-bound.
	secret := []byte(identity.ID())
	v := vault.New(dataDir, secret)
	sm := session.NewManager(dataDir, identity.ID(), secret)

	svc := login.NewService(v, sm, biometrics, login.Config{
		DeviceID:          identity.ID(),
		Platform:          string(identity.Platform()),
		SessionTTL:        cfg.SessionTTL,
		DeviceTrust:       cfg.DeviceTrust,
		MaxFailedAttempts: cfg.MaxFailedAttempts,
		LockoutDuration:   cfg.LockoutDuration,
	}, log)

	features := feature.NewActivator(identity.Platform(), log)
	for _, d := range feature.Builtin() {
		if err := features.Register(d); err != nil {
			return nil, err
		}
	}

	return &Manager{
		cfg:      cfg,
		log:      log.With("component", "manager"),
		dataDir:  dataDir,
		identity: identity,
		vault:    v,
		sessions: sm,
		login:    svc,
		features: features,
	}, nil
}

// Login authenticates with a password and brings the session up: profile
// and settings stores, cloud sync when enabled, then feature activation.
func (m *Manager) Login(ctx context.Context, username, password string, autoSync bool) error {
	if _, err := m.login.PasswordLogin(ctx, username, password, false); err != nil {
		return err
	}
	return m.openSession(ctx, username, autoSync)
}

// AutoLogin brings the session up without a password, using a live session
// or the stored credential gated on device trust.
func (m *Manager) AutoLogin(ctx context.Context, autoSync bool) error {
	s, err := m.login.AutoLogin(ctx)
	if err != nil {
		return err
	}
	return m.openSession(ctx, s.Username, autoSync)
}

func (m *Manager) openSession(ctx context.Context, username string, autoSync bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.profiles != nil {
		return errors.New("manager: session already open")
	}

	journal, _, err := syncer.OpenJournal(m.journalPath())
	if err != nil {
		return err
	}
	out := &outboundProxy{journal: journal}

	profiles, err := profile.LoadOrCreate(m.dataDir, username, m.identity.ID(),
		string(m.identity.Platform()), out, m.log)
	if err != nil {
		return err
	}

	stngs, err := settings.Load(m.dataDir, m.identity.Platform(), m.identity.ID(), out, m.log)
	if err != nil {
		return err
	}

	m.profiles = profiles
	m.settings = stngs
	m.outbound = out

	// The log_level setting drives the handler level for the whole session,
	// both the persisted value and later changes.
	if ls, ok := m.log.(logging.LevelSetter); ok {
		if v, err := stngs.Get("log_level"); err == nil {
			if name, ok := v.(string); ok {
				ls.SetLevel(logging.ParseLevel(name))
			}
		}
		stngs.Subscribe(func(key string, _, newValue any) {
			if key != "log_level" {
				return
			}
			if name, ok := newValue.(string); ok {
				ls.SetLevel(logging.ParseLevel(name))
			}
		})
	}

	if autoSync && m.cfg.RelayAddr != "" && m.boolSetting("enable_cloud_sync") {
		if err := m.startSyncLocked(ctx); err != nil {
			return err
		}
	}

	prof, err := profiles.Profile()
	if err != nil {
		return err
	}
	m.features.ActivateAll(ctx, prof.AutoFeatures)

	m.log.Info(ctx, "session opened", "username", username, "auto_sync", autoSync)
	return nil
}

func (m *Manager) startSyncLocked(ctx context.Context) error {
	transport := syncer.NewRelayClient(http.DefaultClient, m.cfg.RelayAddr, m.cfg.RelayToken)

	freq := 5
	if v, err := m.settings.Get("sync_frequency"); err == nil {
		if n, ok := v.(int); ok {
			freq = n
		}
	}

	profiles := m.profiles
	engine, err := syncer.NewEngine(syncer.EngineConfig{
		DeviceID:     m.identity.ID(),
		UserID:       profiles.UserID(),
		Transport:    transport,
		JournalPath:  m.journalPath(),
		CursorPath:   filepath.Join(m.dataDir, "cursor"),
		Logger:       m.log,
		Interval:     time.Duration(freq) * time.Minute,
		DrainTimeout: m.cfg.DrainTimeout,
		OnSynced: func(ts time.Time) {
			if err := profiles.SetLastSync(ts); err != nil {
				m.log.Warn(context.Background(), "stamping last sync", "error", err)
			}
		},
	})
	if err != nil {
		return err
	}

	engine.RegisterApplier(syncer.ScopeSetting, m.settings)
	for _, scope := range profile.Scopes() {
		engine.RegisterApplier(scope, m.profiles)
	}

	if err := engine.Start(ctx); err != nil {
		return err
	}

	m.engine = engine
	m.outbound.set(engine)
	return nil
}

func (m *Manager) journalPath() string {
	return filepath.Join(m.dataDir, "outbound_journal")
}

func (m *Manager) boolSetting(key string) bool {
	v, err := m.settings.Get(key)
	if err != nil {
		return false
	}
	b, ok := v.(bool)
	return ok && b
}

// Logout deactivates features, stops the engine with a drain, and revokes
// the session. The stored credential is kept so auto-login still works.
func (m *Manager) Logout(ctx context.Context) error {
	m.mu.Lock()
	engine := m.engine
	m.engine = nil
	m.profiles = nil
	m.settings = nil
	m.outbound = nil
	m.mu.Unlock()

	m.features.DeactivateAll(ctx)
	if engine != nil {
		engine.Stop()
	}
	if err := m.login.Logout(); err != nil {
		return err
	}
	m.log.Info(ctx, "session closed")
	return nil
}

// CopyToDevice queues a one-shot payload addressed to a single peer. The
// receiver applies it under originalScope and acknowledges.
func (m *Manager) CopyToDevice(ctx context.Context, targetDevice string, originalScope syncer.Scope, key string, value any) error {
	m.mu.Lock()
	engine := m.engine
	m.mu.Unlock()
	if engine == nil {
		return common.ErrSyncDisabled
	}
	if targetDevice == m.identity.ID() {
		return fmt.Errorf("%w: target is this device", common.ErrValidation)
	}

	raw, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("marshal copy value: %w", err)
	}
	rec, err := syncer.NewCopyRecord(targetDevice, syncer.CopyPayload{
		OriginalScope: originalScope,
		Key:           key,
		Value:         raw,
	}, m.identity.ID())
	if err != nil {
		return err
	}
	return engine.Enqueue(rec)
}

// SyncNow runs one immediate sync cycle.
func (m *Manager) SyncNow(ctx context.Context) error {
	m.mu.Lock()
	engine := m.engine
	m.mu.Unlock()
	if engine == nil {
		return common.ErrSyncDisabled
	}
	return engine.SyncOnce(ctx)
}

// Status reports the current account and sync state.
func (m *Manager) Status() Status {
	m.mu.Lock()
	profiles := m.profiles
	engine := m.engine
	m.mu.Unlock()

	st := Status{
		DeviceID:       m.identity.ID(),
		Platform:       m.identity.Platform(),
		ActiveFeatures: m.features.Active(),
	}
	if profiles != nil {
		st.LoggedIn = true
		st.Username = profiles.Username()
	}
	if engine != nil {
		st.Sync = engine.Status()
	}
	return st
}

// Settings exposes the live settings store; nil when logged out.
func (m *Manager) Settings() *settings.Store {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.settings
}

// Profile exposes the live profile store; nil when logged out.
func (m *Manager) Profile() *profile.Store {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.profiles
}

// DisableAutoLogin forgets the stored credential and revokes the session.
func (m *Manager) DisableAutoLogin() error {
	return m.login.DisableAutoLogin()
}

// TrustedDevices lists device ids allowed to reuse the stored credential.
func (m *Manager) TrustedDevices() ([]string, error) {
	return m.vault.TrustedDevices()
}

// TrustDevice adds a device id to the trusted list.
func (m *Manager) TrustDevice(deviceID string) error {
	return m.vault.AddTrusted(deviceID)
}

// RevokeDevice removes a device id from the trusted list.
func (m *Manager) RevokeDevice(deviceID string) error {
	return m.vault.RemoveTrusted(deviceID)
}

// DeviceID returns this installation's stable device id.
func (m *Manager) DeviceID() string { return m.identity.ID() }
