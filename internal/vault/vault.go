// Package vault stores the remembered-user credential encrypted at rest,
// together with the list of devices trusted for silent login.
//
// The vault key is derived with argon2id from a platform secret. Without an
// OS keychain the secret is device-bound: the installation's device id. The
// cipher is AES-256-GCM, so any tampering with the credential file surfaces
// as a decryption failure, which is reported as a missing credential.
package vault

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/accessmate/accessmate/internal/common"
	"github.com/accessmate/accessmate/internal/cryptox"
	"github.com/accessmate/accessmate/internal/filex"
)

const (
	credentialFile = "credentials"
	trustedFile    = "trusted_devices"
)

// kdfSalt is fixed per application; uniqueness of the derived key comes from
// the per-installation secret.
var kdfSalt = []byte("accessmate.vault.v1")

// Credential is the single remembered-user record of an installation.
// Absence means no auto-login is available.
type Credential struct {
	Username      string    `json:"username"`
	PasswordHash  []byte    `json:"password_hash,omitempty"`
	Salt          []byte    `json:"salt,omitempty"`
	UsesBiometric bool      `json:"uses_biometric"`
	DeviceID      string    `json:"device_id"`
	Platform      string    `json:"platform"`
	CreatedAt     time.Time `json:"created_at"`
}

// sealedBlob is the on-disk envelope of the encrypted credential.
type sealedBlob struct {
	Nonce      []byte `json:"nonce"`
	Ciphertext []byte `json:"ciphertext"`
}

type Vault struct {
	dir string
	key []byte
}

// New opens a vault rooted at dataDir, deriving the encryption key from the
// platform secret.
func New(dataDir string, secret []byte) *Vault {
	return &Vault{dir: dataDir, key: cryptox.DeriveKey(secret, kdfSalt)}
}

// Store serializes, encrypts, and atomically writes the credential with
// owner-only permissions.
func (v *Vault) Store(c *Credential) error {
	ciphertext, nonce, err := cryptox.Seal(c, v.key)
	if err != nil {
		return fmt.Errorf("seal credential: %w", err)
	}

	data, err := json.Marshal(sealedBlob{Nonce: nonce, Ciphertext: ciphertext})
	if err != nil {
		return fmt.Errorf("marshal credential blob: %w", err)
	}

	if err := filex.WriteFileAtomic(v.credentialPath(), data, 0o600); err != nil {
		return fmt.Errorf("write credential: %w", err)
	}
	return nil
}

// Load reads and decrypts the stored credential. A missing file, an
// unreadable envelope, and a failed decryption all report ErrNoCredential;
// callers cannot distinguish tampering from absence.
func (v *Vault) Load() (*Credential, error) {
	data, err := os.ReadFile(v.credentialPath())
	if err != nil {
		if os.IsNotExist(err) {
			return nil, common.ErrNoCredential
		}
		return nil, fmt.Errorf("read credential: %w", err)
	}

	var blob sealedBlob
	if err := json.Unmarshal(data, &blob); err != nil {
		return nil, common.ErrNoCredential
	}

	var c Credential
	if err := cryptox.Open(blob.Ciphertext, blob.Nonce, v.key, &c); err != nil {
		return nil, common.ErrNoCredential
	}
	return &c, nil
}

// Clear deletes the credential file if present.
func (v *Vault) Clear() error {
	if err := os.Remove(v.credentialPath()); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove credential: %w", err)
	}
	return nil
}

// IsTrusted reports whether the given device has completed a full login on
// this installation.
func (v *Vault) IsTrusted(deviceID string) bool {
	list, err := v.loadTrusted()
	if err != nil {
		return false
	}
	for _, id := range list {
		if id == deviceID {
			return true
		}
	}
	return false
}

// AddTrusted records the device in the trusted list. Adding an already
// trusted device is a no-op.
func (v *Vault) AddTrusted(deviceID string) error {
	list, err := v.loadTrusted()
	if err != nil {
		return err
	}
	for _, id := range list {
		if id == deviceID {
			return nil
		}
	}
	return v.saveTrusted(append(list, deviceID))
}

// RemoveTrusted drops the device from the trusted list if present.
func (v *Vault) RemoveTrusted(deviceID string) error {
	list, err := v.loadTrusted()
	if err != nil {
		return err
	}
	out := list[:0]
	for _, id := range list {
		if id != deviceID {
			out = append(out, id)
		}
	}
	return v.saveTrusted(out)
}

// TrustedDevices returns the current trusted-device list.
func (v *Vault) TrustedDevices() ([]string, error) {
	return v.loadTrusted()
}

func (v *Vault) loadTrusted() ([]string, error) {
	data, err := os.ReadFile(v.trustedPath())
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read trusted devices: %w", err)
	}

	var list []string
	if err := json.Unmarshal(data, &list); err != nil {
		return nil, fmt.Errorf("parse trusted devices: %w", err)
	}
	return list, nil
}

func (v *Vault) saveTrusted(list []string) error {
	if list == nil {
		list = []string{}
	}
	data, err := json.Marshal(list)
	if err != nil {
		return err
	}
	if err := filex.WriteFileAtomic(v.trustedPath(), data, 0o600); err != nil {
		return fmt.Errorf("write trusted devices: %w", err)
	}
	return nil
}

func (v *Vault) credentialPath() string { return filepath.Join(v.dir, credentialFile) }
func (v *Vault) trustedPath() string    { return filepath.Join(v.dir, trustedFile) }

// HasCredential reports whether a decryptable credential exists.
func (v *Vault) HasCredential() bool {
	_, err := v.Load()
	return err == nil
}
