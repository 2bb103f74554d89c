// Package device provides the stable per-installation identity: a 16-hex-char
// device id persisted in the data directory and the platform tag derived at
// startup.
package device

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"runtime"

	"github.com/accessmate/accessmate/internal/common"
)

const idFileName = "device_id"

// Platform tags a device with its operating system family.
type Platform string

const (
	PlatformWindows Platform = "windows"
	PlatformMacOS   Platform = "macos"
	PlatformLinux   Platform = "linux"
	PlatformAndroid Platform = "android"
	PlatformIOS     Platform = "ios"
	PlatformOther   Platform = "other"
)

var idPattern = regexp.MustCompile(`^[0-9a-f]{16}$`)

// Identity is the stable identity of this installation. The id is used only
// as a conflict tiebreak and as a peer address within a user scope, never as
// a primary key.
type Identity struct {
	id       string
	platform Platform
}

// Load reads the device id from <dataDir>/device_id, generating and
// persisting a fresh random one if the file is missing or malformed.
// A filesystem error is fatal for sync; callers must not proceed without an
// identity.
func Load(dataDir string) (*Identity, error) {
	path := filepath.Join(dataDir, idFileName)

	data, err := os.ReadFile(path)
	if err == nil && idPattern.Match(data) {
		return &Identity{id: string(data), platform: CurrentPlatform()}, nil
	}
	if err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("read device id: %w", err)
	}

	id, err := common.MakeRandHexString(8)
	if err != nil {
		return nil, fmt.Errorf("generate device id: %w", err)
	}
	if err := os.WriteFile(path, []byte(id), 0o600); err != nil {
		return nil, fmt.Errorf("write device id: %w", err)
	}

	return &Identity{id: id, platform: CurrentPlatform()}, nil
}

// ID returns the 16-hex-char device identifier.
func (i *Identity) ID() string { return i.id }

// Platform returns the platform tag of this installation.
func (i *Identity) Platform() Platform { return i.platform }

// CurrentPlatform derives the platform tag from the running OS.
func CurrentPlatform() Platform {
	switch runtime.GOOS {
	case "windows":
		return PlatformWindows
	case "darwin":
		return PlatformMacOS
	case "linux":
		return PlatformLinux
	case "android":
		return PlatformAndroid
	case "ios":
		return PlatformIOS
	default:
		return PlatformOther
	}
}
