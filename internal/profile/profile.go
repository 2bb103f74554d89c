// Package profile maintains the per-user profile document: enabled features,
// feature settings, user data buckets, preferences, and custom content.
// Mutations replicate at bucket granularity with last-writer-wins semantics.
package profile

import (
	"crypto/sha256"
	"encoding/hex"
	"time"
)

// UserData groups the replicated content buckets.
type UserData struct {
	Documents []any `json:"documents"`
	Notes     []any `json:"notes"`
	Reminders []any `json:"reminders"`
	Bookmarks []any `json:"bookmarks"`
	History   []any `json:"history"`
}

// CustomContent holds cross-device conveniences outside the main buckets.
type CustomContent struct {
	ClipboardHistory []any `json:"clipboard_history"`
	SyncedFiles      []any `json:"synced_files"`
	SyncQueue        []any `json:"sync_queue"`
}

// Profile is the user profile document, persisted after every mutation.
type Profile struct {
	UserID          string          `json:"user_id"`
	Username        string          `json:"username"`
	DeviceID        string          `json:"device_id"`
	Platform        string          `json:"platform"`
	CreatedAt       time.Time       `json:"created_at"`
	LastSync        time.Time       `json:"last_sync"`
	AutoFeatures    map[string]bool `json:"auto_features"`
	FeatureSettings map[string]any  `json:"feature_settings"`
	UserData        UserData        `json:"user_data"`
	Preferences     map[string]any  `json:"preferences"`
	CustomContent   CustomContent   `json:"custom_content"`
}

// UserIDFor derives the stable user id from a username.
func UserIDFor(username string) string {
	sum := sha256.Sum256([]byte(username))
	return hex.EncodeToString(sum[:])
}

func newProfile(username, deviceID, platform string) *Profile {
	return &Profile{
		UserID:          UserIDFor(username),
		Username:        username,
		DeviceID:        deviceID,
		Platform:        platform,
		CreatedAt:       time.Now().UTC(),
		AutoFeatures:    map[string]bool{},
		FeatureSettings: map[string]any{},
		Preferences:     map[string]any{},
	}
}
