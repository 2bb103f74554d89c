package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/accessmate/accessmate/internal/common"
	"github.com/accessmate/accessmate/internal/profile"
	"github.com/accessmate/accessmate/internal/settings"
	"github.com/accessmate/accessmate/internal/syncer"
)

var errNotLoggedIn = errors.New("not logged in")

func (a *App) requireLogin() error {
	if !a.isLoggedIn() {
		fmt.Fprintln(a.out, "Please login first")
		return errNotLoggedIn
	}
	return nil
}

func (a *App) report(err error) error {
	if err != nil {
		fmt.Fprintf(a.out, "Error: %v\n", err)
	}
	return err
}

func (a *App) Login(ctx context.Context) error {
	username, err := GetSimpleText(a.reader, "Username", a.out)
	if err != nil {
		return a.report(err)
	}
	pw, err := GetPassword(a.out)
	if err != nil {
		return a.report(err)
	}
	defer common.WipeByteArray(pw)

	if err := a.manager.Login(ctx, username, string(pw), true); err != nil {
		return a.report(err)
	}
	fmt.Fprintf(a.out, "Logged in as %s\n", username)
	return nil
}

func (a *App) AutoLogin(ctx context.Context) error {
	if err := a.manager.AutoLogin(ctx, true); err != nil {
		return a.report(err)
	}
	fmt.Fprintf(a.out, "Logged in as %s\n", a.manager.Status().Username)
	return nil
}

func (a *App) Logout(ctx context.Context) error {
	if err := a.requireLogin(); err != nil {
		return err
	}
	if err := a.manager.Logout(ctx); err != nil {
		return a.report(err)
	}
	fmt.Fprintln(a.out, "Logged out")
	return nil
}

// Forget disables auto-login on top of logging out.
func (a *App) Forget(ctx context.Context) error {
	if a.isLoggedIn() {
		if err := a.manager.Logout(ctx); err != nil {
			return a.report(err)
		}
	}
	if err := a.manager.DisableAutoLogin(); err != nil {
		return a.report(err)
	}
	fmt.Fprintln(a.out, "Stored credential removed")
	return nil
}

func (a *App) Get(ctx context.Context, key string) error {
	if err := a.requireLogin(); err != nil {
		return err
	}
	v, err := a.manager.Settings().Get(key)
	if err != nil {
		return a.report(err)
	}
	data, err := json.Marshal(v)
	if err != nil {
		return a.report(err)
	}
	fmt.Fprintf(a.out, "%s = %s\n", key, data)
	return nil
}

// Set parses the value as JSON when possible, so booleans and numbers keep
// their type; anything else is taken as a plain string.
func (a *App) Set(ctx context.Context, key string, value []string) error {
	if err := a.requireLogin(); err != nil {
		return err
	}
	raw := strings.Join(value, " ")
	var v any
	if err := json.Unmarshal([]byte(raw), &v); err != nil {
		v = raw
	}
	if err := a.manager.Settings().Set(ctx, key, v, false); err != nil {
		return a.report(err)
	}
	if a.manager.Settings().RequiresRestart(key) {
		fmt.Fprintln(a.out, "Saved; takes effect after restart")
	} else {
		fmt.Fprintln(a.out, "Saved")
	}
	return nil
}

func (a *App) Reset(ctx context.Context, key string) error {
	if err := a.requireLogin(); err != nil {
		return err
	}
	if err := a.manager.Settings().Reset(ctx, key); err != nil {
		return a.report(err)
	}
	fmt.Fprintln(a.out, "Reset to default")
	return nil
}

func (a *App) Keys(ctx context.Context) error {
	if err := a.requireLogin(); err != nil {
		return err
	}
	for _, key := range settings.Keys() {
		fmt.Fprintln(a.out, key)
	}
	return nil
}

func (a *App) Notes(ctx context.Context) error {
	if err := a.requireLogin(); err != nil {
		return err
	}
	prof, err := a.manager.Profile().Profile()
	if err != nil {
		return a.report(err)
	}
	if len(prof.UserData.Notes) == 0 {
		fmt.Fprintln(a.out, "No notes")
		return nil
	}
	for i, note := range prof.UserData.Notes {
		fmt.Fprintf(a.out, "%d: %v\n", i, note)
	}
	return nil
}

func (a *App) AddNote(ctx context.Context) error {
	if err := a.requireLogin(); err != nil {
		return err
	}
	text, err := GetMultiline(a.reader, "Note text", a.out)
	if err != nil {
		return a.report(err)
	}
	if text == "" {
		fmt.Fprintln(a.out, "Empty note, nothing saved")
		return nil
	}
	if err := a.manager.Profile().Append(ctx, profile.BucketNotes, text); err != nil {
		return a.report(err)
	}
	fmt.Fprintln(a.out, "Note saved")
	return nil
}

// Copy sends a piece of text to one specific device's clipboard.
func (a *App) Copy(ctx context.Context) error {
	if err := a.requireLogin(); err != nil {
		return err
	}
	target, err := GetSimpleText(a.reader, "Target device id", a.out)
	if err != nil {
		return a.report(err)
	}
	text, err := GetSimpleText(a.reader, "Text to send", a.out)
	if err != nil {
		return a.report(err)
	}
	err = a.manager.CopyToDevice(ctx, target, syncer.ScopeClipboard,
		string(profile.BucketClipboard), text)
	if err != nil {
		return a.report(err)
	}
	fmt.Fprintln(a.out, "Queued for delivery")
	return nil
}

func (a *App) Devices(ctx context.Context) error {
	fmt.Fprintf(a.out, "This device: %s\n", a.manager.DeviceID())
	devices, err := a.manager.TrustedDevices()
	if err != nil {
		return a.report(err)
	}
	for _, id := range devices {
		fmt.Fprintf(a.out, "Trusted: %s\n", id)
	}
	return nil
}

func (a *App) Trust(ctx context.Context, deviceID string) error {
	if err := a.manager.TrustDevice(deviceID); err != nil {
		return a.report(err)
	}
	fmt.Fprintln(a.out, "Device trusted")
	return nil
}

func (a *App) Revoke(ctx context.Context, deviceID string) error {
	if err := a.manager.RevokeDevice(deviceID); err != nil {
		return a.report(err)
	}
	fmt.Fprintln(a.out, "Device trust revoked")
	return nil
}

func (a *App) Sync(ctx context.Context) error {
	if err := a.requireLogin(); err != nil {
		return err
	}
	if err := a.manager.SyncNow(ctx); err != nil {
		return a.report(err)
	}
	fmt.Fprintln(a.out, "Sync complete")
	return nil
}

func (a *App) Status(ctx context.Context) error {
	st := a.manager.Status()
	if st.LoggedIn {
		fmt.Fprintf(a.out, "User: %s\n", st.Username)
	} else {
		fmt.Fprintln(a.out, "User: (signed out)")
	}
	fmt.Fprintf(a.out, "Device: %s (%s)\n", st.DeviceID, st.Platform)
	if len(st.ActiveFeatures) > 0 {
		fmt.Fprintf(a.out, "Features: %s\n", strings.Join(st.ActiveFeatures, ", "))
	}
	switch {
	case st.Sync.Disabled:
		fmt.Fprintf(a.out, "Sync: disabled (%s)\n", st.Sync.LastErr)
	case st.Sync.Running:
		fmt.Fprintf(a.out, "Sync: running, %d pending", st.Sync.Pending)
		if !st.Sync.LastSync.IsZero() {
			fmt.Fprintf(a.out, ", last %s", st.Sync.LastSync.Format("15:04:05"))
		}
		fmt.Fprintln(a.out)
	default:
		fmt.Fprintln(a.out, "Sync: off")
	}
	return nil
}
