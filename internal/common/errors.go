// Package common defines shared constants and sentinel errors used across
// the AccessMate core. Callers should use errors.Is to match these values.
package common

import "errors"

var (
	// Store-level errors.
	ErrNotFound   = errors.New("not found")
	ErrUnknownKey = errors.New("unknown setting key")
	ErrValidation = errors.New("validation error")

	// Login errors. The UI chooses the prompt; the core only classifies.
	ErrBadCredentials  = errors.New("bad credentials")
	ErrLockedOut       = errors.New("locked out")
	ErrNoCredential    = errors.New("no stored credential")
	ErrUntrustedDevice = errors.New("untrusted device")
	ErrBiometricDenied = errors.New("biometric verification denied")
	ErrExpiredSession  = errors.New("session expired")

	// Sync errors. Transient failures are retried with backoff; a permanent
	// failure disables cloud sync for the rest of the session.
	ErrSyncTransient = errors.New("transient sync error")
	ErrSyncPermanent = errors.New("permanent sync error")
	ErrSyncDisabled  = errors.New("cloud sync disabled")
)
