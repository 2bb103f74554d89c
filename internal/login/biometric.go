package login

import "context"

// BiometricVerifier abstracts the platform biometric prompt. Implementations
// wrap Windows Hello, Touch ID, or the mobile equivalents.
type BiometricVerifier interface {
	// Verify prompts the user and reports whether the check succeeded.
	Verify(ctx context.Context, username string) (bool, error)
}

// VerifierFunc adapts a function to the BiometricVerifier interface.
type VerifierFunc func(ctx context.Context, username string) (bool, error)

func (f VerifierFunc) Verify(ctx context.Context, username string) (bool, error) {
	return f(ctx, username)
}
