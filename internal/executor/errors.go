package executor

import (
	"errors"
	"fmt"
)

// Sentinel errors for the Tool Executor's error kinds. Callers use
// errors.Is/errors.As; CredentialResolutionFailed has no sentinel and is
// carried by the CredentialResolutionError wrapper type below.
var (
	ErrNotAllowedByPolicy = errors.New("executor: tool not allowed by policy")
	ErrToolNotFound       = errors.New("executor: tool not found")
	ErrBadInput           = errors.New("executor: bad input")
	ErrTimeout            = errors.New("executor: timeout")
	ErrFuelExhausted      = errors.New("executor: fuel exhausted")
	ErrMemoryExceeded     = errors.New("executor: memory ceiling exceeded")
	ErrRuntimeFailure     = errors.New("executor: runtime failure")
	ErrBadOutput          = errors.New("executor: bad output")
)

// CredentialResolutionError wraps the provider's error with the name of the
// credential that could not be resolved.
type CredentialResolutionError struct {
	Name string
	Err  error
}

func (e *CredentialResolutionError) Error() string {
	return fmt.Sprintf("executor: resolving credential %q: %v", e.Name, e.Err)
}

func (e *CredentialResolutionError) Unwrap() error {
	return e.Err
}

// IsCredentialResolutionFailed reports whether err is a
// *CredentialResolutionError, mirroring spec's CredentialResolutionFailed(name)
// error kind.
func IsCredentialResolutionFailed(err error) (*CredentialResolutionError, bool) {
	var cre *CredentialResolutionError
	ok := errors.As(err, &cre)
	return cre, ok
}
