package pyharbor

import "errors"

// Sentinel errors for the failure taxonomy. Callers classify failures with
// errors.Is; every returned error wraps one of these together with a
// human-readable reason string.
var (
	// ErrInvalidInstallation indicates the interpreter binary backing an
	// installation is missing or not executable.
	ErrInvalidInstallation = errors.New("invalid interpreter installation")

	// ErrProvisioningFailed indicates the environment-creation tool exited
	// non-zero. The wrapped message carries the captured diagnostic text.
	ErrProvisioningFailed = errors.New("environment provisioning failed")

	// ErrSessionNotFound indicates a lookup by session id found nothing.
	ErrSessionNotFound = errors.New("session not found")

	// ErrEnvironmentNotFound indicates a lookup by environment id found
	// nothing.
	ErrEnvironmentNotFound = errors.New("environment not found")

	// ErrScopeUnavailable indicates a session's interpreter namespace could
	// not be created or has been destroyed.
	ErrScopeUnavailable = errors.New("scope unavailable")

	// ErrOperationTimedOut indicates a package operation exceeded its
	// wall-clock timeout and the child process was killed. Retryable.
	ErrOperationTimedOut = errors.New("package operation timed out")

	// ErrOperationCancelled indicates the caller cancelled a package
	// operation mid-stream. Distinct from a timeout; not retryable.
	ErrOperationCancelled = errors.New("package operation cancelled")

	// ErrOperationFailed indicates the package manager exited non-zero.
	ErrOperationFailed = errors.New("package operation failed")

	// ErrPersistenceCorrupt indicates the on-disk catalogue could not be
	// decoded. Recoverable: the store continues with an empty catalogue.
	ErrPersistenceCorrupt = errors.New("environment catalogue corrupt")

	// ErrEnvironmentGuarded indicates a deletion attempt against the admin
	// environment or the current single-user environment.
	ErrEnvironmentGuarded = errors.New("environment is guarded against deletion")

	// ErrNotReady indicates the manager is not in the Ready state.
	ErrNotReady = errors.New("manager is not ready")
)
