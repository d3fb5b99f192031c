// Package core holds the cross-component error taxonomy (spec §7) shared
// by every layer of the update pipeline.
package core

import (
	"errors"
	"fmt"
)

// ErrorKind is the machine-readable error classification every component
// boundary returns.
type ErrorKind string

const (
	// Input/Config — surfaced immediately, run aborted.
	KindConfigInvalid      ErrorKind = "ConfigInvalid"
	KindRuleInvalid        ErrorKind = "RuleInvalid"
	KindCredentialsInvalid ErrorKind = "CredentialsInvalid"

	// Environment — run aborted.
	KindDaemonUnavailable ErrorKind = "DaemonUnavailable"
	KindLockHeld          ErrorKind = "LockHeld"
	KindHostAccessDenied  ErrorKind = "HostAccessDenied"

	// Registry — per-image scope, does not abort the run.
	KindRegistryUnreachable ErrorKind = "RegistryUnreachable"
	KindAuthFailed          ErrorKind = "AuthFailed"
	KindRateLimited         ErrorKind = "RateLimited"
	KindTagListEmpty        ErrorKind = "TagListEmpty"
	KindProtocolError       ErrorKind = "ProtocolError"

	// Planning — benign per-container skip.
	KindTagNotParseable ErrorKind = "TagNotParseable"
	KindNoCandidates    ErrorKind = "NoCandidates"
	KindRuleForbidsAll  ErrorKind = "RuleForbidsAll"
	KindImageTooYoung   ErrorKind = "ImageTooYoung"

	// Execution — triggers rollback per §4.10 unless policy says otherwise.
	KindImagePullFailed  ErrorKind = "ImagePullFailed"
	KindStartFailed      ErrorKind = "StartFailed"
	KindDidNotStabilize  ErrorKind = "DidNotStabilize"
	KindHookFailedPre    ErrorKind = "HookFailed(pre)"
	KindHookFailedPost   ErrorKind = "HookFailed(post)"

	// Rollback — terminal for that container.
	KindRollbackFailed ErrorKind = "RollbackFailed"
)

// Error is the common typed-error shape returned at every component
// boundary: a machine-readable Kind plus a human message, matching spec §7
// "each carries a machine-readable kind and a human message."
type Error struct {
	Kind    ErrorKind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// New builds a core.Error.
func New(kind ErrorKind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Wrap builds a core.Error around an underlying cause.
func Wrap(kind ErrorKind, message string, err error) *Error {
	return &Error{Kind: kind, Message: message, Err: err}
}

// KindOf extracts the ErrorKind from err if it (or something it wraps) is
// a *Error, otherwise reports false.
func KindOf(err error) (ErrorKind, bool) {
	var ce *Error
	if errors.As(err, &ce) {
		return ce.Kind, true
	}
	return "", false
}
