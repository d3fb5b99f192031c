package docker

import (
	"errors"
	"fmt"

	"github.com/containerd/errdefs"
)

// Kind is the machine-readable error taxonomy of spec §7 for the
// Container Driver (C6) and its callers.
type Kind string

const (
	KindImagePullFailed  Kind = "ImagePullFailed"
	KindContainerNotFound Kind = "ContainerNotFound"
	KindConflictName     Kind = "ConflictName"
	KindDaemonUnavailable Kind = "DaemonUnavailable"
	KindStartFailed      Kind = "StartFailed"
)

// DriverError is a typed error carrying a Kind alongside the wrapped cause.
type DriverError struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *DriverError) Error() string {
	return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Err)
}

func (e *DriverError) Unwrap() error { return e.Err }

// classify converts a raw Docker SDK/daemon error into a typed DriverError,
// using containerd/errdefs's error classification instead of string
// matching on the daemon's message text.
func classify(op string, err error) error {
	if err == nil {
		return nil
	}
	switch {
	case errdefs.IsNotFound(err):
		return &DriverError{Kind: KindContainerNotFound, Op: op, Err: err}
	case errdefs.IsConflict(err) || errdefs.IsAlreadyExists(err):
		return &DriverError{Kind: KindConflictName, Op: op, Err: err}
	case errdefs.IsUnavailable(err) || errdefs.IsCanceled(err) || errdefs.IsDeadlineExceeded(err):
		return &DriverError{Kind: KindDaemonUnavailable, Op: op, Err: err}
	default:
		return &DriverError{Kind: KindDaemonUnavailable, Op: op, Err: err}
	}
}

// IsKind reports whether err (or something it wraps) carries the given Kind.
func IsKind(err error, kind Kind) bool {
	var de *DriverError
	if errors.As(err, &de) {
		return de.Kind == kind
	}
	return false
}
