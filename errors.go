package tiercache

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrUnavailable is matched by every error Resolve returns: no fresh
	// value, no stale value, and the fallback produced nothing.
	ErrUnavailable = errors.New("tiercache: unavailable")

	// ErrOffline is the Result.Cause when the online probe reported offline.
	ErrOffline = errors.New("tiercache: offline")

	// ErrNoFallback is recorded when Resolve was given no fallback.
	ErrNoFallback = errors.New("tiercache: no fallback")

	// ErrNoRemote is recorded when Resolve was given no remote.
	ErrNoRemote = errors.New("tiercache: no remote")
)

// RemoteError wraps a failed remote fetch. The resolver recovers from it
// locally; it surfaces as Result.Cause or inside an UnavailableError.
type RemoteError struct {
	Key string
	Err error
}

func (e *RemoteError) Error() string {
	return fmt.Sprintf("tiercache: remote fetch %q: %v", e.Key, e.Err)
}

func (e *RemoteError) Unwrap() error { return e.Err }

// StoreError wraps a durable-tier failure.
type StoreError struct {
	Op  string
	Key string
	Err error
}

func (e *StoreError) Error() string {
	if e.Key == "" {
		return fmt.Sprintf("tiercache: store %s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("tiercache: store %s %q: %v", e.Op, e.Key, e.Err)
}

func (e *StoreError) Unwrap() error { return e.Err }

// UnavailableError reports why Resolve produced nothing. Remote is nil when
// the remote was not attempted (offline).
type UnavailableError struct {
	Key      string
	Remote   error
	Fallback error
}

func (e *UnavailableError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "tiercache: %q unavailable", e.Key)
	if e.Remote != nil {
		fmt.Fprintf(&b, ": remote=%v", e.Remote)
	}
	if e.Fallback != nil {
		fmt.Fprintf(&b, "; fallback=%v", e.Fallback)
	}
	return b.String()
}

func (e *UnavailableError) Is(target error) bool { return target == ErrUnavailable }

func (e *UnavailableError) Unwrap() []error {
	errs := make([]error, 0, 2)
	if e.Remote != nil {
		errs = append(errs, e.Remote)
	}
	if e.Fallback != nil {
		errs = append(errs, e.Fallback)
	}
	return errs
}

type InvalidateError struct {
	Key     string
	BumpErr error
	DelErr  error
}

func (e *InvalidateError) Error() string {
	switch {
	case e.BumpErr != nil && e.DelErr != nil:
		return fmt.Sprintf("invalidate %q failed: gen bump and delete failed: bump=%v; delete=%v",
			e.Key, e.BumpErr, e.DelErr)
	case e.BumpErr != nil:
		return fmt.Sprintf("invalidate %q: gen bump failed: %v", e.Key, e.BumpErr)
	case e.DelErr != nil:
		return fmt.Sprintf("invalidate %q: delete failed: %v", e.Key, e.DelErr)
	default:
		return fmt.Sprintf("invalidate %q: unknown error", e.Key)
	}
}

func (e *InvalidateError) Unwrap() []error {
	errs := make([]error, 0, 2)
	if e.BumpErr != nil {
		errs = append(errs, e.BumpErr)
	}
	if e.DelErr != nil {
		errs = append(errs, e.DelErr)
	}
	return errs
}
