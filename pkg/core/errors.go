package core

import (
	"context"
	"errors"
	"net"
	"syscall"
)

// ErrNotFound reports that a requested artifact is not stored in the
// workload. Absence is an expected condition for most callers, never a
// reconciliation failure on its own.
var ErrNotFound = errors.New("not found")

// IsNotFound reports whether err (or anything it wraps) is ErrNotFound.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// IsUnreachable reports whether err indicates that the workload container
// cannot be reached at all, as opposed to a request that reached it and
// failed. Unreachable errors defer the pass instead of failing it.
func IsUnreachable(err error) bool {
	if err == nil {
		return false
	}
	// Walk the error chain to find a concrete classification.
	for current := err; current != nil; current = errors.Unwrap(current) {
		if errors.Is(current, syscall.ECONNREFUSED) || errors.Is(current, syscall.ENOENT) {
			return true
		}
		if errors.Is(current, context.DeadlineExceeded) {
			return true
		}
		if netErr, ok := current.(net.Error); ok && netErr.Timeout() {
			return true
		}
		if opErr, ok := current.(*net.OpError); ok && opErr.Op == "dial" {
			return true
		}
	}
	return false
}
