// Package kerrors defines the sentinel errors that cross the kernel/driver
// boundary, and the wrapping convention used to carry context about them.
package kerrors

import "github.com/pkg/errors"

// Sentinel errors. Drivers and core code wrap these with errors.Wrap to add
// context; errors.Cause (or errors.Is) recovers the sentinel.
var (
	// ErrNoSys is returned by a driver operation left unset at registration.
	ErrNoSys = errors.New("function not implemented")
	// ErrNotFound covers missing mounts, fds, and filesystem types.
	ErrNotFound = errors.New("no such entry")
	// ErrExists is returned when an operation would collide with an existing entry.
	ErrExists = errors.New("entry already exists")
	// ErrBadFD is returned when an fd does not resolve to a live handle.
	ErrBadFD = errors.New("bad file descriptor")
	// ErrTableFull is returned when a fixed-capacity table has no free slot.
	ErrTableFull = errors.New("table is full")
)

// Wrap attaches a message to a sentinel error, preserving it for errors.Cause.
func Wrap(err error, message string) error {
	if err == nil {
		return nil
	}
	return errors.Wrap(err, message)
}

// Is reports whether err (or any error it wraps) is the given sentinel.
func Is(err, sentinel error) bool {
	return errors.Cause(err) == sentinel || errors.Is(err, sentinel)
}
