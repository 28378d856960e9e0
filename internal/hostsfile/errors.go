package hostsfile

import (
	"errors"
	"fmt"
)

var (
	// ErrPermissionDenied means escalation was refused by the OS.
	ErrPermissionDenied = errors.New("permission denied")
	// ErrUserCancelled means the user dismissed the elevation prompt.
	ErrUserCancelled = errors.New("elevation cancelled by user")
	// ErrIOFailure matches every *IOError.
	ErrIOFailure = errors.New("hosts file i/o failure")
	// ErrClosed is returned by Commit after Stop.
	ErrClosed = errors.New("write coordinator stopped")
)

// IOError describes a failed step of a physical write or read.
type IOError struct {
	Op   string
	Path string
	Err  error
}

func (e *IOError) Error() string {
	return fmt.Sprintf("hosts %s %s: %v", e.Op, e.Path, e.Err)
}

func (e *IOError) Unwrap() error { return e.Err }

func (e *IOError) Is(target error) bool { return target == ErrIOFailure }
