package queue

import (
	"errors"
	"fmt"
)

// ErrCorruptCheckpoint is returned when a checkpoint file is opened
// with its marker left at INCOMPLETE. The operator must delete the
// file; replay will rebuild it from the logs alone.
var ErrCorruptCheckpoint = errors.New("queue: checkpoint marker left incomplete, delete the checkpoint file and replay")

// ErrCapacityMismatch is returned when an existing checkpoint file's
// size disagrees with the configured capacity.
var ErrCapacityMismatch = errors.New("queue: capacity cannot be changed once the checkpoint file is initialized")

// ErrInvalidVersion is returned when a checkpoint file's VERSION slot
// does not match the version this build understands.
var ErrInvalidVersion = errors.New("queue: unsupported checkpoint file version")

// ErrTooManyActiveLogs is returned by ActiveFileTable.Increment when
// adding a new fileID would exceed MaxActiveLogs.
var ErrTooManyActiveLogs = errors.New("queue: too many active logs")

// InvariantError marks a programming bug: an addressing violation or
// an internal bookkeeping inconsistency. These are never expected in
// correct operation and are not meant to be recovered from.
type InvariantError struct {
	Msg string
}

func (e *InvariantError) Error() string { return "queue: invariant violation: " + e.Msg }

func invariantf(format string, args ...any) *InvariantError {
	return &InvariantError{Msg: fmt.Sprintf(format, args...)}
}
