package replay

import "errors"

// ErrUnknownRecordType is fatal: it means data on disk is
// incompatible with this version of the format.
var ErrUnknownRecordType = errors.New("replay: unknown record type")

// ErrTruncatedRecord signals that a reader hit a partial or corrupt
// trailing record. It is non-fatal: a crash during write can leave a
// partially written trailing record, so the ReplayEngine treats it
// exactly like an ordinary EOF for that reader and continues with the
// others.
var ErrTruncatedRecord = errors.New("replay: truncated trailing record")

// InvariantError marks an internal invariant violation surfaced during
// replay (for example, processCommit's add-then-remove assertion).
// These indicate corrupted internal state, not recoverable input
// problems.
type InvariantError struct {
	Msg string
}

func (e *InvariantError) Error() string { return "replay: invariant violation: " + e.Msg }
