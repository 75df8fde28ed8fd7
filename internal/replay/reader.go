package replay

// LogReader is the narrow interface the ReplayEngine consumes from
// the log-file collaborator (spec.md §6). Next returns io.EOF-style
// ordinary termination as (TransactionRecord{}, false, nil); any
// non-nil error is a genuine I/O failure except for ErrTruncatedRecord,
// which callers must treat as a non-fatal end of stream (a crash can
// leave a partially written trailing record).
type LogReader interface {
	// LogFileID identifies the log file this reader streams.
	LogFileID() uint32

	// SkipToLastCheckpointPosition fast-forwards past every record
	// with WriteOrderID <= writeOrderID.
	SkipToLastCheckpointPosition(writeOrderID uint64) error

	// Next returns the next record, or ok=false at ordinary EOF.
	Next() (rec TransactionRecord, ok bool, err error)

	Close() error
}

// LogOpener opens a log file by path, returning a LogReader positioned
// at its first record.
type LogOpener interface {
	Open(path string) (LogReader, error)
}
