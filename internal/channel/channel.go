// Package channel is the startup driver spec.md §2 describes: it opens
// the checkpoint file, enumerates the log directories, runs replay,
// and then exposes the queue API upward. It is deliberately thin — the
// full transaction-facing put/take/commit surface remains an external
// collaborator per spec.md §1's Non-goals; this package only bootstraps
// the core and forwards the operations spec.md §6 names.
package channel

import (
	"fmt"
	"log"
	"os"
	"sync"

	"github.com/mvaleed/sluice/internal/logfile"
	"github.com/mvaleed/sluice/internal/queue"
	"github.com/mvaleed/sluice/internal/replay"
)

// Durability selects how aggressively the active log writer flushes,
// mirroring brook's three-way async/medium/full writer split.
type Durability int

const (
	// Async buffers writes and flushes on a timer. Fastest, weakest
	// durability: a crash can lose the last buffering interval.
	Async Durability = iota
	// Medium flushes to the OS page cache on every append but does
	// not fsync.
	Medium
	// Full flushes and fsyncs on every append.
	Full
)

func (d Durability) String() string {
	switch d {
	case Async:
		return "async"
	case Medium:
		return "medium"
	case Full:
		return "full"
	default:
		return fmt.Sprintf("Durability(%d)", int(d))
	}
}

// Config describes everything needed to open a Channel.
type Config struct {
	// CheckpointPath is where the IndexQueue's memory-mapped header
	// and ring live.
	CheckpointPath string
	// Capacity is the fixed maximum number of live pointers.
	Capacity int
	// LogDirs is the set of directories scanned for existing log
	// files at startup and rotated across for new ones.
	LogDirs []string
	// Durability controls how the active writer flushes.
	Durability Durability
	// LegacyReplay selects the deprecated v1 replay algorithm.
	// Callers should leave this false unless reading logs written by
	// a version that predates correct write-order-ID stamping, per
	// spec.md §9's open question.
	LegacyReplay bool
	// Logger receives startup/shutdown/replay-summary messages. If
	// nil, log.Default() is used.
	Logger *log.Logger
}

func (c Config) validate() error {
	if c.CheckpointPath == "" {
		return fmt.Errorf("channel: CheckpointPath is required")
	}
	if c.Capacity <= 0 {
		return fmt.Errorf("channel: Capacity must be positive, got %d", c.Capacity)
	}
	if len(c.LogDirs) == 0 {
		return fmt.Errorf("channel: at least one LogDirs entry is required")
	}
	return nil
}

// Channel bootstraps an IndexQueue plus its log directories and
// oracles, replays existing logs into it, and forwards the upward
// queue API spec.md §6 names. It also owns the currently active log
// writer, since something must produce PUT/TAKE/COMMIT/ROLLBACK
// records for the queue to ever contain anything after startup.
type Channel struct {
	mu sync.Mutex

	q                *queue.IndexQueue
	txnOracle        *replay.SequenceOracle
	writeOrderOracle *replay.SequenceOracle

	dirs       *logfile.DirectorySet
	durability Durability
	writer     *logfile.Writer

	logger *log.Logger
}

// Open runs the full startup sequence: open the checkpoint, enumerate
// and open readers for every log file found in cfg.LogDirs, replay
// them into the queue, seed the oracles, then open a fresh log file
// for subsequent writes.
func Open(cfg Config) (*Channel, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	logger := cfg.Logger
	if logger == nil {
		logger = log.Default()
	}

	for _, dir := range cfg.LogDirs {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("channel: create log dir %s: %w", dir, err)
		}
	}

	txnOracle := replay.NewSequenceOracle()
	writeOrderOracle := replay.NewSequenceOracle()

	q, err := queue.Open(cfg.CheckpointPath, cfg.Capacity, writeOrderOracle)
	if err != nil {
		return nil, fmt.Errorf("channel: open checkpoint: %w", err)
	}

	entries, err := logfile.ScanDirectories(cfg.LogDirs)
	if err != nil {
		q.Close()
		return nil, fmt.Errorf("channel: scan log directories: %w", err)
	}

	readers, err := logfile.OpenReadersFromEntries(entries)
	if err != nil {
		q.Close()
		return nil, fmt.Errorf("channel: open log readers: %w", err)
	}

	logger.Printf("channel: replaying %d log file(s) into checkpoint %s (legacy=%v)",
		len(readers), cfg.CheckpointPath, cfg.LegacyReplay)

	engine := replay.NewReplayEngine(q, txnOracle, writeOrderOracle, cfg.LegacyReplay)
	stats, err := engine.Replay(readers)
	if err != nil {
		q.Close()
		return nil, fmt.Errorf("channel: replay: %w", err)
	}
	logger.Printf("channel: replay complete: read=%d put=%d take=%d rollback=%d commit=%d skipped=%d applied=%d pendingTakes=%d",
		stats.Read, stats.Put, stats.Take, stats.Rollback, stats.Commit, stats.Skipped, stats.Applied, stats.PendingTakes)
	if stats.PendingTakes > 0 {
		logger.Printf("channel: warning: %d take(s) committed with no matching committed put; downstream duplicates are possible", stats.PendingTakes)
	}

	var maxFileID uint32
	haveAny := false
	for _, e := range entries {
		if !haveAny || e.FileID > maxFileID {
			maxFileID = e.FileID
			haveAny = true
		}
	}
	// fileID 0 is never assigned: a PUT at offset 0 of file 0 would
	// encode as the reserved empty pointer.
	nextFileID := uint32(1)
	if haveAny {
		nextFileID = maxFileID + 1
	}

	dirs, err := logfile.NewDirectorySet(cfg.LogDirs, nextFileID)
	if err != nil {
		q.Close()
		return nil, fmt.Errorf("channel: init log directory set: %w", err)
	}

	ch := &Channel{
		q:                q,
		txnOracle:        txnOracle,
		writeOrderOracle: writeOrderOracle,
		dirs:             dirs,
		durability:       cfg.Durability,
		logger:           logger,
	}

	if err := ch.rollLocked(); err != nil {
		q.Close()
		return nil, err
	}

	logger.Printf("channel: online, capacity=%d size=%d writeOrderID=%d", q.Capacity(), q.Size(), q.LogWriteOrderID())
	return ch, nil
}

// rollLocked closes the current writer (if any) and opens a fresh log
// file in the next directory in rotation. Callers must hold ch.mu.
func (ch *Channel) rollLocked() error {
	if ch.writer != nil {
		if err := ch.writer.Close(); err != nil {
			return fmt.Errorf("channel: close previous log writer: %w", err)
		}
	}

	fileID, path := ch.dirs.NextPath()
	var w *logfile.Writer
	var err error
	switch ch.durability {
	case Full:
		w, err = logfile.NewWriterFullDurable(path, fileID)
	case Medium:
		w, err = logfile.NewWriterMediumDurable(path, fileID)
	default:
		w, err = logfile.NewWriterAsync(path, fileID)
	}
	if err != nil {
		return fmt.Errorf("channel: open log writer: %w", err)
	}
	ch.logger.Printf("channel: writing to log file %s (fileID=%d, durability=%s)", path, fileID, ch.durability)
	ch.writer = w
	return nil
}

// RollLog closes the active log file and opens a new one, rotating
// across the configured directories. The rolling policy itself
// (size/age thresholds) belongs to the external collaborator per
// spec.md §1; this only performs the mechanical rotation.
func (ch *Channel) RollLog() error {
	ch.mu.Lock()
	defer ch.mu.Unlock()
	return ch.rollLocked()
}

// Writer returns the currently active log writer, for a transaction
// layer to append PUT/TAKE/COMMIT/ROLLBACK records to.
func (ch *Channel) Writer() *logfile.Writer {
	ch.mu.Lock()
	defer ch.mu.Unlock()
	return ch.writer
}

// TransactionOracle returns the oracle assigning transaction IDs.
func (ch *Channel) TransactionOracle() *replay.SequenceOracle { return ch.txnOracle }

// WriteOrderOracle returns the oracle assigning log write-order IDs.
func (ch *Channel) WriteOrderOracle() *replay.SequenceOracle { return ch.writeOrderOracle }

// AddHead forwards to the underlying IndexQueue.
func (ch *Channel) AddHead(ptr queue.EventPointer) (bool, error) { return ch.q.AddHead(ptr) }

// AddTail forwards to the underlying IndexQueue.
func (ch *Channel) AddTail(ptr queue.EventPointer) (bool, error) { return ch.q.AddTail(ptr) }

// RemoveHead forwards to the underlying IndexQueue.
func (ch *Channel) RemoveHead() (queue.EventPointer, bool, error) { return ch.q.RemoveHead() }

// Remove forwards to the underlying IndexQueue.
func (ch *Channel) Remove(ptr queue.EventPointer) (bool, error) { return ch.q.Remove(ptr) }

// FileIDs forwards to the underlying IndexQueue.
func (ch *Channel) FileIDs() []uint32 { return ch.q.FileIDs() }

// Size forwards to the underlying IndexQueue.
func (ch *Channel) Size() int { return ch.q.Size() }

// Capacity forwards to the underlying IndexQueue.
func (ch *Channel) Capacity() int { return ch.q.Capacity() }

// LogWriteOrderID forwards to the underlying IndexQueue.
func (ch *Channel) LogWriteOrderID() uint64 { return ch.q.LogWriteOrderID() }

// Checkpoint forwards to the underlying IndexQueue.
func (ch *Channel) Checkpoint(force bool) (bool, error) { return ch.q.Checkpoint(force) }

// Close flushes and closes the active log writer, forces a final
// checkpoint, and closes the queue's mapping. A final checkpoint is
// attempted but its failure does not prevent the queue from closing;
// the error is still reported.
func (ch *Channel) Close() error {
	ch.mu.Lock()
	defer ch.mu.Unlock()

	var writerErr error
	if ch.writer != nil {
		writerErr = ch.writer.Close()
	}

	_, checkpointErr := ch.q.Checkpoint(true)
	closeErr := ch.q.Close()

	ch.logger.Printf("channel: closed")

	if writerErr != nil {
		return fmt.Errorf("channel: close log writer: %w", writerErr)
	}
	if checkpointErr != nil {
		return fmt.Errorf("channel: final checkpoint: %w", checkpointErr)
	}
	return closeErr
}
