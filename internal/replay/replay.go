package replay

import (
	"container/heap"
	"errors"
	"fmt"

	"github.com/mvaleed/sluice/internal/queue"
)

// Stats summarizes one replay run, mirroring the read/put/take/
// rollback/commit/skip counters the source logs at INFO level.
type Stats struct {
	Read         int
	Put          int
	Take         int
	Rollback     int
	Commit       int
	Skipped      int
	Applied      int
	PendingTakes int
}

// ReplayEngine merges records across log files in global write-order,
// maintains per-transaction staging, and applies committed puts/takes
// to an IndexQueue.
type ReplayEngine struct {
	q                *queue.IndexQueue
	txnOracle        *SequenceOracle
	writeOrderOracle *SequenceOracle
	legacy           bool
}

// NewReplayEngine returns an engine that will replay into q, seeding
// txnOracle and writeOrderOracle from whatever it observes in the
// logs. If legacy is true, Replay uses the deprecated single-pass-
// per-file v1 algorithm instead of the cross-log merge.
func NewReplayEngine(q *queue.IndexQueue, txnOracle, writeOrderOracle *SequenceOracle, legacy bool) *ReplayEngine {
	return &ReplayEngine{q: q, txnOracle: txnOracle, writeOrderOracle: writeOrderOracle, legacy: legacy}
}

// Replay runs the configured algorithm (v2 merge, or the deprecated
// v1) over readers, which the engine takes ownership of: every reader
// is closed before Replay returns, on every exit path.
func (e *ReplayEngine) Replay(readers []LogReader) (Stats, error) {
	if e.legacy {
		return e.replayLegacy(readers)
	}
	return e.replayMerged(readers)
}

// replayMerged is the v2 algorithm: a min-heap keyed by each live
// reader's current head record produces one globally-ordered stream,
// so records are applied in strict logWriteOrderID order regardless
// of which log file they came from.
func (e *ReplayEngine) replayMerged(readers []LogReader) (Stats, error) {
	lastCheckpoint := e.q.LogWriteOrderID()

	h := &mergeHeap{}
	heap.Init(h)

	closeAll := func() {
		for h.Len() > 0 {
			item := heap.Pop(h).(*mergeItem)
			item.reader.Close()
		}
	}
	closeRest := func(rest []LogReader) {
		for _, r := range rest {
			r.Close()
		}
	}

	for i, r := range readers {
		if err := r.SkipToLastCheckpointPosition(lastCheckpoint); err != nil {
			r.Close()
			if errors.Is(err, ErrTruncatedRecord) {
				continue
			}
			closeAll()
			closeRest(readers[i+1:])
			return Stats{}, fmt.Errorf("replay: skip failed for log %d: %w", r.LogFileID(), err)
		}
		rec, ok, err := r.Next()
		if err != nil {
			r.Close()
			if errors.Is(err, ErrTruncatedRecord) {
				continue
			}
			closeAll()
			closeRest(readers[i+1:])
			return Stats{}, fmt.Errorf("replay: read failed for log %d: %w", r.LogFileID(), err)
		}
		if !ok {
			r.Close()
			continue
		}
		heap.Push(h, &mergeItem{reader: r, rec: rec})
	}

	var stats Stats
	var txnSeed, writeOrderSeed uint64
	pending := map[uint64][]queue.EventPointer{}
	var pendingTakes []queue.EventPointer

	for h.Len() > 0 {
		item := heap.Pop(h).(*mergeItem)
		rec := item.rec
		reader := item.reader

		if rec.TransactionID > txnSeed {
			txnSeed = rec.TransactionID
		}
		if rec.WriteOrderID > writeOrderSeed {
			writeOrderSeed = rec.WriteOrderID
		}

		if err := e.applyRecord(rec, lastCheckpoint, pending, &pendingTakes, &stats); err != nil {
			reader.Close()
			closeAll()
			return stats, fmt.Errorf("replay: log %d: %w", reader.LogFileID(), err)
		}

		next, ok, err := reader.Next()
		if err != nil {
			reader.Close()
			if errors.Is(err, ErrTruncatedRecord) {
				continue
			}
			closeAll()
			return stats, fmt.Errorf("replay: read failed for log %d: %w", reader.LogFileID(), err)
		}
		if ok {
			heap.Push(h, &mergeItem{reader: reader, rec: next})
		} else {
			reader.Close()
		}
	}

	e.txnOracle.SetSeed(txnSeed)
	e.writeOrderOracle.SetSeed(writeOrderSeed)
	stats.PendingTakes = len(pendingTakes)
	return stats, nil
}

// applyRecord dispatches a single record whose ordering has already
// been established by the caller (either the merge heap, or file
// order in the legacy path). Records at or below lastCheckpoint are
// counted as skipped and otherwise ignored.
func (e *ReplayEngine) applyRecord(
	rec TransactionRecord,
	lastCheckpoint uint64,
	pending map[uint64][]queue.EventPointer,
	pendingTakes *[]queue.EventPointer,
	stats *Stats,
) error {
	stats.Read++

	if rec.WriteOrderID <= lastCheckpoint {
		stats.Skipped++
		return nil
	}

	switch rec.Type {
	case Put:
		stats.Put++
		pending[rec.TransactionID] = append(pending[rec.TransactionID], rec.Location)
	case Take:
		stats.Take++
		pending[rec.TransactionID] = append(pending[rec.TransactionID], rec.Location)
	case Rollback:
		stats.Rollback++
		delete(pending, rec.TransactionID)
	case Commit:
		stats.Commit++
		pointers := pending[rec.TransactionID]
		delete(pending, rec.TransactionID)
		if len(pointers) == 0 {
			return nil
		}
		applied, err := e.processCommit(rec.CommittedType, pointers, pendingTakes)
		stats.Applied += applied
		if err != nil {
			return err
		}
	default:
		return fmt.Errorf("%w: %d", ErrUnknownRecordType, rec.Type)
	}
	return nil
}

// processCommit applies a committed transaction's staged pointers to
// the queue, per spec.md §4.3's table.
func (e *ReplayEngine) processCommit(committedType RecordType, pointers []queue.EventPointer, pendingTakes *[]queue.EventPointer) (int, error) {
	applied := 0
	switch committedType {
	case Put:
		for _, p := range pointers {
			ok, err := e.q.AddTail(p)
			if err != nil {
				return applied, err
			}
			if !ok {
				return applied, &InvariantError{Msg: fmt.Sprintf(
					"unable to add %v to queue, size=%d capacity=%d", p, e.q.Size(), e.q.Capacity())}
			}
			applied++

			if idx := indexOfPointer(*pendingTakes, p); idx >= 0 {
				*pendingTakes = removePointerAt(*pendingTakes, idx)
				removed, err := e.q.Remove(p)
				if err != nil {
					return applied, err
				}
				if !removed {
					return applied, &InvariantError{Msg: fmt.Sprintf(
						"take was pending for %v but pointer could not be removed after add", p)}
				}
			}
		}
	case Take:
		for _, p := range pointers {
			removed, err := e.q.Remove(p)
			if err != nil {
				return applied, err
			}
			if removed {
				applied++
			} else {
				*pendingTakes = append(*pendingTakes, p)
			}
		}
	default:
		return applied, fmt.Errorf("%w: committedType=%d", ErrUnknownRecordType, committedType)
	}
	return applied, nil
}

func indexOfPointer(s []queue.EventPointer, p queue.EventPointer) int {
	for i, v := range s {
		if v == p {
			return i
		}
	}
	return -1
}

func removePointerAt(s []queue.EventPointer, i int) []queue.EventPointer {
	s[i] = s[len(s)-1]
	return s[:len(s)-1]
}
