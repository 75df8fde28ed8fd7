package replay

import (
	"errors"
	"fmt"

	"github.com/mvaleed/sluice/internal/queue"
)

// replayLegacy is the deprecated v1 algorithm: each log is processed
// end-to-end, independently, in the order given, with no cross-log
// merge. Retained for forward compatibility with old logs that did
// not record write-order IDs correctly; a new deployment should use
// v2 (replayMerged) unless compatibility requires this path.
//
// pending and pendingTakes are shared across all files in the given
// order, matching the original source's variable scoping (declared
// once, outside the per-file loop) rather than resetting per file.
func (e *ReplayEngine) replayLegacy(readers []LogReader) (Stats, error) {
	lastCheckpoint := e.q.LogWriteOrderID()

	var stats Stats
	var txnSeed, writeOrderSeed uint64
	pending := map[uint64][]queue.EventPointer{}
	var pendingTakes []queue.EventPointer

	for i, r := range readers {
		if err := e.replayOneLegacy(r, lastCheckpoint, pending, &pendingTakes, &stats, &txnSeed, &writeOrderSeed); err != nil {
			for _, rest := range readers[i+1:] {
				rest.Close()
			}
			return stats, err
		}
	}

	e.txnOracle.SetSeed(txnSeed)
	e.writeOrderOracle.SetSeed(writeOrderSeed)
	stats.PendingTakes = len(pendingTakes)
	return stats, nil
}

func (e *ReplayEngine) replayOneLegacy(
	r LogReader,
	lastCheckpoint uint64,
	pending map[uint64][]queue.EventPointer,
	pendingTakes *[]queue.EventPointer,
	stats *Stats,
	txnSeed, writeOrderSeed *uint64,
) error {
	defer r.Close()

	if err := r.SkipToLastCheckpointPosition(lastCheckpoint); err != nil {
		if errors.Is(err, ErrTruncatedRecord) {
			return nil
		}
		return fmt.Errorf("replay: skip failed for log %d: %w", r.LogFileID(), err)
	}

	for {
		rec, ok, err := r.Next()
		if err != nil {
			if errors.Is(err, ErrTruncatedRecord) {
				return nil
			}
			return fmt.Errorf("replay: read failed for log %d: %w", r.LogFileID(), err)
		}
		if !ok {
			return nil
		}

		if rec.TransactionID > *txnSeed {
			*txnSeed = rec.TransactionID
		}
		if rec.WriteOrderID > *writeOrderSeed {
			*writeOrderSeed = rec.WriteOrderID
		}

		if err := e.applyRecord(rec, lastCheckpoint, pending, pendingTakes, stats); err != nil {
			return fmt.Errorf("replay: log %d: %w", r.LogFileID(), err)
		}
	}
}
