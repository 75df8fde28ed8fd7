package replay

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mvaleed/sluice/internal/queue"
)

// fakeReader is an in-memory LogReader over a fixed slice of records,
// used to drive the literal end-to-end replay scenarios without
// touching disk.
type fakeReader struct {
	fileID  uint32
	records []TransactionRecord
	pos     int
	noSkip  bool  // when true, SkipToLastCheckpointPosition is a no-op
	skipErr error // when set, SkipToLastCheckpointPosition returns this instead of skipping
}

func newFakeReader(fileID uint32, records ...TransactionRecord) *fakeReader {
	return &fakeReader{fileID: fileID, records: records}
}

func (r *fakeReader) LogFileID() uint32 { return r.fileID }

func (r *fakeReader) SkipToLastCheckpointPosition(writeOrderID uint64) error {
	if r.skipErr != nil {
		return r.skipErr
	}
	if r.noSkip {
		return nil
	}
	for r.pos < len(r.records) && r.records[r.pos].WriteOrderID <= writeOrderID {
		r.pos++
	}
	return nil
}

func (r *fakeReader) Next() (TransactionRecord, bool, error) {
	if r.pos >= len(r.records) {
		return TransactionRecord{}, false, nil
	}
	rec := r.records[r.pos]
	r.pos++
	return rec, true, nil
}

func (r *fakeReader) Close() error { return nil }

var _ LogReader = (*fakeReader)(nil)

func openTestQueue(t *testing.T, capacity int) *queue.IndexQueue {
	t.Helper()
	path := filepath.Join(t.TempDir(), "checkpoint")
	q, err := queue.Open(path, capacity, NewSequenceOracle())
	require.NoError(t, err)
	t.Cleanup(func() { q.Close() })
	return q
}

func newEngine(q *queue.IndexQueue) (*ReplayEngine, *SequenceOracle, *SequenceOracle) {
	txnOracle := NewSequenceOracle()
	writeOrderOracle := NewSequenceOracle()
	return NewReplayEngine(q, txnOracle, writeOrderOracle, false), txnOracle, writeOrderOracle
}

func TestReplay_PutCommit(t *testing.T) {
	q := openTestQueue(t, 8)
	engine, _, _ := newEngine(q)

	p := queue.NewEventPointer(17, 0)
	reader := newFakeReader(17,
		TransactionRecord{Type: Put, TransactionID: 1, WriteOrderID: 1, Location: p},
		TransactionRecord{Type: Commit, TransactionID: 1, WriteOrderID: 2, CommittedType: Put},
	)

	stats, err := engine.Replay([]LogReader{reader})
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Applied)

	got, ok, err := q.RemoveHead()
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, p, got)

	_, ok, err = q.RemoveHead()
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestReplay_PutRollback(t *testing.T) {
	q := openTestQueue(t, 8)
	engine, _, _ := newEngine(q)

	p := queue.NewEventPointer(17, 0)
	reader := newFakeReader(17,
		TransactionRecord{Type: Put, TransactionID: 1, WriteOrderID: 1, Location: p},
		TransactionRecord{Type: Rollback, TransactionID: 1, WriteOrderID: 2},
	)

	stats, err := engine.Replay([]LogReader{reader})
	require.NoError(t, err)
	assert.Equal(t, 0, stats.Applied)

	_, ok, err := q.RemoveHead()
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestReplay_PutCommitTakeCommit(t *testing.T) {
	q := openTestQueue(t, 8)
	engine, _, _ := newEngine(q)

	p := queue.NewEventPointer(17, 0)
	reader := newFakeReader(17,
		TransactionRecord{Type: Put, TransactionID: 1, WriteOrderID: 1, Location: p},
		TransactionRecord{Type: Commit, TransactionID: 1, WriteOrderID: 2, CommittedType: Put},
		TransactionRecord{Type: Take, TransactionID: 2, WriteOrderID: 3, Location: p},
		TransactionRecord{Type: Commit, TransactionID: 2, WriteOrderID: 4, CommittedType: Take},
	)

	stats, err := engine.Replay([]LogReader{reader})
	require.NoError(t, err)
	assert.Equal(t, 0, stats.PendingTakes)

	_, ok, err := q.RemoveHead()
	require.NoError(t, err)
	assert.False(t, ok, "put then take of the same pointer leaves the queue empty")
}

func TestReplay_PutCommitTakeRollback(t *testing.T) {
	q := openTestQueue(t, 8)
	engine, _, _ := newEngine(q)

	p := queue.NewEventPointer(17, 0)
	reader := newFakeReader(17,
		TransactionRecord{Type: Put, TransactionID: 1, WriteOrderID: 1, Location: p},
		TransactionRecord{Type: Commit, TransactionID: 1, WriteOrderID: 2, CommittedType: Put},
		TransactionRecord{Type: Take, TransactionID: 2, WriteOrderID: 3, Location: p},
		TransactionRecord{Type: Rollback, TransactionID: 2, WriteOrderID: 4},
	)

	stats, err := engine.Replay([]LogReader{reader})
	require.NoError(t, err)
	assert.Equal(t, 0, stats.PendingTakes)

	got, ok, err := q.RemoveHead()
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, p, got)

	_, ok, err = q.RemoveHead()
	require.NoError(t, err)
	assert.False(t, ok)
}

// TestReplay_CrossLogPendingTakeReconciliation is the two-log take/put
// scenario. With these write-order IDs the put commits first (10/11)
// and the take commits later (100/101), so the take removes the pointer
// directly and nothing is ever left in pendingTakes;
// TestReplay_TakeCommitsBeforeItsPut covers the reverse order.
func TestReplay_CrossLogPendingTakeReconciliation(t *testing.T) {
	q := openTestQueue(t, 8)
	engine, _, _ := newEngine(q)

	p := queue.NewEventPointer(17, 0)

	logA := newFakeReader(1,
		TransactionRecord{Type: Take, TransactionID: 7, WriteOrderID: 100, Location: p},
		TransactionRecord{Type: Commit, TransactionID: 7, WriteOrderID: 101, CommittedType: Take},
	)
	logB := newFakeReader(2,
		TransactionRecord{Type: Put, TransactionID: 3, WriteOrderID: 10, Location: p},
		TransactionRecord{Type: Commit, TransactionID: 3, WriteOrderID: 11, CommittedType: Put},
	)

	stats, err := engine.Replay([]LogReader{logA, logB})
	require.NoError(t, err)
	assert.Equal(t, 0, stats.PendingTakes, "the later take-commit finds its put already in the queue")

	_, ok, err := q.RemoveHead()
	require.NoError(t, err)
	assert.False(t, ok, "final queue must be empty")
}

// TestReplay_TakeCommitsBeforeItsPut is the scenario that actually
// exercises the pendingTakes mechanism: unlike
// TestReplay_CrossLogPendingTakeReconciliation (whose numbers place
// the put's commit first in global write-order, so processCommit's
// Take branch never has to append to pendingTakes at all), here the
// take's own transaction is fully committed at an earlier
// WriteOrderID than the put it targets. The take-commit finds nothing
// in the queue yet and stages itself in pendingTakes, where it stays
// until the later put-commit reconciles it; stats.PendingTakes, taken
// at the end of replay, is then 0.
func TestReplay_TakeCommitsBeforeItsPut(t *testing.T) {
	q := openTestQueue(t, 8)
	engine, _, _ := newEngine(q)

	p := queue.NewEventPointer(9, 0)

	takeFirst := newFakeReader(1,
		TransactionRecord{Type: Take, TransactionID: 7, WriteOrderID: 10, Location: p},
		TransactionRecord{Type: Commit, TransactionID: 7, WriteOrderID: 11, CommittedType: Take},
	)
	putLater := newFakeReader(9,
		TransactionRecord{Type: Put, TransactionID: 3, WriteOrderID: 100, Location: p},
		TransactionRecord{Type: Commit, TransactionID: 3, WriteOrderID: 101, CommittedType: Put},
	)

	stats, err := engine.Replay([]LogReader{takeFirst, putLater})
	require.NoError(t, err)
	assert.Equal(t, 0, stats.PendingTakes, "the put's later commit reconciles the pending take")

	_, ok, err := q.RemoveHead()
	require.NoError(t, err)
	assert.False(t, ok, "the pointer was added then immediately removed again by reconciliation")
}

// TestReplay_TakeNeverReconciled leaves the earlier take permanently
// unreconciled (its put never commits at all), so stats.PendingTakes
// stays nonzero — the contrasting case that shows
// TestReplay_TakeCommitsBeforeItsPut's final count of 0 is the
// reconciliation logic actually running, not an artifact of a
// pendingTakes count that would have been zero regardless.
func TestReplay_TakeNeverReconciled(t *testing.T) {
	q := openTestQueue(t, 8)
	engine, _, _ := newEngine(q)

	p := queue.NewEventPointer(9, 0)

	reader := newFakeReader(1,
		TransactionRecord{Type: Take, TransactionID: 7, WriteOrderID: 10, Location: p},
		TransactionRecord{Type: Commit, TransactionID: 7, WriteOrderID: 11, CommittedType: Take},
	)

	stats, err := engine.Replay([]LogReader{reader})
	require.NoError(t, err)
	assert.Equal(t, 1, stats.PendingTakes, "the take's put never commits, so it stays pending")
}

func TestReplay_CommitWithNoCorrespondingPut(t *testing.T) {
	q := openTestQueue(t, 8)
	engine, _, _ := newEngine(q)

	reader := newFakeReader(1,
		TransactionRecord{Type: Commit, TransactionID: 42, WriteOrderID: 1, CommittedType: Put},
	)

	stats, err := engine.Replay([]LogReader{reader})
	require.NoError(t, err)
	assert.Equal(t, 0, stats.Applied)

	_, ok, err := q.RemoveHead()
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestReplay_SeedsOraclesPastEveryObservedID(t *testing.T) {
	q := openTestQueue(t, 8)
	engine, txnOracle, writeOrderOracle := newEngine(q)

	p := queue.NewEventPointer(1, 0)
	reader := newFakeReader(1,
		TransactionRecord{Type: Put, TransactionID: 5, WriteOrderID: 50, Location: p},
		TransactionRecord{Type: Commit, TransactionID: 5, WriteOrderID: 51, CommittedType: Put},
	)

	_, err := engine.Replay([]LogReader{reader})
	require.NoError(t, err)

	assert.Greater(t, txnOracle.Next(), uint64(5))
	assert.Greater(t, writeOrderOracle.Next(), uint64(51))
}

func TestReplay_RespectsLastCheckpointLowWaterMark(t *testing.T) {
	q := openTestQueue(t, 8)

	// Force a checkpoint so the queue records a nonzero low-water
	// mark, then replay records at or below it.
	_, err := q.Checkpoint(true)
	require.NoError(t, err)
	lastCheckpoint := q.LogWriteOrderID()
	require.Greater(t, lastCheckpoint, uint64(0))

	engine, _, _ := newEngine(q)

	p := queue.NewEventPointer(1, 0)
	reader := newFakeReader(1,
		TransactionRecord{Type: Put, TransactionID: 1, WriteOrderID: lastCheckpoint, Location: p},
		TransactionRecord{Type: Commit, TransactionID: 1, WriteOrderID: lastCheckpoint, CommittedType: Put},
	)
	reader.noSkip = true // exercise applyRecord's own low-water-mark check, not the reader's skip primitive

	stats, err := engine.Replay([]LogReader{reader})
	require.NoError(t, err)
	assert.Equal(t, 2, stats.Skipped, "both records are at or below the last checkpoint")
	assert.Equal(t, 0, stats.Applied)
}

// TestReplay_TruncatedRecordDuringSkipIsNonFatal covers a crash that
// truncates a log's trailing record inside the region
// SkipToLastCheckpointPosition walks past: that log is dropped, but
// replay still proceeds normally over the other logs.
func TestReplay_TruncatedRecordDuringSkipIsNonFatal(t *testing.T) {
	q := openTestQueue(t, 8)
	engine, _, _ := newEngine(q)

	broken := newFakeReader(1)
	broken.skipErr = ErrTruncatedRecord

	p := queue.NewEventPointer(2, 0)
	good := newFakeReader(2,
		TransactionRecord{Type: Put, TransactionID: 1, WriteOrderID: 1, Location: p},
		TransactionRecord{Type: Commit, TransactionID: 1, WriteOrderID: 2, CommittedType: Put},
	)

	stats, err := engine.Replay([]LogReader{broken, good})
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Applied, "the truncated log is dropped, the other log still replays")

	got, ok, err := q.RemoveHead()
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, p, got)
}

// TestReplayLegacy_TruncatedRecordDuringSkipIsNonFatal is the same
// scenario through the deprecated v1 algorithm.
func TestReplayLegacy_TruncatedRecordDuringSkipIsNonFatal(t *testing.T) {
	q := openTestQueue(t, 8)
	txnOracle := NewSequenceOracle()
	writeOrderOracle := NewSequenceOracle()
	engine := NewReplayEngine(q, txnOracle, writeOrderOracle, true)

	broken := newFakeReader(1)
	broken.skipErr = ErrTruncatedRecord

	p := queue.NewEventPointer(2, 0)
	good := newFakeReader(2,
		TransactionRecord{Type: Put, TransactionID: 1, WriteOrderID: 1, Location: p},
		TransactionRecord{Type: Commit, TransactionID: 1, WriteOrderID: 2, CommittedType: Put},
	)

	stats, err := engine.Replay([]LogReader{broken, good})
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Applied, "the truncated log is dropped, the other log still replays")

	got, ok, err := q.RemoveHead()
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, p, got)
}
