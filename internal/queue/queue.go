// Package queue implements the persistent index queue: a
// fixed-capacity circular array of EventPointers backed by a
// memory-mapped checkpoint file, with a versioned header and a
// two-phase checkpoint protocol.
package queue

import (
	"encoding/binary"
	"errors"
	"fmt"
	"sync"

	"github.com/mvaleed/sluice/internal/mmap"
)

// Version is the current on-disk format version.
const Version uint64 = 2

const (
	slotVersion          = 0
	slotWriteOrderID     = 1
	slotSize             = 2
	slotHead             = 3
	slotCheckpointMarker = 4
	slotActiveLogBase    = 5

	checkpointComplete   = 0
	checkpointIncomplete = 1
)

// HeaderSlots is the number of 8-byte slots occupied by the header
// (fixed fields plus the active-log block) before the ring begins.
const HeaderSlots = slotActiveLogBase + MaxActiveLogs

// WriteOrderOracle is the narrow interface the queue needs to obtain
// the next write-order ID at checkpoint time.
type WriteOrderOracle interface {
	Next() uint64
}

// IndexQueue is a fixed-capacity circular index of EventPointers
// backed by a memory-mapped file. All mutating operations, plus Size,
// FileIDs and Checkpoint, are serialized under a single lock, per the
// single-logical-writer concurrency model.
type IndexQueue struct {
	mu sync.Mutex

	path     string
	store    *mmap.Store
	capacity int

	size         int
	head         int
	writeOrderID uint64
	active       *ActiveFileTable

	// overlay stages slot writes between checkpoints, keyed by
	// absolute slot index (header slots and ring slots share the
	// same index space). Draining it into the mapping is the only
	// point at which the file's bytes change.
	overlay map[int]uint64

	oracle WriteOrderOracle
}

// Open creates (if absent) or opens (if present) the checkpoint file
// at path for a queue of the given capacity, and returns a ready
// IndexQueue. oracle supplies WriteOrderID values at checkpoint time.
func Open(path string, capacity int, oracle WriteOrderOracle) (*IndexQueue, error) {
	if capacity <= 0 {
		return nil, fmt.Errorf("queue: capacity must be positive, got %d", capacity)
	}

	totalSlots := int64(HeaderSlots + capacity)
	store, err := mmap.Open(path, totalSlots*8)
	if err != nil {
		if errors.Is(err, mmap.ErrSizeMismatch) {
			return nil, fmt.Errorf("%w: %s", ErrCapacityMismatch, err)
		}
		return nil, err
	}

	q := &IndexQueue{
		path:     path,
		store:    store,
		capacity: capacity,
		active:   NewActiveFileTable(),
		overlay:  make(map[int]uint64),
		oracle:   oracle,
	}

	if err := q.loadOrInit(); err != nil {
		store.Close()
		return nil, err
	}

	return q, nil
}

func (q *IndexQueue) loadOrInit() error {
	data := q.store.Bytes()
	allZero := true
	for _, b := range data {
		if b != 0 {
			allZero = false
			break
		}
	}

	if allZero {
		q.putRaw(slotVersion, Version)
		q.putRaw(slotCheckpointMarker, checkpointComplete)
		return q.store.Force()
	}

	version := q.getRaw(slotVersion)
	if version != Version {
		return fmt.Errorf("%w: got %d, want %d", ErrInvalidVersion, version, Version)
	}

	if q.getRaw(slotCheckpointMarker) == checkpointIncomplete {
		return ErrCorruptCheckpoint
	}

	q.writeOrderID = q.getRaw(slotWriteOrderID)
	q.size = int(q.getRaw(slotSize))
	q.head = int(q.getRaw(slotHead))

	slots := make([]uint64, MaxActiveLogs)
	for i := 0; i < MaxActiveLogs; i++ {
		slots[i] = q.getRaw(slotActiveLogBase + i)
	}
	q.active.loadSlots(slots)

	return nil
}

func (q *IndexQueue) getRaw(slot int) uint64 {
	return binary.BigEndian.Uint64(q.store.Bytes()[slot*8:])
}

func (q *IndexQueue) putRaw(slot int, v uint64) {
	binary.BigEndian.PutUint64(q.store.Bytes()[slot*8:], v)
}

// get reads slot (staged overlay value if present, else the mapping).
func (q *IndexQueue) get(slot int) uint64 {
	if v, ok := q.overlay[slot]; ok {
		return v
	}
	return q.getRaw(slot)
}

// set stages a write to slot; it is not visible on disk until Checkpoint.
func (q *IndexQueue) set(slot int, v uint64) {
	q.overlay[slot] = v
}

func (q *IndexQueue) physicalSlot(logicalIndex int) int {
	return HeaderSlots + (q.head+logicalIndex)%q.capacity
}

func (q *IndexQueue) getLogical(i int) EventPointer {
	if i < 0 || i >= q.size {
		panic(invariantf("index %d out of bounds, size=%d", i, q.size))
	}
	return EventPointer(q.get(q.physicalSlot(i)))
}

func (q *IndexQueue) setLogical(i int, v EventPointer) {
	if i < 0 || i >= q.size {
		panic(invariantf("index %d out of bounds, size=%d", i, q.size))
	}
	q.set(q.physicalSlot(i), uint64(v))
}

// insertAt inserts value at logical index (0..size), shifting whichever
// half is cheaper, per spec.md §4.1.
func (q *IndexQueue) insertAt(index int, value EventPointer) bool {
	if index < 0 || index > q.size {
		panic(invariantf("insert index %d out of bounds, size=%d", index, q.size))
	}
	if q.size == q.capacity {
		return false
	}

	q.size++

	if index <= q.size/2 {
		q.head--
		if q.head < 0 {
			q.head = q.capacity - 1
		}
		for i := 0; i < index; i++ {
			q.setLogical(i, q.getLogical(i+1))
		}
	} else {
		for i := q.size - 1; i > index; i-- {
			q.setLogical(i, q.getLogical(i-1))
		}
	}
	q.setLogical(index, value)
	return true
}

// removeAt removes and returns the pointer at logical index.
func (q *IndexQueue) removeAt(index int) EventPointer {
	if index < 0 || index >= q.size {
		panic(invariantf("remove index %d out of bounds, size=%d", index, q.size))
	}
	value := q.getLogical(index)

	if index > q.size/2 {
		for i := index; i < q.size-1; i++ {
			q.setLogical(i, q.getLogical(i+1))
		}
		q.setLogical(q.size-1, EmptyPointer)
	} else {
		for i := index - 1; i >= 0; i-- {
			q.setLogical(i+1, q.getLogical(i))
		}
		q.setLogical(0, EmptyPointer)
		q.head++
		if q.head == q.capacity {
			q.head = 0
		}
	}

	q.size--
	return value
}

// AddHead inserts ptr at the logical head of the queue. Returns false
// iff the queue is at capacity.
func (q *IndexQueue) AddHead(ptr EventPointer) (bool, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if ptr.IsEmpty() {
		return false, invariantf("cannot add empty pointer")
	}
	if q.size == q.capacity {
		return false, nil
	}
	if err := q.active.Increment(ptr.FileID()); err != nil {
		return false, err
	}
	q.insertAt(0, ptr)
	return true, nil
}

// AddTail inserts ptr at the logical tail of the queue. Returns false
// iff the queue is at capacity. Used primarily by replay.
func (q *IndexQueue) AddTail(ptr EventPointer) (bool, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if ptr.IsEmpty() {
		return false, invariantf("cannot add empty pointer")
	}
	if q.size == q.capacity {
		return false, nil
	}
	if err := q.active.Increment(ptr.FileID()); err != nil {
		return false, err
	}
	q.insertAt(q.size, ptr)
	return true, nil
}

// RemoveHead removes and returns the head pointer, or (0, false) if
// the queue is empty.
func (q *IndexQueue) RemoveHead() (EventPointer, bool, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.size == 0 {
		return EmptyPointer, false, nil
	}
	ptr := q.removeAt(0)
	if ptr.IsEmpty() {
		return EmptyPointer, false, invariantf("removed empty pointer from non-empty queue")
	}
	q.active.Decrement(ptr.FileID())
	return ptr, true, nil
}

// Remove scans for the first slot matching ptr and removes it.
// Returns false if not found. O(size); intended for the recovery
// path and pending-take reconciliation only.
func (q *IndexQueue) Remove(ptr EventPointer) (bool, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if ptr.IsEmpty() {
		return false, invariantf("cannot remove empty pointer")
	}
	for i := 0; i < q.size; i++ {
		if q.getLogical(i) == ptr {
			q.removeAt(i)
			q.active.Decrement(ptr.FileID())
			return true, nil
		}
	}
	return false, nil
}

// FileIDs returns the ordered set of fileIDs with a nonzero refcount.
func (q *IndexQueue) FileIDs() []uint32 {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.active.FileIDs()
}

// Size returns the current logical size.
func (q *IndexQueue) Size() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.size
}

// Capacity returns the fixed maximum size.
func (q *IndexQueue) Capacity() int {
	return q.capacity
}

// LogWriteOrderID returns the WriteOrderID recorded at the last
// completed checkpoint (or, before the first checkpoint, the value
// loaded from an existing checkpoint file at Open).
func (q *IndexQueue) LogWriteOrderID() uint64 {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.writeOrderID
}

// Checkpoint persists the in-memory queue state to the mapped file
// using the two-phase protocol described in spec.md §4.1. It returns
// false without writing anything if there is nothing staged and force
// is false.
func (q *IndexQueue) Checkpoint(force bool) (bool, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.overlay) == 0 && !force {
		return false, nil
	}

	// Step 2: mark incomplete. This write bypasses the overlay and
	// hits the mapping directly, since it must be visible even if we
	// crash before finishing.
	q.putRaw(slotCheckpointMarker, checkpointIncomplete)
	if err := q.store.Force(); err != nil {
		return false, fmt.Errorf("queue: failed to force incomplete marker: %w", err)
	}

	// Step 3: refresh headers.
	q.writeOrderID = q.oracle.Next()
	q.set(slotWriteOrderID, q.writeOrderID)
	q.set(slotSize, uint64(q.size))
	q.set(slotHead, uint64(q.head))

	// Step 4: serialize the active-file table.
	slots := q.active.encodeSlots()
	for i, v := range slots {
		q.set(slotActiveLogBase+i, v)
	}

	// Step 5: drain the overlay into the mapping in one pass. The
	// marker slot is never staged in the overlay; it is written
	// directly in steps 2 and 6.
	for slot, v := range q.overlay {
		q.putRaw(slot, v)
	}
	q.overlay = make(map[int]uint64)

	if err := q.store.Force(); err != nil {
		return false, fmt.Errorf("queue: failed to force checkpoint body: %w", err)
	}

	// Step 6/7: mark complete and force again.
	q.putRaw(slotCheckpointMarker, checkpointComplete)
	if err := q.store.Force(); err != nil {
		return false, fmt.Errorf("queue: failed to force complete marker: %w", err)
	}

	return true, nil
}

// Close flushes nothing implicitly; callers should Checkpoint(true)
// before Close if they want a final durable snapshot. Close always
// unmaps and closes the underlying file.
func (q *IndexQueue) Close() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.store.Close()
}

// DebugDump returns every ring slot's value, in the same order the
// original queue's debug main() used: starting at the physical head
// and wrapping around the whole capacity (not just the live size), so
// empty trailing slots are visible too.
func (q *IndexQueue) DebugDump() []EventPointer {
	q.mu.Lock()
	defer q.mu.Unlock()

	slots := make([]EventPointer, q.capacity)
	for i := 0; i < q.capacity; i++ {
		physical := HeaderSlots + (q.head+i)%q.capacity
		slots[i] = EventPointer(q.get(physical))
	}
	return slots
}

// DebugRefcounts exposes the active-file table for the operator CLI.
func (q *IndexQueue) DebugRefcounts() map[uint32]uint32 {
	q.mu.Lock()
	defer q.mu.Unlock()

	out := make(map[uint32]uint32, q.active.Len())
	for _, id := range q.active.FileIDs() {
		out[id] = q.active.Count(id)
	}
	return out
}

// DebugHead exposes the physical head index for the operator CLI.
func (q *IndexQueue) DebugHead() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.head
}
