package replay

import "sync/atomic"

// SequenceOracle is a monotonic 64-bit counter. Next is safe under
// concurrent callers; SetSeed is intended only for the replay path,
// which runs single-threaded before the queue goes online.
//
// Instances are explicit and constructor-injected rather than
// process-wide singletons, so tests can run with isolated state.
type SequenceOracle struct {
	value atomic.Uint64
}

// NewSequenceOracle returns an oracle seeded at zero.
func NewSequenceOracle() *SequenceOracle {
	return &SequenceOracle{}
}

// Next returns the next value in the sequence. The first call after
// construction returns 1.
func (o *SequenceOracle) Next() uint64 {
	return o.value.Add(1)
}

// SetSeed advances the counter to max(current, v). Used during replay
// to ensure subsequently issued IDs exceed every ID ever observed in
// any log or checkpoint.
func (o *SequenceOracle) SetSeed(v uint64) {
	for {
		cur := o.value.Load()
		if v <= cur {
			return
		}
		if o.value.CompareAndSwap(cur, v) {
			return
		}
	}
}

// Peek returns the current value without incrementing.
func (o *SequenceOracle) Peek() uint64 {
	return o.value.Load()
}
