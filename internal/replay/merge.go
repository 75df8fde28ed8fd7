package replay

import "container/heap"

// mergeItem pairs a reader with the record it is currently holding,
// so the heap can be reordered by re-peeking after each pop.
type mergeItem struct {
	reader LogReader
	rec    TransactionRecord
}

// mergeHeap orders live readers by their current record's
// WriteOrderID, ascending. Ties (which the WriteOrderID oracle should
// never produce) are broken by fileID then offset for determinism.
type mergeHeap []*mergeItem

func (h mergeHeap) Len() int { return len(h) }

func (h mergeHeap) Less(i, j int) bool {
	a, b := h[i].rec, h[j].rec
	if a.WriteOrderID != b.WriteOrderID {
		return a.WriteOrderID < b.WriteOrderID
	}
	if h[i].reader.LogFileID() != h[j].reader.LogFileID() {
		return h[i].reader.LogFileID() < h[j].reader.LogFileID()
	}
	return a.Location.Offset() < b.Location.Offset()
}

func (h mergeHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *mergeHeap) Push(x any) {
	*h = append(*h, x.(*mergeItem))
}

func (h *mergeHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return item
}

var _ heap.Interface = (*mergeHeap)(nil)
