package logfile

import (
	"bufio"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/mvaleed/sluice/internal/queue"
	"github.com/mvaleed/sluice/internal/replay"
)

// Writer appends transaction records to a single append-only log
// file, tracking the byte offset each record starts at so PUT records
// can report their own location back to the caller. Durability mode
// (async / medium / full) follows brook's newLog split, but all three
// modes share one synchronous bufio.Writer over the file: async mode
// differs only in that a background goroutine flushes it on a 100ms
// timer instead of every append doing so inline.
type Writer struct {
	mu      sync.Mutex
	file    *os.File
	bw      *bufio.Writer
	fileID  uint32
	path    string
	nextPos int64

	flushToOS   bool
	flushToDisk bool

	tickerStop chan struct{}
	tickerDone chan struct{}
}

func newWriter(path string, fileID uint32, bufSize int, flushToOS, flushToDisk bool) (*Writer, error) {
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return nil, fmt.Errorf("logfile: open %s: %w", path, err)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("logfile: stat %s: %w", path, err)
	}

	w := &Writer{
		file:        f,
		bw:          bufio.NewWriterSize(f, bufSize),
		fileID:      fileID,
		path:        path,
		nextPos:     info.Size(),
		flushToOS:   flushToOS,
		flushToDisk: flushToDisk,
	}

	if !flushToOS && !flushToDisk {
		w.tickerStop = make(chan struct{})
		w.tickerDone = make(chan struct{})
		go w.flushLoop()
	}

	return w, nil
}

// flushLoop backs the async durability mode: it periodically flushes
// the buffered writer to the OS so a crash loses at most one tick's
// worth of appended records instead of everything appended since the
// last explicit Flush.
func (w *Writer) flushLoop() {
	defer close(w.tickerDone)
	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			w.mu.Lock()
			w.bw.Flush()
			w.mu.Unlock()
		case <-w.tickerStop:
			return
		}
	}
}

// NewWriterAsync buffers writes and flushes on a 100ms timer.
func NewWriterAsync(path string, fileID uint32) (*Writer, error) {
	return newWriter(path, fileID, 4096*2, false, false)
}

// NewWriterMediumDurable flushes to the OS page cache on every append
// but does not fsync.
func NewWriterMediumDurable(path string, fileID uint32) (*Writer, error) {
	return newWriter(path, fileID, 4096, true, false)
}

// NewWriterFullDurable flushes and fsyncs on every append.
func NewWriterFullDurable(path string, fileID uint32) (*Writer, error) {
	return newWriter(path, fileID, 4096, true, true)
}

// FileID returns this writer's log file identifier.
func (w *Writer) FileID() uint32 { return w.fileID }

// Path returns the file path.
func (w *Writer) Path() string { return w.path }

// Size returns the number of bytes appended so far.
func (w *Writer) Size() int64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.nextPos
}

func (w *Writer) append(buf []byte) (uint32, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	offset := uint32(w.nextPos)
	if _, err := w.bw.Write(buf); err != nil {
		return 0, fmt.Errorf("logfile: append to %s: %w", w.path, err)
	}
	if w.flushToOS {
		if err := w.bw.Flush(); err != nil {
			return 0, fmt.Errorf("logfile: flush %s: %w", w.path, err)
		}
	}
	if w.flushToDisk {
		if err := w.file.Sync(); err != nil {
			return 0, fmt.Errorf("logfile: sync %s: %w", w.path, err)
		}
	}
	w.nextPos += int64(len(buf))
	return offset, nil
}

// AppendPut writes a PUT record and returns the pointer to its own
// location, per spec.md §3 ("For PUT: the (fileID, offset) is the
// location of this very record in the log").
func (w *Writer) AppendPut(txnID, writeOrderID uint64, payload []byte) (queue.EventPointer, error) {
	buf := encode(encodedRecord{
		Type:          replay.Put,
		TransactionID: txnID,
		WriteOrderID:  writeOrderID,
		Payload:       payload,
	})
	offset, err := w.append(buf)
	if err != nil {
		return queue.EmptyPointer, err
	}
	return queue.NewEventPointer(w.fileID, offset), nil
}

// AppendTake writes a TAKE record referencing target's original PUT.
func (w *Writer) AppendTake(txnID, writeOrderID uint64, target queue.EventPointer) error {
	buf := encode(encodedRecord{
		Type:          replay.Take,
		TransactionID: txnID,
		WriteOrderID:  writeOrderID,
		TakeFileID:    target.FileID(),
		TakeOffset:    target.Offset(),
	})
	_, err := w.append(buf)
	return err
}

// AppendRollback writes a ROLLBACK record for txnID.
func (w *Writer) AppendRollback(txnID, writeOrderID uint64) error {
	buf := encode(encodedRecord{
		Type:          replay.Rollback,
		TransactionID: txnID,
		WriteOrderID:  writeOrderID,
	})
	_, err := w.append(buf)
	return err
}

// AppendCommit writes a COMMIT record for txnID, tagged with which
// flavor (PUT or TAKE) is being committed.
func (w *Writer) AppendCommit(txnID, writeOrderID uint64, committedType replay.RecordType) error {
	buf := encode(encodedRecord{
		Type:          replay.Commit,
		TransactionID: txnID,
		WriteOrderID:  writeOrderID,
		CommittedType: committedType,
	})
	_, err := w.append(buf)
	return err
}

// Flush pushes buffered bytes to the OS without necessarily fsyncing.
func (w *Writer) Flush() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.bw.Flush()
}

// Close stops the async flush goroutine (if any), flushes any
// remaining buffered bytes, and closes the underlying file.
func (w *Writer) Close() error {
	if w.tickerStop != nil {
		close(w.tickerStop)
		<-w.tickerDone
		w.tickerStop = nil
	}

	w.mu.Lock()
	flushErr := w.bw.Flush()
	w.mu.Unlock()

	fileErr := w.file.Close()
	if flushErr != nil {
		return fmt.Errorf("logfile: close %s: %w", w.path, flushErr)
	}
	return fileErr
}
