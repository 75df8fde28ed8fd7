package logfile

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/mvaleed/sluice/internal/queue"
	"github.com/mvaleed/sluice/internal/replay"
)

// Reader sequentially streams TransactionRecords from a single log
// file, implementing replay.LogReader. It reads strictly forward;
// SkipToLastCheckpointPosition discards records instead of seeking,
// since the reader does not know record boundaries without decoding.
type Reader struct {
	file    *os.File
	br      *countingReader
	fileID  uint32
	path    string
	pending *replay.TransactionRecord
}

// OpenReader opens path for sequential reading. fileID identifies the
// log this reader streams, per spec.md §6's LogReader.logFileID.
func OpenReader(path string, fileID uint32) (*Reader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("logfile: open %s: %w", path, err)
	}
	return &Reader{
		file:   f,
		br:     newCountingReader(bufio.NewReader(f)),
		fileID: fileID,
		path:   path,
	}, nil
}

// LogFileID implements replay.LogReader.
func (r *Reader) LogFileID() uint32 { return r.fileID }

// SkipToLastCheckpointPosition discards every record with
// WriteOrderID <= writeOrderID and, if a later record exists, buffers
// it so the next Next() call returns it.
func (r *Reader) SkipToLastCheckpointPosition(writeOrderID uint64) error {
	for {
		rec, err := r.readOne()
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return err
		}
		if rec.WriteOrderID > writeOrderID {
			r.pending = &rec
			return nil
		}
	}
}

// Next implements replay.LogReader.
func (r *Reader) Next() (replay.TransactionRecord, bool, error) {
	if r.pending != nil {
		rec := *r.pending
		r.pending = nil
		return rec, true, nil
	}

	rec, err := r.readOne()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return replay.TransactionRecord{}, false, nil
		}
		return replay.TransactionRecord{}, false, err
	}
	return rec, true, nil
}

// Close implements replay.LogReader.
func (r *Reader) Close() error {
	return r.file.Close()
}

// readOne decodes the next record. A clean EOF at a record boundary
// returns io.EOF. Any partial read mid-record is wrapped as
// replay.ErrTruncatedRecord, the non-fatal signal a crash mid-write
// left a partial trailing record.
func (r *Reader) readOne() (replay.TransactionRecord, error) {
	startPos := r.br.pos

	headerBuf := make([]byte, headerSize)
	if _, err := io.ReadFull(r.br, headerBuf); err != nil {
		if errors.Is(err, io.EOF) {
			return replay.TransactionRecord{}, io.EOF
		}
		return replay.TransactionRecord{}, fmt.Errorf("%w: %s at %d: %v", replay.ErrTruncatedRecord, r.path, startPos, err)
	}
	hdr := decodeHeader(headerBuf)

	var bodyLen int
	if hdr.Type == replay.Put {
		lenBuf := make([]byte, 4)
		if _, err := io.ReadFull(r.br, lenBuf); err != nil {
			return replay.TransactionRecord{}, fmt.Errorf("%w: %s at %d: %v", replay.ErrTruncatedRecord, r.path, startPos, err)
		}
		bodyLen = int(binary.BigEndian.Uint32(lenBuf))
	} else {
		bl, ok := bodyLenForFixedTypes(hdr.Type)
		if !ok {
			return replay.TransactionRecord{}, fmt.Errorf("%w: %s at %d: type=%d", replay.ErrUnknownRecordType, r.path, startPos, hdr.Type)
		}
		bodyLen = bl
	}

	body := make([]byte, bodyLen)
	if bodyLen > 0 {
		if _, err := io.ReadFull(r.br, body); err != nil {
			return replay.TransactionRecord{}, fmt.Errorf("%w: %s at %d: %v", replay.ErrTruncatedRecord, r.path, startPos, err)
		}
	}

	rec := replay.TransactionRecord{
		Type:          hdr.Type,
		TransactionID: hdr.TransactionID,
		WriteOrderID:  hdr.WriteOrderID,
	}
	switch hdr.Type {
	case replay.Put:
		rec.Location = queue.NewEventPointer(r.fileID, uint32(startPos))
	case replay.Take:
		rec.Location = decodeTakeBody(body)
	case replay.Commit:
		rec.CommittedType = replay.RecordType(body[0])
	case replay.Rollback:
	}
	return rec, nil
}

// countingReader wraps an io.Reader and tracks the number of bytes
// consumed, so PUT records can report their own starting offset.
type countingReader struct {
	r   io.Reader
	pos int64
}

func newCountingReader(r io.Reader) *countingReader {
	return &countingReader{r: r}
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	c.pos += int64(n)
	return n, err
}

var _ replay.LogReader = (*Reader)(nil)
