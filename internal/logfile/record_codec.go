// Package logfile is the concrete, in-repo implementation of the
// "log-file writer and its rolling policy" and "event serialization
// format" collaborators spec.md names as out of scope for the core.
// It gives the ReplayEngine's narrow LogReader interface a real
// implementation to run against, and gives the operator CLI real log
// files to inspect.
package logfile

import (
	"encoding/binary"
	"fmt"

	"github.com/mvaleed/sluice/internal/queue"
	"github.com/mvaleed/sluice/internal/replay"
)

// headerSize is the fixed prefix common to every record: type byte,
// transaction ID, write-order ID.
const headerSize = 1 + 8 + 8

// encodedRecord holds everything needed to serialize one record.
// Payload is only meaningful for PUT.
type encodedRecord struct {
	Type          replay.RecordType
	TransactionID uint64
	WriteOrderID  uint64
	TakeFileID    uint32
	TakeOffset    uint32
	CommittedType replay.RecordType
	Payload       []byte
}

// encode returns rec's wire representation in a new slice, per SPEC_FULL.md §3.
func encode(rec encodedRecord) []byte {
	var body []byte
	switch rec.Type {
	case replay.Put:
		body = make([]byte, 4+len(rec.Payload))
		binary.BigEndian.PutUint32(body[0:4], uint32(len(rec.Payload)))
		copy(body[4:], rec.Payload)
	case replay.Take:
		body = make([]byte, 8)
		binary.BigEndian.PutUint32(body[0:4], rec.TakeFileID)
		binary.BigEndian.PutUint32(body[4:8], rec.TakeOffset)
	case replay.Rollback:
		body = nil
	case replay.Commit:
		body = []byte{byte(rec.CommittedType)}
	default:
		panic(fmt.Sprintf("logfile: encode: unknown record type %d", rec.Type))
	}

	buf := make([]byte, headerSize+len(body))
	buf[0] = byte(rec.Type)
	binary.BigEndian.PutUint64(buf[1:9], rec.TransactionID)
	binary.BigEndian.PutUint64(buf[9:17], rec.WriteOrderID)
	copy(buf[headerSize:], body)
	return buf
}

// decodedHeader is the fixed prefix, decoded before the caller knows
// how many more bytes to read for the type-specific body.
type decodedHeader struct {
	Type          replay.RecordType
	TransactionID uint64
	WriteOrderID  uint64
}

func decodeHeader(buf []byte) decodedHeader {
	return decodedHeader{
		Type:          replay.RecordType(buf[0]),
		TransactionID: binary.BigEndian.Uint64(buf[1:9]),
		WriteOrderID:  binary.BigEndian.Uint64(buf[9:17]),
	}
}

// bodyLenForFixedTypes returns the body length for record types whose
// body length does not depend on stored data (everything but PUT,
// whose 4-byte length prefix must be read first).
func bodyLenForFixedTypes(t replay.RecordType) (int, bool) {
	switch t {
	case replay.Take:
		return 8, true
	case replay.Rollback:
		return 0, true
	case replay.Commit:
		return 1, true
	default:
		return 0, false
	}
}

func decodeTakeBody(body []byte) queue.EventPointer {
	fileID := binary.BigEndian.Uint32(body[0:4])
	offset := binary.BigEndian.Uint32(body[4:8])
	return queue.NewEventPointer(fileID, offset)
}
