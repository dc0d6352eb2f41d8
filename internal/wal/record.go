package wal

import (
	"encoding/binary"
	"fmt"

	"github.com/joeandaverde/nanodb/internal/dberr"
)

// RecordType tags a WAL record (spec.md §3).
type RecordType byte

const (
	StartTxn RecordType = iota
	CommitTxn
	AbortTxn
	UpdatePage
	UpdatePageRedoOnly
)

func (t RecordType) String() string {
	switch t {
	case StartTxn:
		return "START"
	case CommitTxn:
		return "COMMIT"
	case AbortTxn:
		return "ABORT"
	case UpdatePage:
		return "UPDATE_PAGE"
	case UpdatePageRedoOnly:
		return "UPDATE_PAGE_REDO_ONLY"
	default:
		return fmt.Sprintf("unknown(%d)", byte(t))
	}
}

func (t RecordType) isUpdate() bool {
	return t == UpdatePage || t == UpdatePageRedoOnly
}

// Segment is a contiguous byte range within one page whose before/after
// images an update record carries. Undo is nil for UPDATE_PAGE_REDO_ONLY
// records.
type Segment struct {
	Start int
	Undo  []byte
	Redo  []byte
}

// Record is one WAL entry. PrevLSN is the zero LSN for StartTxn records.
type Record struct {
	Type     RecordType
	TxnID    uint32
	PrevLSN  LSN
	FileName string
	PageNo   uint16
	Segments []Segment
}

// Encode serializes r to its on-disk form. startOffset is this record's
// own starting offset within its segment file, needed so update records
// can embed the trailing (startOffset, type) suffix spec.md §3 requires
// for backward scanning.
func (r Record) Encode(startOffset uint32) []byte {
	var buf []byte
	buf = append(buf, byte(r.Type))
	buf = appendUint32(buf, r.TxnID)

	if r.Type != StartTxn {
		buf = appendUint16(buf, r.PrevLSN.FileNo)
		buf = appendUint32(buf, r.PrevLSN.Offset)
	}

	if r.Type.isUpdate() {
		buf = appendUint16(buf, uint16(len(r.FileName)))
		buf = append(buf, r.FileName...)
		buf = appendUint16(buf, r.PageNo)
		buf = appendUint16(buf, uint16(len(r.Segments)))
		for _, seg := range r.Segments {
			buf = appendUint16(buf, uint16(seg.Start))
			buf = appendUint16(buf, uint16(len(seg.Redo)))
			if r.Type == UpdatePage {
				buf = append(buf, seg.Undo...)
			}
			buf = append(buf, seg.Redo...)
		}
		buf = appendUint32(buf, startOffset)
		buf = append(buf, byte(r.Type))
	}

	return buf
}

// Decode reads one record starting at the head of data, returning the
// record and the number of bytes consumed.
func Decode(data []byte) (Record, int, error) {
	if len(data) < 5 {
		return Record{}, 0, dberr.New(dberr.CorruptWAL, "truncated record header")
	}
	rec := Record{Type: RecordType(data[0]), TxnID: readUint32(data[1:5])}
	pos := 5

	if rec.Type != StartTxn {
		if len(data) < pos+6 {
			return Record{}, 0, dberr.New(dberr.CorruptWAL, "truncated prevLSN")
		}
		rec.PrevLSN = LSN{FileNo: readUint16(data[pos : pos+2]), Offset: readUint32(data[pos+2 : pos+6])}
		pos += 6
	}

	switch rec.Type {
	case StartTxn, CommitTxn, AbortTxn:
		return rec, pos, nil
	case UpdatePage, UpdatePageRedoOnly:
		if len(data) < pos+2 {
			return Record{}, 0, dberr.New(dberr.CorruptWAL, "truncated filename length")
		}
		nameLen := int(readUint16(data[pos : pos+2]))
		pos += 2
		if len(data) < pos+nameLen+4 {
			return Record{}, 0, dberr.New(dberr.CorruptWAL, "truncated filename/pageNo")
		}
		rec.FileName = string(data[pos : pos+nameLen])
		pos += nameLen
		rec.PageNo = readUint16(data[pos : pos+2])
		pos += 2
		segCount := int(readUint16(data[pos : pos+2]))
		pos += 2

		rec.Segments = make([]Segment, segCount)
		for i := 0; i < segCount; i++ {
			if len(data) < pos+4 {
				return Record{}, 0, dberr.New(dberr.CorruptWAL, "truncated segment header")
			}
			start := int(readUint16(data[pos : pos+2]))
			length := int(readUint16(data[pos+2 : pos+4]))
			pos += 4

			var undo []byte
			if rec.Type == UpdatePage {
				if len(data) < pos+length {
					return Record{}, 0, dberr.New(dberr.CorruptWAL, "truncated undo bytes")
				}
				undo = append([]byte(nil), data[pos:pos+length]...)
				pos += length
			}
			if len(data) < pos+length {
				return Record{}, 0, dberr.New(dberr.CorruptWAL, "truncated redo bytes")
			}
			redo := append([]byte(nil), data[pos:pos+length]...)
			pos += length

			rec.Segments[i] = Segment{Start: start, Undo: undo, Redo: redo}
		}

		if len(data) < pos+5 {
			return Record{}, 0, dberr.New(dberr.CorruptWAL, "truncated trailing suffix")
		}
		pos += 5 // recordStartOffset(4) + type(1), not re-validated by the forward decoder
		return rec, pos, nil
	default:
		return Record{}, 0, dberr.New(dberr.CorruptWAL, fmt.Sprintf("unknown record type %d", rec.Type))
	}
}

// trailingSuffix reads the (startOffset, type) suffix immediately
// preceding end within data, as written by an update record's Encode.
func trailingSuffix(data []byte, end int) (startOffset uint32, recType RecordType, ok bool) {
	if end < 5 {
		return 0, 0, false
	}
	t := RecordType(data[end-1])
	if !t.isUpdate() {
		return 0, 0, false
	}
	return readUint32(data[end-5 : end-1]), t, true
}

func appendUint16(buf []byte, v uint16) []byte {
	var b [2]byte
	binary.BigEndian.PutUint16(b[:], v)
	return append(buf, b[:]...)
}

func appendUint32(buf []byte, v uint32) []byte {
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], v)
	return append(buf, b[:]...)
}

func readUint16(b []byte) uint16 { return binary.BigEndian.Uint16(b) }
func readUint32(b []byte) uint32 { return binary.BigEndian.Uint32(b) }
