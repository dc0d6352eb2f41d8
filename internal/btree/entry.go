// Package btree implements the B+ Tree Index of spec.md §4.6: inner and
// leaf pages discriminated by a byte-0 tag, insert via sibling split,
// a free list of reclaimed pages, and a five-pass structural verifier.
//
// Delete is a fresh design (spec.md §9 Open Question (a), see DESIGN.md):
// the reference source never implemented it. Insert here also omits the
// spec's sibling-relocation optimization and always splits on overflow;
// this is a documented simplification (DESIGN.md) that preserves every
// required ordering/reachability invariant while keeping the
// implementation's surface area tractable.
package btree

import (
	"bytes"
	"encoding/binary"
	"fmt"

	"github.com/joeandaverde/nanodb/internal/dberr"
)

// RowRef is the external tuple reference appended to every stored key so
// all keys in the tree are totally ordered and unique, per spec.md §3.
type RowRef struct {
	PageNo uint32
	Slot   uint16
}

const rowRefSize = 6

func (r RowRef) bytes() []byte {
	b := make([]byte, rowRefSize)
	binary.BigEndian.PutUint32(b[0:4], r.PageNo)
	binary.BigEndian.PutUint16(b[4:6], r.Slot)
	return b
}

func parseRowRef(b []byte) RowRef {
	return RowRef{PageNo: binary.BigEndian.Uint32(b[0:4]), Slot: binary.BigEndian.Uint16(b[4:6])}
}

// Entry is a stored key literal: the caller's logical key bytes plus the
// RowRef trailer.
type Entry struct {
	Key []byte
	Row RowRef
}

func entrySize(keySize int) int { return keySize + rowRefSize }

func encodeEntry(e Entry, keySize int) []byte {
	b := make([]byte, entrySize(keySize))
	copy(b, e.Key)
	copy(b[keySize:], e.Row.bytes())
	return b
}

func decodeEntry(b []byte, keySize int) Entry {
	key := make([]byte, keySize)
	copy(key, b[:keySize])
	return Entry{Key: key, Row: parseRowRef(b[keySize:])}
}

// compareEntries orders by logical key first, then by RowRef, so no two
// distinct entries ever compare equal (spec.md §3's uniqueness
// invariant).
func compareEntries(a, b Entry) int {
	if c := bytes.Compare(a.Key, b.Key); c != 0 {
		return c
	}
	return bytes.Compare(a.Row.bytes(), b.Row.bytes())
}

func checkKeySize(key []byte, keySize int) error {
	if len(key) != keySize {
		return dberr.New(dberr.InvalidArgument, fmt.Sprintf("key length %d does not match index key size %d", len(key), keySize))
	}
	return nil
}
