package storage

import (
	"fmt"

	"github.com/joeandaverde/nanodb/internal/dberr"
)

// FileType is the first byte of any DBFile, selecting the subordinate
// manager responsible for interpreting the rest of the file (spec.md §6).
type FileType byte

const (
	// HeapDataFile is a row-store table: a header page followed by
	// slotted-page data pages.
	HeapDataFile FileType = iota + 1
	// BTreeIndexFile is a B+ tree index file.
	BTreeIndexFile
	// ColumnstoreDataFile holds one column's encoded blocks.
	ColumnstoreDataFile
	// ColumnstoreHeaderFile holds a column-store table's schema.
	ColumnstoreHeaderFile
	// WALFile is a write-ahead-log segment.
	WALFile
)

func (t FileType) String() string {
	switch t {
	case HeapDataFile:
		return "heap"
	case BTreeIndexFile:
		return "btree"
	case ColumnstoreDataFile:
		return "columnstore-data"
	case ColumnstoreHeaderFile:
		return "columnstore-header"
	case WALFile:
		return "wal"
	default:
		return fmt.Sprintf("unknown(%d)", byte(t))
	}
}

// MinPageSize and MaxPageSize bound valid page sizes (spec.md §3).
const (
	MinPageSize = 512
	MaxPageSize = 65536
	// DefaultPageSize is used when a caller doesn't specify one.
	DefaultPageSize = 8192
)

// IsValidPageSize reports whether size is a power of two in
// [MinPageSize, MaxPageSize].
func IsValidPageSize(size int) bool {
	if size < MinPageSize || size > MaxPageSize {
		return false
	}
	return size&(size-1) == 0
}

// EncodePageSize returns log2(size), the form stored on disk at file
// offset 1. Panics if size is not a valid page size - callers must
// validate with IsValidPageSize first.
func EncodePageSize(size int) byte {
	if !IsValidPageSize(size) {
		panic(fmt.Sprintf("invalid page size %d", size))
	}
	var log2 byte
	for s := size; s > 1; s >>= 1 {
		log2++
	}
	return log2
}

// DecodePageSize is the inverse of EncodePageSize.
func DecodePageSize(log2 byte) int {
	return 1 << log2
}

// ValidatePageSize returns an InvalidArgument error if size is not a
// valid page size.
func ValidatePageSize(size int) error {
	if !IsValidPageSize(size) {
		return dberr.New(dberr.InvalidArgument, fmt.Sprintf("page size %d must be a power of two in [%d, %d]", size, MinPageSize, MaxPageSize))
	}
	return nil
}
