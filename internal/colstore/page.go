package colstore

import (
	"encoding/binary"

	"github.com/joeandaverde/nanodb/internal/storage"
)

// Column-store data page header, per spec.md §4.7:
//   [0:2]   reserved (DICTIONARY columns stash their trailer's start page
//           number here once Finalize runs; zero otherwise)
//   [2:6]   encoding marker
//   [6:10]  total cell count written to this page
//   [10:14] next-write offset (free-space boundary)
// Blocks begin at offset 14.
const pageHeaderSize = 14

func readPageHeader(page *storage.DBPage) (reserved uint16, encoding Encoding, cellCount, nextOffset int) {
	reserved = binary.BigEndian.Uint16(page.Data[0:2])
	encoding = Encoding(binary.BigEndian.Uint32(page.Data[2:6]))
	cellCount = int(binary.BigEndian.Uint32(page.Data[6:10]))
	nextOffset = int(binary.BigEndian.Uint32(page.Data[10:14]))
	return
}

func writePageHeader(page *storage.DBPage, reserved uint16, encoding Encoding, cellCount, nextOffset int) {
	binary.BigEndian.PutUint16(page.Data[0:2], reserved)
	binary.BigEndian.PutUint32(page.Data[2:6], uint32(encoding))
	binary.BigEndian.PutUint32(page.Data[6:10], uint32(cellCount))
	binary.BigEndian.PutUint32(page.Data[10:14], uint32(nextOffset))
	page.MarkDirty()
}

func initPage(page *storage.DBPage, encoding Encoding) {
	writePageHeader(page, 0, encoding, 0, pageHeaderSize)
}

func setReserved(page *storage.DBPage, reserved uint16) {
	_, encoding, cellCount, nextOffset := readPageHeader(page)
	writePageHeader(page, reserved, encoding, cellCount, nextOffset)
}
