package btree

import (
	"encoding/binary"

	"github.com/joeandaverde/nanodb/internal/storage"
)

// pageKind is the byte-0 discriminator spec.md §4.6 assigns to every
// btree page: empty (free-list node), inner, or leaf.
type pageKind byte

const (
	kindEmpty pageKind = 0
	kindInner pageKind = 1
	kindLeaf  pageKind = 2
)

func readKind(page *storage.DBPage) pageKind { return pageKind(page.Data[0]) }

// Empty page: [0]=kind(0) [1:3]=nextFree(uint16, 0=end of list)

func writeEmptyPage(page *storage.DBPage, nextFree int) {
	page.Data[0] = byte(kindEmpty)
	binary.BigEndian.PutUint16(page.Data[1:3], uint16(nextFree))
	for i := 3; i < len(page.Data); i++ {
		page.Data[i] = 0
	}
	page.MarkDirty()
}

func readEmptyPage(page *storage.DBPage) (nextFree int) {
	return int(binary.BigEndian.Uint16(page.Data[1:3]))
}

// Leaf page: [0]=kind(2) [1:5]=parent(uint32) [5:9]=next(uint32)
// [9:11]=numEntries(uint16), entries packed sorted from offset 11.

const leafHeaderSize = 11

func leafCapacity(pageSize, keySize int) int {
	c := (pageSize - leafHeaderSize) / entrySize(keySize)
	if c < 1 {
		c = 1
	}
	return c
}

type leafHeader struct {
	parent     int
	next       int
	numEntries int
}

func readLeafHeader(page *storage.DBPage) leafHeader {
	return leafHeader{
		parent:     int(binary.BigEndian.Uint32(page.Data[1:5])),
		next:       int(binary.BigEndian.Uint32(page.Data[5:9])),
		numEntries: int(binary.BigEndian.Uint16(page.Data[9:11])),
	}
}

func writeLeafHeader(page *storage.DBPage, h leafHeader) {
	page.Data[0] = byte(kindLeaf)
	binary.BigEndian.PutUint32(page.Data[1:5], uint32(h.parent))
	binary.BigEndian.PutUint32(page.Data[5:9], uint32(h.next))
	binary.BigEndian.PutUint16(page.Data[9:11], uint16(h.numEntries))
	page.MarkDirty()
}

func initLeafPage(page *storage.DBPage, parent int) {
	writeLeafHeader(page, leafHeader{parent: parent})
}

func readLeafEntries(page *storage.DBPage, keySize int) []Entry {
	h := readLeafHeader(page)
	es := entrySize(keySize)
	entries := make([]Entry, h.numEntries)
	for i := 0; i < h.numEntries; i++ {
		pos := leafHeaderSize + i*es
		entries[i] = decodeEntry(page.Data[pos:pos+es], keySize)
	}
	return entries
}

// writeLeafEntries overwrites a leaf page's entire entry array (entries
// must already be sorted) and updates numEntries.
func writeLeafEntries(page *storage.DBPage, keySize int, entries []Entry) {
	es := entrySize(keySize)
	for i, e := range entries {
		pos := leafHeaderSize + i*es
		copy(page.Data[pos:pos+es], encodeEntry(e, keySize))
	}
	h := readLeafHeader(page)
	h.numEntries = len(entries)
	writeLeafHeader(page, h)
}

// Inner page: [0]=kind(1) [1:5]=parent(uint32) [5:7]=numKeys(uint16),
// then ptr0(4) key0(entrySize) ptr1(4) key1(entrySize) ... ptrK(4).

const innerHeaderSize = 7

func innerCapacity(pageSize, keySize int) int {
	// header + (k+1) ptrs + k keys <= pageSize
	c := (pageSize - innerHeaderSize - 4) / (4 + entrySize(keySize))
	if c < 1 {
		c = 1
	}
	return c
}

type innerHeader struct {
	parent  int
	numKeys int
}

func readInnerHeader(page *storage.DBPage) innerHeader {
	return innerHeader{
		parent:  int(binary.BigEndian.Uint32(page.Data[1:5])),
		numKeys: int(binary.BigEndian.Uint16(page.Data[5:7])),
	}
}

func writeInnerHeader(page *storage.DBPage, h innerHeader) {
	page.Data[0] = byte(kindInner)
	binary.BigEndian.PutUint32(page.Data[1:5], uint32(h.parent))
	binary.BigEndian.PutUint16(page.Data[5:7], uint16(h.numKeys))
	page.MarkDirty()
}

// innerEntries is the in-memory form of an inner page's body: k+1 child
// pointers interleaved with k separator keys.
type innerEntries struct {
	ptrs []int
	keys []Entry
}

func readInnerEntries(page *storage.DBPage, keySize int) innerEntries {
	h := readInnerHeader(page)
	es := entrySize(keySize)
	out := innerEntries{ptrs: make([]int, h.numKeys+1), keys: make([]Entry, h.numKeys)}
	pos := innerHeaderSize
	out.ptrs[0] = int(binary.BigEndian.Uint32(page.Data[pos : pos+4]))
	pos += 4
	for i := 0; i < h.numKeys; i++ {
		out.keys[i] = decodeEntry(page.Data[pos:pos+es], keySize)
		pos += es
		out.ptrs[i+1] = int(binary.BigEndian.Uint32(page.Data[pos : pos+4]))
		pos += 4
	}
	return out
}

func writeInnerEntries(page *storage.DBPage, keySize int, parent int, ie innerEntries) {
	es := entrySize(keySize)
	pos := innerHeaderSize
	binary.BigEndian.PutUint32(page.Data[pos:pos+4], uint32(ie.ptrs[0]))
	pos += 4
	for i, k := range ie.keys {
		copy(page.Data[pos:pos+es], encodeEntry(k, keySize))
		pos += es
		binary.BigEndian.PutUint32(page.Data[pos:pos+4], uint32(ie.ptrs[i+1]))
		pos += 4
	}
	writeInnerHeader(page, innerHeader{parent: parent, numKeys: len(ie.keys)})
	page.MarkDirty()
}

func initInnerPage(page *storage.DBPage, parent, leftChild, rightChild int, sep Entry) {
	writeInnerEntries(page, len(sep.Key), parent, innerEntries{
		ptrs: []int{leftChild, rightChild},
		keys: []Entry{sep},
	})
}

// Index header page (page 0): [0]=fileType replica [1]=pagesize replica
// [2:6]=rootPageNo(uint32) [6:8]=freeListHead(uint16) [8]=keySize(1).

const headerPageNo = 0

type fileHeader struct {
	rootPageNo   int
	freeListHead int
	keySize      int
}

func readFileHeader(page *storage.DBPage) fileHeader {
	return fileHeader{
		rootPageNo:   int(binary.BigEndian.Uint32(page.Data[2:6])),
		freeListHead: int(binary.BigEndian.Uint16(page.Data[6:8])),
		keySize:      int(page.Data[8]),
	}
}

func writeFileHeader(page *storage.DBPage, fileType byte, pageSizeLog2 byte, h fileHeader) {
	page.Data[0] = fileType
	page.Data[1] = pageSizeLog2
	binary.BigEndian.PutUint32(page.Data[2:6], uint32(h.rootPageNo))
	binary.BigEndian.PutUint16(page.Data[6:8], uint16(h.freeListHead))
	page.Data[8] = byte(h.keySize)
	page.MarkDirty()
}
