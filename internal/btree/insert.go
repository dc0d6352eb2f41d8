package btree

import (
	"sort"

	"github.com/joeandaverde/nanodb/internal/buffer"
	"github.com/joeandaverde/nanodb/internal/storage"
)

// Insert adds (key, row) to the tree, splitting leaf and inner pages as
// needed and growing the tree's height when the root itself splits
// (spec.md §4.6). Unlike the reference design, this implementation
// always splits an overflowing page rather than first trying to
// relocate entries into a sibling with spare room; see DESIGN.md for why
// that simplification still satisfies every required tree invariant.
func (idx *Index) Insert(key []byte, row RowRef) error {
	if err := checkKeySize(key, idx.KeySize); err != nil {
		return err
	}
	session := buffer.NewSessionID()
	entry := Entry{Key: key, Row: row}

	leafNo, err := idx.findLeaf(key, session)
	if err != nil {
		return err
	}

	pt, err := idx.beginPageTxn()
	if err != nil {
		return err
	}
	if err := idx.insertIntoLeaf(pt, leafNo, entry, session); err != nil {
		_ = pt.abort()
		return err
	}
	return pt.commit()
}

func (idx *Index) insertIntoLeaf(pt *pageTxn, leafNo int, entry Entry, session buffer.SessionID) error {
	page, err := pt.load(leafNo, session)
	if err != nil {
		return err
	}

	entries := readLeafEntries(page, idx.KeySize)
	entries = insertSorted(entries, entry)

	capacity := leafCapacity(idx.File.PageSize(), idx.KeySize)
	if len(entries) <= capacity {
		writeLeafEntries(page, idx.KeySize, entries)
		if err := pt.log(leafNo, page); err != nil {
			_ = idx.Buffer.Unpin(idx.File, leafNo, session)
			return err
		}
		return idx.Buffer.Unpin(idx.File, leafNo, session)
	}

	if err := idx.splitLeaf(pt, page, leafNo, entries, session); err != nil {
		_ = idx.Buffer.Unpin(idx.File, leafNo, session)
		return err
	}
	return idx.Buffer.Unpin(idx.File, leafNo, session)
}

func insertSorted(entries []Entry, e Entry) []Entry {
	i := sort.Search(len(entries), func(i int) bool { return compareEntries(entries[i], e) >= 0 })
	out := make([]Entry, 0, len(entries)+1)
	out = append(out, entries[:i]...)
	out = append(out, e)
	out = append(out, entries[i:]...)
	return out
}

// splitLeaf divides entries (one more than leafNo's capacity) between
// leafNo and a freshly allocated right sibling, then inserts the
// separator key into the parent (or creates a new root if leafNo had
// none).
func (idx *Index) splitLeaf(pt *pageTxn, leftPage *storage.DBPage, leafNo int, entries []Entry, session buffer.SessionID) error {
	h := readLeafHeader(leftPage)
	mid := len(entries) / 2
	left := entries[:mid]
	right := entries[mid:]

	rightPage, rightNo, err := pt.alloc(session)
	if err != nil {
		return err
	}
	initLeafPage(rightPage, h.parent)
	writeLeafEntries(rightPage, idx.KeySize, right)

	oldNext := h.next
	writeLeafHeader(rightPage, leafHeader{parent: h.parent, next: oldNext, numEntries: len(right)})
	if err := pt.log(rightNo, rightPage); err != nil {
		return err
	}

	writeLeafEntries(leftPage, idx.KeySize, left)
	writeLeafHeader(leftPage, leafHeader{parent: h.parent, next: rightNo, numEntries: len(left)})
	if err := pt.log(leafNo, leftPage); err != nil {
		return err
	}

	separator := right[0]

	if h.parent == 0 {
		return idx.newRoot(pt, leafNo, rightNo, separator, session)
	}
	return idx.insertIntoInner(pt, h.parent, separator, rightNo, session)
}

// newRoot allocates a fresh inner root page over leftChild/rightChild
// and repoints both children's parent field at it.
func (idx *Index) newRoot(pt *pageTxn, leftChild, rightChild int, sep Entry, session buffer.SessionID) error {
	rootPage, rootNo, err := pt.alloc(session)
	if err != nil {
		return err
	}
	initInnerPage(rootPage, 0, leftChild, rightChild, sep)
	if err := pt.log(rootNo, rootPage); err != nil {
		return err
	}

	if err := idx.setParent(pt, leftChild, rootNo, session); err != nil {
		return err
	}
	if err := idx.setParent(pt, rightChild, rootNo, session); err != nil {
		return err
	}
	return idx.setRootPageNo(pt, rootNo)
}

func (idx *Index) setParent(pt *pageTxn, pageNo, parent int, session buffer.SessionID) error {
	page, err := pt.load(pageNo, session)
	if err != nil {
		return err
	}
	switch readKind(page) {
	case kindLeaf:
		h := readLeafHeader(page)
		h.parent = parent
		writeLeafHeader(page, h)
	case kindInner:
		h := readInnerHeader(page)
		h.parent = parent
		writeInnerHeader(page, h)
	}
	if err := pt.log(pageNo, page); err != nil {
		_ = idx.Buffer.Unpin(idx.File, pageNo, session)
		return err
	}
	return idx.Buffer.Unpin(idx.File, pageNo, session)
}

// insertIntoInner adds (sep, rightChild) to pageNo's body, splitting it
// (mirroring splitLeaf) if it overflows.
func (idx *Index) insertIntoInner(pt *pageTxn, pageNo int, sep Entry, rightChild int, session buffer.SessionID) error {
	page, err := pt.load(pageNo, session)
	if err != nil {
		return err
	}

	h := readInnerHeader(page)
	ie := readInnerEntries(page, idx.KeySize)

	i := sort.Search(len(ie.keys), func(i int) bool { return compareEntries(ie.keys[i], sep) >= 0 })
	keys := make([]Entry, 0, len(ie.keys)+1)
	keys = append(keys, ie.keys[:i]...)
	keys = append(keys, sep)
	keys = append(keys, ie.keys[i:]...)
	ptrs := make([]int, 0, len(ie.ptrs)+1)
	ptrs = append(ptrs, ie.ptrs[:i+1]...)
	ptrs = append(ptrs, rightChild)
	ptrs = append(ptrs, ie.ptrs[i+1:]...)

	capacity := innerCapacity(idx.File.PageSize(), idx.KeySize)
	if len(keys) <= capacity {
		writeInnerEntries(page, idx.KeySize, h.parent, innerEntries{ptrs: ptrs, keys: keys})
		if err := pt.log(pageNo, page); err != nil {
			_ = idx.Buffer.Unpin(idx.File, pageNo, session)
			return err
		}
		return idx.Buffer.Unpin(idx.File, pageNo, session)
	}

	if err := idx.splitInner(pt, page, pageNo, h.parent, ptrs, keys, session); err != nil {
		_ = idx.Buffer.Unpin(idx.File, pageNo, session)
		return err
	}
	return idx.Buffer.Unpin(idx.File, pageNo, session)
}

// splitInner divides an overflowing inner page's (k+1 ptrs, k keys) body
// around a middle key, which is pushed up to the parent rather than
// copied into either half (the inner-page analogue of splitLeaf).
func (idx *Index) splitInner(pt *pageTxn, leftPage *storage.DBPage, leftNo, parent int, ptrs []int, keys []Entry, session buffer.SessionID) error {
	mid := len(keys) / 2
	pushed := keys[mid]

	leftPtrs := ptrs[:mid+1]
	leftKeys := keys[:mid]
	rightPtrs := ptrs[mid+1:]
	rightKeys := keys[mid+1:]

	rightPage, rightNo, err := pt.alloc(session)
	if err != nil {
		return err
	}
	writeInnerEntries(rightPage, idx.KeySize, parent, innerEntries{ptrs: rightPtrs, keys: rightKeys})
	if err := pt.log(rightNo, rightPage); err != nil {
		return err
	}
	writeInnerEntries(leftPage, idx.KeySize, parent, innerEntries{ptrs: leftPtrs, keys: leftKeys})
	if err := pt.log(leftNo, leftPage); err != nil {
		return err
	}

	for _, child := range rightPtrs {
		if err := idx.setParent(pt, child, rightNo, session); err != nil {
			return err
		}
	}

	if parent == 0 {
		return idx.newRoot(pt, leftNo, rightNo, pushed, session)
	}
	return idx.insertIntoInner(pt, parent, pushed, rightNo, session)
}
