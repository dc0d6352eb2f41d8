package btree

import (
	"github.com/joeandaverde/nanodb/internal/buffer"
)

// Delete removes the (key, row) entry from the tree. This is a fresh
// design: spec.md §9 Open Question (a) notes the reference source never
// implemented delete. It mirrors Insert's split logic in reverse --
// removing a leaf that becomes empty, unlinking it from its parent, and
// collapsing any inner page left with a single child -- but, like
// Insert, does not borrow entries from siblings to keep pages above a
// minimum occupancy. See DESIGN.md.
func (idx *Index) Delete(key []byte, row RowRef) error {
	if err := checkKeySize(key, idx.KeySize); err != nil {
		return err
	}
	session := buffer.NewSessionID()
	target := Entry{Key: key, Row: row}

	root, err := idx.rootPageNo()
	if err != nil {
		return err
	}
	leafNo, err := idx.findLeaf(key, session)
	if err != nil {
		return err
	}

	pt, err := idx.beginPageTxn()
	if err != nil {
		return err
	}

	page, err := pt.load(leafNo, session)
	if err != nil {
		_ = pt.abort()
		return err
	}
	entries := readLeafEntries(page, idx.KeySize)

	idxFound := -1
	for i, e := range entries {
		if compareEntries(e, target) == 0 {
			idxFound = i
			break
		}
	}
	if idxFound < 0 {
		if err := idx.Buffer.Unpin(idx.File, leafNo, session); err != nil {
			_ = pt.abort()
			return err
		}
		return pt.commit()
	}

	entries = append(entries[:idxFound], entries[idxFound+1:]...)
	writeLeafEntries(page, idx.KeySize, entries)
	if err := pt.log(leafNo, page); err != nil {
		_ = idx.Buffer.Unpin(idx.File, leafNo, session)
		_ = pt.abort()
		return err
	}
	if err := idx.Buffer.Unpin(idx.File, leafNo, session); err != nil {
		_ = pt.abort()
		return err
	}

	if len(entries) > 0 || leafNo == root {
		return pt.commit()
	}
	if err := idx.removeEmptyLeaf(pt, leafNo, root, session); err != nil {
		_ = pt.abort()
		return err
	}
	return pt.commit()
}

// removeEmptyLeaf unlinks a now-empty, non-root leaf from the sibling
// chain and from its parent, releasing its page, then collapses any
// inner ancestor left with only one child.
func (idx *Index) removeEmptyLeaf(pt *pageTxn, leafNo, root int, session buffer.SessionID) error {
	page, err := idx.loadPage(leafNo, session)
	if err != nil {
		return err
	}
	h := readLeafHeader(page)
	if err := idx.Buffer.Unpin(idx.File, leafNo, session); err != nil {
		return err
	}

	if prev, err := idx.findPrevLeaf(root, leafNo, session); err != nil {
		return err
	} else if prev != 0 {
		prevPage, err := pt.load(prev, session)
		if err != nil {
			return err
		}
		ph := readLeafHeader(prevPage)
		ph.next = h.next
		writeLeafHeader(prevPage, ph)
		if err := pt.log(prev, prevPage); err != nil {
			_ = idx.Buffer.Unpin(idx.File, prev, session)
			return err
		}
		if err := idx.Buffer.Unpin(idx.File, prev, session); err != nil {
			return err
		}
	}

	if err := idx.releasePage(pt, leafNo, session); err != nil {
		return err
	}

	return idx.removeChild(pt, h.parent, leafNo, session)
}

func (idx *Index) findPrevLeaf(root, target int, session buffer.SessionID) (int, error) {
	cur, err := idx.leftmostLeaf(root, session)
	if err != nil {
		return 0, err
	}
	if cur == target {
		return 0, nil
	}
	for cur != 0 {
		page, err := idx.loadPage(cur, session)
		if err != nil {
			return 0, err
		}
		h := readLeafHeader(page)
		if err := idx.Buffer.Unpin(idx.File, cur, session); err != nil {
			return 0, err
		}
		if h.next == target {
			return cur, nil
		}
		cur = h.next
	}
	return 0, nil
}

// removeChild deletes childNo's pointer (and the separator adjacent to
// it) from parent's body, releasing parent if it is left with a single
// remaining child, or promoting that child to root if parent was the
// root.
func (idx *Index) removeChild(pt *pageTxn, parent, childNo int, session buffer.SessionID) error {
	page, err := pt.load(parent, session)
	if err != nil {
		return err
	}
	h := readInnerHeader(page)
	ie := readInnerEntries(page, idx.KeySize)

	pos := -1
	for i, p := range ie.ptrs {
		if p == childNo {
			pos = i
			break
		}
	}
	if pos < 0 {
		return idx.Buffer.Unpin(idx.File, parent, session)
	}

	ptrs := append(append([]int{}, ie.ptrs[:pos]...), ie.ptrs[pos+1:]...)
	var keys []Entry
	switch {
	case pos == 0:
		keys = append([]Entry{}, ie.keys[1:]...)
	default:
		keys = append(append([]Entry{}, ie.keys[:pos-1]...), ie.keys[pos:]...)
	}

	writeInnerEntries(page, idx.KeySize, h.parent, innerEntries{ptrs: ptrs, keys: keys})
	if err := pt.log(parent, page); err != nil {
		_ = idx.Buffer.Unpin(idx.File, parent, session)
		return err
	}
	if err := idx.Buffer.Unpin(idx.File, parent, session); err != nil {
		return err
	}

	root, err := idx.rootPageNo()
	if err != nil {
		return err
	}

	if len(ptrs) > 1 {
		return nil
	}

	// Single remaining child: collapse this inner page.
	onlyChild := ptrs[0]
	if parent == root {
		if err := idx.setParent(pt, onlyChild, 0, session); err != nil {
			return err
		}
		if err := idx.setRootPageNo(pt, onlyChild); err != nil {
			return err
		}
		return idx.releasePage(pt, parent, session)
	}

	if err := idx.setParent(pt, onlyChild, h.parent, session); err != nil {
		return err
	}
	if err := idx.releasePage(pt, parent, session); err != nil {
		return err
	}
	return idx.replaceChild(pt, h.parent, parent, onlyChild, session)
}

// replaceChild swaps oldChild for newChild in parent's pointer array
// without touching separator keys, used when an inner page collapses
// into its sole remaining child.
func (idx *Index) replaceChild(pt *pageTxn, parent, oldChild, newChild int, session buffer.SessionID) error {
	page, err := pt.load(parent, session)
	if err != nil {
		return err
	}
	h := readInnerHeader(page)
	ie := readInnerEntries(page, idx.KeySize)
	for i, p := range ie.ptrs {
		if p == oldChild {
			ie.ptrs[i] = newChild
		}
	}
	writeInnerEntries(page, idx.KeySize, h.parent, ie)
	if err := pt.log(parent, page); err != nil {
		_ = idx.Buffer.Unpin(idx.File, parent, session)
		return err
	}
	return idx.Buffer.Unpin(idx.File, parent, session)
}
