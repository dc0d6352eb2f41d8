package btree

import (
	"fmt"

	"github.com/joeandaverde/nanodb/internal/buffer"
	"github.com/joeandaverde/nanodb/internal/storage"
)

// VerifyResult collects every structural problem a Verify pass found; a
// freshly verified, uncorrupted index returns a VerifyResult with no
// Errors.
type VerifyResult struct {
	Errors []string
}

func (r *VerifyResult) fail(format string, args ...interface{}) {
	r.Errors = append(r.Errors, fmt.Sprintf(format, args...))
}

func (r *VerifyResult) OK() bool { return len(r.Errors) == 0 }

// Verify runs five independent structural passes over the index
// (spec.md §4.6/§8): reachability from the root with no cycles, the free
// list disjoint from the reachable set, every allocated page accounted
// for by one of those two sets, parent pointers and key ordering
// consistent top to bottom, and the leaf chain's keys never decreasing
// left to right.
func (idx *Index) Verify() (*VerifyResult, error) {
	result := &VerifyResult{}
	session := buffer.NewSessionID()

	root, err := idx.rootPageNo()
	if err != nil {
		return nil, err
	}

	reachable := map[int]bool{}
	if err := idx.verifyReachability(root, reachable, session, result); err != nil {
		return nil, err
	}

	free, err := idx.verifyFreeList(reachable, session, result)
	if err != nil {
		return nil, err
	}

	if err := idx.verifyAllPagesAccounted(reachable, free, result); err != nil {
		return nil, err
	}

	if _, _, err := idx.verifyOrderAndParents(root, 0, nil, nil, session, result); err != nil {
		return nil, err
	}

	if err := idx.verifyLeafChain(root, session, result); err != nil {
		return nil, err
	}

	return result, nil
}

// Pass 1: every page reachable from root visited exactly once.
func (idx *Index) verifyReachability(pageNo int, visited map[int]bool, session buffer.SessionID, result *VerifyResult) error {
	if visited[pageNo] {
		result.fail("page %d reachable via more than one path (cycle or shared child)", pageNo)
		return nil
	}
	visited[pageNo] = true

	page, err := idx.loadPage(pageNo, session)
	if err != nil {
		return err
	}
	kind := readKind(page)
	if kind != kindInner {
		return idx.Buffer.Unpin(idx.File, pageNo, session)
	}
	ie := readInnerEntries(page, idx.KeySize)
	if err := idx.Buffer.Unpin(idx.File, pageNo, session); err != nil {
		return err
	}
	for _, child := range ie.ptrs {
		if err := idx.verifyReachability(child, visited, session, result); err != nil {
			return err
		}
	}
	return nil
}

// Pass 2: the free list forms a simple chain disjoint from every
// reachable page.
func (idx *Index) verifyFreeList(reachable map[int]bool, session buffer.SessionID, result *VerifyResult) (map[int]bool, error) {
	free := map[int]bool{}
	total, err := idx.File.TotalPages()
	if err != nil {
		return nil, err
	}

	data, err := idx.File.ReadPage(headerPageNo)
	if err != nil {
		return nil, err
	}
	cur := readFileHeader(storage.LoadPage(idx.File, headerPageNo, data)).freeListHead

	for steps := 0; cur != 0; steps++ {
		if steps > total {
			result.fail("free list has a cycle")
			break
		}
		if reachable[cur] {
			result.fail("page %d is both reachable and on the free list", cur)
		}
		if free[cur] {
			result.fail("page %d appears twice on the free list", cur)
			break
		}
		free[cur] = true

		page, err := idx.loadPage(cur, session)
		if err != nil {
			return nil, err
		}
		next := readEmptyPage(page)
		if err := idx.Buffer.Unpin(idx.File, cur, session); err != nil {
			return nil, err
		}
		cur = next
	}
	return free, nil
}

// Pass 3: every page in [1, total) is either reachable or free, never
// neither.
func (idx *Index) verifyAllPagesAccounted(reachable, free map[int]bool, result *VerifyResult) error {
	total, err := idx.File.TotalPages()
	if err != nil {
		return err
	}
	for p := 1; p < total; p++ {
		if !reachable[p] && !free[p] {
			result.fail("page %d is neither reachable from the root nor on the free list", p)
		}
	}
	return nil
}

// Pass 4: parent pointers match the actual tree shape, and every
// separator key equals the minimum key of the subtree to its right.
func (idx *Index) verifyOrderAndParents(pageNo, expectedParent int, lower, upper []byte, session buffer.SessionID, result *VerifyResult) (min, max []byte, err error) {
	page, err := idx.loadPage(pageNo, session)
	if err != nil {
		return nil, nil, err
	}

	if readKind(page) == kindLeaf {
		h := readLeafHeader(page)
		if h.parent != expectedParent {
			result.fail("leaf %d has parent %d, expected %d", pageNo, h.parent, expectedParent)
		}
		entries := readLeafEntries(page, idx.KeySize)
		if err := idx.Buffer.Unpin(idx.File, pageNo, session); err != nil {
			return nil, nil, err
		}
		for i := 1; i < len(entries); i++ {
			if compareEntries(entries[i-1], entries[i]) >= 0 {
				result.fail("leaf %d entries out of order at index %d", pageNo, i)
			}
		}
		for _, e := range entries {
			if lower != nil && compareBytes(e.Key, lower) < 0 {
				result.fail("leaf %d key below its lower bound", pageNo)
			}
			if upper != nil && compareBytes(e.Key, upper) >= 0 {
				result.fail("leaf %d key at or above its upper bound", pageNo)
			}
		}
		if len(entries) == 0 {
			return nil, nil, nil
		}
		return entries[0].Key, entries[len(entries)-1].Key, nil
	}

	h := readInnerHeader(page)
	if h.parent != expectedParent {
		result.fail("inner page %d has parent %d, expected %d", pageNo, h.parent, expectedParent)
	}
	ie := readInnerEntries(page, idx.KeySize)
	if err := idx.Buffer.Unpin(idx.File, pageNo, session); err != nil {
		return nil, nil, err
	}

	for i := 1; i < len(ie.keys); i++ {
		if compareEntries(ie.keys[i-1], ie.keys[i]) >= 0 {
			result.fail("inner page %d separator keys out of order at index %d", pageNo, i)
		}
	}

	var overallMin, overallMax []byte
	for i, child := range ie.ptrs {
		var childLower, childUpper []byte
		if i > 0 {
			childLower = ie.keys[i-1].Key
		} else {
			childLower = lower
		}
		if i < len(ie.keys) {
			childUpper = ie.keys[i].Key
		} else {
			childUpper = upper
		}

		cmin, cmax, err := idx.verifyOrderAndParents(child, pageNo, childLower, childUpper, session, result)
		if err != nil {
			return nil, nil, err
		}
		if i == 0 {
			overallMin = cmin
		}
		overallMax = cmax
		if i > 0 && cmin != nil && compareBytes(ie.keys[i-1].Key, cmin) != 0 {
			result.fail("inner page %d separator %d does not equal its right child's minimum key", pageNo, i-1)
		}
	}
	return overallMin, overallMax, nil
}

// Pass 5: following leaf.next links in order never decreases key order.
func (idx *Index) verifyLeafChain(root int, session buffer.SessionID, result *VerifyResult) error {
	cur, err := idx.leftmostLeaf(root, session)
	if err != nil {
		return err
	}

	var lastKey []byte
	visited := map[int]bool{}
	for cur != 0 {
		if visited[cur] {
			result.fail("leaf chain has a cycle at page %d", cur)
			break
		}
		visited[cur] = true

		page, err := idx.loadPage(cur, session)
		if err != nil {
			return err
		}
		h := readLeafHeader(page)
		entries := readLeafEntries(page, idx.KeySize)
		if err := idx.Buffer.Unpin(idx.File, cur, session); err != nil {
			return err
		}
		if len(entries) > 0 {
			if lastKey != nil && compareBytes(entries[0].Key, lastKey) < 0 {
				result.fail("leaf %d begins before the previous leaf ended", cur)
			}
			lastKey = entries[len(entries)-1].Key
		}
		cur = h.next
	}
	return nil
}

func (idx *Index) leftmostLeaf(pageNo int, session buffer.SessionID) (int, error) {
	for {
		page, err := idx.loadPage(pageNo, session)
		if err != nil {
			return 0, err
		}
		if readKind(page) == kindLeaf {
			if err := idx.Buffer.Unpin(idx.File, pageNo, session); err != nil {
				return 0, err
			}
			return pageNo, nil
		}
		ie := readInnerEntries(page, idx.KeySize)
		if err := idx.Buffer.Unpin(idx.File, pageNo, session); err != nil {
			return 0, err
		}
		pageNo = ie.ptrs[0]
	}
}
