package heap

import "github.com/joeandaverde/nanodb/internal/buffer"

// FirstDataPage returns the first data page number, or 0 if the table has
// no data pages yet.
func (t *Table) FirstDataPage() (int, error) {
	last, err := t.lastDataPageNo()
	if err != nil {
		return 0, err
	}
	if last < firstDataPageNo {
		return 0, nil
	}
	return firstDataPageNo, nil
}

// LastDataPage returns the last data page number, or 0 if the table has
// no data pages yet.
func (t *Table) LastDataPage() (int, error) {
	return t.lastDataPageNo()
}

// NextDataPage returns pageNo+1, or 0 once it runs past the last data
// page.
func (t *Table) NextDataPage(pageNo int) (int, error) {
	last, err := t.lastDataPageNo()
	if err != nil {
		return 0, err
	}
	if pageNo+1 > last {
		return 0, nil
	}
	return pageNo + 1, nil
}

// PrevDataPage returns pageNo-1, or 0 once it runs before the first data
// page.
func (t *Table) PrevDataPage(pageNo int) (int, error) {
	if pageNo-1 < firstDataPageNo {
		return 0, nil
	}
	return pageNo - 1, nil
}

// Cursor is the tuple-level reader of spec.md §4.5: it iterates a table's
// rows in (page, slot) order, skipping empty slots.
type Cursor struct {
	table   *Table
	session buffer.SessionID

	pageNo int
	slot   int
	done   bool
}

// NewCursor starts a cursor positioned before the table's first tuple.
func NewCursor(t *Table) *Cursor {
	return &Cursor{table: t, session: buffer.NewSessionID(), pageNo: 0, slot: -1}
}

// Next advances the cursor to the next live tuple and returns its RowID,
// or ok=false once the table is exhausted.
func (c *Cursor) Next() (id RowID, ok bool, err error) {
	if c.done {
		return RowID{}, false, nil
	}

	if c.pageNo == 0 {
		first, err := c.table.FirstDataPage()
		if err != nil {
			return RowID{}, false, err
		}
		if first == 0 {
			c.done = true
			return RowID{}, false, nil
		}
		c.pageNo = first
		c.slot = -1
	}

	for {
		page, err := c.table.loadPage(c.pageNo, c.session)
		if err != nil {
			return RowID{}, false, err
		}

		next := NextTupleSlot(page, c.slot)
		if c.slot == -1 {
			next = FirstTupleSlot(page)
		}
		if next >= 0 {
			if err := c.table.Buffer.Unpin(c.table.File, c.pageNo, c.session); err != nil {
				return RowID{}, false, err
			}
			c.slot = next
			return RowID{PageNo: c.pageNo, Slot: next}, true, nil
		}

		if err := c.table.Buffer.Unpin(c.table.File, c.pageNo, c.session); err != nil {
			return RowID{}, false, err
		}

		nextPage, err := c.table.NextDataPage(c.pageNo)
		if err != nil {
			return RowID{}, false, err
		}
		if nextPage == 0 {
			c.done = true
			return RowID{}, false, nil
		}
		c.pageNo = nextPage
		c.slot = -1
	}
}
