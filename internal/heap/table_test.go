package heap_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joeandaverde/nanodb/internal/buffer"
	"github.com/joeandaverde/nanodb/internal/heap"
	"github.com/joeandaverde/nanodb/internal/storage"
	"github.com/joeandaverde/nanodb/internal/tuple"
	"github.com/joeandaverde/nanodb/internal/wal"
)

func testSchema() *tuple.Schema {
	return &tuple.Schema{Columns: []tuple.Column{
		{Name: "id", Type: tuple.Integer},
		{Name: "name", Type: tuple.VarChar, Length: 50},
	}}
}

// newTable wires a real WAL manager into the returned table (rather than
// nil) so every mutation test below also exercises the WAL-before-data
// discipline, not just the page mechanics.
func newTable(t *testing.T) *heap.Table {
	t.Helper()
	dir := t.TempDir()
	buf := buffer.NewManager(1<<20, buffer.LRU, nil)
	w, err := wal.Open(dir, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = w.Close() })
	tbl, err := heap.CreateTable(dir, "widgets", testSchema(), storage.MinPageSize, buf, w, nil)
	require.NoError(t, err)
	return tbl
}

func TestInsertAndGetTuple(t *testing.T) {
	tbl := newTable(t)

	id, err := tbl.Insert([]interface{}{int32(1), "alice"})
	require.NoError(t, err)
	assert.Equal(t, heap.RowID{PageNo: 1, Slot: 0}, id)

	pt, err := tbl.GetTuple(id)
	require.NoError(t, err)
	name, err := pt.GetColumnValue(1)
	require.NoError(t, err)
	assert.Equal(t, "alice", name)
}

func TestInsertSpillsToNewPage(t *testing.T) {
	tbl := newTable(t)

	var last heap.RowID
	for i := 0; i < 100; i++ {
		id, err := tbl.Insert([]interface{}{int32(i), "some-longish-name-value"})
		require.NoError(t, err)
		last = id
	}
	assert.Greater(t, last.PageNo, 1)
}

func TestUpdateGrowsVarchar(t *testing.T) {
	tbl := newTable(t)

	id, err := tbl.Insert([]interface{}{int32(1), "hi"})
	require.NoError(t, err)

	require.NoError(t, tbl.Update(id, 1, "hello there"))

	pt, err := tbl.GetTuple(id)
	require.NoError(t, err)
	v, err := pt.GetColumnValue(1)
	require.NoError(t, err)
	assert.Equal(t, "hello there", v)
}

func TestDeleteThenGetFails(t *testing.T) {
	tbl := newTable(t)

	id, err := tbl.Insert([]interface{}{int32(1), "bob"})
	require.NoError(t, err)

	require.NoError(t, tbl.Delete(id))

	_, err = tbl.GetTuple(id)
	assert.Error(t, err)
}

func TestDeleteNotifiesListener(t *testing.T) {
	tbl := newTable(t)
	var deleted []heap.RowID
	tbl.Listener = listenerFunc(func(table string, id heap.RowID) {
		deleted = append(deleted, id)
	})

	id, err := tbl.Insert([]interface{}{int32(1), "carol"})
	require.NoError(t, err)
	require.NoError(t, tbl.Delete(id))

	assert.Equal(t, []heap.RowID{id}, deleted)
}

func TestCursorSkipsDeletedRows(t *testing.T) {
	tbl := newTable(t)

	var ids []heap.RowID
	for i := 0; i < 5; i++ {
		id, err := tbl.Insert([]interface{}{int32(i), "x"})
		require.NoError(t, err)
		ids = append(ids, id)
	}
	require.NoError(t, tbl.Delete(ids[2]))

	c := heap.NewCursor(tbl)
	var seen []heap.RowID
	for {
		id, ok, err := c.Next()
		require.NoError(t, err)
		if !ok {
			break
		}
		seen = append(seen, id)
	}

	assert.Len(t, seen, 4)
	assert.NotContains(t, seen, ids[2])
}

type listenerFunc func(table string, id heap.RowID)

func (f listenerFunc) OnRowDeleted(table string, id heap.RowID) { f(table, id) }

// TestInsertSurvivesRecoveryWithoutFlush commits an Insert, closes the WAL
// without ever flushing the table's buffer cache, then replays recovery
// against a freshly reopened file and confirms the row is there -- the
// real-table counterpart to internal/wal's byte-buffer recovery tests.
func TestInsertSurvivesRecoveryWithoutFlush(t *testing.T) {
	dir := t.TempDir()
	buf := buffer.NewManager(1<<20, buffer.LRU, nil)
	w, err := wal.Open(dir, nil)
	require.NoError(t, err)

	tbl, err := heap.CreateTable(dir, "widgets", testSchema(), storage.MinPageSize, buf, w, nil)
	require.NoError(t, err)

	id, err := tbl.Insert([]interface{}{int32(1), "alice"})
	require.NoError(t, err)

	// No Buffer.FlushDBFile / tbl.Close: the dirty data page never reaches
	// disk except through WAL redo.
	require.NoError(t, w.Close())

	w2, err := wal.Open(dir, nil)
	require.NoError(t, err)
	require.NoError(t, wal.Recover(w2, dir, nil))
	require.NoError(t, w2.Close())

	buf2 := buffer.NewManager(1<<20, buffer.LRU, nil)
	reopened, err := heap.OpenTable(dir, "widgets", buf2, nil, nil)
	require.NoError(t, err)

	pt, err := reopened.GetTuple(id)
	require.NoError(t, err)
	name, err := pt.GetColumnValue(1)
	require.NoError(t, err)
	assert.Equal(t, "alice", name)
}
