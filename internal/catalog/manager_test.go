package catalog_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joeandaverde/nanodb/internal/btree"
	"github.com/joeandaverde/nanodb/internal/buffer"
	"github.com/joeandaverde/nanodb/internal/catalog"
	"github.com/joeandaverde/nanodb/internal/storage"
	"github.com/joeandaverde/nanodb/internal/tuple"
)

func testSchema() *tuple.Schema {
	return &tuple.Schema{Columns: []tuple.Column{
		{Name: "id", Type: tuple.Integer},
		{Name: "name", Type: tuple.VarChar, Length: 50},
	}}
}

func newManager(t *testing.T) *catalog.Manager {
	t.Helper()
	dir := t.TempDir()
	m, err := catalog.Start(dir, storage.MinPageSize, 1<<20, buffer.LRU, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = m.Close() })
	return m
}

func TestCreateAndOpenTableRoundTrips(t *testing.T) {
	m := newManager(t)

	tbl, err := m.CreateTable("widgets", testSchema())
	require.NoError(t, err)
	id, err := tbl.Insert([]interface{}{int32(1), "alice"})
	require.NoError(t, err)
	require.NoError(t, m.CloseTable("widgets"))

	reopened, err := m.OpenTable("widgets")
	require.NoError(t, err)
	pt, err := reopened.GetTuple(id)
	require.NoError(t, err)
	name, err := pt.GetColumnValue(1)
	require.NoError(t, err)
	assert.Equal(t, "alice", name)
}

func TestCreateIndexAndSearch(t *testing.T) {
	m := newManager(t)

	idx, err := m.CreateIndex("widgets_by_id", 4)
	require.NoError(t, err)
	require.NoError(t, idx.Insert([]byte{0, 0, 0, 1}, btree.RowRef{PageNo: 1, Slot: 0}))

	result, err := idx.Search([]byte{0, 0, 0, 1})
	require.NoError(t, err)
	require.Len(t, result, 1)
}

func TestListTablesFindsHeapAndIndex(t *testing.T) {
	m := newManager(t)
	_, err := m.CreateTable("widgets", testSchema())
	require.NoError(t, err)
	_, err = m.CreateIndex("widgets_idx", 4)
	require.NoError(t, err)

	infos, err := m.ListTables()
	require.NoError(t, err)
	byName := map[string]storage.FileType{}
	for _, info := range infos {
		byName[info.Name] = info.Type
	}
	assert.Equal(t, storage.HeapDataFile, byName["widgets"])
	assert.Equal(t, storage.BTreeIndexFile, byName["widgets_idx"])
}

func TestDropTableRemovesFile(t *testing.T) {
	m := newManager(t)
	_, err := m.CreateTable("widgets", testSchema())
	require.NoError(t, err)
	require.NoError(t, m.DropTable("widgets"))

	_, err = m.OpenTable("widgets")
	assert.Error(t, err)
}
