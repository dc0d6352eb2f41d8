package tuple_test

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joeandaverde/nanodb/internal/storage"
	"github.com/joeandaverde/nanodb/internal/tuple"
)

func newTestPage(t *testing.T) *storage.DBPage {
	t.Helper()
	path := filepath.Join(t.TempDir(), "t.tbl")
	f, err := storage.CreateDBFile(path, storage.HeapDataFile, 512)
	require.NoError(t, err)
	return storage.NewPage(f, 0)
}

func intSchema() *tuple.Schema {
	return &tuple.Schema{Columns: []tuple.Column{
		{Name: "a", Type: tuple.Integer},
		{Name: "b", Type: tuple.VarChar, Length: 20},
	}}
}

func TestStoreAndLoadRoundTrip(t *testing.T) {
	page := newTestPage(t)
	schema := intSchema()
	values := []interface{}{int32(1), "hi"}

	size, err := tuple.GetTupleStorageSize(schema, values)
	require.NoError(t, err)

	pt, err := tuple.StoreNewTuple(page, 0, 0, schema, values)
	require.NoError(t, err)

	a, err := pt.GetColumnValue(0)
	require.NoError(t, err)
	assert.Equal(t, int32(1), a)

	b, err := pt.GetColumnValue(1)
	require.NoError(t, err)
	assert.Equal(t, "hi", b)

	// Reload from scratch and confirm offsets reconstruct identically.
	loaded, err := tuple.LoadPageTuple(page, 0, 0, schema)
	require.NoError(t, err)
	b2, err := loaded.GetColumnValue(1)
	require.NoError(t, err)
	assert.Equal(t, "hi", b2)

	_ = size
}

func TestVarcharEditGrowsTuple(t *testing.T) {
	page := newTestPage(t)
	schema := intSchema()

	sizeBefore, err := tuple.GetTupleStorageSize(schema, []interface{}{int32(1), "hi"})
	require.NoError(t, err)

	pt, err := tuple.StoreNewTuple(page, 0, 0, schema, []interface{}{int32(1), "hi"})
	require.NoError(t, err)

	resize, err := pt.SetColumnValue(1, "hello")
	require.NoError(t, err)
	assert.Equal(t, 3, resize.Delta)

	sizeAfter, err := tuple.GetTupleStorageSize(schema, []interface{}{int32(1), "hello"})
	require.NoError(t, err)
	assert.Equal(t, 3, sizeAfter-sizeBefore)

	v, err := pt.GetColumnValue(1)
	require.NoError(t, err)
	assert.Equal(t, "hello", v)

	a, err := pt.GetColumnValue(0)
	require.NoError(t, err)
	assert.Equal(t, int32(1), a)
}

func TestNullRoundTrip(t *testing.T) {
	page := newTestPage(t)
	schema := intSchema()

	pt, err := tuple.StoreNewTuple(page, 0, 0, schema, []interface{}{int32(1), nil})
	require.NoError(t, err)
	assert.True(t, pt.IsNullValue(1))

	v, err := pt.GetColumnValue(1)
	require.NoError(t, err)
	assert.Nil(t, v)

	_, err = pt.SetColumnValue(1, "x")
	require.NoError(t, err)
	assert.False(t, pt.IsNullValue(1))
	v, err = pt.GetColumnValue(1)
	require.NoError(t, err)
	assert.Equal(t, "x", v)

	_, err = pt.SetColumnValue(1, nil)
	require.NoError(t, err)
	assert.True(t, pt.IsNullValue(1))
}

func TestSetColumnValueBeforeVarcharShiftsOffset(t *testing.T) {
	page := newTestPage(t)
	schema := &tuple.Schema{Columns: []tuple.Column{
		{Name: "a", Type: tuple.VarChar, Length: 20},
		{Name: "b", Type: tuple.Integer},
	}}

	pt, err := tuple.StoreNewTuple(page, 0, 0, schema, []interface{}{"hi", int32(42)})
	require.NoError(t, err)

	_, err = pt.SetColumnValue(0, "hello world")
	require.NoError(t, err)

	b, err := pt.GetColumnValue(1)
	require.NoError(t, err)
	assert.Equal(t, int32(42), b)
}
