package btree_test

import (
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joeandaverde/nanodb/internal/btree"
	"github.com/joeandaverde/nanodb/internal/buffer"
	"github.com/joeandaverde/nanodb/internal/storage"
	"github.com/joeandaverde/nanodb/internal/wal"
)

func intKey(i int32) []byte {
	b := make([]byte, 4)
	binary.BigEndian.PutUint32(b, uint32(i))
	return b
}

func newRowRef(i int32) btree.RowRef {
	return btree.RowRef{PageNo: uint32(i), Slot: 0}
}

// newIndex wires a real WAL manager into the returned index (rather than
// nil) so the insert/delete tests below also exercise WAL-before-data,
// not just B+ tree page mechanics.
func newIndex(t *testing.T) *btree.Index {
	t.Helper()
	dir := t.TempDir()
	buf := buffer.NewManager(1<<20, buffer.LRU, nil)
	w, err := wal.Open(dir, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = w.Close() })
	idx, err := btree.CreateIndex(dir, "by_id", 4, storage.MinPageSize, buf, w, nil)
	require.NoError(t, err)
	return idx
}

func TestInsertAndSearch(t *testing.T) {
	idx := newIndex(t)

	require.NoError(t, idx.Insert(intKey(1), btree.RowRef{PageNo: 1, Slot: 0}))
	require.NoError(t, idx.Insert(intKey(2), btree.RowRef{PageNo: 1, Slot: 1}))

	refs, err := idx.Search(intKey(1))
	require.NoError(t, err)
	assert.Equal(t, []btree.RowRef{{PageNo: 1, Slot: 0}}, refs)

	refs, err = idx.Search(intKey(3))
	require.NoError(t, err)
	assert.Empty(t, refs)
}

func TestInsertCausesSplitsAndStaysVerifiable(t *testing.T) {
	idx := newIndex(t)

	for i := int32(0); i < 500; i++ {
		require.NoError(t, idx.Insert(intKey(i), btree.RowRef{PageNo: uint32(i), Slot: 0}))
	}

	for i := int32(0); i < 500; i++ {
		refs, err := idx.Search(intKey(i))
		require.NoError(t, err)
		require.Len(t, refs, 1)
		assert.Equal(t, uint32(i), refs[0].PageNo)
	}

	total, err := idx.File.TotalPages()
	require.NoError(t, err)
	assert.Greater(t, total, 2, "500 entries on a small page must force at least one split")

	result, err := idx.Verify()
	require.NoError(t, err)
	assert.True(t, result.OK(), "%v", result.Errors)
}

func TestDuplicateKeysDistinctRows(t *testing.T) {
	idx := newIndex(t)

	require.NoError(t, idx.Insert(intKey(7), btree.RowRef{PageNo: 1, Slot: 0}))
	require.NoError(t, idx.Insert(intKey(7), btree.RowRef{PageNo: 1, Slot: 1}))
	require.NoError(t, idx.Insert(intKey(7), btree.RowRef{PageNo: 2, Slot: 0}))

	refs, err := idx.Search(intKey(7))
	require.NoError(t, err)
	assert.Len(t, refs, 3)
}

func TestDeleteRemovesEntry(t *testing.T) {
	idx := newIndex(t)

	for i := int32(0); i < 50; i++ {
		require.NoError(t, idx.Insert(intKey(i), btree.RowRef{PageNo: uint32(i), Slot: 0}))
	}

	require.NoError(t, idx.Delete(intKey(25), btree.RowRef{PageNo: 25, Slot: 0}))

	refs, err := idx.Search(intKey(25))
	require.NoError(t, err)
	assert.Empty(t, refs)

	for _, i := range []int32{0, 24, 26, 49} {
		refs, err := idx.Search(intKey(i))
		require.NoError(t, err)
		assert.Len(t, refs, 1)
	}

	result, err := idx.Verify()
	require.NoError(t, err)
	assert.True(t, result.OK(), "%v", result.Errors)
}

func TestDeleteAllThenVerify(t *testing.T) {
	idx := newIndex(t)

	var keys []int32
	for i := int32(0); i < 200; i++ {
		keys = append(keys, i)
		require.NoError(t, idx.Insert(intKey(i), btree.RowRef{PageNo: uint32(i), Slot: 0}))
	}
	for _, i := range keys {
		require.NoError(t, idx.Delete(intKey(i), btree.RowRef{PageNo: uint32(i), Slot: 0}))
	}

	for _, i := range keys {
		refs, err := idx.Search(intKey(i))
		require.NoError(t, err)
		assert.Empty(t, refs)
	}

	result, err := idx.Verify()
	require.NoError(t, err)
	assert.True(t, result.OK(), "%v", result.Errors)
}

// TestInsertsSurviveRecoveryWithoutFlush commits enough inserts to split
// leaves and grow an inner root, closes the WAL without ever flushing the
// index's buffer cache, then replays recovery against a freshly reopened
// file and confirms every key is still found -- the real-index
// counterpart to internal/wal's byte-buffer recovery tests.
func TestInsertsSurviveRecoveryWithoutFlush(t *testing.T) {
	dir := t.TempDir()
	buf := buffer.NewManager(1<<20, buffer.LRU, nil)
	w, err := wal.Open(dir, nil)
	require.NoError(t, err)

	idx, err := btree.CreateIndex(dir, "by_id", 4, storage.MinPageSize, buf, w, nil)
	require.NoError(t, err)

	for i := int32(0); i < 100; i++ {
		require.NoError(t, idx.Insert(intKey(i), newRowRef(i)))
	}

	// No Buffer.FlushDBFile / idx.Close: dirty leaf/inner pages never
	// reach disk except through WAL redo (header-page writes go straight
	// to disk).
	require.NoError(t, w.Close())

	w2, err := wal.Open(dir, nil)
	require.NoError(t, err)
	require.NoError(t, wal.Recover(w2, dir, nil))
	require.NoError(t, w2.Close())

	buf2 := buffer.NewManager(1<<20, buffer.LRU, nil)
	reopened, err := btree.OpenIndex(dir, "by_id", buf2, nil, nil)
	require.NoError(t, err)

	for i := int32(0); i < 100; i++ {
		refs, err := reopened.Search(intKey(i))
		require.NoError(t, err)
		assert.Equal(t, []btree.RowRef{newRowRef(i)}, refs)
	}

	result, err := reopened.Verify()
	require.NoError(t, err)
	assert.True(t, result.OK(), "%v", result.Errors)
}
