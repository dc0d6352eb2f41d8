package buffer_test

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joeandaverde/nanodb/internal/buffer"
	"github.com/joeandaverde/nanodb/internal/storage"
)

func newFile(t *testing.T, pageSize int) *storage.DBFile {
	t.Helper()
	path := filepath.Join(t.TempDir(), "t.tbl")
	f, err := storage.CreateDBFile(path, storage.HeapDataFile, pageSize)
	require.NoError(t, err)
	for i := 0; i < 8; i++ {
		_, err := f.AllocatePage()
		require.NoError(t, err)
	}
	return f
}

func TestGetPageMissThenAdd(t *testing.T) {
	f := newFile(t, storage.MinPageSize)
	m := buffer.NewManager(int64(storage.MinPageSize)*4, buffer.LRU, nil)
	sess := buffer.NewSessionID()

	_, ok := m.GetPage(f, 0, sess)
	assert.False(t, ok)

	page := storage.NewPage(f, 0)
	require.NoError(t, m.AddPage(page, sess))

	got, ok := m.GetPage(f, 0, sess)
	assert.True(t, ok)
	assert.Same(t, page, got)
}

func TestCacheBoundNeverExceeded(t *testing.T) {
	f := newFile(t, storage.MinPageSize)
	m := buffer.NewManager(int64(storage.MinPageSize)*3, buffer.LRU, nil)
	sess := buffer.NewSessionID()

	for i := 0; i < 8; i++ {
		page := storage.NewPage(f, i)
		require.NoError(t, m.AddPage(page, sess))
		require.NoError(t, m.Unpin(f, i, sess))
		assert.LessOrEqual(t, m.CachedBytes(), int64(storage.MinPageSize)*3)
	}
}

func TestPinnedPageNeverEvicted(t *testing.T) {
	f := newFile(t, storage.MinPageSize)
	m := buffer.NewManager(int64(storage.MinPageSize), buffer.LRU, nil)
	sess := buffer.NewSessionID()

	p0 := storage.NewPage(f, 0)
	require.NoError(t, m.AddPage(p0, sess)) // stays pinned

	p1 := storage.NewPage(f, 1)
	require.NoError(t, m.AddPage(p1, sess))
	require.NoError(t, m.Unpin(f, 1, sess))

	// p0 is still pinned, so adding p1 past the one-page budget must not
	// have evicted it.
	_, ok := m.GetPage(f, 0, sess)
	assert.True(t, ok)
}

func TestUnpinWithoutPinIsError(t *testing.T) {
	f := newFile(t, storage.MinPageSize)
	m := buffer.NewManager(int64(storage.MinPageSize)*4, buffer.LRU, nil)
	sess := buffer.NewSessionID()

	page := storage.NewPage(f, 0)
	require.NoError(t, m.AddPage(page, sess))
	require.NoError(t, m.Unpin(f, 0, sess))

	err := m.Unpin(f, 0, sess)
	assert.Error(t, err)
}

func TestFlushDBFileClearsDirtyAndDrops(t *testing.T) {
	f := newFile(t, storage.MinPageSize)
	m := buffer.NewManager(int64(storage.MinPageSize)*4, buffer.LRU, nil)
	sess := buffer.NewSessionID()

	page := storage.NewPage(f, 0)
	require.NoError(t, m.AddPage(page, sess))
	assert.True(t, page.Dirty())

	require.NoError(t, m.FlushDBFile(f))
	assert.False(t, page.Dirty())
	assert.Equal(t, int64(0), m.CachedBytes())
}
