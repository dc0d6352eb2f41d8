package wal_test

import (
	"encoding/binary"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joeandaverde/nanodb/internal/buffer"
	"github.com/joeandaverde/nanodb/internal/storage"
	"github.com/joeandaverde/nanodb/internal/wal"
)

func TestDiffSegmentsFindsMinimalChange(t *testing.T) {
	old := make([]byte, 20)
	next := make([]byte, 20)
	copy(old[10:14], []byte("AAAA"))
	copy(next[10:14], []byte("BBBB"))

	segs := wal.DiffSegments(old, next)
	require.Len(t, segs, 1)
	assert.Equal(t, 10, segs[0].Start)
	assert.Equal(t, []byte("AAAA"), segs[0].Undo)
	assert.Equal(t, []byte("BBBB"), segs[0].Redo)
}

func TestDiffSegmentsLumpsNearbyRuns(t *testing.T) {
	old := make([]byte, 20)
	next := make([]byte, 20)
	old[0], next[0] = 1, 2 // difference
	// 2 identical bytes, then another difference 2 bytes later: within lump distance
	old[3], next[3] = 9, 8

	segs := wal.DiffSegments(old, next)
	require.Len(t, segs, 1)
	assert.Equal(t, 0, segs[0].Start)
	assert.Equal(t, 4, len(segs[0].Redo))
}

func TestAppendAndReadAtRoundTrips(t *testing.T) {
	dir := t.TempDir()
	m, err := wal.Open(dir, nil)
	require.NoError(t, err)
	defer m.Close()

	txn, err := m.Begin()
	require.NoError(t, err)

	old := make([]byte, storage.MinPageSize)
	next := make([]byte, storage.MinPageSize)
	copy(next[0:5], []byte("hello"))

	lsn, err := txn.LogUpdate("data.tbl", 1, old, next)
	require.NoError(t, err)

	rec, err := m.ReadAt(lsn)
	require.NoError(t, err)
	assert.Equal(t, wal.UpdatePage, rec.Type)
	assert.Equal(t, "data.tbl", rec.FileName)
	require.Len(t, rec.Segments, 1)
	assert.Equal(t, []byte("hello"), rec.Segments[0].Redo[:5])

	require.NoError(t, txn.Commit())
}

func setupDataFile(t *testing.T, dir, name string) (*storage.DBFile, int) {
	t.Helper()
	f, err := storage.CreateDBFile(filepath.Join(dir, name), storage.HeapDataFile, storage.MinPageSize)
	require.NoError(t, err)
	pageNo, err := f.AllocatePage()
	require.NoError(t, err)
	page := make([]byte, storage.MinPageSize)
	copy(page[100:104], []byte("AAAA"))
	require.NoError(t, f.WritePage(pageNo, page))
	return f, pageNo
}

// Begin a txn, update page P writing "AAAA"->"BBBB", commit, but never
// flush P to disk. Recovery must redo the update so P reads "BBBB".
func TestRecoveryRedoesCommittedUpdate(t *testing.T) {
	dir := t.TempDir()
	const name = "data.tbl"
	f, pageNo := setupDataFile(t, dir, name)
	require.NoError(t, f.Close())

	m, err := wal.Open(dir, nil)
	require.NoError(t, err)

	txn, err := m.Begin()
	require.NoError(t, err)

	old := make([]byte, storage.MinPageSize)
	copy(old[100:104], []byte("AAAA"))
	next := make([]byte, storage.MinPageSize)
	copy(next[100:104], []byte("BBBB"))

	_, err = txn.LogUpdate(name, uint16(pageNo), old, next)
	require.NoError(t, err)
	require.NoError(t, txn.Commit())
	require.NoError(t, m.Close())

	m2, err := wal.Open(dir, nil)
	require.NoError(t, err)
	require.NoError(t, wal.Recover(m2, dir, nil))
	require.NoError(t, m2.Close())

	f2, err := storage.OpenDBFile(filepath.Join(dir, name))
	require.NoError(t, err)
	defer f2.Close()
	data, err := f2.ReadPage(pageNo)
	require.NoError(t, err)
	assert.Equal(t, "BBBB", string(data[100:104]))
}

// Checkpoint must flush a dirty cached page to its backing file, persist
// the log's current end as the recovery start point, and must not error
// with nothing dirty to flush.
func TestCheckpointFlushesDirtyPagesAndAdvancesState(t *testing.T) {
	dir := t.TempDir()
	const name = "data.tbl"
	f, pageNo := setupDataFile(t, dir, name)

	m, err := wal.Open(dir, nil)
	require.NoError(t, err)
	defer m.Close()

	buf := buffer.NewManager(int64(storage.MinPageSize)*4, buffer.LRU, nil)
	session := buffer.NewSessionID()

	data, err := f.ReadPage(pageNo)
	require.NoError(t, err)
	page := storage.LoadPage(f, pageNo, data)
	require.NoError(t, buf.AddPage(page, session))
	copy(page.Data[100:104], []byte("BBBB"))
	page.MarkDirty()

	require.NoError(t, wal.Checkpoint(m, buf, dir))

	onDisk, err := f.ReadPage(pageNo)
	require.NoError(t, err)
	assert.Equal(t, "BBBB", string(onDisk[100:104]))

	state, err := os.ReadFile(filepath.Join(dir, "wal-state.dat"))
	require.NoError(t, err)
	require.Len(t, state, 12)
	next := m.NextLSN()
	assert.Equal(t, next.FileNo, binary.BigEndian.Uint16(state[0:2]))
	assert.Equal(t, next.Offset, binary.BigEndian.Uint32(state[2:6]))
	require.NoError(t, f.Close())

	require.NoError(t, wal.Checkpoint(m, buf, dir))
}

// Begin a txn, apply the same update, but crash before commit. Recovery
// must undo back to "AAAA".
func TestRecoveryUndoesUncommittedUpdate(t *testing.T) {
	dir := t.TempDir()
	const name = "data.tbl"
	f, pageNo := setupDataFile(t, dir, name)
	require.NoError(t, f.Close())

	m, err := wal.Open(dir, nil)
	require.NoError(t, err)

	txn, err := m.Begin()
	require.NoError(t, err)

	old := make([]byte, storage.MinPageSize)
	copy(old[100:104], []byte("AAAA"))
	next := make([]byte, storage.MinPageSize)
	copy(next[100:104], []byte("BBBB"))

	_, err = txn.LogUpdate(name, uint16(pageNo), old, next)
	require.NoError(t, err)
	// no commit: simulate a crash mid-transaction
	require.NoError(t, m.Close())

	m2, err := wal.Open(dir, nil)
	require.NoError(t, err)
	require.NoError(t, wal.Recover(m2, dir, nil))
	require.NoError(t, m2.Close())

	f2, err := storage.OpenDBFile(filepath.Join(dir, name))
	require.NoError(t, err)
	defer f2.Close()
	data, err := f2.ReadPage(pageNo)
	require.NoError(t, err)
	assert.Equal(t, "AAAA", string(data[100:104]))
}
