package wal

import (
	"encoding/binary"
	"io"
	"os"
	"path/filepath"

	"github.com/joeandaverde/nanodb/internal/dberr"
	"github.com/joeandaverde/nanodb/internal/storage"
)

// stateFileName holds the persisted firstLSN/nextLSN transaction-state
// spec.md §4.8 requires recovery to start from.
const stateFileName = "wal-state.dat"

// State is the transaction-state file's contents: the oldest LSN
// recovery must still scan from, and the log position as of the last
// successful Finalize.
type State struct {
	FirstLSN LSN
	NextLSN  LSN
}

func loadState(baseDir string) (State, error) {
	path := filepath.Join(baseDir, stateFileName)
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return State{FirstLSN: LSN{FileNo: 0, Offset: headerSize}}, nil
	}
	if err != nil {
		return State{}, dberr.Wrapf(dberr.IOFailure, err, "read wal state %s", path)
	}
	if len(data) < 12 {
		return State{}, dberr.New(dberr.CorruptWAL, "truncated wal state file")
	}
	return State{
		FirstLSN: LSN{FileNo: binary.BigEndian.Uint16(data[0:2]), Offset: binary.BigEndian.Uint32(data[2:6])},
		NextLSN:  LSN{FileNo: binary.BigEndian.Uint16(data[6:8]), Offset: binary.BigEndian.Uint32(data[8:12])},
	}, nil
}

func saveState(baseDir string, s State) error {
	path := filepath.Join(baseDir, stateFileName)
	data := make([]byte, 12)
	binary.BigEndian.PutUint16(data[0:2], s.FirstLSN.FileNo)
	binary.BigEndian.PutUint32(data[2:6], s.FirstLSN.Offset)
	binary.BigEndian.PutUint16(data[6:8], s.NextLSN.FileNo)
	binary.BigEndian.PutUint32(data[8:12], s.NextLSN.Offset)

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return dberr.Wrapf(dberr.IOFailure, err, "write wal state %s", tmp)
	}
	if err := os.Rename(tmp, path); err != nil {
		return dberr.Wrapf(dberr.IOFailure, err, "install wal state %s", path)
	}
	return nil
}

// fileStore applies update-record segments to the data files they name,
// opening each DBFile lazily and keeping it open for the duration of one
// recovery or rollback pass.
type fileStore struct {
	baseDir string
	open    map[string]*storage.DBFile
}

func newFileStore(baseDir string) *fileStore {
	return &fileStore{baseDir: baseDir, open: make(map[string]*storage.DBFile)}
}

func (s *fileStore) get(name string) (*storage.DBFile, error) {
	if f, ok := s.open[name]; ok {
		return f, nil
	}
	f, err := storage.OpenDBFile(filepath.Join(s.baseDir, name))
	if err != nil {
		return nil, err
	}
	s.open[name] = f
	return f, nil
}

func (s *fileStore) close() error {
	for _, f := range s.open {
		if err := f.Close(); err != nil {
			return err
		}
	}
	return nil
}

func (s *fileStore) applyRedo(rec Record) error {
	return s.apply(rec, true)
}

func (s *fileStore) applyUndo(rec Record) error {
	return s.apply(rec, false)
}

func (s *fileStore) apply(rec Record, redo bool) error {
	f, err := s.get(rec.FileName)
	if err != nil {
		return err
	}
	data, err := f.ReadPage(int(rec.PageNo))
	if err != nil {
		return err
	}
	for _, seg := range rec.Segments {
		bytes := seg.Redo
		if !redo {
			bytes = seg.Undo
		}
		copy(data[seg.Start:seg.Start+len(bytes)], bytes)
	}
	return f.WritePage(int(rec.PageNo), data)
}

// stepBack locates the record immediately preceding cursor, crossing
// segment-file boundaries via each file's stored previous-file-end
// pointer. It returns io.EOF once it walks past fileNo 0's start.
func stepBack(m *Manager, baseDir string, cursor LSN) (Record, LSN, error) {
	if cursor.Offset <= headerSize {
		if cursor.FileNo == 0 {
			return Record{}, LSN{}, io.EOF
		}
		prevEnd, err := readFileHeader(baseDir, cursor.FileNo)
		if err != nil {
			return Record{}, LSN{}, err
		}
		return stepBack(m, baseDir, LSN{FileNo: cursor.FileNo - 1, Offset: prevEnd})
	}

	data, err := m.readSegmentFrom(cursor.FileNo, 0)
	if err != nil {
		return Record{}, LSN{}, err
	}
	end := int(cursor.Offset)

	if startOffset, _, ok := trailingSuffix(data, end); ok {
		rec, _, err := Decode(data[startOffset:end])
		return rec, LSN{FileNo: cursor.FileNo, Offset: startOffset}, err
	}

	if end-11 >= headerSize {
		candidate := end - 11
		switch RecordType(data[candidate]) {
		case CommitTxn, AbortTxn:
			rec, _, err := Decode(data[candidate:end])
			return rec, LSN{FileNo: cursor.FileNo, Offset: uint32(candidate)}, err
		}
	}
	if end-5 >= headerSize {
		candidate := end - 5
		if RecordType(data[candidate]) == StartTxn {
			rec, _, err := Decode(data[candidate:end])
			return rec, LSN{FileNo: cursor.FileNo, Offset: uint32(candidate)}, err
		}
	}

	return Record{}, LSN{}, dberr.New(dberr.CorruptWAL, "cannot locate preceding wal record")
}

// Rollback undoes a single in-progress transaction by walking its
// prevLSN chain from lastLSN back to its START record (spec.md §4.8),
// then appends an ABORT_TXN record.
func Rollback(m *Manager, baseDir string, txnID uint32, lastLSN LSN) error {
	store := newFileStore(baseDir)
	defer store.close()

	cur := lastLSN
	chainTail := lastLSN
	for !cur.IsZero() {
		rec, err := m.ReadAt(cur)
		if err != nil {
			return err
		}
		if rec.TxnID != txnID {
			return dberr.New(dberr.CorruptWAL, "wal chain txnID mismatch during rollback")
		}

		switch rec.Type {
		case UpdatePage:
			if err := store.applyUndo(rec); err != nil {
				return err
			}
			lsn, err := m.Append(Record{
				Type:     UpdatePageRedoOnly,
				TxnID:    txnID,
				PrevLSN:  chainTail,
				FileName: rec.FileName,
				PageNo:   rec.PageNo,
				Segments: undoAsRedo(rec.Segments),
			})
			if err != nil {
				return err
			}
			chainTail = lsn
		case StartTxn:
			_, err := m.Append(Record{Type: AbortTxn, TxnID: txnID, PrevLSN: chainTail})
			return err
		}

		cur = rec.PrevLSN
	}
	return dberr.New(dberr.CorruptWAL, "wal chain ended without a START record")
}
