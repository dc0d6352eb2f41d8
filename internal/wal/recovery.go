package wal

import (
	"io"
	"os"

	"github.com/sirupsen/logrus"

	"github.com/joeandaverde/nanodb/internal/buffer"
	"github.com/joeandaverde/nanodb/internal/dberr"
	"github.com/joeandaverde/nanodb/internal/storage"
)

type txnInfo struct {
	lastLSN    LSN
	inProgress bool
}

// Recover runs spec.md §4.8's three-step crash recovery: analysis+redo
// forward from the persisted firstLSN, undo backward from the log's
// current end for any transaction still open afterward, then Finalize.
func Recover(m *Manager, baseDir string, log *logrus.Logger) error {
	if log == nil {
		log = logrus.New()
	}
	state, err := loadState(baseDir)
	if err != nil {
		return err
	}
	nextLSN := m.NextLSN()

	store := newFileStore(baseDir)
	defer store.close()

	txns, err := analyzeAndRedo(m, baseDir, store, state.FirstLSN, nextLSN)
	if err != nil {
		return err
	}
	log.WithField("in_flight", len(openTxns(txns))).Info("wal analysis+redo complete")

	if err := undo(m, baseDir, store, txns, state.FirstLSN, nextLSN); err != nil {
		return err
	}

	return Finalize(m, baseDir, nextLSN)
}

func openTxns(txns map[uint32]*txnInfo) []uint32 {
	var ids []uint32
	for id, t := range txns {
		if t.inProgress {
			ids = append(ids, id)
		}
	}
	return ids
}

// analyzeAndRedo is the forward pass: re-apply every update record's new
// bytes unconditionally (idempotent, since the bytes written are always
// identical) and track which transactions are still open at nextLSN.
func analyzeAndRedo(m *Manager, baseDir string, store *fileStore, firstLSN, nextLSN LSN) (map[uint32]*txnInfo, error) {
	txns := map[uint32]*txnInfo{}
	cursor := firstLSN

	for cursor.Less(nextLSN) {
		end, err := segmentEnd(baseDir, cursor.FileNo, m)
		if err != nil {
			return nil, err
		}
		if cursor.Offset >= end {
			cursor = LSN{FileNo: cursor.FileNo + 1, Offset: headerSize}
			continue
		}

		rec, err := m.ReadAt(cursor)
		if err != nil {
			return nil, err
		}
		size := len(rec.Encode(cursor.Offset))

		switch rec.Type {
		case StartTxn:
			txns[rec.TxnID] = &txnInfo{lastLSN: cursor, inProgress: true}
		case CommitTxn, AbortTxn:
			if t, ok := txns[rec.TxnID]; ok {
				t.inProgress = false
				t.lastLSN = cursor
			}
		case UpdatePage, UpdatePageRedoOnly:
			if t, ok := txns[rec.TxnID]; ok {
				t.lastLSN = cursor
			}
			if err := store.applyRedo(rec); err != nil {
				return nil, err
			}
		}

		cursor = LSN{FileNo: cursor.FileNo, Offset: cursor.Offset + uint32(size)}
	}

	return txns, nil
}

// undo is the backward pass: physically walk the log in reverse from
// nextLSN, undoing every update record that belongs to a transaction
// still marked in-flight, until every such transaction is closed or
// firstLSN is crossed.
func undo(m *Manager, baseDir string, store *fileStore, txns map[uint32]*txnInfo, firstLSN, nextLSN LSN) error {
	cursor := nextLSN
	for len(openTxns(txns)) > 0 && firstLSN.Less(cursor) {
		rec, start, err := stepBack(m, baseDir, cursor)
		if err == io.EOF {
			break
		}
		if err != nil {
			return err
		}

		t, tracked := txns[rec.TxnID]
		if tracked && t.inProgress {
			switch rec.Type {
			case UpdatePage:
				if err := store.applyUndo(rec); err != nil {
					return err
				}
				redoOnly := Record{
					Type:     UpdatePageRedoOnly,
					TxnID:    rec.TxnID,
					PrevLSN:  t.lastLSN,
					FileName: rec.FileName,
					PageNo:   rec.PageNo,
					Segments: undoAsRedo(rec.Segments),
				}
				lsn, err := m.Append(redoOnly)
				if err != nil {
					return err
				}
				t.lastLSN = lsn
			case UpdatePageRedoOnly:
				// already applied during the forward pass; nothing to undo.
			case StartTxn:
				abort := Record{Type: AbortTxn, TxnID: rec.TxnID, PrevLSN: t.lastLSN}
				lsn, err := m.Append(abort)
				if err != nil {
					return err
				}
				t.lastLSN = lsn
				t.inProgress = false
			}
		}

		cursor = start
	}
	return nil
}

func undoAsRedo(segs []Segment) []Segment {
	out := make([]Segment, len(segs))
	for i, s := range segs {
		out[i] = Segment{Start: s.Start, Redo: s.Undo}
	}
	return out
}

// Finalize forces the log through nextLSN, flushes all dirty pages
// (already done by applyRedo/applyUndo's synchronous writes), and
// advances the persisted firstLSN past the recovered range.
func Finalize(m *Manager, baseDir string, nextLSN LSN) error {
	return saveState(baseDir, State{FirstLSN: nextLSN, NextLSN: nextLSN})
}

// Checkpoint flushes every dirty page the buffer manager holds to its
// backing data file, then advances the persisted firstLSN to the log's
// current end, so a later Recover has nothing to redo before that
// point. Distinct from Finalize, which only records the range a
// recovery pass has already applied; Checkpoint is the operator-facing
// call to bound WAL growth between recoveries (spec.md §4.9), grounded
// on the teacher's WAL.Checkpoint (flush every cached page, then reset
// the log position).
func Checkpoint(m *Manager, buf *buffer.Manager, baseDir string) error {
	if err := buf.FlushAll(); err != nil {
		return err
	}
	nextLSN := m.NextLSN()
	return saveState(baseDir, State{FirstLSN: nextLSN, NextLSN: nextLSN})
}

// segmentEnd returns the byte size of segment fileNo, using the
// manager's in-memory size for the currently-open segment.
func segmentEnd(baseDir string, fileNo uint16, m *Manager) (uint32, error) {
	if m.cur != nil && fileNo == m.cur.no {
		return m.cur.size, nil
	}
	path := storage.WALPath(baseDir, int(fileNo))
	fi, err := os.Stat(path)
	if err != nil {
		return 0, dberr.Wrapf(dberr.IOFailure, err, "stat wal segment %s", path)
	}
	return uint32(fi.Size()), nil
}
