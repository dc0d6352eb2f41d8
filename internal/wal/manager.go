package wal

import (
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/joeandaverde/nanodb/internal/dberr"
	"github.com/joeandaverde/nanodb/internal/storage"
)

// headerSize is the 2-byte file header plus the 4-byte previous-file-end
// pointer every segment file begins with (spec.md §4.8). Records start
// at offset 6.
const headerSize = 6

// maxSegmentSize caps a WAL segment file before the manager rolls over
// to the next fileNo, wrapping modulo 65536 (spec.md §3).
const maxSegmentSize = 10 * 1024 * 1024

// Manager is the append-only WAL: the currently-open segment file plus
// enough bookkeeping to roll over and to re-open older segments for
// recovery. Grounded on the teacher's WAL (OpenWAL, writeLog's
// append-then-Sync discipline, single mutex), generalized from
// whole-page frames to ARIES-style records.
type Manager struct {
	baseDir string
	log     *logrus.Logger

	mu        sync.Mutex
	cur       *segment
	nextTxnID uint32
}

type segment struct {
	no   uint16
	file *os.File
	size uint32
}

// Open opens (or creates) the WAL under baseDir, resuming append at the
// end of the highest-numbered existing segment.
func Open(baseDir string, log *logrus.Logger) (*Manager, error) {
	if log == nil {
		log = logrus.New()
	}
	if err := os.MkdirAll(baseDir, 0755); err != nil {
		return nil, dberr.Wrapf(dberr.IOFailure, err, "create wal dir %s", baseDir)
	}

	no, existing, err := latestSegment(baseDir)
	if err != nil {
		return nil, err
	}

	m := &Manager{baseDir: baseDir, log: log.WithField("component", "wal").Logger, nextTxnID: 1}
	if existing {
		seg, err := openSegmentForAppend(baseDir, no)
		if err != nil {
			return nil, err
		}
		m.cur = seg
		return m, nil
	}

	seg, err := createSegment(baseDir, no, 0)
	if err != nil {
		return nil, err
	}
	m.cur = seg
	return m, nil
}

func latestSegment(baseDir string) (uint16, bool, error) {
	matches, err := filepath.Glob(filepath.Join(baseDir, "wal-*.log"))
	if err != nil {
		return 0, false, dberr.Wrapf(dberr.IOFailure, err, "glob wal segments in %s", baseDir)
	}
	if len(matches) == 0 {
		return 0, false, nil
	}
	var best uint16
	var foundAny bool
	for _, m := range matches {
		var n int
		if _, err := fmt.Sscanf(filepath.Base(m), "wal-%05d.log", &n); err != nil {
			continue
		}
		if !foundAny || uint16(n) > best {
			best = uint16(n)
			foundAny = true
		}
	}
	return best, foundAny, nil
}

func openSegmentForAppend(baseDir string, no uint16) (*segment, error) {
	path := storage.WALPath(baseDir, int(no))
	f, err := os.OpenFile(path, os.O_RDWR, 0644)
	if err != nil {
		return nil, dberr.Wrapf(dberr.IOFailure, err, "open wal segment %s", path)
	}
	fi, err := f.Stat()
	if err != nil {
		return nil, dberr.Wrapf(dberr.IOFailure, err, "stat wal segment %s", path)
	}
	return &segment{no: no, file: f, size: uint32(fi.Size())}, nil
}

// createSegment creates segment fileNo with the 6-byte file header,
// recording prevFileEnd as the prior segment's end offset (0 for the
// first file).
func createSegment(baseDir string, no uint16, prevFileEnd uint32) (*segment, error) {
	path := storage.WALPath(baseDir, int(no))
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_EXCL, 0644)
	if err != nil {
		return nil, dberr.Wrapf(dberr.IOFailure, err, "create wal segment %s", path)
	}
	header := make([]byte, headerSize)
	header[0] = byte(storage.WALFile)
	header[1] = 0
	binary.BigEndian.PutUint32(header[2:6], prevFileEnd)
	if _, err := f.WriteAt(header, 0); err != nil {
		f.Close()
		return nil, dberr.Wrapf(dberr.IOFailure, err, "write wal header %s", path)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return nil, dberr.Wrapf(dberr.IOFailure, err, "sync wal header %s", path)
	}
	return &segment{no: no, file: f, size: headerSize}, nil
}

// readFileHeader returns a segment's previous-file-end pointer without
// keeping the file open, used by the undo pass to cross file boundaries.
func readFileHeader(baseDir string, no uint16) (prevFileEnd uint32, err error) {
	path := storage.WALPath(baseDir, int(no))
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, dberr.Wrapf(dberr.IOFailure, err, "read wal header %s", path)
	}
	if len(data) < headerSize {
		return 0, dberr.New(dberr.CorruptWAL, fmt.Sprintf("wal segment %s shorter than its header", path))
	}
	return binary.BigEndian.Uint32(data[2:6]), nil
}

// Append serializes rec and writes it to the current segment, rolling
// over to a new segment first if it would overflow maxSegmentSize. The
// write is flushed to disk before Append returns (spec.md §4.8's WAL
// discipline: the record must be durable before any caller treats it as
// having happened).
func (m *Manager) Append(rec Record) (LSN, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	startOffset := m.cur.size
	data := rec.Encode(startOffset)
	if uint32(len(data))+m.cur.size > maxSegmentSize {
		if err := m.rollover(); err != nil {
			return LSN{}, err
		}
		startOffset = m.cur.size
		data = rec.Encode(startOffset)
	}

	if _, err := m.cur.file.WriteAt(data, int64(startOffset)); err != nil {
		return LSN{}, dberr.Wrapf(dberr.IOFailure, err, "append wal record")
	}
	if err := m.cur.file.Sync(); err != nil {
		return LSN{}, dberr.Wrapf(dberr.IOFailure, err, "sync wal record")
	}
	m.cur.size += uint32(len(data))

	return LSN{FileNo: m.cur.no, Offset: startOffset}, nil
}

func (m *Manager) rollover() error {
	prevEnd := m.cur.size
	if err := m.cur.file.Close(); err != nil {
		return dberr.Wrapf(dberr.IOFailure, err, "close wal segment %d", m.cur.no)
	}
	next := m.cur.no + 1 // wraps modulo 65536 via uint16 overflow
	seg, err := createSegment(m.baseDir, next, prevEnd)
	if err != nil {
		return err
	}
	m.cur = seg
	m.log.WithField("segment", next).Info("wal rolled over to new segment")
	return nil
}

// NextLSN is the LSN the next Append call will use.
func (m *Manager) NextLSN() LSN {
	m.mu.Lock()
	defer m.mu.Unlock()
	return LSN{FileNo: m.cur.no, Offset: m.cur.size}
}

// Close closes the current segment file.
func (m *Manager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.cur.file.Close()
}

// ReadAt decodes the single record starting at lsn.
func (m *Manager) ReadAt(lsn LSN) (Record, error) {
	data, err := m.readSegmentFrom(lsn.FileNo, lsn.Offset)
	if err != nil {
		return Record{}, err
	}
	rec, _, err := Decode(data)
	return rec, err
}

// readSegmentFrom returns every byte of segment fileNo from offset to
// EOF, reusing the open file handle when it is the current segment.
func (m *Manager) readSegmentFrom(fileNo uint16, offset uint32) ([]byte, error) {
	if m.cur != nil && fileNo == m.cur.no {
		m.mu.Lock()
		defer m.mu.Unlock()
		buf := make([]byte, m.cur.size-offset)
		if _, err := m.cur.file.ReadAt(buf, int64(offset)); err != nil && err != io.EOF {
			return nil, dberr.Wrapf(dberr.IOFailure, err, "read wal segment %d", fileNo)
		}
		return buf, nil
	}

	path := storage.WALPath(m.baseDir, int(fileNo))
	f, err := os.Open(path)
	if err != nil {
		return nil, dberr.Wrapf(dberr.IOFailure, err, "open wal segment %s", path)
	}
	defer f.Close()
	if _, err := f.Seek(int64(offset), io.SeekStart); err != nil {
		return nil, dberr.Wrapf(dberr.IOFailure, err, "seek wal segment %s", path)
	}
	data, err := io.ReadAll(f)
	if err != nil {
		return nil, dberr.Wrapf(dberr.IOFailure, err, "read wal segment %s", path)
	}
	return data, nil
}
