// Package catalog implements the Storage Manager of spec.md §4.3: the
// explicit database handle that owns the base directory, buffer manager,
// and WAL, and dispatches table/index operations by the file-type byte
// stored at the start of every DBFile.
package catalog

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/joeandaverde/nanodb/internal/btree"
	"github.com/joeandaverde/nanodb/internal/buffer"
	"github.com/joeandaverde/nanodb/internal/colstore"
	"github.com/joeandaverde/nanodb/internal/dberr"
	"github.com/joeandaverde/nanodb/internal/heap"
	"github.com/joeandaverde/nanodb/internal/storage"
	"github.com/joeandaverde/nanodb/internal/tuple"
	"github.com/joeandaverde/nanodb/internal/wal"
)

// RowListener is notified when a row is deleted from a heap table, so an
// index manager can stay in sync without the heap package depending on
// the index package (spec.md §4.5, §9's "small interface" row-event
// listener boundary). It is the catalog's own name for heap.RowListener,
// since spec.md places this interface at the Storage Manager level.
type RowListener = heap.RowListener

// TableFileInfo describes one file under the catalog's base directory,
// as discovered by its file-type byte rather than by a schema catalog
// table (spec.md §4.3 "the file type byte... selects the subordinate
// manager").
type TableFileInfo struct {
	Name string
	Type storage.FileType
}

// Manager is the Storage Manager: an explicit handle constructed by
// Start and passed to every operation, replacing the hidden singleton
// the original source used (spec.md §9). Grounded on the teacher's
// backend.Engine (a Config-driven handle owning a WAL and pager pool).
type Manager struct {
	baseDir  string
	pageSize int
	buffer   *buffer.Manager
	wal      *wal.Manager
	log      *logrus.Logger

	mu         sync.RWMutex
	heapTables map[string]*heap.Table
	indexes    map[string]*btree.Index
	colTables  map[string]*colstore.Table
}

// Start opens the catalog rooted at baseDir: creating it if absent,
// opening the buffer manager and WAL, and replaying crash recovery
// before any table operation runs.
func Start(baseDir string, pageSize int, maxCacheBytes int64, policy buffer.Policy, log *logrus.Logger) (*Manager, error) {
	if log == nil {
		log = logrus.New()
	}
	if err := os.MkdirAll(baseDir, 0755); err != nil {
		return nil, dberr.Wrapf(dberr.IOFailure, err, "create base dir %s", baseDir)
	}

	buf := buffer.NewManager(maxCacheBytes, policy, log)

	w, err := wal.Open(baseDir, log)
	if err != nil {
		return nil, err
	}
	if err := wal.Recover(w, baseDir, log); err != nil {
		return nil, err
	}

	return &Manager{
		baseDir:    baseDir,
		pageSize:   pageSize,
		buffer:     buf,
		wal:        w,
		log:        log,
		heapTables: make(map[string]*heap.Table),
		indexes:    make(map[string]*btree.Index),
		colTables:  make(map[string]*colstore.Table),
	}, nil
}

// Close flushes the buffer cache and closes the WAL. Individual tables
// should be closed with CloseTable first; Close does not iterate them.
func (m *Manager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.buffer.FlushAll(); err != nil {
		return err
	}
	return m.wal.Close()
}

// Begin opens a new WAL transaction, exposing the Transaction State
// Machine of spec.md §3/§4.8 at the catalog level, for a caller that logs
// its own page changes through the returned Transaction. Table/Index
// mutation calls (Insert/Update/Delete) take no transaction: each always
// opens and commits its own internal transaction against this same WAL
// and does not join one opened here.
func (m *Manager) Begin() (*wal.Transaction, error) {
	return m.wal.Begin()
}

// CreateTable creates a new heap table.
func (m *Manager) CreateTable(name string, schema *tuple.Schema) (*heap.Table, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.heapTables[name]; ok {
		return nil, dberr.New(dberr.InvalidArgument, fmt.Sprintf("table %s already open", name))
	}
	t, err := heap.CreateTable(m.baseDir, name, schema, m.pageSize, m.buffer, m.wal, m.log)
	if err != nil {
		return nil, err
	}
	m.heapTables[name] = t
	return t, nil
}

// OpenTable opens an existing heap table, or returns the already-open
// handle.
func (m *Manager) OpenTable(name string) (*heap.Table, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if t, ok := m.heapTables[name]; ok {
		return t, nil
	}
	t, err := heap.OpenTable(m.baseDir, name, m.buffer, m.wal, m.log)
	if err != nil {
		return nil, err
	}
	m.heapTables[name] = t
	return t, nil
}

// CloseTable flushes and closes an open heap table.
func (m *Manager) CloseTable(name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.heapTables[name]
	if !ok {
		return dberr.New(dberr.InvalidArgument, fmt.Sprintf("table %s is not open", name))
	}
	delete(m.heapTables, name)
	return t.Close()
}

// DropTable closes (if open) and removes a heap table's backing file.
func (m *Manager) DropTable(name string) error {
	m.mu.Lock()
	if t, ok := m.heapTables[name]; ok {
		delete(m.heapTables, name)
		m.mu.Unlock()
		if err := t.Close(); err != nil {
			return err
		}
	} else {
		m.mu.Unlock()
	}
	path := storage.TablePath(m.baseDir, name)
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return dberr.Wrapf(dberr.IOFailure, err, "drop table %s", name)
	}
	return nil
}

// CreateIndex creates a new B+ tree index.
func (m *Manager) CreateIndex(name string, keySize int) (*btree.Index, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.indexes[name]; ok {
		return nil, dberr.New(dberr.InvalidArgument, fmt.Sprintf("index %s already open", name))
	}
	idx, err := btree.CreateIndex(m.baseDir, name, keySize, m.pageSize, m.buffer, m.wal, m.log)
	if err != nil {
		return nil, err
	}
	m.indexes[name] = idx
	return idx, nil
}

// OpenIndex opens an existing index, or returns the already-open handle.
func (m *Manager) OpenIndex(name string) (*btree.Index, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if idx, ok := m.indexes[name]; ok {
		return idx, nil
	}
	idx, err := btree.OpenIndex(m.baseDir, name, m.buffer, m.wal, m.log)
	if err != nil {
		return nil, err
	}
	m.indexes[name] = idx
	return idx, nil
}

// CloseIndex flushes and closes an open index.
func (m *Manager) CloseIndex(name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	idx, ok := m.indexes[name]
	if !ok {
		return dberr.New(dberr.InvalidArgument, fmt.Sprintf("index %s is not open", name))
	}
	delete(m.indexes, name)
	return idx.Close()
}

// CreateColumnTable creates a new column-store table.
func (m *Manager) CreateColumnTable(name string, schema *tuple.Schema) (*colstore.Table, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.colTables[name]; ok {
		return nil, dberr.New(dberr.InvalidArgument, fmt.Sprintf("column table %s already open", name))
	}
	t, err := colstore.CreateTable(m.baseDir, name, schema, m.pageSize, m.buffer, m.log)
	if err != nil {
		return nil, err
	}
	m.colTables[name] = t
	return t, nil
}

// OpenColumnTable opens an existing column-store table, or returns the
// already-open handle.
func (m *Manager) OpenColumnTable(name string) (*colstore.Table, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if t, ok := m.colTables[name]; ok {
		return t, nil
	}
	t, err := colstore.OpenTable(m.baseDir, name, m.buffer, m.log)
	if err != nil {
		return nil, err
	}
	m.colTables[name] = t
	return t, nil
}

// LoadDBPage returns (file, no)'s page, pinned for session, reading it
// from disk on a cache miss and optionally allocating it if it does not
// yet exist (spec.md §4.3's public Storage Manager surface).
func (m *Manager) LoadDBPage(file *storage.DBFile, no int, createIfMissing bool, session buffer.SessionID) (*storage.DBPage, error) {
	if page, ok := m.buffer.GetPage(file, no, session); ok {
		return page, nil
	}

	total, err := file.TotalPages()
	if err != nil {
		return nil, err
	}
	if no >= total {
		if !createIfMissing {
			return nil, dberr.New(dberr.InvalidFilePointer, fmt.Sprintf("page %d of %s does not exist", no, file.Path()))
		}
		for pageNo := total; pageNo <= no; pageNo++ {
			if _, err := file.AllocatePage(); err != nil {
				return nil, err
			}
		}
	}

	data, err := file.ReadPage(no)
	if err != nil {
		return nil, err
	}
	page := storage.LoadPage(file, no, data)
	if err := m.buffer.AddPage(page, session); err != nil {
		return nil, err
	}
	return page, nil
}

// Checkpoint flushes all dirty pages and advances the WAL's persisted
// firstLSN, bounding log growth between crash-recovery runs (spec.md
// §4.9's supplemented Checkpoint operation).
func (m *Manager) Checkpoint() error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return wal.Checkpoint(m.wal, m.buffer, m.baseDir)
}

// ListTables scans the base directory for table/index/column-table
// files, identifying each by its on-disk file-type byte rather than by
// a separate schema catalog (spec.md §4.3).
func (m *Manager) ListTables() ([]TableFileInfo, error) {
	entries, err := os.ReadDir(m.baseDir)
	if err != nil {
		return nil, dberr.Wrapf(dberr.IOFailure, err, "list tables in %s", m.baseDir)
	}

	var out []TableFileInfo
	for _, e := range entries {
		if e.IsDir() {
			headerPath := storage.ColumnHeaderPath(m.baseDir, e.Name())
			if _, err := os.Stat(headerPath); err == nil {
				ft, err := peekFileType(headerPath)
				if err != nil {
					return nil, err
				}
				out = append(out, TableFileInfo{Name: e.Name(), Type: ft})
			}
			continue
		}
		if !strings.HasSuffix(e.Name(), ".tbl") {
			continue
		}
		path := filepath.Join(m.baseDir, e.Name())
		ft, err := peekFileType(path)
		if err != nil {
			return nil, err
		}
		out = append(out, TableFileInfo{Name: strings.TrimSuffix(e.Name(), ".tbl"), Type: ft})
	}
	return out, nil
}

func peekFileType(path string) (storage.FileType, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, dberr.Wrapf(dberr.IOFailure, err, "open %s", path)
	}
	defer f.Close()
	var header [1]byte
	if _, err := f.ReadAt(header[:], 0); err != nil {
		return 0, dberr.Wrapf(dberr.IOFailure, err, "read file-type byte of %s", path)
	}
	return storage.FileType(header[0]), nil
}
