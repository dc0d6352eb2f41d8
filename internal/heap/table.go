// Package heap implements the Heap File Table of spec.md §4.5: a header
// page followed by slotted-page data pages, with forward/blocked scans
// and row-level insert/update/delete.
package heap

import (
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/joeandaverde/nanodb/internal/buffer"
	"github.com/joeandaverde/nanodb/internal/dberr"
	"github.com/joeandaverde/nanodb/internal/storage"
	"github.com/joeandaverde/nanodb/internal/tuple"
	"github.com/joeandaverde/nanodb/internal/wal"
)

// headerPageNo is always 0; pages 1..n are data pages.
const headerPageNo = 0
const firstDataPageNo = 1

// RowID addresses a tuple by data page number and slot index.
type RowID struct {
	PageNo int
	Slot   int
}

func (r RowID) String() string { return fmt.Sprintf("(%d,%d)", r.PageNo, r.Slot) }

// RowListener is notified when a row is deleted, so an index manager can
// keep itself in sync without the heap table depending on the index
// package (spec.md §4.5 "informs index listeners", §9 polymorphic
// dispatch by small interface).
type RowListener interface {
	OnRowDeleted(table string, id RowID)
}

// NoOpRowListener satisfies RowListener without doing anything; it is the
// default for tables opened without an explicit listener.
type NoOpRowListener struct{}

func (NoOpRowListener) OnRowDeleted(string, RowID) {}

// Table is an open heap file: its backing DBFile, the shared Buffer
// Manager, its schema, and the per-page slot capacity derived from it.
type Table struct {
	Name     string
	File     *storage.DBFile
	Buffer   *buffer.Manager
	Schema   *tuple.Schema
	Capacity int
	Listener RowListener

	// WAL is the transaction log every page mutation is recorded against
	// before that page may be written back (spec.md §4.8). A table opened
	// with a nil WAL skips logging entirely; the catalog always supplies a
	// real one.
	WAL      *wal.Manager
	fileName string

	log *logrus.Logger
}

// CreateTable creates a new heap file at <baseDir>/<name>.tbl, writes its
// header page (file-type/page-size replica plus the encoded schema per
// spec.md §6), and returns it opened.
func CreateTable(baseDir, name string, schema *tuple.Schema, pageSize int, buf *buffer.Manager, walMgr *wal.Manager, log *logrus.Logger) (*Table, error) {
	path := storage.TablePath(baseDir, name)
	f, err := storage.CreateDBFile(path, storage.HeapDataFile, pageSize)
	if err != nil {
		return nil, err
	}
	if _, err := f.AllocatePage(); err != nil {
		return nil, err
	}

	header := storage.NewPage(f, headerPageNo)
	w := storage.NewPageWriter(header)
	if err := w.WriteUint8(byte(storage.HeapDataFile)); err != nil {
		return nil, err
	}
	if err := w.WriteUint8(storage.EncodePageSize(pageSize)); err != nil {
		return nil, err
	}
	if err := tuple.WriteSchema(w, schema); err != nil {
		return nil, err
	}
	if err := f.WritePage(headerPageNo, header.Data); err != nil {
		return nil, err
	}

	return &Table{
		Name:     name,
		File:     f,
		Buffer:   buf,
		Schema:   schema,
		Capacity: Capacity(pageSize, schema),
		Listener: NoOpRowListener{},
		WAL:      walMgr,
		fileName: storage.TableFileName(name),
		log:      logging(log),
	}, nil
}

// OpenTable opens an existing heap file and decodes its header page.
func OpenTable(baseDir, name string, buf *buffer.Manager, walMgr *wal.Manager, log *logrus.Logger) (*Table, error) {
	path := storage.TablePath(baseDir, name)
	f, err := storage.OpenDBFile(path)
	if err != nil {
		return nil, err
	}
	if f.FileType() != storage.HeapDataFile {
		return nil, dberr.New(dberr.InvalidArgument, fmt.Sprintf("%s is not a heap data file", path))
	}

	raw, err := f.ReadPage(headerPageNo)
	if err != nil {
		return nil, err
	}
	header := storage.LoadPage(f, headerPageNo, raw)
	r := storage.NewPageReader(header)
	if _, err := r.ReadUint8(); err != nil { // file-type replica
		return nil, err
	}
	if _, err := r.ReadUint8(); err != nil { // page-size replica
		return nil, err
	}
	schema, err := tuple.ReadSchema(r)
	if err != nil {
		return nil, err
	}

	return &Table{
		Name:     name,
		File:     f,
		Buffer:   buf,
		Schema:   schema,
		Capacity: Capacity(f.PageSize(), schema),
		Listener: NoOpRowListener{},
		WAL:      walMgr,
		fileName: storage.TableFileName(name),
		log:      logging(log),
	}, nil
}

func logging(log *logrus.Logger) *logrus.Logger {
	if log == nil {
		return logrus.New()
	}
	return log
}

// Close releases the table's buffered pages and underlying file handle.
func (t *Table) Close() error {
	if err := t.Buffer.FlushDBFile(t.File); err != nil {
		return err
	}
	return t.File.Close()
}

// Drop closes and removes the table's backing file from the buffer
// manager's bookkeeping. Removing the file from disk is the storage
// manager's responsibility (it owns the filesystem namespace).
func (t *Table) Drop() error {
	return t.Buffer.RemoveDBFile(t.File)
}

func (t *Table) loadPage(pageNo int, session buffer.SessionID) (*storage.DBPage, error) {
	if page, ok := t.Buffer.GetPage(t.File, pageNo, session); ok {
		return page, nil
	}
	data, err := t.File.ReadPage(pageNo)
	if err != nil {
		return nil, err
	}
	page := storage.LoadPage(t.File, pageNo, data)
	if err := t.Buffer.AddPage(page, session); err != nil {
		return nil, err
	}
	return page, nil
}

func (t *Table) lastDataPageNo() (int, error) {
	total, err := t.File.TotalPages()
	if err != nil {
		return 0, err
	}
	if total <= 1 {
		return 0, nil // no data pages yet
	}
	return total - 1, nil
}

func (t *Table) allocateDataPage(session buffer.SessionID) (*storage.DBPage, int, error) {
	pageNo, err := t.File.AllocatePage()
	if err != nil {
		return nil, 0, err
	}
	page := storage.NewPage(t.File, pageNo)
	InitDataPage(page, t.Capacity)
	if err := t.Buffer.AddPage(page, session); err != nil {
		return nil, 0, err
	}
	return page, pageNo, nil
}

// beginTxn opens a WAL transaction for one mutating call. A table with no
// WAL manager (lower-level tests exercising page mechanics directly)
// returns a nil transaction, and every other WAL helper below treats nil
// as a no-op.
func (t *Table) beginTxn() (*wal.Transaction, error) {
	if t.WAL == nil {
		return nil, nil
	}
	return t.WAL.Begin()
}

// logPage appends txn's WAL record for pageNo's before/after page images,
// ahead of the page becoming eligible for eviction (spec.md §4.8).
func (t *Table) logPage(txn *wal.Transaction, pageNo int, before []byte, page *storage.DBPage) error {
	if txn == nil {
		return nil
	}
	_, err := txn.LogUpdate(t.fileName, uint16(pageNo), before, page.Data)
	return err
}

func (t *Table) commitTxn(txn *wal.Transaction) error {
	if txn == nil {
		return nil
	}
	return txn.Commit()
}

func (t *Table) abortTxn(txn *wal.Transaction) error {
	if txn == nil {
		return nil
	}
	return txn.Abort()
}

func snapshot(page *storage.DBPage) []byte {
	cp := make([]byte, len(page.Data))
	copy(cp, page.Data)
	return cp
}

// Insert finds the first data page with sufficient free space for values
// (allocating a new one if none exists) and stores a fresh tuple there,
// per spec.md §4.5. The page's before/after images are appended to the
// WAL and committed before a RowID is returned.
func (t *Table) Insert(values []interface{}) (RowID, error) {
	session := buffer.NewSessionID()

	last, err := t.lastDataPageNo()
	if err != nil {
		return RowID{}, err
	}

	txn, err := t.beginTxn()
	if err != nil {
		return RowID{}, err
	}

	for pageNo := firstDataPageNo; pageNo <= last; pageNo++ {
		page, err := t.loadPage(pageNo, session)
		if err != nil {
			_ = t.abortTxn(txn)
			return RowID{}, err
		}
		before := snapshot(page)
		slot, ok, err := InsertTuple(page, t.Capacity, t.Schema, values)
		if err != nil {
			_ = t.Buffer.Unpin(t.File, pageNo, session)
			_ = t.abortTxn(txn)
			return RowID{}, err
		}
		if ok {
			if err := t.logPage(txn, pageNo, before, page); err != nil {
				_ = t.Buffer.Unpin(t.File, pageNo, session)
				_ = t.abortTxn(txn)
				return RowID{}, err
			}
			if err := t.Buffer.Unpin(t.File, pageNo, session); err != nil {
				_ = t.abortTxn(txn)
				return RowID{}, err
			}
			if err := t.commitTxn(txn); err != nil {
				return RowID{}, err
			}
			return RowID{PageNo: pageNo, Slot: slot}, nil
		}
		if err := t.Buffer.Unpin(t.File, pageNo, session); err != nil {
			_ = t.abortTxn(txn)
			return RowID{}, err
		}
	}

	page, pageNo, err := t.allocateDataPage(session)
	if err != nil {
		_ = t.abortTxn(txn)
		return RowID{}, err
	}
	// AllocatePage zero-fills the page on disk before returning, so the
	// WAL before-image is the all-zero page regardless of InitDataPage's
	// own header write.
	before := make([]byte, len(page.Data))
	slot, ok, err := InsertTuple(page, t.Capacity, t.Schema, values)
	if err != nil {
		_ = t.Buffer.Unpin(t.File, pageNo, session)
		_ = t.abortTxn(txn)
		return RowID{}, err
	}
	if !ok {
		_ = t.Buffer.Unpin(t.File, pageNo, session)
		_ = t.abortTxn(txn)
		return RowID{}, dberr.New(dberr.InvalidArgument, "tuple too large to fit on an empty page")
	}
	if err := t.logPage(txn, pageNo, before, page); err != nil {
		_ = t.Buffer.Unpin(t.File, pageNo, session)
		_ = t.abortTxn(txn)
		return RowID{}, err
	}
	if err := t.Buffer.Unpin(t.File, pageNo, session); err != nil {
		_ = t.abortTxn(txn)
		return RowID{}, err
	}
	if err := t.commitTxn(txn); err != nil {
		return RowID{}, err
	}
	return RowID{PageNo: pageNo, Slot: slot}, nil
}

// resolve loads id's page and the slot offset it names, failing with
// InvalidFilePointer if the slot no longer holds a live tuple.
func (t *Table) resolve(id RowID, session buffer.SessionID) (*storage.DBPage, int, error) {
	page, err := t.loadPage(id.PageNo, session)
	if err != nil {
		return nil, 0, err
	}
	off := SlotOffset(page, id.Slot)
	if off == EmptySlot {
		return nil, 0, dberr.New(dberr.InvalidFilePointer, fmt.Sprintf("row %s no longer resolves to a live slot", id))
	}
	return page, int(off), nil
}

// GetTuple returns the live tuple at id.
func (t *Table) GetTuple(id RowID) (*tuple.PageTuple, error) {
	session := buffer.NewSessionID()
	page, off, err := t.resolve(id, session)
	if err != nil {
		return nil, err
	}
	defer t.Buffer.Unpin(t.File, id.PageNo, session)

	return tuple.LoadPageTuple(page, id.Slot, off, t.Schema)
}

// Update sets column col of the tuple at id to value, resizing the tuple
// in place (spec.md §4.4/§4.5). If the edit grows the tuple, it first
// confirms the page has enough trailing free space; otherwise it fails
// rather than silently overrunning the page.
func (t *Table) Update(id RowID, col int, value interface{}) error {
	session := buffer.NewSessionID()
	page, off, err := t.resolve(id, session)
	if err != nil {
		return err
	}
	defer t.Buffer.Unpin(t.File, id.PageNo, session)

	pt, err := tuple.LoadPageTuple(page, id.Slot, off, t.Schema)
	if err != nil {
		return err
	}

	preview, err := pt.PreviewResize(col, value)
	if err != nil {
		return err
	}
	if preview.Delta > 0 && FreeSpace(page) < preview.Delta {
		return dberr.New(dberr.InvalidArgument, fmt.Sprintf("row %s: not enough free space on page %d for update", id, id.PageNo))
	}

	txn, err := t.beginTxn()
	if err != nil {
		return err
	}
	before := snapshot(page)

	info, err := pt.SetColumnValue(col, value)
	if err != nil {
		_ = t.abortTxn(txn)
		return err
	}
	if err := ApplyResize(page, id.Slot, info); err != nil {
		_ = t.abortTxn(txn)
		return err
	}
	if err := t.logPage(txn, id.PageNo, before, page); err != nil {
		_ = t.abortTxn(txn)
		return err
	}
	return t.commitTxn(txn)
}

// Delete marks id's slot empty and notifies the table's RowListener, per
// spec.md §4.5.
func (t *Table) Delete(id RowID) error {
	session := buffer.NewSessionID()
	page, _, err := t.resolve(id, session)
	if err != nil {
		return err
	}
	defer t.Buffer.Unpin(t.File, id.PageNo, session)

	txn, err := t.beginTxn()
	if err != nil {
		return err
	}
	before := snapshot(page)
	DeleteSlot(page, id.Slot)
	if err := t.logPage(txn, id.PageNo, before, page); err != nil {
		_ = t.abortTxn(txn)
		return err
	}
	if err := t.commitTxn(txn); err != nil {
		return err
	}
	t.Listener.OnRowDeleted(t.Name, id)
	return nil
}
