package btree

import (
	"fmt"
	"sort"

	"github.com/sirupsen/logrus"

	"github.com/joeandaverde/nanodb/internal/buffer"
	"github.com/joeandaverde/nanodb/internal/dberr"
	"github.com/joeandaverde/nanodb/internal/storage"
	"github.com/joeandaverde/nanodb/internal/wal"
)

// Index is an open B+ tree index file: a header page naming the current
// root and free-list head, followed by inner/leaf/empty data pages
// (spec.md §4.6).
type Index struct {
	Name    string
	File    *storage.DBFile
	Buffer  *buffer.Manager
	KeySize int

	// WAL is the transaction log every page mutation -- including the
	// header page's free-list and root-pointer fields -- is recorded
	// against before that page may be written back (spec.md §4.8). An
	// index opened with a nil WAL skips logging entirely.
	WAL      *wal.Manager
	fileName string

	log *logrus.Logger
}

// CreateIndex creates a new, empty index file at <baseDir>/<name>.tbl
// rooted at a single empty leaf page.
func CreateIndex(baseDir, name string, keySize, pageSize int, buf *buffer.Manager, walMgr *wal.Manager, log *logrus.Logger) (*Index, error) {
	path := storage.TablePath(baseDir, name)
	f, err := storage.CreateDBFile(path, storage.BTreeIndexFile, pageSize)
	if err != nil {
		return nil, err
	}

	if _, err := f.AllocatePage(); err != nil { // page 0: header
		return nil, err
	}
	rootNo, err := f.AllocatePage() // page 1: initial root (empty leaf)
	if err != nil {
		return nil, err
	}

	root := storage.NewPage(f, rootNo)
	initLeafPage(root, 0)
	if err := f.WritePage(rootNo, root.Data); err != nil {
		return nil, err
	}

	header := storage.NewPage(f, headerPageNo)
	writeFileHeader(header, byte(storage.BTreeIndexFile), storage.EncodePageSize(pageSize), fileHeader{
		rootPageNo: rootNo, freeListHead: 0, keySize: keySize,
	})
	if err := f.WritePage(headerPageNo, header.Data); err != nil {
		return nil, err
	}

	return &Index{
		Name: name, File: f, Buffer: buf, KeySize: keySize,
		WAL: walMgr, fileName: storage.TableFileName(name),
		log: logging(log),
	}, nil
}

// OpenIndex opens an existing index file.
func OpenIndex(baseDir, name string, buf *buffer.Manager, walMgr *wal.Manager, log *logrus.Logger) (*Index, error) {
	path := storage.TablePath(baseDir, name)
	f, err := storage.OpenDBFile(path)
	if err != nil {
		return nil, err
	}
	if f.FileType() != storage.BTreeIndexFile {
		return nil, dberr.New(dberr.InvalidArgument, fmt.Sprintf("%s is not a btree index file", path))
	}
	raw, err := f.ReadPage(headerPageNo)
	if err != nil {
		return nil, err
	}
	h := readFileHeader(storage.LoadPage(f, headerPageNo, raw))
	return &Index{
		Name: name, File: f, Buffer: buf, KeySize: h.keySize,
		WAL: walMgr, fileName: storage.TableFileName(name),
		log: logging(log),
	}, nil
}

func logging(log *logrus.Logger) *logrus.Logger {
	if log == nil {
		return logrus.New()
	}
	return log
}

// Close flushes and closes the index's backing file.
func (idx *Index) Close() error {
	if err := idx.Buffer.FlushDBFile(idx.File); err != nil {
		return err
	}
	return idx.File.Close()
}

func (idx *Index) loadPage(pageNo int, session buffer.SessionID) (*storage.DBPage, error) {
	if page, ok := idx.Buffer.GetPage(idx.File, pageNo, session); ok {
		return page, nil
	}
	data, err := idx.File.ReadPage(pageNo)
	if err != nil {
		return nil, err
	}
	page := storage.LoadPage(idx.File, pageNo, data)
	if err := idx.Buffer.AddPage(page, session); err != nil {
		return nil, err
	}
	return page, nil
}

// pageTxn tracks one WAL transaction across an Insert/Delete call,
// remembering each touched page's before-image the first time the
// operation loads it (spec.md §4.8: a mutation must be logged against the
// page's state at the start of the transaction, not against whatever
// intermediate state a prior mutation in the same call left it in).
type pageTxn struct {
	idx    *Index
	txn    *wal.Transaction
	before map[int][]byte
}

func (idx *Index) beginPageTxn() (*pageTxn, error) {
	if idx.WAL == nil {
		return &pageTxn{idx: idx}, nil
	}
	txn, err := idx.WAL.Begin()
	if err != nil {
		return nil, err
	}
	return &pageTxn{idx: idx, txn: txn, before: map[int][]byte{}}, nil
}

// load loads pageNo for mutation, snapshotting its bytes the first time
// this transaction touches it.
func (pt *pageTxn) load(pageNo int, session buffer.SessionID) (*storage.DBPage, error) {
	page, err := pt.idx.loadPage(pageNo, session)
	if err != nil {
		return nil, err
	}
	if pt.before != nil {
		if _, seen := pt.before[pageNo]; !seen {
			pt.before[pageNo] = snapshot(page)
		}
	}
	return page, nil
}

// alloc is load's counterpart for a freshly allocated or free-list-reused
// page.
func (pt *pageTxn) alloc(session buffer.SessionID) (*storage.DBPage, int, error) {
	page, pageNo, err := pt.idx.newPage(pt, session)
	if err != nil {
		return nil, 0, err
	}
	if pt.before != nil {
		pt.before[pageNo] = snapshot(page)
	}
	return page, pageNo, nil
}

// log appends pageNo's WAL record using its transaction-start snapshot
// and page's current bytes. Safe to call more than once for the same
// page within one operation; every call after the first still diffs
// against the true original snapshot, so undo always unwinds to it.
func (pt *pageTxn) log(pageNo int, page *storage.DBPage) error {
	if pt.txn == nil {
		return nil
	}
	before, ok := pt.before[pageNo]
	if !ok {
		before = make([]byte, len(page.Data))
	}
	return pt.logWith(pageNo, before, page)
}

func (pt *pageTxn) logWith(pageNo int, before []byte, page *storage.DBPage) error {
	if pt.txn == nil {
		return nil
	}
	_, err := pt.txn.LogUpdate(pt.idx.fileName, uint16(pageNo), before, page.Data)
	return err
}

// writeHeader logs the header page's mutation (if a WAL is attached) and
// then writes it straight to disk; header mutations bypass the buffer
// cache and are always synchronous.
func (pt *pageTxn) writeHeader(before []byte, header *storage.DBPage) error {
	if err := pt.logWith(headerPageNo, before, header); err != nil {
		return err
	}
	return pt.idx.File.WritePage(headerPageNo, header.Data)
}

func (pt *pageTxn) commit() error {
	if pt.txn == nil {
		return nil
	}
	return pt.txn.Commit()
}

func (pt *pageTxn) abort() error {
	if pt.txn == nil {
		return nil
	}
	return pt.txn.Abort()
}

func snapshot(page *storage.DBPage) []byte {
	cp := make([]byte, len(page.Data))
	copy(cp, page.Data)
	return cp
}

func (idx *Index) newPage(pt *pageTxn, session buffer.SessionID) (*storage.DBPage, int, error) {
	data, err := idx.File.ReadPage(headerPageNo)
	if err != nil {
		return nil, 0, err
	}
	header := storage.LoadPage(idx.File, headerPageNo, data)
	headerBefore := snapshot(header)
	h := readFileHeader(header)

	if h.freeListHead != 0 {
		pageNo := h.freeListHead
		page, err := idx.loadPage(pageNo, session)
		if err != nil {
			return nil, 0, err
		}
		h.freeListHead = readEmptyPage(page)
		writeFileHeader(header, byte(storage.BTreeIndexFile), storage.EncodePageSize(idx.File.PageSize()), h)
		if err := pt.writeHeader(headerBefore, header); err != nil {
			return nil, 0, err
		}
		return page, pageNo, nil
	}

	pageNo, err := idx.File.AllocatePage()
	if err != nil {
		return nil, 0, err
	}
	page := storage.NewPage(idx.File, pageNo)
	if err := idx.Buffer.AddPage(page, session); err != nil {
		return nil, 0, err
	}
	return page, pageNo, nil
}

// releasePage pushes pageNo onto the index's free list (spec.md §4.6),
// overwriting it as an empty page.
func (idx *Index) releasePage(pt *pageTxn, pageNo int, session buffer.SessionID) error {
	data, err := idx.File.ReadPage(headerPageNo)
	if err != nil {
		return err
	}
	header := storage.LoadPage(idx.File, headerPageNo, data)
	headerBefore := snapshot(header)
	h := readFileHeader(header)

	page, err := pt.load(pageNo, session)
	if err != nil {
		return err
	}
	writeEmptyPage(page, h.freeListHead)
	if err := pt.log(pageNo, page); err != nil {
		return err
	}

	h.freeListHead = pageNo
	writeFileHeader(header, byte(storage.BTreeIndexFile), storage.EncodePageSize(idx.File.PageSize()), h)
	return pt.writeHeader(headerBefore, header)
}

func (idx *Index) rootPageNo() (int, error) {
	data, err := idx.File.ReadPage(headerPageNo)
	if err != nil {
		return 0, err
	}
	return readFileHeader(storage.LoadPage(idx.File, headerPageNo, data)).rootPageNo, nil
}

func (idx *Index) setRootPageNo(pt *pageTxn, pageNo int) error {
	data, err := idx.File.ReadPage(headerPageNo)
	if err != nil {
		return err
	}
	header := storage.LoadPage(idx.File, headerPageNo, data)
	before := snapshot(header)
	h := readFileHeader(header)
	h.rootPageNo = pageNo
	writeFileHeader(header, byte(storage.BTreeIndexFile), storage.EncodePageSize(idx.File.PageSize()), h)
	return pt.writeHeader(before, header)
}

// findLeaf descends from the root to the leaf page that would contain
// key, per spec.md §4.6's navigation rule: at each inner page, follow the
// child to the left of the first separator strictly greater than key (so
// equal separators descend right, keeping duplicates of a logical key
// ordered by their RowRef).
func (idx *Index) findLeaf(key []byte, session buffer.SessionID) (int, error) {
	cur, err := idx.rootPageNo()
	if err != nil {
		return 0, err
	}
	for {
		page, err := idx.loadPage(cur, session)
		if err != nil {
			return 0, err
		}
		kind := readKind(page)
		if kind == kindLeaf {
			if err := idx.Buffer.Unpin(idx.File, cur, session); err != nil {
				return 0, err
			}
			return cur, nil
		}
		ie := readInnerEntries(page, idx.KeySize)
		i := sort.Search(len(ie.keys), func(i int) bool {
			return compareBytes(ie.keys[i].Key, key) > 0
		})
		next := ie.ptrs[i]
		if err := idx.Buffer.Unpin(idx.File, cur, session); err != nil {
			return 0, err
		}
		cur = next
	}
}

func compareBytes(a, b []byte) int {
	for i := 0; i < len(a) && i < len(b); i++ {
		if a[i] != b[i] {
			if a[i] < b[i] {
				return -1
			}
			return 1
		}
	}
	switch {
	case len(a) < len(b):
		return -1
	case len(a) > len(b):
		return 1
	default:
		return 0
	}
}

// Search returns every RowRef stored under key, in RowRef order.
func (idx *Index) Search(key []byte) ([]RowRef, error) {
	if err := checkKeySize(key, idx.KeySize); err != nil {
		return nil, err
	}
	session := buffer.NewSessionID()
	leafNo, err := idx.findLeaf(key, session)
	if err != nil {
		return nil, err
	}
	page, err := idx.loadPage(leafNo, session)
	if err != nil {
		return nil, err
	}
	defer idx.Buffer.Unpin(idx.File, leafNo, session)

	entries := readLeafEntries(page, idx.KeySize)
	var refs []RowRef
	for _, e := range entries {
		if compareBytes(e.Key, key) == 0 {
			refs = append(refs, e.Row)
		}
	}
	return refs, nil
}
