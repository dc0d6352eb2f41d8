// Package buffer implements the storage core's bounded page cache: a map
// from (DBFile, pageNo) to a pinned, possibly-dirty DBPage, with LRU or
// FIFO eviction once the cache exceeds its configured byte budget.
package buffer

import (
	"container/list"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/joeandaverde/nanodb/internal/dberr"
	"github.com/joeandaverde/nanodb/internal/storage"
)

// Policy selects the eviction order used once the cache is over budget.
type Policy int

const (
	// LRU evicts the least-recently-used unpinned page first.
	LRU Policy = iota
	// FIFO evicts the longest-resident unpinned page first, regardless of
	// subsequent access.
	FIFO
)

// SessionID identifies a pinning session. The heap, btree and colstore
// readers each mint one per logical operation via NewSessionID.
type SessionID uuid.UUID

// NewSessionID mints a fresh session token.
func NewSessionID() SessionID { return SessionID(uuid.New()) }

func (s SessionID) String() string { return uuid.UUID(s).String() }

type pageKey struct {
	path   string
	pageNo int
}

type entry struct {
	page *storage.DBPage
	// pins counts pins per session; a page is evictable only when this
	// multiset is empty.
	pins map[SessionID]int
	elem *list.Element
}

func (e *entry) pinCount() int {
	n := 0
	for _, c := range e.pins {
		n += c
	}
	return n
}

// Manager is the Buffer Manager of spec.md §4.2: a bounded cache of
// DBPages shared by every table/index/WAL file the catalog has open.
type Manager struct {
	mu          sync.Mutex
	policy      Policy
	maxBytes    int64
	cachedBytes int64

	entries map[pageKey]*entry
	order   *list.List // front = next victim candidate

	log *logrus.Logger
}

// NewManager constructs a Buffer Manager bounded to maxBytes, evicting per
// policy once that budget is exceeded.
func NewManager(maxBytes int64, policy Policy, log *logrus.Logger) *Manager {
	if log == nil {
		log = logrus.New()
	}
	return &Manager{
		policy:   policy,
		maxBytes: maxBytes,
		entries:  make(map[pageKey]*entry),
		order:    list.New(),
		log:      log,
	}
}

func keyFor(file *storage.DBFile, pageNo int) pageKey {
	return pageKey{path: file.Path(), pageNo: pageNo}
}

// touch moves e to the back of the eviction order (most-recently-used end)
// under LRU. FIFO never reorders after the initial insert.
func (m *Manager) touch(k pageKey, e *entry) {
	if m.policy != LRU {
		return
	}
	m.order.MoveToBack(e.elem)
}

// GetPage returns the cached page for (file, pageNo) pinned for session,
// or (nil, false) on a cache miss. The caller must read the page from disk
// and call AddPage on a miss.
func (m *Manager) GetPage(file *storage.DBFile, pageNo int, session SessionID) (*storage.DBPage, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	k := keyFor(file, pageNo)
	e, ok := m.entries[k]
	if !ok {
		return nil, false
	}
	e.pins[session]++
	m.touch(k, e)
	return e.page, true
}

// AddPage inserts a freshly loaded page, pinned for session, then evicts
// victims in policy order while the cache exceeds its byte budget. Pinned
// pages are never evicted.
func (m *Manager) AddPage(page *storage.DBPage, session SessionID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	k := keyFor(page.File, page.PageNo)
	if existing, ok := m.entries[k]; ok {
		existing.pins[session]++
		m.touch(k, existing)
		return nil
	}

	e := &entry{page: page, pins: map[SessionID]int{session: 1}}
	e.elem = m.order.PushBack(k)
	m.entries[k] = e
	m.cachedBytes += int64(page.Size())

	return m.evict()
}

// evict runs while cachedBytes exceeds maxBytes, skipping pinned pages.
// Dirty victims are flushed before being dropped. Called with mu held.
func (m *Manager) evict() error {
	if m.maxBytes <= 0 {
		return nil
	}
	for m.cachedBytes > m.maxBytes {
		victimElem := m.frontUnpinned()
		if victimElem == nil {
			// Everything resident is pinned; nothing more can be done.
			return nil
		}
		k := victimElem.Value.(pageKey)
		e := m.entries[k]

		if e.page.Dirty() {
			if err := e.page.File.WritePage(e.page.PageNo, e.page.Data); err != nil {
				return err
			}
			e.page.ClearDirty()
		}

		m.order.Remove(victimElem)
		delete(m.entries, k)
		m.cachedBytes -= int64(e.page.Size())
		m.log.WithField("page", k.pageNo).WithField("file", k.path).Debug("evicted page")
	}
	return nil
}

func (m *Manager) frontUnpinned() *list.Element {
	for el := m.order.Front(); el != nil; el = el.Next() {
		k := el.Value.(pageKey)
		if m.entries[k].pinCount() == 0 {
			return el
		}
	}
	return nil
}

// Pin increments session's pin count on (file, pageNo). The page must
// already be cached.
func (m *Manager) Pin(file *storage.DBFile, pageNo int, session SessionID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	k := keyFor(file, pageNo)
	e, ok := m.entries[k]
	if !ok {
		return dberr.New(dberr.InvalidArgument, fmt.Sprintf("pin: page %d of %s not cached", pageNo, file.Path()))
	}
	e.pins[session]++
	return nil
}

// Unpin decrements session's pin count on (file, pageNo). Unpinning a
// session that never pinned, or over-unpinning, is a programming error
// reported as InvalidArgument.
func (m *Manager) Unpin(file *storage.DBFile, pageNo int, session SessionID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	k := keyFor(file, pageNo)
	e, ok := m.entries[k]
	if !ok {
		return dberr.New(dberr.InvalidArgument, fmt.Sprintf("unpin: page %d of %s not cached", pageNo, file.Path()))
	}
	n, ok := e.pins[session]
	if !ok || n <= 0 {
		return dberr.New(dberr.InvalidArgument, fmt.Sprintf("unpin: session %s has no pin on page %d of %s", session, pageNo, file.Path()))
	}
	if n == 1 {
		delete(e.pins, session)
	} else {
		e.pins[session] = n - 1
	}
	return nil
}

// FlushDBFile writes every dirty page belonging to file, then drops them
// from the cache.
func (m *Manager) FlushDBFile(file *storage.DBFile) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.flushDBFileLocked(file)
}

func (m *Manager) flushDBFileLocked(file *storage.DBFile) error {
	for k, e := range m.entries {
		if k.path != file.Path() {
			continue
		}
		if e.page.Dirty() {
			if err := file.WritePage(e.page.PageNo, e.page.Data); err != nil {
				return err
			}
			e.page.ClearDirty()
		}
		m.order.Remove(e.elem)
		delete(m.entries, k)
		m.cachedBytes -= int64(e.page.Size())
	}
	return nil
}

// FlushAll flushes every dirty page in the cache, for every file.
func (m *Manager) FlushAll() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for k, e := range m.entries {
		if e.page.Dirty() {
			if err := e.page.File.WritePage(e.page.PageNo, e.page.Data); err != nil {
				return err
			}
			e.page.ClearDirty()
		}
		m.order.Remove(e.elem)
		delete(m.entries, k)
		m.cachedBytes -= int64(e.page.Size())
	}
	return nil
}

// RemoveDBFile flushes file's pages then drops any remaining bookkeeping
// for it.
func (m *Manager) RemoveDBFile(file *storage.DBFile) error {
	return m.FlushDBFile(file)
}

// CachedBytes reports the total size of pages currently resident, for
// tests asserting the buffer cache bound (spec.md §8).
func (m *Manager) CachedBytes() int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.cachedBytes
}
