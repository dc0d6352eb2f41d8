package storage

// DBPage is a loaded page: the owning file, a zero-based page number, the
// page's byte buffer, and a dirty flag (spec.md §3). The invariant that
// len(Data) == file.PageSize() is maintained by NewPage/LoadPage, the only
// two constructors.
type DBPage struct {
	File   *DBFile
	PageNo int
	Data   []byte
	dirty  bool
}

// NewPage creates a zero-filled in-memory page for pageNo, not yet
// written to disk.
func NewPage(file *DBFile, pageNo int) *DBPage {
	return &DBPage{
		File:   file,
		PageNo: pageNo,
		Data:   make([]byte, file.PageSize()),
		dirty:  true,
	}
}

// LoadPage wraps bytes read from disk into a DBPage, not marked dirty.
func LoadPage(file *DBFile, pageNo int, data []byte) *DBPage {
	return &DBPage{File: file, PageNo: pageNo, Data: data, dirty: false}
}

// Dirty reports whether the in-memory copy differs from disk.
func (p *DBPage) Dirty() bool { return p.dirty }

// MarkDirty sets the dirty flag. Typed accessors that mutate Data call
// this so callers never have to remember to.
func (p *DBPage) MarkDirty() { p.dirty = true }

// ClearDirty resets the dirty flag, e.g. after a successful flush.
func (p *DBPage) ClearDirty() { p.dirty = false }

// Size returns the page's byte length, always equal to its file's
// configured page size.
func (p *DBPage) Size() int { return len(p.Data) }
