package colstore

import (
	"fmt"
	"sort"

	radix "github.com/armon/go-radix"
	"github.com/sirupsen/logrus"

	"github.com/joeandaverde/nanodb/internal/buffer"
	"github.com/joeandaverde/nanodb/internal/dberr"
	"github.com/joeandaverde/nanodb/internal/storage"
	"github.com/joeandaverde/nanodb/internal/tuple"
)

// Column is one column's data file: a sequence of pages packed with
// blocks in a single encoding (spec.md §4.7).
type Column struct {
	Name     string
	File     *storage.DBFile
	Buffer   *buffer.Manager
	Type     tuple.Type
	Length   int
	Encoding Encoding

	log        *logrus.Logger
	dictionary []string // Dictionary encoding only: code -> value, sorted order
}

// CreateColumn creates a fresh, empty column data file with its first
// page initialized for encoding.
func CreateColumn(baseDir, tableName string, col tuple.Column, encoding Encoding, pageSize int, buf *buffer.Manager, log *logrus.Logger) (*Column, error) {
	path := storage.ColumnFilePath(baseDir, tableName, col.Name)
	f, err := storage.CreateDBFile(path, storage.ColumnstoreDataFile, pageSize)
	if err != nil {
		return nil, err
	}
	pageNo, err := f.AllocatePage()
	if err != nil {
		return nil, err
	}
	page := storage.NewPage(f, pageNo)
	initPage(page, encoding)
	if err := f.WritePage(pageNo, page.Data); err != nil {
		return nil, err
	}
	return &Column{Name: col.Name, File: f, Buffer: buf, Type: col.Type, Length: col.Length, Encoding: encoding, log: logging(log)}, nil
}

// OpenColumn opens an existing column data file and loads its encoding
// (and dictionary trailer, if any) from disk.
func OpenColumn(baseDir, tableName string, col tuple.Column, buf *buffer.Manager, log *logrus.Logger) (*Column, error) {
	path := storage.ColumnFilePath(baseDir, tableName, col.Name)
	f, err := storage.OpenDBFile(path)
	if err != nil {
		return nil, err
	}
	raw, err := f.ReadPage(0)
	if err != nil {
		return nil, err
	}
	_, encoding, _, _ := readPageHeader(storage.LoadPage(f, 0, raw))

	c := &Column{Name: col.Name, File: f, Buffer: buf, Type: col.Type, Length: col.Length, Encoding: encoding, log: logging(log)}
	if encoding == Dictionary {
		if err := c.loadDictionary(); err != nil {
			return nil, err
		}
	}
	return c, nil
}

func logging(log *logrus.Logger) *logrus.Logger {
	if log == nil {
		return logrus.New()
	}
	return log
}

// Close flushes and closes the column's data file.
func (c *Column) Close() error {
	if err := c.Buffer.FlushDBFile(c.File); err != nil {
		return err
	}
	return c.File.Close()
}

func (c *Column) lastPageNo() (int, error) {
	total, err := c.File.TotalPages()
	if err != nil {
		return 0, err
	}
	if total == 0 {
		return 0, dberr.New(dberr.IOFailure, "column file has no pages")
	}
	return total - 1, nil
}

func (c *Column) loadPage(pageNo int, session buffer.SessionID) (*storage.DBPage, error) {
	if page, ok := c.Buffer.GetPage(c.File, pageNo, session); ok {
		return page, nil
	}
	data, err := c.File.ReadPage(pageNo)
	if err != nil {
		return nil, err
	}
	page := storage.LoadPage(c.File, pageNo, data)
	if err := c.Buffer.AddPage(page, session); err != nil {
		return nil, err
	}
	return page, nil
}

// appendCell writes a block's bytes (produced by build, given a
// PageWriter positioned at the page's current free-space boundary),
// allocating a new page of the same encoding if the current one has no
// room for size bytes.
func (c *Column) appendCell(session buffer.SessionID, size int, build func(w *storage.PageWriter) error) error {
	pageNo, err := c.lastPageNo()
	if err != nil {
		return err
	}
	page, err := c.loadPage(pageNo, session)
	if err != nil {
		return err
	}
	_, _, cellCount, nextOffset := readPageHeader(page)

	if nextOffset+size > page.Size() {
		if err := c.Buffer.Unpin(c.File, pageNo, session); err != nil {
			return err
		}
		newPageNo, err := c.File.AllocatePage()
		if err != nil {
			return err
		}
		page = storage.NewPage(c.File, newPageNo)
		initPage(page, c.Encoding)
		if err := c.Buffer.AddPage(page, session); err != nil {
			return err
		}
		pageNo = newPageNo
		_, _, cellCount, nextOffset = readPageHeader(page)
	}

	w := storage.NewPageWriter(page)
	if err := w.Seek(nextOffset); err != nil {
		return err
	}
	if err := build(w); err != nil {
		return err
	}
	reserved, encoding, _, _ := readPageHeader(page)
	writePageHeader(page, reserved, encoding, cellCount+1, nextOffset+size)

	return c.Buffer.Unpin(c.File, pageNo, session)
}

// WriteRun appends one RLE block (spec.md §4.7: `value | start-position |
// run-length`).
func (c *Column) WriteRun(session buffer.SessionID, value interface{}, start, runLength int32) error {
	width, err := tuple.ValueWidth(c.Type, c.Length, value)
	if err != nil {
		return err
	}
	size := width + 8
	return c.appendCell(session, size, func(w *storage.PageWriter) error {
		if err := tuple.WriteValue(w, c.Type, c.Length, value); err != nil {
			return err
		}
		if err := w.WriteInt32(start); err != nil {
			return err
		}
		return w.WriteInt32(runLength)
	})
}

// WriteLiteral appends one uncompressed block (`value | position`).
func (c *Column) WriteLiteral(session buffer.SessionID, value interface{}, position int32) error {
	width, err := tuple.ValueWidth(c.Type, c.Length, value)
	if err != nil {
		return err
	}
	return c.appendCell(session, width+4, func(w *storage.PageWriter) error {
		if err := tuple.WriteValue(w, c.Type, c.Length, value); err != nil {
			return err
		}
		return w.WriteInt32(position)
	})
}

// WriteCode appends one dictionary-coded cell: a packed 16-bit code word.
func (c *Column) WriteCode(session buffer.SessionID, code uint16) error {
	return c.appendCell(session, 2, func(w *storage.PageWriter) error {
		return w.WriteUint16(code)
	})
}

// BuildDictionary orders distinct's values via a radix tree (so codes are
// assigned in sorted order, stable across re-encodes of the same value
// set) and assigns each a 0-based code.
func (c *Column) BuildDictionary(distinct []string) map[string]uint16 {
	tree := radix.New()
	for _, v := range distinct {
		tree.Insert(v, nil)
	}
	codes := make(map[string]uint16)
	var ordered []string
	tree.Walk(func(s string, _ interface{}) bool {
		codes[s] = uint16(len(ordered))
		ordered = append(ordered, s)
		return false
	})
	c.dictionary = ordered
	return codes
}

// Finalize writes the dictionary trailer after the last data block and
// records its start page in page 0's reserved header field, per
// spec.md §4.7 ("decoded via a per-file dictionary stored after the last
// data block"). Only meaningful for Dictionary-encoded columns.
func (c *Column) Finalize(session buffer.SessionID) error {
	if c.Encoding != Dictionary || len(c.dictionary) == 0 {
		return nil
	}

	trailerStart, err := c.File.AllocatePage()
	if err != nil {
		return err
	}
	page := storage.NewPage(c.File, trailerStart)
	initPage(page, Dictionary)
	if err := c.Buffer.AddPage(page, session); err != nil {
		return err
	}

	for _, v := range c.dictionary {
		size := 2 + len(v)
		if err := c.appendCell(session, size, func(w *storage.PageWriter) error {
			return w.WriteVarString2(v)
		}); err != nil {
			return err
		}
	}

	zero, err := c.loadPage(0, session)
	if err != nil {
		return err
	}
	setReserved(zero, uint16(trailerStart))
	return c.Buffer.Unpin(c.File, 0, session)
}

func (c *Column) loadDictionary() error {
	raw, err := c.File.ReadPage(0)
	if err != nil {
		return err
	}
	trailerStart, _, _, _ := readPageHeader(storage.LoadPage(c.File, 0, raw))
	if trailerStart == 0 {
		return nil
	}

	total, err := c.File.TotalPages()
	if err != nil {
		return err
	}
	var values []string
	for p := int(trailerStart); p < total; p++ {
		data, err := c.File.ReadPage(p)
		if err != nil {
			return err
		}
		page := storage.LoadPage(c.File, p, data)
		_, _, cellCount, _ := readPageHeader(page)
		r := storage.NewPageReader(page)
		if err := r.Seek(pageHeaderSize); err != nil {
			return err
		}
		for i := 0; i < cellCount; i++ {
			s, err := r.ReadVarString2()
			if err != nil {
				return err
			}
			values = append(values, s)
		}
	}
	c.dictionary = values
	return nil
}

// Decode returns the value a dictionary code refers to.
func (c *Column) Decode(code uint16) (string, error) {
	if int(code) >= len(c.dictionary) {
		return "", dberr.New(dberr.CorruptIndex, fmt.Sprintf("column %s: dictionary code %d out of range", c.Name, code))
	}
	return c.dictionary[code], nil
}

// sortedDistinctStrings is a small helper the table layer uses to build a
// Dictionary column's code table from a column's observed values.
func sortedDistinctStrings(values []string) []string {
	seen := map[string]bool{}
	var out []string
	for _, v := range values {
		if !seen[v] {
			seen[v] = true
			out = append(out, v)
		}
	}
	sort.Strings(out)
	return out
}
