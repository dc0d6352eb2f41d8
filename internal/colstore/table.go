package colstore

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/sirupsen/logrus"

	"github.com/joeandaverde/nanodb/internal/buffer"
	"github.com/joeandaverde/nanodb/internal/dberr"
	"github.com/joeandaverde/nanodb/internal/storage"
	"github.com/joeandaverde/nanodb/internal/tuple"
)

// Table is a column-store table: a header file naming the schema, and
// one Column data file per schema column (spec.md §4.7). Column.Encoding
// is decided by Load's analyzer pass, not at CreateTable time, since
// spec.md §4.7's encoding rule needs the actual values to inspect.
type Table struct {
	Name    string
	Schema  *tuple.Schema
	Columns []*Column

	baseDir  string
	pageSize int
	buffer   *buffer.Manager
	log      *logrus.Logger
}

// CreateTable creates a column-store table's column directory
// <baseDir>/<name>/ and writes its header file inside it, at
// <baseDir>/<name>/<name>.header.tbl. Load must be called at least once
// before any column has data.
func CreateTable(baseDir, name string, schema *tuple.Schema, pageSize int, buf *buffer.Manager, log *logrus.Logger) (*Table, error) {
	if err := os.MkdirAll(filepath.Join(baseDir, name), 0755); err != nil {
		return nil, dberr.Wrapf(dberr.IOFailure, err, "create column directory for %s", name)
	}

	headerPath := storage.ColumnHeaderPath(baseDir, name)
	hf, err := storage.CreateDBFile(headerPath, storage.ColumnstoreHeaderFile, pageSize)
	if err != nil {
		return nil, err
	}
	if _, err := hf.AllocatePage(); err != nil {
		return nil, err
	}
	header := storage.NewPage(hf, 0)
	w := storage.NewPageWriter(header)
	if err := w.WriteUint8(byte(storage.ColumnstoreHeaderFile)); err != nil {
		return nil, err
	}
	if err := w.WriteUint8(storage.EncodePageSize(pageSize)); err != nil {
		return nil, err
	}
	if err := tuple.WriteSchema(w, schema); err != nil {
		return nil, err
	}
	if err := hf.WritePage(0, header.Data); err != nil {
		return nil, err
	}
	if err := hf.Close(); err != nil {
		return nil, err
	}

	return &Table{Name: name, Schema: schema, baseDir: baseDir, pageSize: pageSize, buffer: buf, log: logging(log)}, nil
}

// OpenTable opens an existing column-store table, reading the schema
// from its header file and opening every column data file with its
// on-disk encoding.
func OpenTable(baseDir, name string, buf *buffer.Manager, log *logrus.Logger) (*Table, error) {
	headerPath := storage.ColumnHeaderPath(baseDir, name)
	hf, err := storage.OpenDBFile(headerPath)
	if err != nil {
		return nil, err
	}
	if hf.FileType() != storage.ColumnstoreHeaderFile {
		return nil, dberr.New(dberr.InvalidArgument, fmt.Sprintf("%s is not a column-store header file", headerPath))
	}
	raw, err := hf.ReadPage(0)
	if err != nil {
		return nil, err
	}
	r := storage.NewPageReader(storage.LoadPage(hf, 0, raw))
	if _, err := r.ReadUint8(); err != nil {
		return nil, err
	}
	if _, err := r.ReadUint8(); err != nil {
		return nil, err
	}
	schema, err := tuple.ReadSchema(r)
	if err != nil {
		return nil, err
	}
	pageSize := hf.PageSize()
	if err := hf.Close(); err != nil {
		return nil, err
	}

	t := &Table{Name: name, Schema: schema, baseDir: baseDir, pageSize: pageSize, buffer: buf, log: logging(log)}
	for _, col := range schema.Columns {
		c, err := OpenColumn(baseDir, name, col, buf, log)
		if err != nil {
			return nil, err
		}
		t.Columns = append(t.Columns, c)
	}
	return t, nil
}

// Close flushes and closes every column data file.
func (t *Table) Close() error {
	for _, c := range t.Columns {
		if err := c.Close(); err != nil {
			return err
		}
	}
	return nil
}

// Load analyzes rows (row-major, one []interface{} per row, values in
// schema column order) and writes each column's values into a fresh data
// file, encoded per spec.md §4.7's analyzer rule. A second Load call
// replaces each column's file from scratch (column-store tables are
// bulk-loaded, not updated tuple by tuple).
func (t *Table) Load(rows [][]interface{}) error {
	columns := make([]*Column, len(t.Schema.Columns))
	for colIdx, col := range t.Schema.Columns {
		values := make([]interface{}, len(rows))
		for i, row := range rows {
			values[i] = row[colIdx]
		}
		c, err := t.loadColumn(col, values)
		if err != nil {
			return fmt.Errorf("column %s: %w", col.Name, err)
		}
		columns[colIdx] = c
	}

	for _, old := range t.Columns {
		if old != nil {
			if err := old.Close(); err != nil {
				return err
			}
		}
	}
	t.Columns = columns
	return nil
}

func (t *Table) loadColumn(col tuple.Column, values []interface{}) (*Column, error) {
	equal := func(a, b interface{}) bool { return a == b }
	stats := Analyze(values, equal, lessValue)
	encoding := ChooseEncoding(stats)

	path := storage.ColumnFilePath(t.baseDir, t.Name, col.Name)
	if _, err := os.Stat(path); err == nil {
		if err := os.Remove(path); err != nil {
			return nil, dberr.Wrapf(dberr.IOFailure, err, "remove stale column file %s", path)
		}
	}

	c, err := CreateColumn(t.baseDir, t.Name, col, encoding, t.pageSize, t.buffer, t.log)
	if err != nil {
		return nil, err
	}

	session := buffer.NewSessionID()
	switch encoding {
	case RLE:
		err = writeRuns(c, session, values)
	case Dictionary:
		err = writeDictionary(c, session, values)
	default:
		err = writeLiterals(c, session, values)
	}
	if err != nil {
		return nil, err
	}
	if err := c.Finalize(session); err != nil {
		return nil, err
	}
	return c, nil
}

func writeLiterals(c *Column, session buffer.SessionID, values []interface{}) error {
	for i, v := range values {
		if err := c.WriteLiteral(session, v, int32(i)); err != nil {
			return err
		}
	}
	return nil
}

func writeRuns(c *Column, session buffer.SessionID, values []interface{}) error {
	i := 0
	for i < len(values) {
		j := i + 1
		for j < len(values) && values[j] == values[i] {
			j++
		}
		if err := c.WriteRun(session, values[i], int32(i), int32(j-i)); err != nil {
			return err
		}
		i = j
	}
	return nil
}

func writeDictionary(c *Column, session buffer.SessionID, values []interface{}) error {
	strs := make([]string, len(values))
	for i, v := range values {
		strs[i] = fmt.Sprintf("%v", v)
	}
	codes := c.BuildDictionary(sortedDistinctStrings(strs))
	for _, s := range strs {
		if err := c.WriteCode(session, codes[s]); err != nil {
			return err
		}
	}
	return nil
}

func lessValue(a, b interface{}) bool {
	switch av := a.(type) {
	case int32:
		bv, ok := b.(int32)
		return ok && av < bv
	case int64:
		bv, ok := b.(int64)
		return ok && av < bv
	case float64:
		bv, ok := b.(float64)
		return ok && av < bv
	case string:
		bv, ok := b.(string)
		return ok && av < bv
	default:
		return false
	}
}

// RowView reconstructs rowCount rows (row-major) by composing every
// column's Values in schema order, presenting the column-store's data as
// a row-oriented face (spec.md §4.7).
func (t *Table) RowView(rowCount int) ([][]interface{}, error) {
	perColumn := make([][]interface{}, len(t.Columns))
	for i, c := range t.Columns {
		vs, err := c.Values(rowCount)
		if err != nil {
			return nil, err
		}
		perColumn[i] = vs
	}

	rows := make([][]interface{}, rowCount)
	for r := 0; r < rowCount; r++ {
		row := make([]interface{}, len(perColumn))
		for c := range perColumn {
			row[c] = perColumn[c][r]
		}
		rows[r] = row
	}
	return rows, nil
}
