package tuple

import (
	"fmt"

	"github.com/joeandaverde/nanodb/internal/dberr"
	"github.com/joeandaverde/nanodb/internal/storage"
)

// PageTuple addresses a tuple by (page, slot, offset) and caches each
// column's byte offset within the page, per spec.md §4.4. Offsets are
// valid exactly while the tuple is alive and its page has not been
// re-slotted; a NULL column's cached offset is 0, a sentinel distinct from
// any real data offset (offset 0 always falls inside the null bitmap).
type PageTuple struct {
	Page   *storage.DBPage
	Slot   int
	Offset int
	Schema *Schema

	offsets []int
}

// dataStart returns the first byte past the null bitmap.
func (t *PageTuple) dataStart() int {
	return t.Offset + NullBitmapSize(len(t.Schema.Columns))
}

func bitmapByte(t *PageTuple, i int) (byteIdx, bit int) {
	return t.Offset + i/8, i % 8
}

func (t *PageTuple) bitSet(i int) bool {
	byteIdx, bit := bitmapByte(t, i)
	return t.Page.Data[byteIdx]&(1<<uint(bit)) != 0
}

func (t *PageTuple) setBit(i int, null bool) {
	byteIdx, bit := bitmapByte(t, i)
	if null {
		t.Page.Data[byteIdx] |= 1 << uint(bit)
	} else {
		t.Page.Data[byteIdx] &^= 1 << uint(bit)
	}
}

// LoadPageTuple reconstructs a PageTuple's cached column offsets by
// scanning the null bitmap and packed values already on the page.
func LoadPageTuple(page *storage.DBPage, slot, offset int, schema *Schema) (*PageTuple, error) {
	t := &PageTuple{Page: page, Slot: slot, Offset: offset, Schema: schema, offsets: make([]int, len(schema.Columns))}

	cur := t.dataStart()
	for i, col := range schema.Columns {
		if t.bitSet(i) {
			t.offsets[i] = 0
			continue
		}
		t.offsets[i] = cur
		w, err := t.storedWidthAt(cur, col)
		if err != nil {
			return nil, err
		}
		cur += w
	}
	return t, nil
}

// storedWidthAt returns the on-page byte width of col's current value at
// byte offset pos, reading a VARCHAR's length prefix from the page.
func (t *PageTuple) storedWidthAt(pos int, col Column) (int, error) {
	if col.Type == VarChar {
		r := storage.NewPageReader(t.Page)
		if err := r.Seek(pos); err != nil {
			return 0, err
		}
		n, err := r.ReadUint16()
		if err != nil {
			return 0, err
		}
		return 2 + int(n), nil
	}
	return col.Type.FixedWidth(col.Length), nil
}

// computeWidth returns the on-page byte width value would occupy if
// stored in col.
func computeWidth(col Column, value interface{}) (int, error) {
	if col.Type == VarChar {
		s, ok := value.(string)
		if !ok {
			return 0, dberr.New(dberr.InvalidArgument, fmt.Sprintf("column %s expects a string value for VARCHAR", col.Name))
		}
		if len(s) > 65535 {
			return 0, dberr.New(dberr.InvalidArgument, fmt.Sprintf("column %s: VARCHAR value of length %d exceeds 65535", col.Name, len(s)))
		}
		return 2 + len(s), nil
	}
	return col.Type.FixedWidth(col.Length), nil
}

// IsNullValue reports whether column i is NULL.
func (t *PageTuple) IsNullValue(i int) bool {
	return t.offsets[i] == 0
}

func (t *PageTuple) checkIndex(i int) error {
	if i < 0 || i >= len(t.Schema.Columns) {
		return dberr.New(dberr.InvalidArgument, fmt.Sprintf("column index %d out of range [0,%d)", i, len(t.Schema.Columns)))
	}
	return nil
}

// GetColumnValue returns column i's value, or nil if it is NULL.
func (t *PageTuple) GetColumnValue(i int) (interface{}, error) {
	if err := t.checkIndex(i); err != nil {
		return nil, err
	}
	if t.IsNullValue(i) {
		return nil, nil
	}

	r := storage.NewPageReader(t.Page)
	if err := r.Seek(t.offsets[i]); err != nil {
		return nil, err
	}
	col := t.Schema.Columns[i]
	switch col.Type {
	case TinyInt:
		return r.ReadInt8()
	case SmallInt:
		return r.ReadInt16()
	case Integer:
		return r.ReadInt32()
	case Float:
		return r.ReadFloat32()
	case BigInt:
		return r.ReadInt64()
	case Double:
		return r.ReadFloat64()
	case Char:
		return r.ReadFixedString(col.Length)
	case VarChar:
		return r.ReadVarString2()
	default:
		return nil, dberr.New(dberr.UnsupportedType, fmt.Sprintf("column %s has unsupported type %s", col.Name, col.Type))
	}
}

// deleteRange removes length bytes starting at pos from data, shifting
// everything after the removed range left and zero-filling the vacated
// tail.
func deleteRange(data []byte, pos, length int) {
	if length == 0 {
		return
	}
	copy(data[pos:], data[pos+length:])
	for i := len(data) - length; i < len(data); i++ {
		data[i] = 0
	}
}

// insertRange opens a gap of length bytes at pos, shifting everything at
// or after pos right. Bytes shifted past the end of data are lost -
// callers must have already verified the page has room (spec.md §4.4
// "the tuple layer assumes the caller has reserved space").
func insertRange(data []byte, pos, length int) {
	if length == 0 {
		return
	}
	copy(data[pos+length:], data[pos:len(data)-length])
}

// resizeRange adjusts the byte range starting at pos from oldWidth to
// newWidth bytes, shifting subsequent bytes in the page accordingly.
func resizeRange(data []byte, pos, oldWidth, newWidth int) {
	switch {
	case newWidth < oldWidth:
		deleteRange(data, pos+newWidth, oldWidth-newWidth)
	case newWidth > oldWidth:
		insertRange(data, pos+oldWidth, newWidth-oldWidth)
	}
}

// shiftOffsetsAfter adds delta to every column with index > i whose
// cached offset is non-zero (NULL offsets stay 0).
func (t *PageTuple) shiftOffsetsAfter(i, delta int) {
	for j := i + 1; j < len(t.offsets); j++ {
		if t.offsets[j] != 0 {
			t.offsets[j] += delta
		}
	}
}

// precedingDataEnd returns the byte offset just past the nearest non-NULL
// column before i, or the start of the data region if none exist.
func (t *PageTuple) precedingDataEnd(i int) (int, error) {
	for j := i - 1; j >= 0; j-- {
		if t.offsets[j] == 0 {
			continue
		}
		w, err := t.storedWidthAt(t.offsets[j], t.Schema.Columns[j])
		if err != nil {
			return 0, err
		}
		return t.offsets[j] + w, nil
	}
	return t.dataStart(), nil
}

// ResizeInfo describes the physical effect of a column edit on the page's
// byte layout: bytes at or after ShiftAt moved by Delta (positive grows
// toward the end of the page, negative shrinks toward its start). A
// caller maintaining its own slot directory over the same page (such as a
// heap data page, spec.md §4.5) must add Delta to every other slot's
// cached offset that is >= ShiftAt, and grow/shrink its own notion of the
// page's used-space boundary by Delta.
type ResizeInfo struct {
	ShiftAt int
	Delta   int
}

// planResize computes the (at, oldWidth, newWidth) triple a column edit
// would use, without mutating the page.
func (t *PageTuple) planResize(i int, value interface{}) (at, oldWidth, newWidth int, err error) {
	col := t.Schema.Columns[i]

	if value == nil {
		if t.IsNullValue(i) {
			return 0, 0, 0, nil
		}
		at = t.offsets[i]
		oldWidth, err = t.storedWidthAt(at, col)
		return at, oldWidth, 0, err
	}

	newWidth, err = computeWidth(col, value)
	if err != nil {
		return 0, 0, 0, err
	}
	if t.IsNullValue(i) {
		at, err = t.precedingDataEnd(i)
		return at, 0, newWidth, err
	}
	at = t.offsets[i]
	oldWidth, err = t.storedWidthAt(at, col)
	return at, oldWidth, newWidth, err
}

// PreviewResize reports the ResizeInfo a call to SetColumnValue(i, value)
// would produce, without mutating the page. Callers that manage their own
// slot directory over this page use this to verify there is enough
// trailing free space before committing to the edit.
func (t *PageTuple) PreviewResize(i int, value interface{}) (ResizeInfo, error) {
	if err := t.checkIndex(i); err != nil {
		return ResizeInfo{}, err
	}
	at, oldWidth, newWidth, err := t.planResize(i, value)
	if err != nil {
		return ResizeInfo{}, err
	}
	shift := oldWidth
	if newWidth < shift {
		shift = newWidth
	}
	return ResizeInfo{ShiftAt: at + shift, Delta: newWidth - oldWidth}, nil
}

// SetColumnValue sets column i to value, or to NULL if value is nil, per
// spec.md §4.4. It shrinks or grows the tuple's byte range in place,
// updates the null bitmap, and marks the page dirty. The returned
// ResizeInfo is a no-op (Delta 0) when the column was already NULL and is
// being set to NULL again.
func (t *PageTuple) SetColumnValue(i int, value interface{}) (ResizeInfo, error) {
	if err := t.checkIndex(i); err != nil {
		return ResizeInfo{}, err
	}

	if value == nil {
		return t.setNull(i)
	}
	return t.setValue(i, value)
}

func (t *PageTuple) setNull(i int) (ResizeInfo, error) {
	if t.IsNullValue(i) {
		return ResizeInfo{}, nil
	}
	col := t.Schema.Columns[i]
	at := t.offsets[i]
	oldWidth, err := t.storedWidthAt(at, col)
	if err != nil {
		return ResizeInfo{}, err
	}

	resizeRange(t.Page.Data, at, oldWidth, 0)
	t.shiftOffsetsAfter(i, -oldWidth)
	t.offsets[i] = 0
	t.setBit(i, true)
	t.Page.MarkDirty()
	return ResizeInfo{ShiftAt: at, Delta: -oldWidth}, nil
}

func (t *PageTuple) setValue(i int, value interface{}) (ResizeInfo, error) {
	col := t.Schema.Columns[i]
	newWidth, err := computeWidth(col, value)
	if err != nil {
		return ResizeInfo{}, err
	}

	var at, oldWidth int
	if t.IsNullValue(i) {
		at, err = t.precedingDataEnd(i)
		if err != nil {
			return ResizeInfo{}, err
		}
		oldWidth = 0
	} else {
		at = t.offsets[i]
		oldWidth, err = t.storedWidthAt(at, col)
		if err != nil {
			return ResizeInfo{}, err
		}
	}

	resizeRange(t.Page.Data, at, oldWidth, newWidth)

	w := storage.NewPageWriter(t.Page)
	if err := w.Seek(at); err != nil {
		return ResizeInfo{}, err
	}
	if err := writeTypedValue(w, col, value); err != nil {
		return ResizeInfo{}, err
	}

	t.shiftOffsetsAfter(i, newWidth-oldWidth)
	t.offsets[i] = at
	t.setBit(i, false)
	t.Page.MarkDirty()

	shift := oldWidth
	if newWidth < shift {
		shift = newWidth
	}
	return ResizeInfo{ShiftAt: at + shift, Delta: newWidth - oldWidth}, nil
}

func writeTypedValue(w *storage.PageWriter, col Column, value interface{}) error {
	switch col.Type {
	case TinyInt:
		v, ok := value.(int8)
		if !ok {
			return dberr.New(dberr.InvalidArgument, fmt.Sprintf("column %s expects int8", col.Name))
		}
		return w.WriteInt8(v)
	case SmallInt:
		v, ok := value.(int16)
		if !ok {
			return dberr.New(dberr.InvalidArgument, fmt.Sprintf("column %s expects int16", col.Name))
		}
		return w.WriteInt16(v)
	case Integer:
		v, ok := value.(int32)
		if !ok {
			return dberr.New(dberr.InvalidArgument, fmt.Sprintf("column %s expects int32", col.Name))
		}
		return w.WriteInt32(v)
	case Float:
		v, ok := value.(float32)
		if !ok {
			return dberr.New(dberr.InvalidArgument, fmt.Sprintf("column %s expects float32", col.Name))
		}
		return w.WriteFloat32(v)
	case BigInt:
		v, ok := value.(int64)
		if !ok {
			return dberr.New(dberr.InvalidArgument, fmt.Sprintf("column %s expects int64", col.Name))
		}
		return w.WriteInt64(v)
	case Double:
		v, ok := value.(float64)
		if !ok {
			return dberr.New(dberr.InvalidArgument, fmt.Sprintf("column %s expects float64", col.Name))
		}
		return w.WriteFloat64(v)
	case Char:
		v, ok := value.(string)
		if !ok {
			return dberr.New(dberr.InvalidArgument, fmt.Sprintf("column %s expects string", col.Name))
		}
		return w.WriteFixedString(v, col.Length)
	case VarChar:
		v, ok := value.(string)
		if !ok {
			return dberr.New(dberr.InvalidArgument, fmt.Sprintf("column %s expects string", col.Name))
		}
		return w.WriteVarString2(v)
	default:
		return dberr.New(dberr.UnsupportedType, fmt.Sprintf("column %s has unsupported type %s", col.Name, col.Type))
	}
}

// ValueWidth returns the on-page byte width value would occupy if stored
// in a column of type t/length (exported for internal/colstore, which
// packs single typed values into column-store blocks using the same
// fixed/variable-width rules as the row store).
func ValueWidth(t Type, length int, value interface{}) (int, error) {
	return computeWidth(Column{Type: t, Length: length}, value)
}

// WriteValue writes value (of type t/length) at w's current position,
// per the same encoding StoreNewTuple uses for a single column.
func WriteValue(w *storage.PageWriter, t Type, length int, value interface{}) error {
	return writeTypedValue(w, Column{Type: t, Length: length}, value)
}

// ReadValue reads a value of type t/length from r's current position.
func ReadValue(r *storage.PageReader, t Type, length int) (interface{}, error) {
	switch t {
	case TinyInt:
		return r.ReadInt8()
	case SmallInt:
		return r.ReadInt16()
	case Integer:
		return r.ReadInt32()
	case Float:
		return r.ReadFloat32()
	case BigInt:
		return r.ReadInt64()
	case Double:
		return r.ReadFloat64()
	case Char:
		return r.ReadFixedString(length)
	case VarChar:
		return r.ReadVarString2()
	default:
		return nil, dberr.New(dberr.UnsupportedType, fmt.Sprintf("unsupported type %s", t))
	}
}

// GetTupleStorageSize returns the exact number of bytes a fresh tuple
// encoding schema with the given values (nil meaning NULL, in column
// order) would occupy: the null bitmap plus every non-NULL value's width.
func GetTupleStorageSize(schema *Schema, values []interface{}) (int, error) {
	if len(values) != len(schema.Columns) {
		return 0, dberr.New(dberr.InvalidArgument, fmt.Sprintf("tuple arity %d does not match schema arity %d", len(values), len(schema.Columns)))
	}

	size := NullBitmapSize(len(schema.Columns))
	for i, col := range schema.Columns {
		if values[i] == nil {
			continue
		}
		w, err := computeWidth(col, values[i])
		if err != nil {
			return 0, err
		}
		size += w
	}
	return size, nil
}

// StoreNewTuple writes a fresh tuple - null bitmap followed by packed
// values - at offset within page, for the given slot, and returns the
// resulting PageTuple. The caller must have already reserved
// GetTupleStorageSize(schema, values) bytes at offset.
func StoreNewTuple(page *storage.DBPage, slot, offset int, schema *Schema, values []interface{}) (*PageTuple, error) {
	if len(values) != len(schema.Columns) {
		return nil, dberr.New(dberr.InvalidArgument, fmt.Sprintf("tuple arity %d does not match schema arity %d", len(values), len(schema.Columns)))
	}

	t := &PageTuple{Page: page, Slot: slot, Offset: offset, Schema: schema, offsets: make([]int, len(schema.Columns))}

	bitmapSize := NullBitmapSize(len(schema.Columns))
	for i := 0; i < bitmapSize; i++ {
		page.Data[offset+i] = 0
	}

	w := storage.NewPageWriter(page)
	cur := t.dataStart()
	for i, col := range schema.Columns {
		if values[i] == nil {
			t.setBit(i, true)
			t.offsets[i] = 0
			continue
		}
		if err := w.Seek(cur); err != nil {
			return nil, err
		}
		if err := writeTypedValue(w, col, values[i]); err != nil {
			return nil, err
		}
		t.offsets[i] = cur
		width, err := computeWidth(col, values[i])
		if err != nil {
			return nil, err
		}
		cur += width
	}

	page.MarkDirty()
	return t, nil
}
