// Package tuple implements the slotted-page tuple representation of
// spec.md §3/§4.4: a null-bitmap followed by packed column values, backed
// by a storage.DBPage.
package tuple

import "fmt"

// Type is one of the fixed SQL types the storage core understands.
type Type byte

const (
	TinyInt Type = iota + 1
	SmallInt
	Integer
	Float
	BigInt
	Double
	Char
	VarChar
)

func (t Type) String() string {
	switch t {
	case TinyInt:
		return "TINYINT"
	case SmallInt:
		return "SMALLINT"
	case Integer:
		return "INTEGER"
	case Float:
		return "FLOAT"
	case BigInt:
		return "BIGINT"
	case Double:
		return "DOUBLE"
	case Char:
		return "CHAR"
	case VarChar:
		return "VARCHAR"
	default:
		return fmt.Sprintf("UNKNOWN(%d)", byte(t))
	}
}

// IsVariableLength reports whether values of t occupy a length that
// varies per row (VARCHAR) as opposed to a type-fixed width.
func (t Type) IsVariableLength() bool { return t == VarChar }

// FixedWidth returns the on-page byte width of t, given its declared
// length for CHAR. It panics for VarChar, whose width depends on the
// stored value - callers must use storedWidthAt/computeWidth instead.
func (t Type) FixedWidth(length int) int {
	switch t {
	case TinyInt:
		return 1
	case SmallInt:
		return 2
	case Integer, Float:
		return 4
	case BigInt, Double:
		return 8
	case Char:
		return length
	default:
		panic(fmt.Sprintf("FixedWidth: %s has no fixed width", t))
	}
}

// Column describes one column of a Schema: its name, an optional owning
// table name (for qualified references), its type, and - for CHAR/VARCHAR
// - its declared length.
type Column struct {
	Name   string
	Table  string
	Type   Type
	Length int
}

// ConstraintKind distinguishes the three key-constraint shapes a Schema
// may carry (spec.md §3, §6 table-header layout).
type ConstraintKind byte

const (
	PrimaryKeyConstraint ConstraintKind = iota + 1
	UniqueConstraint
	ForeignKeyConstraint
)

// Constraint is a key constraint over one or more columns of a Schema,
// identified by column index (not name) since Schema.Columns is ordered.
type Constraint struct {
	Kind ConstraintKind
	Name string

	// Columns holds the zero-based column indexes participating in this
	// constraint, in declared order.
	Columns []int

	// IndexName names the B+ tree index enforcing a PRIMARY or UNIQUE
	// constraint.
	IndexName string

	// RefTable and RefColumns are set only for ForeignKeyConstraint: the
	// referenced table and, per entry in Columns, the referenced column
	// index in RefTable's schema.
	RefTable   string
	RefColumns []int
}

// Schema is an ordered list of columns plus zero-or-more key constraints,
// per spec.md §3.
type Schema struct {
	Columns     []Column
	Constraints []Constraint
}

// NullBitmapSize returns ceil(n/8), the number of bytes a null-bitmap for
// n columns occupies.
func NullBitmapSize(n int) int {
	return (n + 7) / 8
}

// MinTupleSize returns the smallest possible on-page size of a tuple
// conforming to schema: the null bitmap plus, for each column, its fixed
// width or (for VARCHAR) the 2-byte length prefix alone. Callers use this
// as an upper bound on how many tuples a page could ever hold, to size a
// page's slot directory once up front.
func MinTupleSize(schema *Schema) int {
	size := NullBitmapSize(len(schema.Columns))
	for _, c := range schema.Columns {
		if c.Type == VarChar {
			size += 2
		} else {
			size += c.Type.FixedWidth(c.Length)
		}
	}
	return size
}
