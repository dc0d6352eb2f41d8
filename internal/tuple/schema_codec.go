package tuple

import (
	"fmt"

	"github.com/joeandaverde/nanodb/internal/dberr"
	"github.com/joeandaverde/nanodb/internal/storage"
)

// keyHeaderFlag is set in every constraint header byte, PRIMARY/UNIQUE
// and FOREIGN alike; the low bits carry the ConstraintKind (spec.md §6's
// "KEY_HEADER(1|0x80)" notation).
const keyHeaderFlag = 0x80

// WriteSchema encodes schema onto w per spec.md §6's table header layout:
// numCols, then per column {baseTypeID, [length if VARCHAR/CHAR], name},
// then numConstraints and per constraint a key or foreign-key header.
func WriteSchema(w *storage.PageWriter, schema *Schema) error {
	if len(schema.Columns) > 255 {
		return dberr.New(dberr.InvalidArgument, fmt.Sprintf("schema has %d columns, more than 255", len(schema.Columns)))
	}
	if err := w.WriteUint8(uint8(len(schema.Columns))); err != nil {
		return err
	}
	for _, col := range schema.Columns {
		if err := w.WriteUint8(byte(col.Type)); err != nil {
			return err
		}
		if col.Type == VarChar || col.Type == Char {
			if err := w.WriteUint16(uint16(col.Length)); err != nil {
				return err
			}
		}
		if err := w.WriteVarString1(col.Name); err != nil {
			return err
		}
	}

	if len(schema.Constraints) > 255 {
		return dberr.New(dberr.InvalidArgument, fmt.Sprintf("schema has %d constraints, more than 255", len(schema.Constraints)))
	}
	if err := w.WriteUint8(uint8(len(schema.Constraints))); err != nil {
		return err
	}
	for _, c := range schema.Constraints {
		if err := writeConstraint(w, c); err != nil {
			return err
		}
	}
	return nil
}

func writeConstraint(w *storage.PageWriter, c Constraint) error {
	switch c.Kind {
	case PrimaryKeyConstraint, UniqueConstraint:
		if err := w.WriteUint8(keyHeaderFlag | byte(c.Kind)); err != nil {
			return err
		}
		if err := w.WriteVarString1(c.Name); err != nil {
			return err
		}
		if err := w.WriteUint8(uint8(len(c.Columns))); err != nil {
			return err
		}
		for _, idx := range c.Columns {
			if err := w.WriteUint8(uint8(idx)); err != nil {
				return err
			}
		}
		return w.WriteVarString1(c.IndexName)
	case ForeignKeyConstraint:
		if err := w.WriteUint8(keyHeaderFlag | byte(c.Kind)); err != nil {
			return err
		}
		if err := w.WriteVarString1(c.Name); err != nil {
			return err
		}
		if err := w.WriteVarString1(c.RefTable); err != nil {
			return err
		}
		if err := w.WriteUint8(uint8(len(c.Columns))); err != nil {
			return err
		}
		for i, idx := range c.Columns {
			if err := w.WriteUint8(uint8(idx)); err != nil {
				return err
			}
			if err := w.WriteUint8(uint8(c.RefColumns[i])); err != nil {
				return err
			}
		}
		return nil
	default:
		return dberr.New(dberr.InvalidArgument, fmt.Sprintf("unknown constraint kind %d", c.Kind))
	}
}

// ReadSchema decodes a Schema previously written by WriteSchema.
func ReadSchema(r *storage.PageReader) (*Schema, error) {
	numCols, err := r.ReadUint8()
	if err != nil {
		return nil, err
	}

	schema := &Schema{Columns: make([]Column, numCols)}
	for i := 0; i < int(numCols); i++ {
		typeID, err := r.ReadUint8()
		if err != nil {
			return nil, err
		}
		col := Column{Type: Type(typeID)}
		if col.Type == VarChar || col.Type == Char {
			length, err := r.ReadUint16()
			if err != nil {
				return nil, err
			}
			col.Length = int(length)
		}
		name, err := r.ReadVarString1()
		if err != nil {
			return nil, err
		}
		col.Name = name
		schema.Columns[i] = col
	}

	numConstraints, err := r.ReadUint8()
	if err != nil {
		return nil, err
	}
	schema.Constraints = make([]Constraint, numConstraints)
	for i := 0; i < int(numConstraints); i++ {
		c, err := readConstraint(r)
		if err != nil {
			return nil, err
		}
		schema.Constraints[i] = c
	}

	return schema, nil
}

func readConstraint(r *storage.PageReader) (Constraint, error) {
	header, err := r.ReadUint8()
	if err != nil {
		return Constraint{}, err
	}
	if header&keyHeaderFlag == 0 {
		return Constraint{}, dberr.New(dberr.InvalidArgument, fmt.Sprintf("malformed constraint header byte 0x%02x", header))
	}
	kind := ConstraintKind(header &^ keyHeaderFlag)

	name, err := r.ReadVarString1()
	if err != nil {
		return Constraint{}, err
	}

	switch kind {
	case PrimaryKeyConstraint, UniqueConstraint:
		n, err := r.ReadUint8()
		if err != nil {
			return Constraint{}, err
		}
		cols := make([]int, n)
		for i := range cols {
			v, err := r.ReadUint8()
			if err != nil {
				return Constraint{}, err
			}
			cols[i] = int(v)
		}
		indexName, err := r.ReadVarString1()
		if err != nil {
			return Constraint{}, err
		}
		return Constraint{Kind: kind, Name: name, Columns: cols, IndexName: indexName}, nil
	case ForeignKeyConstraint:
		refTable, err := r.ReadVarString1()
		if err != nil {
			return Constraint{}, err
		}
		n, err := r.ReadUint8()
		if err != nil {
			return Constraint{}, err
		}
		cols := make([]int, n)
		refCols := make([]int, n)
		for i := 0; i < int(n); i++ {
			c, err := r.ReadUint8()
			if err != nil {
				return Constraint{}, err
			}
			rc, err := r.ReadUint8()
			if err != nil {
				return Constraint{}, err
			}
			cols[i] = int(c)
			refCols[i] = int(rc)
		}
		return Constraint{Kind: kind, Name: name, RefTable: refTable, Columns: cols, RefColumns: refCols}, nil
	default:
		return Constraint{}, dberr.New(dberr.InvalidArgument, fmt.Sprintf("unknown constraint kind %d", kind))
	}
}
