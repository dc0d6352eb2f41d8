package colstore

import (
	"github.com/joeandaverde/nanodb/internal/buffer"
	"github.com/joeandaverde/nanodb/internal/dberr"
	"github.com/joeandaverde/nanodb/internal/storage"
	"github.com/joeandaverde/nanodb/internal/tuple"
)

// Block is one decoded cell: a run, a literal value, or a dictionary
// code, depending on the column's Encoding.
type Block struct {
	Value     interface{} // RLE/Uncompressed only
	Start     int32       // RLE: run start position. Uncompressed: its position.
	RunLength int32       // RLE only
	Code      uint16      // Dictionary only
}

// ReadBlocks yields every block stored in the column's data pages, in
// on-disk order, skipping any dictionary trailer pages.
func (c *Column) ReadBlocks() ([]Block, error) {
	session := buffer.NewSessionID()
	dataEnd, err := c.dataPageCount(session)
	if err != nil {
		return nil, err
	}

	var blocks []Block
	for p := 0; p < dataEnd; p++ {
		page, err := c.loadPage(p, session)
		if err != nil {
			return nil, err
		}
		_, encoding, cellCount, _ := readPageHeader(page)
		r := storage.NewPageReader(page)
		if err := r.Seek(pageHeaderSize); err != nil {
			return nil, err
		}
		for i := 0; i < cellCount; i++ {
			b, err := c.readBlock(r, encoding)
			if err != nil {
				return nil, err
			}
			blocks = append(blocks, b)
		}
		if err := c.Buffer.Unpin(c.File, p, session); err != nil {
			return nil, err
		}
	}
	return blocks, nil
}

func (c *Column) dataPageCount(session buffer.SessionID) (int, error) {
	total, err := c.File.TotalPages()
	if err != nil {
		return 0, err
	}
	if c.Encoding != Dictionary {
		return total, nil
	}
	zero, err := c.loadPage(0, session)
	if err != nil {
		return 0, err
	}
	trailerStart, _, _, _ := readPageHeader(zero)
	if err := c.Buffer.Unpin(c.File, 0, session); err != nil {
		return 0, err
	}
	if trailerStart == 0 {
		return total, nil
	}
	return int(trailerStart), nil
}

func (c *Column) readBlock(r *storage.PageReader, encoding Encoding) (Block, error) {
	switch encoding {
	case RLE:
		v, err := tuple.ReadValue(r, c.Type, c.Length)
		if err != nil {
			return Block{}, err
		}
		start, err := r.ReadInt32()
		if err != nil {
			return Block{}, err
		}
		run, err := r.ReadInt32()
		if err != nil {
			return Block{}, err
		}
		return Block{Value: v, Start: start, RunLength: run}, nil
	case Uncompressed:
		v, err := tuple.ReadValue(r, c.Type, c.Length)
		if err != nil {
			return Block{}, err
		}
		pos, err := r.ReadInt32()
		if err != nil {
			return Block{}, err
		}
		return Block{Value: v, Start: pos}, nil
	case Dictionary:
		code, err := r.ReadUint16()
		if err != nil {
			return Block{}, err
		}
		return Block{Code: code}, nil
	default:
		return Block{}, dberr.New(dberr.CorruptIndex, "unknown column-store encoding")
	}
}

// Values reconstructs the column's full, row-ordered value sequence by
// expanding RLE runs, placing literals at their recorded positions, and
// decoding dictionary codes in storage order (dictionary cells carry no
// explicit position: every row has exactly one code cell, written in row
// order).
func (c *Column) Values(rowCount int) ([]interface{}, error) {
	blocks, err := c.ReadBlocks()
	if err != nil {
		return nil, err
	}

	out := make([]interface{}, rowCount)
	switch c.Encoding {
	case RLE:
		for _, b := range blocks {
			for i := int32(0); i < b.RunLength; i++ {
				pos := b.Start + i
				if int(pos) < rowCount {
					out[pos] = b.Value
				}
			}
		}
	case Uncompressed:
		for _, b := range blocks {
			if int(b.Start) < rowCount {
				out[b.Start] = b.Value
			}
		}
	case Dictionary:
		for i, b := range blocks {
			if i >= rowCount {
				break
			}
			v, err := c.Decode(b.Code)
			if err != nil {
				return nil, err
			}
			out[i] = v
		}
	}
	return out, nil
}
