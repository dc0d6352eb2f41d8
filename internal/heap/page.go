package heap

import (
	"encoding/binary"
	"math"

	"github.com/joeandaverde/nanodb/internal/dberr"
	"github.com/joeandaverde/nanodb/internal/storage"
	"github.com/joeandaverde/nanodb/internal/tuple"
)

// EmptySlot is the slot-array sentinel marking a deleted or never-used
// slot (spec.md §4.5's "reserved EMPTY_SLOT sentinel").
const EmptySlot uint16 = math.MaxUint16

// dataPageHeaderSize is numSlots(2) + freeEnd(2) at the start of every
// heap data page.
const dataPageHeaderSize = 4

// Capacity returns the number of slots a data page of pageSize bytes
// reserves up front for tuples conforming to schema, sized so the slot
// directory never has to grow into the data region: data is packed
// forward starting right after the (fixed-size) slot array, so growth
// room always exists at the high end of the page.
func Capacity(pageSize int, schema *tuple.Schema) int {
	minTuple := tuple.MinTupleSize(schema)
	avail := pageSize - dataPageHeaderSize
	capacity := avail / (minTuple + 2)
	if capacity < 1 {
		capacity = 1
	}
	return capacity
}

func dataStart(capacity int) int {
	return dataPageHeaderSize + capacity*2
}

func readPageHeader(page *storage.DBPage) (numSlots, freeEnd uint16) {
	return binary.BigEndian.Uint16(page.Data[0:2]), binary.BigEndian.Uint16(page.Data[2:4])
}

func writePageHeader(page *storage.DBPage, numSlots, freeEnd uint16) {
	binary.BigEndian.PutUint16(page.Data[0:2], numSlots)
	binary.BigEndian.PutUint16(page.Data[2:4], freeEnd)
	page.MarkDirty()
}

func slotOffsetPos(slot int) int {
	return dataPageHeaderSize + slot*2
}

func readSlot(page *storage.DBPage, slot int) uint16 {
	pos := slotOffsetPos(slot)
	return binary.BigEndian.Uint16(page.Data[pos : pos+2])
}

func writeSlot(page *storage.DBPage, slot int, value uint16) {
	pos := slotOffsetPos(slot)
	binary.BigEndian.PutUint16(page.Data[pos:pos+2], value)
	page.MarkDirty()
}

// InitDataPage lays out a freshly allocated page as an empty data page
// with room for capacity slots.
func InitDataPage(page *storage.DBPage, capacity int) {
	writePageHeader(page, 0, uint16(dataStart(capacity)))
}

// InsertTuple finds room for values on page (reusing a deleted slot or
// allocating a new one, and appending the encoded bytes at the page's
// free-space boundary), or reports ok=false if the page has no room left
// for either a new slot or the tuple's bytes.
func InsertTuple(page *storage.DBPage, capacity int, schema *tuple.Schema, values []interface{}) (slot int, ok bool, err error) {
	size, err := tuple.GetTupleStorageSize(schema, values)
	if err != nil {
		return 0, false, err
	}

	numSlots, freeEnd := readPageHeader(page)

	reuse := -1
	for i := 0; i < int(numSlots); i++ {
		if readSlot(page, i) == EmptySlot {
			reuse = i
			break
		}
	}

	newSlotCount := numSlots
	targetSlot := reuse
	if targetSlot < 0 {
		if int(numSlots) >= capacity {
			return 0, false, nil
		}
		targetSlot = int(numSlots)
		newSlotCount = numSlots + 1
	}

	if int(freeEnd)+size > page.Size() {
		return 0, false, nil
	}

	if _, err := tuple.StoreNewTuple(page, targetSlot, int(freeEnd), schema, values); err != nil {
		return 0, false, err
	}
	writeSlot(page, targetSlot, freeEnd)
	writePageHeader(page, newSlotCount, freeEnd+uint16(size))

	return targetSlot, true, nil
}

// DeleteSlot marks slot empty without reclaiming its bytes (spec.md
// §4.5: "delete marks the slot empty").
func DeleteSlot(page *storage.DBPage, slot int) {
	writeSlot(page, slot, EmptySlot)
}

// ApplyResize updates every slot on page other than skipSlot whose
// recorded offset lies at or after info.ShiftAt, and grows/shrinks the
// page's free-space boundary, after a tuple.PageTuple.SetColumnValue call
// has physically moved the trailing bytes of the page by info.Delta.
func ApplyResize(page *storage.DBPage, skipSlot int, info tuple.ResizeInfo) error {
	if info.Delta == 0 {
		return nil
	}
	numSlots, freeEnd := readPageHeader(page)

	newFreeEnd := int(freeEnd) + info.Delta
	if newFreeEnd < dataPageHeaderSize || newFreeEnd > page.Size() {
		return dberr.New(dberr.InvalidArgument, "resize would move free-space boundary out of bounds")
	}

	for i := 0; i < int(numSlots); i++ {
		if i == skipSlot {
			continue
		}
		off := readSlot(page, i)
		if off == EmptySlot {
			continue
		}
		if int(off) >= info.ShiftAt {
			writeSlot(page, i, uint16(int(off)+info.Delta))
		}
	}

	writePageHeader(page, numSlots, uint16(newFreeEnd))
	return nil
}

// FreeSpace reports how many bytes remain between the free-space boundary
// and the end of the page.
func FreeSpace(page *storage.DBPage) int {
	_, freeEnd := readPageHeader(page)
	return page.Size() - int(freeEnd)
}

// FirstTupleSlot returns the lowest occupied slot index on page, or -1 if
// the page has none.
func FirstTupleSlot(page *storage.DBPage) int {
	numSlots, _ := readPageHeader(page)
	for i := 0; i < int(numSlots); i++ {
		if readSlot(page, i) != EmptySlot {
			return i
		}
	}
	return -1
}

// NextTupleSlot returns the lowest occupied slot index greater than
// after, or -1 if none remain on page.
func NextTupleSlot(page *storage.DBPage, after int) int {
	numSlots, _ := readPageHeader(page)
	for i := after + 1; i < int(numSlots); i++ {
		if readSlot(page, i) != EmptySlot {
			return i
		}
	}
	return -1
}

// SlotOffset returns the page offset stored for slot, or EmptySlot if the
// slot is unoccupied.
func SlotOffset(page *storage.DBPage, slot int) uint16 {
	return readSlot(page, slot)
}
