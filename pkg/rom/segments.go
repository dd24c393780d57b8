package rom

import (
	"sort"

	"github.com/pkg/errors"

	"github.com/Faultbox/n64anim/pkg/fault"
)

// maxSegmentOffset is the largest offset a 3-byte segmented address can hold.
const maxSegmentOffset = 0xFFFFFF

// Range is the linear [Start, End) span a segment is loaded at.
type Range struct {
	Start uint32
	End   uint32
}

// Contains reports whether addr falls inside the range.
func (r Range) Contains(addr uint32) bool {
	return addr >= r.Start && addr < r.End
}

// SegmentMap maps segment ids to the ROM ranges they are loaded from.
type SegmentMap map[uint8]Range

// ids returns the registered segment ids in ascending order so lookups that
// match several overlapping segments always resolve the same way.
func (m SegmentMap) ids() []uint8 {
	ids := make([]uint8, 0, len(m))
	for id := range m {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// Segment returns the id of the first segment containing addr.
func (m SegmentMap) Segment(addr uint32) (uint8, error) {
	for _, id := range m.ids() {
		if m[id].Contains(addr) {
			return id, nil
		}
	}
	return 0, errors.Wrapf(fault.ErrOutOfRange, "address %s is not in any of the provided segments", Hex(addr))
}

// Encode converts a linear address to a segmented pointer (1-byte segment id,
// 3-byte offset).
func (m SegmentMap) Encode(addr uint32) (uint32, error) {
	id, err := m.Segment(addr)
	if err != nil {
		return 0, err
	}
	offset := addr - m[id].Start
	if offset > maxSegmentOffset {
		return 0, errors.Wrapf(fault.ErrOutOfRange, "offset %s does not fit in segment 0x%02X", Hex(offset), id)
	}
	return uint32(id)<<24 | offset, nil
}

// Decode converts a segmented pointer back to a linear address.
func (m SegmentMap) Decode(ptr uint32) (uint32, error) {
	id := uint8(ptr >> 24)
	r, ok := m[id]
	if !ok {
		return 0, errors.Wrapf(fault.ErrOutOfRange, "segment 0x%02X not found in segment list (pointer %s)", id, Hex(ptr))
	}
	return r.Start + ptr&maxSegmentOffset, nil
}
