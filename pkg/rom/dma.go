package rom

import (
	"encoding/binary"

	"github.com/pkg/errors"
	"go.uber.org/zap"
)

// dmaEntrySize is one (offset, size) pair.
const dmaEntrySize = 8

// dmaHeaderSize is the entry count followed by the address placeholder.
const dmaHeaderSize = 8

// DMAEntry is one directory entry. Offset is relative to the start of the
// data blob when encoding and to the start of the table when decoded.
type DMAEntry struct {
	Offset uint32
	Size   uint32

	// Filled on import.
	Address    uint32
	EndAddress uint32
}

// DMATable is a self-describing directory into one contiguous blob:
//
//	[entryCount:u32][placeholder:u32][entryCount x (offset:u32, size:u32)][data]
type DMATable struct {
	AddressPlaceholder uint32
	Entries            []DMAEntry
	Data               []byte

	// Filled on import.
	Address    uint32
	EndAddress uint32
}

// MarshalBinary encodes the table. Entry offsets are rebased from
// data-relative to table-relative.
func (t *DMATable) MarshalBinary() ([]byte, error) {
	log.Debug("generating DMA table", zap.Int("entries", len(t.Entries)), zap.Int("bytes", len(t.Data)))

	dataOffset := uint32(dmaHeaderSize + len(t.Entries)*dmaEntrySize)
	out := make([]byte, 0, int(dataOffset)+len(t.Data))
	out = binary.BigEndian.AppendUint32(out, uint32(len(t.Entries)))
	out = binary.BigEndian.AppendUint32(out, t.AddressPlaceholder)
	for _, entry := range t.Entries {
		if uint64(entry.Offset)+uint64(entry.Size) > uint64(len(t.Data)) {
			return nil, errors.Errorf("DMA entry [%d, +%d] exceeds data (%d bytes)", entry.Offset, entry.Size, len(t.Data))
		}
		out = binary.BigEndian.AppendUint32(out, dataOffset+entry.Offset)
		out = binary.BigEndian.AppendUint32(out, entry.Size)
	}
	return append(out, t.Data...), nil
}

// ReadDMATable decodes the directory at the reader's cursor. The data blob is
// not copied; entries carry absolute addresses for branching.
func ReadDMATable(r *Reader) (*DMATable, error) {
	log.Info("reading DMA table", zap.String("address", Hex(r.Start())))
	t := &DMATable{Address: r.Start()}

	count, err := r.ReadU32()
	if err != nil {
		return nil, errors.Wrap(err, "reading DMA entry count")
	}
	if t.AddressPlaceholder, err = r.ReadU32(); err != nil {
		return nil, errors.Wrap(err, "reading DMA address placeholder")
	}

	var tableSize uint32
	for i := uint32(0); i < count; i++ {
		offset, err := r.ReadU32()
		if err != nil {
			return nil, errors.Wrapf(err, "reading DMA entry %d", i)
		}
		size, err := r.ReadU32()
		if err != nil {
			return nil, errors.Wrapf(err, "reading DMA entry %d", i)
		}
		addr := t.Address + offset
		t.Entries = append(t.Entries, DMAEntry{Offset: offset, Size: size, Address: addr, EndAddress: addr + size})
		if end := offset + size; end > tableSize {
			tableSize = end
		}
	}
	t.EndAddress = t.Address + tableSize
	log.Info("found DMA entries", zap.Int("count", len(t.Entries)))
	return t, nil
}
