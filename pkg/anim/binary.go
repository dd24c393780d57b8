package anim

import (
	"encoding/binary"
	"io"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/Faultbox/n64anim/pkg/fault"
	"github.com/Faultbox/n64anim/pkg/rom"
)

// ImportOptions controls binary imports. A TableIndex below zero reads the
// whole table; a TableSize of zero or less reads up to the NULL delimiter.
type ImportOptions struct {
	BoneCount  int
	TableIndex int
	TableSize  int
}

// ImportInsertable reads an animation, table or DMA table from an insertable
// blob. A single animation is returned as a one-element table. rom may be
// nil; when set, pointers outside the blob are read from it.
func ImportInsertable(b *rom.Insertable, romData io.ReaderAt, segs rom.SegmentMap, ctx *ReadContext, opts ImportOptions) (*Table, error) {
	r := rom.NewInsertableReader(b, romData, segs)
	log.Info("importing insertable binary", zap.String("type", b.Type.String()), zap.Int("bytes", len(b.Data)))

	t := &Table{}
	switch b.Type {
	case rom.InsertableAnimation:
		h, err := ReadHeaderBinary(r, ctx, false, opts.BoneCount, -1)
		if err != nil {
			return nil, err
		}
		t.Elements = []*TableElement{{Header: h}}
	case rom.InsertableAnimationTable:
		if err := t.ReadBinary(r, ctx, opts.TableIndex, opts.BoneCount, opts.TableSize); err != nil {
			return nil, err
		}
	case rom.InsertableAnimationDMATable:
		if err := t.ReadDMABinary(r, ctx, opts.TableIndex, opts.BoneCount); err != nil {
			return nil, err
		}
	default:
		return nil, errors.Wrapf(fault.ErrMalformedSource, "insertable type %q holds no animation", b.Type)
	}
	return t, nil
}

// ToInsertable encodes the clip as an insertable animation: the headers
// followed by the data, all pointers relative to the payload.
func (c *Clip) ToInsertable() (*rom.Insertable, error) {
	data, ptrs, err := c.ToBinary(0, nil)
	if err != nil {
		return nil, err
	}
	return &rom.Insertable{Type: rom.InsertableAnimation, Data: data, Ptrs: ptrs}, nil
}

// ToInsertable encodes the table as an insertable animation table, or as
// an insertable DMA table when dma is set.
func (t *Table) ToInsertable(dma bool) (*rom.Insertable, error) {
	if dma {
		data, err := t.ToBinaryDMA()
		if err != nil {
			return nil, err
		}
		return &rom.Insertable{Type: rom.InsertableAnimationDMATable, Data: data}, nil
	}
	table, data, ptrs, err := t.ToCombinedBinary(0, nil, nil)
	if err != nil {
		return nil, err
	}
	return &rom.Insertable{Type: rom.InsertableAnimationTable, Data: append(table, data...), Ptrs: ptrs}, nil
}

// ROMTarget places a table export inside a ROM image.
type ROMTarget struct {
	Table    rom.Range // pointer table, or the whole DMA table
	Data     rom.Range // headers and value tables, unused for DMA
	Segments rom.SegmentMap
	DMA      bool
}

// WriteROM writes the table into the ROM held by e. The pointer table must
// fit in target.Table and the data in target.Data.
func (t *Table) WriteROM(e *rom.Exporter, target ROMTarget) error {
	if target.DMA {
		data, err := t.ToBinaryDMA()
		if err != nil {
			return err
		}
		return errors.WithMessage(e.WriteToRange(target.Table.Start, target.Table.End, data), "DMA table")
	}

	dataAddr := target.Data.Start
	table, data, _, err := t.ToCombinedBinary(target.Table.Start, &dataAddr, target.Segments)
	if err != nil {
		return err
	}
	if err := e.WriteToRange(target.Table.Start, target.Table.End, table); err != nil {
		return errors.WithMessage(err, "animation table")
	}
	return errors.WithMessage(e.WriteToRange(target.Data.Start, target.Data.End, data), "animation data")
}

// WriteROM writes the clip's headers and data into the range at. When table
// is set, the pointer to each header is also stored in its slot of that
// pointer table, 4 bytes per entry at the header's table index.
func (c *Clip) WriteROM(e *rom.Exporter, at, table rom.Range, segs rom.SegmentMap) error {
	data, _, err := c.ToBinary(at.Start, segs)
	if err != nil {
		return err
	}
	if err := e.WriteToRange(at.Start, at.End, data); err != nil {
		return errors.WithMessagef(err, "animation %q", c.FileName)
	}
	if table == (rom.Range{}) {
		return nil
	}
	for i, h := range c.Headers {
		if h.TableIndex < 0 {
			continue
		}
		slot := uint64(table.Start) + 4*uint64(h.TableIndex)
		if slot+4 > uint64(table.End) {
			return errors.Wrapf(fault.ErrOutOfRange, "table index %d of %q is past the end of table %s",
				h.TableIndex, h.Reference, rom.Hex(table.End))
		}
		ptr := at.Start + uint32(i*HeaderSize)
		if segs != nil {
			if ptr, err = segs.Encode(ptr); err != nil {
				return errors.WithMessagef(err, "header %q", h.Reference)
			}
		}
		log.Debug("updating table slot", zap.Int("index", h.TableIndex), zap.String("pointer", rom.Hex(ptr)))
		if _, err := e.WriteAt(binary.BigEndian.AppendUint32(nil, ptr), int64(slot)); err != nil {
			return errors.Wrapf(err, "writing table slot %d", h.TableIndex)
		}
	}
	return nil
}
