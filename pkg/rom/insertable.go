package rom

import (
	"encoding/binary"
	"fmt"
	"os"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/Faultbox/n64anim/pkg/fault"
)

// InsertableType tags the payload of an insertable binary file.
type InsertableType uint32

// Insertable binary payload types.
const (
	InsertableDisplayList InsertableType = iota
	InsertableGeolayout
	InsertableAnimation
	InsertableCollision
	InsertableAnimationTable
	InsertableAnimationDMATable
)

var insertableNames = map[InsertableType]string{
	InsertableDisplayList:       "Display List",
	InsertableGeolayout:         "Geolayout",
	InsertableAnimation:         "Animation",
	InsertableCollision:         "Collision",
	InsertableAnimationTable:    "Animation Table",
	InsertableAnimationDMATable: "Animation DMA Table",
}

// String returns the type's display name.
func (t InsertableType) String() string {
	if name, ok := insertableNames[t]; ok {
		return name
	}
	return fmt.Sprintf("InsertableType(%d)", uint32(t))
}

// insertableHeaderSize is type, payload length, start address and pointer count.
const insertableHeaderSize = 16

// Insertable is a relocatable blob: a payload plus the offsets of every
// pointer inside it, so a loader can rebase the data at any address.
//
//	[type:u32][payloadLen:u32][startAddr:u32][ptrCount:u32][ptrCount x offset:u32][payload]
type Insertable struct {
	Type         InsertableType
	Data         []byte
	StartAddress uint32
	Ptrs         []uint32
}

// MarshalBinary encodes the blob in insertable format.
func (b *Insertable) MarshalBinary() ([]byte, error) {
	out := make([]byte, insertableHeaderSize, insertableHeaderSize+len(b.Ptrs)*4+len(b.Data))
	binary.BigEndian.PutUint32(out[0:], uint32(b.Type))
	binary.BigEndian.PutUint32(out[4:], uint32(len(b.Data)))
	binary.BigEndian.PutUint32(out[8:], b.StartAddress)
	binary.BigEndian.PutUint32(out[12:], uint32(len(b.Ptrs)))
	for _, ptr := range b.Ptrs {
		out = binary.BigEndian.AppendUint32(out, ptr)
	}
	return append(out, b.Data...), nil
}

// HasPtr reports whether offset holds a relocatable pointer.
func (b *Insertable) HasPtr(offset uint32) bool {
	for _, ptr := range b.Ptrs {
		if ptr == offset {
			return true
		}
	}
	return false
}

// WriteFile writes the encoded blob to path.
func (b *Insertable) WriteFile(path string) error {
	data, err := b.MarshalBinary()
	if err != nil {
		return err
	}
	log.Info("writing insertable binary",
		zap.String("path", path), zap.String("type", b.Type.String()), zap.Int("bytes", len(data)))
	return os.WriteFile(path, data, 0644)
}

// ParseInsertable decodes an insertable blob. When expected is not empty the
// type tag must be one of the listed types.
func ParseInsertable(data []byte, expected ...InsertableType) (*Insertable, error) {
	if len(data) < insertableHeaderSize {
		return nil, errors.Wrap(fault.ErrMalformedSource, "insertable binary is shorter than its header")
	}

	b := &Insertable{Type: InsertableType(binary.BigEndian.Uint32(data[0:]))}
	if _, ok := insertableNames[b.Type]; !ok {
		return nil, errors.Wrapf(fault.ErrMalformedSource, "unknown insertable data type 0x%X", uint32(b.Type))
	}
	if len(expected) > 0 && !containsType(expected, b.Type) {
		return nil, errors.Wrapf(fault.ErrMalformedSource, "unexpected insertable data type %q", b.Type)
	}

	size := binary.BigEndian.Uint32(data[4:])
	b.StartAddress = binary.BigEndian.Uint32(data[8:])
	count := binary.BigEndian.Uint32(data[12:])

	pos := uint64(insertableHeaderSize)
	if pos+uint64(count)*4 > uint64(len(data)) {
		return nil, errors.Wrapf(fault.ErrMalformedSource, "insertable pointer list (%d entries) is truncated", count)
	}
	b.Ptrs = make([]uint32, count)
	for i := range b.Ptrs {
		b.Ptrs[i] = binary.BigEndian.Uint32(data[pos:])
		pos += 4
	}

	if pos+uint64(size) > uint64(len(data)) {
		return nil, errors.Wrapf(fault.ErrMalformedSource,
			"insertable payload declares %d bytes, only %d present", size, uint64(len(data))-pos)
	}
	b.Data = append([]byte(nil), data[pos:pos+uint64(size)]...)
	return b, nil
}

// ReadInsertableFile reads and decodes an insertable file.
func ReadInsertableFile(path string, expected ...InsertableType) (*Insertable, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "reading insertable binary %s", path)
	}
	log.Info("reading insertable binary", zap.String("path", path))
	b, err := ParseInsertable(data, expected...)
	if err != nil {
		return nil, errors.WithMessage(err, path)
	}
	return b, nil
}

func containsType(types []InsertableType, t InsertableType) bool {
	for _, other := range types {
		if other == t {
			return true
		}
	}
	return false
}
