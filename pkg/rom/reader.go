package rom

import (
	"encoding/binary"
	"io"
	"math"

	"github.com/pkg/errors"
	"golang.org/x/text/encoding/charmap"

	"github.com/Faultbox/n64anim/pkg/fault"
)

// Reader reads sequentially from a start address in a ROM image or in the
// payload of an insertable blob. Pointers are resolved through the segment
// map, except inside an insertable blob where listed pointers are already
// payload-relative.
type Reader struct {
	rom        io.ReaderAt
	insertable *Insertable
	segments   SegmentMap
	encoding   *charmap.Charmap

	start   uint32
	address uint32
}

// NewReader returns a reader over a ROM image positioned at start.
func NewReader(rom io.ReaderAt, start uint32, segments SegmentMap) *Reader {
	return &Reader{rom: rom, segments: segments, start: start, address: start}
}

// NewInsertableReader returns a reader over the payload of b. rom is optional;
// when set, branches to addresses outside the payload fall back to it.
func NewInsertableReader(b *Insertable, rom io.ReaderAt, segments SegmentMap) *Reader {
	return &Reader{rom: rom, insertable: b, segments: segments}
}

// WithEncoding sets the code page used by ReadString. nil means UTF-8.
func (r *Reader) WithEncoding(cm *charmap.Charmap) *Reader {
	r.encoding = cm
	return r
}

// Start returns the address the reader was created at.
func (r *Reader) Start() uint32 { return r.start }

// Address returns the cursor.
func (r *Reader) Address() uint32 { return r.address }

// Insertable returns the blob the reader reads from, or nil for ROM readers.
func (r *Reader) Insertable() *Insertable { return r.insertable }

// Segments returns the segment map used to resolve pointers.
func (r *Reader) Segments() SegmentMap { return r.segments }

// Skip advances the cursor by size bytes.
func (r *Reader) Skip(size int) {
	r.address += uint32(size)
}

// Branch returns a reader positioned at addr that shares the same sources,
// or nil when nothing can be read there.
func (r *Reader) Branch(addr uint32) *Reader {
	if _, err := r.ReadDataAt(1, addr); err != nil {
		if r.insertable != nil && r.rom != nil {
			fallback := NewReader(r.rom, addr, r.segments)
			if _, err := fallback.ReadDataAt(1, addr); err == nil {
				return fallback.WithEncoding(r.encoding)
			}
		}
		return nil
	}
	return &Reader{
		rom:        r.rom,
		insertable: r.insertable,
		segments:   r.segments,
		encoding:   r.encoding,
		start:      addr,
		address:    addr,
	}
}

// ReadData reads size bytes at the cursor and advances it.
func (r *Reader) ReadData(size int) ([]byte, error) {
	data, err := r.ReadDataAt(size, r.address)
	if err != nil {
		return nil, err
	}
	r.Skip(size)
	return data, nil
}

// ReadDataAt reads size bytes at addr without moving the cursor.
func (r *Reader) ReadDataAt(size int, addr uint32) ([]byte, error) {
	if size < 0 {
		return nil, errors.Errorf("negative read size %d", size)
	}
	if r.insertable != nil {
		end := uint64(addr) + uint64(size)
		if end > uint64(len(r.insertable.Data)) {
			return nil, errors.Wrapf(fault.ErrOutOfRange, "value at %s not present in data", Hex(addr))
		}
		return r.insertable.Data[addr:end], nil
	}
	if r.rom == nil {
		return nil, errors.New("reader has no data source")
	}
	buf := make([]byte, size)
	n, err := r.rom.ReadAt(buf, int64(addr))
	if n < size {
		if err == nil || err == io.EOF {
			err = fault.ErrOutOfRange
		}
		return nil, errors.Wrapf(err, "value at %s not present in data", Hex(addr))
	}
	return buf, nil
}

// ReadInt reads a big-endian integer of 1, 2 or 4 bytes.
func (r *Reader) ReadInt(size int, signed bool) (int64, error) {
	data, err := r.ReadData(size)
	if err != nil {
		return 0, err
	}
	return decodeInt(data, signed)
}

func decodeInt(data []byte, signed bool) (int64, error) {
	switch len(data) {
	case 1:
		if signed {
			return int64(int8(data[0])), nil
		}
		return int64(data[0]), nil
	case 2:
		v := binary.BigEndian.Uint16(data)
		if signed {
			return int64(int16(v)), nil
		}
		return int64(v), nil
	case 4:
		v := binary.BigEndian.Uint32(data)
		if signed {
			return int64(int32(v)), nil
		}
		return int64(v), nil
	}
	return 0, errors.Errorf("unsupported integer size %d", len(data))
}

// ReadU16 reads an unsigned 16-bit value.
func (r *Reader) ReadU16() (uint16, error) {
	v, err := r.ReadInt(2, false)
	return uint16(v), err
}

// ReadS16 reads a signed 16-bit value.
func (r *Reader) ReadS16() (int16, error) {
	v, err := r.ReadInt(2, true)
	return int16(v), err
}

// ReadU32 reads an unsigned 32-bit value.
func (r *Reader) ReadU32() (uint32, error) {
	v, err := r.ReadInt(4, false)
	return uint32(v), err
}

// ReadFloat reads a big-endian IEEE 754 single.
func (r *Reader) ReadFloat() (float32, error) {
	v, err := r.ReadU32()
	if err != nil {
		return 0, err
	}
	return math.Float32frombits(v), nil
}

// ReadPtr reads a 4-byte pointer and converts it to a linear address.
// NULL stays 0.
func (r *Reader) ReadPtr() (uint32, error) {
	at := r.address
	ptr, err := r.ReadU32()
	if err != nil {
		return 0, err
	}
	if r.insertable != nil && r.insertable.HasPtr(at) {
		return ptr, nil
	}
	if ptr != 0 && r.segments != nil {
		return r.segments.Decode(ptr)
	}
	return ptr, nil
}

// ReadString follows a pointer and reads the NUL-terminated string behind
// it. ok is false for a NULL pointer.
func (r *Reader) ReadString() (s string, ok bool, err error) {
	ptr, err := r.ReadPtr()
	if err != nil {
		return "", false, err
	}
	if ptr == 0 {
		return "", false, nil
	}
	return r.ReadStringAt(ptr)
}

// ReadStringAt reads the NUL-terminated string at addr.
func (r *Reader) ReadStringAt(addr uint32) (string, bool, error) {
	branch := r.Branch(addr)
	if branch == nil {
		return "", false, errors.Wrapf(fault.ErrOutOfRange, "string at %s not present in data", Hex(addr))
	}
	var raw []byte
	for {
		b, err := branch.ReadData(1)
		if err != nil || b[0] == 0 {
			break
		}
		raw = append(raw, b[0])
	}
	if r.encoding != nil {
		decoded, err := r.encoding.NewDecoder().Bytes(raw)
		if err != nil {
			return "", false, errors.Wrapf(err, "decoding string at %s", Hex(addr))
		}
		raw = decoded
	}
	return string(raw), true, nil
}

// LookupEncoding finds a single-byte code page by its display name, for
// example "Windows 1252". An empty name returns nil (UTF-8).
func LookupEncoding(name string) (*charmap.Charmap, error) {
	if name == "" {
		return nil, nil
	}
	for _, enc := range charmap.All {
		if cm, ok := enc.(*charmap.Charmap); ok && cm.String() == name {
			return cm, nil
		}
	}
	return nil, errors.Errorf("failed to find encoding %q", name)
}
