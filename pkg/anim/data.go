package anim

import (
	"encoding/binary"
	"fmt"
	"slices"
	"strings"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/Faultbox/n64anim/pkg/cdecl"
	"github.com/Faultbox/n64anim/pkg/fault"
	"github.com/Faultbox/n64anim/pkg/math"
	"github.com/Faultbox/n64anim/pkg/rom"
)

// MaxTableSize is the number of slots a values table can address.
const MaxTableSize = 0xFFFF

// Data holds the channels of one clip: root translation x/y/z followed by
// rotation x/y/z for every bone.
type Data struct {
	Pairs      []*Pair
	IndicesRef Ref
	ValuesRef  Ref

	// Set on import.
	IndicesFile string
	ValuesFile  string
	Start       uint32
	End         uint32
	IndicesEnd  uint32
	ValuesEnd   uint32
}

// Key returns the identity of the data.
func (d *Data) Key() DataKey {
	return DataKey{Indices: d.IndicesRef, Values: d.ValuesRef}
}

// BoneCount returns the number of rotated bones.
func (d *Data) BoneCount() int {
	return len(d.Pairs)/3 - 1
}

// Validate checks the channel layout.
func (d *Data) Validate() error {
	if len(d.Pairs) < 3 || len(d.Pairs)%3 != 0 {
		return errors.Wrapf(fault.ErrConsistency, "animation data %q has %d channels, want 3 + 3 per bone", d.IndicesRef, len(d.Pairs))
	}
	for i, p := range d.Pairs {
		if len(p.Values) == 0 {
			return errors.Wrapf(fault.ErrMalformedSource, "animation data %q channel %d is empty", d.IndicesRef, i)
		}
	}
	return nil
}

// FrameCount returns the longest stored channel length.
func (d *Data) FrameCount() int {
	n := 0
	for _, p := range d.Pairs {
		n = max(n, len(p.Values))
	}
	return n
}

// Channels expands every channel to frameCount samples.
func (d *Data) Channels(frameCount int) [][]int16 {
	out := make([][]int16, len(d.Pairs))
	for i, p := range d.Pairs {
		out[i] = p.Expand(frameCount)
	}
	return out
}

// DataFromSamples converts per-frame float samples into compacted channels.
// root holds the translation of the root bone, bones the XYZ Euler rotation
// in radians of every bone; each bone must have as many frames as root.
// Translations are multiplied by scale.
func DataFromSamples(root []math.Vec3, bones [][]math.Vec3, scale float32) (*Data, error) {
	frames := len(root)
	if frames == 0 {
		return nil, errors.Wrap(fault.ErrMalformedSource, "no frames to convert")
	}

	channels := make([][]int16, 3+3*len(bones))
	for i := range channels {
		channels[i] = make([]int16, frames)
	}
	for f, t := range root {
		for axis, v := range t.Scale(scale).Array() {
			channels[axis][f] = math.ToS16(v)
		}
	}
	for b, rotations := range bones {
		if len(rotations) != frames {
			return nil, errors.Wrapf(fault.ErrConsistency, "bone %d has %d frames, root has %d", b, len(rotations), frames)
		}
		for f, r := range rotations {
			for axis, v := range r.Array() {
				channels[3+b*3+axis][f] = math.RadiansToS16(v)
			}
		}
	}

	d := &Data{Pairs: make([]*Pair, len(channels))}
	for i, c := range channels {
		d.Pairs[i] = (&Pair{Values: c}).Clean()
	}
	return d, nil
}

// DataFromQuatSamples is DataFromSamples for bones sampled as quaternions.
func DataFromQuatSamples(root []math.Vec3, bones [][]math.Quat, scale float32) (*Data, error) {
	eulers := make([][]math.Vec3, len(bones))
	for b, rotations := range bones {
		eulers[b] = make([]math.Vec3, len(rotations))
		for f, q := range rotations {
			eulers[b][f] = q.Euler()
		}
	}
	return DataFromSamples(root, eulers, scale)
}

// tableLayout is the result of compressing many Data into shared tables.
// keys holds the references each Data receives, in input order.
type tableLayout struct {
	indices []*IntArray
	values  []*IntArray
	keys    []DataKey
}

// layoutTables compresses datas into indices tables and as few values
// tables as possible. Data is not modified except for pair offsets. With a
// start address, indices tables are placed consecutively from start followed
// by the values tables and the references are addresses; otherwise they are
// symbols.
func layoutTables(datas []*Data, valuesName string, start *uint32) (*tableLayout, error) {
	layout := &tableLayout{keys: make([]DataKey, len(datas))}
	if len(datas) == 0 {
		return layout, nil
	}
	if valuesName == "" {
		valuesName = datas[0].ValuesRef.String()
	}
	if valuesName == "" {
		valuesName = "anim_values"
	}

	var valuesAddr uint32
	if start != nil {
		addr := *start
		for i, d := range datas {
			layout.keys[i].Indices = AddrRef(addr)
			addr += uint32(len(d.Pairs)) * 4
		}
		valuesAddr = addr
	} else {
		for i, d := range datas {
			layout.keys[i].Indices = d.IndicesRef
		}
	}

	log.Debug("generating compressed value table", zap.Int("animations", len(datas)))
	table := newValuesArray(valuesName)
	layout.values = append(layout.values, table)
	for i := 0; i < len(datas); {
		d := datas[i]
		before := len(table.Data)
		indices, err := appendData(table, d)
		if errors.Is(err, errTableFull) {
			if before == 0 {
				return nil, errors.Wrapf(fault.ErrOverflow, "animation data %q does not fit a values table of %d entries", d.IndicesRef, MaxTableSize)
			}
			// Roll back this data's appends, freeze the table and retry
			// against a fresh one.
			table.Data = table.Data[:before:before]
			if start != nil {
				valuesAddr += uint32(before) * 2
			}
			table = newValuesArray(fmt.Sprintf("%s_%d", valuesName, len(layout.values)))
			layout.values = append(layout.values, table)
			log.Debug("values table full, opening a new one", zap.String("name", table.Name))
			continue
		}
		if err != nil {
			return nil, errors.WithMessagef(err, "animation data %q", d.IndicesRef)
		}

		indices.Name = layout.keys[i].Indices.String()
		layout.indices = append(layout.indices, indices)
		if start != nil {
			layout.keys[i].Values = AddrRef(valuesAddr)
		} else {
			layout.keys[i].Values = SymbolRef(table.Name)
		}
		i++
	}
	return layout, nil
}

var errTableFull = errors.New("values table full")

// appendData writes the channels of d into table and returns its indices.
// On errTableFull the caller discards the partial appends.
func appendData(table *IntArray, d *Data) (*IntArray, error) {
	for i, p := range d.Pairs {
		if len(p.Values) == 0 {
			return nil, errors.Wrapf(fault.ErrMalformedSource, "channel %d is empty", i)
		}
		if len(p.Values) >= MaxTableSize {
			return nil, errors.Wrapf(fault.ErrOverflow, "channel %d has %d frames, more than the 16 bit maximum", i, len(p.Values))
		}
	}

	for _, p := range d.Pairs {
		if len(p.Values) == 1 {
			if offset := slices.Index(table.Data, uint16(p.Values[0])); offset >= 0 {
				p.Offset = uint16(offset)
				continue
			}
		}
		offset := len(table.Data)
		if offset+len(p.Values) > MaxTableSize {
			return nil, errTableFull
		}
		for _, v := range p.Values {
			table.Data = append(table.Data, uint16(v))
		}
		p.Offset = uint16(offset)
	}

	indices := newIndicesArray("")
	indices.Data = make([]uint16, 0, len(d.Pairs)*2)
	for _, p := range d.Pairs {
		indices.Data = append(indices.Data, uint16(len(p.Values)), p.Offset)
	}
	return indices, nil
}

// CreateTables compresses datas into shared values tables and one indices
// table per Data, and points every Data at its tables. When start is nil
// the references are C symbols named after the Data; otherwise they are
// addresses laid out from *start. References are left untouched when an
// error is returned.
func CreateTables(datas []*Data, valuesName string, start *uint32) (indices, values []*IntArray, err error) {
	layout, err := layoutTables(datas, valuesName, start)
	if err != nil {
		return nil, nil, err
	}
	for i, d := range datas {
		d.IndicesRef, d.ValuesRef = layout.keys[i].Indices, layout.keys[i].Values
	}
	return layout.indices, layout.values, nil
}

// tables lays out d on its own.
func (d *Data) tables() (*IntArray, *IntArray, error) {
	layout, err := layoutTables([]*Data{d}, d.ValuesRef.String(), nil)
	if err != nil {
		return nil, nil, err
	}
	return layout.indices[0], layout.values[0], nil
}

// ToC returns the values and indices arrays of d. DMA clips put the indices
// first.
func (d *Data) ToC(dma bool) (string, error) {
	indices, values, err := d.tables()
	if err != nil {
		return "", err
	}
	var sb strings.Builder
	if dma {
		indices.WriteC(&sb, 2)
		values.WriteC(&sb, 1)
	} else {
		values.WriteC(&sb, 2)
		indices.WriteC(&sb, 1)
	}
	return sb.String(), nil
}

// ToBinary returns the indices table followed by the values table and the
// offset of the values table.
func (d *Data) ToBinary() ([]byte, uint32, error) {
	indices, values, err := d.tables()
	if err != nil {
		return nil, 0, err
	}
	out := indices.ToBinary()
	valuesOffset := uint32(len(out))
	return append(out, values.ToBinary()...), valuesOffset, nil
}

// ReadDataBinary reads the indices table at indices and the channels it
// points to in the values table at values.
func ReadDataBinary(indices, values *rom.Reader, boneCount int) (*Data, error) {
	log.Info("reading animation data",
		zap.String("indices", rom.Hex(indices.Start())), zap.String("values", rom.Hex(values.Start())))

	d := &Data{
		IndicesRef: AddrRef(indices.Start()),
		ValuesRef:  AddrRef(values.Start()),
	}
	for i := 0; i < (boneCount+1)*3; i++ {
		count, err := indices.ReadU16()
		if err != nil {
			return nil, errors.WithMessagef(err, "reading index %d", i)
		}
		offset, err := indices.ReadU16()
		if err != nil {
			return nil, errors.WithMessagef(err, "reading index %d", i)
		}
		if count == 0 {
			return nil, errors.Wrapf(fault.ErrMalformedSource, "channel %d at %s has no frames", i, rom.Hex(indices.Address()-4))
		}
		addr := values.Start() + uint32(offset)*2
		raw, err := values.ReadDataAt(int(count)*2, addr)
		if err != nil {
			return nil, errors.WithMessagef(err, "reading channel %d", i)
		}
		p := &Pair{Values: make([]int16, count), Address: addr, EndAddress: addr + uint32(count)*2, Offset: offset}
		for j := range p.Values {
			p.Values[j] = int16(binary.BigEndian.Uint16(raw[j*2:]))
		}
		d.Pairs = append(d.Pairs, p.Clean())
	}

	d.IndicesEnd = indices.Address()
	for _, p := range d.Pairs {
		d.ValuesEnd = max(d.ValuesEnd, p.EndAddress)
	}
	d.Start = min(indices.Start(), values.Start())
	d.End = max(d.IndicesEnd, d.ValuesEnd)
	return d, nil
}

// ReadDataC builds data from an indices (u16) and a values (s16) array.
func ReadDataC(indices, values *cdecl.Declaration) (*Data, error) {
	log.Info("reading animation data", zap.String("indices", indices.Name), zap.String("values", values.Name))

	indexList, err := indices.Ints()
	if err != nil {
		return nil, err
	}
	valueList, err := values.Ints()
	if err != nil {
		return nil, err
	}
	if len(indexList)%2 != 0 {
		return nil, errors.Wrapf(fault.ErrMalformedSource, "indices %q has an odd number of entries (%d)", indices.Name, len(indexList))
	}

	d := &Data{
		IndicesRef:  SymbolRef(indices.Name),
		ValuesRef:   SymbolRef(values.Name),
		IndicesFile: indices.FileName(),
		ValuesFile:  values.FileName(),
	}
	for i := 0; i < len(indexList); i += 2 {
		count, offset := uint16(indexList[i]), uint16(indexList[i+1])
		end := int(offset) + int(count)
		if count == 0 || end > len(valueList) {
			return nil, errors.Wrapf(fault.ErrOutOfRange, "indices %q entry %d (%d frames at %d) outside values %q (%d entries)",
				indices.Name, i/2, count, offset, values.Name, len(valueList))
		}
		p := &Pair{Values: make([]int16, count), Offset: offset}
		for j := range p.Values {
			p.Values[j] = int16(valueList[int(offset)+j])
		}
		d.Pairs = append(d.Pairs, p.Clean())
	}
	return d, nil
}
