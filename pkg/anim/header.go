package anim

import (
	"encoding/binary"
	"fmt"
	"strings"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/Faultbox/n64anim/pkg/cdecl"
	"github.com/Faultbox/n64anim/pkg/fault"
	"github.com/Faultbox/n64anim/pkg/rom"
)

// HeaderSize is the size of a binary struct Animation.
const HeaderSize = 20

// headerFields is the field order of struct Animation.
var headerFields = []string{
	"flags",
	"animYTransDivisor",
	"startFrame",
	"loopStart",
	"loopEnd",
	"unusedBoneCount",
	"values",
	"index",
	"length",
}

// Header is one struct Animation. Several headers may share a Data.
type Header struct {
	Reference Ref

	Flags Flags
	// FlagsExpr holds a C flags expression that could not be evaluated. It
	// is written back verbatim and takes precedence over Flags.
	FlagsExpr string
	// Fork selects the flag names used in C output.
	Fork Fork

	TransDivisor int16
	StartFrame   int16
	LoopStart    int16
	LoopEnd      int16
	BoneCount    int16
	Length       uint32

	IndicesRef Ref
	ValuesRef  Ref
	Data       *Data

	EnumName   string
	FileName   string
	Variant    int
	TableIndex int

	// Set on binary import.
	EndAddress uint32
}

// DataKey returns the key of the data this header points at.
func (h *Header) DataKey() DataKey {
	return DataKey{Indices: h.IndicesRef, Values: h.ValuesRef}
}

// Validate checks the loop points and the bone count against the data.
func (h *Header) Validate() error {
	if h.LoopStart < 0 || h.LoopStart > h.LoopEnd {
		return errors.Wrapf(fault.ErrConsistency, "header %q loop points [%d, %d] are not ordered", h.Reference, h.LoopStart, h.LoopEnd)
	}
	if h.Data != nil {
		if err := h.Data.Validate(); err != nil {
			return errors.WithMessagef(err, "header %q", h.Reference)
		}
		if h.BoneCount > 0 && int(h.BoneCount) != h.Data.BoneCount() {
			return errors.Wrapf(fault.ErrConsistency, "header %q has %d bones but its data has %d", h.Reference, h.BoneCount, h.Data.BoneCount())
		}
	}
	return nil
}

// validateHeaders runs Validate on every header, stopping at the first
// failure.
func validateHeaders(headers []*Header) error {
	for _, h := range headers {
		if err := h.Validate(); err != nil {
			return err
		}
	}
	return nil
}

// refs resolves the values and indices references: overrides first, then
// the data's, then the header's own.
func (h *Header) refs(values, indices Ref) (Ref, Ref, error) {
	pick := func(override, fromData, own Ref, what string) (Ref, error) {
		switch {
		case !override.IsZero():
			return override, nil
		case !fromData.IsZero():
			return fromData, nil
		case !own.IsZero():
			return own, nil
		}
		return Ref{}, errors.Wrapf(fault.ErrConsistency, "header %q has no %s reference", h.Reference, what)
	}
	var dataValues, dataIndices Ref
	if h.Data != nil {
		dataValues, dataIndices = h.Data.ValuesRef, h.Data.IndicesRef
	}
	v, err := pick(values, dataValues, h.ValuesRef, "values")
	if err != nil {
		return Ref{}, Ref{}, err
	}
	i, err := pick(indices, dataIndices, h.IndicesRef, "indices")
	if err != nil {
		return Ref{}, Ref{}, err
	}
	return v, i, nil
}

// ToBinary encodes the header. values and indices override the data
// references when set; the resolved references must be addresses. They are
// segment-encoded when segs is not nil.
func (h *Header) ToBinary(values, indices Ref, segs rom.SegmentMap, length uint32) ([]byte, error) {
	if h.FlagsExpr != "" {
		return nil, errors.Wrapf(fault.ErrMalformedSource, "header %q flags %q are not a number", h.Reference, h.FlagsExpr)
	}
	v, i, err := h.refs(values, indices)
	if err != nil {
		return nil, err
	}
	if !v.IsAddr || !i.IsAddr {
		return nil, errors.Wrapf(fault.ErrConsistency, "header %q references %q and %q are not addresses", h.Reference, v, i)
	}
	valuesPtr, indicesPtr := v.Address, i.Address
	if segs != nil {
		if valuesPtr, err = segs.Encode(valuesPtr); err != nil {
			return nil, errors.WithMessagef(err, "header %q values", h.Reference)
		}
		if indicesPtr, err = segs.Encode(indicesPtr); err != nil {
			return nil, errors.WithMessagef(err, "header %q indices", h.Reference)
		}
	}

	out := make([]byte, 0, HeaderSize)
	for _, field := range []int16{int16(h.Flags), h.TransDivisor, h.StartFrame, h.LoopStart, h.LoopEnd, h.BoneCount} {
		out = binary.BigEndian.AppendUint16(out, uint16(field))
	}
	out = binary.BigEndian.AppendUint32(out, valuesPtr)
	out = binary.BigEndian.AppendUint32(out, indicesPtr)
	out = binary.BigEndian.AppendUint32(out, length)
	return out, nil
}

// cFlags returns the flags initializer and its comment.
func (h *Header) cFlags() (string, string) {
	if h.FlagsExpr != "" {
		return h.FlagsExpr, ""
	}
	return h.Flags.CExpr(h.Fork), h.Flags.Comment()
}

// ToC returns the struct Animation literal. DMA headers are declared as
// arrays.
func (h *Header) ToC(dma bool) (string, error) {
	return h.toC(dma, Ref{}, Ref{})
}

func (h *Header) toC(dma bool, values, indices Ref) (string, error) {
	if dma && h.FlagsExpr != "" {
		return "", errors.Wrapf(fault.ErrMalformedSource, "DMA header %q flags %q are not a number", h.Reference, h.FlagsExpr)
	}
	v, i, err := h.refs(values, indices)
	if err != nil {
		return "", err
	}
	if v.IsAddr || i.IsAddr {
		return "", errors.Wrapf(fault.ErrConsistency, "header %q references %q and %q are not symbols", h.Reference, v, i)
	}

	brackets := ""
	if dma {
		brackets = "[]"
	}
	flags, comment := h.cFlags()
	var sb strings.Builder
	fmt.Fprintf(&sb, "static const struct Animation %s%s = {\n", cName(h.Reference.String()), brackets)
	fmt.Fprintf(&sb, "\t%s, // %s\n", flags, strings.TrimSpace("flags "+comment))
	fmt.Fprintf(&sb, "\t%d, // animYTransDivisor\n", h.TransDivisor)
	fmt.Fprintf(&sb, "\t%d, // startFrame\n", h.StartFrame)
	fmt.Fprintf(&sb, "\t%d, // loopStart\n", h.LoopStart)
	fmt.Fprintf(&sb, "\t%d, // loopEnd\n", h.LoopEnd)
	fmt.Fprintf(&sb, "\tANIMINDEX_NUMPARTS(%s), // unusedBoneCount\n", i)
	fmt.Fprintf(&sb, "\t%s, // values\n", v)
	fmt.Fprintf(&sb, "\t%s, // index\n", i)
	sb.WriteString("\t0 // length\n")
	sb.WriteString("};\n")
	return sb.String(), nil
}

// ReadContext caches headers and data during one import so that every
// reference is parsed once. Create one per import session.
type ReadContext struct {
	headers map[string]*Header
	order   []*Header
}

// NewReadContext returns an empty context.
func NewReadContext() *ReadContext {
	return &ReadContext{headers: make(map[string]*Header)}
}

// Headers returns the headers read so far, in read order.
func (c *ReadContext) Headers() []*Header {
	return c.order
}

// Len returns the number of headers read.
func (c *ReadContext) Len() int {
	return len(c.order)
}

func (c *ReadContext) lookup(ref Ref) *Header {
	return c.headers[ref.String()]
}

func (c *ReadContext) add(h *Header) {
	c.headers[h.Reference.String()] = h
	c.order = append(c.order, h)
}

// data returns already read data with the given key.
func (c *ReadContext) data(key DataKey) *Data {
	for _, h := range c.order {
		if h.Data != nil && h.DataKey() == key {
			return h.Data
		}
	}
	return nil
}

// ReadHeaderBinary reads the header at the reader's start address and the
// data it points to. A header bone count of zero or less falls back to
// boneCount; a positive boneCount that disagrees with the header is an
// error. DMA headers hold offsets relative to the header instead of
// pointers. A negative tableIndex numbers headers in read order.
func ReadHeaderBinary(r *rom.Reader, ctx *ReadContext, dma bool, boneCount, tableIndex int) (*Header, error) {
	ref := AddrRef(r.Start())
	if h := ctx.lookup(ref); h != nil {
		return h, nil
	}
	log.Info("reading animation header", zap.String("address", rom.Hex(r.Start())))

	var fields [6]int16
	for i := range fields {
		v, err := r.ReadS16()
		if err != nil {
			return nil, errors.WithMessagef(err, "reading header %s", ref)
		}
		fields[i] = v
	}
	h := &Header{
		Reference:    ref,
		Flags:        Flags(uint16(fields[0])),
		TransDivisor: fields[1],
		StartFrame:   fields[2],
		LoopStart:    fields[3],
		LoopEnd:      fields[4],
		BoneCount:    fields[5],
	}

	switch {
	case h.BoneCount <= 0 && boneCount <= 0:
		return nil, errors.Wrapf(fault.ErrConsistency, "header %s has no bone count and none was given", ref)
	case h.BoneCount <= 0:
		log.Warn("header lacks a bone count, using the given one", zap.String("header", ref.String()), zap.Int("bones", boneCount))
		h.BoneCount = int16(boneCount)
	case boneCount > 0 && int(h.BoneCount) != boneCount:
		return nil, errors.Wrapf(fault.ErrConsistency, "header %s has %d bones but the skeleton has %d", ref, h.BoneCount, boneCount)
	}

	if dma {
		valuesOff, err := r.ReadU32()
		if err != nil {
			return nil, err
		}
		indicesOff, err := r.ReadU32()
		if err != nil {
			return nil, err
		}
		h.ValuesRef, h.IndicesRef = AddrRef(r.Start()+valuesOff), AddrRef(r.Start()+indicesOff)
	} else {
		valuesPtr, err := r.ReadPtr()
		if err != nil {
			return nil, errors.WithMessagef(err, "header %s values pointer", ref)
		}
		indicesPtr, err := r.ReadPtr()
		if err != nil {
			return nil, errors.WithMessagef(err, "header %s indices pointer", ref)
		}
		h.ValuesRef, h.IndicesRef = AddrRef(valuesPtr), AddrRef(indicesPtr)
	}
	length, err := r.ReadU32()
	if err != nil {
		return nil, err
	}
	h.Length = length
	h.EndAddress = r.Address()

	h.TableIndex = tableIndex
	if tableIndex < 0 {
		h.TableIndex = ctx.Len()
	}

	h.Data = ctx.data(h.DataKey())
	if h.Data == nil {
		indices := r.Branch(h.IndicesRef.Address)
		values := r.Branch(h.ValuesRef.Address)
		if indices != nil && values != nil {
			if h.Data, err = ReadDataBinary(indices, values, int(h.BoneCount)); err != nil {
				return nil, errors.WithMessagef(err, "header %s", ref)
			}
		}
	}
	ctx.add(h)
	return h, nil
}

// ReadHeaderC reads a struct Animation declaration and the arrays it
// references from set. A negative tableIndex numbers headers in read order.
func ReadHeaderC(decl *cdecl.Declaration, set *cdecl.Set, ctx *ReadContext, tableIndex int) (*Header, error) {
	ref := SymbolRef(decl.Name)
	if h := ctx.lookup(ref); h != nil {
		return h, nil
	}
	log.Info("reading animation header", zap.String("name", decl.Name), zap.String("file", decl.FileName()))

	values, err := decl.Values()
	if err != nil {
		return nil, err
	}
	if values.Len() != len(headerFields) {
		return nil, errors.Wrapf(fault.ErrMalformedSource, "header %q has %d values instead of %d", decl.Name, values.Len(), len(headerFields))
	}
	fields, err := values.Resolve(headerFields)
	if err != nil {
		return nil, errors.WithMessagef(err, "header %q", decl.Name)
	}

	h := &Header{Reference: ref, FileName: decl.FileName()}
	if flags, ok := EvaluateFlags(fields["flags"]); ok {
		h.Flags = flags
	} else {
		h.FlagsExpr = fields["flags"]
	}
	for _, f := range []struct {
		name string
		dst  *int16
	}{
		{"animYTransDivisor", &h.TransDivisor},
		{"startFrame", &h.StartFrame},
		{"loopStart", &h.LoopStart},
		{"loopEnd", &h.LoopEnd},
	} {
		v, err := cdecl.ParseInt(fields[f.name])
		if err != nil {
			return nil, errors.WithMessagef(err, "header %q field %s", decl.Name, f.name)
		}
		*f.dst = int16(v)
	}
	if bones, err := cdecl.ParseInt(fields["unusedBoneCount"]); err == nil {
		h.BoneCount = int16(bones)
	}
	h.ValuesRef = SymbolRef(fields["values"])
	h.IndicesRef = SymbolRef(fields["index"])

	h.TableIndex = tableIndex
	if tableIndex < 0 {
		h.TableIndex = ctx.Len()
	}

	h.Data = ctx.data(h.DataKey())
	if h.Data == nil {
		indices := set.Lookup(cdecl.KindU16, fields["index"])
		valuesDecl := set.Lookup(cdecl.KindS16, fields["values"])
		if indices != nil && valuesDecl != nil {
			if h.Data, err = ReadDataC(indices, valuesDecl); err != nil {
				return nil, errors.WithMessagef(err, "header %q", decl.Name)
			}
		}
	}
	if h.BoneCount <= 0 && h.Data != nil {
		h.BoneCount = int16(h.Data.BoneCount())
	}
	ctx.add(h)
	return h, nil
}
