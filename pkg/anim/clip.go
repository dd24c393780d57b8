package anim

import (
	"strings"

	"github.com/pkg/errors"

	"github.com/Faultbox/n64anim/pkg/fault"
	"github.com/Faultbox/n64anim/pkg/rom"
)

// Clip is one Data with every header variant that plays it.
type Clip struct {
	Data     *Data
	Headers  []*Header
	FileName string
}

// Names returns the header references and enum names.
func (c *Clip) Names() (names, enums []string) {
	for _, h := range c.Headers {
		names = append(names, h.Reference.String())
		enums = append(enums, h.EnumName)
	}
	return names, enums
}

// ToBinaryDMA encodes the clip for a DMA table: one header per variant and
// the data, which follows the headers. Header offsets are relative to each
// header and length spans from the header to the end of the data.
func (c *Clip) ToBinaryDMA() ([][]byte, []byte, error) {
	if c.Data == nil {
		return nil, nil, errors.Wrapf(fault.ErrConsistency, "clip %q has no data", c.FileName)
	}
	if err := validateHeaders(c.Headers); err != nil {
		return nil, nil, err
	}
	data, valuesOffset, err := c.Data.ToBinary()
	if err != nil {
		return nil, nil, err
	}

	headers := make([][]byte, 0, len(c.Headers))
	indicesOffset := uint32(HeaderSize * len(c.Headers))
	for _, h := range c.Headers {
		b, err := h.ToBinary(AddrRef(indicesOffset+valuesOffset), AddrRef(indicesOffset), nil, indicesOffset+uint32(len(data)))
		if err != nil {
			return nil, nil, err
		}
		headers = append(headers, b)
		indicesOffset -= HeaderSize
	}
	return headers, data, nil
}

// ToBinary encodes the headers at start followed by the data. It returns
// the offsets of every pointer written, relative to start's address space.
func (c *Clip) ToBinary(start uint32, segs rom.SegmentMap) ([]byte, []uint32, error) {
	if err := validateHeaders(c.Headers); err != nil {
		return nil, nil, err
	}
	var (
		out       []byte
		ptrs      []uint32
		data      []byte
		values    Ref
		indices   Ref
		hasValues bool
	)
	if c.Data != nil {
		var valuesOffset uint32
		var err error
		if data, valuesOffset, err = c.Data.ToBinary(); err != nil {
			return nil, nil, err
		}
		indicesAddr := start + uint32(HeaderSize*len(c.Headers))
		indices, values = AddrRef(indicesAddr), AddrRef(indicesAddr+valuesOffset)
		hasValues = true
	}
	for _, h := range c.Headers {
		if hasValues {
			at := start + uint32(len(out))
			ptrs = append(ptrs, at+12, at+16)
		}
		b, err := h.ToBinary(values, indices, segs, 0)
		if err != nil {
			return nil, nil, err
		}
		out = append(out, b...)
	}
	return append(out, data...), ptrs, nil
}

// HeadersToC returns every header literal.
func (c *Clip) HeadersToC(dma bool) (string, error) {
	var sb strings.Builder
	for _, h := range c.Headers {
		text, err := h.ToC(dma)
		if err != nil {
			return "", err
		}
		sb.WriteString(text)
		sb.WriteString("\n")
	}
	return sb.String(), nil
}

// ToC returns the clip source. DMA clips list the headers before the data.
func (c *Clip) ToC(dma bool) (string, error) {
	if err := validateHeaders(c.Headers); err != nil {
		return "", err
	}
	headers, err := c.HeadersToC(dma)
	if err != nil {
		return "", err
	}
	var sb strings.Builder
	if dma {
		sb.WriteString(headers)
		sb.WriteString("\n")
	}
	if c.Data != nil {
		data, err := c.Data.ToC(dma)
		if err != nil {
			return "", err
		}
		sb.WriteString(data)
		sb.WriteString("\n")
	}
	if !dma {
		sb.WriteString(headers)
	}
	return sb.String(), nil
}
