package anim

import (
	"encoding/binary"
	"fmt"
	"strings"
	"unicode"

	"go.uber.org/zap"
)

// IntArray is a named array of 16-bit words, signed for values tables and
// unsigned for indices tables.
type IntArray struct {
	Name   string
	Signed bool
	Data   []uint16

	// Values per line in C output. WrapStart offsets the first line, the
	// decomp indices tables use -6 so the first line holds two bones.
	Wrap      int
	WrapStart int
}

func newIndicesArray(name string) *IntArray {
	return &IntArray{Name: name, Wrap: 6, WrapStart: -6}
}

func newValuesArray(name string) *IntArray {
	return &IntArray{Name: name, Signed: true, Wrap: 8}
}

// Int16 returns element i as a signed value.
func (a *IntArray) Int16(i int) int16 { return int16(a.Data[i]) }

// Len returns the element count.
func (a *IntArray) Len() int { return len(a.Data) }

// ToBinary encodes the array big-endian.
func (a *IntArray) ToBinary() []byte {
	out := make([]byte, 0, len(a.Data)*2)
	for _, v := range a.Data {
		out = binary.BigEndian.AppendUint16(out, v)
	}
	return out
}

// CType returns the C element type.
func (a *IntArray) CType() string {
	if a.Signed {
		return "s16"
	}
	return "u16"
}

// WriteC appends the array declaration followed by newLines newlines.
func (a *IntArray) WriteC(sb *strings.Builder, newLines int) {
	log.Debug("generating C array",
		zap.String("type", a.CType()), zap.String("name", a.Name), zap.Int("elements", len(a.Data)))
	fmt.Fprintf(sb, "// %d\n", len(a.Data))
	fmt.Fprintf(sb, "static const %s %s[] = {\n\t", a.CType(), cName(a.Name))
	wrap := a.Wrap
	if wrap <= 0 {
		wrap = 8
	}
	col := a.WrapStart
	for _, v := range a.Data {
		fmt.Fprintf(sb, "0x%04X, ", v)
		col++
		if col >= wrap {
			sb.WriteString("\n\t")
			col = 0
		}
	}
	sb.WriteString("\n};")
	sb.WriteString(strings.Repeat("\n", newLines))
}

// ToC returns the array declaration.
func (a *IntArray) ToC() string {
	var sb strings.Builder
	a.WriteC(&sb, 1)
	return sb.String()
}

// cName replaces characters that are not valid in a C identifier.
func cName(name string) string {
	if name == "" {
		return name
	}
	out := []rune(name)
	for i, r := range out {
		if r != '_' && !unicode.IsLetter(r) && !unicode.IsDigit(r) {
			out[i] = '_'
		}
	}
	if unicode.IsDigit(out[0]) {
		return "_" + string(out)
	}
	return string(out)
}
