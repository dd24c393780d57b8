package anim

import (
	"encoding/binary"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/Faultbox/n64anim/pkg/cdecl"
	"github.com/Faultbox/n64anim/pkg/fault"
	"github.com/Faultbox/n64anim/pkg/rom"
)

// maxTableScan bounds a table read without an explicit size.
const maxTableScan = 300

// span is a byte range in C text, relative to the enclosing list.
type span struct {
	start, end int
}

// TableElement is one slot of a table: a header, a raw reference or, when
// both are empty, the NULL delimiter.
type TableElement struct {
	Ref       Ref
	Header    *Header
	EnumName  string
	EnumValue string

	// designated is set for elements read from "[NAME] = &ref" C text.
	designated bool

	// Existing C text, set when merging into files.
	refSpan  *span
	enumSpan *span
}

// IsNull reports whether the element is a NULL entry.
func (e *TableElement) IsNull() bool {
	return e.Header == nil && e.Ref.IsZero()
}

// Data returns the header's data, if any.
func (e *TableElement) Data() *Data {
	if e.Header == nil {
		return nil
	}
	return e.Header.Data
}

// CName returns the referenced symbol.
func (e *TableElement) CName() string {
	if !e.Ref.IsZero() {
		return e.Ref.String()
	}
	if e.Header != nil {
		return e.Header.Reference.String()
	}
	return ""
}

func (e *TableElement) cReference() string {
	if name := e.CName(); name != "" {
		return "&" + name
	}
	return "NULL"
}

// EnumC returns the enumerator text.
func (e *TableElement) EnumC() string {
	if e.EnumValue != "" {
		return e.EnumName + " = " + e.EnumValue
	}
	return e.EnumName
}

// ToC returns the element initializer including its trailing comma.
func (e *TableElement) ToC(designated bool) string {
	if designated && e.EnumName != "" {
		return fmt.Sprintf("[%s] = %s,", e.EnumName, e.cReference())
	}
	return e.cReference() + ","
}

// Table is an ordered animation table.
type Table struct {
	Reference     Ref
	EnumListName  string
	EnumDelimiter string
	FileName      string
	ValuesName    string
	Elements      []*TableElement

	// Set on binary import.
	EndAddress uint32

	// Existing C text, set when merging into files.
	span     *span
	enumSpan *span
}

// HasNullDelimiter reports whether the last element is NULL.
func (t *Table) HasNullDelimiter() bool {
	return len(t.Elements) > 0 && t.Elements[len(t.Elements)-1].IsNull()
}

// Names returns the element symbols and enum names.
func (t *Table) Names() (names, enums []string) {
	for _, e := range t.Elements {
		names = append(names, e.CName())
		enums = append(enums, e.EnumName)
	}
	return names, enums
}

// HeadersAndData returns the distinct headers and data of the table in
// element order.
func (t *Table) HeadersAndData() ([]*Header, []*Data) {
	var headers []*Header
	var datas []*Data
	seenHeaders := make(map[*Header]bool)
	seenData := make(map[*Data]bool)
	for _, e := range t.Elements {
		if d := e.Data(); d != nil && !seenData[d] {
			seenData[d] = true
			datas = append(datas, d)
		}
		if h := e.Header; h != nil && !seenHeaders[h] {
			seenHeaders[h] = true
			headers = append(headers, h)
		}
	}
	return headers, datas
}

// Validate checks every distinct header and its data before export.
func (t *Table) Validate() error {
	headers, _ := t.HeadersAndData()
	return errors.WithMessagef(validateHeaders(headers), "table %q", t.Reference)
}

// SeparateClips groups the distinct headers into clips by shared data.
// Header variants are numbered within each clip.
func (t *Table) SeparateClips() []*Clip {
	log.Debug("separating table into clips", zap.String("table", t.Reference.String()))
	headers, _ := t.HeadersAndData()
	added := make(map[*Header]bool)
	var clips []*Clip
	for _, h := range headers {
		if added[h] {
			continue
		}
		clip := &Clip{Data: h.Data, FileName: h.FileName}
		for _, other := range headers {
			if added[other] || other.Data != h.Data || (h.Data == nil && other != h) {
				continue
			}
			other.Variant = len(clip.Headers)
			clip.Headers = append(clip.Headers, other)
			added[other] = true
		}
		if clip.FileName == "" {
			clip.FileName = cName(h.Reference.String()) + ".inc.c"
		}
		clips = append(clips, clip)
	}
	return clips
}

// dmaHeaderName names the header of DMA entry i.
func dmaHeaderName(i int) string {
	return fmt.Sprintf("anim_%02X", i)
}

// dmaClipName names a DMA clip after the entries it covers.
func dmaClipName(entries []int) string {
	parts := make([]string, len(entries))
	for i, e := range entries {
		parts[i] = fmt.Sprintf("%02X", e)
	}
	return "anim_" + strings.Join(parts, "_")
}

// SeparateClipsDMA groups consecutive elements sharing data into clips
// named in DMA convention (anim_XX headers, anim_XX_YY data and files). The
// table is not modified: headers and data are copied.
func (t *Table) SeparateClipsDMA() ([]*Clip, error) {
	log.Debug("separating DMA table into clips", zap.Int("elements", len(t.Elements)))
	var clips []*Clip
	var entries []int
	var included []*Header
	for i, e := range t.Elements {
		if e.Header == nil || e.Header.Data == nil {
			return nil, errors.Wrapf(fault.ErrConsistency, "DMA table element %d has no header or data", i)
		}
		h := *e.Header
		h.Reference = SymbolRef(dmaHeaderName(i))
		entries = append(entries, i)
		included = append(included, &h)

		if i < len(t.Elements)-1 && t.Elements[i+1].Data() == e.Header.Data {
			continue
		}

		name := dmaClipName(entries)
		data := *e.Header.Data
		data.IndicesRef, data.ValuesRef = SymbolRef(name+"_indices"), SymbolRef(name+"_values")
		clip := &Clip{Data: &data, Headers: included, FileName: name + ".inc.c"}
		for variant, header := range included {
			header.FileName = clip.FileName
			header.IndicesRef, header.ValuesRef = data.IndicesRef, data.ValuesRef
			header.Data = &data
			header.Variant = variant
		}
		clips = append(clips, clip)
		entries, included = nil, nil
	}
	return clips, nil
}

// ToBinaryDMA encodes the table as a DMA table. Elements repeating an
// already encoded header alias its entry instead of duplicating the bytes.
func (t *Table) ToBinaryDMA() ([]byte, error) {
	if err := t.Validate(); err != nil {
		return nil, err
	}
	entryOf := make(map[*Header]int)
	aliases := make(map[int]int)
	var fresh []*TableElement
	var freshIndex []int
	for i, e := range t.Elements {
		if e.Header == nil || e.Header.Data == nil {
			return nil, errors.Wrapf(fault.ErrConsistency, "DMA table element %d has no header or data", i)
		}
		if first, ok := entryOf[e.Header]; ok {
			log.Debug("aliasing repeated DMA header", zap.Int("element", i), zap.Int("entry", first))
			aliases[i] = first
			continue
		}
		entryOf[e.Header] = i
		fresh = append(fresh, e)
		freshIndex = append(freshIndex, i)
	}

	clips, err := (&Table{Elements: fresh}).SeparateClipsDMA()
	if err != nil {
		return nil, err
	}

	table := &rom.DMATable{}
	entries := make([]rom.DMAEntry, len(t.Elements))
	next := 0
	for _, clip := range clips {
		headers, data, err := clip.ToBinaryDMA()
		if err != nil {
			return nil, errors.WithMessagef(err, "DMA clip %q", clip.FileName)
		}
		end := uint32(len(table.Data) + HeaderSize*len(headers) + len(data))
		for _, header := range headers {
			offset := uint32(len(table.Data))
			entries[freshIndex[next]] = rom.DMAEntry{Offset: offset, Size: end - offset}
			next++
			table.Data = append(table.Data, header...)
		}
		table.Data = append(table.Data, data...)
	}
	for i, first := range aliases {
		entries[i] = entries[first]
	}
	table.Entries = entries
	return table.MarshalBinary()
}

// ToCombinedBinary lays the table out for a ROM or insertable export: the
// pointer table at tableAddr, then at dataAddr every distinct header
// followed by all indices and values tables. dataAddr nil places the data
// right after the pointer table. It returns the pointer table, the data and
// the addresses of every pointer written.
func (t *Table) ToCombinedBinary(tableAddr uint32, dataAddr *uint32, segs rom.SegmentMap) (table, data []byte, ptrs []uint32, err error) {
	if err := t.Validate(); err != nil {
		return nil, nil, nil, err
	}
	headers, datas := t.HeadersAndData()
	start := tableAddr + uint32(len(t.Elements)*4)
	if dataAddr != nil {
		start = *dataAddr
	}
	tablesAddr := start + uint32(len(headers)*HeaderSize)
	layout, err := layoutTables(datas, t.ValuesName, &tablesAddr)
	if err != nil {
		return nil, nil, nil, err
	}
	keys := make(map[*Data]DataKey, len(datas))
	for i, d := range datas {
		keys[d] = layout.keys[i]
	}
	headerIndex := make(map[*Header]int, len(headers))
	for i, h := range headers {
		headerIndex[h] = i
	}

	for i, e := range t.Elements {
		var ptr uint32
		switch {
		case e.Header != nil:
			ptrs = append(ptrs, tableAddr+uint32(len(table)))
			ptr = start + uint32(headerIndex[e.Header]*HeaderSize)
			if segs != nil {
				if ptr, err = segs.Encode(ptr); err != nil {
					return nil, nil, nil, errors.WithMessagef(err, "table element %d", i)
				}
			}
		case e.IsNull():
		case e.Ref.IsAddr:
			ptr = e.Ref.Address
		default:
			return nil, nil, nil, errors.Wrapf(fault.ErrConsistency, "table element %d reference %q is not an address", i, e.Ref)
		}
		table = binary.BigEndian.AppendUint32(table, ptr)
	}

	for _, h := range headers {
		if h.Data == nil {
			b, err := h.ToBinary(Ref{}, Ref{}, nil, 0)
			if err != nil {
				return nil, nil, nil, err
			}
			data = append(data, b...)
			continue
		}
		at := start + uint32(len(data))
		ptrs = append(ptrs, at+12, at+16)
		key := keys[h.Data]
		b, err := h.ToBinary(key.Values, key.Indices, segs, 0)
		if err != nil {
			return nil, nil, nil, err
		}
		data = append(data, b...)
	}
	for _, a := range layout.indices {
		data = append(data, a.ToBinary()...)
	}
	for _, a := range layout.values {
		data = append(data, a.ToBinary()...)
	}
	return table, data, ptrs, nil
}

// CFile is one generated source file.
type CFile struct {
	Name string
	Text string
}

// DataAndHeadersToC returns one file per clip.
func (t *Table) DataAndHeadersToC(dma bool) ([]CFile, error) {
	if err := t.Validate(); err != nil {
		return nil, err
	}
	var clips []*Clip
	if dma {
		var err error
		if clips, err = t.SeparateClipsDMA(); err != nil {
			return nil, err
		}
	} else {
		clips = t.SeparateClips()
	}
	files := make([]CFile, 0, len(clips))
	for _, clip := range clips {
		text, err := clip.ToC(dma)
		if err != nil {
			return nil, errors.WithMessagef(err, "clip %q", clip.FileName)
		}
		files = append(files, CFile{Name: clip.FileName, Text: text})
	}
	return files, nil
}

// DataAndHeadersToCCombined returns every table and header in one file,
// with all clips sharing values tables.
func (t *Table) DataAndHeadersToCCombined() (string, error) {
	if err := t.Validate(); err != nil {
		return "", err
	}
	headers, datas := t.HeadersAndData()
	var sb strings.Builder
	keys := make(map[*Data]DataKey, len(datas))
	if len(datas) > 0 {
		layout, err := layoutTables(datas, t.ValuesName, nil)
		if err != nil {
			return "", err
		}
		for i, d := range datas {
			keys[d] = layout.keys[i]
		}
		for _, a := range layout.values {
			a.WriteC(&sb, 2)
		}
		for _, a := range layout.indices {
			a.WriteC(&sb, 2)
		}
	}
	for _, h := range headers {
		var key DataKey
		if h.Data != nil {
			key = keys[h.Data]
		}
		text, err := h.toC(false, key.Values, key.Indices)
		if err != nil {
			return "", err
		}
		sb.WriteString(text)
		sb.WriteString("\n")
	}
	return sb.String(), nil
}

// NameSymbols gives C names to headers and data that only have addresses,
// as after a binary import.
func (t *Table) NameSymbols(prefix string) {
	headers, _ := t.HeadersAndData()
	named := make(map[*Data]bool)
	for i, h := range headers {
		if h.Reference.IsAddr || h.Reference.IsZero() {
			h.Reference = SymbolRef(fmt.Sprintf("%s_anim_%02X", prefix, i))
		}
		if d := h.Data; d != nil && !named[d] {
			named[d] = true
			if d.IndicesRef.IsAddr || d.ValuesRef.IsAddr {
				d.IndicesRef = SymbolRef(h.Reference.Symbol + "_indices")
				d.ValuesRef = SymbolRef(h.Reference.Symbol + "_values")
			}
		}
		if h.Data != nil {
			h.IndicesRef, h.ValuesRef = h.Data.IndicesRef, h.Data.ValuesRef
		}
	}
	for _, e := range t.Elements {
		if e.Header != nil {
			e.Ref = Ref{}
		}
	}
	if t.Reference.IsAddr || t.Reference.IsZero() {
		t.Reference = SymbolRef(prefix + "_anims")
	}
}

// ReadBinary reads a pointer table. Without size the table ends at the
// first NULL, which is kept as the delimiter. tableIndex >= 0 reads only
// that element.
func (t *Table) ReadBinary(r *rom.Reader, ctx *ReadContext, tableIndex, boneCount, size int) error {
	log.Info("reading animation table", zap.String("address", rom.Hex(r.Start())))
	t.Elements = nil
	t.Reference = AddrRef(r.Start())

	count := size
	if count <= 0 {
		count = maxTableScan
	}
	if tableIndex >= 0 {
		count = min(count, tableIndex+1)
	}
	found := false
	for i := 0; i < count; i++ {
		ptr, err := r.ReadPtr()
		if err != nil {
			return errors.WithMessagef(err, "table element %d", i)
		}
		if tableIndex >= 0 && i != tableIndex {
			if size <= 0 && ptr == 0 {
				break
			}
			continue
		}

		element := &TableElement{}
		if ptr != 0 {
			element.Ref = AddrRef(ptr)
			if branch := r.Branch(ptr); branch != nil {
				h, err := ReadHeaderBinary(branch, ctx, false, boneCount, i)
				if err != nil {
					return errors.WithMessagef(err, "table element %d", i)
				}
				element.Header = h
			}
		}
		t.Elements = append(t.Elements, element)
		if tableIndex >= 0 || (size <= 0 && ptr == 0) {
			found = true
			break
		}
	}
	if !found {
		if tableIndex >= 0 {
			return errors.Wrapf(fault.ErrOutOfRange, "table index %d not found in table", tableIndex)
		}
		if size <= 0 {
			return errors.Wrapf(fault.ErrOutOfRange, "no NULL found in the first %d elements", maxTableScan)
		}
	}
	t.EndAddress = r.Address()
	return nil
}

// ReadDMABinary reads a DMA table. tableIndex >= 0 reads only that entry.
func (t *Table) ReadDMABinary(r *rom.Reader, ctx *ReadContext, tableIndex, boneCount int) error {
	dma, err := rom.ReadDMATable(r)
	if err != nil {
		return err
	}
	t.Reference = AddrRef(r.Start())
	t.Elements = nil

	read := func(i int) error {
		entry := dma.Entries[i]
		branch := r.Branch(entry.Address)
		if branch == nil {
			return errors.Wrapf(fault.ErrOutOfRange, "DMA entry %d at %s not present in data", i, rom.Hex(entry.Address))
		}
		h, err := ReadHeaderBinary(branch, ctx, true, boneCount, i)
		if err != nil {
			return errors.WithMessagef(err, "DMA entry %d", i)
		}
		t.Elements = append(t.Elements, &TableElement{Header: h})
		return nil
	}

	if tableIndex >= 0 {
		if tableIndex >= len(dma.Entries) {
			return errors.Wrapf(fault.ErrOutOfRange, "index %d outside of DMA table (%d entries)", tableIndex, len(dma.Entries))
		}
		return read(tableIndex)
	}
	for i := range dma.Entries {
		if err := read(i); err != nil {
			return err
		}
	}
	t.EndAddress = dma.EndAddress
	return nil
}

// ReadC fills the table from a scanned pointer table. Headers are read from
// set; a nil set only records the references.
func (t *Table) ReadC(pt *cdecl.PointerTable, set *cdecl.Set, ctx *ReadContext) error {
	t.Reference = SymbolRef(pt.Name)
	t.FileName = filepath.Base(pt.Path)
	t.span = &span{start: pt.Start, end: pt.End}
	t.Elements = nil
	seen := make(map[string]bool)
	for _, entry := range pt.Entries {
		if entry.Enum != "" {
			if seen[entry.Enum] {
				return errors.Wrapf(fault.ErrDuplicateDefinition, "table %q designates [%s] twice", pt.Name, entry.Enum)
			}
			seen[entry.Enum] = true
		}
		e := &TableElement{
			EnumName:   entry.Enum,
			designated: entry.Enum != "",
			refSpan:    &span{start: entry.Start, end: entry.End},
		}
		if !entry.Null {
			e.Ref = SymbolRef(entry.Ref)
		}
		t.Elements = append(t.Elements, e)
	}
	if err := t.CheckIndices(nil); err != nil {
		return err
	}
	if set == nil {
		return nil
	}
	for i, e := range t.Elements {
		if e.IsNull() {
			continue
		}
		decl := set.Lookup(cdecl.KindAnimation, e.Ref.Symbol)
		if decl == nil {
			log.Warn("table references an undeclared header",
				zap.String("table", pt.Name), zap.String("header", e.Ref.Symbol))
			continue
		}
		h, err := ReadHeaderC(decl, set, ctx, i)
		if err != nil {
			return errors.WithMessagef(err, "table %q element %d", pt.Name, i)
		}
		e.Header = h
		if h.EnumName == "" {
			h.EnumName = e.EnumName
		}
	}
	return nil
}

// ApplyEnumList copies enum names and values onto the elements. Elements
// that already have an enum name take the member of that name, the others
// the member at their position.
func (t *Table) ApplyEnumList(list *cdecl.EnumList) {
	for i, e := range t.Elements {
		if i >= len(list.Members) {
			break
		}
		member, ok := list.Members[i], true
		if e.EnumName != "" {
			ok = false
			for _, m := range list.Members {
				if m.Name == e.EnumName {
					member, ok = m, true
					break
				}
			}
		}
		if !ok {
			continue
		}
		e.EnumName = member.Name
		e.EnumValue = member.Value
		e.enumSpan = &span{start: member.Start, end: member.End}
		if e.Header != nil && e.Header.EnumName == "" {
			e.Header.EnumName = member.Name
		}
	}
	t.EnumListName = list.Name
	t.enumSpan = &span{start: list.Start, end: list.End}
}

// CheckIndices resolves the designators of a designated table to indices,
// either numeric literals or members of list, and checks that they cover
// 0..n-1 exactly once. Tables with positional elements, or with a
// designator that does not resolve to a number, are left unchecked.
func (t *Table) CheckIndices(list *cdecl.EnumList) error {
	values := enumValues(list)
	owner := make(map[int64]string, len(t.Elements))
	for _, e := range t.Elements {
		if !e.designated {
			return nil
		}
		index, err := cdecl.ParseInt(e.EnumName)
		if err != nil {
			v, ok := values[e.EnumName]
			if !ok {
				return nil
			}
			index = v
		}
		if prev, dup := owner[index]; dup {
			return errors.Wrapf(fault.ErrDuplicateDefinition,
				"table %q: [%s] and [%s] both resolve to index %d", t.Reference.Symbol, prev, e.EnumName, index)
		}
		owner[index] = e.EnumName
	}
	for i := int64(0); i < int64(len(owner)); i++ {
		if _, ok := owner[i]; !ok {
			return errors.Wrapf(fault.ErrConsistency,
				"table %q has %d designated elements but no element at index %d", t.Reference.Symbol, len(owner), i)
		}
	}
	return nil
}

// enumValues resolves member values the way C does: an explicit value, or
// one more than the previous member. Resolution stops at the first value
// that is not a constant expression over earlier members.
func enumValues(list *cdecl.EnumList) map[string]int64 {
	values := make(map[string]int64)
	if list == nil {
		return values
	}
	next := int64(0)
	for _, m := range list.Members {
		if m.Value != "" {
			v, err := cdecl.EvalInt(m.Value, values)
			if err != nil {
				break
			}
			next = v
		}
		values[m.Name] = next
		next++
	}
	return values
}
