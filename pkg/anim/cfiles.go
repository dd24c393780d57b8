package anim

import (
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"
	"unicode"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/Faultbox/n64anim/pkg/cdecl"
	"github.com/Faultbox/n64anim/pkg/fault"
)

// UpdateOptions controls how a table is merged into existing C files.
type UpdateOptions struct {
	NullDelimiter bool
	Override      bool // discard existing file contents
	GenEnums      bool
	Designated    bool   // "[ENUM] = &anim," elements, needs GenEnums
	EnumPath      string // enum header, usually table_enum.h
}

// EnumName derives an enumerator name from an animation symbol:
// upper case, non alphanumerics as single underscores, no trailing
// underscore. A symbol that is already upper case gets an "_ENUM" suffix.
func EnumName(anim string) string {
	var sb strings.Builder
	for _, r := range strings.ToUpper(anim) {
		if r > unicode.MaxASCII || !(unicode.IsLetter(r) || unicode.IsDigit(r)) {
			r = '_'
		}
		if r == '_' && strings.HasSuffix(sb.String(), "_") {
			continue
		}
		sb.WriteRune(r)
	}
	name := strings.TrimSuffix(sb.String(), "_")
	if name == anim {
		name += "_ENUM"
	}
	return name
}

// TableEnumName derives the enum list name from a table symbol, for
// example "mario_anims" becomes "MarioAnims".
func TableEnumName(table string) string {
	var sb strings.Builder
	upper := true
	for _, r := range table {
		switch {
		case r == '_':
			upper = true
		case unicode.IsLetter(r):
			if upper {
				sb.WriteRune(unicode.ToUpper(r))
			} else {
				sb.WriteRune(unicode.ToLower(r))
			}
			upper = false
		default:
			sb.WriteRune(r)
			upper = true
		}
	}
	return sb.String()
}

// uniqueName returns name, or name with a counter suffix when it was
// handed out before. seen is updated.
func uniqueName(name string, seen map[string]int) string {
	n, ok := seen[name]
	if !ok {
		seen[name] = 0
		return name
	}
	if name == "" {
		return name
	}
	n++
	seen[name] = n
	return name + "_" + strconv.Itoa(n)
}

// readExisting returns the file contents unless override is set or the file
// does not exist yet.
func readExisting(path string, override bool) (string, bool, error) {
	if override {
		return "", false, nil
	}
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return "", false, nil
	}
	if err != nil {
		return "", false, errors.Wrapf(err, "reading %s", path)
	}
	return string(data), true, nil
}

// replaceSpans writes each element's text into content. Elements with a
// span replace it in place and shift the spans after them; the rest are
// appended on their own line.
func replaceSpans(content string, elements []*TableElement, spanOf func(*TableElement) *span, textOf func(*TableElement) string, logField string) string {
	lastEnd := -1
	for i, e := range elements {
		text := textOf(e)
		s := spanOf(e)
		if s == nil {
			if lastEnd >= 0 {
				content = separate(content, lastEnd)
				lastEnd = -1
			}
			content += "\t" + text + "\n"
			log.Debug("adding entry", zap.String(logField, text))
			continue
		}
		old := content[s.start:s.end]
		lastEnd = s.end
		if old == text {
			continue
		}
		log.Debug("replacing entry", zap.String("old", old), zap.String(logField, text))
		content = content[:s.start] + text + content[s.end:]
		shift := len(text) - len(old)
		for _, next := range elements[i+1:] {
			if ns := spanOf(next); ns != nil && ns.start >= s.end {
				ns.start += shift
				ns.end += shift
			}
		}
		s.end = s.start + len(text)
		lastEnd = s.end
	}
	return content
}

// separate makes sure the entry ending at end is followed by a comma.
func separate(content string, end int) string {
	if strings.HasSuffix(content[:end], ",") {
		return content
	}
	if rest := strings.TrimLeftFunc(content[end:], unicode.IsSpace); strings.HasPrefix(rest, ",") {
		return content
	}
	return content[:end] + "," + content[end:]
}

func ensureNewline(text string) string {
	if text != "" && !strings.HasSuffix(text, "\n") && !strings.HasSuffix(text, "\r") {
		return text + "\n"
	}
	return text
}

// UpdateTableFile merges t into the table file at path. An existing table
// with the same name keeps its elements; new elements are appended or take
// the place of the NULL delimiter, and existing text is only rewritten
// where it changed. Running it twice with the same table leaves the file
// unchanged.
func UpdateTableFile(path string, t *Table, opts UpdateOptions) error {
	if t.Reference.IsAddr || t.Reference.Symbol == "" {
		return errors.Wrapf(fault.ErrConsistency, "table reference %q is not a symbol", t.Reference)
	}
	if opts.GenEnums && t.EnumListName == "" {
		t.EnumListName = TableEnumName(t.Reference.Symbol)
	}
	if opts.GenEnums && t.EnumDelimiter == "" {
		t.EnumDelimiter = EnumName(t.Reference.Symbol) + "_END"
	}
	if opts.GenEnums {
		t.fillEnums()
	}

	text, _, err := readExisting(path, opts.Override)
	if err != nil {
		return err
	}
	cleaned, err := cdecl.Clean(text)
	if err != nil {
		return errors.WithMessage(err, path)
	}

	if opts.GenEnums {
		include := `#include "` + filepath.Base(enumPath(path, opts)) + `"`
		if !strings.Contains(cleaned, include) {
			text = include + "\n" + text
			if cleaned, err = cdecl.Clean(text); err != nil {
				return errors.WithMessage(err, path)
			}
		}
	}

	var tables []*cdecl.PointerTable
	found, err := cdecl.FindPointerTables(cleaned, path)
	if err != nil {
		return errors.WithMessage(err, path)
	}
	for _, pt := range found {
		if pt.Name == t.Reference.Symbol {
			tables = append(tables, pt)
		}
	}

	var enumList *cdecl.EnumList
	if opts.GenEnums {
		lists, err := findEnumList(enumPath(path, opts), t.EnumListName, opts.Override)
		if err != nil {
			return err
		}
		if len(lists) > 1 {
			return errors.Wrapf(fault.ErrDuplicateDefinition, "enum list %q", t.EnumListName)
		}
		if len(lists) == 1 {
			enumList = lists[0]
		}
	}

	switch len(tables) {
	case 0:
		text = ensureNewline(text)
		text += "const struct Animation *const " + t.Reference.Symbol + "[] = {\n"
		t.span = &span{start: len(text), end: len(text)}
		text += "};\n"
	case 1:
		existing := &Table{}
		if err := existing.ReadC(tables[0], nil, nil); err != nil {
			return err
		}
		if opts.GenEnums {
			if enumList != nil {
				existing.ApplyEnumList(enumList)
				t.EnumListName, t.enumSpan = existing.EnumListName, existing.enumSpan
			}
			existing.assignEnums(t)
		}
		t.Elements = existing.merge(t, opts.GenEnums)
		t.span = existing.span
	default:
		return errors.Wrapf(fault.ErrDuplicateDefinition, "animation table %q in %s", t.Reference, path)
	}

	if opts.GenEnums {
		t.fillEnums()
	}
	if opts.NullDelimiter && !t.HasNullDelimiter() {
		t.Elements = append(t.Elements, &TableElement{EnumName: t.EnumDelimiter})
	}

	if opts.GenEnums {
		if err := UpdateEnumFile(enumPath(path, opts), t, opts); err != nil {
			return err
		}
	}

	content := replaceSpans(text[t.span.start:t.span.end], t.Elements,
		func(e *TableElement) *span { return e.refSpan },
		func(e *TableElement) string { return e.ToC(opts.Designated && opts.GenEnums) },
		"element")
	text = text[:t.span.start] + content + text[t.span.end:]

	log.Info("writing animation table", zap.String("table", t.Reference.String()), zap.String("path", path))
	if err := os.WriteFile(path, []byte(text), 0644); err != nil {
		return errors.Wrapf(err, "writing %s", path)
	}
	return nil
}

func enumPath(tablePath string, opts UpdateOptions) string {
	if opts.EnumPath != "" {
		return opts.EnumPath
	}
	return filepath.Join(filepath.Dir(tablePath), "table_enum.h")
}

func findEnumList(path, name string, override bool) ([]*cdecl.EnumList, error) {
	text, ok, err := readExisting(path, override)
	if err != nil || !ok {
		return nil, err
	}
	cleaned, err := cdecl.Clean(text)
	if err != nil {
		return nil, errors.WithMessage(err, path)
	}
	all, err := cdecl.FindEnumLists(cleaned, path)
	if err != nil {
		return nil, errors.WithMessage(err, path)
	}
	var lists []*cdecl.EnumList
	for _, list := range all {
		if list.Name == name {
			lists = append(lists, list)
		}
	}
	return lists, nil
}

// assignEnums names the enum-less elements of an existing table, reusing
// the names the incoming table gives the same symbols.
func (t *Table) assignEnums(incoming *Table) {
	seen := make(map[string]int)
	for _, e := range t.Elements {
		if e.EnumName != "" {
			seen[e.EnumName] = 0
		}
	}
	for i, e := range t.Elements {
		if e.EnumName != "" {
			continue
		}
		if e.IsNull() {
			if i == len(t.Elements)-1 {
				e.EnumName = uniqueName(incoming.EnumDelimiter, seen)
			} else {
				e.EnumName = uniqueName(EnumName(incoming.Reference.Symbol+"_NULL"), seen)
			}
			continue
		}
		name := EnumName(e.CName())
		for _, other := range incoming.Elements {
			if other.EnumName != "" && other.CName() == e.CName() {
				name = other.EnumName
				break
			}
		}
		e.EnumName = uniqueName(name, seen)
	}
}

// fillEnums names every element still lacking an enumerator.
func (t *Table) fillEnums() {
	seen := make(map[string]int)
	for _, e := range t.Elements {
		if e.EnumName != "" {
			seen[e.EnumName] = 0
		}
	}
	for i, e := range t.Elements {
		if e.EnumName != "" {
			continue
		}
		switch {
		case !e.IsNull():
			e.EnumName = uniqueName(EnumName(e.CName()), seen)
		case i == len(t.Elements)-1:
			e.EnumName = uniqueName(t.EnumDelimiter, seen)
		default:
			e.EnumName = uniqueName(EnumName(t.Reference.Symbol+"_NULL"), seen)
		}
	}
}

// merge returns t's elements followed by the incoming ones it does not
// already have. The first new element replaces a trailing NULL.
func (t *Table) merge(incoming *Table, genEnums bool) []*TableElement {
	names, enums := t.Names()
	elements := append([]*TableElement(nil), t.Elements...)
	hasNull := t.HasNullDelimiter()
	for _, e := range incoming.Elements {
		if slices.Contains(names, e.CName()) && (!genEnums || slices.Contains(enums, e.EnumName)) {
			continue
		}
		if hasNull {
			last := elements[len(elements)-1]
			last.Ref = SymbolRef(e.CName())
			last.Header = e.Header
			last.EnumName = e.EnumName
			last.EnumValue = e.EnumValue
			if e.IsNull() {
				last.Ref = Ref{}
			}
			hasNull = false
			continue
		}
		elements = append(elements, e)
	}
	return elements
}

// UpdateEnumFile merges the enumerators of t into the enum header at path.
// Elements without an enum name are skipped.
func UpdateEnumFile(path string, t *Table, opts UpdateOptions) error {
	if t.EnumListName == "" {
		return errors.Wrapf(fault.ErrConsistency, "table %q has no enum list name", t.Reference)
	}
	text, _, err := readExisting(path, opts.Override)
	if err != nil {
		return err
	}

	if t.enumSpan == nil {
		lists, err := findEnumList(path, t.EnumListName, opts.Override)
		if err != nil {
			return err
		}
		if len(lists) > 1 {
			return errors.Wrapf(fault.ErrDuplicateDefinition, "enum list %q", t.EnumListName)
		}
		if len(lists) == 1 {
			list := lists[0]
			t.enumSpan = &span{start: list.Start, end: list.End}
			for _, e := range t.Elements {
				for _, m := range list.Members {
					if m.Name == e.EnumName {
						e.enumSpan = &span{start: m.Start, end: m.End}
						break
					}
				}
			}
		}
	}
	if t.enumSpan == nil {
		text = ensureNewline(text)
		text += "enum " + t.EnumListName + " {\n"
		t.enumSpan = &span{start: len(text), end: len(text)}
		text += "};\n"
	}

	var named []*TableElement
	for _, e := range t.Elements {
		if e.EnumName != "" {
			named = append(named, e)
		}
	}
	content := replaceSpans(text[t.enumSpan.start:t.enumSpan.end], named,
		func(e *TableElement) *span { return e.enumSpan },
		func(e *TableElement) string {
			if e.enumSpan == nil {
				return e.EnumC() + ","
			}
			return e.EnumC()
		},
		"enum")
	text = text[:t.enumSpan.start] + content + text[t.enumSpan.end:]

	log.Info("writing enum list", zap.String("enum", t.EnumListName), zap.String("path", path))
	if err := os.WriteFile(path, []byte(text), 0644); err != nil {
		return errors.Wrapf(err, "writing %s", path)
	}
	return nil
}

// sourceFiles returns path itself or every .c and .h file below it, in
// lexical order.
func sourceFiles(path string) ([]string, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, errors.Wrapf(err, "reading %s", path)
	}
	if !info.IsDir() {
		return []string{path}, nil
	}
	var files []string
	err = filepath.WalkDir(path, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if ext := filepath.Ext(p); !d.IsDir() && (ext == ".c" || ext == ".h") {
			files = append(files, p)
		}
		return nil
	})
	if err != nil {
		return nil, errors.Wrapf(err, "walking %s", path)
	}
	return files, nil
}

// ImportC reads animations from a C file or a directory of C sources. When
// the sources declare a pointer table it is returned with its headers; the
// enum list named after the table, or else the first one found, supplies the
// element enum names. Without a table every header is read into ctx and
// the returned table is nil.
func ImportC(path string, ctx *ReadContext) (*Table, error) {
	files, err := sourceFiles(path)
	if err != nil {
		return nil, err
	}

	set := cdecl.NewSet()
	var tables []*cdecl.PointerTable
	var lists []*cdecl.EnumList
	for _, file := range files {
		data, err := os.ReadFile(file)
		if err != nil {
			return nil, errors.Wrapf(err, "reading %s", file)
		}
		text, err := cdecl.Clean(string(data))
		if err != nil {
			return nil, errors.WithMessage(err, file)
		}
		if err := cdecl.FindDeclarations(text, file, set); err != nil {
			return nil, errors.WithMessage(err, file)
		}
		found, err := cdecl.FindPointerTables(text, file)
		if err != nil {
			return nil, errors.WithMessage(err, file)
		}
		tables = append(tables, found...)
		enums, err := cdecl.FindEnumLists(text, file)
		if err != nil {
			return nil, errors.WithMessage(err, file)
		}
		lists = append(lists, enums...)
	}
	log.Info("scanned C sources", zap.Int("files", len(files)),
		zap.Int("headers", len(set.All(cdecl.KindAnimation))), zap.Int("tables", len(tables)))

	switch len(tables) {
	case 0:
		for _, decl := range set.Sorted(cdecl.KindAnimation) {
			if _, err := ReadHeaderC(decl, set, ctx, -1); err != nil {
				return nil, err
			}
		}
		return nil, nil
	case 1:
	default:
		return nil, errors.Wrapf(fault.ErrDuplicateDefinition, "%d animation tables found in %s", len(tables), path)
	}

	t := &Table{}
	if err := t.ReadC(tables[0], set, ctx); err != nil {
		return nil, err
	}
	if len(lists) > 0 {
		list := lists[0]
		want := TableEnumName(t.Reference.Symbol)
		for _, l := range lists {
			if l.Name == want {
				list = l
				break
			}
		}
		t.ApplyEnumList(list)
		if err := t.CheckIndices(list); err != nil {
			return nil, err
		}
	}
	return t, nil
}
