package cdecl

import (
	"sort"
	"strconv"
	"strings"

	"github.com/pkg/errors"

	"github.com/Faultbox/n64anim/pkg/fault"
)

// Kind is the C type of a recognized declaration.
type Kind int

const (
	KindAnimation Kind = iota // static const struct Animation
	KindU16                   // static const u16
	KindS16                   // static const s16
)

func (k Kind) String() string {
	switch k {
	case KindAnimation:
		return "struct Animation"
	case KindU16:
		return "u16"
	case KindS16:
		return "s16"
	}
	return "unknown"
}

// Values is the body of an initializer list: either an ordered list of
// positional values or a map of designated fields. Exactly one is set.
type Values struct {
	List   []string
	Fields map[string]string
}

// Designated reports whether the initializer used ".field = value" or
// non-numeric "[index] = value" designators.
func (v Values) Designated() bool { return v.Fields != nil }

// Len returns the number of values.
func (v Values) Len() int {
	if v.Fields != nil {
		return len(v.Fields)
	}
	return len(v.List)
}

// Resolve maps the values onto schema. Positional lists are matched by
// position, designated maps by name. Missing fields are reported as
// ErrMalformedSource.
func (v Values) Resolve(schema []string) (map[string]string, error) {
	out := make(map[string]string, len(schema))
	if v.Fields != nil {
		for _, field := range schema {
			value, ok := v.Fields[field]
			if !ok {
				return nil, errors.Wrapf(fault.ErrMalformedSource, "missing designated field %q", field)
			}
			out[field] = value
		}
		return out, nil
	}
	if len(v.List) != len(schema) {
		return nil, errors.Wrapf(fault.ErrMalformedSource, "%d values instead of %d", len(v.List), len(schema))
	}
	for i, field := range schema {
		out[field] = v.List[i]
	}
	return out, nil
}

// Declaration is one "static const <T> name[] = { ... };" literal. The body
// is parsed on the first call to Values.
type Declaration struct {
	Name string
	Path string
	Kind Kind
	Line int

	body   string
	values *Values
}

// FileName returns the base name of the declaring file.
func (d *Declaration) FileName() string {
	if i := strings.LastIndexAny(d.Path, `/\`); i >= 0 {
		return d.Path[i+1:]
	}
	return d.Path
}

// Values parses and caches the initializer body.
func (d *Declaration) Values() (Values, error) {
	if d.values == nil {
		v, err := parseBody(d.body)
		if err != nil {
			return Values{}, errors.WithMessagef(err, "%s %q (%s:%d)", d.Kind, d.Name, d.Path, d.Line)
		}
		d.values = &v
	}
	return *d.values, nil
}

// Ints parses every positional value as an integer literal.
func (d *Declaration) Ints() ([]int64, error) {
	v, err := d.Values()
	if err != nil {
		return nil, err
	}
	if v.Designated() {
		return nil, errors.Wrapf(fault.ErrMalformedSource, "array %q uses designated fields", d.Name)
	}
	out := make([]int64, len(v.List))
	for i, s := range v.List {
		n, err := ParseInt(s)
		if err != nil {
			return nil, errors.WithMessagef(err, "array %q element %d", d.Name, i)
		}
		out[i] = n
	}
	return out, nil
}

// ParseInt parses a C integer literal (decimal, 0x hex, 0b binary or leading
// zero octal) with an optional sign, surrounding parentheses and u/l suffixes.
func ParseInt(s string) (int64, error) {
	s = strings.TrimSpace(s)
	for strings.HasPrefix(s, "(") && strings.HasSuffix(s, ")") {
		s = strings.TrimSpace(s[1 : len(s)-1])
	}
	s = strings.TrimRight(s, "uUlL")
	neg := false
	if strings.HasPrefix(s, "-") {
		neg, s = true, strings.TrimSpace(s[1:])
	} else if strings.HasPrefix(s, "+") {
		s = strings.TrimSpace(s[1:])
	}
	base := 10
	switch {
	case strings.HasPrefix(s, "0x") || strings.HasPrefix(s, "0X"):
		base, s = 16, s[2:]
	case strings.HasPrefix(s, "0b") || strings.HasPrefix(s, "0B"):
		base, s = 2, s[2:]
	case len(s) > 1 && s[0] == '0':
		base, s = 8, s[1:]
	}
	n, err := strconv.ParseUint(s, base, 64)
	if err != nil {
		return 0, errors.Wrapf(fault.ErrMalformedSource, "invalid integer literal %q", s)
	}
	if neg {
		return -int64(n), nil
	}
	return int64(n), nil
}

// Set indexes declarations by kind and name across many files.
type Set struct {
	byKind map[Kind][]*Declaration
	byName map[Kind]map[string]*Declaration
}

// NewSet returns an empty set.
func NewSet() *Set {
	return &Set{
		byKind: make(map[Kind][]*Declaration),
		byName: make(map[Kind]map[string]*Declaration),
	}
}

// Add registers d. A second declaration of the same kind and name is
// reported as ErrDuplicateDefinition.
func (s *Set) Add(d *Declaration) error {
	names := s.byName[d.Kind]
	if names == nil {
		names = make(map[string]*Declaration)
		s.byName[d.Kind] = names
	}
	if prev, ok := names[d.Name]; ok {
		return errors.Wrapf(fault.ErrDuplicateDefinition, "%s %q declared in %s:%d and %s:%d",
			d.Kind, d.Name, prev.Path, prev.Line, d.Path, d.Line)
	}
	names[d.Name] = d
	s.byKind[d.Kind] = append(s.byKind[d.Kind], d)
	return nil
}

// Lookup returns the declaration of the given kind and name, or nil.
func (s *Set) Lookup(kind Kind, name string) *Declaration {
	return s.byName[kind][name]
}

// All returns the declarations of kind in scan order.
func (s *Set) All(kind Kind) []*Declaration {
	return s.byKind[kind]
}

// Sorted returns the declarations of kind ordered by name.
func (s *Set) Sorted(kind Kind) []*Declaration {
	out := append([]*Declaration(nil), s.byKind[kind]...)
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// FindDeclarations scans cleaned text for struct Animation, u16 and s16
// literals and adds them to set.
func FindDeclarations(text, path string, set *Set) error {
	toks, err := tokenize([]byte(text))
	if err != nil {
		return errors.WithMessage(err, path)
	}

	for i := 0; i < len(toks); i++ {
		if !toks[i].is("static") {
			continue
		}
		d, next, ok := matchDeclaration(toks, i, text)
		if !ok {
			continue
		}
		d.Path = path
		if err := set.Add(d); err != nil {
			return err
		}
		i = next - 1
	}
	return nil
}

// matchDeclaration recognizes
//
//	static const (struct Animation | u16 | s16) name ([...])? = { ... } ;
//
// starting at toks[i]. It returns the index after the closing semicolon.
func matchDeclaration(toks []tok, i int, text string) (*Declaration, int, bool) {
	p := parser{toks: toks, pos: i + 1}
	if !p.accept("const") {
		return nil, 0, false
	}

	var kind Kind
	switch {
	case p.accept("struct"):
		if !p.accept("Animation") {
			return nil, 0, false
		}
		kind = KindAnimation
	case p.accept("u16"):
		kind = KindU16
	case p.accept("s16"):
		kind = KindS16
	default:
		return nil, 0, false
	}

	name, ok := p.ident()
	if !ok {
		return nil, 0, false
	}
	line := toks[p.pos-1].line
	if p.peek("[") {
		if _, ok := p.skipGroup("[", "]"); !ok {
			return nil, 0, false
		}
	}
	if !p.accept("=") || !p.peek("{") {
		return nil, 0, false
	}
	open := p.pos
	closeIdx, ok := p.skipGroup("{", "}")
	if !ok || !p.accept(";") {
		return nil, 0, false
	}

	return &Declaration{
		Name: name,
		Kind: kind,
		Line: line,
		body: text[toks[open].end:toks[closeIdx].start],
	}, p.pos, true
}

// MaxIndex is the largest array index a designator may name, the last slot
// of a full 16-bit value table.
const MaxIndex = 0xFFFE

// parseBody splits an initializer body into positional or designated values.
func parseBody(body string) (Values, error) {
	toks, err := tokenize([]byte(body))
	if err != nil {
		return Values{}, err
	}

	var v Values
	for _, item := range splitItems(toks) {
		if len(item) == 0 {
			continue
		}
		switch {
		case len(item) >= 3 && item[0].is(".") && item[1].kind == tokIdent && item[2].is("="):
			if v.List != nil {
				return Values{}, errors.Wrap(fault.ErrMalformedSource, "mix of designated and positional initializers")
			}
			if v.Fields == nil {
				v.Fields = make(map[string]string)
			}
			v.Fields[item[1].text] = span(body, item[3:])
		case item[0].is("["):
			closeIdx := matchClose(item, 0, "[", "]")
			if closeIdx < 0 || closeIdx+1 >= len(item) || !item[closeIdx+1].is("=") {
				return Values{}, errors.Wrap(fault.ErrMalformedSource, "invalid index designator")
			}
			designator := span(body, item[1:closeIdx])
			value := span(body, item[closeIdx+2:])
			if index, err := ParseInt(designator); err == nil {
				if v.Fields != nil {
					return Values{}, errors.Wrap(fault.ErrMalformedSource, "mix of designated and positional initializers")
				}
				if index < 0 || index > MaxIndex {
					return Values{}, errors.Wrapf(fault.ErrMalformedSource, "index designator %q outside [0, %d]", designator, MaxIndex)
				}
				for int64(len(v.List)) <= index {
					v.List = append(v.List, "0")
				}
				v.List[index] = value
			} else {
				if v.List != nil {
					return Values{}, errors.Wrap(fault.ErrMalformedSource, "mix of designated and positional initializers")
				}
				if v.Fields == nil {
					v.Fields = make(map[string]string)
				}
				v.Fields[designator] = value
			}
		default:
			if v.Fields != nil {
				return Values{}, errors.Wrap(fault.ErrMalformedSource, "mix of designated and positional initializers")
			}
			v.List = append(v.List, span(body, item))
		}
	}
	if v.List == nil && v.Fields == nil {
		v.List = []string{}
	}
	return v, nil
}

// splitItems splits tokens on commas that are not nested in brackets.
func splitItems(toks []tok) [][]tok {
	var items [][]tok
	depth, start := 0, 0
	for i, t := range toks {
		switch {
		case t.is("(") || t.is("[") || t.is("{"):
			depth++
		case t.is(")") || t.is("]") || t.is("}"):
			depth--
		case t.is(",") && depth == 0:
			items = append(items, toks[start:i])
			start = i + 1
		}
	}
	if start < len(toks) {
		items = append(items, toks[start:])
	}
	return items
}

func span(text string, toks []tok) string {
	if len(toks) == 0 {
		return ""
	}
	return strings.TrimSpace(text[toks[0].start:toks[len(toks)-1].end])
}

func matchClose(toks []tok, i int, open, close string) int {
	depth := 0
	for ; i < len(toks); i++ {
		switch {
		case toks[i].is(open):
			depth++
		case toks[i].is(close):
			depth--
			if depth == 0 {
				return i
			}
		}
	}
	return -1
}

type parser struct {
	toks []tok
	pos  int
}

func (p *parser) peek(text string) bool {
	return p.pos < len(p.toks) && p.toks[p.pos].is(text)
}

func (p *parser) accept(text string) bool {
	if p.peek(text) {
		p.pos++
		return true
	}
	return false
}

func (p *parser) ident() (string, bool) {
	if p.pos < len(p.toks) && p.toks[p.pos].kind == tokIdent {
		p.pos++
		return p.toks[p.pos-1].text, true
	}
	return "", false
}

// skipGroup consumes a balanced group starting at the current token and
// returns the index of its closing token.
func (p *parser) skipGroup(open, close string) (int, bool) {
	closeIdx := matchClose(p.toks, p.pos, open, close)
	if closeIdx < 0 {
		return 0, false
	}
	p.pos = closeIdx + 1
	return closeIdx, true
}
