package cdecl

// TableEntry is one element of an animation pointer table. Start and End are
// byte offsets relative to the table content and cover the element text
// including its trailing comma.
type TableEntry struct {
	Enum string // designator, empty when positional
	Ref  string // referenced header symbol, empty for NULL
	Null bool

	Start int
	End   int
}

// PointerTable is a "const struct Animation *const name[] = { ... };"
// declaration. Start and End delimit the text between the braces.
type PointerTable struct {
	Name    string
	Path    string
	Start   int
	End     int
	Entries []TableEntry
}

// HasNullDelimiter reports whether the table ends with a NULL element.
func (t *PointerTable) HasNullDelimiter() bool {
	return len(t.Entries) > 0 && t.Entries[len(t.Entries)-1].Null
}

// EnumMember is one enumerator. Start and End are relative to the list
// content and exclude the separating comma.
type EnumMember struct {
	Name  string
	Value string
	Start int
	End   int
}

// EnumList is an "enum Name { ... };" declaration.
type EnumList struct {
	Name    string
	Path    string
	Start   int
	End     int
	Members []EnumMember
}

// FindPointerTables scans cleaned text for animation pointer tables.
func FindPointerTables(text, path string) ([]*PointerTable, error) {
	toks, err := tokenize([]byte(text))
	if err != nil {
		return nil, err
	}

	var tables []*PointerTable
	for i := 0; i < len(toks); i++ {
		if !toks[i].is("const") {
			continue
		}
		p := parser{toks: toks, pos: i + 1}
		if !p.accept("struct") || !p.accept("Animation") || !p.accept("*") || !p.accept("const") {
			continue
		}
		name, ok := p.ident()
		if !ok {
			continue
		}
		if p.peek("[") {
			if _, ok := p.skipGroup("[", "]"); !ok {
				continue
			}
		}
		if !p.accept("=") || !p.peek("{") {
			continue
		}
		open := p.pos
		closeIdx, ok := p.skipGroup("{", "}")
		if !ok {
			continue
		}

		table := &PointerTable{
			Name:  name,
			Path:  path,
			Start: toks[open].end,
			End:   toks[closeIdx].start,
		}
		table.Entries = tableEntries(toks[open+1:closeIdx], table.Start)
		tables = append(tables, table)
		i = closeIdx
	}
	return tables, nil
}

// tableEntries matches "[ENUM] = &ref," and "NULL," elements. Anything else
// is ignored.
func tableEntries(toks []tok, base int) []TableEntry {
	var entries []TableEntry
	for i := 0; i < len(toks); {
		start := i
		var entry TableEntry
		if toks[i].is("[") && i+3 < len(toks) && toks[i+2].is("]") && toks[i+3].is("=") {
			entry.Enum = toks[i+1].text
			i += 4
		}
		switch {
		case i+1 < len(toks) && toks[i].is("&") && toks[i+1].kind == tokIdent:
			entry.Ref = toks[i+1].text
			i += 2
		case i < len(toks) && toks[i].is("NULL"):
			entry.Null = true
			i++
		default:
			i = start + 1
			continue
		}
		end := toks[i-1].end
		if i < len(toks) && toks[i].is(",") {
			end = toks[i].end
			i++
		}
		entry.Start = toks[start].start - base
		entry.End = end - base
		entries = append(entries, entry)
	}
	return entries
}

// FindEnumLists scans cleaned text for enum declarations.
func FindEnumLists(text, path string) ([]*EnumList, error) {
	toks, err := tokenize([]byte(text))
	if err != nil {
		return nil, err
	}

	var lists []*EnumList
	for i := 0; i < len(toks); i++ {
		if !toks[i].is("enum") {
			continue
		}
		p := parser{toks: toks, pos: i + 1}
		name, ok := p.ident()
		if !ok || !p.peek("{") {
			continue
		}
		open := p.pos
		closeIdx, ok := p.skipGroup("{", "}")
		if !ok || !p.accept(";") {
			continue
		}

		list := &EnumList{Name: name, Path: path, Start: toks[open].end, End: toks[closeIdx].start}
		for _, item := range splitItems(toks[open+1 : closeIdx]) {
			if len(item) == 0 || item[0].kind != tokIdent {
				continue
			}
			member := EnumMember{
				Name:  item[0].text,
				Start: item[0].start - list.Start,
				End:   item[len(item)-1].end - list.Start,
			}
			if len(item) > 2 && item[1].is("=") {
				member.Value = span(text, item[2:])
			}
			list.Members = append(list.Members, member)
		}
		lists = append(lists, list)
		i = p.pos - 1
	}
	return lists, nil
}
