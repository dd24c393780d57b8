package cdecl

import "strings"

// Clean blanks comments and the bodies of inactive preprocessor branches
// with spaces. Newlines are kept, so every byte offset and line number of
// the result matches the input.
//
// Only literal conditions are evaluated: "#if 0" is inactive and its #else
// branch active, "#if 1" the opposite. Every other conditional is treated as
// active on all branches.
func Clean(text string) (string, error) {
	toks, err := tokenize([]byte(text))
	if err != nil {
		return "", err
	}

	out := []byte(text)
	blank := func(start, end int) {
		for i := start; i < end; i++ {
			if out[i] != '\n' && out[i] != '\r' {
				out[i] = ' '
			}
		}
	}

	var stack []branch
	inactive := func() bool {
		return len(stack) > 0 && !stack[len(stack)-1].active
	}
	for _, t := range toks {
		if t.kind == tokPreproc {
			directive, arg := splitDirective(t.text)
			switch directive {
			case "if", "ifdef", "ifndef":
				parentActive := !inactive()
				b := branch{active: parentActive, literal: -1}
				if directive == "if" {
					switch arg {
					case "0":
						b.literal = 0
						b.active = false
					case "1":
						b.literal = 1
					}
				}
				b.parentActive = parentActive
				stack = append(stack, b)
				continue
			case "else", "elif":
				if len(stack) > 0 {
					top := &stack[len(stack)-1]
					switch top.literal {
					case 0:
						top.active = top.parentActive
						top.literal = -1
					case 1:
						top.active = false
					}
				}
				continue
			case "endif":
				if len(stack) > 0 {
					stack = stack[:len(stack)-1]
				}
				continue
			}
		}
		if t.kind == tokComment || inactive() {
			blank(t.start, t.end)
		}
	}
	return string(out), nil
}

type branch struct {
	active       bool
	parentActive bool
	literal      int
}

func splitDirective(line string) (directive, arg string) {
	line = strings.TrimSpace(strings.TrimPrefix(line, "#"))
	directive, arg, _ = strings.Cut(line, " ")
	if i := strings.IndexByte(directive, '\t'); i >= 0 {
		directive, arg = directive[:i], directive[i+1:]
	}
	if i := strings.Index(arg, "//"); i >= 0 {
		arg = arg[:i]
	}
	if i := strings.Index(arg, "/*"); i >= 0 {
		arg = arg[:i]
	}
	return directive, strings.TrimSpace(arg)
}
