// Package cdecl scans decompiled C source for the array, struct and table
// literals that hold animation data.
//
// Text is first cleaned (comments and inactive #if branches blanked with
// spaces, so byte offsets are unchanged) and then tokenized with a
// lexmachine DFA. Small token state machines recognize the declarations.
package cdecl

import (
	"github.com/pkg/errors"
	"github.com/timtadh/lexmachine"
	"github.com/timtadh/lexmachine/machines"
)

const (
	tokComment = iota
	tokPreproc
	tokString
	tokChar
	tokIdent
	tokNumber
	tokPunct
	tokOther
)

var lexer *lexmachine.Lexer

func init() {
	lexer = lexmachine.NewLexer()
	lexer.Add([]byte(`//[^\n]*`), token(tokComment))
	lexer.Add([]byte(`/\*([^*]|\*+[^*/])*\*+/`), token(tokComment))
	lexer.Add([]byte(`#[^\n]*`), token(tokPreproc))
	lexer.Add([]byte(`"([^"\\\n]|\\[^\n])*"`), token(tokString))
	lexer.Add([]byte(`'([^'\\\n]|\\[^\n])*'`), token(tokChar))
	lexer.Add([]byte(`[a-zA-Z_][a-zA-Z0-9_]*`), token(tokIdent))
	lexer.Add([]byte(`[0-9][a-zA-Z0-9_]*`), token(tokNumber))
	for _, p := range []string{
		`\{`, `\}`, `\[`, `\]`, `\(`, `\)`, `=`, `,`, `;`, `&`, `\*`, `\.`,
		`\|`, `<`, `>`, `\+`, `-`, `~`, `!`, `/`, `%`, `\^`, `\?`, `:`,
	} {
		lexer.Add([]byte(p), token(tokPunct))
	}
	lexer.Add([]byte(`\s+`), skip)
	lexer.Add([]byte(`[^ \t\r\n]`), token(tokOther))
}

func token(tokenType int) lexmachine.Action {
	return func(s *lexmachine.Scanner, m *machines.Match) (interface{}, error) {
		return s.Token(tokenType, string(m.Bytes), m), nil
	}
}

func skip(*lexmachine.Scanner, *machines.Match) (interface{}, error) {
	return nil, nil
}

// tok is a token with its byte span in the scanned text.
type tok struct {
	kind  int
	text  string
	start int
	end   int
	line  int
}

func tokenize(text []byte) ([]tok, error) {
	scanner, err := lexer.Scanner(text)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create lexer scanner")
	}

	var toks []tok
	for t, err, eos := scanner.Next(); !eos; t, err, eos = scanner.Next() {
		if err != nil {
			return nil, errors.Wrap(err, "failed to tokenize C source")
		}
		lt := t.(*lexmachine.Token)
		toks = append(toks, tok{
			kind:  lt.Type,
			text:  string(lt.Lexeme),
			start: lt.TC,
			end:   lt.TC + len(lt.Lexeme),
			line:  lt.StartLine,
		})
	}
	return toks, nil
}

func (t tok) is(text string) bool {
	return t.kind != tokString && t.kind != tokChar && t.text == text
}
