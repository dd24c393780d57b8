package cdecl

import (
	"github.com/pkg/errors"

	"github.com/Faultbox/n64anim/pkg/fault"
)

// EvalInt evaluates a constant C integer expression. Identifiers are looked
// up in names. Supported operators are | ^ & << >> + - ~ and parentheses.
func EvalInt(expr string, names map[string]int64) (int64, error) {
	toks, err := tokenize([]byte(expr))
	if err != nil {
		return 0, err
	}
	e := evaluator{toks: toks, names: names}
	v, err := e.or()
	if err != nil {
		return 0, errors.WithMessagef(err, "evaluating %q", expr)
	}
	if e.pos != len(e.toks) {
		return 0, errors.Wrapf(fault.ErrMalformedSource, "unexpected %q in %q", e.toks[e.pos].text, expr)
	}
	return v, nil
}

type evaluator struct {
	toks  []tok
	pos   int
	names map[string]int64
}

func (e *evaluator) accept(texts ...string) bool {
	if e.pos+len(texts) > len(e.toks) {
		return false
	}
	for i, text := range texts {
		if !e.toks[e.pos+i].is(text) {
			return false
		}
	}
	e.pos += len(texts)
	return true
}

func (e *evaluator) or() (int64, error) {
	v, err := e.xor()
	for err == nil && e.accept("|") {
		var rhs int64
		rhs, err = e.xor()
		v |= rhs
	}
	return v, err
}

func (e *evaluator) xor() (int64, error) {
	v, err := e.and()
	for err == nil && e.accept("^") {
		var rhs int64
		rhs, err = e.and()
		v ^= rhs
	}
	return v, err
}

func (e *evaluator) and() (int64, error) {
	v, err := e.shift()
	for err == nil && e.accept("&") {
		var rhs int64
		rhs, err = e.shift()
		v &= rhs
	}
	return v, err
}

func (e *evaluator) shift() (int64, error) {
	v, err := e.sum()
	for err == nil {
		switch {
		case e.accept("<", "<"):
			var rhs int64
			if rhs, err = e.sum(); err == nil {
				v <<= uint(rhs)
			}
		case e.accept(">", ">"):
			var rhs int64
			if rhs, err = e.sum(); err == nil {
				v >>= uint(rhs)
			}
		default:
			return v, nil
		}
	}
	return v, err
}

func (e *evaluator) sum() (int64, error) {
	v, err := e.unary()
	for err == nil {
		switch {
		case e.accept("+"):
			var rhs int64
			rhs, err = e.unary()
			v += rhs
		case e.accept("-"):
			var rhs int64
			rhs, err = e.unary()
			v -= rhs
		default:
			return v, nil
		}
	}
	return v, err
}

func (e *evaluator) unary() (int64, error) {
	switch {
	case e.accept("-"):
		v, err := e.unary()
		return -v, err
	case e.accept("~"):
		v, err := e.unary()
		return ^v, err
	case e.accept("("):
		v, err := e.or()
		if err != nil {
			return 0, err
		}
		if !e.accept(")") {
			return 0, errors.Wrap(fault.ErrMalformedSource, "missing )")
		}
		return v, nil
	}
	if e.pos >= len(e.toks) {
		return 0, errors.Wrap(fault.ErrMalformedSource, "unexpected end of expression")
	}
	t := e.toks[e.pos]
	e.pos++
	switch t.kind {
	case tokNumber:
		return ParseInt(t.text)
	case tokIdent:
		if v, ok := e.names[t.text]; ok {
			return v, nil
		}
		return 0, errors.Wrapf(fault.ErrMalformedSource, "unknown identifier %q", t.text)
	}
	return 0, errors.Wrapf(fault.ErrMalformedSource, "unexpected %q", t.text)
}
