// Package fault defines the error kinds shared by the ROM, C source and
// animation codecs.
//
// Call sites wrap these sentinels with the offending symbol, index or file,
// so callers test the kind with errors.Is and print the wrapped message.
package fault

import "errors"

var (
	// ErrMalformedSource reports a declaration or struct that could not be
	// found or has the wrong shape.
	ErrMalformedSource = errors.New("malformed source")

	// ErrOutOfRange reports an address outside every segment, a write range
	// that is too small or misordered, or a table index out of bounds.
	ErrOutOfRange = errors.New("out of range")

	// ErrOverflow reports a single clip that does not fit in an empty
	// 16-bit value table.
	ErrOverflow = errors.New("value table overflow")

	// ErrDuplicateDefinition reports a repeated array, table name or table index.
	ErrDuplicateDefinition = errors.New("duplicate definition")

	// ErrConsistency reports non-contiguous table indices or a bone count that
	// does not match the target skeleton.
	ErrConsistency = errors.New("inconsistent data")
)
