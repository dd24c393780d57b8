// Package anim models SM64 skeletal animations and converts them between
// ROM binary, decompiled C source and the insertable binary format.
//
// A clip is one Data (the compressed channel samples) shared by one or more
// Header variants. Tables group headers for an actor; many clips can share a
// single values table, which CreateTables builds.
package anim

import (
	"fmt"

	"go.uber.org/zap"
)

var log = zap.NewNop()

// SetLogger installs the logger used by the package. nil disables logging.
func SetLogger(l *zap.Logger) {
	if l == nil {
		l = zap.NewNop()
	}
	log = l
}

// Ref points at a C symbol or at a linear ROM address.
type Ref struct {
	Symbol  string
	Address uint32
	IsAddr  bool
}

// SymbolRef returns a reference to a C symbol.
func SymbolRef(name string) Ref { return Ref{Symbol: name} }

// AddrRef returns a reference to a linear address.
func AddrRef(addr uint32) Ref { return Ref{Address: addr, IsAddr: true} }

// IsZero reports whether r refers to nothing.
func (r Ref) IsZero() bool { return !r.IsAddr && r.Symbol == "" }

func (r Ref) String() string {
	if r.IsAddr {
		return fmt.Sprintf("0x%08X", r.Address)
	}
	return r.Symbol
}

// DataKey identifies animation data by its table references. Headers with
// equal keys share one Data.
type DataKey struct {
	Indices Ref
	Values  Ref
}
