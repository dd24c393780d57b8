package anim

import (
	"fmt"
	"slices"
	"strings"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/Faultbox/n64anim/pkg/cdecl"
)

// Flags is the animation flag bitset.
type Flags uint16

// Fork selects which engine's flag names are used when writing C. The zero
// value writes flags as a hex literal.
type Fork int

const (
	ForkVanilla Fork = iota + 1
	ForkRefresh16
	ForkHacker
)

var forkNames = map[Fork]string{
	ForkVanilla:   "vanilla",
	ForkRefresh16: "refresh16",
	ForkHacker:    "hacker",
}

func (f Fork) String() string {
	if name, ok := forkNames[f]; ok {
		return name
	}
	return "hex"
}

// ParseFork returns the fork with the given name. An empty name or "hex"
// returns the zero Fork.
func ParseFork(name string) (Fork, error) {
	switch strings.ToLower(name) {
	case "", "hex":
		return 0, nil
	}
	for fork, forkName := range forkNames {
		if strings.EqualFold(name, forkName) {
			return fork, nil
		}
	}
	return 0, errors.Errorf("unknown engine fork %q", name)
}

// flagNames maps each bit to its macro name, per fork. Bits 1, 2, 5 and 6
// mean different things in vanilla and in the refresh 16 and hacker forks.
var flagNames = map[Fork][8]string{
	ForkVanilla: {
		"ANIM_FLAG_NOLOOP", "ANIM_FLAG_FORWARD", "ANIM_FLAG_2", "ANIM_FLAG_HOR_TRANS",
		"ANIM_FLAG_VERT_TRANS", "ANIM_FLAG_5", "ANIM_FLAG_6", "ANIM_FLAG_7",
	},
	ForkRefresh16: {
		"ANIM_FLAG_NOLOOP", "ANIM_FLAG_BACKWARD", "ANIM_FLAG_2", "ANIM_FLAG_HOR_TRANS",
		"ANIM_FLAG_VERT_TRANS", "ANIM_FLAG_5", "ANIM_FLAG_6", "ANIM_FLAG_7",
	},
	ForkHacker: {
		"ANIM_FLAG_NOLOOP", "ANIM_FLAG_BACKWARD", "ANIM_FLAG_NO_ACCEL", "ANIM_FLAG_HOR_TRANS",
		"ANIM_FLAG_VERT_TRANS", "ANIM_FLAG_DISABLED", "ANIM_FLAG_NO_TRANS", "ANIM_FLAG_UNUSED",
	},
}

var forkOrder = []Fork{ForkVanilla, ForkRefresh16, ForkHacker}

// flagProps are the logical properties of each bit, empty for unused bits.
var flagProps = [8]string{
	"no_loop", "backwards", "no_acceleration", "only_vertical",
	"only_horizontal", "disabled", "no_trans", "",
}

const knownFlags Flags = 0xFF

// ambiguousFlags are the bits whose macro names differ between forks and
// that carry a logical property.
var ambiguousFlags = func() Flags {
	var f Flags
	for bit := 0; bit < 8; bit++ {
		if flagProps[bit] != "" && len(bitNames(bit)) > 1 {
			f |= 1 << bit
		}
	}
	return f
}()

// bitNames returns the distinct macro names of bit across all forks.
func bitNames(bit int) []string {
	var names []string
	for _, fork := range forkOrder {
		name := flagNames[fork][bit]
		if !slices.Contains(names, name) {
			names = append(names, name)
		}
	}
	return names
}

// FlagProp returns the flag with the given logical property name.
func FlagProp(prop string) (Flags, bool) {
	for bit, p := range flagProps {
		if p != "" && p == prop {
			return 1 << bit, true
		}
	}
	return 0, false
}

// Names lists every set bit with all its known macro names joined by "/".
// Bits no fork defines are reported as "unknown bits".
func (f Flags) Names() []string {
	var names []string
	for bit := 0; bit < 8; bit++ {
		if f&(1<<bit) != 0 {
			names = append(names, strings.Join(bitNames(bit), "/"))
		}
	}
	if f&^knownFlags != 0 {
		names = append(names, "unknown bits")
	}
	return names
}

// Props lists the logical properties of the set bits.
func (f Flags) Props() []string {
	var props []string
	for bit, p := range flagProps {
		if p != "" && f&(1<<bit) != 0 {
			props = append(props, p)
		}
	}
	return props
}

// Ambiguous returns the set bits whose meaning depends on the engine fork.
func (f Flags) Ambiguous() Flags {
	return f & ambiguousFlags
}

// CExpr renders f for fork. Set bits are joined with " | "; bits the fork
// does not name are appended as a hex literal. The zero Fork renders a hex
// literal.
func (f Flags) CExpr(fork Fork) string {
	names, ok := flagNames[fork]
	if !ok {
		return fmt.Sprintf("0x%04X", uint16(f))
	}
	if f == 0 {
		return "0"
	}
	var parts []string
	for bit := 0; bit < 8; bit++ {
		if f&(1<<bit) != 0 {
			parts = append(parts, names[bit])
		}
	}
	if rest := f &^ knownFlags; rest != 0 {
		parts = append(parts, fmt.Sprintf("0x%04X", uint16(rest)))
	}
	return strings.Join(parts, " | ")
}

// Comment returns the names of the set bits for a C comment.
func (f Flags) Comment() string {
	return strings.Join(f.Names(), ", ")
}

var flagSymbols = func() map[string]int64 {
	symbols := make(map[string]int64)
	for _, names := range flagNames {
		for bit, name := range names {
			symbols[name] = 1 << bit
		}
	}
	return symbols
}()

// EvaluateFlags evaluates a C flags expression such as
// "ANIM_FLAG_NOLOOP | ANIM_FLAG_FORWARD" or "(1 << 3)". Macro names of every
// fork are accepted. ok is false when the expression references anything
// else; callers keep the text as written in that case.
func EvaluateFlags(expr string) (f Flags, ok bool) {
	v, err := cdecl.EvalInt(expr, flagSymbols)
	if err != nil {
		log.Warn("failed to evaluate flags", zap.String("expr", expr), zap.Error(err))
		return 0, false
	}
	return Flags(uint16(v)), true
}
