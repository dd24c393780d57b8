package anim

import (
	"bytes"
	"errors"
	"slices"
	"strings"
	"testing"

	"github.com/Faultbox/n64anim/pkg/cdecl"
	"github.com/Faultbox/n64anim/pkg/fault"
	"github.com/Faultbox/n64anim/pkg/rom"
)

func TestHeaderBinaryRoundTrip(t *testing.T) {
	data := oneBoneData("anim_walk", 10)
	want := &Header{
		Reference:    SymbolRef("anim_walk"),
		Flags:        0x0003,
		TransDivisor: 4,
		StartFrame:   1,
		LoopStart:    1,
		LoopEnd:      3,
		BoneCount:    1,
		Data:         data,
	}
	clip := &Clip{Data: data, Headers: []*Header{want}}
	b, ptrs, err := clip.ToBinary(0x80, nil)
	if err != nil {
		t.Fatalf("ToBinary: %v", err)
	}
	if !slices.Equal(ptrs, []uint32{0x80 + 12, 0x80 + 16}) {
		t.Errorf("pointers = %X", ptrs)
	}

	image := append(make([]byte, 0x80), b...)
	got, err := ReadHeaderBinary(rom.NewReader(bytes.NewReader(image), 0x80, nil), NewReadContext(), false, 0, -1)
	if err != nil {
		t.Fatalf("ReadHeaderBinary: %v", err)
	}
	if got.Flags != want.Flags || got.TransDivisor != 4 || got.StartFrame != 1 ||
		got.LoopStart != 1 || got.LoopEnd != 3 || got.BoneCount != 1 {
		t.Errorf("header fields = %+v", got)
	}
	if got.IndicesRef != AddrRef(0x80+HeaderSize) {
		t.Errorf("indices ref = %v", got.IndicesRef)
	}
	if got.EndAddress != 0x80+HeaderSize {
		t.Errorf("end address = %X", got.EndAddress)
	}
	assertSameChannels(t, data, got.Data)
}

func TestReadHeaderBinaryBoneCount(t *testing.T) {
	data := oneBoneData("anim_walk", 10)
	h := &Header{Reference: SymbolRef("anim_walk"), LoopEnd: 3, Data: data}
	b, _, err := (&Clip{Data: data, Headers: []*Header{h}}).ToBinary(0, nil)
	if err != nil {
		t.Fatalf("ToBinary: %v", err)
	}

	read := func(boneCount int) (*Header, error) {
		return ReadHeaderBinary(rom.NewReader(bytes.NewReader(b), 0, nil), NewReadContext(), false, boneCount, -1)
	}
	if _, err := read(0); !errors.Is(err, fault.ErrConsistency) {
		t.Errorf("missing bone count: expected ErrConsistency, got %v", err)
	}
	got, err := read(1)
	if err != nil {
		t.Fatalf("fallback bone count: %v", err)
	}
	if got.BoneCount != 1 {
		t.Errorf("bone count = %d, want 1", got.BoneCount)
	}

	h.BoneCount = 1
	if b, _, err = (&Clip{Data: data, Headers: []*Header{h}}).ToBinary(0, nil); err != nil {
		t.Fatalf("ToBinary: %v", err)
	}
	if _, err := read(2); !errors.Is(err, fault.ErrConsistency) {
		t.Errorf("mismatched bone count: expected ErrConsistency, got %v", err)
	}
}

func TestHeaderToC(t *testing.T) {
	h := &Header{
		Reference: SymbolRef("anim_walk"),
		Flags:     0x0001,
		Fork:      ForkVanilla,
		LoopEnd:   20,
		Data:      oneBoneData("anim_walk", 10),
	}
	got, err := h.ToC(false)
	if err != nil {
		t.Fatalf("ToC: %v", err)
	}
	want := "static const struct Animation anim_walk = {\n" +
		"\tANIM_FLAG_NOLOOP, // flags ANIM_FLAG_NOLOOP\n" +
		"\t0, // animYTransDivisor\n" +
		"\t0, // startFrame\n" +
		"\t0, // loopStart\n" +
		"\t20, // loopEnd\n" +
		"\tANIMINDEX_NUMPARTS(anim_walk_indices), // unusedBoneCount\n" +
		"\tanim_walk_values, // values\n" +
		"\tanim_walk_indices, // index\n" +
		"\t0 // length\n" +
		"};\n"
	if got != want {
		t.Errorf("ToC() =\n%s\nwant\n%s", got, want)
	}

	dma, err := h.ToC(true)
	if err != nil {
		t.Fatalf("ToC(dma): %v", err)
	}
	if !strings.HasPrefix(dma, "static const struct Animation anim_walk[] = {") {
		t.Errorf("DMA header not declared as array: %q", dma)
	}

	h.Data.IndicesRef = AddrRef(0x1000)
	if _, err := h.ToC(false); !errors.Is(err, fault.ErrConsistency) {
		t.Errorf("address reference: expected ErrConsistency, got %v", err)
	}
}

func scanSet(t *testing.T, src string) *cdecl.Set {
	t.Helper()
	text, err := cdecl.Clean(src)
	if err != nil {
		t.Fatalf("Clean: %v", err)
	}
	set := cdecl.NewSet()
	if err := cdecl.FindDeclarations(text, "anim.inc.c", set); err != nil {
		t.Fatalf("FindDeclarations: %v", err)
	}
	return set
}

func TestHeaderCRoundTrip(t *testing.T) {
	want := &Header{
		Reference:    SymbolRef("anim_run"),
		Flags:        0x0011,
		Fork:         ForkHacker,
		TransDivisor: 2,
		LoopStart:    1,
		LoopEnd:      3,
		Data:         oneBoneData("anim_run", 5),
	}
	dataC, err := want.Data.ToC(false)
	if err != nil {
		t.Fatalf("Data.ToC: %v", err)
	}
	headerC, err := want.ToC(false)
	if err != nil {
		t.Fatalf("Header.ToC: %v", err)
	}
	set := scanSet(t, dataC+headerC)

	got, err := ReadHeaderC(set.Lookup(cdecl.KindAnimation, "anim_run"), set, NewReadContext(), -1)
	if err != nil {
		t.Fatalf("ReadHeaderC: %v", err)
	}
	if got.Flags != want.Flags || got.FlagsExpr != "" {
		t.Errorf("flags = 0x%X %q", got.Flags, got.FlagsExpr)
	}
	if got.TransDivisor != 2 || got.LoopStart != 1 || got.LoopEnd != 3 {
		t.Errorf("header fields = %+v", got)
	}
	if got.BoneCount != 1 {
		t.Errorf("bone count = %d, want 1 from data", got.BoneCount)
	}
	if got.FileName != "anim.inc.c" {
		t.Errorf("file name = %q", got.FileName)
	}
	assertSameChannels(t, want.Data, got.Data)
}

const designatedHeaderC = `
static const s16 anim_d_values[] = { 0x0000, 0x0005, 0x0006 };
static const u16 anim_d_indices[] = {
	1, 0, 1, 0, 1, 0,
	1, 0, 1, 0, 2, 1,
};
static const struct Animation anim_d = {
	.flags = ANIM_FLAG_NOLOOP | ANIM_FLAG_FORWARD,
	.animYTransDivisor = 0,
	.startFrame = 0,
	.loopStart = 0,
	.loopEnd = 10,
	.unusedBoneCount = 1,
	.values = anim_d_values,
	.index = anim_d_indices,
	.length = 0,
};
static const struct Animation anim_custom = {
	MY_FLAG | ANIM_FLAG_NOLOOP, 0, 0, 0, 10, 1, anim_d_values, anim_d_indices, 0,
};
`

func TestReadHeaderCDesignated(t *testing.T) {
	set := scanSet(t, designatedHeaderC)
	ctx := NewReadContext()

	h, err := ReadHeaderC(set.Lookup(cdecl.KindAnimation, "anim_d"), set, ctx, -1)
	if err != nil {
		t.Fatalf("ReadHeaderC: %v", err)
	}
	if h.Flags != 0x0003 {
		t.Errorf("flags = 0x%X, want 0x3", h.Flags)
	}
	if h.LoopEnd != 10 || h.BoneCount != 1 {
		t.Errorf("header fields = %+v", h)
	}
	if got := h.Data.Pairs[5].Values; !slices.Equal(got, []int16{5, 6}) {
		t.Errorf("last channel = %v", got)
	}

	custom, err := ReadHeaderC(set.Lookup(cdecl.KindAnimation, "anim_custom"), set, ctx, -1)
	if err != nil {
		t.Fatalf("ReadHeaderC: %v", err)
	}
	if custom.FlagsExpr != "MY_FLAG | ANIM_FLAG_NOLOOP" {
		t.Errorf("flags expression = %q", custom.FlagsExpr)
	}
	if custom.Data != h.Data {
		t.Errorf("headers with the same arrays do not share data")
	}
	if custom.TableIndex != 1 {
		t.Errorf("table index = %d, want 1", custom.TableIndex)
	}
	text, err := custom.ToC(false)
	if err != nil {
		t.Fatalf("ToC: %v", err)
	}
	if !strings.Contains(text, "\tMY_FLAG | ANIM_FLAG_NOLOOP, // flags\n") {
		t.Errorf("flags expression not kept:\n%s", text)
	}
	if _, err := custom.ToBinary(AddrRef(0), AddrRef(0), nil, 0); !errors.Is(err, fault.ErrMalformedSource) {
		t.Errorf("binary with flags expression: expected ErrMalformedSource, got %v", err)
	}
}

func TestReadHeaderCWrongFieldCount(t *testing.T) {
	set := scanSet(t, "static const struct Animation anim_bad = { 0, 0, 0 };\n")
	_, err := ReadHeaderC(set.Lookup(cdecl.KindAnimation, "anim_bad"), set, NewReadContext(), -1)
	if !errors.Is(err, fault.ErrMalformedSource) {
		t.Errorf("expected ErrMalformedSource, got %v", err)
	}
}

func TestHeaderValidate(t *testing.T) {
	h := &Header{Reference: SymbolRef("anim_a"), LoopStart: 5, LoopEnd: 2}
	if err := h.Validate(); !errors.Is(err, fault.ErrConsistency) {
		t.Errorf("unordered loop: expected ErrConsistency, got %v", err)
	}
	h = &Header{Reference: SymbolRef("anim_a"), LoopEnd: 2, BoneCount: 3, Data: oneBoneData("anim_a", 0)}
	if err := h.Validate(); !errors.Is(err, fault.ErrConsistency) {
		t.Errorf("bone mismatch: expected ErrConsistency, got %v", err)
	}
	h.BoneCount = 1
	if err := h.Validate(); err != nil {
		t.Errorf("valid header: %v", err)
	}
}

func TestFlags(t *testing.T) {
	f := Flags(0x0001 | 0x0002 | 0x0100)
	wantNames := []string{"ANIM_FLAG_NOLOOP", "ANIM_FLAG_FORWARD/ANIM_FLAG_BACKWARD", "unknown bits"}
	if got := f.Names(); !slices.Equal(got, wantNames) {
		t.Errorf("Names() = %v, want %v", got, wantNames)
	}
	if got := f.Ambiguous(); got != 0x0002 {
		t.Errorf("Ambiguous() = 0x%X, want 0x2", got)
	}
	if got := Flags(0x0018).Ambiguous(); got != 0 {
		t.Errorf("translation flags reported ambiguous: 0x%X", got)
	}
	if got := Flags(0x0066).Ambiguous(); got != 0x0066 {
		t.Errorf("Ambiguous(0x66) = 0x%X", got)
	}
	if got := f.Props(); !slices.Equal(got, []string{"no_loop", "backwards"}) {
		t.Errorf("Props() = %v", got)
	}

	tests := []struct {
		fork Fork
		want string
	}{
		{0, "0x0103"},
		{ForkVanilla, "ANIM_FLAG_NOLOOP | ANIM_FLAG_FORWARD | 0x0100"},
		{ForkHacker, "ANIM_FLAG_NOLOOP | ANIM_FLAG_BACKWARD | 0x0100"},
	}
	for _, tt := range tests {
		if got := f.CExpr(tt.fork); got != tt.want {
			t.Errorf("CExpr(%v) = %q, want %q", tt.fork, got, tt.want)
		}
	}
	if got := Flags(0).CExpr(ForkRefresh16); got != "0" {
		t.Errorf("CExpr of no flags = %q", got)
	}
}

func TestEvaluateFlags(t *testing.T) {
	tests := []struct {
		expr string
		want Flags
		ok   bool
	}{
		{"ANIM_FLAG_NOLOOP | ANIM_FLAG_FORWARD", 0x3, true},
		{"ANIM_FLAG_NO_ACCEL | ANIM_FLAG_2", 0x4, true},
		{"(1 << 3)", 0x8, true},
		{"0x0011", 0x11, true},
		{"0", 0, true},
		{"MY_FLAG", 0, false},
	}
	for _, tt := range tests {
		got, ok := EvaluateFlags(tt.expr)
		if ok != tt.ok || got != tt.want {
			t.Errorf("EvaluateFlags(%q) = 0x%X, %v; want 0x%X, %v", tt.expr, got, ok, tt.want, tt.ok)
		}
	}
}

func TestParseFork(t *testing.T) {
	for name, want := range map[string]Fork{"": 0, "hex": 0, "vanilla": ForkVanilla, "Refresh16": ForkRefresh16, "HACKER": ForkHacker} {
		got, err := ParseFork(name)
		if err != nil || got != want {
			t.Errorf("ParseFork(%q) = %v, %v", name, got, err)
		}
	}
	if _, err := ParseFork("sm64ex"); err == nil {
		t.Errorf("expected an error for an unknown fork")
	}
}
