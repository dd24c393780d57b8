package rom

import (
	"bytes"
	"encoding/binary"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"golang.org/x/text/encoding/charmap"

	"github.com/Faultbox/n64anim/pkg/fault"
)

func testSegments() SegmentMap {
	return SegmentMap{
		0x04: {Start: 0x00100000, End: 0x00110000},
		0x0E: {Start: 0x00200000, End: 0x00200400},
	}
}

func TestSegmentRoundTrip(t *testing.T) {
	segs := testSegments()
	for id, r := range segs {
		for _, addr := range []uint32{r.Start, r.Start + 1, (r.Start + r.End) / 2, r.End - 1} {
			ptr, err := segs.Encode(addr)
			if err != nil {
				t.Fatalf("Encode(0x%X): %v", addr, err)
			}
			if uint8(ptr>>24) != id {
				t.Errorf("Encode(0x%X) segment = 0x%02X, want 0x%02X", addr, ptr>>24, id)
			}
			got, err := segs.Decode(ptr)
			if err != nil {
				t.Fatalf("Decode(0x%X): %v", ptr, err)
			}
			if got != addr {
				t.Errorf("Decode(Encode(0x%X)) = 0x%X", addr, got)
			}
		}
	}
}

func TestSegmentErrors(t *testing.T) {
	segs := testSegments()
	if _, err := segs.Encode(0x00300000); !errors.Is(err, fault.ErrOutOfRange) {
		t.Errorf("Encode outside segments: expected ErrOutOfRange, got %v", err)
	}
	if _, err := segs.Decode(0x05000010); !errors.Is(err, fault.ErrOutOfRange) {
		t.Errorf("Decode unknown segment: expected ErrOutOfRange, got %v", err)
	}
}

func TestReaderSequential(t *testing.T) {
	data := []byte{
		0xFF, 0xFE, // s16 -2
		0x12, 0x34, 0x56, 0x78, // u32
		0x3F, 0x80, 0x00, 0x00, // 1.0f
		0x04, 0x00, 0x00, 0x10, // segmented pointer
		0x00, 0x00, 0x00, 0x00, // NULL
	}
	r := NewReader(bytes.NewReader(data), 0, testSegments())

	if v, err := r.ReadS16(); err != nil || v != -2 {
		t.Errorf("ReadS16() = %d, %v; want -2", v, err)
	}
	if v, err := r.ReadU32(); err != nil || v != 0x12345678 {
		t.Errorf("ReadU32() = 0x%X, %v", v, err)
	}
	if v, err := r.ReadFloat(); err != nil || v != 1.0 {
		t.Errorf("ReadFloat() = %v, %v", v, err)
	}
	if v, err := r.ReadPtr(); err != nil || v != 0x00100010 {
		t.Errorf("ReadPtr() = 0x%X, %v; want 0x00100010", v, err)
	}
	if v, err := r.ReadPtr(); err != nil || v != 0 {
		t.Errorf("ReadPtr() NULL = 0x%X, %v", v, err)
	}
	if r.Address() != uint32(len(data)) {
		t.Errorf("Address() = %d, want %d", r.Address(), len(data))
	}
	if _, err := r.ReadData(1); !errors.Is(err, fault.ErrOutOfRange) {
		t.Errorf("read past end: expected ErrOutOfRange, got %v", err)
	}
}

func TestReaderBranch(t *testing.T) {
	data := make([]byte, 32)
	r := NewReader(bytes.NewReader(data), 0, nil)

	b := r.Branch(16)
	if b == nil {
		t.Fatal("Branch(16) returned nil")
	}
	if b.Start() != 16 || b.Address() != 16 {
		t.Errorf("branch start/address = %d/%d, want 16", b.Start(), b.Address())
	}
	if r.Branch(64) != nil {
		t.Error("Branch past the end should return nil")
	}
}

func TestReaderInsertablePointers(t *testing.T) {
	payload := make([]byte, 12)
	binary.BigEndian.PutUint32(payload[0:], 8)          // relocatable pointer to offset 8
	binary.BigEndian.PutUint32(payload[4:], 0x04000004) // plain segmented value
	b := &Insertable{Type: InsertableAnimation, Data: payload, Ptrs: []uint32{0}}

	r := NewInsertableReader(b, nil, testSegments())
	if v, err := r.ReadPtr(); err != nil || v != 8 {
		t.Errorf("relocatable ReadPtr() = 0x%X, %v; want 8", v, err)
	}
	if v, err := r.ReadPtr(); err != nil || v != 0x00100004 {
		t.Errorf("segmented ReadPtr() = 0x%X, %v; want 0x00100004", v, err)
	}
	if r.Branch(12) != nil {
		t.Error("Branch outside the payload without a ROM should return nil")
	}
}

func TestReaderString(t *testing.T) {
	data := []byte{0, 0, 0, 8, 0, 0, 0, 0, 'M', 'a', 'r', 'i', 'o', 0xE9, 0}
	r := NewReader(bytes.NewReader(data), 0, nil).WithEncoding(charmap.Windows1252)

	s, ok, err := r.ReadString()
	if err != nil || !ok {
		t.Fatalf("ReadString() = %q, %v, %v", s, ok, err)
	}
	if s != "Marioé" {
		t.Errorf("ReadString() = %q, want %q", s, "Marioé")
	}
	if _, ok, err := r.ReadString(); ok || err != nil {
		t.Errorf("NULL string pointer: ok=%v err=%v", ok, err)
	}
}

func TestLookupEncoding(t *testing.T) {
	cm, err := LookupEncoding("Windows 1252")
	if err != nil || cm != charmap.Windows1252 {
		t.Errorf("LookupEncoding(Windows 1252) = %v, %v", cm, err)
	}
	if cm, err := LookupEncoding(""); cm != nil || err != nil {
		t.Errorf("LookupEncoding(\"\") = %v, %v", cm, err)
	}
	if _, err := LookupEncoding("Klingon"); err == nil {
		t.Error("expected error for unknown encoding")
	}
}

func TestInsertableEncodeDecode(t *testing.T) {
	b := &Insertable{
		Type:         InsertableAnimationTable,
		Data:         []byte{1, 2, 3, 4, 5, 6, 7, 8},
		StartAddress: 0x80400000,
		Ptrs:         []uint32{0, 4},
	}
	raw, err := b.MarshalBinary()
	if err != nil {
		t.Fatal(err)
	}
	if len(raw) != 16+8+8 {
		t.Fatalf("encoded size = %d, want 32", len(raw))
	}
	if got := binary.BigEndian.Uint32(raw[0:]); got != 4 {
		t.Errorf("type tag = %d, want 4", got)
	}

	parsed, err := ParseInsertable(raw, InsertableAnimationTable)
	if err != nil {
		t.Fatalf("ParseInsertable: %v", err)
	}
	if parsed.StartAddress != b.StartAddress || !bytes.Equal(parsed.Data, b.Data) || len(parsed.Ptrs) != 2 {
		t.Errorf("parsed = %+v", parsed)
	}

	if _, err := ParseInsertable(raw, InsertableAnimation); !errors.Is(err, fault.ErrMalformedSource) {
		t.Errorf("wrong expected type: got %v", err)
	}
	if _, err := ParseInsertable(raw[:20]); !errors.Is(err, fault.ErrMalformedSource) {
		t.Errorf("truncated payload: got %v", err)
	}
}

func TestDMATableEncodeDecode(t *testing.T) {
	table := &DMATable{
		Entries: []DMAEntry{{Offset: 0, Size: 4}, {Offset: 4, Size: 4}, {Offset: 0, Size: 4}},
		Data:    []byte{0xA, 0xB, 0xC, 0xD, 0x1, 0x2, 0x3, 0x4},
	}
	raw, err := table.MarshalBinary()
	if err != nil {
		t.Fatal(err)
	}

	decoded, err := ReadDMATable(NewReader(bytes.NewReader(raw), 0, nil))
	if err != nil {
		t.Fatalf("ReadDMATable: %v", err)
	}
	if len(decoded.Entries) != 3 {
		t.Fatalf("entries = %d, want 3", len(decoded.Entries))
	}
	dataStart := uint32(8 + 3*8)
	if decoded.Entries[0].Address != dataStart || decoded.Entries[2].Address != dataStart {
		t.Errorf("aliased entries should share an address: %+v", decoded.Entries)
	}
	if decoded.Entries[1].Address != dataStart+4 {
		t.Errorf("entry 1 address = %d, want %d", decoded.Entries[1].Address, dataStart+4)
	}
	if decoded.EndAddress != uint32(len(raw)) {
		t.Errorf("EndAddress = %d, want %d", decoded.EndAddress, len(raw))
	}
}

func writeTestROM(t *testing.T, dir string, size int) string {
	t.Helper()
	path := filepath.Join(dir, "base.z64")
	data := make([]byte, size)
	for i := range data {
		data[i] = byte(i)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		t.Fatalf("failed to write test ROM: %v", err)
	}
	return path
}

func TestExporterCommit(t *testing.T) {
	dir := t.TempDir()
	src := writeTestROM(t, dir, 64)
	out := filepath.Join(dir, "out.z64")

	err := WithExporter(src, out, ExporterOptions{}, func(e *Exporter) error {
		return e.WriteToRange(8, 16, []byte{0xAA, 0xBB})
	})
	if err != nil {
		t.Fatalf("WithExporter: %v", err)
	}

	data, err := os.ReadFile(out)
	if err != nil {
		t.Fatalf("output not written: %v", err)
	}
	if data[8] != 0xAA || data[9] != 0xBB || data[10] != 10 {
		t.Errorf("patched bytes = % X", data[8:11])
	}
	assertNoTempFiles(t, dir)
}

func TestExporterAtomicity(t *testing.T) {
	dir := t.TempDir()
	src := writeTestROM(t, dir, 64)
	out := filepath.Join(dir, "out.z64")

	err := WithExporter(src, out, ExporterOptions{}, func(e *Exporter) error {
		if err := e.WriteToRange(0, 4, []byte{1, 2, 3, 4}); err != nil {
			return err
		}
		return e.WriteToRange(16, 18, []byte{1, 2, 3})
	})
	if !errors.Is(err, fault.ErrOutOfRange) {
		t.Fatalf("expected ErrOutOfRange, got %v", err)
	}
	if _, err := os.Stat(out); !os.IsNotExist(err) {
		t.Error("output must not be created when a write fails")
	}
	assertNoTempFiles(t, dir)
}

func TestExporterKeepsExistingOutputOnFailure(t *testing.T) {
	dir := t.TempDir()
	src := writeTestROM(t, dir, 64)
	out := filepath.Join(dir, "out.z64")
	if err := os.WriteFile(out, []byte("previous"), 0644); err != nil {
		t.Fatal(err)
	}

	err := WithExporter(src, out, ExporterOptions{}, func(e *Exporter) error {
		return e.WriteToRange(20, 10, nil)
	})
	if !errors.Is(err, fault.ErrOutOfRange) {
		t.Fatalf("misordered range: expected ErrOutOfRange, got %v", err)
	}
	data, _ := os.ReadFile(out)
	if string(data) != "previous" {
		t.Errorf("output was modified: %q", data)
	}
	assertNoTempFiles(t, dir)
}

func TestExporterRestoresOutputWhenReplaceFails(t *testing.T) {
	dir := t.TempDir()
	src := writeTestROM(t, dir, 64)
	out := filepath.Join(dir, "out.z64")
	if err := os.WriteFile(out, []byte("previous"), 0644); err != nil {
		t.Fatal(err)
	}

	// Moving the working copy always fails; moving the old output works.
	var moves []string
	rename = func(from, to string) error {
		moves = append(moves, filepath.Base(from)+" -> "+filepath.Base(to))
		if strings.HasSuffix(from, ".tmp") {
			return &os.LinkError{Op: "rename", Old: from, New: to, Err: os.ErrPermission}
		}
		return os.Rename(from, to)
	}
	t.Cleanup(func() { rename = os.Rename })

	err := WithExporter(src, out, ExporterOptions{}, func(e *Exporter) error {
		return e.WriteToRange(0, 4, []byte{1, 2, 3, 4})
	})
	if !errors.Is(err, os.ErrPermission) {
		t.Fatalf("expected the rename error, got %v", err)
	}
	if len(moves) != 4 {
		t.Errorf("renames = %v, want replace, backup, replace, restore", moves)
	}
	data, _ := os.ReadFile(out)
	if string(data) != "previous" {
		t.Errorf("output = %q, want the previous contents", data)
	}
	assertNoTempFiles(t, dir)
	if matches, _ := filepath.Glob(filepath.Join(dir, ".*.bak")); len(matches) != 0 {
		t.Errorf("backup files left behind: %v", matches)
	}
}

func TestExporterPanicDiscards(t *testing.T) {
	dir := t.TempDir()
	src := writeTestROM(t, dir, 64)
	out := filepath.Join(dir, "out.z64")

	func() {
		defer func() {
			if recover() == nil {
				t.Error("expected panic to propagate")
			}
		}()
		WithExporter(src, out, ExporterOptions{}, func(e *Exporter) error {
			panic("boom")
		})
	}()
	if _, err := os.Stat(out); !os.IsNotExist(err) {
		t.Error("output must not be created after a panic")
	}
	assertNoTempFiles(t, dir)
}

func TestExporterChecks(t *testing.T) {
	dir := t.TempDir()
	src := writeTestROM(t, dir, 64)

	if _, err := NewExporter(filepath.Join(dir, "missing.z64"), filepath.Join(dir, "o.z64"), ExporterOptions{}); err == nil {
		t.Error("expected error for missing source ROM")
	}
	if _, err := NewExporter(src, filepath.Join(dir, "o.z64"), ExporterOptions{RequireExpanded: true}); err == nil {
		t.Error("expected error for unexpanded ROM")
	}
}

func assertNoTempFiles(t *testing.T, dir string) {
	t.Helper()
	matches, _ := filepath.Glob(filepath.Join(dir, ".*.tmp"))
	if len(matches) != 0 {
		t.Errorf("temporary files left behind: %v", matches)
	}
}
