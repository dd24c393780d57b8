// animtool is a CLI utility for converting SM64 animation tables between
// ROM binaries, insertable blobs and C source.
package main

import (
	"bytes"
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/davecgh/go-spew/spew"
	"go.uber.org/zap"

	"github.com/Faultbox/n64anim/internal/config"
	"github.com/Faultbox/n64anim/internal/logger"
	"github.com/Faultbox/n64anim/pkg/anim"
	"github.com/Faultbox/n64anim/pkg/rom"
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	command := os.Args[1]
	args := os.Args[2:]

	switch command {
	case "info":
		cmdInfo(args)
	case "dump":
		cmdDump(args)
	case "import-c":
		cmdImportC(args)
	case "export-c":
		cmdExportC(args)
	case "export-rom":
		cmdExportROM(args)
	case "export-insertable":
		cmdExportInsertable(args)
	case "help", "-h", "--help":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", command)
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println(`animtool - SM64 animation table utility

Usage:
  animtool <command> [options] <args>

Sources are a directory of C files, an insertable .bin or a ROM image
(ROMs need -addr).

Commands:
  info <source>                     Show the animations in a table
  dump <source>                     Print the decoded table structures
  import-c <dir>                    Scan C sources and show what was found
  export-c <source> <outdir>        Write C files and merge the table file
  export-rom <source> -out <rom>    Patch the table into a copy of rom.path
                                    (-clip <n> writes one clip and its slots)
  export-insertable <source> <bin>  Write an insertable binary

Common options:
  -config <file>   YAML config (default ./animtool.yaml)
  -addr <addr>     Table address inside a ROM
  -dma             Use the DMA table layout
  -fork <name>     vanilla, refresh16, hacker or hex
  -index <n>       Read a single table entry
  -debug           Enable debug logging

Examples:
  animtool info sm64.z64 -addr 0x004EC000 -dma
  animtool export-c sm64.z64 -addr 0x004EC000 -dma -fork vanilla ./anims
  animtool export-rom ./anims -config hack.yaml -out hack.z64
  animtool export-rom ./anims -config hack.yaml -clip 3 -out hack.z64
  animtool export-insertable ./anims mario_anims.bin`)
}

func fatal(err error) {
	logger.Sync()
	fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	os.Exit(1)
}

// commandFlags registers the shared flags plus -addr on a new flag set.
func commandFlags(name string) (*flag.FlagSet, *config.Flags, *string) {
	fs := flag.NewFlagSet(name, flag.ExitOnError)
	cfgFlags := config.RegisterFlags(fs)
	addr := fs.String("addr", "", "Table address inside a ROM image")
	return fs, cfgFlags, addr
}

// setup loads the configuration and starts logging.
func setup(fs *flag.FlagSet, cfgFlags *config.Flags, args []string) *config.Config {
	// Flags may come before or after positional arguments.
	var positional []string
	for {
		fs.Parse(args)
		if fs.NArg() == 0 {
			break
		}
		positional = append(positional, fs.Arg(0))
		args = fs.Args()[1:]
	}
	fs.Parse(positional)

	cfg, err := config.Load(cfgFlags)
	if err != nil {
		fatal(err)
	}
	if err := logger.Init(cfg.Logging.Level, cfg.Logging.LogFile); err != nil {
		fatal(err)
	}
	anim.SetLogger(logger.Named("anim"))
	rom.SetLogger(logger.Named("rom"))
	logger.Log.Debug("configuration loaded", zap.String("fork", cfg.Export.Fork), zap.Bool("dma", cfg.Export.DMA))
	return cfg
}

func parseAddress(s string) (uint32, error) {
	v, err := strconv.ParseUint(s, 0, 32)
	if err != nil {
		return 0, fmt.Errorf("invalid address %q", s)
	}
	return uint32(v), nil
}

// loadTable reads a table from a C directory, an insertable blob or a ROM.
// Headers read without a table are gathered into one named after the
// configured table.
func loadTable(path, addr string, cfg *config.Config) (*anim.Table, error) {
	ctx := anim.NewReadContext()

	info, err := os.Stat(path)
	if err != nil {
		return nil, err
	}
	if info.IsDir() {
		t, err := anim.ImportC(path, ctx)
		if err != nil {
			return nil, err
		}
		if t == nil {
			t = &anim.Table{Reference: anim.SymbolRef(cfg.Export.TableName)}
			for _, h := range ctx.Headers() {
				t.Elements = append(t.Elements, &anim.TableElement{Header: h})
			}
		}
		return t, nil
	}

	segs, err := cfg.ROM.SegmentMap()
	if err != nil {
		return nil, err
	}

	var t *anim.Table
	if strings.EqualFold(filepath.Ext(path), ".bin") {
		t, err = loadInsertable(path, ctx, segs, cfg)
	} else {
		t, err = loadROM(path, addr, ctx, segs, cfg)
	}
	if err != nil {
		return nil, err
	}
	t.NameSymbols(strings.TrimSuffix(cfg.Export.TableName, "_anims"))
	return t, nil
}

func loadInsertable(path string, ctx *anim.ReadContext, segs rom.SegmentMap, cfg *config.Config) (*anim.Table, error) {
	b, err := rom.ReadInsertableFile(path,
		rom.InsertableAnimation, rom.InsertableAnimationTable, rom.InsertableAnimationDMATable)
	if err != nil {
		return nil, err
	}
	// Pointers outside the blob resolve against the configured ROM.
	var romData io.ReaderAt
	if cfg.ROM.Path != "" {
		data, err := os.ReadFile(cfg.ROM.Path)
		if err != nil {
			return nil, err
		}
		romData = bytes.NewReader(data)
	}
	return anim.ImportInsertable(b, romData, segs, ctx, cfg.Import.Options())
}

func loadROM(path, addr string, ctx *anim.ReadContext, segs rom.SegmentMap, cfg *config.Config) (*anim.Table, error) {
	if addr == "" {
		return nil, fmt.Errorf("reading %s needs -addr", path)
	}
	start, err := parseAddress(addr)
	if err != nil {
		return nil, err
	}
	cm, err := rom.LookupEncoding(cfg.ROM.StringEncoding)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	r := rom.NewReader(bytes.NewReader(data), start, segs).WithEncoding(cm)

	opts := cfg.Import.Options()
	t := &anim.Table{}
	if cfg.Export.DMA {
		err = t.ReadDMABinary(r, ctx, opts.TableIndex, opts.BoneCount)
	} else {
		err = t.ReadBinary(r, ctx, opts.TableIndex, opts.BoneCount, opts.TableSize)
	}
	if err != nil {
		return nil, err
	}
	return t, nil
}

// applyFork sets the flag naming of every header and warns about flags
// whose meaning depends on the fork.
func applyFork(t *anim.Table, cfg *config.Config) error {
	fork, err := cfg.Export.EngineFork()
	if err != nil {
		return err
	}
	headers, _ := t.HeadersAndData()
	for _, h := range headers {
		h.Fork = fork
		if amb := h.Flags.Ambiguous(); amb != 0 {
			logger.Log.Warn("flags differ between engine forks",
				zap.String("animation", h.Reference.String()),
				zap.Strings("flags", amb.Names()),
				zap.String("fork", fork.String()))
		}
	}
	return nil
}

func cmdInfo(args []string) {
	fs, cfgFlags, addr := commandFlags("info")
	cfg := setup(fs, cfgFlags, args)
	if fs.NArg() < 1 {
		fmt.Fprintln(os.Stderr, "Usage: animtool info <source> [-addr 0x...] [-dma]")
		os.Exit(1)
	}

	t, err := loadTable(fs.Arg(0), *addr, cfg)
	if err != nil {
		fatal(err)
	}
	printTable(t)
}

func printTable(t *anim.Table) {
	headers, datas := t.HeadersAndData()
	fmt.Printf("Table:      %s\n", t.Reference)
	if t.EnumListName != "" {
		fmt.Printf("Enum:       %s\n", t.EnumListName)
	}
	fmt.Printf("Elements:   %d (NULL delimited: %v)\n", len(t.Elements), t.HasNullDelimiter())
	fmt.Printf("Animations: %d headers sharing %d data blocks\n", len(headers), len(datas))
	fmt.Println()
	fmt.Printf("  %-4s %-32s %-6s %-5s %-11s %s\n", "#", "Name", "Frames", "Bones", "Loop", "Flags")

	for i, e := range t.Elements {
		if e.IsNull() {
			fmt.Printf("  %-4d NULL\n", i)
			continue
		}
		h := e.Header
		if h == nil {
			fmt.Printf("  %-4d %-32s (not loaded)\n", i, e.CName())
			continue
		}
		frames := 0
		if h.Data != nil {
			frames = h.Data.FrameCount()
		}
		flags := strings.Join(h.Flags.Names(), " | ")
		if h.FlagsExpr != "" {
			flags = h.FlagsExpr
		}
		fmt.Printf("  %-4d %-32s %-6d %-5d %-11s %s\n", i, h.Reference, frames, h.BoneCount,
			fmt.Sprintf("%d-%d", h.LoopStart, h.LoopEnd), flags)
	}
}

func cmdDump(args []string) {
	fs, cfgFlags, addr := commandFlags("dump")
	depth := fs.Int("depth", 4, "Maximum nesting depth to print")
	cfg := setup(fs, cfgFlags, args)
	if fs.NArg() < 1 {
		fmt.Fprintln(os.Stderr, "Usage: animtool dump <source> [-addr 0x...] [-depth n]")
		os.Exit(1)
	}

	t, err := loadTable(fs.Arg(0), *addr, cfg)
	if err != nil {
		fatal(err)
	}
	dumper := spew.ConfigState{
		Indent:                  "  ",
		MaxDepth:                *depth,
		DisablePointerAddresses: true,
		DisableCapacities:       true,
		SortKeys:                true,
	}
	dumper.Fdump(os.Stdout, t)
}

func cmdImportC(args []string) {
	fs, cfgFlags, _ := commandFlags("import-c")
	cfg := setup(fs, cfgFlags, args)
	if fs.NArg() < 1 {
		fmt.Fprintln(os.Stderr, "Usage: animtool import-c <dir>")
		os.Exit(1)
	}

	info, err := os.Stat(fs.Arg(0))
	if err != nil {
		fatal(err)
	}
	if !info.IsDir() {
		fatal(fmt.Errorf("%s is not a directory", fs.Arg(0)))
	}
	t, err := loadTable(fs.Arg(0), "", cfg)
	if err != nil {
		fatal(err)
	}
	printTable(t)
}

func cmdExportC(args []string) {
	fs, cfgFlags, addr := commandFlags("export-c")
	cfg := setup(fs, cfgFlags, args)
	if fs.NArg() < 2 {
		fmt.Fprintln(os.Stderr, "Usage: animtool export-c <source> <outdir>")
		os.Exit(1)
	}
	outDir := fs.Arg(1)

	t, err := loadTable(fs.Arg(0), *addr, cfg)
	if err != nil {
		fatal(err)
	}
	if err := applyFork(t, cfg); err != nil {
		fatal(err)
	}
	if err := os.MkdirAll(outDir, 0755); err != nil {
		fatal(err)
	}

	var files []anim.CFile
	if cfg.Export.SeparateFiles || cfg.Export.DMA {
		files, err = t.DataAndHeadersToC(cfg.Export.DMA)
	} else {
		var text string
		text, err = t.DataAndHeadersToCCombined()
		files = []anim.CFile{{Name: "anim_data.inc.c", Text: text}}
	}
	if err != nil {
		fatal(err)
	}
	for _, f := range files {
		path := filepath.Join(outDir, f.Name)
		if err := os.WriteFile(path, []byte(f.Text), 0644); err != nil {
			fatal(err)
		}
		logger.Log.Debug("wrote C file", zap.String("path", path))
	}

	// DMA tables have no pointer table to merge.
	if !cfg.Export.DMA {
		if err := anim.UpdateTableFile(filepath.Join(outDir, "table.inc.c"), t, cfg.Export.UpdateOptions()); err != nil {
			fatal(err)
		}
	}
	fmt.Printf("Exported %d files to %s\n", len(files), outDir)
}

func cmdExportROM(args []string) {
	fs, cfgFlags, addr := commandFlags("export-rom")
	out := fs.String("out", "", "Path of the patched ROM")
	clip := fs.Int("clip", -1, "Write only this clip into export.data and point its table slots at it")
	cfg := setup(fs, cfgFlags, args)
	if fs.NArg() < 1 || *out == "" {
		fmt.Fprintln(os.Stderr, "Usage: animtool export-rom <source> -out <rom> [-clip n] [-config file]")
		os.Exit(1)
	}
	single := *clip >= 0
	if single && cfg.Export.DMA {
		fatal(fmt.Errorf("-clip cannot be combined with -dma"))
	}
	if !single && cfg.Export.Table.IsZero() {
		fatal(fmt.Errorf("export.table range is not configured"))
	}
	if !cfg.Export.DMA && cfg.Export.Data.IsZero() {
		fatal(fmt.Errorf("export.data range is not configured"))
	}

	t, err := loadTable(fs.Arg(0), *addr, cfg)
	if err != nil {
		fatal(err)
	}
	segs, err := cfg.ROM.SegmentMap()
	if err != nil {
		fatal(err)
	}
	opts := rom.ExporterOptions{RequireExpanded: cfg.ROM.RequireExpanded}

	if single {
		clips := t.SeparateClips()
		if *clip >= len(clips) {
			fatal(fmt.Errorf("clip %d out of range, the table has %d clips", *clip, len(clips)))
		}
		c := clips[*clip]
		err = rom.WithExporter(cfg.ROM.Path, *out, opts, func(e *rom.Exporter) error {
			return c.WriteROM(e, cfg.Export.Data.Range(), cfg.Export.Table.Range(), segs)
		})
		if err != nil {
			fatal(err)
		}
		fmt.Printf("Wrote %s (%d headers) to %s\n", c.FileName, len(c.Headers), *out)
		return
	}

	target := anim.ROMTarget{
		Table:    cfg.Export.Table.Range(),
		Data:     cfg.Export.Data.Range(),
		Segments: segs,
		DMA:      cfg.Export.DMA,
	}
	err = rom.WithExporter(cfg.ROM.Path, *out, opts, func(e *rom.Exporter) error {
		return t.WriteROM(e, target)
	})
	if err != nil {
		fatal(err)
	}
	fmt.Printf("Wrote %d animations to %s\n", len(t.Elements), *out)
}

func cmdExportInsertable(args []string) {
	fs, cfgFlags, addr := commandFlags("export-insertable")
	cfg := setup(fs, cfgFlags, args)
	if fs.NArg() < 2 {
		fmt.Fprintln(os.Stderr, "Usage: animtool export-insertable <source> <out.bin> [-dma]")
		os.Exit(1)
	}

	t, err := loadTable(fs.Arg(0), *addr, cfg)
	if err != nil {
		fatal(err)
	}
	b, err := t.ToInsertable(cfg.Export.DMA)
	if err != nil {
		fatal(err)
	}
	if err := b.WriteFile(fs.Arg(1)); err != nil {
		fatal(err)
	}
	fmt.Printf("Wrote %s (%s, %d bytes of data)\n", fs.Arg(1), b.Type, len(b.Data))
}
