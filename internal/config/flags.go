package config

import "flag"

// Flags holds the command-line overrides shared by animtool commands.
type Flags struct {
	Config     *string
	Debug      *bool
	Fork       *string
	DMA        *bool
	Designated *bool
	Override   *bool
	NoEnums    *bool
	BoneCount  *int
	TableIndex *int
	TableSize  *int
}

// RegisterFlags adds the shared flags to fs.
func RegisterFlags(fs *flag.FlagSet) *Flags {
	return &Flags{
		Config:     fs.String("config", "", "Path to config file"),
		Debug:      fs.Bool("debug", false, "Enable debug logging"),
		Fork:       fs.String("fork", "", "Engine fork for flag names (vanilla, refresh16, hacker, hex)"),
		DMA:        fs.Bool("dma", false, "Read or write the DMA table layout"),
		Designated: fs.Bool("designated", false, "Write designated initializers"),
		Override:   fs.Bool("override", false, "Replace existing C files instead of merging"),
		NoEnums:    fs.Bool("no-enums", false, "Do not generate enum entries"),
		BoneCount:  fs.Int("bones", 0, "Bone count used when a header does not carry one"),
		TableIndex: fs.Int("index", -1, "Read a single table entry (-1 = all)"),
		TableSize:  fs.Int("size", 0, "Number of table entries to read (0 = up to NULL)"),
	}
}

// ConfigPath returns the explicit config path if provided via -config.
func (f *Flags) ConfigPath() string {
	if f == nil {
		return ""
	}
	return *f.Config
}

// applyFlags applies CLI flag overrides to the config. Only flags that
// differ from their zero value override the file.
func (f *Flags) applyFlags(cfg *Config) {
	if f == nil {
		return
	}
	if *f.Debug {
		cfg.Logging.Level = "debug"
	}
	if *f.Fork != "" {
		cfg.Export.Fork = *f.Fork
	}
	if *f.DMA {
		cfg.Export.DMA = true
	}
	if *f.Designated {
		cfg.Export.Designated = true
	}
	if *f.Override {
		cfg.Export.OverrideFiles = true
	}
	if *f.NoEnums {
		cfg.Export.GenerateEnums = false
	}
	if *f.BoneCount > 0 {
		cfg.Import.BoneCount = *f.BoneCount
	}
	if *f.TableIndex >= 0 {
		cfg.Import.TableIndex = *f.TableIndex
	}
	if *f.TableSize > 0 {
		cfg.Import.TableSize = *f.TableSize
	}
}
