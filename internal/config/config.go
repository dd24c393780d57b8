// Package config handles animtool configuration loading and management.
package config

import (
	"fmt"
	"strconv"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"

	"github.com/Faultbox/n64anim/pkg/anim"
	"github.com/Faultbox/n64anim/pkg/rom"
)

// Config holds all animtool settings.
type Config struct {
	ROM     ROMConfig     `yaml:"rom"`
	Export  ExportConfig  `yaml:"export"`
	Import  ImportConfig  `yaml:"import"`
	Logging LoggingConfig `yaml:"logging"`
}

// Address is a ROM address written as a hex string in YAML.
type Address uint32

// UnmarshalYAML accepts decimal, 0x hex and 0o octal integers.
func (a *Address) UnmarshalYAML(value *yaml.Node) error {
	v, err := strconv.ParseUint(value.Value, 0, 32)
	if err != nil {
		return errors.Wrapf(err, "line %d: address %q", value.Line, value.Value)
	}
	*a = Address(v)
	return nil
}

// MarshalYAML writes the address as 0x-prefixed hex.
func (a Address) MarshalYAML() (interface{}, error) {
	return fmt.Sprintf("0x%08X", uint32(a)), nil
}

// RangeConfig is a [start, end) ROM range.
type RangeConfig struct {
	Start Address `yaml:"start"`
	End   Address `yaml:"end"`
}

// Range converts to a rom.Range.
func (r RangeConfig) Range() rom.Range {
	return rom.Range{Start: uint32(r.Start), End: uint32(r.End)}
}

// IsZero reports whether the range was left unset.
func (r RangeConfig) IsZero() bool {
	return r.Start == 0 && r.End == 0
}

// SegmentConfig places one segment in the ROM.
type SegmentConfig struct {
	ID    uint8   `yaml:"id"`
	Start Address `yaml:"start"`
	End   Address `yaml:"end"`
}

// ROMConfig holds ROM reading settings.
type ROMConfig struct {
	Path            string          `yaml:"path"`
	Segments        []SegmentConfig `yaml:"segments"`
	StringEncoding  string          `yaml:"string_encoding"`
	RequireExpanded bool            `yaml:"require_expanded"`
}

// SegmentMap builds the segment map. Ids may appear only once.
func (c *ROMConfig) SegmentMap() (rom.SegmentMap, error) {
	if len(c.Segments) == 0 {
		return nil, nil
	}
	segs := make(rom.SegmentMap, len(c.Segments))
	for _, s := range c.Segments {
		if _, dup := segs[s.ID]; dup {
			return nil, errors.Errorf("segment 0x%02X listed twice", s.ID)
		}
		if s.End < s.Start {
			return nil, errors.Errorf("segment 0x%02X ends before it starts", s.ID)
		}
		segs[s.ID] = rom.Range{Start: uint32(s.Start), End: uint32(s.End)}
	}
	return segs, nil
}

// ExportConfig holds C and binary export settings.
type ExportConfig struct {
	Fork          string      `yaml:"fork"`
	Designated    bool        `yaml:"designated"`
	NullDelimiter bool        `yaml:"null_delimiter"`
	GenerateEnums bool        `yaml:"generate_enums"`
	OverrideFiles bool        `yaml:"override_files"`
	SeparateFiles bool        `yaml:"separate_files"`
	DMA           bool        `yaml:"dma"`
	EnumPath      string      `yaml:"enum_path"`
	TableName     string      `yaml:"table_name"`
	Table         RangeConfig `yaml:"table"`
	Data          RangeConfig `yaml:"data"`
}

// EngineFork parses the configured fork name.
func (c *ExportConfig) EngineFork() (anim.Fork, error) {
	return anim.ParseFork(c.Fork)
}

// UpdateOptions returns the options used when merging into C files.
func (c *ExportConfig) UpdateOptions() anim.UpdateOptions {
	return anim.UpdateOptions{
		NullDelimiter: c.NullDelimiter,
		Override:      c.OverrideFiles,
		GenEnums:      c.GenerateEnums,
		Designated:    c.Designated,
		EnumPath:      c.EnumPath,
	}
}

// ImportConfig holds binary import settings. A TableIndex of -1 reads the
// whole table.
type ImportConfig struct {
	BoneCount  int `yaml:"bone_count"`
	TableIndex int `yaml:"table_index"`
	TableSize  int `yaml:"table_size"`
}

// Options converts to anim.ImportOptions.
func (c ImportConfig) Options() anim.ImportOptions {
	return anim.ImportOptions{BoneCount: c.BoneCount, TableIndex: c.TableIndex, TableSize: c.TableSize}
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level   string `yaml:"level"`
	LogFile string `yaml:"log_file"`
}

// Default returns a Config with sensible default values.
func Default() *Config {
	return &Config{
		ROM: ROMConfig{
			RequireExpanded: true,
		},
		Export: ExportConfig{
			Fork:          "vanilla",
			NullDelimiter: true,
			GenerateEnums: true,
			TableName:     "mario_anims",
		},
		Import: ImportConfig{
			TableIndex: -1,
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

// Validate checks the settings that can be wrong before any file is touched.
func (c *Config) Validate() error {
	if _, err := c.ROM.SegmentMap(); err != nil {
		return errors.WithMessage(err, "rom")
	}
	if _, err := rom.LookupEncoding(c.ROM.StringEncoding); err != nil {
		return errors.WithMessage(err, "rom")
	}
	if _, err := c.Export.EngineFork(); err != nil {
		return errors.WithMessage(err, "export")
	}
	for name, r := range map[string]RangeConfig{"table": c.Export.Table, "data": c.Export.Data} {
		if r.End < r.Start {
			return errors.Errorf("export: %s range ends before it starts", name)
		}
	}
	if c.Import.BoneCount < 0 {
		return errors.Errorf("import: negative bone count %d", c.Import.BoneCount)
	}
	return nil
}
