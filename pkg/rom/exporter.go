package rom

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/Faultbox/n64anim/pkg/fault"
)

// ExpandedSize is the minimum size of an expanded SM64 ROM.
const ExpandedSize = 8 * 1024 * 1024

// rename is os.Rename, replaced in tests.
var rename = os.Rename

// ExporterOptions tunes the checks run before a ROM is patched.
type ExporterOptions struct {
	RequireExpanded bool
}

// Exporter patches a copy of a ROM. All writes go to a temporary file that
// only replaces the output once Close is called without an error, so a
// partially patched ROM is never visible at the output path.
type Exporter struct {
	source string
	output string
	temp   string
	file   *os.File
	closed bool
}

// NewExporter validates source, copies it to a temporary file next to output
// and opens the copy for patching.
func NewExporter(source, output string, opts ExporterOptions) (*Exporter, error) {
	if source == "" {
		return nil, errors.New("export ROM path is empty")
	}
	info, err := os.Stat(source)
	if err != nil {
		return nil, errors.Wrapf(err, "export ROM %s", source)
	}
	if info.IsDir() {
		return nil, errors.Errorf("export ROM path %s is not a file", source)
	}
	if opts.RequireExpanded && info.Size() < ExpandedSize {
		return nil, errors.Errorf("export ROM %s is not expanded (%d bytes, need at least %d)", source, info.Size(), ExpandedSize)
	}

	e := &Exporter{
		source: source,
		output: output,
		temp:   filepath.Join(filepath.Dir(output), fmt.Sprintf(".%s.%s.tmp", filepath.Base(output), uuid.NewString())),
	}
	log.Info("binary export started", zap.String("output", output))
	log.Debug("copying ROM to temporary file", zap.String("source", source), zap.String("temp", e.temp))
	if err := copyFile(source, e.temp); err != nil {
		os.Remove(e.temp)
		return nil, errors.Wrap(err, "copying ROM to temporary file")
	}

	e.file, err = os.OpenFile(e.temp, os.O_RDWR, 0)
	if err != nil {
		os.Remove(e.temp)
		return nil, errors.Wrap(err, "opening temporary ROM")
	}
	return e, nil
}

// WithExporter runs fn against a fresh exporter and commits the patched ROM
// only if fn returns nil. A panic inside fn discards the temporary file and
// is re-raised.
func WithExporter(source, output string, opts ExporterOptions, fn func(*Exporter) error) (err error) {
	e, err := NewExporter(source, output, opts)
	if err != nil {
		return err
	}
	defer func() {
		if p := recover(); p != nil {
			e.Close(errors.Errorf("panic: %v", p))
			panic(p)
		}
		if closeErr := e.Close(err); err == nil {
			err = closeErr
		}
	}()
	return fn(e)
}

// TempPath returns the path of the temporary working copy.
func (e *Exporter) TempPath() string { return e.temp }

// WriteToRange writes data at start after checking it fits in [start, end).
func (e *Exporter) WriteToRange(start, end uint32, data []byte) error {
	rangeStr := fmt.Sprintf("[%s, %s]", Hex(start), Hex(end))
	if end < start {
		return errors.Wrapf(fault.ErrOutOfRange, "start address is higher than the end address: %s", rangeStr)
	}
	if uint64(len(data)) > uint64(end-start) {
		return errors.Wrapf(fault.ErrOutOfRange, "data (%.3f kb) does not fit in range %s (%.3f kb)",
			float64(len(data))/1000, rangeStr, float64(end-start)/1000)
	}
	log.Info("writing to ROM range",
		zap.String("range", rangeStr), zap.Int("bytes", len(data)), zap.Uint32("capacity", end-start))
	_, err := e.WriteAt(data, int64(start))
	return err
}

// WriteAt writes directly to the working copy.
func (e *Exporter) WriteAt(p []byte, off int64) (int, error) {
	if e.closed {
		return 0, errors.New("exporter is closed")
	}
	return e.file.WriteAt(p, off)
}

// ReadAt reads from the working copy, including bytes already patched.
func (e *Exporter) ReadAt(p []byte, off int64) (int, error) {
	if e.closed {
		return 0, errors.New("exporter is closed")
	}
	return e.file.ReadAt(p, off)
}

// Close releases the working copy. With a nil failure the copy replaces the
// output path; otherwise it is deleted and the output is left untouched.
// Close is safe to call more than once.
func (e *Exporter) Close(failure error) error {
	if e.closed {
		return nil
	}
	e.closed = true

	log.Debug("closing temporary file", zap.String("temp", e.temp))
	closeErr := e.file.Close()
	if failure != nil || closeErr != nil {
		log.Warn("deleting temporary file because of an error", zap.Error(failure), zap.NamedError("close", closeErr))
		os.Remove(e.temp)
		if failure == nil {
			return errors.Wrap(closeErr, "closing temporary ROM")
		}
		return nil
	}

	log.Info("moving temporary file to output", zap.String("output", e.output))
	err := rename(e.temp, e.output)
	if err == nil {
		return nil
	}
	// Some platforms refuse to rename over an existing file. The old output
	// is moved aside and put back if the second attempt fails too.
	if _, statErr := os.Stat(e.output); statErr != nil {
		os.Remove(e.temp)
		return errors.Wrapf(err, "replacing %s", e.output)
	}
	backup := strings.TrimSuffix(e.temp, ".tmp") + ".bak"
	if bakErr := rename(e.output, backup); bakErr != nil {
		os.Remove(e.temp)
		return errors.Wrapf(err, "replacing %s", e.output)
	}
	if err := rename(e.temp, e.output); err != nil {
		os.Remove(e.temp)
		if restoreErr := rename(backup, e.output); restoreErr != nil {
			log.Error("could not restore previous output", zap.String("backup", backup), zap.Error(restoreErr))
			return errors.Wrapf(err, "replacing %s (previous output left at %s)", e.output, backup)
		}
		return errors.Wrapf(err, "replacing %s", e.output)
	}
	os.Remove(backup)
	return nil
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}
