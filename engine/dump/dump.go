// Package dump writes device textures to OpenEXR files for offline inspection.
package dump

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/Carmen-Shannon/oxy-warp/common"
	"github.com/Carmen-Shannon/oxy-warp/engine/device"
	"github.com/Carmen-Shannon/oxy-warp/engine/texture"
	"github.com/klauspost/compress/zlib"
)

// Style selects the file naming convention.
type Style int

const (
	// NameUnderscore names files <name>_<frame>.exr.
	NameUnderscore Style = iota
	// NameDotPadded names files <name>.<frame padded to 4 digits>.exr.
	NameDotPadded
)

// FileName returns the file name of a buffer at a frame index.
func (s Style) FileName(name string, frame int) string {
	if s == NameDotPadded {
		return fmt.Sprintf("%s.%04d.exr", name, frame)
	}
	return fmt.Sprintf("%s_%d.exr", name, frame)
}

type dumper struct {
	mu    *sync.Mutex
	dev   device.Device
	dir   string
	style Style
	level int
}

// Dumper reads textures back from a device and writes them as scanline EXR images, ZIP compressed
// unless configured otherwise.
// RGBA32Float becomes R, G, B, A float channels, R32Float a Y float channel, R32Uint a Y uint
// channel and the two-channel formats R, G channels of their own type.
type Dumper interface {
	// Dump writes one texture as <dir>/<Style.FileName(name, frame)>, creating dir on demand.
	//
	// Parameters:
	//   - ctx: the context for the readback
	//   - name: the buffer name
	//   - frame: the frame index
	//   - tex: the texture to write
	//
	// Returns:
	//   - string: the written path
	//   - error: a readback, file system or encoding error
	Dump(ctx context.Context, name string, frame int, tex texture.Texture) (string, error)

	// DumpAll writes every named texture of a frame. Nil textures are skipped.
	//
	// Parameters:
	//   - ctx: the context for the readbacks
	//   - frame: the frame index
	//   - named: the textures keyed by buffer name
	//
	// Returns:
	//   - error: the first failure
	DumpAll(ctx context.Context, frame int, named map[string]texture.Texture) error

	// Dir returns the output directory.
	Dir() string

	// SetDir changes the output directory.
	SetDir(dir string)
}

var _ Dumper = &dumper{}

// NewDumper creates a Dumper writing into dir.
//
// Parameters:
//   - dev: the device textures are read back from
//   - dir: the output directory
//   - options: variadic list of DumperBuilderOption functions
//
// Returns:
//   - Dumper: the dumper
func NewDumper(dev device.Device, dir string, options ...DumperBuilderOption) Dumper {
	d := &dumper{mu: &sync.Mutex{}, dev: dev, dir: dir, level: zlib.DefaultCompression}
	for _, opt := range options {
		opt(d)
	}
	return d
}

func (d *dumper) Dir() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.dir
}

func (d *dumper) SetDir(dir string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.dir = dir
}

func (d *dumper) Dump(ctx context.Context, name string, frame int, tex texture.Texture) (string, error) {
	d.mu.Lock()
	dir, style, level := d.dir, d.style, d.level
	d.mu.Unlock()

	img, err := d.dev.Readback(ctx, texture.Of(tex))
	if err != nil {
		return "", fmt.Errorf("dump: read %s: %w", name, err)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("dump: %w", err)
	}
	path := filepath.Join(dir, style.FileName(name, frame))
	if err := writeImage(path, img, level); err != nil {
		return "", err
	}
	common.Logger().Debug("buffer dumped", "component", "dump", "path", path)
	return path, nil
}

func (d *dumper) DumpAll(ctx context.Context, frame int, named map[string]texture.Texture) error {
	for name, tex := range named {
		if tex == nil {
			continue
		}
		if _, err := d.Dump(ctx, name, frame, tex); err != nil {
			return err
		}
	}
	return nil
}

// WriteImage encodes a host image as a ZIP compressed scanline EXR at the default zlib level.
//
// Parameters:
//   - path: the output file
//   - img: the image
//
// Returns:
//   - error: an unsupported format, file system or encoding error
func WriteImage(path string, img *texture.Image) error {
	return writeImage(path, img, zlib.DefaultCompression)
}

func writeImage(path string, img *texture.Image, level int) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("dump: %w", err)
	}
	if err := EncodeImage(f, img, level); err != nil {
		f.Close()
		os.Remove(path)
		return fmt.Errorf("dump: %s: %w", path, err)
	}
	return f.Close()
}
