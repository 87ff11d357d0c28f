package dump

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"math"
	"os"
	"path/filepath"
	"slices"
	"testing"

	"github.com/Carmen-Shannon/oxy-warp/engine/device"
	"github.com/Carmen-Shannon/oxy-warp/engine/device/cpu"
	"github.com/Carmen-Shannon/oxy-warp/engine/texture"
	"github.com/klauspost/compress/zlib"
)

func TestStyleFileName(t *testing.T) {
	tests := []struct {
		style Style
		name  string
		frame int
		want  string
	}{
		{NameUnderscore, "gPosWS", 7, "gPosWS_7.exr"},
		{NameUnderscore, "woSplat", 120, "woSplat_120.exr"},
		{NameDotPadded, "gPosWS", 7, "gPosWS.0007.exr"},
		{NameDotPadded, "PreTonemapped_out", 12345, "PreTonemapped_out.12345.exr"},
	}
	for _, tt := range tests {
		if got := tt.style.FileName(tt.name, tt.frame); got != tt.want {
			t.Errorf("FileName(%q, %d) = %q, want %q", tt.name, tt.frame, got, tt.want)
		}
	}
}

func uploaded(t *testing.T, dev device.Device, label string, img *texture.Image) texture.Texture {
	t.Helper()
	tex, err := dev.Create2D(texture.Descriptor{
		Label: label, Width: uint32(img.Width), Height: uint32(img.Height),
		ArraySize: 1, MipLevels: 1, Format: img.Format, Bind: device.StorageBind,
	})
	if err != nil {
		t.Fatalf("Create2D(%s) error = %v", label, err)
	}
	if err := dev.Upload(context.Background(), texture.Of(tex), img); err != nil {
		t.Fatalf("Upload(%s) error = %v", label, err)
	}
	return tex
}

func TestDumpRoundTrip(t *testing.T) {
	dev := cpu.NewDevice(cpu.WithWorkers(1))
	t.Cleanup(dev.Close)

	color := texture.NewImage(texture.FormatRGBA32Float, 4, 3)
	color.Set(1, 2, texture.Float4(0.25, 0.5, 0.75, 1))
	ids := texture.NewImage(texture.FormatR32Uint, 4, 3)
	ids.Set(3, 0, [4]uint32{42})

	dir := filepath.Join(t.TempDir(), "frames", "run")
	d := NewDumper(dev, dir, WithStyle(NameDotPadded))
	path, err := d.Dump(context.Background(), "gRender", 3, uploaded(t, dev, "color", color))
	if err != nil {
		t.Fatalf("Dump() error = %v", err)
	}
	if want := filepath.Join(dir, "gRender.0003.exr"); path != want {
		t.Errorf("Dump() path = %q, want %q", path, want)
	}

	got, err := ReadImage(path)
	if err != nil {
		t.Fatalf("ReadImage() error = %v", err)
	}
	if got.Format != texture.FormatRGBA32Float || got.Width != 4 || got.Height != 3 {
		t.Fatalf("ReadImage() = %s %dx%d, want RGBA32Float 4x3", got.Format, got.Width, got.Height)
	}
	if px := got.Float4(1, 2); px != [4]float32{0.25, 0.5, 0.75, 1} {
		t.Errorf("texel (1,2) = %v, want [0.25 0.5 0.75 1]", px)
	}
	if px := got.Float4(0, 0); px != [4]float32{} {
		t.Errorf("texel (0,0) = %v, want zeros", px)
	}

	if err := d.DumpAll(context.Background(), 3, map[string]texture.Texture{
		"gInstanceID": uploaded(t, dev, "ids", ids),
		"missing":     nil,
	}); err != nil {
		t.Fatalf("DumpAll() error = %v", err)
	}
	back, err := ReadImage(filepath.Join(dir, "gInstanceID.0003.exr"))
	if err != nil {
		t.Fatalf("ReadImage() error = %v", err)
	}
	if back.Format != texture.FormatR32Uint {
		t.Errorf("Format = %s, want R32Uint", back.Format)
	}
	if v := back.Uint(3, 0); v != 42 {
		t.Errorf("Uint(3,0) = %d, want 42", v)
	}
	if _, err := os.Stat(filepath.Join(dir, "missing.0003.exr")); !os.IsNotExist(err) {
		t.Errorf("nil texture was dumped: %v", err)
	}
}

func TestDumperDir(t *testing.T) {
	dev := cpu.NewDevice(cpu.WithWorkers(1))
	t.Cleanup(dev.Close)

	d := NewDumper(dev, "a")
	d.SetDir("b")
	if got := d.Dir(); got != "b" {
		t.Errorf("Dir() = %q, want %q", got, "b")
	}
}

func TestWriteImageRejectsEmpty(t *testing.T) {
	path := filepath.Join(t.TempDir(), "empty.exr")
	if err := WriteImage(path, texture.NewImage(texture.FormatR32Float, 0, 0)); err == nil {
		t.Error("WriteImage() of an empty image succeeded")
	}
	if err := WriteImage(path, &texture.Image{Format: texture.FormatUnknown, Width: 1, Height: 1}); err == nil {
		t.Error("WriteImage() of an unknown format succeeded")
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Errorf("failed write left %s behind: %v", path, err)
	}
}

// gradient fills every channel with values that vary across rows and columns, so ZIP chunks
// compress and span several scanline blocks.
func gradient(format texture.Format, w, h int) *texture.Image {
	img := texture.NewImage(format, w, h)
	for i := range img.Data {
		if format.IsUint() {
			img.Data[i] = uint32(i * 7)
		} else {
			img.Data[i] = math.Float32bits(float32(i) * 0.125)
		}
	}
	return img
}

func TestEncodeDecodeEveryFormat(t *testing.T) {
	formats := []texture.Format{
		texture.FormatRGBA32Float,
		texture.FormatR32Float,
		texture.FormatR32Uint,
		texture.FormatRG32Uint,
		texture.FormatRG32Float,
	}
	levels := []struct {
		name  string
		level int
	}{
		{"zip default", zlib.DefaultCompression},
		{"zip best", zlib.BestCompression},
		{"uncompressed", zlib.NoCompression},
	}
	for _, f := range formats {
		for _, l := range levels {
			t.Run(f.String()+"/"+l.name, func(t *testing.T) {
				want := gradient(f, 9, 37)
				var buf bytes.Buffer
				if err := EncodeImage(&buf, want, l.level); err != nil {
					t.Fatalf("EncodeImage() error = %v", err)
				}
				got, err := DecodeImage(&buf)
				if err != nil {
					t.Fatalf("DecodeImage() error = %v", err)
				}
				if got.Format != f || got.Width != 9 || got.Height != 37 {
					t.Fatalf("DecodeImage() = %s %dx%d, want %s 9x37", got.Format, got.Width, got.Height, f)
				}
				if !slices.Equal(got.Data, want.Data) {
					t.Errorf("DecodeImage() data differs from the encoded image")
				}
			})
		}
	}
}

func TestEncodeImageHeader(t *testing.T) {
	var buf bytes.Buffer
	if err := EncodeImage(&buf, gradient(texture.FormatRGBA32Float, 2, 2), zlib.DefaultCompression); err != nil {
		t.Fatalf("EncodeImage() error = %v", err)
	}
	data := buf.Bytes()
	if got := binary.LittleEndian.Uint32(data); got != exrMagic {
		t.Errorf("magic = %d, want %d", got, exrMagic)
	}
	if got := binary.LittleEndian.Uint32(data[4:]); got != exrVersion {
		t.Errorf("version field = %#x, want %#x", got, exrVersion)
	}

	// channels are listed alphabetically, each followed by a FLOAT pixel type
	var order []int
	for _, name := range []string{"A", "B", "G", "R"} {
		entry := append([]byte(name+"\x00"), 2, 0, 0, 0)
		i := bytes.Index(data, entry)
		if i < 0 {
			t.Fatalf("header is missing a FLOAT %s channel", name)
		}
		order = append(order, i)
	}
	if !slices.IsSorted(order) {
		t.Errorf("channel offsets = %v, want increasing", order)
	}
}

func TestDecodeImageRejects(t *testing.T) {
	var good bytes.Buffer
	if err := EncodeImage(&good, gradient(texture.FormatR32Float, 3, 3), zlib.DefaultCompression); err != nil {
		t.Fatalf("EncodeImage() error = %v", err)
	}
	truncated := good.Bytes()[:good.Len()-4]

	tests := []struct {
		name string
		data []byte
		want error
	}{
		{"empty", nil, errNotEXR},
		{"bad magic", []byte("PNG\x00\x02\x00\x00\x00"), errNotEXR},
		{"truncated chunk", truncated, errCorruptEXR},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := DecodeImage(bytes.NewReader(tt.data)); !errors.Is(err, tt.want) {
				t.Errorf("DecodeImage() error = %v, want %v", err, tt.want)
			}
		})
	}
}
