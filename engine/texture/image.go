package texture

import (
	"math"
)

// Image is a host copy of one texture subresource, produced by a device readback.
type Image struct {
	Format Format
	Width  int
	Height int
	// Data holds Format.Channels() raw 32-bit words per texel, row-major.
	Data []uint32
}

// NewImage allocates a zeroed image.
func NewImage(format Format, width, height int) *Image {
	return &Image{
		Format: format,
		Width:  width,
		Height: height,
		Data:   make([]uint32, width*height*format.Channels()),
	}
}

// In reports whether (x, y) lies inside the image.
func (img *Image) In(x, y int) bool {
	return x >= 0 && y >= 0 && x < img.Width && y < img.Height
}

// At returns the raw channels of a texel. Out-of-range coordinates return zeros.
func (img *Image) At(x, y int) [4]uint32 {
	var out [4]uint32
	if !img.In(x, y) {
		return out
	}
	c := img.Format.Channels()
	base := (y*img.Width + x) * c
	copy(out[:c], img.Data[base:base+c])
	return out
}

// Set writes the raw channels of a texel. Out-of-range coordinates are ignored.
func (img *Image) Set(x, y int, v [4]uint32) {
	if !img.In(x, y) {
		return
	}
	c := img.Format.Channels()
	base := (y*img.Width + x) * c
	copy(img.Data[base:base+c], v[:c])
}

// Float returns channel 0 of a texel interpreted as a float.
func (img *Image) Float(x, y int) float32 {
	return math.Float32frombits(img.At(x, y)[0])
}

// Float4 returns the texel interpreted as four floats.
func (img *Image) Float4(x, y int) [4]float32 {
	return AsFloat4(img.At(x, y))
}

// Uint returns channel 0 of a texel.
func (img *Image) Uint(x, y int) uint32 {
	return img.At(x, y)[0]
}
