package dump

import (
	"github.com/Carmen-Shannon/oxy-warp/common"
	"github.com/klauspost/compress/zlib"
)

// DumperBuilderOption is a functional option applied to a dumper during construction via NewDumper.
type DumperBuilderOption func(*dumper)

// WithStyle sets the file naming convention.
//
// Parameters:
//   - style: the naming style
//
// Returns:
//   - DumperBuilderOption: a function that applies the style option to a dumper
func WithStyle(style Style) DumperBuilderOption {
	return func(d *dumper) {
		d.style = style
	}
}

// WithCompressionLevel sets the zlib level of ZIP compressed chunks. Level 0 writes uncompressed
// files.
//
// Parameters:
//   - level: a zlib level, zlib.DefaultCompression by default
//
// Returns:
//   - DumperBuilderOption: a function that applies the compression option to a dumper
func WithCompressionLevel(level int) DumperBuilderOption {
	return func(d *dumper) {
		d.level = common.Clamp(level, zlib.HuffmanOnly, zlib.BestCompression)
	}
}
