package dump

import (
	"bufio"
	"bytes"
	"cmp"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
	"slices"
	"strings"

	"github.com/Carmen-Shannon/oxy-warp/engine/texture"
	"github.com/klauspost/compress/zlib"
)

// OpenEXR container constants.
// Reference: https://openexr.com/en/latest/OpenEXRFileLayout.html
const (
	exrMagic   = 20000630
	exrVersion = 2

	exrCompressionNone = 0
	exrCompressionZIPS = 2
	exrCompressionZIP  = 3

	exrPixelUint  = 0
	exrPixelFloat = 2

	exrLineOrderIncreasing = 0
)

var (
	errNotEXR            = errors.New("dump: not an OpenEXR file")
	errUnsupportedEXR    = errors.New("dump: unsupported OpenEXR layout")
	errCorruptEXR        = errors.New("dump: corrupt OpenEXR chunk")
	errUnsupportedFormat = errors.New("dump: format has no EXR channel layout")
)

// exrChannel is one channel of the file in name order. Source is the channel index inside a
// texel of the host image.
type exrChannel struct {
	name   string
	source int
}

// channelLayout returns the EXR channels of a format sorted by name, as the file stores them.
func channelLayout(f texture.Format) []exrChannel {
	var names []string
	switch f {
	case texture.FormatRGBA32Float:
		names = []string{"R", "G", "B", "A"}
	case texture.FormatRG32Uint, texture.FormatRG32Float:
		names = []string{"R", "G"}
	case texture.FormatR32Float, texture.FormatR32Uint:
		names = []string{"Y"}
	default:
		return nil
	}
	out := make([]exrChannel, len(names))
	for i, n := range names {
		out[i] = exrChannel{name: n, source: i}
	}
	slices.SortFunc(out, func(a, b exrChannel) int {
		return cmp.Compare(a.name, b.name)
	})
	return out
}

// formatOf maps a sorted channel name list and pixel type back to a texture format.
func formatOf(names []string, pixelType int32) texture.Format {
	key := strings.Join(names, ",")
	switch {
	case key == "A,B,G,R" && pixelType == exrPixelFloat:
		return texture.FormatRGBA32Float
	case key == "G,R" && pixelType == exrPixelFloat:
		return texture.FormatRG32Float
	case key == "G,R" && pixelType == exrPixelUint:
		return texture.FormatRG32Uint
	case key == "Y" && pixelType == exrPixelFloat:
		return texture.FormatR32Float
	case key == "Y" && pixelType == exrPixelUint:
		return texture.FormatR32Uint
	}
	return texture.FormatUnknown
}

// headerWriter appends little-endian header attributes.
type headerWriter struct {
	buf bytes.Buffer
}

func (h *headerWriter) attribute(name, kind string, value []byte) {
	h.buf.WriteString(name)
	h.buf.WriteByte(0)
	h.buf.WriteString(kind)
	h.buf.WriteByte(0)
	h.buf.Write(binary.LittleEndian.AppendUint32(nil, uint32(len(value))))
	h.buf.Write(value)
}

func le32(values ...uint32) []byte {
	out := make([]byte, 0, 4*len(values))
	for _, v := range values {
		out = binary.LittleEndian.AppendUint32(out, v)
	}
	return out
}

// EncodeImage writes img to w as a single part scanline OpenEXR image. Float formats store
// FLOAT channels and unsigned formats UINT channels, both bit exact. Level 0 stores uncompressed
// chunks, any other value is the zlib level of ZIP compression.
//
// Parameters:
//   - w: the destination
//   - img: the image
//   - level: the zlib compression level, 0 for none
//
// Returns:
//   - error: an unsupported format or a write error
func EncodeImage(w io.Writer, img *texture.Image, level int) error {
	channels := channelLayout(img.Format)
	if channels == nil {
		return fmt.Errorf("%w: %s", errUnsupportedFormat, img.Format)
	}
	if img.Width <= 0 || img.Height <= 0 {
		return fmt.Errorf("dump: cannot encode %dx%d image", img.Width, img.Height)
	}

	pixelType := uint32(exrPixelFloat)
	if img.Format.IsUint() {
		pixelType = exrPixelUint
	}
	compression, lines := byte(exrCompressionZIP), 16
	if level == zlib.NoCompression {
		compression, lines = exrCompressionNone, 1
	}

	var chlist bytes.Buffer
	for _, c := range channels {
		chlist.WriteString(c.name)
		chlist.WriteByte(0)
		// pixel type, pLinear + 3 reserved bytes, x and y sampling
		chlist.Write(le32(pixelType, 0, 1, 1))
	}
	chlist.WriteByte(0)

	window := le32(0, 0, uint32(img.Width-1), uint32(img.Height-1))
	var h headerWriter
	h.attribute("channels", "chlist", chlist.Bytes())
	h.attribute("compression", "compression", []byte{compression})
	h.attribute("dataWindow", "box2i", window)
	h.attribute("displayWindow", "box2i", window)
	h.attribute("lineOrder", "lineOrder", []byte{exrLineOrderIncreasing})
	h.attribute("pixelAspectRatio", "float", le32(0x3f800000))
	h.attribute("screenWindowCenter", "v2f", le32(0, 0))
	h.attribute("screenWindowWidth", "float", le32(0x3f800000))
	h.buf.WriteByte(0)

	numChunks := (img.Height + lines - 1) / lines
	chunks := make([][]byte, numChunks)
	stride := img.Format.Channels()
	for i := range chunks {
		y0 := i * lines
		y1 := min(y0+lines, img.Height)
		raw := make([]byte, 0, (y1-y0)*img.Width*len(channels)*4)
		for y := y0; y < y1; y++ {
			for _, c := range channels {
				for x := range img.Width {
					raw = binary.LittleEndian.AppendUint32(raw, img.Data[(y*img.Width+x)*stride+c.source])
				}
			}
		}
		data := raw
		if compression == exrCompressionZIP {
			packed, err := zipCompress(raw, level)
			if err != nil {
				return fmt.Errorf("dump: compress rows %d-%d: %w", y0, y1-1, err)
			}
			if len(packed) < len(raw) {
				data = packed
			}
		}
		chunk := le32(uint32(y0), uint32(len(data)))
		chunks[i] = append(chunk, data...)
	}

	bw := bufio.NewWriter(w)
	bw.Write(le32(exrMagic, exrVersion))
	bw.Write(h.buf.Bytes())
	offset := uint64(8 + h.buf.Len() + 8*numChunks)
	for _, chunk := range chunks {
		bw.Write(binary.LittleEndian.AppendUint64(nil, offset))
		offset += uint64(len(chunk))
	}
	for _, chunk := range chunks {
		bw.Write(chunk)
	}
	return bw.Flush()
}

// zipCompress applies the OpenEXR ZIP pre-pass (byte split then delta predictor) and deflates.
func zipCompress(raw []byte, level int) ([]byte, error) {
	n := len(raw)
	tmp := make([]byte, n)
	half := (n + 1) / 2
	for i, b := range raw {
		if i%2 == 0 {
			tmp[i/2] = b
		} else {
			tmp[half+i/2] = b
		}
	}
	prev := tmp[0]
	for i := 1; i < n; i++ {
		cur := tmp[i]
		tmp[i] = cur - prev + 128
		prev = cur
	}

	var out bytes.Buffer
	zw, err := zlib.NewWriterLevel(&out, level)
	if err != nil {
		return nil, err
	}
	if _, err := zw.Write(tmp); err != nil {
		zw.Close()
		return nil, err
	}
	if err := zw.Close(); err != nil {
		return nil, err
	}
	return out.Bytes(), nil
}

// zipDecompress reverses zipCompress into exactly size bytes.
func zipDecompress(data []byte, size int) ([]byte, error) {
	zr, err := zlib.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	defer zr.Close()
	tmp := make([]byte, size)
	if _, err := io.ReadFull(zr, tmp); err != nil {
		return nil, err
	}
	for i := 1; i < size; i++ {
		tmp[i] = tmp[i-1] + tmp[i] - 128
	}
	raw := make([]byte, size)
	half := (size + 1) / 2
	for i := range raw {
		if i%2 == 0 {
			raw[i] = tmp[i/2]
		} else {
			raw[i] = tmp[half+i/2]
		}
	}
	return raw, nil
}

// exrHeader holds the attributes DecodeImage needs.
type exrHeader struct {
	names       []string
	pixelType   int32
	compression byte
	window      [4]int32
}

func readHeader(r *bufio.Reader) (*exrHeader, error) {
	h := &exrHeader{compression: 255, pixelType: -1}
	haveWindow := false
	for {
		name, err := r.ReadString(0)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", errNotEXR, err)
		}
		if name == "\x00" {
			break
		}
		kind, err := r.ReadString(0)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", errNotEXR, err)
		}
		var size uint32
		if err := binary.Read(r, binary.LittleEndian, &size); err != nil {
			return nil, fmt.Errorf("%w: %v", errNotEXR, err)
		}
		value := make([]byte, size)
		if _, err := io.ReadFull(r, value); err != nil {
			return nil, fmt.Errorf("%w: %v", errNotEXR, err)
		}

		switch name[:len(name)-1] {
		case "channels":
			if err := h.parseChannels(value); err != nil {
				return nil, err
			}
		case "compression":
			if len(value) != 1 {
				return nil, errNotEXR
			}
			h.compression = value[0]
		case "dataWindow":
			if kind != "box2i\x00" || len(value) != 16 {
				return nil, errNotEXR
			}
			for i := range h.window {
				h.window[i] = int32(binary.LittleEndian.Uint32(value[i*4:]))
			}
			haveWindow = true
		}
	}
	if h.names == nil || !haveWindow || h.compression == 255 {
		return nil, fmt.Errorf("%w: missing required attribute", errNotEXR)
	}
	return h, nil
}

func (h *exrHeader) parseChannels(value []byte) error {
	for len(value) > 1 {
		end := bytes.IndexByte(value, 0)
		if end < 0 || len(value) < end+1+16 {
			return fmt.Errorf("%w: truncated channel list", errNotEXR)
		}
		name := string(value[:end])
		info := value[end+1 : end+17]
		pixelType := int32(binary.LittleEndian.Uint32(info))
		xs, ys := binary.LittleEndian.Uint32(info[8:]), binary.LittleEndian.Uint32(info[12:])
		if xs != 1 || ys != 1 {
			return fmt.Errorf("%w: subsampled channel %s", errUnsupportedEXR, name)
		}
		if h.pixelType >= 0 && pixelType != h.pixelType {
			return fmt.Errorf("%w: mixed pixel types", errUnsupportedEXR)
		}
		h.pixelType = pixelType
		h.names = append(h.names, name)
		value = value[end+17:]
	}
	return nil
}

// DecodeImage reads a single part scanline OpenEXR image written with uncompressed, ZIPS or ZIP
// chunks whose channel set matches one of the texture formats.
//
// Parameters:
//   - r: the source
//
// Returns:
//   - *texture.Image: the decoded image
//   - error: a malformed or unsupported file
func DecodeImage(r io.Reader) (*texture.Image, error) {
	br := bufio.NewReader(r)
	var pre [2]uint32
	if err := binary.Read(br, binary.LittleEndian, &pre); err != nil || pre[0] != exrMagic {
		return nil, errNotEXR
	}
	if pre[1]&0xff != exrVersion || pre[1]&^0xff&^0x400 != 0 {
		return nil, fmt.Errorf("%w: version field %#x", errUnsupportedEXR, pre[1])
	}
	h, err := readHeader(br)
	if err != nil {
		return nil, err
	}

	format := formatOf(h.names, h.pixelType)
	if format == texture.FormatUnknown {
		return nil, fmt.Errorf("%w: channels %v of type %d", errUnsupportedEXR, h.names, h.pixelType)
	}
	lines := 1
	switch h.compression {
	case exrCompressionNone, exrCompressionZIPS:
	case exrCompressionZIP:
		lines = 16
	default:
		return nil, fmt.Errorf("%w: compression %d", errUnsupportedEXR, h.compression)
	}

	width := int(h.window[2]-h.window[0]) + 1
	height := int(h.window[3]-h.window[1]) + 1
	if width <= 0 || height <= 0 {
		return nil, fmt.Errorf("%w: empty data window", errNotEXR)
	}
	img := texture.NewImage(format, width, height)
	layout := channelLayout(format)
	stride := format.Channels()

	numChunks := (height + lines - 1) / lines
	if _, err := br.Discard(8 * numChunks); err != nil {
		return nil, fmt.Errorf("%w: offset table: %v", errNotEXR, err)
	}
	// chunks are read in file order; the writer above emits them in increasing y
	for range numChunks {
		var head [2]int32
		if err := binary.Read(br, binary.LittleEndian, &head); err != nil {
			return nil, fmt.Errorf("%w: %v", errCorruptEXR, err)
		}
		y0 := int(head[0] - h.window[1])
		if y0 < 0 || y0 >= height || head[1] < 0 {
			return nil, errCorruptEXR
		}
		y1 := min(y0+lines, height)
		size := (y1 - y0) * width * len(layout) * 4
		data := make([]byte, head[1])
		if _, err := io.ReadFull(br, data); err != nil {
			return nil, fmt.Errorf("%w: %v", errCorruptEXR, err)
		}
		raw := data
		if h.compression != exrCompressionNone && len(data) != size {
			if raw, err = zipDecompress(data, size); err != nil {
				return nil, fmt.Errorf("%w: %v", errCorruptEXR, err)
			}
		}
		if len(raw) != size {
			return nil, errCorruptEXR
		}

		i := 0
		for y := y0; y < y1; y++ {
			for _, c := range layout {
				for x := range width {
					img.Data[(y*width+x)*stride+c.source] = binary.LittleEndian.Uint32(raw[i:])
					i += 4
				}
			}
		}
	}
	return img, nil
}

// ReadImage decodes an OpenEXR file written by WriteImage or Dumper.
//
// Parameters:
//   - path: the file
//
// Returns:
//   - *texture.Image: the decoded image
//   - error: a file system or decode error
func ReadImage(path string) (*texture.Image, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("dump: %w", err)
	}
	defer f.Close()
	img, err := DecodeImage(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return img, nil
}
