package image

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"image/gif"
	"image/jpeg"
	"image/png"
	"sort"
	"strings"

	"github.com/gen2brain/avif"
	"github.com/h2non/filetype"
	ico "github.com/sergeymakinen/go-ico"
	"golang.org/x/image/bmp"
	"golang.org/x/image/tiff"
	xwebp "golang.org/x/image/webp"

	"roundicon/internal/icon"
)

// ErrUnsupportedFormat is returned when no decoder accepts the input.
var ErrUnsupportedFormat = errors.New("unsupported image format")

// DefaultSVGSize is the longer edge, in pixels, SVG input is rasterized to.
const DefaultSVGSize = 1024

type rasterDecoder struct {
	name   string
	decode func([]byte) (image.Image, error)
}

var rasterDecoders = []rasterDecoder{
	{"png", func(b []byte) (image.Image, error) { return png.Decode(bytes.NewReader(b)) }},
	{"jpeg", func(b []byte) (image.Image, error) { return jpeg.Decode(bytes.NewReader(b)) }},
	{"gif", func(b []byte) (image.Image, error) { return gif.Decode(bytes.NewReader(b)) }},
	{"webp", func(b []byte) (image.Image, error) { return xwebp.Decode(bytes.NewReader(b)) }},
	{"bmp", func(b []byte) (image.Image, error) { return bmp.Decode(bytes.NewReader(b)) }},
	{"tiff", func(b []byte) (image.Image, error) { return tiff.Decode(bytes.NewReader(b)) }},
	{"avif", func(b []byte) (image.Image, error) { return avif.Decode(bytes.NewReader(b)) }},
	{"ico", DecodeICOSelectLargest},
}

// filetype extensions mapped onto decoder names.
var sniffedFormats = map[string]string{
	"png":  "png",
	"jpg":  "jpeg",
	"gif":  "gif",
	"webp": "webp",
	"bmp":  "bmp",
	"tif":  "tiff",
	"avif": "avif",
	"ico":  "ico",
}

// Decoder turns encoded bytes into an image.
type Decoder struct {
	// SVGSize is the longer edge SVG input is rasterized to.
	SVGSize int
}

// Decode decodes b with the default decoder settings.
func Decode(b []byte) (image.Image, string, error) {
	return Decoder{SVGSize: DefaultSVGSize}.Decode(b)
}

// Decode sniffs the format of b and decodes it, returning the format name.
// Content that cannot be identified is offered to every raster decoder in turn.
func (d Decoder) Decode(b []byte) (image.Image, string, error) {
	if len(b) == 0 {
		return nil, "", fmt.Errorf("empty input: %w", ErrUnsupportedFormat)
	}

	if LooksLikeSVG(b) {
		size := d.SVGSize
		if size <= 0 {
			size = DefaultSVGSize
		}
		img, err := RasterizeSVG(b, size)
		if err != nil {
			return nil, "svg", err
		}
		return img, "svg", nil
	}

	if kind, err := filetype.Match(b); err == nil && kind != filetype.Unknown {
		if name, ok := sniffedFormats[kind.Extension]; ok {
			for _, rd := range rasterDecoders {
				if rd.name == name {
					img, err := rd.decode(b)
					if err != nil {
						return nil, name, fmt.Errorf("decode %s: %w", name, err)
					}
					return img, name, nil
				}
			}
		}
		if !filetype.IsImage(b) {
			return nil, kind.Extension, fmt.Errorf("%s content: %w", kind.MIME.Value, ErrUnsupportedFormat)
		}
	}

	return DecodeImageRasterOnly(b)
}

// DecodeImageRasterOnly tries each raster decoder in turn.
func DecodeImageRasterOnly(b []byte) (image.Image, string, error) {
	for _, rd := range rasterDecoders {
		if img, err := rd.decode(b); err == nil {
			return img, rd.name, nil
		}
	}
	return nil, "", ErrUnsupportedFormat
}

// LooksLikeSVG reports whether b starts like SVG markup.
func LooksLikeSVG(b []byte) bool {
	head := b
	if len(head) > 1024 {
		head = head[:1024]
	}
	s := strings.ToLower(strings.TrimSpace(string(bytes.TrimPrefix(head, []byte("\xef\xbb\xbf")))))
	if strings.HasPrefix(s, "<svg") {
		return true
	}
	return (strings.HasPrefix(s, "<?xml") || strings.HasPrefix(s, "<!doctype svg")) && strings.Contains(s, "<svg")
}

// DecodeICOSelectLargest decodes the best frame of an ICO file: PNG frames
// before BMP ones, then larger frames, then deeper ones.
func DecodeICOSelectLargest(b []byte) (image.Image, error) {
	entries, err := icon.ReadDirectory(b)
	if err != nil {
		if errors.Is(err, icon.ErrTooSmall) {
			return nil, err
		}
		return ico.Decode(bytes.NewReader(b))
	}

	sort.SliceStable(entries, func(i, j int) bool {
		if entries[i].IsPNG != entries[j].IsPNG {
			return entries[i].IsPNG
		}
		if a, b := entries[i].Area(), entries[j].Area(); a != b {
			return a > b
		}
		return entries[i].BitCount > entries[j].BitCount
	})

	for _, e := range entries {
		data := e.Data(b)
		if e.IsPNG {
			if img, err := png.Decode(bytes.NewReader(data)); err == nil {
				return img, nil
			}
			continue
		}
		// BMP frames frequently lose their transparency; skip ones that come
		// out blank and let go-ico handle the AND mask below.
		if img, err := bmp.Decode(bytes.NewReader(data)); err == nil && !IsNearlyBlank(img) {
			return img, nil
		}
	}

	return ico.Decode(bytes.NewReader(b))
}
