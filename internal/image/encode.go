package image

import (
	"bytes"
	"image"
	"image/png"

	"golang.org/x/image/draw"
)

// Default encoder qualities, 1-100.
const (
	DefaultWebPQuality = 85
	DefaultAVIFQuality = 75

	// DefaultAVIFSpeed is the libavif speed, 0 (slowest) to 10.
	DefaultAVIFSpeed = 6
)

// Encoder encodes images into the supported output formats.
type Encoder struct {
	WebPQuality int
	AVIFQuality int
	AVIFSpeed   int
}

// EncodeByFormat encodes img with the default qualities.
func EncodeByFormat(img image.Image, format string) ([]byte, string) {
	return Encoder{}.EncodeByFormat(img, format)
}

// EncodeByFormat encodes img as format. AVIF falls back to WebP and WebP to
// PNG when the encoder is unavailable or fails; the returned content type
// names what was actually produced.
func (e Encoder) EncodeByFormat(img image.Image, format string) ([]byte, string) {
	switch format {
	case "avif":
		if b, err := encodeAsAVIF(img, e); err == nil && len(b) > 0 {
			return b, "image/avif"
		}
		fallthrough
	case "webp":
		if b, err := encodeAsWebP(img, e.WebPQuality); err == nil && len(b) > 0 {
			return b, "image/webp"
		}
	}

	b, err := EncodePNG(img)
	if err != nil {
		return nil, ""
	}
	return b, "image/png"
}

// EncodePNG encodes img as a 32-bit RGBA PNG, even when every pixel is
// opaque.
func EncodePNG(img image.Image) ([]byte, error) {
	var buf bytes.Buffer
	if err := png.Encode(&buf, withAlpha(img)); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// nonOpaqueNRGBA stops image/png from dropping the alpha channel.
type nonOpaqueNRGBA struct {
	*image.NRGBA
}

func (nonOpaqueNRGBA) Opaque() bool { return false }

func withAlpha(img image.Image) image.Image {
	n, ok := img.(*image.NRGBA)
	if !ok {
		n = image.NewNRGBA(img.Bounds())
		draw.Draw(n, n.Bounds(), img, img.Bounds().Min, draw.Src)
	}
	return nonOpaqueNRGBA{n}
}

func ContentTypeFor(format string) string {
	switch format {
	case "avif":
		return "image/avif"
	case "webp":
		return "image/webp"
	case "ico":
		return "image/vnd.microsoft.icon"
	default:
		return "image/png"
	}
}

// ExtensionFor maps a content type produced by this package to a file extension.
func ExtensionFor(contentType string) string {
	switch contentType {
	case "image/avif":
		return ".avif"
	case "image/webp":
		return ".webp"
	case "image/vnd.microsoft.icon":
		return ".ico"
	default:
		return ".png"
	}
}

// Supported reports whether format can be produced without falling back.
func Supported(format string) bool {
	switch format {
	case "png", "ico":
		return true
	case "webp":
		return isWebPSupported()
	case "avif":
		return isAVIFSupported()
	}
	return false
}
