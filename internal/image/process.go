package image

import (
	"bytes"
	"fmt"
	"image"
	"image/png"
	"strings"

	"github.com/tdewolff/canvas"
	"github.com/tdewolff/canvas/renderers"
	"golang.org/x/image/draw"
)

// RasterizeSVG renders SVG bytes so that the longer edge of the result is
// size pixels. The aspect ratio is preserved and the background stays
// transparent.
func RasterizeSVG(svgBytes []byte, size int) (image.Image, error) {
	svgBytes = preprocessSVG(svgBytes)

	c, err := canvas.ParseSVG(bytes.NewReader(svgBytes))
	if err != nil {
		return nil, fmt.Errorf("failed to parse SVG: %w", err)
	}

	svgW, svgH := c.Size()
	if svgW <= 0 || svgH <= 0 {
		return nil, fmt.Errorf("invalid SVG dimensions: %v x %v", svgW, svgH)
	}

	// canvas works in millimetres, 1 inch = 25.4 mm
	longest := svgW
	if svgH > longest {
		longest = svgH
	}
	dpi := float64(size) / (longest / 25.4)

	var buf bytes.Buffer
	if err := c.Write(&buf, renderers.PNG(canvas.DPI(dpi))); err != nil {
		return nil, fmt.Errorf("failed to render SVG to PNG: %w", err)
	}
	if buf.Len() == 0 {
		return nil, fmt.Errorf("SVG rendered to empty buffer")
	}

	img, err := png.Decode(&buf)
	if err != nil {
		return nil, fmt.Errorf("failed to decode rendered PNG: %w", err)
	}
	return img, nil
}

// preprocessSVG fixes common SVG issues that cause rendering problems.
func preprocessSVG(data []byte) []byte {
	s := string(data)

	if !strings.Contains(s, "xmlns") && strings.Contains(s, "<svg") {
		s = strings.Replace(s, "<svg", `<svg xmlns="http://www.w3.org/2000/svg"`, 1)
	}

	// currentColor has no context outside a document; render it black.
	s = strings.ReplaceAll(s, "currentColor", "#000000")

	return []byte(s)
}

// ResizeImage resamples img onto a transparent size x size canvas with the
// Catmull-Rom kernel. The kernel widens with the scale factor, so large
// reductions average over the whole source footprint.
func ResizeImage(img image.Image, size int) *image.NRGBA {
	dst := image.NewNRGBA(image.Rect(0, 0, size, size))
	draw.CatmullRom.Scale(dst, dst.Bounds(), img, img.Bounds(), draw.Src, nil)
	return dst
}

// IsNearlyBlank checks if an image is mostly transparent.
func IsNearlyBlank(img image.Image) bool {
	if img == nil {
		return true
	}
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	stepX := max(w/16, 1)
	stepY := max(h/16, 1)

	nonTransparent := 0
	for y := b.Min.Y; y < b.Max.Y; y += stepY {
		for x := b.Min.X; x < b.Max.X; x += stepX {
			_, _, _, a := img.At(x, y).RGBA()
			if a > 0x0100 {
				nonTransparent++
				if nonTransparent > 8 {
					return false
				}
			}
		}
	}
	return true
}
