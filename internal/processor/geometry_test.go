package processor

import (
	"image"
	"image/color"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCropRect(t *testing.T) {
	tests := []struct {
		name   string
		bounds image.Rectangle
		want   image.Rectangle
	}{
		{"wide", image.Rect(0, 0, 1000, 500), image.Rect(100, 50, 900, 450)},
		{"square", image.Rect(0, 0, 10, 10), image.Rect(1, 1, 9, 9)},
		{"odd", image.Rect(0, 0, 7, 3), image.Rect(1, 0, 6, 2)},
		{"offset origin", image.Rect(10, 20, 110, 70), image.Rect(20, 25, 100, 65)},
		{"too small", image.Rect(0, 0, 1, 1), image.Rect(0, 0, 0, 0)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := CropRect(tt.bounds, DefaultCropRatio)
			if tt.want.Empty() {
				assert.True(t, got.Empty())
				return
			}
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestCropRectStaysInsideSource(t *testing.T) {
	for w := 1; w <= 64; w++ {
		for h := 1; h <= 64; h += 7 {
			b := image.Rect(0, 0, w, h)
			c := CropRect(b, DefaultCropRatio)

			require.Equal(t, int(float64(w)*0.8), c.Dx(), "width for %dx%d", w, h)
			require.Equal(t, int(float64(h)*0.8), c.Dy(), "height for %dx%d", w, h)
			require.GreaterOrEqual(t, c.Min.X, 0)
			require.GreaterOrEqual(t, c.Min.Y, 0)
			require.LessOrEqual(t, c.Max.X, w)
			require.LessOrEqual(t, c.Max.Y, h)
			// Centered: the margins differ by at most one pixel.
			require.LessOrEqual(t, (w-c.Max.X)-c.Min.X, 1)
			require.GreaterOrEqual(t, (w-c.Max.X)-c.Min.X, 0)
		}
	}
}

func TestCornerRadius(t *testing.T) {
	assert.InDelta(t, 0.6180339887, GoldenRatio, 1e-10)

	tests := []struct {
		w, h, want int
	}{
		{800, 400, 123},
		{400, 800, 123},
		{100, 100, 30},
		{1, 1, 0},
	}
	for _, tt := range tests {
		got := CornerRadius(tt.w, tt.h, DefaultCornerRatio)
		assert.Equal(t, tt.want, got, "%dx%d", tt.w, tt.h)

		want := int(math.Floor(float64(min(tt.w, tt.h)) * 0.6180339887 * 0.5))
		assert.Equal(t, want, got)
	}
}

// signedDistance is negative inside the rounded rectangle [0,w]x[0,h]
// with corner radius r.
func signedDistance(px, py, w, h, r float64) float64 {
	qx := math.Abs(px-w/2) - (w/2 - r)
	qy := math.Abs(py-h/2) - (h/2 - r)
	outside := math.Hypot(math.Max(qx, 0), math.Max(qy, 0))
	inside := math.Min(math.Max(qx, qy), 0)
	return outside + inside - r
}

func TestRoundedMask(t *testing.T) {
	const w, h, r = 200, 100, 30
	mask := RoundedMask(w, h, r)
	require.Equal(t, image.Rect(0, 0, w, h), mask.Bounds())

	inside, outside := 0, 0
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			d := signedDistance(float64(x)+0.5, float64(y)+0.5, w, h, r)
			a := mask.AlphaAt(x, y).A
			switch {
			case d < -1:
				inside++
				require.Equal(t, uint8(255), a, "pixel (%d,%d)", x, y)
			case d > 1:
				outside++
				require.Equal(t, uint8(0), a, "pixel (%d,%d)", x, y)
			}
		}
	}
	assert.Positive(t, inside)
	assert.Positive(t, outside)

	// Edges between the corners are fully covered.
	assert.Equal(t, uint8(255), mask.AlphaAt(w/2, 0).A)
	assert.Equal(t, uint8(255), mask.AlphaAt(0, h/2).A)
	// The boundary is anti-aliased.
	partial := false
	for x := 0; x < r; x++ {
		if a := mask.AlphaAt(x, x).A; a > 0 && a < 255 {
			partial = true
		}
	}
	assert.True(t, partial)
}

func TestRoundedMaskSquareCorners(t *testing.T) {
	mask := RoundedMask(5, 3, 0)
	for y := 0; y < 3; y++ {
		for x := 0; x < 5; x++ {
			require.Equal(t, uint8(255), mask.AlphaAt(x, y).A)
		}
	}
}

func TestRoundedMaskClampsRadius(t *testing.T) {
	// r larger than half the short side yields a stadium, not garbage.
	mask := RoundedMask(40, 20, 100)
	assert.Equal(t, uint8(255), mask.AlphaAt(20, 10).A)
	assert.Equal(t, uint8(0), mask.AlphaAt(0, 0).A)
}

func TestComposite(t *testing.T) {
	src := image.NewNRGBA(image.Rect(0, 0, 50, 50))
	for y := 0; y < 50; y++ {
		for x := 0; x < 50; x++ {
			src.SetNRGBA(x, y, color.NRGBA{R: uint8(x * 5), G: uint8(y * 5), B: 90, A: 128})
		}
	}
	crop := CropRect(src.Bounds(), DefaultCropRatio) // (5,5)-(45,45)
	mask := RoundedMask(crop.Dx(), crop.Dy(), CornerRadius(crop.Dx(), crop.Dy(), DefaultCornerRatio))

	out := Composite(src, crop, mask)
	require.Equal(t, image.Rect(0, 0, 40, 40), out.Bounds())

	assert.Zero(t, out.NRGBAAt(0, 0).A)
	assert.Zero(t, out.NRGBAAt(39, 39).A)

	for _, p := range []image.Point{{20, 20}, {10, 30}, {35, 5}, {5, 35}} {
		assert.Equal(t, src.NRGBAAt(p.X+5, p.Y+5), out.NRGBAAt(p.X, p.Y), "pixel %v", p)
	}
}

func TestCompositeKeepsFaintColor(t *testing.T) {
	src := image.NewNRGBA(image.Rect(0, 0, 20, 20))
	for i := 0; i < len(src.Pix); i += 4 {
		copy(src.Pix[i:i+4], []uint8{200, 100, 50, 10})
	}
	crop := CropRect(src.Bounds(), DefaultCropRatio)
	out := Composite(src, crop, RoundedMask(crop.Dx(), crop.Dy(), 0))

	assert.Equal(t, color.NRGBA{R: 200, G: 100, B: 50, A: 10}, out.NRGBAAt(8, 8))
}
