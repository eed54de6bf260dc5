package processor

import (
	"image"
	"math"
)

// GoldenRatio is (√5 − 1) / 2, the conjugate of the golden ratio.
var GoldenRatio = (math.Sqrt(5) - 1) / 2

const DefaultCropRatio = 0.8

// DefaultCornerRatio scales the shorter crop edge to the corner radius.
var DefaultCornerRatio = GoldenRatio * 0.5

// DefaultIconSizes are the square frame edges packed into the icon file,
// smallest first.
var DefaultIconSizes = []int{16, 32, 48, 64, 128, 256}

// CropRect returns the centered sub-rectangle of bounds whose sides are the
// original sides scaled by ratio and truncated to whole pixels.
func CropRect(bounds image.Rectangle, ratio float64) image.Rectangle {
	w, h := bounds.Dx(), bounds.Dy()
	cw := int(float64(w) * ratio)
	ch := int(float64(h) * ratio)
	left := (w - cw) / 2
	top := (h - ch) / 2

	origin := bounds.Min.Add(image.Pt(left, top))
	return image.Rectangle{Min: origin, Max: origin.Add(image.Pt(cw, ch))}
}

// CornerRadius is the rounded-corner radius for a w x h image.
func CornerRadius(w, h int, ratio float64) int {
	return int(float64(min(w, h)) * ratio)
}
