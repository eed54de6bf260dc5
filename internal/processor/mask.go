package processor

import (
	"image"

	"golang.org/x/image/draw"
	"golang.org/x/image/vector"
)

// kappa places cubic Bézier control points so a quarter curve approximates a
// circular arc.
const kappa = 0.5522847498

// RoundedMask returns a w x h alpha mask that is opaque inside a rectangle
// spanning the whole canvas with corners of radius r, transparent outside,
// and anti-aliased along the boundary. r is clamped to half the shorter side.
func RoundedMask(w, h, r int) *image.Alpha {
	mask := image.NewAlpha(image.Rect(0, 0, w, h))
	if w <= 0 || h <= 0 {
		return mask
	}
	r = max(0, min(r, min(w, h)/2))

	fw, fh, fr := float32(w), float32(h), float32(r)
	k := fr * kappa

	z := vector.NewRasterizer(w, h)
	z.DrawOp = draw.Src
	if r == 0 {
		z.MoveTo(0, 0)
		z.LineTo(fw, 0)
		z.LineTo(fw, fh)
		z.LineTo(0, fh)
	} else {
		z.MoveTo(fr, 0)
		z.LineTo(fw-fr, 0)
		z.CubeTo(fw-fr+k, 0, fw, fr-k, fw, fr)
		z.LineTo(fw, fh-fr)
		z.CubeTo(fw, fh-fr+k, fw-fr+k, fh, fw-fr, fh)
		z.LineTo(fr, fh)
		z.CubeTo(fr-k, fh, 0, fh-fr+k, 0, fh-fr)
		z.LineTo(0, fr)
		z.CubeTo(0, fr-k, fr-k, 0, fr, 0)
	}
	z.ClosePath()
	z.Draw(mask, mask.Bounds(), image.Opaque, image.Point{})
	return mask
}

// Composite pastes the crop region of src onto a transparent canvas through
// mask. Where the mask is opaque the source pixel is copied unchanged, where
// it is transparent the canvas stays transparent. The canvas is
// non-premultiplied so translucent source pixels keep their exact color.
func Composite(src image.Image, crop image.Rectangle, mask *image.Alpha) *image.NRGBA {
	dst := image.NewNRGBA(image.Rect(0, 0, crop.Dx(), crop.Dy()))
	draw.DrawMask(dst, dst.Bounds(), src, crop.Min, mask, image.Point{}, draw.Over)
	return dst
}
