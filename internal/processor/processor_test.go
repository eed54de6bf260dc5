package processor

import (
	"bytes"
	"errors"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"testing"

	ico "github.com/sergeymakinen/go-ico"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"roundicon/internal/icon"
	imgpkg "roundicon/internal/image"
)

func gradient(w, h int) *image.NRGBA {
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.SetNRGBA(x, y, color.NRGBA{R: uint8(x), G: uint8(y), B: 77, A: 255})
		}
	}
	return img
}

func writePNG(t *testing.T, path string, img image.Image) {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	require.NoError(t, os.WriteFile(path, buf.Bytes(), 0o644))
}

func newProcessor(t *testing.T, opts Options) *Processor {
	t.Helper()
	p, err := New(opts)
	require.NoError(t, err)
	return p
}

func TestProcessFileWideImage(t *testing.T) {
	dir := t.TempDir()
	in := filepath.Join(dir, "banner.png")
	writePNG(t, in, gradient(1000, 500))
	outDir := filepath.Join(dir, "out")

	p := newProcessor(t, DefaultOptions())
	res, err := p.ProcessFile(in, outDir)
	require.NoError(t, err)

	assert.Equal(t, filepath.Join(outDir, "banner_processed.png"), res.PNGPath)
	assert.Equal(t, filepath.Join(outDir, "banner_processed.ico"), res.ICOPath)
	assert.Empty(t, res.Extra)

	f, err := os.Open(res.PNGPath)
	require.NoError(t, err)
	defer f.Close()
	out, err := png.Decode(f)
	require.NoError(t, err)
	require.Equal(t, image.Rect(0, 0, 800, 400), out.Bounds())

	// Corners are clipped, the interior keeps the cropped source pixel.
	for _, pt := range []image.Point{{0, 0}, {799, 0}, {0, 399}, {799, 399}, {20, 20}} {
		_, _, _, a := out.At(pt.X, pt.Y).RGBA()
		assert.Zero(t, a, "pixel %v", pt)
	}
	got := color.NRGBAModel.Convert(out.At(400, 200)).(color.NRGBA)
	assert.Equal(t, color.NRGBA{R: 500 % 256, G: 250, B: 77, A: 255}, got)
	got = color.NRGBAModel.Convert(out.At(400, 0)).(color.NRGBA)
	assert.Equal(t, uint8(255), got.A)

	data, err := os.ReadFile(res.ICOPath)
	require.NoError(t, err)
	entries, err := icon.ReadDirectory(data)
	require.NoError(t, err)
	require.Len(t, entries, 6)
	frames, err := ico.DecodeAll(bytes.NewReader(data))
	require.NoError(t, err)
	require.Len(t, frames, 6)
	for i, want := range []int{16, 32, 48, 64, 128, 256} {
		e := entries[i]
		assert.Equal(t, want, e.Width)
		assert.Equal(t, want, e.Height)
		assert.Equal(t, 32, e.BitCount)

		frame := frames[i]
		assert.Equal(t, want, frame.Bounds().Dx())
		if want >= 64 {
			// Smaller frames blend the clipped corner with the opaque edge.
			_, _, _, a := frame.At(0, 0).RGBA()
			assert.Zero(t, a, "frame %d corner", want)
		}
		_, _, _, a := frame.At(want/2, want/2).RGBA()
		assert.Equal(t, uint32(0xffff), a, "frame %d center", want)
	}
}

func decodePNGFile(t *testing.T, path string) image.Image {
	t.Helper()
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	img, err := png.Decode(bytes.NewReader(data))
	require.NoError(t, err)
	return img
}

func TestProcessFileKeepsTranslucentColor(t *testing.T) {
	dir := t.TempDir()
	src := image.NewNRGBA(image.Rect(0, 0, 100, 100))
	for i := 0; i < len(src.Pix); i += 4 {
		copy(src.Pix[i:i+4], []uint8{200, 100, 50, 10})
	}
	in := filepath.Join(dir, "faint.png")
	writePNG(t, in, src)

	res, err := newProcessor(t, DefaultOptions()).ProcessFile(in, dir)
	require.NoError(t, err)

	out := decodePNGFile(t, res.PNGPath)
	got := color.NRGBAModel.Convert(out.At(40, 40)).(color.NRGBA)
	assert.Equal(t, color.NRGBA{R: 200, G: 100, B: 50, A: 10}, got)
}

func TestProcessFileSquareCornersStayRGBA(t *testing.T) {
	dir := t.TempDir()
	in := filepath.Join(dir, "square.png")
	writePNG(t, in, gradient(50, 50))

	opts := DefaultOptions()
	opts.CornerRatio = 0
	res, err := newProcessor(t, opts).ProcessFile(in, dir)
	require.NoError(t, err)

	data, err := os.ReadFile(res.PNGPath)
	require.NoError(t, err)
	// IHDR color type byte: 6 is truecolor with alpha.
	require.Greater(t, len(data), 25)
	assert.Equal(t, byte(6), data[25])
	assert.Equal(t, color.NRGBAModel, decodePNGFile(t, res.PNGPath).ColorModel())
}

func TestProcessFileDefaultsToInputDirectory(t *testing.T) {
	dir := t.TempDir()
	in := filepath.Join(dir, "logo.v2.png")
	writePNG(t, in, gradient(64, 64))

	res, err := newProcessor(t, DefaultOptions()).ProcessFile(in, "")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "logo.v2_processed.png"), res.PNGPath)
	assert.FileExists(t, res.PNGPath)
	assert.FileExists(t, res.ICOPath)
}

func TestProcessFileMissingInput(t *testing.T) {
	dir := t.TempDir()
	outDir := filepath.Join(dir, "never")

	res, err := newProcessor(t, DefaultOptions()).ProcessFile(filepath.Join(dir, "nope.webp"), outDir)
	require.ErrorIs(t, err, ErrInputNotFound)
	assert.Equal(t, Result{}, res)
	assert.Empty(t, Stage(err))
	assert.NoDirExists(t, outDir)
}

func TestProcessFileUndecodable(t *testing.T) {
	dir := t.TempDir()
	in := filepath.Join(dir, "notes.png")
	require.NoError(t, os.WriteFile(in, []byte("definitely not pixels"), 0o644))
	outDir := filepath.Join(dir, "out")

	res, err := newProcessor(t, DefaultOptions()).ProcessFile(in, outDir)
	require.Error(t, err)
	assert.Equal(t, Result{}, res)

	var pe *ProcessingError
	require.True(t, errors.As(err, &pe))
	assert.Equal(t, StageDecode, pe.Stage)
	assert.ErrorIs(t, err, imgpkg.ErrUnsupportedFormat)
	assert.NoDirExists(t, outDir)
}

func TestProcessFileTooSmall(t *testing.T) {
	dir := t.TempDir()
	in := filepath.Join(dir, "dot.png")
	writePNG(t, in, gradient(1, 1))

	_, err := newProcessor(t, DefaultOptions()).ProcessFile(in, "")
	assert.Equal(t, StageCrop, Stage(err))
	assert.NoFileExists(t, filepath.Join(dir, "dot_processed.png"))
}

func TestProcessFileIsIdempotent(t *testing.T) {
	dir := t.TempDir()
	in := filepath.Join(dir, "pic.png")
	writePNG(t, in, gradient(120, 90))
	p := newProcessor(t, DefaultOptions())

	first, err := p.ProcessFile(in, "")
	require.NoError(t, err)
	png1, _ := os.ReadFile(first.PNGPath)
	ico1, _ := os.ReadFile(first.ICOPath)

	second, err := p.ProcessFile(in, "")
	require.NoError(t, err)
	assert.Equal(t, first, second)

	png2, _ := os.ReadFile(second.PNGPath)
	ico2, _ := os.ReadFile(second.ICOPath)
	assert.Equal(t, png1, png2)
	assert.Equal(t, ico1, ico2)

	// No temp files are left behind.
	matches, err := filepath.Glob(filepath.Join(dir, TempPrefix+"*"))
	require.NoError(t, err)
	assert.Empty(t, matches)
}

func TestProcessFileWriteFailureLeavesNoOutputs(t *testing.T) {
	dir := t.TempDir()
	in := filepath.Join(dir, "pic.png")
	writePNG(t, in, gradient(50, 50))
	p := newProcessor(t, DefaultOptions())

	pngPath, icoPath := p.OutputPaths("pic", dir)
	// A directory in the ICO's place makes the final rename fail.
	require.NoError(t, os.Mkdir(icoPath, 0o755))

	_, err := p.ProcessFile(in, dir)
	assert.Equal(t, StageWrite, Stage(err))
	assert.NoFileExists(t, pngPath)
}

func TestProcessFileExtraFormats(t *testing.T) {
	dir := t.TempDir()
	in := filepath.Join(dir, "pic.png")
	writePNG(t, in, gradient(80, 80))

	opts := DefaultOptions()
	opts.ExtraFormats = []string{"webp"}
	res, err := newProcessor(t, opts).ProcessFile(in, "")
	require.NoError(t, err)

	if !imgpkg.Supported("webp") {
		assert.Empty(t, res.Extra)
		return
	}
	require.Contains(t, res.Extra, "webp")
	assert.Equal(t, filepath.Join(dir, "pic_processed.webp"), res.Extra["webp"])
	assert.FileExists(t, res.Extra["webp"])
}

func TestRenderCustomSizes(t *testing.T) {
	opts := DefaultOptions()
	opts.IconSizes = []int{64, 16, 32}
	p := newProcessor(t, opts)

	r, err := p.Render(gradient(100, 60))
	require.NoError(t, err)
	assert.Equal(t, image.Rect(10, 6, 90, 54), r.Crop)
	assert.Equal(t, CornerRadius(80, 48, DefaultCornerRatio), r.Radius)

	require.Len(t, r.Frames, 3)
	for i, want := range []int{16, 32, 64} {
		assert.Equal(t, want, r.Frames[i].Bounds().Dx())
	}

	b, ct, err := p.Encode(r, "ico")
	require.NoError(t, err)
	assert.Equal(t, "image/vnd.microsoft.icon", ct)
	entries, err := icon.ReadDirectory(b)
	require.NoError(t, err)
	assert.Equal(t, 16, entries[0].Width)

	_, _, err = p.Encode(r, "tga")
	assert.Error(t, err)
}

func TestOptionsValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Options)
	}{
		{"zero crop", func(o *Options) { o.CropRatio = 0 }},
		{"crop above one", func(o *Options) { o.CropRatio = 1.2 }},
		{"negative corner", func(o *Options) { o.CornerRatio = -0.1 }},
		{"corner above half", func(o *Options) { o.CornerRatio = 0.6 }},
		{"no sizes", func(o *Options) { o.IconSizes = nil }},
		{"size too large", func(o *Options) { o.IconSizes = []int{512} }},
		{"duplicate size", func(o *Options) { o.IconSizes = []int{16, 16} }},
		{"empty suffix", func(o *Options) { o.Suffix = "" }},
		{"bad extra", func(o *Options) { o.ExtraFormats = []string{"gif"} }},
		{"avif speed", func(o *Options) { o.AVIFSpeed = 11 }},
	}

	require.NoError(t, DefaultOptions().Validate())
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			opts := DefaultOptions()
			tt.mutate(&opts)
			assert.Error(t, opts.Validate())
			_, err := New(opts)
			assert.Error(t, err)
		})
	}
}

func TestIsOutputName(t *testing.T) {
	p := newProcessor(t, DefaultOptions())
	assert.True(t, p.IsOutputName("/x/logo_processed.png"))
	assert.True(t, p.IsOutputName("logo_processed.ico"))
	assert.False(t, p.IsOutputName("logo.png"))
	assert.Equal(t, "logo", Stem("/a/b/logo.webp"))
	assert.Equal(t, ".hidden", Stem(".hidden"))
}

func TestProcessBytes(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, gradient(100, 50)))
	p := newProcessor(t, DefaultOptions())

	out, ct, err := p.ProcessBytes(buf.Bytes(), "png")
	require.NoError(t, err)
	assert.Equal(t, "image/png", ct)
	img, err := png.Decode(bytes.NewReader(out))
	require.NoError(t, err)
	assert.Equal(t, image.Rect(0, 0, 80, 40), img.Bounds())

	out, ct, err = p.ProcessBytes(buf.Bytes(), "ico")
	require.NoError(t, err)
	assert.Equal(t, "image/vnd.microsoft.icon", ct)
	entries, err := icon.ReadDirectory(out)
	require.NoError(t, err)
	assert.Len(t, entries, len(DefaultIconSizes))

	_, _, err = p.ProcessBytes([]byte("nope"), "png")
	assert.Equal(t, StageDecode, Stage(err))
}
