// Package processor turns a source image into a rounded, center-cropped PNG
// and a multi-resolution icon.
//
// The pipeline is: crop the central part of the image, clip it to a rounded
// rectangle whose corner radius follows the golden ratio, then resample the
// result to every icon size and pack the frames into one ICO file.
package processor

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	ico "github.com/sergeymakinen/go-ico"

	"roundicon/internal/icon"
	imgpkg "roundicon/internal/image"
	"roundicon/pkg/logger"
	"roundicon/pkg/metrics"
)

// DefaultSuffix is appended to the input stem to name the outputs.
const DefaultSuffix = "_processed"

// Options tunes the pipeline. DefaultOptions reproduces the standard output.
type Options struct {
	CropRatio    float64
	CornerRatio  float64
	IconSizes    []int
	Suffix       string
	ExtraFormats []string // "webp", "avif"
	SVGSize      int
	WebPQuality  int
	AVIFQuality  int
	AVIFSpeed    int
}

func DefaultOptions() Options {
	return Options{
		CropRatio:   DefaultCropRatio,
		CornerRatio: DefaultCornerRatio,
		IconSizes:   slices.Clone(DefaultIconSizes),
		Suffix:      DefaultSuffix,
		SVGSize:     imgpkg.DefaultSVGSize,
		WebPQuality: imgpkg.DefaultWebPQuality,
		AVIFQuality: imgpkg.DefaultAVIFQuality,
		AVIFSpeed:   imgpkg.DefaultAVIFSpeed,
	}
}

// Validate reports the first option that is out of range.
func (o Options) Validate() error {
	if o.CropRatio <= 0 || o.CropRatio > 1 {
		return fmt.Errorf("crop ratio %v out of range (0, 1]", o.CropRatio)
	}
	if o.CornerRatio < 0 || o.CornerRatio > 0.5 {
		return fmt.Errorf("corner ratio %v out of range [0, 0.5]", o.CornerRatio)
	}
	if len(o.IconSizes) == 0 {
		return errors.New("at least one icon size is required")
	}
	seen := make(map[int]bool, len(o.IconSizes))
	for _, s := range o.IconSizes {
		if s < 1 || s > icon.MaxEdge {
			return fmt.Errorf("icon size %d out of range [1, %d]", s, icon.MaxEdge)
		}
		if seen[s] {
			return fmt.Errorf("duplicate icon size %d", s)
		}
		seen[s] = true
	}
	if o.Suffix == "" {
		return errors.New("output suffix must not be empty")
	}
	if o.AVIFSpeed < 0 || o.AVIFSpeed > 10 {
		return fmt.Errorf("avif speed %d out of range [0, 10]", o.AVIFSpeed)
	}
	for _, f := range o.ExtraFormats {
		if f != "webp" && f != "avif" {
			return fmt.Errorf("unsupported extra format %q", f)
		}
	}
	return nil
}

// Processor runs the pipeline. It holds no mutable state and is safe for
// concurrent use.
type Processor struct {
	opts    Options
	sizes   []int
	decoder imgpkg.Decoder
	encoder imgpkg.Encoder
}

func New(opts Options) (*Processor, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	sizes := slices.Clone(opts.IconSizes)
	slices.Sort(sizes)
	opts.ExtraFormats = slices.Compact(slices.Clone(opts.ExtraFormats))

	return &Processor{
		opts:    opts,
		sizes:   sizes,
		decoder: imgpkg.Decoder{SVGSize: opts.SVGSize},
		encoder: imgpkg.Encoder{
			WebPQuality: opts.WebPQuality,
			AVIFQuality: opts.AVIFQuality,
			AVIFSpeed:   opts.AVIFSpeed,
		},
	}, nil
}

// Options returns the options p was built with.
func (p *Processor) Options() Options {
	return p.opts
}

// Rendition is the in-memory output of the pipeline.
type Rendition struct {
	Crop   image.Rectangle // in source coordinates
	Radius int
	Image  *image.NRGBA
	Frames []image.Image // ascending size, smallest first
}

// Render crops src, rounds its corners and builds the icon frames.
func (p *Processor) Render(src image.Image) (*Rendition, error) {
	crop := CropRect(src.Bounds(), p.opts.CropRatio)
	if crop.Empty() {
		b := src.Bounds()
		return nil, stageError(StageCrop, fmt.Errorf("image %dx%d too small to crop", b.Dx(), b.Dy()))
	}

	w, h := crop.Dx(), crop.Dy()
	radius := CornerRadius(w, h, p.opts.CornerRatio)
	logger.Debug("Crop %v (%dx%d), corner radius %d", crop, w, h, radius)

	out := Composite(src, crop, RoundedMask(w, h, radius))
	if imgpkg.IsNearlyBlank(out) {
		logger.Warn("Processed image is nearly fully transparent")
	}

	frames := make([]image.Image, len(p.sizes))
	for i, s := range p.sizes {
		frames[i] = imgpkg.ResizeImage(out, s)
	}

	return &Rendition{Crop: crop, Radius: radius, Image: out, Frames: frames}, nil
}

// EncodeIcon packs frames into an ICO file, keeping their order in the
// directory.
func EncodeIcon(frames []image.Image) ([]byte, error) {
	if len(frames) == 0 {
		return nil, errors.New("no icon frames")
	}
	var buf bytes.Buffer
	if err := ico.EncodeAll(&buf, frames); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Encode produces the bytes of format ("png", "ico", "webp" or "avif") for r,
// with the content type actually produced. WebP and AVIF fall back the way
// image.EncodeByFormat does.
func (p *Processor) Encode(r *Rendition, format string) ([]byte, string, error) {
	switch format {
	case "", "png":
		b, err := imgpkg.EncodePNG(r.Image)
		if err != nil {
			return nil, "", stageError(StageEncodePNG, err)
		}
		return b, "image/png", nil
	case "ico":
		b, err := EncodeIcon(r.Frames)
		if err != nil {
			return nil, "", stageError(StageEncodeICO, err)
		}
		return b, imgpkg.ContentTypeFor("ico"), nil
	case "webp", "avif":
		b, ct := p.encoder.EncodeByFormat(r.Image, format)
		if len(b) == 0 {
			return nil, "", stageError("encode-"+format, errors.New("encoder produced no data"))
		}
		return b, ct, nil
	}
	return nil, "", stageError("encode-"+format, fmt.Errorf("unknown output format %q", format))
}

// Result lists the files written by one pipeline run.
type Result struct {
	PNGPath string
	ICOPath string
	Extra   map[string]string // format -> path
}

// OutputPaths returns where the PNG and ICO for stem land in dir.
func (p *Processor) OutputPaths(stem, dir string) (pngPath, icoPath string) {
	base := filepath.Join(dir, stem+p.opts.Suffix)
	return base + ".png", base + ".ico"
}

// IsOutputName reports whether name looks like a file this processor writes.
func (p *Processor) IsOutputName(name string) bool {
	stem := strings.TrimSuffix(filepath.Base(name), filepath.Ext(name))
	return strings.HasSuffix(stem, p.opts.Suffix)
}

// Stem is the file name of path without its final extension.
func Stem(path string) string {
	base := filepath.Base(path)
	if stem := strings.TrimSuffix(base, filepath.Ext(base)); stem != "" {
		return stem
	}
	return base
}

// ProcessFile runs the pipeline on the file at inputPath and writes the
// outputs to outputDir, or next to the input when outputDir is empty.
//
// A missing input yields ErrInputNotFound and touches nothing; every other
// failure is a *ProcessingError and leaves no outputs behind.
func (p *Processor) ProcessFile(inputPath, outputDir string) (Result, error) {
	start := time.Now()
	m := metrics.Get()

	if _, err := os.Stat(inputPath); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			m.IncFailure("not-found")
			return Result{}, fmt.Errorf("%w: %s", ErrInputNotFound, inputPath)
		}
		m.IncFailure(StageRead)
		return Result{}, stageError(StageRead, err)
	}
	if outputDir == "" {
		outputDir = filepath.Dir(inputPath)
	}

	data, err := os.ReadFile(inputPath)
	if err != nil {
		m.IncFailure(StageRead)
		return Result{}, stageError(StageRead, err)
	}

	src, format, err := p.Decode(data)
	if err != nil {
		m.IncFailure(StageDecode)
		return Result{}, err
	}
	logger.Debug("Decoded %s as %s (%dx%d)", inputPath, format, src.Bounds().Dx(), src.Bounds().Dy())

	res, err := p.ProcessImage(src, Stem(inputPath), outputDir)
	if err != nil {
		return Result{}, err
	}
	m.IncProcessed(format)
	m.RecordProcessDuration(format, time.Since(start))
	return res, nil
}

// Decode decodes an input image with the processor's SVG settings.
func (p *Processor) Decode(data []byte) (image.Image, string, error) {
	src, format, err := p.decoder.Decode(data)
	if err != nil {
		return nil, "", stageError(StageDecode, err)
	}
	return src, format, nil
}

// ProcessBytes runs the pipeline in memory and returns a single output in
// format, without touching the filesystem.
func (p *Processor) ProcessBytes(data []byte, format string) ([]byte, string, error) {
	start := time.Now()
	m := metrics.Get()

	out, ct, inFormat, err := p.processBytes(data, format)
	if err != nil {
		m.IncFailure(Stage(err))
		return nil, "", err
	}
	m.IncProcessed(inFormat)
	m.RecordProcessDuration(inFormat, time.Since(start))
	return out, ct, nil
}

func (p *Processor) processBytes(data []byte, format string) ([]byte, string, string, error) {
	src, inFormat, err := p.Decode(data)
	if err != nil {
		return nil, "", "", err
	}
	r, err := p.Render(src)
	if err != nil {
		return nil, "", "", err
	}
	out, ct, err := p.Encode(r, format)
	if err != nil {
		return nil, "", "", err
	}
	return out, ct, inFormat, nil
}

// ProcessImage runs the pipeline on an already decoded image.
func (p *Processor) ProcessImage(src image.Image, stem, outputDir string) (Result, error) {
	m := metrics.Get()
	res, err := p.processImage(src, stem, outputDir)
	if err != nil {
		m.IncFailure(Stage(err))
		return Result{}, err
	}
	return res, nil
}

func (p *Processor) processImage(src image.Image, stem, outputDir string) (Result, error) {
	r, err := p.Render(src)
	if err != nil {
		return Result{}, err
	}

	pngPath, icoPath := p.OutputPaths(stem, outputDir)
	outputs := []output{{path: pngPath}, {path: icoPath}}

	if outputs[0].data, _, err = p.Encode(r, "png"); err != nil {
		return Result{}, err
	}
	if outputs[1].data, _, err = p.Encode(r, "ico"); err != nil {
		return Result{}, err
	}

	res := Result{PNGPath: pngPath, ICOPath: icoPath}
	for _, f := range p.opts.ExtraFormats {
		data, ct, err := p.Encode(r, f)
		if err != nil {
			return Result{}, err
		}
		if ct != imgpkg.ContentTypeFor(f) {
			logger.Warn("Skipping %s output: encoder unavailable, got %s", f, ct)
			continue
		}
		path := filepath.Join(outputDir, stem+p.opts.Suffix+imgpkg.ExtensionFor(ct))
		outputs = append(outputs, output{path: path, data: data})
		if res.Extra == nil {
			res.Extra = make(map[string]string)
		}
		res.Extra[f] = path
	}

	if err := writeOutputs(outputDir, outputs); err != nil {
		return Result{}, stageError(StageWrite, err)
	}
	return res, nil
}
