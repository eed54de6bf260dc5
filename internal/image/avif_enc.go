//go:build !noavif

package image

import (
	"bytes"
	"image"

	"github.com/gen2brain/avif"
)

func (e Encoder) avifOptions() avif.Options {
	quality := e.AVIFQuality
	if quality <= 0 {
		quality = DefaultAVIFQuality
	}
	speed := e.AVIFSpeed
	if speed <= 0 {
		speed = DefaultAVIFSpeed
	}
	return avif.Options{
		Quality:           min(quality, 100),
		QualityAlpha:      100, // keep the rounded edge crisp
		Speed:             min(speed, 10),
		ChromaSubsampling: image.YCbCrSubsampleRatio444,
	}
}

func encodeAsAVIF(img image.Image, e Encoder) ([]byte, error) {
	var buf bytes.Buffer
	if err := avif.Encode(&buf, img, e.avifOptions()); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func isAVIFSupported() bool {
	return true
}
