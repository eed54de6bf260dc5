//go:build !nowebp

package image

import (
	"bytes"
	"image"

	"github.com/kolesa-team/go-webp/encoder"
	"github.com/kolesa-team/go-webp/webp"
)

func encodeAsWebP(img image.Image, quality int) ([]byte, error) {
	if quality <= 0 {
		quality = DefaultWebPQuality
	}
	if quality > 100 {
		quality = 100
	}
	opts, err := encoder.NewLossyEncoderOptions(encoder.PresetIcon, float32(quality))
	if err != nil {
		return nil, err
	}
	opts.Method = 4
	var buf bytes.Buffer
	if err := webp.Encode(&buf, img, opts); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func isWebPSupported() bool {
	return true
}
