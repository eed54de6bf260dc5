//go:build noavif

package image

import (
	"errors"
	"image"
)

var errAVIFDisabled = errors.New("avif: built with -tags noavif")

func encodeAsAVIF(image.Image, Encoder) ([]byte, error) {
	return nil, errAVIFDisabled
}

func isAVIFSupported() bool {
	return false
}
