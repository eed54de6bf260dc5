package icon

import (
	"bytes"
	"image"
	"image/color"
	"image/png"
	"testing"

	ico "github.com/sergeymakinen/go-ico"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func solid(size int, c color.NRGBA) image.Image {
	img := image.NewNRGBA(image.Rect(0, 0, size, size))
	for y := 0; y < size; y++ {
		for x := 0; x < size; x++ {
			img.SetNRGBA(x, y, c)
		}
	}
	return img
}

func TestReadDirectoryOfEncodedIcon(t *testing.T) {
	sizes := []int{16, 32, 48, 64, 128, 256}
	frames := make([]image.Image, len(sizes))
	for i, s := range sizes {
		frames[i] = solid(s, color.NRGBA{R: 200, G: 100, B: 50, A: 128})
	}

	var buf bytes.Buffer
	require.NoError(t, ico.EncodeAll(&buf, frames))
	b := buf.Bytes()

	assert.Equal(t, []byte{0, 0, 1, 0, 6, 0}, b[:6])
	// 256 is stored as 0 in the directory.
	assert.Equal(t, byte(0), b[headerSize+entrySize*5])

	entries, err := ReadDirectory(b)
	require.NoError(t, err)
	require.Len(t, entries, len(sizes))

	for i, e := range entries {
		assert.Equal(t, sizes[i], e.Width)
		assert.Equal(t, sizes[i], e.Height)
		assert.Equal(t, 32, e.BitCount)
		assert.LessOrEqual(t, int(e.Offset+e.Size), len(b))
	}

	last := entries[5]
	require.True(t, last.IsPNG)
	img, err := png.Decode(bytes.NewReader(last.Data(b)))
	require.NoError(t, err)
	assert.Equal(t, 256, img.Bounds().Dx())
	_, _, _, a := img.At(128, 128).RGBA()
	assert.Equal(t, uint32(128), a>>8)

	decoded, err := ico.DecodeAll(bytes.NewReader(b))
	require.NoError(t, err)
	require.Len(t, decoded, len(sizes))
	c := color.NRGBAModel.Convert(decoded[0].At(8, 8)).(color.NRGBA)
	assert.Equal(t, color.NRGBA{R: 200, G: 100, B: 50, A: 128}, c)
}

func TestReadDirectoryErrors(t *testing.T) {
	tests := []struct {
		name string
		data []byte
		want error
	}{
		{"empty", nil, ErrTooSmall},
		{"cursor type", []byte{0, 0, 2, 0, 1, 0}, ErrNotIcon},
		{"zero count", []byte{0, 0, 1, 0, 0, 0}, ErrNotIcon},
		{"missing entries", []byte{0, 0, 1, 0, 2, 0, 16, 16}, ErrTruncated},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ReadDirectory(tt.data)
			assert.ErrorIs(t, err, tt.want)
		})
	}

	t.Run("payload out of range", func(t *testing.T) {
		b := []byte{0, 0, 1, 0, 1, 0,
			16, 16, 0, 0, 1, 0, 32, 0,
			0xff, 0, 0, 0, // size
			22, 0, 0, 0, // offset
		}
		_, err := ReadDirectory(b)
		assert.Error(t, err)
	})
}
