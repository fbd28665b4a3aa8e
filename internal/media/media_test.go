package media

import (
	"bytes"
	"image"
	"image/color"
	"image/jpeg"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func solidJPEG(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.RGBA{R: uint8(x % 256), G: uint8(y % 256), B: 128, A: 255})
		}
	}
	var buf bytes.Buffer
	require.NoError(t, jpeg.Encode(&buf, img, &jpeg.Options{Quality: 95}))
	return buf.Bytes()
}

func decodeDims(t *testing.T, b []byte) (int, int) {
	t.Helper()
	img, _, err := image.Decode(bytes.NewReader(b))
	require.NoError(t, err)
	bounds := img.Bounds()
	return bounds.Dx(), bounds.Dy()
}

func TestCompressRejectsInvalidQuality(t *testing.T) {
	input := solidJPEG(t, 10, 10)

	_, err := Compress(input, 0)
	assert.ErrorIs(t, err, ErrInvalidQuality)

	_, err = Compress(input, 101)
	assert.ErrorIs(t, err, ErrInvalidQuality)
}

func TestCompressPreservesDimensions(t *testing.T) {
	input := solidJPEG(t, 40, 30)
	out, err := Compress(input, 50)
	require.NoError(t, err)

	w, h := decodeDims(t, out)
	assert.Equal(t, 40, w)
	assert.Equal(t, 30, h)
}

func TestResizeNeverUpscales(t *testing.T) {
	input := solidJPEG(t, 50, 50)
	out, err := Resize(input, 200, 200)
	require.NoError(t, err)

	w, h := decodeDims(t, out)
	assert.Equal(t, 50, w)
	assert.Equal(t, 50, h)
}

func TestResizePreservesAspectRatio(t *testing.T) {
	input := solidJPEG(t, 200, 100)
	out, err := Resize(input, 100, 100)
	require.NoError(t, err)

	w, h := decodeDims(t, out)
	assert.Equal(t, 100, w)
	assert.Equal(t, 50, h)
}

func TestThumbnailProducesExactSquare(t *testing.T) {
	input := solidJPEG(t, 300, 150)
	out, err := Thumbnail(input, 64)
	require.NoError(t, err)

	w, h := decodeDims(t, out)
	assert.Equal(t, 64, w)
	assert.Equal(t, 64, h)
}
