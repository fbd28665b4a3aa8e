// Package media implements the image-processing operations spec.md §6
// offers to the media path: compress, resize, and thumbnail, all producing
// JPEG bytes. Grounded on golang.org/x/image/draw for the high-quality
// resampling filter spec.md's resize/thumbnail operations call for, since
// image/jpeg + image/draw alone only offer nearest-neighbor scaling.
package media

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"image/jpeg"
	_ "image/png"

	"golang.org/x/image/draw"

	"github.com/edsonmartins/mepassa/internal/logging"
)

var log = logging.For("media")

// ErrInvalidQuality is returned by Compress for a quality outside [1,100].
var ErrInvalidQuality = errors.New("media: quality must be in [1,100]")

const (
	resizeQuality    = 85
	thumbnailQuality = 80
)

// Compress re-encodes input as a JPEG at the given quality (spec.md §6:
// "rejects 0 or >100").
func Compress(input []byte, quality int) ([]byte, error) {
	if quality < 1 || quality > 100 {
		return nil, ErrInvalidQuality
	}
	img, _, err := image.Decode(bytes.NewReader(input))
	if err != nil {
		return nil, fmt.Errorf("media: decode image: %w", err)
	}
	return encodeJPEG(img, quality)
}

// Resize scales input down to fit within maxW×maxH, preserving aspect
// ratio and never upscaling (spec.md §6: ratio = min(1, min(max_w/w,
// max_h/h))), encoding the result as JPEG quality 85.
func Resize(input []byte, maxW, maxH int) ([]byte, error) {
	logger := log.WithField("function", "Resize")

	img, _, err := image.Decode(bytes.NewReader(input))
	if err != nil {
		return nil, fmt.Errorf("media: decode image: %w", err)
	}

	bounds := img.Bounds()
	w, h := bounds.Dx(), bounds.Dy()
	if w == 0 || h == 0 {
		return nil, fmt.Errorf("media: zero-dimension image")
	}

	ratio := 1.0
	if wr := float64(maxW) / float64(w); wr < ratio {
		ratio = wr
	}
	if hr := float64(maxH) / float64(h); hr < ratio {
		ratio = hr
	}

	dstW, dstH := w, h
	if ratio < 1 {
		dstW = int(float64(w) * ratio)
		dstH = int(float64(h) * ratio)
		if dstW < 1 {
			dstW = 1
		}
		if dstH < 1 {
			dstH = 1
		}
	}

	logger.WithField("dst_w", dstW).WithField("dst_h", dstH).Debug("resizing image")

	dst := image.NewRGBA(image.Rect(0, 0, dstW, dstH))
	draw.CatmullRom.Scale(dst, dst.Bounds(), img, bounds, draw.Over, nil)

	return encodeJPEG(dst, resizeQuality)
}

// Thumbnail produces a square center-crop of input, exactly resized to
// size×size, encoded as JPEG quality 80 (spec.md §6).
func Thumbnail(input []byte, size int) ([]byte, error) {
	img, _, err := image.Decode(bytes.NewReader(input))
	if err != nil {
		return nil, fmt.Errorf("media: decode image: %w", err)
	}

	cropped := centerCropSquare(img)

	dst := image.NewRGBA(image.Rect(0, 0, size, size))
	draw.CatmullRom.Scale(dst, dst.Bounds(), cropped, cropped.Bounds(), draw.Over, nil)

	return encodeJPEG(dst, thumbnailQuality)
}

// centerCropSquare returns the largest centered square sub-image of img.
func centerCropSquare(img image.Image) image.Image {
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	side := w
	if h < side {
		side = h
	}

	x0 := b.Min.X + (w-side)/2
	y0 := b.Min.Y + (h-side)/2
	rect := image.Rect(x0, y0, x0+side, y0+side)

	if si, ok := img.(interface {
		SubImage(r image.Rectangle) image.Image
	}); ok {
		return si.SubImage(rect)
	}

	dst := image.NewRGBA(image.Rect(0, 0, side, side))
	draw.Draw(dst, dst.Bounds(), img, rect.Min, draw.Src)
	return dst
}

func encodeJPEG(img image.Image, quality int) ([]byte, error) {
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: quality}); err != nil {
		return nil, fmt.Errorf("media: encode jpeg: %w", err)
	}
	return buf.Bytes(), nil
}
