// Package derivative produces raster variants (thumbnail, watermark) from
// an original image buffer. All transforms are pure functions of
// (bytes, options).
package derivative

import (
	"bytes"
	"fmt"
	"image"
	"image/jpeg"
	_ "image/png"

	_ "golang.org/x/image/bmp"
	"golang.org/x/image/draw"
	_ "golang.org/x/image/webp"
)

// ThumbnailOptions controls thumbnail generation.
type ThumbnailOptions struct {
	Width   int
	Quality int
}

// fitWidth computes the resized dimensions for a target width, keeping
// aspect ratio. Images narrower than the target keep their size. The
// watermark overlay relies on this exact computation to align
// pixel-for-pixel with the resized base.
func fitWidth(w, h, targetWidth int) (int, int) {
	if w <= targetWidth {
		return w, h
	}
	newH := int(float64(h) * float64(targetWidth) / float64(w))
	if newH < 1 {
		newH = 1
	}
	return targetWidth, newH
}

// resizeToWidth decodes data and resamples it to the target width.
func resizeToWidth(data []byte, targetWidth int) (*image.RGBA, error) {
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("decode image: %w", err)
	}

	bounds := img.Bounds()
	newW, newH := fitWidth(bounds.Dx(), bounds.Dy(), targetWidth)

	resized := image.NewRGBA(image.Rect(0, 0, newW, newH))
	draw.CatmullRom.Scale(resized, resized.Bounds(), img, bounds, draw.Over, nil)
	return resized, nil
}

func encodeJPEG(img image.Image, quality int) ([]byte, error) {
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: quality}); err != nil {
		return nil, fmt.Errorf("encode jpeg: %w", err)
	}
	return buf.Bytes(), nil
}

// Thumbnail resamples the image to the requested width and re-encodes it
// as JPEG.
func Thumbnail(data []byte, opts ThumbnailOptions) ([]byte, error) {
	resized, err := resizeToWidth(data, opts.Width)
	if err != nil {
		return nil, err
	}
	return encodeJPEG(resized, opts.Quality)
}

// Dimensions returns the pixel width and height of an encoded image.
func Dimensions(data []byte) (int, int, error) {
	cfg, _, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return 0, 0, fmt.Errorf("decode image config: %w", err)
	}
	return cfg.Width, cfg.Height, nil
}
