package derivative

import (
	"fmt"
	"image"
	"image/color"
	stddraw "image/draw"
	"log/slog"
	"math"

	"golang.org/x/image/draw"
	"golang.org/x/image/font"
	"golang.org/x/image/font/gofont/goregular"
	"golang.org/x/image/font/opentype"
	"golang.org/x/image/math/f64"
	"golang.org/x/image/math/fixed"
)

// WatermarkOptions controls watermark generation. Angle is in degrees,
// Opacity in [0, 1].
type WatermarkOptions struct {
	Width       int
	Quality     int
	Text        string
	Angle       float64
	TileSpacing int
	Opacity     float64
}

const watermarkFontSize = 42

// Watermark resamples the image to the requested width and composites a
// tiled, rotated, semi-transparent text overlay across the whole frame.
// If the overlay cannot be rendered the resized image is returned
// unwatermarked rather than failing the photo.
func Watermark(data []byte, opts WatermarkOptions) ([]byte, error) {
	resized, err := resizeToWidth(data, opts.Width)
	if err != nil {
		return nil, err
	}

	overlay, err := renderOverlay(resized.Bounds().Dx(), resized.Bounds().Dy(), opts)
	if err != nil {
		slog.Warn("watermark overlay failed, serving unwatermarked derivative", "error", err)
		return encodeJPEG(resized, opts.Quality)
	}

	stddraw.Draw(resized, resized.Bounds(), overlay, image.Point{}, stddraw.Over)
	return encodeJPEG(resized, opts.Quality)
}

// renderOverlay draws the text in a repeating grid on an oversized canvas,
// rotates the canvas around its center, and crops to w x h. The canvas is
// the bounding diagonal so rotation leaves no uncovered corners.
func renderOverlay(w, h int, opts WatermarkOptions) (image.Image, error) {
	if opts.Text == "" {
		return nil, fmt.Errorf("empty watermark text")
	}
	if opts.TileSpacing <= 0 {
		return nil, fmt.Errorf("invalid tile spacing %d", opts.TileSpacing)
	}

	parsed, err := opentype.Parse(goregular.TTF)
	if err != nil {
		return nil, fmt.Errorf("parse overlay font: %w", err)
	}
	face, err := opentype.NewFace(parsed, &opentype.FaceOptions{
		Size:    watermarkFontSize,
		DPI:     72,
		Hinting: font.HintingFull,
	})
	if err != nil {
		return nil, fmt.Errorf("build overlay face: %w", err)
	}
	defer face.Close()

	diag := int(math.Ceil(math.Hypot(float64(w), float64(h))))

	alpha := uint8(math.Round(255 * clamp01(opts.Opacity)))
	tile := image.NewRGBA(image.Rect(0, 0, diag, diag))
	drawer := &font.Drawer{
		Dst:  tile,
		Src:  image.NewUniform(color.NRGBA{R: 255, G: 255, B: 255, A: alpha}),
		Face: face,
	}

	textWidth := drawer.MeasureString(opts.Text).Ceil()
	stepX := textWidth + opts.TileSpacing
	stepY := opts.TileSpacing

	row := 0
	for y := 0; y < diag+stepY; y += stepY {
		// Stagger alternate rows by half a step so the pattern does not
		// form straight vertical channels.
		offset := 0
		if row%2 == 1 {
			offset = -stepX / 2
		}
		for x := offset; x < diag+stepX; x += stepX {
			drawer.Dot = fixed.P(x, y)
			drawer.DrawString(opts.Text)
		}
		row++
	}

	rotated := image.NewRGBA(image.Rect(0, 0, w, h))
	rad := opts.Angle * math.Pi / 180
	sin, cos := math.Sin(rad), math.Cos(rad)

	// Map tile coordinates into the crop so the rotation pivots around
	// both centers.
	cxSrc, cySrc := float64(diag)/2, float64(diag)/2
	cxDst, cyDst := float64(w)/2, float64(h)/2
	m := f64.Aff3{
		cos, -sin, cxDst - cos*cxSrc + sin*cySrc,
		sin, cos, cyDst - sin*cxSrc - cos*cySrc,
	}
	draw.BiLinear.Transform(rotated, m, tile, tile.Bounds(), draw.Over, nil)

	return rotated, nil
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
