package engine

import (
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"sync"

	"github.com/disintegration/imaging"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"
)

const overlayLabel = "pixelproxy"

var (
	defaultOverlayOnce sync.Once
	defaultOverlay     *image.NRGBA
)

// DefaultOverlay is the built-in watermark: a translucent plate with a text label.
// The returned image is shared and must not be modified.
func DefaultOverlay() image.Image {
	defaultOverlayOnce.Do(func() {
		defaultOverlay = renderLabel(overlayLabel)
	})
	return defaultOverlay
}

// LoadOverlay reads a watermark asset from disk.
func LoadOverlay(path string) (image.Image, error) {
	img, err := imaging.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open watermark %s: %w", path, err)
	}
	return imaging.Clone(img), nil
}

func renderLabel(text string) *image.NRGBA {
	const pad = 4

	face := basicfont.Face7x13
	metrics := face.Metrics()
	ascent := metrics.Ascent.Ceil()
	height := metrics.Height.Ceil()

	drawer := &font.Drawer{Face: face}
	width := drawer.MeasureString(text).Ceil()

	dst := image.NewNRGBA(image.Rect(0, 0, width+2*pad, height+2*pad))
	draw.Draw(dst, dst.Bounds(), image.NewUniform(color.NRGBA{A: 110}), image.Point{}, draw.Src)

	drawer.Dst = dst
	drawer.Src = image.NewUniform(color.NRGBA{R: 255, G: 255, B: 255, A: 230})
	drawer.Dot = fixed.P(pad, pad+ascent)
	drawer.DrawString(text)
	return dst
}
