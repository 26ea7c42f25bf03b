package engine

import (
	"image"
	"image/color"

	"github.com/disintegration/imaging"

	"github.com/dunamismax/pixelproxy/internal/spec"
)

const filterOpacity = 0.2

var filterTints = map[spec.FilterKind]color.NRGBA{
	spec.FilterOceanic: {R: 0, G: 89, B: 173, A: 255},
	spec.FilterIslands: {R: 0, G: 24, B: 95, A: 255},
	spec.FilterMarine:  {R: 0, G: 14, B: 119, A: 255},
}

// filterTint returns false for unspecified or unknown kinds, which leave pixels untouched.
func filterTint(kind spec.FilterKind) (color.NRGBA, bool) {
	tint, ok := filterTints[kind]
	return tint, ok
}

func mixImage(img image.Image, tint color.NRGBA) *image.NRGBA {
	return imaging.AdjustFunc(img, func(c color.NRGBA) color.NRGBA {
		return color.NRGBA{
			R: mixChannel(c.R, tint.R),
			G: mixChannel(c.G, tint.G),
			B: mixChannel(c.B, tint.B),
			A: c.A,
		}
	})
}

func mixChannel(v, target uint8) uint8 {
	return uint8(float64(v) + (float64(target)-float64(v))*filterOpacity)
}
