package engine

import (
	"image"
	"math"

	"github.com/disintegration/imaging"
)

// seamCarve shrinks img towards width x height by repeatedly removing the
// lowest-energy seam. Target dimensions at or above the current ones are left alone.
func seamCarve(src image.Image, width, height int) *image.NRGBA {
	img := imaging.Clone(src)
	for img.Rect.Dx() > width && img.Rect.Dx() > 1 {
		img = removeVerticalSeam(img)
	}
	if img.Rect.Dy() > height && img.Rect.Dy() > 1 {
		img = imaging.Transpose(img)
		for img.Rect.Dx() > height && img.Rect.Dx() > 1 {
			img = removeVerticalSeam(img)
		}
		img = imaging.Transpose(img)
	}
	return img
}

// removeVerticalSeam expects an image whose bounds start at the origin.
func removeVerticalSeam(img *image.NRGBA) *image.NRGBA {
	w, h := img.Rect.Dx(), img.Rect.Dy()

	lum := make([]float64, w*h)
	for y := 0; y < h; y++ {
		row := img.Pix[y*img.Stride:]
		for x := 0; x < w; x++ {
			p := row[x*4 : x*4+3]
			lum[y*w+x] = 0.299*float64(p[0]) + 0.587*float64(p[1]) + 0.114*float64(p[2])
		}
	}

	cost := make([]float64, w*h)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			e := energyAt(lum, w, h, x, y)
			if y > 0 {
				up := (y - 1) * w
				best := cost[up+x]
				if x > 0 && cost[up+x-1] < best {
					best = cost[up+x-1]
				}
				if x < w-1 && cost[up+x+1] < best {
					best = cost[up+x+1]
				}
				e += best
			}
			cost[y*w+x] = e
		}
	}

	seam := make([]int, h)
	last := (h - 1) * w
	for x := 1; x < w; x++ {
		if cost[last+x] < cost[last+seam[h-1]] {
			seam[h-1] = x
		}
	}
	for y := h - 2; y >= 0; y-- {
		prev := seam[y+1]
		best := prev
		if prev > 0 && cost[y*w+prev-1] < cost[y*w+best] {
			best = prev - 1
		}
		if prev < w-1 && cost[y*w+prev+1] < cost[y*w+best] {
			best = prev + 1
		}
		seam[y] = best
	}

	dst := image.NewNRGBA(image.Rect(0, 0, w-1, h))
	for y := 0; y < h; y++ {
		src := img.Pix[y*img.Stride : y*img.Stride+w*4]
		out := dst.Pix[y*dst.Stride : y*dst.Stride+(w-1)*4]
		cut := seam[y] * 4
		copy(out, src[:cut])
		copy(out[cut:], src[cut+4:])
	}
	return dst
}

func energyAt(lum []float64, w, h, x, y int) float64 {
	left := lum[y*w+max(x-1, 0)]
	right := lum[y*w+min(x+1, w-1)]
	up := lum[max(y-1, 0)*w+x]
	down := lum[min(y+1, h-1)*w+x]
	return math.Abs(right-left) + math.Abs(down-up)
}
