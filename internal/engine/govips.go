//go:build govips && cgo

package engine

import (
	"bytes"
	"fmt"
	"image"

	"github.com/davidbyttow/govips/v2/vips"
	"github.com/disintegration/imaging"

	"github.com/dunamismax/pixelproxy/internal/domain"
	"github.com/dunamismax/pixelproxy/internal/spec"
)

// NewGovipsFactory returns the libvips-backed engine. Startup must run first.
func NewGovipsFactory(opts Options) Factory {
	opts = opts.withDefaults()

	var overlay bytes.Buffer
	overlayErr := imaging.Encode(&overlay, opts.Overlay, imaging.PNG)

	return func(raw []byte) (Engine, error) {
		if overlayErr != nil {
			return nil, fmt.Errorf("encode watermark overlay: %w", overlayErr)
		}
		img, err := vips.NewImageFromBuffer(raw)
		if err != nil {
			return nil, domain.NewImageDecodeError(err)
		}
		return &govipsEngine{img: img, opts: opts, overlayPNG: overlay.Bytes()}, nil
	}
}

type govipsEngine struct {
	img        *vips.ImageRef
	opts       Options
	overlayPNG []byte
	consumed   bool
}

func (e *govipsEngine) Bounds() (int, int) {
	return e.img.Width(), e.img.Height()
}

func (e *govipsEngine) Apply(chain spec.Chain) error {
	if e.consumed {
		return ErrEngineConsumed
	}
	for i, op := range chain {
		if err := e.applyOp(op); err != nil {
			return &domain.TransformError{Op: fmt.Sprintf("%d:%s", i, op), Err: err}
		}
	}
	return nil
}

func (e *govipsEngine) applyOp(op spec.Op) error {
	switch {
	case op.Resize != nil:
		w, h, err := checkDimensions(op.Resize, e.opts.MaxDimension)
		if err != nil {
			return err
		}
		if op.Resize.Kind == spec.ResizeSeamCarve {
			return e.seamCarve(w, h)
		}
		hscale := float64(w) / float64(e.img.Width())
		vscale := float64(h) / float64(e.img.Height())
		if err := e.img.ResizeWithVScale(hscale, vscale, vipsKernel(op.Resize.Filter)); err != nil {
			return fmt.Errorf("resize image: %w", err)
		}
	case op.Filter != nil:
		tint, ok := filterTint(op.Filter.Filter)
		if !ok {
			return nil
		}
		a, b := linearTint(e.img.Bands(), tint.R, tint.G, tint.B)
		if err := e.img.Linear(a, b); err != nil {
			return fmt.Errorf("apply filter: %w", err)
		}
	case op.Watermark != nil:
		overlay, err := vips.NewImageFromBuffer(e.overlayPNG)
		if err != nil {
			return fmt.Errorf("load watermark: %w", err)
		}
		defer overlay.Close()
		if err := e.img.Composite(overlay, vips.BlendModeOver, int(op.Watermark.X), int(op.Watermark.Y)); err != nil {
			return fmt.Errorf("apply watermark: %w", err)
		}
	default:
		return spec.ErrEmptyOp
	}
	return nil
}

// seamCarve round-trips through image.Image since libvips has no seam carving.
func (e *govipsEngine) seamCarve(w, h int) error {
	data, _, err := e.img.ExportPng(vips.NewPngExportParams())
	if err != nil {
		return fmt.Errorf("export for seam carve: %w", err)
	}
	src, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("decode for seam carve: %w", err)
	}

	var buf bytes.Buffer
	if err := imaging.Encode(&buf, seamCarve(src, w, h), imaging.PNG); err != nil {
		return fmt.Errorf("encode seam carve result: %w", err)
	}
	carved, err := vips.NewImageFromBuffer(buf.Bytes())
	if err != nil {
		return fmt.Errorf("reload seam carve result: %w", err)
	}
	e.img.Close()
	e.img = carved
	return nil
}

func (e *govipsEngine) Generate(format OutputFormat) ([]byte, error) {
	if e.consumed {
		return nil, ErrEngineConsumed
	}
	e.consumed = true
	defer e.img.Close()

	var (
		data []byte
		err  error
	)
	switch format.Kind {
	case JPEG, "":
		params := vips.NewJpegExportParams()
		params.Quality = format.quality()
		data, _, err = e.img.ExportJpeg(params)
	case PNG:
		data, _, err = e.img.ExportPng(vips.NewPngExportParams())
	case WebP:
		params := vips.NewWebpExportParams()
		params.Quality = format.quality()
		data, _, err = e.img.ExportWebp(params)
	default:
		err = fmt.Errorf("%w: %s", ErrUnsupportedFormat, format.Kind)
	}
	if err != nil {
		return nil, &domain.TransformError{Op: "generate", Err: err}
	}
	return data, nil
}

func vipsKernel(f spec.SampleFilter) vips.Kernel {
	switch f {
	case spec.SampleTriangle:
		return vips.KernelLinear
	case spec.SampleCatmullRom:
		return vips.KernelCubic
	case spec.SampleGaussian:
		return vips.KernelMitchell
	case spec.SampleLanczos3:
		return vips.KernelLanczos3
	default:
		return vips.KernelNearest
	}
}

// linearTint builds out = in*(1-o) + tint*o per colour band, leaving alpha untouched.
func linearTint(bands int, r, g, b uint8) ([]float64, []float64) {
	tint := []float64{float64(r), float64(g), float64(b)}
	scale := make([]float64, bands)
	offset := make([]float64, bands)
	for i := 0; i < bands; i++ {
		if i < 3 {
			scale[i] = 1 - filterOpacity
			offset[i] = tint[i] * filterOpacity
			continue
		}
		scale[i] = 1
	}
	return scale, offset
}
