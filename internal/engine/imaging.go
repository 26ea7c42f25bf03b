package engine

import (
	"bytes"
	"fmt"
	"image"

	"github.com/disintegration/imaging"
	_ "golang.org/x/image/webp"

	"github.com/dunamismax/pixelproxy/internal/domain"
	"github.com/dunamismax/pixelproxy/internal/spec"
)

// NewImagingFactory returns the pure-Go engine backed by disintegration/imaging.
func NewImagingFactory(opts Options) Factory {
	opts = opts.withDefaults()
	return func(raw []byte) (Engine, error) {
		return newImagingEngine(raw, opts)
	}
}

type imagingEngine struct {
	img      image.Image
	opts     Options
	consumed bool
}

func newImagingEngine(raw []byte, opts Options) (*imagingEngine, error) {
	img, err := imaging.Decode(bytes.NewReader(raw), imaging.AutoOrientation(true))
	if err != nil {
		return nil, domain.NewImageDecodeError(err)
	}
	return &imagingEngine{img: img, opts: opts}, nil
}

func (e *imagingEngine) Bounds() (int, int) {
	b := e.img.Bounds()
	return b.Dx(), b.Dy()
}

func (e *imagingEngine) Apply(chain spec.Chain) error {
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

func (e *imagingEngine) applyOp(op spec.Op) error {
	switch {
	case op.Resize != nil:
		w, h, err := checkDimensions(op.Resize, e.opts.MaxDimension)
		if err != nil {
			return err
		}
		if op.Resize.Kind == spec.ResizeSeamCarve {
			e.img = seamCarve(e.img, w, h)
			return nil
		}
		e.img = imaging.Resize(e.img, w, h, resampleFilter(op.Resize.Filter))
	case op.Filter != nil:
		if tint, ok := filterTint(op.Filter.Filter); ok {
			e.img = mixImage(e.img, tint)
		}
	case op.Watermark != nil:
		pos := image.Pt(int(op.Watermark.X), int(op.Watermark.Y))
		e.img = imaging.Overlay(e.img, e.opts.Overlay, pos, 1.0)
	default:
		return spec.ErrEmptyOp
	}
	return nil
}

func (e *imagingEngine) Generate(format OutputFormat) ([]byte, error) {
	if e.consumed {
		return nil, ErrEngineConsumed
	}
	e.consumed = true

	var (
		buf bytes.Buffer
		err error
	)
	switch format.Kind {
	case JPEG, "":
		err = imaging.Encode(&buf, e.img, imaging.JPEG, imaging.JPEGQuality(format.quality()))
	case PNG:
		err = imaging.Encode(&buf, e.img, imaging.PNG)
	default:
		// x/image only decodes webp; encoding needs the govips build.
		err = fmt.Errorf("%w: %s requires the govips engine", ErrUnsupportedFormat, format.Kind)
	}
	if err != nil {
		return nil, &domain.TransformError{Op: "generate", Err: err}
	}
	return buf.Bytes(), nil
}

func resampleFilter(f spec.SampleFilter) imaging.ResampleFilter {
	switch f {
	case spec.SampleTriangle:
		return imaging.Linear
	case spec.SampleCatmullRom:
		return imaging.CatmullRom
	case spec.SampleGaussian:
		return imaging.Gaussian
	case spec.SampleLanczos3:
		return imaging.Lanczos
	default:
		return imaging.NearestNeighbor
	}
}

func checkDimensions(r *spec.Resize, limit int) (int, int, error) {
	if r.Width == 0 || r.Height == 0 {
		return 0, 0, fmt.Errorf("resize requires width and height > 0, got %dx%d", r.Width, r.Height)
	}
	if uint64(r.Width) > uint64(limit) || uint64(r.Height) > uint64(limit) {
		return 0, 0, fmt.Errorf("%w: %dx%d > %d", ErrDimensionTooLarge, r.Width, r.Height, limit)
	}
	return int(r.Width), int(r.Height), nil
}
