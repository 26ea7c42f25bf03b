// Package engine applies transform chains to decoded image state.
//
// An Engine is built from raw source bytes, mutated in place by Apply and
// consumed by Generate. Concrete engines share no mutable state, so one engine
// per request may run concurrently with any number of others.
package engine

import (
	"errors"
	"fmt"
	"image"
	"strings"

	"github.com/dunamismax/pixelproxy/internal/spec"
)

const (
	DefaultMaxDimension = 8192
	DefaultQuality      = 85
)

var (
	ErrEngineConsumed    = errors.New("engine already generated its output")
	ErrUnsupportedFormat = errors.New("unsupported output format")
	ErrDimensionTooLarge = errors.New("dimension exceeds limit")
)

// Engine is the capability set every transform backend provides.
type Engine interface {
	// Apply runs each op in order against the current image state.
	Apply(chain spec.Chain) error
	// Generate encodes the current state. No further calls are allowed afterwards.
	Generate(format OutputFormat) ([]byte, error)
	// Bounds reports the current width and height.
	Bounds() (width, height int)
}

// Factory builds an Engine from raw source bytes. Unsupported containers yield
// a *domain.DecodeError.
type Factory func(raw []byte) (Engine, error)

type Options struct {
	// MaxDimension bounds resize targets; 0 means DefaultMaxDimension.
	MaxDimension int
	// Overlay is the watermark asset. Nil selects the built-in label.
	Overlay image.Image
}

func (o Options) withDefaults() Options {
	if o.MaxDimension <= 0 {
		o.MaxDimension = DefaultMaxDimension
	}
	if o.Overlay == nil {
		o.Overlay = DefaultOverlay()
	}
	return o
}

// NewDefaultFactory returns the engine selected at build time.
func NewDefaultFactory(opts Options) Factory {
	return newDefault(opts.withDefaults())
}

type FormatKind string

const (
	JPEG FormatKind = "jpeg"
	PNG  FormatKind = "png"
	WebP FormatKind = "webp"
)

type OutputFormat struct {
	Kind    FormatKind
	Quality int
}

func DefaultOutput() OutputFormat {
	return OutputFormat{Kind: JPEG, Quality: DefaultQuality}
}

func ParseFormat(name string) (FormatKind, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "jpg", "jpeg":
		return JPEG, nil
	case "png":
		return PNG, nil
	case "webp":
		return WebP, nil
	default:
		return "", fmt.Errorf("%w: %s", ErrUnsupportedFormat, name)
	}
}

func (f OutputFormat) quality() int {
	if f.Quality <= 0 || f.Quality > 100 {
		return DefaultQuality
	}
	return f.Quality
}

func (f OutputFormat) ContentType() string {
	switch f.Kind {
	case PNG:
		return "image/png"
	case WebP:
		return "image/webp"
	default:
		return "image/jpeg"
	}
}
