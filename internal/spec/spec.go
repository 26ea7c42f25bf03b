package spec

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

type ResizeKind int32

const (
	ResizeNormal    ResizeKind = 0
	ResizeSeamCarve ResizeKind = 1
)

type SampleFilter int32

const (
	SampleUndefined  SampleFilter = 0
	SampleNearest    SampleFilter = 1
	SampleTriangle   SampleFilter = 2
	SampleCatmullRom SampleFilter = 3
	SampleGaussian   SampleFilter = 4
	SampleLanczos3   SampleFilter = 5
)

type FilterKind int32

const (
	FilterUnspecified FilterKind = 0
	FilterOceanic     FilterKind = 1
	FilterIslands     FilterKind = 2
	FilterMarine      FilterKind = 3
)

var ErrEmptyOp = errors.New("transform op has no payload")

type Resize struct {
	Width  uint32
	Height uint32
	Kind   ResizeKind
	Filter SampleFilter
}

type Filter struct {
	Filter FilterKind
}

type Watermark struct {
	X uint32
	Y uint32
}

// Op is one transform operation. Exactly one of the pointers is set.
type Op struct {
	Resize    *Resize
	Filter    *Filter
	Watermark *Watermark
}

// Chain is an ordered list of ops; each consumes the output of the previous one.
type Chain []Op

func NewResize(width, height uint32, filter SampleFilter) Op {
	return Op{Resize: &Resize{Width: width, Height: height, Kind: ResizeNormal, Filter: filter}}
}

func NewSeamCarve(width, height uint32) Op {
	return Op{Resize: &Resize{Width: width, Height: height, Kind: ResizeSeamCarve, Filter: SampleUndefined}}
}

func NewFilter(filter FilterKind) Op {
	return Op{Filter: &Filter{Filter: filter}}
}

func NewWatermark(x, y uint32) Op {
	return Op{Watermark: &Watermark{X: x, Y: y}}
}

// Kind names the variant carried by the op, or "" when the op is malformed.
func (o Op) Kind() string {
	switch {
	case o.payloads() != 1:
		return ""
	case o.Resize != nil:
		return "resize"
	case o.Filter != nil:
		return "filter"
	default:
		return "watermark"
	}
}

func (o Op) payloads() int {
	n := 0
	if o.Resize != nil {
		n++
	}
	if o.Filter != nil {
		n++
	}
	if o.Watermark != nil {
		n++
	}
	return n
}

// Validate checks the single-payload invariant and field domains.
func (o Op) Validate() error {
	switch o.payloads() {
	case 0:
		return ErrEmptyOp
	case 1:
	default:
		return errors.New("transform op carries more than one payload")
	}
	if o.Resize != nil && (o.Resize.Width == 0 || o.Resize.Height == 0) {
		return fmt.Errorf("resize requires width and height > 0, got %dx%d", o.Resize.Width, o.Resize.Height)
	}
	return nil
}

func (o Op) String() string {
	switch {
	case o.payloads() != 1:
		return "invalid"
	case o.Resize != nil:
		if o.Resize.Kind == ResizeSeamCarve {
			return fmt.Sprintf("seam:%dx%d", o.Resize.Width, o.Resize.Height)
		}
		return fmt.Sprintf("resize:%dx%d:%s", o.Resize.Width, o.Resize.Height, o.Resize.Filter)
	case o.Filter != nil:
		return "filter:" + o.Filter.Filter.String()
	default:
		return fmt.Sprintf("watermark:%d,%d", o.Watermark.X, o.Watermark.Y)
	}
}

func (c Chain) String() string {
	parts := make([]string, 0, len(c))
	for _, op := range c {
		parts = append(parts, op.String())
	}
	return "[" + strings.Join(parts, " ") + "]"
}

// Equal reports whether two chains carry the same ops in the same order.
func (c Chain) Equal(other Chain) bool {
	if len(c) != len(other) {
		return false
	}
	for i := range c {
		if !c[i].equal(other[i]) {
			return false
		}
	}
	return true
}

func (o Op) equal(other Op) bool {
	switch {
	case (o.Resize == nil) != (other.Resize == nil),
		(o.Filter == nil) != (other.Filter == nil),
		(o.Watermark == nil) != (other.Watermark == nil):
		return false
	case o.Resize != nil && *o.Resize != *other.Resize:
		return false
	case o.Filter != nil && *o.Filter != *other.Filter:
		return false
	case o.Watermark != nil && *o.Watermark != *other.Watermark:
		return false
	}
	return true
}

var sampleFilterNames = map[SampleFilter]string{
	SampleUndefined:  "undefined",
	SampleNearest:    "nearest",
	SampleTriangle:   "triangle",
	SampleCatmullRom: "catmull-rom",
	SampleGaussian:   "gaussian",
	SampleLanczos3:   "lanczos3",
}

func (f SampleFilter) String() string {
	if name, ok := sampleFilterNames[f]; ok {
		return name
	}
	return strconv.Itoa(int(f))
}

var filterKindNames = map[FilterKind]string{
	FilterUnspecified: "unspecified",
	FilterOceanic:     "oceanic",
	FilterIslands:     "islands",
	FilterMarine:      "marine",
}

func (f FilterKind) String() string {
	if name, ok := filterKindNames[f]; ok {
		return name
	}
	return strconv.Itoa(int(f))
}

// ParseOp reads the textual op form used on the command line:
//
//	resize:500x800[:catmull-rom]  seam:300x200  filter:marine  watermark:20,20
func ParseOp(in string) (Op, error) {
	kind, args, _ := strings.Cut(strings.TrimSpace(in), ":")
	switch strings.ToLower(kind) {
	case "resize":
		dims, filterName, _ := strings.Cut(args, ":")
		w, h, err := parsePair(dims, "x")
		if err != nil {
			return Op{}, fmt.Errorf("parse resize %q: %w", in, err)
		}
		filter := SampleUndefined
		if filterName != "" {
			filter, err = parseSampleFilter(filterName)
			if err != nil {
				return Op{}, err
			}
		}
		op := NewResize(w, h, filter)
		return op, op.Validate()
	case "seam":
		w, h, err := parsePair(args, "x")
		if err != nil {
			return Op{}, fmt.Errorf("parse seam %q: %w", in, err)
		}
		op := NewSeamCarve(w, h)
		return op, op.Validate()
	case "filter":
		for kind, name := range filterKindNames {
			if strings.EqualFold(name, args) {
				return NewFilter(kind), nil
			}
		}
		return Op{}, fmt.Errorf("unknown filter %q", args)
	case "watermark":
		x, y, err := parsePair(args, ",")
		if err != nil {
			return Op{}, fmt.Errorf("parse watermark %q: %w", in, err)
		}
		return NewWatermark(x, y), nil
	default:
		return Op{}, fmt.Errorf("unknown op %q", kind)
	}
}

func parseSampleFilter(name string) (SampleFilter, error) {
	for filter, known := range sampleFilterNames {
		if strings.EqualFold(known, name) {
			return filter, nil
		}
	}
	return SampleUndefined, fmt.Errorf("unknown sample filter %q", name)
}

func parsePair(in, sep string) (uint32, uint32, error) {
	a, b, ok := strings.Cut(in, sep)
	if !ok {
		return 0, 0, fmt.Errorf("expected two values separated by %q", sep)
	}
	first, err := strconv.ParseUint(strings.TrimSpace(a), 10, 32)
	if err != nil {
		return 0, 0, err
	}
	second, err := strconv.ParseUint(strings.TrimSpace(b), 10, 32)
	if err != nil {
		return 0, 0, err
	}
	return uint32(first), uint32(second), nil
}
