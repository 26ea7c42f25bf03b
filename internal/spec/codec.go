package spec

import (
	"encoding/base64"
	"errors"
	"fmt"
	"math"

	"github.com/dunamismax/pixelproxy/internal/domain"
	"google.golang.org/protobuf/encoding/protowire"
)

// MaxTokenLength bounds the textual token accepted by Decode.
const MaxTokenLength = 4096

// EmptyToken stands in for the empty chain in URL paths, where the empty
// encoding would leave a blank segment.
const EmptyToken = "-"

const (
	fieldChainOp protowire.Number = 1

	fieldOpResize    protowire.Number = 1
	fieldOpFilter    protowire.Number = 2
	fieldOpWatermark protowire.Number = 3

	fieldResizeWidth  protowire.Number = 1
	fieldResizeHeight protowire.Number = 2
	fieldResizeKind   protowire.Number = 3
	fieldResizeFilter protowire.Number = 4

	fieldFilterKind protowire.Number = 1

	fieldWatermarkX protowire.Number = 1
	fieldWatermarkY protowire.Number = 2
)

// Strict rejects non-zero trailing bits, so each chain has exactly one token.
var tokenEncoding = base64.RawURLEncoding.Strict()

// Encode serializes the chain into a URL-safe, unpadded token. The same chain
// always produces the same token.
func Encode(chain Chain) string {
	return tokenEncoding.EncodeToString(Marshal(chain))
}

// Decode parses a token produced by Encode. All failures are *domain.DecodeError.
func Decode(token string) (Chain, error) {
	if len(token) > MaxTokenLength {
		return nil, domain.NewTokenError(fmt.Errorf("token exceeds %d characters", MaxTokenLength))
	}
	raw, err := tokenEncoding.DecodeString(token)
	if err != nil {
		return nil, domain.NewTokenError(fmt.Errorf("invalid base64: %w", err))
	}
	chain, err := Unmarshal(raw)
	if err != nil {
		return nil, domain.NewTokenError(err)
	}
	return chain, nil
}

// Marshal writes the binary layout of the chain using the protobuf wire format.
// Zero scalars are omitted and fields are written in ascending order.
func Marshal(chain Chain) []byte {
	var b []byte
	for _, op := range chain {
		b = protowire.AppendTag(b, fieldChainOp, protowire.BytesType)
		b = protowire.AppendBytes(b, marshalOp(op))
	}
	return b
}

func marshalOp(op Op) []byte {
	var b []byte
	switch {
	case op.Resize != nil:
		var m []byte
		m = appendVarint(m, fieldResizeWidth, uint64(op.Resize.Width))
		m = appendVarint(m, fieldResizeHeight, uint64(op.Resize.Height))
		m = appendVarint(m, fieldResizeKind, uint64(uint32(op.Resize.Kind)))
		m = appendVarint(m, fieldResizeFilter, uint64(uint32(op.Resize.Filter)))
		b = protowire.AppendTag(b, fieldOpResize, protowire.BytesType)
		b = protowire.AppendBytes(b, m)
	case op.Filter != nil:
		m := appendVarint(nil, fieldFilterKind, uint64(uint32(op.Filter.Filter)))
		b = protowire.AppendTag(b, fieldOpFilter, protowire.BytesType)
		b = protowire.AppendBytes(b, m)
	case op.Watermark != nil:
		var m []byte
		m = appendVarint(m, fieldWatermarkX, uint64(op.Watermark.X))
		m = appendVarint(m, fieldWatermarkY, uint64(op.Watermark.Y))
		b = protowire.AppendTag(b, fieldOpWatermark, protowire.BytesType)
		b = protowire.AppendBytes(b, m)
	}
	return b
}

func appendVarint(b []byte, num protowire.Number, v uint64) []byte {
	if v == 0 {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.VarintType)
	return protowire.AppendVarint(b, v)
}

// Unmarshal parses the binary layout. Unknown fields are rejected rather than skipped.
func Unmarshal(b []byte) (Chain, error) {
	chain := Chain{}
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return nil, fmt.Errorf("chain: %w", protowire.ParseError(n))
		}
		b = b[n:]
		if num != fieldChainOp || typ != protowire.BytesType {
			return nil, fmt.Errorf("chain: unexpected field %d (wire type %d)", num, typ)
		}
		payload, n := protowire.ConsumeBytes(b)
		if n < 0 {
			return nil, fmt.Errorf("chain op %d: %w", len(chain), protowire.ParseError(n))
		}
		b = b[n:]

		op, err := unmarshalOp(payload)
		if err != nil {
			return nil, fmt.Errorf("chain op %d: %w", len(chain), err)
		}
		chain = append(chain, op)
	}
	return chain, nil
}

func unmarshalOp(b []byte) (Op, error) {
	var op Op
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return Op{}, protowire.ParseError(n)
		}
		b = b[n:]
		if typ != protowire.BytesType {
			return Op{}, fmt.Errorf("op field %d: unexpected wire type %d", num, typ)
		}
		payload, n := protowire.ConsumeBytes(b)
		if n < 0 {
			return Op{}, fmt.Errorf("op field %d: %w", num, protowire.ParseError(n))
		}
		b = b[n:]

		if op.payloads() > 0 {
			return Op{}, errors.New("op carries more than one payload")
		}

		var err error
		switch num {
		case fieldOpResize:
			op.Resize, err = unmarshalResize(payload)
		case fieldOpFilter:
			op.Filter, err = unmarshalFilter(payload)
		case fieldOpWatermark:
			op.Watermark, err = unmarshalWatermark(payload)
		default:
			return Op{}, fmt.Errorf("unknown op variant %d", num)
		}
		if err != nil {
			return Op{}, err
		}
	}
	if err := op.Validate(); err != nil {
		return Op{}, err
	}
	return op, nil
}

func unmarshalResize(b []byte) (*Resize, error) {
	r := &Resize{}
	err := consumeVarints(b, "resize", func(num protowire.Number, v uint64) error {
		switch num {
		case fieldResizeWidth:
			return assignUint32(&r.Width, v, "resize width")
		case fieldResizeHeight:
			return assignUint32(&r.Height, v, "resize height")
		case fieldResizeKind:
			return assignEnum((*int32)(&r.Kind), v, "resize kind")
		case fieldResizeFilter:
			return assignEnum((*int32)(&r.Filter), v, "resize filter")
		default:
			return fmt.Errorf("resize: unknown field %d", num)
		}
	})
	if err != nil {
		return nil, err
	}
	return r, nil
}

func unmarshalFilter(b []byte) (*Filter, error) {
	f := &Filter{}
	err := consumeVarints(b, "filter", func(num protowire.Number, v uint64) error {
		if num != fieldFilterKind {
			return fmt.Errorf("filter: unknown field %d", num)
		}
		return assignEnum((*int32)(&f.Filter), v, "filter kind")
	})
	if err != nil {
		return nil, err
	}
	return f, nil
}

func unmarshalWatermark(b []byte) (*Watermark, error) {
	w := &Watermark{}
	err := consumeVarints(b, "watermark", func(num protowire.Number, v uint64) error {
		switch num {
		case fieldWatermarkX:
			return assignUint32(&w.X, v, "watermark x")
		case fieldWatermarkY:
			return assignUint32(&w.Y, v, "watermark y")
		default:
			return fmt.Errorf("watermark: unknown field %d", num)
		}
	})
	if err != nil {
		return nil, err
	}
	return w, nil
}

func consumeVarints(b []byte, msg string, set func(protowire.Number, uint64) error) error {
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return fmt.Errorf("%s: %w", msg, protowire.ParseError(n))
		}
		b = b[n:]
		if typ != protowire.VarintType {
			return fmt.Errorf("%s field %d: unexpected wire type %d", msg, num, typ)
		}
		v, n := protowire.ConsumeVarint(b)
		if n < 0 {
			return fmt.Errorf("%s field %d: %w", msg, num, protowire.ParseError(n))
		}
		b = b[n:]
		if err := set(num, v); err != nil {
			return err
		}
	}
	return nil
}

func assignUint32(dst *uint32, v uint64, field string) error {
	if v > math.MaxUint32 {
		return fmt.Errorf("%s out of range: %d", field, v)
	}
	*dst = uint32(v)
	return nil
}

func assignEnum(dst *int32, v uint64, field string) error {
	if v > math.MaxInt32 {
		return fmt.Errorf("%s out of range: %d", field, v)
	}
	*dst = int32(v)
	return nil
}
