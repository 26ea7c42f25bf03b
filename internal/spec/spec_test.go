package spec

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseOp(t *testing.T) {
	tests := []struct {
		in   string
		want Op
	}{
		{in: "resize:500x800:catmull-rom", want: NewResize(500, 800, SampleCatmullRom)},
		{in: "resize:64x64", want: NewResize(64, 64, SampleUndefined)},
		{in: "seam:300x200", want: NewSeamCarve(300, 200)},
		{in: "filter:Marine", want: NewFilter(FilterMarine)},
		{in: "watermark:20,20", want: NewWatermark(20, 20)},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseOp(tt.in)
			require.NoError(t, err)
			assert.True(t, Chain{tt.want}.Equal(Chain{got}), "got %s", got)
		})
	}
}

func TestParseOpRejectsInvalidInput(t *testing.T) {
	for _, in := range []string{
		"",
		"rotate:90",
		"resize:0x10",
		"resize:10",
		"resize:10x10:bicubic",
		"filter:sepia",
		"watermark:1",
		"watermark:-1,2",
	} {
		_, err := ParseOp(in)
		assert.Error(t, err, "input %q", in)
	}
}

func TestOpValidate(t *testing.T) {
	assert.ErrorIs(t, Op{}.Validate(), ErrEmptyOp)
	assert.Error(t, Op{Filter: &Filter{}, Watermark: &Watermark{}}.Validate())
	assert.NoError(t, NewWatermark(0, 0).Validate())
	assert.Equal(t, "", Op{}.Kind())
	assert.Equal(t, "watermark", NewWatermark(1, 1).Kind())
}

func TestChainString(t *testing.T) {
	chain := Chain{NewResize(500, 800, SampleCatmullRom), NewWatermark(20, 20), NewFilter(FilterMarine)}
	assert.Equal(t, "[resize:500x800:catmull-rom watermark:20,20 filter:marine]", chain.String())
}
