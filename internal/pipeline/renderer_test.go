package pipeline

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/png"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dunamismax/pixelproxy/internal/domain"
	"github.com/dunamismax/pixelproxy/internal/engine"
	"github.com/dunamismax/pixelproxy/internal/fetchcache"
	"github.com/dunamismax/pixelproxy/internal/spec"
	"github.com/dunamismax/pixelproxy/internal/store"
)

type staticSource struct {
	data  []byte
	err   error
	calls atomic.Int64
}

func (s *staticSource) Retrieve(_ context.Context, _ string) ([]byte, error) {
	s.calls.Add(1)
	if s.err != nil {
		return nil, s.err
	}
	return s.data, nil
}

func TestRenderScenarioChain(t *testing.T) {
	logs := store.NewMemoryRenderLogStore(10)
	renderer, err := NewRenderer(&staticSource{data: buildTestPNG(t, 1000, 1000)}, engine.NewImagingFactory(engine.Options{}), Options{Logs: logs})
	require.NoError(t, err)

	chain := spec.Chain{
		spec.NewResize(500, 800, spec.SampleCatmullRom),
		spec.NewWatermark(20, 20),
		spec.NewFilter(spec.FilterMarine),
	}
	res, err := renderer.Render(context.Background(), Request{
		RequestID: "req-1",
		Token:     spec.Encode(chain),
		SourceID:  "https://example.com/a.png",
		Format:    engine.DefaultOutput(),
	})
	require.NoError(t, err)

	assert.Equal(t, "image/jpeg", res.ContentType)
	assert.Equal(t, 500, res.Width)
	assert.Equal(t, 800, res.Height)
	assert.Equal(t, 3, res.Ops)

	cfg, format, err := image.DecodeConfig(bytes.NewReader(res.Data))
	require.NoError(t, err)
	assert.Equal(t, "jpeg", format)
	assert.Equal(t, 500, cfg.Width)
	assert.Equal(t, 800, cfg.Height)

	recent, err := logs.Recent(context.Background(), 1)
	require.NoError(t, err)
	require.Len(t, recent, 1)
	assert.Equal(t, "req-1", recent[0].RequestID)
	assert.Equal(t, domain.RenderStatusOK, recent[0].Status)
	assert.Equal(t, fetchcache.Fingerprint("https://example.com/a.png"), recent[0].Fingerprint)
	assert.Equal(t, chain.String(), recent[0].Chain)
}

func TestRenderEmptyTokenIsIdentity(t *testing.T) {
	renderer, err := NewRenderer(&staticSource{data: buildTestPNG(t, 240, 120)}, engine.NewImagingFactory(engine.Options{}), Options{})
	require.NoError(t, err)

	res, err := renderer.Render(context.Background(), Request{Token: "", SourceID: "s", Format: engine.OutputFormat{Kind: engine.PNG}})
	require.NoError(t, err)
	assert.Equal(t, 240, res.Width)
	assert.Equal(t, 120, res.Height)
	assert.Equal(t, 0, res.Ops)
}

func TestRenderFailuresByStage(t *testing.T) {
	valid := spec.Encode(spec.Chain{spec.NewFilter(spec.FilterOceanic)})

	tests := []struct {
		name      string
		source    *staticSource
		token     string
		format    engine.OutputFormat
		wantStage string
		wantFetch bool
	}{
		{
			name:      "malformed token skips fetch",
			source:    &staticSource{data: buildTestPNG(t, 8, 8)},
			token:     "not/base64",
			wantStage: "decode_token",
		},
		{
			name:      "fetch failure",
			source:    &staticSource{err: &domain.FetchError{URL: "s", Status: 404, Err: errors.New("missing")}},
			token:     valid,
			wantStage: "fetch",
			wantFetch: true,
		},
		{
			name:      "unsupported container",
			source:    &staticSource{data: []byte("plain text")},
			token:     valid,
			wantStage: "decode_image",
			wantFetch: true,
		},
		{
			name:      "unsupported output",
			source:    &staticSource{data: buildTestPNG(t, 8, 8)},
			token:     valid,
			format:    engine.OutputFormat{Kind: engine.WebP},
			wantStage: "transform",
			wantFetch: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			logs := store.NewMemoryRenderLogStore(4)
			renderer, err := NewRenderer(tt.source, engine.NewImagingFactory(engine.Options{}), Options{Logs: logs})
			require.NoError(t, err)

			res, err := renderer.Render(context.Background(), Request{Token: tt.token, SourceID: "s", Format: tt.format})
			require.Error(t, err)
			assert.Nil(t, res.Data)
			assert.Equal(t, tt.wantStage, domain.Stage(err))
			assert.Equal(t, tt.wantFetch, tt.source.calls.Load() > 0)

			recent, err := logs.Recent(context.Background(), 1)
			require.NoError(t, err)
			require.Len(t, recent, 1)
			assert.Equal(t, domain.RenderStatusError, recent[0].Status)
			assert.NotEmpty(t, recent[0].Error)
		})
	}
}

func TestRenderThroughCacheFetchesOnce(t *testing.T) {
	src := buildTestPNG(t, 64, 64)
	var fetches atomic.Int64
	cache, err := fetchcache.New(fetchcache.FetcherFunc(func(context.Context, string) ([]byte, error) {
		fetches.Add(1)
		return src, nil
	}), fetchcache.Options{Capacity: 4})
	require.NoError(t, err)

	renderer, err := NewRenderer(cache, engine.NewImagingFactory(engine.Options{}), Options{})
	require.NoError(t, err)

	token := spec.Encode(spec.Chain{spec.NewResize(32, 32, spec.SampleTriangle)})
	for i := 0; i < 3; i++ {
		_, err := renderer.Render(context.Background(), Request{Token: token, SourceID: "https://example.com/x.png", Format: engine.DefaultOutput()})
		require.NoError(t, err)
	}
	assert.Equal(t, int64(1), fetches.Load())
}

func TestNewRendererRequiresCollaborators(t *testing.T) {
	_, err := NewRenderer(nil, engine.NewImagingFactory(engine.Options{}), Options{})
	assert.Error(t, err)
	_, err = NewRenderer(&staticSource{}, nil, Options{})
	assert.Error(t, err)
}

func BenchmarkRenderResize(b *testing.B) {
	img := image.NewRGBA(image.Rect(0, 0, 1920, 1080))
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		b.Fatalf("encode source png: %v", err)
	}
	renderer, err := NewRenderer(&staticSource{data: buf.Bytes()}, engine.NewImagingFactory(engine.Options{}), Options{})
	if err != nil {
		b.Fatalf("new renderer: %v", err)
	}
	req := Request{
		Token:    spec.Encode(spec.Chain{spec.NewResize(640, 360, spec.SampleCatmullRom)}),
		SourceID: "bench",
		Format:   engine.OutputFormat{Kind: engine.JPEG, Quality: 82},
	}

	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := renderer.Render(context.Background(), req); err != nil {
			b.Fatalf("render: %v", err)
		}
	}
}

func buildTestPNG(t *testing.T, w, h int) []byte {
	t.Helper()

	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.RGBA{
				R: uint8((x * 255) / w),
				G: uint8((y * 255) / h),
				B: 140,
				A: 255,
			})
		}
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("encode source png: %v", err)
	}
	return buf.Bytes()
}
