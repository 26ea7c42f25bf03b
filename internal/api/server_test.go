package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"image"
	"image/color"
	"image/png"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dunamismax/pixelproxy/internal/domain"
	"github.com/dunamismax/pixelproxy/internal/engine"
	"github.com/dunamismax/pixelproxy/internal/fetchcache"
	"github.com/dunamismax/pixelproxy/internal/pipeline"
	"github.com/dunamismax/pixelproxy/internal/spec"
	"github.com/dunamismax/pixelproxy/internal/store"
)

const (
	sourceOK       = "https://images.example.com/photos/cat.png?v=2"
	sourceGarbage  = "https://images.example.com/notes.txt"
	sourceMissing  = "https://images.example.com/missing.png"
	sourceUpstream = "https://down.example.com/a.png"
	sourcePlus     = "https://images.example.com/a+b.png?q=x+y"
	sourceEscaped  = "https://images.example.com/c%2Bd.png?sig=a%2Fb"
)

type fakeUpstream struct {
	mu   sync.Mutex
	seen []string
	png  []byte
}

func (f *fakeUpstream) Fetch(_ context.Context, sourceID string) ([]byte, error) {
	f.mu.Lock()
	f.seen = append(f.seen, sourceID)
	f.mu.Unlock()

	switch sourceID {
	case sourceOK, sourcePlus, sourceEscaped:
		return f.png, nil
	case sourceGarbage:
		return []byte("not an image"), nil
	case sourceMissing:
		return nil, &domain.FetchError{URL: sourceID, Status: http.StatusNotFound, Err: errors.New("unexpected status")}
	case sourceUpstream:
		return nil, &domain.FetchError{URL: sourceID, Status: http.StatusServiceUnavailable, Err: errors.New("unexpected status")}
	default:
		return nil, &domain.FetchError{URL: sourceID, Err: domain.ErrInvalidSource}
	}
}

type testServer struct {
	handler  http.Handler
	upstream *fakeUpstream
	logs     *store.MemoryRenderLogStore
}

func newTestServer(t *testing.T) testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)

	upstream := &fakeUpstream{png: buildTestPNG(t, 300, 200)}
	cache, err := fetchcache.New(upstream, fetchcache.Options{Capacity: 8})
	require.NoError(t, err)

	logs := store.NewMemoryRenderLogStore(16)
	renderer, err := pipeline.NewRenderer(cache, engine.NewImagingFactory(engine.Options{MaxDimension: 1000}), pipeline.Options{Logs: logs})
	require.NoError(t, err)

	srv, err := NewServer(Options{Renderer: renderer, Logs: logs, Cache: cache})
	require.NoError(t, err)
	return testServer{handler: srv.Handler(), upstream: upstream, logs: logs}
}

func imagePath(token, source, query string) string {
	p := "/image/" + token + "/" + url.PathEscape(source)
	if query != "" {
		p += "?" + query
	}
	return p
}

func (ts testServer) get(t *testing.T, target string, header http.Header) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, target, nil)
	for k, vv := range header {
		for _, v := range vv {
			req.Header.Add(k, v)
		}
	}
	rec := httptest.NewRecorder()
	ts.handler.ServeHTTP(rec, req)
	return rec
}

func TestImageRouteRendersChain(t *testing.T) {
	ts := newTestServer(t)
	token := spec.Encode(spec.Chain{
		spec.NewResize(120, 80, spec.SampleCatmullRom),
		spec.NewWatermark(5, 5),
		spec.NewFilter(spec.FilterMarine),
	})

	rec := ts.get(t, imagePath(token, sourceOK, ""), nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	assert.Equal(t, "image/jpeg", rec.Header().Get("Content-Type"))
	assert.Equal(t, "public, max-age=86400", rec.Header().Get("Cache-Control"))
	assert.NotEmpty(t, rec.Header().Get(requestIDHeader))

	cfg, format, err := image.DecodeConfig(bytes.NewReader(rec.Body.Bytes()))
	require.NoError(t, err)
	assert.Equal(t, "jpeg", format)
	assert.Equal(t, 120, cfg.Width)
	assert.Equal(t, 80, cfg.Height)

	assert.Equal(t, []string{sourceOK}, ts.upstream.seen)
}

func TestImageRoutePreservesSourceURL(t *testing.T) {
	for _, source := range []string{sourcePlus, sourceEscaped} {
		t.Run(source, func(t *testing.T) {
			ts := newTestServer(t)
			rec := ts.get(t, imagePath(spec.EmptyToken, source, ""), nil)
			require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
			assert.Equal(t, []string{source}, ts.upstream.seen)
		})
	}
}

func TestImageRouteLiteralAndEscapedPlusAgree(t *testing.T) {
	ts := newTestServer(t)
	for _, target := range []string{
		"/image/-/https:%2F%2Fimages.example.com%2Fa+b.png%3Fq=x+y",
		"/image/-/https:%2F%2Fimages.example.com%2Fa%2Bb.png%3Fq=x%2By",
	} {
		rec := ts.get(t, target, nil)
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	}
	assert.Equal(t, []string{sourcePlus}, ts.upstream.seen)
}

func TestImageRouteRejectsBadSourceEscape(t *testing.T) {
	ts := newTestServer(t)
	req := httptest.NewRequest(http.MethodGet, "/image/-/https:%2F%2Fimages.example.com%2Fx.png", nil)
	req.URL.RawPath = "/image/-/https:%2F%2Fimages.example.com%2F%zz.png"
	rec := httptest.NewRecorder()
	ts.handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Empty(t, ts.upstream.seen)
}

func TestImageRouteEmptyChainAndFormat(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.get(t, imagePath(spec.EmptyToken, sourceOK, "format=png"), nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "image/png", rec.Header().Get("Content-Type"))

	cfg, err := png.DecodeConfig(bytes.NewReader(rec.Body.Bytes()))
	require.NoError(t, err)
	assert.Equal(t, 300, cfg.Width)
	assert.Equal(t, 200, cfg.Height)
}

func TestImageRouteReusesCachedSource(t *testing.T) {
	ts := newTestServer(t)
	for _, token := range []string{spec.EmptyToken, spec.Encode(spec.Chain{spec.NewFilter(spec.FilterIslands)})} {
		rec := ts.get(t, imagePath(token, sourceOK, ""), nil)
		require.Equal(t, http.StatusOK, rec.Code)
	}
	assert.Len(t, ts.upstream.seen, 1)
}

func TestImageRouteErrorMapping(t *testing.T) {
	valid := spec.Encode(spec.Chain{spec.NewFilter(spec.FilterOceanic)})
	tooLarge := spec.Encode(spec.Chain{spec.NewResize(5000, 10, spec.SampleNearest)})

	tests := []struct {
		name   string
		target string
		want   int
	}{
		{name: "malformed token", target: imagePath("bad*token", sourceOK, ""), want: http.StatusBadRequest},
		{name: "truncated token", target: imagePath(valid[:len(valid)-1], sourceOK, ""), want: http.StatusBadRequest},
		{name: "bad format", target: imagePath(valid, sourceOK, "format=gif"), want: http.StatusBadRequest},
		{name: "bad quality", target: imagePath(valid, sourceOK, "quality=0"), want: http.StatusBadRequest},
		{name: "invalid source", target: imagePath(valid, "ftp://x/y.png", ""), want: http.StatusBadRequest},
		{name: "upstream not found", target: imagePath(valid, sourceMissing, ""), want: http.StatusBadRequest},
		{name: "upstream unavailable", target: imagePath(valid, sourceUpstream, ""), want: http.StatusBadGateway},
		{name: "unsupported container", target: imagePath(valid, sourceGarbage, ""), want: http.StatusUnsupportedMediaType},
		{name: "dimension limit", target: imagePath(tooLarge, sourceOK, ""), want: http.StatusInternalServerError},
		{name: "webp on imaging engine", target: imagePath(valid, sourceOK, "format=webp"), want: http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ts := newTestServer(t)
			rec := ts.get(t, tt.target, nil)
			require.Equal(t, tt.want, rec.Code, rec.Body.String())
			assert.Equal(t, "application/json; charset=utf-8", rec.Header().Get("Content-Type"))

			var body map[string]string
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
			assert.NotEmpty(t, body["error"])
		})
	}
}

func TestErrorResponse(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{err: domain.NewTokenError(errors.New("bad")), want: http.StatusBadRequest},
		{err: domain.NewImageDecodeError(errors.New("bad")), want: http.StatusUnsupportedMediaType},
		{err: &domain.FetchError{URL: "x", Err: domain.ErrInvalidSource}, want: http.StatusBadRequest},
		{err: &domain.FetchError{URL: "x", Err: context.DeadlineExceeded}, want: http.StatusBadGateway},
		{err: &domain.TransformError{Op: "0:resize", Err: errors.New("bad")}, want: http.StatusInternalServerError},
		{err: errors.New("other"), want: http.StatusInternalServerError},
	}
	for _, tt := range tests {
		got, msg := errorResponse(tt.err)
		assert.Equal(t, tt.want, got, "error %v", tt.err)
		assert.NotEmpty(t, msg)
	}
}

func TestRequestIDEchoed(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.get(t, "/healthz", http.Header{requestIDHeader: {"client-abc.1"}})
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "client-abc.1", rec.Header().Get(requestIDHeader))

	rec = ts.get(t, "/healthz", http.Header{requestIDHeader: {"bad id"}})
	assert.NotEqual(t, "bad id", rec.Header().Get(requestIDHeader))
	assert.NotEmpty(t, rec.Header().Get(requestIDHeader))
}

func TestMetricsExposeCacheAndRoutes(t *testing.T) {
	ts := newTestServer(t)
	require.Equal(t, http.StatusOK, ts.get(t, imagePath(spec.EmptyToken, sourceOK, ""), nil).Code)

	rec := ts.get(t, "/metrics", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.Contains(t, body, "pixelproxy_fetch_cache_fetches_total 1")
	assert.Contains(t, body, `route="/image/:token/*url"`)
	assert.Contains(t, body, `pixelproxy_renders_total{outcome="ok"} 1`)
}

func TestRecentRendersListing(t *testing.T) {
	ts := newTestServer(t)
	rec := ts.get(t, imagePath(spec.EmptyToken, sourceOK, ""), http.Header{requestIDHeader: {"req-42"}})
	require.Equal(t, http.StatusOK, rec.Code)

	rec = ts.get(t, "/v1/renders?limit=5", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Renders []map[string]any `json:"renders"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Len(t, body.Renders, 1)
	assert.Equal(t, "req-42", body.Renders[0]["request_id"])
	assert.Equal(t, sourceOK, body.Renders[0]["source_id"])
	assert.Equal(t, domain.RenderStatusOK, body.Renders[0]["status"])

	assert.Equal(t, http.StatusBadRequest, ts.get(t, "/v1/renders?limit=abc", nil).Code)
}

func TestUnknownRouteIsNotFound(t *testing.T) {
	ts := newTestServer(t)
	rec := ts.get(t, "/image/", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.False(t, strings.HasPrefix(rec.Header().Get("Content-Type"), "image/"))
}

func TestNewServerRequiresRenderer(t *testing.T) {
	_, err := NewServer(Options{})
	assert.Error(t, err)
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
