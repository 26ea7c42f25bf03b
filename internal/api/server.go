package api

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/trace"

	"github.com/dunamismax/pixelproxy/internal/domain"
	"github.com/dunamismax/pixelproxy/internal/engine"
	"github.com/dunamismax/pixelproxy/internal/fetchcache"
	"github.com/dunamismax/pixelproxy/internal/pipeline"
	"github.com/dunamismax/pixelproxy/internal/spec"
	"github.com/dunamismax/pixelproxy/internal/store"
	"github.com/dunamismax/pixelproxy/internal/telemetry"
)

const defaultMaxAge = 24 * time.Hour

type Renderer interface {
	Render(ctx context.Context, req pipeline.Request) (pipeline.Result, error)
}

type CacheStats interface {
	Stats() fetchcache.Stats
}

type Options struct {
	Logger   logrus.FieldLogger
	Renderer Renderer
	// Logs backs /v1/renders. Nil disables the listing.
	Logs store.RenderLogStore
	// Cache feeds the fetch cache gauges. Nil skips them.
	Cache          CacheStats
	Tracer         trace.Tracer
	DefaultQuality int
	MaxAge         time.Duration
}

type Server struct {
	logger         logrus.FieldLogger
	renderer       Renderer
	logs           store.RenderLogStore
	tracer         trace.Tracer
	metrics        *metrics
	defaultQuality int
	cacheControl   string
	router         *gin.Engine
}

func NewServer(opts Options) (*Server, error) {
	if opts.Renderer == nil {
		return nil, errors.New("renderer is required")
	}
	logger := opts.Logger
	if logger == nil {
		logger = telemetry.DiscardLogger()
	}
	quality := opts.DefaultQuality
	if quality <= 0 {
		quality = engine.DefaultQuality
	}
	maxAge := opts.MaxAge
	if maxAge <= 0 {
		maxAge = defaultMaxAge
	}

	s := &Server{
		logger:         logger,
		renderer:       opts.Renderer,
		logs:           opts.Logs,
		tracer:         opts.Tracer,
		metrics:        newMetrics(opts.Cache),
		defaultQuality: quality,
		cacheControl:   "public, max-age=" + strconv.Itoa(int(maxAge.Seconds())),
	}
	s.routes()
	return s, nil
}

func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) routes() {
	router := gin.New()
	// Source urls arrive percent-encoded; match on the raw path so %2F stays inside the wildcard.
	// gin would unescape values with query rules ('+' as space), so handleImage decodes them itself.
	router.UseRawPath = true
	router.UnescapePathValues = false

	router.Use(
		gin.Recovery(),
		requestID(),
		s.withTracing(),
		s.metrics.withHTTPMetrics(),
		s.requestLogger(),
	)

	router.GET("/healthz", s.handleHealthz)
	router.GET("/metrics", gin.WrapH(s.metrics.metricsHandler()))
	router.GET("/image/:token/*url", s.handleImage)
	router.GET("/v1/renders", s.handleRecentRenders)

	s.router = router
}

func (s *Server) handleHealthz(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (s *Server) handleImage(c *gin.Context) {
	token := c.Param("token")
	if token == spec.EmptyToken {
		token = ""
	}
	sourceID, err := sourceParam(c)
	if err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "source url is not valid percent-encoding"})
		return
	}

	format, err := s.outputFormat(c)
	if err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	res, err := s.renderer.Render(c.Request.Context(), pipeline.Request{
		RequestID: c.GetString(requestIDKey),
		Token:     token,
		SourceID:  sourceID,
		Format:    format,
	})
	if err != nil {
		stage := domain.Stage(err)
		s.metrics.renders.WithLabelValues(stage).Inc()
		status, message := errorResponse(err)
		if status >= http.StatusInternalServerError {
			s.logger.WithFields(logrus.Fields{
				"request_id": c.GetString(requestIDKey),
				"stage":      stage,
			}).WithError(err).Error("render request failed")
		}
		c.AbortWithStatusJSON(status, gin.H{"error": message})
		return
	}

	s.metrics.renders.WithLabelValues("ok").Inc()
	s.metrics.outputBytes.Observe(float64(len(res.Data)))
	c.Header("Cache-Control", s.cacheControl)
	c.Data(http.StatusOK, res.ContentType, res.Data)
}

// sourceParam returns the decoded *url wildcard. gin hands it over raw when the
// request carried an escaped path and already decoded otherwise.
func sourceParam(c *gin.Context) (string, error) {
	v := strings.TrimPrefix(c.Param("url"), "/")
	if c.Request.URL.RawPath == "" {
		return v, nil
	}
	return url.PathUnescape(v)
}

func (s *Server) outputFormat(c *gin.Context) (engine.OutputFormat, error) {
	kind, err := engine.ParseFormat(c.Query("format"))
	if err != nil {
		return engine.OutputFormat{}, err
	}
	out := engine.OutputFormat{Kind: kind, Quality: s.defaultQuality}
	if raw := c.Query("quality"); raw != "" {
		q, err := strconv.Atoi(raw)
		if err != nil || q < 1 || q > 100 {
			return engine.OutputFormat{}, errors.New("quality must be an integer within 1..100")
		}
		out.Quality = q
	}
	return out, nil
}

func (s *Server) handleRecentRenders(c *gin.Context) {
	if s.logs == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "render log is disabled"})
		return
	}
	limit := 0
	if raw := c.Query("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 1 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be a positive integer"})
			return
		}
		limit = parsed
	}

	entries, err := s.logs.Recent(c.Request.Context(), limit)
	if err != nil {
		s.logger.WithError(err).Error("load recent renders")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load render log"})
		return
	}

	out := make([]gin.H, 0, len(entries))
	for _, e := range entries {
		out = append(out, gin.H{
			"request_id":   e.RequestID,
			"source_id":    e.SourceID,
			"fingerprint":  strconv.FormatUint(e.Fingerprint, 16),
			"chain":        e.Chain,
			"ops":          e.Ops,
			"format":       e.Format,
			"source_bytes": e.SourceBytes,
			"output_bytes": e.OutputBytes,
			"width":        e.Width,
			"height":       e.Height,
			"duration_ms":  e.DurationMS,
			"status":       e.Status,
			"error":        e.Error,
			"created_at":   e.CreatedAt,
		})
	}
	c.JSON(http.StatusOK, gin.H{"renders": out})
}

// errorResponse maps a render failure to a status and a client-facing message.
func errorResponse(err error) (int, string) {
	var (
		decodeErr *domain.DecodeError
		fetchErr  *domain.FetchError
	)
	switch {
	case errors.As(err, &decodeErr) && decodeErr.Subject == domain.DecodeSubjectToken:
		return http.StatusBadRequest, decodeErr.Error()
	case errors.As(err, &decodeErr):
		return http.StatusUnsupportedMediaType, decodeErr.Error()
	case errors.As(err, &fetchErr) && fetchErr.ClientFault():
		return http.StatusBadRequest, fetchErr.Error()
	case errors.As(err, &fetchErr):
		return http.StatusBadGateway, fetchErr.Error()
	default:
		return http.StatusInternalServerError, "image transformation failed"
	}
}
