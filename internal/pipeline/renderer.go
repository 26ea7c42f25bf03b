// Package pipeline runs one render: decode token, retrieve source, transform, encode.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/dunamismax/pixelproxy/internal/domain"
	"github.com/dunamismax/pixelproxy/internal/engine"
	"github.com/dunamismax/pixelproxy/internal/fetchcache"
	"github.com/dunamismax/pixelproxy/internal/spec"
	"github.com/dunamismax/pixelproxy/internal/store"
)

const recordTimeout = 2 * time.Second

// Source supplies raw image bytes for a source identifier. *fetchcache.Cache satisfies it.
type Source interface {
	Retrieve(ctx context.Context, sourceID string) ([]byte, error)
}

type Request struct {
	RequestID string
	Token     string
	SourceID  string
	Format    engine.OutputFormat
}

type Result struct {
	Data        []byte
	ContentType string
	Width       int
	Height      int
	Ops         int
	SourceBytes int
}

type Options struct {
	Logs   store.RenderLogStore
	Logger logrus.FieldLogger
	Tracer trace.Tracer
}

type Renderer struct {
	source    Source
	newEngine engine.Factory
	logs      store.RenderLogStore
	logger    logrus.FieldLogger
	tracer    trace.Tracer
	now       func() time.Time
}

func NewRenderer(source Source, factory engine.Factory, opts Options) (*Renderer, error) {
	if source == nil {
		return nil, errors.New("render source is required")
	}
	if factory == nil {
		return nil, errors.New("engine factory is required")
	}

	logger := opts.Logger
	if logger == nil {
		discard := logrus.New()
		discard.SetOutput(io.Discard)
		logger = discard
	}
	tracer := opts.Tracer
	if tracer == nil {
		tracer = otel.Tracer("github.com/dunamismax/pixelproxy/internal/pipeline")
	}

	return &Renderer{
		source:    source,
		newEngine: factory,
		logs:      opts.Logs,
		logger:    logger,
		tracer:    tracer,
		now:       time.Now,
	}, nil
}

// Render never returns partial output: any stage failure yields an error and no bytes.
func (r *Renderer) Render(ctx context.Context, req Request) (Result, error) {
	start := r.now()
	ctx, span := r.tracer.Start(ctx, "pipeline.render", trace.WithAttributes(
		attribute.String("render.source_id", req.SourceID),
		attribute.String("render.format", string(req.Format.Kind)),
	))
	defer span.End()

	res, chain, err := r.render(ctx, req)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, domain.Stage(err))
	}
	r.record(ctx, req, chain, res, err, r.now().Sub(start))
	if err != nil {
		return Result{}, err
	}
	return res, nil
}

func (r *Renderer) render(ctx context.Context, req Request) (Result, spec.Chain, error) {
	var chain spec.Chain
	if err := r.stage(ctx, "decode", func(context.Context) error {
		var err error
		chain, err = spec.Decode(req.Token)
		return err
	}); err != nil {
		return Result{}, nil, fmt.Errorf("decode stage: %w", err)
	}

	var raw []byte
	if err := r.stage(ctx, "fetch", func(ctx context.Context) error {
		var err error
		raw, err = r.source.Retrieve(ctx, req.SourceID)
		return err
	}); err != nil {
		return Result{}, chain, fmt.Errorf("fetch stage: %w", err)
	}

	var (
		eng engine.Engine
		out []byte
	)
	if err := r.stage(ctx, "transform", func(context.Context) error {
		var err error
		if eng, err = r.newEngine(raw); err != nil {
			return err
		}
		return eng.Apply(chain)
	}); err != nil {
		return Result{}, chain, fmt.Errorf("transform stage: %w", err)
	}

	width, height := eng.Bounds()
	if err := r.stage(ctx, "encode", func(context.Context) error {
		var err error
		out, err = eng.Generate(req.Format)
		return err
	}); err != nil {
		return Result{}, chain, fmt.Errorf("encode stage: %w", err)
	}

	return Result{
		Data:        out,
		ContentType: req.Format.ContentType(),
		Width:       width,
		Height:      height,
		Ops:         len(chain),
		SourceBytes: len(raw),
	}, chain, nil
}

func (r *Renderer) stage(ctx context.Context, name string, fn func(ctx context.Context) error) error {
	ctx, span := r.tracer.Start(ctx, "pipeline."+name)
	defer span.End()

	if err := fn(ctx); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}
	return nil
}

func (r *Renderer) record(ctx context.Context, req Request, chain spec.Chain, res Result, renderErr error, elapsed time.Duration) {
	entry := domain.RenderLog{
		RequestID:   req.RequestID,
		SourceID:    req.SourceID,
		Fingerprint: fetchcache.Fingerprint(req.SourceID),
		Chain:       chain.String(),
		Ops:         len(chain),
		Format:      string(req.Format.Kind),
		SourceBytes: int64(res.SourceBytes),
		OutputBytes: int64(len(res.Data)),
		Width:       res.Width,
		Height:      res.Height,
		DurationMS:  elapsed.Milliseconds(),
		Status:      domain.RenderStatusOK,
		CreatedAt:   r.now().UTC(),
	}
	fields := logrus.Fields{
		"request_id":  req.RequestID,
		"fingerprint": fmt.Sprintf("%016x", entry.Fingerprint),
		"chain":       entry.Chain,
		"duration_ms": entry.DurationMS,
	}
	if renderErr != nil {
		entry.Status = domain.RenderStatusError
		entry.Error = renderErr.Error()
		fields["stage"] = domain.Stage(renderErr)
		r.logger.WithFields(fields).WithError(renderErr).Warn("render failed")
	} else {
		fields["bytes"] = entry.OutputBytes
		r.logger.WithFields(fields).Debug("render complete")
	}

	if r.logs == nil {
		return
	}
	// A client disconnect must not drop the usage record.
	recordCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), recordTimeout)
	defer cancel()
	if err := r.logs.Record(recordCtx, entry); err != nil {
		r.logger.WithFields(fields).WithError(err).Error("record render log")
	}
}
