package domain

import (
	"errors"
	"time"
)

const (
	RenderStatusOK    = "ok"
	RenderStatusError = "error"
)

// RenderLog is the usage record written once per render attempt.
type RenderLog struct {
	RequestID   string
	SourceID    string
	Fingerprint uint64
	Chain       string
	Ops         int
	Format      string
	SourceBytes int64
	OutputBytes int64
	Width       int
	Height      int
	DurationMS  int64
	Status      string
	Error       string
	CreatedAt   time.Time
}

// Stage names the pipeline stage an error came from, for logs and metrics.
func Stage(err error) string {
	var (
		decodeErr    *DecodeError
		fetchErr     *FetchError
		transformErr *TransformError
	)
	switch {
	case err == nil:
		return ""
	case errors.As(err, &decodeErr):
		return "decode_" + decodeErr.Subject
	case errors.As(err, &fetchErr):
		return "fetch"
	case errors.As(err, &transformErr):
		return "transform"
	default:
		return "internal"
	}
}
