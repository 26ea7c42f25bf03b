package source

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/dunamismax/pixelproxy/internal/domain"
)

const DefaultMaxBytes int64 = 32 << 20

// HTTPFetcher downloads source images over http and https. It performs no retries.
type HTTPFetcher struct {
	client    *http.Client
	maxBytes  int64
	userAgent string
}

type HTTPConfig struct {
	Timeout   time.Duration
	MaxBytes  int64
	UserAgent string
}

func NewHTTPFetcher(cfg HTTPConfig) *HTTPFetcher {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	maxBytes := cfg.MaxBytes
	if maxBytes <= 0 {
		maxBytes = DefaultMaxBytes
	}
	userAgent := strings.TrimSpace(cfg.UserAgent)
	if userAgent == "" {
		userAgent = "pixelproxy/1.0"
	}

	return &HTTPFetcher{
		client:    &http.Client{Timeout: timeout},
		maxBytes:  maxBytes,
		userAgent: userAgent,
	}
}

func (f *HTTPFetcher) Fetch(ctx context.Context, sourceID string) ([]byte, error) {
	u, err := url.Parse(sourceID)
	if err != nil || u.Host == "" || (u.Scheme != "http" && u.Scheme != "https") {
		return nil, &domain.FetchError{URL: sourceID, Err: domain.ErrInvalidSource}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, &domain.FetchError{URL: sourceID, Err: fmt.Errorf("%w: %v", domain.ErrInvalidSource, err)}
	}
	req.Header.Set("User-Agent", f.userAgent)
	req.Header.Set("Accept", "image/*")

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, &domain.FetchError{URL: sourceID, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4<<10))
		return nil, &domain.FetchError{
			URL:    sourceID,
			Status: resp.StatusCode,
			Err:    errors.New("unexpected upstream status"),
		}
	}
	if resp.ContentLength > f.maxBytes {
		return nil, &domain.FetchError{URL: sourceID, Err: fmt.Errorf("source is %d bytes, limit is %d", resp.ContentLength, f.maxBytes)}
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, f.maxBytes+1))
	if err != nil {
		return nil, &domain.FetchError{URL: sourceID, Err: fmt.Errorf("read body: %w", err)}
	}
	if int64(len(data)) > f.maxBytes {
		return nil, &domain.FetchError{URL: sourceID, Err: fmt.Errorf("source exceeds %d bytes", f.maxBytes)}
	}
	return data, nil
}
