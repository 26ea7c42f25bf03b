package source

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/dunamismax/pixelproxy/internal/domain"
	"github.com/dunamismax/pixelproxy/internal/fetchcache"
	"github.com/dunamismax/pixelproxy/internal/storage"
)

const SchemeObjectStore = "s3"

type objectReader interface {
	Bucket() string
	ReadObject(ctx context.Context, objectKey string, maxBytes int64) ([]byte, error)
}

// ObjectStoreFetcher serves s3://<bucket>/<key> identifiers from the configured bucket.
type ObjectStoreFetcher struct {
	Storage  objectReader
	MaxBytes int64
}

func (f ObjectStoreFetcher) Fetch(ctx context.Context, sourceID string) ([]byte, error) {
	if f.Storage == nil {
		return nil, &domain.FetchError{URL: sourceID, Err: errors.New("object storage is unavailable")}
	}

	u, err := url.Parse(sourceID)
	if err != nil || !strings.EqualFold(u.Scheme, SchemeObjectStore) {
		return nil, &domain.FetchError{URL: sourceID, Err: domain.ErrInvalidSource}
	}
	if u.Host != f.Storage.Bucket() {
		return nil, &domain.FetchError{URL: sourceID, Err: fmt.Errorf("%w: unknown bucket %q", domain.ErrInvalidSource, u.Host)}
	}
	key := strings.TrimPrefix(u.Path, "/")
	if key == "" {
		return nil, &domain.FetchError{URL: sourceID, Err: fmt.Errorf("%w: missing object key", domain.ErrInvalidSource)}
	}

	data, err := f.Storage.ReadObject(ctx, key, f.MaxBytes)
	if err != nil {
		if errors.Is(err, storage.ErrObjectNotFound) {
			return nil, &domain.FetchError{URL: sourceID, Status: 404, Err: err}
		}
		return nil, &domain.FetchError{URL: sourceID, Err: err}
	}
	return data, nil
}

// Router picks a fetcher by URL scheme.
type Router struct {
	routes map[string]fetchcache.Fetcher
}

func NewRouter() *Router {
	return &Router{routes: make(map[string]fetchcache.Fetcher)}
}

func (r *Router) Handle(scheme string, fetcher fetchcache.Fetcher) *Router {
	r.routes[strings.ToLower(scheme)] = fetcher
	return r
}

func (r *Router) Fetch(ctx context.Context, sourceID string) ([]byte, error) {
	u, err := url.Parse(sourceID)
	if err != nil {
		return nil, &domain.FetchError{URL: sourceID, Err: fmt.Errorf("%w: %v", domain.ErrInvalidSource, err)}
	}
	fetcher, ok := r.routes[strings.ToLower(u.Scheme)]
	if !ok {
		return nil, &domain.FetchError{URL: sourceID, Err: fmt.Errorf("%w: unsupported scheme %q", domain.ErrInvalidSource, u.Scheme)}
	}
	return fetcher.Fetch(ctx, sourceID)
}
