// Package fetchcache holds fetched source bytes in a bounded, in-process LRU
// keyed by a fingerprint of the source identifier.
//
// Fingerprints are 64-bit xxhash values. A collision would serve the bytes of a
// different source; this is accepted for memory and speed and must never be
// relied on for access control.
package fetchcache

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cespare/xxhash/v2"
	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/singleflight"

	"github.com/dunamismax/pixelproxy/internal/domain"
)

const DefaultCapacity = 1024

var ErrInvalidCapacity = errors.New("cache capacity must be at least 1")

// Fetcher retrieves raw bytes for a source identifier.
type Fetcher interface {
	Fetch(ctx context.Context, sourceID string) ([]byte, error)
}

type FetcherFunc func(ctx context.Context, sourceID string) ([]byte, error)

func (f FetcherFunc) Fetch(ctx context.Context, sourceID string) ([]byte, error) {
	return f(ctx, sourceID)
}

type Options struct {
	// Capacity is the number of entries kept; it is fixed for the life of the cache.
	Capacity int
	// FetchTimeout bounds a shared fetch once it is detached from the caller that started it.
	FetchTimeout time.Duration
	Logger       logrus.FieldLogger
}

type Stats struct {
	Hits      uint64
	Misses    uint64
	Fetches   uint64
	Evictions uint64
	Entries   int
	Capacity  int
}

type Cache struct {
	mu      sync.Mutex
	entries *lru.Cache[uint64, []byte]
	group   singleflight.Group

	fetcher      Fetcher
	fetchTimeout time.Duration
	capacity     int
	logger       logrus.FieldLogger

	hits      atomic.Uint64
	misses    atomic.Uint64
	fetches   atomic.Uint64
	evictions atomic.Uint64
}

func New(fetcher Fetcher, opts Options) (*Cache, error) {
	if fetcher == nil {
		return nil, errors.New("fetcher is required")
	}
	capacity := opts.Capacity
	if capacity == 0 {
		capacity = DefaultCapacity
	}
	if capacity < 1 {
		return nil, fmt.Errorf("%w: %d", ErrInvalidCapacity, capacity)
	}
	timeout := opts.FetchTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	logger := opts.Logger
	if logger == nil {
		discard := logrus.New()
		discard.SetOutput(io.Discard)
		logger = discard
	}

	c := &Cache{
		fetcher:      fetcher,
		fetchTimeout: timeout,
		capacity:     capacity,
		logger:       logger.WithField("component", "fetchcache"),
	}
	entries, err := lru.NewWithEvict[uint64, []byte](capacity, func(key uint64, _ []byte) {
		c.evictions.Add(1)
		c.logger.WithField("fingerprint", key).Debug("evicted cache entry")
	})
	if err != nil {
		return nil, fmt.Errorf("create lru: %w", err)
	}
	c.entries = entries
	return c, nil
}

// Fingerprint is the cache key for a source identifier.
func Fingerprint(sourceID string) uint64 {
	return xxhash.Sum64String(sourceID)
}

// Retrieve returns the bytes for sourceID, fetching them only on a miss.
// Concurrent misses for the same fingerprint share a single fetch. A failed
// fetch leaves the cache untouched. The returned slice must not be modified.
func (c *Cache) Retrieve(ctx context.Context, sourceID string) ([]byte, error) {
	key := Fingerprint(sourceID)
	if data, ok := c.lookup(key); ok {
		c.hits.Add(1)
		c.logger.WithField("fingerprint", key).Debug("cache hit")
		return data, nil
	}
	c.misses.Add(1)

	ch := c.group.DoChan(strconv.FormatUint(key, 16), func() (any, error) {
		// Another flight may have populated the entry between lookup and here.
		if data, ok := c.lookup(key); ok {
			return data, nil
		}

		fetchCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.fetchTimeout)
		defer cancel()

		c.fetches.Add(1)
		c.logger.WithField("fingerprint", key).Info("retrieving source")
		data, err := c.fetcher.Fetch(fetchCtx, sourceID)
		if err != nil {
			return nil, asFetchError(sourceID, err)
		}

		c.mu.Lock()
		c.entries.Add(key, data)
		c.mu.Unlock()
		return data, nil
	})

	select {
	case <-ctx.Done():
		return nil, &domain.FetchError{URL: sourceID, Err: ctx.Err()}
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.([]byte), nil
	}
}

func (c *Cache) lookup(key uint64) ([]byte, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.entries.Get(key)
}

// Contains reports whether sourceID is cached without touching its recency.
func (c *Cache) Contains(sourceID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.entries.Contains(Fingerprint(sourceID))
}

func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.entries.Len()
}

func (c *Cache) Stats() Stats {
	return Stats{
		Hits:      c.hits.Load(),
		Misses:    c.misses.Load(),
		Fetches:   c.fetches.Load(),
		Evictions: c.evictions.Load(),
		Entries:   c.Len(),
		Capacity:  c.capacity,
	}
}

func asFetchError(sourceID string, err error) error {
	var fetchErr *domain.FetchError
	if errors.As(err, &fetchErr) {
		return err
	}
	return &domain.FetchError{URL: sourceID, Err: err}
}
