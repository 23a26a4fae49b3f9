package datastore

import (
	"context"
	"log/slog"
	"time"

	"github.com/jellydator/ttlcache/v3"
	"golang.org/x/sync/errgroup"

	"github.com/spektr-org/bankquery/engine"
)

// CachedStore keeps loaded datasets in a TTL cache in front of another Store.
// Callers always receive copies of the cached rows.
type CachedStore struct {
	next   Store
	cache  *ttlcache.Cache[string, []engine.Row]
	logger *slog.Logger
}

// NewCachedStore wraps next with a cache whose entries live for ttl.
func NewCachedStore(next Store, ttl time.Duration, logger *slog.Logger) *CachedStore {
	if logger == nil {
		logger = slog.Default()
	}
	cache := ttlcache.New(
		ttlcache.WithTTL[string, []engine.Row](ttl),
	)
	go cache.Start()

	return &CachedStore{next: next, cache: cache, logger: logger}
}

// Load returns a dataset from the cache, loading it on a miss.
func (s *CachedStore) Load(ctx context.Context, name string) ([]engine.Row, error) {
	if item := s.cache.Get(name); item != nil {
		return cloneRows(item.Value()), nil
	}

	rows, err := s.next.Load(ctx, name)
	if err != nil {
		return nil, err
	}
	s.cache.Set(name, rows, ttlcache.DefaultTTL)
	s.logger.Debug("🔧 CachedStore: cached dataset", "dataset", name, "rows", len(rows))
	return cloneRows(rows), nil
}

// LoadThresholds reads the threshold table through the cache.
func (s *CachedStore) LoadThresholds(ctx context.Context) ([]engine.Threshold, error) {
	rows, err := s.Load(ctx, ThresholdsDataset)
	if err != nil {
		return nil, err
	}
	return thresholdsFromRows(rows), nil
}

// Warm loads the named datasets concurrently (all datasets and the
// threshold table when names is empty).
func (s *CachedStore) Warm(ctx context.Context, names ...string) error {
	if len(names) == 0 {
		names = append(s.Datasets(), ThresholdsDataset)
	}

	g, ctx := errgroup.WithContext(ctx)
	for _, name := range names {
		g.Go(func() error {
			_, err := s.Load(ctx, name)
			return err
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	s.logger.Info("✅ CachedStore: warmed", "datasets", len(names))
	return nil
}

// Stats reports cache hit and miss counters.
func (s *CachedStore) Stats() ttlcache.Metrics {
	return s.cache.Metrics()
}

// Datasets lists the wrapped store's datasets.
func (s *CachedStore) Datasets() []string { return s.next.Datasets() }

// Close stops the cache and closes the wrapped store.
func (s *CachedStore) Close() error {
	s.cache.Stop()
	return s.next.Close()
}
