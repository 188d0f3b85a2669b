package usecases

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/rotisserie/eris"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"golang.org/x/sync/singleflight"

	"github.com/sugvoyage/sugvoyage/internal/core/domain"
	"github.com/sugvoyage/sugvoyage/internal/core/ports"
	"github.com/sugvoyage/sugvoyage/internal/pkg/metrics"
	"github.com/sugvoyage/sugvoyage/internal/pkg/telemetry"
)

// CatalogCacheKey is the shared cache key holding the full spot list.
const CatalogCacheKey = "spots:all"

const defaultCatalogLoadTimeout = 10 * time.Second

// CatalogConfig tunes the CatalogService.
type CatalogConfig struct {
	RefreshInterval time.Duration // snapshots older than this are reloaded on read
	CacheTTL        time.Duration
	LoadTimeout     time.Duration // bound on a single shared reload; defaults to 10s
}

// CatalogService keeps an in-memory snapshot of the spot catalog backed by
// the shared cache and the spot repository. It implements ports.CatalogProvider.
type CatalogService struct {
	spots ports.SpotRepository
	cache ports.CacheService
	cfg   CatalogConfig
	log   *slog.Logger
	now   func() time.Time

	snap  atomic.Pointer[domain.CatalogSnapshot]
	group singleflight.Group
}

// NewCatalogService creates a CatalogService. cache may be nil.
func NewCatalogService(spots ports.SpotRepository, cache ports.CacheService, cfg CatalogConfig, logger *slog.Logger) *CatalogService {
	if cfg.LoadTimeout <= 0 {
		cfg.LoadTimeout = defaultCatalogLoadTimeout
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &CatalogService{
		spots: spots,
		cache: cache,
		cfg:   cfg,
		log:   logger.With("component", "catalog"),
		now:   time.Now,
	}
}

// Spots returns the current catalog, reloading it when the snapshot is older
// than the refresh interval. A failed reload serves the previous snapshot if
// there is one. Callers must not modify the returned slice.
func (s *CatalogService) Spots(ctx context.Context) ([]domain.Spot, error) {
	snap := s.snap.Load()
	if snap != nil && snap.Age(s.now()) < s.cfg.RefreshInterval {
		return snap.Spots, nil
	}

	fresh, err := s.load(ctx, false)
	if err == nil {
		return fresh.Spots, nil
	}
	if snap != nil {
		s.log.WarnContext(ctx, "catalog reload failed, serving stale snapshot",
			"error", err, "age", snap.Age(s.now()).String())
		return snap.Spots, nil
	}
	return nil, err
}

// Refresh reloads the catalog from the cache or, on a miss, the repository.
func (s *CatalogService) Refresh(ctx context.Context) error {
	_, err := s.load(ctx, false)
	return err
}

// Invalidate drops the shared cache entry and reloads from the repository.
func (s *CatalogService) Invalidate(ctx context.Context) error {
	if s.cache != nil {
		if err := s.cache.Delete(ctx, CatalogCacheKey); err != nil {
			s.log.WarnContext(ctx, "catalog cache delete failed", "error", err)
		}
	}
	_, err := s.load(ctx, true)
	return err
}

// Snapshot returns the current snapshot, or nil before the first load.
func (s *CatalogService) Snapshot() *domain.CatalogSnapshot {
	return s.snap.Load()
}

// GetByID looks a spot up in the catalog, falling back to the repository for
// spots newer than the snapshot.
func (s *CatalogService) GetByID(ctx context.Context, id string) (*domain.Spot, error) {
	if spots, err := s.Spots(ctx); err == nil {
		for i := range spots {
			if spots[i].ID == id {
				spot := spots[i]
				return &spot, nil
			}
		}
	}
	return s.spots.GetByID(ctx, id)
}

// Run refreshes the catalog every interval until ctx is done.
func (s *CatalogService) Run(ctx context.Context, interval time.Duration) error {
	if err := s.Refresh(ctx); err != nil {
		s.log.ErrorContext(ctx, "initial catalog load failed", "error", err)
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := s.Refresh(ctx); err != nil {
				s.log.ErrorContext(ctx, "catalog refresh failed", "error", err)
			}
		}
	}
}

// load collapses concurrent reloads into one. The shared reload is detached
// from any single caller's cancellation; each caller still stops waiting when
// its own ctx ends.
func (s *CatalogService) load(ctx context.Context, skipCache bool) (*domain.CatalogSnapshot, error) {
	key := "load"
	if skipCache {
		key = "load:nocache"
	}
	ch := s.group.DoChan(key, func() (any, error) {
		lctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.cfg.LoadTimeout)
		defer cancel()
		return s.reload(lctx, skipCache)
	})

	select {
	case <-ctx.Done():
		metrics.CatalogErrors.WithLabelValues("timeout").Inc()
		return nil, eris.Wrap(domain.ErrCatalogUnavailable, ctx.Err().Error())
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*domain.CatalogSnapshot), nil
	}
}

func (s *CatalogService) reload(ctx context.Context, skipCache bool) (*domain.CatalogSnapshot, error) {
	ctx, span := telemetry.Tracer().Start(ctx, telemetry.SpanCatalogRefresh)
	defer span.End()
	start := time.Now()
	defer func() { metrics.CatalogRefreshDuration.Observe(time.Since(start).Seconds()) }()

	if !skipCache {
		if spots, ok := s.fromCache(ctx); ok {
			span.SetAttributes(attribute.String("catalog.source", "cache"), attribute.Int("catalog.spots", len(spots)))
			return s.swap(spots, "cache"), nil
		}
	}

	spots, err := s.spots.ListAll(ctx)
	if err != nil {
		metrics.CatalogErrors.WithLabelValues("list").Inc()
		span.RecordError(err)
		span.SetStatus(codes.Error, "list spots")
		if errors.Is(err, domain.ErrCatalogUnavailable) {
			return nil, err
		}
		return nil, eris.Wrap(domain.ErrCatalogUnavailable, err.Error())
	}
	span.SetAttributes(attribute.String("catalog.source", "database"), attribute.Int("catalog.spots", len(spots)))

	if s.cache != nil {
		if data, err := json.Marshal(spots); err == nil {
			if err := s.cache.Set(ctx, CatalogCacheKey, data, int(s.cfg.CacheTTL.Seconds())); err != nil {
				s.log.WarnContext(ctx, "catalog cache write failed", "error", err)
			}
		}
	}
	return s.swap(spots, "database"), nil
}

func (s *CatalogService) fromCache(ctx context.Context) ([]domain.Spot, bool) {
	if s.cache == nil {
		return nil, false
	}
	data, err := s.cache.Get(ctx, CatalogCacheKey)
	if err != nil {
		metrics.CacheMisses.WithLabelValues("catalog").Inc()
		return nil, false
	}
	var spots []domain.Spot
	if err := json.Unmarshal(data, &spots); err != nil {
		s.log.WarnContext(ctx, "catalog cache entry corrupt", "error", err)
		metrics.CacheMisses.WithLabelValues("catalog").Inc()
		return nil, false
	}
	metrics.CacheHits.WithLabelValues("catalog").Inc()
	return spots, true
}

func (s *CatalogService) swap(spots []domain.Spot, source string) *domain.CatalogSnapshot {
	if spots == nil {
		spots = []domain.Spot{}
	}
	snap := &domain.CatalogSnapshot{Spots: spots, LoadedAt: s.now(), Source: source}
	s.snap.Store(snap)
	metrics.CatalogSpots.Set(float64(len(spots)))
	return snap
}
