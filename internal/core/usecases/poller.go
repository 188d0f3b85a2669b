package usecases

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"go.opentelemetry.io/otel/attribute"

	"github.com/sugvoyage/sugvoyage/internal/core/domain"
	"github.com/sugvoyage/sugvoyage/internal/core/ports"
	"github.com/sugvoyage/sugvoyage/internal/core/proximity"
	"github.com/sugvoyage/sugvoyage/internal/pkg/metrics"
	"github.com/sugvoyage/sugvoyage/internal/pkg/telemetry"
)

const (
	defaultPollInterval = 5 * time.Second
	defaultFetchTimeout = 2 * time.Second
)

// PollerConfig tunes the client-side poll loop. A zero Interval or
// FetchTimeout takes the 5s and 2s defaults.
type PollerConfig struct {
	Interval            time.Duration
	Cooldown            time.Duration
	FetchTimeout        time.Duration
	DefaultRadiusMeters float64
	MaxRadiusMeters     float64
}

// Poller is the client-authoritative discovery loop: on every tick it fetches
// the catalog, filters it against the last known position and hands at most
// one event per cooldown to onDiscovery. Ticks never overlap.
//
// onDiscovery runs on the loop goroutine after the session lock is released,
// so it may call UpdatePosition. It must not call Stop directly, since Stop
// waits for the loop; use go p.Stop() instead.
type Poller struct {
	sessionID   string
	tracker     *LocationTracker
	catalog     ports.CatalogProvider
	cfg         PollerConfig
	onDiscovery func(domain.DiscoveryEvent)
	log         *slog.Logger
	now         func() time.Time

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// NewPoller creates a stopped Poller for sessionID. tracker may be nil, in
// which case the poller keeps its own.
func NewPoller(sessionID string, tracker *LocationTracker, catalog ports.CatalogProvider, cfg PollerConfig, onDiscovery func(domain.DiscoveryEvent), logger *slog.Logger) *Poller {
	if tracker == nil {
		tracker = NewLocationTracker()
	}
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Interval <= 0 {
		cfg.Interval = defaultPollInterval
	}
	if cfg.FetchTimeout <= 0 {
		cfg.FetchTimeout = defaultFetchTimeout
	}
	return &Poller{
		sessionID:   sessionID,
		tracker:     tracker,
		catalog:     catalog,
		cfg:         cfg,
		onDiscovery: onDiscovery,
		log:         logger.With("component", "poller", "session_id", sessionID),
		now:         time.Now,
	}
}

// UpdatePosition sets the position used by subsequent ticks.
func (p *Poller) UpdatePosition(position domain.GeoPoint, radiusMeters float64) error {
	radius := normalizeRadius(radiusMeters, p.cfg.DefaultRadiusMeters, p.cfg.MaxRadiusMeters)
	if err := p.tracker.UpdatePosition(p.sessionID, position, radius); err != nil {
		p.log.Warn("invalid position", "error", err)
		return err
	}
	return nil
}

// Start launches the loop. The first tick runs immediately.
func (p *Poller) Start(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.cancel != nil {
		return eris.New("poller: already running")
	}

	ctx, cancel := context.WithCancel(ctx)
	p.cancel = cancel
	p.done = make(chan struct{})
	go p.loop(ctx, p.done)
	return nil
}

// Stop cancels the loop, waits for it to exit and releases the session, so a
// later Start begins from a fresh session once a position is reported.
// onDiscovery is never called after Stop returns. Stop is idempotent.
func (p *Poller) Stop() {
	p.mu.Lock()
	cancel, done := p.cancel, p.done
	p.cancel, p.done = nil, nil
	p.mu.Unlock()

	if cancel != nil {
		cancel()
		<-done
	}
	p.tracker.RemoveSession(p.sessionID)
}

func (p *Poller) loop(ctx context.Context, done chan struct{}) {
	defer close(done)

	ticker := time.NewTicker(p.cfg.Interval)
	defer ticker.Stop()

	p.tick(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.tick(ctx)
		}
	}
}

func (p *Poller) tick(ctx context.Context) {
	session, err := p.tracker.GetSession(p.sessionID)
	if err != nil {
		// No position reported yet.
		return
	}

	ctx, span := telemetry.Tracer().Start(ctx, telemetry.SpanPollTick)
	defer span.End()

	fetchCtx, cancel := context.WithTimeout(ctx, p.cfg.FetchTimeout)
	spots, err := p.catalog.Spots(fetchCtx)
	cancel()
	if err != nil {
		if ctx.Err() == nil {
			metrics.CatalogErrors.WithLabelValues("poll").Inc()
			p.log.WarnContext(ctx, "catalog fetch failed, skipping tick", "error", err)
		}
		return
	}

	matched := proximity.FilterInRadius(session.LastPosition, session.RadiusMeters, spots)
	span.SetAttributes(attribute.Int("discovery.matched", len(matched)))
	if len(matched) == 0 {
		return
	}

	now := p.now()
	event := domain.DiscoveryEvent{SessionID: p.sessionID, MatchedSpots: matched, TriggeredAt: now}
	// Marked under the session lock; onDiscovery runs after it is released.
	emitted, err := p.tracker.NotifyOnce(p.sessionID, now, p.cfg.Cooldown, func(domain.UserSession) error {
		return ctx.Err()
	})
	switch {
	case err != nil && !errors.Is(err, context.Canceled):
		p.log.DebugContext(ctx, "discovery not emitted", "error", err)
	case emitted:
		metrics.DiscoveryEvents.WithLabelValues(metrics.VariantPoll).Inc()
		p.onDiscovery(event)
	case err == nil:
		metrics.DiscoverySuppressed.WithLabelValues(metrics.VariantPoll).Inc()
	}
}
