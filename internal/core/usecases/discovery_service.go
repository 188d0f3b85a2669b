package usecases

import (
	"context"
	"errors"
	"log/slog"
	"math"
	"time"

	"github.com/rotisserie/eris"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/sugvoyage/sugvoyage/internal/core/domain"
	"github.com/sugvoyage/sugvoyage/internal/core/ports"
	"github.com/sugvoyage/sugvoyage/internal/core/proximity"
	"github.com/sugvoyage/sugvoyage/internal/pkg/metrics"
	"github.com/sugvoyage/sugvoyage/internal/pkg/telemetry"
)

const (
	defaultCatalogTimeout  = 2 * time.Second
	defaultPayloadSpots    = 5
	defaultDiscoveryRadius = 1000
)

// DiscoveryConfig tunes the discovery cycle. Zero CatalogTimeout,
// MaxPayloadSpots and DefaultRadiusMeters take 2s, 5 and 1000 m.
type DiscoveryConfig struct {
	Cooldown            time.Duration
	CatalogTimeout      time.Duration
	DefaultRadiusMeters float64
	MaxRadiusMeters     float64
	MaxPayloadSpots     int
}

// DiscoveryService runs the server-side discovery cycle for pushed location
// reports and delivers at most one notification per cooldown per session.
type DiscoveryService struct {
	tracker   *LocationTracker
	catalog   ports.CatalogProvider
	transport ports.DiscoveryTransport
	events    ports.EventPublisher
	cfg       DiscoveryConfig
	log       *slog.Logger
	now       func() time.Time
}

// NewDiscoveryService creates a DiscoveryService. events may be nil.
func NewDiscoveryService(
	tracker *LocationTracker,
	catalog ports.CatalogProvider,
	transport ports.DiscoveryTransport,
	events ports.EventPublisher,
	cfg DiscoveryConfig,
	logger *slog.Logger,
) *DiscoveryService {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.CatalogTimeout <= 0 {
		cfg.CatalogTimeout = defaultCatalogTimeout
	}
	if cfg.MaxPayloadSpots <= 0 {
		cfg.MaxPayloadSpots = defaultPayloadSpots
	}
	if cfg.DefaultRadiusMeters <= 0 {
		cfg.DefaultRadiusMeters = defaultDiscoveryRadius
	}
	return &DiscoveryService{
		tracker:   tracker,
		catalog:   catalog,
		transport: transport,
		events:    events,
		cfg:       cfg,
		log:       logger.With("component", "discovery"),
		now:       time.Now,
	}
}

type deliverFunc func(ctx context.Context, payload domain.DiscoveryPayload) error

// ReportLocation records a location report for sessionID and, when spots are
// in range and the cooldown allows, sends one discovery through the transport.
// It returns the emitted event, or nil when nothing was sent. Catalog failures
// and cooldown suppression are not errors. A transport failure ends the session.
func (s *DiscoveryService) ReportLocation(ctx context.Context, sessionID string, report domain.LocationReport) (*domain.DiscoveryEvent, error) {
	return s.cycle(ctx, sessionID, report, metrics.VariantPush,
		func(ctx context.Context, payload domain.DiscoveryPayload) error {
			return s.transport.Send(ctx, sessionID, payload)
		})
}

// Evaluate runs the same cycle as ReportLocation but hands the payload back to
// the caller instead of the transport. It serves clients without a socket,
// whose HTTP response is the delivery channel. The cooldown still applies.
func (s *DiscoveryService) Evaluate(ctx context.Context, sessionID string, report domain.LocationReport) (*domain.DiscoveryPayload, error) {
	var out *domain.DiscoveryPayload
	_, err := s.cycle(ctx, sessionID, report, metrics.VariantHTTP,
		func(_ context.Context, payload domain.DiscoveryPayload) error {
			out = &payload
			return nil
		})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// EndSession forgets the session and drops its transport registration.
// Safe to call more than once.
func (s *DiscoveryService) EndSession(sessionID string) {
	s.tracker.RemoveSession(sessionID)
	s.transport.Close(sessionID)
	metrics.TrackedSessions.Set(float64(s.tracker.Len()))
}

// Session returns the tracked state for sessionID.
func (s *DiscoveryService) Session(sessionID string) (domain.UserSession, error) {
	return s.tracker.GetSession(sessionID)
}

// SessionCount returns the number of tracked sessions.
func (s *DiscoveryService) SessionCount() int {
	return s.tracker.Len()
}

// ExpireIdle drops sessions that have not reported since ttl ago.
func (s *DiscoveryService) ExpireIdle(ttl time.Duration) int {
	n := s.tracker.Sweep(s.now().Add(-ttl))
	if n > 0 {
		s.log.Info("expired idle sessions", "count", n)
		metrics.TrackedSessions.Set(float64(s.tracker.Len()))
	}
	return n
}

// RunExpiry calls ExpireIdle every interval until ctx is done.
func (s *DiscoveryService) RunExpiry(ctx context.Context, ttl, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			s.ExpireIdle(ttl)
		}
	}
}

// NormalizeRadius applies the configured default to a missing radius and
// clamps it to the maximum.
func (s *DiscoveryService) NormalizeRadius(r float64) float64 {
	return normalizeRadius(r, s.cfg.DefaultRadiusMeters, s.cfg.MaxRadiusMeters)
}

func normalizeRadius(r, def, max float64) float64 {
	if r <= 0 || math.IsNaN(r) {
		return def
	}
	if max > 0 && r > max {
		return max
	}
	return r
}

func (s *DiscoveryService) cycle(ctx context.Context, sessionID string, report domain.LocationReport, variant string, deliver deliverFunc) (*domain.DiscoveryEvent, error) {
	start := time.Now()
	defer func() { metrics.DiscoveryCycleDuration.WithLabelValues(variant).Observe(time.Since(start).Seconds()) }()

	log := s.log.With("session_id", sessionID)
	position := report.Point()
	radius := s.NormalizeRadius(report.RadiusMeters)

	if err := s.tracker.UpdatePosition(sessionID, position, radius); err != nil {
		metrics.InvalidPositions.Inc()
		log.WarnContext(ctx, "invalid location report", "error", err)
		return nil, err
	}
	metrics.TrackedSessions.Set(float64(s.tracker.Len()))

	ctx, span := telemetry.Tracer().Start(ctx, telemetry.SpanDiscoveryCycle)
	defer span.End()
	span.SetAttributes(
		attribute.String("session.id", sessionID),
		attribute.String("discovery.variant", variant),
		attribute.Float64("discovery.radius_meters", radius),
	)

	fetchCtx, cancel := context.WithTimeout(ctx, s.cfg.CatalogTimeout)
	spots, err := s.catalog.Spots(fetchCtx)
	cancel()
	if err != nil {
		metrics.CatalogErrors.WithLabelValues("fetch").Inc()
		span.RecordError(err)
		log.WarnContext(ctx, "catalog unavailable, skipping cycle", "error", err)
		return nil, nil
	}

	matched := proximity.FilterInRadius(position, radius, spots)
	span.SetAttributes(attribute.Int("discovery.matched", len(matched)))
	if len(matched) == 0 {
		return nil, nil
	}

	now := s.now()
	event := &domain.DiscoveryEvent{SessionID: sessionID, MatchedSpots: matched, TriggeredAt: now}
	payload := domain.NewDiscoveryPayload(*event, s.cfg.MaxPayloadSpots)

	emitted, err := s.tracker.NotifyOnce(sessionID, now, s.cfg.Cooldown, func(domain.UserSession) error {
		return deliver(ctx, payload)
	})
	switch {
	case errors.Is(err, domain.ErrSessionNotFound):
		log.DebugContext(ctx, "session gone before delivery")
		return nil, nil
	case errors.Is(err, domain.ErrTransportFailure):
		metrics.TransportFailures.Inc()
		span.SetStatus(codes.Error, "transport failure")
		log.WarnContext(ctx, "discovery delivery failed, ending session", "error", err)
		s.EndSession(sessionID)
		return nil, err
	case err != nil:
		span.RecordError(err)
		return nil, eris.Wrap(err, "discovery: deliver")
	}

	if !emitted {
		metrics.DiscoverySuppressed.WithLabelValues(variant).Inc()
		return nil, nil
	}

	metrics.DiscoveryEvents.WithLabelValues(variant).Inc()
	log.InfoContext(ctx, "discovery sent", "count", payload.Count, "nearest", payload.NearestSpot)
	if s.events != nil {
		if err := s.events.PublishDiscovery(ctx, event); err != nil {
			log.WarnContext(ctx, "publish discovery event failed", "error", err)
		}
	}
	return event, nil
}
