package usecases_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sugvoyage/sugvoyage/internal/core/domain"
	"github.com/sugvoyage/sugvoyage/internal/core/usecases"
)

func discoveryCfg() usecases.DiscoveryConfig {
	return usecases.DiscoveryConfig{
		Cooldown:            5 * time.Second,
		CatalogTimeout:      100 * time.Millisecond,
		DefaultRadiusMeters: 1000,
		MaxRadiusMeters:     50000,
		MaxPayloadSpots:     5,
	}
}

type discoveryFixture struct {
	tracker   *usecases.LocationTracker
	transport *mockTransport
	events    *mockPublisher
	svc       *usecases.DiscoveryService
}

func newDiscoveryFixture(catalog *mockCatalog, cfg usecases.DiscoveryConfig) *discoveryFixture {
	f := &discoveryFixture{
		tracker:   usecases.NewLocationTracker(),
		transport: &mockTransport{},
		events:    &mockPublisher{},
	}
	f.svc = usecases.NewDiscoveryService(f.tracker, catalog, f.transport, f.events, cfg, nil)
	return f
}

func report(radius float64) domain.LocationReport {
	return domain.LocationReport{Latitude: cebuCity.Lat, Longitude: cebuCity.Lon, RadiusMeters: radius}
}

func TestDiscoveryService_SendsNearbySpot(t *testing.T) {
	f := newDiscoveryFixture(staticCatalog(spotA, spotB), discoveryCfg())

	event, err := f.svc.ReportLocation(context.Background(), "s1", report(1000))

	require.NoError(t, err)
	require.NotNil(t, event)
	require.Len(t, event.MatchedSpots, 1)
	assert.Equal(t, "a", event.MatchedSpots[0].ID)
	assert.InDelta(t, 500, event.MatchedSpots[0].DistanceMeters, 1)

	require.Equal(t, 1, f.transport.sentCount())
	p := f.transport.sent[0].payload
	assert.Equal(t, "s1", f.transport.sent[0].sessionID)
	assert.Equal(t, 1, p.Count)
	assert.Equal(t, "Fort San Pedro", p.NearestSpot)
	assert.Equal(t, "1 spot near you! Nearest: Fort San Pedro", p.Message)

	require.Len(t, f.events.events, 1)
	assert.Same(t, event, f.events.events[0])

	s, err := f.tracker.GetSession("s1")
	require.NoError(t, err)
	require.NotNil(t, s.LastNotifiedAt)
	assert.Equal(t, event.TriggeredAt, *s.LastNotifiedAt)
}

func TestDiscoveryService_CooldownSuppressesSecondReport(t *testing.T) {
	f := newDiscoveryFixture(staticCatalog(spotA), discoveryCfg())

	first, err := f.svc.ReportLocation(context.Background(), "s1", report(1000))
	require.NoError(t, err)
	require.NotNil(t, first)

	second, err := f.svc.ReportLocation(context.Background(), "s1", report(1000))
	require.NoError(t, err)
	assert.Nil(t, second)
	assert.Equal(t, 1, f.transport.sentCount())
}

func TestDiscoveryService_NotifiesAgainAfterCooldown(t *testing.T) {
	cfg := discoveryCfg()
	cfg.Cooldown = 30 * time.Millisecond
	cfg.CatalogTimeout = 10 * time.Millisecond
	f := newDiscoveryFixture(staticCatalog(spotA), cfg)

	_, err := f.svc.ReportLocation(context.Background(), "s1", report(1000))
	require.NoError(t, err)
	time.Sleep(40 * time.Millisecond)
	event, err := f.svc.ReportLocation(context.Background(), "s1", report(1000))

	require.NoError(t, err)
	assert.NotNil(t, event)
	assert.Equal(t, 2, f.transport.sentCount())
}

func TestDiscoveryService_NothingInRange(t *testing.T) {
	f := newDiscoveryFixture(staticCatalog(spotB), discoveryCfg())

	event, err := f.svc.ReportLocation(context.Background(), "s1", report(1000))

	require.NoError(t, err)
	assert.Nil(t, event)
	assert.Zero(t, f.transport.sentCount())
	assert.Equal(t, 1, f.svc.SessionCount())
}

func TestDiscoveryService_InvalidPosition(t *testing.T) {
	f := newDiscoveryFixture(staticCatalog(spotA), discoveryCfg())
	require.NoError(t, f.tracker.UpdatePosition("s1", cebuCity, 1000))
	require.NoError(t, f.tracker.MarkNotified("s1", time.Now()))

	event, err := f.svc.ReportLocation(context.Background(), "s1",
		domain.LocationReport{Latitude: 123, Longitude: 10})

	assert.ErrorIs(t, err, domain.ErrInvalidPosition)
	assert.Nil(t, event)
	assert.Zero(t, f.transport.sentCount())
	s, err := f.svc.Session("s1")
	require.NoError(t, err, "session survives an invalid report")
	assert.Equal(t, cebuCity, s.LastPosition)
}

func TestDiscoveryService_CatalogUnavailableSkipsCycle(t *testing.T) {
	catalog := &mockCatalog{spotsFn: func(context.Context) ([]domain.Spot, error) {
		return nil, eris.Wrap(domain.ErrCatalogUnavailable, "db down")
	}}
	f := newDiscoveryFixture(catalog, discoveryCfg())

	event, err := f.svc.ReportLocation(context.Background(), "s1", report(1000))

	require.NoError(t, err)
	assert.Nil(t, event)
	assert.Zero(t, f.transport.sentCount())
	ok, err := f.tracker.ShouldNotify("s1", time.Now(), 5*time.Second)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestDiscoveryService_CatalogFetchIsBounded(t *testing.T) {
	catalog := &mockCatalog{spotsFn: func(ctx context.Context) ([]domain.Spot, error) {
		<-ctx.Done()
		return nil, eris.Wrap(domain.ErrCatalogUnavailable, ctx.Err().Error())
	}}
	cfg := discoveryCfg()
	cfg.CatalogTimeout = 20 * time.Millisecond
	f := newDiscoveryFixture(catalog, cfg)

	start := time.Now()
	event, err := f.svc.ReportLocation(context.Background(), "s1", report(1000))

	require.NoError(t, err)
	assert.Nil(t, event)
	assert.Less(t, time.Since(start), time.Second)
}

func TestDiscoveryService_TransportFailureEndsSession(t *testing.T) {
	f := newDiscoveryFixture(staticCatalog(spotA), discoveryCfg())
	f.transport.sendFn = func(context.Context, string, domain.DiscoveryPayload) error {
		return eris.Wrap(domain.ErrTransportFailure, "broken pipe")
	}

	event, err := f.svc.ReportLocation(context.Background(), "s1", report(1000))

	assert.ErrorIs(t, err, domain.ErrTransportFailure)
	assert.Nil(t, event)
	_, err = f.tracker.GetSession("s1")
	assert.ErrorIs(t, err, domain.ErrSessionNotFound)
	assert.Equal(t, []string{"s1"}, f.transport.closed)
	assert.Empty(t, f.events.events)
}

func TestDiscoveryService_NoRegisteredClientIsNoop(t *testing.T) {
	f := newDiscoveryFixture(staticCatalog(spotA), discoveryCfg())
	f.transport.sendFn = func(context.Context, string, domain.DiscoveryPayload) error {
		return eris.Wrap(domain.ErrSessionNotFound, "no client")
	}

	event, err := f.svc.ReportLocation(context.Background(), "s1", report(1000))

	require.NoError(t, err)
	assert.Nil(t, event)
	s, err := f.tracker.GetSession("s1")
	require.NoError(t, err)
	assert.Nil(t, s.LastNotifiedAt)
}

func TestDiscoveryService_UnexpectedDeliveryError(t *testing.T) {
	f := newDiscoveryFixture(staticCatalog(spotA), discoveryCfg())
	f.transport.sendFn = func(context.Context, string, domain.DiscoveryPayload) error {
		return errors.New("marshal failed")
	}

	_, err := f.svc.ReportLocation(context.Background(), "s1", report(1000))

	require.Error(t, err)
	_, err = f.tracker.GetSession("s1")
	assert.NoError(t, err)
}

func TestDiscoveryService_ConcurrentReportsEmitOnce(t *testing.T) {
	f := newDiscoveryFixture(staticCatalog(spotA), discoveryCfg())

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.svc.ReportLocation(context.Background(), "s1", report(1000))
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, f.transport.sentCount())
}

func TestDiscoveryService_PublishFailureDoesNotBlockDelivery(t *testing.T) {
	f := newDiscoveryFixture(staticCatalog(spotA), discoveryCfg())
	f.events.publishFn = func(context.Context, *domain.DiscoveryEvent) error { return errors.New("nats down") }

	event, err := f.svc.ReportLocation(context.Background(), "s1", report(1000))

	require.NoError(t, err)
	assert.NotNil(t, event)
	assert.Equal(t, 1, f.transport.sentCount())
}

func TestDiscoveryService_PayloadCappedAtFive(t *testing.T) {
	var spots []domain.Spot
	for i := 0; i < 7; i++ {
		spots = append(spots, spotAt(fmt.Sprintf("s%d", i), fmt.Sprintf("Spot %d", i), 0.0005*float64(i+1)))
	}
	f := newDiscoveryFixture(staticCatalog(spots...), discoveryCfg())

	_, err := f.svc.ReportLocation(context.Background(), "s1", report(1000))
	require.NoError(t, err)

	require.Equal(t, 1, f.transport.sentCount())
	p := f.transport.sent[0].payload
	assert.Equal(t, 7, p.Count)
	assert.Len(t, p.Spots, 5)
	assert.Equal(t, "Spot 0", p.NearestSpot)
	assert.Equal(t, "7 spots near you! Nearest: Spot 0", p.Message)
}

func TestDiscoveryService_RadiusNormalisation(t *testing.T) {
	f := newDiscoveryFixture(staticCatalog(), discoveryCfg())

	_, err := f.svc.ReportLocation(context.Background(), "s1", report(0))
	require.NoError(t, err)
	s, err := f.svc.Session("s1")
	require.NoError(t, err)
	assert.Equal(t, 1000.0, s.RadiusMeters)

	_, err = f.svc.ReportLocation(context.Background(), "s1", report(1e9))
	require.NoError(t, err)
	s, err = f.svc.Session("s1")
	require.NoError(t, err)
	assert.Equal(t, 50000.0, s.RadiusMeters)
}

func TestDiscoveryService_Evaluate(t *testing.T) {
	f := newDiscoveryFixture(staticCatalog(spotA, spotB), discoveryCfg())

	p, err := f.svc.Evaluate(context.Background(), "h1", report(2000))
	require.NoError(t, err)
	require.NotNil(t, p)
	assert.Equal(t, 2, p.Count)
	assert.Zero(t, f.transport.sentCount(), "inline delivery bypasses the transport")

	p, err = f.svc.Evaluate(context.Background(), "h1", report(2000))
	require.NoError(t, err)
	assert.Nil(t, p)
}

func TestDiscoveryService_EndSession(t *testing.T) {
	f := newDiscoveryFixture(staticCatalog(spotA), discoveryCfg())
	_, err := f.svc.ReportLocation(context.Background(), "s1", report(1000))
	require.NoError(t, err)

	f.svc.EndSession("s1")
	f.svc.EndSession("s1")

	assert.Zero(t, f.svc.SessionCount())
	assert.Equal(t, []string{"s1", "s1"}, f.transport.closed)
}

func TestDiscoveryService_ExpireIdle(t *testing.T) {
	f := newDiscoveryFixture(staticCatalog(), discoveryCfg())
	_, err := f.svc.ReportLocation(context.Background(), "s1", report(1000))
	require.NoError(t, err)

	assert.Zero(t, f.svc.ExpireIdle(time.Hour))
	time.Sleep(5 * time.Millisecond)
	assert.Equal(t, 1, f.svc.ExpireIdle(time.Millisecond))
	assert.Zero(t, f.svc.SessionCount())
}

func TestDiscoveryService_ZeroConfigUsesDefaults(t *testing.T) {
	f := newDiscoveryFixture(staticCatalog(spotA, spotB), usecases.DiscoveryConfig{Cooldown: time.Minute})

	event, err := f.svc.ReportLocation(context.Background(), "s1", report(0))

	require.NoError(t, err)
	require.NotNil(t, event, "a zero catalog timeout must not skip every cycle")
	require.Len(t, event.MatchedSpots, 1)
	s, err := f.tracker.GetSession("s1")
	require.NoError(t, err)
	assert.Equal(t, 1000.0, s.RadiusMeters)
}
