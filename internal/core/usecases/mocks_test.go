package usecases_test

import (
	"context"
	"errors"
	"sync"

	"github.com/sugvoyage/sugvoyage/internal/core/domain"
)

// --- Mock SpotRepository ---

type mockSpotRepo struct {
	listAllFn     func(ctx context.Context) ([]domain.Spot, error)
	getByIDFn     func(ctx context.Context, id string) (*domain.Spot, error)
	upsertBatchFn func(ctx context.Context, spots []domain.Spot) error
	findNearbyFn  func(ctx context.Context, center domain.GeoPoint, radius float64, limit int) ([]domain.MatchedSpot, error)
}

func (m *mockSpotRepo) ListAll(ctx context.Context) ([]domain.Spot, error) {
	if m.listAllFn != nil {
		return m.listAllFn(ctx)
	}
	return nil, nil
}

func (m *mockSpotRepo) GetByID(ctx context.Context, id string) (*domain.Spot, error) {
	if m.getByIDFn != nil {
		return m.getByIDFn(ctx, id)
	}
	return nil, domain.ErrNotFound
}

func (m *mockSpotRepo) Upsert(ctx context.Context, spot *domain.Spot) error { return nil }

func (m *mockSpotRepo) UpsertBatch(ctx context.Context, spots []domain.Spot) error {
	if m.upsertBatchFn != nil {
		return m.upsertBatchFn(ctx, spots)
	}
	return nil
}

func (m *mockSpotRepo) FindNearby(ctx context.Context, center domain.GeoPoint, radius float64, limit int) ([]domain.MatchedSpot, error) {
	if m.findNearbyFn != nil {
		return m.findNearbyFn(ctx, center, radius, limit)
	}
	return nil, nil
}

// --- Mock CacheService ---

var errCacheMiss = errors.New("cache miss")

type memCache struct {
	mu   sync.Mutex
	data map[string][]byte
	ttls map[string]int
}

func newMemCache() *memCache {
	return &memCache{data: map[string][]byte{}, ttls: map[string]int{}}
}

func (c *memCache) Get(ctx context.Context, key string) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.data[key]
	if !ok {
		return nil, errCacheMiss
	}
	return v, nil
}

func (c *memCache) Set(ctx context.Context, key string, value []byte, ttlSeconds int) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.data[key] = value
	c.ttls[key] = ttlSeconds
	return nil
}

func (c *memCache) Delete(ctx context.Context, key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.data, key)
	return nil
}

// --- Mock CatalogProvider ---

type mockCatalog struct {
	spotsFn func(ctx context.Context) ([]domain.Spot, error)
}

func (m *mockCatalog) Spots(ctx context.Context) ([]domain.Spot, error) {
	if m.spotsFn != nil {
		return m.spotsFn(ctx)
	}
	return nil, nil
}

func staticCatalog(spots ...domain.Spot) *mockCatalog {
	return &mockCatalog{spotsFn: func(context.Context) ([]domain.Spot, error) { return spots, nil }}
}

// --- Mock DiscoveryTransport ---

type sent struct {
	sessionID string
	payload   domain.DiscoveryPayload
}

type mockTransport struct {
	mu     sync.Mutex
	sent   []sent
	closed []string
	sendFn func(ctx context.Context, sessionID string, payload domain.DiscoveryPayload) error
}

func (m *mockTransport) Send(ctx context.Context, sessionID string, payload domain.DiscoveryPayload) error {
	if m.sendFn != nil {
		if err := m.sendFn(ctx, sessionID, payload); err != nil {
			return err
		}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sent = append(m.sent, sent{sessionID: sessionID, payload: payload})
	return nil
}

func (m *mockTransport) Close(sessionID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = append(m.closed, sessionID)
}

func (m *mockTransport) sentCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sent)
}

// --- Mock EventPublisher ---

type mockPublisher struct {
	mu        sync.Mutex
	events    []*domain.DiscoveryEvent
	updated   []string
	publishFn func(ctx context.Context, event *domain.DiscoveryEvent) error
}

func (m *mockPublisher) PublishDiscovery(ctx context.Context, event *domain.DiscoveryEvent) error {
	if m.publishFn != nil {
		return m.publishFn(ctx, event)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, event)
	return nil
}

func (m *mockPublisher) PublishCatalogUpdated(ctx context.Context, source string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.updated = append(m.updated, source)
	return nil
}

// --- Fixtures ---

// Offsets due north of cebuCity: +0.0044966° ≈ 500 m, +0.013489° ≈ 1500 m.
func spotAt(id, name string, dLat float64) domain.Spot {
	return domain.Spot{
		ID:       id,
		Name:     name,
		Location: domain.GeoPoint{Lat: cebuCity.Lat + dLat, Lon: cebuCity.Lon},
		Category: domain.CategoryAttraction,
	}
}

var (
	spotA = spotAt("a", "Fort San Pedro", 0.0044966)
	spotB = spotAt("b", "Tops Lookout", 0.013489)
)
