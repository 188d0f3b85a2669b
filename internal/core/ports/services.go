package ports

import (
	"context"

	"github.com/sugvoyage/sugvoyage/internal/core/domain"
)

// CatalogProvider supplies the current spot catalog.
// Implementations must honour ctx cancellation and return
// domain.ErrCatalogUnavailable when the catalog cannot be loaded.
type CatalogProvider interface {
	Spots(ctx context.Context) ([]domain.Spot, error)
}

// DiscoveryTransport delivers discovery payloads to connected clients.
type DiscoveryTransport interface {
	// Send returns domain.ErrSessionNotFound when no client is registered for
	// sessionID and domain.ErrTransportFailure when the write fails.
	Send(ctx context.Context, sessionID string, payload domain.DiscoveryPayload) error
	Close(sessionID string)
}

// EventPublisher publishes domain events to a message broker.
type EventPublisher interface {
	PublishDiscovery(ctx context.Context, event *domain.DiscoveryEvent) error
	PublishCatalogUpdated(ctx context.Context, source string) error
}

// EventSubscriber subscribes to domain events from a message broker.
type EventSubscriber interface {
	SubscribeCatalogUpdated(ctx context.Context, handler func(ctx context.Context, source string) error) error
}

// CacheService provides read-through caching.
type CacheService interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte, ttlSeconds int) error
	Delete(ctx context.Context, key string) error
}

// SpotCatalog is a CatalogProvider that can also resolve single spots.
type SpotCatalog interface {
	CatalogProvider
	GetByID(ctx context.Context, id string) (*domain.Spot, error)
}
