package http

import (
	"context"

	"github.com/sugvoyage/sugvoyage/internal/core/domain"
	"github.com/sugvoyage/sugvoyage/internal/core/usecases"
	"github.com/sugvoyage/sugvoyage/internal/pkg/config"
)

// Pinger is a backing service that can report connectivity.
type Pinger interface {
	Ping(ctx context.Context) error
}

// ConnStatus reports whether a long-lived connection is up.
type ConnStatus interface {
	Connected() bool
}

// CatalogStatus exposes the current catalog snapshot.
type CatalogStatus interface {
	Snapshot() *domain.CatalogSnapshot
}

// Dependencies holds all services needed by HTTP handlers.
type Dependencies struct {
	Spots     *usecases.SpotService
	Discovery *usecases.DiscoveryService
	Transport *WSTransport
	Catalog   CatalogStatus
	Proximity config.ProximityConfig
	DB        Pinger
	Cache     Pinger
	NATS      ConnStatus
}
