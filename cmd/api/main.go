package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"golang.org/x/sync/errgroup"

	"github.com/sugvoyage/sugvoyage/internal/adapters/http"
	natsadapter "github.com/sugvoyage/sugvoyage/internal/adapters/nats"
	"github.com/sugvoyage/sugvoyage/internal/adapters/postgres"
	"github.com/sugvoyage/sugvoyage/internal/adapters/valkey"
	"github.com/sugvoyage/sugvoyage/internal/core/ports"
	"github.com/sugvoyage/sugvoyage/internal/core/usecases"
	"github.com/sugvoyage/sugvoyage/internal/pkg/config"
	"github.com/sugvoyage/sugvoyage/internal/pkg/logging"
	"github.com/sugvoyage/sugvoyage/internal/pkg/telemetry"
)

const (
	expirySweepInterval = time.Minute
	poolStatsInterval   = 15 * time.Second
)

func main() {
	cfg, err := config.Load("sugvoyage-api")
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	logger := logging.Setup(cfg.Log.Level, cfg.Log.Format)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Telemetry
	if cfg.Telemetry.Enabled {
		shutdown, err := telemetry.InitTracer(ctx, cfg.Telemetry.ServiceName, cfg.Telemetry.OTLPEndpoint)
		if err != nil {
			slog.Warn("telemetry init failed", "error", err)
		} else {
			defer func() { _ = shutdown(context.Background()) }()
		}
	}

	// Database
	db, err := postgres.New(ctx, cfg.Database.DSN(), cfg.Database.MaxConns)
	if err != nil {
		log.Fatalf("database: %v", err)
	}
	defer db.Close()

	deps := &http.Dependencies{
		Transport: http.NewWSTransport(),
		Proximity: cfg.Proximity,
		DB:        db,
	}

	// Cache (optional)
	var cache ports.CacheService
	if c, err := valkey.New(cfg.Valkey.Addr); err != nil {
		slog.Warn("valkey unavailable, catalog reads go to the database", "error", err)
	} else {
		defer c.Close()
		cache = c
		deps.Cache = c
	}

	// NATS (optional)
	var events ports.EventPublisher
	if pub, err := natsadapter.NewPublisher(cfg.NATS.URL); err != nil {
		slog.Warn("nats unavailable, discovery events are not published", "error", err)
	} else {
		defer pub.Close()
		events = pub
		deps.NATS = pub
	}

	p := cfg.Proximity
	repo := postgres.NewSpotRepo(db)
	catalog := usecases.NewCatalogService(repo, cache, usecases.CatalogConfig{
		RefreshInterval: p.CatalogRefreshInterval,
		CacheTTL:        p.CatalogCacheTTL,
	}, logger)
	discovery := usecases.NewDiscoveryService(usecases.NewLocationTracker(), catalog, deps.Transport, events,
		usecases.DiscoveryConfig{
			Cooldown:            p.Cooldown,
			CatalogTimeout:      p.CatalogTimeout,
			DefaultRadiusMeters: p.DefaultRadiusMeters,
			MaxRadiusMeters:     p.MaxRadiusMeters,
			MaxPayloadSpots:     p.MaxPayloadSpots,
		}, logger)

	deps.Catalog = catalog
	deps.Discovery = discovery
	deps.Spots = usecases.NewSpotService(catalog, repo, p.DefaultRadiusMeters, p.MaxRadiusMeters)

	app := fiber.New(fiber.Config{
		ReadTimeout:           time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout:          time.Duration(cfg.Server.WriteTimeout) * time.Second,
		BodyLimit:             64 * 1024,
		AppName:               "SugVoyage API",
		DisableStartupMessage: true,
	})
	http.SetupRoutes(app, deps)

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error { return catalog.Run(gctx, p.CatalogRefreshInterval) })
	g.Go(func() error { return discovery.RunExpiry(gctx, p.SessionTTL, expirySweepInterval) })
	g.Go(func() error {
		ticker := time.NewTicker(poolStatsInterval)
		defer ticker.Stop()
		for {
			select {
			case <-gctx.Done():
				return nil
			case <-ticker.C:
				db.RecordPoolStats()
			}
		}
	})

	// Catalog invalidation from the sync workflow
	if sub, err := natsadapter.NewSubscriber(cfg.NATS.URL); err != nil {
		slog.Warn("nats subscriber unavailable, relying on periodic catalog refresh", "error", err)
	} else {
		defer sub.Close()
		err := sub.SubscribeCatalogUpdated(gctx, func(ctx context.Context, source string) error {
			slog.Info("catalog updated, invalidating", "source", source)
			return catalog.Invalidate(ctx)
		})
		if err != nil {
			slog.Warn("catalog update subscription failed", "error", err)
		}
	}

	g.Go(func() error {
		addr := fmt.Sprintf(":%d", cfg.Server.Port)
		slog.Info("API server starting", "addr", addr)
		return app.Listen(addr)
	})
	g.Go(func() error {
		<-gctx.Done()
		slog.Info("shutdown signal received, draining connections...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return app.ShutdownWithContext(shutdownCtx)
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("server stopped with error", "error", err)
		return
	}
	slog.Info("server stopped")
}
