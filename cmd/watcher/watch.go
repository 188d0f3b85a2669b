package main

import (
	"bufio"
	"encoding/json"
	"io"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sugvoyage/sugvoyage/internal/adapters/apiclient"
	"github.com/sugvoyage/sugvoyage/internal/core/domain"
	"github.com/sugvoyage/sugvoyage/internal/core/usecases"
)

var watchFlags struct {
	api      string
	session  string
	lat, lon float64
	radius   float64
	interval time.Duration
	maxAge   time.Duration
	stdin    bool
}

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Watch for nearby spots from a fixed or streamed position",
	RunE: func(cmd *cobra.Command, args []string) error {
		f := watchFlags
		start := domain.GeoPoint{Lat: f.lat, Lon: f.lon}
		if err := start.Validate(); err != nil {
			return eris.Wrap(err, "watcher: start position")
		}
		if f.session == "" {
			f.session = uuid.NewString()
		}
		interval := f.interval
		if interval <= 0 {
			interval = cfg.Proximity.PollInterval
		}

		p := cfg.Proximity
		client := apiclient.NewCatalogClient(apiclient.Options{
			BaseURL: f.api,
			Timeout: p.CatalogTimeout,
			MaxAge:  f.maxAge,
		})

		out := &payloadPrinter{w: cmd.OutOrStdout(), maxSpots: p.MaxPayloadSpots}
		poller := usecases.NewPoller(f.session, nil, client, usecases.PollerConfig{
			Interval:            interval,
			Cooldown:            p.Cooldown,
			FetchTimeout:        p.CatalogTimeout,
			DefaultRadiusMeters: p.DefaultRadiusMeters,
			MaxRadiusMeters:     p.MaxRadiusMeters,
		}, out.print, slog.Default())

		if err := poller.UpdatePosition(start, f.radius); err != nil {
			return eris.Wrap(err, "watcher: start position")
		}
		if err := poller.Start(cmd.Context()); err != nil {
			return err
		}
		defer poller.Stop()

		slog.Info("watching", "api", f.api, "session_id", f.session, "interval", interval)
		if f.stdin {
			go readPositions(cmd.InOrStdin(), func(pos domain.GeoPoint) {
				_ = poller.UpdatePosition(pos, f.radius)
			})
		}

		<-cmd.Context().Done()
		return nil
	},
}

// payloadPrinter writes one JSON line per discovery.
type payloadPrinter struct {
	mu       sync.Mutex
	w        io.Writer
	maxSpots int
}

func (p *payloadPrinter) print(ev domain.DiscoveryEvent) {
	payload := domain.NewDiscoveryPayload(ev, p.maxSpots)
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := json.NewEncoder(p.w).Encode(payload); err != nil {
		slog.Warn("write discovery", "error", err)
	}
}

// readPositions calls update for every "lat,lon" line on r until EOF.
// Malformed lines are logged and skipped.
func readPositions(r io.Reader, update func(domain.GeoPoint)) {
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		pos, err := parsePosition(line)
		if err != nil {
			slog.Warn("ignoring position", "line", line, "error", err)
			continue
		}
		update(pos)
	}
}

func parsePosition(s string) (domain.GeoPoint, error) {
	latStr, lonStr, ok := strings.Cut(s, ",")
	if !ok {
		return domain.GeoPoint{}, eris.New("expected lat,lon")
	}
	lat, err := strconv.ParseFloat(strings.TrimSpace(latStr), 64)
	if err != nil {
		return domain.GeoPoint{}, eris.Wrap(err, "latitude")
	}
	lon, err := strconv.ParseFloat(strings.TrimSpace(lonStr), 64)
	if err != nil {
		return domain.GeoPoint{}, eris.Wrap(err, "longitude")
	}
	pos := domain.GeoPoint{Lat: lat, Lon: lon}
	return pos, pos.Validate()
}

func init() {
	fl := watchCmd.Flags()
	fl.StringVar(&watchFlags.api, "api", "http://localhost:8080", "base URL of the SugVoyage API")
	fl.StringVar(&watchFlags.session, "session", "", "session ID (random when empty)")
	fl.Float64Var(&watchFlags.lat, "lat", 10.3157, "starting latitude")
	fl.Float64Var(&watchFlags.lon, "lon", 123.8854, "starting longitude")
	fl.Float64Var(&watchFlags.radius, "radius", 0, "discovery radius in meters (0 uses the configured default)")
	fl.DurationVar(&watchFlags.interval, "interval", 0, "poll interval (0 uses proximity.poll_interval)")
	fl.DurationVar(&watchFlags.maxAge, "max-age", time.Minute, "reuse the fetched catalog for this long")
	fl.BoolVar(&watchFlags.stdin, "stdin", false, `read "lat,lon" position updates from stdin`)
	rootCmd.AddCommand(watchCmd)
}
