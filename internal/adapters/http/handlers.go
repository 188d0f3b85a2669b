package http

import (
	"strconv"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/sugvoyage/sugvoyage/internal/core/domain"
)

const (
	defaultPageLimit = 20
	maxPageLimit     = 50
)

// parseCenter reads the required lat/lon query parameters.
func parseCenter(c *fiber.Ctx) (domain.GeoPoint, bool) {
	lat, errLat := strconv.ParseFloat(strings.TrimSpace(c.Query("lat")), 64)
	lon, errLon := strconv.ParseFloat(strings.TrimSpace(c.Query("lon")), 64)
	if errLat != nil || errLon != nil {
		return domain.GeoPoint{}, false
	}
	return domain.GeoPoint{Lat: lat, Lon: lon}, true
}

// parseRadius reads the optional radius parameter. Missing means default.
func parseRadius(c *fiber.Ctx) (float64, bool) {
	raw := strings.TrimSpace(c.Query("radius"))
	if raw == "" {
		return 0, true
	}
	r, err := strconv.ParseFloat(raw, 64)
	if err != nil || r < 0 {
		return 0, false
	}
	return r, true
}

// ListSpotsHandler returns the catalog, paginated and optionally filtered by category.
func ListSpotsHandler(deps *Dependencies) fiber.Handler {
	return func(c *fiber.Ctx) error {
		offset := c.QueryInt("offset", 0)
		limit := c.QueryInt("limit", defaultPageLimit)
		if offset < 0 {
			offset = 0
		}
		if limit <= 0 || limit > maxPageLimit {
			limit = defaultPageLimit
		}

		spots, total, err := deps.Spots.List(c.UserContext(), c.Query("category"), offset, limit)
		if err != nil {
			return errFromDomain(c, err)
		}

		pg := Pagination{Offset: offset, Limit: limit, Total: total}
		SetLinkHeaders(c, pg)
		return c.JSON(PaginatedResponse{Data: spots, Pagination: pg})
	}
}

// NearbySpotsHandler returns spots within radius meters of lat/lon, nearest first.
func NearbySpotsHandler(deps *Dependencies) fiber.Handler {
	return func(c *fiber.Ctx) error {
		center, ok := parseCenter(c)
		if !ok {
			return errBadRequest(c, "lat and lon are required numbers")
		}
		radius, ok := parseRadius(c)
		if !ok {
			return errBadRequest(c, "radius must be a non-negative number of meters")
		}

		spots, err := deps.Spots.FindNearby(c.UserContext(), center, radius, c.QueryInt("limit", 0))
		if err != nil {
			return errFromDomain(c, err)
		}
		return c.JSON(spots)
	}
}

// RecommendationsHandler returns spots in range of lat/lon. When none are in
// range the nearest ones are returned with fallback=true; fallback=0 disables that.
func RecommendationsHandler(deps *Dependencies) fiber.Handler {
	return func(c *fiber.Ctx) error {
		center, ok := parseCenter(c)
		if !ok {
			return errBadRequest(c, "lat and lon are required numbers")
		}
		radius, ok := parseRadius(c)
		if !ok {
			return errBadRequest(c, "radius must be a non-negative number of meters")
		}
		fallback := c.QueryInt("fallback", deps.Proximity.RecommendationFallback)
		if fallback < 0 {
			return errBadRequest(c, "fallback must not be negative")
		}
		if fallback > maxPageLimit {
			fallback = maxPageLimit
		}

		rec, err := deps.Spots.Recommend(c.UserContext(), center, radius, fallback)
		if err != nil {
			return errFromDomain(c, err)
		}
		return c.JSON(rec)
	}
}

// GetSpotHandler returns a single spot by ID.
func GetSpotHandler(deps *Dependencies) fiber.Handler {
	return func(c *fiber.Ctx) error {
		id := c.Params("id")
		if id == "" {
			return errBadRequest(c, "spot id is required")
		}
		spot, err := deps.Spots.GetByID(c.UserContext(), id)
		if err != nil {
			return errFromDomain(c, err)
		}
		return c.JSON(spot)
	}
}

// GetSessionHandler returns the tracked state of a session.
func GetSessionHandler(deps *Dependencies) fiber.Handler {
	return func(c *fiber.Ctx) error {
		session, err := deps.Discovery.Session(c.Params("id"))
		if err != nil {
			return errFromDomain(c, err)
		}
		return c.JSON(session)
	}
}

// SessionCountHandler reports how many sessions are tracked and how many of
// them hold an open socket.
func SessionCountHandler(deps *Dependencies) fiber.Handler {
	return func(c *fiber.Ctx) error {
		sockets := 0
		if deps.Transport != nil {
			sockets = deps.Transport.Len()
		}
		return c.JSON(fiber.Map{
			"sessions":   deps.Discovery.SessionCount(),
			"websockets": sockets,
		})
	}
}

// ReportLocationHandler runs a discovery cycle for a client without a socket.
// It answers 200 with the discovery payload when one is due and 204 otherwise.
// Sessions owned by a live socket are rejected so their deliveries cannot be
// diverted to an HTTP caller.
func ReportLocationHandler(deps *Dependencies) fiber.Handler {
	return func(c *fiber.Ctx) error {
		id := strings.TrimSpace(c.Params("id"))
		if id == "" || len(id) > 128 {
			return errBadRequest(c, "session id must be 1-128 characters")
		}
		if deps.Transport != nil && deps.Transport.Has(id) {
			return errConflict(c, "session is bound to a websocket connection")
		}

		var body struct {
			Latitude     *float64 `json:"latitude"`
			Longitude    *float64 `json:"longitude"`
			RadiusMeters float64  `json:"radiusMeters"`
		}
		if err := c.BodyParser(&body); err != nil {
			return errBadRequest(c, "invalid request body")
		}
		if body.Latitude == nil || body.Longitude == nil {
			return errBadRequest(c, "latitude and longitude are required")
		}

		payload, err := deps.Discovery.Evaluate(c.UserContext(), id, domain.LocationReport{
			Latitude:     *body.Latitude,
			Longitude:    *body.Longitude,
			RadiusMeters: body.RadiusMeters,
		})
		if err != nil {
			return errFromDomain(c, err)
		}
		if payload == nil {
			return c.SendStatus(fiber.StatusNoContent)
		}
		return c.JSON(payload)
	}
}

// CatalogStatusHandler describes the catalog snapshot currently served.
func CatalogStatusHandler(deps *Dependencies) fiber.Handler {
	return func(c *fiber.Ctx) error {
		var snap *domain.CatalogSnapshot
		if deps.Catalog != nil {
			snap = deps.Catalog.Snapshot()
		}
		if snap == nil {
			return errUnavailable(c, "spot catalog not loaded yet")
		}
		return c.JSON(fiber.Map{
			"spots":      len(snap.Spots),
			"source":     snap.Source,
			"loadedAt":   snap.LoadedAt.UTC().Format(time.RFC3339),
			"ageSeconds": int(snap.Age(time.Now()).Seconds()),
		})
	}
}
