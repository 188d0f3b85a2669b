package postgres

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/rotisserie/eris"
	"github.com/twpayne/go-geom"
	"github.com/twpayne/go-geom/encoding/ewkb"

	"github.com/sugvoyage/sugvoyage/internal/core/domain"
	"github.com/sugvoyage/sugvoyage/internal/core/proximity"
)

const srid = 4326

// PostGIS measures geography on the WGS 84 spheroid, which differs from the
// haversine sphere by well under 1%. The SQL radius is widened by this much so
// the haversine check below sees every candidate.
const (
	prefilterSlackRatio  = 0.01
	prefilterSlackMeters = 10.0
)

const spotColumns = `id, name, category, ST_AsEWKB(location::geometry), COALESCE(metadata, '{}'::jsonb)`

const upsertSpotSQL = `
	INSERT INTO spots (id, name, category, location, metadata)
	VALUES ($1, $2, $3, ST_GeomFromEWKB($4)::geography, $5)
	ON CONFLICT (id) DO UPDATE
	SET name = EXCLUDED.name, category = EXCLUDED.category,
	    location = EXCLUDED.location, metadata = EXCLUDED.metadata,
	    updated_at = now()
`

// SpotRepo implements ports.SpotRepository on PostGIS.
type SpotRepo struct {
	db *DB
}

// NewSpotRepo creates a new SpotRepo.
func NewSpotRepo(db *DB) *SpotRepo {
	return &SpotRepo{db: db}
}

// ListAll returns the whole catalog ordered by ID.
func (r *SpotRepo) ListAll(ctx context.Context) ([]domain.Spot, error) {
	rows, err := r.db.Pool.Query(ctx, `SELECT `+spotColumns+` FROM spots ORDER BY id`)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list spots")
	}
	defer rows.Close()

	spots := make([]domain.Spot, 0)
	for rows.Next() {
		s, err := scanSpot(rows)
		if err != nil {
			return nil, err
		}
		spots = append(spots, s)
	}
	if err := rows.Err(); err != nil {
		return nil, eris.Wrap(err, "postgres: list spots")
	}
	return spots, nil
}

// GetByID returns a spot by ID.
func (r *SpotRepo) GetByID(ctx context.Context, id string) (*domain.Spot, error) {
	row := r.db.Pool.QueryRow(ctx, `SELECT `+spotColumns+` FROM spots WHERE id = $1`, id)
	s, err := scanSpot(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, eris.Wrapf(domain.ErrNotFound, "spot %s", id)
	}
	if err != nil {
		return nil, err
	}
	return &s, nil
}

// Upsert inserts or updates a single spot.
func (r *SpotRepo) Upsert(ctx context.Context, s *domain.Spot) error {
	loc, err := encodePoint(s.Location)
	if err != nil {
		return err
	}
	if _, err := r.db.Pool.Exec(ctx, upsertSpotSQL, s.ID, s.Name, string(s.Category), loc, s.Metadata); err != nil {
		return eris.Wrapf(err, "postgres: upsert spot %s", s.ID)
	}
	return nil
}

// UpsertBatch inserts many spots using pgx.Batch.
func (r *SpotRepo) UpsertBatch(ctx context.Context, spots []domain.Spot) error {
	if len(spots) == 0 {
		return nil
	}
	batch := &pgx.Batch{}
	for _, s := range spots {
		loc, err := encodePoint(s.Location)
		if err != nil {
			return err
		}
		batch.Queue(upsertSpotSQL, s.ID, s.Name, string(s.Category), loc, s.Metadata)
	}
	br := r.db.Pool.SendBatch(ctx, batch)
	defer br.Close()
	for _, s := range spots {
		if _, err := br.Exec(); err != nil {
			return eris.Wrapf(err, "postgres: batch upsert spot %s", s.ID)
		}
	}
	return nil
}

// FindNearby returns spots within radiusMeters, nearest first. ST_DWithin
// only pre-selects candidates; inclusion, distance and order come from
// proximity.FilterInRadius so results match the in-memory catalog path.
func (r *SpotRepo) FindNearby(ctx context.Context, center domain.GeoPoint, radiusMeters float64, limit int) ([]domain.MatchedSpot, error) {
	prefilter := radiusMeters*(1+prefilterSlackRatio) + prefilterSlackMeters
	rows, err := r.db.Pool.Query(ctx, `
		SELECT `+spotColumns+`
		FROM spots
		WHERE ST_DWithin(location, ST_SetSRID(ST_MakePoint($1, $2), 4326)::geography, $3)
	`, center.Lon, center.Lat, prefilter)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: find nearby spots")
	}
	defer rows.Close()

	candidates := make([]domain.Spot, 0)
	for rows.Next() {
		s, err := scanSpot(rows)
		if err != nil {
			return nil, err
		}
		candidates = append(candidates, s)
	}
	if err := rows.Err(); err != nil {
		return nil, eris.Wrap(err, "postgres: find nearby spots")
	}

	matched := proximity.FilterInRadius(center, radiusMeters, candidates)
	if limit > 0 && len(matched) > limit {
		matched = matched[:limit]
	}
	return matched, nil
}

func scanSpot(row pgx.Row) (domain.Spot, error) {
	var (
		s        domain.Spot
		category string
		loc      []byte
	)
	if err := row.Scan(&s.ID, &s.Name, &category, &loc, &s.Metadata); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return s, err
		}
		return s, eris.Wrap(err, "postgres: scan spot")
	}
	s.Category = domain.ParseSpotCategory(category)
	var err error
	s.Location, err = decodePoint(loc)
	return s, err
}

func encodePoint(p domain.GeoPoint) ([]byte, error) {
	pt := geom.NewPointFlat(geom.XY, []float64{p.Lon, p.Lat}).SetSRID(srid)
	data, err := ewkb.Marshal(pt, ewkb.NDR)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: encode location")
	}
	return data, nil
}

func decodePoint(data []byte) (domain.GeoPoint, error) {
	g, err := ewkb.Unmarshal(data)
	if err != nil {
		return domain.GeoPoint{}, eris.Wrap(err, "postgres: decode location")
	}
	pt, ok := g.(*geom.Point)
	if !ok {
		return domain.GeoPoint{}, eris.Errorf("postgres: location is %T, want point", g)
	}
	return domain.GeoPoint{Lat: pt.Y(), Lon: pt.X()}, nil
}
