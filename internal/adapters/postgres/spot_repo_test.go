package postgres

import (
	"context"
	"errors"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sugvoyage/sugvoyage/internal/core/domain"
	"github.com/sugvoyage/sugvoyage/internal/core/proximity"
)

var spotCols = []string{"id", "name", "category", "location", "metadata"}

func mustPoint(t *testing.T, p domain.GeoPoint) []byte {
	t.Helper()
	b, err := encodePoint(p)
	require.NoError(t, err)
	return b
}

func TestEncodeDecodePoint(t *testing.T) {
	p := domain.GeoPoint{Lat: 10.2935, Lon: 123.9019}

	got, err := decodePoint(mustPoint(t, p))

	require.NoError(t, err)
	assert.InDelta(t, p.Lat, got.Lat, 1e-12)
	assert.InDelta(t, p.Lon, got.Lon, 1e-12)
}

func TestDecodePoint_Garbage(t *testing.T) {
	_, err := decodePoint([]byte{0x01, 0x02})
	assert.Error(t, err)
}

func TestSpotRepo_ListAll(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	cross := domain.GeoPoint{Lat: 10.2935, Lon: 123.9019}
	falls := domain.GeoPoint{Lat: 9.8039, Lon: 123.3736}
	mock.ExpectQuery("SELECT .+ FROM spots ORDER BY id").
		WillReturnRows(mock.NewRows(spotCols).
			AddRow("cross", "Magellan's Cross", "heritage", mustPoint(t, cross), map[string]any{"fee": "free"}).
			AddRow("falls", "Kawasan Falls", "waterfall", mustPoint(t, falls), map[string]any{}))

	repo := NewSpotRepo(NewWithPool(mock))
	spots, err := repo.ListAll(context.Background())

	require.NoError(t, err)
	require.Len(t, spots, 2)
	assert.Equal(t, "Magellan's Cross", spots[0].Name)
	assert.Equal(t, domain.CategoryHeritage, spots[0].Category)
	assert.InDelta(t, cross.Lat, spots[0].Location.Lat, 1e-9)
	assert.Equal(t, "free", spots[0].Metadata["fee"])
	assert.Equal(t, domain.CategoryOther, spots[1].Category, "unknown category")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSpotRepo_ListAll_Error(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectQuery("SELECT .+ FROM spots").WillReturnError(errors.New("connection reset"))

	_, err = NewSpotRepo(NewWithPool(mock)).ListAll(context.Background())

	require.Error(t, err)
	assert.Contains(t, err.Error(), "postgres: list spots")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSpotRepo_GetByID_NotFound(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectQuery("SELECT .+ FROM spots WHERE id = \\$1").
		WithArgs("missing").
		WillReturnError(pgx.ErrNoRows)

	_, err = NewSpotRepo(NewWithPool(mock)).GetByID(context.Background(), "missing")

	assert.ErrorIs(t, err, domain.ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSpotRepo_GetByID(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	loc := domain.GeoPoint{Lat: 10.3157, Lon: 123.8854}
	mock.ExpectQuery("SELECT .+ FROM spots WHERE id = \\$1").
		WithArgs("fort").
		WillReturnRows(mock.NewRows(spotCols).
			AddRow("fort", "Fort San Pedro", "heritage", mustPoint(t, loc), map[string]any{}))

	s, err := NewSpotRepo(NewWithPool(mock)).GetByID(context.Background(), "fort")

	require.NoError(t, err)
	assert.Equal(t, "Fort San Pedro", s.Name)
	assert.InDelta(t, loc.Lon, s.Location.Lon, 1e-9)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSpotRepo_Upsert(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	s := &domain.Spot{
		ID:       "cross",
		Name:     "Magellan's Cross",
		Category: domain.CategoryHeritage,
		Location: domain.GeoPoint{Lat: 10.2935, Lon: 123.9019},
	}
	mock.ExpectExec("INSERT INTO spots").
		WithArgs("cross", "Magellan's Cross", "heritage", mustPoint(t, s.Location), pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	require.NoError(t, NewSpotRepo(NewWithPool(mock)).Upsert(context.Background(), s))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSpotRepo_FindNearby(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	center := domain.GeoPoint{Lat: 10.3157, Lon: 123.8854}
	north := func(dLat float64) domain.GeoPoint { return domain.GeoPoint{Lat: center.Lat + dLat, Lon: center.Lon} }
	// 0.0044966° ≈ 500 m, 0.0017986° ≈ 200 m, 0.0090382° ≈ 1005 m due north.
	mock.ExpectQuery("ST_DWithin").
		WithArgs(center.Lon, center.Lat, 1020.0).
		WillReturnRows(mock.NewRows(spotCols).
			AddRow("fort", "Fort San Pedro", "heritage", mustPoint(t, north(0.0044966)), map[string]any{}).
			AddRow("edge", "Just Outside", "other", mustPoint(t, north(0.0090382)), map[string]any{}).
			AddRow("plaza", "Plaza Independencia", "heritage", mustPoint(t, north(0.0017986)), map[string]any{}))

	got, err := NewSpotRepo(NewWithPool(mock)).FindNearby(context.Background(), center, 1000, 10)

	require.NoError(t, err)
	require.Len(t, got, 2, "the spot in the pre-filter slack must be dropped")
	assert.Equal(t, "plaza", got[0].ID)
	assert.Equal(t, "fort", got[1].ID)
	assert.InDelta(t, proximity.DistanceMeters(center, north(0.0044966)), got[1].DistanceMeters, 1e-9)
	assert.InDelta(t, 500, got[1].DistanceMeters, 1)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSpotRepo_FindNearby_Limit(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	center := domain.GeoPoint{Lat: 10.3157, Lon: 123.8854}
	mock.ExpectQuery("ST_DWithin").
		WithArgs(center.Lon, center.Lat, pgxmock.AnyArg()).
		WillReturnRows(mock.NewRows(spotCols).
			AddRow("b", "B", "other", mustPoint(t, center), map[string]any{}).
			AddRow("a", "A", "other", mustPoint(t, center), map[string]any{}))

	got, err := NewSpotRepo(NewWithPool(mock)).FindNearby(context.Background(), center, 1000, 1)

	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "a", got[0].ID, "ties are broken by ID")
}

func TestSpotRepo_UpsertBatch_Empty(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	require.NoError(t, NewSpotRepo(NewWithPool(mock)).UpsertBatch(context.Background(), nil))
	assert.NoError(t, mock.ExpectationsWereMet())
}
