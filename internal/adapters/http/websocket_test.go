package http_test

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	handler "github.com/sugvoyage/sugvoyage/internal/adapters/http"
	"github.com/sugvoyage/sugvoyage/internal/core/domain"
)

type fakeConn struct {
	mu       sync.Mutex
	frames   [][]byte
	deadline time.Time
	writeErr error
	closed   int
}

func (f *fakeConn) WriteMessage(_ int, data []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.writeErr != nil {
		return f.writeErr
	}
	f.frames = append(f.frames, append([]byte(nil), data...))
	return nil
}

func (f *fakeConn) SetWriteDeadline(t time.Time) error {
	f.mu.Lock()
	f.deadline = t
	f.mu.Unlock()
	return nil
}

func (f *fakeConn) Close() error {
	f.mu.Lock()
	f.closed++
	f.mu.Unlock()
	return nil
}

func (f *fakeConn) Frames() [][]byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([][]byte(nil), f.frames...)
}

func samplePayload() domain.DiscoveryPayload {
	return domain.NewDiscoveryPayload(domain.DiscoveryEvent{
		SessionID:    "s1",
		MatchedSpots: []domain.MatchedSpot{{Spot: spotA, DistanceMeters: 500}},
		TriggeredAt:  time.Now(),
	}, 5)
}

func TestWSTransport_SendUnknownSession(t *testing.T) {
	tr := handler.NewWSTransport()

	err := tr.Send(context.Background(), "ghost", samplePayload())

	assert.ErrorIs(t, err, domain.ErrSessionNotFound)
}

func TestWSTransport_SendWritesDiscoveryFrame(t *testing.T) {
	tr := handler.NewWSTransport()
	conn := &fakeConn{}
	tr.Register("s1", conn)

	require.NoError(t, tr.Send(context.Background(), "s1", samplePayload()))

	frames := conn.Frames()
	require.Len(t, frames, 1)
	var got struct {
		Type        string               `json:"type"`
		Message     string               `json:"message"`
		Count       int                  `json:"count"`
		NearestSpot string               `json:"nearestSpot"`
		Spots       []domain.MatchedSpot `json:"spots"`
	}
	require.NoError(t, json.Unmarshal(frames[0], &got))
	assert.Equal(t, "discovery", got.Type)
	assert.Equal(t, 1, got.Count)
	assert.Equal(t, "Fort San Pedro", got.NearestSpot)
	assert.Len(t, got.Spots, 1)
}

func TestWSTransport_WriteDeadlineFollowsContext(t *testing.T) {
	tr := handler.NewWSTransport()
	conn := &fakeConn{}
	tr.Register("s1", conn)

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	require.NoError(t, tr.Send(ctx, "s1", samplePayload()))

	dl, _ := ctx.Deadline()
	assert.Equal(t, dl, conn.deadline)
}

func TestWSTransport_WriteFailure(t *testing.T) {
	tr := handler.NewWSTransport()
	tr.Register("s1", &fakeConn{writeErr: errors.New("broken pipe")})

	err := tr.Send(context.Background(), "s1", samplePayload())

	assert.ErrorIs(t, err, domain.ErrTransportFailure)
}

func TestWSTransport_CloseIsIdempotent(t *testing.T) {
	tr := handler.NewWSTransport()
	conn := &fakeConn{}
	tr.Register("s1", conn)
	require.Equal(t, 1, tr.Len())

	tr.Close("s1")
	tr.Close("s1")

	assert.Equal(t, 0, tr.Len())
	assert.Equal(t, 1, conn.closed)
	assert.ErrorIs(t, tr.Send(context.Background(), "s1", samplePayload()), domain.ErrSessionNotFound)
}

func TestWSTransport_RegisterReplacesPrevious(t *testing.T) {
	tr := handler.NewWSTransport()
	old := &fakeConn{}
	tr.Register("s1", old)
	fresh := &fakeConn{}
	tr.Register("s1", fresh)

	require.NoError(t, tr.Send(context.Background(), "s1", samplePayload()))

	assert.Equal(t, 1, old.closed)
	assert.Empty(t, old.Frames())
	assert.Len(t, fresh.Frames(), 1)
	assert.Equal(t, 1, tr.Len())
}

func TestWSTransport_DiscoveryCycle(t *testing.T) {
	deps := makeDeps()
	conn := &fakeConn{}
	deps.Transport.Register("s1", conn)

	report := domain.LocationReport{Latitude: cebuCity.Lat, Longitude: cebuCity.Lon, RadiusMeters: 1000}
	ev, err := deps.Discovery.ReportLocation(context.Background(), "s1", report)
	require.NoError(t, err)
	require.NotNil(t, ev)
	assert.Len(t, conn.Frames(), 1)

	// Second report inside the cooldown is suppressed.
	ev, err = deps.Discovery.ReportLocation(context.Background(), "s1", report)
	require.NoError(t, err)
	assert.Nil(t, ev)
	assert.Len(t, conn.Frames(), 1)
}

func TestWSTransport_FailureEndsSession(t *testing.T) {
	deps := makeDeps()
	conn := &fakeConn{writeErr: errors.New("reset by peer")}
	deps.Transport.Register("s1", conn)

	report := domain.LocationReport{Latitude: cebuCity.Lat, Longitude: cebuCity.Lon}
	_, err := deps.Discovery.ReportLocation(context.Background(), "s1", report)

	assert.ErrorIs(t, err, domain.ErrTransportFailure)
	assert.Equal(t, 0, deps.Transport.Len())
	_, err = deps.Discovery.Session("s1")
	assert.ErrorIs(t, err, domain.ErrSessionNotFound)
}

func TestWSTransport_Has(t *testing.T) {
	tr := handler.NewWSTransport()
	assert.False(t, tr.Has("s1"))

	tr.Register("s1", &fakeConn{})
	assert.True(t, tr.Has("s1"))

	tr.Close("s1")
	assert.False(t, tr.Has("s1"))
}
