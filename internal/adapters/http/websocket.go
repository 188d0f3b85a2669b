package http

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/gofiber/websocket/v2"
	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"golang.org/x/time/rate"

	"github.com/sugvoyage/sugvoyage/internal/core/domain"
	"github.com/sugvoyage/sugvoyage/internal/pkg/metrics"
)

const (
	wsPingInterval = 30 * time.Second
	wsWriteTimeout = 5 * time.Second
)

var errClientClosed = eris.New("ws: connection closed")

// frameWriter is the write side of a websocket connection.
type frameWriter interface {
	WriteMessage(messageType int, data []byte) error
	SetWriteDeadline(t time.Time) error
	Close() error
}

// wsClient serialises writes to one connection. Once closed it drops frames.
type wsClient struct {
	mu     sync.Mutex
	conn   frameWriter
	closed bool
}

func (w *wsClient) write(messageType int, data []byte, deadline time.Time) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return errClientClosed
	}
	if err := w.conn.SetWriteDeadline(deadline); err != nil {
		return err
	}
	return w.conn.WriteMessage(messageType, data)
}

func (w *wsClient) writeJSON(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return w.write(websocket.TextMessage, data, time.Now().Add(wsWriteTimeout))
}

func (w *wsClient) close() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return
	}
	w.closed = true
	_ = w.conn.Close()
}

// WSTransport delivers discovery payloads to sessions connected over /ws.
// It implements ports.DiscoveryTransport.
type WSTransport struct {
	mu      sync.RWMutex
	clients map[string]*wsClient
}

// NewWSTransport creates an empty transport registry.
func NewWSTransport() *WSTransport {
	return &WSTransport{clients: make(map[string]*wsClient)}
}

// Register attaches conn to sessionID, replacing any previous connection.
func (t *WSTransport) Register(sessionID string, conn frameWriter) *wsClient {
	client := &wsClient{conn: conn}
	t.mu.Lock()
	prev := t.clients[sessionID]
	t.clients[sessionID] = client
	t.mu.Unlock()
	if prev != nil {
		prev.close()
	}
	return client
}

// discoveryFrame is the outbound message for a discovery.
type discoveryFrame struct {
	Type string `json:"type"`
	domain.DiscoveryPayload
}

// Send writes payload to the session's socket. The write deadline is the
// earlier of ctx's deadline and wsWriteTimeout.
func (t *WSTransport) Send(ctx context.Context, sessionID string, payload domain.DiscoveryPayload) error {
	t.mu.RLock()
	client := t.clients[sessionID]
	t.mu.RUnlock()
	if client == nil {
		return eris.Wrapf(domain.ErrSessionNotFound, "ws: no connection for %s", sessionID)
	}

	data, err := json.Marshal(discoveryFrame{Type: "discovery", DiscoveryPayload: payload})
	if err != nil {
		return eris.Wrap(err, "ws: marshal discovery")
	}

	deadline := time.Now().Add(wsWriteTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	if err := client.write(websocket.TextMessage, data, deadline); err != nil {
		metrics.TransportFailures.Inc()
		return eris.Wrapf(domain.ErrTransportFailure, "ws: write to %s: %v", sessionID, err)
	}
	return nil
}

// Close unregisters the session and closes its socket. Safe to call more than once.
func (t *WSTransport) Close(sessionID string) {
	t.mu.Lock()
	client := t.clients[sessionID]
	delete(t.clients, sessionID)
	t.mu.Unlock()
	if client != nil {
		client.close()
	}
}

// Has reports whether a socket is registered for sessionID.
func (t *WSTransport) Has(sessionID string) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	_, ok := t.clients[sessionID]
	return ok
}

// Len returns the number of registered connections.
func (t *WSTransport) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.clients)
}

// wsInbound is a client message. Only "location" is understood; an empty
// type is treated as "location".
type wsInbound struct {
	Type         string   `json:"type"`
	Latitude     *float64 `json:"latitude"`
	Longitude    *float64 `json:"longitude"`
	RadiusMeters float64  `json:"radiusMeters"`
}

func (m wsInbound) report() (domain.LocationReport, bool) {
	if m.Latitude == nil || m.Longitude == nil {
		return domain.LocationReport{}, false
	}
	return domain.LocationReport{
		Latitude:     *m.Latitude,
		Longitude:    *m.Longitude,
		RadiusMeters: m.RadiusMeters,
	}, true
}

type wsError struct {
	Type  string `json:"type"`
	Error string `json:"error"`
}

func reportLimiter(perSecond float64) *rate.Limiter {
	if perSecond <= 0 {
		return rate.NewLimiter(rate.Inf, 1)
	}
	return rate.NewLimiter(rate.Limit(perSecond), max(1, int(math.Ceil(perSecond))))
}

// WebSocketHandler assigns each connection a session and runs the discovery
// cycle for every location report it sends.
//
// On connect the server sends {"type":"session","sessionId":"..."}.
// Clients send {"type":"location","latitude":10.31,"longitude":123.89,"radiusMeters":1000}
// and receive {"type":"discovery",...} frames when spots come into range.
// The session ends when the socket closes or stays silent past the idle timeout.
func WebSocketHandler(deps *Dependencies) func(*websocket.Conn) {
	return func(c *websocket.Conn) {
		sessionID := uuid.NewString()
		log := slog.Default().With("session_id", sessionID, "remote_addr", c.RemoteAddr().String())

		client := deps.Transport.Register(sessionID, c)
		metrics.ActiveWebSockets.Inc()
		log.Info("ws client connected")

		ctx, cancel := context.WithCancel(context.Background())
		done := make(chan struct{})
		defer func() {
			close(done)
			cancel()
			deps.Discovery.EndSession(sessionID)
			metrics.ActiveWebSockets.Dec()
			log.Info("ws client disconnected")
		}()

		idle := deps.Proximity.WSIdleTimeout
		extend := func() {
			if idle > 0 {
				_ = c.SetReadDeadline(time.Now().Add(idle))
			}
		}
		extend()
		c.SetPongHandler(func(string) error {
			extend()
			return nil
		})

		if err := client.writeJSON(map[string]string{"type": "session", "sessionId": sessionID}); err != nil {
			return
		}

		// Keep-alive ping
		go func() {
			ticker := time.NewTicker(wsPingInterval)
			defer ticker.Stop()
			for {
				select {
				case <-ticker.C:
					if err := client.write(websocket.PingMessage, nil, time.Now().Add(wsWriteTimeout)); err != nil {
						return
					}
				case <-done:
					return
				}
			}
		}()

		limiter := reportLimiter(deps.Proximity.MaxReportsPerSecond)

		for {
			_, msg, err := c.ReadMessage()
			if err != nil {
				break
			}
			extend()

			var m wsInbound
			if err := json.Unmarshal(msg, &m); err != nil {
				_ = client.writeJSON(wsError{Type: "error", Error: "invalid JSON"})
				continue
			}
			if m.Type != "" && m.Type != "location" {
				_ = client.writeJSON(wsError{Type: "error", Error: "unknown message type: " + m.Type})
				continue
			}
			report, ok := m.report()
			if !ok {
				_ = client.writeJSON(wsError{Type: "error", Error: "latitude and longitude are required"})
				continue
			}
			if !limiter.Allow() {
				_ = client.writeJSON(wsError{Type: "error", Error: "rate limit exceeded"})
				continue
			}

			_, err = deps.Discovery.ReportLocation(ctx, sessionID, report)
			switch {
			case err == nil:
			case errors.Is(err, domain.ErrInvalidPosition):
				_ = client.writeJSON(wsError{Type: "error", Error: "invalid position"})
			case errors.Is(err, domain.ErrTransportFailure):
				return
			default:
				log.Error("location report failed", "error", err)
				_ = client.writeJSON(wsError{Type: "error", Error: "internal error"})
			}
		}
	}
}
