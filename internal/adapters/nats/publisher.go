package natsadapter

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/rotisserie/eris"

	"github.com/sugvoyage/sugvoyage/internal/core/domain"
)

// Subjects.
const (
	SubjectDiscoveryPrefix = "sugvoyage.discovery."
	SubjectCatalogUpdated  = "sugvoyage.catalog.updated"
)

// CatalogUpdated is the body of a catalog.updated message.
type CatalogUpdated struct {
	Source    string    `json:"source"`
	UpdatedAt time.Time `json:"updatedAt"`
}

var subjectReplacer = strings.NewReplacer(".", "_", "*", "_", ">", "_", " ", "_")

// DiscoverySubject returns the subject a session's discovery events are published on.
func DiscoverySubject(sessionID string) string {
	return SubjectDiscoveryPrefix + subjectReplacer.Replace(sessionID)
}

// Publisher implements ports.EventPublisher using NATS JetStream.
type Publisher struct {
	conn *nats.Conn
	js   nats.JetStreamContext
	now  func() time.Time
}

// NewPublisher connects to NATS and enables JetStream.
func NewPublisher(url string) (*Publisher, error) {
	conn, err := RawConn(url)
	if err != nil {
		return nil, eris.Wrap(err, "nats: connect")
	}

	js, err := conn.JetStream()
	if err != nil {
		conn.Close()
		return nil, eris.Wrap(err, "nats: jetstream")
	}

	// Ensure streams exist
	streams := []nats.StreamConfig{
		{
			Name:      "DISCOVERIES",
			Subjects:  []string{SubjectDiscoveryPrefix + ">"},
			Retention: nats.LimitsPolicy,
			MaxAge:    24 * time.Hour,
			Storage:   nats.FileStorage,
		},
		{
			Name:      "CATALOG",
			Subjects:  []string{"sugvoyage.catalog.>"},
			Retention: nats.InterestPolicy,
			MaxAge:    1 * time.Hour,
			Storage:   nats.FileStorage,
		},
	}

	for _, cfg := range streams {
		if _, err := js.AddStream(&cfg); err != nil {
			// Stream may already exist, so try an update.
			if _, err := js.UpdateStream(&cfg); err != nil {
				conn.Close()
				return nil, eris.Wrapf(err, "nats: ensure stream %s", cfg.Name)
			}
		}
	}

	return &Publisher{conn: conn, js: js, now: time.Now}, nil
}

// PublishDiscovery publishes an emitted discovery event for analytics consumers.
func (p *Publisher) PublishDiscovery(ctx context.Context, event *domain.DiscoveryEvent) error {
	data, err := json.Marshal(event)
	if err != nil {
		return eris.Wrap(err, "nats: marshal discovery")
	}
	if _, err := p.js.Publish(DiscoverySubject(event.SessionID), data, nats.Context(ctx)); err != nil {
		return eris.Wrap(err, "nats: publish discovery")
	}
	return nil
}

// PublishCatalogUpdated tells every API instance to reload its catalog.
func (p *Publisher) PublishCatalogUpdated(ctx context.Context, source string) error {
	data, err := json.Marshal(CatalogUpdated{Source: source, UpdatedAt: p.now().UTC()})
	if err != nil {
		return eris.Wrap(err, "nats: marshal catalog update")
	}
	if _, err := p.js.Publish(SubjectCatalogUpdated, data, nats.Context(ctx)); err != nil {
		return eris.Wrap(err, "nats: publish catalog update")
	}
	return nil
}

// Connected reports whether the connection is up; used by the readiness probe.
func (p *Publisher) Connected() bool {
	return p.conn.IsConnected()
}

// Close drains and closes the connection.
func (p *Publisher) Close() {
	_ = p.conn.Drain()
}

// RawConn creates a plain NATS connection that retries forever.
func RawConn(url string) (*nats.Conn, error) {
	return nats.Connect(url,
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
	)
}
