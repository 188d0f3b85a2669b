package natsadapter

import (
	"context"
	"encoding/json"

	"github.com/nats-io/nats.go"
	"github.com/rotisserie/eris"
)

// Subscriber implements ports.EventSubscriber using NATS JetStream.
type Subscriber struct {
	conn *nats.Conn
	js   nats.JetStreamContext
	subs []*nats.Subscription
}

// NewSubscriber creates a subscriber with its own connection.
func NewSubscriber(url string) (*Subscriber, error) {
	conn, err := RawConn(url)
	if err != nil {
		return nil, eris.Wrap(err, "nats: connect")
	}
	js, err := conn.JetStream()
	if err != nil {
		conn.Close()
		return nil, eris.Wrap(err, "nats: jetstream")
	}
	return &Subscriber{conn: conn, js: js}, nil
}

// SubscribeCatalogUpdated delivers every catalog.updated message to handler.
// The consumer is ephemeral so that each API instance sees each update.
func (s *Subscriber) SubscribeCatalogUpdated(ctx context.Context, handler func(ctx context.Context, source string) error) error {
	sub, err := s.js.Subscribe(SubjectCatalogUpdated, catalogUpdatedHandler(ctx, handler),
		nats.DeliverNew(),
		nats.ManualAck(),
		nats.MaxDeliver(3),
	)
	if err != nil {
		return eris.Wrap(err, "nats: subscribe catalog updates")
	}
	s.subs = append(s.subs, sub)
	return nil
}

// ackable is the part of *nats.Msg the handler touches.
type ackable interface {
	Ack(opts ...nats.AckOpt) error
	Nak(opts ...nats.AckOpt) error
}

func catalogUpdatedHandler(ctx context.Context, handler func(ctx context.Context, source string) error) nats.MsgHandler {
	return func(msg *nats.Msg) {
		handleCatalogUpdated(ctx, msg.Data, msg, handler)
	}
}

func handleCatalogUpdated(ctx context.Context, data []byte, msg ackable, handler func(ctx context.Context, source string) error) {
	var body CatalogUpdated
	if err := json.Unmarshal(data, &body); err != nil {
		// Malformed payloads never succeed; ack so they are not redelivered.
		_ = msg.Ack()
		return
	}
	if err := handler(ctx, body.Source); err != nil {
		_ = msg.Nak()
		return
	}
	_ = msg.Ack()
}

// Close unsubscribes and drains.
func (s *Subscriber) Close() {
	for _, sub := range s.subs {
		_ = sub.Unsubscribe()
	}
	_ = s.conn.Drain()
}
