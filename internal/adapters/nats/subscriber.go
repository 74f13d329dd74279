package natsadapter

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/samirrijal/plonk/internal/core/domain"
)

// Subscriber implements ports.EventSubscriber using NATS JetStream.
type Subscriber struct {
	conn *nats.Conn
	js   nats.JetStreamContext
	subs []*nats.Subscription
}

// NewSubscriber creates a subscriber with its own NATS connection.
func NewSubscriber(url string) (*Subscriber, error) {
	conn, err := nats.Connect(url,
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
	)
	if err != nil {
		return nil, fmt.Errorf("nats connect: %w", err)
	}
	js, err := conn.JetStream()
	if err != nil {
		return nil, fmt.Errorf("jetstream: %w", err)
	}
	return &Subscriber{conn: conn, js: js}, nil
}

// SubscribeRoundEvents delivers every round event to handler with a durable
// consumer, so a restarted process resumes where it left off.
func (s *Subscriber) SubscribeRoundEvents(ctx context.Context, handler func(ctx context.Context, ev *domain.RoundEvent) error) error {
	sub, err := s.js.Subscribe("plonk.rounds.>", func(msg *nats.Msg) {
		var ev domain.RoundEvent
		if err := json.Unmarshal(msg.Data, &ev); err != nil {
			_ = msg.Nak()
			return
		}
		if err := handler(ctx, &ev); err != nil {
			_ = msg.Nak()
			return
		}
		_ = msg.Ack()
	},
		nats.Durable("round-recorder"),
		nats.ManualAck(),
		nats.MaxDeliver(3),
	)
	if err != nil {
		return err
	}
	s.subs = append(s.subs, sub)
	return nil
}

// SubscribeLive delivers only events published from now on, without a
// durable consumer. Suited to fan-out feeds like the live WebSocket, where
// a reconnecting client wants fresh events rather than history.
func (s *Subscriber) SubscribeLive(ctx context.Context, handler func(ctx context.Context, ev *domain.RoundEvent) error) error {
	sub, err := s.js.Subscribe("plonk.rounds.>", func(msg *nats.Msg) {
		var ev domain.RoundEvent
		if err := json.Unmarshal(msg.Data, &ev); err != nil {
			return
		}
		_ = handler(ctx, &ev)
	},
		nats.DeliverNew(),
	)
	if err != nil {
		return err
	}
	s.subs = append(s.subs, sub)
	return nil
}

// Close unsubscribes and drains.
func (s *Subscriber) Close() {
	for _, sub := range s.subs {
		_ = sub.Unsubscribe()
	}
	_ = s.conn.Drain()
}
