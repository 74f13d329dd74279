package natsadapter

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/samirrijal/plonk/internal/core/domain"
	"github.com/samirrijal/plonk/internal/pkg/metrics"
)

// roundSubjectPrefix carries every round and session lifecycle event. The
// event type's dots become subject tokens, so consumers can filter on
// plonk.rounds.*.round.finalized and similar.
const roundSubjectPrefix = "plonk.rounds."

// Publisher implements ports.EventPublisher using NATS JetStream.
type Publisher struct {
	conn *nats.Conn
	js   nats.JetStreamContext
}

// NewPublisher connects to NATS, enables JetStream, and ensures the round
// event stream exists.
func NewPublisher(url string) (*Publisher, error) {
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

	cfg := nats.StreamConfig{
		Name:      "ROUNDS",
		Subjects:  []string{"plonk.rounds.>"},
		Retention: nats.InterestPolicy,
		MaxAge:    24 * time.Hour,
		Storage:   nats.FileStorage,
	}
	if _, err := js.AddStream(&cfg); err != nil {
		// Stream may already exist — try update
		if _, err := js.UpdateStream(&cfg); err != nil {
			return nil, fmt.Errorf("ensure stream %s: %w", cfg.Name, err)
		}
	}

	return &Publisher{conn: conn, js: js}, nil
}

// PublishRoundEvent publishes one lifecycle event. Terminal round events
// also feed the round metrics, so every played round is counted exactly
// once no matter how many processes observe the stream.
func (p *Publisher) PublishRoundEvent(ctx context.Context, ev *domain.RoundEvent) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	recordRoundMetrics(ev)
	_, err = p.js.Publish(roundSubjectPrefix+ev.SessionID+"."+ev.Type, data)
	return err
}

func recordRoundMetrics(ev *domain.RoundEvent) {
	switch ev.Type {
	case domain.EventSessionStarted:
		metrics.ActiveSessions.Inc()
		return
	case domain.EventSessionFinished:
		metrics.ActiveSessions.Dec()
		return
	case domain.EventRoundFinalized:
		metrics.RoundsTotal.WithLabelValues("finalized").Inc()
	case domain.EventRoundFailed:
		metrics.RoundsTotal.WithLabelValues("failed").Inc()
	default:
		return
	}
	metrics.RoundTurns.Observe(float64(ev.Turn))
	if ev.Score != nil {
		metrics.GuessScore.Observe(float64(*ev.Score))
	}
	if ev.DistanceKm != nil {
		metrics.GuessDistanceKm.Observe(*ev.DistanceKm)
	}
}

// Close drains and closes the connection.
func (p *Publisher) Close() {
	_ = p.conn.Drain()
}

// RawConn creates a plain NATS connection for subscribing (e.g. WebSocket relay).
func RawConn(url string) (*nats.Conn, error) {
	return nats.Connect(url,
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
	)
}
