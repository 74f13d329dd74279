package ports

import (
	"context"

	"github.com/samirrijal/plonk/internal/core/domain"
)

// EventPublisher publishes round events to a message broker.
type EventPublisher interface {
	PublishRoundEvent(ctx context.Context, ev *domain.RoundEvent) error
}

// EventSubscriber subscribes to round events from a message broker.
type EventSubscriber interface {
	SubscribeRoundEvents(ctx context.Context, handler func(ctx context.Context, ev *domain.RoundEvent) error) error
}

// CacheService provides read-through caching.
type CacheService interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte, ttlSeconds int) error
	Delete(ctx context.Context, key string) error
}
