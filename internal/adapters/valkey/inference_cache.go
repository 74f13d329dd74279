package valkey

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/samirrijal/plonk/internal/core/domain"
	"github.com/samirrijal/plonk/internal/core/ports"
	"github.com/samirrijal/plonk/internal/pkg/metrics"
)

// CachedInferencer wraps an Inferencer with read-through caching. The key is
// the backend name plus the ordered view digests, so a ride through the same
// evidence never pays for the same model call twice. Only successful
// candidates are cached; failures always retry the backend.
type CachedInferencer struct {
	next       ports.Inferencer
	cache      ports.CacheService
	ttlSeconds int
}

// NewCachedInferencer decorates next with caching. A nil cache disables the
// decoration and returns next's results directly.
func NewCachedInferencer(next ports.Inferencer, cache ports.CacheService, ttlSeconds int) *CachedInferencer {
	return &CachedInferencer{
		next:       next,
		cache:      cache,
		ttlSeconds: ttlSeconds,
	}
}

// Backend names the decorated implementation.
func (c *CachedInferencer) Backend() string { return c.next.Backend() }

// Infer consults the cache before the backend.
func (c *CachedInferencer) Infer(ctx context.Context, views []domain.View) (domain.CandidateGuess, error) {
	if c.cache == nil {
		return c.next.Infer(ctx, views)
	}

	key := c.key(views)
	if data, err := c.cache.Get(ctx, key); err == nil && len(data) > 0 {
		var cand domain.CandidateGuess
		if err := json.Unmarshal(data, &cand); err == nil {
			metrics.CacheHits.WithLabelValues("inference").Inc()
			return cand, nil
		}
	}
	metrics.CacheMisses.WithLabelValues("inference").Inc()

	cand, err := c.next.Infer(ctx, views)
	if err != nil {
		return domain.CandidateGuess{}, err
	}

	if data, err := json.Marshal(cand); err == nil {
		if err := c.cache.Set(ctx, key, data, c.ttlSeconds); err != nil {
			slog.Debug("inference cache set failed", "key", key, "error", err)
		}
	}
	return cand, nil
}

// key hashes the evidence identity: backend plus ordered view digests.
func (c *CachedInferencer) key(views []domain.View) string {
	h := sha256.New()
	h.Write([]byte(c.next.Backend()))
	for _, v := range views {
		h.Write([]byte(v.Image.Digest))
	}
	return fmt.Sprintf("inference:%s:%s", c.next.Backend(), hex.EncodeToString(h.Sum(nil)))
}
