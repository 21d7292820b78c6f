package gateway

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/agrilink/agrilink-backend/pkg/redis"
)

// IdempotencyGuard deduplicates gateway webhook deliveries by external
// reference before the handler runs. The ledger's unique external_ref index
// is the durable backstop; the guard keeps retries cheap.
type IdempotencyGuard struct {
	store redis.IdempotencyStore
	ttl   time.Duration
	scope string
}

func NewIdempotencyGuard(store redis.IdempotencyStore, ttl time.Duration, scope string) (*IdempotencyGuard, error) {
	if store == nil {
		return nil, errors.New("idempotency store is required")
	}
	if ttl < 0 {
		return nil, errors.New("ttl must be non-negative")
	}
	if scope == "" {
		return nil, errors.New("scope is required")
	}
	return &IdempotencyGuard{
		store: store,
		ttl:   ttl,
		scope: scope,
	}, nil
}

// CheckAndMark reports whether the reference was already seen, marking it if
// not. Callers must Delete on handler failure so the gateway retry succeeds.
func (g *IdempotencyGuard) CheckAndMark(ctx context.Context, externalRef string) (bool, error) {
	if externalRef == "" {
		return false, errors.New("external ref is required")
	}
	key := g.store.IdempotencyKey(g.scope, externalRef)
	set, err := g.store.SetNX(ctx, key, "1", g.ttl)
	if err != nil {
		return false, fmt.Errorf("set idempotency key: %w", err)
	}
	return !set, nil
}

func (g *IdempotencyGuard) Delete(ctx context.Context, externalRef string) error {
	if externalRef == "" {
		return errors.New("external ref is required")
	}
	key := g.store.IdempotencyKey(g.scope, externalRef)
	return g.store.Del(ctx, key)
}
