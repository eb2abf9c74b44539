// Package idempotency deduplicates redelivered operations by caching the
// result of a previously completed call under a deterministic key. It does
// not serialize concurrent callers; that is the lock provider's job.
package idempotency

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"sort"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2/log"
)

const keyPrefix = "idem:"

// Store caches serialized operation results with a TTL. An expired key is
// indistinguishable from an absent one.
type Store interface {
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key string, value string, ttl time.Duration) error
}

// Key builds a deterministic cache key from an operation name and its
// parameters. Params are sorted so map iteration order cannot change the
// key between deliveries.
func Key(operation string, params map[string]string) string {
	names := make([]string, 0, len(params))
	for name := range params {
		names = append(names, name)
	}
	sort.Strings(names)

	var b strings.Builder
	b.WriteString(operation)
	for _, name := range names {
		b.WriteByte('|')
		b.WriteString(name)
		b.WriteByte('=')
		b.WriteString(params[name])
	}

	sum := sha256.Sum256([]byte(b.String()))
	return keyPrefix + operation + ":" + hex.EncodeToString(sum[:])
}

// WithIdempotency returns the cached result for key without re-executing
// fn on a hit. On a miss it runs fn once and caches the JSON-encoded
// result. The store is best-effort: read or write failures degrade to
// executing the operation instead of failing it.
func WithIdempotency[T any](ctx context.Context, store Store, key string, ttl time.Duration, fn func() (T, error)) (T, error) {
	var zero T

	if cached, ok, err := store.Get(ctx, key); err != nil {
		log.Warnf("[Idempotency] Read failed for %s, executing anyway: %v", key, err)
	} else if ok {
		var result T
		if err := json.Unmarshal([]byte(cached), &result); err == nil {
			return result, nil
		}
		log.Warnf("[Idempotency] Corrupt cache entry for %s, executing anyway", key)
	}

	result, err := fn()
	if err != nil {
		return zero, err
	}

	encoded, err := json.Marshal(result)
	if err != nil {
		log.Warnf("[Idempotency] Could not encode result for %s: %v", key, err)
		return result, nil
	}
	if err := store.Set(ctx, key, string(encoded), ttl); err != nil {
		log.Warnf("[Idempotency] Write failed for %s: %v", key, err)
	}
	return result, nil
}
