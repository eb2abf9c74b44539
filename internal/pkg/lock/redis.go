package lock

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const (
	lockKeyPrefix = "lock:"

	// defaultLeaseTTL bounds how long a crashed holder can block a key.
	// Transitions are short, so a generous multiple is safe.
	defaultLeaseTTL = 30 * time.Second

	pollInterval = 50 * time.Millisecond
)

// releaseScript deletes the key only if the stored token matches the
// lease, so an expired lease cannot release somebody else's lock.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// RedisProvider implements Provider over a shared Redis (or compatible)
// server, giving per-key exclusion across process instances.
type RedisProvider struct {
	client   *redis.Client
	leaseTTL time.Duration
}

// NewRedisProvider creates a Redis-backed lock provider.
func NewRedisProvider(client *redis.Client) *RedisProvider {
	return &RedisProvider{client: client, leaseTTL: defaultLeaseTTL}
}

func (p *RedisProvider) Acquire(key string, timeout time.Duration) (*Lease, error) {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	token := uuid.NewString()
	redisKey := lockKeyPrefix + key

	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		ok, err := p.client.SetNX(ctx, redisKey, token, p.leaseTTL).Result()
		if err != nil {
			if ctx.Err() != nil {
				return nil, ErrTimeout
			}
			return nil, err
		}
		if ok {
			return &Lease{Key: key, Token: token}, nil
		}

		select {
		case <-ctx.Done():
			return nil, ErrTimeout
		case <-ticker.C:
		}
	}
}

func (p *RedisProvider) Release(lease *Lease) error {
	if lease == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return releaseScript.Run(ctx, p.client, []string{lockKeyPrefix + lease.Key}, lease.Token).Err()
}
