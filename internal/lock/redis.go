package lock

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/averros/signflow/pkg/api"
)

// releaseScript deletes the lease only when the fencing token still
// matches, so an expired holder cannot evict a newer one.
var releaseScript = redis.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
end
return 0
`)

// RedisManager is an api.LockManager backed by Redis SET NX PX leases.
// Keys are namespaced with a prefix (e.g. "signflow:lock:").
type RedisManager struct {
	client *redis.Client
	prefix string
}

var _ api.LockManager = (*RedisManager)(nil)

// NewRedisManager creates a RedisManager.
// prefix is optional but recommended (e.g. "signflow:lock:").
func NewRedisManager(client *redis.Client, prefix string) *RedisManager {
	if prefix == "" {
		prefix = "signflow:lock:"
	}
	return &RedisManager{client: client, prefix: prefix}
}

func (r *RedisManager) Acquire(ctx context.Context, key string, ttl time.Duration) (api.LockHandle, error) {
	token := uuid.NewString()
	ok, err := r.client.SetNX(ctx, r.prefix+key, token, ttl).Result()
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, api.ErrLockUnavailable
	}
	return &handle{key: key, token: token}, nil
}

func (r *RedisManager) Release(ctx context.Context, h api.LockHandle) error {
	if h == nil {
		return nil
	}
	return releaseScript.Run(ctx, r.client, []string{r.prefix + h.Key()}, h.Token()).Err()
}
