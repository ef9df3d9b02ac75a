package cache

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

// Remote mirrors byte payloads to a shared store so warm data survives
// restarts and can be shared across scanner instances. Typed values stay in
// the local namespaces; only serialized payloads cross the wire.
type Remote interface {
	GetBytes(key string) ([]byte, bool)
	SetBytes(key string, val []byte, ttl time.Duration)
	Close() error
}

// remoteTimeout bounds every remote call so a slow Redis never stalls a
// scan.
const remoteTimeout = 500 * time.Millisecond

type redisRemote struct {
	c *redis.Client
}

// NewRedisRemote connects a Redis-backed Remote at addr.
func NewRedisRemote(addr string) Remote {
	return &redisRemote{c: redis.NewClient(&redis.Options{Addr: addr})}
}

func (r *redisRemote) GetBytes(key string) ([]byte, bool) {
	ctx, cancel := context.WithTimeout(context.Background(), remoteTimeout)
	defer cancel()
	v, err := r.c.Get(ctx, key).Bytes()
	if err != nil {
		return nil, false
	}
	return v, true
}

func (r *redisRemote) SetBytes(key string, val []byte, ttl time.Duration) {
	ctx, cancel := context.WithTimeout(context.Background(), remoteTimeout)
	defer cancel()
	_ = r.c.Set(ctx, key, val, ttl).Err()
}

func (r *redisRemote) Close() error { return r.c.Close() }
