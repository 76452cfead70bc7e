package turnlock

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"pcbrecon-backend/internal/apperr"
	"pcbrecon-backend/internal/logger"
)

// releaseScript deletes the key only if it still holds our token.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// RedisLocker shares locks between server replicas. A lock expires after ttl
// so a crashed holder cannot wedge a project forever.
type RedisLocker struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
	log    *logger.Logger
}

func NewRedisLocker(ctx context.Context, address, password string, ttl time.Duration, log *logger.Logger) (*RedisLocker, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     address,
		Password: password,
		DB:       0,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}

	return &RedisLocker{
		client: rdb,
		prefix: "pcbrecon:turn:",
		ttl:    ttl,
		log:    log.With("component", "RedisLocker"),
	}, nil
}

func (l *RedisLocker) TryLock(ctx context.Context, key string) (func(), error) {
	redisKey := l.prefix + key
	token := uuid.NewString()

	ok, err := l.client.SetNX(ctx, redisKey, token, l.ttl).Result()
	if err != nil {
		return nil, &apperr.NetworkError{Service: "redis", Err: err}
	}
	if !ok {
		return nil, apperr.ErrBusy
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			releaseCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
			defer cancel()
			if err := releaseScript.Run(releaseCtx, l.client, []string{redisKey}, token).Err(); err != nil {
				l.log.Warn("failed to release turn lock", "key", redisKey, "error", err)
			}
		})
	}, nil
}

// Name identifies the locker in readiness checks.
func (l *RedisLocker) Name() string {
	return "redis"
}

func (l *RedisLocker) Check(ctx context.Context) error {
	return l.client.Ping(ctx).Err()
}

func (l *RedisLocker) Close() error {
	return l.client.Close()
}
