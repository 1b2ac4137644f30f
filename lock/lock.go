package lock

import (
	"context"
	"fmt"
	"math/rand"
	"time"

	api "github.com/carlos-burelo/cgsm-tabuladores/api/v1"
	"github.com/carlos-burelo/cgsm-tabuladores/logger"
	rd "github.com/go-redis/redis/v9"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Manager serializes mutations on a logical resource. WithLock acquires an
// exclusive time-bounded lease on the key, runs fn and releases the lease
// on every exit path. Acquisition failure surfaces LockAcquisitionError
// and fn is never run.
type Manager interface {
	WithLock(key string, fn func() error) error
}

type Config struct {
	Addrs      []string
	Namespace  string
	TTL        time.Duration
	RetryCount int
	RetryDelay time.Duration
}

type redisManager struct {
	redisClient rd.UniversalClient
	namespace   string
	ttl         time.Duration
	retryCount  int
	retryDelay  time.Duration
}

var _ Manager = new(redisManager)

// releaseScript deletes the lease only if the caller still owns it, so a
// lease that expired and was re-acquired by someone else is never removed.
var releaseScript = rd.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

func NewRedisManager(conf Config) *redisManager {
	redisClient := rd.NewUniversalClient(&rd.UniversalOptions{
		Addrs: conf.Addrs,
	})
	return &redisManager{
		redisClient: redisClient,
		namespace:   conf.Namespace,
		ttl:         conf.TTL,
		retryCount:  conf.RetryCount,
		retryDelay:  conf.RetryDelay,
	}
}

func (m *redisManager) WithLock(key string, fn func() error) error {
	lockKey := fmt.Sprintf("%s:lock:%s", m.namespace, key)
	token := uuid.New().String()
	ctx := context.Background()

	acquired := false
	for attempt := 0; attempt <= m.retryCount; attempt++ {
		ok, err := m.redisClient.SetNX(ctx, lockKey, token, m.ttl).Result()
		if err != nil {
			logger.Error("error acquiring lock", zap.String("key", lockKey), zap.Error(err))
			return api.LockAcquisitionError{Key: key}
		}
		if ok {
			acquired = true
			break
		}
		// bounded randomized backoff before the next attempt
		jitter := time.Duration(rand.Int63n(int64(m.retryDelay)))
		time.Sleep(m.retryDelay + jitter)
	}
	if !acquired {
		logger.Warn("lock contention exhausted retries", zap.String("key", lockKey))
		return api.LockAcquisitionError{Key: key}
	}
	logger.Debug("lock acquired", zap.String("key", lockKey))

	defer func() {
		released, err := releaseScript.Run(ctx, m.redisClient, []string{lockKey}, token).Int()
		if err != nil {
			logger.Warn("failed to release lock", zap.String("key", lockKey), zap.Error(err))
			return
		}
		if released == 0 {
			// The lease expired while fn was still running. Another holder
			// may have mutated the resource concurrently. Operational alarm.
			logger.Error("lock lease expired before release, TTL too short for critical section", zap.String("key", lockKey))
			return
		}
		logger.Debug("lock released", zap.String("key", lockKey))
	}()

	return fn()
}

func (m *redisManager) Close() error {
	return m.redisClient.Close()
}
