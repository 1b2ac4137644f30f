package idempotency

import (
	"sync"
	"time"

	"github.com/carlos-burelo/cgsm-tabuladores/logger"
	"github.com/carlos-burelo/cgsm-tabuladores/model"
	"github.com/carlos-burelo/cgsm-tabuladores/persistence"
	"github.com/carlos-burelo/cgsm-tabuladores/util"
	"go.uber.org/zap"
)

type CheckResult struct {
	Exists bool
	Result map[string]any
}

// Guard deduplicates retried operations by key. The first caller for a key
// stores its result, every later caller gets that result back without the
// operation re-executing, until the key expires.
type Guard struct {
	storage    persistence.IdempotencyStorage
	ttl        time.Duration
	tickWorker *util.TickWorker
}

func NewGuard(storage persistence.IdempotencyStorage, ttl time.Duration) *Guard {
	return &Guard{
		storage: storage,
		ttl:     ttl,
	}
}

// Check looks the key up without storing anything. Used to short-circuit
// a retried request before its operation runs.
func (g *Guard) Check(key string) (CheckResult, error) {
	existing, err := g.storage.Get(key)
	if err != nil {
		logger.Error("idempotency lookup failed", zap.String("key", key), zap.Error(err))
		return CheckResult{}, err
	}
	if existing != nil {
		return CheckResult{Exists: true, Result: existing.Result}, nil
	}
	return CheckResult{Exists: false}, nil
}

func (g *Guard) CheckAndStore(key string, ownerId string, result map[string]any) (CheckResult, error) {
	existing, err := g.storage.PutIfAbsent(model.IdempotencyRecord{
		Key:       key,
		OwnerId:   ownerId,
		Result:    result,
		ExpiresAt: time.Now().Add(g.ttl),
	})
	if err != nil {
		logger.Error("idempotency check failed", zap.String("key", key), zap.Error(err))
		return CheckResult{}, err
	}
	if existing != nil {
		return CheckResult{Exists: true, Result: existing.Result}, nil
	}
	return CheckResult{Exists: false}, nil
}

func (g *Guard) Cleanup() {
	count, err := g.storage.DeleteExpired(time.Now())
	if err != nil {
		logger.Error("idempotency cleanup failed", zap.Error(err))
		return
	}
	if count > 0 {
		logger.Info("cleaned up expired idempotency keys", zap.Int("count", count))
	}
}

func (g *Guard) StartCleanupWorker(intervalSeconds int, wg *sync.WaitGroup) {
	g.tickWorker = util.NewTickWorker("idempotency-cleanup", intervalSeconds, make(chan struct{}), g.Cleanup, wg)
	g.tickWorker.Start()
}

func (g *Guard) Stop() {
	if g.tickWorker != nil {
		g.tickWorker.Stop()
	}
}
