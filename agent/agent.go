package agent

import (
	"sync"
	"time"

	"github.com/carlos-burelo/cgsm-tabuladores/audit"
	"github.com/carlos-burelo/cgsm-tabuladores/config"
	"github.com/carlos-burelo/cgsm-tabuladores/engine"
	"github.com/carlos-burelo/cgsm-tabuladores/flow"
	"github.com/carlos-burelo/cgsm-tabuladores/idempotency"
	"github.com/carlos-burelo/cgsm-tabuladores/lock"
	"github.com/carlos-burelo/cgsm-tabuladores/logger"
	"github.com/carlos-burelo/cgsm-tabuladores/notification"
	"github.com/carlos-burelo/cgsm-tabuladores/persistence"
	"github.com/carlos-burelo/cgsm-tabuladores/persistence/memory"
	"github.com/carlos-burelo/cgsm-tabuladores/persistence/redis"
	"github.com/carlos-burelo/cgsm-tabuladores/rest"
	"github.com/carlos-burelo/cgsm-tabuladores/webhook"
)

// Agent assembles a running node: storage backend, lock manager, domain
// services, background workers and the REST server.
type Agent struct {
	Config       config.Config
	backend      persistence.Backend
	lockManager  lock.Manager
	auditor      *audit.Service
	notifier     *notification.Notifier
	flows        *flow.Repository
	guard        *idempotency.Guard
	dispatcher   *webhook.Dispatcher
	engine       *engine.Engine
	httpServer   *rest.Server
	shutdown     bool
	shutdowns    chan struct{}
	shutdownLock sync.Mutex
	wg           sync.WaitGroup
}

func New(conf config.Config) (*Agent, error) {
	a := &Agent{
		Config:    conf,
		shutdowns: make(chan struct{}),
	}
	setup := []func() error{
		a.setupStorage,
		a.setupLockManager,
		a.setupServices,
		a.setupHttpServer,
	}
	for _, fn := range setup {
		if err := fn(); err != nil {
			return nil, err
		}
	}
	return a, nil
}

func (a *Agent) setupStorage() error {
	switch a.Config.StorageType {
	case config.STORAGE_TYPE_INMEM:
		a.backend = memory.NewBackend()
	default:
		a.backend = redis.NewBackend(redis.Config{
			Addrs:     a.Config.RedisConfig.Addrs,
			Namespace: a.Config.RedisConfig.Namespace,
		})
	}
	return nil
}

func (a *Agent) setupLockManager() error {
	if a.Config.StorageType == config.STORAGE_TYPE_INMEM {
		a.lockManager = lock.NewLocalManager()
		return nil
	}
	a.lockManager = lock.NewRedisManager(lock.Config{
		Addrs:      a.Config.RedisConfig.Addrs,
		Namespace:  a.Config.RedisConfig.Namespace,
		TTL:        time.Duration(a.Config.LockTTLMillis) * time.Millisecond,
		RetryCount: a.Config.LockRetryCount,
		RetryDelay: time.Duration(a.Config.LockRetryDelayMillis) * time.Millisecond,
	})
	return nil
}

func (a *Agent) setupServices() error {
	a.auditor = audit.NewService(a.backend.AuditStorage())
	a.notifier = notification.NewNotifier(a.backend.NotificationStorage(), a.backend.NotificationPublisher())
	a.flows = flow.NewRepository(a.backend.FlowStorage(), a.backend.InstanceStorage(), a.auditor)
	a.guard = idempotency.NewGuard(a.backend.IdempotencyStorage(),
		time.Duration(a.Config.IdempotencyTTLHours)*time.Hour)
	a.dispatcher = webhook.NewDispatcher(a.backend.WebhookLogStorage(), a.backend.DelayQueue(), webhook.Config{
		Timeout:      time.Duration(a.Config.WebhookTimeoutMillis) * time.Millisecond,
		MaxRetries:   a.Config.WebhookMaxRetries,
		BaseDelay:    time.Duration(a.Config.WebhookRetryDelayMillis) * time.Millisecond,
		PollInterval: a.Config.WebhookPollIntervalSecs,
	})
	a.engine = engine.NewEngine(a.lockManager, a.flows, a.backend.InstanceStorage(),
		a.auditor, a.notifier, a.dispatcher)
	return nil
}

func (a *Agent) setupHttpServer() error {
	var err error
	a.httpServer, err = rest.NewServer(a.Config.HttpPort, a.flows, a.engine, a.auditor, a.notifier, a.guard, a.lockManager)
	return err
}

func (a *Agent) Start() error {
	a.dispatcher.StartWorker(&a.wg)
	a.guard.StartCleanupWorker(a.Config.IdempotencyCleanupSecs, &a.wg)
	go func() {
		if err := a.httpServer.Start(); err != nil {
			_ = a.Shutdown()
		}
	}()
	return nil
}

func (a *Agent) Shutdown() error {
	logger.Info("shutting down server")
	a.shutdownLock.Lock()
	defer a.shutdownLock.Unlock()
	if a.shutdown {
		return nil
	}
	a.shutdown = true
	close(a.shutdowns)

	shutdown := []func() error{
		func() error {
			a.dispatcher.Stop()
			return nil
		},
		func() error {
			a.guard.Stop()
			return nil
		},
		a.httpServer.Stop,
		a.backend.Close,
	}
	for _, fn := range shutdown {
		if err := fn(); err != nil {
			return err
		}
	}
	a.wg.Wait()
	return nil
}
