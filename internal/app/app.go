// Package app assembles the dispatch engine from configuration. Both
// binaries build the same graph; cmd/server serves HTTP on top of it and
// cmd/worker runs the send pool and the background loops.
package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"sync"

	"github.com/redis/go-redis/v9"

	"github.com/ignite/wa-dispatch/internal/api"
	"github.com/ignite/wa-dispatch/internal/config"
	"github.com/ignite/wa-dispatch/internal/greenapi"
	"github.com/ignite/wa-dispatch/internal/pkg/distlock"
	"github.com/ignite/wa-dispatch/internal/pkg/logger"
	"github.com/ignite/wa-dispatch/internal/pkg/retry"
	"github.com/ignite/wa-dispatch/internal/queue"
	"github.com/ignite/wa-dispatch/internal/repository/memory"
	"github.com/ignite/wa-dispatch/internal/repository/postgres"
	"github.com/ignite/wa-dispatch/internal/segmentation"
	"github.com/ignite/wa-dispatch/internal/service/campaign"
	"github.com/ignite/wa-dispatch/internal/service/sending"
	"github.com/ignite/wa-dispatch/internal/service/webhook"
	"github.com/ignite/wa-dispatch/internal/worker"
)

// stores is the set of repositories one backend provides.
type stores struct {
	campaigns interface {
		campaign.Repository
		worker.CampaignStore
	}
	tenants     sending.TenantStore
	messages    sending.MessageStore
	contacts    sending.ContactStore
	inbound     webhook.InboundStore
	autoReplies webhook.AutoReplyStore
	segments    segmentation.Store
}

// App holds the wired components and the connections they share.
type App struct {
	Config *config.Config

	DB    *sql.DB
	Redis *redis.Client
	Queue queue.Queue

	// Memory is set when the process runs without a database.
	Memory *memory.Store

	Campaigns  *campaign.Service
	Reconciler *webhook.Reconciler
	Processor  *worker.CampaignProcessor
	Scheduler  *worker.CampaignScheduler
	Sender     *worker.SendWorker
	Recovery   *worker.QueueRecoveryWorker
	Handlers   *api.Handlers
}

// New connects to the configured backends and builds every component.
// Without a database URL the stores are in memory; without an AMQP URL
// the queue is in process; without a Redis URL leases are local and the
// per-minute windows are off.
func New(cfg *config.Config) (*App, error) {
	logger.SetLevel(logger.ParseLevel(cfg.Log.Level))
	logger.SetRedactPII(cfg.Log.Redact())

	a := &App{Config: cfg}
	var st stores
	if cfg.Database.URL != "" {
		db, err := postgres.Open(cfg.Database)
		if err != nil {
			return nil, err
		}
		a.DB = db
		st = stores{
			campaigns:   postgres.NewCampaignRepo(db),
			tenants:     postgres.NewTenantRepo(db),
			messages:    postgres.NewMessageRepo(db),
			contacts:    postgres.NewContactRepo(db),
			inbound:     postgres.NewMessageRepo(db),
			autoReplies: postgres.NewAutoReplyRepo(db),
			segments:    segmentation.NewStore(db),
		}
		log.Println("Connected to PostgreSQL")
	} else {
		a.Memory = memory.New()
		st = stores{
			campaigns:   a.Memory.Campaigns(),
			tenants:     a.Memory.Tenants(),
			messages:    a.Memory.Messages(),
			contacts:    a.Memory.Contacts(),
			inbound:     a.Memory.Messages(),
			autoReplies: a.Memory.AutoReplies(),
			segments:    a.Memory.Segments(),
		}
		log.Println("WARNING: DATABASE_URL not set, using in-memory stores")
	}

	if cfg.Redis.URL != "" {
		opts, err := redis.ParseURL(cfg.Redis.URL)
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("parse redis url: %w", err)
		}
		client := redis.NewClient(opts)
		if err := client.Ping(context.Background()).Err(); err != nil {
			log.Printf("WARNING: Redis unreachable (%v), using local leases", err)
			client.Close()
		} else {
			a.Redis = client
			log.Println("Connected to Redis")
		}
	}

	if cfg.AMQP.URL != "" {
		q, err := queue.DialAMQP(cfg.AMQP)
		if err != nil {
			a.Close()
			return nil, err
		}
		a.Queue = q
	} else {
		a.Queue = queue.NewMemory(0, queue.WithRetries(cfg.AMQP.MaxDeliveries-1, cfg.AMQP.RetryTTL()))
		log.Println("Using in-process send queue")
	}

	locks := distlock.NewProvider(a.Redis, a.DB)
	log.Printf("Campaign leases: %s", locks.Backend())
	limiter := worker.NewRateLimiter(a.Redis)

	a.Campaigns = campaign.NewService(st.campaigns)
	a.Reconciler = webhook.NewReconciler(webhook.Deps{
		Tenants:     st.tenants,
		Messages:    st.messages,
		Contacts:    st.contacts,
		Campaigns:   st.campaigns,
		Inbound:     st.inbound,
		AutoReplies: st.autoReplies,
		Publisher:   a.Queue,
	})

	a.Processor = worker.NewCampaignProcessor(worker.ProcessorDeps{
		Campaigns: st.campaigns,
		Tenants:   st.tenants,
		Messages:  st.messages,
		Resolver:  segmentation.NewResolver(st.segments),
		Publisher: a.Queue,
		Locks:     locks,
		Limiter:   limiter,
	}, processorConfig(cfg.Dispatch))
	a.Scheduler = worker.NewCampaignScheduler(a.Processor, cfg.Dispatch.Concurrency)

	a.Sender = worker.NewSendWorker(worker.SendWorkerDeps{
		Messages:  st.messages,
		Campaigns: st.campaigns,
		Contacts:  st.contacts,
		Tenants:   st.tenants,
		Gateways:  greenapi.NewFactory(cfg.GreenAPI),
		Locks:     locks,
		Limiter:   limiter,
	}, senderConfig(cfg.Sender, cfg.Dispatch))
	a.Recovery = worker.NewQueueRecoveryWorkerWithConfig(st.messages, a.Queue,
		cfg.Recovery.Interval(), cfg.Recovery.StaleAge())

	a.Handlers = api.NewHandlers(a.Campaigns, a.Reconciler, a.Processor, a.Scheduler,
		api.NewHealthChecker(a.DB, a.Redis))
	return a, nil
}

func processorConfig(c config.DispatchConfig) worker.ProcessorConfig {
	pc := worker.DefaultProcessorConfig()
	pc.TickInterval = c.TickInterval()
	pc.MaxBatch = c.MaxBatch
	pc.LeaseTTL = c.LeaseTTL()
	pc.IneligibleGrace = c.IneligibleGrace()
	return pc
}

func senderConfig(s config.SenderConfig, d config.DispatchConfig) worker.SendWorkerConfig {
	wc := worker.DefaultSendWorkerConfig()
	wc.Workers = s.Workers
	wc.ClaimTTL = s.ClaimTTL()
	wc.Policy = retry.Policy{MaxAttempts: s.MaxAttempts, BaseDelay: s.BaseDelay(), MaxDelay: s.MaxDelay()}
	wc.GatewayPerMinute = s.GatewayPerMinute
	wc.LeaseTTL = d.LeaseTTL()
	return wc
}

// RunWorkers runs the campaign scheduler, the send pool and queue recovery
// until ctx ends, then stops the scheduler and waits for the loops.
func (a *App) RunWorkers(ctx context.Context) error {
	if err := a.Scheduler.Start(); err != nil {
		return err
	}
	defer a.Scheduler.Stop()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		a.Recovery.Start(ctx)
	}()

	err := a.Sender.Run(ctx, a.Queue)
	cancel()
	wg.Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// Close releases the queue and the connections. Safe on a partly built App.
func (a *App) Close() {
	if a.Queue != nil {
		if err := a.Queue.Close(); err != nil {
			log.Printf("Queue close error: %v", err)
		}
	}
	if a.Redis != nil {
		a.Redis.Close()
	}
	if a.DB != nil {
		a.DB.Close()
	}
}
