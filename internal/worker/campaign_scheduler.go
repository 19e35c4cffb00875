package worker

import (
	"context"
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ignite/wa-dispatch/internal/pkg/logger"
)

const (
	// DefaultSchedulerConcurrency bounds parallel campaign ticks per pass.
	DefaultSchedulerConcurrency = 4
	// runningPageSize is how many running campaigns one list query returns.
	runningPageSize = 500
)

// CampaignScheduler drives the processor on a fixed interval: each pass
// starts due scheduled campaigns and ticks every running one.
type CampaignScheduler struct {
	processor   *CampaignProcessor
	interval    time.Duration
	concurrency int
	pageSize    int

	passes int64
	ticked int64

	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	running bool
	mu      sync.Mutex
}

// NewCampaignScheduler creates a scheduler that runs every processor tick
// interval.
func NewCampaignScheduler(p *CampaignProcessor, concurrency int) *CampaignScheduler {
	if concurrency <= 0 {
		concurrency = DefaultSchedulerConcurrency
	}
	return &CampaignScheduler{
		processor:   p,
		interval:    p.Config().TickInterval,
		concurrency: concurrency,
		pageSize:    runningPageSize,
	}
}

// Start begins the scheduler polling loop.
func (cs *CampaignScheduler) Start() error {
	cs.mu.Lock()
	if cs.running {
		cs.mu.Unlock()
		return fmt.Errorf("scheduler already running")
	}
	cs.running = true
	cs.ctx, cs.cancel = context.WithCancel(context.Background())
	cs.mu.Unlock()

	log.Printf("[CampaignScheduler] Starting with interval: %v, concurrency: %d", cs.interval, cs.concurrency)

	cs.wg.Add(1)
	go cs.loop()
	return nil
}

// Stop cancels the loop and waits for the in-flight pass.
func (cs *CampaignScheduler) Stop() {
	cs.mu.Lock()
	if !cs.running {
		cs.mu.Unlock()
		return
	}
	cs.running = false
	cs.mu.Unlock()

	log.Printf("[CampaignScheduler] Stopping...")
	cs.cancel()
	cs.wg.Wait()
	log.Printf("[CampaignScheduler] Stopped. Passes: %d, Ticks: %d",
		atomic.LoadInt64(&cs.passes), atomic.LoadInt64(&cs.ticked))
}

func (cs *CampaignScheduler) loop() {
	defer cs.wg.Done()

	cs.RunOnce(cs.ctx)

	ticker := time.NewTicker(cs.interval)
	defer ticker.Stop()
	for {
		select {
		case <-cs.ctx.Done():
			return
		case <-ticker.C:
			cs.RunOnce(cs.ctx)
		}
	}
}

// PassResult summarizes one scheduler pass.
type PassResult struct {
	Started []string     `json:"started"`
	Ticks   []TickResult `json:"ticks"`
	Errors  int          `json:"errors"`
}

// RunOnce starts due scheduled campaigns, then ticks all running campaigns
// with bounded concurrency, paging through them by id. Per-campaign errors
// are logged and counted.
func (cs *CampaignScheduler) RunOnce(ctx context.Context) PassResult {
	atomic.AddInt64(&cs.passes, 1)
	var out PassResult

	started, err := cs.processor.CheckAndStartScheduledCampaigns(ctx)
	out.Started = started
	if err != nil {
		out.Errors++
		logger.Error("scheduler: start scheduled campaigns", "error", err)
	}

	var (
		mu  sync.Mutex
		wg  sync.WaitGroup
		sem = make(chan struct{}, cs.concurrency)
	)
	tick := func(id string) {
		defer wg.Done()
		defer func() { <-sem }()

		res, err := cs.processor.ProcessCampaign(ctx, id)
		atomic.AddInt64(&cs.ticked, 1)
		mu.Lock()
		defer mu.Unlock()
		if err != nil {
			out.Errors++
			logger.Error("scheduler: campaign tick", "campaign_id", id, "error", err)
			return
		}
		out.Ticks = append(out.Ticks, res)
	}

	after := ""
	for {
		page, err := cs.processor.Campaigns.ListRunning(ctx, after, cs.pageSize)
		if err != nil {
			mu.Lock()
			out.Errors++
			mu.Unlock()
			logger.Error("scheduler: list running campaigns", "after", after, "error", err)
			break
		}
		for _, c := range page {
			select {
			case <-ctx.Done():
				wg.Wait()
				return out
			case sem <- struct{}{}:
			}
			wg.Add(1)
			go tick(c.ID)
		}
		if len(page) < cs.pageSize {
			break
		}
		after = page[len(page)-1].ID
	}
	wg.Wait()
	return out
}
