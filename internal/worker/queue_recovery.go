package worker

import (
	"context"
	"log"
	"time"

	"github.com/ignite/wa-dispatch/internal/pkg/logger"
	"github.com/ignite/wa-dispatch/internal/service/sending"
)

// =============================================================================
// QUEUE RECOVERY WORKER: Republishes Messages The Queue Lost
// =============================================================================
// A publish can fail after the enqueue transaction committed, and a worker
// can crash while holding a claim. Either way the message row stays queued.
// This worker periodically finds queued messages older than the stale age
// whose claim is unset or expired and hands them to the queue again. The
// send worker's claim makes a duplicate publish harmless.

const (
	// DefaultRecoveryInterval is how often we scan for stale messages.
	DefaultRecoveryInterval = 2 * time.Minute

	// DefaultStaleAge is how long a message may sit queued before it is
	// considered lost.
	DefaultStaleAge = 10 * time.Minute

	// recoveryBatch bounds one scan.
	recoveryBatch = 500
)

// QueueRecoveryWorker periodically republishes stale queued messages.
type QueueRecoveryWorker struct {
	messages  sending.MessageStore
	publisher sending.Publisher
	interval  time.Duration
	staleAge  time.Duration
	now       func() time.Time
}

// NewQueueRecoveryWorker creates a new recovery worker with default settings.
func NewQueueRecoveryWorker(messages sending.MessageStore, publisher sending.Publisher) *QueueRecoveryWorker {
	return NewQueueRecoveryWorkerWithConfig(messages, publisher, DefaultRecoveryInterval, DefaultStaleAge)
}

// NewQueueRecoveryWorkerWithConfig creates a recovery worker with custom timing.
func NewQueueRecoveryWorkerWithConfig(messages sending.MessageStore, publisher sending.Publisher, interval, staleAge time.Duration) *QueueRecoveryWorker {
	if interval <= 0 {
		interval = DefaultRecoveryInterval
	}
	if staleAge <= 0 {
		staleAge = DefaultStaleAge
	}
	return &QueueRecoveryWorker{
		messages:  messages,
		publisher: publisher,
		interval:  interval,
		staleAge:  staleAge,
		now:       time.Now,
	}
}

// Start begins the recovery loop. It blocks until ctx is cancelled.
func (qr *QueueRecoveryWorker) Start(ctx context.Context) {
	log.Printf("[QueueRecovery] Starting (interval=%s, stale_age=%s)", qr.interval, qr.staleAge)

	ticker := time.NewTicker(qr.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Println("[QueueRecovery] Stopping")
			return
		case <-ticker.C:
			qr.RecoverOnce(ctx)
		}
	}
}

// RecoverOnce republishes one batch of stale messages and returns how many
// were handed to the queue.
func (qr *QueueRecoveryWorker) RecoverOnce(ctx context.Context) int {
	queryCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	now := qr.now().UTC()
	stale, err := qr.messages.ListStale(queryCtx, now, now.Add(-qr.staleAge), recoveryBatch)
	if err != nil {
		logger.Error("recovery: list stale messages", "error", err)
		return 0
	}

	republished := 0
	for _, m := range stale {
		if err := qr.publisher.Publish(ctx, sending.JobFor(m)); err != nil {
			logger.Warn("recovery: republish failed", "message_id", m.ID, "error", err)
			continue
		}
		republished++
	}
	if republished > 0 {
		logger.Info("recovery: republished stale messages", "count", republished, "scanned", len(stale))
	}
	return republished
}
