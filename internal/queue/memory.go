package queue

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/ignite/wa-dispatch/internal/pkg/logger"
	"github.com/ignite/wa-dispatch/internal/service/sending"
)

// Memory is an in-process queue with bounded redelivery. Jobs are lost on
// restart; queue recovery republishes whatever is still queued in the store.
type Memory struct {
	jobs       chan sending.SendJob
	workers    int
	maxRetries int
	backoff    time.Duration

	mu     sync.RWMutex
	closed bool
}

// MemoryOption configures a Memory queue.
type MemoryOption func(*Memory)

// WithWorkers sets the number of concurrent handler goroutines.
func WithWorkers(n int) MemoryOption {
	return func(m *Memory) {
		if n > 0 {
			m.workers = n
		}
	}
}

// WithRetries sets redeliveries after the first attempt and the linear
// backoff step between them.
func WithRetries(n int, backoff time.Duration) MemoryOption {
	return func(m *Memory) {
		if n >= 0 {
			m.maxRetries = n
		}
		m.backoff = backoff
	}
}

// NewMemory creates an in-memory queue holding up to capacity pending jobs.
func NewMemory(capacity int, opts ...MemoryOption) *Memory {
	if capacity <= 0 {
		capacity = 1024
	}
	m := &Memory{
		jobs:       make(chan sending.SendJob, capacity),
		workers:    1,
		maxRetries: 3,
		backoff:    500 * time.Millisecond,
	}
	for _, o := range opts {
		o(m)
	}
	return m
}

// Publish enqueues a job, blocking while the buffer is full.
func (m *Memory) Publish(ctx context.Context, job sending.SendJob) error {
	if job.MessageID == "" {
		return ErrPoison
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return ErrClosed
	}
	select {
	case m.jobs <- job:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Len returns the number of jobs waiting.
func (m *Memory) Len() int {
	return len(m.jobs)
}

// Consume runs the worker goroutines and blocks until ctx ends or the
// queue is closed and drained.
func (m *Memory) Consume(ctx context.Context, handler Handler) error {
	var wg sync.WaitGroup
	for i := 0; i < m.workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-ctx.Done():
					return
				case job, ok := <-m.jobs:
					if !ok {
						return
					}
					m.process(ctx, handler, job)
				}
			}
		}()
	}
	wg.Wait()
	return ctx.Err()
}

func (m *Memory) process(ctx context.Context, handler Handler, job sending.SendJob) {
	for attempt := 0; attempt <= m.maxRetries; attempt++ {
		err := handler(ctx, job)
		if err == nil {
			return
		}
		if errors.Is(err, ErrPoison) {
			logger.Warn("queue: dropping poison job", "message_id", job.MessageID, "error", err)
			return
		}
		if attempt == m.maxRetries {
			logger.Error("queue: job failed permanently", "message_id", job.MessageID, "attempts", attempt+1, "error", err)
			return
		}
		logger.Warn("queue: job failed, retrying", "message_id", job.MessageID, "attempt", attempt+1, "error", err)

		t := time.NewTimer(time.Duration(attempt+1) * m.backoff)
		select {
		case <-ctx.Done():
			t.Stop()
			return
		case <-t.C:
		}
	}
}

// Close stops accepting jobs. Consumers exit once the buffer drains.
func (m *Memory) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.closed {
		m.closed = true
		close(m.jobs)
	}
	return nil
}

var _ Queue = (*Memory)(nil)
