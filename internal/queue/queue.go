// Package queue carries SendJobs from the dispatch engine to the send
// workers. RabbitMQ backs production; Memory serves single-process mode and
// tests. Both implement sending.Publisher.
package queue

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/ignite/wa-dispatch/internal/service/sending"
)

// ErrPoison indicates a job that can never be processed (undecodable
// payload, missing message id). Poison jobs are dropped, not retried.
var ErrPoison = errors.New("poison message")

// ErrClosed is returned by Publish after Close.
var ErrClosed = errors.New("queue closed")

// Handler processes one job. A nil return acks it; ErrPoison drops it; any
// other error schedules a redelivery.
type Handler func(ctx context.Context, job sending.SendJob) error

// Queue is a send-job transport.
type Queue interface {
	sending.Publisher
	// Consume runs handler on delivered jobs until ctx ends.
	Consume(ctx context.Context, handler Handler) error
	Close() error
}

func decodeJob(body []byte) (sending.SendJob, error) {
	var job sending.SendJob
	if err := json.Unmarshal(body, &job); err != nil {
		return job, ErrPoison
	}
	if job.MessageID == "" {
		return job, ErrPoison
	}
	return job, nil
}
