package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/ignite/wa-dispatch/internal/config"
	"github.com/ignite/wa-dispatch/internal/pkg/logger"
	"github.com/ignite/wa-dispatch/internal/service/sending"
)

var (
	errPoolClosed = errors.New("channel pool closed")
	errConnClosed = errors.New("amqp connection closed")
)

// AMQP is the RabbitMQ send queue. Rejected jobs take a trip through a
// TTL'd dead-letter queue before they reach the main queue again; jobs
// that exceed MaxDeliveries or are poison land in the final queue.
type AMQP struct {
	cfg  config.AMQPConfig
	conn *amqp.Connection
	pool *channelPool
}

// DialAMQP connects, declares the topology and opens the publish pool.
func DialAMQP(cfg config.AMQPConfig) (*AMQP, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("amqp URL is required")
	}
	host := ""
	if u, err := url.Parse(cfg.URL); err == nil {
		host = u.Host
	}
	logger.Info("queue: connecting to rabbitmq", "host", host)

	conn, err := amqp.Dial(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to RabbitMQ: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("open channel: %w", err)
	}
	if err := declareTopology(ch, cfg); err != nil {
		ch.Close()
		conn.Close()
		return nil, fmt.Errorf("declare topology: %w", err)
	}
	_ = ch.Close()

	return &AMQP{cfg: cfg, conn: conn, pool: newChannelPool(conn, cfg.PublishPoolSize)}, nil
}

func deadName(cfg config.AMQPConfig) string  { return cfg.Queue + ".dead" }
func finalName(cfg config.AMQPConfig) string { return cfg.Queue + ".final" }

// declareTopology declares the main exchange and queue, the DLX/TTL retry
// stage and the final queue.
func declareTopology(ch *amqp.Channel, cfg config.AMQPConfig) error {
	if err := ch.ExchangeDeclare(cfg.Exchange, "topic", true, false, false, false, nil); err != nil {
		return err
	}
	mainArgs := amqp.Table{"x-dead-letter-exchange": deadName(cfg)}
	if _, err := ch.QueueDeclare(cfg.Queue, true, false, false, false, mainArgs); err != nil {
		return err
	}
	if err := ch.QueueBind(cfg.Queue, cfg.RoutingKey, cfg.Exchange, false, nil); err != nil {
		return err
	}

	if err := ch.ExchangeDeclare(deadName(cfg), "fanout", true, false, false, false, nil); err != nil {
		return err
	}
	deadArgs := amqp.Table{
		"x-message-ttl":             int32(cfg.RetryTTL() / time.Millisecond),
		"x-dead-letter-exchange":    cfg.Exchange,
		"x-dead-letter-routing-key": cfg.RoutingKey,
	}
	if _, err := ch.QueueDeclare(deadName(cfg), true, false, false, false, deadArgs); err != nil {
		return err
	}
	if err := ch.QueueBind(deadName(cfg), "", deadName(cfg), false, nil); err != nil {
		return err
	}

	if err := ch.ExchangeDeclare(finalName(cfg), "fanout", true, false, false, false, nil); err != nil {
		return err
	}
	if _, err := ch.QueueDeclare(finalName(cfg), true, false, false, false, nil); err != nil {
		return err
	}
	return ch.QueueBind(finalName(cfg), "", finalName(cfg), false, nil)
}

// Publish sends a job as a persistent JSON message keyed by message id.
func (q *AMQP) Publish(ctx context.Context, job sending.SendJob) error {
	if job.MessageID == "" {
		return ErrPoison
	}
	body, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("marshal job: %w", err)
	}

	ch, err := q.pool.borrow(ctx)
	if err != nil {
		return fmt.Errorf("borrow channel: %w", err)
	}
	defer q.pool.giveBack(ch)

	return ch.PublishWithContext(ctx, q.cfg.Exchange, q.cfg.RoutingKey, false, false, amqp.Publishing{
		ContentType:   "application/json",
		Body:          body,
		DeliveryMode:  amqp.Persistent,
		MessageId:     job.MessageID,
		CorrelationId: job.CampaignID,
		Type:          "message.send",
		Timestamp:     time.Now().UTC(),
		AppId:         "wa-dispatch",
	})
}

// Consume delivers jobs from the main queue until ctx ends or the channel
// closes. The caller restarts it after a connection loss.
func (q *AMQP) Consume(ctx context.Context, handler Handler) error {
	ch, err := q.conn.Channel()
	if err != nil {
		return fmt.Errorf("open channel: %w", err)
	}
	defer safeClose(ch)

	prefetch := q.cfg.Prefetch
	if prefetch <= 0 {
		prefetch = 1
	}
	if err := ch.Qos(prefetch, 0, false); err != nil {
		return fmt.Errorf("qos: %w", err)
	}

	msgs, err := ch.Consume(q.cfg.Queue, "", false, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("consume: %w", err)
	}
	closed := ch.NotifyClose(make(chan *amqp.Error, 1))
	logger.Info("queue: consumer started", "queue", q.cfg.Queue, "prefetch", prefetch)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case aerr := <-closed:
			if aerr == nil {
				return errConnClosed
			}
			return fmt.Errorf("channel closed: %w", aerr)
		case d, ok := <-msgs:
			if !ok {
				return errConnClosed
			}
			q.deliver(ctx, ch, d, handler)
		}
	}
}

func (q *AMQP) deliver(ctx context.Context, ch *amqp.Channel, d amqp.Delivery, handler Handler) {
	if q.cfg.MaxDeliveries > 0 && DeathCount(d, q.cfg.Queue) >= q.cfg.MaxDeliveries {
		logger.Error("queue: job exceeded max deliveries", "message_id", d.MessageId, "max", q.cfg.MaxDeliveries)
		_ = publishFinal(ch, finalName(q.cfg), d)
		_ = d.Ack(false)
		return
	}

	job, err := decodeJob(d.Body)
	if err == nil {
		err = handler(ctx, job)
	}
	switch {
	case err == nil:
		_ = d.Ack(false)
	case errors.Is(err, ErrPoison):
		logger.Warn("queue: poison job moved to final queue", "message_id", d.MessageId)
		_ = publishFinal(ch, finalName(q.cfg), d)
		_ = d.Ack(false)
	default:
		logger.Warn("queue: job failed, dead-lettering for retry", "message_id", d.MessageId, "error", err)
		_ = d.Nack(false, false)
	}
}

// Close closes the publish pool and the connection.
func (q *AMQP) Close() error {
	q.pool.close()
	if q.conn != nil && !q.conn.IsClosed() {
		return q.conn.Close()
	}
	return nil
}

var _ Queue = (*AMQP)(nil)

// DeathCount returns how many times d was dead-lettered from queue.
func DeathCount(d amqp.Delivery, queue string) int {
	raw, ok := d.Headers["x-death"]
	if !ok {
		return 0
	}
	list, ok := raw.([]interface{})
	if !ok {
		return 0
	}
	for _, it := range list {
		if m, ok := it.(amqp.Table); ok {
			if q, _ := m["queue"].(string); q == queue {
				if n, ok := m["count"].(int64); ok {
					return int(n)
				}
			}
		}
	}
	return 0
}

func publishFinal(ch *amqp.Channel, exchange string, d amqp.Delivery) error {
	return ch.PublishWithContext(context.Background(), exchange, "", false, false, amqp.Publishing{
		ContentType:   "application/json",
		Body:          d.Body,
		Headers:       d.Headers,
		MessageId:     d.MessageId,
		CorrelationId: d.CorrelationId,
		DeliveryMode:  amqp.Persistent,
		Timestamp:     time.Now(),
		Type:          d.Type,
		AppId:         d.AppId,
	})
}

func safeClose(ch *amqp.Channel) {
	if ch == nil {
		return
	}
	defer func() { _ = recover() }()
	_ = ch.Close()
}

// channelPool keeps a bounded number of publish channels alive.
// len(permits) == channels in existence (idle + borrowed) <= capacity.
// idle is never closed; mu orders returns against close so nothing is
// parked in idle after close has drained it.
type channelPool struct {
	conn    *amqp.Connection
	idle    chan *amqp.Channel
	permits chan struct{}
	closed  atomic.Bool
	mu      sync.Mutex
	newMu   sync.Mutex
}

func newChannelPool(conn *amqp.Connection, capacity int) *channelPool {
	if capacity <= 0 {
		capacity = 8
	}
	return &channelPool{
		conn:    conn,
		idle:    make(chan *amqp.Channel, capacity),
		permits: make(chan struct{}, capacity),
	}
}

func (p *channelPool) borrow(ctx context.Context) (*amqp.Channel, error) {
	const retryDelay = 50 * time.Millisecond
	for {
		if p.closed.Load() {
			return nil, errPoolClosed
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()

		case ch := <-p.idle:
			if ch.IsClosed() {
				// Reuse the permit for a fresh channel.
				nch, err := p.open()
				if err != nil {
					<-p.permits
					return nil, err
				}
				return nch, nil
			}
			return ch, nil

		default:
			select {
			case p.permits <- struct{}{}:
				ch, err := p.open()
				if err != nil {
					<-p.permits
					return nil, err
				}
				return ch, nil
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(retryDelay):
			}
		}
	}
}

func (p *channelPool) giveBack(ch *amqp.Channel) {
	if ch == nil {
		return
	}
	p.mu.Lock()
	if !p.closed.Load() && !ch.IsClosed() {
		select {
		case p.idle <- ch:
			p.mu.Unlock()
			return
		default:
		}
	}
	p.mu.Unlock()

	safeClose(ch)
	select {
	case <-p.permits:
	default:
	}
}

func (p *channelPool) open() (*amqp.Channel, error) {
	p.newMu.Lock()
	defer p.newMu.Unlock()
	if p.conn.IsClosed() {
		return nil, errConnClosed
	}
	return p.conn.Channel()
}

func (p *channelPool) close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed.Swap(true) {
		return
	}
	for {
		select {
		case ch := <-p.idle:
			safeClose(ch)
		default:
			return
		}
	}
}
