// Package queue feeds record batches published to a RabbitMQ queue through
// the ingestion pipeline.
package queue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/Arshal-Agarwal/SIEM-Dashboard-Final/internal/ingest"
	"github.com/Arshal-Agarwal/SIEM-Dashboard-Final/internal/observability"
	"github.com/Arshal-Agarwal/SIEM-Dashboard-Final/internal/store"
)

// Ingester is the part of ingest.Service the consumer needs.
type Ingester interface {
	Ingest(ctx context.Context, body []byte) (ingest.Result, error)
}

// Action is what happens to a delivery after ingestion.
type Action int

const (
	Ack     Action = iota // stored
	Drop                  // acked and discarded, redelivery cannot help
	Requeue               // nacked back onto the queue
)

func (a Action) String() string {
	switch a {
	case Ack:
		return "ack"
	case Drop:
		return "drop"
	case Requeue:
		return "requeue"
	}
	return fmt.Sprintf("action(%d)", int(a))
}

// Decide maps an ingestion error to the delivery outcome. Only transient
// store failures and interrupted calls are retried.
func Decide(err error) Action {
	switch {
	case err == nil:
		return Ack
	case errors.Is(err, store.ErrStoreUnavailable),
		errors.Is(err, context.Canceled),
		errors.Is(err, context.DeadlineExceeded):
		return Requeue
	default:
		// ErrInvalidPayload, ErrInvalidRecord and anything unknown
		return Drop
	}
}

type Options struct {
	URL      string
	Queue    string
	Prefetch int
	// Backoff is the wait before reconnecting after the broker goes away.
	Backoff time.Duration
	Metrics observability.Recorder
}

// Consumer reads batches from one durable queue.
type Consumer struct {
	opts Options
	ing  Ingester
}

func NewConsumer(ing Ingester, opts Options) *Consumer {
	if opts.Prefetch <= 0 {
		opts.Prefetch = 32
	}
	if opts.Backoff <= 0 {
		opts.Backoff = 5 * time.Second
	}
	if opts.Metrics == nil {
		opts.Metrics = observability.Nop{}
	}
	return &Consumer{opts: opts, ing: ing}
}

// Run consumes until ctx is done, reconnecting after broker failures.
func (c *Consumer) Run(ctx context.Context) error {
	for {
		err := c.consume(ctx)
		if ctx.Err() != nil {
			return nil
		}
		slog.Warn("amqp consumer disconnected", "queue", c.opts.Queue, "err", err, "retry_in", c.opts.Backoff)

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(c.opts.Backoff):
		}
	}
}

func (c *Consumer) consume(ctx context.Context) error {
	conn, err := amqp.Dial(c.opts.URL)
	if err != nil {
		return fmt.Errorf("rabbitmq connect failed: %w", err)
	}
	defer conn.Close()

	ch, err := conn.Channel()
	if err != nil {
		return fmt.Errorf("rabbitmq channel error: %w", err)
	}
	defer ch.Close()

	if err := ch.Qos(c.opts.Prefetch, 0, false); err != nil {
		return fmt.Errorf("rabbitmq qos: %w", err)
	}
	if _, err := ch.QueueDeclare(c.opts.Queue, true, false, false, false, nil); err != nil {
		return fmt.Errorf("rabbitmq declare queue %s: %w", c.opts.Queue, err)
	}
	deliveries, err := ch.ConsumeWithContext(ctx, c.opts.Queue, "siemd", false, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("rabbitmq consume %s: %w", c.opts.Queue, err)
	}
	slog.Info("amqp consumer started", "queue", c.opts.Queue, "prefetch", c.opts.Prefetch)

	closed := conn.NotifyClose(make(chan *amqp.Error, 1))
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case amqpErr := <-closed:
			if amqpErr == nil {
				return errors.New("connection closed")
			}
			return amqpErr
		case d, ok := <-deliveries:
			if !ok {
				return errors.New("delivery channel closed")
			}
			c.handle(ctx, d.Body, d)
		}
	}
}

type acknowledger interface {
	Ack(multiple bool) error
	Nack(multiple, requeue bool) error
}

// handle ingests one message body and settles the delivery.
func (c *Consumer) handle(ctx context.Context, body []byte, d acknowledger) Action {
	c.opts.Metrics.IncCounter(observability.AMQPDeliveries, 1)

	res, err := c.ing.Ingest(ctx, body)
	action := Decide(err)

	var settleErr error
	switch action {
	case Ack:
		slog.Debug("amqp batch stored", "queue", c.opts.Queue, "count", res.Count)
		settleErr = d.Ack(false)
	case Drop:
		slog.Warn("dropping amqp message", "queue", c.opts.Queue, "err", err)
		settleErr = d.Ack(false)
	case Requeue:
		slog.Warn("requeueing amqp message", "queue", c.opts.Queue, "err", err)
		settleErr = d.Nack(false, true)
	}
	if settleErr != nil {
		slog.Error("amqp settle failed", "queue", c.opts.Queue, "action", action, "err", settleErr)
	}
	return action
}
