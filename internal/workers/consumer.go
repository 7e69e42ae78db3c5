package workers

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/sbilibin2017/gw-deposit-settler/internal/logger"
	"github.com/sbilibin2017/gw-deposit-settler/internal/metrics"
	"github.com/sbilibin2017/gw-deposit-settler/internal/services"
	"github.com/segmentio/kafka-go"
	"golang.org/x/sync/errgroup"
)

// Headers attached to dead-lettered messages.
const (
	HeaderError           = "x-error"
	HeaderSourceTopic     = "x-source-topic"
	HeaderSourcePartition = "x-source-partition"
	HeaderSourceOffset    = "x-source-offset"
)

// MessageReader is the consumer group side of a *kafka.Reader.
type MessageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// DepositProcessor settles one deposit message.
type DepositProcessor interface {
	Process(ctx context.Context, msg kafka.Message) (services.Outcome, error)
}

// DeadLetterWriter publishes messages that exhausted their retries.
type DeadLetterWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
}

// Option configures a Consumer.
type Option func(*Consumer)

// WithDeadLetterWriter routes messages that exhausted their retries to w.
// Without one, an exhausted message stops the consumer uncommitted.
func WithDeadLetterWriter(w DeadLetterWriter) Option {
	return func(c *Consumer) {
		c.dlq = w
	}
}

// WithMaxRetries sets how many times a transient failure is retried in place.
func WithMaxRetries(n uint64) Option {
	return func(c *Consumer) {
		c.maxRetries = n
	}
}

// WithBackOff sets the policy used between retries. newBackOff is called once per message.
func WithBackOff(newBackOff func() backoff.BackOff) Option {
	return func(c *Consumer) {
		c.newBackOff = newBackOff
	}
}

// WithFetchPause sets the wait after a failed fetch.
func WithFetchPause(d time.Duration) Option {
	return func(c *Consumer) {
		c.fetchPause = d
	}
}

// Consumer runs one worker per reader. Each worker handles its messages one at a
// time and commits a message only after it is finished.
type Consumer struct {
	readers    []MessageReader
	processor  DepositProcessor
	dlq        DeadLetterWriter
	maxRetries uint64
	newBackOff func() backoff.BackOff
	fetchPause time.Duration
}

// NewConsumer creates a new Consumer.
func NewConsumer(readers []MessageReader, processor DepositProcessor, opts ...Option) *Consumer {
	c := &Consumer{
		readers:    readers,
		processor:  processor,
		maxRetries: 5,
		newBackOff: defaultBackOff,
		fetchPause: time.Second,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func defaultBackOff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 200 * time.Millisecond
	b.MaxInterval = 5 * time.Second
	b.MaxElapsedTime = 0
	return b
}

// Run consumes until ctx is cancelled or a worker fails, then closes the readers.
// Cancellation is a clean stop and returns nil.
func (c *Consumer) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	for i, r := range c.readers {
		worker, reader := i, r
		g.Go(func() error {
			return c.consume(ctx, worker, reader)
		})
	}

	err := g.Wait()
	for _, r := range c.readers {
		if cerr := r.Close(); cerr != nil {
			logger.Log.Warnw("failed to close reader", "error", cerr)
		}
	}

	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func (c *Consumer) consume(ctx context.Context, worker int, r MessageReader) error {
	logger.Log.Infow("worker started", "worker", worker)
	defer logger.Log.Infow("worker stopped", "worker", worker)

	for {
		msg, err := r.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if errors.Is(err, io.EOF) {
				return nil
			}
			logger.Log.Errorw("failed to fetch deposit", "worker", worker, "error", err)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(c.fetchPause):
			}
			continue
		}

		if err := c.handle(ctx, worker, r, msg); err != nil {
			return err
		}
	}
}

// handle processes msg until it is finished, then commits it.
func (c *Consumer) handle(ctx context.Context, worker int, r MessageReader, msg kafka.Message) error {
	log := logger.Log.With("worker", worker, "partition", msg.Partition, "offset", msg.Offset)

	attempt := 0
	var outcome services.Outcome
	op := func() error {
		attempt++
		var err error
		outcome, err = c.processor.Process(ctx, msg)
		if err != nil && (ctx.Err() != nil || errors.Is(err, services.ErrNeedsReview)) {
			return backoff.Permanent(err)
		}
		return err
	}
	notify := func(err error, wait time.Duration) {
		metrics.DepositRetries.Inc()
		log.Warnw("deposit attempt failed, retrying", "attempt", attempt, "wait", wait, "error", err)
	}

	b := backoff.WithContext(backoff.WithMaxRetries(c.newBackOff(), c.maxRetries), ctx)
	if err := backoff.RetryNotify(op, b, notify); err != nil {
		if ctx.Err() != nil {
			// shutting down; leave the message uncommitted for redelivery
			return ctx.Err()
		}
		if c.dlq == nil {
			log.Errorw("deposit retries exhausted", "attempts", attempt, "error", err)
			return fmt.Errorf("deposit at %s/%d/%d: retries exhausted: %w", msg.Topic, msg.Partition, msg.Offset, err)
		}
		if err := c.deadLetter(ctx, msg, err); err != nil {
			return err
		}
		log.Errorw("deposit dead-lettered", "attempts", attempt, "error", err)
	} else {
		log.Debugw("deposit finished", "outcome", outcome, "attempts", attempt)
	}

	if err := r.CommitMessages(ctx, msg); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("commit offset %d: %w", msg.Offset, err)
	}
	return nil
}

func (c *Consumer) deadLetter(ctx context.Context, msg kafka.Message, cause error) error {
	headers := make([]kafka.Header, 0, len(msg.Headers)+4)
	headers = append(headers, msg.Headers...)
	headers = append(headers,
		kafka.Header{Key: HeaderError, Value: []byte(cause.Error())},
		kafka.Header{Key: HeaderSourceTopic, Value: []byte(msg.Topic)},
		kafka.Header{Key: HeaderSourcePartition, Value: []byte(strconv.Itoa(msg.Partition))},
		kafka.Header{Key: HeaderSourceOffset, Value: []byte(strconv.FormatInt(msg.Offset, 10))},
	)

	err := c.dlq.WriteMessages(ctx, kafka.Message{
		Key:     msg.Key,
		Value:   msg.Value,
		Headers: headers,
	})
	if err != nil {
		return fmt.Errorf("dead-letter offset %d: %w", msg.Offset, err)
	}
	metrics.DepositsDeadLettered.Inc()
	return nil
}
