package events

import (
	"context"
	"fmt"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/safar/go-marketplace/internal/metrics"
	"github.com/safar/go-marketplace/internal/models"
)

const (
	defaultPollInterval   = time.Second
	defaultBatchSize      = 100
	defaultMaxAttempts    = 3
	defaultRetryBaseDelay = 50 * time.Millisecond
)

// Repository is the relay side of the outbox table.
type Repository interface {
	PullPending(ctx context.Context, limit int) ([]models.OutboxMessage, error)
	Stats(ctx context.Context) (models.OutboxStats, error)
	MarkSent(ctx context.Context, id string) error
	MarkFailed(ctx context.Context, id string) error
}

type workerOptions struct {
	logger         *log.Entry
	metrics        *metrics.Engine
	pollInterval   time.Duration
	batchSize      int
	maxAttempts    int
	retryBaseDelay time.Duration
}

type Option func(*workerOptions)

func WithLogger(logger *log.Entry) Option {
	return func(o *workerOptions) { o.logger = logger }
}

func WithMetrics(m *metrics.Engine) Option {
	return func(o *workerOptions) { o.metrics = m }
}

func WithPollInterval(interval time.Duration) Option {
	return func(o *workerOptions) { o.pollInterval = interval }
}

func WithBatchSize(size int) Option {
	return func(o *workerOptions) { o.batchSize = size }
}

func WithMaxAttempts(attempts int) Option {
	return func(o *workerOptions) { o.maxAttempts = attempts }
}

func WithRetryBaseDelay(delay time.Duration) Option {
	return func(o *workerOptions) { o.retryBaseDelay = delay }
}

// Worker relays pending outbox messages to a Publisher.
type Worker struct {
	repo      Repository
	publisher Publisher
	workerOptions
}

func NewWorker(repo Repository, publisher Publisher, options ...Option) *Worker {
	opts := workerOptions{
		pollInterval:   defaultPollInterval,
		batchSize:      defaultBatchSize,
		maxAttempts:    defaultMaxAttempts,
		retryBaseDelay: defaultRetryBaseDelay,
	}
	for _, option := range options {
		option(&opts)
	}

	if opts.logger == nil {
		opts.logger = log.WithField("component", "outbox-worker")
	}
	if opts.pollInterval <= 0 {
		opts.pollInterval = defaultPollInterval
	}
	if opts.batchSize <= 0 {
		opts.batchSize = defaultBatchSize
	}
	if opts.maxAttempts <= 0 {
		opts.maxAttempts = defaultMaxAttempts
	}
	if opts.retryBaseDelay < 0 {
		opts.retryBaseDelay = 0
	}

	return &Worker{repo: repo, publisher: publisher, workerOptions: opts}
}

// Run polls the outbox until ctx is cancelled.
func (w *Worker) Run(ctx context.Context) {
	if w.repo == nil || w.publisher == nil {
		w.logger.Warn("outbox worker is disabled: repo or publisher is nil")
		return
	}

	ticker := time.NewTicker(w.pollInterval)
	defer ticker.Stop()

	w.ProcessOnce(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.ProcessOnce(ctx)
		}
	}
}

// ProcessOnce relays one batch. Messages that still fail after maxAttempts
// are marked failed so they stop blocking the batch.
func (w *Worker) ProcessOnce(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}

	w.refreshBacklog(ctx)

	batch, err := w.repo.PullPending(ctx, w.batchSize)
	if err != nil {
		w.logger.WithError(err).Warn("failed to pull pending outbox messages")
		return
	}
	if len(batch) == 0 {
		return
	}

	for _, msg := range batch {
		if ctx.Err() != nil {
			return
		}

		if err := w.publishWithRetry(ctx, msg); err != nil {
			w.logger.WithError(err).WithFields(log.Fields{
				"outbox_id":  msg.ID,
				"event_type": msg.EventType,
			}).Error("outbox publish failed after retries")
			w.metrics.OutboxPublish("failed")

			if markErr := w.repo.MarkFailed(ctx, msg.ID); markErr != nil {
				w.logger.WithError(markErr).WithField("outbox_id", msg.ID).Warn("failed to mark outbox message as failed")
			}
			continue
		}

		if err := w.repo.MarkSent(ctx, msg.ID); err != nil {
			w.logger.WithError(err).WithField("outbox_id", msg.ID).Warn("failed to mark outbox message as sent")
		}
	}

	w.refreshBacklog(ctx)
}

func (w *Worker) publishWithRetry(ctx context.Context, msg models.OutboxMessage) error {
	var lastErr error

	for attempt := 1; attempt <= w.maxAttempts; attempt++ {
		err := w.publisher.Publish(msg)
		if err == nil {
			w.metrics.OutboxPublish("sent")
			return nil
		}
		lastErr = err
		w.metrics.OutboxPublish("retry_error")

		if attempt >= w.maxAttempts {
			break
		}

		delay := w.retryBackoff(attempt)
		if delay <= 0 {
			continue
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
	}

	return fmt.Errorf("publish failed after %d attempts: %w", w.maxAttempts, lastErr)
}

func (w *Worker) retryBackoff(attempt int) time.Duration {
	if w.retryBaseDelay <= 0 {
		return 0
	}

	const maxDuration = time.Duration(1<<63 - 1)
	delay := w.retryBaseDelay
	for i := 1; i < attempt; i++ {
		if delay > maxDuration/2 {
			return maxDuration
		}
		delay *= 2
	}
	return delay
}

func (w *Worker) refreshBacklog(ctx context.Context) {
	stats, err := w.repo.Stats(ctx)
	if err != nil {
		w.logger.WithError(err).Warn("failed to collect outbox backlog stats")
		return
	}
	w.metrics.OutboxBacklog(stats.PendingCount, stats.OldestPendingAt)
}
