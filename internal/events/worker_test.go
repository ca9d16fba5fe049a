package events

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/safar/go-marketplace/internal/metrics"
	"github.com/safar/go-marketplace/internal/models"
)

type memoryRepo struct {
	mu      sync.Mutex
	pending []models.OutboxMessage
	sent    []string
	failed  []string
}

func (r *memoryRepo) PullPending(_ context.Context, limit int) ([]models.OutboxMessage, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.pending) < limit {
		limit = len(r.pending)
	}
	return append([]models.OutboxMessage(nil), r.pending[:limit]...), nil
}

func (r *memoryRepo) Stats(context.Context) (models.OutboxStats, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	stats := models.OutboxStats{PendingCount: len(r.pending)}
	if len(r.pending) > 0 {
		stats.OldestPendingAt = r.pending[0].CreatedAt
	}
	return stats, nil
}

func (r *memoryRepo) MarkSent(_ context.Context, id string) error {
	return r.mark(id, &r.sent)
}

func (r *memoryRepo) MarkFailed(_ context.Context, id string) error {
	return r.mark(id, &r.failed)
}

func (r *memoryRepo) mark(id string, into *[]string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i, msg := range r.pending {
		if msg.ID == id {
			r.pending = append(r.pending[:i], r.pending[i+1:]...)
			*into = append(*into, id)
			return nil
		}
	}
	return errors.New("not found")
}

type scriptedPublisher struct {
	failures map[string]int
	calls    map[string]int
}

func (p *scriptedPublisher) Publish(msg models.OutboxMessage) error {
	if p.calls == nil {
		p.calls = make(map[string]int)
	}
	p.calls[msg.ID]++
	if p.calls[msg.ID] <= p.failures[msg.ID] {
		return errors.New("broker unavailable")
	}
	return nil
}

func TestWorkerProcessOnce(t *testing.T) {
	repo := &memoryRepo{pending: []models.OutboxMessage{
		{ID: "a", EventType: TypeOrderPlaced, CreatedAt: time.Now()},
		{ID: "b", EventType: TypePaymentRecorded, CreatedAt: time.Now()},
		{ID: "c", EventType: TypePayoutCreated, CreatedAt: time.Now()},
	}}
	publisher := &scriptedPublisher{failures: map[string]int{"b": 1, "c": 10}}

	w := NewWorker(repo, publisher,
		WithMaxAttempts(3),
		WithRetryBaseDelay(0),
		WithMetrics(metrics.New(prometheus.NewRegistry())),
	)
	w.ProcessOnce(context.Background())

	assert.ElementsMatch(t, []string{"a", "b"}, repo.sent)
	assert.Equal(t, []string{"c"}, repo.failed)
	assert.Empty(t, repo.pending)
	assert.Equal(t, 2, publisher.calls["b"])
	assert.Equal(t, 3, publisher.calls["c"])
}

func TestWorkerRunStopsOnCancel(t *testing.T) {
	repo := &memoryRepo{pending: []models.OutboxMessage{{ID: "a", CreatedAt: time.Now()}}}
	w := NewWorker(repo, &scriptedPublisher{}, WithPollInterval(10*time.Millisecond))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		w.Run(ctx)
		close(done)
	}()

	require.Eventually(t, func() bool {
		repo.mu.Lock()
		defer repo.mu.Unlock()
		return len(repo.sent) == 1
	}, time.Second, 5*time.Millisecond)

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("worker did not stop after cancel")
	}
}

func TestWorkerRetryBackoff(t *testing.T) {
	w := NewWorker(&memoryRepo{}, &scriptedPublisher{}, WithRetryBaseDelay(10*time.Millisecond))
	assert.Equal(t, 10*time.Millisecond, w.retryBackoff(1))
	assert.Equal(t, 20*time.Millisecond, w.retryBackoff(2))
	assert.Equal(t, 40*time.Millisecond, w.retryBackoff(3))
}
