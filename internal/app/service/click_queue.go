package service

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/sifan077/shortlink/internal/app/model"
	"github.com/sifan077/shortlink/internal/app/repository"
	infraPrometheus "github.com/sifan077/shortlink/internal/infra/prometheus"
	"go.uber.org/zap"
)

const (
	defaultQueueSize    = 1024
	defaultQueueWorkers = 4
	clickApplyAttempts  = 3
)

// ClickQueueConfig sizes the in-process click queue.
type ClickQueueConfig struct {
	Size         int
	Workers      int
	StoreTimeout time.Duration
}

// ClickQueue counts clicks in-process: a bounded buffer drained by a worker pool.
// When the buffer is full new events are dropped rather than stalling redirects.
type ClickQueue struct {
	repo    repository.LinkRepository
	logger  *zap.Logger
	metrics *infraPrometheus.Metrics

	events  chan model.ClickEvent
	workers int
	timeout time.Duration
	backoff time.Duration

	mu      sync.RWMutex
	closed  bool
	started bool
	wg      sync.WaitGroup
}

// NewClickQueue creates a queue; call Start before enqueueing.
func NewClickQueue(cfg ClickQueueConfig, repo repository.LinkRepository, logger *zap.Logger, metrics *infraPrometheus.Metrics) *ClickQueue {
	if cfg.Size <= 0 {
		cfg.Size = defaultQueueSize
	}
	if cfg.Workers <= 0 {
		cfg.Workers = defaultQueueWorkers
	}
	if cfg.StoreTimeout <= 0 {
		cfg.StoreTimeout = defaultStoreTimeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ClickQueue{
		repo:    repo,
		logger:  logger,
		metrics: metrics,
		events:  make(chan model.ClickEvent, cfg.Size),
		workers: cfg.Workers,
		timeout: cfg.StoreTimeout,
		backoff: 50 * time.Millisecond,
	}
}

// Start launches the worker pool. Calling it more than once has no effect.
func (q *ClickQueue) Start() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.started || q.closed {
		return
	}
	q.started = true

	for i := 0; i < q.workers; i++ {
		q.wg.Add(1)
		go q.work()
	}
}

// Enqueue hands an event to the workers without blocking.
func (q *ClickQueue) Enqueue(event model.ClickEvent) {
	q.mu.RLock()
	defer q.mu.RUnlock()

	if q.closed {
		q.drop(event, "queue closed")
		return
	}

	select {
	case q.events <- event:
	default:
		q.drop(event, "queue full")
	}
}

// Close stops intake and waits until queued events are applied or ctx expires.
func (q *ClickQueue) Close(ctx context.Context) error {
	q.mu.Lock()
	if !q.closed {
		q.closed = true
		close(q.events)
	}
	started := q.started
	q.mu.Unlock()

	if !started {
		return nil
	}

	done := make(chan struct{})
	go func() {
		q.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (q *ClickQueue) work() {
	defer q.wg.Done()
	for event := range q.events {
		q.apply(event)
	}
}

// apply retries transient failures. Retrying is safe because the store ignores
// an event ID it has already counted.
func (q *ClickQueue) apply(event model.ClickEvent) {
	var err error
	for attempt := 1; attempt <= clickApplyAttempts; attempt++ {
		ctx, cancel := context.WithTimeout(context.Background(), q.timeout)
		err = q.repo.IncrementClicks(ctx, event.LinkCode, event.ID)
		cancel()

		if err == nil {
			q.metrics.Click(infraPrometheus.ResultApplied)
			return
		}
		if errors.Is(err, repository.ErrLinkNotFound) {
			break
		}
		time.Sleep(time.Duration(attempt) * q.backoff)
	}

	q.metrics.Click(infraPrometheus.ResultFailed)
	q.logger.Error("failed to count click",
		zap.String("id", event.ID),
		zap.String("link_code", event.LinkCode),
		zap.Error(err))
}

func (q *ClickQueue) drop(event model.ClickEvent, reason string) {
	q.metrics.Click(infraPrometheus.ResultDropped)
	q.logger.Warn("dropping click event",
		zap.String("reason", reason),
		zap.String("id", event.ID),
		zap.String("link_code", event.LinkCode))
}

var _ ClickSink = (*ClickQueue)(nil)
