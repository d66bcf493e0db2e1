package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/sifan077/shortlink/internal/app/model"
	apprepository "github.com/sifan077/shortlink/internal/app/repository"
	infraPrometheus "github.com/sifan077/shortlink/internal/infra/prometheus"
	"go.uber.org/zap"
)

const (
	consumerBatchSize = 10
	consumerMaxWait   = 5 * time.Second
)

type disposition int

const (
	dispositionAck disposition = iota
	dispositionNak
	dispositionTerm
)

// ClickConsumer consumes click events from NATS JetStream and applies them to link counters.
type ClickConsumer struct {
	js      nats.JetStreamContext
	logger  *zap.Logger
	repo    apprepository.LinkRepository
	metrics *infraPrometheus.Metrics
	timeout time.Duration

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewClickConsumer creates a new click event consumer
func NewClickConsumer(js nats.JetStreamContext, logger *zap.Logger, repo apprepository.LinkRepository, metrics *infraPrometheus.Metrics) *ClickConsumer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ClickConsumer{js: js, logger: logger, repo: repo, metrics: metrics, timeout: defaultStoreTimeout}
}

// Start binds to the durable consumer and begins fetching in the background.
// The stream and consumer must already exist.
func (c *ClickConsumer) Start() error {
	sub, err := c.js.PullSubscribe(model.ClickStreamSubject, model.ClickConsumerName,
		nats.Bind(model.ClickStreamName, model.ClickConsumerName))
	if err != nil {
		return fmt.Errorf("failed to subscribe: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	c.cancel = cancel

	c.wg.Add(1)
	go c.consume(ctx, sub)
	return nil
}

// Stop ends the fetch loop and waits for the current batch to finish.
func (c *ClickConsumer) Stop() {
	if c.cancel == nil {
		return
	}
	c.cancel()
	c.wg.Wait()
}

func (c *ClickConsumer) consume(ctx context.Context, sub *nats.Subscription) {
	defer c.wg.Done()
	for {
		if ctx.Err() != nil {
			c.logger.Info("click consumer stopped")
			return
		}

		msgs, err := sub.Fetch(consumerBatchSize, nats.MaxWait(consumerMaxWait))
		if err != nil && !errors.Is(err, nats.ErrTimeout) {
			c.logger.Error("failed to fetch messages", zap.Error(err))
			select {
			case <-ctx.Done():
			case <-time.After(time.Second):
			}
			continue
		}

		for _, msg := range msgs {
			c.settle(msg, c.process(msg.Data))
		}
	}
}

func (c *ClickConsumer) settle(msg *nats.Msg, d disposition) {
	var err error
	switch d {
	case dispositionAck:
		err = msg.Ack()
	case dispositionNak:
		err = msg.Nak()
	case dispositionTerm:
		err = msg.Term()
	}
	if err != nil {
		c.logger.Warn("failed to settle click message", zap.Error(err))
	}
}

// process applies one message. Redelivery is harmless because increments are keyed by event ID.
func (c *ClickConsumer) process(data []byte) disposition {
	var event model.ClickEvent
	if err := json.Unmarshal(data, &event); err != nil {
		c.logger.Error("failed to unmarshal click event", zap.Error(err))
		c.metrics.Click(infraPrometheus.ResultFailed)
		return dispositionTerm
	}
	if event.ID == "" || event.LinkCode == "" {
		c.logger.Error("click event missing id or link code", zap.String("id", event.ID))
		c.metrics.Click(infraPrometheus.ResultFailed)
		return dispositionTerm
	}

	ctx, cancel := context.WithTimeout(context.Background(), c.timeout)
	defer cancel()

	if err := c.repo.IncrementClicks(ctx, event.LinkCode, event.ID); err != nil {
		if errors.Is(err, apprepository.ErrLinkNotFound) {
			c.logger.Warn("click for unknown link", zap.String("link_code", event.LinkCode))
			c.metrics.Click(infraPrometheus.ResultFailed)
			return dispositionTerm
		}
		c.logger.Error("failed to apply click event",
			zap.String("id", event.ID),
			zap.String("link_code", event.LinkCode),
			zap.Error(err))
		return dispositionNak
	}

	c.logger.Debug("click event applied",
		zap.String("id", event.ID),
		zap.String("link_code", event.LinkCode),
		zap.Time("timestamp", event.Timestamp),
	)
	c.metrics.Click(infraPrometheus.ResultApplied)
	return dispositionAck
}
