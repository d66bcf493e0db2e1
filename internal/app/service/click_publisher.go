package service

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/sifan077/shortlink/internal/app/model"
	infraPrometheus "github.com/sifan077/shortlink/internal/infra/prometheus"
	"go.uber.org/zap"
)

const (
	publishAckTimeout  = 5 * time.Second
	defaultMaxInFlight = 1024
)

// asyncPublisher is the slice of nats.JetStreamContext the publisher needs.
type asyncPublisher interface {
	PublishMsgAsync(m *nats.Msg, opts ...nats.PubOpt) (nats.PubAckFuture, error)
}

// ClickPublisher publishes click events to NATS JetStream
type ClickPublisher struct {
	js      asyncPublisher
	logger  *zap.Logger
	metrics *infraPrometheus.Metrics
	timeout time.Duration
	// inflight bounds the publishes awaiting an ack.
	inflight chan struct{}
	wg       sync.WaitGroup
}

// NewClickPublisher creates a new click event publisher. At most maxInFlight
// publishes wait for an ack at once; a non-positive value uses the default.
func NewClickPublisher(js nats.JetStreamContext, logger *zap.Logger, metrics *infraPrometheus.Metrics, maxInFlight int) *ClickPublisher {
	return newClickPublisher(js, logger, metrics, maxInFlight)
}

func newClickPublisher(js asyncPublisher, logger *zap.Logger, metrics *infraPrometheus.Metrics, maxInFlight int) *ClickPublisher {
	if logger == nil {
		logger = zap.NewNop()
	}
	if maxInFlight <= 0 {
		maxInFlight = defaultMaxInFlight
	}
	return &ClickPublisher{
		js:       js,
		logger:   logger,
		metrics:  metrics,
		timeout:  publishAckTimeout,
		inflight: make(chan struct{}, maxInFlight),
	}
}

// Enqueue publishes the event in the background. The event ID is sent as Nats-Msg-Id,
// so the stream discards duplicates inside its dedup window. When every slot is
// taken the event is dropped instead of blocking the redirect.
func (p *ClickPublisher) Enqueue(event model.ClickEvent) {
	select {
	case p.inflight <- struct{}{}:
	default:
		p.metrics.Click(infraPrometheus.ResultDropped)
		p.logger.Warn("dropping click event",
			zap.String("reason", "publisher saturated"),
			zap.String("id", event.ID),
			zap.String("link_code", event.LinkCode))
		return
	}

	p.wg.Add(1)
	go func() {
		defer func() {
			<-p.inflight
			p.wg.Done()
		}()
		if err := p.publish(event); err != nil {
			p.metrics.Click(infraPrometheus.ResultFailed)
			p.logger.Error("failed to publish click event",
				zap.String("id", event.ID),
				zap.String("link_code", event.LinkCode),
				zap.Error(err))
		}
	}()
}

func (p *ClickPublisher) publish(event model.ClickEvent) error {
	data, err := json.Marshal(event)
	if err != nil {
		return err
	}

	msg := nats.NewMsg(model.ClickStreamSubject)
	msg.Header.Set(nats.MsgIdHdr, event.ID)
	msg.Data = data

	future, err := p.js.PublishMsgAsync(msg)
	if err != nil {
		return err
	}

	select {
	case <-future.Ok():
		return nil
	case err := <-future.Err():
		return err
	case <-time.After(p.timeout):
		return context.DeadlineExceeded
	}
}

// Close waits for in-flight publishes or until ctx expires.
func (p *ClickPublisher) Close(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

var _ ClickSink = (*ClickPublisher)(nil)
