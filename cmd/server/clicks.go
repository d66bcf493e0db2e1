package main

import (
	"context"

	"github.com/nats-io/nats.go"
	"github.com/sifan077/shortlink/config"
	"github.com/sifan077/shortlink/internal/app/service"
	infraNATS "github.com/sifan077/shortlink/internal/infra/nats"
	infraPrometheus "github.com/sifan077/shortlink/internal/infra/prometheus"
	"go.uber.org/zap"
)

// clickPipeline is the configured ClickSink and whatever must be stopped with it.
type clickPipeline struct {
	sink     service.ClickSink
	queue    *service.ClickQueue
	pub      *service.ClickPublisher
	consumer *service.ClickConsumer
	conn     *nats.Conn
}

func startClickPipeline(cfg *config.Config, st *store, log *zap.Logger, metrics *infraPrometheus.Metrics) (*clickPipeline, error) {
	if cfg.Clicks.Sink == config.ClickSinkLocal {
		queue := service.NewClickQueue(service.ClickQueueConfig{
			Size:         cfg.Clicks.QueueSize,
			Workers:      cfg.Clicks.Workers,
			StoreTimeout: cfg.Store.Timeout,
		}, st.counter, log, metrics)
		queue.Start()
		log.Info("Counting clicks in-process",
			zap.Int("queue_size", cfg.Clicks.QueueSize),
			zap.Int("workers", cfg.Clicks.Workers))
		return &clickPipeline{sink: queue, queue: queue}, nil
	}

	conn, js, err := infraNATS.Connect(cfg.NATS)
	if err != nil {
		return nil, err
	}
	if err := infraNATS.EnsureClickStream(js); err != nil {
		conn.Close()
		return nil, err
	}

	consumer := service.NewClickConsumer(js, log, st.counter, metrics)
	if err := consumer.Start(); err != nil {
		conn.Close()
		return nil, err
	}

	pub := service.NewClickPublisher(js, log, metrics, cfg.Clicks.QueueSize)
	log.Info("Counting clicks through NATS JetStream", zap.String("url", infraNATS.URL(cfg.NATS)))
	return &clickPipeline{sink: pub, pub: pub, consumer: consumer, conn: conn}, nil
}

func (p *clickPipeline) close(ctx context.Context, log *zap.Logger) {
	if p.queue != nil {
		if err := p.queue.Close(ctx); err != nil {
			log.Warn("Click queue did not drain before shutdown", zap.Error(err))
		}
	}
	if p.pub != nil {
		if err := p.pub.Close(ctx); err != nil {
			log.Warn("Click publishes still pending at shutdown", zap.Error(err))
		}
	}
	if p.consumer != nil {
		p.consumer.Stop()
	}
	if p.conn != nil {
		if err := p.conn.Drain(); err != nil {
			log.Warn("Failed to drain NATS connection", zap.Error(err))
		}
	}
}
