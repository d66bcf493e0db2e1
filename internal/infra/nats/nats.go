package natsclient

import (
	"errors"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/sifan077/shortlink/config"
	"github.com/sifan077/shortlink/internal/app/model"
)

const defaultConnectTimeout = 5 * time.Second

// Connect creates a NATS connection (with JetStream available) using application config.
func Connect(cfg config.NATSConfig) (*nats.Conn, nats.JetStreamContext, error) {
	opts := []nats.Option{
		nats.Timeout(defaultConnectTimeout),
		nats.Name("shortlink"),
		nats.MaxReconnects(-1),
	}

	if cfg.User != "" {
		opts = append(opts, nats.UserInfo(cfg.User, cfg.Password))
	}

	conn, err := nats.Connect(URL(cfg), opts...)
	if err != nil {
		return nil, nil, fmt.Errorf("nats: connect: %w", err)
	}

	js, err := conn.JetStream()
	if err != nil {
		conn.Close()
		return nil, nil, fmt.Errorf("nats: init jetstream: %w", err)
	}

	return conn, js, nil
}

// EnsureClickStream creates the click stream and its durable consumer when they are missing.
// The stream's duplicate window lets JetStream drop republished events carrying the same Nats-Msg-Id.
func EnsureClickStream(js nats.JetStreamContext) error {
	if _, err := js.StreamInfo(model.ClickStreamName); err != nil {
		if !errors.Is(err, nats.ErrStreamNotFound) {
			return fmt.Errorf("nats: stream info: %w", err)
		}
		_, err = js.AddStream(&nats.StreamConfig{
			Name:       model.ClickStreamName,
			Subjects:   []string{model.ClickStreamSubject},
			MaxBytes:   model.ClickStreamMaxBytes,
			Duplicates: model.ClickDedupWindow,
			Storage:    nats.FileStorage,
		})
		if err != nil {
			return fmt.Errorf("nats: create stream: %w", err)
		}
	}

	if _, err := js.ConsumerInfo(model.ClickStreamName, model.ClickConsumerName); err != nil {
		if !errors.Is(err, nats.ErrConsumerNotFound) {
			return fmt.Errorf("nats: consumer info: %w", err)
		}
		_, err = js.AddConsumer(model.ClickStreamName, &nats.ConsumerConfig{
			Durable:       model.ClickConsumerName,
			AckPolicy:     nats.AckExplicitPolicy,
			AckWait:       30 * time.Second,
			MaxDeliver:    10,
			FilterSubject: model.ClickStreamSubject,
		})
		if err != nil {
			return fmt.Errorf("nats: create consumer: %w", err)
		}
	}

	return nil
}

// URL renders the server address, defaulting to a local NATS.
func URL(cfg config.NATSConfig) string {
	host := cfg.Host
	if host == "" {
		host = "localhost"
	}
	port := cfg.Port
	if port == 0 {
		port = 4222
	}
	return fmt.Sprintf("nats://%s:%d", host, port)
}
