package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/sifan077/shortlink/internal/app/model"
	infraPrometheus "github.com/sifan077/shortlink/internal/infra/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeFuture struct {
	msg *nats.Msg
	ok  chan *nats.PubAck
	err chan error
}

func (f *fakeFuture) Ok() <-chan *nats.PubAck { return f.ok }
func (f *fakeFuture) Err() <-chan error       { return f.err }
func (f *fakeFuture) Msg() *nats.Msg          { return f.msg }

type fakeJetStream struct {
	mu       sync.Mutex
	msgs     []*nats.Msg
	ackErr   error
	sendErr  error
	withhold bool
}

func (f *fakeJetStream) PublishMsgAsync(m *nats.Msg, _ ...nats.PubOpt) (nats.PubAckFuture, error) {
	if f.sendErr != nil {
		return nil, f.sendErr
	}
	f.mu.Lock()
	f.msgs = append(f.msgs, m)
	f.mu.Unlock()

	future := &fakeFuture{msg: m, ok: make(chan *nats.PubAck, 1), err: make(chan error, 1)}
	switch {
	case f.withhold:
	case f.ackErr != nil:
		future.err <- f.ackErr
	default:
		future.ok <- &nats.PubAck{Stream: model.ClickStreamName}
	}
	return future, nil
}

func (f *fakeJetStream) published() []*nats.Msg {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]*nats.Msg(nil), f.msgs...)
}

func TestClickPublisher_Enqueue(t *testing.T) {
	js := &fakeJetStream{}
	p := newClickPublisher(js, nil, nil, 0)

	event := model.ClickEvent{ID: "evt-42", LinkCode: "abc1234", IP: "1.2.3.4", Timestamp: time.Now().UTC()}
	p.Enqueue(event)
	require.NoError(t, p.Close(context.Background()))

	msgs := js.published()
	require.Len(t, msgs, 1)
	assert.Equal(t, model.ClickStreamSubject, msgs[0].Subject)
	assert.Equal(t, "evt-42", msgs[0].Header.Get(nats.MsgIdHdr))

	var decoded model.ClickEvent
	require.NoError(t, json.Unmarshal(msgs[0].Data, &decoded))
	assert.Equal(t, event.ID, decoded.ID)
	assert.Equal(t, event.LinkCode, decoded.LinkCode)
}

func TestClickPublisher_FailuresAreCounted(t *testing.T) {
	tests := []struct {
		name string
		js   *fakeJetStream
	}{
		{name: "send error", js: &fakeJetStream{sendErr: nats.ErrConnectionClosed}},
		{name: "ack error", js: &fakeJetStream{ackErr: errors.New("stream unavailable")}},
		{name: "ack timeout", js: &fakeJetStream{withhold: true}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			metrics := infraPrometheus.NewMetrics(prometheus.NewRegistry())
			p := newClickPublisher(tt.js, nil, metrics, 0)
			p.timeout = 10 * time.Millisecond

			p.Enqueue(model.ClickEvent{ID: "e1", LinkCode: "abc1234"})
			require.NoError(t, p.Close(context.Background()))

			assert.Equal(t, 1.0, testutil.ToFloat64(metrics.Clicks.WithLabelValues(infraPrometheus.ResultFailed)))
		})
	}
}

func TestClickPublisher_DropsWhenSaturated(t *testing.T) {
	metrics := infraPrometheus.NewMetrics(prometheus.NewRegistry())
	p := newClickPublisher(&fakeJetStream{withhold: true}, nil, metrics, 2)
	p.timeout = 50 * time.Millisecond

	for i := 0; i < 5; i++ {
		p.Enqueue(model.ClickEvent{ID: fmt.Sprintf("e%d", i), LinkCode: "abc1234"})
	}
	assert.Equal(t, 3.0, testutil.ToFloat64(metrics.Clicks.WithLabelValues(infraPrometheus.ResultDropped)))

	require.NoError(t, p.Close(context.Background()))
	assert.Equal(t, 2.0, testutil.ToFloat64(metrics.Clicks.WithLabelValues(infraPrometheus.ResultFailed)))

	// Slots are released once the pending publishes settle.
	p.Enqueue(model.ClickEvent{ID: "e5", LinkCode: "abc1234"})
	require.NoError(t, p.Close(context.Background()))
	assert.Equal(t, 3.0, testutil.ToFloat64(metrics.Clicks.WithLabelValues(infraPrometheus.ResultDropped)))
}
