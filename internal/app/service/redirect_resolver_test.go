package service

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/sifan077/shortlink/internal/app/model"
	"github.com/sifan077/shortlink/internal/app/repository"
	infraPrometheus "github.com/sifan077/shortlink/internal/infra/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingSink struct {
	mu     sync.Mutex
	events []model.ClickEvent
}

func (s *recordingSink) Enqueue(event model.ClickEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, event)
}

func (s *recordingSink) snapshot() []model.ClickEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]model.ClickEvent(nil), s.events...)
}

func seedLink(t *testing.T, repo repository.LinkRepository, code, url string) {
	t.Helper()
	require.NoError(t, repo.InsertIfAbsent(context.Background(), &model.Link{
		Code:      code,
		ID:        code + "-id",
		URL:       url,
		CreatedAt: time.Now().UTC(),
	}))
}

func TestRedirectResolver_Resolve(t *testing.T) {
	repo := repository.NewMemoryLinkRepository()
	seedLink(t, repo, "abc1234", "https://example.com/landing")
	sink := &recordingSink{}
	metrics := infraPrometheus.NewMetrics(prometheus.NewRegistry())

	r := NewRedirectResolver(RedirectDeps{Links: repo, Clicks: sink, Metrics: metrics})

	target, err := r.Resolve(context.Background(), "abc1234", Visit{IP: "10.0.0.1", UserAgent: "curl/8"})
	require.NoError(t, err)
	assert.Equal(t, "https://example.com/landing", target)

	events := sink.snapshot()
	require.Len(t, events, 1)
	assert.Equal(t, "abc1234", events[0].LinkCode)
	assert.Equal(t, "10.0.0.1", events[0].IP)
	assert.Equal(t, "curl/8", events[0].UserAgent)
	assert.NotEmpty(t, events[0].ID)
	assert.False(t, events[0].Timestamp.IsZero())

	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.Redirects.WithLabelValues(infraPrometheus.ResultFound)))
}

func TestRedirectResolver_NotFound(t *testing.T) {
	repo := repository.NewMemoryLinkRepository()
	sink := &recordingSink{}
	r := NewRedirectResolver(RedirectDeps{Links: repo, Clicks: sink})

	for _, code := range []string{"missing", "", strings.Repeat("x", MaxAliasLength+1)} {
		_, err := r.Resolve(context.Background(), code, Visit{})
		assert.ErrorIs(t, err, ErrLinkNotFound, "code %q", code)
	}
	assert.Empty(t, sink.snapshot())
}

func TestRedirectResolver_StoreError(t *testing.T) {
	boom := errors.New("connection reset")
	repo := &mockLinkRepository{
		getFn: func(ctx context.Context, code string) (*model.Link, error) { return nil, boom },
	}
	sink := &recordingSink{}
	r := NewRedirectResolver(RedirectDeps{Links: repo, Clicks: sink})

	_, err := r.Resolve(context.Background(), "abc1234", Visit{})
	assert.ErrorIs(t, err, boom)
	assert.NotErrorIs(t, err, ErrLinkNotFound)
	assert.Empty(t, sink.snapshot())
}

func TestRedirectResolver_ConcurrentClicksAreAllCounted(t *testing.T) {
	repo := repository.NewMemoryLinkRepository()
	seedLink(t, repo, "hot0001", "https://example.com")

	queue := NewClickQueue(ClickQueueConfig{Size: 1000, Workers: 4}, repo, nil, nil)
	queue.Start()
	r := NewRedirectResolver(RedirectDeps{Links: repo, Clicks: queue})

	const visits = 500
	var wg sync.WaitGroup
	for i := 0; i < visits; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := r.Resolve(context.Background(), "hot0001", Visit{IP: "127.0.0.1"})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, queue.Close(ctx))

	link, err := repo.GetByCode(context.Background(), "hot0001")
	require.NoError(t, err)
	assert.EqualValues(t, visits, link.Clicks)
}

func TestRedirectResolver_ResolveDoesNotWaitForCounting(t *testing.T) {
	repo := repository.NewMemoryLinkRepository()
	seedLink(t, repo, "slow001", "https://example.com")

	release := make(chan struct{})
	blocking := &mockLinkRepository{
		getFn: repo.GetByCode,
		incrementFn: func(ctx context.Context, code, eventID string) error {
			<-release
			return repo.IncrementClicks(ctx, code, eventID)
		},
	}
	queue := NewClickQueue(ClickQueueConfig{Size: 8, Workers: 1, StoreTimeout: 5 * time.Second}, blocking, nil, nil)
	queue.Start()
	r := NewRedirectResolver(RedirectDeps{Links: blocking, Clicks: queue})

	done := make(chan struct{})
	go func() {
		defer close(done)
		_, err := r.Resolve(context.Background(), "slow001", Visit{})
		assert.NoError(t, err)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Resolve blocked on click counting")
	}

	close(release)
	require.NoError(t, queue.Close(context.Background()))
	link, err := repo.GetByCode(context.Background(), "slow001")
	require.NoError(t, err)
	assert.EqualValues(t, 1, link.Clicks)
}
