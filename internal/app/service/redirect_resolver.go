package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sifan077/shortlink/internal/app/model"
	"github.com/sifan077/shortlink/internal/app/repository"
	infraPrometheus "github.com/sifan077/shortlink/internal/infra/prometheus"
	"go.uber.org/zap"
)

// ClickSink accepts click events for counting. Enqueue must never block the caller.
type ClickSink interface {
	Enqueue(event model.ClickEvent)
}

// Visit carries request details recorded with a click.
type Visit struct {
	IP        string
	UserAgent string
}

// RedirectDeps groups dependencies required by the redirect resolver.
type RedirectDeps struct {
	Links        repository.LinkRepository
	Clicks       ClickSink
	Metrics      *infraPrometheus.Metrics
	Logger       *zap.Logger
	StoreTimeout time.Duration
}

// RedirectResolver maps codes to destinations and hands each hit to the click pipeline.
type RedirectResolver struct {
	links   repository.LinkRepository
	clicks  ClickSink
	metrics *infraPrometheus.Metrics
	logger  *zap.Logger
	timeout time.Duration
	now     func() time.Time
}

// NewRedirectResolver creates a resolver with the provided dependencies.
func NewRedirectResolver(deps RedirectDeps) *RedirectResolver {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	timeout := deps.StoreTimeout
	if timeout <= 0 {
		timeout = defaultStoreTimeout
	}
	return &RedirectResolver{
		links:   deps.Links,
		clicks:  deps.Clicks,
		metrics: deps.Metrics,
		logger:  logger,
		timeout: timeout,
		now:     time.Now,
	}
}

// Resolve returns the destination for code. Counting the click happens after Resolve returns.
func (r *RedirectResolver) Resolve(ctx context.Context, code string, visit Visit) (string, error) {
	// Nothing longer than an alias can be stored.
	if code == "" || len(code) > MaxAliasLength {
		r.metrics.Redirect(infraPrometheus.ResultNotFound)
		return "", ErrLinkNotFound
	}

	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	link, err := r.links.GetByCode(ctx, code)
	if err != nil {
		if errors.Is(err, repository.ErrLinkNotFound) {
			r.metrics.Redirect(infraPrometheus.ResultNotFound)
			return "", ErrLinkNotFound
		}
		r.metrics.Redirect(infraPrometheus.ResultError)
		return "", fmt.Errorf("resolve %q: %w", code, err)
	}

	if r.clicks != nil {
		r.clicks.Enqueue(model.ClickEvent{
			ID:        uuid.NewString(),
			LinkCode:  link.Code,
			IP:        visit.IP,
			UserAgent: visit.UserAgent,
			Timestamp: r.now().UTC(),
		})
	}

	r.metrics.Redirect(infraPrometheus.ResultFound)
	return link.URL, nil
}
