package service

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/bits-and-blooms/bloom/v3"
	"github.com/google/uuid"
	"github.com/sifan077/shortlink/internal/app/model"
	"github.com/sifan077/shortlink/internal/app/repository"
	"github.com/sifan077/shortlink/internal/app/shortcode"
	infraPrometheus "github.com/sifan077/shortlink/internal/infra/prometheus"
	"go.uber.org/zap"
)

const (
	// MaxURLLength bounds accepted destinations.
	MaxURLLength   = 2048
	MinAliasLength = 5
	MaxAliasLength = 32

	defaultMaxAttempts  = 5
	maxBloomSkipFactor  = 4
	defaultStoreTimeout = 3 * time.Second
	defaultListLimit    = 100
	maxListLimit        = 500
)

var aliasPattern = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)

// Aliases that would shadow routes served next to GET /:code.
var reservedAliases = map[string]struct{}{
	"api":     {},
	"health":  {},
	"metrics": {},
}

// LinkService defines behaviour-level operations on links.
type LinkService interface {
	Shorten(ctx context.Context, input ShortenInput) (*model.Link, error)
	ListRecent(ctx context.Context, limit int) ([]model.Link, error)
	ShortURL(code string) string
	// WarmIssuedCodes seeds collision tracking with up to limit stored codes.
	WarmIssuedCodes(ctx context.Context, limit int) (int, error)
}

// ShortenInput captures data required to create a link.
type ShortenInput struct {
	URL string
	// Alias is the caller-chosen code; empty means generate one.
	Alias string
}

// LinkServiceConfig tunes the shortening service. Zero values fall back to defaults.
type LinkServiceConfig struct {
	BaseURL      string
	MaxAttempts  int
	StoreTimeout time.Duration
	DefaultLimit int
	MaxLimit     int
	BloomSize    uint
	BloomFPRate  float64
}

// LinkServiceDeps groups dependencies required by the link service.
type LinkServiceDeps struct {
	Links   repository.LinkRepository
	Codes   shortcode.Generator
	Metrics *infraPrometheus.Metrics
	Logger  *zap.Logger
	Config  LinkServiceConfig
}

type linkService struct {
	repo    repository.LinkRepository
	codes   shortcode.Generator
	metrics *infraPrometheus.Metrics
	logger  *zap.Logger

	baseURL      string
	baseHost     string
	maxAttempts  int
	timeout      time.Duration
	defaultLimit int
	maxLimit     int

	// issued remembers codes this process has seen taken, so obvious
	// collisions skip the store round trip. The store stays authoritative.
	issuedMu    sync.Mutex
	issued      *bloom.BloomFilter
	issuedCount uint
	issuedCap   uint

	now func() time.Time
}

// NewLinkService returns a service implementation backed by the given repository.
func NewLinkService(deps LinkServiceDeps) LinkService {
	cfg := deps.Config

	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	codes := deps.Codes
	if codes == nil {
		codes = shortcode.NewRandomGenerator(shortcode.DefaultLength)
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = defaultMaxAttempts
	}
	if cfg.StoreTimeout <= 0 {
		cfg.StoreTimeout = defaultStoreTimeout
	}
	if cfg.DefaultLimit <= 0 {
		cfg.DefaultLimit = defaultListLimit
	}
	if cfg.MaxLimit <= 0 {
		cfg.MaxLimit = maxListLimit
	}
	if cfg.BloomSize == 0 {
		cfg.BloomSize = 100_000
	}
	if cfg.BloomFPRate <= 0 || cfg.BloomFPRate >= 1 {
		cfg.BloomFPRate = 0.001
	}

	baseURL := strings.TrimRight(cfg.BaseURL, "/")
	var baseHost string
	if u, err := url.Parse(baseURL); err == nil {
		baseHost = strings.ToLower(u.Hostname())
	}

	return &linkService{
		repo:         deps.Links,
		codes:        codes,
		metrics:      deps.Metrics,
		logger:       logger,
		baseURL:      baseURL,
		baseHost:     baseHost,
		maxAttempts:  cfg.MaxAttempts,
		timeout:      cfg.StoreTimeout,
		defaultLimit: cfg.DefaultLimit,
		maxLimit:     cfg.MaxLimit,
		issued:       bloom.NewWithEstimates(cfg.BloomSize, cfg.BloomFPRate),
		issuedCap:    cfg.BloomSize,
		now:          time.Now,
	}
}

func (s *linkService) Shorten(ctx context.Context, input ShortenInput) (*model.Link, error) {
	longURL, err := s.validateURL(input.URL)
	if err != nil {
		return nil, err
	}

	if input.Alias != "" {
		return s.shortenWithAlias(ctx, longURL, input.Alias)
	}

	skips := 0
	for attempt := 1; attempt <= s.maxAttempts; {
		code, err := s.codes.Generate()
		if err != nil {
			return nil, fmt.Errorf("generate code: %w", err)
		}
		// A filter hit may be a false positive, so it only buys a redraw and
		// never uses up an attempt. Past the skip budget the store decides.
		if skips < s.maxAttempts*maxBloomSkipFactor && s.seen(code) {
			skips++
			continue
		}
		attempt++

		link := s.newLink(code, longURL)
		err = s.insert(ctx, link)
		if err == nil {
			s.remember(code)
			s.metrics.LinkCreated(infraPrometheus.KindGenerated)
			return link, nil
		}
		if !errors.Is(err, repository.ErrCodeExists) {
			return nil, fmt.Errorf("create link: %w", err)
		}

		s.remember(code)
		s.metrics.CodeCollision()
		s.logger.Debug("generated code collided", zap.String("code", code), zap.Int("attempt", attempt-1))
	}

	s.logger.Error("no free short code within attempt budget",
		zap.Int("attempts", s.maxAttempts))
	return nil, ErrCapacityExhausted
}

func (s *linkService) shortenWithAlias(ctx context.Context, longURL, alias string) (*model.Link, error) {
	if err := validateAlias(alias); err != nil {
		return nil, err
	}

	link := s.newLink(alias, longURL)
	if err := s.insert(ctx, link); err != nil {
		if errors.Is(err, repository.ErrCodeExists) {
			return nil, ErrAliasTaken
		}
		return nil, fmt.Errorf("create alias link: %w", err)
	}

	s.remember(alias)
	s.metrics.LinkCreated(infraPrometheus.KindAlias)
	return link, nil
}

func (s *linkService) ListRecent(ctx context.Context, limit int) ([]model.Link, error) {
	switch {
	case limit <= 0:
		limit = s.defaultLimit
	case limit > s.maxLimit:
		limit = s.maxLimit
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	links, err := s.repo.ListRecent(ctx, limit)
	if err != nil {
		return nil, fmt.Errorf("list links: %w", err)
	}
	return links, nil
}

func (s *linkService) ShortURL(code string) string {
	return s.baseURL + "/" + code
}

func (s *linkService) WarmIssuedCodes(ctx context.Context, limit int) (int, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	links, err := s.repo.ListRecent(ctx, limit)
	if err != nil {
		return 0, fmt.Errorf("warm issued codes: %w", err)
	}
	for _, link := range links {
		s.remember(link.Code)
	}
	return len(links), nil
}

func (s *linkService) insert(ctx context.Context, link *model.Link) error {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	return s.repo.InsertIfAbsent(ctx, link)
}

func (s *linkService) newLink(code, longURL string) *model.Link {
	return &model.Link{
		Code:      code,
		ID:        uuid.NewString(),
		URL:       longURL,
		CreatedAt: s.now().UTC().Truncate(time.Millisecond),
	}
}

func (s *linkService) seen(code string) bool {
	s.issuedMu.Lock()
	defer s.issuedMu.Unlock()
	return s.issued.TestString(code)
}

// remember adds code to the filter. A full filter is cleared first, since past
// its sizing the false positive rate climbs towards one.
func (s *linkService) remember(code string) {
	s.issuedMu.Lock()
	defer s.issuedMu.Unlock()
	if s.issuedCount >= s.issuedCap {
		s.issued.ClearAll()
		s.issuedCount = 0
	}
	s.issued.AddString(code)
	s.issuedCount++
}

func (s *linkService) validateURL(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", invalid("longUrl", "URL is required")
	}
	if len(raw) > MaxURLLength {
		return "", invalid("longUrl", fmt.Sprintf("URL must be at most %d characters", MaxURLLength))
	}

	u, err := url.Parse(raw)
	if err != nil || !u.IsAbs() || u.Host == "" {
		return "", invalid("longUrl", "Invalid long URL")
	}
	switch strings.ToLower(u.Scheme) {
	case "http", "https":
	default:
		return "", invalid("longUrl", "URL must use http or https")
	}
	if s.baseHost != "" && strings.ToLower(u.Hostname()) == s.baseHost {
		return "", invalid("longUrl", "URL is already a short link")
	}

	return raw, nil
}

func validateAlias(alias string) error {
	if len(alias) < MinAliasLength {
		return invalid("customAlias", fmt.Sprintf("Custom alias must be at least %d characters", MinAliasLength))
	}
	if len(alias) > MaxAliasLength {
		return invalid("customAlias", fmt.Sprintf("Custom alias must be at most %d characters", MaxAliasLength))
	}
	if !aliasPattern.MatchString(alias) {
		return invalid("customAlias", "Custom alias may only contain letters, digits, '-' and '_'")
	}
	if _, reserved := reservedAliases[strings.ToLower(alias)]; reserved {
		return invalid("customAlias", "Custom alias is reserved")
	}
	return nil
}

var _ LinkService = (*linkService)(nil)
