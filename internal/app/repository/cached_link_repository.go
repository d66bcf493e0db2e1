package repository

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sifan077/shortlink/internal/app/model"
	"go.uber.org/zap"
)

const (
	cacheKeyPrefix   = "link:"
	negativeMarker   = "null"
	negativeCacheTTL = time.Minute
	defaultCacheTTL  = time.Hour
)

// CachedLinkRepository puts a Redis cache-aside layer in front of another repository.
// Only lookups are cached; the Clicks value of a cached link is as of the time it was cached.
type CachedLinkRepository struct {
	next   LinkRepository
	client redis.Cmdable
	ttl    time.Duration
	logger *zap.Logger
}

// NewCachedLinkRepository wraps next with a Redis cache. A zero ttl means one hour.
func NewCachedLinkRepository(next LinkRepository, client redis.Cmdable, ttl time.Duration, logger *zap.Logger) *CachedLinkRepository {
	if ttl <= 0 {
		ttl = defaultCacheTTL
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CachedLinkRepository{
		next:   next,
		client: client,
		ttl:    ttl,
		logger: logger,
	}
}

func (c *CachedLinkRepository) InsertIfAbsent(ctx context.Context, link *model.Link) error {
	if err := c.next.InsertIfAbsent(ctx, link); err != nil {
		return err
	}
	// Replaces a negative entry left by an earlier miss on the same code.
	c.put(ctx, link)
	return nil
}

func (c *CachedLinkRepository) GetByCode(ctx context.Context, code string) (*model.Link, error) {
	key := cacheKeyPrefix + code

	data, err := c.client.Get(ctx, key).Result()
	switch {
	case err == nil:
		if data == negativeMarker {
			return nil, ErrLinkNotFound
		}
		var link model.Link
		if jsonErr := json.Unmarshal([]byte(data), &link); jsonErr == nil {
			return &link, nil
		}
		c.logger.Warn("discarding unreadable cache entry", zap.String("code", code))
	case errors.Is(err, redis.Nil):
	default:
		c.logger.Warn("link cache read failed", zap.String("code", code), zap.Error(err))
	}

	link, err := c.next.GetByCode(ctx, code)
	if err != nil {
		if errors.Is(err, ErrLinkNotFound) {
			c.putMissing(ctx, code)
		}
		return nil, err
	}

	c.put(ctx, link)
	return link, nil
}

func (c *CachedLinkRepository) IncrementClicks(ctx context.Context, code, eventID string) error {
	return c.next.IncrementClicks(ctx, code, eventID)
}

func (c *CachedLinkRepository) ListRecent(ctx context.Context, limit int) ([]model.Link, error) {
	return c.next.ListRecent(ctx, limit)
}

func (c *CachedLinkRepository) put(ctx context.Context, link *model.Link) {
	key := cacheKeyPrefix + link.Code

	data, err := json.Marshal(link)
	if err != nil {
		c.logger.Warn("link cache encode failed", zap.String("code", link.Code), zap.Error(err))
		return
	}
	if err := c.client.Set(ctx, key, data, c.ttl).Err(); err != nil {
		c.logger.Warn("link cache write failed", zap.String("code", link.Code), zap.Error(err))
		// a stale negative entry must not outlive the insert
		_ = c.client.Del(ctx, key).Err()
	}
}

// putMissing records a miss only when the key is empty, so an insert that
// cached the link while the lookup was in flight keeps its entry.
func (c *CachedLinkRepository) putMissing(ctx context.Context, code string) {
	key := cacheKeyPrefix + code
	if err := c.client.SetNX(ctx, key, negativeMarker, negativeCacheTTL).Err(); err != nil {
		c.logger.Warn("link cache write failed", zap.String("code", code), zap.Error(err))
	}
}

var _ LinkRepository = (*CachedLinkRepository)(nil)
