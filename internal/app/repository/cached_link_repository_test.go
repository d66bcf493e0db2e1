package repository

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/sifan077/shortlink/internal/app/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// countingRepository counts backend lookups.
type countingRepository struct {
	LinkRepository
	gets int
}

func (c *countingRepository) GetByCode(ctx context.Context, code string) (*model.Link, error) {
	c.gets++
	return c.LinkRepository.GetByCode(ctx, code)
}

func newCachedRepository(t *testing.T) (*CachedLinkRepository, *countingRepository, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	backend := &countingRepository{LinkRepository: NewMemoryLinkRepository()}
	return NewCachedLinkRepository(backend, client, time.Hour, nil), backend, mr
}

func TestCachedLinkRepository_ReadThrough(t *testing.T) {
	cached, backend, mr := newCachedRepository(t)
	ctx := context.Background()

	require.NoError(t, backend.InsertIfAbsent(ctx, newLink("cache01", time.Now())))

	first, err := cached.GetByCode(ctx, "cache01")
	require.NoError(t, err)
	second, err := cached.GetByCode(ctx, "cache01")
	require.NoError(t, err)

	assert.Equal(t, first.URL, second.URL)
	assert.Equal(t, 1, backend.gets)
	assert.True(t, mr.Exists("link:cache01"))
	assert.Equal(t, time.Hour, mr.TTL("link:cache01"))
}

func TestCachedLinkRepository_InsertPopulatesCache(t *testing.T) {
	cached, backend, _ := newCachedRepository(t)
	ctx := context.Background()

	require.NoError(t, cached.InsertIfAbsent(ctx, newLink("warm001", time.Now())))

	got, err := cached.GetByCode(ctx, "warm001")
	require.NoError(t, err)
	assert.Equal(t, "https://example.com/warm001", got.URL)
	assert.Zero(t, backend.gets)
}

func TestCachedLinkRepository_NegativeCache(t *testing.T) {
	cached, backend, mr := newCachedRepository(t)
	ctx := context.Background()

	_, err := cached.GetByCode(ctx, "later01")
	require.ErrorIs(t, err, ErrLinkNotFound)
	_, err = cached.GetByCode(ctx, "later01")
	require.ErrorIs(t, err, ErrLinkNotFound)
	assert.Equal(t, 1, backend.gets)

	val, err := mr.Get("link:later01")
	require.NoError(t, err)
	assert.Equal(t, "null", val)

	// a later insert must replace the negative entry
	require.NoError(t, cached.InsertIfAbsent(ctx, newLink("later01", time.Now())))
	got, err := cached.GetByCode(ctx, "later01")
	require.NoError(t, err)
	assert.Equal(t, "https://example.com/later01", got.URL)
}

// insertDuringLookup stores the link after the backend has already answered
// "not found", the way a concurrent shorten can land mid-lookup.
type insertDuringLookup struct {
	LinkRepository
	insert func()
}

func (r *insertDuringLookup) GetByCode(ctx context.Context, code string) (*model.Link, error) {
	link, err := r.LinkRepository.GetByCode(ctx, code)
	if r.insert != nil {
		r.insert()
		r.insert = nil
	}
	return link, err
}

func TestCachedLinkRepository_LateMissKeepsInsertedLink(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	ctx := context.Background()

	backend := &insertDuringLookup{LinkRepository: NewMemoryLinkRepository()}
	cached := NewCachedLinkRepository(backend, client, time.Hour, nil)
	backend.insert = func() {
		require.NoError(t, cached.InsertIfAbsent(ctx, newLink("race001", time.Now())))
	}

	_, err := cached.GetByCode(ctx, "race001")
	require.ErrorIs(t, err, ErrLinkNotFound)

	val, err := mr.Get("link:race001")
	require.NoError(t, err)
	assert.NotEqual(t, "null", val)

	got, err := cached.GetByCode(ctx, "race001")
	require.NoError(t, err)
	assert.Equal(t, "https://example.com/race001", got.URL)
}

func TestCachedLinkRepository_DuplicateInsertLeavesCache(t *testing.T) {
	cached, _, _ := newCachedRepository(t)
	ctx := context.Background()

	require.NoError(t, cached.InsertIfAbsent(ctx, newLink("keep001", time.Now())))
	other := newLink("keep001", time.Now())
	other.URL = "https://other.example"
	assert.ErrorIs(t, cached.InsertIfAbsent(ctx, other), ErrCodeExists)

	got, err := cached.GetByCode(ctx, "keep001")
	require.NoError(t, err)
	assert.Equal(t, "https://example.com/keep001", got.URL)
}

func TestCachedLinkRepository_RedisDownFallsBack(t *testing.T) {
	cached, backend, mr := newCachedRepository(t)
	ctx := context.Background()
	require.NoError(t, backend.InsertIfAbsent(ctx, newLink("down001", time.Now())))

	mr.Close()

	got, err := cached.GetByCode(ctx, "down001")
	require.NoError(t, err)
	assert.Equal(t, "https://example.com/down001", got.URL)

	require.NoError(t, cached.InsertIfAbsent(ctx, newLink("down002", time.Now())))
	_, err = cached.GetByCode(ctx, "nope000")
	assert.True(t, errors.Is(err, ErrLinkNotFound))
}

func TestCachedLinkRepository_DelegatesClicks(t *testing.T) {
	cached, backend, _ := newCachedRepository(t)
	ctx := context.Background()
	require.NoError(t, cached.InsertIfAbsent(ctx, newLink("count01", time.Now())))

	require.NoError(t, cached.IncrementClicks(ctx, "count01", "evt-1"))

	stored, err := backend.LinkRepository.GetByCode(ctx, "count01")
	require.NoError(t, err)
	assert.EqualValues(t, 1, stored.Clicks)

	links, err := cached.ListRecent(ctx, 10)
	require.NoError(t, err)
	require.Len(t, links, 1)
	assert.EqualValues(t, 1, links[0].Clicks)
}
