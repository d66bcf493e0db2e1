package repository

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/sifan077/shortlink/internal/app/model"
)

// MemoryLinkRepository keeps links in process memory. Used for development and tests.
type MemoryLinkRepository struct {
	mu      sync.RWMutex
	links   map[string]*model.Link
	order   []string
	applied map[string]time.Time
}

// NewMemoryLinkRepository returns an empty in-memory repository.
func NewMemoryLinkRepository() *MemoryLinkRepository {
	return &MemoryLinkRepository{
		links:   make(map[string]*model.Link),
		applied: make(map[string]time.Time),
	}
}

func (r *MemoryLinkRepository) InsertIfAbsent(ctx context.Context, link *model.Link) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	stored := *link

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.links[stored.Code]; exists {
		return ErrCodeExists
	}
	r.links[stored.Code] = &stored
	r.order = append(r.order, stored.Code)
	return nil
}

func (r *MemoryLinkRepository) GetByCode(ctx context.Context, code string) (*model.Link, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	link, ok := r.links[code]
	if !ok {
		return nil, ErrLinkNotFound
	}
	out := *link
	return &out, nil
}

func (r *MemoryLinkRepository) IncrementClicks(ctx context.Context, code, eventID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	link, ok := r.links[code]
	if !ok {
		return ErrLinkNotFound
	}
	if eventID != "" {
		if _, done := r.applied[eventID]; done {
			return nil
		}
		r.applied[eventID] = time.Now().UTC()
	}
	link.Clicks++
	return nil
}

// ListRecent copies matching links under the read lock, so callers get a stable snapshot.
func (r *MemoryLinkRepository) ListRecent(ctx context.Context, limit int) ([]model.Link, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = 20
	}

	r.mu.RLock()
	snapshot := make([]model.Link, 0, len(r.order))
	for i := len(r.order) - 1; i >= 0; i-- {
		snapshot = append(snapshot, *r.links[r.order[i]])
	}
	r.mu.RUnlock()

	sort.SliceStable(snapshot, func(i, j int) bool {
		return snapshot[i].CreatedAt.After(snapshot[j].CreatedAt)
	})

	if len(snapshot) > limit {
		snapshot = snapshot[:limit]
	}
	return snapshot, nil
}

func (r *MemoryLinkRepository) PruneAppliedBefore(ctx context.Context, before time.Time) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	var pruned int64
	for id, at := range r.applied {
		if at.Before(before) {
			delete(r.applied, id)
			pruned++
		}
	}
	return pruned, nil
}

// Len reports how many links are stored.
func (r *MemoryLinkRepository) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.links)
}

var (
	_ LinkRepository = (*MemoryLinkRepository)(nil)
	_ ClickLedger    = (*MemoryLinkRepository)(nil)
)
