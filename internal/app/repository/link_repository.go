package repository

import (
	"context"
	"errors"
	"time"

	"github.com/sifan077/shortlink/internal/app/model"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var (
	// ErrLinkNotFound signals that the requested short link does not exist.
	ErrLinkNotFound = errors.New("link not found")
	// ErrCodeExists signals that a link with the same code is already stored.
	ErrCodeExists = errors.New("code already exists")
)

// LinkRepository defines the data access contract for short links.
type LinkRepository interface {
	// InsertIfAbsent stores link unless its code is taken, in which case it returns ErrCodeExists.
	InsertIfAbsent(ctx context.Context, link *model.Link) error
	GetByCode(ctx context.Context, code string) (*model.Link, error)
	// IncrementClicks adds one click to code. A non-empty eventID is applied at most once.
	IncrementClicks(ctx context.Context, code, eventID string) error
	// ListRecent returns up to limit links, newest first.
	ListRecent(ctx context.Context, limit int) ([]model.Link, error)
}

// ClickLedger keeps track of click events that were already counted.
type ClickLedger interface {
	PruneAppliedBefore(ctx context.Context, before time.Time) (int64, error)
}

// GormLinkRepository persists links through GORM.
type GormLinkRepository struct {
	db *gorm.DB
}

// NewLinkRepository returns a GORM-backed repository. It works on Postgres and SQLite.
func NewLinkRepository(db *gorm.DB) *GormLinkRepository {
	return &GormLinkRepository{db: db}
}

// Models lists the tables the GORM repository needs migrated.
func Models() []interface{} {
	return []interface{}{&model.Link{}, &model.AppliedClick{}}
}

func (r *GormLinkRepository) InsertIfAbsent(ctx context.Context, link *model.Link) error {
	result := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(link)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrCodeExists
	}
	return nil
}

func (r *GormLinkRepository) GetByCode(ctx context.Context, code string) (*model.Link, error) {
	var link model.Link
	if err := r.db.WithContext(ctx).Where("code = ?", code).First(&link).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrLinkNotFound
		}
		return nil, err
	}
	return &link, nil
}

func (r *GormLinkRepository) IncrementClicks(ctx context.Context, code, eventID string) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if eventID != "" {
			mark := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&model.AppliedClick{
				EventID:   eventID,
				LinkCode:  code,
				AppliedAt: time.Now().UTC(),
			})
			if mark.Error != nil {
				return mark.Error
			}
			if mark.RowsAffected == 0 {
				// already counted
				return nil
			}
		}

		result := tx.Model(&model.Link{}).
			Where("code = ?", code).
			UpdateColumn("clicks", gorm.Expr("clicks + ?", 1))
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			return ErrLinkNotFound
		}
		return nil
	})
}

func (r *GormLinkRepository) ListRecent(ctx context.Context, limit int) ([]model.Link, error) {
	if limit <= 0 {
		limit = 20
	}

	var result []model.Link
	if err := r.db.WithContext(ctx).
		Order("created_at DESC").
		Limit(limit).
		Find(&result).Error; err != nil {
		return nil, err
	}

	return result, nil
}

func (r *GormLinkRepository) PruneAppliedBefore(ctx context.Context, before time.Time) (int64, error) {
	result := r.db.WithContext(ctx).
		Where("applied_at < ?", before.UTC()).
		Delete(&model.AppliedClick{})
	return result.RowsAffected, result.Error
}

var (
	_ LinkRepository = (*GormLinkRepository)(nil)
	_ ClickLedger    = (*GormLinkRepository)(nil)
)
