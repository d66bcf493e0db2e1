package model

import "time"

// Link describes the core short-link entity. Code and URL never change once stored;
// Clicks only moves through the store's atomic increment.
type Link struct {
	Code      string    `db:"code" gorm:"primaryKey;size:32" json:"code"`
	ID        string    `db:"id" gorm:"size:36;uniqueIndex;not null" json:"id"`
	URL       string    `db:"url" gorm:"type:text;not null" json:"url"`
	Clicks    int64     `db:"clicks" gorm:"not null" json:"clicks"`
	CreatedAt time.Time `db:"created_at" gorm:"index;not null" json:"created_at"`
}

// AppliedClick marks a click event whose increment has already been applied.
type AppliedClick struct {
	EventID   string    `db:"event_id" gorm:"primaryKey;size:36"`
	LinkCode  string    `db:"link_code" gorm:"size:32;not null"`
	AppliedAt time.Time `db:"applied_at" gorm:"index;not null"`
}
