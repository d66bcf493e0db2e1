package model

import "time"

// ClickEvent represents a single visit of a short link.
// ID is unique per visit and doubles as the idempotency key for the click counter.
type ClickEvent struct {
	ID        string    `json:"id"`
	LinkCode  string    `json:"link_code"`
	IP        string    `json:"ip"`
	UserAgent string    `json:"user_agent"`
	Timestamp time.Time `json:"timestamp"`
}

const (
	ClickStreamName     = "CLICKS"
	ClickStreamSubject  = "clicks.events"
	ClickConsumerName   = "click-counter"
	ClickStreamMaxBytes = 1024 * 1024 * 100 // 100MB
	ClickDedupWindow    = 10 * time.Minute
)
