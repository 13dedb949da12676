package models

import "time"

// Subscription is a user-added playlist source identified by its fetch URL.
type Subscription struct {
	ID          int64      `json:"id,omitempty"`
	Title       string     `json:"title"`
	URL         string     `json:"url"`
	UserAgent   string     `json:"user_agent,omitempty"`
	Enabled     bool       `json:"enabled"`
	LiveCount   int        `json:"live_count"`
	LastUpdated *time.Time `json:"last_updated,omitempty"`
	CreatedAt   *time.Time `json:"created_at,omitempty"`
}
