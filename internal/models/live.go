package models

// Live is one playable entry parsed from a playlist (url, title, group, cover).
// ID is zero until the store assigns one.
type Live struct {
	ID              int64        `json:"id,omitempty"`
	SubscriptionID  int64        `json:"subscription_id,omitempty"`
	URL             string       `json:"url"`
	Title           string       `json:"title"`
	Group           string       `json:"group"`
	Cover           string       `json:"cover"`
	SubscriptionURL string       `json:"subscription_url"`
	Duration        int          `json:"duration"`
	TvgID           string       `json:"tvg_id,omitempty"`
	Headers         *LiveHeaders `json:"headers,omitempty"`
	Favourite       bool         `json:"favourite"`
}
