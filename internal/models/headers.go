package models

// LiveHeaders holds optional HTTP headers for a live (from EXTVLCOPT).
type LiveHeaders struct {
	Referrer   string `json:"referrer,omitempty"`
	UserAgent  string `json:"user_agent,omitempty"`
	HTTPOrigin string `json:"http_origin,omitempty"`
}

// Empty reports whether no header is set.
func (h *LiveHeaders) Empty() bool {
	return h == nil || (h.Referrer == "" && h.UserAgent == "" && h.HTTPOrigin == "")
}
