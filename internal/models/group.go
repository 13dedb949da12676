package models

// Group is the group-title of one or more lives within a subscription.
// An empty Name is the ungrouped bucket.
type Group struct {
	Name  string `json:"name"`
	Count int    `json:"count"`
}
