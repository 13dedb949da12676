package store

import (
	"context"
	"errors"
	"sort"
	"strings"

	"github.com/voyagen/m3uvault/internal/models"
)

var (
	// ErrNotFound is returned when a subscription or live does not exist.
	ErrNotFound = errors.New("not found")
	// ErrConflict is returned when a subscription url is already taken.
	ErrConflict = errors.New("conflict")
)

// Page size bounds for ListLives.
const (
	DefaultLimit = 50
	MaxLimit     = 200
)

// Store defines persistence for subscriptions and their lives.
type Store interface {
	// CreateOrGetSubscription creates a subscription by url if not exists, returns id.
	// An existing subscription keeps its id; title and user agent are updated.
	CreateOrGetSubscription(ctx context.Context, title, url, userAgent string) (int64, error)
	// GetSubscription returns a single subscription by id.
	GetSubscription(ctx context.Context, id int64) (*models.Subscription, error)
	// GetSubscriptionByURL returns a single subscription by its playlist url.
	GetSubscriptionByURL(ctx context.Context, url string) (*models.Subscription, error)
	// ListSubscriptions returns all subscriptions ordered by id.
	ListSubscriptions(ctx context.Context) ([]models.Subscription, error)
	// UpdateSubscription updates mutable fields of a subscription.
	UpdateSubscription(ctx context.Context, id int64, fields SubscriptionUpdate) error
	// DeleteSubscription deletes a subscription and its lives.
	DeleteSubscription(ctx context.Context, id int64) error
	// TouchSubscription sets last_updated for the subscription.
	TouchSubscription(ctx context.Context, id int64) error

	// ReplaceLives makes lives the full set of the subscription, in order.
	// Lives whose url already exists keep their id and favourite flag;
	// stored lives absent from the new set are removed.
	ReplaceLives(ctx context.Context, subscriptionID int64, lives []models.Live) (ReplaceResult, error)
	// ListLives returns lives matching the filter in playlist order and the
	// total count before limit/offset.
	ListLives(ctx context.Context, filter LiveFilter) ([]models.Live, int, error)
	// GetLive returns a single live by id.
	GetLive(ctx context.Context, id int64) (*models.Live, error)
	// SetFavourite sets the favourite flag on a live.
	SetFavourite(ctx context.Context, id int64, favourite bool) error
	// ListGroups returns the groups of a subscription in first-appearance order.
	ListGroups(ctx context.Context, subscriptionID int64) ([]models.Group, error)
}

// LiveFilter holds optional filters for listing lives.
type LiveFilter struct {
	SubscriptionID *int64
	Group          *string
	Favourite      *bool
	Search         string // case-insensitive substring match on title
	Limit          int    // default 50, max 200
	Offset         int
}

// SubscriptionUpdate holds mutable fields for PATCH /subscriptions/{id}.
// Pointer fields: nil = don't change, non-nil = set.
type SubscriptionUpdate struct {
	Title     *string
	URL       *string
	UserAgent *string
	Enabled   *bool
}

// ReplaceResult reports what ReplaceLives changed.
type ReplaceResult struct {
	Inserted int `json:"inserted"`
	Updated  int `json:"updated"`
	Removed  int `json:"removed"`
	// Duplicates counts lives dropped because their url appeared earlier in the same set.
	Duplicates int `json:"duplicates"`
}

// Normalize applies the default and maximum limit.
func (f LiveFilter) Normalize() LiveFilter {
	if f.Limit <= 0 {
		f.Limit = DefaultLimit
	}
	if f.Limit > MaxLimit {
		f.Limit = MaxLimit
	}
	if f.Offset < 0 {
		f.Offset = 0
	}
	return f
}

// dedupeLives keeps the first live for every url.
func dedupeLives(lives []models.Live) ([]models.Live, int) {
	seen := make(map[string]struct{}, len(lives))
	out := make([]models.Live, 0, len(lives))
	for _, l := range lives {
		if l.URL == "" {
			continue
		}
		if _, ok := seen[l.URL]; ok {
			continue
		}
		seen[l.URL] = struct{}{}
		out = append(out, l)
	}
	return out, len(lives) - len(out)
}

// liveRow is a live plus its playlist position, as kept by the embedded backends.
type liveRow struct {
	models.Live
	Position int `json:"position"`
}

func (f LiveFilter) match(r *liveRow) bool {
	if f.SubscriptionID != nil && r.SubscriptionID != *f.SubscriptionID {
		return false
	}
	if f.Group != nil && r.Group != *f.Group {
		return false
	}
	if f.Favourite != nil && r.Favourite != *f.Favourite {
		return false
	}
	if f.Search != "" && !strings.Contains(strings.ToLower(r.Title), strings.ToLower(f.Search)) {
		return false
	}
	return true
}

// pageRows filters, orders and paginates rows for the embedded backends.
func pageRows(rows []*liveRow, f LiveFilter) ([]models.Live, int) {
	f = f.Normalize()
	var matched []*liveRow
	for _, r := range rows {
		if f.match(r) {
			matched = append(matched, r)
		}
	}
	sort.SliceStable(matched, func(i, j int) bool {
		if matched[i].SubscriptionID != matched[j].SubscriptionID {
			return matched[i].SubscriptionID < matched[j].SubscriptionID
		}
		return matched[i].Position < matched[j].Position
	})
	total := len(matched)
	if f.Offset >= total {
		return []models.Live{}, total
	}
	end := f.Offset + f.Limit
	if end > total {
		end = total
	}
	out := make([]models.Live, 0, end-f.Offset)
	for _, r := range matched[f.Offset:end] {
		out = append(out, r.Live)
	}
	return out, total
}

// groupRows counts rows per group in first-appearance order.
func groupRows(rows []*liveRow) []models.Group {
	sort.SliceStable(rows, func(i, j int) bool { return rows[i].Position < rows[j].Position })
	idx := make(map[string]int)
	groups := []models.Group{}
	for _, r := range rows {
		i, ok := idx[r.Group]
		if !ok {
			i = len(groups)
			idx[r.Group] = i
			groups = append(groups, models.Group{Name: r.Group})
		}
		groups[i].Count++
	}
	return groups
}
