package store

import (
	"context"
	"crypto/sha256"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/voyagen/m3uvault/internal/cache"
	"github.com/voyagen/m3uvault/internal/models"
)

// Cache TTLs for different entity types.
const (
	ttlSubscriptions = 2 * time.Minute
	ttlSubscription  = 5 * time.Minute
	ttlLives         = 1 * time.Minute
	ttlLive          = 5 * time.Minute
	ttlGroups        = 5 * time.Minute
)

const keySubscriptions = "subscriptions:all"

// CachedStore wraps a Store with a caching layer.
// Read-heavy operations are served from cache when possible;
// write operations invalidate the relevant cache keys.
type CachedStore struct {
	inner Store
	cache cache.Cache
	log   zerolog.Logger
}

// NewCachedStore creates a CachedStore that wraps inner with c.
func NewCachedStore(inner Store, c cache.Cache, log zerolog.Logger) *CachedStore {
	return &CachedStore{inner: inner, cache: c, log: log}
}

func subscriptionKey(id int64) string { return fmt.Sprintf("subscription:%d", id) }
func liveKey(id int64) string         { return fmt.Sprintf("live:%d", id) }
func groupsKey(id int64) string       { return fmt.Sprintf("groups:%d", id) }

// --- cached read operations ---

func (c *CachedStore) ListSubscriptions(ctx context.Context) ([]models.Subscription, error) {
	if v, err := cache.Get[[]models.Subscription](ctx, c.cache, keySubscriptions); err == nil {
		return v, nil
	}
	subs, err := c.inner.ListSubscriptions(ctx)
	if err != nil {
		return nil, err
	}
	c.set(ctx, keySubscriptions, subs, ttlSubscriptions)
	return subs, nil
}

func (c *CachedStore) GetSubscription(ctx context.Context, id int64) (*models.Subscription, error) {
	key := subscriptionKey(id)
	if v, err := cache.Get[models.Subscription](ctx, c.cache, key); err == nil {
		return &v, nil
	}
	sub, err := c.inner.GetSubscription(ctx, id)
	if err != nil {
		return nil, err
	}
	c.set(ctx, key, sub, ttlSubscription)
	return sub, nil
}

// liveListResult caches the ListLives tuple.
type liveListResult struct {
	Lives []models.Live `json:"lives"`
	Total int           `json:"total"`
}

func (c *CachedStore) ListLives(ctx context.Context, filter LiveFilter) ([]models.Live, int, error) {
	key := "lives:" + filterHash(filter)
	if v, err := cache.Get[liveListResult](ctx, c.cache, key); err == nil {
		return v.Lives, v.Total, nil
	}
	lives, total, err := c.inner.ListLives(ctx, filter)
	if err != nil {
		return nil, 0, err
	}
	c.set(ctx, key, liveListResult{Lives: lives, Total: total}, ttlLives)
	return lives, total, nil
}

func (c *CachedStore) GetLive(ctx context.Context, id int64) (*models.Live, error) {
	key := liveKey(id)
	if v, err := cache.Get[models.Live](ctx, c.cache, key); err == nil {
		return &v, nil
	}
	live, err := c.inner.GetLive(ctx, id)
	if err != nil {
		return nil, err
	}
	c.set(ctx, key, live, ttlLive)
	return live, nil
}

func (c *CachedStore) ListGroups(ctx context.Context, subscriptionID int64) ([]models.Group, error) {
	key := groupsKey(subscriptionID)
	if v, err := cache.Get[[]models.Group](ctx, c.cache, key); err == nil {
		return v, nil
	}
	groups, err := c.inner.ListGroups(ctx, subscriptionID)
	if err != nil {
		return nil, err
	}
	c.set(ctx, key, groups, ttlGroups)
	return groups, nil
}

// --- write operations with cache invalidation ---

func (c *CachedStore) CreateOrGetSubscription(ctx context.Context, title, url, userAgent string) (int64, error) {
	id, err := c.inner.CreateOrGetSubscription(ctx, title, url, userAgent)
	if err != nil {
		return 0, err
	}
	c.invalidate(ctx, subscriptionKey(id), keySubscriptions)
	return id, nil
}

func (c *CachedStore) UpdateSubscription(ctx context.Context, id int64, fields SubscriptionUpdate) error {
	if err := c.inner.UpdateSubscription(ctx, id, fields); err != nil {
		return err
	}
	c.invalidate(ctx, subscriptionKey(id), keySubscriptions)
	if fields.URL != nil {
		// Lives carry the subscription url.
		c.invalidatePattern(ctx, "lives:*", "live:*")
	}
	return nil
}

func (c *CachedStore) DeleteSubscription(ctx context.Context, id int64) error {
	if err := c.inner.DeleteSubscription(ctx, id); err != nil {
		return err
	}
	c.invalidate(ctx, subscriptionKey(id), keySubscriptions, groupsKey(id))
	c.invalidatePattern(ctx, "lives:*", "live:*")
	return nil
}

func (c *CachedStore) TouchSubscription(ctx context.Context, id int64) error {
	if err := c.inner.TouchSubscription(ctx, id); err != nil {
		return err
	}
	c.invalidate(ctx, subscriptionKey(id), keySubscriptions)
	return nil
}

func (c *CachedStore) ReplaceLives(ctx context.Context, subscriptionID int64, lives []models.Live) (ReplaceResult, error) {
	res, err := c.inner.ReplaceLives(ctx, subscriptionID, lives)
	if err != nil {
		return res, err
	}
	c.invalidate(ctx, subscriptionKey(subscriptionID), keySubscriptions, groupsKey(subscriptionID))
	c.invalidatePattern(ctx, "lives:*", "live:*")
	return res, nil
}

func (c *CachedStore) SetFavourite(ctx context.Context, id int64, favourite bool) error {
	if err := c.inner.SetFavourite(ctx, id, favourite); err != nil {
		return err
	}
	c.invalidate(ctx, liveKey(id))
	c.invalidatePattern(ctx, "lives:*")
	return nil
}

// --- passthrough (no caching) ---

func (c *CachedStore) GetSubscriptionByURL(ctx context.Context, url string) (*models.Subscription, error) {
	return c.inner.GetSubscriptionByURL(ctx, url)
}

// --- helpers ---

func (c *CachedStore) set(ctx context.Context, key string, v any, ttl time.Duration) {
	if err := cache.Set(ctx, c.cache, key, v, ttl); err != nil {
		c.log.Warn().Err(err).Str("key", key).Msg("cache set")
	}
}

// invalidate deletes exact cache keys, logging any errors.
func (c *CachedStore) invalidate(ctx context.Context, keys ...string) {
	if err := c.cache.Del(ctx, keys...); err != nil {
		c.log.Warn().Err(err).Strs("keys", keys).Msg("cache del")
	}
}

// invalidatePattern deletes all keys matching the given glob patterns.
func (c *CachedStore) invalidatePattern(ctx context.Context, patterns ...string) {
	for _, p := range patterns {
		if err := c.cache.DelPattern(ctx, p); err != nil {
			c.log.Warn().Err(err).Str("pattern", p).Msg("cache del pattern")
		}
	}
}

// filterHash produces a short deterministic hash for a LiveFilter so it
// can be used as part of a cache key.
func filterHash(f LiveFilter) string {
	f = f.Normalize()
	var sid, group, fav string
	if f.SubscriptionID != nil {
		sid = fmt.Sprint(*f.SubscriptionID)
	}
	if f.Group != nil {
		group = *f.Group
	}
	if f.Favourite != nil {
		fav = fmt.Sprint(*f.Favourite)
	}
	raw := fmt.Sprintf("%s|%q|%s|%q|%d|%d", sid, group, fav, f.Search, f.Limit, f.Offset)
	h := sha256.Sum256([]byte(raw))
	return fmt.Sprintf("%x", h[:8])
}
