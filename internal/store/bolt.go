package store

import (
	"context"
	"encoding/binary"
	"fmt"
	"time"

	"github.com/goccy/go-json"
	bolt "go.etcd.io/bbolt"

	"github.com/voyagen/m3uvault/internal/models"
)

var (
	bucketSubscriptions    = []byte("subscriptions")
	bucketSubscriptionURLs = []byte("subscription_urls")
	bucketLives            = []byte("lives")
	bucketLiveIndex        = []byte("live_index")
)

// Bolt implements Store on a single bbolt file.
//
// Layout: subscriptions (id -> json), subscription_urls (url -> id),
// lives (subscription id -> nested bucket of live id -> json) and
// live_index (live id -> subscription id).
type Bolt struct {
	db *bolt.DB
}

// NewBolt opens or creates the database file at path.
func NewBolt(path string) (*Bolt, error) {
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("bolt open: %w", err)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		for _, name := range [][]byte{bucketSubscriptions, bucketSubscriptionURLs, bucketLives, bucketLiveIndex} {
			if _, err := tx.CreateBucketIfNotExists(name); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("bolt init: %w", err)
	}
	return &Bolt{db: db}, nil
}

// Close closes the database file.
func (b *Bolt) Close() error {
	return b.db.Close()
}

func itob(v int64) []byte {
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, uint64(v))
	return buf
}

func btoi(b []byte) int64 {
	return int64(binary.BigEndian.Uint64(b))
}

// --- subscriptions ---

func getSubscription(tx *bolt.Tx, id int64) (*models.Subscription, error) {
	raw := tx.Bucket(bucketSubscriptions).Get(itob(id))
	if raw == nil {
		return nil, ErrNotFound
	}
	var sub models.Subscription
	if err := json.Unmarshal(raw, &sub); err != nil {
		return nil, fmt.Errorf("decode subscription %d: %w", id, err)
	}
	if lives := tx.Bucket(bucketLives).Bucket(itob(id)); lives != nil {
		c := lives.Cursor()
		for k, _ := c.First(); k != nil; k, _ = c.Next() {
			sub.LiveCount++
		}
	}
	return &sub, nil
}

func putSubscription(tx *bolt.Tx, sub *models.Subscription) error {
	stored := *sub
	stored.LiveCount = 0
	raw, err := json.Marshal(&stored)
	if err != nil {
		return err
	}
	return tx.Bucket(bucketSubscriptions).Put(itob(sub.ID), raw)
}

func (b *Bolt) CreateOrGetSubscription(_ context.Context, title, url, userAgent string) (int64, error) {
	var id int64
	err := b.db.Update(func(tx *bolt.Tx) error {
		urls := tx.Bucket(bucketSubscriptionURLs)
		var sub *models.Subscription
		if raw := urls.Get([]byte(url)); raw != nil {
			existing, err := getSubscription(tx, btoi(raw))
			if err != nil {
				return err
			}
			sub = existing
		} else {
			seq, err := tx.Bucket(bucketSubscriptions).NextSequence()
			if err != nil {
				return err
			}
			now := time.Now().UTC()
			sub = &models.Subscription{ID: int64(seq), URL: url, Enabled: true, CreatedAt: &now}
			if err := urls.Put([]byte(url), itob(sub.ID)); err != nil {
				return err
			}
		}
		sub.Title = title
		sub.UserAgent = userAgent
		id = sub.ID
		return putSubscription(tx, sub)
	})
	return id, err
}

func (b *Bolt) GetSubscription(_ context.Context, id int64) (*models.Subscription, error) {
	var sub *models.Subscription
	err := b.db.View(func(tx *bolt.Tx) error {
		var err error
		sub, err = getSubscription(tx, id)
		return err
	})
	return sub, err
}

func (b *Bolt) GetSubscriptionByURL(_ context.Context, url string) (*models.Subscription, error) {
	var sub *models.Subscription
	err := b.db.View(func(tx *bolt.Tx) error {
		raw := tx.Bucket(bucketSubscriptionURLs).Get([]byte(url))
		if raw == nil {
			return ErrNotFound
		}
		var err error
		sub, err = getSubscription(tx, btoi(raw))
		return err
	})
	return sub, err
}

func (b *Bolt) ListSubscriptions(_ context.Context) ([]models.Subscription, error) {
	var out []models.Subscription
	err := b.db.View(func(tx *bolt.Tx) error {
		// Big-endian keys iterate in id order.
		return tx.Bucket(bucketSubscriptions).ForEach(func(k, _ []byte) error {
			sub, err := getSubscription(tx, btoi(k))
			if err != nil {
				return err
			}
			out = append(out, *sub)
			return nil
		})
	})
	return out, err
}

func (b *Bolt) UpdateSubscription(_ context.Context, id int64, fields SubscriptionUpdate) error {
	return b.db.Update(func(tx *bolt.Tx) error {
		sub, err := getSubscription(tx, id)
		if err != nil {
			return err
		}
		if fields.Title != nil {
			sub.Title = *fields.Title
		}
		if fields.URL != nil && *fields.URL != sub.URL {
			urls := tx.Bucket(bucketSubscriptionURLs)
			if urls.Get([]byte(*fields.URL)) != nil {
				return ErrConflict
			}
			if err := urls.Delete([]byte(sub.URL)); err != nil {
				return err
			}
			if err := urls.Put([]byte(*fields.URL), itob(id)); err != nil {
				return err
			}
			sub.URL = *fields.URL
		}
		if fields.UserAgent != nil {
			sub.UserAgent = *fields.UserAgent
		}
		if fields.Enabled != nil {
			sub.Enabled = *fields.Enabled
		}
		return putSubscription(tx, sub)
	})
}

func (b *Bolt) DeleteSubscription(_ context.Context, id int64) error {
	return b.db.Update(func(tx *bolt.Tx) error {
		sub, err := getSubscription(tx, id)
		if err != nil {
			return err
		}
		lives := tx.Bucket(bucketLives)
		if nested := lives.Bucket(itob(id)); nested != nil {
			index := tx.Bucket(bucketLiveIndex)
			if err := nested.ForEach(func(k, _ []byte) error { return index.Delete(k) }); err != nil {
				return err
			}
			if err := lives.DeleteBucket(itob(id)); err != nil {
				return err
			}
		}
		if err := tx.Bucket(bucketSubscriptionURLs).Delete([]byte(sub.URL)); err != nil {
			return err
		}
		return tx.Bucket(bucketSubscriptions).Delete(itob(id))
	})
}

func (b *Bolt) TouchSubscription(_ context.Context, id int64) error {
	return b.db.Update(func(tx *bolt.Tx) error {
		sub, err := getSubscription(tx, id)
		if err != nil {
			return err
		}
		now := time.Now().UTC()
		sub.LastUpdated = &now
		return putSubscription(tx, sub)
	})
}

// --- lives ---

func decodeRow(raw []byte) (*liveRow, error) {
	var r liveRow
	if err := json.Unmarshal(raw, &r); err != nil {
		return nil, fmt.Errorf("decode live: %w", err)
	}
	return &r, nil
}

func putRow(bucket, index *bolt.Bucket, r *liveRow) error {
	stored := *r
	stored.SubscriptionURL = ""
	raw, err := json.Marshal(&stored)
	if err != nil {
		return err
	}
	if err := bucket.Put(itob(r.ID), raw); err != nil {
		return err
	}
	return index.Put(itob(r.ID), itob(r.SubscriptionID))
}

// subscriptionRows decodes every live of one subscription with its url filled in.
func subscriptionRows(tx *bolt.Tx, subscriptionID int64) ([]*liveRow, error) {
	nested := tx.Bucket(bucketLives).Bucket(itob(subscriptionID))
	if nested == nil {
		return nil, nil
	}
	var url string
	if raw := tx.Bucket(bucketSubscriptions).Get(itob(subscriptionID)); raw != nil {
		var sub models.Subscription
		if err := json.Unmarshal(raw, &sub); err == nil {
			url = sub.URL
		}
	}
	var rows []*liveRow
	err := nested.ForEach(func(_, v []byte) error {
		r, err := decodeRow(v)
		if err != nil {
			return err
		}
		r.SubscriptionURL = url
		rows = append(rows, r)
		return nil
	})
	return rows, err
}

func (b *Bolt) ReplaceLives(_ context.Context, subscriptionID int64, lives []models.Live) (ReplaceResult, error) {
	var res ReplaceResult
	err := b.db.Update(func(tx *bolt.Tx) error {
		res = ReplaceResult{}
		if tx.Bucket(bucketSubscriptions).Get(itob(subscriptionID)) == nil {
			return ErrNotFound
		}
		nested, err := tx.Bucket(bucketLives).CreateBucketIfNotExists(itob(subscriptionID))
		if err != nil {
			return err
		}
		index := tx.Bucket(bucketLiveIndex)

		current, err := subscriptionRows(tx, subscriptionID)
		if err != nil {
			return err
		}
		existing := make(map[string]*liveRow, len(current))
		for _, r := range current {
			existing[r.URL] = r
		}

		unique, dups := dedupeLives(lives)
		res.Duplicates = dups
		keep := make(map[int64]struct{}, len(unique))
		for i, l := range unique {
			row := &liveRow{Live: l, Position: i}
			row.SubscriptionID = subscriptionID
			if old, ok := existing[l.URL]; ok {
				row.ID = old.ID
				row.Favourite = old.Favourite
				res.Updated++
			} else {
				seq, err := index.NextSequence()
				if err != nil {
					return err
				}
				row.ID = int64(seq)
				row.Favourite = false
				res.Inserted++
			}
			if err := putRow(nested, index, row); err != nil {
				return err
			}
			keep[row.ID] = struct{}{}
		}
		for _, old := range current {
			if _, ok := keep[old.ID]; ok {
				continue
			}
			if err := nested.Delete(itob(old.ID)); err != nil {
				return err
			}
			if err := index.Delete(itob(old.ID)); err != nil {
				return err
			}
			res.Removed++
		}
		return nil
	})
	if err != nil {
		return ReplaceResult{}, err
	}
	return res, nil
}

func (b *Bolt) ListLives(_ context.Context, filter LiveFilter) ([]models.Live, int, error) {
	var rows []*liveRow
	err := b.db.View(func(tx *bolt.Tx) error {
		if filter.SubscriptionID != nil {
			var err error
			rows, err = subscriptionRows(tx, *filter.SubscriptionID)
			return err
		}
		return tx.Bucket(bucketLives).ForEach(func(k, _ []byte) error {
			sub, err := subscriptionRows(tx, btoi(k))
			rows = append(rows, sub...)
			return err
		})
	})
	if err != nil {
		return nil, 0, err
	}
	out, total := pageRows(rows, filter)
	return out, total, nil
}

func (b *Bolt) findLive(tx *bolt.Tx, id int64) (*liveRow, *bolt.Bucket, error) {
	subRaw := tx.Bucket(bucketLiveIndex).Get(itob(id))
	if subRaw == nil {
		return nil, nil, ErrNotFound
	}
	nested := tx.Bucket(bucketLives).Bucket(subRaw)
	if nested == nil {
		return nil, nil, ErrNotFound
	}
	raw := nested.Get(itob(id))
	if raw == nil {
		return nil, nil, ErrNotFound
	}
	r, err := decodeRow(raw)
	return r, nested, err
}

func (b *Bolt) GetLive(_ context.Context, id int64) (*models.Live, error) {
	var live *models.Live
	err := b.db.View(func(tx *bolt.Tx) error {
		r, _, err := b.findLive(tx, id)
		if err != nil {
			return err
		}
		if sub, err := getSubscription(tx, r.SubscriptionID); err == nil {
			r.SubscriptionURL = sub.URL
		}
		live = &r.Live
		return nil
	})
	return live, err
}

func (b *Bolt) SetFavourite(_ context.Context, id int64, favourite bool) error {
	return b.db.Update(func(tx *bolt.Tx) error {
		r, nested, err := b.findLive(tx, id)
		if err != nil {
			return err
		}
		r.Favourite = favourite
		return putRow(nested, tx.Bucket(bucketLiveIndex), r)
	})
}

func (b *Bolt) ListGroups(_ context.Context, subscriptionID int64) ([]models.Group, error) {
	var groups []models.Group
	err := b.db.View(func(tx *bolt.Tx) error {
		rows, err := subscriptionRows(tx, subscriptionID)
		if err != nil {
			return err
		}
		groups = groupRows(rows)
		return nil
	})
	return groups, err
}
