package store

import (
	"context"
	"fmt"
	"sort"
	"sync/atomic"
	"time"

	"github.com/hashicorp/go-memdb"

	"github.com/voyagen/m3uvault/internal/models"
)

const (
	tableSubscription = "subscription"
	tableLive         = "live"
)

var memorySchema = &memdb.DBSchema{
	Tables: map[string]*memdb.TableSchema{
		tableSubscription: {
			Name: tableSubscription,
			Indexes: map[string]*memdb.IndexSchema{
				"id": {
					Name:    "id",
					Unique:  true,
					Indexer: &memdb.IntFieldIndex{Field: "ID"},
				},
				"url": {
					Name:    "url",
					Unique:  true,
					Indexer: &memdb.StringFieldIndex{Field: "URL"},
				},
			},
		},
		tableLive: {
			Name: tableLive,
			Indexes: map[string]*memdb.IndexSchema{
				"id": {
					Name:    "id",
					Unique:  true,
					Indexer: &memdb.IntFieldIndex{Field: "ID"},
				},
				"subscription": {
					Name:    "subscription",
					Indexer: &memdb.IntFieldIndex{Field: "SubscriptionID"},
				},
				"subscription_url": {
					Name:   "subscription_url",
					Unique: true,
					Indexer: &memdb.CompoundIndex{
						Indexes: []memdb.Indexer{
							&memdb.IntFieldIndex{Field: "SubscriptionID"},
							&memdb.StringFieldIndex{Field: "URL"},
						},
					},
				},
			},
		},
	},
}

// Memory implements Store in process memory on hashicorp/go-memdb.
// Stored objects are never mutated; every write inserts a copy.
type Memory struct {
	db       *memdb.MemDB
	nextSub  atomic.Int64
	nextLive atomic.Int64
}

// NewMemory returns an empty in-memory store.
func NewMemory() (*Memory, error) {
	db, err := memdb.NewMemDB(memorySchema)
	if err != nil {
		return nil, fmt.Errorf("memdb: %w", err)
	}
	return &Memory{db: db}, nil
}

// --- subscriptions ---

func (m *Memory) CreateOrGetSubscription(_ context.Context, title, url, userAgent string) (int64, error) {
	txn := m.db.Txn(true)
	defer txn.Abort()

	raw, err := txn.First(tableSubscription, "url", url)
	if err != nil {
		return 0, err
	}
	var sub models.Subscription
	if raw != nil {
		sub = *raw.(*models.Subscription)
	} else {
		now := time.Now().UTC()
		sub = models.Subscription{ID: m.nextSub.Add(1), URL: url, Enabled: true, CreatedAt: &now}
	}
	sub.Title = title
	sub.UserAgent = userAgent
	if err := txn.Insert(tableSubscription, &sub); err != nil {
		return 0, err
	}
	txn.Commit()
	return sub.ID, nil
}

func (m *Memory) GetSubscription(_ context.Context, id int64) (*models.Subscription, error) {
	txn := m.db.Txn(false)
	defer txn.Abort()
	return m.subscription(txn, "id", id)
}

func (m *Memory) GetSubscriptionByURL(_ context.Context, url string) (*models.Subscription, error) {
	txn := m.db.Txn(false)
	defer txn.Abort()
	return m.subscription(txn, "url", url)
}

func (m *Memory) subscription(txn *memdb.Txn, index string, arg any) (*models.Subscription, error) {
	raw, err := txn.First(tableSubscription, index, arg)
	if err != nil {
		return nil, err
	}
	if raw == nil {
		return nil, ErrNotFound
	}
	sub := *raw.(*models.Subscription)
	sub.LiveCount, err = countLives(txn, sub.ID)
	if err != nil {
		return nil, err
	}
	return &sub, nil
}

func countLives(txn *memdb.Txn, subscriptionID int64) (int, error) {
	it, err := txn.Get(tableLive, "subscription", subscriptionID)
	if err != nil {
		return 0, err
	}
	n := 0
	for obj := it.Next(); obj != nil; obj = it.Next() {
		n++
	}
	return n, nil
}

func (m *Memory) ListSubscriptions(_ context.Context) ([]models.Subscription, error) {
	txn := m.db.Txn(false)
	defer txn.Abort()

	it, err := txn.Get(tableSubscription, "id")
	if err != nil {
		return nil, err
	}
	var out []models.Subscription
	for obj := it.Next(); obj != nil; obj = it.Next() {
		sub := *obj.(*models.Subscription)
		if sub.LiveCount, err = countLives(txn, sub.ID); err != nil {
			return nil, err
		}
		out = append(out, sub)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *Memory) UpdateSubscription(_ context.Context, id int64, fields SubscriptionUpdate) error {
	txn := m.db.Txn(true)
	defer txn.Abort()

	raw, err := txn.First(tableSubscription, "id", id)
	if err != nil {
		return err
	}
	if raw == nil {
		return ErrNotFound
	}
	sub := *raw.(*models.Subscription)
	if fields.Title != nil {
		sub.Title = *fields.Title
	}
	if fields.URL != nil && *fields.URL != sub.URL {
		other, err := txn.First(tableSubscription, "url", *fields.URL)
		if err != nil {
			return err
		}
		if other != nil {
			return ErrConflict
		}
		sub.URL = *fields.URL
	}
	if fields.UserAgent != nil {
		sub.UserAgent = *fields.UserAgent
	}
	if fields.Enabled != nil {
		sub.Enabled = *fields.Enabled
	}
	if err := txn.Insert(tableSubscription, &sub); err != nil {
		return err
	}
	txn.Commit()
	return nil
}

func (m *Memory) DeleteSubscription(_ context.Context, id int64) error {
	txn := m.db.Txn(true)
	defer txn.Abort()

	raw, err := txn.First(tableSubscription, "id", id)
	if err != nil {
		return err
	}
	if raw == nil {
		return ErrNotFound
	}
	if err := txn.Delete(tableSubscription, raw); err != nil {
		return err
	}
	if _, err := txn.DeleteAll(tableLive, "subscription", id); err != nil {
		return err
	}
	txn.Commit()
	return nil
}

func (m *Memory) TouchSubscription(_ context.Context, id int64) error {
	txn := m.db.Txn(true)
	defer txn.Abort()

	raw, err := txn.First(tableSubscription, "id", id)
	if err != nil {
		return err
	}
	if raw == nil {
		return ErrNotFound
	}
	sub := *raw.(*models.Subscription)
	now := time.Now().UTC()
	sub.LastUpdated = &now
	if err := txn.Insert(tableSubscription, &sub); err != nil {
		return err
	}
	txn.Commit()
	return nil
}

// --- lives ---

func (m *Memory) ReplaceLives(_ context.Context, subscriptionID int64, lives []models.Live) (ReplaceResult, error) {
	var res ReplaceResult
	txn := m.db.Txn(true)
	defer txn.Abort()

	raw, err := txn.First(tableSubscription, "id", subscriptionID)
	if err != nil {
		return res, err
	}
	if raw == nil {
		return res, ErrNotFound
	}

	existing := make(map[string]*liveRow)
	it, err := txn.Get(tableLive, "subscription", subscriptionID)
	if err != nil {
		return res, err
	}
	for obj := it.Next(); obj != nil; obj = it.Next() {
		r := obj.(*liveRow)
		existing[r.URL] = r
	}

	unique, dups := dedupeLives(lives)
	res.Duplicates = dups
	keep := make(map[int64]struct{}, len(unique))
	for i, l := range unique {
		row := &liveRow{Live: l, Position: i}
		row.SubscriptionID = subscriptionID
		row.SubscriptionURL = ""
		if old, ok := existing[l.URL]; ok {
			row.ID = old.ID
			row.Favourite = old.Favourite
			res.Updated++
		} else {
			row.ID = m.nextLive.Add(1)
			row.Favourite = false
			res.Inserted++
		}
		if err := txn.Insert(tableLive, row); err != nil {
			return res, err
		}
		keep[row.ID] = struct{}{}
	}
	for _, old := range existing {
		if _, ok := keep[old.ID]; ok {
			continue
		}
		if err := txn.Delete(tableLive, old); err != nil {
			return res, err
		}
		res.Removed++
	}
	txn.Commit()
	return res, nil
}

func (m *Memory) ListLives(_ context.Context, filter LiveFilter) ([]models.Live, int, error) {
	txn := m.db.Txn(false)
	defer txn.Abort()

	var (
		it  memdb.ResultIterator
		err error
	)
	if filter.SubscriptionID != nil {
		it, err = txn.Get(tableLive, "subscription", *filter.SubscriptionID)
	} else {
		it, err = txn.Get(tableLive, "id")
	}
	if err != nil {
		return nil, 0, err
	}
	urls, err := subscriptionURLs(txn)
	if err != nil {
		return nil, 0, err
	}
	var rows []*liveRow
	for obj := it.Next(); obj != nil; obj = it.Next() {
		r := *obj.(*liveRow)
		r.SubscriptionURL = urls[r.SubscriptionID]
		rows = append(rows, &r)
	}
	out, total := pageRows(rows, filter)
	return out, total, nil
}

func subscriptionURLs(txn *memdb.Txn) (map[int64]string, error) {
	it, err := txn.Get(tableSubscription, "id")
	if err != nil {
		return nil, err
	}
	urls := make(map[int64]string)
	for obj := it.Next(); obj != nil; obj = it.Next() {
		s := obj.(*models.Subscription)
		urls[s.ID] = s.URL
	}
	return urls, nil
}

func (m *Memory) GetLive(_ context.Context, id int64) (*models.Live, error) {
	txn := m.db.Txn(false)
	defer txn.Abort()

	raw, err := txn.First(tableLive, "id", id)
	if err != nil {
		return nil, err
	}
	if raw == nil {
		return nil, ErrNotFound
	}
	l := raw.(*liveRow).Live
	if sub, err := txn.First(tableSubscription, "id", l.SubscriptionID); err == nil && sub != nil {
		l.SubscriptionURL = sub.(*models.Subscription).URL
	}
	return &l, nil
}

func (m *Memory) SetFavourite(_ context.Context, id int64, favourite bool) error {
	txn := m.db.Txn(true)
	defer txn.Abort()

	raw, err := txn.First(tableLive, "id", id)
	if err != nil {
		return err
	}
	if raw == nil {
		return ErrNotFound
	}
	r := *raw.(*liveRow)
	r.Favourite = favourite
	if err := txn.Insert(tableLive, &r); err != nil {
		return err
	}
	txn.Commit()
	return nil
}

func (m *Memory) ListGroups(_ context.Context, subscriptionID int64) ([]models.Group, error) {
	txn := m.db.Txn(false)
	defer txn.Abort()

	it, err := txn.Get(tableLive, "subscription", subscriptionID)
	if err != nil {
		return nil, err
	}
	var rows []*liveRow
	for obj := it.Next(); obj != nil; obj = it.Next() {
		rows = append(rows, obj.(*liveRow))
	}
	return groupRows(rows), nil
}
