package store

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/voyagen/m3uvault/internal/models"
)

// backends returns a fresh instance of every Store per call. Postgres is
// included when TEST_DATABASE_URL points at a disposable database.
func backends(t *testing.T) map[string]Store {
	t.Helper()
	mem, err := NewMemory()
	require.NoError(t, err)

	b, err := NewBolt(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = b.Close() })

	stores := map[string]Store{"memdb": mem, "bolt": b}
	if pg := testPostgres(t); pg != nil {
		stores["postgres"] = pg
	}
	return stores
}

func testPostgres(t *testing.T) *Postgres {
	t.Helper()
	dsn := os.Getenv("TEST_DATABASE_URL")
	if dsn == "" {
		return nil
	}
	require.NoError(t, RunMigrations(dsn, filepath.Join("..", "..", "migrations"), zerolog.Nop()))
	pg, err := NewPostgres(context.Background(), dsn)
	require.NoError(t, err)
	t.Cleanup(pg.Close)
	_, err = pg.pool.Exec(context.Background(), `TRUNCATE lives, subscriptions RESTART IDENTITY CASCADE`)
	require.NoError(t, err)
	return pg
}

func live(url, title, group string) models.Live {
	return models.Live{URL: url, Title: title, Group: group}
}

func ptr[T any](v T) *T { return &v }

func TestStoreSubscriptions(t *testing.T) {
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			id, err := s.CreateOrGetSubscription(ctx, "first", "http://a/list.m3u", "")
			require.NoError(t, err)
			again, err := s.CreateOrGetSubscription(ctx, "renamed", "http://a/list.m3u", "ua/1")
			require.NoError(t, err)
			assert.Equal(t, id, again)

			sub, err := s.GetSubscription(ctx, id)
			require.NoError(t, err)
			assert.Equal(t, "renamed", sub.Title)
			assert.Equal(t, "ua/1", sub.UserAgent)
			assert.True(t, sub.Enabled)
			assert.NotNil(t, sub.CreatedAt)
			assert.Nil(t, sub.LastUpdated)

			byURL, err := s.GetSubscriptionByURL(ctx, "http://a/list.m3u")
			require.NoError(t, err)
			assert.Equal(t, id, byURL.ID)

			other, err := s.CreateOrGetSubscription(ctx, "second", "http://b/list.m3u", "")
			require.NoError(t, err)
			assert.NotEqual(t, id, other)

			subs, err := s.ListSubscriptions(ctx)
			require.NoError(t, err)
			require.Len(t, subs, 2)
			assert.Equal(t, id, subs[0].ID)
			assert.Equal(t, other, subs[1].ID)

			require.NoError(t, s.UpdateSubscription(ctx, id, SubscriptionUpdate{Enabled: ptr(false), Title: ptr("t")}))
			sub, err = s.GetSubscription(ctx, id)
			require.NoError(t, err)
			assert.False(t, sub.Enabled)
			assert.Equal(t, "t", sub.Title)

			err = s.UpdateSubscription(ctx, id, SubscriptionUpdate{URL: ptr("http://b/list.m3u")})
			assert.ErrorIs(t, err, ErrConflict)

			require.NoError(t, s.TouchSubscription(ctx, id))
			sub, err = s.GetSubscription(ctx, id)
			require.NoError(t, err)
			assert.NotNil(t, sub.LastUpdated)

			require.NoError(t, s.DeleteSubscription(ctx, other))
			_, err = s.GetSubscription(ctx, other)
			assert.ErrorIs(t, err, ErrNotFound)
			assert.ErrorIs(t, s.DeleteSubscription(ctx, other), ErrNotFound)
			assert.ErrorIs(t, s.TouchSubscription(ctx, 9999), ErrNotFound)
			assert.ErrorIs(t, s.UpdateSubscription(ctx, 9999, SubscriptionUpdate{}), ErrNotFound)
		})
	}
}

func TestStoreReplaceLives(t *testing.T) {
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			subURL := "http://a/list.m3u"
			id, err := s.CreateOrGetSubscription(ctx, "a", subURL, "")
			require.NoError(t, err)

			res, err := s.ReplaceLives(ctx, id, []models.Live{
				live("http://x/1", "One", "News"),
				live("http://x/2", "Two", "Sports"),
				live("http://x/1", "One again", "News"),
				live("http://x/3", "Three", "News"),
			})
			require.NoError(t, err)
			assert.Equal(t, ReplaceResult{Inserted: 3, Duplicates: 1}, res)

			lives, total, err := s.ListLives(ctx, LiveFilter{SubscriptionID: &id})
			require.NoError(t, err)
			assert.Equal(t, 3, total)
			require.Len(t, lives, 3)
			assert.Equal(t, "One", lives[0].Title)
			assert.Equal(t, "Two", lives[1].Title)
			assert.Equal(t, "Three", lives[2].Title)
			for _, l := range lives {
				assert.Equal(t, subURL, l.SubscriptionURL)
				assert.Equal(t, id, l.SubscriptionID)
			}

			twoID := lives[1].ID
			require.NoError(t, s.SetFavourite(ctx, twoID, true))

			res, err = s.ReplaceLives(ctx, id, []models.Live{
				live("http://x/2", "Two renamed", "Sports"),
				live("http://x/4", "Four", "Music"),
			})
			require.NoError(t, err)
			assert.Equal(t, ReplaceResult{Inserted: 1, Updated: 1, Removed: 2}, res)

			two, err := s.GetLive(ctx, twoID)
			require.NoError(t, err)
			assert.Equal(t, "Two renamed", two.Title)
			assert.True(t, two.Favourite)
			assert.Equal(t, subURL, two.SubscriptionURL)

			sub, err := s.GetSubscription(ctx, id)
			require.NoError(t, err)
			assert.Equal(t, 2, sub.LiveCount)

			_, err = s.GetLive(ctx, lives[0].ID)
			assert.ErrorIs(t, err, ErrNotFound)

			_, err = s.ReplaceLives(ctx, 9999, nil)
			assert.ErrorIs(t, err, ErrNotFound)
		})
	}
}

func TestStoreListLivesFilters(t *testing.T) {
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			a, err := s.CreateOrGetSubscription(ctx, "a", "http://a", "")
			require.NoError(t, err)
			b, err := s.CreateOrGetSubscription(ctx, "b", "http://b", "")
			require.NoError(t, err)

			_, err = s.ReplaceLives(ctx, a, []models.Live{
				live("http://a/1", "BBC News", "News"),
				live("http://a/2", "Sky Sports", "Sports"),
				live("http://a/3", "CNN", "News"),
			})
			require.NoError(t, err)
			_, err = s.ReplaceLives(ctx, b, []models.Live{
				live("http://a/1", "BBC News copy", "News"),
			})
			require.NoError(t, err)

			_, total, err := s.ListLives(ctx, LiveFilter{})
			require.NoError(t, err)
			assert.Equal(t, 4, total, "same url in two subscriptions is kept twice")

			lives, total, err := s.ListLives(ctx, LiveFilter{SubscriptionID: &a, Group: ptr("News")})
			require.NoError(t, err)
			assert.Equal(t, 2, total)
			assert.Equal(t, "BBC News", lives[0].Title)
			assert.Equal(t, "CNN", lives[1].Title)

			lives, _, err = s.ListLives(ctx, LiveFilter{Search: "news"})
			require.NoError(t, err)
			require.Len(t, lives, 2)
			assert.Equal(t, a, lives[0].SubscriptionID)
			assert.Equal(t, b, lives[1].SubscriptionID)
			assert.Equal(t, "http://b", lives[1].SubscriptionURL)

			lives, total, err = s.ListLives(ctx, LiveFilter{SubscriptionID: &a, Limit: 1, Offset: 1})
			require.NoError(t, err)
			assert.Equal(t, 3, total)
			require.Len(t, lives, 1)
			assert.Equal(t, "Sky Sports", lives[0].Title)

			lives, total, err = s.ListLives(ctx, LiveFilter{SubscriptionID: &a, Offset: 10})
			require.NoError(t, err)
			assert.Equal(t, 3, total)
			assert.Empty(t, lives)

			require.NoError(t, s.SetFavourite(ctx, lives0ID(t, s, a), true))
			lives, _, err = s.ListLives(ctx, LiveFilter{Favourite: ptr(true)})
			require.NoError(t, err)
			require.Len(t, lives, 1)
			assert.Equal(t, "BBC News", lives[0].Title)

			groups, err := s.ListGroups(ctx, a)
			require.NoError(t, err)
			assert.Equal(t, []models.Group{{Name: "News", Count: 2}, {Name: "Sports", Count: 1}}, groups)

			require.NoError(t, s.DeleteSubscription(ctx, a))
			_, total, err = s.ListLives(ctx, LiveFilter{})
			require.NoError(t, err)
			assert.Equal(t, 1, total)
			groups, err = s.ListGroups(ctx, a)
			require.NoError(t, err)
			assert.Empty(t, groups)
		})
	}
}

func TestStoreSearchIsLiteral(t *testing.T) {
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			id, err := s.CreateOrGetSubscription(ctx, "a", "http://a", "")
			require.NoError(t, err)
			_, err = s.ReplaceLives(ctx, id, []models.Live{
				live("http://a/1", "100% Hits", "Music"),
				live("http://a/2", "1000 Hits", "Music"),
				live("http://a/3", "Kids_TV", "Kids"),
				live("http://a/4", "KidsXTV", "Kids"),
				live("http://a/5", `Back\slash`, ""),
			})
			require.NoError(t, err)

			for search, want := range map[string]string{
				"0%":    "100% Hits",
				"s_t":   "Kids_TV",
				`k\s`:   `Back\slash`,
				"HITS%": "",
			} {
				lives, total, err := s.ListLives(ctx, LiveFilter{Search: search})
				require.NoError(t, err)
				if want == "" {
					assert.Zero(t, total, search)
					continue
				}
				require.Len(t, lives, 1, search)
				assert.Equal(t, want, lives[0].Title, search)
			}
		})
	}
}

func TestLikeEscaper(t *testing.T) {
	assert.Equal(t, `100\% a\_b c\\d`, likeEscaper.Replace(`100% a_b c\d`))
}

func lives0ID(t *testing.T, s Store, subscriptionID int64) int64 {
	t.Helper()
	lives, _, err := s.ListLives(context.Background(), LiveFilter{SubscriptionID: &subscriptionID, Limit: 1})
	require.NoError(t, err)
	require.NotEmpty(t, lives)
	return lives[0].ID
}

func TestStoreSubscriptionURLFollowsUpdate(t *testing.T) {
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			id, err := s.CreateOrGetSubscription(ctx, "a", "http://old", "")
			require.NoError(t, err)
			_, err = s.ReplaceLives(ctx, id, []models.Live{live("http://x/1", "One", "")})
			require.NoError(t, err)

			require.NoError(t, s.UpdateSubscription(ctx, id, SubscriptionUpdate{URL: ptr("http://new")}))

			lives, _, err := s.ListLives(ctx, LiveFilter{SubscriptionID: &id})
			require.NoError(t, err)
			require.Len(t, lives, 1)
			assert.Equal(t, "http://new", lives[0].SubscriptionURL)

			_, err = s.GetSubscriptionByURL(ctx, "http://old")
			assert.ErrorIs(t, err, ErrNotFound)
		})
	}
}

func TestLiveFilterNormalize(t *testing.T) {
	assert.Equal(t, 50, LiveFilter{}.Normalize().Limit)
	assert.Equal(t, 200, LiveFilter{Limit: 1000}.Normalize().Limit)
	assert.Equal(t, 0, LiveFilter{Offset: -3}.Normalize().Offset)
}

func TestDedupeLives(t *testing.T) {
	out, dups := dedupeLives([]models.Live{
		live("a", "1", ""), live("", "empty", ""), live("a", "2", ""), live("b", "3", ""),
	})
	assert.Equal(t, 2, dups)
	require.Len(t, out, 2)
	assert.Equal(t, "1", out[0].Title)
	assert.Equal(t, "3", out[1].Title)
}
