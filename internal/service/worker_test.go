package service

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/voyagen/m3uvault/internal/cache"
	"github.com/voyagen/m3uvault/internal/store"
)

// TestWorkerProcessesQueuedRefresh needs a scratch Redis; set TEST_REDIS_URL to run it.
func TestWorkerProcessesQueuedRefresh(t *testing.T) {
	redisURL := os.Getenv("TEST_REDIS_URL")
	if redisURL == "" {
		t.Skip("TEST_REDIS_URL not set")
	}
	rc, err := cache.New(redisURL)
	require.NoError(t, err)
	t.Cleanup(func() { _ = rc.Close() })

	r, s, pl, srv := setup(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	pl.set("/a.m3u", playlistV1)
	res, err := r.Subscribe(ctx, srv.URL+"/a.m3u", "a", "")
	require.NoError(t, err)
	pl.set("/a.m3u", playlistV2)

	w := NewWorker(rc, r, zerolog.Nop())
	w.queue = "m3uvault:test:" + t.Name()
	go w.Run(ctx)

	runID, err := w.Enqueue(ctx, res.SubscriptionID)
	require.NoError(t, err)
	assert.NotEmpty(t, runID)

	require.Eventually(t, func() bool {
		lives, _, err := s.ListLives(ctx, store.LiveFilter{SubscriptionID: &res.SubscriptionID, Group: ptr("Music")})
		return err == nil && len(lives) == 1
	}, 10*time.Second, 50*time.Millisecond)

	_, err = w.Enqueue(ctx, 9999)
	assert.ErrorIs(t, err, store.ErrNotFound)
}
