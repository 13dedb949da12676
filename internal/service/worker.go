package service

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/voyagen/m3uvault/internal/cache"
)

const (
	dequeueTimeout = 5 * time.Second
	errorBackoff   = time.Second
)

// Worker consumes refresh jobs from a Redis queue so refreshes requested
// through the API can run on any instance.
type Worker struct {
	redis     *cache.Redis
	queue     string
	refresher *Refresher
	log       zerolog.Logger
}

// NewWorker returns a Worker reading cache.DefaultQueue.
func NewWorker(r *cache.Redis, refresher *Refresher, log zerolog.Logger) *Worker {
	return &Worker{redis: r, queue: cache.DefaultQueue, refresher: refresher, log: log}
}

// Enqueue checks that the subscription can be refreshed and queues a job
// for it. It returns the run id the job will log under.
func (w *Worker) Enqueue(ctx context.Context, subscriptionID int64) (string, error) {
	sub, err := w.refresher.store.GetSubscription(ctx, subscriptionID)
	if err != nil {
		return "", err
	}
	if !sub.Enabled {
		return "", ErrDisabled
	}
	job := cache.RefreshJob{
		SubscriptionID: subscriptionID,
		RunID:          uuid.NewString(),
		RequestedAt:    time.Now().UTC(),
	}
	if err := cache.Enqueue(ctx, w.redis, w.queue, job); err != nil {
		return "", err
	}
	return job.RunID, nil
}

// Run processes jobs until ctx is cancelled.
func (w *Worker) Run(ctx context.Context) {
	w.log.Info().Str("queue", w.queue).Msg("refresh worker started")
	for {
		if ctx.Err() != nil {
			w.log.Info().Msg("refresh worker stopped")
			return
		}
		job, err := cache.Dequeue(ctx, w.redis, w.queue, dequeueTimeout)
		if err != nil {
			w.log.Error().Err(err).Msg("dequeue")
			select {
			case <-ctx.Done():
			case <-time.After(errorBackoff):
			}
			continue
		}
		if job == nil {
			continue
		}
		w.handle(ctx, job)
	}
}

func (w *Worker) handle(ctx context.Context, job *cache.RefreshJob) {
	runID := job.RunID
	if runID == "" {
		runID = uuid.NewString()
	}
	log := w.log.With().Str("run_id", runID).Int64("subscription_id", job.SubscriptionID).Logger()
	log.Debug().Dur("queued_for", time.Since(job.RequestedAt)).Msg("job received")
	if _, err := w.refresher.refresh(ctx, job.SubscriptionID, runID); err != nil {
		log.Warn().Err(err).Msg("queued refresh failed")
	}
}
