// Package service ties fetching, parsing and storage together into
// subscription refreshes.
package service

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"net/url"
	"path"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gosimple/slug"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/voyagen/m3uvault/internal/cache"
	"github.com/voyagen/m3uvault/internal/fetcher"
	"github.com/voyagen/m3uvault/internal/logging"
	"github.com/voyagen/m3uvault/internal/m3u"
	"github.com/voyagen/m3uvault/internal/metrics"
	"github.com/voyagen/m3uvault/internal/models"
	"github.com/voyagen/m3uvault/internal/store"
)

var (
	// ErrDisabled is returned when refreshing a disabled subscription.
	ErrDisabled = errors.New("subscription is disabled")
	// ErrRefreshInProgress is returned when the subscription is already being refreshed.
	ErrRefreshInProgress = errors.New("refresh already in progress")
	// ErrInvalidURL is returned for subscription urls that cannot be fetched.
	ErrInvalidURL = errors.New("invalid subscription url")
)

const (
	defaultConcurrency = 4
	defaultLockTTL     = 5 * time.Minute
	lockPrefix         = "m3uvault:refresh:"
)

// RefreshResult summarises one refresh run.
type RefreshResult struct {
	SubscriptionID int64  `json:"subscription_id"`
	RunID          string `json:"run_id"`
	Emitted        int    `json:"emitted"`
	Skipped        int    `json:"skipped"`
	Inserted       int    `json:"inserted"`
	Updated        int    `json:"updated"`
	Removed        int    `json:"removed"`
	Duplicates     int    `json:"duplicates"`
}

// Refresher fetches subscriptions and replaces their stored lives.
type Refresher struct {
	store       store.Store
	fetcher     *fetcher.Fetcher
	inflight    *cache.LocalLocker
	locker      cache.Locker
	opts        m3u.Options
	concurrency int
	lockTTL     time.Duration
	log         zerolog.Logger
	redact      logging.Redactor
	allowLocal  bool
}

// Option configures a Refresher.
type Option func(*Refresher)

// WithLocker adds a lock shared across instances, e.g. cache.RedisLocker.
func WithLocker(l cache.Locker) Option {
	return func(r *Refresher) { r.locker = l }
}

// WithParserOptions sets the attribute handling used for every parse.
func WithParserOptions(o m3u.Options) Option {
	return func(r *Refresher) { r.opts = o }
}

// WithConcurrency bounds how many subscriptions RefreshAll fetches at once.
func WithConcurrency(n int) Option {
	return func(r *Refresher) {
		if n > 0 {
			r.concurrency = n
		}
	}
}

func WithLogger(l zerolog.Logger) Option {
	return func(r *Refresher) { r.log = l }
}

// WithRedactor hides playlist urls in logs.
func WithRedactor(red logging.Redactor) Option {
	return func(r *Refresher) { r.redact = red }
}

// WithAllowLocal lets subscriptions point at file:// urls and bare paths
// on the host. Off by default.
func WithAllowLocal(allow bool) Option {
	return func(r *Refresher) { r.allowLocal = allow }
}

// NewRefresher returns a Refresher over s using f to download playlists.
func NewRefresher(s store.Store, f *fetcher.Fetcher, opts ...Option) *Refresher {
	r := &Refresher{
		store:       s,
		fetcher:     f,
		inflight:    cache.NewLocalLocker(),
		opts:        m3u.DefaultOptions(),
		concurrency: defaultConcurrency,
		lockTTL:     defaultLockTTL,
		log:         zerolog.Nop(),
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

// Subscribe fetches and parses rawURL, then creates (or reuses) its
// subscription and stores the lives. A playlist that fails to parse
// creates nothing. title is derived from the url when empty.
func (r *Refresher) Subscribe(ctx context.Context, rawURL, title, userAgent string) (RefreshResult, error) {
	res, err := r.subscribe(ctx, strings.TrimSpace(rawURL), title, userAgent)
	return res, r.redact.Wrap(err)
}

func (r *Refresher) subscribe(ctx context.Context, rawURL, title, userAgent string) (RefreshResult, error) {
	if err := r.ValidateURL(rawURL); err != nil {
		return RefreshResult{}, err
	}
	if title == "" {
		title = TitleFromURL(rawURL)
	}
	unlock, err := r.lock(ctx, rawURL)
	if err != nil {
		return RefreshResult{}, err
	}
	defer unlock()

	runID := uuid.NewString()
	start := time.Now()
	defer metrics.ObserveRefresh(start)

	lives, stats, err := r.fetch(ctx, runID, rawURL, userAgent)
	if err != nil {
		return RefreshResult{RunID: runID}, err
	}
	id, err := r.store.CreateOrGetSubscription(ctx, title, rawURL, userAgent)
	if err != nil {
		metrics.RecordParse(metrics.ResultStore, 0, 0)
		return RefreshResult{RunID: runID}, fmt.Errorf("CreateOrGetSubscription: %w", err)
	}
	return r.save(ctx, runID, id, lives, stats)
}

// Refresh re-fetches an existing, enabled subscription and replaces its lives.
// On any fetch or parse failure the stored lives are left untouched.
func (r *Refresher) Refresh(ctx context.Context, id int64) (RefreshResult, error) {
	return r.refresh(ctx, id, uuid.NewString())
}

func (r *Refresher) refresh(ctx context.Context, id int64, runID string) (RefreshResult, error) {
	res, err := r.refreshOnce(ctx, id, runID)
	return res, r.redact.Wrap(err)
}

func (r *Refresher) refreshOnce(ctx context.Context, id int64, runID string) (RefreshResult, error) {
	sub, err := r.store.GetSubscription(ctx, id)
	if err != nil {
		return RefreshResult{}, err
	}
	if !sub.Enabled {
		return RefreshResult{SubscriptionID: id}, ErrDisabled
	}
	if err := r.ValidateURL(sub.URL); err != nil {
		return RefreshResult{SubscriptionID: id}, err
	}
	unlock, err := r.lock(ctx, sub.URL)
	if err != nil {
		return RefreshResult{SubscriptionID: id}, err
	}
	defer unlock()

	start := time.Now()
	defer metrics.ObserveRefresh(start)

	lives, stats, err := r.fetch(ctx, runID, sub.URL, sub.UserAgent)
	if err != nil {
		return RefreshResult{SubscriptionID: id, RunID: runID}, err
	}
	return r.save(ctx, runID, id, lives, stats)
}

// RefreshAll refreshes every enabled subscription, at most concurrency at a
// time. Failures are logged and joined into the returned error; a
// subscription already being refreshed elsewhere is skipped.
func (r *Refresher) RefreshAll(ctx context.Context) ([]RefreshResult, error) {
	subs, err := r.store.ListSubscriptions(ctx)
	if err != nil {
		return nil, fmt.Errorf("ListSubscriptions: %w", err)
	}

	var (
		mu      sync.Mutex
		results []RefreshResult
		errs    []error
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.concurrency)
	for _, sub := range subs {
		if !sub.Enabled {
			continue
		}
		g.Go(func() error {
			res, err := r.Refresh(gctx, sub.ID)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case errors.Is(err, ErrRefreshInProgress):
				r.log.Debug().Int64("subscription_id", sub.ID).Msg("refresh already running, skipped")
			case err != nil:
				r.log.Error().Err(err).Int64("subscription_id", sub.ID).Str("run_id", res.RunID).Msg("refresh failed")
				errs = append(errs, fmt.Errorf("subscription %d: %w", sub.ID, err))
			default:
				results = append(results, res)
			}
			return nil
		})
	}
	_ = g.Wait()
	return results, errors.Join(errs...)
}

func (r *Refresher) fetch(ctx context.Context, runID, rawURL, userAgent string) ([]models.Live, m3u.Stats, error) {
	log := r.log.With().Str("run_id", runID).Str("url", r.redact.URL(rawURL)).Logger()
	log.Debug().Msg("fetching playlist")

	metrics.RefreshesInFlight.Inc()
	defer metrics.RefreshesInFlight.Dec()

	lives, stats, err := r.fetcher.FetchLives(ctx, rawURL, userAgent, rawURL, m3u.WithOptions(r.opts))
	if err != nil {
		if errors.Is(err, m3u.ErrMalformedPlaylist) || errors.Is(err, bufio.ErrTooLong) {
			metrics.RecordParse(metrics.ResultMalformed, 0, stats.Skipped)
			log.Warn().Err(r.redact.Wrap(err)).Msg("playlist rejected")
			return nil, stats, fmt.Errorf("parse: %w", err)
		}
		metrics.RecordParse(metrics.ResultFetch, 0, 0)
		log.Warn().Err(r.redact.Wrap(err)).Msg("fetch failed")
		return nil, stats, fmt.Errorf("fetch: %w", err)
	}
	metrics.RecordParse(metrics.ResultOK, stats.Emitted, stats.Skipped)
	log.Debug().Int("emitted", stats.Emitted).Int("skipped", stats.Skipped).Msg("playlist parsed")
	return lives, stats, nil
}

func (r *Refresher) save(ctx context.Context, runID string, id int64, lives []models.Live, stats m3u.Stats) (RefreshResult, error) {
	res := RefreshResult{SubscriptionID: id, RunID: runID, Emitted: stats.Emitted, Skipped: stats.Skipped}
	rep, err := r.store.ReplaceLives(ctx, id, lives)
	if err != nil {
		return res, fmt.Errorf("ReplaceLives: %w", err)
	}
	res.Inserted, res.Updated, res.Removed, res.Duplicates = rep.Inserted, rep.Updated, rep.Removed, rep.Duplicates
	if err := r.store.TouchSubscription(ctx, id); err != nil {
		return res, fmt.Errorf("TouchSubscription: %w", err)
	}
	r.log.Info().
		Str("run_id", runID).
		Int64("subscription_id", id).
		Int("emitted", res.Emitted).
		Int("skipped", res.Skipped).
		Int("inserted", res.Inserted).
		Int("removed", res.Removed).
		Msg("subscription refreshed")
	return res, nil
}

// lock takes the in-process lock for a subscription url and, when configured,
// the shared one.
func (r *Refresher) lock(ctx context.Context, subscriptionURL string) (func(), error) {
	key := lockPrefix + subscriptionURL
	local, err := r.inflight.TryLock(ctx, key, r.lockTTL)
	if err != nil {
		return nil, ErrRefreshInProgress
	}
	if r.locker == nil {
		return local, nil
	}
	shared, err := r.locker.TryLock(ctx, key, r.lockTTL)
	if errors.Is(err, cache.ErrLocked) {
		local()
		return nil, ErrRefreshInProgress
	}
	if err != nil {
		local()
		return nil, err
	}
	return func() {
		shared()
		local()
	}, nil
}

// ValidateURL reports whether rawURL may be used as a subscription url by r.
func (r *Refresher) ValidateURL(rawURL string) error {
	return r.redact.Wrap(ValidateURL(rawURL, r.allowLocal))
}

// ValidateURL accepts http and https urls with a host. file:// urls and
// bare paths are accepted only when allowLocal is set.
func ValidateURL(rawURL string, allowLocal bool) error {
	if rawURL == "" {
		return fmt.Errorf("%w: empty", ErrInvalidURL)
	}
	u, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidURL, err)
	}
	switch u.Scheme {
	case "http", "https":
		if u.Host == "" {
			return fmt.Errorf("%w: missing host", ErrInvalidURL)
		}
	case "file", "":
		if !allowLocal {
			return fmt.Errorf("%w: local files are not allowed", ErrInvalidURL)
		}
	default:
		return fmt.Errorf("%w: scheme %q", ErrInvalidURL, u.Scheme)
	}
	return nil
}

// TitleFromURL derives a readable subscription title from its url,
// e.g. "http://tv.example.com/lists/news.m3u" -> "tv-example-com-news".
func TitleFromURL(rawURL string) string {
	var parts []string
	if u, err := url.Parse(rawURL); err == nil {
		parts = append(parts, u.Hostname())
		base := path.Base(u.Path)
		base = strings.TrimSuffix(base, path.Ext(base))
		if base != "." && base != "/" {
			parts = append(parts, base)
		}
	}
	if s := slug.Make(strings.Join(parts, " ")); s != "" {
		return s
	}
	return "m3u"
}
