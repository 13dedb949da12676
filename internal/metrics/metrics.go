package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Parse results.
const (
	ResultOK        = "ok"
	ResultMalformed = "malformed"
	ResultFetch     = "fetch_error"
	ResultStore     = "store_error"
)

var (
	// PlaylistParses counts parse attempts by result.
	PlaylistParses = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "m3uvault_playlist_parses_total",
		Help: "Total number of playlist parses by result",
	}, []string{"result"})

	// LivesEmitted counts lives produced by the parser.
	LivesEmitted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "m3uvault_lives_emitted_total",
		Help: "Total number of lives emitted by the parser",
	})

	// EntriesSkipped counts dangling EXTINF directives.
	EntriesSkipped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "m3uvault_entries_skipped_total",
		Help: "Total number of playlist entries skipped as malformed",
	})

	// RefreshDuration observes end-to-end subscription refreshes.
	RefreshDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "m3uvault_refresh_duration_seconds",
		Help:    "Duration of subscription refreshes",
		Buckets: prometheus.ExponentialBuckets(0.05, 2, 12),
	})

	// RefreshesInFlight tracks refreshes currently running in this process.
	RefreshesInFlight = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "m3uvault_refreshes_in_flight",
		Help: "Number of subscription refreshes in progress",
	})
)

// RecordParse records one parse attempt.
func RecordParse(result string, emitted, skipped int) {
	PlaylistParses.WithLabelValues(result).Inc()
	if emitted > 0 {
		LivesEmitted.Add(float64(emitted))
	}
	if skipped > 0 {
		EntriesSkipped.Add(float64(skipped))
	}
}

// ObserveRefresh records the duration of a refresh that started at start.
func ObserveRefresh(start time.Time) {
	RefreshDuration.Observe(time.Since(start).Seconds())
}
