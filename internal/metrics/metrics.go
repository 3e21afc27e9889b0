// Package metrics holds the Prometheus collectors for fetching, saving and
// syncing. Collectors register with the default registry on import; the
// daemon exposes them on /metrics when a listen address is configured.
package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Fetch metrics
	PagesFetched = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "scrollback_pages_fetched_total",
			Help: "Total number of recent-tracks pages requested, by outcome",
		},
		[]string{"result"}, // "ok", "http_error", "api_error", "error"
	)

	PageFetchDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "scrollback_page_fetch_duration_seconds",
			Help:    "Duration of recent-tracks page requests in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	APIStatusCodes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "scrollback_api_status_codes_total",
			Help: "HTTP status codes returned by the Last.fm API",
		},
		[]string{"code"},
	)

	FetchRetries = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "scrollback_fetch_retries_total",
			Help: "Total number of page requests retried after a server error",
		},
	)

	RecordsDropped = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "scrollback_records_dropped_total",
			Help: "Total number of fetched entries dropped for a missing or invalid timestamp",
		},
	)

	// Save metrics
	SaveQueueDepth = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "scrollback_save_queue_depth",
			Help: "Number of pages waiting to be written",
		},
	)

	SaveItems = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "scrollback_save_items_total",
			Help: "Total number of pages processed by the save queue, by outcome",
		},
		[]string{"result"}, // "ok", "error"
	)

	SaveEventsDropped = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "scrollback_save_events_dropped_total",
			Help: "Total number of save queue events dropped because no reader kept up, by kind",
		},
		[]string{"kind"},
	)

	ShardWrites = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "scrollback_shard_writes_total",
			Help: "Total number of shard merges, by outcome",
		},
		[]string{"result"}, // "written", "skipped", "error"
	)

	RecordsStored = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "scrollback_records_stored_total",
			Help: "Total number of new records written to shards",
		},
	)

	// Sync metrics
	SyncRuns = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "scrollback_sync_runs_total",
			Help: "Total number of sync runs, by mode and outcome",
		},
		[]string{"mode", "result"},
	)

	SyncDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "scrollback_sync_duration_seconds",
			Help:    "Duration of sync runs in seconds",
			Buckets: []float64{1, 5, 15, 30, 60, 300, 900, 1800, 3600},
		},
	)

	SyncLastSuccess = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "scrollback_sync_last_success_timestamp",
			Help: "Unix timestamp of the last successful sync run",
		},
	)
)

// RecordPageFetch records one page request. statusCode is 0 when the
// request never produced an HTTP response.
func RecordPageFetch(duration time.Duration, statusCode int, result string) {
	PageFetchDuration.Observe(duration.Seconds())
	PagesFetched.WithLabelValues(result).Inc()
	if statusCode > 0 {
		APIStatusCodes.WithLabelValues(strconv.Itoa(statusCode)).Inc()
	}
}

// RecordSaveItem records the outcome of one save queue item.
func RecordSaveItem(err error) {
	if err != nil {
		SaveItems.WithLabelValues("error").Inc()
		return
	}
	SaveItems.WithLabelValues("ok").Inc()
}

// RecordSync records a finished sync run.
func RecordSync(mode string, duration time.Duration, err error) {
	SyncDuration.Observe(duration.Seconds())
	if err != nil {
		SyncRuns.WithLabelValues(mode, "error").Inc()
		return
	}
	SyncRuns.WithLabelValues(mode, "ok").Inc()
	SyncLastSuccess.Set(float64(time.Now().Unix()))
}
