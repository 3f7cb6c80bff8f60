// Package metrics exposes Prometheus instrumentation for the SPANN writer.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Write-path counters, mirroring the writer's internal WriteStats.
	PostingListsModified = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "spann_posting_lists_modified_total",
			Help: "Total number of posting-list append operations performed",
		},
	)

	HeadsCreated = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "spann_heads_created_total",
			Help: "Total number of heads added to the centroid graph",
		},
	)

	HeadsDeleted = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "spann_heads_deleted_total",
			Help: "Total number of heads removed from the centroid graph",
		},
	)

	Reassigns = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "spann_reassigns_total",
			Help: "Total number of point reassignments across all causes",
		},
	)

	ReassignsSplitPoint = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "spann_reassigns_split_point_total",
			Help: "Total number of reassignments caused by a split's own points violating NPA",
		},
	)

	ReassignsNeighbors = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "spann_reassigns_neighbors_total",
			Help: "Total number of reassignments caused by a split's neighbor-head sweep",
		},
	)

	ReassignsMergedPoint = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "spann_reassigns_merged_point_total",
			Help: "Total number of reassignments performed after a merge",
		},
	)

	Splits = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "spann_splits_total",
			Help: "Total number of posting-list splits performed",
		},
	)

	Merges = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "spann_merges_total",
			Help: "Total number of posting-list merges performed",
		},
	)

	RNGCalls = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "spann_rng_calls_total",
			Help: "Total number of RNG queries issued against the centroid graph",
		},
	)

	RNGCentersFetched = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "spann_rng_centers_fetched_total",
			Help: "Total number of candidate heads fetched across all RNG queries",
		},
	)

	// Commit-path histograms, one per flush phase, mirroring the source's
	// per-category Stopwatch instrumentation.
	PostingListCommitLatency = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "spann_posting_list_commit_duration_seconds",
			Help:    "Time taken to flush staged posting lists to the blockfile writer",
			Buckets: prometheus.DefBuckets,
		},
	)

	VersionsMapCommitLatency = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "spann_versions_map_commit_duration_seconds",
			Help:    "Time taken to flush the version map and head-length blockfile",
			Buckets: prometheus.DefBuckets,
		},
	)

	CentroidGraphCommitLatency = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "spann_centroid_graph_commit_duration_seconds",
			Help:    "Time taken to commit the centroid graph",
			Buckets: prometheus.DefBuckets,
		},
	)

	PostingListEntriesFlushed = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "spann_posting_list_entries_flushed_total",
			Help: "Total number of (id, version, embedding) entries written at commit",
		},
	)

	VersionsMapEntriesFlushed = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "spann_versions_map_entries_flushed_total",
			Help: "Total number of version-map entries written at commit",
		},
	)

	// Garbage-collection cycle metrics, mirroring the reconciler pattern.
	GCDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "spann_gc_duration_seconds",
			Help:    "Time taken for a garbage-collection cycle",
			Buckets: prometheus.DefBuckets,
		},
	)

	GCCyclesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "spann_gc_cycles_total",
			Help: "Total number of garbage-collection cycles completed",
		},
	)

	GCHeadsScrubbed = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "spann_gc_heads_scrubbed_total",
			Help: "Total number of heads scrubbed by posting-list GC",
		},
	)

	GCCentroidRebuilds = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "spann_gc_centroid_rebuilds_total",
			Help: "Total number of centroid-graph rebuilds triggered by GC",
		},
	)
)

func init() {
	prometheus.MustRegister(PostingListsModified)
	prometheus.MustRegister(HeadsCreated)
	prometheus.MustRegister(HeadsDeleted)
	prometheus.MustRegister(Reassigns)
	prometheus.MustRegister(ReassignsSplitPoint)
	prometheus.MustRegister(ReassignsNeighbors)
	prometheus.MustRegister(ReassignsMergedPoint)
	prometheus.MustRegister(Splits)
	prometheus.MustRegister(Merges)
	prometheus.MustRegister(RNGCalls)
	prometheus.MustRegister(RNGCentersFetched)

	prometheus.MustRegister(PostingListCommitLatency)
	prometheus.MustRegister(VersionsMapCommitLatency)
	prometheus.MustRegister(CentroidGraphCommitLatency)
	prometheus.MustRegister(PostingListEntriesFlushed)
	prometheus.MustRegister(VersionsMapEntriesFlushed)

	prometheus.MustRegister(GCDuration)
	prometheus.MustRegister(GCCyclesTotal)
	prometheus.MustRegister(GCHeadsScrubbed)
	prometheus.MustRegister(GCCentroidRebuilds)
}

// Handler returns the Prometheus scrape handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Timer is a helper for timing operations.
type Timer struct {
	start time.Time
}

// NewTimer creates a new timer.
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// ObserveDuration records the elapsed duration to a histogram.
func (t *Timer) ObserveDuration(histogram prometheus.Histogram) {
	histogram.Observe(time.Since(t.start).Seconds())
}

// ObserveDurationVec records the elapsed duration to the histogram in vec
// selected by labelValues.
func (t *Timer) ObserveDurationVec(vec *prometheus.HistogramVec, labelValues ...string) {
	vec.WithLabelValues(labelValues...).Observe(time.Since(t.start).Seconds())
}

// Duration returns the elapsed time since the timer started.
func (t *Timer) Duration() time.Duration {
	return time.Since(t.start)
}
