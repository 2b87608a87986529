// Package metrics defines the Prometheus instruments exported by TagSoup.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "tagsoup"

// Ingest outcomes.
const (
	IngestNew         = "new"
	IngestDuplicate   = "duplicate"
	IngestUnsupported = "unsupported_type"
	IngestTooLarge    = "too_large"
	IngestError       = "error"
)

// Metrics holds every collector. A nil *Metrics is valid and records nothing.
type Metrics struct {
	registry prometheus.Gatherer

	IngestTotal       *prometheus.CounterVec
	IngestBytes       prometheus.Counter
	ThumbnailTotal    *prometheus.CounterVec
	ThumbnailDuration prometheus.Histogram
	QueryDuration     prometheus.Histogram
	TagMutations      *prometheus.CounterVec

	HTTPRequests        *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec

	GCRuns          prometheus.Counter
	GCDuration      prometheus.Histogram
	GCBlobsDeleted  prometheus.Counter
	GCBytesFreed    prometheus.Counter
	GCOrphanBlobs   prometheus.Gauge
	GCLastRunTime   prometheus.Gauge
	CacheOperations *prometheus.CounterVec
}

// New registers all collectors with reg. Pass prometheus.NewRegistry() in
// tests to avoid duplicate registration.
func New(reg *prometheus.Registry) *Metrics {
	f := promauto.With(reg)

	return &Metrics{
		registry: reg,

		IngestTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ingest_total",
			Help:      "Uploads processed, by outcome.",
		}, []string{"result"}),
		IngestBytes: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ingest_bytes_total",
			Help:      "Bytes read from accepted uploads.",
		}),
		ThumbnailTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "thumbnail_total",
			Help:      "Thumbnail derivations, by outcome.",
		}, []string{"result"}),
		ThumbnailDuration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "thumbnail_duration_seconds",
			Help:      "Time spent deriving a thumbnail.",
			Buckets:   prometheus.DefBuckets,
		}),
		QueryDuration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "query_duration_seconds",
			Help:      "Time spent answering a tag query page.",
			Buckets:   prometheus.DefBuckets,
		}),
		TagMutations: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tag_mutations_total",
			Help:      "Tag add and remove operations.",
		}, []string{"op"}),

		HTTPRequests: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP requests, by route and status.",
		}, []string{"method", "route", "status"}),
		HTTPRequestDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route"}),

		GCRuns: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "gc_runs_total",
			Help:      "Completed orphan sweeps.",
		}),
		GCDuration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "gc_duration_seconds",
			Help:      "Orphan sweep duration.",
			Buckets:   prometheus.ExponentialBuckets(0.01, 4, 8),
		}),
		GCBlobsDeleted: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "gc_blobs_deleted_total",
			Help:      "Orphan blobs removed.",
		}),
		GCBytesFreed: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "gc_bytes_freed_total",
			Help:      "Bytes reclaimed by orphan sweeps.",
		}),
		GCOrphanBlobs: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "gc_orphan_blobs",
			Help:      "Orphan blobs seen by the last sweep.",
		}),
		GCLastRunTime: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "gc_last_run_timestamp_seconds",
			Help:      "Unix time of the last completed sweep.",
		}),
		CacheOperations: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_operations_total",
			Help:      "Metadata cache lookups, by result.",
		}, []string{"result"}),
	}
}

// RecordIngest counts an upload outcome.
func (m *Metrics) RecordIngest(result string, bytes int64) {
	if m == nil {
		return
	}
	m.IngestTotal.WithLabelValues(result).Inc()
	if bytes > 0 {
		m.IngestBytes.Add(float64(bytes))
	}
}

// RecordThumbnail counts a derivation outcome.
func (m *Metrics) RecordThumbnail(ok bool, d time.Duration) {
	if m == nil {
		return
	}
	result := "ok"
	if !ok {
		result = "failed"
	}
	m.ThumbnailTotal.WithLabelValues(result).Inc()
	m.ThumbnailDuration.Observe(d.Seconds())
}

// RecordQuery observes a page query.
func (m *Metrics) RecordQuery(d time.Duration) {
	if m == nil {
		return
	}
	m.QueryDuration.Observe(d.Seconds())
}

// RecordTagMutation counts a tag add or remove.
func (m *Metrics) RecordTagMutation(op string) {
	if m == nil {
		return
	}
	m.TagMutations.WithLabelValues(op).Inc()
}

// RecordCache counts a cache hit or miss.
func (m *Metrics) RecordCache(hit bool) {
	if m == nil {
		return
	}
	result := "miss"
	if hit {
		result = "hit"
	}
	m.CacheOperations.WithLabelValues(result).Inc()
}

// RecordGCRun records a completed sweep.
func (m *Metrics) RecordGCRun(d time.Duration, deleted int, bytesFreed int64, orphans int) {
	if m == nil {
		return
	}
	m.GCRuns.Inc()
	m.GCDuration.Observe(d.Seconds())
	m.GCBlobsDeleted.Add(float64(deleted))
	m.GCBytesFreed.Add(float64(bytesFreed))
	m.GCOrphanBlobs.Set(float64(orphans))
	m.GCLastRunTime.SetToCurrentTime()
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Middleware records request count and latency labelled by chi route pattern.
func (m *Metrics) Middleware(next http.Handler) http.Handler {
	if m == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		route := "unmatched"
		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			if p := rctx.RoutePattern(); p != "" {
				route = p
			}
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}

		m.HTTPRequests.WithLabelValues(r.Method, route, strconv.Itoa(status)).Inc()
		m.HTTPRequestDuration.WithLabelValues(r.Method, route).Observe(time.Since(start).Seconds())
	})
}
