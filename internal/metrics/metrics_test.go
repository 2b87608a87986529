package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetrics_Record(t *testing.T) {
	m := New(prometheus.NewRegistry())

	m.RecordIngest(IngestNew, 100)
	m.RecordIngest(IngestDuplicate, 100)
	m.RecordIngest(IngestTooLarge, 0)
	m.RecordThumbnail(false, time.Millisecond)
	m.RecordGCRun(time.Second, 2, 4096, 3)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.IngestTotal.WithLabelValues(IngestNew)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.IngestTotal.WithLabelValues(IngestTooLarge)))
	assert.Equal(t, 200.0, testutil.ToFloat64(m.IngestBytes))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ThumbnailTotal.WithLabelValues("failed")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.GCBlobsDeleted))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.GCOrphanBlobs))
}

func TestMetrics_NilIsNoop(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.RecordIngest(IngestNew, 1)
		m.RecordThumbnail(true, 0)
		m.RecordQuery(0)
		m.RecordTagMutation("add")
		m.RecordCache(true)
		m.RecordGCRun(0, 0, 0, 0)
	})
}

func TestMetrics_MiddlewareAndHandler(t *testing.T) {
	m := New(prometheus.NewRegistry())

	r := chi.NewRouter()
	r.Use(m.Middleware)
	r.Get("/api/image/getImageInfo/{id}", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/image/getImageInfo/abc", nil))
	require.Equal(t, http.StatusNotFound, rec.Code)

	assert.Equal(t, 1.0, testutil.ToFloat64(
		m.HTTPRequests.WithLabelValues(http.MethodGet, "/api/image/getImageInfo/{id}", "404"),
	))

	rec = httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, strings.Contains(rec.Body.String(), "tagsoup_http_requests_total"))
}
