package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCounters(t *testing.T) {
	m := New()
	m.IncSegmentsTranscoded()
	m.IncSegmentsTranscoded()
	m.IncFailure("Overloaded")
	m.IncCoalesced()
	m.AddTokensRefreshed(3)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.segmentsTranscodedTotal))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.failuresTotal.WithLabelValues("Overloaded")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.coalescedTotal))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.tokensRefreshedTotal))
}

func TestTranscodeInFlight(t *testing.T) {
	m := New()
	m.TranscodeStarted()
	m.TranscodeStarted()
	assert.Equal(t, 2.0, testutil.ToFloat64(m.transcodesInFlight))
	m.TranscodeFinished(time.Second)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.transcodesInFlight))
	assert.Equal(t, 1, testutil.CollectAndCount(m.transcodeDuration))
}

func TestHandler_updatesGaugesBeforeScrape(t *testing.T) {
	m := New()
	called := false
	h := m.Handler(func() {
		called = true
		m.SetCatalogVideos(7)
	})

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, called)
	assert.Contains(t, rec.Body.String(), "segtx_catalog_videos 7")
}

func TestRequestMiddleware(t *testing.T) {
	m := New()
	mw := RequestMiddleware(m, "/metrics")
	ok := mw(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	bad := mw(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))

	ok.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))
	bad.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodPost, "/segments", strings.NewReader("{}")))
	ok.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/metrics", nil))

	assert.Equal(t, 2.0, testutil.ToFloat64(m.requestsTotal))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.errorsTotal))
}
