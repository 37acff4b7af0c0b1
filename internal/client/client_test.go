package client

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"segment-transcoder/internal/media"
	"segment-transcoder/internal/platform/logger"
)

var fastRetry = RetryConfig{MaxAttempts: 3, InitialDelay: time.Millisecond, MaxDelay: 5 * time.Millisecond, BackoffFactor: 2}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// segmentServer fails the first failures calls with kind, then succeeds.
func segmentServer(t *testing.T, failures int32, kind media.ErrorKind, status int) (*httptest.Server, *atomic.Int32) {
	t.Helper()
	var calls atomic.Int32
	r := chi.NewRouter()
	r.Post("/segments", func(w http.ResponseWriter, r *http.Request) {
		n := calls.Add(1)
		var body media.SegmentRequestBody
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			writeJSON(w, http.StatusBadRequest, media.ErrorBody{ErrorKind: media.KindInvalidRequest, Message: err.Error()})
			return
		}
		assert.Equal(t, body.CorrelationID, r.Header.Get(logger.CorrelationHeader))
		if n <= failures {
			writeJSON(w, status, media.ErrorBody{CorrelationID: body.CorrelationID, ErrorKind: kind, Message: "try later"})
			return
		}
		req := body.ToRequest()
		writeJSON(w, http.StatusOK, media.NewSegmentResponseBody(media.SegmentResponse{
			CorrelationID: req.CorrelationID,
			Payload:       []byte("mp4"),
			End:           req.Start + 10*time.Second,
			Duration:      10 * time.Second,
		}))
	})
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return srv, &calls
}

func request() media.SegmentRequest {
	return media.SegmentRequest{VideoID: "v1", Start: 20 * time.Second, CorrelationID: "c-20", Profile: media.CapabilityProfile{DeviceClass: media.DeviceMobile}}
}

func TestFetch(t *testing.T) {
	srv, calls := segmentServer(t, 0, "", 0)
	c := New(srv.URL, WithRetry(fastRetry))

	resp, err := c.Fetch(context.Background(), request())
	require.NoError(t, err)
	assert.Equal(t, "c-20", resp.CorrelationID)
	assert.Equal(t, []byte("mp4"), resp.Payload)
	assert.Equal(t, 30*time.Second, resp.End)
	assert.Equal(t, int32(1), calls.Load())
}

func TestFetch_retriesTransientFailures(t *testing.T) {
	for _, tc := range []struct {
		kind   media.ErrorKind
		status int
	}{
		{media.KindTranscodeFailure, http.StatusBadGateway},
		{media.KindOverloaded, http.StatusServiceUnavailable},
	} {
		t.Run(string(tc.kind), func(t *testing.T) {
			srv, calls := segmentServer(t, 2, tc.kind, tc.status)
			c := New(srv.URL, WithRetry(fastRetry))

			_, err := c.Fetch(context.Background(), request())
			require.NoError(t, err)
			assert.Equal(t, int32(3), calls.Load())
		})
	}
}

func TestFetch_givesUpAfterMaxAttempts(t *testing.T) {
	srv, calls := segmentServer(t, 10, media.KindOverloaded, http.StatusServiceUnavailable)
	c := New(srv.URL, WithRetry(fastRetry))

	_, err := c.Fetch(context.Background(), request())
	assert.ErrorIs(t, err, media.ErrOverloaded)
	assert.Equal(t, int32(3), calls.Load())
}

func TestFetch_unknownSourceIsNotRetried(t *testing.T) {
	srv, calls := segmentServer(t, 10, media.KindUnknownSource, http.StatusNotFound)
	c := New(srv.URL, WithRetry(fastRetry))

	_, err := c.Fetch(context.Background(), request())
	assert.ErrorIs(t, err, media.ErrUnknownSource)
	assert.Equal(t, int32(1), calls.Load())
}

func TestFetch_contextCancelledDuringBackoff(t *testing.T) {
	srv, _ := segmentServer(t, 10, media.KindTranscodeFailure, http.StatusBadGateway)
	c := New(srv.URL, WithRetry(RetryConfig{MaxAttempts: 5, InitialDelay: time.Minute, MaxDelay: time.Minute}))

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err := c.Fetch(ctx, request())
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestFetch_nonJSONError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "gateway exploded", http.StatusBadGateway)
	}))
	defer srv.Close()

	_, err := New(srv.URL, WithRetry(fastRetry)).Fetch(context.Background(), request())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "502")
	assert.False(t, media.Retryable(err))
}

func TestRetryConfig_delay(t *testing.T) {
	cfg := RetryConfig{InitialDelay: 100 * time.Millisecond, MaxDelay: time.Second, BackoffFactor: 2}.withDefaults()
	assert.Equal(t, 100*time.Millisecond, cfg.delay(1))
	assert.Equal(t, 200*time.Millisecond, cfg.delay(2))
	assert.Equal(t, 800*time.Millisecond, cfg.delay(4))
	assert.Equal(t, time.Second, cfg.delay(5))
	assert.Equal(t, 3, cfg.MaxAttempts)
}

func TestListThumbnails(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/thumbnails", r.URL.Path)
		writeJSON(w, http.StatusOK, []media.ThumbnailEntry{{VideoID: "v1", VideoName: "clip", ThumbnailURL: "http://t/v1.png"}})
	}))
	defer srv.Close()

	entries, err := New(srv.URL + "/").ListThumbnails(context.Background())
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "clip", entries[0].VideoName)
}

func TestUpload(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "my clip.mp4", r.URL.Query().Get("name"))
		data, _ := io.ReadAll(r.Body)
		assert.Equal(t, "bytes", string(data))
		writeJSON(w, http.StatusCreated, map[string]any{"videoId": "v9"})
	}))
	defer srv.Close()

	id, err := New(srv.URL).Upload(context.Background(), "my clip.mp4", strings.NewReader("bytes"))
	require.NoError(t, err)
	assert.Equal(t, media.VideoID("v9"), id)
}
