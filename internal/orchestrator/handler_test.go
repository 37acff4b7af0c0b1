package orchestrator

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	"segment-transcoder/internal/media"
	"segment-transcoder/internal/platform/metrics"
	"segment-transcoder/internal/transcode"
)

func newTestHandler(t *testing.T, exec SegmentExecutor) *Handler {
	t.Helper()
	repo := seededRepo(t)
	svc := NewService(repo, exec, &fakeIngester{repo: repo}, discardLogger())
	return NewHandler(svc, discardLogger(), metrics.New())
}

func newTestRouter(h *Handler) *chi.Mux {
	r := chi.NewRouter()
	r.Post("/segments", h.CreateSegment)
	r.Get("/thumbnails", h.ListThumbnails)
	r.Post("/videos", h.RegisterVideo)
	r.Get("/videos/{video_id}", h.GetVideo)
	return r
}

func postSegment(t *testing.T, r http.Handler, body any) *httptest.ResponseRecorder {
	t.Helper()
	b, err := json.Marshal(body)
	if err != nil {
		t.Fatal(err)
	}
	req := httptest.NewRequest(http.MethodPost, "/segments", bytes.NewReader(b))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	return rec
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) media.ErrorBody {
	t.Helper()
	var body media.ErrorBody
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode error body: %v", err)
	}
	return body
}

func TestHandler_CreateSegment(t *testing.T) {
	r := newTestRouter(newTestHandler(t, &fakeExecutor{}))

	rec := postSegment(t, r, map[string]any{
		"videoId":           "v2",
		"startTimestamp":    10,
		"capabilityProfile": map[string]any{"deviceType": "Desktop", "connectionSpeed": "4g"},
		"correlationId":     "c-10",
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	var body media.SegmentResponseBody
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.CorrelationID != "c-10" || string(body.VideoContent) != "segment" {
		t.Errorf("unexpected body: %+v", body)
	}
	if body.EndTimestamp != 20 || body.Duration != 10 || body.EndOfStream {
		t.Errorf("unexpected window: end=%v duration=%v eos=%v", body.EndTimestamp, body.Duration, body.EndOfStream)
	}
}

func TestHandler_CreateSegment_endOfStream(t *testing.T) {
	r := newTestRouter(newTestHandler(t, &fakeExecutor{}))

	rec := postSegment(t, r, map[string]any{"videoId": "v1", "startTimestamp": 30, "correlationId": "c-eos"})
	if rec.Code != http.StatusOK {
		t.Fatalf("end of stream is not an error, got %d", rec.Code)
	}
	var body media.SegmentResponseBody
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatal(err)
	}
	if !body.EndOfStream || len(body.VideoContent) != 0 || body.EndTimestamp != 25 {
		t.Errorf("unexpected end of stream body: %+v", body)
	}
}

func TestHandler_CreateSegment_errors(t *testing.T) {
	tests := []struct {
		name       string
		execErr    error
		body       any
		wantStatus int
		wantKind   media.ErrorKind
	}{
		{"unknown source", nil, map[string]any{"videoId": "missing", "correlationId": "c"}, http.StatusNotFound, media.KindUnknownSource},
		{"negative start", nil, map[string]any{"videoId": "v1", "startTimestamp": -1, "correlationId": "c"}, http.StatusBadRequest, media.KindInvalidRequest},
		{"duration too long", nil, map[string]any{"videoId": "v1", "duration": 30, "correlationId": "c"}, http.StatusBadRequest, media.KindInvalidRequest},
		{"engine failure", &media.TranscodeError{Diagnostic: "moov atom not found"}, map[string]any{"videoId": "v1", "correlationId": "c"}, http.StatusBadGateway, media.KindTranscodeFailure},
		{"overloaded", media.ErrOverloaded, map[string]any{"videoId": "v1", "correlationId": "c"}, http.StatusServiceUnavailable, media.KindOverloaded},
		{"internal", errors.New("disk on fire"), map[string]any{"videoId": "v1", "correlationId": "c"}, http.StatusInternalServerError, media.KindInternal},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := newTestRouter(newTestHandler(t, &fakeExecutor{err: tt.execErr}))
			rec := postSegment(t, r, tt.body)
			if rec.Code != tt.wantStatus {
				t.Fatalf("expected %d, got %d", tt.wantStatus, rec.Code)
			}
			body := decodeError(t, rec)
			if body.ErrorKind != tt.wantKind {
				t.Errorf("expected kind %s, got %s", tt.wantKind, body.ErrorKind)
			}
			if body.CorrelationID != "c" {
				t.Errorf("correlation id not echoed: %q", body.CorrelationID)
			}
			if tt.wantKind == media.KindOverloaded && rec.Header().Get("Retry-After") == "" {
				t.Errorf("overloaded response without Retry-After")
			}
			if tt.wantKind == media.KindInternal && strings.Contains(body.Message, "disk") {
				t.Errorf("internal error detail leaked: %q", body.Message)
			}
		})
	}
}

func TestHandler_CreateSegment_badJSON(t *testing.T) {
	r := newTestRouter(newTestHandler(t, &fakeExecutor{}))

	req := httptest.NewRequest(http.MethodPost, "/segments", strings.NewReader("not json"))
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", rec.Code)
	}
	if body := decodeError(t, rec); body.ErrorKind != media.KindInvalidRequest {
		t.Errorf("expected InvalidRequest, got %s", body.ErrorKind)
	}
}

func TestHandler_ListThumbnails(t *testing.T) {
	r := newTestRouter(newTestHandler(t, &fakeExecutor{}))

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/thumbnails", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var entries []media.ThumbnailEntry
	if err := json.NewDecoder(rec.Body).Decode(&entries); err != nil {
		t.Fatal(err)
	}
	if len(entries) != 2 || entries[0].VideoName != "first" {
		t.Errorf("unexpected entries: %+v", entries)
	}
}

func TestHandler_Videos(t *testing.T) {
	r := newTestRouter(newTestHandler(t, &fakeExecutor{}))

	req := httptest.NewRequest(http.MethodPost, "/videos", strings.NewReader(`{"name":"clip"}`))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body.String())
	}

	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/videos/id-clip", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if strings.Contains(rec.Body.String(), "accessToken") || strings.Contains(rec.Body.String(), "access_token") {
		t.Errorf("token exposed: %s", rec.Body.String())
	}
	var v map[string]any
	if err := json.NewDecoder(rec.Body).Decode(&v); err != nil {
		t.Fatal(err)
	}
	if v["duration"] != 60.0 {
		t.Errorf("expected duration 60, got %v", v["duration"])
	}

	req = httptest.NewRequest(http.MethodPost, "/videos?name=upload.mp4", strings.NewReader("bytes"))
	req.Header.Set("Content-Type", "video/mp4")
	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	if rec.Code != http.StatusCreated {
		t.Errorf("upload: expected 201, got %d", rec.Code)
	}

	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/videos/nope", nil))
	if rec.Code != http.StatusNotFound {
		t.Errorf("expected 404, got %d", rec.Code)
	}
}

func TestHandler_RegisterVideo_disabled(t *testing.T) {
	svc := NewService(seededRepo(t), &fakeExecutor{}, nil, discardLogger())
	r := newTestRouter(NewHandler(svc, discardLogger(), nil))

	req := httptest.NewRequest(http.MethodPost, "/videos", strings.NewReader(`{"name":"clip"}`))
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	if rec.Code != http.StatusNotImplemented {
		t.Errorf("expected 501, got %d", rec.Code)
	}
}

func TestRateLimit(t *testing.T) {
	r := chi.NewRouter()
	r.Use(RateLimit(2))
	r.Get("/", func(w http.ResponseWriter, r *http.Request) {})

	codes := make([]int, 0, 3)
	for range 3 {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.RemoteAddr = "10.0.0.1:1234"
		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, req)
		codes = append(codes, rec.Code)
		if rec.Code == http.StatusTooManyRequests {
			if rec.Header().Get("Content-Type") != "application/json" {
				t.Errorf("expected JSON 429")
			}
		}
	}
	if codes[2] != http.StatusTooManyRequests {
		t.Errorf("expected third request limited, got %v", codes)
	}
}

// Executor wiring end to end: the real executor with a stub engine.
type stubEngine struct{}

func (stubEngine) Transcode(_ context.Context, job transcode.EngineJob) ([]byte, error) {
	return []byte(job.Params.Resolution.String()), nil
}

type stubLocator struct{}

func (stubLocator) ResolveReadableURL(_ context.Context, id media.VideoID) (string, error) {
	return "http://blobs/" + string(id), nil
}

func TestHandler_withExecutor(t *testing.T) {
	exec := transcode.NewExecutor(stubEngine{}, stubLocator{}, transcode.Config{MaxConcurrent: 1, Timeout: time.Second, ScratchDir: t.TempDir()}, discardLogger(), nil)
	r := newTestRouter(newTestHandler(t, exec))

	rec := postSegment(t, r, map[string]any{
		"videoId":           "v2",
		"startTimestamp":    0,
		"capabilityProfile": map[string]any{"deviceType": "Mobile", "connectionSpeed": "3g"},
		"correlationId":     "c-0",
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var body media.SegmentResponseBody
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatal(err)
	}
	if string(body.VideoContent) != "854x480" {
		t.Errorf("expected a 480p encode, got %q", body.VideoContent)
	}
}

func TestHandler_withExecutor_outOfRangeTimestamps(t *testing.T) {
	exec := transcode.NewExecutor(stubEngine{}, stubLocator{}, transcode.Config{MaxConcurrent: 1, Timeout: time.Second, ScratchDir: t.TempDir()}, discardLogger(), nil)
	r := newTestRouter(newTestHandler(t, exec))

	rec := postSegment(t, r, map[string]any{"videoId": "v2", "startTimestamp": 288230376151716.625, "correlationId": "c-far"})
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var body media.SegmentResponseBody
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatal(err)
	}
	if !body.EndOfStream || len(body.VideoContent) != 0 || body.EndTimestamp != 60 {
		t.Errorf("a start past the end must be end of stream, got end=%v eos=%v payload=%q", body.EndTimestamp, body.EndOfStream, body.VideoContent)
	}

	for name, req := range map[string]map[string]any{
		"huge duration":       {"videoId": "v2", "duration": 1e15, "correlationId": "c"},
		"huge negative start": {"videoId": "v2", "startTimestamp": -288230376151716.625, "correlationId": "c"},
	} {
		rec := postSegment(t, r, req)
		if rec.Code != http.StatusBadRequest {
			t.Errorf("%s: expected 400, got %d", name, rec.Code)
			continue
		}
		if kind := decodeError(t, rec).ErrorKind; kind != media.KindInvalidRequest {
			t.Errorf("%s: expected InvalidRequest, got %s", name, kind)
		}
	}
}
