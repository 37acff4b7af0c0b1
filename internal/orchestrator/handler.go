package orchestrator

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"mime"
	"net/http"
	"time"

	"segment-transcoder/internal/ingest"
	"segment-transcoder/internal/media"
	"segment-transcoder/internal/platform/metrics"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/httprate"
)

// maxRequestBody bounds JSON request bodies. Uploads are not limited.
const maxRequestBody = 1 << 20

// Handler exposes orchestrator HTTP endpoints using go-chi.
type Handler struct {
	svc     *Service
	log     *slog.Logger
	metrics *metrics.Metrics
}

// NewHandler returns a Handler that uses the given Service, Logger, and optional Metrics.
// Metrics may be nil to disable metric recording (e.g. in tests).
func NewHandler(svc *Service, log *slog.Logger, m *metrics.Metrics) *Handler {
	return &Handler{svc: svc, log: log, metrics: m}
}

// CreateSegment handles POST /segments.
// Body: { "videoId": "...", "startTimestamp": 20, "duration": 10, "capabilityProfile": {...}, "correlationId": "..." }.
func (h *Handler) CreateSegment(w http.ResponseWriter, r *http.Request) {
	var body media.SegmentRequestBody
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBody)).Decode(&body); err != nil {
		h.log.Debug("invalid segment body", slog.String("error", err.Error()))
		h.writeError(w, "", fmt.Errorf("%w: %v", media.ErrInvalidRequest, err))
		return
	}
	req := body.ToRequest()

	start := time.Now()
	resp, err := h.svc.Segment(r.Context(), req)
	if err != nil {
		if r.Context().Err() != nil {
			h.log.Debug("client went away",
				slog.String("correlation_id", req.CorrelationID),
				slog.String("error", err.Error()))
			return
		}
		h.writeError(w, req.CorrelationID, err)
		return
	}

	h.log.Debug("segment served",
		slog.String("correlation_id", req.CorrelationID),
		slog.String("video_id", string(req.VideoID)),
		slog.Duration("start", req.Start),
		slog.Duration("end", resp.End),
		slog.Bool("end_of_stream", resp.EndOfStream),
		slog.Int("bytes", len(resp.Payload)),
		slog.Duration("elapsed", time.Since(start)))
	h.writeJSON(w, http.StatusOK, media.NewSegmentResponseBody(resp))
}

// ListThumbnails handles GET /thumbnails.
func (h *Handler) ListThumbnails(w http.ResponseWriter, r *http.Request) {
	entries, err := h.svc.Thumbnails(r.Context())
	if err != nil {
		h.writeError(w, "", err)
		return
	}
	h.writeJSON(w, http.StatusOK, entries)
}

// RegisterVideo handles POST /videos. A JSON body {"name": "...", "blob": "..."}
// registers a stored blob; any other content type uploads the body as the
// blob named by the name query parameter.
func (h *Handler) RegisterVideo(w http.ResponseWriter, r *http.Request) {
	var (
		meta *media.SourceMetadata
		err  error
	)
	if isJSON(r) {
		var req ingest.Request
		if derr := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBody)).Decode(&req); derr != nil {
			h.writeError(w, "", fmt.Errorf("%w: %v", media.ErrInvalidRequest, derr))
			return
		}
		meta, err = h.svc.RegisterVideo(r.Context(), req)
	} else {
		meta, err = h.svc.UploadVideo(r.Context(), r.URL.Query().Get("name"), r.Body)
	}
	if err != nil {
		h.writeError(w, "", err)
		return
	}

	h.log.Info("video registered",
		slog.String("video_id", string(meta.ID)),
		slog.String("name", meta.Name))
	h.writeJSON(w, http.StatusCreated, newVideoBody(meta))
}

// GetVideo handles GET /videos/{video_id}.
func (h *Handler) GetVideo(w http.ResponseWriter, r *http.Request) {
	id := media.VideoID(chi.URLParam(r, "video_id"))
	if id == "" {
		h.writeError(w, "", fmt.Errorf("%w: video id is required", media.ErrInvalidRequest))
		return
	}
	meta, err := h.svc.Video(r.Context(), id)
	if err != nil {
		h.writeError(w, "", err)
		return
	}
	h.writeJSON(w, http.StatusOK, newVideoBody(meta))
}

// RateLimit limits segment requests per client IP and answers excess
// requests with a JSON 429.
func RateLimit(requestsPerMinute int) func(http.Handler) http.Handler {
	return httprate.Limit(
		requestsPerMinute,
		time.Minute,
		httprate.WithKeyFuncs(httprate.KeyByIP),
		httprate.WithLimitHandler(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			w.Header().Set("Retry-After", "60")
			w.WriteHeader(http.StatusTooManyRequests)
			_ = json.NewEncoder(w).Encode(media.ErrorBody{
				ErrorKind: media.KindOverloaded,
				Message:   "too many requests",
			})
		}),
	)
}

func (h *Handler) writeError(w http.ResponseWriter, correlationID string, err error) {
	if errors.Is(err, ErrIngestDisabled) {
		h.writeJSON(w, http.StatusNotImplemented, media.ErrorBody{
			CorrelationID: correlationID,
			ErrorKind:     media.KindInternal,
			Message:       err.Error(),
		})
		return
	}

	kind := media.KindOf(err)
	status := statusFor(kind)
	msg := err.Error()
	switch kind {
	case media.KindInternal:
		h.log.Error("request failed",
			slog.String("correlation_id", correlationID),
			slog.String("error", err.Error()))
		msg = "internal error"
	case media.KindUnknownSource, media.KindInvalidRequest:
		if h.metrics != nil {
			h.metrics.IncFailure(string(kind))
		}
		h.log.Info("request rejected",
			slog.String("correlation_id", correlationID),
			slog.String("error_kind", string(kind)),
			slog.String("error", err.Error()))
	}

	setRetryAfter(w, kind)
	h.writeJSON(w, status, media.ErrorBody{CorrelationID: correlationID, ErrorKind: kind, Message: msg})
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.log.Debug("write response failed", slog.String("error", err.Error()))
	}
}

func isJSON(r *http.Request) bool {
	ct := r.Header.Get("Content-Type")
	if ct == "" {
		return true
	}
	mt, _, err := mime.ParseMediaType(ct)
	return err == nil && mt == "application/json"
}

// videoBody is the public view of a video. The access token is never exposed.
type videoBody struct {
	ID           media.VideoID `json:"videoId"`
	Name         string        `json:"videoName"`
	Location     string        `json:"location"`
	Format       string        `json:"format"`
	Width        int           `json:"width"`
	Height       int           `json:"height"`
	Bitrate      int64         `json:"bitrate"`
	Duration     float64       `json:"duration"`
	Size         int64         `json:"size"`
	ThumbnailURL string        `json:"thumbnailUrl,omitempty"`
	CreatedAt    time.Time     `json:"createdAt"`
}

func newVideoBody(m *media.SourceMetadata) videoBody {
	return videoBody{
		ID:           m.ID,
		Name:         m.Name,
		Location:     m.Location,
		Format:       m.Format,
		Width:        m.Width,
		Height:       m.Height,
		Bitrate:      m.Bitrate,
		Duration:     media.Seconds(m.Duration),
		Size:         m.Size,
		ThumbnailURL: m.ThumbnailURL,
		CreatedAt:    m.CreatedAt,
	}
}
