package orchestrator

import (
	"errors"
	"net/http"
	"strconv"

	"segment-transcoder/internal/media"
)

// ErrIngestDisabled is returned when the server runs without an ingester.
var ErrIngestDisabled = errors.New("video registration is disabled")

// retryAfterSeconds is advertised on Overloaded responses.
const retryAfterSeconds = 1

// statusFor maps an error kind to its HTTP status.
func statusFor(kind media.ErrorKind) int {
	switch kind {
	case media.KindUnknownSource:
		return http.StatusNotFound
	case media.KindTranscodeFailure:
		return http.StatusBadGateway
	case media.KindOverloaded:
		return http.StatusServiceUnavailable
	case media.KindInvalidRequest:
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

// setRetryAfter adds Retry-After to responses the client should retry.
func setRetryAfter(w http.ResponseWriter, kind media.ErrorKind) {
	if kind == media.KindOverloaded {
		w.Header().Set("Retry-After", strconv.Itoa(retryAfterSeconds))
	}
}
