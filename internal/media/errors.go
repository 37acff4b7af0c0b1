package media

import (
	"errors"
	"fmt"
)

// ErrorKind is the wire name of an error class.
type ErrorKind string

const (
	KindUnknownSource    ErrorKind = "UnknownSource"
	KindTranscodeFailure ErrorKind = "TranscodeFailure"
	KindOverloaded       ErrorKind = "Overloaded"
	KindStaleResponse    ErrorKind = "StaleResponse"
	KindDuplicate        ErrorKind = "Duplicate"
	KindInvalidRequest   ErrorKind = "InvalidRequest"
	KindInternal         ErrorKind = "Internal"
)

var (
	// ErrUnknownSource is returned when no metadata exists for a video.
	// Clients should stop retrying.
	ErrUnknownSource = errors.New("unknown source")

	// ErrTranscodeFailure marks an encoding engine failure. It is transient.
	ErrTranscodeFailure = errors.New("transcode failure")

	// ErrOverloaded is returned when the encode concurrency cap could not be
	// acquired within the maximum wait.
	ErrOverloaded = errors.New("transcoder overloaded")

	// ErrStaleResponse is returned for a response whose correlation ID is no
	// longer outstanding, e.g. after a seek.
	ErrStaleResponse = errors.New("stale response")

	// ErrDuplicate reports that a request for the same window is already
	// outstanding and no new request was made.
	ErrDuplicate = errors.New("duplicate request")

	// ErrInvalidRequest is returned for malformed segment requests.
	ErrInvalidRequest = errors.New("invalid request")
)

// TranscodeError carries the engine's diagnostic output.
type TranscodeError struct {
	Diagnostic string
	Err        error
}

func (e *TranscodeError) Error() string {
	msg := "transcode failure"
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	if e.Diagnostic != "" {
		msg += ": " + e.Diagnostic
	}
	return msg
}

// Unwrap exposes both ErrTranscodeFailure and the underlying cause.
func (e *TranscodeError) Unwrap() []error {
	if e.Err == nil {
		return []error{ErrTranscodeFailure}
	}
	return []error{ErrTranscodeFailure, e.Err}
}

// KindOf classifies err. Unclassified errors are KindInternal.
func KindOf(err error) ErrorKind {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrUnknownSource):
		return KindUnknownSource
	case errors.Is(err, ErrTranscodeFailure):
		return KindTranscodeFailure
	case errors.Is(err, ErrOverloaded):
		return KindOverloaded
	case errors.Is(err, ErrStaleResponse):
		return KindStaleResponse
	case errors.Is(err, ErrDuplicate):
		return KindDuplicate
	case errors.Is(err, ErrInvalidRequest):
		return KindInvalidRequest
	default:
		return KindInternal
	}
}

// ErrorForKind rebuilds a typed error from a wire kind and message.
func ErrorForKind(kind ErrorKind, message string) error {
	switch kind {
	case KindUnknownSource:
		return fmt.Errorf("%w: %s", ErrUnknownSource, message)
	case KindTranscodeFailure:
		return &TranscodeError{Diagnostic: message}
	case KindOverloaded:
		return fmt.Errorf("%w: %s", ErrOverloaded, message)
	case KindInvalidRequest:
		return fmt.Errorf("%w: %s", ErrInvalidRequest, message)
	default:
		return fmt.Errorf("%s: %s", kind, message)
	}
}

// Retryable reports whether the caller may retry with backoff.
func Retryable(err error) bool {
	return errors.Is(err, ErrTranscodeFailure) || errors.Is(err, ErrOverloaded)
}
