// Package sequencer tracks outstanding segment requests for one playback
// session. Responses are matched by correlation ID, never by arrival order.
package sequencer

import (
	"fmt"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"segment-transcoder/internal/media"
)

// IDGenerator mints correlation IDs that are unique for the process lifetime.
type IDGenerator struct {
	fingerprint string
	counter     atomic.Uint64
}

// NewIDGenerator returns a generator fingerprinted with the host name and pid.
func NewIDGenerator() *IDGenerator {
	host, err := os.Hostname()
	if err != nil || host == "" {
		host = "unknown"
	}
	return &IDGenerator{fingerprint: fmt.Sprintf("%s-%d", host, os.Getpid())}
}

// Next returns a new correlation ID for a request starting at start.
func (g *IDGenerator) Next(start time.Duration) string {
	n := g.counter.Add(1)
	return fmt.Sprintf("%s-%d-%d-%s", g.fingerprint, start.Milliseconds(), n, uuid.New().String())
}

type entry struct {
	start   time.Duration
	profile media.CapabilityProfile
}

// Completion is a resolved request.
type Completion struct {
	Start    time.Duration
	Profile  media.CapabilityProfile
	Response media.SegmentResponse
}

// Queue holds outstanding requests keyed by correlation ID.
type Queue struct {
	ids *IDGenerator

	mu      sync.Mutex
	byID    map[string]entry
	byStart map[time.Duration]string
}

// NewQueue returns an empty queue. ids may be nil.
func NewQueue(ids *IDGenerator) *Queue {
	if ids == nil {
		ids = NewIDGenerator()
	}
	return &Queue{
		ids:     ids,
		byID:    make(map[string]entry),
		byStart: make(map[time.Duration]string),
	}
}

// Enqueue registers a request for the window starting at start. It returns
// media.ErrDuplicate without a new ID if that window is already outstanding.
func (q *Queue) Enqueue(start time.Duration, profile media.CapabilityProfile) (string, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if id, ok := q.byStart[start]; ok {
		return id, media.ErrDuplicate
	}
	id := q.ids.Next(start)
	q.byID[id] = entry{start: start, profile: profile}
	q.byStart[start] = id
	return id, nil
}

// Resolve removes the request with the given ID. Unknown IDs, including all
// IDs cleared by Reset, yield media.ErrStaleResponse.
func (q *Queue) Resolve(correlationID string, resp media.SegmentResponse) (Completion, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	e, ok := q.byID[correlationID]
	if !ok {
		return Completion{}, fmt.Errorf("%w: %s", media.ErrStaleResponse, correlationID)
	}
	delete(q.byID, correlationID)
	delete(q.byStart, e.start)
	return Completion{Start: e.start, Profile: e.profile, Response: resp}, nil
}

// Reset drops every outstanding request.
func (q *Queue) Reset() {
	q.mu.Lock()
	defer q.mu.Unlock()
	clear(q.byID)
	clear(q.byStart)
}

// Outstanding reports whether a request for start is pending.
func (q *Queue) Outstanding(start time.Duration) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	_, ok := q.byStart[start]
	return ok
}

// Len returns the number of outstanding requests.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.byID)
}
