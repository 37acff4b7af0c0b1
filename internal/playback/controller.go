// Package playback drives gapless segment playback. A single event loop owns
// all controller state; fetches run in goroutines and post their results
// back to the loop.
package playback

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"segment-transcoder/internal/media"
	"segment-transcoder/internal/sequencer"
)

// DefaultPrefetchPercent is how far into the current segment, in percent of
// its duration, the next window is requested.
const DefaultPrefetchPercent = 20

// Fetcher retrieves one segment.
type Fetcher interface {
	Fetch(ctx context.Context, req media.SegmentRequest) (media.SegmentResponse, error)
}

// Surface presents loaded segments. It reports progress back through
// Controller.Progress and Controller.SegmentEnded.
type Surface interface {
	Load(seg media.SegmentResponse)
	SetBuffering(buffering bool)
}

// Config configures a Controller.
type Config struct {
	VideoID         media.VideoID
	SegmentDuration time.Duration
	PrefetchPercent int
	// Profile is called for every request so resizes and reconnects are
	// reflected in the next window.
	Profile func() media.CapabilityProfile
	// OnStatus, if set, is called on the loop goroutine after every state
	// change.
	OnStatus func(Status)
}

type event any

type (
	mountEvent    struct{}
	progressEvent struct{ pos time.Duration }
	endedEvent    struct{}
	seekEvent     struct{ pos time.Duration }
	retryEvent    struct{}
)

type fetchedEvent struct {
	id   string
	resp media.SegmentResponse
	err  error
}

// Controller is the playback continuity state machine.
type Controller struct {
	cfg     Config
	fetcher Fetcher
	surface Surface
	queue   *sequencer.Queue
	log     *slog.Logger

	events chan event
	done   chan struct{}
	wg     sync.WaitGroup

	// Owned by the loop goroutine.
	state        State
	current      *media.SegmentResponse
	ready        *media.SegmentResponse
	position     time.Duration
	pending      bool
	retryStart   time.Duration
	awaitingLoad bool
	endAfter     bool
	requested    []time.Duration
	loaded       int
	lastErr      error

	mu       sync.Mutex
	snapshot Status
}

// NewController returns an idle controller. queue may be nil.
func NewController(cfg Config, fetcher Fetcher, surface Surface, queue *sequencer.Queue, log *slog.Logger) *Controller {
	if cfg.SegmentDuration <= 0 {
		cfg.SegmentDuration = media.DefaultSegmentDuration
	}
	if cfg.PrefetchPercent <= 0 || cfg.PrefetchPercent > 100 {
		cfg.PrefetchPercent = DefaultPrefetchPercent
	}
	if cfg.Profile == nil {
		cfg.Profile = func() media.CapabilityProfile { return media.CapabilityProfile{}.Normalize() }
	}
	if queue == nil {
		queue = sequencer.NewQueue(nil)
	}
	return &Controller{
		cfg:     cfg,
		fetcher: fetcher,
		surface: surface,
		queue:   queue,
		log:     log,
		events:  make(chan event, 64),
		done:    make(chan struct{}),
	}
}

// Run processes events until ctx ends. Outstanding fetches are cancelled
// and waited for before Run returns.
func (c *Controller) Run(ctx context.Context) error {
	defer close(c.done)
	for {
		select {
		case <-ctx.Done():
			c.wg.Wait()
			return ctx.Err()
		case ev := <-c.events:
			c.handle(ctx, ev)
		}
	}
}

// Mount starts the session from the beginning of the video.
func (c *Controller) Mount() { c.post(mountEvent{}) }

// Progress reports the surface's playback position.
func (c *Controller) Progress(pos time.Duration) { c.post(progressEvent{pos: pos}) }

// SegmentEnded reports that the current segment finished playing.
func (c *Controller) SegmentEnded() { c.post(endedEvent{}) }

// Seek restarts the session at pos.
func (c *Controller) Seek(pos time.Duration) { c.post(seekEvent{pos: pos}) }

// Retry re-requests the window that failed while Stalled.
func (c *Controller) Retry() { c.post(retryEvent{}) }

// Status returns the latest snapshot.
func (c *Controller) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	s := c.snapshot
	s.RequestedStarts = append([]time.Duration(nil), s.RequestedStarts...)
	return s
}

func (c *Controller) post(ev event) {
	select {
	case c.events <- ev:
	case <-c.done:
	}
}

func (c *Controller) handle(ctx context.Context, ev event) {
	prev := c.state
	switch ev := ev.(type) {
	case mountEvent:
		c.onMount(ctx)
	case progressEvent:
		c.onProgress(ctx, ev.pos)
	case endedEvent:
		c.onSegmentEnded(ctx)
	case seekEvent:
		c.onSeek(ctx, ev.pos)
	case retryEvent:
		c.onRetry(ctx)
	case fetchedEvent:
		c.onFetched(ev)
	}
	c.publish(prev)
}

func (c *Controller) onMount(ctx context.Context) {
	if c.state != StateIdle {
		return
	}
	c.awaitingLoad = true
	c.surface.SetBuffering(true)
	c.request(ctx, 0)
	c.state = StatePrefetching
}

func (c *Controller) onProgress(ctx context.Context, pos time.Duration) {
	if c.state != StatePlaying && c.state != StatePrefetching {
		return
	}
	c.position = pos
	cur := c.current
	if cur == nil || cur.EndOfStream || c.endAfter || c.pending || c.ready != nil {
		return
	}
	threshold := cur.Start() + cur.Duration*time.Duration(c.cfg.PrefetchPercent)/100
	if pos >= threshold {
		c.request(ctx, cur.End)
		c.state = StatePrefetching
	}
}

func (c *Controller) onSegmentEnded(ctx context.Context) {
	cur := c.current
	if cur == nil || c.awaitingLoad || c.state.Terminal() {
		return
	}
	c.position = cur.End

	switch {
	case cur.EndOfStream || c.endAfter:
		c.surface.SetBuffering(false)
		c.state = StateEnded
	case c.ready != nil:
		next := *c.ready
		c.ready = nil
		c.load(next)
		c.state = StatePlaying
	case c.state == StateStalled:
		c.awaitingLoad = true
		c.surface.SetBuffering(true)
	default:
		c.awaitingLoad = true
		c.surface.SetBuffering(true)
		if !c.pending {
			c.request(ctx, cur.End)
		}
		c.state = StateDraining
	}
}

func (c *Controller) onSeek(ctx context.Context, pos time.Duration) {
	if c.state == StateIdle {
		return
	}
	if pos < 0 {
		pos = 0
	}
	c.queue.Reset()
	c.current = nil
	c.ready = nil
	c.pending = false
	c.endAfter = false
	c.lastErr = nil
	c.awaitingLoad = true
	c.position = pos
	c.surface.SetBuffering(true)
	c.request(ctx, pos)
	c.state = StatePrefetching
}

func (c *Controller) onRetry(ctx context.Context) {
	if c.state != StateStalled {
		return
	}
	c.lastErr = nil
	c.request(ctx, c.retryStart)
	if c.awaitingLoad && c.current != nil {
		c.state = StateDraining
		return
	}
	c.state = StatePrefetching
}

func (c *Controller) onFetched(ev fetchedEvent) {
	comp, err := c.queue.Resolve(ev.id, ev.resp)
	if err != nil {
		c.log.Debug("dropping response", slog.String("correlation_id", ev.id), slog.String("error", err.Error()))
		return
	}
	c.pending = false

	if ev.err != nil {
		c.lastErr = ev.err
		c.retryStart = comp.Start
		c.surface.SetBuffering(false)
		if errors.Is(ev.err, media.ErrUnknownSource) {
			c.state = StateFailed
		} else {
			c.state = StateStalled
		}
		c.log.Warn("segment request failed",
			slog.Int64("start_ms", comp.Start.Milliseconds()),
			slog.String("kind", string(media.KindOf(ev.err))),
			slog.String("state", c.state.String()))
		return
	}

	resp := ev.resp
	if got := resp.Start(); len(resp.Payload) > 0 && got != comp.Start {
		c.log.Warn("segment start mismatch",
			slog.Int64("requested_ms", comp.Start.Milliseconds()),
			slog.Int64("received_ms", got.Milliseconds()))
	}

	if resp.EndOfStream && len(resp.Payload) == 0 {
		if c.awaitingLoad || c.current == nil {
			c.surface.SetBuffering(false)
			c.state = StateEnded
			return
		}
		c.endAfter = true
		c.state = StatePlaying
		return
	}

	if c.awaitingLoad || c.current == nil {
		c.load(resp)
		c.state = StatePlaying
		return
	}
	c.ready = &resp
	c.state = StatePlaying
}

func (c *Controller) load(resp media.SegmentResponse) {
	c.current = &resp
	c.position = resp.Start()
	c.awaitingLoad = false
	c.loaded++
	c.surface.SetBuffering(false)
	c.surface.Load(resp)
}

func (c *Controller) request(ctx context.Context, start time.Duration) {
	profile := c.cfg.Profile()
	id, err := c.queue.Enqueue(start, profile)
	if errors.Is(err, media.ErrDuplicate) {
		return
	}
	c.pending = true
	c.requested = append(c.requested, start)

	req := media.SegmentRequest{
		VideoID:       c.cfg.VideoID,
		Start:         start,
		Duration:      c.cfg.SegmentDuration,
		CorrelationID: id,
		Profile:       profile,
	}
	c.wg.Add(1)
	go c.fetch(ctx, req)
}

func (c *Controller) fetch(ctx context.Context, req media.SegmentRequest) {
	defer c.wg.Done()
	resp, err := c.fetcher.Fetch(ctx, req)
	select {
	case c.events <- fetchedEvent{id: req.CorrelationID, resp: resp, err: err}:
	case <-ctx.Done():
	}
}

func (c *Controller) publish(prev State) {
	s := Status{
		State:           c.state,
		Position:        c.position,
		Buffering:       c.awaitingLoad && !c.state.Terminal() && c.state != StateStalled,
		RequestedStarts: append([]time.Duration(nil), c.requested...),
		Loaded:          c.loaded,
		LastError:       c.lastErr,
	}
	c.mu.Lock()
	c.snapshot = s
	c.mu.Unlock()

	if s.State != prev && c.cfg.OnStatus != nil {
		c.cfg.OnStatus(s)
	}
}
