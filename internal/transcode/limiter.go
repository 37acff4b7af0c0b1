package transcode

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/sync/semaphore"

	"segment-transcoder/internal/media"
)

// Limiter caps concurrent engine runs. Callers wait at most maxWait for a
// slot before failing with media.ErrOverloaded.
type Limiter struct {
	sem     *semaphore.Weighted
	maxWait time.Duration
}

// NewLimiter returns a limiter with n slots. n <= 0 means one slot.
func NewLimiter(n int, maxWait time.Duration) *Limiter {
	if n <= 0 {
		n = 1
	}
	return &Limiter{sem: semaphore.NewWeighted(int64(n)), maxWait: maxWait}
}

// Acquire blocks until a slot is free. The returned release must be called
// exactly once.
func (l *Limiter) Acquire(ctx context.Context) (release func(), err error) {
	if l.maxWait <= 0 {
		if !l.sem.TryAcquire(1) {
			return nil, fmt.Errorf("%w: no free encode slot", media.ErrOverloaded)
		}
		return l.release, nil
	}

	waitCtx, cancel := context.WithTimeout(ctx, l.maxWait)
	defer cancel()
	if err := l.sem.Acquire(waitCtx, 1); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, fmt.Errorf("%w: no encode slot within %s", media.ErrOverloaded, l.maxWait)
	}
	return l.release, nil
}

func (l *Limiter) release() {
	l.sem.Release(1)
}
