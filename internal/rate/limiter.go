package rate

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Limiter gates outbound API calls so the sync pipeline and the action
// executor respect Gmail rate limits.
type Limiter interface {
	Wait(ctx context.Context) error
}

// ErrStopped is returned by Wait once the limiter has been shut down.
var ErrStopped = errors.New("rate: limiter stopped")

// TokenBucket releases tokens at a fixed rate, holding at most one second's
// worth. A single bucket may be shared by many goroutines.
type TokenBucket struct {
	tokens chan struct{}
	stop   chan struct{}
	done   chan struct{}
}

// NewTokenBucket returns a running limiter that releases rps tokens per
// second. Call Stop when finished to release the refill goroutine.
func NewTokenBucket(rps int) *TokenBucket {
	if rps <= 0 {
		rps = 1
	}
	tb := &TokenBucket{
		tokens: make(chan struct{}, rps),
		stop:   make(chan struct{}),
		done:   make(chan struct{}),
	}
	// allow the first call to proceed immediately
	tb.tokens <- struct{}{}
	go tb.refill(time.Second / time.Duration(rps))
	return tb
}

func (t *TokenBucket) refill(interval time.Duration) {
	defer close(t.done)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-t.stop:
			return
		case <-ticker.C:
			select {
			case t.tokens <- struct{}{}:
			default: // bucket full, drop the tick
			}
		}
	}
}

// Wait blocks until a token is available, the context is canceled, or the
// limiter is stopped.
func (t *TokenBucket) Wait(ctx context.Context) error {
	select {
	case <-t.tokens:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("rate wait canceled: %w", ctx.Err())
	case <-t.stop:
		return ErrStopped
	}
}

// Stop terminates the refill goroutine and returns once it has exited.
// Pending and later Wait calls fail with ErrStopped.
func (t *TokenBucket) Stop() {
	close(t.stop)
	<-t.done
}

var _ Limiter = (*TokenBucket)(nil)
