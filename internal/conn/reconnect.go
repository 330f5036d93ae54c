// ABOUTME: URL-keyed reconnect driver with backoff and deduplicated retry
// ABOUTME: At most one reconnect task per URL; connect() is atomic check-and-create
package conn

import (
	"context"
	"math/rand"
	"sync"
	"time"
)

// Dialer establishes a new Endpoint for the given URL. The returned
// Endpoint must not yet have Run called on it; the driver starts it.
type Dialer func(ctx context.Context, url string) (*Endpoint, error)

const (
	initialBackoff   = 500 * time.Millisecond
	defaultMaxBackoff = 30 * time.Second
	backoffMultiplier = 2.0
	jitterFraction    = 0.2
)

// retryEntry is the registry's per-URL handle. Ownership is by pointer
// identity: the task that created an entry holds the only reference it
// ever dereferences, and removes it from the registry only if the
// registry still maps the URL to that same pointer (compare-and-remove).
// This is what prevents a disconnect/connect race from letting an old
// task's cleanup clobber a newly created task's entry.
type retryEntry struct {
	retry chan struct{} // buffered 1; signaling is a no-op if already pending
}

// Driver owns the {url -> reconnect task} registry described in
// spec.md §4.2 and §9 ("module-level singletons and shared global
// dictionaries for reconnect state" is exactly what this replaces): one
// mutex, one map, entries removed only by the owning task.
type Driver struct {
	dial       Dialer
	maxBackoff time.Duration
	onConnect  func(url string, e *Endpoint)

	mu      sync.Mutex
	entries map[string]*retryEntry
}

// NewDriver builds a reconnect driver. onConnect is invoked (from the
// task's own goroutine) each time a new Endpoint is dialed, before Run
// is started, so the caller can wire handlers and register the
// Endpoint with its Group.
func NewDriver(dial Dialer, onConnect func(url string, e *Endpoint)) *Driver {
	return &Driver{
		dial:       dial,
		maxBackoff: defaultMaxBackoff,
		onConnect:  onConnect,
		entries:    make(map[string]*retryEntry),
	}
}

// SetMaxBackoff overrides the default 30s backoff ceiling.
func (d *Driver) SetMaxBackoff(max time.Duration) { d.maxBackoff = max }

// Connect ensures exactly one reconnect task exists for url. If a task
// is already running, it signals that task's retry event (waking it
// immediately from backoff) instead of starting a second task.
func (d *Driver) Connect(ctx context.Context, url string) {
	d.mu.Lock()
	if entry, exists := d.entries[url]; exists {
		d.mu.Unlock()
		select {
		case entry.retry <- struct{}{}:
		default:
		}
		return
	}

	entry := &retryEntry{retry: make(chan struct{}, 1)}
	d.entries[url] = entry
	d.mu.Unlock()

	go d.run(ctx, url, entry)
}

// ActiveTaskCount reports the number of URLs with a live reconnect
// task; exposed for tests of property 5 (single reconnect per URL).
func (d *Driver) ActiveTaskCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.entries)
}

func (d *Driver) run(ctx context.Context, url string, entry *retryEntry) {
	defer func() {
		d.mu.Lock()
		if d.entries[url] == entry {
			delete(d.entries, url)
		}
		d.mu.Unlock()
	}()

	backoff := min(initialBackoff, d.maxBackoff)
	for {
		if ctx.Err() != nil {
			return
		}

		ep, err := d.dial(ctx, url)
		if err != nil {
			if !waitRetry(ctx, entry.retry, backoff) {
				return
			}
			backoff = nextBackoff(backoff, d.maxBackoff)
			continue
		}

		backoff = min(initialBackoff, d.maxBackoff)
		ep.ReconnectURL = url

		disconnected := make(chan bool, 1)
		ep.SetDisconnectObserver(func(_ *Endpoint, _ CloseReason, retry bool) {
			disconnected <- retry
		})

		if d.onConnect != nil {
			d.onConnect(url, ep)
		}

		done := make(chan struct{})
		go func() {
			ep.Run()
			close(done)
		}()

		select {
		case <-ctx.Done():
			ep.Close(CloseShutdown, false)
			<-done
			return
		case retry := <-disconnected:
			<-done
			if !retry {
				return
			}
			if !waitRetry(ctx, entry.retry, backoff) {
				return
			}
			backoff = nextBackoff(backoff, d.maxBackoff)
		}
	}
}

// waitRetry blocks until ctx is cancelled (returns false), the jittered
// backoff elapses, or the entry's retry event fires (both return true,
// the retry event short-circuiting the wait per spec.md §4.2).
func waitRetry(ctx context.Context, retry chan struct{}, backoff time.Duration) bool {
	timer := time.NewTimer(jitter(backoff))
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-retry:
		return true
	case <-timer.C:
		return true
	}
}

func jitter(d time.Duration) time.Duration {
	delta := float64(d) * jitterFraction
	offset := (rand.Float64()*2 - 1) * delta
	return time.Duration(float64(d) + offset)
}

func nextBackoff(cur, max time.Duration) time.Duration {
	next := time.Duration(float64(cur) * backoffMultiplier)
	if next > max {
		return max
	}
	return next
}
