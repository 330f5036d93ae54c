// ABOUTME: Timestamp-based playback scheduler
// ABOUTME: Schedules audio buffers for precise playback timing
package player

import (
	"container/heap"
	"context"
	"log"
	"sync"
	"sync/atomic"
	"time"

	clockfilter "github.com/resonatehq-oss/resonate/internal/sync"
	"github.com/resonatehq-oss/resonate/pkg/audio"
)

// Scheduler converts server-clock timestamps to local play times using a
// Clock Filter snapshot and releases buffers to Output() once they are
// within jitterMs of their scheduled local play time, dropping any that
// are more than jitterMs late.
type Scheduler struct {
	filter   *clockfilter.Filter
	jitterMs int
	ctx      context.Context
	cancel   context.CancelFunc

	queueMu sync.Mutex // guards bufferQ: Schedule (reader goroutine) vs processQueue (Run goroutine)
	bufferQ *BufferQueue

	output chan audio.Buffer

	stats schedulerStats
}

// schedulerStats holds the live counters, updated from both the reader
// goroutine (Schedule) and the Run goroutine (processQueue) and so kept
// as atomics rather than under queueMu, which guards only bufferQ.
type schedulerStats struct {
	received atomic.Int64
	played   atomic.Int64
	dropped  atomic.Int64
}

// SchedulerStats is a point-in-time snapshot of scheduler metrics.
type SchedulerStats struct {
	Received int64
	Played   int64
	Dropped  int64
}

// NewScheduler creates a playback scheduler. filter supplies the
// remote-to-local clock conversion; jitterMs sizes the early/late window
// buffers are released within.
func NewScheduler(filter *clockfilter.Filter, jitterMs int) *Scheduler {
	ctx, cancel := context.WithCancel(context.Background())

	return &Scheduler{
		filter:   filter,
		bufferQ:  NewBufferQueue(),
		output:   make(chan audio.Buffer, 10),
		jitterMs: jitterMs,
		ctx:      ctx,
		cancel:   cancel,
	}
}

// Schedule adds a buffer to the queue, translating its server timestamp
// to a local play time via the current clock snapshot.
func (s *Scheduler) Schedule(buf audio.Buffer) {
	snap := s.filter.Snapshot()
	localMicros := snap.RemoteToLocal(buf.Timestamp)
	buf.PlayAt = time.Unix(0, localMicros*1000)

	received := s.stats.received.Add(1)
	if received <= 5 {
		delay := buf.PlayAt.Sub(time.Now())
		log.Printf("Scheduled buffer #%d: timestamp=%d, delay=%v, offset=%dμs, quality=%v",
			received, buf.Timestamp, delay, snap.Offset, snap.Quality)
	}

	s.queueMu.Lock()
	heap.Push(s.bufferQ, buf)
	s.queueMu.Unlock()
}

// Clear drops every currently queued buffer without stopping the
// scheduler, for a server-initiated stream/clear.
func (s *Scheduler) Clear() {
	s.queueMu.Lock()
	defer s.queueMu.Unlock()
	for s.bufferQ.Len() > 0 {
		heap.Pop(s.bufferQ)
	}
}

// Run starts the scheduler loop
func (s *Scheduler) Run() {
	ticker := time.NewTicker(10 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			s.processQueue()
		}
	}
}

// processQueue checks for buffers ready to play
func (s *Scheduler) processQueue() {
	now := time.Now()
	window := time.Duration(s.jitterMs) * time.Millisecond

	for {
		s.queueMu.Lock()
		if s.bufferQ.Len() == 0 {
			s.queueMu.Unlock()
			return
		}
		buf := s.bufferQ.Peek()
		delay := buf.PlayAt.Sub(now)

		if delay > window {
			// Too early, wait
			s.queueMu.Unlock()
			return
		} else if delay < -window {
			// Too late, drop
			heap.Pop(s.bufferQ)
			s.queueMu.Unlock()
			s.stats.dropped.Add(1)
			log.Printf("Dropped late buffer: %v late", -delay)
			continue
		}

		heap.Pop(s.bufferQ)
		s.queueMu.Unlock()

		select {
		case s.output <- buf:
			s.stats.played.Add(1)
		case <-s.ctx.Done():
			return
		}
	}
}

// Output returns the output channel
func (s *Scheduler) Output() <-chan audio.Buffer {
	return s.output
}

// QueueLen returns the number of buffers currently queued, for UI and
// diagnostic reporting.
func (s *Scheduler) QueueLen() int {
	s.queueMu.Lock()
	defer s.queueMu.Unlock()
	return s.bufferQ.Len()
}

// Stats returns a snapshot of scheduler statistics.
func (s *Scheduler) Stats() SchedulerStats {
	return SchedulerStats{
		Received: s.stats.received.Load(),
		Played:   s.stats.played.Load(),
		Dropped:  s.stats.dropped.Load(),
	}
}

// Stop stops the scheduler
func (s *Scheduler) Stop() {
	s.cancel()
}

// Done returns a channel closed once the scheduler's Run loop has
// exited, so a consumer draining Output() can stop selecting on it
// without leaking a goroutine after Stop.
func (s *Scheduler) Done() <-chan struct{} {
	return s.ctx.Done()
}

// BufferQueue is a priority queue for audio buffers, ordered by local
// play time.
type BufferQueue struct {
	items []audio.Buffer
}

func NewBufferQueue() *BufferQueue {
	q := &BufferQueue{}
	heap.Init(q)
	return q
}

func (q *BufferQueue) Len() int { return len(q.items) }

func (q *BufferQueue) Less(i, j int) bool {
	return q.items[i].PlayAt.Before(q.items[j].PlayAt)
}

func (q *BufferQueue) Swap(i, j int) {
	q.items[i], q.items[j] = q.items[j], q.items[i]
}

func (q *BufferQueue) Push(x interface{}) {
	q.items = append(q.items, x.(audio.Buffer))
}

func (q *BufferQueue) Pop() interface{} {
	n := len(q.items)
	item := q.items[n-1]
	q.items = q.items[:n-1]
	return item
}

func (q *BufferQueue) Peek() audio.Buffer {
	return q.items[0]
}
