// ABOUTME: Target-time playback scheduler
// ABOUTME: Releases decoded chunks to the output when their local play time arrives
package player

import (
	"container/heap"
	"context"
	"log"
	"sync"
	"time"

	"github.com/Resonate-Protocol/resonate-sync/pkg/audio"
)

// Clock maps master timeline instants to local wall time
type Clock interface {
	LocalTime(targetMs float64) time.Time
}

// Logger is the logging surface the scheduler needs
type Logger interface {
	Printf(format string, v ...any)
}

// SchedulerConfig configures a Scheduler
type SchedulerConfig struct {
	// Tick is the queue check period (default: 10ms)
	Tick time.Duration

	// Early releases a chunk this long before its play time (default: 50ms)
	Early time.Duration

	// Late drops a chunk this long past its play time (default: 50ms)
	Late time.Duration

	// OutputDepth is the output channel capacity (default: 10)
	OutputDepth int

	// Now defaults to time.Now
	Now func() time.Time

	Logger Logger
}

// Scheduler manages playback timing
type Scheduler struct {
	config SchedulerConfig
	clock  Clock
	logger Logger

	mu      sync.Mutex
	bufferQ *BufferQueue
	stats   SchedulerStats

	output chan audio.Buffer
	ctx    context.Context
	cancel context.CancelFunc
}

// SchedulerStats tracks scheduler metrics
type SchedulerStats struct {
	Received int64
	Played   int64
	Dropped  int64
	Flushed  int64
}

// NewScheduler creates a playback scheduler
func NewScheduler(clock Clock, config SchedulerConfig) *Scheduler {
	if config.Tick <= 0 {
		config.Tick = 10 * time.Millisecond
	}
	if config.Early <= 0 {
		config.Early = 50 * time.Millisecond
	}
	if config.Late <= 0 {
		config.Late = 50 * time.Millisecond
	}
	if config.OutputDepth <= 0 {
		config.OutputDepth = 10
	}
	if config.Now == nil {
		config.Now = time.Now
	}
	logger := config.Logger
	if logger == nil {
		logger = log.Default()
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &Scheduler{
		config:  config,
		clock:   clock,
		logger:  logger,
		bufferQ: NewBufferQueue(),
		output:  make(chan audio.Buffer, config.OutputDepth),
		ctx:     ctx,
		cancel:  cancel,
	}
}

// Schedule adds a buffer to the queue, stamping its local play time
func (s *Scheduler) Schedule(buf audio.Buffer) {
	buf.PlayAt = s.clock.LocalTime(buf.TargetMs)

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stats.Received < 3 {
		s.logger.Printf("Scheduled chunk #%d: target=%.1fms, delay=%v",
			s.stats.Received, buf.TargetMs, buf.PlayAt.Sub(s.config.Now()))
	}

	s.stats.Received++
	heap.Push(s.bufferQ, buf)
}

// DropBefore discards queued chunks targeted before targetMs and returns
// how many were removed
func (s *Scheduler) DropBefore(targetMs float64) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	kept := s.bufferQ.items[:0]
	dropped := 0
	for _, buf := range s.bufferQ.items {
		if buf.TargetMs < targetMs {
			dropped++
			continue
		}
		kept = append(kept, buf)
	}
	s.bufferQ.items = kept
	heap.Init(s.bufferQ)
	s.stats.Flushed += int64(dropped)
	return dropped
}

// Flush discards every queued chunk
func (s *Scheduler) Flush() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := s.bufferQ.Len()
	s.bufferQ.items = nil
	s.stats.Flushed += int64(n)
	return n
}

// Run starts the scheduler loop and returns when Stop is called
func (s *Scheduler) Run() {
	ticker := time.NewTicker(s.config.Tick)
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

// processQueue hands every chunk inside the release window to the output
func (s *Scheduler) processQueue() {
	for _, buf := range s.due(s.config.Now()) {
		select {
		case s.output <- buf:
			s.mu.Lock()
			s.stats.Played++
			s.mu.Unlock()
		case <-s.ctx.Done():
			return
		}
	}
}

// due pops ready chunks and drops late ones
func (s *Scheduler) due(now time.Time) []audio.Buffer {
	s.mu.Lock()
	defer s.mu.Unlock()

	var ready []audio.Buffer
	for s.bufferQ.Len() > 0 {
		delay := s.bufferQ.Peek().PlayAt.Sub(now)

		if delay > s.config.Early {
			break
		}

		buf := heap.Pop(s.bufferQ).(audio.Buffer)
		if delay < -s.config.Late {
			s.stats.Dropped++
			if s.stats.Dropped <= 3 || s.stats.Dropped%100 == 0 {
				s.logger.Printf("Dropped late chunk at %.1fms: %v late", buf.TargetMs, -delay)
			}
			continue
		}
		ready = append(ready, buf)
	}
	return ready
}

// Output returns the output channel
func (s *Scheduler) Output() <-chan audio.Buffer {
	return s.output
}

// Stats returns scheduler statistics
func (s *Scheduler) Stats() SchedulerStats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stats
}

// BufferDepth returns the queued audio in milliseconds
func (s *Scheduler) BufferDepth() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	var ms float64
	for _, buf := range s.bufferQ.items {
		ms += buf.DurationMs()
	}
	return ms
}

// Stop stops the scheduler
func (s *Scheduler) Stop() {
	s.cancel()
}

// BufferQueue is a priority queue of audio buffers ordered by play time
type BufferQueue struct {
	items []audio.Buffer
}

func NewBufferQueue() *BufferQueue {
	q := &BufferQueue{}
	heap.Init(q)
	return q
}

// Implement heap.Interface
func (q *BufferQueue) Len() int { return len(q.items) }

func (q *BufferQueue) Less(i, j int) bool {
	return q.items[i].PlayAt.Before(q.items[j].PlayAt)
}

func (q *BufferQueue) Swap(i, j int) {
	q.items[i], q.items[j] = q.items[j], q.items[i]
}

func (q *BufferQueue) Push(x any) {
	q.items = append(q.items, x.(audio.Buffer))
}

func (q *BufferQueue) Pop() any {
	n := len(q.items)
	item := q.items[n-1]
	q.items = q.items[:n-1]
	return item
}

func (q *BufferQueue) Peek() audio.Buffer {
	return q.items[0]
}
