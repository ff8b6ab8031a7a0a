// ABOUTME: Master logical clock with pause accounting and tick subscriptions
// ABOUTME: Every periodic task in the sync core runs off this clock's tick loop
package sync

import (
	"errors"
	"sync"
	"time"
)

var (
	// ErrAlreadyRunning is returned by Start on a running clock.
	ErrAlreadyRunning = errors.New("clock already running")
	// ErrNotRunning is returned by Stop, Pause and Resume on a stopped clock.
	ErrNotRunning = errors.New("clock not running")
)

const (
	DefaultTickInterval = 10 * time.Millisecond
	DefaultLookaheadMs  = 100.0
)

// ClockConfig configures a Clock
type ClockConfig struct {
	// TickInterval is the nominal tick period (default: 10ms)
	TickInterval time.Duration

	// LookaheadMs is added to the current time by SyncTime (default: 100)
	LookaheadMs float64

	// Now is the monotonic time source (default: time.Now)
	Now func() time.Time

	// OnEvent receives lifecycle events. Called without locks held.
	OnEvent func(ClockEvent)

	Logger Logger
}

// TickFunc is a tick subscriber
type TickFunc func(Tick)

type subscription struct {
	fn        TickFunc
	interval  float64 // ms of master time, 0 means every tick
	lastFired float64
	fired     bool
}

// ClockStats is a read-only snapshot of the clock
type ClockStats struct {
	Running     bool
	Paused      bool
	CurrentTime float64
	SyncTime    float64
	TickCount   uint64
	TotalPaused time.Duration
	Subscribers int
}

// Clock is the master logical clock. Time is reported in milliseconds since
// Start, excluding any paused intervals.
type Clock struct {
	config ClockConfig
	logger Logger

	mu          sync.Mutex
	running     bool
	paused      bool
	origin      time.Time
	pausedAt    time.Time
	totalPaused time.Duration
	tickCount   uint64
	subs        map[string]*subscription
	order       []string

	stopChan chan struct{}
	done     chan struct{}
}

// NewClock creates a stopped clock
func NewClock(config ClockConfig) *Clock {
	if config.TickInterval <= 0 {
		config.TickInterval = DefaultTickInterval
	}
	if config.LookaheadMs == 0 {
		config.LookaheadMs = DefaultLookaheadMs
	}
	if config.Now == nil {
		config.Now = time.Now
	}

	return &Clock{
		config: config,
		logger: loggerOrNop(config.Logger),
		subs:   make(map[string]*subscription),
	}
}

// Start records the origin and begins emitting ticks
func (c *Clock) Start() error {
	c.mu.Lock()
	if c.running {
		c.mu.Unlock()
		c.logger.Printf("Warning: clock start requested while already running")
		return ErrAlreadyRunning
	}

	c.running = true
	c.paused = false
	c.origin = c.config.Now()
	c.totalPaused = 0
	c.tickCount = 0
	c.stopChan = make(chan struct{})
	c.done = make(chan struct{})
	stop, done := c.stopChan, c.done
	at := c.origin
	c.mu.Unlock()

	go c.run(stop, done)

	c.logger.Printf("Clock started (tick interval %v, lookahead %.0fms)", c.config.TickInterval, c.config.LookaheadMs)
	c.emit(ClockStarted{At: at})
	return nil
}

// Stop halts the tick loop, drops all subscriptions and resets the origin.
// No subscriber runs after Stop returns. Stop must not be called from a
// tick subscriber.
func (c *Clock) Stop() error {
	c.mu.Lock()
	if !c.running {
		c.mu.Unlock()
		c.logger.Printf("Warning: clock stop requested while not running")
		return ErrNotRunning
	}
	final := c.currentTimeLocked()
	c.running = false
	stop, done := c.stopChan, c.done
	c.mu.Unlock()

	close(stop)
	<-done

	c.mu.Lock()
	ticks := c.tickCount
	c.subs = make(map[string]*subscription)
	c.order = nil
	c.origin = time.Time{}
	c.paused = false
	c.totalPaused = 0
	c.mu.Unlock()

	c.logger.Printf("Clock stopped at %.1fms after %d ticks", final, ticks)
	c.emit(ClockStopped{Time: final, TickCount: ticks})
	return nil
}

// Pause freezes time accounting. Pausing a paused clock is a no-op.
func (c *Clock) Pause() error {
	c.mu.Lock()
	if !c.running {
		c.mu.Unlock()
		return ErrNotRunning
	}
	if c.paused {
		c.mu.Unlock()
		return nil
	}
	c.pausedAt = c.config.Now()
	c.paused = true
	now := c.currentTimeLocked()
	c.mu.Unlock()

	c.emit(ClockPaused{Time: now})
	return nil
}

// Resume continues time accounting, excluding the paused interval
func (c *Clock) Resume() error {
	c.mu.Lock()
	if !c.running {
		c.mu.Unlock()
		return ErrNotRunning
	}
	if !c.paused {
		c.mu.Unlock()
		return nil
	}
	pausedFor := c.config.Now().Sub(c.pausedAt)
	if pausedFor < 0 {
		pausedFor = 0
	}
	c.totalPaused += pausedFor
	c.paused = false
	now := c.currentTimeLocked()
	c.mu.Unlock()

	c.emit(ClockResumed{Time: now, PausedFor: pausedFor})
	return nil
}

// CurrentTime returns milliseconds since Start minus paused time, floored at 0
func (c *Clock) CurrentTime() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.currentTimeLocked()
}

// SyncTime returns CurrentTime plus the lookahead
func (c *Clock) SyncTime() float64 {
	return c.CurrentTime() + c.config.LookaheadMs
}

// LookaheadMs returns the configured lookahead
func (c *Clock) LookaheadMs() float64 {
	return c.config.LookaheadMs
}

// IsRunning reports whether the clock has been started
func (c *Clock) IsRunning() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.running
}

// IsPaused reports whether the clock is paused
func (c *Clock) IsPaused() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.paused
}

// Subscribe registers fn under id. An interval of 0 fires on every tick;
// otherwise fn fires at most once per interval of master time.
// Re-subscribing an id replaces the previous callback.
func (c *Clock) Subscribe(id string, fn TickFunc, interval time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, exists := c.subs[id]; !exists {
		c.order = append(c.order, id)
	}
	c.subs[id] = &subscription{
		fn:       fn,
		interval: float64(interval) / float64(time.Millisecond),
	}
}

// Unsubscribe removes the callback registered under id
func (c *Clock) Unsubscribe(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, exists := c.subs[id]; !exists {
		return
	}
	delete(c.subs, id)
	for i, existing := range c.order {
		if existing == id {
			c.order = append(c.order[:i], c.order[i+1:]...)
			break
		}
	}
}

// Stats returns a snapshot of clock state
func (c *Clock) Stats() ClockStats {
	c.mu.Lock()
	defer c.mu.Unlock()

	total := c.totalPaused
	if c.paused {
		total += c.config.Now().Sub(c.pausedAt)
	}
	now := c.currentTimeLocked()

	return ClockStats{
		Running:     c.running,
		Paused:      c.paused,
		CurrentTime: now,
		SyncTime:    now + c.config.LookaheadMs,
		TickCount:   c.tickCount,
		TotalPaused: total,
		Subscribers: len(c.subs),
	}
}

func (c *Clock) currentTimeLocked() float64 {
	if !c.running {
		return 0
	}
	now := c.config.Now()
	if c.paused {
		now = c.pausedAt
	}
	elapsed := now.Sub(c.origin) - c.totalPaused
	if elapsed < 0 {
		return 0
	}
	return float64(elapsed) / float64(time.Millisecond)
}

// run is the tick loop. Deadlines advance by the nominal interval so time
// spent in subscribers and timer lateness are absorbed by a shorter wait.
func (c *Clock) run(stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)

	interval := c.config.TickInterval
	next := time.Now().Add(interval)
	timer := time.NewTimer(interval)
	defer timer.Stop()

	for {
		select {
		case <-stop:
			return
		case <-timer.C:
		}

		c.tick()

		now := time.Now()
		next = next.Add(interval)
		if now.Sub(next) > interval {
			// Fell more than a tick behind; resume from now instead of bursting.
			next = now.Add(interval)
		}
		delay := next.Sub(now)
		if delay < 0 {
			delay = 0
		}
		timer.Reset(delay)
	}
}

func (c *Clock) tick() {
	c.mu.Lock()
	if !c.running || c.paused {
		c.mu.Unlock()
		return
	}

	c.tickCount++
	now := c.currentTimeLocked()
	t := Tick{Time: now, Count: c.tickCount}

	due := make([]TickFunc, 0, len(c.order))
	for _, id := range c.order {
		sub := c.subs[id]
		if sub.interval > 0 && sub.fired && now-sub.lastFired < sub.interval {
			continue
		}
		sub.fired = true
		sub.lastFired = now
		due = append(due, sub.fn)
	}
	c.mu.Unlock()

	for _, fn := range due {
		fn(t)
	}
}

func (c *Clock) emit(ev ClockEvent) {
	if c.config.OnEvent != nil {
		c.config.OnEvent(ev)
	}
}
