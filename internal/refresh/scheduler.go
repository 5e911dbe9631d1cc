package refresh

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
)

// ErrRefreshInProgress is returned by TriggerNow while a cycle is running.
var ErrRefreshInProgress = errors.New("refresh already in progress")

// Default interval bounds.
const (
	DefaultInterval = 15 * time.Second
	MinInterval     = 10 * time.Second
	MaxInterval     = 30 * time.Second
)

// CycleFunc is one refresh cycle.
type CycleFunc func(ctx context.Context) error

// Status is a snapshot of scheduler state.
type Status struct {
	Remaining   int // whole seconds until the next automatic cycle
	Interval    time.Duration
	Paused      bool
	InFlight    bool
	Running     bool
	Cycles      int
	Failures    int
	LastRun     time.Time
	LastError   error
	LastErrorAt time.Time
}

// Scheduler drives a countdown of whole seconds and runs a cycle at zero.
// At most one cycle runs at a time.
type Scheduler struct {
	cycle    CycleFunc
	tickRate time.Duration
	lo, hi   time.Duration
	now      func() time.Time
	log      zerolog.Logger

	inFlight atomic.Bool

	mu        sync.Mutex
	interval  time.Duration
	remaining int
	paused    bool
	cycles    int
	failures  int
	lastRun   time.Time
	lastErr   error
	lastErrAt time.Time

	stop chan struct{}
	done chan struct{}
}

// SchedulerOptions configures a Scheduler.
type SchedulerOptions struct {
	Interval time.Duration
	// MinInterval and MaxInterval bound Interval and SetInterval. They default
	// to the package bounds; the minimum is never below one second.
	MinInterval time.Duration
	MaxInterval time.Duration
	// TickRate is the wall-clock length of one countdown second. Defaults to 1s.
	TickRate time.Duration
	Now      func() time.Time
	Logger   zerolog.Logger
}

// NewScheduler creates a stopped scheduler for cycle.
func NewScheduler(cycle CycleFunc, opts SchedulerOptions) *Scheduler {
	if opts.Interval == 0 {
		opts.Interval = DefaultInterval
	}
	if opts.TickRate <= 0 {
		opts.TickRate = time.Second
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.MinInterval <= 0 {
		opts.MinInterval = MinInterval
	}
	opts.MinInterval = max(opts.MinInterval, time.Second)
	if opts.MaxInterval <= 0 {
		opts.MaxInterval = MaxInterval
	}
	opts.MaxInterval = max(opts.MaxInterval, opts.MinInterval)
	s := &Scheduler{
		cycle:    cycle,
		tickRate: opts.TickRate,
		lo:       opts.MinInterval,
		hi:       opts.MaxInterval,
		now:      opts.Now,
		log:      opts.Logger.With().Str("component", "scheduler").Logger(),
	}
	s.interval = s.clamp(opts.Interval)
	s.remaining = s.seconds()
	return s
}

func (s *Scheduler) clamp(d time.Duration) time.Duration {
	return min(max(d, s.lo), s.hi)
}

func (s *Scheduler) seconds() int {
	return int(s.interval / time.Second)
}

// SetInterval changes the countdown length, clamped to the configured bounds,
// and restarts the countdown.
func (s *Scheduler) SetInterval(d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.interval = s.clamp(d)
	s.remaining = s.seconds()
}

// Start begins counting down in a background goroutine. Calling Start on a
// running scheduler is a no-op.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	if s.stop != nil {
		s.mu.Unlock()
		return
	}
	s.stop = make(chan struct{})
	s.done = make(chan struct{})
	stop, done := s.stop, s.done
	s.mu.Unlock()

	go func() {
		defer close(done)
		ticker := time.NewTicker(s.tickRate)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-stop:
				return
			case <-ticker.C:
				s.Tick(ctx)
			}
		}
	}()
}

// Stop halts the countdown and waits for the loop to exit. A cycle in flight
// completes first.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	stop, done := s.stop, s.done
	s.stop, s.done = nil, nil
	s.mu.Unlock()

	if stop == nil {
		return
	}
	close(stop)
	<-done
}

// Pause freezes the countdown. Manual triggers still work.
func (s *Scheduler) Pause() {
	s.mu.Lock()
	s.paused = true
	s.mu.Unlock()
}

// Resume continues the countdown from where it was paused.
func (s *Scheduler) Resume() {
	s.mu.Lock()
	s.paused = false
	s.mu.Unlock()
}

// Tick advances the countdown by one second and runs a cycle when it reaches zero.
// Ticks are ignored while paused or while a cycle is in flight. It reports whether a cycle ran.
func (s *Scheduler) Tick(ctx context.Context) bool {
	if s.inFlight.Load() {
		return false
	}

	s.mu.Lock()
	if s.paused {
		s.mu.Unlock()
		return false
	}
	s.remaining--
	due := s.remaining <= 0
	s.mu.Unlock()

	if !due {
		return false
	}
	if !s.inFlight.CompareAndSwap(false, true) {
		return false
	}
	s.run(ctx)
	return true
}

// TriggerNow runs a cycle immediately and returns its error.
// It fails with ErrRefreshInProgress if a cycle is already running.
func (s *Scheduler) TriggerNow(ctx context.Context) error {
	if !s.inFlight.CompareAndSwap(false, true) {
		return ErrRefreshInProgress
	}
	return s.run(ctx)
}

// run executes the cycle. Caller owns the in-flight flag.
func (s *Scheduler) run(ctx context.Context) error {
	defer s.inFlight.Store(false)

	err := s.cycle(ctx)

	s.mu.Lock()
	s.cycles++
	s.lastRun = s.now()
	if err != nil {
		s.failures++
		s.lastErr = err
		s.lastErrAt = s.lastRun
	} else {
		s.lastErr = nil
	}
	s.remaining = s.seconds()
	s.mu.Unlock()

	if err != nil {
		s.log.Warn().Err(err).Msg("refresh cycle failed")
	}
	return err
}

// Remaining returns whole seconds until the next automatic cycle.
func (s *Scheduler) Remaining() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.remaining
}

// Status returns a snapshot of the scheduler.
func (s *Scheduler) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Status{
		Remaining:   s.remaining,
		Interval:    s.interval,
		Paused:      s.paused,
		InFlight:    s.inFlight.Load(),
		Running:     s.stop != nil,
		Cycles:      s.cycles,
		Failures:    s.failures,
		LastRun:     s.lastRun,
		LastError:   s.lastErr,
		LastErrorAt: s.lastErrAt,
	}
}
