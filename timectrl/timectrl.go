package timectrl

import (
	"context"
	"sync"
	"time"
)

// DefaultMaxDelta caps the wall-clock time a single tick may cover so a
// frame hitch cannot produce one huge integration step.
const DefaultMaxDelta = 100 * time.Millisecond

// SimClock is an interface for accessing simulation time. Components that
// only need to read the clock depend on this rather than on the
// controller.
type SimClock interface {
	// Now returns the current simulation time.
	Now() time.Time
}

// Mode describes how the TimeController advances simulation time.
type Mode int

const (
	// RealTime measures wall-clock time between ticks, clamps it to
	// MaxDelta and scales it by TimeScale.
	RealTime Mode = iota
	// Accelerated advances by Tick·TimeScale per iteration as quickly as the
	// loop can run.
	Accelerated
)

func (m Mode) String() string {
	if m == Accelerated {
		return "accelerated"
	}
	return "realtime"
}

// Listener receives the simulation time reached by a tick and the
// simulated seconds that tick covered.
type Listener func(simTime time.Time, dt float64)

// TimeController drives simulation time and notifies registered listeners.
type TimeController struct {
	mu        sync.RWMutex
	StartTime time.Time
	Tick      time.Duration
	Mode      Mode
	MaxDelta  time.Duration
	TimeScale float64

	// currentTime tracks the current simulation time. It is updated
	// as the controller advances time.
	currentTime time.Time

	listeners []Listener

	// wall is the wall clock; tests replace it.
	wall func() time.Time
}

// NewTimeController constructs a controller with DefaultMaxDelta and a
// time scale of 1.
func NewTimeController(start time.Time, tick time.Duration, mode Mode) *TimeController {
	return &TimeController{
		StartTime:   start,
		Tick:        tick,
		Mode:        mode,
		MaxDelta:    DefaultMaxDelta,
		TimeScale:   1,
		currentTime: start,
		wall:        time.Now,
	}
}

// Now returns the current simulation time. Implements SimClock.
func (tc *TimeController) Now() time.Time {
	tc.mu.RLock()
	defer tc.mu.RUnlock()
	return tc.currentTime
}

// SetTime overrides the current simulation time.
func (tc *TimeController) SetTime(t time.Time) {
	tc.mu.Lock()
	defer tc.mu.Unlock()
	tc.currentTime = t
}

// AddListener registers a callback invoked on every tick.
func (tc *TimeController) AddListener(fn Listener) {
	tc.mu.Lock()
	defer tc.mu.Unlock()
	tc.listeners = append(tc.listeners, fn)
}

// ClampDelta converts a wall-clock delta into simulated seconds: negative
// deltas become zero, deltas above max are capped (when max > 0), and the
// result is multiplied by scale.
func ClampDelta(elapsed, max time.Duration, scale float64) float64 {
	if elapsed < 0 {
		elapsed = 0
	}
	if max > 0 && elapsed > max {
		elapsed = max
	}
	return elapsed.Seconds() * scale
}

// Start runs the controller until duration of simulation time has passed
// (forever when duration <= 0) in a separate goroutine. It returns a
// channel that is closed when the controller finishes.
func (tc *TimeController) Start(duration time.Duration) <-chan struct{} {
	return tc.StartContext(context.Background(), duration)
}

// StartContext is Start with cancellation. In Accelerated mode the
// controller stops as soon as Tick·TimeScale rounds to a non-positive
// duration.
func (tc *TimeController) StartContext(ctx context.Context, duration time.Duration) <-chan struct{} {
	done := make(chan struct{})
	go func() {
		defer close(done)

		tc.mu.Lock()
		simTime := tc.StartTime
		tc.currentTime = simTime
		listeners := append([]Listener(nil), tc.listeners...)
		tc.mu.Unlock()

		var ticker *time.Ticker
		if tc.Mode == RealTime {
			ticker = time.NewTicker(tc.Tick)
			defer ticker.Stop()
		}

		last := tc.wall()
		elapsed := time.Duration(0)
		for {
			if duration > 0 && elapsed >= duration {
				return
			}

			var dt float64
			if ticker != nil {
				select {
				case <-ctx.Done():
					return
				case <-ticker.C:
				}
				now := tc.wall()
				dt = ClampDelta(now.Sub(last), tc.MaxDelta, tc.TimeScale)
				last = now
			} else {
				select {
				case <-ctx.Done():
					return
				default:
				}
				dt = tc.Tick.Seconds() * tc.TimeScale
			}

			step := time.Duration(dt * float64(time.Second))
			if ticker == nil && step <= 0 {
				// An accelerated tick that advances nothing would spin forever.
				return
			}
			if duration > 0 && elapsed+step > duration {
				step = duration - elapsed
				dt = step.Seconds()
			}
			simTime = simTime.Add(step)
			elapsed += step

			tc.mu.Lock()
			tc.currentTime = simTime
			tc.mu.Unlock()

			for _, fn := range listeners {
				fn(simTime, dt)
			}
		}
	}()
	return done
}
