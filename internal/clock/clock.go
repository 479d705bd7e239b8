// Package clock implements the virtual clock that maps wall time to
// simulated time under a compression factor.
package clock

import (
	"sync"
	"time"
)

// simTimeOffset seeds the simulated clock at 6am so diurnal curves are
// interesting immediately, matching wtp_process_sim.py's sim_time_offset.
const simTimeOffset = 6 * 3600.0

// Virtual is a monotonic virtual clock: each Advance adds (wall_now -
// last_wall) * speed to the accumulated simulated seconds, and SimNow reports
// that accumulated total. It never goes backwards, even if wall time regresses.
// Advance is called from the tick loop while SimNow/SimHourOfDay are read
// from Command Intake's separate goroutine, so accumulated/lastWall are
// guarded by mu.
type Virtual struct {
	speed float64
	nowFn func() time.Time

	mu          sync.Mutex
	lastWall    time.Time
	accumulated float64 // simulated seconds since construction
}

// New returns a Virtual clock running at the given compression factor. A
// non-positive speed is treated as 1.0.
func New(speed float64) *Virtual {
	if speed <= 0 {
		speed = 1.0
	}
	return &Virtual{
		speed:    speed,
		lastWall: time.Now(),
		nowFn:    time.Now,
	}
}

// Advance computes the simulated delta since the last Advance (or since
// construction, on the first call), updates internal state, and returns the
// delta in simulated seconds. If wall time regresses, Δsim is zero.
func (v *Virtual) Advance() float64 {
	now := v.nowFn()

	v.mu.Lock()
	defer v.mu.Unlock()
	wallDt := now.Sub(v.lastWall).Seconds()
	if wallDt < 0 {
		wallDt = 0
	}
	v.lastWall = now
	simDt := wallDt * v.speed
	v.accumulated += simDt
	return simDt
}

// SimNow returns the total simulated seconds accumulated by Advance calls so
// far; wall time since the last Advance is not included.
func (v *Virtual) SimNow() float64 {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.accumulated
}

// SimHourOfDay returns the simulated hour-of-day in [0, 24), accounting for
// the 6am start offset.
func (v *Virtual) SimHourOfDay() float64 {
	v.mu.Lock()
	defer v.mu.Unlock()
	total := v.accumulated + simTimeOffset
	h := total / 3600.0
	return hourMod(h)
}

func hourMod(h float64) float64 {
	const day = 24.0
	for h < 0 {
		h += day
	}
	for h >= day {
		h -= day
	}
	return h
}

// Speed returns the configured compression factor.
func (v *Virtual) Speed() float64 { return v.speed }
