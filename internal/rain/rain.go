// Package rain implements the Poisson-timed rain event source:
// auto-scheduled or operator-injected storm events that shape a turbidity
// spike plus correlated pH, flow and temperature contributions over time.
package rain

import (
	"math"
	"sync"

	"golang.org/x/exp/rand"

	"gonum.org/v1/gonum/stat/distuv"
)

// Event is a single rain disturbance, active over [Start, Start+Duration).
type Event struct {
	Start         float64
	Duration      float64
	PeakNTU       float64
	PHDrop        float64
	FlowBoostFrac float64
	TempDrop      float64
}

// Contribution is the summed/maxed effect of all currently active events on
// the four coupled channels, at a given instant.
type Contribution struct {
	Turb     float64 // added to raw turbidity
	PH       float64 // subtracted from pH
	FlowFrac float64 // multiplies flow as (1+FlowFrac)
	Temp     float64 // subtracted from temperature
}

// Source schedules and tracks rain events. It carries its own lock because
// Command Intake injects events directly from the intake loop while the tick
// loop concurrently advances the scheduler and reads contributions; every
// exported method takes mu for its entire body.
type Source struct {
	mu         sync.Mutex
	rng        *rand.Rand
	autoEvents bool

	events    []Event
	nextEvent float64 // sim_now at which the next auto-scheduled event fires
	scheduled bool
}

// New constructs a rain source seeded from the global simulation seed.
// autoEvents controls whether the Poisson scheduler injects storms on its
// own; when false, only explicit Inject calls produce events.
func New(seed int64, autoEvents bool) *Source {
	return &Source{
		rng:        rand.New(rand.NewSource(uint64(seed ^ 0x5241494e))), // "RAIN"
		autoEvents: autoEvents,
	}
}

// meanInterarrival draws a mean inter-arrival time in [18h, 36h], re-rolled
// after each event fires so the Poisson process' rate itself varies a little
// run to run while staying within the specified band.
func (s *Source) meanInterarrival() float64 {
	const hour = 3600.0
	lo, hi := 18*hour, 36*hour
	return lo + s.rng.Float64()*(hi-lo)
}

// scheduleNext draws the next auto-event arrival time via an exponential
// (Poisson inter-arrival) distribution with the given mean, from simNow.
func (s *Source) scheduleNext(simNow float64) {
	mean := s.meanInterarrival()
	exp := distuv.Exponential{Rate: 1.0 / mean, Src: s.rng}
	s.nextEvent = simNow + exp.Rand()
	s.scheduled = true
}

func (s *Source) randRange(lo, hi float64) float64 {
	return lo + s.rng.Float64()*(hi-lo)
}

// newDefaultEvent synthesises an event starting at simNow with the peak
// specified, drawing the rest of its shape parameters at random within the
// same bands a real storm's would fall in.
func (s *Source) newDefaultEvent(simNow, peakNTU float64) Event {
	duration := s.randRange(2*3600, 8*3600)
	return Event{
		Start:         simNow,
		Duration:      duration,
		PeakNTU:       peakNTU,
		PHDrop:        s.randRange(0.2, 0.8) * (peakNTU / 800.0),
		FlowBoostFrac: s.randRange(0.10, 0.20),
		TempDrop:      s.randRange(1.0, 2.0),
	}
}

// Inject synthesises an event with default shape at simNow, with the given
// turbidity peak (the operator "rain <ntu>" command path).
func (s *Source) Inject(simNow, peakNTU float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, s.newDefaultEvent(simNow, peakNTU))
}

// Tick advances the auto-scheduler and prunes expired events. Call once per
// simulation tick with the current simulated time.
func (s *Source) Tick(simNow float64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.pruneExpired(simNow)

	if !s.autoEvents {
		return
	}
	if !s.scheduled {
		s.scheduleNext(simNow)
		return
	}
	if simNow >= s.nextEvent {
		peak := s.randRange(200, 800)
		s.events = append(s.events, s.newDefaultEvent(simNow, peak))
		s.scheduleNext(simNow)
	}
}

func (s *Source) pruneExpired(simNow float64) {
	live := s.events[:0]
	for _, e := range s.events {
		if simNow < e.Start+e.Duration {
			live = append(live, e)
		}
	}
	s.events = live
}

// envelope returns the shape fraction in [0,1] of an event's magnitude at
// elapsed seconds into it: linear ramp over the first 10% of duration, then
// exponential decay with time-constant 0.35*duration.
func envelope(elapsed, duration float64) float64 {
	rampEnd := 0.10 * duration
	if elapsed < 0 || elapsed >= duration {
		return 0
	}
	if elapsed <= rampEnd {
		if rampEnd == 0 {
			return 1
		}
		return elapsed / rampEnd
	}
	tau := 0.35 * duration
	return math.Exp(-(elapsed - rampEnd) / tau)
}

// ActiveContributions sums turbidity contributions across all events active
// at simNow and takes the max-magnitude pH/flow/temperature contribution
// instead of summing those: turbidity genuinely accumulates from multiple
// overlapping storms, but pH drop, flow boost and temperature dip are driven
// by whichever storm is dominant at that instant, not their combination.
func (s *Source) ActiveContributions(simNow float64) Contribution {
	s.mu.Lock()
	defer s.mu.Unlock()

	var c Contribution
	for _, e := range s.events {
		if simNow < e.Start || simNow >= e.Start+e.Duration {
			continue
		}
		shape := envelope(simNow-e.Start, e.Duration)
		c.Turb += e.PeakNTU * shape

		if ph := e.PHDrop * shape; ph > c.PH {
			c.PH = ph
		}
		if ff := e.FlowBoostFrac * shape; ff > c.FlowFrac {
			c.FlowFrac = ff
		}
		if td := e.TempDrop * shape; td > c.Temp {
			c.Temp = td
		}
	}
	return c
}

// Active reports whether any rain event currently affects the plant.
func (s *Source) Active(simNow float64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, e := range s.events {
		if simNow >= e.Start && simNow < e.Start+e.Duration {
			return true
		}
	}
	return false
}

// Events returns a copy of the currently tracked (unexpired) events, for
// diagnostics.
func (s *Source) Events() []Event {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]Event, len(s.events))
	copy(out, s.events)
	return out
}
