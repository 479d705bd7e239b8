package stochastic

import "math"

// Dose is the sawtooth chlorine residual model: snaps to Peak every Period
// simulated seconds, then decays exponentially at DecayRate (doubled while
// rain is active, modelling dilution-driven demand spikes).
type Dose struct {
	Period    float64
	Peak      float64
	DecayRate float64
	Enabled   bool

	value       float64
	lastPulse   float64
	lastTick    float64
	initialized bool
}

// NewDose constructs a dosing generator. The residual starts at Peak; the
// first Step call records its simNow as the last pulse time, so the next
// pulse fires once Period simulated seconds have passed since that call.
func NewDose(period, peak, decayRate float64) *Dose {
	return &Dose{
		Period:    period,
		Peak:      peak,
		DecayRate: decayRate,
		Enabled:   true,
		value:     peak,
	}
}

// Step advances the dose model to simNow (an absolute simulated-seconds
// timestamp, not a delta) and returns the current residual. rainActive
// doubles the decay rate applied over this step's own elapsed time only, so
// a mid-cycle change in rainActive doesn't retroactively re-rate time
// already decayed under the other rate.
func (d *Dose) Step(simNow float64, rainActive bool) float64 {
	if !d.initialized {
		d.lastPulse = simNow
		d.lastTick = simNow
		d.initialized = true
		return d.value
	}

	dt := simNow - d.lastTick
	if dt < 0 {
		dt = 0
	}
	d.lastTick = simNow

	if d.Enabled && simNow-d.lastPulse >= d.Period {
		d.value = d.Peak
		d.lastPulse = simNow
		return d.value
	}

	rate := d.DecayRate
	if rainActive {
		rate *= 2
	}
	d.value *= math.Exp(-rate * dt)
	return d.value
}

// Value returns the last computed residual without advancing state.
func (d *Dose) Value() float64 { return d.value }

// SetEnabled gates the pulse; disabling does not freeze the residual, it
// just stops new pulses so the decay already in progress keeps running.
func (d *Dose) SetEnabled(on bool) { d.Enabled = on }
