// Package process composes the stochastic primitives and rain contributions
// into the plant's correlated sensor channels. It is a DAG of function
// composition over a single snapshot, not a graph of back-references:
// rain feeds turbidity, pH, flow, temperature and the chlorine decay rate,
// plant status gates filtration, filter_dp, level and totalising, and the
// dose command gates chlorine pulses.
package process

import (
	"math"

	"golang.org/x/exp/rand"

	"github.com/dawilster/scada-wtp-simulator/internal/rain"
	"github.com/dawilster/scada-wtp-simulator/internal/stochastic"
	"gonum.org/v1/gonum/stat/distuv"
)

// FaultMode describes how a forced sensor fault is held.
type FaultMode int

const (
	FaultNone FaultMode = iota
	FaultStuckLast
	FaultStuckZero
)

// SensorFault is the forced-value override Command Intake can apply to one
// sensor via "fault <sensor>" / "clear <sensor>".
type SensorFault struct {
	Mode   FaultMode
	Frozen float64
}

// Active reports whether this fault currently overrides the raw reading.
func (f SensorFault) Active() bool { return f.Mode != FaultNone }

// Faults bundles the per-channel forced faults plus the all-channel glitch
// burst, both driven by Command Intake.
type Faults struct {
	Turbidity SensorFault
	Chlorine  SensorFault
	Flow      SensorFault

	// GlitchUntil is the sim_now at which an active ±noise burst ends; zero
	// or past means no glitch is active.
	GlitchUntil float64
}

// Input carries everything the Process Model needs for one tick besides its
// own internal OU/dose state: the clock delta, time-of-day for the diurnal
// curve, rain contributions, plant-status gating flags, and any faults.
type Input struct {
	Dt           float64
	SimNow       float64
	SimHourOfDay float64

	Rain       rain.Contribution
	RainActive bool

	// Treating is true in Running or Backwash (filtration active).
	Treating bool
	// Running is true only in the Running state (gates runtime hours).
	Running bool
	// BackwashReset pulses true on the tick backwash begins: filter_dp
	// resets and the backwash counter increments.
	BackwashReset bool

	DoseEnabled bool
	Faults      Faults
}

// Snapshot is the atomic per-tick mapping from channel id to engineering
// value.
type Snapshot struct {
	TurbRaw       float64
	TurbFiltered  float64
	PH            float64
	Chlorine      float64
	FlowRaw       float64
	FlowTreated   float64
	LevelPct      float64
	Temperature   float64
	AlumDose      float64
	FilterDP      float64
	DamRelease    float64
	LevelCm       float64
	BackwashCount int
	TotaliserML   float64
	RuntimeHours  float64
}

// Model owns the OU channels, the dosing sawtooth, and the cumulative
// counters (filter_dp, totaliser, runtime, backwash count) that only the
// Process Model mutates.
type Model struct {
	turb *stochastic.OU
	ph   *stochastic.OU
	temp *stochastic.OU
	flow *stochastic.OU
	alum *stochastic.OU
	dam  *stochastic.OU
	dose *stochastic.Dose

	turbFiltered  float64
	filterDP      float64
	totaliserML   float64
	runtimeHours  float64
	backwashCount int

	// reservoir level, carried in both percent and cm of a nominal 500cm tank.
	levelPct float64

	turbLastGood float64
	flowLastGood float64
	chlLastGood  float64

	turbNoiseSrc rand.Source
}

const reservoirDepthCm = 500.0

// New builds a Process Model with channel parameters chosen to keep each
// channel's noise and mean-reversion within a believable band for its unit
// (NTU, pH, degrees, L/s).
func New(seed int64) *Model {
	return &Model{
		turb:         stochastic.NewOU(seed, "turb_raw", 3.0, 0.15, 0.6, 0, 2000),
		ph:           stochastic.NewOU(seed, "ph", 7.2, 0.08, 0.03, 0, 14),
		temp:         stochastic.NewOU(seed, "temperature", 26.0, 0.02, 0.08, -5, 45),
		flow:         stochastic.NewOU(seed, "flow_raw", 300.0, 0.25, 6.0, 0, 3000),
		alum:         stochastic.NewOU(seed, "alum_dose", 8.0, 0.1, 0.3, 0, 50),
		dam:          stochastic.NewOU(seed, "dam_release", 45.0, 0.02, 1.2, 0, 500),
		dose:         stochastic.NewDose(3600*6, 1.3, 0.00012),
		levelPct:     60.0,
		turbNoiseSrc: rand.NewSource(uint64(seed ^ 0x544e4f4953)), // "TNOIS"
	}
}

// diurnalFlow implements the morning/afternoon Gaussian-bump curve driving
// the plant's raw inflow, with circular distance so the bumps wrap across
// midnight correctly.
func diurnalFlow(hourOfDay float64) float64 {
	const overnightFloor = 0.15
	morning := gaussianBump(hourOfDay, 7.5, 1.5)
	afternoon := gaussianBump(hourOfDay, 18.0, 1.5)
	peaks := morning + afternoon
	if peaks < overnightFloor {
		peaks = overnightFloor
	}
	return 300 + 300*peaks
}

// diurnalDemand implements the reservoir outflow demand curve: the same
// morning/afternoon bump shape as diurnalFlow, but a separate curve, since
// downstream demand is driven by consumption, not by how much the plant
// happens to be treating right now.
func diurnalDemand(hourOfDay float64) float64 {
	const overnightFloor = 0.15
	morning := gaussianBump(hourOfDay, 7.5, 1.5)
	afternoon := gaussianBump(hourOfDay, 18.0, 1.5)
	peaks := morning + afternoon
	if peaks < overnightFloor {
		peaks = overnightFloor
	}
	return 500 + 300*peaks
}

func gaussianBump(hour, center, sigma float64) float64 {
	d := circularHourDiff(hour, center)
	return math.Exp(-0.5 * (d / sigma) * (d / sigma))
}

func circularHourDiff(a, b float64) float64 {
	d := a - b
	for d > 12 {
		d -= 24
	}
	for d < -12 {
		d += 24
	}
	return d
}

// Step advances the Process Model by one tick and returns the resulting
// Snapshot.
func (m *Model) Step(in Input) Snapshot {
	turbRaw, _ := m.turb.Step(in.Dt)
	phRaw, _ := m.ph.Step(in.Dt)
	tempRaw, _ := m.temp.Step(in.Dt)

	m.flow.SetMean(diurnalFlow(in.SimHourOfDay))
	flowRaw, _ := m.flow.Step(in.Dt)

	alumRaw, _ := m.alum.Step(in.Dt)
	damRaw, _ := m.dam.Step(in.Dt)

	turbRaw += distuv.Normal{Mu: 0, Sigma: math.Max(0.3, turbRaw*0.02), Src: m.turbNoiseSrc}.Rand()
	if turbRaw < 0 {
		turbRaw = 0
	}

	turbRaw += in.Rain.Turb
	phRaw -= in.Rain.PH
	flowRaw *= 1 + in.Rain.FlowFrac
	tempRaw -= in.Rain.Temp

	turbRaw = applyGlitch(turbRaw, in.SimNow, in.Faults.GlitchUntil, 400)
	phRaw = applyGlitch(phRaw, in.SimNow, in.Faults.GlitchUntil, 1.5)
	flowRaw = applyGlitch(flowRaw, in.SimNow, in.Faults.GlitchUntil, 150)
	tempRaw = applyGlitch(tempRaw, in.SimNow, in.Faults.GlitchUntil, 3)

	turbRaw, m.turbLastGood = applyFault(turbRaw, in.Faults.Turbidity, m.turbLastGood)
	flowRaw, m.flowLastGood = applyFault(flowRaw, in.Faults.Flow, m.flowLastGood)

	if in.Treating {
		m.turbFiltered = math.Max(0.02, turbRaw*0.02)
	} else {
		m.turbFiltered += (turbRaw - m.turbFiltered) * math.Min(1, in.Dt/120.0)
	}

	chlorine := m.dose.Step(in.SimNow, in.RainActive)
	if !in.DoseEnabled {
		m.dose.SetEnabled(false)
	} else {
		m.dose.SetEnabled(true)
	}
	chlorine, m.chlLastGood = applyFault(chlorine, in.Faults.Chlorine, m.chlLastGood)

	const flowRemovalFrac = 0.985
	flowTreated := flowRaw
	if in.Treating {
		flowTreated = flowRaw * flowRemovalFrac
	}

	if in.BackwashReset {
		m.filterDP = 15.0
		m.backwashCount++
	} else if in.Treating {
		const k = 0.00004
		m.filterDP += k * flowRaw * turbRaw * in.Dt
	}

	if in.Treating {
		m.totaliserML += flowTreated * in.Dt / 1e6 // L/s * s -> L -> ML
	}
	if in.Running {
		m.runtimeHours += in.Dt / 3600.0
	}

	const nominalDemandFrac = 0.036 / 3600.0 // 3.6%/h drain, expressed per second
	if in.Treating {
		inflowFrac := flowRaw / 5000.0
		demandFrac := diurnalDemand(in.SimHourOfDay) / 5000.0
		m.levelPct += (inflowFrac - demandFrac) * in.Dt * 100
	} else {
		m.levelPct -= nominalDemandFrac * 100 * in.Dt
	}
	if m.levelPct < 0 {
		m.levelPct = 0
	} else if m.levelPct > 100 {
		m.levelPct = 100
	}

	return Snapshot{
		TurbRaw:       turbRaw,
		TurbFiltered:  m.turbFiltered,
		PH:            phRaw,
		Chlorine:      chlorine,
		FlowRaw:       flowRaw,
		FlowTreated:   flowTreated,
		LevelPct:      m.levelPct,
		Temperature:   tempRaw,
		AlumDose:      alumRaw,
		FilterDP:      m.filterDP,
		DamRelease:    damRaw,
		LevelCm:       m.levelPct / 100.0 * reservoirDepthCm,
		BackwashCount: m.backwashCount,
		TotaliserML:   m.totaliserML,
		RuntimeHours:  m.runtimeHours,
	}
}

// applyFault overrides raw with the frozen sensor value when a fault is
// active, returning the value to remember as "last good" for the next tick.
func applyFault(raw float64, f SensorFault, lastGood float64) (value, newLastGood float64) {
	switch f.Mode {
	case FaultStuckLast:
		return f.Frozen, lastGood
	case FaultStuckZero:
		return 0, lastGood
	default:
		return raw, raw
	}
}

// applyGlitch adds a large pseudo-random burst to value while a glitch
// window is active; amplitude scales with the channel's magnitude argument.
func applyGlitch(value, simNow, glitchUntil, amplitude float64) float64 {
	if glitchUntil <= simNow {
		return value
	}
	// Deterministic-looking jitter derived from simNow so repeated ticks
	// during the burst don't all land on the same offset; real randomness
	// isn't required here since only the burst's presence matters, not its
	// exact shape.
	frac := math.Sin(simNow*37.0) // cheap high-frequency oscillation
	return value + frac*amplitude
}

// FreezeFault captures the current reading as the frozen value for a newly
// asserted stuck-at-last fault, so the frozen value is fixed at the moment
// of the command rather than drifting with the underlying channel.
func (m *Model) FreezeFault(channel string) float64 {
	switch channel {
	case "turbidity":
		return m.turbLastGood
	case "flow":
		return m.flowLastGood
	case "chlorine":
		return m.chlLastGood
	default:
		return 0
	}
}
