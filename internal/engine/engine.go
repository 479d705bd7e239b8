// Package engine owns the Engine aggregate: the clock, rain source, process
// model, state machine and register bank behind a single lock for the small
// bit of state Command Intake mutates directly (dose gate, sensor faults,
// glitch window), plus the Scan Orchestrator loops that keep everything else
// coherent.
package engine

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dawilster/scada-wtp-simulator/internal/clock"
	"github.com/dawilster/scada-wtp-simulator/internal/plant"
	"github.com/dawilster/scada-wtp-simulator/internal/process"
	"github.com/dawilster/scada-wtp-simulator/internal/rain"
	"github.com/dawilster/scada-wtp-simulator/internal/register"
)

const (
	tickInterval  = 1 * time.Second
	drainInterval = 500 * time.Millisecond
	// glitchDuration is the simulated-seconds length of a "glitch" burst.
	glitchDuration = 30.0
)

// Engine is the single owning aggregate. Everything it doesn't own outright
// (the rain source's own lock, the bank's own RWMutex) is still reached only
// through Engine's methods, so callers never need to know which lock guards
// which field.
type Engine struct {
	// Bank is exported because both the Modbus server and the push feed
	// read it directly under its own lock; Engine writes the projection to
	// it once per tick, plus drained Modbus writes and the comm-fault bit.
	Bank *register.Bank

	clock *clock.Virtual
	rain  *rain.Source
	model *process.Model
	sm    *plant.Machine

	mu           sync.RWMutex
	doseEnabled  bool
	faults       process.Faults
	lastSnapshot process.Snapshot
	lastState    plant.State
	lastAlarm    uint16

	commFault atomic.Bool
	ticks     atomic.Int64
}

// New constructs an Engine. seed drives every stochastic component
// (OU channels, turbidity measurement noise, rain scheduling) so identical seeds reproduce
// identical traces.
func New(seed int64, speed float64, autoEvents bool) *Engine {
	return &Engine{
		Bank:        register.New(),
		clock:       clock.New(speed),
		rain:        rain.New(seed, autoEvents),
		model:       process.New(seed),
		sm:          plant.New(),
		doseEnabled: true,
	}
}

// SimNow returns the current simulated-seconds clock reading.
func (e *Engine) SimNow() float64 { return e.clock.SimNow() }

// Speed returns the configured wall/sim compression factor.
func (e *Engine) Speed() float64 { return e.clock.Speed() }

// Ticks returns the number of completed scan-orchestrator ticks, for
// diagnostics and determinism tests.
func (e *Engine) Ticks() int64 { return e.ticks.Load() }

// Snapshot returns the most recently committed Process Snapshot, plant
// state, and alarm word together, so callers never observe a torn
// combination from two different ticks.
func (e *Engine) Snapshot() (process.Snapshot, plant.State, uint16) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.lastSnapshot, e.lastState, e.lastAlarm
}

// SetCommFault flags IR2 bit 7 and the corresponding discrete input when the
// Modbus listener itself is unreachable, independent of the tick-driven
// alarm projection.
func (e *Engine) SetCommFault(fault bool) {
	e.commFault.Store(fault)
	e.Bank.SetCommFault(fault)
}

// Tick runs one full scan-orchestrator cycle: advance the clock, tick the
// rain scheduler, decide the plant state off the previous tick's snapshot,
// advance the process model under that decision, recompute alarms and
// discrete inputs, and commit the whole projection to the register bank in
// one tick-atomic write.
//
// State is decided from the previous tick's snapshot rather than the one
// this tick produces: a real PLC scan cycle reads inputs, evaluates logic,
// then drives outputs, and evaluating twice per tick to avoid the one-tick
// lag would mean the state machine's own outputs (Treating, BackwashReset)
// feed back into the same tick's sensor computation, which would require
// holding the bank's write lock across two passes of the model instead of
// one. At a 1-second tick rate, a one-tick lag is negligible against the
// minutes-to-hours timescales every threshold in this simulation operates on.
func (e *Engine) Tick() {
	dt := e.clock.Advance()
	simNow := e.clock.SimNow()
	hour := e.clock.SimHourOfDay()

	coils := e.Bank.CoilSnapshot()

	e.mu.RLock()
	prevSnap := e.lastSnapshot
	e.mu.RUnlock()

	result := e.sm.Step(simNow, prevSnap, coils)

	e.rain.Tick(simNow)
	contrib := e.rain.ActiveContributions(simNow)
	rainActive := e.rain.Active(simNow)

	e.mu.RLock()
	faults := e.faults
	doseEnabled := e.doseEnabled
	e.mu.RUnlock()

	snap := e.model.Step(process.Input{
		Dt:            dt,
		SimNow:        simNow,
		SimHourOfDay:  hour,
		Rain:          contrib,
		RainActive:    rainActive,
		Treating:      result.Treating,
		Running:       result.Running,
		BackwashReset: result.BackwashReset,
		DoseEnabled:   doseEnabled,
		Faults:        faults,
	})

	commFault := e.commFault.Load()
	alarmWord := plant.AlarmWord(snap, result.State, coils, commFault)
	discreteInputs := plant.DiscreteInputs(result.State, coils, alarmWord, commFault)

	e.mu.Lock()
	e.lastSnapshot = snap
	e.lastState = result.State
	e.lastAlarm = alarmWord
	e.mu.Unlock()

	e.Bank.WriteSnapshot(snap, result.State, alarmWord, discreteInputs)
	e.ticks.Add(1)
}

// Run drives the tick loop and the command-drain loop until ctx is
// cancelled. A command-drain always happens immediately before a tick, so a
// coil write observed by the drainer lands in the Coil Set before that
// tick's state-machine evaluation. Shutdown drains whatever writes are
// already queued, then returns.
func (e *Engine) Run(ctx context.Context, pending <-chan register.WriteOp) {
	tickTicker := time.NewTicker(tickInterval)
	defer tickTicker.Stop()
	drainTicker := time.NewTicker(drainInterval)
	defer drainTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			e.drainPending(pending)
			return
		case <-drainTicker.C:
			e.drainPending(pending)
		case <-tickTicker.C:
			e.drainPending(pending)
			e.Tick()
		}
	}
}

func (e *Engine) drainPending(ch <-chan register.WriteOp) {
	var ops []register.WriteOp
	for {
		select {
		case op := <-ch:
			ops = append(ops, op)
		default:
			if len(ops) > 0 {
				e.Bank.ApplyWrites(ops)
			}
			return
		}
	}
}
