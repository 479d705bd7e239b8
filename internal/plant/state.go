// Package plant implements the plant state machine: it consumes a Process
// Snapshot and the current coil commands and decides the plant's operating
// state, with fixed transition priority evaluated fresh each tick.
package plant

import "github.com/dawilster/scada-wtp-simulator/internal/process"

// State is the plant's operating mode.
type State int

const (
	Offline State = iota
	Starting
	Running
	Shutdown
	Backwash
	Fault
)

func (s State) String() string {
	switch s {
	case Offline:
		return "Offline"
	case Starting:
		return "Starting"
	case Running:
		return "Running"
	case Shutdown:
		return "Shutdown"
	case Backwash:
		return "Backwash"
	case Fault:
		return "Fault"
	default:
		return "Unknown"
	}
}

// Coils mirrors the operator-writable Modbus coils relevant to the state
// machine.
type Coils struct {
	Intake       bool
	Alum         bool
	Dose         bool
	BackwashCmd  bool
	Auto         bool
	EStop        bool
	Ack          bool
	TurbShutdown bool
}

const (
	turbShutdownTrip    = 500.0
	turbShutdownClear   = 400.0
	startingDuration    = 60.0
	backwashDuration    = 20 * 60.0
	filterDPBackwashHWM = 150.0
)

// Machine holds the state machine's time-in-state bookkeeping.
type Machine struct {
	state        State
	enteredAtSim float64
}

// New constructs a Machine starting Offline.
func New() *Machine {
	return &Machine{state: Offline}
}

// State returns the current plant state.
func (m *Machine) State() State { return m.state }

// Result carries the state decided this tick plus side effects the engine
// must feed back into the Process Model and discrete inputs.
type Result struct {
	State         State
	BackwashReset bool // pulses true the tick backwash begins
	Treating      bool // Running or Backwash, drives Process Model filtration
	Running       bool // exactly Running, drives runtime-hours accrual
}

// Step evaluates the transition table against the latest snapshot and coil
// state, in fixed priority order.
func (m *Machine) Step(simNow float64, snap process.Snapshot, c Coils) Result {
	prev := m.state

	switch {
	case c.EStop:
		m.transition(Fault, simNow)
	case prev == Fault && !c.EStop:
		m.transition(Offline, simNow)
	case snap.TurbRaw > turbShutdownTrip:
		m.transition(Shutdown, simNow)
	case prev == Shutdown && snap.TurbRaw < turbShutdownClear && !c.Intake:
		m.transition(Offline, simNow)
	case prev == Offline && c.Auto && c.Intake && snap.TurbRaw <= turbShutdownTrip:
		m.transition(Starting, simNow)
	case prev == Starting && simNow-m.enteredAtSim >= startingDuration:
		m.transition(Running, simNow)
	case prev == Running && (c.BackwashCmd || snap.FilterDP >= filterDPBackwashHWM):
		m.transition(Backwash, simNow)
	case prev == Backwash && simNow-m.enteredAtSim >= backwashDuration:
		m.transition(Running, simNow)
	default:
		// no transition fires; remain in prev
	}

	return Result{
		State:         m.state,
		BackwashReset: prev != Backwash && m.state == Backwash,
		Treating:      m.state == Running || m.state == Backwash,
		Running:       m.state == Running,
	}
}

func (m *Machine) transition(to State, simNow float64) {
	m.state = to
	m.enteredAtSim = simNow
}
