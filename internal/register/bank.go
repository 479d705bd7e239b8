package register

import (
	"sync"

	"github.com/dawilster/scada-wtp-simulator/internal/plant"
	"github.com/dawilster/scada-wtp-simulator/internal/process"
)

// Holding register addresses and their fixed-point scale factors.
const (
	HRTurbRaw = iota
	HRTurbFiltered
	HRPH
	HRChlorine
	HRFlowRaw
	HRFlowTreated
	HRLevelPct
	HRTemperature
	HRAlumDose
	HRFilterDP
	HRDamRelease
	HRLevelCm
	HRBackwashCount
	HRTotaliser
	HRRuntime
	holdingRegisterCount
)

var holdingScales = [holdingRegisterCount]int{
	HRTurbRaw:       10,
	HRTurbFiltered:  100,
	HRPH:            100,
	HRChlorine:      100,
	HRFlowRaw:       10,
	HRFlowTreated:   10,
	HRLevelPct:      10,
	HRTemperature:   10,
	HRAlumDose:      10,
	HRFilterDP:      10,
	HRDamRelease:    10,
	HRLevelCm:       1,
	HRBackwashCount: 1,
	HRTotaliser:     1,
	HRRuntime:       1,
}

// Input register addresses.
const (
	IRTurbRawBackup = iota
	IRPlantStatus
	IRAlarmWord
	inputRegisterCount
)

// Coil addresses (00001..00008 in Modbus numbering, 0-indexed here).
const (
	CoilIntake = iota
	CoilAlum
	CoilChlorine
	CoilBackwash
	CoilAuto
	CoilEStop
	CoilAck
	CoilTurbShutdown
	coilCount
)

// Bank is the concurrency-safe register bank: exclusively mutated by the
// scan orchestrator, read under lock by the Modbus server, with writes
// landing in a pending-writes queue the orchestrator drains (see
// internal/engine).
type Bank struct {
	mu sync.RWMutex

	holding [holdingRegisterCount]uint16
	input   [inputRegisterCount]uint16
	coils   [coilCount]bool
	discIn  [10]bool
}

// New returns an empty bank with all coils at their power-on default (false).
func New() *Bank {
	return &Bank{}
}

// WriteSnapshot projects a Process Snapshot, plant state, alarm word, and
// discrete inputs into the register bank, holding the write lock for the
// entire projection and doing no I/O while it's held.
func (b *Bank) WriteSnapshot(snap process.Snapshot, state plant.State, alarmWord uint16, discreteInputs [10]bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.holding[HRTurbRaw] = Encode(snap.TurbRaw, holdingScales[HRTurbRaw])
	b.holding[HRTurbFiltered] = Encode(snap.TurbFiltered, holdingScales[HRTurbFiltered])
	b.holding[HRPH] = Encode(snap.PH, holdingScales[HRPH])
	b.holding[HRChlorine] = Encode(snap.Chlorine, holdingScales[HRChlorine])
	b.holding[HRFlowRaw] = Encode(snap.FlowRaw, holdingScales[HRFlowRaw])
	b.holding[HRFlowTreated] = Encode(snap.FlowTreated, holdingScales[HRFlowTreated])
	b.holding[HRLevelPct] = Encode(snap.LevelPct, holdingScales[HRLevelPct])
	b.holding[HRTemperature] = Encode(snap.Temperature, holdingScales[HRTemperature])
	b.holding[HRAlumDose] = Encode(snap.AlumDose, holdingScales[HRAlumDose])
	b.holding[HRFilterDP] = Encode(snap.FilterDP, holdingScales[HRFilterDP])
	b.holding[HRDamRelease] = Encode(snap.DamRelease, holdingScales[HRDamRelease])
	b.holding[HRLevelCm] = Encode(snap.LevelCm, holdingScales[HRLevelCm])
	b.holding[HRBackwashCount] = Encode(float64(snap.BackwashCount), holdingScales[HRBackwashCount])
	b.holding[HRTotaliser] = Encode(snap.TotaliserML, holdingScales[HRTotaliser])
	b.holding[HRRuntime] = Encode(snap.RuntimeHours, holdingScales[HRRuntime])

	b.input[IRTurbRawBackup] = Encode(snap.TurbRaw, 10)
	b.input[IRPlantStatus] = uint16(state)
	b.input[IRAlarmWord] = alarmWord

	b.discIn = discreteInputs
}

// SetCommFault lets the orchestrator flag IR2 bit 7 when the Modbus listener
// itself is down, independent of the tick-driven alarm projection.
func (b *Bank) SetCommFault(fault bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if fault {
		b.input[IRAlarmWord] |= 1 << 7
	} else {
		b.input[IRAlarmWord] &^= 1 << 7
	}
}

// ReadHolding returns a coherent copy of count holding registers starting at
// addr.
func (b *Bank) ReadHolding(addr, count int) ([]uint16, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return copyRange(b.holding[:], addr, count)
}

// ReadInput returns a coherent copy of count input registers starting at addr.
func (b *Bank) ReadInput(addr, count int) ([]uint16, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return copyRange(b.input[:], addr, count)
}

// ReadCoils returns a coherent copy of count coils starting at addr.
func (b *Bank) ReadCoils(addr, count int) ([]bool, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return copyBoolRange(b.coils[:], addr, count)
}

// ReadDiscreteInputs returns a coherent copy of count discrete inputs
// starting at addr.
func (b *Bank) ReadDiscreteInputs(addr, count int) ([]bool, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return copyBoolRange(b.discIn[:], addr, count)
}

// CoilSnapshot returns the current value of every coil, for the state
// machine's per-tick consumption.
func (b *Bank) CoilSnapshot() plant.Coils {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return plant.Coils{
		Intake:       b.coils[CoilIntake],
		Alum:         b.coils[CoilAlum],
		Dose:         b.coils[CoilChlorine],
		BackwashCmd:  b.coils[CoilBackwash],
		Auto:         b.coils[CoilAuto],
		EStop:        b.coils[CoilEStop],
		Ack:          b.coils[CoilAck],
		TurbShutdown: b.coils[CoilTurbShutdown],
	}
}

// WriteOp is a single batched coil or holding-register write, applied
// atomically by ApplyWrites.
type WriteOp struct {
	Coil    bool
	Addr    int
	BoolVal bool
	RegVal  uint16
}

// ApplyWrites applies a batch of coil/holding-register writes atomically, in
// arrival order: two writes landing in the same drain cycle for the same
// address leave the later one in effect.
func (b *Bank) ApplyWrites(ops []WriteOp) {
	if len(ops) == 0 {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, op := range ops {
		if op.Coil {
			if op.Addr >= 0 && op.Addr < coilCount {
				b.coils[op.Addr] = op.BoolVal
			}
			continue
		}
		if op.Addr >= 0 && op.Addr < holdingRegisterCount {
			b.holding[op.Addr] = op.RegVal
		}
	}
}

func copyRange(src []uint16, addr, count int) ([]uint16, bool) {
	if addr < 0 || count < 0 || addr+count > len(src) {
		return nil, false
	}
	out := make([]uint16, count)
	copy(out, src[addr:addr+count])
	return out, true
}

func copyBoolRange(src []bool, addr, count int) ([]bool, bool) {
	if addr < 0 || count < 0 || addr+count > len(src) {
		return nil, false
	}
	out := make([]bool, count)
	copy(out, src[addr:addr+count])
	return out, true
}
