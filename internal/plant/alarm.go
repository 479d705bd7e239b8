package plant

import "github.com/dawilster/scada-wtp-simulator/internal/process"

// Alarm bit positions within the 16-bit alarm word.
const (
	AlarmTurbHigh = iota
	AlarmTurbFilteredHigh
	AlarmChlorineLow
	AlarmPHHigh
	AlarmPHLow
	AlarmLevelHigh
	AlarmLevelLow
	AlarmCommFault
	AlarmPumpFault
	AlarmValveFault
)

// AlarmWord recomputes the 16-bit alarm bitfield from the current snapshot,
// state, and coils. It is a pure projection: no latching, no memory of past
// ticks.
func AlarmWord(snap process.Snapshot, state State, c Coils, commFault bool) uint16 {
	var w uint16

	set := func(bit int, cond bool) {
		if cond {
			w |= 1 << uint(bit)
		}
	}

	set(AlarmTurbHigh, snap.TurbRaw > 200)
	set(AlarmTurbFilteredHigh, snap.TurbFiltered > 1.0)
	set(AlarmChlorineLow, snap.Chlorine < 0.2)
	set(AlarmPHHigh, snap.PH > 8.5)
	set(AlarmPHLow, snap.PH < 6.5)
	set(AlarmLevelHigh, snap.LevelPct > 95)
	set(AlarmLevelLow, snap.LevelPct < 20)
	set(AlarmCommFault, commFault)
	set(AlarmPumpFault, pumpFault(state, c))
	set(AlarmValveFault, valveFault(state, c))

	return w
}

func pumpFault(state State, c Coils) bool {
	pumpRunning := state == Starting || state == Running || state == Backwash
	return (c.Intake || c.Alum || c.Dose) && !pumpRunning
}

func valveFault(state State, c Coils) bool {
	return c.BackwashCmd != (state == Backwash)
}

// DiscreteInputs projects the ten read-only discrete inputs (10001..10010),
// laid out the same way rtu_bridge.py's DI_* offsets do: three running
// indicators, backwash valve/activity, level alarms, sensor alarms, and comm
// fault.
func DiscreteInputs(state State, c Coils, alarmWord uint16, commFault bool) [10]bool {
	treating := state == Running || state == Backwash
	var d [10]bool
	d[0] = treating                            // 10001 intake pump running
	d[1] = treating && c.Alum                  // 10002 alum pump running
	d[2] = treating && c.Dose                  // 10003 cl2 pump running
	d[3] = state == Backwash                   // 10004 backwash valve open
	d[4] = alarmWord&(1<<AlarmLevelHigh) != 0   // 10005 level high
	d[5] = alarmWord&(1<<AlarmLevelLow) != 0    // 10006 level low
	d[6] = state == Backwash                   // 10007 backwash active
	d[7] = alarmWord&(1<<AlarmTurbHigh) != 0    // 10008 turbidity alarm
	d[8] = alarmWord&(1<<AlarmChlorineLow) != 0 // 10009 chlorine alarm
	d[9] = commFault                           // 10010 comm fault
	return d
}
