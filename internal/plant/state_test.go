package plant

import (
	"testing"

	"github.com/dawilster/scada-wtp-simulator/internal/process"
)

func TestOfflineToStartingToRunning(t *testing.T) {
	m := New()
	c := Coils{Auto: true, Intake: true}
	snap := process.Snapshot{TurbRaw: 3}

	r := m.Step(0, snap, c)
	if r.State != Starting {
		t.Fatalf("State = %v, want Starting", r.State)
	}

	r = m.Step(59, snap, c)
	if r.State != Starting {
		t.Fatalf("State at t=59 = %v, want still Starting", r.State)
	}

	r = m.Step(60, snap, c)
	if r.State != Running {
		t.Fatalf("State at t=60 = %v, want Running", r.State)
	}
}

func TestEstopForcesFaultFromAnyState(t *testing.T) {
	m := New()
	c := Coils{Auto: true, Intake: true}
	snap := process.Snapshot{TurbRaw: 3}
	m.Step(0, snap, c)
	m.Step(60, snap, c) // now Running

	c.EStop = true
	r := m.Step(61, snap, c)
	if r.State != Fault {
		t.Fatalf("State = %v, want Fault after estop", r.State)
	}

	c.EStop = false
	r = m.Step(62, snap, c)
	if r.State != Offline {
		t.Fatalf("State = %v, want Offline after estop clears", r.State)
	}
}

func TestTurbidityShutdownAndRestart(t *testing.T) {
	m := New()
	c := Coils{Auto: true, Intake: true}
	snap := process.Snapshot{TurbRaw: 3}
	m.Step(0, snap, c)
	m.Step(60, snap, c) // Running

	snap.TurbRaw = 600
	r := m.Step(61, snap, c)
	if r.State != Shutdown {
		t.Fatalf("State = %v, want Shutdown above trip threshold", r.State)
	}

	// Turbidity still high: ack alone does nothing.
	c.TurbShutdown = true
	snap.TurbRaw = 450
	r = m.Step(62, snap, c)
	if r.State != Shutdown {
		t.Fatalf("State = %v, want still Shutdown (above clear threshold)", r.State)
	}

	// Clears below 400, but intake still asserted: stays in Shutdown.
	snap.TurbRaw = 350
	r = m.Step(63, snap, c)
	if r.State != Shutdown {
		t.Fatalf("State = %v, want still Shutdown until intake de-asserted", r.State)
	}

	c.Intake = false
	r = m.Step(64, snap, c)
	if r.State != Offline {
		t.Fatalf("State = %v, want Offline once turbidity clears and intake de-asserts", r.State)
	}

	c.Intake = true
	r = m.Step(65, snap, c)
	if r.State != Starting {
		t.Fatalf("State = %v, want Starting once intake re-asserted", r.State)
	}
}

func TestBackwashTriggersOnHighDPAndReturnsAfterDuration(t *testing.T) {
	m := New()
	c := Coils{Auto: true, Intake: true}
	snap := process.Snapshot{TurbRaw: 3}
	m.Step(0, snap, c)
	m.Step(60, snap, c) // Running

	snap.FilterDP = 160
	r := m.Step(61, snap, c)
	if r.State != Backwash || !r.BackwashReset {
		t.Fatalf("State = %v BackwashReset = %v, want Backwash + reset pulse", r.State, r.BackwashReset)
	}

	r = m.Step(61+20*60-1, snap, c)
	if r.State != Backwash {
		t.Fatalf("State = %v, want still Backwash before duration elapses", r.State)
	}

	r = m.Step(61+20*60, snap, c)
	if r.State != Running {
		t.Fatalf("State = %v, want Running after backwash duration elapses", r.State)
	}
}

func TestTreatingFlagsReflectState(t *testing.T) {
	m := New()
	snap := process.Snapshot{TurbRaw: 3}
	r := m.Step(0, snap, Coils{})
	if r.Treating || r.Running {
		t.Errorf("Offline should not be treating or running: %+v", r)
	}
}
