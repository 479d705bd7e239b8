package register

import (
	"testing"

	"github.com/dawilster/scada-wtp-simulator/internal/plant"
	"github.com/dawilster/scada-wtp-simulator/internal/process"
)

func TestWriteSnapshotThenReadHolding(t *testing.T) {
	b := New()
	snap := process.Snapshot{TurbRaw: 12.3, PH: 7.2}
	b.WriteSnapshot(snap, plant.Running, 0, [10]bool{})

	got, ok := b.ReadHolding(HRTurbRaw, 1)
	if !ok {
		t.Fatal("ReadHolding returned !ok")
	}
	want := Encode(12.3, 10)
	if got[0] != want {
		t.Errorf("HR0 = %v, want %v", got[0], want)
	}
}

func TestReadHoldingOutOfRangeFails(t *testing.T) {
	b := New()
	if _, ok := b.ReadHolding(10, 10); ok {
		t.Error("expected out-of-range read to fail")
	}
}

func TestApplyWritesCoilThenCoilSnapshot(t *testing.T) {
	b := New()
	b.ApplyWrites([]WriteOp{
		{Coil: true, Addr: CoilIntake, BoolVal: true},
		{Coil: true, Addr: CoilAuto, BoolVal: true},
	})
	c := b.CoilSnapshot()
	if !c.Intake || !c.Auto {
		t.Errorf("CoilSnapshot = %+v, want Intake and Auto set", c)
	}
}

func TestApplyWritesInArrivalOrder(t *testing.T) {
	b := New()
	b.ApplyWrites([]WriteOp{
		{Coil: true, Addr: CoilEStop, BoolVal: true},
		{Coil: true, Addr: CoilEStop, BoolVal: false},
	})
	c := b.CoilSnapshot()
	if c.EStop {
		t.Error("expected last write to win: EStop should be false")
	}
}

func TestSetCommFaultTogglesAlarmBit(t *testing.T) {
	b := New()
	b.SetCommFault(true)
	ir, _ := b.ReadInput(IRAlarmWord, 1)
	if ir[0]&(1<<7) == 0 {
		t.Error("expected comm fault bit set")
	}
	b.SetCommFault(false)
	ir, _ = b.ReadInput(IRAlarmWord, 1)
	if ir[0]&(1<<7) != 0 {
		t.Error("expected comm fault bit cleared")
	}
}
