package stochastic

import "testing"

func TestNewOUStartsAtMean(t *testing.T) {
	o := NewOU(1, "turb", 5.0, 0.1, 0.5, 0, 100)
	if o.Value != 5.0 {
		t.Errorf("Value = %v, want 5.0", o.Value)
	}
}

func TestStepClampsToBounds(t *testing.T) {
	o := NewOU(1, "turb", 1000, 5.0, 50.0, 0, 10)
	for i := 0; i < 50; i++ {
		v, _ := o.Step(1.0)
		if v < 0 || v > 10 {
			t.Fatalf("Step() = %v, out of [0,10] bounds", v)
		}
	}
}

func TestStepZeroDtIsNoop(t *testing.T) {
	o := NewOU(1, "ph", 7.0, 0.2, 0.05, 0, 14)
	before := o.Value
	v, clamped := o.Step(0)
	if v != before || clamped {
		t.Errorf("Step(0) = (%v, %v), want (%v, false)", v, clamped, before)
	}
}

func TestDeterministicGivenSameSeedAndChannel(t *testing.T) {
	a := NewOU(42, "flow", 100, 0.3, 2.0, 0, 500)
	b := NewOU(42, "flow", 100, 0.3, 2.0, 0, 500)

	for i := 0; i < 20; i++ {
		va, _ := a.Step(1.0)
		vb, _ := b.Step(1.0)
		if va != vb {
			t.Fatalf("step %d: diverged: %v != %v", i, va, vb)
		}
	}
}

func TestDifferentChannelIDsDiverge(t *testing.T) {
	a := NewOU(42, "flow", 100, 0.3, 2.0, 0, 500)
	b := NewOU(42, "turbidity", 100, 0.3, 2.0, 0, 500)

	same := true
	for i := 0; i < 20; i++ {
		va, _ := a.Step(1.0)
		vb, _ := b.Step(1.0)
		if va != vb {
			same = false
		}
	}
	if same {
		t.Error("channels with different IDs produced identical traces")
	}
}

func TestSubsteppingConvergesNearMeanOverLongDt(t *testing.T) {
	o := NewOU(7, "temp", 15.0, 2.0, 0.01, 0, 30)
	o.Value = 25.0
	v, _ := o.Step(100.0)
	if v < 10 || v > 20 {
		t.Errorf("after long dt with fast reversion and tiny noise, value = %v, want near mean 15", v)
	}
}
