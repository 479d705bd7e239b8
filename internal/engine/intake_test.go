package engine

import (
	"context"
	"strings"
	"testing"
	"time"
)

func TestApplyCommandRainDefaultsPeak(t *testing.T) {
	e := New(1, 1.0, false)
	if resp := e.ApplyCommand("rain"); resp != "ok" {
		t.Fatalf("ApplyCommand(rain) = %q, want ok", resp)
	}
	events := e.rain.Events()
	if len(events) != 1 || events[0].PeakNTU != 400 {
		t.Errorf("events after bare rain = %+v, want one event with default PeakNTU 400", events)
	}
}

func TestApplyCommandRainExplicitPeak(t *testing.T) {
	e := New(1, 1.0, false)
	if resp := e.ApplyCommand("rain 700"); resp != "ok" {
		t.Fatalf("ApplyCommand(rain 700) = %q, want ok", resp)
	}
	events := e.rain.Events()
	if len(events) != 1 || events[0].PeakNTU != 700 {
		t.Errorf("events = %+v, want one event with PeakNTU 700", events)
	}
}

func TestApplyCommandRainRejectsBadPeak(t *testing.T) {
	e := New(1, 1.0, false)
	resp := e.ApplyCommand("rain not-a-number")
	if !strings.HasPrefix(resp, "error:") {
		t.Errorf("ApplyCommand(rain not-a-number) = %q, want error", resp)
	}
}

func TestApplyCommandDoseTogglesGate(t *testing.T) {
	e := New(1, 1.0, false)
	if resp := e.ApplyCommand("dose off"); resp != "ok" {
		t.Fatalf("ApplyCommand(dose off) = %q, want ok", resp)
	}
	e.mu.RLock()
	on := e.doseEnabled
	e.mu.RUnlock()
	if on {
		t.Error("doseEnabled = true after 'dose off'")
	}

	if resp := e.ApplyCommand("dose bogus"); !strings.HasPrefix(resp, "error:") {
		t.Errorf("ApplyCommand(dose bogus) = %q, want error", resp)
	}
}

func TestApplyCommandFaultAndClearRoundTrip(t *testing.T) {
	e := New(1, 1.0, false)
	e.Tick() // give the turbidity channel a reading to freeze

	if resp := e.ApplyCommand("fault turbidity"); resp != "ok" {
		t.Fatalf("ApplyCommand(fault turbidity) = %q, want ok", resp)
	}
	e.mu.RLock()
	active := e.faults.Turbidity.Active()
	e.mu.RUnlock()
	if !active {
		t.Error("turbidity fault not active after 'fault turbidity'")
	}

	if resp := e.ApplyCommand("clear turbidity"); resp != "ok" {
		t.Fatalf("ApplyCommand(clear turbidity) = %q, want ok", resp)
	}
	e.mu.RLock()
	active = e.faults.Turbidity.Active()
	e.mu.RUnlock()
	if active {
		t.Error("turbidity fault still active after 'clear turbidity'")
	}
}

func TestApplyCommandFaultRejectsUnknownSensor(t *testing.T) {
	e := New(1, 1.0, false)
	if resp := e.ApplyCommand("fault pressure"); !strings.HasPrefix(resp, "error:") {
		t.Errorf("ApplyCommand(fault pressure) = %q, want error", resp)
	}
}

func TestApplyCommandGlitchSetsWindow(t *testing.T) {
	e := New(1, 1.0, false)
	if resp := e.ApplyCommand("glitch"); resp != "ok" {
		t.Fatalf("ApplyCommand(glitch) = %q, want ok", resp)
	}
	e.mu.RLock()
	until := e.faults.GlitchUntil
	e.mu.RUnlock()
	if until <= e.clock.SimNow() {
		t.Error("GlitchUntil not set in the future after 'glitch'")
	}
}

func TestApplyCommandStatusReportsState(t *testing.T) {
	e := New(1, 1.0, false)
	resp := e.ApplyCommand("status")
	if !strings.HasPrefix(resp, "ok: state=") {
		t.Errorf("ApplyCommand(status) = %q, want an ok: state=... summary", resp)
	}
}

func TestApplyCommandUnknownVerb(t *testing.T) {
	e := New(1, 1.0, false)
	if resp := e.ApplyCommand("dance"); !strings.HasPrefix(resp, "error:") {
		t.Errorf("ApplyCommand(dance) = %q, want error", resp)
	}
}

func TestApplyCommandEmptyLine(t *testing.T) {
	e := New(1, 1.0, false)
	if resp := e.ApplyCommand("   "); !strings.HasPrefix(resp, "error:") {
		t.Errorf("ApplyCommand(blank) = %q, want error", resp)
	}
}

func TestRunIntakeProcessesQueuedCommands(t *testing.T) {
	e := New(1, 1.0, false)
	ch := make(chan IntakeRequest, 1)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go e.RunIntake(ctx, ch)

	replies := make(chan string, 1)
	ch <- IntakeRequest{Line: "status", Respond: func(s string) { replies <- s }}

	select {
	case reply := <-replies:
		if !strings.HasPrefix(reply, "ok:") {
			t.Errorf("reply = %q, want ok: prefix", reply)
		}
	case <-time.After(time.Second):
		t.Fatal("RunIntake never responded to the queued command")
	}
}
