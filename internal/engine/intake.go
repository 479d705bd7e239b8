package engine

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/dawilster/scada-wtp-simulator/internal/log"
	"github.com/dawilster/scada-wtp-simulator/internal/process"
)

// IntakeRequest is one Command Intake line plus where to send its one-line
// "ok"/"error: <reason>" reply. Respond may be nil for fire-and-forget
// callers, in which case the reply is discarded.
type IntakeRequest struct {
	Line    string
	Respond func(string)
}

// RunIntake is the Command Intake loop: it blocks reading from ch until ch is
// closed or ctx is cancelled, applying one command at a time so commands
// arriving from different transports (stdin, the push feed's inbound
// channel) are still serialised through a single consumer.
func (e *Engine) RunIntake(ctx context.Context, ch <-chan IntakeRequest) {
	for {
		select {
		case <-ctx.Done():
			return
		case req, ok := <-ch:
			if !ok {
				return
			}
			resp := e.ApplyCommand(req.Line)
			if req.Respond != nil {
				req.Respond(resp)
			}
		}
	}
}

// ApplyCommand parses and applies one Command Intake line, grounded on
// wtp_process_sim.py's parse_stdin_command grammar: rain [ntu], dose on|off,
// fault/clear <sensor>, glitch, status. It never panics on malformed input;
// anything it can't parse comes back as "error: ...".
func (e *Engine) ApplyCommand(line string) string {
	fields := strings.Fields(strings.ToLower(strings.TrimSpace(line)))
	if len(fields) == 0 {
		return "error: empty command"
	}

	switch fields[0] {
	case "rain":
		peak := 400.0
		if len(fields) > 1 {
			v, err := strconv.ParseFloat(fields[1], 64)
			if err != nil {
				return fmt.Sprintf("error: bad peak %q", fields[1])
			}
			peak = v
		}
		e.rain.Inject(e.clock.SimNow(), peak)
		log.Infof("intake: rain injected, peak=%.0f NTU", peak)
		return "ok"

	case "dose":
		if len(fields) < 2 || (fields[1] != "on" && fields[1] != "off") {
			return "error: usage: dose on|off"
		}
		e.setDoseEnabled(fields[1] == "on")
		return "ok"

	case "fault":
		if len(fields) < 2 {
			return "error: usage: fault <turbidity|chlorine|flow>"
		}
		if !e.setFault(fields[1], true) {
			return fmt.Sprintf("error: unknown sensor %q", fields[1])
		}
		return "ok"

	case "clear":
		if len(fields) < 2 {
			return "error: usage: clear <turbidity|chlorine|flow>"
		}
		if !e.setFault(fields[1], false) {
			return fmt.Sprintf("error: unknown sensor %q", fields[1])
		}
		return "ok"

	case "glitch":
		e.setGlitch(glitchDuration)
		return "ok"

	case "status":
		return e.statusLine()

	default:
		return fmt.Sprintf("error: unknown command %q", fields[0])
	}
}

func (e *Engine) setDoseEnabled(on bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.doseEnabled = on
}

// setFault forces or clears a stuck-at-last-good override on one sensor
// channel. The frozen value is captured at the moment the fault is asserted,
// so repeated "fault <sensor>" invocations stay deterministic per call even
// though the underlying OU channel keeps moving underneath.
func (e *Engine) setFault(sensor string, on bool) bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	var frozen float64
	if on {
		frozen = e.model.FreezeFault(sensor)
	}
	fault := process.SensorFault{}
	if on {
		fault = process.SensorFault{Mode: process.FaultStuckLast, Frozen: frozen}
	}

	switch sensor {
	case "turbidity":
		e.faults.Turbidity = fault
	case "chlorine":
		e.faults.Chlorine = fault
	case "flow":
		e.faults.Flow = fault
	default:
		return false
	}
	return true
}

func (e *Engine) setGlitch(durationSimSeconds float64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.faults.GlitchUntil = e.clock.SimNow() + durationSimSeconds
}

// statusLine renders a human-readable summary mirroring
// wtp_process_sim.py's get_state_summary(), for the "status" command.
func (e *Engine) statusLine() string {
	e.mu.RLock()
	faults := e.faults
	dose := e.doseEnabled
	state := e.lastState
	e.mu.RUnlock()

	simNow := e.clock.SimNow()
	day := int(simNow / 86400)
	hour := e.clock.SimHourOfDay()
	activeRain := len(e.rain.Events())

	var active []string
	if faults.Turbidity.Active() {
		active = append(active, "turbidity")
	}
	if faults.Chlorine.Active() {
		active = append(active, "chlorine")
	}
	if faults.Flow.Active() {
		active = append(active, "flow")
	}
	faultList := "none"
	if len(active) > 0 {
		faultList = strings.Join(active, ",")
	}

	return fmt.Sprintf("ok: state=%s day=%d hour=%.1f speed=%.0fx rain_events=%d dosing=%s faults=%s",
		state, day, hour, e.clock.Speed(), activeRain, onOff(dose), faultList)
}

func onOff(b bool) string {
	if b {
		return "on"
	}
	return "off"
}
