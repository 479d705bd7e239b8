package push

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/dawilster/scada-wtp-simulator/internal/engine"
	"github.com/gorilla/websocket"
)

func TestCommandLineRendersRainWithPeak(t *testing.T) {
	got := commandLine(InboundCommand{Cmd: "rain", Args: map[string]any{"peak": 500.0}})
	if got != "rain 500" {
		t.Errorf("commandLine(rain, peak=500) = %q, want %q", got, "rain 500")
	}
}

func TestCommandLineRendersRainWithoutPeak(t *testing.T) {
	got := commandLine(InboundCommand{Cmd: "rain"})
	if got != "rain" {
		t.Errorf("commandLine(rain) = %q, want %q", got, "rain")
	}
}

func TestCommandLineRendersDoseOff(t *testing.T) {
	got := commandLine(InboundCommand{Cmd: "dose", Args: map[string]any{"on": false}})
	if got != "dose off" {
		t.Errorf("commandLine(dose, on=false) = %q, want %q", got, "dose off")
	}
}

func TestCommandLineRendersDoseOnByDefault(t *testing.T) {
	got := commandLine(InboundCommand{Cmd: "dose"})
	if got != "dose on" {
		t.Errorf("commandLine(dose) = %q, want %q", got, "dose on")
	}
}

func TestCommandLineRendersFaultWithSensor(t *testing.T) {
	got := commandLine(InboundCommand{Cmd: "fault", Args: map[string]any{"sensor": "turbidity"}})
	if got != "fault turbidity" {
		t.Errorf("commandLine(fault, sensor=turbidity) = %q, want %q", got, "fault turbidity")
	}
}

func TestCommandLinePassesThroughUnknownVerb(t *testing.T) {
	got := commandLine(InboundCommand{Cmd: "glitch"})
	if got != "glitch" {
		t.Errorf("commandLine(glitch) = %q, want %q", got, "glitch")
	}
}

func TestHandleStatusWritesJSONFrame(t *testing.T) {
	eng := engine.New(1, 1.0, false)
	eng.Tick()
	s := NewServer(eng, "127.0.0.1:0", "127.0.0.1:0", make(chan engine.IntakeRequest, 1))

	req := httptest.NewRequest(http.MethodGet, "/status", nil)
	rec := httptest.NewRecorder()
	s.handleStatus(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status code = %d, want 200", rec.Code)
	}
	var frame Frame
	if err := json.Unmarshal(rec.Body.Bytes(), &frame); err != nil {
		t.Fatalf("unmarshal response: %v", err)
	}
	if len(frame.Coils) != 8 || len(frame.DInputs) != 10 {
		t.Errorf("Coils/DInputs lengths = %d/%d, want 8/10", len(frame.Coils), len(frame.DInputs))
	}
}

func TestServerBroadcastsFrameToSubscriber(t *testing.T) {
	eng := engine.New(2, 1.0, false)
	eng.Tick()
	s := NewServer(eng, "127.0.0.1:0", "127.0.0.1:0", make(chan engine.IntakeRequest, 4))
	if err := s.Listen(); err != nil {
		t.Fatalf("Listen() error = %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go s.Run(ctx)

	conn, _, err := websocket.DefaultDialer.Dial("ws://"+s.WSAddr()+"/", nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	conn.SetReadDeadline(time.Now().Add(3 * time.Second))
	_, msg, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	var frame Frame
	if err := json.Unmarshal(msg, &frame); err != nil {
		t.Fatalf("unmarshal frame: %v", err)
	}
	if frame.State == "" {
		t.Error("frame.State is empty, want a plant state name")
	}
}

func TestReadLoopForwardsCommandsToIntake(t *testing.T) {
	eng := engine.New(3, 1.0, false)
	intake := make(chan engine.IntakeRequest, 4)
	s := NewServer(eng, "127.0.0.1:0", "127.0.0.1:0", intake)
	if err := s.Listen(); err != nil {
		t.Fatalf("Listen() error = %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go s.Run(ctx)

	conn, _, err := websocket.DefaultDialer.Dial("ws://"+s.WSAddr()+"/", nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	if err := conn.WriteJSON(InboundCommand{Cmd: "dose", Args: map[string]any{"on": false}}); err != nil {
		t.Fatalf("write: %v", err)
	}

	select {
	case req := <-intake:
		if req.Line != "dose off" {
			t.Errorf("Line = %q, want %q", req.Line, "dose off")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no intake request forwarded within deadline")
	}
}
