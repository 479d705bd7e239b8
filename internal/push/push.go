// Package push implements the live-push feed: a 1Hz WebSocket broadcast of
// the plant's current snapshot, an inbound command channel sharing Command
// Intake's grammar, and a small JSON/MessagePack /status readout.
//
// It follows tradeengine's market.Feed/Subscriber shape for the broadcast
// side (one outbound queue per subscriber so a slow reader can't stall
// the tick-driven broadcast) and remoteweather's restserver.Controller shape
// for the HTTP lifecycle (mux.Router, http.Server, graceful Shutdown).
package push

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/dawilster/scada-wtp-simulator/internal/engine"
	"github.com/dawilster/scada-wtp-simulator/internal/log"
	"github.com/dawilster/scada-wtp-simulator/internal/wtperr"
	"github.com/dawilster/scada-wtp-simulator/pkg/responseformat"
	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
)

const (
	broadcastInterval = 1 * time.Second
	shutdownGrace     = 2 * time.Second
	subscriberQueue   = 8
)

// Frame is the once-per-second live-push payload.
type Frame struct {
	TSim        float64 `json:"t_sim"`
	State       string  `json:"state"`
	TurbRaw     float64 `json:"turb_raw"`
	TurbFilt    float64 `json:"turb_filt"`
	PH          float64 `json:"ph"`
	Chlorine    float64 `json:"chlorine"`
	FlowRaw     float64 `json:"flow_raw"`
	FlowTreated float64 `json:"flow_treated"`
	LevelPct    float64 `json:"level_pct"`
	Temperature float64 `json:"temperature"`
	FilterDP    float64 `json:"filter_dp"`
	AlarmWord   uint16  `json:"alarm_word"`
	Coils       []bool  `json:"coils"`
	DInputs     []bool  `json:"dinputs"`
}

// InboundCommand mirrors the `{cmd, args}` shape arriving on the same
// websocket connection, translated into Command Intake's text grammar by
// commandLine.
type InboundCommand struct {
	Cmd  string         `json:"cmd"`
	Args map[string]any `json:"args"`
}

// Subscriber is one connected push client: an id, the live connection, and a
// buffered outbound queue, modeled on tradeengine's market.Subscriber.
type Subscriber struct {
	ID   uuid.UUID
	conn *websocket.Conn
	send chan []byte
}

// Server serves the live-push WebSocket feed and the /status REST readout.
type Server struct {
	eng    *engine.Engine
	fmt    *responseformat.Formatter
	intake chan<- engine.IntakeRequest

	upgrader websocket.Upgrader

	mu   sync.Mutex
	subs map[uuid.UUID]*Subscriber

	statusSrv http.Server
	wsSrv     http.Server
	statusLn  net.Listener
	wsLn      net.Listener
}

// NewServer builds a push Server. statusAddr serves GET /status; wsAddr
// serves the websocket upgrade at "/" (by convention, the dashboard port
// and dashboard-port+1).
func NewServer(eng *engine.Engine, statusAddr, wsAddr string, intake chan<- engine.IntakeRequest) *Server {
	s := &Server{
		eng:      eng,
		fmt:      responseformat.NewFormatter(),
		intake:   intake,
		upgrader: websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }},
		subs:     make(map[uuid.UUID]*Subscriber),
	}

	statusRouter := mux.NewRouter()
	statusRouter.HandleFunc("/status", s.handleStatus).Methods(http.MethodGet)
	s.statusSrv = http.Server{Addr: statusAddr, Handler: statusRouter}

	wsRouter := mux.NewRouter()
	wsRouter.HandleFunc("/", s.handleWS)
	s.wsSrv = http.Server{Addr: wsAddr, Handler: wsRouter}

	return s
}

// Listen binds both listeners synchronously, so main.go can treat a bind
// failure as fatal at startup, the same pattern as internal/modbus's
// Listen/Serve split.
func (s *Server) Listen() error {
	ln1, err := net.Listen("tcp", s.statusSrv.Addr)
	if err != nil {
		return wtperr.Wrap(wtperr.Network, "status listen on "+s.statusSrv.Addr, err)
	}
	ln2, err := net.Listen("tcp", s.wsSrv.Addr)
	if err != nil {
		ln1.Close()
		return wtperr.Wrap(wtperr.Network, "push listen on "+s.wsSrv.Addr, err)
	}
	s.statusLn, s.wsLn = ln1, ln2
	log.Infof("push: status on %s, websocket on %s", s.statusSrv.Addr, s.wsSrv.Addr)
	return nil
}

// StatusAddr returns the bound address of the /status listener, useful once
// Listen has resolved a ":0" port.
func (s *Server) StatusAddr() string { return s.statusLn.Addr().String() }

// WSAddr returns the bound address of the websocket listener.
func (s *Server) WSAddr() string { return s.wsLn.Addr().String() }

// Run serves both listeners and the 1Hz broadcast loop until ctx is
// cancelled, then shuts both servers down within the grace window.
func (s *Server) Run(ctx context.Context) error {
	go func() {
		if err := s.statusSrv.Serve(s.statusLn); err != nil && err != http.ErrServerClosed {
			log.Errorf("push: status server error: %v", err)
		}
	}()
	go func() {
		if err := s.wsSrv.Serve(s.wsLn); err != nil && err != http.ErrServerClosed {
			log.Errorf("push: websocket server error: %v", err)
		}
	}()

	ticker := time.NewTicker(broadcastInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
			defer cancel()
			s.statusSrv.Shutdown(shutdownCtx)
			s.wsSrv.Shutdown(shutdownCtx)
			return nil
		case <-ticker.C:
			s.broadcast()
		}
	}
}

func (s *Server) frame() Frame {
	snap, state, alarmWord := s.eng.Snapshot()
	coils, _ := s.eng.Bank.ReadCoils(0, 8)
	dinputs, _ := s.eng.Bank.ReadDiscreteInputs(0, 10)
	return Frame{
		TSim:        s.eng.SimNow(),
		State:       state.String(),
		TurbRaw:     snap.TurbRaw,
		TurbFilt:    snap.TurbFiltered,
		PH:          snap.PH,
		Chlorine:    snap.Chlorine,
		FlowRaw:     snap.FlowRaw,
		FlowTreated: snap.FlowTreated,
		LevelPct:    snap.LevelPct,
		Temperature: snap.Temperature,
		FilterDP:    snap.FilterDP,
		AlarmWord:   alarmWord,
		Coils:       coils,
		DInputs:     dinputs,
	}
}

func (s *Server) broadcast() {
	payload, err := json.Marshal(s.frame())
	if err != nil {
		log.Errorw("push: marshal frame failed", "error", err)
		return
	}

	s.mu.Lock()
	subs := make([]*Subscriber, 0, len(s.subs))
	for _, sub := range s.subs {
		subs = append(subs, sub)
	}
	s.mu.Unlock()

	for _, sub := range subs {
		select {
		case sub.send <- payload:
		default:
			log.Warnw("push: subscriber queue full, dropping frame", "id", sub.ID)
		}
	}
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if err := s.fmt.WriteResponse(w, r, s.frame(), nil); err != nil {
		log.Errorw("push: write /status response failed", "error", err)
	}
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Warnw("push: websocket upgrade failed", "error", err)
		return
	}

	sub := &Subscriber{ID: uuid.New(), conn: conn, send: make(chan []byte, subscriberQueue)}
	s.mu.Lock()
	s.subs[sub.ID] = sub
	s.mu.Unlock()
	log.Infow("push: subscriber connected", "id", sub.ID)

	go s.writeLoop(sub)
	s.readLoop(sub)
}

func (s *Server) writeLoop(sub *Subscriber) {
	defer sub.conn.Close()
	for payload := range sub.send {
		if err := sub.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
			return
		}
	}
}

func (s *Server) readLoop(sub *Subscriber) {
	defer func() {
		s.mu.Lock()
		delete(s.subs, sub.ID)
		close(sub.send)
		s.mu.Unlock()
		log.Infow("push: subscriber disconnected", "id", sub.ID)
	}()

	for {
		_, msg, err := sub.conn.ReadMessage()
		if err != nil {
			return
		}

		var in InboundCommand
		if err := json.Unmarshal(msg, &in); err != nil {
			s.reply(sub, `{"reply":"error: malformed command"}`)
			continue
		}

		line := commandLine(in)
		respond := func(resp string) {
			b, err := json.Marshal(map[string]string{"reply": resp})
			if err != nil {
				return
			}
			s.reply(sub, string(b))
		}

		select {
		case s.intake <- engine.IntakeRequest{Line: line, Respond: respond}:
		default:
			s.reply(sub, `{"reply":"error: intake busy"}`)
		}
	}
}

func (s *Server) reply(sub *Subscriber, payload string) {
	select {
	case sub.send <- []byte(payload):
	default:
	}
}

// commandLine renders a push-channel {cmd,args} message into the
// whitespace-delimited line grammar Command Intake's text surface uses, so
// both transports share one parser.
func commandLine(in InboundCommand) string {
	switch in.Cmd {
	case "rain":
		if peak, ok := in.Args["peak"]; ok {
			return fmt.Sprintf("rain %v", peak)
		}
		return "rain"
	case "dose":
		if on, ok := in.Args["on"].(bool); ok && !on {
			return "dose off"
		}
		return "dose on"
	case "fault", "clear":
		sensor, _ := in.Args["sensor"].(string)
		return fmt.Sprintf("%s %s", in.Cmd, sensor)
	default:
		return in.Cmd
	}
}
