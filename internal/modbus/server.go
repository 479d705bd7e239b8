// Package modbus implements the Modbus TCP server: a single-unit-ID listener
// supporting function codes 01-06, 15 and 16, reading and writing through
// the register bank under its own lock and a pending-writes queue.
package modbus

import (
	"context"
	"io"
	"net"
	"time"

	"github.com/dawilster/scada-wtp-simulator/internal/log"
	"github.com/dawilster/scada-wtp-simulator/internal/register"
	"github.com/dawilster/scada-wtp-simulator/internal/wtperr"
	libmodbus "github.com/npat-efault/modbus"
)

const (
	unitID         = 1
	requestTimeout = 10 * time.Second
	shutdownGrace  = 2 * time.Second
)

// Server is the Modbus TCP listener. Reads are served directly against the
// register bank's read lock; writes are enqueued on Pending for the
// orchestrator's command-drain loop to apply.
type Server struct {
	addr    string
	bank    *register.Bank
	Pending chan register.WriteOp

	ln net.Listener
}

// NewServer constructs a server bound to addr once Listen (or Run) is called. pendingCap
// bounds the single-producer-per-connection write queue.
func NewServer(addr string, bank *register.Bank, pendingCap int) *Server {
	return &Server{
		addr:    addr,
		bank:    bank,
		Pending: make(chan register.WriteOp, pendingCap),
	}
}

// Listen binds the TCP listener. Splitting this from Serve lets main.go
// detect a bind failure synchronously at startup, before committing to the
// blocking accept loop.
func (s *Server) Listen() error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return wtperr.Wrap(wtperr.Network, "modbus listen on "+s.addr, err)
	}
	s.ln = ln
	log.Infof("modbus: listening on %s", s.addr)
	return nil
}

// Run binds the listener and serves connections until ctx is cancelled. A
// bind failure is a fatal NetworkError; accept errors are logged, and a read,
// write or framing error on a connection silently drops that connection.
func (s *Server) Run(ctx context.Context) error {
	if s.ln == nil {
		if err := s.Listen(); err != nil {
			return err
		}
	}
	return s.Serve(ctx)
}

// Serve runs the accept loop against an already-bound listener (see Listen)
// until ctx is cancelled.
func (s *Server) Serve(ctx context.Context) error {
	go func() {
		<-ctx.Done()
		s.ln.Close()
	}()

	for {
		conn, err := s.ln.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				return nil
			default:
				log.Warnf("modbus: accept error: %v", err)
				continue
			}
		}
		go s.handleConn(ctx, conn)
	}
}

func (s *Server) handleConn(ctx context.Context, conn net.Conn) {
	defer conn.Close()
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		conn.SetDeadline(time.Now().Add(requestTimeout))
		header := make([]byte, libmodbus.TcpHeadSz)
		if _, err := io.ReadFull(conn, header); err != nil {
			return
		}
		adu := libmodbus.TcpADU(header)
		length := adu.Len()
		if length < 1 || length > libmodbus.MaxPDU {
			return
		}
		pdu := make([]byte, length-1)
		if _, err := io.ReadFull(conn, pdu); err != nil {
			return
		}
		full := append(header, pdu...)

		resp := s.handleRequest(libmodbus.TcpADU(full))
		if resp == nil {
			continue
		}
		if _, err := conn.Write(resp); err != nil {
			return
		}
	}
}

// handleRequest dispatches one request ADU and builds the response ADU,
// including the MBAP header (transaction id echoed, protocol id 0, length,
// unit id echoed).
func (s *Server) handleRequest(req libmodbus.TcpADU) []byte {
	if req.Unit() != unitID {
		return s.exceptionResponse(req, req.FnCode(), libmodbus.GwPathNA)
	}

	body, fnCode := req.PDU()[1:], req.FnCode()
	var pduBytes []byte
	var exc libmodbus.ExCode
	var hasExc bool

	switch fnCode {
	case libmodbus.RdCoils, libmodbus.RdInputs:
		pduBytes, hasExc, exc = s.handleReadBits(fnCode, body)
	case libmodbus.RdHoldingRegs, libmodbus.RdInputRegs:
		pduBytes, hasExc, exc = s.handleReadRegs(fnCode, body)
	case libmodbus.WrCoil:
		pduBytes, hasExc, exc = s.handleWriteSingleCoil(body)
	case libmodbus.WrReg:
		pduBytes, hasExc, exc = s.handleWriteSingleReg(body)
	case libmodbus.WrCoils:
		pduBytes, hasExc, exc = s.handleWriteMultipleCoils(body)
	case libmodbus.WrRegs:
		pduBytes, hasExc, exc = s.handleWriteMultipleRegs(body)
	default:
		hasExc, exc = true, libmodbus.BadFnCode
	}

	if hasExc {
		return s.exceptionResponse(req, fnCode, exc)
	}
	return s.okResponse(req, pduBytes)
}

func (s *Server) handleReadBits(fn libmodbus.FnCode, body []byte) ([]byte, bool, libmodbus.ExCode) {
	addr, count, ok := unpackReadRegsReq(body)
	if !ok {
		return nil, true, libmodbus.BadValue
	}
	var vals []bool
	if fn == libmodbus.RdCoils {
		vals, ok = s.bank.ReadCoils(addr, count)
	} else {
		vals, ok = s.bank.ReadDiscreteInputs(addr, count)
	}
	if !ok {
		return nil, true, libmodbus.BadAddress
	}
	res := &libmodbus.ResRdInputs{Coils: fn == libmodbus.RdCoils, BitStat: packBits(vals)}
	b, err := res.Pack(nil)
	if err != nil {
		return nil, true, libmodbus.SrvFail
	}
	return b, false, 0
}

func (s *Server) handleReadRegs(fn libmodbus.FnCode, body []byte) ([]byte, bool, libmodbus.ExCode) {
	addr, count, ok := unpackReadRegsReq(body)
	if !ok {
		return nil, true, libmodbus.BadValue
	}
	var vals []uint16
	if fn == libmodbus.RdHoldingRegs {
		vals, ok = s.bank.ReadHolding(addr, count)
	} else {
		vals, ok = s.bank.ReadInput(addr, count)
	}
	if !ok {
		return nil, true, libmodbus.BadAddress
	}
	return packRegs(fn, vals), false, 0
}

func (s *Server) handleWriteSingleCoil(body []byte) ([]byte, bool, libmodbus.ExCode) {
	addr, val, ok := unpackWriteSingleCoil(body)
	if !ok {
		return nil, true, libmodbus.BadValue
	}
	if !s.enqueue(register.WriteOp{Coil: true, Addr: addr, BoolVal: val}) {
		return nil, true, libmodbus.SrvBusy
	}
	return packWriteSingleCoilRes(addr, val), false, 0
}

func (s *Server) handleWriteSingleReg(body []byte) ([]byte, bool, libmodbus.ExCode) {
	addr, val, ok := unpackWriteSingleReg(body)
	if !ok {
		return nil, true, libmodbus.BadValue
	}
	if !s.enqueue(register.WriteOp{Coil: false, Addr: addr, RegVal: val}) {
		return nil, true, libmodbus.SrvBusy
	}
	return packWriteSingleRegRes(addr, val), false, 0
}

func (s *Server) handleWriteMultipleCoils(body []byte) ([]byte, bool, libmodbus.ExCode) {
	addr, vals, ok := unpackWriteMultipleCoils(body)
	if !ok {
		return nil, true, libmodbus.BadValue
	}
	for i, v := range vals {
		if !s.enqueue(register.WriteOp{Coil: true, Addr: addr + i, BoolVal: v}) {
			return nil, true, libmodbus.SrvBusy
		}
	}
	return packWriteMultipleRes(libmodbus.WrCoils, addr, len(vals)), false, 0
}

func (s *Server) handleWriteMultipleRegs(body []byte) ([]byte, bool, libmodbus.ExCode) {
	addr, vals, ok := unpackWriteMultipleRegs(body)
	if !ok {
		return nil, true, libmodbus.BadValue
	}
	for i, v := range vals {
		if !s.enqueue(register.WriteOp{Coil: false, Addr: addr + i, RegVal: v}) {
			return nil, true, libmodbus.SrvBusy
		}
	}
	return packWriteMultipleRes(libmodbus.WrRegs, addr, len(vals)), false, 0
}

func (s *Server) enqueue(op register.WriteOp) bool {
	select {
	case s.Pending <- op:
		return true
	default:
		log.Warnw("modbus: pending-writes queue full, dropping write", "addr", op.Addr)
		return false
	}
}

func (s *Server) okResponse(req libmodbus.TcpADU, pdu []byte) []byte {
	out := make([]byte, libmodbus.TcpHeadSz, libmodbus.TcpHeadSz+len(pdu))
	copy(out, req[:libmodbus.TcpHeadSz])
	resp := libmodbus.TcpADU(out)
	resp.SetLen(uint16(len(pdu) + 1))
	return append(out, pdu...)
}

func (s *Server) exceptionResponse(req libmodbus.TcpADU, fn libmodbus.FnCode, exc libmodbus.ExCode) []byte {
	out := make([]byte, libmodbus.TcpHeadSz, libmodbus.TcpHeadSz+2)
	copy(out, req[:libmodbus.TcpHeadSz])
	resp := libmodbus.TcpADU(out)
	resp.SetLen(3)
	return append(out, byte(fn)|libmodbus.ExcFlag, byte(exc))
}
