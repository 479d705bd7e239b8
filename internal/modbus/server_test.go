package modbus

import (
	"testing"

	"github.com/dawilster/scada-wtp-simulator/internal/register"
	libmodbus "github.com/npat-efault/modbus"
)

func buildReadHoldingReq(trans uint16, addr, count int) []byte {
	hdr := make([]byte, libmodbus.TcpHeadSz)
	adu := libmodbus.TcpADU(hdr)
	adu.SetTrans(trans)
	adu.SetProto(0)
	adu.SetLen(6) // unit id + 5-byte PDU
	hdr[6] = unitID
	pdu := []byte{byte(libmodbus.RdHoldingRegs), byte(addr >> 8), byte(addr), byte(count >> 8), byte(count)}
	return append(hdr, pdu...)
}

func TestHandleRequestReadHolding(t *testing.T) {
	bank := register.New()
	bank.ApplyWrites([]register.WriteOp{{Coil: false, Addr: register.HRTurbRaw, RegVal: 123}})
	s := &Server{bank: bank, Pending: make(chan register.WriteOp, 4)}

	req := buildReadHoldingReq(7, register.HRTurbRaw, 1)
	resp := s.handleRequest(libmodbus.TcpADU(req))

	adu := libmodbus.TcpADU(resp)
	if adu.Trans() != 7 {
		t.Errorf("Trans() = %v, want 7 (echoed)", adu.Trans())
	}
	if adu.IsExc() {
		t.Fatalf("unexpected exception response: %x", resp)
	}
	pdu := adu.PDU()
	if pdu[1] != 2 {
		t.Fatalf("byte count = %v, want 2", pdu[1])
	}
	got := uint16(pdu[2])<<8 | uint16(pdu[3])
	if got != 123 {
		t.Errorf("register value = %v, want 123", got)
	}
}

func TestHandleRequestReadOutOfRangeReturnsException(t *testing.T) {
	bank := register.New()
	s := &Server{bank: bank, Pending: make(chan register.WriteOp, 4)}

	req := buildReadHoldingReq(1, 100, 5)
	resp := s.handleRequest(libmodbus.TcpADU(req))

	adu := libmodbus.TcpADU(resp)
	if !adu.IsExc() {
		t.Fatal("expected exception for out-of-range read")
	}
	if adu.ExCode() != libmodbus.BadAddress {
		t.Errorf("ExCode() = %v, want BadAddress", adu.ExCode())
	}
}

func TestHandleRequestWriteSingleCoilEnqueues(t *testing.T) {
	bank := register.New()
	s := &Server{bank: bank, Pending: make(chan register.WriteOp, 4)}

	hdr := make([]byte, libmodbus.TcpHeadSz)
	adu := libmodbus.TcpADU(hdr)
	adu.SetTrans(2)
	adu.SetLen(6) // unit id + 5-byte PDU
	hdr[6] = unitID
	pdu := []byte{byte(libmodbus.WrCoil), 0x00, byte(register.CoilIntake), 0xFF, 0x00}
	req := append(hdr, pdu...)

	resp := s.handleRequest(libmodbus.TcpADU(req))
	if libmodbus.TcpADU(resp).IsExc() {
		t.Fatalf("unexpected exception: %x", resp)
	}

	select {
	case op := <-s.Pending:
		if !op.Coil || op.Addr != register.CoilIntake || !op.BoolVal {
			t.Errorf("enqueued op = %+v, want coil Intake = true", op)
		}
	default:
		t.Fatal("expected a write to be enqueued")
	}
}

func TestHandleRequestWrongUnitIDRejected(t *testing.T) {
	bank := register.New()
	s := &Server{bank: bank, Pending: make(chan register.WriteOp, 4)}

	req := buildReadHoldingReq(1, 0, 1)
	req[6] = 9 // wrong unit id
	resp := s.handleRequest(libmodbus.TcpADU(req))
	if !libmodbus.TcpADU(resp).IsExc() {
		t.Fatal("expected exception for mismatched unit id")
	}
}
