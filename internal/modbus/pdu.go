package modbus

import (
	libmodbus "github.com/npat-efault/modbus"
)

// This file hand-rolls the PDU codecs the reference library's own
// ReqRdRegs/ResRdRegs/ReqResWrReg/ReqResWrCoil leave stubbed (their Pack and
// Unpack methods unconditionally return an error in the vendored snapshot),
// and the write-multiple PDUs the library never implemented at all. Framing
// constants (FnCode, ExCode, ExcFlag, TcpHeadSz) and the working
// ResRdInputs response packer still come from the library (read-bits
// requests are parsed with unpackReadRegsReq below); see server.go for where
// each is used.

// packRegs packs a read-registers response PDU: function code, byte count,
// then big-endian register values.
func packRegs(fn libmodbus.FnCode, vals []uint16) []byte {
	b := make([]byte, 0, 2+2*len(vals))
	b = append(b, byte(fn), byte(2*len(vals)))
	for _, v := range vals {
		b = append(b, byte(v>>8), byte(v))
	}
	return b
}

// unpackReadRegsReq parses the 4-byte address+count body of FC03/04.
func unpackReadRegsReq(body []byte) (addr, count int, ok bool) {
	if len(body) < 4 {
		return 0, 0, false
	}
	addr = int(body[0])<<8 | int(body[1])
	count = int(body[2])<<8 | int(body[3])
	return addr, count, count >= 1 && count <= 125
}

// packWriteSingleRegRes echoes the address and value, per FC06's response
// shape (identical wire layout to the request).
func packWriteSingleRegRes(addr int, val uint16) []byte {
	return []byte{byte(libmodbus.WrReg), byte(addr >> 8), byte(addr), byte(val >> 8), byte(val)}
}

// unpackWriteSingleReg parses FC06's request body.
func unpackWriteSingleReg(body []byte) (addr int, val uint16, ok bool) {
	if len(body) < 4 {
		return 0, 0, false
	}
	addr = int(body[0])<<8 | int(body[1])
	val = uint16(body[2])<<8 | uint16(body[3])
	return addr, val, true
}

// unpackWriteSingleCoil parses FC05's request body; 0xFF00 means ON.
func unpackWriteSingleCoil(body []byte) (addr int, val bool, ok bool) {
	if len(body) < 4 {
		return 0, false, false
	}
	addr = int(body[0])<<8 | int(body[1])
	raw := uint16(body[2])<<8 | uint16(body[3])
	if raw != 0x0000 && raw != 0xFF00 {
		return addr, false, false
	}
	return addr, raw == 0xFF00, true
}

// packWriteSingleCoilRes echoes the request body, per FC05's response shape.
func packWriteSingleCoilRes(addr int, val bool) []byte {
	raw := uint16(0x0000)
	if val {
		raw = 0xFF00
	}
	return []byte{byte(libmodbus.WrCoil), byte(addr >> 8), byte(addr), byte(raw >> 8), byte(raw)}
}

// unpackWriteMultipleCoils parses FC15's request body: addr, count,
// byte-count, then packed bits.
func unpackWriteMultipleCoils(body []byte) (addr int, vals []bool, ok bool) {
	if len(body) < 5 {
		return 0, nil, false
	}
	addr = int(body[0])<<8 | int(body[1])
	count := int(body[2])<<8 | int(body[3])
	byteCount := int(body[4])
	if count < 1 || count > 1968 || len(body) < 5+byteCount {
		return addr, nil, false
	}
	vals = make([]bool, count)
	for i := 0; i < count; i++ {
		vals[i] = body[5+i/8]&(1<<uint(i%8)) != 0
	}
	return addr, vals, true
}

// packWriteMultipleRes echoes addr and count, the shared response shape of
// FC15 and FC16.
func packWriteMultipleRes(fn libmodbus.FnCode, addr, count int) []byte {
	return []byte{byte(fn), byte(addr >> 8), byte(addr), byte(count >> 8), byte(count)}
}

// unpackWriteMultipleRegs parses FC16's request body: addr, count,
// byte-count, then big-endian register values.
func unpackWriteMultipleRegs(body []byte) (addr int, vals []uint16, ok bool) {
	if len(body) < 5 {
		return 0, nil, false
	}
	addr = int(body[0])<<8 | int(body[1])
	count := int(body[2])<<8 | int(body[3])
	byteCount := int(body[4])
	if count < 1 || count > 123 || byteCount != 2*count || len(body) < 5+byteCount {
		return addr, nil, false
	}
	vals = make([]uint16, count)
	for i := 0; i < count; i++ {
		vals[i] = uint16(body[5+2*i])<<8 | uint16(body[6+2*i])
	}
	return addr, vals, true
}

// packBits packs booleans LSB-first into bytes, matching ResRdInputs'
// BitStat/Status layout in the reference library.
func packBits(vals []bool) []byte {
	out := make([]byte, (len(vals)+7)/8)
	for i, v := range vals {
		if v {
			out[i/8] |= 1 << uint(i%8)
		}
	}
	return out
}
