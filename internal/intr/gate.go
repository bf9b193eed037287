package intr

import (
	"encoding/binary"
	"unsafe"

	"github.com/me/kthreads/internal/kdebug"
)

// GateType is the 4-bit system descriptor type of an IDT entry.
type GateType uint8

const (
	GateInterrupt GateType = 14 // entry clears IF
	GateTrap      GateType = 15 // entry leaves IF alone
)

// Gate is a 64-bit mode IDT entry.
//
//	Lo: offset[15:0] | selector<<16 | ist<<32 | type<<40 | dpl<<45 | P<<47 | offset[31:16]<<48
//	Hi: offset[63:32]
type Gate struct {
	Lo uint64
	Hi uint64
}

var _ = [1]struct{}{}[unsafe.Sizeof(Gate{})-16]

// Simulated code addresses of the per-vector entry stubs.
const (
	StubBase uint64 = 0x8004209000
	StubSize uint64 = 16
)

// StubAddr returns the entry stub address for vec.
func StubAddr(vec uint8) uint64 {
	return StubBase + uint64(vec)*StubSize
}

// MakeGate builds a present gate that jumps to offset in code segment
// selector. Only ring dpl and above may invoke it with an int instruction.
func MakeGate(offset uint64, selector uint16, dpl uint8, typ GateType) Gate {
	kdebug.Assert(offset != 0, "function != NULL")
	kdebug.Assert(dpl <= 3, "dpl >= 0 && dpl <= 3")
	kdebug.Assert(typ <= 15, "type >= 0 && type <= 15")

	lo := offset&0xffff |
		uint64(selector)<<16 |
		uint64(typ)<<40 |
		uint64(dpl)<<45 |
		1<<47 |
		(offset>>16&0xffff)<<48
	return Gate{Lo: lo, Hi: offset >> 32}
}

// Offset returns the handler address.
func (g Gate) Offset() uint64 {
	return g.Lo&0xffff | (g.Lo>>48&0xffff)<<16 | g.Hi<<32
}

// Selector returns the code segment selector.
func (g Gate) Selector() uint16 { return uint16(g.Lo >> 16) }

// Type returns the gate type.
func (g Gate) Type() GateType { return GateType(g.Lo >> 40 & 0xf) }

// DPL returns the descriptor privilege level.
func (g Gate) DPL() uint8 { return uint8(g.Lo >> 45 & 0x3) }

// Present reports whether the P bit is set.
func (g Gate) Present() bool { return g.Lo&(1<<47) != 0 }

// Bytes returns the entry as it is laid out in memory.
func (g Gate) Bytes() [16]byte {
	var b [16]byte
	binary.LittleEndian.PutUint64(b[0:], g.Lo)
	binary.LittleEndian.PutUint64(b[8:], g.Hi)
	return b
}
