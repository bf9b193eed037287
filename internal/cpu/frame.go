package cpu

// Registers are the general-purpose registers saved by the interrupt stubs.
type Registers struct {
	R15, R14, R13, R12, R11, R10, R9, R8 uint64
	RSI, RDI, RBP, RDX, RCX, RBX, RAX    uint64
}

// Frame is the interrupt frame: what the stub pushes, then what the
// processor pushes on entry.
type Frame struct {
	R         Registers
	ES        uint16
	DS        uint16
	VecNo     uint64
	ErrorCode uint64
	RIP       uint64
	CS        uint16
	Eflags    Eflags
	RSP       uint64
	SS        uint16
}

// Kernel segment selectors.
const (
	SelKCSeg uint16 = 0x08
	SelKDSeg uint16 = 0x10
)

// NewFrame returns a kernel-mode frame for vector vec.
func NewFrame(vec uint8) *Frame {
	return &Frame{
		VecNo: uint64(vec),
		CS:    SelKCSeg,
		SS:    SelKDSeg,
		DS:    SelKDSeg,
		ES:    SelKDSeg,
	}
}
