// Package cpu models the single logical processor the kernel runs on: the
// flags register (only IF matters to the scheduler), CR2 and the register
// frame pushed on interrupt entry.
package cpu

// Eflags is the processor flags register.
type Eflags uint64

// Flag bits.
const (
	CarryFlag     Eflags = 1 << 0
	ReservedFlag  Eflags = 1 << 1 // always set
	ZeroFlag      Eflags = 1 << 6
	SignFlag      Eflags = 1 << 7
	TrapFlag      Eflags = 1 << 8
	InterruptFlag Eflags = 1 << 9
	DirectionFlag Eflags = 1 << 10
	OverflowFlag  Eflags = 1 << 11
)

func (ef *Eflags) set(flag Eflags)   { *ef |= flag }
func (ef *Eflags) unset(flag Eflags) { *ef &^= flag }

// IsEnable reports whether every bit of flag is set.
func (ef Eflags) IsEnable(flag Eflags) bool {
	return ef&flag == flag
}

// Level is the interrupt state of the processor.
type Level int

const (
	LevelOff Level = iota // interrupts disabled
	LevelOn               // interrupts enabled
)

func (l Level) String() string {
	if l == LevelOn {
		return "on"
	}
	return "off"
}

// CPU holds the processor state visible to the kernel.
type CPU struct {
	flags Eflags
	cr2   uint64
}

// New returns a processor in its reset state: interrupts disabled.
func New() *CPU {
	return &CPU{flags: ReservedFlag}
}

// Level returns the current interrupt level (pushfq; popq).
func (c *CPU) Level() Level {
	if c.flags.IsEnable(InterruptFlag) {
		return LevelOn
	}
	return LevelOff
}

// Cli clears IF and returns the previous level.
func (c *CPU) Cli() Level {
	old := c.Level()
	c.flags.unset(InterruptFlag)
	return old
}

// Sti sets IF and returns the previous level.
func (c *CPU) Sti() Level {
	old := c.Level()
	c.flags.set(InterruptFlag)
	return old
}

// Flags returns the raw flags register.
func (c *CPU) Flags() Eflags {
	return c.flags
}

// SetFlags loads the flags register, as iretq does.
func (c *CPU) SetFlags(f Eflags) {
	c.flags = f | ReservedFlag
}

// CR2 returns the linear address of the last page fault.
func (c *CPU) CR2() uint64 {
	return c.cr2
}

// SetCR2 records a faulting address.
func (c *CPU) SetCR2(addr uint64) {
	c.cr2 = addr
}
