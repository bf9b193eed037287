// Package pic emulates the pair of cascaded 8259A programmable interrupt
// controllers found in every PC.
//
// The master sits at ports 0x20/0x21 and the slave, cascaded onto the
// master's IRQ 2 line, at 0xa0/0xa1. The kernel reprograms them so that
// IRQs 0..15 arrive on vectors 0x20..0x2f instead of colliding with CPU
// exceptions.
package pic

import (
	"math/bits"

	"github.com/me/kthreads/internal/kdebug"
)

// I/O ports.
const (
	MasterCmd  uint16 = 0x20
	MasterData uint16 = 0x21
	SlaveCmd   uint16 = 0xa0
	SlaveData  uint16 = 0xa1
)

// Vector range of external interrupts after Init.
const (
	VectorBase uint8 = 0x20
	VectorLast uint8 = 0x2f
	slaveBase  uint8 = 0x28
	cascadeIRQ       = 2
)

const (
	icw1Init = 0x10
	icw1ICW4 = 0x01
	ocw2EOI  = 0x20
)

// chip is one 8259A.
type chip struct {
	irr  uint8 // interrupt request register
	isr  uint8 // in-service register
	imr  uint8 // interrupt mask register; 1 = masked
	base uint8 // vector offset programmed by ICW2

	step     int  // next initialisation word expected (0 = operational)
	wantICW4 bool
	ready    bool
}

func (c *chip) command(val uint8) {
	switch {
	case val&icw1Init != 0:
		c.step = 2
		c.wantICW4 = val&icw1ICW4 != 0
		c.imr = 0
		c.isr = 0
		c.irr = 0
	case val == ocw2EOI:
		if c.isr != 0 {
			c.isr &^= 1 << bits.TrailingZeros8(c.isr)
		}
	}
}

func (c *chip) data(val uint8) {
	switch c.step {
	case 2:
		c.base = val &^ 0x07
		c.step = 3
	case 3:
		if c.wantICW4 {
			c.step = 4
		} else {
			c.step, c.ready = 0, true
		}
	case 4:
		c.step, c.ready = 0, true
	default:
		c.imr = val
	}
}

// pending returns the highest-priority unmasked request that is not blocked
// by an in-service interrupt of equal or higher priority.
func (c *chip) pending() (int, bool) {
	req := c.irr &^ c.imr
	if !c.ready || req == 0 {
		return 0, false
	}
	line := bits.TrailingZeros8(req)
	if c.isr != 0 && bits.TrailingZeros8(c.isr) <= line {
		return 0, false
	}
	return line, true
}

// PIC is the master/slave pair.
type PIC struct {
	master chip
	slave  chip
	eois   int
}

// New returns an uninitialised pair; nothing is delivered until Init.
func New() *PIC {
	return &PIC{master: chip{imr: 0xff}, slave: chip{imr: 0xff}}
}

// Outb writes val to port.
func (p *PIC) Outb(port uint16, val uint8) {
	switch port {
	case MasterCmd:
		p.master.command(val)
	case MasterData:
		p.master.data(val)
	case SlaveCmd:
		p.slave.command(val)
	case SlaveData:
		p.slave.data(val)
	default:
		kdebug.Panicf("pic: write to unknown port %#x", port)
	}
}

// Init programs both chips: edge triggered, cascaded, 8086 mode, IRQs
// 0..15 on vectors 0x20..0x2f, all lines unmasked.
func (p *PIC) Init() {
	// Mask all interrupts on both PICs.
	p.Outb(MasterData, 0xff)
	p.Outb(SlaveData, 0xff)

	p.Outb(MasterCmd, 0x11)  // ICW1: edge triggered, expect ICW4
	p.Outb(MasterData, 0x20) // ICW2: IR0..7 -> 0x20..0x27
	p.Outb(MasterData, 0x04) // ICW3: slave on IR2
	p.Outb(MasterData, 0x01) // ICW4: 8086 mode, normal EOI

	p.Outb(SlaveCmd, 0x11)
	p.Outb(SlaveData, 0x28) // IR0..7 -> 0x28..0x2f
	p.Outb(SlaveData, 0x02) // slave ID 2
	p.Outb(SlaveData, 0x01)

	p.Outb(MasterData, 0x00)
	p.Outb(SlaveData, 0x00)
}

// Raise asserts IRQ line irq (0..15). IRQ 2 is wired to the slave and
// cannot be raised by a device.
func (p *PIC) Raise(irq int) {
	kdebug.Assertf(irq >= 0 && irq < 16, "irq %d in range", irq)
	kdebug.Assertf(irq != cascadeIRQ, "irq %d is not the cascade line", irq)
	if irq < 8 {
		p.master.irr |= 1 << irq
		return
	}
	p.slave.irr |= 1 << (irq - 8)
}

// Mask sets the interrupt mask of both chips; bit n masks IRQ n.
func (p *PIC) Mask(mask uint16) {
	p.Outb(MasterData, uint8(mask))
	p.Outb(SlaveData, uint8(mask>>8))
}

// Pending reports whether an interrupt is ready to be delivered.
func (p *PIC) Pending() bool {
	_, ok := p.peek()
	return ok
}

func (p *PIC) peek() (uint8, bool) {
	// The cascade line carries exactly the slave's unmasked requests.
	if p.slave.irr&^p.slave.imr != 0 {
		p.master.irr |= 1 << cascadeIRQ
	} else {
		p.master.irr &^= 1 << cascadeIRQ
	}
	line, ok := p.master.pending()
	if !ok {
		return 0, false
	}
	if line != cascadeIRQ {
		return p.master.base + uint8(line), true
	}
	sline, ok := p.slave.pending()
	if !ok {
		return 0, false
	}
	return p.slave.base + uint8(sline), true
}

// Acknowledge is the processor's INTA cycle: it moves the highest-priority
// request into service and returns its vector.
func (p *PIC) Acknowledge() (uint8, bool) {
	vec, ok := p.peek()
	if !ok {
		return 0, false
	}
	if vec < p.slave.base || !p.slave.ready {
		line := vec - p.master.base
		p.master.irr &^= 1 << line
		p.master.isr |= 1 << line
		return vec, true
	}
	line := vec - p.slave.base
	p.slave.irr &^= 1 << line
	p.slave.isr |= 1 << line
	p.master.isr |= 1 << cascadeIRQ
	return vec, true
}

// EndOfInterrupt acknowledges vec. Without it the line is never delivered
// again.
func (p *PIC) EndOfInterrupt(vec uint8) {
	kdebug.Assertf(vec >= VectorBase && vec <= VectorLast, "eoi vector %#x is external", vec)

	p.Outb(MasterCmd, ocw2EOI)
	if vec >= slaveBase {
		p.Outb(SlaveCmd, ocw2EOI)
	}
	p.eois++
}

// EOIs returns how many end-of-interrupt commands were sent.
func (p *PIC) EOIs() int {
	return p.eois
}

// InService reports whether vec is currently in service.
func (p *PIC) InService(vec uint8) bool {
	if vec >= p.slave.base && p.slave.ready {
		return p.slave.isr&(1<<(vec-p.slave.base)) != 0
	}
	return p.master.isr&(1<<(vec-p.master.base)) != 0
}
