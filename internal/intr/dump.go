package intr

import (
	"fmt"
	"io"

	"github.com/fatih/color"

	"github.com/me/kthreads/internal/cpu"
)

var dumpHeader = color.New(color.FgRed, color.Bold)

// DumpFrame writes the interrupt frame to w, for debugging.
func DumpFrame(w io.Writer, f *cpu.Frame, name string, cr2 uint64) {
	dumpHeader.Fprintf(w, "Interrupt 0x%02x (%s) at rip=%x\n", f.VecNo, name, f.RIP)
	fmt.Fprintf(w, " cr2=%016x error=%16x\n", cr2, f.ErrorCode)
	r := &f.R
	fmt.Fprintf(w, "rax %016x rbx %016x rcx %016x rdx %016x\n", r.RAX, r.RBX, r.RCX, r.RDX)
	fmt.Fprintf(w, "rsp %016x rbp %016x rsi %016x rdi %016x\n", f.RSP, r.RBP, r.RSI, r.RDI)
	fmt.Fprintf(w, "rip %016x r8 %016x  r9 %016x r10 %016x\n", f.RIP, r.R8, r.R9, r.R10)
	fmt.Fprintf(w, "r11 %016x r12 %016x r13 %016x r14 %016x\n", r.R11, r.R12, r.R13, r.R14)
	fmt.Fprintf(w, "r15 %016x rflags %08x\n", r.R15, uint64(f.Eflags))
	fmt.Fprintf(w, "es: %04x ds: %04x cs: %04x ss: %04x\n", f.ES, f.DS, f.CS, f.SS)
}
