package gate

import (
	"io"
	"rvkernel/kernel/kfmt"
)

// Indices into Registers.X for the registers the kernel reads or seeds
// directly.
const (
	RegRA = 1
	RegSP = 2
	RegGP = 3
	RegTP = 4
	RegA0 = 10
	RegA7 = 17

	// RegG holds the pointer to the running goroutine descriptor.
	RegG = 27

	// ArgRegisters is the number of registers used for passing arguments.
	ArgRegisters = 8
)

// abiNames maps register indices to their calling convention names.
var abiNames = [32]string{
	"zero", "ra", "sp", "gp", "tp", "t0", "t1", "t2",
	"s0", "s1", "a0", "a1", "a2", "a3", "a4", "a5",
	"a6", "a7", "s2", "s3", "s4", "s5", "s6", "s7",
	"s8", "s9", "s10", "s11", "t3", "t4", "t5", "t6",
}

// Registers contains a snapshot of the register file of an interrupted
// execution. It is the saved context of a thread that is not running. The
// layout is shared with the trap entry and restore code: X[i] lives at
// offset 8*i, Sstatus at 256 and Sepc at 264.
type Registers struct {
	// X holds the general purpose registers. X[0] is never restored.
	X [32]uintptr

	// Sstatus holds the sstatus value that sret restores. Its SPP and
	// SPIE bits select the privilege and interrupt state to return to.
	Sstatus uintptr

	// Sepc is the address execution resumes at.
	Sepc uintptr
}

// SetArgs loads args into the argument registers a0-a7.
func (r *Registers) SetArgs(args []uintptr) {
	for i := 0; i < ArgRegisters; i++ {
		r.X[RegA0+i] = 0
		if i < len(args) {
			r.X[RegA0+i] = args[i]
		}
	}
}

// DumpTo outputs the register contents to w.
func (r *Registers) DumpTo(w io.Writer) {
	for i := 1; i < len(r.X); i += 2 {
		kfmt.Fprintf(w, "%4s = %16x", abiNames[i], r.X[i])
		if i+1 < len(r.X) {
			kfmt.Fprintf(w, " %4s = %16x", abiNames[i+1], r.X[i+1])
		}
		kfmt.Fprintf(w, "\n")
	}
	kfmt.Fprintf(w, "\n")
	kfmt.Fprintf(w, "sepc = %16x sstatus = %16x\n", r.Sepc, r.Sstatus)
}
