package proc

import (
	"rvkernel/kernel"
	"rvkernel/kernel/config"
	"rvkernel/kernel/cpu"
	"rvkernel/kernel/gate"
	"rvkernel/kernel/kfmt"
	"rvkernel/kernel/mm/vmm"
	"sync/atomic"
	"unsafe"
)

// ThreadID uniquely identifies a thread.
type ThreadID uint32

var (
	// currentGFn is mocked by tests and is automatically inlined by the
	// compiler.
	currentGFn = gate.CurrentG

	nextThreadID uint32

	// ErrTooManyArguments is returned when a thread entry point is given
	// more arguments than there are argument registers.
	ErrTooManyArguments = &kernel.Error{Module: "proc", Message: "too many thread arguments"}
)

// Thread is a line of execution inside a process. Its context holds the
// register file while the thread is not running.
type Thread struct {
	ID ThreadID

	process *Process
	context gate.Registers

	stackStart uintptr
	stackEnd   uintptr

	// next links the thread into the ready queue or the zombie list of a
	// Processor.
	next *Thread

	dead     uint32
	released bool
}

// NewThread creates a ready thread that starts executing at entry with args
// loaded into the argument registers. A stack of config.StackSize bytes is
// mapped into the process address space.
//
// The return address of the new thread is left at zero. Callers should point
// it to ExitTrampoline with SetReturnAddress so that returning from entry
// exits the thread.
func NewThread(process *Process, entry uintptr, args []uintptr) (*Thread, *kernel.Error) {
	if len(args) > gate.ArgRegisters {
		return nil, ErrTooManyArguments
	}

	stackFlags := vmm.FlagRW
	if process.Kind == KindUser {
		stackFlags |= vmm.FlagUser
	}

	stackStart, stackEnd, err := process.space.AllocPageRange(config.StackSize, stackFlags)
	if err != nil {
		return nil, err
	}

	t := &Thread{
		ID:         ThreadID(atomic.AddUint32(&nextThreadID, 1)),
		process:    process,
		stackStart: stackStart,
		stackEnd:   stackEnd,
	}

	t.context.Sepc = entry
	t.context.X[gate.RegSP] = stackEnd
	t.context.SetArgs(args)

	switch process.Kind {
	case KindKernel:
		t.context.Sstatus = cpu.SstatusSPP | cpu.SstatusSPIE
		t.context.X[gate.RegG] = currentGFn()
	case KindUser:
		t.context.Sstatus = cpu.SstatusSPIE
	}

	process.attachThread(t.ID)
	return t, nil
}

// Process returns the process the thread belongs to.
func (t *Thread) Process() *Process {
	return t.process
}

// Context returns the saved register file of the thread. It must not be
// accessed while the thread is running.
func (t *Thread) Context() *gate.Registers {
	return &t.context
}

// Stack returns the bounds of the thread stack.
func (t *Thread) Stack() (uintptr, uintptr) {
	return t.stackStart, t.stackEnd
}

// SetReturnAddress sets the address the thread jumps to when its entry
// point returns.
func (t *Thread) SetReturnAddress(addr uintptr) {
	t.context.X[gate.RegRA] = addr
}

// MarkDead flags the thread as finished. A dead thread is never scheduled
// again.
func (t *Thread) MarkDead() {
	atomic.StoreUint32(&t.dead, 1)
}

// IsDead returns true if the thread has been marked as finished.
func (t *Thread) IsDead() bool {
	return atomic.LoadUint32(&t.dead) == 1
}

// Release unmaps the thread stack and drops the thread's reference to its
// process. It must only be called once no execution will resume the thread.
func (t *Thread) Release() {
	if t.released {
		return
	}
	t.released = true

	if t.process.space != nil {
		if err := t.process.space.RemoveSegment(t.stackStart); err != nil {
			kfmt.Fprintf(logWriter, "thread %d: cannot release stack: %s\n", uint32(t.ID), err.Message)
		}
	}
	t.process.detachThread(t.ID)
}

// ExitTrampoline returns the address of a routine that asks the kernel to
// terminate the calling thread.
func ExitTrampoline() uintptr {
	return exitTrampolineAddr()
}

// FuncAddress returns the entry address of a Go function with no arguments,
// suitable as a thread entry point.
func FuncAddress(fn func()) uintptr {
	return **(**uintptr)(unsafe.Pointer(&fn))
}
