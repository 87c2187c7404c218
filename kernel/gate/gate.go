// Package gate implements the trap layer. Every interrupt and exception
// enters through a single assembly entry point that saves the interrupted
// register file into a Registers value on the interrupted stack and hands it
// to Dispatch. Handlers never switch context themselves: they return an
// Outcome and Resume performs the one non-returning step of loading a
// context into the CPU.
package gate

import (
	"rvkernel/kernel"
	"rvkernel/kernel/cpu"
	"rvkernel/kernel/kfmt"
	"rvkernel/kernel/sbi"
	"rvkernel/kernel/sync"
)

// Request codes are passed in a7 when a thread raises a breakpoint to enter
// the kernel voluntarily.
const (
	// RequestYield asks the kernel to run the next ready thread and
	// resume the caller later.
	RequestYield = uintptr(0x5e1d)

	// RequestExit asks the kernel to mark the calling thread as dead and
	// run the next ready thread.
	RequestExit = uintptr(0xe817)
)

// Action tells Resume what to do with the outcome of a trap.
type Action uint8

const (
	// ActionResume loads Outcome.Context into the CPU.
	ActionResume Action = iota

	// ActionHalt shuts the machine down.
	ActionHalt
)

// Outcome is the result of handling a trap.
type Outcome struct {
	Action  Action
	Context *Registers
}

// ResumeWith returns an outcome that resumes execution with ctx.
func ResumeWith(ctx *Registers) Outcome {
	return Outcome{Action: ActionResume, Context: ctx}
}

// HaltOutcome returns an outcome that stops the machine.
func HaltOutcome() Outcome {
	return Outcome{Action: ActionHalt}
}

// Handler processes a trap. regs points to the saved register file of the
// interrupted execution; changes to it are only observed if the handler
// returns an outcome that resumes regs.
type Handler func(regs *Registers, cause Cause, stval uintptr) Outcome

// ShutdownMarker is printed right before the kernel powers off after running
// out of work.
const ShutdownMarker = "[gate] no runnable threads left; shutting down"

var (
	// The following functions are mocked by tests and are automatically
	// inlined by the compiler.
	setTrapVectorFn = cpu.SetTrapVector
	readScauseFn    = cpu.ReadScause
	readStvalFn     = cpu.ReadStval
	heldLocksFn     = sync.HeldLocks
	restoreFn       = restore
	shutdownFn      = sbi.Shutdown
	haltFn          = cpu.Halt
	panicFn         = kfmt.Panic

	exceptionHandlers [numCauseCodes]Handler
	interruptHandlers [numCauseCodes]Handler

	logWriter = &kfmt.PrefixWriter{Sink: kfmt.ActiveSink, Prefix: []byte("[gate] ")}

	errUnhandledTrap        = &kernel.Error{Module: "gate", Message: "unhandled trap"}
	errLockHeldAcrossSwitch = &kernel.Error{Module: "gate", Message: "spinlock held across a context switch"}
	errNoContext            = &kernel.Error{Module: "gate", Message: "resume outcome without a context"}
)

// Init points the trap vector at the trap entry code. It must be called
// before any code that might trap.
func Init() {
	setTrapVectorFn(trapEntryAddr())
}

// HandleException registers handler for the given exception cause,
// replacing any previous handler.
func HandleException(cause Cause, handler Handler) {
	if cause.IsInterrupt() || cause.Code() >= numCauseCodes {
		return
	}
	exceptionHandlers[cause.Code()] = handler
}

// HandleInterrupt registers handler for the given interrupt cause, replacing
// any previous handler.
func HandleInterrupt(cause Cause, handler Handler) {
	if !cause.IsInterrupt() || cause.Code() >= numCauseCodes {
		return
	}
	interruptHandlers[cause.Code()] = handler
}

// Dispatch routes a trap to the handler registered for its cause. Traps
// without a handler are fatal.
func Dispatch(regs *Registers, cause Cause, stval uintptr) Outcome {
	var handler Handler
	if code := cause.Code(); code < numCauseCodes {
		if cause.IsInterrupt() {
			handler = interruptHandlers[code]
		} else {
			handler = exceptionHandlers[code]
		}
	}

	if handler == nil {
		kfmt.Fprintf(logWriter, "unhandled trap: %s (scause = 0x%x)\n", cause.String(), uintptr(cause))
		kfmt.Fprintf(logWriter, "sepc = 0x%16x stval = 0x%16x\n", regs.Sepc, stval)
		kfmt.Printf("\nRegisters:\n")
		regs.DumpTo(kfmt.ActiveSink)
		panicFn(errUnhandledTrap)
		return HaltOutcome()
	}

	return handler(regs, cause, stval)
}

// Resume carries out a trap outcome. Resuming a context never returns to the
// caller. No spinlock may be held at this point: the thread being resumed
// could try to acquire it and the hart would spin forever.
func Resume(outcome Outcome) {
	if heldLocksFn() != 0 {
		panicFn(errLockHeldAcrossSwitch)
		return
	}

	if outcome.Action == ActionResume {
		if outcome.Context == nil {
			panicFn(errNoContext)
			return
		}

		restoreFn(outcome.Context)
		return
	}

	kfmt.Printf("%s\n", ShutdownMarker)
	shutdownFn()
	haltFn()
}

// dispatchTrap is called by the trap entry code with a pointer to the
// register file it saved on the interrupted stack.
//
//go:nosplit
func dispatchTrap(regs *Registers) {
	Resume(Dispatch(regs, Cause(readScauseFn()), readStvalFn()))
}
