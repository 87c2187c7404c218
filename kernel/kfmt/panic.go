package kfmt

import (
	"rvkernel/kernel"
	"rvkernel/kernel/cpu"
	"rvkernel/kernel/sbi"
)

var (
	// shutdownFn and cpuHaltFn are mocked by tests and are automatically
	// inlined by the compiler.
	shutdownFn = sbi.Shutdown
	cpuHaltFn  = cpu.Halt

	errRuntimePanic = &kernel.Error{Module: "rt", Message: "unknown cause"}
)

// Panic outputs the supplied error (if not nil) to the console, asks the
// platform to shut the machine down and halts the CPU if the platform refuses.
// Calls to Panic never return. Panic also works as a redirection target for
// calls to panic() (resolved via runtime.gopanic).
//
//go:redirect-from runtime.gopanic
func Panic(e interface{}) {
	var err *kernel.Error

	switch t := e.(type) {
	case *kernel.Error:
		err = t
	case string:
		panicString(t)
		return
	case error:
		errRuntimePanic.Message = t.Error()
		err = errRuntimePanic
	}

	Printf("\n-----------------------------------\n")
	if err != nil {
		Printf("[%s] unrecoverable error: %s\n", err.Module, err.Message)
	}
	Printf("*** kernel panic: system halted ***")
	Printf("\n-----------------------------------\n")

	shutdownFn()
	cpuHaltFn()
}

// panicString serves as a redirect target for runtime.throw
//
//go:redirect-from runtime.throw
func panicString(msg string) {
	errRuntimePanic.Message = msg
	Panic(errRuntimePanic)
}
