package kmain

import (
	"rvkernel/kernel"
	"rvkernel/kernel/gate"
	"rvkernel/kernel/kfmt"
	"rvkernel/kernel/proc"
	"unsafe"
)

const (
	demoThreads   = 3
	demoProcesses = 2
	demoRounds    = 3
)

var (
	newKernelProcessFn = proc.NewKernelProcess
	addThreadFn        = proc.AddThread
	yieldFn            = gate.Yield
)

// spawnDemoThreads queues the demo threads, spreading them over two kernel
// processes so that the scheduler has to switch address spaces. Each thread
// returns into the exit trampoline once it is done.
func spawnDemoThreads() *kernel.Error {
	var processes [demoProcesses]*proc.Process
	defer func() {
		for _, p := range processes {
			if p != nil {
				p.Release()
			}
		}
	}()

	for i := range processes {
		var err *kernel.Error
		if processes[i], err = newKernelProcessFn(); err != nil {
			return err
		}
	}

	entry := entryAddress(demoThread)
	for id := 0; id < demoThreads; id++ {
		t, err := proc.NewThread(processes[id%demoProcesses], entry, []uintptr{uintptr(id)})
		if err != nil {
			return err
		}

		t.SetReturnAddress(proc.ExitTrampoline())
		addThreadFn(t)
	}

	return nil
}

// demoThread prints a line per round and yields the hart in between.
//
//go:nosplit
func demoThread(id uintptr) {
	for round := 0; round < demoRounds; round++ {
		kfmt.Fprintf(logWriter, "demo thread %d: round %d\n", id, round)
		yieldFn()
	}
}

// entryAddress returns the entry address of a thread function taking its
// argument in a0.
func entryAddress(fn func(uintptr)) uintptr {
	return **(**uintptr)(unsafe.Pointer(&fn))
}
