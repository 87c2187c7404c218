package proc

import (
	"bytes"
	"rvkernel/kernel"
	"rvkernel/kernel/cpu"
	"rvkernel/kernel/gate"
	"rvkernel/kernel/kfmt"
	"strings"
	"testing"
)

func newTestThreads(t *testing.T, process *Process, count int) []*Thread {
	threads := make([]*Thread, count)
	for i := range threads {
		var err *kernel.Error
		if threads[i], err = NewThread(process, uintptr(0x80201000+i*0x100), []uintptr{uintptr(i)}); err != nil {
			t.Fatal(err)
		}
		threads[i].SetReturnAddress(ExitTrampoline())
	}
	return threads
}

func TestPrepareNextThreadRoundRobin(t *testing.T) {
	_, restore := setupPhysMemory(t, 3*framesPerThread+16)
	defer restore()

	process, err := NewKernelProcess()
	if err != nil {
		t.Fatal(err)
	}

	var p Processor
	threads := newTestThreads(t, process, 3)
	for _, thread := range threads {
		p.AddThread(thread)
	}

	for call, expIndex := range []int{0, 1, 2, 0, 1, 2, 0} {
		ctx, err := p.PrepareNextThread()
		if err != nil {
			t.Fatalf("[call %d] unexpected error: %v", call, err)
		}

		if exp := threads[expIndex]; ctx != exp.Context() || p.CurrentThread() != exp {
			t.Fatalf("[call %d] expected thread %d to be picked; got context with sepc 0x%x", call, expIndex, ctx.Sepc)
		}
	}

	if !process.AddressSpace().IsActive() {
		t.Fatal("expected the process address space to be activated")
	}
}

func TestPrepareNextThreadDoesNotAllocate(t *testing.T) {
	_, restore := setupPhysMemory(t, 3*framesPerThread+16)
	defer restore()

	process, err := NewKernelProcess()
	if err != nil {
		t.Fatal(err)
	}

	var p Processor
	for _, thread := range newTestThreads(t, process, 3) {
		p.AddThread(thread)
	}

	allocs := testing.AllocsPerRun(100, func() {
		if _, err := p.PrepareNextThread(); err != nil {
			t.Fatal(err)
		}
	})

	if allocs != 0 {
		t.Fatalf("expected scheduling to be allocation free; got %.1f allocations per switch", allocs)
	}

	if p.ReadyThreads() != 2 {
		t.Fatalf("expected 2 ready threads; got %d", p.ReadyThreads())
	}
}

func TestPrepareNextThreadDeadExclusion(t *testing.T) {
	var buf bytes.Buffer
	kfmt.SetOutputSink(&buf)
	defer kfmt.SetOutputSink(nil)

	alloc, restore := setupPhysMemory(t, 3*framesPerThread+16)
	defer restore()

	process, err := NewKernelProcess()
	if err != nil {
		t.Fatal(err)
	}

	var p Processor
	threads := newTestThreads(t, process, 3)
	for _, thread := range threads {
		p.AddThread(thread)
	}

	// T1 runs and T2 gets marked dead while waiting
	if ctx, _ := p.PrepareNextThread(); ctx != threads[0].Context() {
		t.Fatal("expected T1 to run first")
	}
	threads[1].MarkDead()

	var picked []*Thread
	for i := 0; i < 4; i++ {
		if _, err := p.PrepareNextThread(); err != nil {
			t.Fatal(err)
		}
		picked = append(picked, p.CurrentThread())
	}

	for i, thread := range picked {
		if thread == threads[1] {
			t.Fatalf("[pick %d] dead thread was scheduled", i)
		}
	}
	if picked[0] != threads[2] || picked[1] != threads[0] || picked[2] != threads[2] {
		t.Fatal("expected the surviving threads to keep their FIFO order")
	}

	// the dead thread has been released
	stackStart, _ := threads[1].Stack()
	if _, err := process.AddressSpace().Translate(stackStart); err == nil {
		t.Fatal("expected the stack of the dead thread to be unmapped")
	}
	if ids := process.Threads(); len(ids) != 2 {
		t.Fatalf("expected 2 live thread IDs; got %v", ids)
	}
	if !strings.Contains(buf.String(), "[proc] thread ") {
		t.Fatalf("expected thread exit to be logged; got %q", buf.String())
	}

	// the running thread exits, then the last one
	p.CurrentThread().MarkDead()
	if _, err := p.PrepareNextThread(); err != nil {
		t.Fatal(err)
	}
	p.CurrentThread().MarkDead()
	if _, err := p.PrepareNextThread(); err != ErrNoRunnableThreads {
		t.Fatalf("expected ErrNoRunnableThreads; got %v", err)
	}

	if p.CurrentThread() != nil || p.ReadyThreads() != 0 {
		t.Fatal("expected the processor to be empty")
	}

	// the last thread is kept until another thread is picked
	if p.zombies != threads[2] || p.zombies.next != nil {
		t.Fatal("expected the last thread to be the only zombie")
	}

	p.zombies.Release()
	process.Release()
	if stats := alloc.Stats(); stats.Recycled != stats.Issued {
		t.Fatalf("expected every frame to be returned; issued %d, recycled %d", stats.Issued, stats.Recycled)
	}
}

func TestPrepareNextThreadSwitchesAddressSpace(t *testing.T) {
	_, restore := setupPhysMemory(t, 2*framesPerThread+32)
	defer restore()

	var (
		p         Processor
		processes [2]*Process
	)
	for i := range processes {
		var err *kernel.Error
		if processes[i], err = NewKernelProcess(); err != nil {
			t.Fatal(err)
		}
		p.AddThread(newTestThreads(t, processes[i], 1)[0])
	}

	for call := 0; call < 4; call++ {
		if _, err := p.PrepareNextThread(); err != nil {
			t.Fatal(err)
		}

		exp := processes[call%2].AddressSpace()
		if cpu.ActiveSATP() != exp.SATP() {
			t.Fatalf("[call %d] expected satp 0x%x; got 0x%x", call, exp.SATP(), cpu.ActiveSATP())
		}
	}
}

func TestPrepareNextThreadEmpty(t *testing.T) {
	var p Processor
	if _, err := p.PrepareNextThread(); err != ErrNoRunnableThreads {
		t.Fatalf("expected ErrNoRunnableThreads; got %v", err)
	}
}

func TestHandleBreakpoint(t *testing.T) {
	_, restore := setupPhysMemory(t, 2*framesPerThread+16)
	defer restore()

	process, err := NewKernelProcess()
	if err != nil {
		t.Fatal(err)
	}

	var p Processor
	threads := newTestThreads(t, process, 2)
	p.AddThread(threads[0])
	p.AddThread(threads[1])

	if outcome := nextOutcome(&p); outcome.Action != gate.ActionResume || outcome.Context != threads[0].Context() {
		t.Fatal("expected the first outcome to resume T1")
	}

	t.Run("yield", func(t *testing.T) {
		regs := *threads[0].Context()
		regs.Sepc = 0x80205000
		regs.X[gate.RegA0] = 0xcafe
		regs.X[gate.RegA7] = gate.RequestYield

		outcome := handleBreakpoint(&p, &regs)
		if outcome.Action != gate.ActionResume || outcome.Context != threads[1].Context() {
			t.Fatal("expected T2 to be resumed")
		}

		saved := threads[0].Context()
		if saved.Sepc != 0x80205004 || saved.X[gate.RegA0] != 0xcafe {
			t.Fatalf("expected the trapped registers to be parked in T1; got sepc 0x%x, a0 0x%x", saved.Sepc, saved.X[gate.RegA0])
		}
		if threads[0].IsDead() {
			t.Fatal("expected a yielding thread to stay alive")
		}
	})

	t.Run("exit", func(t *testing.T) {
		regs := *threads[1].Context()
		regs.X[gate.RegA7] = gate.RequestExit

		outcome := handleBreakpoint(&p, &regs)
		if !threads[1].IsDead() {
			t.Fatal("expected the exit request to mark T2 as dead")
		}
		if outcome.Context != threads[0].Context() {
			t.Fatal("expected T1 to be resumed")
		}

		regs = *threads[0].Context()
		regs.X[gate.RegA7] = gate.RequestExit
		if outcome := handleBreakpoint(&p, &regs); outcome.Action != gate.ActionHalt {
			t.Fatalf("expected a halt outcome once every thread exited; got %+v", outcome)
		}
	})
}

func TestInitAndLaunch(t *testing.T) {
	defer func() {
		handleExceptionFn = gate.HandleException
		processor = Processor{}
	}()

	var buf bytes.Buffer
	kfmt.SetOutputSink(&buf)
	defer kfmt.SetOutputSink(nil)

	var registered gate.Cause
	handleExceptionFn = func(cause gate.Cause, handler gate.Handler) {
		registered = cause
	}
	Init()
	if registered != gate.Breakpoint {
		t.Fatalf("expected a breakpoint handler to be registered; got %s", registered.String())
	}

	if outcome := Launch(); outcome.Action != gate.ActionHalt {
		t.Fatal("expected Launch to halt without threads")
	}
	if exp := "[proc] no runnable threads\n"; !strings.HasSuffix(buf.String(), exp) {
		t.Fatalf("expected output to end with %q; got %q", exp, buf.String())
	}

	var thread Thread
	thread.process = &Process{}
	AddThread(&thread)
	if processor.ReadyThreads() != 1 {
		t.Fatal("expected the thread to be queued")
	}
	if CurrentThread() != nil {
		t.Fatal("expected no current thread before launch")
	}
}
