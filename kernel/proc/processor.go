package proc

import (
	"rvkernel/kernel"
	"rvkernel/kernel/gate"
	"rvkernel/kernel/kfmt"
	"rvkernel/kernel/sync"
)

var (
	// processor is the scheduler of the only hart.
	processor Processor

	// handleExceptionFn is mocked by tests and is automatically inlined
	// by the compiler.
	handleExceptionFn = gate.HandleException

	logWriter = &kfmt.PrefixWriter{Sink: kfmt.ActiveSink, Prefix: []byte("[proc] ")}

	// ErrNoRunnableThreads is returned when neither the ready queue nor
	// the current slot hold a thread that can run.
	ErrNoRunnableThreads = &kernel.Error{Module: "proc", Message: "no runnable threads"}
)

// Processor holds the FIFO queue of ready threads and the thread currently
// running on the hart. All state is protected by a single lock which is
// never held across a context switch.
//
// Queued threads are linked through Thread.next so scheduling never
// allocates. A thread is on at most one list at a time.
type Processor struct {
	mutex sync.Spinlock

	readyHead  *Thread
	readyTail  *Thread
	readyCount int

	current *Thread

	// zombies lists dead threads awaiting release. They are released after
	// the next thread has been picked and its address space activated.
	zombies *Thread
}

// AddThread appends t to the tail of the ready queue. t must not be queued
// already.
func (p *Processor) AddThread(t *Thread) {
	p.mutex.Acquire()
	p.pushReady(t)
	p.mutex.Release()
}

func (p *Processor) pushReady(t *Thread) {
	t.next = nil
	if p.readyTail == nil {
		p.readyHead = t
	} else {
		p.readyTail.next = t
	}
	p.readyTail = t
	p.readyCount++
}

func (p *Processor) popReady() *Thread {
	t := p.readyHead
	if t == nil {
		return nil
	}

	if p.readyHead = t.next; p.readyHead == nil {
		p.readyTail = nil
	}
	t.next = nil
	p.readyCount--
	return t
}

func (p *Processor) bury(t *Thread) {
	t.next = p.zombies
	p.zombies = t
}

// CurrentThread returns the running thread or nil if no thread has been
// installed yet.
func (p *Processor) CurrentThread() *Thread {
	p.mutex.Acquire()
	defer p.mutex.Release()
	return p.current
}

// Park saves the trapped register file into the context of the running
// thread.
func (p *Processor) Park(regs *gate.Registers) {
	p.mutex.Acquire()
	if p.current != nil {
		p.current.context = *regs
	}
	p.mutex.Release()
}

// PrepareNextThread re-enqueues the running thread (unless it is dead),
// installs the thread at the head of the ready queue as the running one and
// returns its context. Dead threads found on the way are dropped for good.
// If the next thread belongs to a process whose address space is not active,
// the address space is activated.
func (p *Processor) PrepareNextThread() (*gate.Registers, *kernel.Error) {
	p.mutex.Acquire()

	if prev := p.current; prev != nil {
		if prev.IsDead() {
			p.bury(prev)
		} else {
			p.pushReady(prev)
		}
		p.current = nil
	}

	var next *Thread
	for next == nil && p.readyHead != nil {
		head := p.popReady()
		if head.IsDead() {
			p.bury(head)
			continue
		}
		next = head
	}

	if next == nil {
		p.mutex.Release()
		return nil, ErrNoRunnableThreads
	}

	p.current = next
	zombies := p.zombies
	p.zombies = nil
	p.mutex.Release()

	if space := next.process.space; !space.IsActive() {
		space.Activate()
	}

	for zombies != nil {
		t := zombies
		zombies, t.next = t.next, nil

		kfmt.Fprintf(logWriter, "thread %d exited\n", uint32(t.ID))
		t.Release()
	}

	return &next.context, nil
}

// ReadyThreads returns the number of threads waiting in the ready queue.
func (p *Processor) ReadyThreads() int {
	p.mutex.Acquire()
	defer p.mutex.Release()
	return p.readyCount
}

// Init registers the breakpoint handler that drives thread switches.
func Init() {
	handleExceptionFn(gate.Breakpoint, breakpointHandler)
}

// AddThread appends t to the ready queue of the processor.
func AddThread(t *Thread) {
	processor.AddThread(t)
}

// CurrentThread returns the thread running on the processor.
func CurrentThread() *Thread {
	return processor.CurrentThread()
}

// Launch picks the first thread to run and returns the outcome that starts
// it.
func Launch() gate.Outcome {
	return nextOutcome(&processor)
}

func nextOutcome(p *Processor) gate.Outcome {
	ctx, err := p.PrepareNextThread()
	if err != nil {
		kfmt.Fprintf(logWriter, "%s\n", err.Message)
		return gate.HaltOutcome()
	}
	return gate.ResumeWith(ctx)
}

// breakpointHandler runs when a thread executes ebreak to enter the kernel
// voluntarily. The request code in a7 selects between yielding and exiting.
func breakpointHandler(regs *gate.Registers, _ gate.Cause, _ uintptr) gate.Outcome {
	return handleBreakpoint(&processor, regs)
}

func handleBreakpoint(p *Processor, regs *gate.Registers) gate.Outcome {
	// resume after the 4-byte ebreak instruction
	regs.Sepc += 4

	if regs.X[gate.RegA7] == gate.RequestExit {
		if t := p.CurrentThread(); t != nil {
			t.MarkDead()
		}
	}

	p.Park(regs)
	return nextOutcome(p)
}
