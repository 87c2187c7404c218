package gate

// trapStackSize must match TRAP_STACK_SIZE in gate_riscv64.s.
const trapStackSize = 64 << 10

// trapStack is the stack trap handlers run on. The interrupted register file
// is saved on the interrupted stack before switching to it. A trap taken
// while a handler runs restarts at the top of trapStack; such traps are
// always fatal.
var trapStack [trapStackSize]byte

// trapEntry is the target of stvec. It saves the interrupted register file
// and calls dispatchTrap.
func trapEntry()

// trapEntryAddr returns the address of trapEntry.
func trapEntryAddr() uintptr

// restore loads regs into the CPU and returns from the trap to regs.Sepc.
// It never returns to its caller.
func restore(regs *Registers)

// CurrentG returns the goroutine descriptor register. Threads created by the
// kernel inherit it so that Go code running on them finds a valid g.
func CurrentG() uintptr

// Yield raises a breakpoint with RequestYield in a7 so that the kernel can
// run the next ready thread.
func Yield()
