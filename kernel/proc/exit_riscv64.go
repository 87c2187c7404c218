package proc

// exitTrampoline raises a breakpoint with gate.RequestExit in a7.
func exitTrampoline()

// exitTrampolineAddr returns the address of exitTrampoline.
func exitTrampolineAddr() uintptr
