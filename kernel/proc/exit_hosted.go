//go:build !riscv64

package proc

// exitTrampoline stands in for the assembly exit routine on hosted builds.
func exitTrampoline() {}

func exitTrampolineAddr() uintptr {
	return FuncAddress(exitTrampoline)
}
