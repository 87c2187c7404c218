//go:build !riscv64

package goruntime

// runtimeInit is a no-op on hosted builds where the runtime is already up.
func runtimeInit() {}
