//go:build !riscv64

package sbi

// call is a no-op on hosted builds: console output is discarded, no input is
// ever pending and shutdown requests are refused.
func call(ext, _, _, _ uintptr) uintptr {
	if ext == extConsoleGetchar {
		return consoleNoInputValue
	}
	return 0
}
