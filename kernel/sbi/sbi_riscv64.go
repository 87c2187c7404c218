package sbi

// call performs a legacy SBI call using the ecall instruction and returns
// the value of a0.
func call(ext, arg0, arg1, arg2 uintptr) uintptr
