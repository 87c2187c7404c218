package heap

import (
	"rvkernel/kernel"
	"rvkernel/kernel/config"
	"unsafe"
)

var (
	// storage is the statically reserved arena region. It lives in the
	// kernel's bss section.
	storage [config.KernelHeapSize]byte

	kernelArena Arena
	initialized bool

	// ErrAlreadyInitialized is returned by repeated calls to Init.
	ErrAlreadyInitialized = &kernel.Error{Module: "heap", Message: "arena already initialized"}
)

// Init installs the statically reserved region as the kernel heap arena. It
// must be called exactly once, before anything allocates.
func Init() *kernel.Error {
	if initialized {
		return ErrAlreadyInitialized
	}

	if err := kernelArena.Init(uintptr(unsafe.Pointer(&storage[0])), uintptr(len(storage))); err != nil {
		return err
	}

	initialized = true
	return nil
}

// Alloc reserves size bytes aligned to align from the kernel heap arena.
func Alloc(size, align uintptr) (uintptr, *kernel.Error) {
	return kernelArena.Alloc(size, align)
}

// Free returns memory obtained by Alloc to the kernel heap arena.
func Free(addr, size, align uintptr) {
	kernelArena.Free(addr, size, align)
}

// KernelArena returns the kernel heap arena.
func KernelArena() *Arena {
	return &kernelArena
}
