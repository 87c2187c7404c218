// Package config collects the compile-time constants that size the kernel.
// Changing any of them changes capacity only, never behavior.
package config

const (
	// MemoryStart is the physical address where RAM begins on the QEMU
	// virt machine. The SBI firmware occupies the first 2M.
	MemoryStart = uintptr(0x80000000)

	// MemoryEnd is the end (exclusive) of the physical memory range managed
	// by the frame allocator.
	MemoryEnd = uintptr(0x88000000)

	// KernelHeapSize is the size of the statically reserved heap arena that
	// backs every dynamic allocation made by kernel code.
	KernelHeapSize = 0x800000

	// StackSize is the size of the private stack allocated to each thread.
	StackSize = uintptr(0x80000)

	// StackAreaBase is the lowest virtual address used when placing thread
	// stacks inside an address space. It sits well above the identity
	// mapped physical memory window.
	StackAreaBase = uintptr(0x1000000000)

	// RuntimeAreaBase is the start of the virtual window that holds the
	// address space reserved by the Go allocator. It must be aligned to
	// 1G and sits above the thread stack area.
	RuntimeAreaBase = uintptr(0x2000000000)

	// RuntimeAreaSize is the size of the runtime window. Reservations only
	// consume address space; memory is handed out when pages are written.
	RuntimeAreaSize = uintptr(0x400000000)

	// BootSelfTest enables the heap and frame allocator checks that Kmain
	// runs before launching the first thread.
	BootSelfTest = true
)
