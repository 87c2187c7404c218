package proc

import (
	"rvkernel/kernel/config"
	"rvkernel/kernel/gate"
	"rvkernel/kernel/mm"
	"rvkernel/kernel/mm/pmm"
	"rvkernel/kernel/mm/vmm"
	"testing"
	"unsafe"
)

var testLayout = vmm.KernelLayout{
	TextStart:   0x80200000,
	RodataStart: 0x80202000,
	DataStart:   0x80203000,
	BssStart:    0x80204000,
	KernelEnd:   0x80206000,
	MemoryEnd:   0x80210000,
}

// setupPhysMemory points the package at a frame allocator backed by real
// memory and returns a function that restores the defaults. The frames have
// to be real memory since page tables are written through their physical
// address.
func setupPhysMemory(t *testing.T, pages uintptr) (*pmm.FrameAllocator, func()) {
	buf := make([]byte, (pages+1)*mm.PageSize)
	start := mm.PageAlignUp(uintptr(unsafe.Pointer(&buf[0])))

	alloc := new(pmm.FrameAllocator)
	if err := alloc.Init(start, start+pages*mm.PageSize); err != nil {
		t.Fatal(err)
	}

	frameAllocatorFn = func() vmm.FrameAllocator { return alloc }
	kernelLayoutFn = func() vmm.KernelLayout { return testLayout }
	currentGFn = func() uintptr { return 0xfeed }

	return alloc, func() {
		frameAllocatorFn = func() vmm.FrameAllocator { return pmm.Allocator() }
		kernelLayoutFn = vmm.Layout
		currentGFn = gate.CurrentG
		_ = buf[0]
	}
}

// framesPerThread is the number of frames backing a thread stack.
const framesPerThread = config.StackSize >> mm.PageShift
