package vmm

import (
	"rvkernel/kernel"
	"rvkernel/kernel/mm"
	"rvkernel/kernel/mm/pmm"
	"testing"
	"unsafe"
)

// physMemory backs a frame allocator with real memory so that page tables
// built by the tests can be walked. The returned slice must be kept alive for
// as long as the allocator is in use.
func physMemory(t *testing.T, pages uintptr) (*pmm.FrameAllocator, []byte) {
	buf := make([]byte, (pages+1)*mm.PageSize)
	start := mm.PageAlignUp(uintptr(unsafe.Pointer(&buf[0])))

	alloc := new(pmm.FrameAllocator)
	if err := alloc.Init(start, start+pages*mm.PageSize); err != nil {
		t.Fatal(err)
	}
	return alloc, buf
}

// limitedAllocator fails once it has handed out its budget of frames.
type limitedAllocator struct {
	FrameAllocator
	remaining int
}

func (a *limitedAllocator) AllocFrame() (*pmm.FrameTracker, *kernel.Error) {
	if a.remaining == 0 {
		return nil, pmm.ErrOutOfMemory
	}
	a.remaining--
	return a.FrameAllocator.AllocFrame()
}

func physBytes(addr, size uintptr) []byte {
	return unsafe.Slice((*byte)(unsafe.Pointer(addr)), size)
}
