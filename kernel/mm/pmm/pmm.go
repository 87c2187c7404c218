package pmm

import (
	"rvkernel/kernel"
	"rvkernel/kernel/kfmt"
	"rvkernel/kernel/mm"
)

var (
	// frameAllocator is the system-wide allocator. It is set up once by Init.
	frameAllocator FrameAllocator

	logWriter = &kfmt.PrefixWriter{Sink: kfmt.ActiveSink, Prefix: []byte("[pmm] ")}
)

// Init prepares the system-wide frame allocator to manage the physical range
// between the end of the kernel image and the end of RAM.
func Init(kernelEnd, memoryEnd uintptr) *kernel.Error {
	if err := frameAllocator.Init(kernelEnd, memoryEnd); err != nil {
		return err
	}

	stats := frameAllocator.Stats()
	kfmt.Fprintf(logWriter, "managing 0x%x - 0x%x (%d pages, %dKb)\n",
		frameAllocator.start.Address(),
		frameAllocator.end.Address(),
		stats.Total,
		stats.Total*uint64(mm.PageSize)>>10,
	)
	return nil
}

// AllocFrame reserves a frame from the system-wide allocator.
func AllocFrame() (*FrameTracker, *kernel.Error) {
	return frameAllocator.AllocFrame()
}

// Allocator returns the system-wide frame allocator.
func Allocator() *FrameAllocator {
	return &frameAllocator
}
