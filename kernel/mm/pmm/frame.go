// Package pmm manages the physical page frames located between the end of the
// kernel image and the end of RAM.
package pmm

import (
	"rvkernel/kernel"
	"rvkernel/kernel/mm"
	"rvkernel/kernel/sync"
)

var (
	// ErrOutOfMemory is returned when both the recycled pool and the
	// never-allocated part of the managed range are exhausted.
	ErrOutOfMemory = &kernel.Error{Module: "pmm", Message: "out of memory"}

	errInvalidRange = &kernel.Error{Module: "pmm", Message: "managed range does not contain a single page"}
)

// FrameAllocator hands out page frames from the range [start, end). Frames
// below the high-water mark that have been released are kept in a recycled
// pool and are handed out again, most recently released first, before the
// high-water mark advances.
type FrameAllocator struct {
	mutex sync.Spinlock

	start mm.Frame
	next  mm.Frame
	end   mm.Frame

	recycled []mm.Frame
}

// Stats describes the state of a FrameAllocator.
type Stats struct {
	// Total is the number of frames in the managed range.
	Total uint64

	// Issued counts the frames below the high-water mark.
	Issued uint64

	// Recycled counts the frames waiting in the recycled pool.
	Recycled uint64
}

// Init sets up the allocator to manage the physical range [start, end). The
// start address is rounded up and the end address is rounded down to a page
// boundary. Any previous allocator state is discarded.
func (alloc *FrameAllocator) Init(start, end uintptr) *kernel.Error {
	alloc.mutex.Acquire()
	defer alloc.mutex.Release()

	startFrame := mm.FrameFromAddress(mm.PageAlignUp(start))
	endFrame := mm.FrameFromAddress(mm.PageAlignDown(end))
	if end < start || endFrame <= startFrame {
		return errInvalidRange
	}

	alloc.start = startFrame
	alloc.next = startFrame
	alloc.end = endFrame

	// every frame fits in the pool so releaseFrame never grows it
	if total := int(endFrame - startFrame); cap(alloc.recycled) < total {
		alloc.recycled = make([]mm.Frame, 0, total)
	} else {
		alloc.recycled = alloc.recycled[:0]
	}
	return nil
}

// AllocFrame reserves a free frame and returns a tracker that owns it.
func (alloc *FrameAllocator) AllocFrame() (*FrameTracker, *kernel.Error) {
	alloc.mutex.Acquire()

	var frame mm.Frame
	switch {
	case len(alloc.recycled) != 0:
		last := len(alloc.recycled) - 1
		frame = alloc.recycled[last]
		alloc.recycled = alloc.recycled[:last]
	case alloc.next < alloc.end:
		frame = alloc.next
		alloc.next++
	default:
		alloc.mutex.Release()
		return nil, ErrOutOfMemory
	}

	alloc.mutex.Release()
	return &FrameTracker{frame: frame, alloc: alloc}, nil
}

// releaseFrame pushes a frame back to the recycled pool. Callers must make
// sure that the frame was issued by this allocator and is released once. The
// pool is sized by Init so the push does not allocate.
func (alloc *FrameAllocator) releaseFrame(frame mm.Frame) {
	alloc.mutex.Acquire()
	alloc.recycled = append(alloc.recycled, frame)
	alloc.mutex.Release()
}

// Stats returns a snapshot of the allocator counters.
func (alloc *FrameAllocator) Stats() Stats {
	alloc.mutex.Acquire()
	defer alloc.mutex.Release()

	return Stats{
		Total:    uint64(alloc.end - alloc.start),
		Issued:   uint64(alloc.next - alloc.start),
		Recycled: uint64(len(alloc.recycled)),
	}
}

// FrameTracker is the sole owner of an allocated frame. The frame returns to
// its allocator when Release is called; a tracker must not be copied.
type FrameTracker struct {
	frame mm.Frame
	alloc *FrameAllocator
}

// Frame returns the tracked frame or mm.InvalidFrame if the tracker has
// already been released.
func (t *FrameTracker) Frame() mm.Frame {
	if t.alloc == nil {
		return mm.InvalidFrame
	}
	return t.frame
}

// Address returns the physical address of the tracked frame.
func (t *FrameTracker) Address() uintptr {
	return t.frame.Address()
}

// Release returns the frame to the allocator that issued it. The tracker is
// emptied so calling Release again has no effect.
func (t *FrameTracker) Release() {
	if t == nil || t.alloc == nil {
		return
	}

	alloc := t.alloc
	t.alloc = nil
	alloc.releaseFrame(t.frame)
	t.frame = mm.InvalidFrame
}
