package vmm

import (
	"rvkernel/kernel/mm"
	"rvkernel/kernel/mm/pmm"
	"unsafe"
)

// MapType describes how the pages of a Segment are backed.
type MapType uint8

const (
	// MapIdentity maps every page to the frame with the same address.
	MapIdentity MapType = iota

	// MapFramed backs every page with a freshly allocated frame that is
	// owned by the segment.
	MapFramed
)

// String implements fmt.Stringer for MapType.
func (t MapType) String() string {
	switch t {
	case MapIdentity:
		return "identity"
	case MapFramed:
		return "framed"
	default:
		return "unknown"
	}
}

// Segment is a page-aligned virtual address range [Start, End) mapped with a
// single set of permissions.
type Segment struct {
	Start uintptr
	End   uintptr
	Flags PageTableEntryFlag
	Type  MapType

	// frames holds the frames backing a framed segment, one per page.
	frames []*pmm.FrameTracker
}

// PageCount returns the number of pages spanned by the segment.
func (s *Segment) PageCount() uintptr {
	return (s.End - s.Start) >> mm.PageShift
}

// Overlaps returns true if the two segments share at least one page.
func (s *Segment) Overlaps(other *Segment) bool {
	return s.Start < other.End && other.Start < s.End
}

// Contains returns true if virtAddr falls inside the segment.
func (s *Segment) Contains(virtAddr uintptr) bool {
	return virtAddr >= s.Start && virtAddr < s.End
}

// frameFor returns the frame that backs the page at index pageIndex.
func (s *Segment) frameFor(pageIndex uintptr) mm.Frame {
	if s.Type == MapIdentity {
		return mm.FrameFromAddress(s.Start) + mm.Frame(pageIndex)
	}
	return s.frames[pageIndex].Frame()
}

// releaseFrames drops every frame owned by the segment.
func (s *Segment) releaseFrames() {
	for _, frame := range s.frames {
		frame.Release()
	}
	s.frames = nil
}

// frameBytes returns a slice that aliases the contents of a frame through
// the identity mapping of physical memory.
func frameBytes(frame *pmm.FrameTracker) []byte {
	return unsafe.Slice((*byte)(unsafe.Pointer(frame.Address())), mm.PageSize)
}
