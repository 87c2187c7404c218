package vmm

import (
	"rvkernel/kernel"
	"rvkernel/kernel/config"
	"rvkernel/kernel/cpu"
	"rvkernel/kernel/mm"
	"rvkernel/kernel/mm/pmm"
	"sort"
)

var (
	// switchSATPFn and activeSATPFn are used by tests to observe address
	// space switches. When compiling the kernel these functions will be
	// automatically inlined.
	switchSATPFn = cpu.SwitchSATP
	activeSATPFn = cpu.ActiveSATP

	// ErrSegmentOverlap is returned when a segment intersects a segment
	// already present in the address space.
	ErrSegmentOverlap = &kernel.Error{Module: "vmm", Message: "segment overlaps an existing segment"}

	errSegmentNotFound    = &kernel.Error{Module: "vmm", Message: "no segment starts at the requested address"}
	errEmptySegment       = &kernel.Error{Module: "vmm", Message: "segment does not span any pages"}
	errSegmentDataTooLong = &kernel.Error{Module: "vmm", Message: "initial data does not fit in segment"}
	errIdentityData       = &kernel.Error{Module: "vmm", Message: "identity segments cannot be initialized with data"}
)

// KernelLayout describes the physical placement of the kernel image sections
// and the end of usable RAM. Section boundaries are page aligned by the
// linker script.
type KernelLayout struct {
	TextStart   uintptr
	RodataStart uintptr
	DataStart   uintptr
	BssStart    uintptr
	KernelEnd   uintptr
	MemoryEnd   uintptr
}

// AddressSpace is a page table together with the ordered, pairwise
// non-overlapping set of segments mapped into it.
type AddressSpace struct {
	alloc     FrameAllocator
	pageTable *PageTable
	segments  []*Segment

	// nextPageRange is the end of the last range handed out by
	// AllocPageRange.
	nextPageRange uintptr
}

// NewAddressSpace returns an address space without any segments.
func NewAddressSpace(alloc FrameAllocator) (*AddressSpace, *kernel.Error) {
	pageTable, err := NewPageTable(alloc)
	if err != nil {
		return nil, err
	}

	return &AddressSpace{
		alloc:         alloc,
		pageTable:     pageTable,
		nextPageRange: config.StackAreaBase,
	}, nil
}

// NewKernelAddressSpace returns an address space that identity maps the
// kernel image and the free physical memory following it. Each section is
// mapped with the permissions matching its role.
func NewKernelAddressSpace(alloc FrameAllocator, layout KernelLayout) (*AddressSpace, *kernel.Error) {
	as, err := NewAddressSpace(alloc)
	if err != nil {
		return nil, err
	}

	sections := [...]Segment{
		{Start: layout.TextStart, End: layout.RodataStart, Flags: FlagRX},
		{Start: layout.RodataStart, End: layout.DataStart, Flags: FlagRead},
		{Start: layout.DataStart, End: layout.BssStart, Flags: FlagRW},
		{Start: layout.BssStart, End: layout.KernelEnd, Flags: FlagRW},
		{Start: layout.KernelEnd, End: layout.MemoryEnd, Flags: FlagRW},
	}

	for i := range sections {
		if sections[i].End <= sections[i].Start {
			continue
		}

		sections[i].Type = MapIdentity
		if err = as.AddSegment(sections[i], nil); err != nil {
			as.Release()
			return nil, err
		}
	}

	return as, nil
}

// AddSegment maps seg into the address space. The segment range is expanded
// to page boundaries. For framed segments, data (if any) is copied to the
// start of the newly allocated frames and the rest is zeroed.
//
// AddSegment fails with ErrSegmentOverlap if the segment intersects an
// existing one. If mapping fails half-way all changes are rolled back and the
// address space is left as it was.
func (as *AddressSpace) AddSegment(seg Segment, data []byte) *kernel.Error {
	seg.Start = mm.PageAlignDown(seg.Start)
	seg.End = mm.PageAlignUp(seg.End)
	seg.frames = nil

	switch {
	case seg.End <= seg.Start:
		return errEmptySegment
	case seg.Type == MapIdentity && len(data) != 0:
		return errIdentityData
	case uintptr(len(data)) > seg.End-seg.Start:
		return errSegmentDataTooLong
	}

	if sharedWindow != nil && sharedWindow.overlaps(seg.Start, seg.End) {
		return ErrSegmentOverlap
	}

	for _, existing := range as.segments {
		if existing.Overlaps(&seg) {
			return ErrSegmentOverlap
		}
	}

	if seg.Type == MapFramed {
		if err := as.allocSegmentFrames(&seg, data); err != nil {
			return err
		}
	}

	pageCount := seg.PageCount()
	for pageIndex := uintptr(0); pageIndex < pageCount; pageIndex++ {
		page := mm.PageFromAddress(seg.Start) + mm.Page(pageIndex)
		if err := as.pageTable.Map(page, seg.frameFor(pageIndex), seg.Flags); err != nil {
			as.unmapPages(&seg, pageIndex)
			seg.releaseFrames()
			return err
		}
	}

	newSeg := seg
	index := sort.Search(len(as.segments), func(i int) bool {
		return as.segments[i].Start > newSeg.Start
	})
	as.segments = append(as.segments, nil)
	copy(as.segments[index+1:], as.segments[index:])
	as.segments[index] = &newSeg
	return nil
}

// allocSegmentFrames reserves one frame for every page of a framed segment
// and initializes the frame contents.
func (as *AddressSpace) allocSegmentFrames(seg *Segment, data []byte) *kernel.Error {
	pageCount := seg.PageCount()
	seg.frames = make([]*pmm.FrameTracker, 0, pageCount)

	for pageIndex := uintptr(0); pageIndex < pageCount; pageIndex++ {
		frame, err := as.alloc.AllocFrame()
		if err != nil {
			seg.releaseFrames()
			return err
		}
		seg.frames = append(seg.frames, frame)

		kernel.Memset(frame.Address(), 0, mm.PageSize)
		if offset := pageIndex << mm.PageShift; offset < uintptr(len(data)) {
			chunk := data[offset:]
			if uintptr(len(chunk)) > mm.PageSize {
				chunk = chunk[:mm.PageSize]
			}
			copy(frameBytes(frame), chunk)
		}
	}

	return nil
}

// unmapPages removes the first count page mappings of seg.
func (as *AddressSpace) unmapPages(seg *Segment, count uintptr) {
	for pageIndex := uintptr(0); pageIndex < count; pageIndex++ {
		_ = as.pageTable.Unmap(mm.PageFromAddress(seg.Start) + mm.Page(pageIndex))
	}
}

// RemoveSegment unmaps the segment starting at start and releases the frames
// it owns.
func (as *AddressSpace) RemoveSegment(start uintptr) *kernel.Error {
	for index, seg := range as.segments {
		if seg.Start != start {
			continue
		}

		as.unmapPages(seg, seg.PageCount())
		seg.releaseFrames()
		as.segments = append(as.segments[:index], as.segments[index+1:]...)
		return nil
	}

	return errSegmentNotFound
}

// AllocPageRange maps a framed, zeroed range of at least size bytes above
// config.StackAreaBase and returns its bounds. Consecutive ranges are
// separated by an unmapped guard page so that overflowing one range faults
// instead of corrupting the next.
func (as *AddressSpace) AllocPageRange(size uintptr, flags PageTableEntryFlag) (uintptr, uintptr, *kernel.Error) {
	start := as.nextPageRange + mm.PageSize
	end := start + mm.PageAlignUp(size)

	if err := as.AddSegment(Segment{Start: start, End: end, Flags: flags, Type: MapFramed}, nil); err != nil {
		return 0, 0, err
	}

	as.nextPageRange = end
	return start, end, nil
}

// Segments returns a copy of the segments in the address space ordered by
// start address.
func (as *AddressSpace) Segments() []Segment {
	list := make([]Segment, len(as.segments))
	for i, seg := range as.segments {
		list[i] = *seg
	}
	return list
}

// FindSegment returns the segment that contains virtAddr.
func (as *AddressSpace) FindSegment(virtAddr uintptr) (Segment, bool) {
	for _, seg := range as.segments {
		if seg.Contains(virtAddr) {
			return *seg, true
		}
	}
	return Segment{}, false
}

// Translate returns the physical address mapped at virtAddr.
func (as *AddressSpace) Translate(virtAddr uintptr) (uintptr, *kernel.Error) {
	return as.pageTable.Translate(virtAddr)
}

// SATP returns the satp value that activates this address space.
func (as *AddressSpace) SATP() uintptr {
	return as.pageTable.SATP()
}

// Activate installs the address space as the one the CPU translates
// through. The switch is a single satp write followed by a full TLB flush so
// it is safe to call repeatedly and from within a trap handler.
func (as *AddressSpace) Activate() {
	switchSATPFn(as.pageTable.SATP())
	activeSpace = as
}

// IsActive returns true if the CPU currently translates through this
// address space.
func (as *AddressSpace) IsActive() bool {
	return activeSATPFn() == as.pageTable.SATP()
}

// Release unmaps every segment and returns all frames owned by the address
// space, including the page table frames. The address space must not be
// active.
func (as *AddressSpace) Release() {
	for _, seg := range as.segments {
		seg.releaseFrames()
	}
	as.segments = nil
	as.pageTable.Release()

	if activeSpace == as {
		activeSpace = nil
	}
}
