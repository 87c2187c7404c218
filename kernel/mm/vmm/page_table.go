package vmm

import (
	"rvkernel/kernel"
	"rvkernel/kernel/cpu"
	"rvkernel/kernel/mm"
	"rvkernel/kernel/mm/pmm"
)

var (
	// flushTLBEntryFn is used by tests to count sfence.vma invocations.
	// When compiling the kernel this function will be automatically
	// inlined.
	flushTLBEntryFn = cpu.FlushTLBEntry

	// ErrInvalidMapping is returned when trying to lookup a virtual memory address that is not yet mapped.
	ErrInvalidMapping = &kernel.Error{Module: "vmm", Message: "virtual address does not point to a mapped physical page"}

	// ErrAlreadyMapped is returned when mapping a page that is already mapped.
	ErrAlreadyMapped = &kernel.Error{Module: "vmm", Message: "virtual page is already mapped"}

	errNoHugePageSupport     = &kernel.Error{Module: "vmm", Message: "huge pages are not supported"}
	errInvalidVirtualAddress = &kernel.Error{Module: "vmm", Message: "virtual address is not a canonical Sv39 address"}
	errPageTableNotAllocated = &kernel.Error{Module: "vmm", Message: "page table has been released"}
)

// FrameAllocator is implemented by physical frame allocators that can back
// page tables and framed segments.
type FrameAllocator interface {
	AllocFrame() (*pmm.FrameTracker, *kernel.Error)
}

// PageTable is an Sv39 page table tree. It owns the frames of all of its
// tables; the frames that mappings point to are owned by whoever created the
// mapping.
type PageTable struct {
	alloc  FrameAllocator
	root   *pmm.FrameTracker
	tables []*pmm.FrameTracker
}

// NewPageTable allocates and clears the root table of a new page table tree.
func NewPageTable(alloc FrameAllocator) (*PageTable, *kernel.Error) {
	pt := &PageTable{alloc: alloc}

	root, err := pt.allocTable()
	if err != nil {
		return nil, err
	}

	pt.root = root
	if sharedWindow != nil {
		sharedWindow.link(root.Frame())
	}
	return pt, nil
}

// allocTable reserves a cleared frame for a table at any level.
func (pt *PageTable) allocTable() (*pmm.FrameTracker, *kernel.Error) {
	table, err := pt.alloc.AllocFrame()
	if err != nil {
		return nil, err
	}

	kernel.Memset(table.Address(), 0, mm.PageSize)
	return table, nil
}

// Map establishes a mapping between a virtual page and a physical frame using
// the supplied flags. Missing intermediate tables are allocated on the way.
// The accessed and dirty bits are preset so the MMU never needs to fault to
// update them.
func (pt *PageTable) Map(page mm.Page, frame mm.Frame, flags PageTableEntryFlag) *kernel.Error {
	if pt.root == nil {
		return errPageTableNotAllocated
	}

	if !canonical(page.Address()) {
		return errInvalidVirtualAddress
	}

	var err *kernel.Error

	walk(pt.root.Frame(), page.Address(), func(pteLevel uint8, pte *pageTableEntry) bool {
		// If we reached the last level all we need to do is to map the
		// frame in place and flush its TLB entry
		if pteLevel == pageLevels-1 {
			if pte.HasFlags(FlagValid) {
				err = ErrAlreadyMapped
				return false
			}

			*pte = 0
			pte.SetFrame(frame)
			pte.SetFlags(flags | FlagValid | FlagAccessed | FlagDirty)
			flushTLBEntryFn(page.Address())
			return true
		}

		if pte.HasFlags(FlagValid) {
			if pte.IsLeaf() {
				err = errNoHugePageSupport
				return false
			}
			return true
		}

		// Next table does not yet exist; allocate a cleared frame for it
		var table *pmm.FrameTracker
		if table, err = pt.allocTable(); err != nil {
			return false
		}
		pt.tables = append(pt.tables, table)

		*pte = 0
		pte.SetFrame(table.Frame())
		pte.SetFlags(FlagValid)
		return true
	})

	return err
}

// Unmap removes a mapping previously installed via a call to Map.
func (pt *PageTable) Unmap(page mm.Page) *kernel.Error {
	pte, err := pt.leafEntry(page.Address())
	if err != nil {
		return err
	}

	*pte = 0
	flushTLBEntryFn(page.Address())
	return nil
}

// Translate returns the physical address that corresponds to the supplied
// virtual address or ErrInvalidMapping if the virtual address does not
// correspond to a mapped physical address.
func (pt *PageTable) Translate(virtAddr uintptr) (uintptr, *kernel.Error) {
	pte, err := pt.leafEntry(virtAddr)
	if err != nil {
		return 0, err
	}

	return pte.Frame().Address() + (virtAddr & (mm.PageSize - 1)), nil
}

// Flags returns the flags of the entry that maps virtAddr.
func (pt *PageTable) Flags(virtAddr uintptr) (PageTableEntryFlag, *kernel.Error) {
	pte, err := pt.leafEntry(virtAddr)
	if err != nil {
		return 0, err
	}

	return PageTableEntryFlag(uintptr(*pte) & flagMask), nil
}

// leafEntry returns the valid last-level entry for virtAddr.
func (pt *PageTable) leafEntry(virtAddr uintptr) (*pageTableEntry, *kernel.Error) {
	if pt.root == nil {
		return nil, errPageTableNotAllocated
	}

	if !canonical(virtAddr) {
		return nil, errInvalidVirtualAddress
	}

	var (
		entry *pageTableEntry
		err   = ErrInvalidMapping
	)

	walk(pt.root.Frame(), virtAddr, func(pteLevel uint8, pte *pageTableEntry) bool {
		if !pte.HasFlags(FlagValid) {
			return false
		}

		if pteLevel == pageLevels-1 {
			entry, err = pte, nil
			return true
		}

		if pte.IsLeaf() {
			err = errNoHugePageSupport
			return false
		}
		return true
	})

	return entry, err
}

// SATP returns the satp register value that activates this page table.
func (pt *PageTable) SATP() uintptr {
	return satpFor(pt.root.Frame())
}

func satpFor(root mm.Frame) uintptr {
	return cpu.SatpModeSv39 | uintptr(root)
}

// Release returns all table frames to their allocator. The page table must
// not be active when it is released. Tables of a linked window are not
// owned by the page table and stay in place.
func (pt *PageTable) Release() {
	for _, table := range pt.tables {
		table.Release()
	}
	pt.tables = nil

	pt.root.Release()
	pt.root = nil
}
