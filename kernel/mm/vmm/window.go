package vmm

import (
	"rvkernel/kernel"
	"rvkernel/kernel/gate"
	"rvkernel/kernel/mm"
	"rvkernel/kernel/sync"
)

const (
	// rootEntrySpan is the size of the region covered by a single root
	// table entry.
	rootEntrySpan = uintptr(1) << 30

	// bootLeafFlags are the flags of the 1G identity leaves installed by
	// IdentityBootTable.
	bootLeafFlags = FlagValid | FlagRead | FlagWrite | FlagExec | FlagGlobal | FlagAccessed | FlagDirty
)

var (
	// sharedWindow is linked into every page table created after the call
	// to ShareWindow.
	sharedWindow *Window

	errInvalidWindow = &kernel.Error{Module: "vmm", Message: "window must span whole root table entries"}
	errOutsideWindow = &kernel.Error{Module: "vmm", Message: "address is outside the window"}
)

// TableAllocator returns a cleared page that can be used as a page table.
type TableAllocator func() (mm.Frame, *kernel.Error)

// FaultResolver is invoked for write faults inside a window. It returns true
// if the faulting access can be retried.
type FaultResolver func(virtAddr uintptr) bool

// Window is a range of the virtual address space whose mappings are shared by
// every page table. All of its second level tables are installed by Init, so
// linking the window into a root table is a plain copy of root entries.
// Window tables are never released.
//
// Window methods do not allocate from the Go heap, which allows a window to
// back the Go allocator itself.
type Window struct {
	mutex sync.Spinlock

	start, end uintptr

	// root holds the window entries; the rest of it stays empty.
	root mm.Frame

	allocTable   TableAllocator
	resolveFault FaultResolver
}

// Init sets up a window covering [start, end). Both bounds must be aligned to
// the 1G span of a root entry. resolveFault may be nil.
func (w *Window) Init(start, end uintptr, allocTable TableAllocator, resolveFault FaultResolver) *kernel.Error {
	if start >= end || start&(rootEntrySpan-1) != 0 || end&(rootEntrySpan-1) != 0 ||
		!canonical(start) || !canonical(end-1) {
		return errInvalidWindow
	}

	root, err := allocTable()
	if err != nil {
		return err
	}

	for addr := start; addr < end; addr += rootEntrySpan {
		table, err := allocTable()
		if err != nil {
			return err
		}

		pte := rootEntry(root, addr)
		*pte = 0
		pte.SetFrame(table)
		pte.SetFlags(FlagValid)
	}

	w.start, w.end = start, end
	w.root = root
	w.allocTable = allocTable
	w.resolveFault = resolveFault
	return nil
}

// Start returns the first address of the window.
func (w *Window) Start() uintptr { return w.start }

// End returns the end (exclusive) of the window.
func (w *Window) End() uintptr { return w.end }

// Contains returns true if virtAddr falls inside the window.
func (w *Window) Contains(virtAddr uintptr) bool {
	return virtAddr >= w.start && virtAddr < w.end
}

// overlaps returns true if [start, end) intersects the window.
func (w *Window) overlaps(start, end uintptr) bool {
	return start < w.end && w.start < end
}

// Map installs a mapping for page inside the window. Mapping a page that is
// already mapped fails with ErrAlreadyMapped.
func (w *Window) Map(page mm.Page, frame mm.Frame, flags PageTableEntryFlag) *kernel.Error {
	if !w.Contains(page.Address()) {
		return errOutsideWindow
	}

	w.mutex.Acquire()
	defer w.mutex.Release()

	var err *kernel.Error
	walk(w.root, page.Address(), func(pteLevel uint8, pte *pageTableEntry) bool {
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
			return true
		}

		var table mm.Frame
		if table, err = w.allocTable(); err != nil {
			return false
		}

		*pte = 0
		pte.SetFrame(table)
		pte.SetFlags(FlagValid)
		return true
	})

	return err
}

// Unmap removes the mapping for page and returns the frame it pointed to.
func (w *Window) Unmap(page mm.Page) (mm.Frame, *kernel.Error) {
	w.mutex.Acquire()
	defer w.mutex.Release()

	pte, err := w.leafEntry(page.Address())
	if err != nil {
		return mm.InvalidFrame, err
	}

	frame := pte.Frame()
	*pte = 0
	flushTLBEntryFn(page.Address())
	return frame, nil
}

// Lookup returns the frame and flags of the mapping that contains virtAddr.
func (w *Window) Lookup(virtAddr uintptr) (mm.Frame, PageTableEntryFlag, *kernel.Error) {
	w.mutex.Acquire()
	defer w.mutex.Release()

	pte, err := w.leafEntry(virtAddr)
	if err != nil {
		return mm.InvalidFrame, 0, err
	}

	return pte.Frame(), PageTableEntryFlag(uintptr(*pte) & flagMask), nil
}

func (w *Window) leafEntry(virtAddr uintptr) (*pageTableEntry, *kernel.Error) {
	if !w.Contains(virtAddr) {
		return nil, errOutsideWindow
	}

	var entry *pageTableEntry
	walk(w.root, virtAddr, func(pteLevel uint8, pte *pageTableEntry) bool {
		if !pte.HasFlags(FlagValid) {
			return false
		}

		if pteLevel == pageLevels-1 {
			entry = pte
		}
		return true
	})

	if entry == nil {
		return nil, ErrInvalidMapping
	}
	return entry, nil
}

// link copies the root entries of the window into root.
func (w *Window) link(root mm.Frame) {
	for addr := w.start; addr < w.end; addr += rootEntrySpan {
		*rootEntry(root, addr) = *rootEntry(w.root, addr)
	}
}

// rootEntry returns the entry of the root table that covers virtAddr.
func rootEntry(root mm.Frame, virtAddr uintptr) *pageTableEntry {
	entryIndex := (virtAddr >> pageLevelShifts[0]) & (entriesPerTable - 1)
	return (*pageTableEntry)(ptePtrFn(root.Address() + (entryIndex << mm.PointerShift)))
}

// ShareWindow links w into every page table created from now on and installs
// the fault handlers so that write faults inside w reach its resolver. A nil
// w stops the sharing.
func ShareWindow(w *Window) {
	sharedWindow = w
	if w != nil {
		installFaultHandlers()
	}
}

// IdentityBootTable turns root, a cleared table page, into a page table that
// identity maps [start, end) with 1G leaves and links the shared window. It
// returns the satp value that activates the table. The table lets the kernel
// run with translation enabled before the kernel address space, which needs
// the Go allocator, can be built.
func IdentityBootTable(root mm.Frame, start, end uintptr) uintptr {
	for addr := start &^ (rootEntrySpan - 1); addr < end; addr += rootEntrySpan {
		pte := rootEntry(root, addr)
		*pte = 0
		pte.SetFrame(mm.FrameFromAddress(addr))
		pte.SetFlags(bootLeafFlags)
	}

	if sharedWindow != nil {
		sharedWindow.link(root)
	}

	return satpFor(root)
}

// resolveWindowFault gives the shared window a chance to handle a write
// fault.
func resolveWindowFault(cause gate.Cause, faultAddress uintptr) bool {
	w := sharedWindow
	return cause == gate.StorePageFault && w != nil && w.resolveFault != nil &&
		w.Contains(faultAddress) && w.resolveFault(faultAddress)
}
