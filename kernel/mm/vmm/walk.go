package vmm

import (
	"rvkernel/kernel/mm"
	"unsafe"
)

const (
	// pageLevels is the number of page table levels used by Sv39.
	pageLevels = 3

	// entriesPerTable is the number of entries in a page table at any
	// level. Each table occupies exactly one page.
	entriesPerTable = 512
)

var (
	// pageLevelShifts defines the shift required to access each page table
	// component of a virtual address, starting from the root table.
	pageLevelShifts = [pageLevels]uintptr{30, 21, 12}

	// ptePtrFn returns a pointer to the supplied entry address. Physical
	// memory is identity mapped so table frames are accessed through their
	// physical address. When compiling the kernel this function will be
	// automatically inlined.
	ptePtrFn = func(entryAddr uintptr) unsafe.Pointer {
		return unsafe.Pointer(entryAddr)
	}
)

// pageTableWalker is a function that can be passed to the walk method. The
// function receives the current page level and page table entry as its
// arguments. If the function returns false, then the page walk is aborted.
type pageTableWalker func(pteLevel uint8, pte *pageTableEntry) bool

// walk performs a page table walk for the given virtual address starting at
// the table stored in root. It calls the supplied walkFn with the page table
// entry that corresponds to each page table level. The table for the next
// level is read from the entry after walkFn returns, so walkFn may install
// missing tables on the way down.
func walk(root mm.Frame, virtAddr uintptr, walkFn pageTableWalker) {
	tableAddr := root.Address()
	for level := uint8(0); level < pageLevels; level++ {
		entryIndex := (virtAddr >> pageLevelShifts[level]) & (entriesPerTable - 1)
		entryAddr := tableAddr + (entryIndex << mm.PointerShift)

		pte := (*pageTableEntry)(ptePtrFn(entryAddr))
		if !walkFn(level, pte) {
			return
		}

		tableAddr = pte.Frame().Address()
	}
}

// canonical returns true if virtAddr is a valid Sv39 address: bits 63-39
// must all be copies of bit 38.
func canonical(virtAddr uintptr) bool {
	top := int64(virtAddr) >> 38
	return top == 0 || top == -1
}
