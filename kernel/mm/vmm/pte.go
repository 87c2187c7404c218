package vmm

import (
	"rvkernel/kernel/mm"
)

// PageTableEntryFlag describes a flag that can be applied to an Sv39 page
// table entry.
type PageTableEntryFlag uintptr

const (
	// FlagValid is set when the entry describes a mapping or points to
	// the next level table.
	FlagValid PageTableEntryFlag = 1 << iota

	// FlagRead allows loads from the page.
	FlagRead

	// FlagWrite allows stores to the page. Sv39 reserves W without R.
	FlagWrite

	// FlagExec allows instruction fetches from the page.
	FlagExec

	// FlagUser makes the page accessible from user mode.
	FlagUser

	// FlagGlobal marks a mapping that exists in every address space.
	FlagGlobal

	// FlagAccessed is set when the page has been accessed.
	FlagAccessed

	// FlagDirty is set when the page has been written to.
	FlagDirty

	// FlagCopyOnWrite is the first software (RSW) bit. It marks read-only
	// pages that receive a private copy on the first write.
	FlagCopyOnWrite

	// FlagRW is a shorthand for data pages.
	FlagRW = FlagRead | FlagWrite

	// FlagRX is a shorthand for code pages.
	FlagRX = FlagRead | FlagExec

	// permissionMask selects the bits that turn an entry into a leaf.
	permissionMask = FlagRead | FlagWrite | FlagExec

	// flagMask selects the flag bits (including the two RSW bits) of an
	// entry. The physical page number starts right after them.
	flagMask = uintptr(1<<ptePPNShift) - 1

	ptePPNShift = 10
	ptePPNBits  = 44
)

// pageTableEntry describes an Sv39 page table entry: a 44-bit physical page
// number at bits 10-53 and a set of flags at bits 0-7.
type pageTableEntry uintptr

// HasFlags returns true if this entry has all the input flags set.
func (pte pageTableEntry) HasFlags(flags PageTableEntryFlag) bool {
	return (uintptr(pte) & uintptr(flags)) == uintptr(flags)
}

// HasAnyFlag returns true if this entry has at least one of the input flags set.
func (pte pageTableEntry) HasAnyFlag(flags PageTableEntryFlag) bool {
	return (uintptr(pte) & uintptr(flags)) != 0
}

// SetFlags sets the input list of flags to the page table entry.
func (pte *pageTableEntry) SetFlags(flags PageTableEntryFlag) {
	*pte = (pageTableEntry)(uintptr(*pte) | uintptr(flags))
}

// ClearFlags unsets the input list of flags from the page table entry.
func (pte *pageTableEntry) ClearFlags(flags PageTableEntryFlag) {
	*pte = (pageTableEntry)(uintptr(*pte) &^ uintptr(flags))
}

// IsLeaf returns true if the entry maps a page instead of pointing to the
// next level table.
func (pte pageTableEntry) IsLeaf() bool {
	return pte.HasAnyFlag(permissionMask)
}

// Frame returns the physical page frame that this page table entry points to.
func (pte pageTableEntry) Frame() mm.Frame {
	return mm.Frame((uintptr(pte) >> ptePPNShift) & (1<<ptePPNBits - 1))
}

// SetFrame updates the page table entry to point the the given physical frame.
func (pte *pageTableEntry) SetFrame(frame mm.Frame) {
	*pte = (pageTableEntry)((uintptr(*pte) & flagMask) | uintptr(frame)<<ptePPNShift)
}
