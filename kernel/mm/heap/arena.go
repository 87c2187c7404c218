// Package heap implements the kernel heap arena: a statically reserved byte
// region managed by a buddy allocator. The arena is the backing store for the
// Go allocator once goruntime installs it.
package heap

import (
	"rvkernel/kernel"
	"rvkernel/kernel/sync"
	"unsafe"
)

const (
	// minBlockShift is log2 of the smallest block the arena hands out. A
	// free block must be able to hold the free list link.
	minBlockShift = 4

	// MinBlockSize is the smallest block size handed out by an Arena.
	MinBlockSize = uintptr(1 << minBlockShift)

	// numOrders bounds the largest block to 1 << (minBlockShift+numOrders-1)
	// bytes.
	numOrders = 40
)

var (
	// ErrOutOfMemory is returned when no free block can satisfy a request.
	ErrOutOfMemory = &kernel.Error{Module: "heap", Message: "out of memory"}

	errInvalidAlignment = &kernel.Error{Module: "heap", Message: "alignment must be a power of 2"}
	errRegionTooSmall   = &kernel.Error{Module: "heap", Message: "region cannot hold a single block"}
)

// Arena is a buddy allocator over a contiguous memory region. Every block is
// a power of two in size and aligned to its own size so that the buddy of a
// block can be computed as addr ^ size. Free blocks are kept in per-order
// singly linked lists whose links are stored inside the free blocks.
type Arena struct {
	mutex sync.Spinlock

	base uintptr
	size uintptr

	// freeLists[order] holds the address of the first free block of size
	// MinBlockSize << order or 0 if there is none.
	freeLists [numOrders]uintptr

	allocated uintptr
}

// Init hands the region [base, base+size) over to the arena. The region is
// split into the largest naturally aligned blocks that fit.
func (a *Arena) Init(base, size uintptr) *kernel.Error {
	a.mutex.Acquire()
	defer a.mutex.Release()

	start := (base + MinBlockSize - 1) & ^(MinBlockSize - 1)
	end := (base + size) & ^(MinBlockSize - 1)
	if end <= start || base+size < base {
		return errRegionTooSmall
	}

	a.base, a.size, a.allocated = start, end-start, 0
	for i := range a.freeLists {
		a.freeLists[i] = 0
	}

	for addr := start; addr < end; {
		order := numOrders - 1
		for ; order > 0; order-- {
			blockSize := blockSizeFor(order)
			if addr&(blockSize-1) == 0 && addr+blockSize <= end {
				break
			}
		}

		a.push(order, addr)
		addr += blockSizeFor(order)
	}

	return nil
}

// Alloc reserves a block of at least size bytes whose address is a multiple of
// align. An align of 0 requests the minimum block alignment.
func (a *Arena) Alloc(size, align uintptr) (uintptr, *kernel.Error) {
	order, err := orderFor(size, align)
	if err != nil {
		return 0, err
	}

	a.mutex.Acquire()
	defer a.mutex.Release()

	// find the smallest non-empty list that can satisfy the request
	from := order
	for from < numOrders && a.freeLists[from] == 0 {
		from++
	}
	if from == numOrders {
		return 0, ErrOutOfMemory
	}

	addr := a.pop(from)
	for ; from > order; from-- {
		// keep the lower half and free the upper one
		a.push(from-1, addr+blockSizeFor(from-1))
	}

	a.allocated += blockSizeFor(order)
	return addr, nil
}

// Free returns a block obtained by Alloc. The size and align arguments must
// match the ones passed to Alloc.
func (a *Arena) Free(addr, size, align uintptr) {
	order, err := orderFor(size, align)
	if err != nil || addr == 0 {
		return
	}

	a.mutex.Acquire()
	defer a.mutex.Release()

	a.allocated -= blockSizeFor(order)
	for ; order < numOrders-1; order++ {
		buddy := addr ^ blockSizeFor(order)
		if buddy < a.base || buddy+blockSizeFor(order) > a.base+a.size || !a.remove(order, buddy) {
			break
		}

		if buddy < addr {
			addr = buddy
		}
	}

	a.push(order, addr)
}

// Stats returns the number of bytes currently allocated and the total size
// of the managed region.
func (a *Arena) Stats() (allocated, capacity uintptr) {
	a.mutex.Acquire()
	defer a.mutex.Release()
	return a.allocated, a.size
}

// Contains returns true if addr lies inside the managed region.
func (a *Arena) Contains(addr uintptr) bool {
	return addr >= a.base && addr < a.base+a.size
}

func (a *Arena) push(order int, addr uintptr) {
	*link(addr) = a.freeLists[order]
	a.freeLists[order] = addr
}

func (a *Arena) pop(order int) uintptr {
	addr := a.freeLists[order]
	a.freeLists[order] = *link(addr)
	return addr
}

// remove unlinks addr from the free list of the given order and reports
// whether it was found.
func (a *Arena) remove(order int, addr uintptr) bool {
	for prev := &a.freeLists[order]; *prev != 0; prev = link(*prev) {
		if *prev == addr {
			*prev = *link(addr)
			return true
		}
	}
	return false
}

func link(addr uintptr) *uintptr {
	return (*uintptr)(unsafe.Pointer(addr))
}

func blockSizeFor(order int) uintptr {
	return MinBlockSize << uintptr(order)
}

// orderFor returns the order of the smallest block that can hold size bytes
// at the requested alignment.
func orderFor(size, align uintptr) (int, *kernel.Error) {
	if align&(align-1) != 0 {
		return 0, errInvalidAlignment
	}

	if align > size {
		size = align
	}

	order := 0
	for blockSizeFor(order) < size {
		order++
		if order == numOrders {
			return 0, ErrOutOfMemory
		}
	}
	return order, nil
}
