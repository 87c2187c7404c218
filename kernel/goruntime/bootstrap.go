// Package goruntime installs the kernel heap arena as the memory source of the
// Go allocator.
//
// The functions in this package replace the runtime's OS memory hooks via
// //go:redirect-from directives which are resolved by tools/redirects when
// the kernel image is linked. Address space reserved by the runtime comes
// from a dedicated virtual window and costs nothing until it is committed.
// Committed pages initially point to a shared zero page and receive a private
// arena page on their first write.
package goruntime

import (
	"rvkernel/kernel"
	"rvkernel/kernel/config"
	"rvkernel/kernel/cpu"
	"rvkernel/kernel/kfmt"
	"rvkernel/kernel/mm"
	"rvkernel/kernel/mm/heap"
	"rvkernel/kernel/mm/vmm"
	"unsafe"
)

// reservationAlign is the alignment of large reservations. It matches the
// size of a runtime heap arena so aligned reservations can be used as is.
const reservationAlign = uintptr(64 << 20)

var (
	// the following functions are mocked by tests and are automatically
	// inlined by the compiler.
	heapInitFn    = heap.Init
	heapAllocFn   = heap.Alloc
	heapFreeFn    = heap.Free
	memsetFn      = kernel.Memset
	panicFn       = kfmt.Panic
	switchSATPFn  = cpu.SwitchSATP
	shareWindowFn = vmm.ShareWindow
	runtimeInitFn = runtimeInit

	logWriter = &kfmt.PrefixWriter{Sink: kfmt.ActiveSink, Prefix: []byte("[goruntime] ")}

	errHeapExhausted = &kernel.Error{Module: "goruntime", Message: "kernel heap arena exhausted"}

	// window holds every region reserved by the runtime.
	window vmm.Window

	// nextReservation is the lowest window address that has not been
	// reserved yet.
	nextReservation uintptr

	// zeroFrame is mapped read-only by every committed page until the page
	// is first written.
	zeroFrame mm.Frame

	// sysBytes tracks the arena bytes backing written runtime pages.
	sysBytes uintptr

	// ticks backs the nanotime replacement.
	ticks uint64

	// A seed for the pseudo-random number generator used by getRandomData
	prngSeed = 0xdeadc0de
)

// allocTable returns a cleared arena page.
//
//go:nosplit
func allocTable() (mm.Frame, *kernel.Error) {
	addr, err := heapAllocFn(mm.PageSize, mm.PageSize)
	if err != nil {
		return mm.InvalidFrame, err
	}

	memsetFn(addr, 0, mm.PageSize)
	return mm.FrameFromAddress(addr), nil
}

// exhausted reports a request that the arena could not satisfy. It does not
// return.
//
//go:nosplit
func exhausted(size uintptr) {
	kfmt.Fprintf(logWriter, "cannot satisfy a request for %d bytes\n", size)
	panicFn(errHeapExhausted)
}

// reserve hands out size bytes of window address space. Requests of at
// least reservationAlign bytes are aligned to it. It returns 0 once the
// window is exhausted.
//
//go:nosplit
func reserve(size uintptr) uintptr {
	size = mm.PageAlignUp(size)

	start := nextReservation
	if size >= reservationAlign {
		start = (start + reservationAlign - 1) &^ (reservationAlign - 1)
	}

	if start+size < start || start+size > window.End() {
		return 0
	}

	nextReservation = start + size
	return start
}

// commit maps every page of [v, v+size) to the shared zero page. Pages that
// are already mapped keep their contents.
//
//go:nosplit
func commit(v, size uintptr) {
	end := mm.PageAlignUp(v + size)
	for page := mm.PageAlignDown(v); page < end; page += mm.PageSize {
		switch err := window.Map(mm.PageFromAddress(page), zeroFrame, vmm.FlagRead|vmm.FlagCopyOnWrite); err {
		case nil, vmm.ErrAlreadyMapped:
		default:
			exhausted(size)
			return
		}
	}
}

// resolveFault gives the page that contains addr a private zeroed arena page
// if it is still backed by the shared zero page.
//
//go:nosplit
func resolveFault(addr uintptr) bool {
	_, flags, err := window.Lookup(addr)
	if err != nil || flags&vmm.FlagCopyOnWrite == 0 {
		return false
	}

	frame, err := allocTable()
	if err != nil {
		exhausted(mm.PageSize)
		return false
	}

	page := mm.PageFromAddress(addr)
	if _, err = window.Unmap(page); err == nil {
		err = window.Map(page, frame, vmm.FlagRW)
	}
	if err != nil {
		heapFreeFn(frame.Address(), mm.PageSize, mm.PageSize)
		return false
	}

	sysBytes += mm.PageSize
	return true
}

// sysAllocOS obtains a zeroed memory region for the Go allocator.
//
//go:redirect-from runtime.sysAllocOS
//go:nosplit
func sysAllocOS(size uintptr) unsafe.Pointer {
	if size == 0 {
		return nil
	}

	v := reserve(size)
	if v == 0 {
		return nil
	}

	commit(v, size)
	return unsafe.Pointer(v)
}

// sysReserveOS reserves address space for the Go allocator without backing
// it. The address hint is ignored; callers that need a specific address
// release the region and try again.
//
//go:redirect-from runtime.sysReserveOS
//go:nosplit
func sysReserveOS(_ unsafe.Pointer, size uintptr) unsafe.Pointer {
	if size == 0 {
		return nil
	}

	return unsafe.Pointer(reserve(size))
}

// sysMapOS commits part of a region returned by sysReserveOS.
//
//go:redirect-from runtime.sysMapOS
//go:nosplit
func sysMapOS(v unsafe.Pointer, size uintptr) {
	if v == nil || size == 0 {
		return
	}

	commit(uintptr(v), size)
}

// sysFreeOS unmaps a region and returns its private pages to the heap arena.
// Address space is only recycled when the region is the most recent
// reservation.
//
//go:redirect-from runtime.sysFreeOS
//go:nosplit
func sysFreeOS(v unsafe.Pointer, size uintptr) {
	start := uintptr(v)
	if v == nil || size == 0 || !window.Contains(start) {
		return
	}

	end := mm.PageAlignUp(start + size)
	for page := mm.PageAlignDown(start); page < end; page += mm.PageSize {
		frame, err := window.Unmap(mm.PageFromAddress(page))
		if err != nil || frame == zeroFrame {
			continue
		}

		heapFreeFn(frame.Address(), mm.PageSize, mm.PageSize)
		sysBytes -= mm.PageSize
	}

	if end == nextReservation {
		nextReservation = mm.PageAlignDown(start)
	}
}

// nanotime returns a monotonically increasing clock value. There is no
// timer support so each call advances a counter by one microsecond.
//
//go:redirect-from runtime.nanotime1
//go:nosplit
func nanotime() int64 {
	ticks += 1000
	return int64(ticks)
}

// getRandomData populates the given slice with random data. There is no
// entropy source available so a prng is used instead.
//
//go:redirect-from runtime.getRandomData
func getRandomData(r []byte) {
	for i := 0; i < len(r); i++ {
		prngSeed = (prngSeed * 58321) + 11113
		r[i] = byte((prngSeed >> 16) & 255)
	}
}

// Init installs the kernel heap arena, sets up the runtime window and enables
// translation with an identity mapped boot table so that the Go allocator
// can be initialized. It must run before anything else in the kernel
// allocates memory.
func Init() *kernel.Error {
	if err := heapInitFn(); err != nil {
		return err
	}

	if err := window.Init(config.RuntimeAreaBase, config.RuntimeAreaBase+config.RuntimeAreaSize, allocTable, resolveFault); err != nil {
		return err
	}
	nextReservation = window.Start()

	var (
		root mm.Frame
		err  *kernel.Error
	)
	if zeroFrame, err = allocTable(); err != nil {
		return err
	}
	if root, err = allocTable(); err != nil {
		return err
	}

	shareWindowFn(&window)
	switchSATPFn(vmm.IdentityBootTable(root, config.MemoryStart, config.MemoryEnd))
	runtimeInitFn()

	_, capacity := heap.KernelArena().Stats()
	kfmt.Fprintf(logWriter, "heap arena ready: %dKb, runtime window 0x%x - 0x%x\n", capacity>>10, window.Start(), window.End())
	return nil
}

func init() {
	// Dummy calls so the compiler does not optimize away the functions in
	// this file.
	zeroPtr := unsafe.Pointer(uintptr(0))

	sysReserveOS(zeroPtr, 0)
	sysMapOS(zeroPtr, 0)
	sysAllocOS(0)
	sysFreeOS(zeroPtr, 0)
	getRandomData(nil)
	ticks = uint64(nanotime()) - 1000
}
