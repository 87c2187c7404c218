package goruntime

import (
	"bytes"
	"reflect"
	"rvkernel/kernel"
	"rvkernel/kernel/config"
	"rvkernel/kernel/cpu"
	"rvkernel/kernel/kfmt"
	"rvkernel/kernel/mm"
	"rvkernel/kernel/mm/heap"
	"rvkernel/kernel/mm/vmm"
	"strings"
	"testing"
	"unsafe"
)

func restoreHooks() {
	heapInitFn = heap.Init
	heapAllocFn = heap.Alloc
	heapFreeFn = heap.Free
	memsetFn = kernel.Memset
	panicFn = kfmt.Panic
	switchSATPFn = cpu.SwitchSATP
	shareWindowFn = vmm.ShareWindow
	runtimeInitFn = runtimeInit
	window = vmm.Window{}
	nextReservation = 0
	zeroFrame = 0
	sysBytes = 0
}

// useTestArena installs an arena over a dirty, page-aligned Go buffer as the
// memory source for the hooks.
func useTestArena(t *testing.T, pages uintptr) *heap.Arena {
	region := make([]byte, (pages+1)*mm.PageSize)
	for i := range region {
		region[i] = 0xaa
	}
	t.Cleanup(func() { _ = region[0] })

	arena := new(heap.Arena)
	if err := arena.Init(mm.PageAlignUp(uintptr(unsafe.Pointer(&region[0]))), pages*mm.PageSize); err != nil {
		t.Fatal(err)
	}

	heapAllocFn = arena.Alloc
	heapFreeFn = arena.Free
	return arena
}

// setupWindow prepares the runtime window the way Init does without
// touching the translation state.
func setupWindow(t *testing.T) {
	if err := window.Init(config.RuntimeAreaBase, config.RuntimeAreaBase+config.RuntimeAreaSize, allocTable, resolveFault); err != nil {
		t.Fatal(err)
	}
	nextReservation = window.Start()

	var err *kernel.Error
	if zeroFrame, err = allocTable(); err != nil {
		t.Fatal(err)
	}
}

func exhaustArena(arena *heap.Arena) {
	for {
		if _, err := arena.Alloc(mm.PageSize, mm.PageSize); err != nil {
			return
		}
	}
}

func failOnPanic(t *testing.T) {
	panicFn = func(e interface{}) {
		t.Fatalf("unexpected panic: %v", e)
	}
}

func pageBytes(frame mm.Frame) []byte {
	return unsafe.Slice((*byte)(unsafe.Pointer(frame.Address())), mm.PageSize)
}

func TestSysReserveOSRuntimeSizes(t *testing.T) {
	defer restoreHooks()

	arena := useTestArena(t, 64)
	setupWindow(t)
	failOnPanic(t)

	allocatedBefore, _ := arena.Stats()

	// scavenger index, last summary level, heap arena and an over-sized
	// aligned heap arena reservation
	specs := []uintptr{512 << 20, 512 << 20, 64 << 20, 128 << 20}

	var prevEnd uintptr
	for specIndex, size := range specs {
		v := uintptr(sysReserveOS(nil, size))
		if v == 0 {
			t.Fatalf("[spec %d] expected a reservation of %d bytes to succeed", specIndex, size)
		}

		if !window.Contains(v) || !window.Contains(v+size-1) {
			t.Errorf("[spec %d] expected reservation [0x%x, 0x%x) to fall inside the runtime window", specIndex, v, v+size)
		}

		if v&(reservationAlign-1) != 0 {
			t.Errorf("[spec %d] expected reservation 0x%x to be aligned to %d", specIndex, v, reservationAlign)
		}

		if v < prevEnd {
			t.Errorf("[spec %d] reservation 0x%x overlaps the previous one ending at 0x%x", specIndex, v, prevEnd)
		}
		prevEnd = v + size

		if _, _, err := window.Lookup(v); err == nil {
			t.Errorf("[spec %d] expected reserved memory to stay unmapped", specIndex)
		}
	}

	if allocatedAfter, _ := arena.Stats(); allocatedAfter != allocatedBefore {
		t.Fatalf("expected reservations to leave the arena untouched; allocated bytes went from %d to %d", allocatedBefore, allocatedAfter)
	}

	if sysBytes != 0 {
		t.Fatalf("expected sysBytes to be 0; got %d", sysBytes)
	}
}

func TestSysReserveOSAlignment(t *testing.T) {
	defer restoreHooks()

	useTestArena(t, 32)
	setupWindow(t)
	failOnPanic(t)

	specs := []struct {
		reqSize  uintptr
		expStart uintptr
		expNext  uintptr
	}{
		// small reservations are only page aligned
		{1, config.RuntimeAreaBase, config.RuntimeAreaBase + mm.PageSize},
		{2*mm.PageSize - 1, config.RuntimeAreaBase + mm.PageSize, config.RuntimeAreaBase + 3*mm.PageSize},
		// large reservations skip to the next aligned address
		{reservationAlign, config.RuntimeAreaBase + reservationAlign, config.RuntimeAreaBase + 2*reservationAlign},
	}

	for specIndex, spec := range specs {
		if got := uintptr(sysReserveOS(unsafe.Pointer(uintptr(0xc000000000)), spec.reqSize)); got != spec.expStart {
			t.Errorf("[spec %d] expected reservation at 0x%x; got 0x%x", specIndex, spec.expStart, got)
		}

		if nextReservation != spec.expNext {
			t.Errorf("[spec %d] expected next reservation at 0x%x; got 0x%x", specIndex, spec.expNext, nextReservation)
		}
	}

	t.Run("zero size", func(t *testing.T) {
		if got := sysReserveOS(nil, 0); got != nil {
			t.Fatalf("expected nil; got 0x%x", uintptr(got))
		}
	})

	t.Run("window exhausted", func(t *testing.T) {
		nextReservation = window.End() - mm.PageSize
		if got := sysReserveOS(nil, 2*mm.PageSize); got != nil {
			t.Fatalf("expected nil; got 0x%x", uintptr(got))
		}

		if got := sysAllocOS(2 * mm.PageSize); got != nil {
			t.Fatalf("expected nil; got 0x%x", uintptr(got))
		}

		if nextReservation != window.End()-mm.PageSize {
			t.Fatalf("expected a failed reservation to leave the window unchanged")
		}
	})
}

func TestSysAllocOS(t *testing.T) {
	defer restoreHooks()

	arena := useTestArena(t, 32)
	setupWindow(t)
	failOnPanic(t)

	v := uintptr(sysAllocOS(2*mm.PageSize + 1))
	if v != config.RuntimeAreaBase {
		t.Fatalf("expected allocation at 0x%x; got 0x%x", config.RuntimeAreaBase, v)
	}

	for page := uintptr(0); page < 3; page++ {
		frame, flags, err := window.Lookup(v + page*mm.PageSize)
		if err != nil {
			t.Fatalf("[page %d] expected page to be mapped; got %v", page, err)
		}

		if frame != zeroFrame {
			t.Errorf("[page %d] expected page to point to the zero frame", page)
		}

		if flags&(vmm.FlagRead|vmm.FlagCopyOnWrite) != vmm.FlagRead|vmm.FlagCopyOnWrite || flags&vmm.FlagWrite != 0 {
			t.Errorf("[page %d] expected a read-only copy-on-write mapping; got flags 0x%x", page, flags)
		}
	}

	for i, b := range pageBytes(zeroFrame) {
		if b != 0 {
			t.Fatalf("expected the zero frame to be cleared; byte %d is 0x%x", i, b)
		}
	}

	if sysBytes != 0 {
		t.Fatalf("expected committed pages to share the zero frame; sysBytes is %d", sysBytes)
	}

	t.Run("zero size", func(t *testing.T) {
		allocated, _ := arena.Stats()
		if got := sysAllocOS(0); got != nil {
			t.Fatalf("expected nil; got 0x%x", uintptr(got))
		}

		if after, _ := arena.Stats(); after != allocated {
			t.Fatal("unexpected arena allocation")
		}
	})
}

func TestSysMapOS(t *testing.T) {
	defer restoreHooks()

	useTestArena(t, 32)
	setupWindow(t)
	failOnPanic(t)

	v := uintptr(sysReserveOS(nil, 4*mm.PageSize))

	// committing twice keeps the existing mapping
	sysMapOS(unsafe.Pointer(v+mm.PageSize), mm.PageSize)
	sysMapOS(unsafe.Pointer(v+mm.PageSize), mm.PageSize)
	sysMapOS(nil, mm.PageSize)

	for page, expMapped := range []bool{false, true, false, false} {
		_, _, err := window.Lookup(v + uintptr(page)*mm.PageSize)
		if mapped := err == nil; mapped != expMapped {
			t.Errorf("[page %d] expected mapped to be %t; got %t", page, expMapped, mapped)
		}
	}
}

func TestResolveFault(t *testing.T) {
	defer restoreHooks()

	arena := useTestArena(t, 32)
	setupWindow(t)
	failOnPanic(t)

	v := uintptr(sysAllocOS(mm.PageSize))
	allocated, _ := arena.Stats()

	if !resolveFault(v + 8) {
		t.Fatal("expected the write fault to be resolved")
	}

	frame, flags, err := window.Lookup(v)
	if err != nil {
		t.Fatal(err)
	}

	if frame == zeroFrame {
		t.Fatal("expected the page to receive a private frame")
	}

	if flags&vmm.FlagRW != vmm.FlagRW || flags&vmm.FlagCopyOnWrite != 0 {
		t.Fatalf("expected a private read-write mapping; got flags 0x%x", flags)
	}

	for i, b := range pageBytes(frame) {
		if b != 0 {
			t.Fatalf("expected the private frame to be cleared; byte %d is 0x%x", i, b)
		}
	}

	if after, _ := arena.Stats(); after != allocated+mm.PageSize || sysBytes != mm.PageSize {
		t.Fatalf("expected one arena page to back the write; arena grew by %d, sysBytes is %d", after-allocated, sysBytes)
	}

	specs := []struct {
		descr string
		addr  uintptr
	}{
		{"private page", v},
		{"reserved but not committed", uintptr(sysReserveOS(nil, mm.PageSize))},
		{"outside the window", 0x9000},
	}

	for _, spec := range specs {
		if resolveFault(spec.addr) {
			t.Errorf("[%s] expected the fault to remain unresolved", spec.descr)
		}
	}
}

func TestSysFreeOS(t *testing.T) {
	defer restoreHooks()

	arena := useTestArena(t, 32)
	setupWindow(t)
	failOnPanic(t)

	v := uintptr(sysAllocOS(3 * mm.PageSize))
	allocated, _ := arena.Stats()

	resolveFault(v)
	resolveFault(v + 2*mm.PageSize)

	sysFreeOS(unsafe.Pointer(v), 3*mm.PageSize)

	if after, _ := arena.Stats(); after != allocated {
		t.Fatalf("expected private pages to return to the arena; %d bytes still allocated", after-allocated)
	}

	if sysBytes != 0 {
		t.Fatalf("expected sysBytes to be 0; got %d", sysBytes)
	}

	if _, _, err := window.Lookup(v); err == nil {
		t.Fatal("expected the region to be unmapped")
	}

	if got := uintptr(sysReserveOS(nil, mm.PageSize)); got != v {
		t.Fatalf("expected the released address space to be reused; got 0x%x instead of 0x%x", got, v)
	}

	t.Run("not the latest reservation", func(t *testing.T) {
		first := uintptr(sysReserveOS(nil, mm.PageSize))
		second := uintptr(sysReserveOS(nil, mm.PageSize))

		sysFreeOS(unsafe.Pointer(first), mm.PageSize)
		if nextReservation != second+mm.PageSize {
			t.Fatalf("expected next reservation to stay at 0x%x; got 0x%x", second+mm.PageSize, nextReservation)
		}

		sysFreeOS(unsafe.Pointer(second), mm.PageSize)
		if nextReservation != second {
			t.Fatalf("expected next reservation to roll back to 0x%x; got 0x%x", second, nextReservation)
		}
	})

	t.Run("outside the window", func(t *testing.T) {
		heapFreeFn = func(_, _, _ uintptr) {
			t.Fatal("unexpected arena release")
		}

		sysFreeOS(unsafe.Pointer(uintptr(0x9000)), mm.PageSize)
		sysFreeOS(nil, mm.PageSize)
	})
}

func TestArenaExhaustion(t *testing.T) {
	defer restoreHooks()

	var (
		buf        bytes.Buffer
		panicCalls int
	)
	kfmt.SetOutputSink(&buf)
	defer kfmt.SetOutputSink(nil)

	panicFn = func(e interface{}) {
		panicCalls++
		if e != errHeapExhausted {
			t.Errorf("expected errHeapExhausted; got %v", e)
		}
	}

	t.Run("commit", func(t *testing.T) {
		buf.Reset()
		panicCalls = 0

		arena := useTestArena(t, 32)
		setupWindow(t)
		exhaustArena(arena)

		// the first page of the window still needs its last level table
		sysMapOS(sysReserveOS(nil, 3*mm.PageSize+1), 3*mm.PageSize+1)

		if panicCalls != 1 {
			t.Fatalf("expected panic to be called once; got %d", panicCalls)
		}

		if exp := "[goruntime] cannot satisfy a request for 12289 bytes\n"; !strings.Contains(buf.String(), exp) {
			t.Fatalf("expected diagnostic %q; got %q", exp, buf.String())
		}
	})

	t.Run("write fault", func(t *testing.T) {
		buf.Reset()
		panicCalls = 0

		arena := useTestArena(t, 32)
		setupWindow(t)
		v := uintptr(sysAllocOS(mm.PageSize))
		exhaustArena(arena)

		if resolveFault(v) {
			t.Fatal("expected the fault to remain unresolved")
		}

		if panicCalls != 1 {
			t.Fatalf("expected panic to be called once; got %d", panicCalls)
		}

		if frame, _, _ := window.Lookup(v); frame != zeroFrame {
			t.Fatal("expected the page to keep pointing to the zero frame")
		}
	})
}

func TestNanotime(t *testing.T) {
	first := nanotime()
	if second := nanotime(); second <= first {
		t.Fatalf("expected nanotime to increase; got %d then %d", first, second)
	}
}

func TestGetRandomData(t *testing.T) {
	sample1 := make([]byte, 128)
	sample2 := make([]byte, 128)

	getRandomData(sample1)
	getRandomData(sample2)

	if reflect.DeepEqual(sample1, sample2) {
		t.Fatal("expected getRandomData to return different values for each invocation")
	}
}

func TestInit(t *testing.T) {
	defer restoreHooks()

	var buf bytes.Buffer
	kfmt.SetOutputSink(&buf)
	defer kfmt.SetOutputSink(nil)

	var (
		calls  []string
		satp   uintptr
		shared *vmm.Window
	)
	heapInitFn = func() *kernel.Error { return nil }
	shareWindowFn = func(w *vmm.Window) {
		calls = append(calls, "share")
		shared = w
	}
	switchSATPFn = func(v uintptr) {
		calls = append(calls, "satp")
		satp = v
	}
	runtimeInitFn = func() { calls = append(calls, "runtime") }

	arena := useTestArena(t, 64)
	failOnPanic(t)

	if err := Init(); err != nil {
		t.Fatal(err)
	}

	if exp := []string{"share", "satp", "runtime"}; !reflect.DeepEqual(calls, exp) {
		t.Fatalf("expected call sequence %v; got %v", exp, calls)
	}

	if shared != &window || nextReservation != config.RuntimeAreaBase {
		t.Fatal("expected the runtime window to be shared and empty")
	}

	if satp&cpu.SatpModeSv39 == 0 {
		t.Fatalf("expected satp 0x%x to select Sv39", satp)
	}

	rootFrame := mm.Frame(satp &^ cpu.SatpModeSv39)
	if !arena.Contains(rootFrame.Address()) {
		t.Fatal("expected the boot table to live in the heap arena")
	}

	rootEntries := unsafe.Slice((*uintptr)(unsafe.Pointer(rootFrame.Address())), 512)
	if entry := rootEntries[config.MemoryStart>>30]; entry>>10 != uintptr(mm.FrameFromAddress(config.MemoryStart)) || entry&0xf != 0xf {
		t.Errorf("expected an identity rwx leaf for 0x%x; got entry 0x%x", config.MemoryStart, entry)
	}

	if rootEntries[config.RuntimeAreaBase>>30] == 0 {
		t.Error("expected the runtime window to be linked into the boot table")
	}

	if !strings.Contains(buf.String(), "[goruntime] heap arena ready: ") {
		t.Fatalf("unexpected log output %q", buf.String())
	}

	t.Run("heap init fails", func(t *testing.T) {
		expErr := &kernel.Error{Module: "test", Message: "init failed"}
		heapInitFn = func() *kernel.Error { return expErr }
		if err := Init(); err != expErr {
			t.Fatalf("expected %v; got %v", expErr, err)
		}
	})

	t.Run("no memory for tables", func(t *testing.T) {
		heapInitFn = func() *kernel.Error { return nil }
		exhaustArena(useTestArena(t, 8))

		if err := Init(); err != heap.ErrOutOfMemory {
			t.Fatalf("expected heap.ErrOutOfMemory; got %v", err)
		}
	})
}
