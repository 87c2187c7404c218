package kmain

import (
	"rvkernel/kernel"
	"rvkernel/kernel/config"
	"rvkernel/kernel/kfmt"
	"rvkernel/kernel/mm/pmm"
)

const heapTestLen = 10000

var (
	errHeapSelfTest  = &kernel.Error{Module: "kmain", Message: "heap self test failed"}
	errFrameSelfTest = &kernel.Error{Module: "kmain", Message: "frame allocator self test failed"}

	allocFrameFn = pmm.AllocFrame

	// heapTestSink keeps the self test allocations reachable so that they
	// are served by the heap.
	heapTestSink *uint64
)

// runSelfTests checks that the Go allocator is served by the heap arena and
// that freed frames are handed out again.
func runSelfTests() *kernel.Error {
	if !config.BootSelfTest {
		return nil
	}

	if err := heapSelfTest(); err != nil {
		return err
	}
	return frameSelfTest()
}

func heapSelfTest() *kernel.Error {
	heapTestSink = new(uint64)
	*heapTestSink = 5
	if *heapTestSink != 5 {
		return errHeapSelfTest
	}
	heapTestSink = nil

	var vec []uint64
	for i := 0; i < heapTestLen; i++ {
		vec = append(vec, uint64(i))
	}
	if len(vec) != heapTestLen {
		return errHeapSelfTest
	}
	for i, v := range vec {
		if v != uint64(i) {
			return errHeapSelfTest
		}
	}

	kfmt.Fprintf(logWriter, "heap self test passed\n")
	return nil
}

// frameSelfTest allocates two frames, releases them and allocates two more.
// The second pair must reuse the first one in reverse order.
func frameSelfTest() *kernel.Error {
	var prev [2]uintptr

	for round := 0; round < 2; round++ {
		first, err := allocFrameFn()
		if err != nil {
			return err
		}
		second, err := allocFrameFn()
		if err != nil {
			first.Release()
			return err
		}

		addr := [2]uintptr{first.Address(), second.Address()}
		first.Release()
		second.Release()

		kfmt.Fprintf(logWriter, "frame address range: 0x%x - 0x%x\n", addr[0], addr[1])
		if addr[0] == addr[1] || (round != 0 && (addr[0] != prev[1] || addr[1] != prev[0])) {
			return errFrameSelfTest
		}
		prev = addr
	}

	kfmt.Fprintf(logWriter, "frame allocator self test passed\n")
	return nil
}
