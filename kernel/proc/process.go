// Package proc implements processes, kernel threads and the round-robin
// processor that decides which thread runs next.
package proc

import (
	"rvkernel/kernel"
	"rvkernel/kernel/mm/pmm"
	"rvkernel/kernel/mm/vmm"
	"rvkernel/kernel/sync"
	"sync/atomic"
)

// Kind distinguishes kernel processes from user processes.
type Kind uint8

const (
	// KindKernel processes run in supervisor mode inside an identity
	// mapped address space.
	KindKernel Kind = iota

	// KindUser processes run in user mode inside their own address space.
	KindUser
)

// ProcessID uniquely identifies a process.
type ProcessID uint32

var (
	// the following functions are mocked by tests and are automatically
	// inlined by the compiler.
	frameAllocatorFn = func() vmm.FrameAllocator { return pmm.Allocator() }
	kernelLayoutFn   = vmm.Layout

	nextProcessID uint32
)

// Process owns an address space and tracks the IDs of its threads. It is
// reference counted: the handle returned by the constructors holds one
// reference and every thread holds another. The address space is released
// when the last reference is dropped.
type Process struct {
	ID   ProcessID
	Kind Kind

	space *vmm.AddressSpace
	refs  int32

	mutex     sync.Spinlock
	threadIDs []ThreadID
}

// NewKernelProcess returns a process whose address space identity maps the
// kernel image and free physical memory.
func NewKernelProcess() (*Process, *kernel.Error) {
	space, err := vmm.NewKernelAddressSpace(frameAllocatorFn(), kernelLayoutFn())
	if err != nil {
		return nil, err
	}

	return newProcess(KindKernel, space), nil
}

// NewUserProcess returns a process with an empty address space. Loading a
// program image into it is up to the caller.
func NewUserProcess() (*Process, *kernel.Error) {
	space, err := vmm.NewAddressSpace(frameAllocatorFn())
	if err != nil {
		return nil, err
	}

	return newProcess(KindUser, space), nil
}

func newProcess(kind Kind, space *vmm.AddressSpace) *Process {
	return &Process{
		ID:    ProcessID(atomic.AddUint32(&nextProcessID, 1)),
		Kind:  kind,
		space: space,
		refs:  1,
	}
}

// AddressSpace returns the address space owned by the process.
func (p *Process) AddressSpace() *vmm.AddressSpace {
	return p.space
}

// Threads returns the IDs of the live threads of the process.
func (p *Process) Threads() []ThreadID {
	p.mutex.Acquire()
	defer p.mutex.Release()

	ids := make([]ThreadID, len(p.threadIDs))
	copy(ids, p.threadIDs)
	return ids
}

// attachThread records a new thread and takes a reference on its behalf.
func (p *Process) attachThread(id ThreadID) {
	atomic.AddInt32(&p.refs, 1)

	p.mutex.Acquire()
	p.threadIDs = append(p.threadIDs, id)
	p.mutex.Release()
}

// detachThread forgets a thread and drops its reference.
func (p *Process) detachThread(id ThreadID) {
	p.mutex.Acquire()
	for i, tid := range p.threadIDs {
		if tid == id {
			p.threadIDs = append(p.threadIDs[:i], p.threadIDs[i+1:]...)
			break
		}
	}
	p.mutex.Release()

	p.Release()
}

// Release drops a reference to the process. Releasing the last reference
// releases the address space.
func (p *Process) Release() {
	if atomic.AddInt32(&p.refs, -1) == 0 {
		p.space.Release()
		p.space = nil
	}
}
