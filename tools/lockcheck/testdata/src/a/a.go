package a

import (
	"rvkernel/kernel/gate"
	"rvkernel/kernel/sync"
)

type scheduler struct {
	mutex sync.Spinlock
	other sync.Spinlock
}

func releasedBeforeResume(s *scheduler) {
	s.mutex.Acquire()
	s.mutex.Release()
	gate.Resume(gate.HaltOutcome())
}

func heldAcrossResume(s *scheduler) {
	s.mutex.Acquire()
	gate.Resume(gate.HaltOutcome()) // want `gate.Resume called while spinlock s.mutex is held`
	s.mutex.Release()
}

func deferredRelease(s *scheduler) {
	s.mutex.Acquire()
	defer s.mutex.Release()
	gate.Resume(gate.HaltOutcome()) // want `gate.Resume called while spinlock s.mutex is held`
}

func onlyOtherReleased(s *scheduler) {
	s.mutex.Acquire()
	s.other.Acquire()
	s.other.Release()
	gate.Resume(gate.HaltOutcome()) // want `gate.Resume called while spinlock s.mutex is held`
	s.mutex.Release()
}

func literalChecked(s *scheduler) {
	s.mutex.Acquire()
	fn := func() {
		gate.Resume(gate.HaltOutcome())
	}
	s.mutex.Release()
	fn()
}

func insideLiteral(l *sync.Spinlock) func() {
	return func() {
		l.Acquire()
		gate.Resume(gate.HaltOutcome()) // want `gate.Resume called while spinlock l is held`
		l.Release()
	}
}
