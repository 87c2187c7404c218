package sync

type Spinlock struct {
	state uint32
}

func (l *Spinlock) Acquire() {}

func (l *Spinlock) TryToAcquire() bool { return true }

func (l *Spinlock) Release() {}
