package engine

import (
	"sync"
	"sync/atomic"
	"time"
)

// latch is a one-shot flag that goroutines can poll or block on.
type latch struct {
	once sync.Once
	set  atomic.Bool
	ch   chan struct{}
}

func newLatch() *latch {
	return &latch{ch: make(chan struct{})}
}

func (l *latch) Set() {
	l.once.Do(func() {
		l.set.Store(true)
		close(l.ch)
	})
}

func (l *latch) IsSet() bool           { return l.set.Load() }
func (l *latch) Done() <-chan struct{} { return l.ch }
func (l *latch) Wait()                 { <-l.ch }

// WaitTimeout blocks for at most d and reports whether the latch is set.
func (l *latch) WaitTimeout(d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-l.ch:
		return true
	case <-t.C:
		return l.IsSet()
	}
}
