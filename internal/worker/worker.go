// Package worker provides the halt-channel goroutine lifecycle used by
// every long-running component in this daemon: connections, the listener
// and the replica client embed a Worker, and the executor and its per-WAIT
// waiter tasks run on a Worker handed to them, instead of hand-rolling
// their own shutdown signaling.
package worker

import "sync"

// Worker tracks a set of goroutines spawned with Go and gives callers a
// single Halt that blocks until all of them have returned. A goroutine
// observes cancellation by selecting on HaltCh and must call Done itself
// when it returns, the same contract the spawning code already follows at
// every call site in this repo.
type Worker struct {
	sync.WaitGroup

	initOnce sync.Once
	haltOnce sync.Once
	haltCh   chan struct{}
}

func (w *Worker) init() {
	w.initOnce.Do(func() {
		w.haltCh = make(chan struct{})
	})
}

// Go spawns fn in a new goroutine, registering it with the Worker's
// WaitGroup. fn is responsible for calling Done when it returns.
func (w *Worker) Go(fn func()) {
	w.init()
	w.Add(1)
	go fn()
}

// Halt closes HaltCh exactly once and blocks until every goroutine
// spawned with Go has called Done.
func (w *Worker) Halt() {
	w.init()
	w.haltOnce.Do(func() {
		close(w.haltCh)
	})
	w.Wait()
}

// HaltCh returns the channel that closes when Halt is first called.
// Goroutines select on it to learn they should stop.
func (w *Worker) HaltCh() chan struct{} {
	w.init()
	return w.haltCh
}

// IsHalting reports whether Halt has been called, without blocking.
func (w *Worker) IsHalting() bool {
	w.init()
	select {
	case <-w.haltCh:
		return true
	default:
		return false
	}
}
