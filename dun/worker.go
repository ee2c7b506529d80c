package dun

import "sync"

// worker is the handle of one relay goroutine: shutdown asks it to leave,
// join waits until it has.
type worker struct {
	name     string
	stop     chan struct{}
	stopOnce sync.Once
	done     chan struct{}
}

func newWorker(name string) *worker {
	return &worker{
		name: name,
		stop: make(chan struct{}),
		done: make(chan struct{}),
	}
}

func (w *worker) shutdown() {
	w.stopOnce.Do(func() { close(w.stop) })
}

func (w *worker) stopped() bool {
	select {
	case <-w.stop:
		return true
	default:
		return false
	}
}

func (w *worker) finish() {
	close(w.done)
}

func (w *worker) join() {
	<-w.done
}
