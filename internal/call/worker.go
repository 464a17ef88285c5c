package call

import "sync"

// worker runs tasks one at a time in submission order, like the browser's
// per-connection operations chain.
type worker struct {
	mu      sync.Mutex
	queue   []func()
	wake    chan struct{}
	stopped bool
	done    chan struct{}
}

func newWorker() *worker {
	w := &worker{wake: make(chan struct{}, 1), done: make(chan struct{})}
	go w.loop()
	return w
}

// Do enqueues fn. It returns false once the worker is stopped.
func (w *worker) Do(fn func()) bool {
	w.mu.Lock()
	if w.stopped {
		w.mu.Unlock()
		return false
	}
	w.queue = append(w.queue, fn)
	w.mu.Unlock()

	select {
	case w.wake <- struct{}{}:
	default:
	}
	return true
}

// Stop drops queued tasks. A task already running finishes.
func (w *worker) Stop() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.stopped {
		return
	}
	w.stopped = true
	w.queue = nil
	close(w.done)
}

func (w *worker) loop() {
	for {
		select {
		case <-w.done:
			return
		case <-w.wake:
		}

		for {
			w.mu.Lock()
			if w.stopped || len(w.queue) == 0 {
				w.mu.Unlock()
				break
			}
			fn := w.queue[0]
			w.queue = w.queue[1:]
			w.mu.Unlock()
			fn()
		}
	}
}
