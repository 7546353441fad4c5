package stream

import (
	"fmt"
	"sync"

	"github.com/thruflo/ppgcam/internal/logging"
)

// dispatcher runs queued callbacks on one goroutine in FIFO order. push
// never blocks, so the socket goroutines are never held up by a slow
// listener.
type dispatcher struct {
	mu     sync.Mutex
	queue  []func()
	closed bool
	wake   chan struct{}
	done   chan struct{}
	logger *logging.Logger
}

func newDispatcher(logger *logging.Logger) *dispatcher {
	d := &dispatcher{
		logger: logger,
		wake:   make(chan struct{}, 1),
		done:   make(chan struct{}),
	}
	go d.run()
	return d
}

func (d *dispatcher) push(fn func()) {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return
	}
	d.queue = append(d.queue, fn)
	d.mu.Unlock()

	select {
	case d.wake <- struct{}{}:
	default:
	}
}

// close stops accepting callbacks. Queued ones still run.
func (d *dispatcher) close() {
	d.mu.Lock()
	d.closed = true
	d.mu.Unlock()

	select {
	case d.wake <- struct{}{}:
	default:
	}
}

func (d *dispatcher) run() {
	defer close(d.done)
	for {
		d.mu.Lock()
		batch := d.queue
		d.queue = nil
		closed := d.closed
		d.mu.Unlock()

		for _, fn := range batch {
			d.call(fn)
		}
		if len(batch) > 0 {
			continue
		}
		if closed {
			return
		}
		<-d.wake
	}
}

// call runs fn, containing a listener panic to that one callback.
func (d *dispatcher) call(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			d.logger.Error("listener panicked", "panic", fmt.Sprint(r))
		}
	}()
	fn()
}
