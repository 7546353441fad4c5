package capture

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/thruflo/ppgcam/internal/frame"
	"github.com/thruflo/ppgcam/internal/logging"
	"github.com/thruflo/ppgcam/internal/metrics"
)

// ProcessFunc analyzes one frame on the worker goroutine. The worker releases
// the frame after it returns.
type ProcessFunc func(f *frame.SensorFrame)

// WorkerStats is a point-in-time view of worker counters.
type WorkerStats struct {
	Offered   uint64
	Rejected  uint64
	Dropped   uint64
	Processed uint64
	Panics    uint64
}

// Worker runs ProcessFunc on a single goroutine fed by a one-slot mailbox.
// Offer never blocks: a frame still waiting when a newer one arrives is
// released and counted as dropped, so slow processing sheds load instead
// of building a backlog.
type Worker struct {
	process ProcessFunc
	gate    func(*frame.SensorFrame) bool
	logger  *logging.Logger
	onPanic func(error)

	mu      sync.Mutex
	cond    *sync.Cond
	pending *frame.SensorFrame
	closed  bool

	offered   atomic.Uint64
	rejected  atomic.Uint64
	dropped   atomic.Uint64
	processed atomic.Uint64
	panics    atomic.Uint64

	startOnce sync.Once
	stopOnce  sync.Once
	done      chan struct{}
}

// WorkerOption configures a Worker.
type WorkerOption func(*Worker)

// WithGate sets an admission check run in Offer. Frames it rejects are
// released immediately without entering the mailbox.
func WithGate(gate func(*frame.SensorFrame) bool) WorkerOption {
	return func(w *Worker) {
		w.gate = gate
	}
}

// WithWorkerLogger sets the worker's logger.
func WithWorkerLogger(logger *logging.Logger) WorkerOption {
	return func(w *Worker) {
		w.logger = logger
	}
}

// WithPanicHandler receives panics recovered from ProcessFunc as errors.
func WithPanicHandler(fn func(error)) WorkerOption {
	return func(w *Worker) {
		w.onPanic = fn
	}
}

// NewWorker creates a stopped Worker. Call Start to begin processing.
func NewWorker(process ProcessFunc, opts ...WorkerOption) *Worker {
	w := &Worker{
		process: process,
		logger:  logging.Component("capture"),
		done:    make(chan struct{}),
	}
	w.cond = sync.NewCond(&w.mu)
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Start launches the worker goroutine. Subsequent calls are no-ops.
func (w *Worker) Start() {
	w.startOnce.Do(func() {
		go w.run()
	})
}

// Offer hands f to the worker without blocking. It returns false when the
// frame was rejected by the gate or the worker is stopped; f is released in
// both cases.
func (w *Worker) Offer(f *frame.SensorFrame) bool {
	w.offered.Add(1)
	metrics.RecordFrameCaptured()

	if w.gate != nil && !w.gate(f) {
		w.rejected.Add(1)
		f.Release()
		return false
	}

	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		f.Release()
		return false
	}
	displaced := w.pending
	w.pending = f
	w.cond.Signal()
	w.mu.Unlock()

	if displaced != nil {
		w.dropped.Add(1)
		metrics.RecordFrameDropped(metrics.DropBusy)
		w.logger.Debug("frame displaced", "seq", displaced.Seq, "by", f.Seq)
		displaced.Release()
	}
	return true
}

// next blocks until a frame is pending or the worker is stopped.
func (w *Worker) next() *frame.SensorFrame {
	w.mu.Lock()
	defer w.mu.Unlock()

	for w.pending == nil && !w.closed {
		w.cond.Wait()
	}
	if w.closed {
		return nil
	}
	f := w.pending
	w.pending = nil
	return f
}

func (w *Worker) run() {
	defer close(w.done)
	for {
		f := w.next()
		if f == nil {
			return
		}
		w.handle(f)
	}
}

func (w *Worker) handle(f *frame.SensorFrame) {
	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			w.panics.Add(1)
			metrics.RecordFrameError(metrics.StagePanic)
			err := fmt.Errorf("frame %d: panic during processing: %v", f.Seq, r)
			w.logger.Error("recovered from panic", "seq", f.Seq, "panic", fmt.Sprint(r))
			if w.onPanic != nil {
				w.onPanic(err)
			}
		}
		f.Release()
		w.processed.Add(1)
		metrics.RecordFrameDuration(time.Since(start).Seconds())
	}()
	w.process(f)
}

// Stop closes the mailbox, releases any pending frame and waits for the
// in-flight frame to finish. Safe to call more than once, and before Start.
func (w *Worker) Stop() {
	w.stopOnce.Do(func() {
		w.mu.Lock()
		w.closed = true
		pending := w.pending
		w.pending = nil
		w.cond.Broadcast()
		w.mu.Unlock()

		pending.Release()

		// Never started: there is no goroutine to wait for.
		w.startOnce.Do(func() { close(w.done) })
		<-w.done
	})
}

// Stats returns the current counters.
func (w *Worker) Stats() WorkerStats {
	return WorkerStats{
		Offered:   w.offered.Load(),
		Rejected:  w.rejected.Load(),
		Dropped:   w.dropped.Load(),
		Processed: w.processed.Load(),
		Panics:    w.panics.Load(),
	}
}
