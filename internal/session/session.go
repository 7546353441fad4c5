package session

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/thruflo/ppgcam/internal/capture"
	"github.com/thruflo/ppgcam/internal/config"
	"github.com/thruflo/ppgcam/internal/frame"
	"github.com/thruflo/ppgcam/internal/logging"
	"github.com/thruflo/ppgcam/internal/stream"
)

// Session wires a Controller to its analyzer connection and capture worker
// and owns all three. Close releases them.
type Session struct {
	ctrl   *Controller
	client *stream.Client
	worker *capture.Worker
	logger *logging.Logger

	closers   []closer
	closeOnce sync.Once
	closeErr  error
}

type closer struct {
	name string
	fn   func() error
}

// New builds a Session from cfg. Extra controller options are applied after
// the ones derived from cfg. Call Start before offering frames.
func New(cfg *config.Config, opts ...Option) *Session {
	logger := logging.Component("session")

	encoder := frame.NewEncoder(cfg.Encoder.Quality)
	encoder.MaxDimension = cfg.Encoder.MaxDimension

	base := []Option{
		WithWindow(cfg.Session.Duration),
		WithThrottle(cfg.Session.ThrottleEvery),
		WithSampleCapacity(cfg.Session.SampleCapacity),
		WithEncoder(encoder),
		WithLogger(logger),
	}
	ctrl := NewController(append(base, opts...)...)

	client := stream.NewClient(cfg.Server.URL,
		stream.WithDialTimeout(cfg.Server.ConnectTimeout),
		stream.WithReadTimeout(cfg.Server.ReadTimeout),
		stream.WithWriteTimeout(cfg.Server.WriteTimeout),
		stream.WithOutboxSize(cfg.Server.OutboxSize),
		stream.WithListener(ctrl),
	)
	ctrl.sender = client

	worker := capture.NewWorker(ctrl.ProcessFrame,
		capture.WithGate(ctrl.Admit),
		capture.WithPanicHandler(ctrl.ReportError),
	)

	s := &Session{
		ctrl:   ctrl,
		client: client,
		worker: worker,
		logger: logger,
	}
	// Countdown first, then the socket, then the executor.
	s.closers = []closer{
		{"countdown", ctrl.Stop},
		{"socket", client.Close},
		{"executor", func() error { worker.Stop(); return nil }},
	}
	return s
}

// Start begins frame processing.
func (s *Session) Start() {
	s.worker.Start()
}

// Connect opens the analyzer connection. Failures are also reported through
// the error handler.
func (s *Session) Connect(ctx context.Context) error {
	s.ctrl.MarkConnecting()
	return s.client.Connect(ctx)
}

// Disconnect closes the analyzer connection. The session can reconnect.
func (s *Session) Disconnect() error {
	return s.client.Disconnect()
}

// Offer hands a captured frame to the session without blocking. The
// session takes ownership of f.
func (s *Session) Offer(f *frame.SensorFrame) bool {
	return s.worker.Offer(f)
}

// Reset starts a new measurement on the same connection.
func (s *Session) Reset() {
	s.ctrl.Reset()
}

// Snapshot returns the current State.
func (s *Session) Snapshot() State {
	return s.ctrl.Snapshot()
}

// Updates delivers State changes, latest only.
func (s *Session) Updates() <-chan State {
	return s.ctrl.Updates()
}

// Samples returns the retained channel samples for charting.
func (s *Session) Samples() []frame.ChannelSample {
	return s.ctrl.Samples()
}

// Done is closed when the current measurement completes.
func (s *Session) Done() <-chan struct{} {
	return s.ctrl.Completed()
}

// ConnectionState reports the analyzer link state.
func (s *Session) ConnectionState() stream.ConnectionState {
	return s.client.State()
}

// WorkerStats reports capture worker counters.
func (s *Session) WorkerStats() capture.WorkerStats {
	return s.worker.Stats()
}

// Close releases every resource the session owns, even if releasing one of
// them fails or panics. It is idempotent.
func (s *Session) Close() error {
	s.closeOnce.Do(func() {
		s.closeErr = closeAll(s.closers)
		if s.closeErr != nil {
			s.logger.Warn("session closed with errors", "error", s.closeErr)
		} else {
			s.logger.Debug("session closed")
		}
	})
	return s.closeErr
}

func closeAll(closers []closer) error {
	var errs []error
	for _, c := range closers {
		if err := release(c); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func release(c closer) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("failed to release %s: panic: %v", c.name, r)
		}
	}()
	if err := c.fn(); err != nil {
		return fmt.Errorf("failed to release %s: %w", c.name, err)
	}
	return nil
}
