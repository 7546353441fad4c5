// Package session turns a stream of sensor frames and analyzer results into
// one measurement: it gates and encodes frames, tracks elapsed time and the
// local countdown, and latches completion.
package session

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/thruflo/ppgcam/internal/capture"
	"github.com/thruflo/ppgcam/internal/frame"
	"github.com/thruflo/ppgcam/internal/logging"
	"github.com/thruflo/ppgcam/internal/metrics"
	"github.com/thruflo/ppgcam/internal/stream"
)

// DefaultWindow is the length of one measurement.
const DefaultWindow = 40 * time.Second

const inboxSize = 64

// Sender delivers outbound messages to the analyzer. Implementations must not
// block.
type Sender interface {
	Send(msg stream.OutboundMessage) error
}

// Ticker is the countdown's time source.
type Ticker interface {
	C() <-chan time.Time
	Stop()
}

type realTicker struct {
	t *time.Ticker
}

func (r realTicker) C() <-chan time.Time { return r.t.C }
func (r realTicker) Stop()               { r.t.Stop() }

func newRealTicker(d time.Duration) Ticker {
	return realTicker{t: time.NewTicker(d)}
}

// Controller owns a session's State. Every mutation runs on a single actor
// goroutine, so frame analysis, analyzer results, connection changes and
// countdown ticks are applied in the order they arrive and never race.
type Controller struct {
	window    time.Duration
	throttle  capture.Throttle
	encoder   *frame.Encoder
	sender    Sender
	ring      *frame.Ring
	now       func() time.Time
	newTicker func(time.Duration) Ticker
	logger    *logging.Logger
	onError   func(error)

	inbox    chan func()
	quit     chan struct{}
	stopped  chan struct{}
	stopOnce sync.Once

	// Read by the capture goroutine, written by the actor.
	completed atomic.Bool
	connected atomic.Bool

	snapshot atomic.Pointer[State]
	updates  chan State

	// Owned by the actor.
	state         State
	done          chan struct{}
	countdownStop chan struct{}
	countdownGen  uint64
}

// Option configures a Controller.
type Option func(*Controller)

// WithWindow sets the measurement length. The countdown starts at its whole
// number of seconds.
func WithWindow(d time.Duration) Option {
	return func(c *Controller) {
		if d > 0 {
			c.window = d
		}
	}
}

// WithThrottle analyzes one frame in every n.
func WithThrottle(n int) Option {
	return func(c *Controller) {
		c.throttle = capture.NewThrottle(n)
	}
}

// WithSampleCapacity sets how many channel samples are kept for charting.
func WithSampleCapacity(n int) Option {
	return func(c *Controller) {
		c.ring = frame.NewRing(n)
	}
}

// WithEncoder sets the JPEG encoder for outbound frames.
func WithEncoder(e *frame.Encoder) Option {
	return func(c *Controller) {
		c.encoder = e
	}
}

// WithSender sets where frame and reset messages go.
func WithSender(s Sender) Option {
	return func(c *Controller) {
		c.sender = s
	}
}

// WithClock overrides the wall clock used for outbound timestamps.
func WithClock(now func() time.Time) Option {
	return func(c *Controller) {
		c.now = now
	}
}

// WithTicker overrides the countdown's ticker constructor.
func WithTicker(fn func(time.Duration) Ticker) Option {
	return func(c *Controller) {
		c.newTicker = fn
	}
}

// WithLogger sets the controller's logger.
func WithLogger(logger *logging.Logger) Option {
	return func(c *Controller) {
		c.logger = logger
	}
}

// WithErrorHandler receives transport, protocol and frame errors. It is
// called on the actor goroutine and must not call back into the Controller
// synchronously.
func WithErrorHandler(fn func(error)) Option {
	return func(c *Controller) {
		c.onError = fn
	}
}

// NewController creates a Controller and starts its actor. Stop must be
// called to release it.
func NewController(opts ...Option) *Controller {
	c := &Controller{
		window:    DefaultWindow,
		throttle:  capture.NewThrottle(capture.DefaultEvery),
		encoder:   frame.NewEncoder(frame.DefaultQuality),
		ring:      frame.NewRing(frame.DefaultRingCapacity),
		now:       time.Now,
		newTicker: newRealTicker,
		logger:    logging.Component("session"),
		inbox:     make(chan func(), inboxSize),
		quit:      make(chan struct{}),
		stopped:   make(chan struct{}),
		updates:   make(chan State, 1),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.state = c.freshState()
	c.done = make(chan struct{})
	c.publish()

	go c.run()
	return c
}

func (c *Controller) freshState() State {
	return State{
		SessionID:          uuid.NewString(),
		Phase:              PhaseIdle,
		CountdownRemaining: c.countdownSeconds(),
	}
}

func (c *Controller) countdownSeconds() int {
	return int(c.window / time.Second)
}

func (c *Controller) run() {
	defer close(c.stopped)
	for {
		select {
		case <-c.quit:
			return
		case fn := <-c.inbox:
			fn()
			c.publish()
		}
	}
}

// enqueue hands fn to the actor. It returns false once the Controller is
// stopped.
func (c *Controller) enqueue(fn func()) bool {
	select {
	case <-c.quit:
		return false
	default:
	}
	select {
	case c.inbox <- fn:
		return true
	case <-c.quit:
		return false
	}
}

// call runs fn on the actor and waits until its effect is published.
func (c *Controller) call(fn func()) bool {
	ran := make(chan struct{})
	if !c.enqueue(func() {
		defer close(ran)
		fn()
		c.publish()
	}) {
		return false
	}
	select {
	case <-ran:
		return true
	case <-c.stopped:
		return false
	}
}

func (c *Controller) publish() {
	s := c.state
	c.snapshot.Store(&s)

	// Latest-only: replace an unread update.
	select {
	case <-c.updates:
	default:
	}
	select {
	case c.updates <- s:
	default:
	}
}

// Snapshot returns a copy of the current State.
func (c *Controller) Snapshot() State {
	return *c.snapshot.Load()
}

// Updates delivers State after every change. Only the most recent unread
// value is kept.
func (c *Controller) Updates() <-chan State {
	return c.updates
}

// Samples returns the retained channel samples, oldest first.
func (c *Controller) Samples() []frame.ChannelSample {
	return c.ring.Snapshot()
}

// Completed returns a channel closed when the current session completes.
// Reset starts a new session with a new channel.
func (c *Controller) Completed() <-chan struct{} {
	var done chan struct{}
	if !c.call(func() { done = c.done }) {
		closed := make(chan struct{})
		close(closed)
		return closed
	}
	return done
}

// Admit is the capture gate: it rejects frames the throttle skips and every
// frame once the session has completed.
func (c *Controller) Admit(f *frame.SensorFrame) bool {
	if c.completed.Load() {
		metrics.RecordFrameDropped(metrics.DropCompleted)
		return false
	}
	if !c.throttle.ShouldProcess(f.Seq) {
		metrics.RecordFrameDropped(metrics.DropThrottled)
		return false
	}
	return true
}

type analyzedFrame struct {
	seq     uint64
	sample  frame.ChannelSample
	at      time.Time
	payload []byte
}

// ProcessFrame analyzes one frame: it decodes the channel averages and,
// while connected, encodes the JPEG payload. State changes and the send
// happen on the actor. The caller keeps ownership of f.
func (c *Controller) ProcessFrame(f *frame.SensorFrame) {
	if !c.Admit(f) {
		return
	}
	if err := f.Validate(); err != nil {
		metrics.RecordFrameError(metrics.StageDecode)
		c.ReportError(fmt.Errorf("frame %d: %w", f.Seq, err))
		return
	}

	at := f.CapturedAt
	if at.IsZero() {
		at = c.now()
	}
	rgb := frame.Averages(f)
	af := analyzedFrame{
		seq: f.Seq,
		at:  at,
		sample: frame.ChannelSample{
			TimestampMillis: at.UnixMilli(),
			Red:             rgb.Red,
			Green:           rgb.Green,
			Blue:            rgb.Blue,
		},
	}

	if c.connected.Load() {
		payload, err := c.encoder.Encode(f)
		if err != nil {
			metrics.RecordFrameError(metrics.StageEncode)
			c.ReportError(fmt.Errorf("frame %d: %w", f.Seq, err))
		} else {
			af.payload = payload
		}
	}

	c.enqueue(func() { c.applyFrame(af) })
}

func (c *Controller) applyFrame(af analyzedFrame) {
	s := &c.state
	if s.Completed {
		metrics.RecordFrameDropped(metrics.DropCompleted)
		return
	}

	if s.StartedAt.IsZero() {
		s.StartedAt = af.at
	}
	s.ElapsedSeconds = af.at.Sub(s.StartedAt).Seconds()
	s.FramesAnalyzed++
	sample := af.sample
	s.LatestSample = &sample
	c.ring.Push(sample)

	if af.at.Sub(s.StartedAt) >= c.window {
		c.complete(TriggerElapsed)
		return
	}

	if s.Connection != stream.Connected || af.payload == nil {
		metrics.RecordFrameDropped(metrics.DropDisconnected)
		return
	}

	count := s.FramesSent + 1
	if err := c.sender.Send(stream.NewFrameMessage(af.payload, c.now(), count)); err != nil {
		c.logger.Debug("frame not sent", "seq", af.seq, "error", err)
		return
	}
	s.FramesSent = count
	metrics.RecordFrameSent()
}

// complete latches the session. Later triggers are ignored.
func (c *Controller) complete(trigger Trigger) {
	s := &c.state
	if s.Completed {
		return
	}
	s.Completed = true
	s.CompletedBy = trigger
	s.Phase = PhaseCompleted
	c.completed.Store(true)
	c.stopCountdown()
	close(c.done)

	metrics.RecordSessionCompleted(string(trigger))
	c.logger.Info("session completed",
		"session", s.SessionID,
		"trigger", string(trigger),
		"elapsed", s.ElapsedSeconds,
		"frames_sent", s.FramesSent,
	)
}

// OnResult applies an analyzer result. Vitals are overwritten on every
// arrival; the first BP reading is kept and completes the session.
func (c *Controller) OnResult(r *stream.PPGResult) {
	if r == nil {
		return
	}
	c.enqueue(func() { c.applyResult(r) })
}

func (c *Controller) applyResult(r *stream.PPGResult) {
	s := &c.state
	s.ServerStatus = r.Status
	s.ServerFrameCount = r.FrameCount
	s.ServerElapsed = r.ElapsedTime
	if r.RGB != nil {
		rgb := *r.RGB
		s.ServerRGB = &rgb
	}
	if r.GreenSignalValue != nil {
		g := *r.GreenSignalValue
		s.ServerGreen = &g
	}
	if r.HeartRate != nil {
		hr := *r.HeartRate
		s.LatestHeartRate = &hr
	}
	if r.Respiration != nil {
		resp := *r.Respiration
		s.Respiration = &resp
	}
	if r.SpO2 != nil {
		spo2 := *r.SpO2
		s.SpO2 = &spo2
	}

	bp := newBPResult(r.BP, c.now())
	if bp == nil {
		return
	}
	if s.BP != nil {
		c.logger.Debug("ignoring repeated bp result", "session", s.SessionID)
		return
	}
	s.BP = bp
	c.logger.Info("bp result received",
		"session", s.SessionID,
		"systolic", bp.Systolic,
		"diastolic", bp.Diastolic,
		"category", bp.Category,
	)
	c.complete(TriggerBP)
}

// OnError forwards err to the error handler without touching State.
func (c *Controller) OnError(err error) {
	c.ReportError(err)
}

// ReportError forwards err to the error handler on the actor goroutine.
func (c *Controller) ReportError(err error) {
	if err == nil {
		return
	}
	c.enqueue(func() {
		c.logger.Debug("session error", "error", err)
		if c.onError != nil {
			c.onError(err)
		}
	})
}

// OnConnectionChanged records the link state. The countdown is armed the
// first time the connection comes up.
func (c *Controller) OnConnectionChanged(connected bool) {
	c.enqueue(func() { c.applyConnection(connected) })
}

func (c *Controller) applyConnection(connected bool) {
	s := &c.state
	c.connected.Store(connected)
	if connected {
		s.Connection = stream.Connected
		if !s.Completed {
			s.Phase = PhaseStreaming
			if c.countdownStop == nil {
				c.startCountdown()
			}
		}
		return
	}
	s.Connection = stream.Disconnected
	if !s.Completed {
		s.Phase = PhaseIdle
	}
}

// MarkConnecting records that a connection attempt has started.
func (c *Controller) MarkConnecting() {
	c.enqueue(func() {
		s := &c.state
		s.Connection = stream.Connecting
		if !s.Completed {
			s.Phase = PhaseConnecting
		}
	})
}

// Reset discards the current measurement and starts a fresh one with a new
// session ID. Exactly one reset message is sent to the analyzer. The
// countdown restarts if the connection is up.
func (c *Controller) Reset() {
	c.call(func() {
		c.stopCountdown()
		c.ring.Reset()

		conn := c.state.Connection
		c.state = c.freshState()
		c.state.Connection = conn
		c.completed.Store(false)
		c.done = make(chan struct{})

		if c.sender != nil {
			if err := c.sender.Send(stream.NewResetMessage(c.now())); err != nil {
				c.logger.Debug("reset not sent", "error", err)
			}
		}

		switch conn {
		case stream.Connected:
			c.state.Phase = PhaseStreaming
			c.startCountdown()
		case stream.Connecting:
			c.state.Phase = PhaseConnecting
		}
		c.logger.Info("session reset", "session", c.state.SessionID)
	})
}

func (c *Controller) startCountdown() {
	c.countdownGen++
	gen := c.countdownGen
	stop := make(chan struct{})
	c.countdownStop = stop
	c.state.CountdownRemaining = c.countdownSeconds()

	t := c.newTicker(time.Second)
	go func() {
		defer t.Stop()
		for {
			select {
			case <-stop:
				return
			case <-c.quit:
				return
			case <-t.C():
				if !c.enqueue(func() { c.tick(gen) }) {
					return
				}
			}
		}
	}()
}

func (c *Controller) stopCountdown() {
	if c.countdownStop != nil {
		close(c.countdownStop)
		c.countdownStop = nil
	}
}

// tick advances the countdown by one second. Ticks from a cancelled
// countdown are ignored.
func (c *Controller) tick(gen uint64) {
	if gen != c.countdownGen || c.countdownStop == nil {
		return
	}
	s := &c.state
	if s.Completed {
		return
	}
	if s.CountdownRemaining > 0 {
		s.CountdownRemaining--
	}
	if s.CountdownRemaining == 0 {
		c.complete(TriggerCountdown)
	}
}

// Stop cancels the countdown and stops the actor. Calls made afterwards are
// ignored. It is safe to call more than once.
func (c *Controller) Stop() error {
	c.stopOnce.Do(func() {
		c.call(c.stopCountdown)
		close(c.quit)
		<-c.stopped
	})
	return nil
}
