// Package simulator is a stand-in for the remote PPG analyzer. It speaks the
// same websocket protocol: frames in, result messages out, a canned blood
// pressure reading once enough frames have arrived, and reset_ack on reset.
// It exists for local development and tests; its numbers are not medical.
package simulator

import (
	"bytes"
	"errors"
	"fmt"
	"image/jpeg"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/thruflo/ppgcam/internal/logging"
	"github.com/thruflo/ppgcam/internal/stream"
)

// Defaults for a Handler.
const (
	DefaultBPAfterFrames = 30
	DefaultHistorySize   = 300
	DefaultHistoryReport = 30
	DefaultReadTimeout   = 60 * time.Second
	DefaultWriteTimeout  = 10 * time.Second
	ModelVersion         = "sim-1"
)

// CannedBP is the reading sent once per session.
var CannedBP = stream.BPResult{
	Analysis: &stream.BPAnalysis{
		Systolic:   118,
		Diastolic:  76,
		Category:   "Normal",
		Confidence: 75,
		Quality:    "good",
	},
	Interpretation: &stream.Interpretation{
		Category:       "Normal",
		Description:    "Blood pressure is in the normal range",
		Recommendation: "Maintain a healthy lifestyle",
		RiskLevel:      "Low",
		Details:        []string{"Simulated reading"},
	},
	ModelVersion: ModelVersion,
	Status:       "complete",
}

// Handler serves the analyzer protocol on a websocket. Each connection gets
// its own analysis state.
type Handler struct {
	bpAfter      int
	historySize  int
	readTimeout  time.Duration
	writeTimeout time.Duration
	logger       *logging.Logger
	upgrader     websocket.Upgrader
	now          func() time.Time

	active atomic.Int64
}

// Option configures a Handler.
type Option func(*Handler)

// WithBPAfterFrames sends the BP reading after n frames. Zero or less never
// sends one.
func WithBPAfterFrames(n int) Option {
	return func(h *Handler) {
		h.bpAfter = n
	}
}

// WithHistorySize bounds the green history used for heart rate.
func WithHistorySize(n int) Option {
	return func(h *Handler) {
		if n > 1 {
			h.historySize = n
		}
	}
}

// WithReadTimeout closes connections that stay silent this long.
func WithReadTimeout(d time.Duration) Option {
	return func(h *Handler) {
		h.readTimeout = d
	}
}

// WithLogger sets the handler's logger.
func WithLogger(logger *logging.Logger) Option {
	return func(h *Handler) {
		h.logger = logger
	}
}

// NewHandler creates a Handler.
func NewHandler(opts ...Option) *Handler {
	h := &Handler{
		bpAfter:      DefaultBPAfterFrames,
		historySize:  DefaultHistorySize,
		readTimeout:  DefaultReadTimeout,
		writeTimeout: DefaultWriteTimeout,
		logger:       logging.Component("simulator"),
		now:          time.Now,
	}
	h.upgrader = websocket.Upgrader{
		CheckOrigin: func(*http.Request) bool { return true },
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Active returns the number of open connections.
func (h *Handler) Active() int {
	return int(h.active.Load())
}

// ServeHTTP upgrades the request and runs the connection until it closes.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	id := uuid.NewString()
	logger := h.logger.With("conn", id)
	h.active.Add(1)
	defer h.active.Add(-1)

	logger.Info("analyzer client connected", "remote", r.RemoteAddr)
	a := newAnalysis(h.historySize, h.now())

	for {
		if h.readTimeout > 0 {
			_ = conn.SetReadDeadline(time.Now().Add(h.readTimeout))
		}
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				logger.Warn("connection error", "error", err)
			} else {
				logger.Info("analyzer client disconnected")
			}
			return
		}

		reply := h.handle(a, data)
		if reply == nil {
			continue
		}
		out, err := reply.Marshal()
		if err != nil {
			logger.Error("failed to marshal reply", "error", err)
			return
		}
		_ = conn.SetWriteDeadline(time.Now().Add(h.writeTimeout))
		if err := conn.WriteMessage(websocket.TextMessage, out); err != nil {
			logger.Warn("write failed", "error", err)
			return
		}
	}
}

// handle returns the reply for one inbound message.
func (h *Handler) handle(a *analysis, data []byte) *stream.InboundMessage {
	msg, err := stream.ParseOutbound(data)
	if err != nil {
		return stream.NewErrorMessage(fmt.Sprintf("invalid message: %v", err))
	}

	switch msg.Type {
	case stream.MessageTypeReset:
		a.reset(h.now())
		return stream.NewResetAckMessage()

	case stream.MessageTypeFrame:
		payload, err := msg.FrameBytes()
		if err != nil {
			return stream.NewErrorMessage(fmt.Sprintf("invalid frame: %v", err))
		}
		rgb, err := averageRGB(payload)
		if err != nil {
			return stream.NewErrorMessage(fmt.Sprintf("invalid frame: %v", err))
		}
		result := a.add(rgb, msg.Timestamp, h.now(), h.bpAfter)
		reply, err := stream.NewResultMessage(result)
		if err != nil {
			return stream.NewErrorMessage(err.Error())
		}
		return reply
	}
	return nil
}

// analysis is the per-connection signal state.
type analysis struct {
	start  time.Time
	frames int
	bpSent bool
	size   int
	greens []float64
	stamps []float64
}

func newAnalysis(size int, now time.Time) *analysis {
	return &analysis{start: now, size: size}
}

func (a *analysis) reset(now time.Time) {
	*a = analysis{start: now, size: a.size}
}

func (a *analysis) add(rgb stream.RGBValues, timestamp float64, now time.Time, bpAfter int) *stream.PPGResult {
	a.frames++
	a.greens = append(a.greens, rgb.Green)
	a.stamps = append(a.stamps, timestamp)
	if n := len(a.greens) - a.size; n > 0 {
		a.greens = a.greens[n:]
		a.stamps = a.stamps[n:]
	}

	green := rgb.Green
	result := &stream.PPGResult{
		Status:           "collecting",
		FrameCount:       a.frames,
		ElapsedTime:      now.Sub(a.start).Seconds(),
		RGB:              &rgb,
		GreenSignalValue: &green,
	}
	tail := a.greens
	if len(tail) > DefaultHistoryReport {
		tail = tail[len(tail)-DefaultHistoryReport:]
	}
	result.GreenSignalHistory = append([]float64(nil), tail...)

	if bpm, conf, ok := estimateHeartRate(a.greens, a.stamps); ok {
		result.Status = "processing"
		result.HeartRate = &stream.HeartRate{
			Value:      bpm,
			Confidence: conf,
			Method:     "peak_interval",
			Quality:    signalQuality(conf),
		}
	}

	if bpAfter > 0 && !a.bpSent && a.frames >= bpAfter {
		a.bpSent = true
		bp := CannedBP
		bp.CollectionDuration = result.ElapsedTime
		bp.SamplesCollected = a.frames
		result.BP = &bp
		result.Status = "complete"
	}
	return result
}

// averageRGB decodes a JPEG and averages its channels on the 0-255 scale.
func averageRGB(payload []byte) (stream.RGBValues, error) {
	img, err := jpeg.Decode(bytes.NewReader(payload))
	if err != nil {
		return stream.RGBValues{}, fmt.Errorf("failed to decode jpeg: %w", err)
	}
	b := img.Bounds()
	if b.Empty() {
		return stream.RGBValues{}, errors.New("empty image")
	}

	var r, g, bl uint64
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			cr, cg, cb, _ := img.At(x, y).RGBA()
			r += uint64(cr >> 8)
			g += uint64(cg >> 8)
			bl += uint64(cb >> 8)
		}
	}
	n := float64(b.Dx() * b.Dy())
	return stream.RGBValues{
		Red:    float64(r) / n,
		Green:  float64(g) / n,
		Blue:   float64(bl) / n,
		Width:  b.Dx(),
		Height: b.Dy(),
	}, nil
}
