package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/thruflo/ppgcam/internal/capture"
	"github.com/thruflo/ppgcam/internal/config"
	"github.com/thruflo/ppgcam/internal/frame"
	"github.com/thruflo/ppgcam/internal/session"
	"github.com/thruflo/ppgcam/internal/simulator"
	"github.com/thruflo/ppgcam/internal/stream"
	"github.com/thruflo/ppgcam/internal/testutil"
)

// fastCapture keeps end-to-end runs small and quick.
const fastCapture = `capture:
  fps: 60
  width: 32
  height: 24
session:
  duration: 10s
  result_grace: 1s
`

func TestMeasureAgainstSimulator(t *testing.T) {
	analyzer := testutil.NewAnalyzer(t, simulator.WithBPAfterFrames(5))
	dir := testutil.SetupTestDir(t, fastCapture)

	out, err := execute(t, "measure", "--dir", dir, "--analyzer-url", analyzer.URL, "--json")
	require.NoError(t, err)

	var st session.State
	require.NoError(t, json.Unmarshal([]byte(out), &st), out)
	assert.True(t, st.Completed)
	assert.Equal(t, session.TriggerBP, st.CompletedBy)
	require.NotNil(t, st.BP)
	assert.Equal(t, simulator.CannedBP.Analysis.Systolic, st.BP.Systolic)
	assert.Equal(t, "Low", st.BP.RiskLevel)
	assert.GreaterOrEqual(t, st.FramesSent, 5)
	assert.NotEmpty(t, st.SessionID)
}

func TestMeasurePrintsResult(t *testing.T) {
	analyzer := testutil.NewAnalyzer(t, simulator.WithBPAfterFrames(3))
	dir := testutil.SetupTestDir(t, fastCapture)

	out, err := execute(t, "measure", "--dir", dir, "--analyzer-url", analyzer.URL)
	require.NoError(t, err)
	assert.Contains(t, out, "Measurement complete (blood pressure received)")
	assert.Contains(t, out, "Blood pressure: 118/76 mmHg (Normal, confidence 75%)")
	assert.Contains(t, out, "not medical advice")
}

func TestMeasureConnectFailure(t *testing.T) {
	ts := httptest.NewServer(nil)
	url := testutil.WebsocketURL(ts.URL)
	ts.Close()

	dir := testutil.SetupTestDir(t, fastCapture)
	_, err := execute(t, "measure", "--dir", dir, "--analyzer-url", url)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to connect to analyzer")
}

func TestMeasureInvalidFlags(t *testing.T) {
	dir := testutil.SetupTestDir(t, "")

	tests := []struct {
		name    string
		args    []string
		wantErr string
	}{
		{name: "short window", args: []string{"--duration", "100ms"}, wantErr: "session.duration"},
		{name: "http analyzer", args: []string{"--analyzer-url", "http://localhost/ws"}, wantErr: "server.url"},
		{name: "unknown source", args: []string{"--source", "camera"}, wantErr: "unknown source"},
		{name: "file without path", args: []string{"--source", "file"}, wantErr: "--file is required"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			args := append([]string{"measure", "--dir", dir}, tt.args...)
			_, err := execute(t, args...)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestNewSource(t *testing.T) {
	t.Cleanup(resetFlags)
	cfg := config.DefaultConfig()

	src, err := newSource(&cfg)
	require.NoError(t, err)
	synthetic, ok := src.(*capture.SyntheticSource)
	require.True(t, ok)
	assert.Equal(t, cfg.Capture.Width, synthetic.Width)
	assert.Equal(t, 72.0, synthetic.HeartRate)

	measureSource = SourceFile
	measureFile = "frames.yuv"
	measureFormat = capture.FormatNV21
	measureLoop = true
	src, err = newSource(&cfg)
	require.NoError(t, err)
	raw, ok := src.(*capture.RawFileSource)
	require.True(t, ok)
	assert.Equal(t, "frames.yuv", raw.Path)
	assert.Equal(t, capture.FormatNV21, raw.Format)
	assert.True(t, raw.Loop)
}

type fakeMeasurement struct {
	mu      sync.Mutex
	state   session.State
	updates chan session.State
	done    chan struct{}
}

func newFakeMeasurement() *fakeMeasurement {
	return &fakeMeasurement{
		updates: make(chan session.State, 1),
		done:    make(chan struct{}),
	}
}

func (f *fakeMeasurement) Updates() <-chan session.State { return f.updates }
func (f *fakeMeasurement) Done() <-chan struct{}         { return f.done }

func (f *fakeMeasurement) Snapshot() session.State {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state
}

func (f *fakeMeasurement) set(fn func(*session.State)) session.State {
	f.mu.Lock()
	defer f.mu.Unlock()
	fn(&f.state)
	return f.state
}

func TestAwaitResult(t *testing.T) {
	t.Parallel()

	bp := &session.BPResult{Systolic: 120, Diastolic: 80}

	t.Run("bp completes", func(t *testing.T) {
		t.Parallel()
		m := newFakeMeasurement()
		m.set(func(s *session.State) { s.Completed, s.BP = true, bp })
		close(m.done)

		s, err := awaitResult(context.Background(), m, time.Minute, func(session.State) {})
		require.NoError(t, err)
		assert.Same(t, bp, s.BP)
	})

	t.Run("late bp within grace", func(t *testing.T) {
		t.Parallel()
		m := newFakeMeasurement()
		m.set(func(s *session.State) { s.Completed = true })
		close(m.done)

		go func() {
			time.Sleep(20 * time.Millisecond)
			m.updates <- m.set(func(s *session.State) { s.BP = bp })
		}()

		s, err := awaitResult(context.Background(), m, time.Minute, func(session.State) {})
		require.NoError(t, err)
		assert.Same(t, bp, s.BP)
	})

	t.Run("grace expires", func(t *testing.T) {
		t.Parallel()
		m := newFakeMeasurement()
		m.set(func(s *session.State) { s.Completed, s.CompletedBy = true, session.TriggerElapsed })
		close(m.done)

		start := time.Now()
		s, err := awaitResult(context.Background(), m, 50*time.Millisecond, func(session.State) {})
		require.NoError(t, err)
		assert.Nil(t, s.BP)
		assert.Equal(t, session.TriggerElapsed, s.CompletedBy)
		assert.GreaterOrEqual(t, time.Since(start), 50*time.Millisecond)
	})

	t.Run("cancelled", func(t *testing.T) {
		t.Parallel()
		m := newFakeMeasurement()
		ctx, cancel := context.WithCancel(context.Background())

		var mu sync.Mutex
		var reported []session.State
		report := func(s session.State) {
			mu.Lock()
			defer mu.Unlock()
			reported = append(reported, s)
		}
		m.updates <- m.set(func(s *session.State) { s.FramesSent = 3 })
		go func() {
			time.Sleep(20 * time.Millisecond)
			cancel()
		}()

		s, err := awaitResult(ctx, m, time.Minute, report)
		assert.ErrorIs(t, err, context.Canceled)
		assert.Equal(t, 3, s.FramesSent)
		mu.Lock()
		defer mu.Unlock()
		require.Len(t, reported, 1)
		assert.Equal(t, 3, reported[0].FramesSent)
	})
}

func TestStatusLine(t *testing.T) {
	t.Parallel()

	s := session.State{
		Phase:              session.PhaseStreaming,
		CountdownRemaining: 31,
		ElapsedSeconds:     8.5,
		FramesSent:         120,
		LatestHeartRate:    &stream.HeartRate{Value: 72.4},
		LatestSample:       &frame.ChannelSample{Red: 230, Green: 120.4, Blue: 90},
	}
	assert.Equal(t, "streaming  31s left elapsed  8.5s sent 120 HR 72 bpm R 230 G 120 B 90", statusLine(s))

	idle := statusLine(session.State{})
	assert.True(t, strings.HasPrefix(idle, "idle "))
	assert.NotContains(t, idle, "left")
	assert.NotContains(t, idle, "HR")
}

func TestLineReporter(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	r := newReporter(&buf, false)
	_, ok := r.(*lineReporter)
	require.True(t, ok, "a buffer is not a terminal")

	r.Update(session.State{Phase: session.PhaseConnecting})
	r.Update(session.State{Phase: session.PhaseStreaming, ElapsedSeconds: 1})
	r.Update(session.State{Phase: session.PhaseStreaming, ElapsedSeconds: 2})
	r.Update(session.State{Phase: session.PhaseStreaming, ElapsedSeconds: 5.5})
	r.Update(session.State{Phase: session.PhaseCompleted, ElapsedSeconds: 5.6})
	r.Done()

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 4)
	assert.True(t, strings.HasPrefix(lines[0], "connecting"))
	assert.True(t, strings.HasPrefix(lines[3], "completed"))

	_, quiet := newReporter(&buf, true).(nopReporter)
	assert.True(t, quiet)
}

func TestPrintResult(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	printResult(&buf, session.State{
		SessionID:       "s-1",
		Completed:       true,
		CompletedBy:     session.TriggerElapsed,
		ElapsedSeconds:  40,
		FramesAnalyzed:  41,
		FramesSent:      40,
		LatestHeartRate: &stream.HeartRate{Value: 71.6, Confidence: 88, Quality: "good"},
		SpO2:            &stream.SpO2{Value: 97},
		BP: &session.BPResult{
			Systolic:       121,
			Diastolic:      79,
			Category:       "Normal",
			Confidence:     64,
			RiskLevel:      session.DefaultRiskLevel,
			Recommendation: session.DefaultRecommendation,
		},
	})
	out := buf.String()
	assert.Contains(t, out, "Measurement complete (measurement window elapsed)")
	assert.Contains(t, out, "40.0s, 41 frames analyzed, 40 sent")
	assert.Contains(t, out, "Heart rate:     72 bpm (confidence 88%, good signal)")
	assert.Contains(t, out, "SpO2:           97%")
	assert.Contains(t, out, "Blood pressure: 121/79 mmHg (Normal, confidence 64%)")
	assert.Contains(t, out, "Risk level:     Unknown")
	assert.Contains(t, out, "Consult healthcare provider")

	buf.Reset()
	printResult(&buf, session.State{SessionID: "s-2"})
	out = buf.String()
	assert.Contains(t, out, "Measurement incomplete")
	assert.Contains(t, out, "Heart rate:     -")
	assert.Contains(t, out, "Blood pressure: no result")
}
