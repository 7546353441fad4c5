package testutil

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/thruflo/ppgcam/internal/frame"
	"github.com/thruflo/ppgcam/internal/stream"
)

// Sample plane values for a fingertip pressed over the flash: red dominant,
// as the averaging transform sees it.
const (
	SampleLuma    = 150
	SampleChromaU = 100
	SampleChromaV = 180
)

// Epoch is the capture time of frame zero in fixtures.
var Epoch = time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)

// UniformI420 returns a width x height I420 buffer with every luma sample set
// to y and every chroma sample set to u and v.
func UniformI420(width, height int, y, u, v byte) []byte {
	size := width * height
	buf := make([]byte, frame.BufferSize(width, height))
	csize := (len(buf) - size) / 2
	fill(buf[:size], y)
	fill(buf[size:size+csize], u)
	fill(buf[size+csize:], v)
	return buf
}

// UniformNV21 returns a width x height NV21 buffer with interleaved V/U
// chroma.
func UniformNV21(width, height int, y, u, v byte) []byte {
	size := width * height
	buf := make([]byte, frame.BufferSize(width, height))
	fill(buf[:size], y)
	for i := size; i+1 < len(buf); i += 2 {
		buf[i] = v
		buf[i+1] = u
	}
	return buf
}

func fill(b []byte, v byte) {
	for i := range b {
		b[i] = v
	}
}

// SampleFrame returns an 8x8 uniform I420 frame stamped offset after Epoch.
func SampleFrame(t *testing.T, seq uint64, offset time.Duration) *frame.SensorFrame {
	t.Helper()
	f, err := frame.FromI420(UniformI420(8, 8, SampleLuma, SampleChromaU, SampleChromaV), 8, 8)
	require.NoError(t, err)
	f.Seq = seq
	f.CapturedAt = Epoch.Add(offset)
	return f
}

// SampleJPEG encodes SampleFrame for use as a frame payload.
func SampleJPEG(t *testing.T) []byte {
	t.Helper()
	data, err := frame.NewEncoder(frame.DefaultQuality).Encode(SampleFrame(t, 0, 0))
	require.NoError(t, err)
	return data
}

// SampleBP returns a complete BP payload with the given systolic reading.
func SampleBP(systolic float64) *stream.BPResult {
	return &stream.BPResult{
		Analysis: &stream.BPAnalysis{
			Systolic:   systolic,
			Diastolic:  78,
			Category:   "Normal",
			Confidence: 82,
			Quality:    "good",
		},
		Interpretation: &stream.Interpretation{
			Category:       "Normal",
			Description:    "Blood pressure is in the normal range",
			Recommendation: "Maintain a healthy lifestyle",
			RiskLevel:      "Low",
		},
		CollectionDuration: 20,
		SamplesCollected:   300,
		ModelVersion:       "test",
		Status:             "complete",
	}
}
