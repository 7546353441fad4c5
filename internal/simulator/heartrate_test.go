package simulator

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// pulse samples a sine at bpm for seconds at fps.
func pulse(bpm, fps, seconds float64) (values, times []float64) {
	n := int(fps * seconds)
	for i := 0; i < n; i++ {
		ts := float64(i) / fps
		times = append(times, ts)
		values = append(values, 120+4*math.Sin(2*math.Pi*bpm/60*ts))
	}
	return values, times
}

func TestEstimateHeartRate(t *testing.T) {
	t.Parallel()

	for _, bpm := range []float64{60, 72, 110} {
		values, times := pulse(bpm, 15, 10)
		got, conf, ok := estimateHeartRate(values, times)
		require.True(t, ok, "bpm %v", bpm)
		assert.InDelta(t, bpm, got, 4, "bpm %v", bpm)
		assert.Greater(t, conf, 50.0, "bpm %v", bpm)
	}
}

func TestEstimateHeartRateRejects(t *testing.T) {
	t.Parallel()

	flat := make([]float64, 100)
	times := make([]float64, 100)
	for i := range flat {
		flat[i] = 128
		times[i] = float64(i) / 15
	}

	short, shortTimes := pulse(72, 15, 2)

	tests := []struct {
		name   string
		values []float64
		times  []float64
	}{
		{name: "empty"},
		{name: "mismatched", values: []float64{1, 2, 3}, times: []float64{0, 1}},
		{name: "flat", values: flat, times: times},
		{name: "too few beats", values: short, times: shortTimes},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			_, _, ok := estimateHeartRate(tt.values, tt.times)
			assert.False(t, ok)
		})
	}
}

func TestSignalQuality(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "good", signalQuality(95))
	assert.Equal(t, "good", signalQuality(80))
	assert.Equal(t, "fair", signalQuality(60))
	assert.Equal(t, "poor", signalQuality(10))
}
