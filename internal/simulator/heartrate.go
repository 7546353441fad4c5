package simulator

import "math"

// Beat detection bounds, 30 to 220 bpm.
const (
	minBeatInterval = 60.0 / 220
	maxBeatInterval = 60.0 / 30
)

// beatThreshold is the normalized level an upward crossing must pass.
const beatThreshold = 0.6

// minBeats is how many beat intervals an estimate needs.
const minBeats = 3

// estimateHeartRate finds upward threshold crossings in the min-max
// normalized signal and converts the mean interval between them to beats per
// minute. times are in seconds and must be increasing. It returns ok=false
// when the signal is flat or too few plausible beats were found. Confidence
// falls as the intervals become irregular.
func estimateHeartRate(values, times []float64) (bpm, confidence float64, ok bool) {
	if len(values) != len(times) || len(values) < 2 {
		return 0, 0, false
	}

	lo, hi := values[0], values[0]
	for _, v := range values {
		lo = math.Min(lo, v)
		hi = math.Max(hi, v)
	}
	if hi-lo < 1e-6 {
		return 0, 0, false
	}

	var intervals []float64
	lastBeat := math.NaN()
	prev := (values[0] - lo) / (hi - lo)
	for i := 1; i < len(values); i++ {
		cur := (values[i] - lo) / (hi - lo)
		if prev < beatThreshold && cur >= beatThreshold {
			t := times[i]
			if !math.IsNaN(lastBeat) {
				rr := t - lastBeat
				if rr < minBeatInterval {
					// Refractory: too close to the last beat.
					prev = cur
					continue
				}
				if rr <= maxBeatInterval {
					intervals = append(intervals, rr)
				}
			}
			lastBeat = t
		}
		prev = cur
	}
	if len(intervals) < minBeats {
		return 0, 0, false
	}

	var sum float64
	for _, rr := range intervals {
		sum += rr
	}
	mean := sum / float64(len(intervals))

	var variance float64
	for _, rr := range intervals {
		variance += (rr - mean) * (rr - mean)
	}
	cv := math.Sqrt(variance/float64(len(intervals))) / mean

	confidence = math.Max(0, math.Min(100, 100*(1-2*cv)))
	return 60 / mean, confidence, true
}

// signalQuality grades an estimate's confidence.
func signalQuality(confidence float64) string {
	switch {
	case confidence >= 80:
		return "good"
	case confidence >= 50:
		return "fair"
	default:
		return "poor"
	}
}
