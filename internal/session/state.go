package session

import (
	"fmt"
	"time"

	"github.com/thruflo/ppgcam/internal/frame"
	"github.com/thruflo/ppgcam/internal/stream"
)

// Phase is the measurement lifecycle.
type Phase int

const (
	PhaseIdle Phase = iota
	PhaseConnecting
	PhaseStreaming
	PhaseCompleted
)

func (p Phase) String() string {
	switch p {
	case PhaseIdle:
		return "idle"
	case PhaseConnecting:
		return "connecting"
	case PhaseStreaming:
		return "streaming"
	case PhaseCompleted:
		return "completed"
	default:
		return "unknown"
	}
}

// MarshalText renders the phase by name in JSON.
func (p Phase) MarshalText() ([]byte, error) {
	return []byte(p.String()), nil
}

// UnmarshalText parses a phase name.
func (p *Phase) UnmarshalText(text []byte) error {
	for _, candidate := range []Phase{PhaseIdle, PhaseConnecting, PhaseStreaming, PhaseCompleted} {
		if candidate.String() == string(text) {
			*p = candidate
			return nil
		}
	}
	return fmt.Errorf("unknown phase %q", text)
}

// Trigger records what completed a session.
type Trigger string

const (
	TriggerNone      Trigger = ""
	TriggerElapsed   Trigger = "elapsed"
	TriggerCountdown Trigger = "countdown"
	TriggerBP        Trigger = "bp_result"
)

// Defaults applied to BP interpretations that omit them.
const (
	DefaultRecommendation = "Consult healthcare provider"
	DefaultRiskLevel      = "Unknown"
)

// BPResult is the final blood-pressure reading of a session. It is set once
// and never replaced.
type BPResult struct {
	Systolic           float64   `json:"systolic"`
	Diastolic          float64   `json:"diastolic"`
	Category           string    `json:"category"`
	Confidence         float64   `json:"confidence"`
	Quality            string    `json:"quality,omitempty"`
	CollectionDuration float64   `json:"collection_duration"`
	SamplesCollected   int       `json:"samples_collected"`
	ModelVersion       string    `json:"model_version,omitempty"`
	Description        string    `json:"description,omitempty"`
	Recommendation     string    `json:"recommendation"`
	RiskLevel          string    `json:"risk_level"`
	Details            []string  `json:"details,omitempty"`
	ReceivedAt         time.Time `json:"received_at"`
}

// newBPResult flattens the analyzer's nested BP payload, filling defaults.
// It returns nil when the payload carries no analysis.
func newBPResult(r *stream.BPResult, at time.Time) *BPResult {
	if r == nil || r.Analysis == nil {
		return nil
	}
	bp := &BPResult{
		Systolic:           r.Analysis.Systolic,
		Diastolic:          r.Analysis.Diastolic,
		Category:           r.Analysis.Category,
		Confidence:         r.Analysis.Confidence,
		Quality:            r.Analysis.Quality,
		CollectionDuration: r.CollectionDuration,
		SamplesCollected:   r.SamplesCollected,
		ModelVersion:       r.ModelVersion,
		Recommendation:     DefaultRecommendation,
		RiskLevel:          DefaultRiskLevel,
		ReceivedAt:         at,
	}
	if in := r.Interpretation; in != nil {
		if in.Recommendation != "" {
			bp.Recommendation = in.Recommendation
		}
		if in.RiskLevel != "" {
			bp.RiskLevel = in.RiskLevel
		}
		if bp.Category == "" {
			bp.Category = in.Category
		}
		bp.Description = in.Description
		bp.Details = append([]string(nil), in.Details...)
	}
	return bp
}

// State is the consolidated, UI-ready view of one measurement. Values
// returned by Snapshot are copies and safe to keep.
type State struct {
	SessionID  string                 `json:"session_id"`
	Phase      Phase                  `json:"phase"`
	Connection stream.ConnectionState `json:"connection"`

	// StartedAt is the capture time of the first analyzed frame.
	StartedAt      time.Time `json:"started_at,omitempty"`
	ElapsedSeconds float64   `json:"elapsed_seconds"`

	// CountdownRemaining is the local wall-clock countdown in seconds.
	CountdownRemaining int `json:"countdown_remaining"`

	LatestSample    *frame.ChannelSample `json:"latest_sample,omitempty"`
	LatestHeartRate *stream.HeartRate    `json:"latest_heart_rate,omitempty"`
	Respiration     *stream.Respiration  `json:"respiration,omitempty"`
	SpO2            *stream.SpO2         `json:"spo2,omitempty"`

	// Analyzer-side values, informational only.
	ServerRGB        *stream.RGBValues `json:"server_rgb,omitempty"`
	ServerGreen      *float64          `json:"server_green,omitempty"`
	ServerElapsed    float64           `json:"server_elapsed"`
	ServerFrameCount int               `json:"server_frame_count"`
	ServerStatus     string            `json:"server_status,omitempty"`

	BP *BPResult `json:"bp,omitempty"`

	Completed   bool    `json:"completed"`
	CompletedBy Trigger `json:"completed_by,omitempty"`

	FramesAnalyzed int `json:"frames_analyzed"`
	FramesSent     int `json:"frames_sent"`
}
