// Package stream implements the analyzer wire protocol and the websocket
// client that carries it.
package stream

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// MessageType identifies the type of message on the wire.
type MessageType string

const (
	// Client → analyzer message types

	// MessageTypeFrame carries one JPEG-encoded frame.
	MessageTypeFrame MessageType = "frame"
	// MessageTypeReset asks the analyzer to discard its accumulated signal.
	MessageTypeReset MessageType = "reset"

	// Analyzer → client message types

	// MessageTypeResult carries a PPGResult.
	MessageTypeResult MessageType = "result"
	// MessageTypeError carries an analyzer-side error string.
	MessageTypeError MessageType = "error"
	// MessageTypeResetAck acknowledges a reset. Informational only.
	MessageTypeResetAck MessageType = "reset_ack"
)

var (
	// ErrMissingType is returned for inbound messages without a type field.
	ErrMissingType = errors.New("message has no type")
	// ErrUnknownType is returned for inbound messages with an unrecognized type.
	ErrUnknownType = errors.New("unknown message type")
)

// OutboundMessage is a message sent to the analyzer.
type OutboundMessage struct {
	Type MessageType `json:"type"`

	// Frame is the base64 JPEG payload. Frame messages only.
	Frame string `json:"frame,omitempty"`

	// Timestamp is Unix seconds with millisecond precision.
	Timestamp float64 `json:"timestamp"`

	// FrameCount is 1-based over frames sent since connect or reset.
	FrameCount int `json:"frame_count,omitempty"`
}

// NewFrameMessage wraps a JPEG payload as a frame message.
func NewFrameMessage(jpeg []byte, at time.Time, frameCount int) OutboundMessage {
	return OutboundMessage{
		Type:       MessageTypeFrame,
		Frame:      base64.StdEncoding.EncodeToString(jpeg),
		Timestamp:  UnixSeconds(at),
		FrameCount: frameCount,
	}
}

// NewResetMessage creates a reset message.
func NewResetMessage(at time.Time) OutboundMessage {
	return OutboundMessage{
		Type:      MessageTypeReset,
		Timestamp: UnixSeconds(at),
	}
}

// Marshal serializes the message to JSON bytes.
func (m OutboundMessage) Marshal() ([]byte, error) {
	return json.Marshal(m)
}

// FrameBytes decodes the base64 payload of a frame message.
func (m OutboundMessage) FrameBytes() ([]byte, error) {
	if m.Type != MessageTypeFrame {
		return nil, fmt.Errorf("message is not a frame: %s", m.Type)
	}
	data, err := base64.StdEncoding.DecodeString(m.Frame)
	if err != nil {
		return nil, fmt.Errorf("failed to decode frame payload: %w", err)
	}
	return data, nil
}

// UnixSeconds renders t as fractional Unix seconds at millisecond precision.
func UnixSeconds(t time.Time) float64 {
	return float64(t.UnixMilli()) / 1000.0
}

// ParseOutbound decodes a client message. The analyzer simulator uses it.
func ParseOutbound(data []byte) (*OutboundMessage, error) {
	var m OutboundMessage
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("failed to unmarshal message: %w", err)
	}
	switch m.Type {
	case "":
		return nil, ErrMissingType
	case MessageTypeFrame, MessageTypeReset:
		return &m, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownType, m.Type)
	}
}

// InboundMessage is a message received from the analyzer.
type InboundMessage struct {
	Type MessageType `json:"type"`

	// Data contains the result payload for result messages.
	// Use ResultData to get the concrete type.
	Data json.RawMessage `json:"data,omitempty"`

	// Error is the reason for error messages.
	Error string `json:"error,omitempty"`
}

// ParseInbound decodes an analyzer message and checks its type.
func ParseInbound(data []byte) (*InboundMessage, error) {
	var m InboundMessage
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("failed to unmarshal message: %w", err)
	}
	switch m.Type {
	case "":
		return nil, ErrMissingType
	case MessageTypeResult, MessageTypeError, MessageTypeResetAck:
		return &m, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownType, m.Type)
	}
}

// ResultData returns the result payload if this is a result message.
func (m *InboundMessage) ResultData() (*PPGResult, error) {
	if m.Type != MessageTypeResult {
		return nil, fmt.Errorf("message is not a result: %s", m.Type)
	}
	if len(m.Data) == 0 || string(m.Data) == "null" {
		return nil, fmt.Errorf("result message has no data")
	}
	var r PPGResult
	if err := json.Unmarshal(m.Data, &r); err != nil {
		return nil, fmt.Errorf("failed to unmarshal result data: %w", err)
	}
	return &r, nil
}

// Marshal serializes the message to JSON bytes.
func (m *InboundMessage) Marshal() ([]byte, error) {
	return json.Marshal(m)
}

// NewResultMessage wraps a result for sending to a client.
func NewResultMessage(r *PPGResult) (*InboundMessage, error) {
	data, err := json.Marshal(r)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal result: %w", err)
	}
	return &InboundMessage{Type: MessageTypeResult, Data: data}, nil
}

// NewErrorMessage creates an analyzer error message.
func NewErrorMessage(reason string) *InboundMessage {
	return &InboundMessage{Type: MessageTypeError, Error: reason}
}

// NewResetAckMessage creates a reset acknowledgment.
func NewResetAckMessage() *InboundMessage {
	return &InboundMessage{Type: MessageTypeResetAck}
}

// PPGResult is one analyzer update. Every optional part may be absent.
type PPGResult struct {
	Status      string  `json:"status,omitempty"`
	FrameCount  int     `json:"frame_count,omitempty"`
	ElapsedTime float64 `json:"elapsed_time,omitempty"`

	RGB         *RGBValues   `json:"rgb_values,omitempty"`
	HeartRate   *HeartRate   `json:"heart_rate,omitempty"`
	Respiration *Respiration `json:"respiration,omitempty"`
	SpO2        *SpO2        `json:"spo2,omitempty"`
	BP          *BPResult    `json:"bp_analysis_result,omitempty"`

	Error string `json:"error,omitempty"`

	GreenSignalValue   *float64  `json:"green_signal_value,omitempty"`
	GreenSignalHistory []float64 `json:"green_signal_history,omitempty"`
}

// RGBValues are the analyzer's channel means for the last frame.
type RGBValues struct {
	Red    float64 `json:"red"`
	Green  float64 `json:"green"`
	Blue   float64 `json:"blue"`
	Width  int     `json:"width"`
	Height int     `json:"height"`
}

// HeartRate is a heart-rate estimate in beats per minute.
type HeartRate struct {
	Value      float64 `json:"heart_rate"`
	Confidence float64 `json:"confidence"`
	Method     string  `json:"method,omitempty"`
	Quality    string  `json:"signal_quality,omitempty"`
}

// Respiration is a breathing-rate estimate in breaths per minute.
type Respiration struct {
	Rate       float64 `json:"respiration_rate"`
	Confidence float64 `json:"confidence"`
}

// SpO2 is an oxygen saturation estimate.
type SpO2 struct {
	Value      float64 `json:"spo2"`
	Confidence float64 `json:"confidence"`
	Ratio      float64 `json:"ratio"`
}

// BPResult is the blood-pressure analysis produced once enough signal has
// been collected.
type BPResult struct {
	Analysis           *BPAnalysis     `json:"bp_analysis,omitempty"`
	Interpretation     *Interpretation `json:"interpretation,omitempty"`
	CollectionDuration float64         `json:"collection_duration,omitempty"`
	SamplesCollected   int             `json:"samples_collected,omitempty"`
	ModelVersion       string          `json:"model_version,omitempty"`
	Status             string          `json:"status,omitempty"`
}

// BPAnalysis holds the pressure estimate itself.
type BPAnalysis struct {
	Systolic   float64 `json:"systolic_bp"`
	Diastolic  float64 `json:"diastolic_bp"`
	Category   string  `json:"bp_category,omitempty"`
	Confidence float64 `json:"confidence"`
	Quality    string  `json:"quality,omitempty"`
}

// Interpretation is the analyzer's human-readable reading of a BP result.
type Interpretation struct {
	Category       string   `json:"category,omitempty"`
	Description    string   `json:"description,omitempty"`
	Recommendation string   `json:"recommendation,omitempty"`
	RiskLevel      string   `json:"risk_level,omitempty"`
	Details        []string `json:"details,omitempty"`
}
