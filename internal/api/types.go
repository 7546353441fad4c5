// Package api is a client for the subject and measurement REST service that
// sits next to the analyzer. It is used between measurements, never while a
// session is streaming.
package api

// Subject is a person measurements are recorded against.
type Subject struct {
	ID                string `json:"subjectId"`
	Number            int    `json:"subjectNumber"`
	Name              string `json:"subjectName"`
	Age               *int   `json:"age,omitempty"`
	Gender            string `json:"gender,omitempty"`
	Notes             string `json:"notes,omitempty"`
	CreatedAt         string `json:"createdAt,omitempty"`
	LastMeasurement   string `json:"lastMeasurement,omitempty"`
	TotalMeasurements int    `json:"totalMeasurements"`
}

// Measurement is one stored reading for a subject.
type Measurement struct {
	ID                  string `json:"measurementId"`
	SubjectID           string `json:"subjectId"`
	HeartRate           int    `json:"heartRate"`
	HeartRateConfidence int    `json:"heartRateConfidence"`
	SignalQuality       string `json:"signalQuality,omitempty"`
	BPCategory          string `json:"bpCategory,omitempty"`
	BPConfidence        *int   `json:"bpConfidence,omitempty"`
	Duration            int    `json:"measurementDuration"`
	FrameCount          int    `json:"frameCount"`
	Timestamp           string `json:"timestamp"`
}

// SubjectStats summarizes a subject's history.
type SubjectStats struct {
	AvgSystolic       float64 `json:"avg_systolic"`
	AvgDiastolic      float64 `json:"avg_diastolic"`
	AvgHeartRate      float64 `json:"avg_heart_rate"`
	MeasurementCount  int     `json:"measurement_count"`
	TotalMeasurements int     `json:"total_measurements"`
	MinHeartRate      float64 `json:"min_heart_rate"`
	MaxHeartRate      float64 `json:"max_heart_rate"`
}

// History is a subject's measurements with summary stats.
type History struct {
	SubjectID    string        `json:"subject_id"`
	Measurements []Measurement `json:"measurements"`
	Stats        *SubjectStats `json:"stats,omitempty"`
}

// CreateSubjectRequest is the body of a subject creation.
type CreateSubjectRequest struct {
	Name   string `json:"subject_name"`
	Age    *int   `json:"age,omitempty"`
	Gender string `json:"gender,omitempty"`
	Notes  string `json:"notes,omitempty"`
}

type subjectsResponse struct {
	Success  bool      `json:"success"`
	Subject  *Subject  `json:"subject"`
	Subjects []Subject `json:"subjects"`
}

type historyResponse struct {
	Success bool `json:"success"`
	History
}
