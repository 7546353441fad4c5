package config

import "time"

// ServerConfig points at the remote analyzer's websocket endpoint.
type ServerConfig struct {
	URL            string        `yaml:"url"`
	ConnectTimeout time.Duration `yaml:"connect_timeout"`
	ReadTimeout    time.Duration `yaml:"read_timeout"`
	WriteTimeout   time.Duration `yaml:"write_timeout"`
	OutboxSize     int           `yaml:"outbox_size"`
}

// APIConfig points at the subject/measurement REST service.
type APIConfig struct {
	BaseURL string        `yaml:"base_url"`
	Timeout time.Duration `yaml:"timeout"`
	Token   string        `yaml:"-"`
}

// SessionConfig bounds a single measurement.
type SessionConfig struct {
	Duration       time.Duration `yaml:"duration"`
	ThrottleEvery  int           `yaml:"throttle_every"`
	SampleCapacity int           `yaml:"sample_capacity"`
	ResultGrace    time.Duration `yaml:"result_grace"`
}

// EncoderConfig controls the JPEG payload sent per frame.
type EncoderConfig struct {
	Quality      int `yaml:"quality"`
	MaxDimension int `yaml:"max_dimension"`
}

// CaptureConfig describes the sensor stream.
type CaptureConfig struct {
	FPS    float64 `yaml:"fps"`
	Width  int     `yaml:"width"`
	Height int     `yaml:"height"`
}

// LoggingConfig sets the minimum log level.
type LoggingConfig struct {
	Level string `yaml:"level"`
}

// StatusConfig enables the local status server. Port 0 disables it.
type StatusConfig struct {
	Port int `yaml:"port"`
}

// Config represents the .ppgcam/config.yaml file.
type Config struct {
	Server  ServerConfig  `yaml:"server"`
	API     APIConfig     `yaml:"api"`
	Session SessionConfig `yaml:"session"`
	Encoder EncoderConfig `yaml:"encoder"`
	Capture CaptureConfig `yaml:"capture"`
	Logging LoggingConfig `yaml:"logging"`
	Status  StatusConfig  `yaml:"status"`
}
