// Package config provides the configuration schema, loader, and validation
// for the NavTalk tutoring client.
package config

// LogLevel controls log verbosity for the client.
type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// IsValid reports whether l is a recognised log level.
func (l LogLevel) IsValid() bool {
	switch l {
	case LogDebug, LogInfo, LogWarn, LogError:
		return true
	}
	return false
}

// Config is the root configuration structure. It is typically loaded from a
// YAML file using [Load] or [LoadFromReader], with environment overrides
// applied on top by [ApplyEnv].
type Config struct {
	Service ServiceConfig `yaml:"service"`
	Session SessionConfig `yaml:"session"`
	Audio   AudioConfig   `yaml:"audio"`
	History HistoryConfig `yaml:"history"`
	Log     LogConfig     `yaml:"log"`
	Metrics MetricsConfig `yaml:"metrics"`
}

// ServiceConfig identifies the remote NavTalk endpoint and credential.
type ServiceConfig struct {
	// Host is the service hostname, without a scheme.
	Host string `yaml:"host"`

	// Path is the control-channel endpoint path.
	Path string `yaml:"path"`

	// License authenticates the client. Usually supplied through the
	// NAVTALK_LICENSE environment variable rather than the file.
	License string `yaml:"license"`
}

// SessionConfig holds the conversation parameters announced to the service.
type SessionConfig struct {
	// Model selects the remote speech model.
	Model string `yaml:"model"`

	// Character selects the avatar persona.
	Character string `yaml:"character"`

	// Voice selects the speech voice.
	Voice string `yaml:"voice"`

	// Prompt overrides the built-in tutoring system prompt when set.
	Prompt string `yaml:"prompt"`
}

// AudioConfig sizes the capture pipeline.
type AudioConfig struct {
	// FrameSize is the number of samples per capture processing frame.
	FrameSize int `yaml:"frame_size"`

	// ChunkSize bounds the base64 payload of one append-audio frame.
	ChunkSize int `yaml:"chunk_size"`
}

// HistoryConfig controls transcript persistence.
type HistoryConfig struct {
	// Path is the transcript file location. Empty derives the file name
	// from the fixed history key in the working directory.
	Path string `yaml:"path"`

	// MaxEntries bounds the persisted transcript.
	MaxEntries int `yaml:"max_entries"`
}

// LogConfig controls structured logging output.
type LogConfig struct {
	// Level controls verbosity.
	Level LogLevel `yaml:"level"`

	// File enables rotating file output when set; empty logs to stderr.
	File string `yaml:"file"`

	// MaxSizeMB is the rotation threshold for the log file.
	MaxSizeMB int `yaml:"max_size_mb"`

	// MaxBackups is the number of rotated files kept.
	MaxBackups int `yaml:"max_backups"`
}

// MetricsConfig exposes the Prometheus endpoint.
type MetricsConfig struct {
	// ListenAddr is the TCP address serving /metrics. Empty disables the
	// endpoint.
	ListenAddr string `yaml:"listen_addr"`
}

// Default returns the configuration used when a setting is absent from the
// file and the environment.
func Default() *Config {
	return &Config{
		Service: ServiceConfig{
			Host: "transfer.navtalk.ai",
			Path: "/api/realtime-api",
		},
		Session: SessionConfig{
			Model:     "gpt-realtime",
			Character: "navtalk.Brain",
			Voice:     "cedar",
		},
		Audio: AudioConfig{
			FrameSize: 4096,
			ChunkSize: 4096,
		},
		History: HistoryConfig{
			MaxEntries: 40,
		},
		Log: LogConfig{
			Level:      LogInfo,
			MaxSizeMB:  10,
			MaxBackups: 3,
		},
	}
}
