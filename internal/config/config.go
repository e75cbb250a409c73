// Package config provides the configuration schema and loader for the arivox
// ARI voice bridge.
package config

import "time"

// LogLevel controls log verbosity for the bridge.
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

// TurnDetection selects which side decides when a user turn has ended.
type TurnDetection string

const (
	// TurnDetectionClient commits the input buffer and requests a response
	// when the local VAD reports speech has stopped.
	TurnDetectionClient TurnDetection = "client"

	// TurnDetectionServer relies on the Live API's own server-side turn
	// detection; the bridge never commits explicitly.
	TurnDetectionServer TurnDetection = "server"
)

// IsValid reports whether t is a recognised turn-detection mode.
func (t TurnDetection) IsValid() bool {
	return t == TurnDetectionClient || t == TurnDetectionServer
}

// DisconnectPolicy selects what happens to a call when the Live API
// connection drops mid-session.
type DisconnectPolicy string

const (
	// DisconnectTerminate ends the session and hangs up the channel.
	DisconnectTerminate DisconnectPolicy = "terminate"

	// DisconnectKeep keeps the session alive waiting for an external
	// reconnect.
	DisconnectKeep DisconnectPolicy = "keep"
)

// IsValid reports whether d is a recognised disconnect policy.
func (d DisconnectPolicy) IsValid() bool {
	return d == DisconnectTerminate || d == DisconnectKeep
}

// Config is the root configuration structure for arivox.
// It is typically loaded from a YAML file using [Load] or [LoadFromReader].
type Config struct {
	Server  ServerConfig  `yaml:"server"`
	ARI     ARIConfig     `yaml:"ari"`
	Media   MediaConfig   `yaml:"media"`
	Audio   AudioConfig   `yaml:"audio"`
	VAD     VADConfig     `yaml:"vad"`
	LiveAPI LiveAPIConfig `yaml:"live_api"`
	Calls   CallsConfig   `yaml:"calls"`
}

// ServerConfig holds the admin HTTP listener and logging settings.
type ServerConfig struct {
	// AdminAddr is the TCP address serving /healthz, /readyz, /metrics and
	// /sessions (e.g., ":9090"). Empty disables the admin server.
	AdminAddr string `yaml:"admin_addr"`

	// LogLevel controls verbosity.
	LogLevel LogLevel `yaml:"log_level"`
}

// ARIConfig holds the Asterisk REST Interface endpoint and credentials.
type ARIConfig struct {
	// BaseURL is the ARI REST root, e.g. "http://pbx:8088/ari".
	BaseURL string `yaml:"base_url"`

	// Username and Password are the basic-auth credentials. The password may
	// also be supplied via the ARIVOX_ARI_PASSWORD environment variable,
	// which takes precedence.
	Username string `yaml:"username"`
	Password string `yaml:"password"`

	// StasisApp is the application name routed to the bridge by the PBX
	// dialplan.
	StasisApp string `yaml:"stasis_app"`

	// EventsURL is the ARI events WebSocket root. Derived from BaseURL when
	// empty (http → ws).
	EventsURL string `yaml:"events_url"`
}

// MediaConfig holds the external-media listener the PBX connects to.
type MediaConfig struct {
	// Host is the address the PBX uses to reach the bridge.
	Host string `yaml:"host"`

	// Port is the external-media WebSocket listener port.
	Port int `yaml:"port"`
}

// AudioConfig shapes the audio pipeline. The canonical format is slin16:
// 16-bit signed little-endian PCM, mono, 16 kHz.
type AudioConfig struct {
	// SampleRate in Hz. Default 16000.
	SampleRate int `yaml:"sample_rate"`

	// ChunkSamples is the per-frame sample count. Default 320 (20 ms).
	ChunkSamples int `yaml:"chunk_samples"`

	// Format is the PBX-side format name requested on the external-media
	// leg. Default "slin16".
	Format string `yaml:"format"`

	// BufferSamples bounds the per-session audio buffers. Default 1600
	// (100 ms).
	BufferSamples int `yaml:"buffer_samples"`
}

// VADConfig tunes the energy voice-activity detector. Hold durations are
// expressed in seconds to keep the YAML surface plain numbers.
type VADConfig struct {
	// EnergyThreshold is the RMS speech threshold. Default 4000.
	EnergyThreshold float64 `yaml:"energy_threshold"`

	// SpeechHoldS is the minimum continuous speech in seconds before
	// speech_started. Default 0.02.
	SpeechHoldS float64 `yaml:"speech_hold_s"`

	// SilenceHoldS is the minimum continuous silence in seconds before
	// speech_stopped. Default 0.5.
	SilenceHoldS float64 `yaml:"silence_hold_s"`
}

// SpeechHold returns the speech hold as a duration.
func (v VADConfig) SpeechHold() time.Duration {
	return time.Duration(v.SpeechHoldS * float64(time.Second))
}

// SilenceHold returns the silence hold as a duration.
func (v VADConfig) SilenceHold() time.Duration {
	return time.Duration(v.SilenceHoldS * float64(time.Second))
}

// LiveAPIConfig identifies the streaming LLM endpoint.
type LiveAPIConfig struct {
	// URL is the WebSocket endpoint, e.g. "wss://live.example.com/v1/stream".
	URL string `yaml:"url"`

	// APIKey authenticates the connection. May also be supplied via the
	// ARIVOX_LIVE_API_KEY environment variable, which takes precedence.
	APIKey string `yaml:"api_key"`

	// Model selects the streaming model.
	Model string `yaml:"model"`

	// Voice selects the synthesis voice.
	Voice string `yaml:"voice"`

	// Instructions is the system prompt sent in the setup message.
	Instructions string `yaml:"instructions"`
}

// CallsConfig holds per-call policy.
type CallsConfig struct {
	// AutoAnswer answers inbound channels on StasisStart. Default true.
	AutoAnswer *bool `yaml:"auto_answer"`

	// MaxDurationS terminates calls that exceed it, in seconds. Default 3600.
	MaxDurationS int `yaml:"max_duration_s"`

	// EnableInterruption cancels in-flight responses when the caller barges
	// in. Default true.
	EnableInterruption *bool `yaml:"enable_interruption"`

	// TurnDetection selects client- or server-side turn boundaries.
	// Default "client".
	TurnDetection TurnDetection `yaml:"turn_detection"`

	// OnDisconnect selects the policy for a dropped Live API connection.
	// Default "terminate".
	OnDisconnect DisconnectPolicy `yaml:"on_disconnect"`
}

// MaxDuration returns the call duration cap as a duration.
func (c CallsConfig) MaxDuration() time.Duration {
	return time.Duration(c.MaxDurationS) * time.Second
}

// AutoAnswerEnabled resolves the AutoAnswer pointer with its default.
func (c CallsConfig) AutoAnswerEnabled() bool {
	return c.AutoAnswer == nil || *c.AutoAnswer
}

// InterruptionEnabled resolves the EnableInterruption pointer with its default.
func (c CallsConfig) InterruptionEnabled() bool {
	return c.EnableInterruption == nil || *c.EnableInterruption
}
