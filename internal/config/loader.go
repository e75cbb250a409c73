package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/arivox/arivox/internal/faults"
)

// Environment variables that override credential fields from the file so
// secrets can stay out of checked-in configs.
const (
	EnvARIPassword = "ARIVOX_ARI_PASSWORD"
	EnvLiveAPIKey  = "ARIVOX_LIVE_API_KEY"
)

// Load reads the YAML configuration file at path, applies environment
// overrides and defaults, and returns a validated [Config].
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r, applies environment overrides
// and defaults, and validates the result. Useful in tests where configs are
// constructed from string literals.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}

	if v := os.Getenv(EnvARIPassword); v != "" {
		cfg.ARI.Password = v
	}
	if v := os.Getenv(EnvLiveAPIKey); v != "" {
		cfg.LiveAPI.APIKey = v
	}

	ApplyDefaults(cfg)
	if err := Validate(cfg); err != nil {
		return nil, faults.Wrap(faults.ConfigInvalid, err, "config: validation")
	}
	return cfg, nil
}

// ApplyDefaults fills zero fields with their documented defaults.
func ApplyDefaults(cfg *Config) {
	if cfg.Server.LogLevel == "" {
		cfg.Server.LogLevel = LogInfo
	}
	if cfg.ARI.EventsURL == "" && cfg.ARI.BaseURL != "" {
		cfg.ARI.EventsURL = httpToWS(cfg.ARI.BaseURL) + "/events"
	}
	if cfg.Media.Host == "" {
		cfg.Media.Host = "127.0.0.1"
	}
	if cfg.Media.Port == 0 {
		cfg.Media.Port = 8089
	}
	if cfg.Audio.SampleRate == 0 {
		cfg.Audio.SampleRate = 16000
	}
	if cfg.Audio.ChunkSamples == 0 {
		cfg.Audio.ChunkSamples = 320
	}
	if cfg.Audio.Format == "" {
		cfg.Audio.Format = "slin16"
	}
	if cfg.Audio.BufferSamples == 0 {
		cfg.Audio.BufferSamples = 1600
	}
	if cfg.VAD.EnergyThreshold == 0 {
		cfg.VAD.EnergyThreshold = 4000
	}
	if cfg.VAD.SpeechHoldS == 0 {
		cfg.VAD.SpeechHoldS = 0.02
	}
	if cfg.VAD.SilenceHoldS == 0 {
		cfg.VAD.SilenceHoldS = 0.5
	}
	if cfg.Calls.MaxDurationS == 0 {
		cfg.Calls.MaxDurationS = 3600
	}
	if cfg.Calls.TurnDetection == "" {
		cfg.Calls.TurnDetection = TurnDetectionClient
	}
	if cfg.Calls.OnDisconnect == "" {
		cfg.Calls.OnDisconnect = DisconnectTerminate
	}
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}

	if cfg.ARI.BaseURL == "" {
		errs = append(errs, errors.New("ari.base_url is required"))
	} else if !strings.HasPrefix(cfg.ARI.BaseURL, "http://") && !strings.HasPrefix(cfg.ARI.BaseURL, "https://") {
		errs = append(errs, fmt.Errorf("ari.base_url %q must start with http:// or https://", cfg.ARI.BaseURL))
	}
	if cfg.ARI.StasisApp == "" {
		errs = append(errs, errors.New("ari.stasis_app is required"))
	}
	if cfg.ARI.Username == "" {
		errs = append(errs, errors.New("ari.username is required"))
	}

	if cfg.Media.Port < 1 || cfg.Media.Port > 65535 {
		errs = append(errs, fmt.Errorf("media.port %d is out of range [1, 65535]", cfg.Media.Port))
	}

	if cfg.Audio.SampleRate != 16000 {
		errs = append(errs, fmt.Errorf("audio.sample_rate %d is unsupported; the pipeline is slin16 at 16000 Hz", cfg.Audio.SampleRate))
	}
	if cfg.Audio.ChunkSamples <= 0 {
		errs = append(errs, fmt.Errorf("audio.chunk_samples %d must be positive", cfg.Audio.ChunkSamples))
	}
	if cfg.Audio.BufferSamples < cfg.Audio.ChunkSamples {
		errs = append(errs, fmt.Errorf("audio.buffer_samples %d must be at least chunk_samples (%d)", cfg.Audio.BufferSamples, cfg.Audio.ChunkSamples))
	}

	if cfg.VAD.EnergyThreshold < 0 {
		errs = append(errs, fmt.Errorf("vad.energy_threshold %.0f must not be negative", cfg.VAD.EnergyThreshold))
	}
	if cfg.VAD.SpeechHoldS < 0 || cfg.VAD.SilenceHoldS < 0 {
		errs = append(errs, errors.New("vad hold durations must not be negative"))
	}

	if cfg.LiveAPI.URL == "" {
		errs = append(errs, errors.New("live_api.url is required"))
	} else if !strings.HasPrefix(cfg.LiveAPI.URL, "ws://") && !strings.HasPrefix(cfg.LiveAPI.URL, "wss://") {
		errs = append(errs, fmt.Errorf("live_api.url %q must start with ws:// or wss://", cfg.LiveAPI.URL))
	}
	if cfg.LiveAPI.APIKey == "" {
		errs = append(errs, errors.New("live_api.api_key is required (file or ARIVOX_LIVE_API_KEY)"))
	}

	if cfg.Calls.MaxDurationS < 1 {
		errs = append(errs, fmt.Errorf("calls.max_duration_s %d must be at least 1", cfg.Calls.MaxDurationS))
	}
	if !cfg.Calls.TurnDetection.IsValid() {
		errs = append(errs, fmt.Errorf("calls.turn_detection %q is invalid; valid values: client, server", cfg.Calls.TurnDetection))
	}
	if !cfg.Calls.OnDisconnect.IsValid() {
		errs = append(errs, fmt.Errorf("calls.on_disconnect %q is invalid; valid values: terminate, keep", cfg.Calls.OnDisconnect))
	}

	return errors.Join(errs...)
}

// httpToWS rewrites an http(s) URL scheme to its ws(s) equivalent.
func httpToWS(url string) string {
	switch {
	case strings.HasPrefix(url, "https://"):
		return "wss://" + strings.TrimPrefix(url, "https://")
	case strings.HasPrefix(url, "http://"):
		return "ws://" + strings.TrimPrefix(url, "http://")
	}
	return url
}
