package config_test

import (
	"strings"
	"testing"
	"time"

	"github.com/arivox/arivox/internal/config"
	"github.com/arivox/arivox/internal/faults"
)

// minimalYAML is the smallest config that passes validation.
const minimalYAML = `
ari:
  base_url: http://pbx:8088/ari
  username: arivox
  password: secret
  stasis_app: voicebot
live_api:
  url: wss://live.example.com/v1/stream
  api_key: sk-test
`

func TestLoadFromReader_MinimalDefaults(t *testing.T) {
	cfg, err := config.LoadFromReader(strings.NewReader(minimalYAML))
	if err != nil {
		t.Fatalf("LoadFromReader: %v", err)
	}

	if cfg.Audio.SampleRate != 16000 || cfg.Audio.ChunkSamples != 320 || cfg.Audio.Format != "slin16" {
		t.Errorf("audio defaults wrong: %+v", cfg.Audio)
	}
	if cfg.Audio.BufferSamples != 1600 {
		t.Errorf("buffer_samples default = %d, want 1600", cfg.Audio.BufferSamples)
	}
	if cfg.VAD.EnergyThreshold != 4000 || cfg.VAD.SpeechHold() != 20*time.Millisecond || cfg.VAD.SilenceHold() != 500*time.Millisecond {
		t.Errorf("vad defaults wrong: %+v", cfg.VAD)
	}
	if cfg.Calls.MaxDuration() != time.Hour {
		t.Errorf("max_duration default = %v, want 1h", cfg.Calls.MaxDuration())
	}
	if cfg.Calls.TurnDetection != config.TurnDetectionClient {
		t.Errorf("turn_detection default = %q, want client", cfg.Calls.TurnDetection)
	}
	if cfg.Calls.OnDisconnect != config.DisconnectTerminate {
		t.Errorf("on_disconnect default = %q, want terminate", cfg.Calls.OnDisconnect)
	}
	if !cfg.Calls.AutoAnswerEnabled() || !cfg.Calls.InterruptionEnabled() {
		t.Error("auto_answer and enable_interruption must default to true")
	}
	if cfg.ARI.EventsURL != "ws://pbx:8088/ari/events" {
		t.Errorf("events_url derived = %q", cfg.ARI.EventsURL)
	}
}

func TestLoadFromReader_UnknownFieldRejected(t *testing.T) {
	yaml := minimalYAML + "\nbogus_section:\n  x: 1\n"
	if _, err := config.LoadFromReader(strings.NewReader(yaml)); err == nil {
		t.Fatal("unknown top-level field must be rejected")
	}
}

func TestLoadFromReader_EnvOverridesKey(t *testing.T) {
	t.Setenv(config.EnvLiveAPIKey, "sk-from-env")

	cfg, err := config.LoadFromReader(strings.NewReader(minimalYAML))
	if err != nil {
		t.Fatalf("LoadFromReader: %v", err)
	}
	if cfg.LiveAPI.APIKey != "sk-from-env" {
		t.Fatalf("api key = %q, want env override", cfg.LiveAPI.APIKey)
	}
}

func TestLoadFromReader_ValidationErrorsCarryKind(t *testing.T) {
	t.Parallel()

	_, err := config.LoadFromReader(strings.NewReader("ari:\n  username: arivox\n"))
	if err == nil {
		t.Fatal("incomplete config must not load")
	}
	if got := faults.KindOf(err); got != faults.ConfigInvalid {
		t.Errorf("kind = %v; want %v", got, faults.ConfigInvalid)
	}
}

func TestValidate_CollectsAllErrors(t *testing.T) {
	t.Parallel()

	cfg := &config.Config{}
	config.ApplyDefaults(cfg)
	err := config.Validate(cfg)
	if err == nil {
		t.Fatal("empty config must not validate")
	}
	for _, want := range []string{"ari.base_url", "ari.stasis_app", "ari.username", "live_api.url", "live_api.api_key"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("joined error missing %q: %v", want, err)
		}
	}
}

func TestValidate_FieldErrors(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name   string
		mutate string // yaml snippet appended to minimal config
		want   string
	}{
		{"bad log level", "server:\n  log_level: loud\n", "server.log_level"},
		{"bad sample rate", "audio:\n  sample_rate: 8000\n", "audio.sample_rate"},
		{"bad turn detection", "calls:\n  turn_detection: psychic\n", "calls.turn_detection"},
		{"bad disconnect policy", "calls:\n  on_disconnect: panic\n", "calls.on_disconnect"},
		{"negative max duration", "calls:\n  max_duration_s: -5\n", "calls.max_duration_s"},
		{"bad media port", "media:\n  port: 99999\n", "media.port"},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			t.Parallel()
			_, err := config.LoadFromReader(strings.NewReader(minimalYAML + c.mutate))
			if err == nil || !strings.Contains(err.Error(), c.want) {
				t.Fatalf("want error mentioning %q, got %v", c.want, err)
			}
		})
	}
}
