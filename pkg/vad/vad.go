// Package vad implements frame-level voice activity detection for slin16
// audio streams.
//
// The detector classifies each frame by RMS energy and gates state
// transitions behind two hold timers: speech must persist for the speech-hold
// duration before the stream is considered speaking, and silence must persist
// for the silence-hold duration before it is considered silent again. The
// hold timers suppress flicker from single noisy or quiet frames.
//
// Each Detector maintains the state for a single audio stream and is not safe
// for concurrent use; create one Detector per stream. Multiple detectors are
// independent.
package vad

import (
	"time"

	"github.com/arivox/arivox/pkg/audio"
)

const (
	// DefaultEnergyThreshold is the RMS level above which a frame counts as
	// speech when no threshold is configured.
	DefaultEnergyThreshold = 4000

	// DefaultNoiseFloor rejects frames whose RMS is below the ambient noise
	// level regardless of the configured threshold.
	DefaultNoiseFloor = 2000

	// DefaultSpeechHold is the minimum continuous speech duration before the
	// silent→speaking transition fires.
	DefaultSpeechHold = 20 * time.Millisecond

	// DefaultSilenceHold is the minimum continuous silence duration before
	// the speaking→silent transition fires.
	DefaultSilenceHold = 500 * time.Millisecond

	// historySize bounds the rolling energy history used for AvgEnergy.
	historySize = 10
)

// Config holds the tuning parameters for a [Detector]. Zero values select
// the package defaults.
type Config struct {
	// EnergyThreshold is the RMS level above which a frame is classified as
	// speech. Default 4000.
	EnergyThreshold float64

	// NoiseFloor is an absolute RMS level below which frames are never
	// classified as speech, even when EnergyThreshold is tuned lower.
	// Default 2000.
	NoiseFloor float64

	// SpeechHold is how long speech frames must persist before the detector
	// reports speaking. Default 20 ms.
	SpeechHold time.Duration

	// SilenceHold is how long non-speech frames must persist before the
	// detector reports silence. Default 500 ms.
	SilenceHold time.Duration
}

// withDefaults fills zero fields with the package defaults.
func (c Config) withDefaults() Config {
	if c.EnergyThreshold <= 0 {
		c.EnergyThreshold = DefaultEnergyThreshold
	}
	if c.NoiseFloor <= 0 {
		c.NoiseFloor = DefaultNoiseFloor
	}
	if c.SpeechHold <= 0 {
		c.SpeechHold = DefaultSpeechHold
	}
	if c.SilenceHold <= 0 {
		c.SilenceHold = DefaultSilenceHold
	}
	return c
}

// Result is the detection outcome for a single frame.
type Result struct {
	// Speaking is the detector state after processing the frame.
	Speaking bool

	// SpeechStarted is true on the exact frame that completed the
	// silent→speaking transition.
	SpeechStarted bool

	// SpeechStopped is true on the exact frame that completed the
	// speaking→silent transition.
	SpeechStopped bool

	// Energy is the RMS energy of this frame.
	Energy float64

	// AvgEnergy is the mean over the rolling history (most recent frames,
	// including this one).
	AvgEnergy float64

	// Timestamp is the time the frame was processed.
	Timestamp time.Time
}

// Detector is the per-stream energy VAD state machine.
type Detector struct {
	cfg Config

	speaking     bool
	speechStart  time.Time // first frame of the current speech run; zero when none
	silenceStart time.Time // first frame of the current silence run; zero when none

	history [historySize]float64
	histLen int
	histPos int
}

// New creates a Detector with cfg (zero fields take defaults).
func New(cfg Config) *Detector {
	return &Detector{cfg: cfg.withDefaults()}
}

// ProcessFrame classifies one slin16 frame observed at now and advances the
// state machine. Malformed or empty frames yield an energy-0 result and leave
// all state untouched; ProcessFrame never fails.
func (d *Detector) ProcessFrame(frame []byte, now time.Time) Result {
	if len(frame) < audio.BytesPerSample || len(frame)%audio.BytesPerSample != 0 {
		return Result{Speaking: d.speaking, Timestamp: now}
	}

	energy := audio.RMSEnergy(frame)
	d.pushEnergy(energy)

	res := Result{
		Speaking:  d.speaking,
		Energy:    energy,
		AvgEnergy: d.avgEnergy(),
		Timestamp: now,
	}

	isSpeech := energy > d.cfg.NoiseFloor && energy > d.cfg.EnergyThreshold

	if isSpeech {
		// Any speech frame resets a pending silence run, even before the
		// speech hold is satisfied.
		d.silenceStart = time.Time{}

		if d.speaking {
			return res
		}
		if d.speechStart.IsZero() {
			d.speechStart = now
			return res
		}
		if now.Sub(d.speechStart) >= d.cfg.SpeechHold {
			d.speaking = true
			d.speechStart = time.Time{}
			res.Speaking = true
			res.SpeechStarted = true
		}
		return res
	}

	// Non-speech frame: a silent frame resets a pending speech run.
	d.speechStart = time.Time{}

	if !d.speaking {
		return res
	}
	if d.silenceStart.IsZero() {
		d.silenceStart = now
		return res
	}
	if now.Sub(d.silenceStart) >= d.cfg.SilenceHold {
		d.speaking = false
		d.silenceStart = time.Time{}
		res.Speaking = false
		res.SpeechStopped = true
	}
	return res
}

// Speaking reports the current detector state.
func (d *Detector) Speaking() bool { return d.speaking }

// Reset clears the energy history, hold timers, and the speaking flag. Use it
// when the audio stream restarts so stale state cannot leak into the next
// segment.
func (d *Detector) Reset() {
	d.speaking = false
	d.speechStart = time.Time{}
	d.silenceStart = time.Time{}
	d.histLen = 0
	d.histPos = 0
}

func (d *Detector) pushEnergy(e float64) {
	d.history[d.histPos] = e
	d.histPos = (d.histPos + 1) % historySize
	if d.histLen < historySize {
		d.histLen++
	}
}

func (d *Detector) avgEnergy() float64 {
	if d.histLen == 0 {
		return 0
	}
	var sum float64
	for i := range d.histLen {
		sum += d.history[i]
	}
	return sum / float64(d.histLen)
}
