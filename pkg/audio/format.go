// Package audio provides the PCM primitives shared by the arivox pipeline:
// the canonical slin16 format description, frame validation, silence
// generation, RMS energy, linear resampling, gain scaling, and a bounded
// concurrency-safe byte buffer.
//
// Every frame crossing a component boundary is 16-bit signed little-endian
// PCM, mono, at the configured sample rate (16 kHz by default) unless it has
// been explicitly resampled.
package audio

import (
	"math"
	"time"
)

// BytesPerSample is the width of one slin16 sample.
const BytesPerSample = 2

// Format describes a PCM audio stream. The zero value is not useful; use
// [DefaultFormat] or construct explicitly.
type Format struct {
	// SampleRate in Hz. The canonical pipeline rate is 16000.
	SampleRate int

	// Channels is the channel count. The pipeline is mono end to end.
	Channels int
}

// DefaultFormat returns the canonical slin16 pipeline format: 16 kHz mono.
func DefaultFormat() Format {
	return Format{SampleRate: 16000, Channels: 1}
}

// FrameBytes returns the byte count of a frame of the given duration.
func (f Format) FrameBytes(d time.Duration) int {
	samples := int(int64(f.SampleRate) * int64(f.Channels) * int64(d) / int64(time.Second))
	return samples * BytesPerSample
}

// FrameDuration returns the play-out duration of n bytes in this format.
// Returns 0 for byte counts that are not sample-aligned.
func (f Format) FrameDuration(n int) time.Duration {
	if n%BytesPerSample != 0 || f.SampleRate <= 0 || f.Channels <= 0 {
		return 0
	}
	samples := n / BytesPerSample / f.Channels
	return time.Duration(samples) * time.Second / time.Duration(f.SampleRate)
}

// ValidFrame reports whether frame is a well-formed slin16 buffer: its length
// must be a whole number of samples. When wantDuration > 0 the length must
// additionally match that duration exactly in this format.
func (f Format) ValidFrame(frame []byte, wantDuration time.Duration) bool {
	if len(frame)%BytesPerSample != 0 {
		return false
	}
	if wantDuration > 0 && len(frame) != f.FrameBytes(wantDuration) {
		return false
	}
	return true
}

// Silence returns a zero-filled frame of exactly the byte count for d in this
// format.
func (f Format) Silence(d time.Duration) []byte {
	return make([]byte, f.FrameBytes(d))
}

// RMSEnergy computes the root-mean-square amplitude of a slin16 frame.
// Malformed input (empty, odd length) and non-finite results yield 0.
func RMSEnergy(frame []byte) float64 {
	if len(frame) < BytesPerSample || len(frame)%BytesPerSample != 0 {
		return 0
	}
	samples := len(frame) / BytesPerSample
	var sum float64
	for i := 0; i < len(frame); i += BytesPerSample {
		s := int16(frame[i]) | int16(frame[i+1])<<8
		sum += float64(s) * float64(s)
	}
	rms := math.Sqrt(sum / float64(samples))
	if math.IsNaN(rms) || math.IsInf(rms, 0) {
		return 0
	}
	return rms
}
