package liveapi

import "fmt"

// EventType enumerates the session lifecycle events surfaced on
// [Session.Events]. Audio deltas travel on the dedicated [Session.Audio]
// channel instead; everything else lands here.
type EventType int

const (
	// EventSetupComplete fires when the server acknowledges the setup
	// message and the session becomes active.
	EventSetupComplete EventType = iota

	// EventSpeechStarted mirrors the server-side VAD detecting user speech.
	EventSpeechStarted

	// EventSpeechStopped mirrors the server-side VAD detecting end of user
	// speech.
	EventSpeechStopped

	// EventInputCommitted acknowledges a commit of the input audio buffer.
	EventInputCommitted

	// EventInputCleared acknowledges a clear of the input audio buffer.
	EventInputCleared

	// EventResponseCreated carries the id of a newly opened response
	// envelope.
	EventResponseCreated

	// EventAudioDone marks the end of a response's audio stream.
	EventAudioDone

	// EventTranscriptDone carries the complete transcript text of a
	// response once its text stream finishes.
	EventTranscriptDone

	// EventError carries a server-reported error in Err.
	EventError

	// EventDisconnected is the final event before the channels close when
	// the transport drops.
	EventDisconnected
)

// String returns the event type name used in logs.
func (t EventType) String() string {
	switch t {
	case EventSetupComplete:
		return "setup_complete"
	case EventSpeechStarted:
		return "speech_started"
	case EventSpeechStopped:
		return "speech_stopped"
	case EventInputCommitted:
		return "input_committed"
	case EventInputCleared:
		return "input_cleared"
	case EventResponseCreated:
		return "response_created"
	case EventAudioDone:
		return "audio_done"
	case EventTranscriptDone:
		return "transcript_done"
	case EventError:
		return "error"
	case EventDisconnected:
		return "disconnected"
	default:
		return fmt.Sprintf("event(%d)", int(t))
	}
}

// Event is one lifecycle notification from the session's demux loop.
type Event struct {
	Type EventType

	// ResponseID identifies the response for response-scoped events.
	ResponseID string

	// Text is the transcript payload for EventTranscriptDone.
	Text string

	// Err is populated for EventError.
	Err *APIError
}

// AudioChunk is one decoded slin16 audio delta from the model.
type AudioChunk struct {
	// ResponseID identifies the response this chunk belongs to.
	ResponseID string

	// Data is raw slin16 audio.
	Data []byte
}

// APIError is a structured error reported by the Live API inside an error
// event: {"type":"error","error":{"type":"...","code":"...","message":"..."}}.
type APIError struct {
	Type         string `json:"type"`
	Code         string `json:"code,omitempty"`
	Message      string `json:"message"`
	RetryAfterMs int    `json:"retry_after_ms,omitempty"`
}

// Error implements the error interface.
func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("live api: %s [%s]: %s", e.Type, e.Code, e.Message)
	}
	return fmt.Sprintf("live api: %s: %s", e.Type, e.Message)
}

// IsRateLimit reports whether the error is a rate-limit rejection that
// should pause outbound operations.
func (e *APIError) IsRateLimit() bool {
	return e.Type == "rate_limit" || e.Code == "rate_limit_exceeded"
}

// ── Wire messages (outgoing) ───────────────────────────────────────────────────

type setupMessage struct {
	Type  string      `json:"type"`
	Setup setupParams `json:"setup"`
}

type setupParams struct {
	Model             string         `json:"model"`
	Voice             string         `json:"voice,omitempty"`
	Instructions      string         `json:"instructions,omitempty"`
	InputAudioFormat  string         `json:"input_audio_format"`
	OutputAudioFormat string         `json:"output_audio_format"`
	SampleRate        int            `json:"sample_rate"`
	TurnDetection     *turnDetection `json:"turn_detection,omitempty"`
	Tools             []Tool         `json:"tools,omitempty"`
}

type turnDetection struct {
	Type              string  `json:"type"`
	Threshold         float64 `json:"threshold,omitempty"`
	SilenceDurationMs int     `json:"silence_duration_ms,omitempty"`
}

// Tool is an opaque tool declaration forwarded verbatim in the setup
// message. The bridge does not execute tools; it only declares them.
type Tool struct {
	Type        string         `json:"type"`
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	Parameters  map[string]any `json:"parameters,omitempty"`
}

type appendAudioMessage struct {
	Type  string `json:"type"`
	Audio string `json:"audio"` // base64-encoded slin16
}

type bufferControlMessage struct {
	Type string `json:"type"`
}

type responseControlMessage struct {
	Type       string `json:"type"`
	ResponseID string `json:"response_id,omitempty"`
}

// ── Wire messages (incoming) ───────────────────────────────────────────────────

// serverEvent is the union of all inbound JSON event shapes, tagged by Type.
type serverEvent struct {
	Type string `json:"type"`

	// response.audio.delta carries base64 audio here; input transcription
	// events reuse the field name on some backends.
	Audio string `json:"audio,omitempty"`

	// response.text.delta carries incremental transcript text.
	Delta string `json:"delta,omitempty"`

	// Response-scoped events identify their envelope.
	ResponseID string `json:"response_id,omitempty"`

	// error event detail.
	Error *APIError `json:"error,omitempty"`
}
