// Package session holds the per-call state: identity, lifecycle state
// machine, conversation turns, and call metrics.
//
// A [Session] is owned exclusively by the session manager; other components
// refer to calls by channel id and never hold a *Session across an event
// boundary. All methods are safe for concurrent use, but the intended shape
// is one writer (the manager's dispatch path) and occasional readers (admin
// snapshots, the sweeper).
package session

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// State is one node of the call lifecycle state machine.
type State int

const (
	// StateInitializing covers StasisStart until answer and external media
	// are requested.
	StateInitializing State = iota

	// StateActive means the channel is answered and the media leg is
	// requested; no caller audio seen yet.
	StateActive

	// StateWaitInput means the pipeline is idle, waiting for caller speech.
	StateWaitInput

	// StateProcessAudio means caller speech is flowing to the model.
	StateProcessAudio

	// StateGenResponse means the input turn is committed and the model is
	// generating.
	StateGenResponse

	// StatePlayResponse means model audio is streaming back to the caller.
	StatePlayResponse

	// StateEnded is terminal. No transitions leave it.
	StateEnded
)

// String returns the state name used in logs and the admin API.
func (s State) String() string {
	switch s {
	case StateInitializing:
		return "initializing"
	case StateActive:
		return "active"
	case StateWaitInput:
		return "wait_input"
	case StateProcessAudio:
		return "process_audio"
	case StateGenResponse:
		return "gen_response"
	case StatePlayResponse:
		return "play_response"
	case StateEnded:
		return "ended"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// allowed enumerates the legal state-machine edges. Ended is reachable from
// everywhere and has no outgoing edges.
var allowed = map[State][]State{
	StateInitializing: {StateActive},
	StateActive:       {StateWaitInput, StateProcessAudio},
	StateWaitInput:    {StateProcessAudio},
	StateProcessAudio: {StateGenResponse},
	StateGenResponse:  {StatePlayResponse, StateProcessAudio},
	StatePlayResponse: {StateWaitInput, StateProcessAudio},
}

// Direction classifies how the call reached the bridge.
type Direction string

const (
	DirectionInbound  Direction = "inbound"
	DirectionOutbound Direction = "outbound"
)

// Speaker identifies who produced a conversation turn.
type Speaker string

const (
	SpeakerUser      Speaker = "user"
	SpeakerAssistant Speaker = "assistant"
	SpeakerSystem    Speaker = "system"
)

// ContentType tags what a turn's payload holds.
type ContentType string

const (
	ContentAudio ContentType = "audio"
	ContentText  ContentType = "text"
)

// Turn is one contiguous contribution by a speaker.
type Turn struct {
	ID          string
	Speaker     Speaker
	ContentType ContentType

	// Transcript carries text when the model streamed one; empty for pure
	// audio turns.
	Transcript string

	StartedAt time.Time
	Duration  time.Duration

	// Confidence is the VAD confidence for user turns, 0 otherwise.
	Confidence float64
}

// Transition records one state change with its timestamp.
type Transition struct {
	From State
	To   State
	At   time.Time

	// Reason annotates forced transitions (hangup, timeout, error kinds).
	Reason string
}

// Metrics aggregates per-call counters.
type Metrics struct {
	UserTurns       int
	AssistantTurns  int
	TotalAudio      time.Duration
	Interruptions   int
	ResponseLatency time.Duration // mean over responses
	responseCount   int
	latencySum      time.Duration
}

// Session is one active (or recently ended) call.
type Session struct {
	ID           string
	ChannelID    string
	CallerNumber string
	CallerName   string
	Exten        string
	Direction    Direction
	CreatedAt    time.Time

	mu             sync.Mutex
	state          State
	channelState   string
	lastActivity   time.Time
	endedAt        time.Time
	endReason      string
	userSpeaking   bool
	assistSpeaking bool
	processing     bool
	responseID     string
	turns          []Turn
	transitions    []Transition
	metrics        Metrics
}

// New creates a session in StateInitializing for the given channel.
func New(channelID, callerNumber, callerName, exten string, dir Direction) *Session {
	now := time.Now()
	return &Session{
		ID:           uuid.NewString(),
		ChannelID:    channelID,
		CallerNumber: callerNumber,
		CallerName:   callerName,
		Exten:        exten,
		Direction:    dir,
		CreatedAt:    now,
		state:        StateInitializing,
		lastActivity: now,
	}
}

// Transition moves the session to the given state, recording the edge.
// Transitions out of StateEnded are rejected; illegal edges are rejected.
// reason annotates the record and, for StateEnded, becomes the end reason.
func (s *Session) Transition(to State, reason string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state == StateEnded {
		return fmt.Errorf("session %s: transition from ended state rejected", s.ID)
	}
	if to != StateEnded && !edgeAllowed(s.state, to) {
		return fmt.Errorf("session %s: illegal transition %s -> %s", s.ID, s.state, to)
	}

	now := time.Now()
	s.transitions = append(s.transitions, Transition{From: s.state, To: to, At: now, Reason: reason})
	s.state = to
	s.lastActivity = now
	if to == StateEnded {
		s.endedAt = now
		s.endReason = reason
	}
	return nil
}

func edgeAllowed(from, to State) bool {
	for _, s := range allowed[from] {
		if s == to {
			return true
		}
	}
	return false
}

// State returns the current lifecycle state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Ended reports whether the session reached its terminal state.
func (s *Session) Ended() bool { return s.State() == StateEnded }

// EndReason returns the annotation from the terminal transition.
func (s *Session) EndReason() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.endReason
}

// EndedAt returns when the session ended (zero while active).
func (s *Session) EndedAt() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.endedAt
}

// Touch refreshes the last-activity timestamp.
func (s *Session) Touch() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastActivity = time.Now()
}

// LastActivity returns the last-activity timestamp.
func (s *Session) LastActivity() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastActivity
}

// Age returns how long the session has existed.
func (s *Session) Age() time.Duration { return time.Since(s.CreatedAt) }

// SetChannelState records the PBX channel state annotation
// (ChannelStateChange events).
func (s *Session) SetChannelState(state string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.channelState = state
	s.lastActivity = time.Now()
}

// ── Audio flags ────────────────────────────────────────────────────────────────

// SetUserSpeaking flips the caller-speaking flag.
func (s *Session) SetUserSpeaking(v bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.userSpeaking = v
	s.lastActivity = time.Now()
}

// SetAssistantSpeaking flips the assistant-playback flag.
func (s *Session) SetAssistantSpeaking(v bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.assistSpeaking = v
	s.lastActivity = time.Now()
}

// SetProcessing flips the model-busy flag.
func (s *Session) SetProcessing(v bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.processing = v
}

// SetResponseID records the current Live API response envelope.
func (s *Session) SetResponseID(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.responseID = id
}

// ResponseID returns the current Live API response id, or "".
func (s *Session) ResponseID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.responseID
}

// ── Turns & metrics ────────────────────────────────────────────────────────────

// AddUserTurn appends an audio turn by the caller.
func (s *Session) AddUserTurn(startedAt time.Time, duration time.Duration, confidence float64) Turn {
	t := Turn{
		ID:          uuid.NewString(),
		Speaker:     SpeakerUser,
		ContentType: ContentAudio,
		StartedAt:   startedAt,
		Duration:    duration,
		Confidence:  confidence,
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.turns = append(s.turns, t)
	s.metrics.UserTurns++
	s.metrics.TotalAudio += duration
	s.lastActivity = time.Now()
	return t
}

// AddAssistantTurn appends an audio turn by the model, with its transcript
// when one was streamed.
func (s *Session) AddAssistantTurn(startedAt time.Time, duration time.Duration, transcript string) Turn {
	t := Turn{
		ID:          uuid.NewString(),
		Speaker:     SpeakerAssistant,
		ContentType: ContentAudio,
		Transcript:  transcript,
		StartedAt:   startedAt,
		Duration:    duration,
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.turns = append(s.turns, t)
	s.metrics.AssistantTurns++
	s.metrics.TotalAudio += duration
	s.lastActivity = time.Now()
	return t
}

// RecordInterruption bumps the interruption counter.
func (s *Session) RecordInterruption() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.metrics.Interruptions++
}

// RecordResponseLatency folds one commit-to-first-audio latency into the
// running mean.
func (s *Session) RecordResponseLatency(d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.metrics.latencySum += d
	s.metrics.responseCount++
	s.metrics.ResponseLatency = s.metrics.latencySum / time.Duration(s.metrics.responseCount)
}

// Turns returns a copy of the recorded turns.
func (s *Session) Turns() []Turn {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Turn, len(s.turns))
	copy(out, s.turns)
	return out
}

// Stats returns a copy of the call metrics.
func (s *Session) Stats() Metrics {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.metrics
}

// Snapshot is the read-only view served by the admin API.
type Snapshot struct {
	ID            string        `json:"id"`
	ChannelID     string        `json:"channel_id"`
	CallerNumber  string        `json:"caller_number"`
	CallerName    string        `json:"caller_name,omitempty"`
	Direction     Direction     `json:"direction"`
	State         string        `json:"state"`
	ChannelState  string        `json:"channel_state,omitempty"`
	CreatedAt     time.Time     `json:"created_at"`
	LastActivity  time.Time     `json:"last_activity"`
	UserSpeaking  bool          `json:"user_speaking"`
	Processing    bool          `json:"processing"`
	Playing       bool          `json:"playing"`
	ResponseID    string        `json:"response_id,omitempty"`
	Turns         int           `json:"turns"`
	Interruptions int           `json:"interruptions"`
	TotalAudioMs  int64         `json:"total_audio_ms"`
	MeanLatencyMs int64         `json:"mean_latency_ms"`
	Age           time.Duration `json:"-"`
	EndReason     string        `json:"end_reason,omitempty"`
}

// Snapshot captures the session for observers without exposing internals.
func (s *Session) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Snapshot{
		ID:            s.ID,
		ChannelID:     s.ChannelID,
		CallerNumber:  s.CallerNumber,
		CallerName:    s.CallerName,
		Direction:     s.Direction,
		State:         s.state.String(),
		ChannelState:  s.channelState,
		CreatedAt:     s.CreatedAt,
		LastActivity:  s.lastActivity,
		UserSpeaking:  s.userSpeaking,
		Processing:    s.processing,
		Playing:       s.assistSpeaking,
		ResponseID:    s.responseID,
		Turns:         len(s.turns),
		Interruptions: s.metrics.Interruptions,
		TotalAudioMs:  s.metrics.TotalAudio.Milliseconds(),
		MeanLatencyMs: s.metrics.ResponseLatency.Milliseconds(),
		Age:           time.Since(s.CreatedAt),
		EndReason:     s.endReason,
	}
}
