package session_test

import (
	"testing"
	"time"

	"github.com/arivox/arivox/internal/session"
)

func newTestSession() *session.Session {
	return session.New("ch-1", "+15551234", "Alice", "100", session.DirectionInbound)
}

// ─── TestNew_StartsInitializing ──────────────────────────────────────────────

func TestNew_StartsInitializing(t *testing.T) {
	t.Parallel()

	s := newTestSession()
	if s.State() != session.StateInitializing {
		t.Errorf("state = %v; want initializing", s.State())
	}
	if s.ID == "" {
		t.Error("session id should be assigned")
	}
	if s.ChannelID != "ch-1" {
		t.Errorf("channel id = %q; want ch-1", s.ChannelID)
	}
}

// ─── TestTransition_HappyPath ────────────────────────────────────────────────

func TestTransition_HappyPath(t *testing.T) {
	t.Parallel()

	s := newTestSession()
	steps := []session.State{
		session.StateActive,
		session.StateWaitInput,
		session.StateProcessAudio,
		session.StateGenResponse,
		session.StatePlayResponse,
		session.StateWaitInput,
	}
	for _, next := range steps {
		if err := s.Transition(next, ""); err != nil {
			t.Fatalf("Transition(%v): %v", next, err)
		}
	}
	if s.State() != session.StateWaitInput {
		t.Errorf("final state = %v; want wait_input", s.State())
	}
}

// ─── TestTransition_EndedIsTerminal ──────────────────────────────────────────

func TestTransition_EndedIsTerminal(t *testing.T) {
	t.Parallel()

	s := newTestSession()
	if err := s.Transition(session.StateEnded, "hangup"); err != nil {
		t.Fatalf("Transition(ended): %v", err)
	}
	if !s.Ended() {
		t.Fatal("Ended() = false after terminal transition")
	}
	if s.EndReason() != "hangup" {
		t.Errorf("end reason = %q; want hangup", s.EndReason())
	}
	if err := s.Transition(session.StateActive, ""); err == nil {
		t.Error("transition out of ended must be rejected")
	}
}

// ─── TestTransition_EndedReachableFromAnywhere ───────────────────────────────

func TestTransition_EndedReachableFromAnywhere(t *testing.T) {
	t.Parallel()

	mid := newTestSession()
	_ = mid.Transition(session.StateActive, "")
	_ = mid.Transition(session.StateWaitInput, "")
	_ = mid.Transition(session.StateProcessAudio, "")
	if err := mid.Transition(session.StateEnded, "timeout_exceeded"); err != nil {
		t.Fatalf("ended from process_audio: %v", err)
	}
}

// ─── TestTransition_RejectsIllegalEdges ──────────────────────────────────────

func TestTransition_RejectsIllegalEdges(t *testing.T) {
	t.Parallel()

	s := newTestSession()
	if err := s.Transition(session.StatePlayResponse, ""); err == nil {
		t.Error("initializing -> play_response must be rejected")
	}
	if s.State() != session.StateInitializing {
		t.Errorf("state changed after rejected transition: %v", s.State())
	}
}

// ─── TestInterruption_GenResponseBackToProcessAudio ──────────────────────────

func TestInterruption_GenResponseBackToProcessAudio(t *testing.T) {
	t.Parallel()

	s := newTestSession()
	_ = s.Transition(session.StateActive, "")
	_ = s.Transition(session.StateWaitInput, "")
	_ = s.Transition(session.StateProcessAudio, "")
	_ = s.Transition(session.StateGenResponse, "")

	if err := s.Transition(session.StateProcessAudio, "interruption"); err != nil {
		t.Fatalf("interruption edge: %v", err)
	}
	s.RecordInterruption()
	if got := s.Stats().Interruptions; got != 1 {
		t.Errorf("interruptions = %d; want 1", got)
	}
}

// ─── TestTurns_RecordedWithMetrics ───────────────────────────────────────────

func TestTurns_RecordedWithMetrics(t *testing.T) {
	t.Parallel()

	s := newTestSession()
	start := time.Now()

	s.AddUserTurn(start, 2*time.Second, 0.9)
	s.AddAssistantTurn(start.Add(3*time.Second), 4*time.Second, "Hello, how can I help?")

	turns := s.Turns()
	if len(turns) != 2 {
		t.Fatalf("turns = %d; want 2", len(turns))
	}
	if turns[0].Speaker != session.SpeakerUser || turns[1].Speaker != session.SpeakerAssistant {
		t.Errorf("speakers = %v, %v", turns[0].Speaker, turns[1].Speaker)
	}
	if turns[0].Confidence != 0.9 {
		t.Errorf("user confidence = %v; want 0.9", turns[0].Confidence)
	}
	if turns[1].Transcript != "Hello, how can I help?" {
		t.Errorf("assistant transcript = %q", turns[1].Transcript)
	}

	m := s.Stats()
	if m.UserTurns != 1 || m.AssistantTurns != 1 {
		t.Errorf("turn counts = %d/%d; want 1/1", m.UserTurns, m.AssistantTurns)
	}
	if m.TotalAudio != 6*time.Second {
		t.Errorf("total audio = %v; want 6s", m.TotalAudio)
	}
}

// ─── TestResponseLatency_RunningMean ─────────────────────────────────────────

func TestResponseLatency_RunningMean(t *testing.T) {
	t.Parallel()

	s := newTestSession()
	s.RecordResponseLatency(100 * time.Millisecond)
	s.RecordResponseLatency(300 * time.Millisecond)

	if got := s.Stats().ResponseLatency; got != 200*time.Millisecond {
		t.Errorf("mean latency = %v; want 200ms", got)
	}
}

// ─── TestSnapshot_ReflectsState ──────────────────────────────────────────────

func TestSnapshot_ReflectsState(t *testing.T) {
	t.Parallel()

	s := newTestSession()
	_ = s.Transition(session.StateActive, "")
	s.SetUserSpeaking(true)
	s.SetChannelState("Up")
	s.AddUserTurn(time.Now(), time.Second, 0.8)

	snap := s.Snapshot()
	if snap.State != "active" {
		t.Errorf("snapshot state = %q; want active", snap.State)
	}
	if !snap.UserSpeaking {
		t.Error("snapshot should show user speaking")
	}
	if snap.ChannelState != "Up" {
		t.Errorf("channel state = %q; want Up", snap.ChannelState)
	}
	if snap.Turns != 1 {
		t.Errorf("turns = %d; want 1", snap.Turns)
	}
}
