// Package mock provides an in-memory [liveapi.SessionHandle] for tests.
package mock

import (
	"sync"

	"github.com/arivox/arivox/pkg/liveapi"
)

// Compile-time check.
var _ liveapi.SessionHandle = (*Session)(nil)

// Session is a scriptable stand-in for a live session. Tests push events and
// audio with EmitEvent/EmitAudio and inspect what the bridge sent through
// the recorded call lists. The zero value is not usable; call NewSession.
type Session struct {
	mu sync.Mutex

	active     bool
	closed     bool
	errVal     error
	pendingIn  int
	responseID string

	// Recorded outbound traffic.
	Appended  [][]byte
	Commits   int
	Clears    int
	Created   []string
	Cancelled []string

	// Optional error injected into every outbound operation.
	FailWith error

	audioCh chan liveapi.AudioChunk
	eventCh chan liveapi.Event
}

// NewSession returns an active mock session with buffered channels.
func NewSession() *Session {
	return &Session{
		active:  true,
		audioCh: make(chan liveapi.AudioChunk, 64),
		eventCh: make(chan liveapi.Event, 32),
	}
}

// ── Scripting surface ──────────────────────────────────────────────────────────

// EmitEvent delivers ev to the bridge as if the server had sent it.
func (s *Session) EmitEvent(ev liveapi.Event) { s.eventCh <- ev }

// EmitAudio delivers one audio chunk to the bridge.
func (s *Session) EmitAudio(chunk liveapi.AudioChunk) { s.audioCh <- chunk }

// SetResponseID scripts the in-flight response id.
func (s *Session) SetResponseID(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.responseID = id
}

// SetErr scripts the terminal error returned by Err.
func (s *Session) SetErr(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.errVal = err
}

// Disconnect simulates a transport drop: emits EventDisconnected and closes
// both channels.
func (s *Session) Disconnect() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.active = false
	s.mu.Unlock()

	s.eventCh <- liveapi.Event{Type: liveapi.EventDisconnected}
	close(s.audioCh)
	close(s.eventCh)
}

// ── SessionHandle implementation ───────────────────────────────────────────────

func (s *Session) AppendAudio(frame []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.FailWith != nil {
		return s.FailWith
	}
	cp := make([]byte, len(frame))
	copy(cp, frame)
	s.Appended = append(s.Appended, cp)
	s.pendingIn += len(frame)
	return nil
}

func (s *Session) CommitInput() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.FailWith != nil {
		return s.FailWith
	}
	s.Commits++
	s.pendingIn = 0
	return nil
}

func (s *Session) ClearInput() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.FailWith != nil {
		return s.FailWith
	}
	s.Clears++
	s.pendingIn = 0
	return nil
}

func (s *Session) CreateResponse(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.FailWith != nil {
		return s.FailWith
	}
	s.Created = append(s.Created, id)
	s.responseID = id
	return nil
}

func (s *Session) CancelResponse(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.FailWith != nil {
		return s.FailWith
	}
	s.Cancelled = append(s.Cancelled, id)
	if s.responseID == id {
		s.responseID = ""
	}
	return nil
}

func (s *Session) Audio() <-chan liveapi.AudioChunk { return s.audioCh }

func (s *Session) Events() <-chan liveapi.Event { return s.eventCh }

func (s *Session) Active() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active && !s.closed
}

func (s *Session) PendingInput() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pendingIn
}

func (s *Session) CurrentResponseID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.responseID
}

func (s *Session) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.errVal
}

func (s *Session) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.active = false
	s.mu.Unlock()

	close(s.audioCh)
	close(s.eventCh)
	return nil
}
