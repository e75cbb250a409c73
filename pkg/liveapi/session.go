package liveapi

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/coder/websocket"
)

// ErrSessionClosed is returned by outbound operations after the session has
// been closed or the transport has dropped.
var ErrSessionClosed = errors.New("liveapi: session closed")

// ErrRateLimited is returned by outbound operations while the server's
// rate-limit pause is in effect.
var ErrRateLimited = errors.New("liveapi: rate limited")

// Session is one duplex conversation with the Live API. Created by
// [Client.Connect]; callers must Close it when the call ends.
//
// All methods are safe for concurrent use. The Audio and Events channels are
// owned by the receive loop and close together when the session ends.
type Session struct {
	conn    *websocket.Conn
	audioCh chan AudioChunk
	eventCh chan Event

	mu          sync.Mutex
	active      bool
	closed      bool
	errVal      error
	pendingIn   int       // bytes appended since the last commit/clear
	lastAudioAt time.Time // when audio was last appended
	responseID  string    // current response envelope, "" when none
	cancelledID string    // last cancelled response, for idempotent cancels
	pausedUntil time.Time // rate-limit pause deadline
	transcript  string    // accumulates response.text.delta

	ctx       context.Context
	cancel    context.CancelFunc
	closeOnce sync.Once
}

// sendSetup declares the session parameters. Called once by Connect before
// the receive loop starts.
func (s *Session) sendSetup(model, voice string, cfg SessionConfig) error {
	params := setupParams{
		Model:             model,
		Voice:             voice,
		Instructions:      cfg.Instructions,
		InputAudioFormat:  "pcm16",
		OutputAudioFormat: "pcm16",
		SampleRate:        16000,
		Tools:             cfg.Tools,
	}
	if cfg.ServerVAD != nil {
		params.TurnDetection = &turnDetection{
			Type:              "server_vad",
			Threshold:         cfg.ServerVAD.Threshold,
			SilenceDurationMs: cfg.ServerVAD.SilenceDurationMs,
		}
	}
	return s.writeJSON(setupMessage{Type: "setup", Setup: params})
}

// writeJSON marshals v and writes it as a text WebSocket message.
func (s *Session) writeJSON(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("liveapi: marshal: %w", err)
	}
	return s.conn.Write(s.ctx, websocket.MessageText, data)
}

// checkSendable gates outbound operations: the session must be open and not
// inside a rate-limit pause.
func (s *Session) checkSendable() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrSessionClosed
	}
	if !s.pausedUntil.IsZero() && time.Now().Before(s.pausedUntil) {
		return ErrRateLimited
	}
	return nil
}

// ── Outbound operations ────────────────────────────────────────────────────────

// AppendAudio enqueues one slin16 frame into the server's input buffer.
func (s *Session) AppendAudio(frame []byte) error {
	if err := s.checkSendable(); err != nil {
		return err
	}
	encoded := base64.StdEncoding.EncodeToString(frame)
	if err := s.writeJSON(appendAudioMessage{Type: "input_audio_buffer.append", Audio: encoded}); err != nil {
		return err
	}
	s.mu.Lock()
	s.pendingIn += len(frame)
	s.lastAudioAt = time.Now()
	s.mu.Unlock()
	return nil
}

// CommitInput marks the end of the user turn; the server begins generating a
// response from the buffered input.
func (s *Session) CommitInput() error {
	if err := s.checkSendable(); err != nil {
		return err
	}
	if err := s.writeJSON(bufferControlMessage{Type: "input_audio_buffer.commit"}); err != nil {
		return err
	}
	s.mu.Lock()
	s.pendingIn = 0
	s.mu.Unlock()
	return nil
}

// ClearInput discards the server-side input buffer.
func (s *Session) ClearInput() error {
	if err := s.checkSendable(); err != nil {
		return err
	}
	if err := s.writeJSON(bufferControlMessage{Type: "input_audio_buffer.clear"}); err != nil {
		return err
	}
	s.mu.Lock()
	s.pendingIn = 0
	s.mu.Unlock()
	return nil
}

// CreateResponse requests a response envelope with the given id.
func (s *Session) CreateResponse(id string) error {
	if err := s.checkSendable(); err != nil {
		return err
	}
	return s.writeJSON(responseControlMessage{Type: "response.create", ResponseID: id})
}

// CancelResponse aborts generation of the identified response. Cancelling a
// response that was already cancelled is a no-op.
func (s *Session) CancelResponse(id string) error {
	s.mu.Lock()
	if s.cancelledID == id && id != "" {
		s.mu.Unlock()
		return nil
	}
	s.cancelledID = id
	if s.responseID == id {
		s.responseID = ""
	}
	s.mu.Unlock()

	if err := s.checkSendable(); err != nil {
		return err
	}
	return s.writeJSON(responseControlMessage{Type: "response.cancel", ResponseID: id})
}

// ── Accessors ──────────────────────────────────────────────────────────────────

// Audio returns the channel carrying decoded response audio deltas. Closed
// when the session ends.
func (s *Session) Audio() <-chan AudioChunk { return s.audioCh }

// Events returns the lifecycle event channel. Closed when the session ends.
func (s *Session) Events() <-chan Event { return s.eventCh }

// Active reports whether the server has acknowledged setup.
func (s *Session) Active() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active && !s.closed
}

// PendingInput returns the byte count appended since the last commit or
// clear. Mirrors the server-side input buffer.
func (s *Session) PendingInput() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pendingIn
}

// CurrentResponseID returns the id of the in-flight response, or "".
func (s *Session) CurrentResponseID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.responseID
}

// Err returns the error that terminated the session, or nil while it is
// healthy or after a clean Close.
func (s *Session) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.errVal
}

// Close terminates the session and closes the Audio and Events channels via
// the receive loop. Idempotent.
func (s *Session) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.active = false
	s.mu.Unlock()

	s.cancel()
	s.conn.Close(websocket.StatusNormalClosure, "session closed")
	return nil
}

// ── Loops ──────────────────────────────────────────────────────────────────────

// receiveLoop reads events from the WebSocket and dispatches them. It owns
// audioCh and eventCh: it emits the final EventDisconnected and closes both
// when it exits.
func (s *Session) receiveLoop() {
	defer s.closeChannels()

	for {
		_, data, err := s.conn.Read(s.ctx)
		if err != nil {
			if s.ctx.Err() != nil {
				return
			}
			s.setErr(err)
			s.emit(Event{Type: EventDisconnected})
			return
		}

		var evt serverEvent
		if err := json.Unmarshal(data, &evt); err != nil {
			slog.Debug("liveapi: dropping unparseable event", "err", err)
			continue
		}

		s.handleServerEvent(&evt)
	}
}

// handleServerEvent routes one inbound event. Unknown types are logged and
// ignored so newer server versions stay compatible.
func (s *Session) handleServerEvent(evt *serverEvent) {
	switch evt.Type {
	case "setup_complete", "session.created":
		s.mu.Lock()
		s.active = true
		s.mu.Unlock()
		s.emit(Event{Type: EventSetupComplete})

	case "input_audio_buffer.speech_started":
		s.emit(Event{Type: EventSpeechStarted})

	case "input_audio_buffer.speech_stopped":
		s.emit(Event{Type: EventSpeechStopped})

	case "input_audio_buffer.committed":
		s.emit(Event{Type: EventInputCommitted})

	case "input_audio_buffer.cleared":
		s.emit(Event{Type: EventInputCleared})

	case "response.created":
		s.mu.Lock()
		s.responseID = evt.ResponseID
		s.transcript = ""
		s.mu.Unlock()
		s.emit(Event{Type: EventResponseCreated, ResponseID: evt.ResponseID})

	case "response.audio.delta":
		if evt.Audio == "" {
			return
		}
		data, err := base64.StdEncoding.DecodeString(evt.Audio)
		if err != nil || len(data) == 0 {
			slog.Debug("liveapi: dropping undecodable audio delta", "response_id", evt.ResponseID)
			return
		}
		select {
		case s.audioCh <- AudioChunk{ResponseID: evt.ResponseID, Data: data}:
		case <-s.ctx.Done():
		}

	case "response.audio.done":
		s.mu.Lock()
		if s.responseID == evt.ResponseID {
			s.responseID = ""
		}
		s.mu.Unlock()
		s.emit(Event{Type: EventAudioDone, ResponseID: evt.ResponseID})

	case "response.text.delta":
		s.mu.Lock()
		s.transcript += evt.Delta
		s.mu.Unlock()

	case "response.text.done":
		s.mu.Lock()
		text := s.transcript
		s.transcript = ""
		s.mu.Unlock()
		s.emit(Event{Type: EventTranscriptDone, ResponseID: evt.ResponseID, Text: text})

	case "error":
		s.handleErrorEvent(evt)

	default:
		slog.Debug("liveapi: ignoring unknown event type", "type", evt.Type)
	}
}

// handleErrorEvent applies rate-limit pauses and surfaces the error.
func (s *Session) handleErrorEvent(evt *serverEvent) {
	apiErr := evt.Error
	if apiErr == nil {
		apiErr = &APIError{Type: "unknown", Message: "error event without detail"}
	}

	if apiErr.IsRateLimit() {
		pause := time.Duration(apiErr.RetryAfterMs) * time.Millisecond
		if pause <= 0 {
			pause = time.Second
		}
		s.mu.Lock()
		s.pausedUntil = time.Now().Add(pause)
		s.mu.Unlock()
		slog.Warn("liveapi: rate limited, pausing outbound ops", "pause", pause)
	}

	s.emit(Event{Type: EventError, ResponseID: evt.ResponseID, Err: apiErr})
}

// heartbeatLoop pings the server at the keepalive interval. A ping that is
// not answered within the timeout terminates the session.
func (s *Session) heartbeatLoop(interval, timeout time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			pingCtx, cancel := context.WithTimeout(s.ctx, timeout)
			err := s.conn.Ping(pingCtx)
			cancel()
			if err != nil {
				if s.ctx.Err() != nil {
					return
				}
				s.setErr(fmt.Errorf("liveapi: heartbeat: %w", err))
				s.conn.Close(websocket.StatusGoingAway, "heartbeat timeout")
				return
			}
		}
	}
}

// emit delivers ev to the events channel unless the session is shutting
// down. A stalled consumer never blocks the receive loop indefinitely: the
// channel is buffered and teardown drains via ctx.
func (s *Session) emit(ev Event) {
	select {
	case s.eventCh <- ev:
	case <-s.ctx.Done():
	}
}

func (s *Session) setErr(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.errVal == nil {
		s.errVal = err
	}
}

func (s *Session) closeChannels() {
	s.closeOnce.Do(func() {
		close(s.audioCh)
		close(s.eventCh)
	})
}
