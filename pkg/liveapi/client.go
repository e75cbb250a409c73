// Package liveapi implements the duplex streaming client for the Live API:
// a bidirectional WebSocket carrying base64-encoded slin16 audio and JSON
// control events.
//
// A [Client] holds the endpoint identity; [Client.Connect] opens a
// [Session], sends the setup message declaring model, voice, audio formats
// and turn-detection config, and starts the receive loop that demultiplexes
// server events onto the session's Audio and Events channels. Outbound
// operations (append, commit, clear, create/cancel response) are plain
// methods that return an error instead of raising when the session is gone.
//
// The client never reconnects on its own; when the transport drops it emits
// a final EventDisconnected and closes both channels, leaving the
// reconnection decision to the caller.
package liveapi

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/coder/websocket"
)

// Compile-time check that the exported surface stays assertable in tests.
var _ SessionHandle = (*Session)(nil)

const (
	defaultModel = "live-s2s-1"
	defaultVoice = "aria"

	// defaultHeartbeatInterval and defaultHeartbeatTimeout shape the WS
	// keepalive: a ping every 30 s that must be answered within 10 s.
	defaultHeartbeatInterval = 30 * time.Second
	defaultHeartbeatTimeout  = 10 * time.Second

	// channel depths for the demux fan-out.
	audioChanDepth = 64
	eventChanDepth = 32
)

// SessionHandle is the interface the rest of the bridge programs against so
// tests can substitute a mock session.
type SessionHandle interface {
	AppendAudio(frame []byte) error
	CommitInput() error
	ClearInput() error
	CreateResponse(id string) error
	CancelResponse(id string) error
	Audio() <-chan AudioChunk
	Events() <-chan Event
	Active() bool
	PendingInput() int
	CurrentResponseID() string
	Err() error
	Close() error
}

// Option is a functional option for configuring a Client.
type Option func(*Client)

// WithModel sets the model requested in the setup message.
func WithModel(model string) Option {
	return func(c *Client) { c.model = model }
}

// WithVoice sets the synthesis voice requested in the setup message.
func WithVoice(voice string) Option {
	return func(c *Client) { c.voice = voice }
}

// WithHeartbeat overrides the keepalive interval and timeout. Primarily used
// in tests to keep suites fast.
func WithHeartbeat(interval, timeout time.Duration) Option {
	return func(c *Client) {
		c.heartbeatInterval = interval
		c.heartbeatTimeout = timeout
	}
}

// Client holds the Live API endpoint identity. It is safe for concurrent
// use; each Connect call produces an independent session.
type Client struct {
	url    string
	apiKey string
	model  string
	voice  string

	heartbeatInterval time.Duration
	heartbeatTimeout  time.Duration
}

// NewClient creates a Client for the WebSocket endpoint url, authenticated
// with apiKey (appended as the key query parameter).
func NewClient(url, apiKey string, opts ...Option) *Client {
	c := &Client{
		url:               url,
		apiKey:            apiKey,
		model:             defaultModel,
		voice:             defaultVoice,
		heartbeatInterval: defaultHeartbeatInterval,
		heartbeatTimeout:  defaultHeartbeatTimeout,
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// SessionConfig is the per-session configuration carried in the setup
// message.
type SessionConfig struct {
	// Instructions is the system prompt for the model.
	Instructions string

	// ServerVAD configures server-side turn detection. Nil declares
	// client-side turn boundaries (the bridge commits explicitly).
	ServerVAD *ServerVADConfig

	// Tools are opaque tool declarations forwarded in the setup message.
	Tools []Tool
}

// ServerVADConfig tunes the Live API's own turn detector.
type ServerVADConfig struct {
	Threshold         float64
	SilenceDurationMs int
}

// Connect dials the Live API and opens a new session. The setup message is
// sent before Connect returns; the session becomes Active once the server
// acknowledges it with a setup_complete (or session.created) event.
func (c *Client) Connect(ctx context.Context, cfg SessionConfig) (*Session, error) {
	wsURL := fmt.Sprintf("%s?key=%s", c.url, c.apiKey)

	conn, _, err := websocket.Dial(ctx, wsURL, &websocket.DialOptions{
		HTTPHeader: http.Header{
			"User-Agent": []string{"arivox"},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("liveapi: dial: %w", err)
	}

	sessCtx, sessCancel := context.WithCancel(context.Background())
	sess := &Session{
		conn:    conn,
		audioCh: make(chan AudioChunk, audioChanDepth),
		eventCh: make(chan Event, eventChanDepth),
		ctx:     sessCtx,
		cancel:  sessCancel,
	}

	if err := sess.sendSetup(c.model, c.voice, cfg); err != nil {
		sessCancel()
		conn.Close(websocket.StatusInternalError, "setup failed")
		return nil, fmt.Errorf("liveapi: setup: %w", err)
	}

	go sess.receiveLoop()
	go sess.heartbeatLoop(c.heartbeatInterval, c.heartbeatTimeout)

	return sess, nil
}
