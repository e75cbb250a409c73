package app

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/arivox/arivox/internal/ari"
	"github.com/arivox/arivox/internal/config"
	"github.com/arivox/arivox/internal/faults"
	"github.com/arivox/arivox/internal/media"
	"github.com/arivox/arivox/internal/observe"
	"github.com/arivox/arivox/internal/session"
	"github.com/arivox/arivox/pkg/audio"
	"github.com/arivox/arivox/pkg/liveapi"
	"github.com/arivox/arivox/pkg/vad"
)

// MediaPlane is the slice of the external-media server the manager uses.
type MediaPlane interface {
	SendAudio(channelID string, data []byte) error
	ClearOutbound(channelID string)
	CloseChannel(channelID string)
	Connected(channelID string) bool
}

// Connector opens one Live API session per call.
type Connector interface {
	Connect(ctx context.Context) (liveapi.SessionHandle, error)
}

// ConnectorFunc adapts a function to the Connector interface.
type ConnectorFunc func(ctx context.Context) (liveapi.SessionHandle, error)

func (f ConnectorFunc) Connect(ctx context.Context) (liveapi.SessionHandle, error) { return f(ctx) }

// Status classifies the outcome of one dispatched ARI event.
type Status string

const (
	StatusHandled Status = "handled"
	StatusIgnored Status = "ignored"
	StatusError   Status = "error"
)

// Result is the structured outcome of one dispatched ARI event.
type Result struct {
	Status  Status
	Action  string
	Message string
}

const (
	// preSetupBuffer bounds caller audio held back while the Live API setup
	// handshake is still in flight.
	preSetupBuffer = 500 * time.Millisecond

	// endedRetention keeps ended sessions visible to the admin API before
	// the sweeper evicts them.
	endedRetention = 30 * time.Second

	// mediaArrivalTimeout bounds how long a call may wait for its external
	// media leg before it is abandoned.
	mediaArrivalTimeout = 10 * time.Second

	// eventHandlerTimeout is the soft budget for one dispatched ARI event,
	// so a stalled REST call cannot wedge the event loop.
	eventHandlerTimeout = 5 * time.Second

	sweepInterval = 5 * time.Second
)

// call bundles everything owned by one active channel.
type call struct {
	sess *session.Session
	live liveapi.SessionHandle
	det  *vad.Detector

	cancel context.CancelFunc

	mu            sync.Mutex
	setupDone     bool
	preBuf        *audio.Buffer
	speechStart   time.Time
	commitAt      time.Time
	playbackStart time.Time
	playedBytes   int
	transcript    string
	lastAvgEnergy float64
}

// Manager owns the active-session map and drives each call's state machine
// from three inputs: ARI events, inbound media frames, and Live API events.
type Manager struct {
	cfg     *config.Config
	ctrl    ari.ControlPlane
	media   MediaPlane
	connect Connector
	metrics *observe.Metrics
	format  audio.Format

	// externalHost is handed to the PBX in the externalMedia request.
	externalHost string

	// retention controls how long ended sessions stay visible to the admin
	// API before the sweeper evicts them.
	retention time.Duration

	// mediaWait bounds how long a call may wait for its media leg.
	mediaWait time.Duration

	// handlerBudget bounds one HandleEvent dispatch.
	handlerBudget time.Duration

	mu     sync.Mutex
	calls  map[string]*call            // by channel id
	recent map[string]*session.Session // ended, retained for stats
}

// NewManager wires the session manager. ctrl, mediaPlane and connector are
// interfaces so tests can substitute mocks.
func NewManager(cfg *config.Config, ctrl ari.ControlPlane, mediaPlane MediaPlane, connector Connector, metrics *observe.Metrics) *Manager {
	f := audio.Format{SampleRate: cfg.Audio.SampleRate, Channels: 1}
	return &Manager{
		cfg:           cfg,
		ctrl:          ctrl,
		media:         mediaPlane,
		connect:       connector,
		metrics:       metrics,
		format:        f,
		externalHost:  fmt.Sprintf("%s:%d", cfg.Media.Host, cfg.Media.Port),
		retention:     endedRetention,
		mediaWait:     mediaArrivalTimeout,
		handlerBudget: eventHandlerTimeout,
		calls:         make(map[string]*call),
		recent:        make(map[string]*session.Session),
	}
}

// ActiveCount returns the number of live calls.
func (m *Manager) ActiveCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.calls)
}

// Snapshots returns admin views of all active and recently ended sessions.
func (m *Manager) Snapshots() []session.Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]session.Snapshot, 0, len(m.calls)+len(m.recent))
	for _, c := range m.calls {
		out = append(out, c.sess.Snapshot())
	}
	for _, s := range m.recent {
		out = append(out, s.Snapshot())
	}
	return out
}

// ── ARI event dispatch ─────────────────────────────────────────────────────────

// HandleEvent routes one ARI event. It never panics outward; handler
// failures come back as a StatusError result and the dispatcher keeps going.
func (m *Manager) HandleEvent(ctx context.Context, ev *ari.Event) Result {
	ctx, cancel := context.WithTimeout(ctx, m.handlerBudget)
	defer cancel()

	switch ev.Type {
	case ari.EventStasisStart:
		return m.onStasisStart(ctx, ev)
	case ari.EventStasisEnd:
		return m.onStasisEnd(ctx, ev, "hangup")
	case ari.EventChannelHangupRequest:
		return m.onStasisEnd(ctx, ev, "hangup_requested")
	case ari.EventChannelStateChange:
		return m.onChannelStateChange(ev)
	default:
		slog.Debug("dispatcher: ignoring event", "type", ev.Type)
		return Result{Status: StatusIgnored, Message: "unhandled event type " + ev.Type}
	}
}

func (m *Manager) onStasisStart(ctx context.Context, ev *ari.Event) Result {
	channelID := ev.ChannelID()
	if channelID == "" {
		return Result{Status: StatusError, Message: "StasisStart without channel"}
	}

	m.mu.Lock()
	if _, exists := m.calls[channelID]; exists {
		m.mu.Unlock()
		return Result{Status: StatusIgnored, Message: "session already active for " + channelID}
	}

	sess := session.New(channelID, ev.Channel.Caller.Number, ev.Channel.Caller.Name,
		ev.Channel.Dialplan.Exten, session.DirectionInbound)
	callCtx, cancel := context.WithCancel(context.Background())
	c := &call{
		sess:   sess,
		det:    vad.New(m.vadConfig()),
		cancel: cancel,
		preBuf: audio.NewBuffer(m.format.FrameBytes(preSetupBuffer)),
	}
	m.calls[channelID] = c
	m.mu.Unlock()

	m.metrics.ActiveSessions.Add(ctx, 1)
	slog.Info("session started",
		"session_id", sess.ID,
		"channel_id", channelID,
		"caller", sess.CallerNumber,
	)

	// Answer and request the media leg. Failures are logged but do not kill
	// the session: some PBX configurations answer implicitly and the media
	// leg may still arrive.
	if m.cfg.Calls.AutoAnswerEnabled() {
		if err := m.ctrl.Answer(ctx, channelID); err != nil {
			slog.Warn("answer failed, continuing", "channel_id", channelID, "err", err)
		}
	}
	if err := m.ctrl.StartExternalMedia(ctx, channelID, m.externalHost); err != nil {
		slog.Warn("externalMedia request failed, continuing", "channel_id", channelID, "err", err)
	}

	live, err := m.connect.Connect(ctx)
	if err != nil {
		ferr := faults.Wrap(faults.KindOf(err), err, "live api connect").WithSession(sess.ID, channelID)
		slog.Error("live api connect failed, ending session", "channel_id", channelID, "err", ferr)
		if faults.IsFailure(ferr) {
			m.metrics.RecordSessionError(ctx, string(ferr.Kind))
		}
		m.teardown(ctx, channelID, "live_api_unavailable", true)
		return Result{Status: StatusError, Action: "session_aborted", Message: ferr.Error()}
	}

	c.mu.Lock()
	c.live = live
	c.mu.Unlock()

	if err := sess.Transition(session.StateActive, ""); err != nil {
		slog.Error("transition failed", "session_id", sess.ID, "err", err)
	}

	go m.pumpLive(callCtx, c)
	return Result{Status: StatusHandled, Action: "session_started"}
}

func (m *Manager) onStasisEnd(ctx context.Context, ev *ari.Event, reason string) Result {
	channelID := ev.ChannelID()
	if channelID == "" {
		return Result{Status: StatusError, Message: ev.Type + " without channel"}
	}
	if !m.teardown(ctx, channelID, reason, false) {
		// Double StasisEnd is idempotent.
		return Result{Status: StatusIgnored, Message: "no active session for " + channelID}
	}
	return Result{Status: StatusHandled, Action: "session_ended"}
}

func (m *Manager) onChannelStateChange(ev *ari.Event) Result {
	c := m.lookup(ev.ChannelID())
	if c == nil {
		return Result{Status: StatusIgnored, Message: "no active session for " + ev.ChannelID()}
	}
	c.sess.SetChannelState(ev.Channel.State)
	return Result{Status: StatusHandled, Action: "state_recorded"}
}

// teardown ends the call unconditionally: cancels the pump, closes the Live
// API session, clears the outbound media queue, and moves the session into
// the retained map. hangup additionally tears the channel down via REST.
// Returns false when no active call existed for the channel.
func (m *Manager) teardown(ctx context.Context, channelID, reason string, hangup bool) bool {
	m.mu.Lock()
	c, ok := m.calls[channelID]
	if !ok {
		m.mu.Unlock()
		return false
	}
	delete(m.calls, channelID)
	m.recent[c.sess.ID] = c.sess
	m.mu.Unlock()

	c.cancel()
	c.mu.Lock()
	live := c.live
	c.mu.Unlock()
	if live != nil {
		if id := live.CurrentResponseID(); id != "" {
			_ = live.CancelResponse(id)
		}
		_ = live.Close()
	}
	m.media.ClearOutbound(channelID)
	m.media.CloseChannel(channelID)

	if err := c.sess.Transition(session.StateEnded, reason); err != nil {
		slog.Debug("terminal transition", "session_id", c.sess.ID, "err", err)
	}
	if hangup {
		if err := m.ctrl.Hangup(ctx, channelID); err != nil {
			slog.Warn("hangup failed", "channel_id", channelID, "err", err)
		}
	}

	m.metrics.ActiveSessions.Add(ctx, -1)
	m.metrics.CallDuration.Record(ctx, c.sess.Age().Seconds())
	slog.Info("session ended",
		"session_id", c.sess.ID,
		"channel_id", channelID,
		"reason", reason,
		"turns", len(c.sess.Turns()),
		"interruptions", c.sess.Stats().Interruptions,
	)
	return true
}

func (m *Manager) lookup(channelID string) *call {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls[channelID]
}

func (m *Manager) vadConfig() vad.Config {
	return vad.Config{
		EnergyThreshold: m.cfg.VAD.EnergyThreshold,
		SpeechHold:      m.cfg.VAD.SpeechHold(),
		SilenceHold:     m.cfg.VAD.SilenceHold(),
	}
}

// ── Media ingress (media.Handler) ──────────────────────────────────────────────

// Compile-time check: the manager is the media server's consumer.
var _ media.Handler = (*Manager)(nil)

// ConnectionEstablished implements media.Handler.
func (m *Manager) ConnectionEstablished(channelID string) {
	m.metrics.MediaConnections.Add(context.Background(), 1)
	slog.Info("media leg connected", "channel_id", channelID)
}

// ConnectionLost implements media.Handler. The session survives a dropped
// media leg; the PBX may re-establish it, and StasisEnd handles real hangups.
func (m *Manager) ConnectionLost(channelID string) {
	m.metrics.MediaConnections.Add(context.Background(), -1)
	slog.Info("media leg lost", "channel_id", channelID)
}

// Frame implements media.Handler: one inbound slin16 frame from the PBX, in
// arrival order per channel.
func (m *Manager) Frame(channelID string, frame []byte) {
	c := m.lookup(channelID)
	if c == nil || c.sess.Ended() {
		return
	}
	ctx := context.Background()
	m.metrics.InboundFrames.Add(ctx, 1)

	// Malformed frames are counted and dropped; the stream continues.
	if len(frame) == 0 || len(frame)%audio.BytesPerSample != 0 {
		m.metrics.MalformedFrames.Add(ctx, 1)
		ferr := faults.New(faults.AudioFormatInvalid, "frame of %d bytes is not whole slin16 samples", len(frame)).
			WithSession(c.sess.ID, channelID)
		slog.Debug("dropping malformed frame", "err", ferr)
		return
	}

	now := time.Now()
	res := c.det.ProcessFrame(frame, now)
	c.mu.Lock()
	c.lastAvgEnergy = res.AvgEnergy
	c.mu.Unlock()

	// First caller audio moves the session out of ACTIVE.
	if c.sess.State() == session.StateActive {
		_ = c.sess.Transition(session.StateWaitInput, "")
	}

	m.forwardAudio(c, frame)

	if m.cfg.Calls.TurnDetection == config.TurnDetectionClient {
		if res.SpeechStarted {
			m.onSpeechStarted(ctx, c, now)
		}
		if res.SpeechStopped {
			m.onSpeechStopped(ctx, c, now)
		}
	}
	c.sess.SetUserSpeaking(res.Speaking)
}

// forwardAudio streams the frame to the Live API, holding it in the
// pre-setup buffer while the setup handshake is pending. The buffer write
// happens under the same lock as the setupDone check so a frame cannot land
// in the buffer after flushPreSetup has drained it.
func (m *Manager) forwardAudio(c *call, frame []byte) {
	c.mu.Lock()
	live, ready := c.live, c.setupDone
	if !ready || live == nil {
		c.preBuf.Write(frame)
		c.mu.Unlock()
		return
	}
	c.mu.Unlock()

	if err := live.AppendAudio(frame); err != nil {
		slog.Debug("append audio failed", "channel_id", c.sess.ChannelID, "err", err)
	}
}

// flushPreSetup sends audio buffered before setup completed.
func (m *Manager) flushPreSetup(c *call) {
	c.mu.Lock()
	live := c.live
	buffered := c.preBuf.ReadAll()
	c.setupDone = true
	c.mu.Unlock()

	if len(buffered) > 0 && live != nil {
		if err := live.AppendAudio(buffered); err != nil {
			slog.Debug("flushing pre-setup audio failed", "channel_id", c.sess.ChannelID, "err", err)
		}
	}
}

// onSpeechStarted handles a caller speech onset, including barge-in while
// the assistant is generating or playing.
func (m *Manager) onSpeechStarted(ctx context.Context, c *call, now time.Time) {
	c.mu.Lock()
	c.speechStart = now
	c.mu.Unlock()

	switch c.sess.State() {
	case session.StateGenResponse, session.StatePlayResponse:
		if !m.cfg.Calls.InterruptionEnabled() {
			return
		}
		m.interrupt(ctx, c)
	case session.StateWaitInput:
		_ = c.sess.Transition(session.StateProcessAudio, "")
	}
}

// interrupt cancels the in-flight response and rewinds the state machine to
// audio processing.
func (m *Manager) interrupt(ctx context.Context, c *call) {
	c.mu.Lock()
	live := c.live
	c.mu.Unlock()

	responseID := c.sess.ResponseID()
	if live != nil && responseID != "" {
		if err := live.CancelResponse(responseID); err != nil {
			slog.Warn("cancel response failed", "channel_id", c.sess.ChannelID, "err", err)
		}
	}
	m.media.ClearOutbound(c.sess.ChannelID)
	c.sess.SetResponseID("")
	c.sess.SetAssistantSpeaking(false)
	c.sess.RecordInterruption()
	m.metrics.Interruptions.Add(ctx, 1)

	if err := c.sess.Transition(session.StateProcessAudio, "interruption"); err != nil {
		slog.Debug("interrupt transition", "session_id", c.sess.ID, "err", err)
	}
	slog.Info("caller interrupted response",
		"session_id", c.sess.ID,
		"response_id", responseID,
	)
}

// onSpeechStopped closes the user turn: commit the input buffer, request a
// response, and record the turn.
func (m *Manager) onSpeechStopped(ctx context.Context, c *call, now time.Time) {
	if c.sess.State() != session.StateProcessAudio {
		return
	}

	c.mu.Lock()
	live := c.live
	start := c.speechStart
	avgEnergy := c.lastAvgEnergy
	c.commitAt = now
	c.mu.Unlock()

	if live == nil || live.PendingInput() == 0 {
		return
	}

	duration := now.Sub(start)
	conf := speechConfidence(avgEnergy, float64(m.cfg.VAD.EnergyThreshold))
	c.sess.AddUserTurn(start, duration, conf)
	m.metrics.RecordTurn(ctx, string(session.SpeakerUser))

	if err := live.CommitInput(); err != nil {
		slog.Warn("commit input failed", "channel_id", c.sess.ChannelID, "err", err)
		return
	}
	if err := live.CreateResponse(uuid.NewString()); err != nil {
		slog.Warn("create response failed", "channel_id", c.sess.ChannelID, "err", err)
		return
	}
	c.sess.SetProcessing(true)
	_ = c.sess.Transition(session.StateGenResponse, "")
}

// speechConfidence maps the rolling average energy onto [0,1] relative to
// the detection threshold.
func speechConfidence(avgEnergy, threshold float64) float64 {
	if threshold <= 0 {
		return 0
	}
	conf := avgEnergy / (2 * threshold)
	if conf > 1 {
		conf = 1
	}
	return conf
}

// ── Live API egress ────────────────────────────────────────────────────────────

// pumpLive consumes the Live API session's event and audio channels until
// the call ends or the transport drops.
func (m *Manager) pumpLive(ctx context.Context, c *call) {
	c.mu.Lock()
	live := c.live
	c.mu.Unlock()

	events := live.Events()
	audioCh := live.Audio()

	for events != nil || audioCh != nil {
		select {
		case <-ctx.Done():
			return

		case chunk, ok := <-audioCh:
			if !ok {
				audioCh = nil
				continue
			}
			m.onAudioChunk(ctx, c, chunk)

		case ev, ok := <-events:
			if !ok {
				events = nil
				continue
			}
			if done := m.onLiveEvent(ctx, c, ev); done {
				return
			}
		}
	}
}

// onAudioChunk forwards one response audio delta to the PBX.
func (m *Manager) onAudioChunk(ctx context.Context, c *call, chunk liveapi.AudioChunk) {
	// Deltas for a cancelled response must not reach the caller.
	if chunk.ResponseID != "" && chunk.ResponseID != c.sess.ResponseID() {
		return
	}

	if c.sess.State() == session.StateGenResponse {
		c.mu.Lock()
		commitAt := c.commitAt
		c.playbackStart = time.Now()
		c.playedBytes = 0
		c.mu.Unlock()

		if !commitAt.IsZero() {
			latency := time.Since(commitAt)
			c.sess.RecordResponseLatency(latency)
			m.metrics.ResponseLatency.Record(ctx, latency.Seconds())
		}
		c.sess.SetProcessing(false)
		c.sess.SetAssistantSpeaking(true)
		_ = c.sess.Transition(session.StatePlayResponse, "")
	}

	if err := m.media.SendAudio(c.sess.ChannelID, chunk.Data); err != nil {
		slog.Debug("forward audio failed", "channel_id", c.sess.ChannelID, "err", err)
		return
	}
	c.mu.Lock()
	c.playedBytes += len(chunk.Data)
	c.mu.Unlock()
	m.metrics.OutboundFrames.Add(ctx, 1)
}

// onLiveEvent reacts to one Live API lifecycle event. Returns true when the
// pump should stop.
func (m *Manager) onLiveEvent(ctx context.Context, c *call, ev liveapi.Event) bool {
	switch ev.Type {
	case liveapi.EventSetupComplete:
		m.flushPreSetup(c)

	case liveapi.EventResponseCreated:
		c.sess.SetResponseID(ev.ResponseID)

	case liveapi.EventSpeechStarted:
		if m.cfg.Calls.TurnDetection == config.TurnDetectionServer {
			m.onSpeechStarted(ctx, c, time.Now())
		}

	case liveapi.EventSpeechStopped:
		if m.cfg.Calls.TurnDetection == config.TurnDetectionServer {
			m.onSpeechStopped(ctx, c, time.Now())
		}

	case liveapi.EventInputCommitted, liveapi.EventInputCleared:
		c.sess.Touch()

	case liveapi.EventTranscriptDone:
		c.mu.Lock()
		c.transcript = ev.Text
		c.mu.Unlock()

	case liveapi.EventAudioDone:
		m.onResponseDone(ctx, c, ev.ResponseID)

	case liveapi.EventError:
		m.onLiveError(ctx, c, ev.Err)

	case liveapi.EventDisconnected:
		return m.onLiveDisconnect(ctx, c)
	}
	return false
}

// onResponseDone closes the assistant turn.
func (m *Manager) onResponseDone(ctx context.Context, c *call, responseID string) {
	c.mu.Lock()
	start := c.playbackStart
	duration := m.format.FrameDuration(c.playedBytes)
	transcript := c.transcript
	c.transcript = ""
	c.playedBytes = 0
	c.mu.Unlock()

	if start.IsZero() {
		start = time.Now()
	}
	c.sess.AddAssistantTurn(start, duration, transcript)
	m.metrics.RecordTurn(ctx, string(session.SpeakerAssistant))
	c.sess.SetAssistantSpeaking(false)
	c.sess.SetResponseID("")

	if c.sess.State() == session.StatePlayResponse {
		_ = c.sess.Transition(session.StateWaitInput, "")
	}
}

func (m *Manager) onLiveError(ctx context.Context, c *call, apiErr *liveapi.APIError) {
	if apiErr == nil {
		return
	}
	kind := faults.LiveAPIModel
	switch {
	case apiErr.IsRateLimit():
		kind = faults.LiveAPIRateLimit
	case apiErr.Code == "quota_exceeded":
		kind = faults.LiveAPIQuota
	}
	m.metrics.RecordSessionError(ctx, string(kind))
	slog.Warn("live api error",
		"session_id", c.sess.ID,
		"kind", string(kind),
		"err", apiErr.Error(),
	)
}

// onLiveDisconnect applies the on_disconnect policy. Returns true when the
// pump should stop.
func (m *Manager) onLiveDisconnect(ctx context.Context, c *call) bool {
	m.metrics.RecordSessionError(ctx, string(faults.NetworkUnavailable))
	slog.Warn("live api disconnected",
		"session_id", c.sess.ID,
		"policy", string(m.cfg.Calls.OnDisconnect),
	)

	if m.cfg.Calls.OnDisconnect == config.DisconnectKeep {
		// Session stays up waiting for an external reconnect; audio is
		// parked in the pre-setup buffer again.
		c.mu.Lock()
		c.setupDone = false
		c.mu.Unlock()
		return true
	}

	m.teardown(ctx, c.sess.ChannelID, "live_api_disconnected", true)
	return true
}

// ── Sweeper ────────────────────────────────────────────────────────────────────

// RunSweeper periodically enforces the max call duration and evicts retained
// ended sessions. Blocks until ctx is cancelled.
func (m *Manager) RunSweeper(ctx context.Context) {
	ticker := time.NewTicker(sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.sweep(ctx)
		}
	}
}

func (m *Manager) sweep(ctx context.Context) {
	maxAge := m.cfg.Calls.MaxDuration()

	m.mu.Lock()
	var expired, abandoned []string
	for channelID, c := range m.calls {
		if c.sess.Age() > maxAge {
			expired = append(expired, channelID)
			continue
		}
		// A call that never got its media leg cannot progress.
		if c.sess.Age() > m.mediaWait && !m.media.Connected(channelID) && neverHadMedia(c) {
			abandoned = append(abandoned, channelID)
		}
	}
	var evict []string
	for id, s := range m.recent {
		if !s.EndedAt().IsZero() && time.Since(s.EndedAt()) > m.retention {
			evict = append(evict, id)
		}
	}
	for _, id := range evict {
		delete(m.recent, id)
	}
	m.mu.Unlock()

	for _, channelID := range expired {
		slog.Warn("session exceeded max duration", "channel_id", channelID)
		m.teardown(ctx, channelID, string(faults.TimeoutExceeded), true)
	}
	for _, channelID := range abandoned {
		slog.Warn("no external media leg arrived, abandoning call", "channel_id", channelID)
		m.teardown(ctx, channelID, "no_external_media", true)
	}
}

// neverHadMedia reports whether no inbound frame was ever seen for the call.
// The first frame moves the session out of the pre-media states.
func neverHadMedia(c *call) bool {
	switch c.sess.State() {
	case session.StateInitializing, session.StateActive:
		return true
	}
	return false
}

// ShutdownSessions ends every active call, used during global shutdown.
func (m *Manager) ShutdownSessions(ctx context.Context) {
	m.mu.Lock()
	channels := make([]string, 0, len(m.calls))
	for channelID := range m.calls {
		channels = append(channels, channelID)
	}
	m.mu.Unlock()

	for _, channelID := range channels {
		m.teardown(ctx, channelID, "shutdown", true)
	}
}
