// Package media hosts the external-media WebSocket server: the endpoint the
// PBX connects to with one bidirectional slin16 stream per channel.
//
// Inbound binary frames are handed to the consumer in arrival order from the
// connection's read loop. Outbound audio goes through a bounded per-channel
// queue that drops oldest above roughly one second of audio, and a writer
// loop that paces frames onto the socket at the frame interval so a fast
// model cannot flood the PBX.
package media

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/arivox/arivox/pkg/audio"
	"github.com/coder/websocket"
)

// PathPrefix is the upgrade path; the channel id is the trailing segment.
const PathPrefix = "/external_media/"

const (
	// frameInterval is the outbound pacing step, one 20 ms frame per tick.
	frameInterval = 20 * time.Millisecond

	// outboundWatermark bounds the per-channel outbound queue.
	outboundWatermark = time.Second
)

// Handler consumes connection lifecycle and audio from the server. Calls for
// one channel are made sequentially from that channel's read loop.
type Handler interface {
	// ConnectionEstablished fires after the channel is registered.
	ConnectionEstablished(channelID string)

	// Frame delivers one inbound binary frame. The slice is only valid for
	// the duration of the call.
	Frame(channelID string, frame []byte)

	// ConnectionLost fires after the channel is unregistered, whether the
	// peer closed cleanly or the read failed.
	ConnectionLost(channelID string)
}

// ConnStats is a point-in-time snapshot of one channel's traffic counters.
type ConnStats struct {
	InboundBytes  int64
	OutboundBytes int64
	LastFrameAt   time.Time
}

// channelConn is one registered PBX media leg.
type channelConn struct {
	channelID string
	conn      *websocket.Conn
	outQ      *audio.Buffer
	wake      chan struct{}
	ctx       context.Context
	cancel    context.CancelFunc

	inboundBytes  atomic.Int64
	outboundBytes atomic.Int64
	lastFrameNano atomic.Int64
}

// Server accepts external-media WebSocket connections from the PBX. At most
// one connection per channel id; a newcomer for a registered channel closes
// the prior connection.
type Server struct {
	addr       string
	format     audio.Format
	frameBytes int

	httpSrv *http.Server
	running atomic.Bool

	mu      sync.Mutex
	handler Handler
	conns   map[string]*channelConn
}

// NewServer creates the server for addr ("host:port"). The handler receives
// all inbound traffic; it may be nil at construction and installed later with
// [Server.SetHandler], but must be set before Start.
func NewServer(addr string, format audio.Format, handler Handler) *Server {
	s := &Server{
		addr:       addr,
		handler:    handler,
		format:     format,
		frameBytes: format.FrameBytes(frameInterval),
		conns:      make(map[string]*channelConn),
	}
	mux := http.NewServeMux()
	mux.HandleFunc(PathPrefix, s.handleUpgrade)
	s.httpSrv = &http.Server{Addr: addr, Handler: mux}
	return s
}

// Start opens the listener and serves until Shutdown. It returns once the
// listener is bound so callers know the PBX can connect.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("media: listen %s: %w", s.addr, err)
	}
	s.running.Store(true)
	go func() {
		err := s.httpSrv.Serve(ln)
		s.running.Store(false)
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("media: server stopped", "err", err)
		}
	}()
	slog.Info("media: external-media server listening", "addr", ln.Addr().String())
	return nil
}

// Running reports whether the listener is accepting connections. False before
// Start, after Shutdown, and after a listener failure.
func (s *Server) Running() bool { return s.running.Load() }

// Addr returns the configured listen address.
func (s *Server) Addr() string { return s.addr }

// SetHandler installs the inbound traffic consumer. Connections arriving
// before a handler is set are rejected.
func (s *Server) SetHandler(h Handler) {
	s.mu.Lock()
	s.handler = h
	s.mu.Unlock()
}

func (s *Server) getHandler() Handler {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.handler
}

// Shutdown closes the listener and every registered connection.
func (s *Server) Shutdown(ctx context.Context) error {
	s.running.Store(false)
	s.mu.Lock()
	conns := make([]*channelConn, 0, len(s.conns))
	for _, cc := range s.conns {
		conns = append(conns, cc)
	}
	s.mu.Unlock()

	for _, cc := range conns {
		cc.cancel()
		cc.conn.Close(websocket.StatusGoingAway, "server shutdown")
	}
	return s.httpSrv.Shutdown(ctx)
}

// SendAudio queues outbound audio for the channel. Data beyond the queue
// watermark displaces the oldest queued bytes; the call never blocks.
func (s *Server) SendAudio(channelID string, data []byte) error {
	cc := s.lookup(channelID)
	if cc == nil {
		return fmt.Errorf("media: channel %s not connected", channelID)
	}
	cc.outQ.Write(data)
	select {
	case cc.wake <- struct{}{}:
	default:
	}
	return nil
}

// ClearOutbound discards everything queued for the channel. Used when the
// caller interrupts the assistant mid-playback.
func (s *Server) ClearOutbound(channelID string) {
	if cc := s.lookup(channelID); cc != nil {
		cc.outQ.Clear()
	}
}

// CloseChannel closes and unregisters the channel's media leg. Call ends must
// not depend on the PBX dropping its side of the socket. A no-op when the
// channel has no registered connection.
func (s *Server) CloseChannel(channelID string) {
	cc := s.lookup(channelID)
	if cc == nil {
		return
	}
	cc.cancel()
	cc.conn.Close(websocket.StatusNormalClosure, "call ended")
}

// Connected reports whether a media leg is registered for the channel.
func (s *Server) Connected(channelID string) bool {
	return s.lookup(channelID) != nil
}

// ConnectionCount returns the number of registered media legs.
func (s *Server) ConnectionCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.conns)
}

// Stats returns the channel's traffic counters.
func (s *Server) Stats(channelID string) (ConnStats, bool) {
	cc := s.lookup(channelID)
	if cc == nil {
		return ConnStats{}, false
	}
	st := ConnStats{
		InboundBytes:  cc.inboundBytes.Load(),
		OutboundBytes: cc.outboundBytes.Load(),
	}
	if nano := cc.lastFrameNano.Load(); nano > 0 {
		st.LastFrameAt = time.Unix(0, nano)
	}
	return st, true
}

func (s *Server) lookup(channelID string) *channelConn {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conns[channelID]
}

// ── Connection handling ────────────────────────────────────────────────────────

func (s *Server) handleUpgrade(w http.ResponseWriter, r *http.Request) {
	channelID := strings.TrimPrefix(r.URL.Path, PathPrefix)
	if channelID == "" || strings.Contains(channelID, "/") {
		http.Error(w, "missing channel id", http.StatusNotFound)
		return
	}
	h := s.getHandler()
	if h == nil {
		http.Error(w, "not ready", http.StatusServiceUnavailable)
		return
	}

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		InsecureSkipVerify: true,
	})
	if err != nil {
		slog.Warn("media: upgrade failed", "channel_id", channelID, "err", err)
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	cc := &channelConn{
		channelID: channelID,
		conn:      conn,
		outQ:      audio.NewBuffer(s.format.FrameBytes(outboundWatermark)),
		wake:      make(chan struct{}, 1),
		ctx:       ctx,
		cancel:    cancel,
	}

	s.register(cc)
	h.ConnectionEstablished(channelID)

	go cc.writeLoop(s.frameBytes)
	cc.readLoop(h)

	s.unregister(cc)
	h.ConnectionLost(channelID)
}

// register installs cc, closing any prior connection for the same channel.
func (s *Server) register(cc *channelConn) {
	s.mu.Lock()
	prior := s.conns[cc.channelID]
	s.conns[cc.channelID] = cc
	s.mu.Unlock()

	if prior != nil {
		slog.Info("media: superseding existing connection", "channel_id", cc.channelID)
		prior.cancel()
		prior.conn.Close(websocket.StatusPolicyViolation, "superseded by new connection")
	}
}

// unregister removes cc only if it is still the registered connection for
// its channel (a superseding connection may have replaced it).
func (s *Server) unregister(cc *channelConn) {
	cc.cancel()
	s.mu.Lock()
	if s.conns[cc.channelID] == cc {
		delete(s.conns, cc.channelID)
	}
	s.mu.Unlock()
}

// readLoop delivers inbound binary frames in arrival order.
func (cc *channelConn) readLoop(h Handler) {
	for {
		typ, data, err := cc.conn.Read(cc.ctx)
		if err != nil {
			if cc.ctx.Err() == nil {
				slog.Debug("media: read ended", "channel_id", cc.channelID, "err", err)
			}
			return
		}
		if typ != websocket.MessageBinary {
			slog.Debug("media: ignoring non-binary frame", "channel_id", cc.channelID)
			continue
		}
		cc.inboundBytes.Add(int64(len(data)))
		cc.lastFrameNano.Store(time.Now().UnixNano())
		h.Frame(cc.channelID, data)
	}
}

// writeLoop drains the outbound queue one frame per tick. A final partial
// frame (shorter than frameBytes) is flushed as-is so tail audio is not
// stranded.
func (cc *channelConn) writeLoop(frameBytes int) {
	ticker := time.NewTicker(frameInterval)
	defer ticker.Stop()

	for {
		select {
		case <-cc.ctx.Done():
			return
		case <-cc.wake:
		case <-ticker.C:
		}

		frame := cc.outQ.Read(frameBytes)
		if frame == nil {
			frame = cc.outQ.ReadAll()
			if len(frame) == 0 {
				continue
			}
		}
		if err := cc.conn.Write(cc.ctx, websocket.MessageBinary, frame); err != nil {
			if cc.ctx.Err() == nil {
				slog.Debug("media: write failed", "channel_id", cc.channelID, "err", err)
			}
			return
		}
		cc.outboundBytes.Add(int64(len(frame)))
	}
}
