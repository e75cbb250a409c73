// Package app wires the arivox subsystems into a running bridge.
//
// The App struct owns the full lifecycle: New creates and connects all
// subsystems, Run executes the ARI event loop, and Shutdown tears everything
// down in order.
//
// For testing, inject mock implementations via functional options
// (WithControlPlane, WithConnector, etc.). When an option is not provided,
// New creates real implementations from the config.
package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/arivox/arivox/internal/ari"
	"github.com/arivox/arivox/internal/config"
	"github.com/arivox/arivox/internal/health"
	"github.com/arivox/arivox/internal/media"
	"github.com/arivox/arivox/internal/observe"
	"github.com/arivox/arivox/internal/resilience"
	"github.com/arivox/arivox/pkg/audio"
	"github.com/arivox/arivox/pkg/liveapi"
)

// App owns all subsystem lifetimes and drives the bridge's main loops.
type App struct {
	cfg *config.Config

	ctrl     ari.ControlPlane
	stream   EventSource
	mediaSrv *media.Server
	manager  *Manager
	metrics  *observe.Metrics
	connect  Connector

	adminSrv *http.Server

	stopOnce sync.Once
}

// EventSource delivers ARI events. Satisfied by [ari.EventStream].
type EventSource interface {
	Connect(ctx context.Context) (<-chan *ari.Event, error)
}

// Option is a functional option for New. Use these to inject test doubles.
type Option func(*App)

// WithControlPlane injects an ARI control plane instead of the REST client.
func WithControlPlane(c ari.ControlPlane) Option {
	return func(a *App) { a.ctrl = c }
}

// WithEventSource injects an event source instead of the ARI WebSocket stream.
func WithEventSource(s EventSource) Option {
	return func(a *App) { a.stream = s }
}

// WithConnector injects a Live API connector instead of the real client.
func WithConnector(c Connector) Option {
	return func(a *App) { a.connect = c }
}

// WithMetrics injects a metrics set instead of the global-provider default.
func WithMetrics(m *observe.Metrics) Option {
	return func(a *App) { a.metrics = m }
}

// New creates an App by wiring all subsystems together. Use Option functions
// to inject test doubles for any subsystem; everything else is built from cfg.
func New(cfg *config.Config, opts ...Option) (*App, error) {
	a := &App{cfg: cfg}
	for _, o := range opts {
		o(a)
	}

	if a.metrics == nil {
		a.metrics = observe.DefaultMetrics()
	}
	if a.ctrl == nil {
		a.ctrl = ari.NewClient(cfg.ARI.BaseURL, cfg.ARI.Username, cfg.ARI.Password, cfg.ARI.StasisApp,
			ari.WithMetrics(a.metrics))
	}
	if a.stream == nil {
		a.stream = ari.NewEventStream(cfg.ARI.EventsURL, cfg.ARI.Username, cfg.ARI.Password, cfg.ARI.StasisApp)
	}
	if a.connect == nil {
		a.connect = liveConnector(cfg)
	}

	format := audio.Format{SampleRate: cfg.Audio.SampleRate, Channels: 1}
	a.mediaSrv = media.NewServer(fmt.Sprintf(":%d", cfg.Media.Port), format, nil)

	a.manager = NewManager(cfg, a.ctrl, a.mediaSrv, a.connect, a.metrics)
	a.mediaSrv.SetHandler(a.manager)

	if cfg.Server.AdminAddr != "" {
		a.adminSrv = &http.Server{
			Addr:              cfg.Server.AdminAddr,
			Handler:           a.adminMux(),
			ReadHeaderTimeout: 5 * time.Second,
		}
	}

	return a, nil
}

// liveConnector builds the per-call Live API connector from config. Each call
// gets its own session with the configured model, voice, and instructions.
func liveConnector(cfg *config.Config) Connector {
	client := liveapi.NewClient(cfg.LiveAPI.URL, cfg.LiveAPI.APIKey,
		liveapi.WithModel(cfg.LiveAPI.Model),
		liveapi.WithVoice(cfg.LiveAPI.Voice),
	)

	sessCfg := liveapi.SessionConfig{Instructions: cfg.LiveAPI.Instructions}
	if cfg.Calls.TurnDetection == config.TurnDetectionServer {
		sessCfg.ServerVAD = &liveapi.ServerVADConfig{
			Threshold:         cfg.VAD.EnergyThreshold,
			SilenceDurationMs: int(cfg.VAD.SilenceHold().Milliseconds()),
		}
	}

	return ConnectorFunc(func(ctx context.Context) (liveapi.SessionHandle, error) {
		return client.Connect(ctx, sessCfg)
	})
}

// adminMux builds the admin HTTP surface: health probes, Prometheus metrics,
// and the live session listing.
func (a *App) adminMux() http.Handler {
	mux := http.NewServeMux()

	h := health.New(
		health.ARIChecker(a.breakerState),
		health.MediaChecker(a.mediaSrv.Running),
	)
	h.Register(mux)

	mux.Handle("GET /metrics", promhttp.Handler())
	mux.HandleFunc("GET /sessions", a.handleSessions)

	return observe.Middleware(a.metrics)(mux)
}

// breakerState exposes the ARI circuit breaker when the control plane is the
// real REST client; test doubles report closed.
func (a *App) breakerState() resilience.State {
	if c, ok := a.ctrl.(*ari.Client); ok {
		return c.BreakerState()
	}
	return resilience.StateClosed
}

func (a *App) handleSessions(w http.ResponseWriter, _ *http.Request) {
	snaps := a.manager.Snapshots()
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	if err := json.NewEncoder(w).Encode(map[string]any{
		"active":   a.manager.ActiveCount(),
		"sessions": snaps,
	}); err != nil {
		http.Error(w, `{"status":"error"}`, http.StatusInternalServerError)
	}
}

// ActiveSessions returns the number of live calls.
func (a *App) ActiveSessions() int { return a.manager.ActiveCount() }

// Run starts the media listener and admin server, connects the ARI event
// stream, and processes events until ctx is cancelled or a subsystem fails.
func (a *App) Run(ctx context.Context) error {
	if err := a.mediaSrv.Start(); err != nil {
		return fmt.Errorf("starting external media server: %w", err)
	}

	events, err := a.stream.Connect(ctx)
	if err != nil {
		return fmt.Errorf("connecting ARI event stream: %w", err)
	}

	slog.Info("arivox bridge running",
		"stasis_app", a.cfg.ARI.StasisApp,
		"media_addr", a.mediaSrv.Addr(),
		"admin_addr", a.cfg.Server.AdminAddr,
		"turn_detection", string(a.cfg.Calls.TurnDetection),
	)

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return a.eventLoop(ctx, events)
	})
	g.Go(func() error {
		a.manager.RunSweeper(ctx)
		return nil
	})
	if a.adminSrv != nil {
		g.Go(func() error {
			if err := a.adminSrv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("admin server: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-ctx.Done()
			shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return a.adminSrv.Shutdown(shutCtx)
		})
	}

	err = g.Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// eventLoop dispatches ARI events to the session manager until the stream
// closes or ctx is cancelled. A closed stream is a fatal condition: without
// events the bridge cannot accept or release calls.
func (a *App) eventLoop(ctx context.Context, events <-chan *ari.Event) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-events:
			if !ok {
				return fmt.Errorf("ARI event stream closed")
			}
			res := a.manager.HandleEvent(ctx, ev)
			if res.Status == StatusError {
				slog.Error("event handling failed",
					"type", ev.Type,
					"channel_id", ev.ChannelID(),
					"message", res.Message,
				)
			}
		}
	}
}

// Shutdown ends all active calls and stops the listeners. Safe to call more
// than once.
func (a *App) Shutdown(ctx context.Context) error {
	var err error
	a.stopOnce.Do(func() {
		slog.Info("shutting down", "active_sessions", a.manager.ActiveCount())
		a.manager.ShutdownSessions(ctx)
		err = a.mediaSrv.Shutdown(ctx)
	})
	return err
}
