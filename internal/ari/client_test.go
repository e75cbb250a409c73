package ari_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/arivox/arivox/internal/ari"
	"github.com/arivox/arivox/internal/faults"
	"github.com/arivox/arivox/internal/observe"
	"github.com/arivox/arivox/internal/resilience"
	"github.com/coder/websocket"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

// fastRetry keeps test suites quick while preserving the retry-once shape.
var fastRetry = resilience.RetryConfig{Attempts: 2, Backoff: time.Millisecond}

// ─── TestAnswer_IssuesPOSTWithBasicAuth ──────────────────────────────────────

func TestAnswer_IssuesPOSTWithBasicAuth(t *testing.T) {
	t.Parallel()

	var gotPath, gotMethod, gotUser, gotPass string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotMethod = r.Method
		gotUser, gotPass, _ = r.BasicAuth()
		w.WriteHeader(http.StatusNoContent)
	}))
	t.Cleanup(srv.Close)

	c := ari.NewClient(srv.URL, "ari-user", "ari-pass", "arivox", ari.WithRetry(fastRetry))
	if err := c.Answer(context.Background(), "ch-1"); err != nil {
		t.Fatalf("Answer: %v", err)
	}

	if gotMethod != http.MethodPost {
		t.Errorf("method = %q; want POST", gotMethod)
	}
	if gotPath != "/channels/ch-1/answer" {
		t.Errorf("path = %q; want /channels/ch-1/answer", gotPath)
	}
	if gotUser != "ari-user" || gotPass != "ari-pass" {
		t.Errorf("basic auth = %q:%q; want ari-user:ari-pass", gotUser, gotPass)
	}
}

// ─── TestStartExternalMedia_SendsExpectedBody ────────────────────────────────

func TestStartExternalMedia_SendsExpectedBody(t *testing.T) {
	t.Parallel()

	var body map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Errorf("decode body: %v", err)
		}
		w.WriteHeader(http.StatusOK)
	}))
	t.Cleanup(srv.Close)

	c := ari.NewClient(srv.URL, "u", "p", "arivox", ari.WithRetry(fastRetry))
	if err := c.StartExternalMedia(context.Background(), "ch-1", "10.0.0.5:8089"); err != nil {
		t.Fatalf("StartExternalMedia: %v", err)
	}

	if body["app"] != "arivox" {
		t.Errorf("app = %v; want arivox", body["app"])
	}
	if body["external_host"] != "10.0.0.5:8089" {
		t.Errorf("external_host = %v", body["external_host"])
	}
	if body["format"] != "slin16" {
		t.Errorf("format = %v; want slin16", body["format"])
	}
	if body["direction"] != "both" {
		t.Errorf("direction = %v; want both", body["direction"])
	}
}

// ─── TestHangup_IssuesDELETE ─────────────────────────────────────────────────

func TestHangup_IssuesDELETE(t *testing.T) {
	t.Parallel()

	var gotMethod, gotPath string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotMethod = r.Method
		gotPath = r.URL.Path
		w.WriteHeader(http.StatusNoContent)
	}))
	t.Cleanup(srv.Close)

	c := ari.NewClient(srv.URL, "u", "p", "arivox", ari.WithRetry(fastRetry))
	if err := c.Hangup(context.Background(), "ch-9"); err != nil {
		t.Fatalf("Hangup: %v", err)
	}
	if gotMethod != http.MethodDelete || gotPath != "/channels/ch-9" {
		t.Errorf("request = %s %s; want DELETE /channels/ch-9", gotMethod, gotPath)
	}
}

// ─── TestDo_RetriesOnceOnServerError ─────────────────────────────────────────

func TestDo_RetriesOnceOnServerError(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}))
	t.Cleanup(srv.Close)

	c := ari.NewClient(srv.URL, "u", "p", "arivox", ari.WithRetry(fastRetry))
	if err := c.Answer(context.Background(), "ch-1"); err != nil {
		t.Fatalf("Answer after retry: %v", err)
	}
	if got := calls.Load(); got != 2 {
		t.Errorf("calls = %d; want 2", got)
	}
}

// ─── TestDo_ClassifiesStatusCodes ────────────────────────────────────────────

func TestDo_ClassifiesStatusCodes(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		status int
		want   faults.Kind
	}{
		{"not found", http.StatusNotFound, faults.SessionNotFound},
		{"server error", http.StatusBadGateway, faults.NetworkUnavailable},
		{"bad request", http.StatusBadRequest, faults.ProtocolViolation},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(tt.status)
			}))
			t.Cleanup(srv.Close)

			c := ari.NewClient(srv.URL, "u", "p", "arivox", ari.WithRetry(fastRetry))
			err := c.Answer(context.Background(), "ch-1")
			if err == nil {
				t.Fatal("expected error")
			}
			if got := faults.KindOf(err); got != tt.want {
				t.Errorf("kind = %v; want %v", got, tt.want)
			}
		})
	}
}

// ─── TestDo_BreakerOpensAfterRepeatedFailures ────────────────────────────────

func TestDo_BreakerOpensAfterRepeatedFailures(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	t.Cleanup(srv.Close)

	c := ari.NewClient(srv.URL, "u", "p", "arivox", ari.WithRetry(fastRetry))

	// 5 consecutive failures open the breaker; each Answer makes 2 attempts.
	for range 3 {
		_ = c.Answer(context.Background(), "ch-1")
	}
	if c.BreakerState() != resilience.StateOpen {
		t.Fatalf("breaker state = %v; want open", c.BreakerState())
	}

	before := calls.Load()
	err := c.Answer(context.Background(), "ch-1")
	if err == nil {
		t.Fatal("expected error while breaker open")
	}
	if !errors.Is(err, resilience.ErrCircuitOpen) {
		t.Errorf("err = %v; want ErrCircuitOpen", err)
	}
	if calls.Load() != before {
		t.Error("open breaker must not reach the server")
	}
}

// ─── TestDo_RecordsRequestMetrics ────────────────────────────────────────────

func TestDo_RecordsRequestMetrics(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodDelete {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}))
	t.Cleanup(srv.Close)

	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })
	metrics, err := observe.NewMetrics(mp)
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}

	c := ari.NewClient(srv.URL, "u", "p", "arivox",
		ari.WithRetry(fastRetry), ari.WithMetrics(metrics))
	if err := c.Answer(context.Background(), "ch-1"); err != nil {
		t.Fatalf("Answer: %v", err)
	}
	if err := c.Hangup(context.Background(), "ch-gone"); err == nil {
		t.Fatal("Hangup against a missing channel should error")
	}

	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("Collect: %v", err)
	}

	// One data point per operation, labelled with the outcome.
	statusByOp := map[string]string{}
	for _, sm := range rm.ScopeMetrics {
		for _, met := range sm.Metrics {
			if met.Name != "arivox.ari.request.duration" {
				continue
			}
			hist, ok := met.Data.(metricdata.Histogram[float64])
			if !ok {
				t.Fatal("request duration is not a histogram")
			}
			for _, dp := range hist.DataPoints {
				var op, status string
				for _, kv := range dp.Attributes.ToSlice() {
					switch string(kv.Key) {
					case "operation":
						op = kv.Value.AsString()
					case "status":
						status = kv.Value.AsString()
					}
				}
				statusByOp[op] = status
			}
		}
	}
	if statusByOp["answer"] != "ok" {
		t.Errorf(`answer status = %q; want "ok"`, statusByOp["answer"])
	}
	if statusByOp["hangup"] != string(faults.SessionNotFound) {
		t.Errorf("hangup status = %q; want %q", statusByOp["hangup"], faults.SessionNotFound)
	}
}

// ─── TestParseEvent ──────────────────────────────────────────────────────────

func TestParseEvent_DecodesStasisStart(t *testing.T) {
	t.Parallel()

	raw := `{
		"type": "StasisStart",
		"application": "arivox",
		"timestamp": "2026-08-25T10:00:00.000Z",
		"args": ["inbound"],
		"channel": {
			"id": "ch-1",
			"state": "Ring",
			"caller": {"number": "+15551234", "name": "Alice"},
			"dialplan": {"exten": "100", "context": "from-sip"}
		}
	}`

	ev, err := ari.ParseEvent([]byte(raw))
	if err != nil {
		t.Fatalf("ParseEvent: %v", err)
	}
	if ev.Type != ari.EventStasisStart {
		t.Errorf("type = %q; want StasisStart", ev.Type)
	}
	if ev.ChannelID() != "ch-1" {
		t.Errorf("channel id = %q; want ch-1", ev.ChannelID())
	}
	if ev.Channel.Caller.Number != "+15551234" {
		t.Errorf("caller = %q; want +15551234", ev.Channel.Caller.Number)
	}
	if ev.Channel.Dialplan.Exten != "100" {
		t.Errorf("exten = %q; want 100", ev.Channel.Dialplan.Exten)
	}
}

func TestParseEvent_RejectsMissingType(t *testing.T) {
	t.Parallel()

	if _, err := ari.ParseEvent([]byte(`{"channel":{"id":"ch-1"}}`)); err == nil {
		t.Fatal("expected error for event without type")
	}
}

// ─── TestEventStream_DeliversEventsInOrder ───────────────────────────────────

func TestEventStream_DeliversEventsInOrder(t *testing.T) {
	t.Parallel()

	appSeen := make(chan string, 1)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		appSeen <- r.URL.Query().Get("app")
		conn, err := websocket.Accept(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close(websocket.StatusNormalClosure, "done")

		ctx := context.Background()
		for _, typ := range []string{"StasisStart", "ChannelStateChange", "StasisEnd"} {
			msg := `{"type":"` + typ + `","channel":{"id":"ch-1"}}`
			if err := conn.Write(ctx, websocket.MessageText, []byte(msg)); err != nil {
				return
			}
		}
		<-conn.CloseRead(ctx).Done()
	}))
	t.Cleanup(srv.Close)

	stream := ari.NewEventStream("ws"+strings.TrimPrefix(srv.URL, "http"), "u", "p", "arivox")
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	events, err := stream.Connect(ctx)
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}

	select {
	case app := <-appSeen:
		if app != "arivox" {
			t.Errorf("app query param = %q; want arivox", app)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("timeout")
	}

	want := []string{"StasisStart", "ChannelStateChange", "StasisEnd"}
	for i, w := range want {
		select {
		case ev, ok := <-events:
			if !ok {
				t.Fatalf("stream closed before event %d", i)
			}
			if ev.Type != w {
				t.Errorf("event[%d] = %q; want %q", i, ev.Type, w)
			}
		case <-time.After(3 * time.Second):
			t.Fatalf("timeout waiting for event %d", i)
		}
	}
}

// ─── TestEventStream_ClosesChannelOnCancel ───────────────────────────────────

func TestEventStream_ClosesChannelOnCancel(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Accept(w, r, nil)
		if err != nil {
			return
		}
		<-conn.CloseRead(context.Background()).Done()
	}))
	t.Cleanup(srv.Close)

	stream := ari.NewEventStream("ws"+strings.TrimPrefix(srv.URL, "http"), "u", "p", "arivox")
	ctx, cancel := context.WithCancel(context.Background())

	events, err := stream.Connect(ctx)
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	cancel()

	select {
	case _, ok := <-events:
		if ok {
			// Drain until closed.
			for range events {
			}
		}
	case <-time.After(3 * time.Second):
		t.Fatal("events channel never closed after cancel")
	}
}
