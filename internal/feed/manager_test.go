package feed

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/sentra-labs/riskfeed/internal/model"
)

// feedServer is a controllable mock feed backend. It records upgrades
// and inbound frames, and lets tests push frames or kill connections.
type feedServer struct {
	t      *testing.T
	server *httptest.Server

	upgrades atomic.Int64

	mu     sync.Mutex
	conns  []*websocket.Conn
	frames []string

	// closeFirstN makes the server drop the first N connections right
	// after reading the subscribe frame.
	closeFirstN int
}

func newFeedServer(t *testing.T, closeFirstN int) *feedServer {
	t.Helper()
	fs := &feedServer{t: t, closeFirstN: closeFirstN}

	upgrader := websocket.Upgrader{
		CheckOrigin: func(r *http.Request) bool { return true },
	}
	fs.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		n := fs.upgrades.Add(1)

		fs.mu.Lock()
		fs.conns = append(fs.conns, conn)
		fs.mu.Unlock()

		for {
			_, msg, err := conn.ReadMessage()
			if err != nil {
				return
			}
			fs.mu.Lock()
			fs.frames = append(fs.frames, string(msg))
			fs.mu.Unlock()

			if int(n) <= fs.closeFirstN {
				conn.Close()
				return
			}
		}
	}))
	return fs
}

func (fs *feedServer) url() string { return wsURL(fs.server) }

func (fs *feedServer) close() { fs.server.Close() }

// push writes a frame on the most recent connection.
func (fs *feedServer) push(frame string) {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	if len(fs.conns) == 0 {
		fs.t.Fatal("push: no connection")
	}
	conn := fs.conns[len(fs.conns)-1]
	if err := conn.WriteMessage(websocket.TextMessage, []byte(frame)); err != nil {
		fs.t.Logf("push error: %v", err)
	}
}

func (fs *feedServer) sentFrames() []string {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	out := make([]string, len(fs.frames))
	copy(out, fs.frames)
	return out
}

// waitFor polls cond until it holds or the deadline passes.
func waitFor(t *testing.T, d time.Duration, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(d)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal(msg)
}

func testManagerConfig(endpoint string, channels ...string) Config {
	return Config{
		Endpoint:             endpoint,
		Channels:             channels,
		ReconnectBaseDelay:   10 * time.Millisecond,
		MaxReconnectAttempts: 5,
		PingTimeout:          30 * time.Second,
		WriteTimeout:         5 * time.Second,
		BufferSize:           100,
	}
}

func TestManager_SubscribeFrameFirst(t *testing.T) {
	fs := newFeedServer(t, 0)
	defer fs.close()

	m := NewManager(testManagerConfig(fs.url(), "fraud_alerts"), Handlers{}, nil)
	if err := m.Connect(context.Background()); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	defer m.Disconnect()

	// Send something else immediately; the subscription must still be
	// the first outbound frame.
	m.Send(map[string]string{"type": "ping"})

	waitFor(t, 2*time.Second, func() bool {
		return len(fs.sentFrames()) >= 1
	}, "no frames received by server")

	frames := fs.sentFrames()
	want := `{"type":"subscribe","channels":["fraud_alerts"]}`
	if frames[0] != want {
		t.Errorf("first frame = %s, want %s", frames[0], want)
	}
}

func TestManager_ConnectIsIdempotentWhileOpen(t *testing.T) {
	fs := newFeedServer(t, 0)
	defer fs.close()

	m := NewManager(testManagerConfig(fs.url(), "market_data"), Handlers{}, nil)
	if err := m.Connect(context.Background()); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	defer m.Disconnect()

	// Repeated Connect calls must not open additional sockets.
	for i := 0; i < 3; i++ {
		if err := m.Connect(context.Background()); err != nil {
			t.Errorf("Connect %d failed: %v", i, err)
		}
	}
	time.Sleep(50 * time.Millisecond)

	if got := fs.upgrades.Load(); got != 1 {
		t.Errorf("upgrades = %d, want 1", got)
	}
	if got := m.Stats().Connects; got != 1 {
		t.Errorf("Stats().Connects = %d, want 1", got)
	}
}

func TestManager_ReconnectAfterClose(t *testing.T) {
	fs := newFeedServer(t, 1) // drop only the first connection
	defer fs.close()

	m := NewManager(testManagerConfig(fs.url(), "fraud_alerts"), Handlers{}, nil)
	if err := m.Connect(context.Background()); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	defer m.Disconnect()

	// The server kills the first connection after the subscribe frame;
	// the manager must dial again after the backoff delay.
	waitFor(t, 2*time.Second, func() bool {
		return fs.upgrades.Load() >= 2
	}, "no reconnect observed")

	waitFor(t, 2*time.Second, func() bool {
		return m.Status().Connected
	}, "manager did not recover after reconnect")

	// A successful open resets the attempt counter.
	if got := m.Status().ReconnectAttempts; got != 0 {
		t.Errorf("ReconnectAttempts = %d after recovery, want 0", got)
	}

	// Each connection starts with its own subscribe frame.
	frames := fs.sentFrames()
	if len(frames) < 2 {
		t.Fatalf("frames = %d, want at least 2", len(frames))
	}
	want := `{"type":"subscribe","channels":["fraud_alerts"]}`
	for i, frame := range frames[:2] {
		if frame != want {
			t.Errorf("frame %d = %s, want %s", i, frame, want)
		}
	}
}

func TestManager_RetryCeiling(t *testing.T) {
	var requests atomic.Int64
	// Plain HTTP handler: every dial fails the upgrade.
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests.Add(1)
		http.Error(w, "no websocket here", http.StatusNotFound)
	}))
	defer server.Close()

	m := NewManager(testManagerConfig(wsURL(server), "fraud_alerts"), Handlers{}, nil)

	if err := m.Connect(context.Background()); err == nil {
		t.Fatal("expected Connect to report the dial error")
	}

	// Initial dial plus exactly MaxReconnectAttempts retries.
	waitFor(t, 3*time.Second, func() bool {
		return requests.Load() >= 6
	}, "retries did not run to the ceiling")

	// No sixth attempt is ever scheduled.
	time.Sleep(200 * time.Millisecond)
	if got := requests.Load(); got != 6 {
		t.Errorf("dial attempts = %d, want 6 (1 initial + 5 retries)", got)
	}

	status := m.Status()
	if status.Connected {
		t.Error("expected Connected=false after exhausting retries")
	}
	if status.ReconnectAttempts != 5 {
		t.Errorf("ReconnectAttempts = %d, want 5", status.ReconnectAttempts)
	}
	if status.Err == "" {
		t.Error("expected last error to be recorded")
	}

	if got := m.Stats().Reconnects; got != 5 {
		t.Errorf("Stats().Reconnects = %d, want 5", got)
	}
}

func TestManager_ReconnectDisabled(t *testing.T) {
	var requests atomic.Int64
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests.Add(1)
		http.Error(w, "no websocket here", http.StatusNotFound)
	}))
	defer server.Close()

	cfg := testManagerConfig(wsURL(server), "fraud_alerts")
	cfg.MaxReconnectAttempts = 0 // no reconnects

	m := NewManager(cfg, Handlers{}, nil)
	if err := m.Connect(context.Background()); err == nil {
		t.Fatal("expected Connect to report the dial error")
	}

	// Well past the base delay: no retry may ever be scheduled.
	time.Sleep(100 * time.Millisecond)
	if got := requests.Load(); got != 1 {
		t.Errorf("dial attempts = %d, want 1 (reconnects disabled)", got)
	}
	if got := m.Status().ReconnectAttempts; got != 0 {
		t.Errorf("ReconnectAttempts = %d, want 0", got)
	}
	if got := m.Stats().Reconnects; got != 0 {
		t.Errorf("Stats().Reconnects = %d, want 0", got)
	}
}

func TestReconnectDelay_Linear(t *testing.T) {
	base := 2 * time.Second
	var prev time.Duration
	for attempt := 1; attempt <= 5; attempt++ {
		delay := reconnectDelay(base, attempt)
		if want := base * time.Duration(attempt); delay != want {
			t.Errorf("reconnectDelay(%v, %d) = %v, want %v", base, attempt, delay, want)
		}
		if delay <= prev {
			t.Errorf("delay for attempt %d (%v) not strictly larger than previous (%v)", attempt, delay, prev)
		}
		prev = delay
	}
}

func TestManager_MalformedFrameDropped(t *testing.T) {
	fs := newFeedServer(t, 0)
	defer fs.close()

	var alertCalls, updateCalls atomic.Int64
	handlers := Handlers{
		OnAlert:  func(model.Alert) { alertCalls.Add(1) },
		OnUpdate: func(Envelope) { updateCalls.Add(1) },
	}

	m := NewManager(testManagerConfig(fs.url(), "fraud_alerts"), handlers, nil)
	if err := m.Connect(context.Background()); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	defer m.Disconnect()

	waitFor(t, 2*time.Second, func() bool {
		return len(fs.sentFrames()) >= 1
	}, "subscribe frame not seen")

	fs.push(`{this is not json`)

	waitFor(t, 2*time.Second, func() bool {
		return m.Stats().ParseErrors == 1
	}, "parse error not counted")

	status := m.Status()
	if !status.Connected {
		t.Error("connection state changed by a malformed frame")
	}
	if status.LastMessage != nil {
		t.Error("malformed frame must not be recorded as last message")
	}
	if alertCalls.Load() != 0 || updateCalls.Load() != 0 {
		t.Error("no callback may fire for a malformed frame")
	}
}

func TestManager_FraudAlertNormalization(t *testing.T) {
	fs := newFeedServer(t, 0)
	defer fs.close()

	alerts := make(chan model.Alert, 1)
	handlers := Handlers{
		OnAlert: func(a model.Alert) { alerts <- a },
	}

	m := NewManager(testManagerConfig(fs.url(), "fraud_alerts"), handlers, nil)
	if err := m.Connect(context.Background()); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	defer m.Disconnect()

	waitFor(t, 2*time.Second, func() bool {
		return len(fs.sentFrames()) >= 1
	}, "subscribe frame not seen")

	fs.push(`{"type":"fraud_alert","data":{"severity":"high","title":"X"},"timestamp":"2026-08-23T10:00:00Z"}`)

	var alert model.Alert
	select {
	case alert = <-alerts:
	case <-time.After(2 * time.Second):
		t.Fatal("alert callback did not fire")
	}

	if alert.Type != model.AlertFraudDetection {
		t.Errorf("Type = %q, want %q", alert.Type, model.AlertFraudDetection)
	}
	if alert.Severity != model.SeverityHigh {
		t.Errorf("Severity = %q, want %q", alert.Severity, model.SeverityHigh)
	}
	if alert.Title != "X" {
		t.Errorf("Title = %q, want %q", alert.Title, "X")
	}
	if alert.CreatedAt != "2026-08-23T10:00:00Z" {
		t.Errorf("CreatedAt = %q, want envelope timestamp", alert.CreatedAt)
	}
	if alert.ID == "" {
		t.Error("expected a synthetic alert id")
	}
	if alert.Description != defaultAlertDescription {
		t.Errorf("Description = %q, want default", alert.Description)
	}

	if last := m.Status().LastMessage; last == nil || last.Type != "fraud_alert" {
		t.Error("alert frame not recorded as last message")
	}
}

func TestManager_UpdatePassthrough(t *testing.T) {
	fs := newFeedServer(t, 0)
	defer fs.close()

	updates := make(chan Envelope, 1)
	handlers := Handlers{
		OnUpdate: func(env Envelope) { updates <- env },
	}

	m := NewManager(testManagerConfig(fs.url(), "market_data"), handlers, nil)
	if err := m.Connect(context.Background()); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	defer m.Disconnect()

	waitFor(t, 2*time.Second, func() bool {
		return len(fs.sentFrames()) >= 1
	}, "subscribe frame not seen")

	fs.push(`{"type":"market_update","data":{"symbol":"ACME","price":12.5},"timestamp":"2026-08-23T10:01:00Z"}`)

	select {
	case env := <-updates:
		if env.Type != "market_update" {
			t.Errorf("Type = %q, want market_update", env.Type)
		}
		if string(env.Data) != `{"symbol":"ACME","price":12.5}` {
			t.Errorf("Data = %s, want unmodified payload", env.Data)
		}
		if env.Timestamp != "2026-08-23T10:01:00Z" {
			t.Errorf("Timestamp = %q", env.Timestamp)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("update callback did not fire")
	}
}

func TestManager_UnknownTypeDropped(t *testing.T) {
	fs := newFeedServer(t, 0)
	defer fs.close()

	var alertCalls, updateCalls atomic.Int64
	handlers := Handlers{
		OnAlert:  func(model.Alert) { alertCalls.Add(1) },
		OnUpdate: func(Envelope) { updateCalls.Add(1) },
	}

	m := NewManager(testManagerConfig(fs.url(), "market_data"), handlers, nil)
	if err := m.Connect(context.Background()); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	defer m.Disconnect()

	waitFor(t, 2*time.Second, func() bool {
		return len(fs.sentFrames()) >= 1
	}, "subscribe frame not seen")

	fs.push(`{"type":"mystery_event","data":{},"timestamp":"2026-08-23T10:02:00Z"}`)

	waitFor(t, 2*time.Second, func() bool {
		return m.Stats().UnknownTypes == 1
	}, "unknown type not counted")

	if alertCalls.Load() != 0 || updateCalls.Load() != 0 {
		t.Error("no callback may fire for an unknown type")
	}
	// Unknown frames still parse, so they are recorded as last message.
	if last := m.Status().LastMessage; last == nil || last.Type != "mystery_event" {
		t.Error("unknown frame not recorded as last message")
	}
}

func TestManager_DisconnectIdempotent(t *testing.T) {
	fs := newFeedServer(t, 0)
	defer fs.close()

	m := NewManager(testManagerConfig(fs.url(), "fraud_alerts"), Handlers{}, nil)
	if err := m.Connect(context.Background()); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}

	if err := m.Disconnect(); err != nil {
		t.Errorf("first Disconnect failed: %v", err)
	}
	if err := m.Disconnect(); err != nil {
		t.Errorf("second Disconnect failed: %v", err)
	}

	if m.Status().Connected {
		t.Error("expected Connected=false after Disconnect")
	}

	// No pending reconnect: dial count stays put well past the delay.
	upgradesBefore := fs.upgrades.Load()
	time.Sleep(100 * time.Millisecond)
	if got := fs.upgrades.Load(); got != upgradesBefore {
		t.Errorf("upgrades grew from %d to %d after Disconnect", upgradesBefore, got)
	}
}

func TestManager_NoReconnectAfterDisconnect(t *testing.T) {
	fs := newFeedServer(t, 1) // server drops the first connection
	defer fs.close()

	cfg := testManagerConfig(fs.url(), "fraud_alerts")
	cfg.ReconnectBaseDelay = 50 * time.Millisecond

	m := NewManager(cfg, Handlers{}, nil)
	if err := m.Connect(context.Background()); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}

	// Disconnect before the reconnect timer fires cancels it.
	waitFor(t, 2*time.Second, func() bool {
		return !m.Status().Connected
	}, "server-side close not observed")
	m.Disconnect()

	time.Sleep(150 * time.Millisecond)
	if got := fs.upgrades.Load(); got != 1 {
		t.Errorf("upgrades = %d after Disconnect, want 1", got)
	}
}

func TestManager_SendFireAndForget(t *testing.T) {
	fs := newFeedServer(t, 0)
	defer fs.close()

	m := NewManager(testManagerConfig(fs.url(), "market_data"), Handlers{}, nil)

	// Not connected yet: nothing is queued.
	if m.Send(map[string]string{"type": "ping"}) {
		t.Error("Send must return false while disconnected")
	}

	if err := m.Connect(context.Background()); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}

	if !m.Send(map[string]string{"type": "ping"}) {
		t.Error("Send must return true while connected")
	}

	waitFor(t, 2*time.Second, func() bool {
		return len(fs.sentFrames()) >= 2
	}, "ping frame not received")

	m.Disconnect()
	if m.Send(map[string]string{"type": "ping"}) {
		t.Error("Send must return false after Disconnect")
	}
}
