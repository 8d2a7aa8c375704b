package signal

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"stagecast/internal/core/domain"
	"stagecast/internal/core/ports"
	"stagecast/internal/core/services"
	"stagecast/internal/infrastructure/repositories/memory"

	"github.com/gorilla/websocket"
	"go.uber.org/zap/zaptest"
)

type fixedSnapshots struct {
	snapshot domain.Snapshot
}

func (f *fixedSnapshots) CurrentSnapshot(ctx context.Context) (*domain.Snapshot, error) {
	snap := f.snapshot
	snap.TakenAt = time.Now()
	return &snap, nil
}

type recordingLayouts struct {
	mu       sync.Mutex
	layout   domain.Layout
	calls    int
	overlays domain.OverlayUpdatedPayload
	chat     []domain.ChatMessagePayload
}

func (r *recordingLayouts) SetLayout(layout domain.Layout) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.layout = layout
	r.calls++
}

func (r *recordingLayouts) ApplyOverlayControls(p domain.OverlayUpdatedPayload) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.overlays = p
}

func (r *recordingLayouts) AppendChatLine(msg domain.ChatMessagePayload) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.chat = append(r.chat, msg)
}

func (r *recordingLayouts) last() (domain.Layout, int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.layout, r.calls
}

func (r *recordingLayouts) overlayState() (domain.OverlayUpdatedPayload, []domain.ChatMessagePayload) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.overlays, append([]domain.ChatMessagePayload(nil), r.chat...)
}

type countingMetrics struct {
	mu    sync.Mutex
	conns int
	chats int
}

func (m *countingMetrics) SetSignalConnections(n int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.conns = n
}

func (m *countingMetrics) RecordChatMessage() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.chats++
}

func (m *countingMetrics) chatCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.chats
}

type signalHarness struct {
	server   *Server
	registry ports.RegistryService
	layouts  *recordingLayouts
	metrics  *countingMetrics
	ts       *httptest.Server
}

func newSignalHarness(t *testing.T) *signalHarness {
	t.Helper()
	logger := zaptest.NewLogger(t).Sugar()

	metrics := &countingMetrics{}
	server := NewServer(ServerConfig{
		PingInterval: 50 * time.Millisecond,
		PongTimeout:  2 * time.Second,
		WriteTimeout: time.Second,
		ChatRate:     1,
		ChatBurst:    1,
	}, metrics, logger)

	registry := services.NewRegistryService(
		memory.NewMemoryParticipantRepository(),
		server,
		services.RegistryConfig{MaxParticipants: 10, MaxOnStage: 4},
		logger,
	)

	layouts := &recordingLayouts{}
	snapshots := &fixedSnapshots{snapshot: domain.Snapshot{
		BroadcastID: "broadcast_test",
		IsLive:      true,
		Layout:      domain.LayoutUpdatedPayload{Type: domain.LayoutGrid},
	}}
	server.Attach(registry, snapshots, layouts, layouts)

	ts := httptest.NewServer(http.HandlerFunc(server.HandleWebSocket))
	t.Cleanup(ts.Close)

	return &signalHarness{server: server, registry: registry, layouts: layouts, metrics: metrics, ts: ts}
}

func (h *signalHarness) dial(t *testing.T, participantID string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(h.ts.URL, "http") + "?participant_id=" + participantID
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial failed: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

// readEvent skips unrelated fan-out traffic until the wanted type arrives.
func readEvent(t *testing.T, conn *websocket.Conn, want domain.EventType) domain.StudioEvent {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	for {
		var event domain.StudioEvent
		if err := conn.ReadJSON(&event); err != nil {
			t.Fatalf("read while waiting for %s: %v", want, err)
		}
		if event.Type == want {
			return event
		}
	}
}

func TestHandleWebSocket_RequiresParticipantID(t *testing.T) {
	h := newSignalHarness(t)

	resp, err := http.Get(h.ts.URL)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", resp.StatusCode)
	}
}

func TestSyncRequest_ReturnsSnapshot(t *testing.T) {
	h := newSignalHarness(t)

	if _, err := h.registry.Join(context.Background(), "p1", "Guest", domain.RoleGuest, "fp-1"); err != nil {
		t.Fatal(err)
	}

	conn := h.dial(t, "p1")
	if err := conn.WriteJSON(domain.StudioEvent{Type: domain.EventSyncRequest, Timestamp: time.Now()}); err != nil {
		t.Fatal(err)
	}

	event := readEvent(t, conn, domain.EventSyncSnapshot)
	var snap domain.Snapshot
	if err := json.Unmarshal(event.Payload, &snap); err != nil {
		t.Fatalf("snapshot decode: %v", err)
	}
	if snap.BroadcastID != "broadcast_test" || !snap.IsLive {
		t.Errorf("unexpected snapshot: %+v", snap)
	}
}

func TestChat_FansOutWithSenderIdentity(t *testing.T) {
	h := newSignalHarness(t)
	ctx := context.Background()

	if _, err := h.registry.Join(ctx, "p1", "Sender", domain.RoleGuest, "fp-1"); err != nil {
		t.Fatal(err)
	}
	if _, err := h.registry.Join(ctx, "p2", "Listener", domain.RoleGuest, "fp-2"); err != nil {
		t.Fatal(err)
	}

	sender := h.dial(t, "p1")
	listener := h.dial(t, "p2")

	payload, _ := json.Marshal(domain.ChatMessagePayload{From: "spoofed", Body: "hello"})
	if err := sender.WriteJSON(domain.StudioEvent{Type: domain.EventChatMessage, Payload: payload}); err != nil {
		t.Fatal(err)
	}

	event := readEvent(t, listener, domain.EventChatMessage)
	var chat domain.ChatMessagePayload
	if err := json.Unmarshal(event.Payload, &chat); err != nil {
		t.Fatal(err)
	}
	if chat.From != "p1" {
		t.Errorf("chat sender = %s, the server must stamp the real identity", chat.From)
	}
	if chat.Body != "hello" {
		t.Errorf("chat body = %q", chat.Body)
	}

	// The line also reaches the chat overlay and the chat counter.
	_, lines := h.layouts.overlayState()
	if len(lines) != 1 || lines[0].From != "p1" {
		t.Errorf("overlay chat lines = %+v", lines)
	}
	if got := h.metrics.chatCount(); got != 1 {
		t.Errorf("chat messages recorded = %d, want 1", got)
	}
}

func TestOverlayUpdate_HostOnly(t *testing.T) {
	h := newSignalHarness(t)
	ctx := context.Background()

	if _, err := h.registry.Join(ctx, "host", "Host", domain.RoleHost, "fp-h"); err != nil {
		t.Fatal(err)
	}
	if _, err := h.registry.Join(ctx, "guest", "Guest", domain.RoleGuest, "fp-g"); err != nil {
		t.Fatal(err)
	}

	payload, _ := json.Marshal(domain.OverlayUpdatedPayload{
		NameTags:   true,
		LowerThird: "Breaking: launch day",
	})

	guest := h.dial(t, "guest")
	if err := guest.WriteJSON(domain.StudioEvent{Type: domain.EventOverlayUpdated, Payload: payload}); err != nil {
		t.Fatal(err)
	}
	readEvent(t, guest, "error")

	host := h.dial(t, "host")
	if err := host.WriteJSON(domain.StudioEvent{Type: domain.EventOverlayUpdated, Payload: payload}); err != nil {
		t.Fatal(err)
	}
	readEvent(t, guest, domain.EventOverlayUpdated)

	overlays, _ := h.layouts.overlayState()
	if !overlays.NameTags || overlays.LowerThird != "Breaking: launch day" {
		t.Errorf("applied overlays = %+v", overlays)
	}
}

func TestChat_RateLimited(t *testing.T) {
	h := newSignalHarness(t)

	if _, err := h.registry.Join(context.Background(), "p1", "Chatty", domain.RoleGuest, "fp-1"); err != nil {
		t.Fatal(err)
	}
	conn := h.dial(t, "p1")

	payload, _ := json.Marshal(domain.ChatMessagePayload{Body: "spam"})
	// Burst of 1: the second immediate message trips the limiter.
	for i := 0; i < 2; i++ {
		if err := conn.WriteJSON(domain.StudioEvent{Type: domain.EventChatMessage, Payload: payload}); err != nil {
			t.Fatal(err)
		}
	}

	event := readEvent(t, conn, "error")
	var detail map[string]string
	if err := json.Unmarshal(event.Payload, &detail); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(detail["message"], "rate limit") {
		t.Errorf("error = %q, want rate limit", detail["message"])
	}
}

func TestLayoutUpdate_HostOnly(t *testing.T) {
	h := newSignalHarness(t)
	ctx := context.Background()

	if _, err := h.registry.Join(ctx, "host", "Host", domain.RoleHost, "fp-h"); err != nil {
		t.Fatal(err)
	}
	if _, err := h.registry.Join(ctx, "guest", "Guest", domain.RoleGuest, "fp-g"); err != nil {
		t.Fatal(err)
	}

	payload, _ := json.Marshal(domain.LayoutUpdatedPayload{
		Type:  domain.LayoutSpotlight,
		Slots: []domain.SlotRef{{Index: 0, ParticipantID: "host"}},
	})

	guest := h.dial(t, "guest")
	if err := guest.WriteJSON(domain.StudioEvent{Type: domain.EventLayoutUpdated, Payload: payload}); err != nil {
		t.Fatal(err)
	}
	readEvent(t, guest, "error")
	if _, calls := h.layouts.last(); calls != 0 {
		t.Error("guest layout change must not reach the compositor")
	}

	host := h.dial(t, "host")
	if err := host.WriteJSON(domain.StudioEvent{Type: domain.EventLayoutUpdated, Payload: payload}); err != nil {
		t.Fatal(err)
	}

	// The applied layout fans back out to everyone.
	readEvent(t, guest, domain.EventLayoutUpdated)
	layout, calls := h.layouts.last()
	if calls != 1 {
		t.Fatalf("layout calls = %d, want 1", calls)
	}
	if layout.Type != domain.LayoutSpotlight || len(layout.Slots) != 1 {
		t.Errorf("applied layout = %+v", layout)
	}
}

func TestMediaState_SelfOnly(t *testing.T) {
	h := newSignalHarness(t)
	ctx := context.Background()

	if _, err := h.registry.Join(ctx, "p1", "Guest", domain.RoleGuest, "fp-1"); err != nil {
		t.Fatal(err)
	}
	if _, err := h.registry.Join(ctx, "p2", "Other", domain.RoleGuest, "fp-2"); err != nil {
		t.Fatal(err)
	}
	conn := h.dial(t, "p1")

	// Changing someone else's media state is rejected.
	spoofed, _ := json.Marshal(domain.MediaStatePayload{ParticipantID: "p2", Audio: false, Volume: 1})
	if err := conn.WriteJSON(domain.StudioEvent{Type: domain.EventMediaStateChanged, Payload: spoofed}); err != nil {
		t.Fatal(err)
	}
	readEvent(t, conn, "error")

	own, _ := json.Marshal(domain.MediaStatePayload{Audio: false, Video: true, Volume: 0.5})
	if err := conn.WriteJSON(domain.StudioEvent{Type: domain.EventMediaStateChanged, Payload: own}); err != nil {
		t.Fatal(err)
	}
	readEvent(t, conn, domain.EventMediaStateChanged)

	snap, err := h.registry.Snapshot(ctx)
	if err != nil {
		t.Fatal(err)
	}
	for _, p := range snap {
		if p.ID == "p1" {
			if p.Audio || p.Volume != 0.5 {
				t.Errorf("media state not applied: %+v", p)
			}
		}
		if p.ID == "p2" && !p.Audio {
			t.Error("p2 media state must be untouched")
		}
	}
}

func TestDisconnect_ForcesClose(t *testing.T) {
	h := newSignalHarness(t)

	if _, err := h.registry.Join(context.Background(), "p1", "Guest", domain.RoleGuest, "fp-1"); err != nil {
		t.Fatal(err)
	}
	conn := h.dial(t, "p1")

	// Wait until the server registered the connection.
	deadline := time.Now().Add(time.Second)
	for len(h.server.ConnectedParticipants()) == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}

	h.server.Disconnect("p1")

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return // connection torn down as expected
		}
	}
}

func TestReconnect_ReplacesStaleConnection(t *testing.T) {
	h := newSignalHarness(t)

	if _, err := h.registry.Join(context.Background(), "p1", "Guest", domain.RoleGuest, "fp-1"); err != nil {
		t.Fatal(err)
	}

	first := h.dial(t, "p1")
	second := h.dial(t, "p1")

	// The replacement connection stays usable.
	if err := second.WriteJSON(domain.StudioEvent{Type: domain.EventSyncRequest}); err != nil {
		t.Fatal(err)
	}
	readEvent(t, second, domain.EventSyncSnapshot)

	// The stale one is closed by the server.
	first.SetReadDeadline(time.Now().Add(2 * time.Second))
	for {
		if _, _, err := first.ReadMessage(); err != nil {
			break
		}
	}

	ids := h.server.ConnectedParticipants()
	if len(ids) != 1 || ids[0] != "p1" {
		t.Errorf("connected = %v, want exactly p1", ids)
	}
}
