package signal

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"stagecast/internal/core/domain"
	"stagecast/internal/core/ports"
	"stagecast/pkg/validation"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // Should be configured properly for production
	},
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
}

// SnapshotProvider produces the full session snapshot a client resynchronizes
// from. Reconnecting clients get a snapshot instead of missed-event replay.
type SnapshotProvider interface {
	CurrentSnapshot(ctx context.Context) (*domain.Snapshot, error)
}

// LayoutApplier receives host layout selections.
type LayoutApplier interface {
	SetLayout(layout domain.Layout)
}

// OverlayApplier receives host overlay controls and chat overlay lines.
type OverlayApplier interface {
	ApplyOverlayControls(p domain.OverlayUpdatedPayload)
	AppendChatLine(msg domain.ChatMessagePayload)
}

// ConnMetrics observes connection and chat activity. Optional.
type ConnMetrics interface {
	SetSignalConnections(n int)
	RecordChatMessage()
}

type ServerConfig struct {
	PingInterval time.Duration
	PongTimeout  time.Duration
	WriteTimeout time.Duration
	ChatRate     float64
	ChatBurst    int
}

// Server is the fan-out hub between the session core and every connected
// browser. It is the EventSink the registry broadcasts through; delivery is
// best effort and never blocks the caller.
type Server struct {
	registry  ports.RegistryService
	snapshots SnapshotProvider
	layouts   LayoutApplier
	overlays  OverlayApplier
	metrics   ConnMetrics

	connections map[domain.ParticipantID]*clientConn
	mu          sync.RWMutex

	cfg    ServerConfig
	logger *zap.SugaredLogger
}

// clientConn serializes writes to one websocket connection and carries the
// per-client chat limiter.
type clientConn struct {
	conn    *websocket.Conn
	writeMu sync.Mutex
	chat    *rate.Limiter
}

func (c *clientConn) writeJSON(timeout time.Duration, v interface{}) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	c.conn.SetWriteDeadline(time.Now().Add(timeout))
	return c.conn.WriteJSON(v)
}

func NewServer(cfg ServerConfig, metrics ConnMetrics, logger *zap.SugaredLogger) *Server {
	return &Server{
		metrics:     metrics,
		connections: make(map[domain.ParticipantID]*clientConn),
		cfg:         cfg,
		logger:      logger,
	}
}

// Attach late-binds the session core. The registry broadcasts through this
// server while the server dispatches client requests into the registry, so
// both cannot be constructor arguments. Must be called before serving.
func (s *Server) Attach(registry ports.RegistryService, snapshots SnapshotProvider, layouts LayoutApplier, overlays OverlayApplier) {
	s.registry = registry
	s.snapshots = snapshots
	s.layouts = layouts
	s.overlays = overlays
}

func (s *Server) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	participantID := domain.ParticipantID(r.URL.Query().Get("participant_id"))
	if participantID == "" {
		http.Error(w, "participant_id is required", http.StatusBadRequest)
		return
	}
	if _, err := s.registry.Snapshot(r.Context()); err != nil {
		http.Error(w, "session unavailable", http.StatusServiceUnavailable)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Errorw("websocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	client := &clientConn{
		conn: conn,
		chat: rate.NewLimiter(rate.Limit(s.cfg.ChatRate), s.cfg.ChatBurst),
	}

	// A reconnecting participant replaces its stale connection.
	s.mu.Lock()
	if existing, isReconnect := s.connections[participantID]; isReconnect {
		existing.conn.Close()
		s.logger.Infow("closing stale connection for reconnecting participant", "participant_id", participantID)
	}
	s.connections[participantID] = client
	count := len(s.connections)
	s.mu.Unlock()
	if s.metrics != nil {
		s.metrics.SetSignalConnections(count)
	}

	s.logger.Infow("participant connected", "participant_id", participantID)

	conn.SetReadDeadline(time.Now().Add(s.cfg.PongTimeout))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(s.cfg.PongTimeout))
		return nil
	})

	pingTicker := time.NewTicker(s.cfg.PingInterval)
	defer pingTicker.Stop()

	messageChan := make(chan domain.StudioEvent, 10)
	errorChan := make(chan error, 1)

	go func() {
		for {
			var event domain.StudioEvent
			if err := conn.ReadJSON(&event); err != nil {
				errorChan <- err
				return
			}
			conn.SetReadDeadline(time.Now().Add(s.cfg.PongTimeout))
			messageChan <- event
		}
	}()

	for {
		select {
		case event := <-messageChan:
			if err := s.handleEvent(context.Background(), participantID, client, event); err != nil {
				s.logger.Infow("error handling client event", "participant_id", participantID, "type", event.Type, "error", err)
				s.sendError(client, string(event.Type), err.Error())
			}

		case <-pingTicker.C:
			client.writeMu.Lock()
			conn.SetWriteDeadline(time.Now().Add(s.cfg.WriteTimeout))
			err := conn.WriteMessage(websocket.PingMessage, nil)
			client.writeMu.Unlock()
			if err != nil {
				s.logger.Infow("error sending ping", "participant_id", participantID, "error", err)
				goto cleanup
			}

		case err := <-errorChan:
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				s.logger.Infow("error reading client event", "participant_id", participantID, "error", err)
			}
			goto cleanup
		}
	}

cleanup:
	s.mu.Lock()
	if current, ok := s.connections[participantID]; ok && current == client {
		delete(s.connections, participantID)
	}
	count = len(s.connections)
	s.mu.Unlock()
	if s.metrics != nil {
		s.metrics.SetSignalConnections(count)
	}

	s.logger.Infow("participant disconnected", "participant_id", participantID)
}

func (s *Server) handleEvent(ctx context.Context, participantID domain.ParticipantID, client *clientConn, event domain.StudioEvent) error {
	if event.Type == "" {
		return fmt.Errorf("event type is required")
	}
	if event.ParticipantID != "" && event.ParticipantID != participantID {
		return fmt.Errorf("participant_id mismatch: expected %s, got %s", participantID, event.ParticipantID)
	}

	switch event.Type {
	case domain.EventSyncRequest:
		return s.handleSyncRequest(ctx, client)
	case domain.EventMediaStateChanged:
		return s.handleMediaState(ctx, participantID, event)
	case domain.EventLayoutUpdated:
		return s.handleLayoutUpdate(ctx, participantID, event)
	case domain.EventOverlayUpdated:
		return s.handleOverlayUpdate(ctx, participantID, event)
	case domain.EventChatMessage:
		return s.handleChat(ctx, participantID, client, event)
	default:
		return fmt.Errorf("unknown event type: %s", event.Type)
	}
}

// handleSyncRequest answers with a full state snapshot. Sent by clients after
// every (re)connect.
func (s *Server) handleSyncRequest(ctx context.Context, client *clientConn) error {
	snapshot, err := s.snapshots.CurrentSnapshot(ctx)
	if err != nil {
		return fmt.Errorf("build snapshot: %w", err)
	}

	payload, err := json.Marshal(snapshot)
	if err != nil {
		return fmt.Errorf("encode snapshot: %w", err)
	}

	return client.writeJSON(s.cfg.WriteTimeout, domain.StudioEvent{
		Type:        domain.EventSyncSnapshot,
		BroadcastID: snapshot.BroadcastID,
		Timestamp:   time.Now(),
		Payload:     payload,
	})
}

// handleMediaState applies a client's own mute/camera/volume change through
// the registry, which rebroadcasts the resulting state to everyone.
func (s *Server) handleMediaState(ctx context.Context, participantID domain.ParticipantID, event domain.StudioEvent) error {
	var payload domain.MediaStatePayload
	if err := json.Unmarshal(event.Payload, &payload); err != nil {
		return fmt.Errorf("invalid media state payload: %w", err)
	}
	if payload.ParticipantID != "" && payload.ParticipantID != participantID {
		return fmt.Errorf("media state may only be changed for oneself")
	}
	if err := validation.ValidateVolume(payload.Volume); err != nil {
		return err
	}

	if err := s.registry.SetAudio(ctx, participantID, payload.Audio); err != nil {
		return err
	}
	if err := s.registry.SetVideo(ctx, participantID, payload.Video); err != nil {
		return err
	}
	return s.registry.SetVolume(ctx, participantID, payload.Volume)
}

// handleLayoutUpdate applies a host layout selection to the compositor and
// fans it out. Only hosts may change the layout.
func (s *Server) handleLayoutUpdate(ctx context.Context, participantID domain.ParticipantID, event domain.StudioEvent) error {
	if err := s.requireHost(ctx, participantID); err != nil {
		return err
	}

	var payload domain.LayoutUpdatedPayload
	if err := json.Unmarshal(event.Payload, &payload); err != nil {
		return fmt.Errorf("invalid layout payload: %w", err)
	}

	layout := domain.Layout{Type: payload.Type}
	for _, ref := range payload.Slots {
		layout.Slots = append(layout.Slots, domain.StageSlot{
			Index:         ref.Index,
			ParticipantID: ref.ParticipantID,
			SourceID:      ref.SourceID,
		})
	}
	s.layouts.SetLayout(layout)

	s.Broadcast(&domain.StudioEvent{
		Type:          domain.EventLayoutUpdated,
		ParticipantID: participantID,
		Timestamp:     time.Now(),
		Payload:       event.Payload,
	})
	return nil
}

// handleOverlayUpdate applies host overlay controls (name tags, captions,
// lower-third, teleprompter) and fans the change out.
func (s *Server) handleOverlayUpdate(ctx context.Context, participantID domain.ParticipantID, event domain.StudioEvent) error {
	if err := s.requireHost(ctx, participantID); err != nil {
		return err
	}

	var payload domain.OverlayUpdatedPayload
	if err := json.Unmarshal(event.Payload, &payload); err != nil {
		return fmt.Errorf("invalid overlay payload: %w", err)
	}
	s.overlays.ApplyOverlayControls(payload)

	s.Broadcast(&domain.StudioEvent{
		Type:          domain.EventOverlayUpdated,
		ParticipantID: participantID,
		Timestamp:     time.Now(),
		Payload:       event.Payload,
	})
	return nil
}

// handleChat rate limits and fans out a chat line. Chat is transient; nothing
// is persisted.
func (s *Server) handleChat(ctx context.Context, participantID domain.ParticipantID, client *clientConn, event domain.StudioEvent) error {
	if !client.chat.Allow() {
		return fmt.Errorf("chat rate limit exceeded")
	}

	var payload domain.ChatMessagePayload
	if err := json.Unmarshal(event.Payload, &payload); err != nil {
		return fmt.Errorf("invalid chat payload: %w", err)
	}
	if err := validation.ValidateChatBody(payload.Body); err != nil {
		return err
	}
	payload.From = participantID
	s.overlays.AppendChatLine(payload)
	if s.metrics != nil {
		s.metrics.RecordChatMessage()
	}

	raw, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	s.Broadcast(&domain.StudioEvent{
		Type:          domain.EventChatMessage,
		ParticipantID: participantID,
		Timestamp:     time.Now(),
		Payload:       raw,
	})
	return nil
}

func (s *Server) requireHost(ctx context.Context, participantID domain.ParticipantID) error {
	snapshot, err := s.registry.Snapshot(ctx)
	if err != nil {
		return err
	}
	for _, p := range snapshot {
		if p.ID == participantID {
			if p.Role != domain.RoleHost {
				return fmt.Errorf("this action requires the host role")
			}
			return nil
		}
	}
	return domain.ErrParticipantNotFound
}

// Broadcast fans an event out to every connected browser. Failed writes only
// log; the caller never observes delivery errors.
func (s *Server) Broadcast(event *domain.StudioEvent) {
	s.mu.RLock()
	clients := make(map[domain.ParticipantID]*clientConn, len(s.connections))
	for id, c := range s.connections {
		clients[id] = c
	}
	s.mu.RUnlock()

	for id, client := range clients {
		if err := client.writeJSON(s.cfg.WriteTimeout, event); err != nil {
			s.logger.Debugw("broadcast delivery failed", "participant_id", id, "type", event.Type, "error", err)
		}
	}
}

// Disconnect force-closes a participant's signaling connection. Used on ban.
func (s *Server) Disconnect(id domain.ParticipantID) {
	s.mu.Lock()
	client, ok := s.connections[id]
	if ok {
		delete(s.connections, id)
	}
	count := len(s.connections)
	s.mu.Unlock()

	if !ok {
		return
	}
	if s.metrics != nil {
		s.metrics.SetSignalConnections(count)
	}
	client.conn.Close()
	s.logger.Infow("participant connection closed by server", "participant_id", id)
}

func (s *Server) sendError(client *clientConn, eventType, message string) {
	payload, _ := json.Marshal(map[string]string{
		"event":   eventType,
		"message": message,
	})
	client.writeJSON(s.cfg.WriteTimeout, domain.StudioEvent{
		Type:      "error",
		Timestamp: time.Now(),
		Payload:   payload,
	})
}

// ConnectedParticipants reports who currently holds a signaling connection.
func (s *Server) ConnectedParticipants() []domain.ParticipantID {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := make([]domain.ParticipantID, 0, len(s.connections))
	for id := range s.connections {
		ids = append(ids, id)
	}
	return ids
}

var _ ports.EventSink = (*Server)(nil)
