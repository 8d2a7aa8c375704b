package signal

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"sync"
	"time"

	"stagecast/internal/core/domain"
	"stagecast/pkg/retry"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// EventHandler receives every event delivered over the channel.
type EventHandler func(event domain.StudioEvent)

// SnapshotHandler receives the full-state snapshot after each (re)connect.
// State observed before the snapshot arrives must be discarded.
type SnapshotHandler func(snapshot domain.Snapshot)

type ClientConfig struct {
	ServerURL     string
	ParticipantID domain.ParticipantID
	Backoff       retry.Config
	WriteTimeout  time.Duration
	PongTimeout   time.Duration
}

// Client maintains one signaling connection with automatic reconnection.
// After every successful connect it requests a snapshot rather than replaying
// missed events.
type Client struct {
	cfg        ClientConfig
	onEvent    EventHandler
	onSnapshot SnapshotHandler
	logger     *zap.SugaredLogger

	mu     sync.Mutex
	conn   *websocket.Conn
	cancel context.CancelFunc
	done   chan struct{}

	// Serializes frame writes: pongs from the read loop and Send callers
	// share one connection.
	writeMu sync.Mutex
}

func NewClient(cfg ClientConfig, onEvent EventHandler, onSnapshot SnapshotHandler, logger *zap.SugaredLogger) *Client {
	return &Client{
		cfg:        cfg,
		onEvent:    onEvent,
		onSnapshot: onSnapshot,
		logger:     logger.With("participant_id", cfg.ParticipantID),
	}
}

// Start runs the connect/read/reconnect loop until Stop or ctx cancellation.
func (c *Client) Start(ctx context.Context) error {
	if _, err := url.Parse(c.cfg.ServerURL); err != nil {
		return fmt.Errorf("invalid server url: %w", err)
	}

	runCtx, cancel := context.WithCancel(ctx)
	c.mu.Lock()
	c.cancel = cancel
	c.done = make(chan struct{})
	c.mu.Unlock()

	go c.run(runCtx)
	return nil
}

func (c *Client) Stop() {
	c.mu.Lock()
	cancel := c.cancel
	done := c.done
	conn := c.conn
	c.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if conn != nil {
		conn.Close()
	}
	if done != nil {
		<-done
	}
}

func (c *Client) run(ctx context.Context) {
	defer close(c.done)

	attempt := 0
	for {
		if ctx.Err() != nil {
			return
		}

		conn, err := c.dial(ctx)
		if err != nil {
			if c.cfg.Backoff.MaxAttempts > 0 && attempt >= c.cfg.Backoff.MaxAttempts {
				c.logger.Errorw("signaling reconnect attempts exhausted", "attempts", attempt)
				return
			}
			delay := c.cfg.Backoff.Delay(attempt)
			attempt++
			c.logger.Warnw("signaling connect failed, retrying",
				"attempt", attempt,
				"next_delay", delay,
				"error", err,
			)
			select {
			case <-ctx.Done():
				return
			case <-time.After(delay):
			}
			continue
		}

		// Connected: reset the backoff and resynchronize from a snapshot.
		attempt = 0
		c.mu.Lock()
		c.conn = conn
		c.mu.Unlock()
		c.logger.Infow("signaling connected")

		if err := c.requestSync(conn); err != nil {
			c.logger.Warnw("snapshot request failed", "error", err)
			conn.Close()
			continue
		}

		c.readLoop(ctx, conn)

		c.mu.Lock()
		c.conn = nil
		c.mu.Unlock()
		conn.Close()
	}
}

func (c *Client) dial(ctx context.Context) (*websocket.Conn, error) {
	endpoint := fmt.Sprintf("%s?participant_id=%s", c.cfg.ServerURL, url.QueryEscape(string(c.cfg.ParticipantID)))
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, endpoint, nil)
	if err != nil {
		return nil, err
	}

	conn.SetReadDeadline(time.Now().Add(c.cfg.PongTimeout))
	conn.SetPingHandler(func(data string) error {
		conn.SetReadDeadline(time.Now().Add(c.cfg.PongTimeout))
		c.writeMu.Lock()
		defer c.writeMu.Unlock()
		conn.SetWriteDeadline(time.Now().Add(c.cfg.WriteTimeout))
		return conn.WriteMessage(websocket.PongMessage, []byte(data))
	})
	return conn, nil
}

func (c *Client) writeJSON(conn *websocket.Conn, v interface{}) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	conn.SetWriteDeadline(time.Now().Add(c.cfg.WriteTimeout))
	return conn.WriteJSON(v)
}

func (c *Client) requestSync(conn *websocket.Conn) error {
	return c.writeJSON(conn, domain.StudioEvent{
		Type:          domain.EventSyncRequest,
		ParticipantID: c.cfg.ParticipantID,
		Timestamp:     time.Now(),
	})
}

func (c *Client) readLoop(ctx context.Context, conn *websocket.Conn) {
	for {
		var event domain.StudioEvent
		if err := conn.ReadJSON(&event); err != nil {
			if ctx.Err() == nil {
				c.logger.Infow("signaling connection lost", "error", err)
			}
			return
		}
		conn.SetReadDeadline(time.Now().Add(c.cfg.PongTimeout))

		if event.Type == domain.EventSyncSnapshot && c.onSnapshot != nil {
			var snapshot domain.Snapshot
			if err := json.Unmarshal(event.Payload, &snapshot); err != nil {
				c.logger.Warnw("invalid snapshot payload", "error", err)
				continue
			}
			c.onSnapshot(snapshot)
			continue
		}
		if c.onEvent != nil {
			c.onEvent(event)
		}
	}
}

// Send publishes one event on the current connection. Returns an error while
// disconnected; callers rely on snapshot resync rather than queueing.
func (c *Client) Send(event domain.StudioEvent) error {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()

	if conn == nil {
		return domain.ErrSignalingDisconnected
	}
	return c.writeJSON(conn, event)
}
