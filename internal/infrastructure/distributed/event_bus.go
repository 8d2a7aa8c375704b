package distributed

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"stagecast/internal/core/domain"
	"stagecast/internal/core/ports"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// envelope wraps a studio event with the originating instance so instances
// can skip their own publications.
type envelope struct {
	InstanceID  string             `json:"instance_id"`
	PublishedAt time.Time          `json:"published_at"`
	Event       domain.StudioEvent `json:"event"`
}

// EventBus fans studio events out across instances over redis pub/sub, so
// browsers connected to different instances of the same broadcast see the
// same event stream.
type EventBus struct {
	client     *redis.Client
	instanceID string
	channel    string
	logger     *zap.SugaredLogger
	pubsub     *redis.PubSub
}

func NewEventBus(client *redis.Client, instanceID string, logger *zap.SugaredLogger) *EventBus {
	return &EventBus{
		client:     client,
		instanceID: instanceID,
		channel:    "stagecast:events",
		logger:     logger,
	}
}

// Publish sends one studio event to every other instance.
func (eb *EventBus) Publish(ctx context.Context, event *domain.StudioEvent) error {
	data, err := json.Marshal(envelope{
		InstanceID:  eb.instanceID,
		PublishedAt: time.Now(),
		Event:       *event,
	})
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	if err := eb.client.Publish(ctx, eb.channel, data).Err(); err != nil {
		return fmt.Errorf("failed to publish event: %w", err)
	}

	eb.logger.Debugw("published event",
		"type", event.Type,
		"participant_id", event.ParticipantID,
	)
	return nil
}

// Subscribe delivers events from other instances to handler until ctx ends.
// Events published by this instance are skipped.
func (eb *EventBus) Subscribe(ctx context.Context, handler func(*domain.StudioEvent)) error {
	if eb.pubsub != nil {
		return fmt.Errorf("already subscribed")
	}

	eb.pubsub = eb.client.Subscribe(ctx, eb.channel)
	defer eb.pubsub.Close()

	ch := eb.pubsub.Channel()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg := <-ch:
			var env envelope
			if err := json.Unmarshal([]byte(msg.Payload), &env); err != nil {
				eb.logger.Warnw("failed to unmarshal event",
					"error", err,
					"payload", msg.Payload,
				)
				continue
			}

			if env.InstanceID == eb.instanceID {
				continue
			}

			handler(&env.Event)
		}
	}
}

// Close terminates the subscription.
func (eb *EventBus) Close() error {
	if eb.pubsub != nil {
		return eb.pubsub.Close()
	}
	return nil
}

// eventPublisher is the bus surface FanOutSink mirrors broadcasts onto.
type eventPublisher interface {
	Publish(ctx context.Context, event *domain.StudioEvent) error
}

// FanOutSink wraps a local sink and mirrors every broadcast onto the bus.
// Disconnects stay local; the owning instance closes its own sockets.
type FanOutSink struct {
	local  ports.EventSink
	bus    eventPublisher
	logger *zap.SugaredLogger
}

func NewFanOutSink(local ports.EventSink, bus *EventBus, logger *zap.SugaredLogger) *FanOutSink {
	return &FanOutSink{local: local, bus: bus, logger: logger}
}

func (f *FanOutSink) Broadcast(event *domain.StudioEvent) {
	f.local.Broadcast(event)

	// The publish crosses the network; registry transitions never wait on it.
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := f.bus.Publish(ctx, event); err != nil {
			f.logger.Warnw("cross-instance publish failed", "type", event.Type, "error", err)
		}
	}()
}

func (f *FanOutSink) Disconnect(id domain.ParticipantID) {
	f.local.Disconnect(id)
}

var _ ports.EventSink = (*FanOutSink)(nil)
