package distributed

import (
	"context"
	"sync"
	"testing"
	"time"

	"stagecast/internal/core/domain"

	"go.uber.org/zap/zaptest"
)

type captureSink struct {
	mu     sync.Mutex
	events []domain.EventType
}

func (s *captureSink) Broadcast(event *domain.StudioEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, event.Type)
}

func (s *captureSink) Disconnect(domain.ParticipantID) {}

func (s *captureSink) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.events)
}

type blockingPublisher struct {
	release   chan struct{}
	published chan domain.EventType
}

func (p *blockingPublisher) Publish(ctx context.Context, event *domain.StudioEvent) error {
	select {
	case <-p.release:
	case <-ctx.Done():
		return ctx.Err()
	}
	p.published <- event.Type
	return nil
}

func TestFanOutSink_BroadcastDoesNotWaitOnBus(t *testing.T) {
	local := &captureSink{}
	publisher := &blockingPublisher{
		release:   make(chan struct{}),
		published: make(chan domain.EventType, 1),
	}
	sink := &FanOutSink{local: local, bus: publisher, logger: zaptest.NewLogger(t).Sugar()}

	start := time.Now()
	sink.Broadcast(&domain.StudioEvent{Type: domain.EventStageTransition})
	elapsed := time.Since(start)

	if elapsed > 200*time.Millisecond {
		t.Fatalf("Broadcast blocked %v on the bus publish", elapsed)
	}
	if local.count() != 1 {
		t.Fatalf("local sink got %d events, want 1", local.count())
	}

	// The mirrored publish still happens once the bus unblocks.
	close(publisher.release)
	select {
	case got := <-publisher.published:
		if got != domain.EventStageTransition {
			t.Errorf("published %s, want stage-transition", got)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("event never reached the bus")
	}
}
