package services

import (
	"context"
	"fmt"
	"sync"
	"time"

	"stagecast/internal/core/domain"
	"stagecast/internal/core/ports"
	"stagecast/pkg/tracing"

	"go.uber.org/zap"
)

// Renderer is the compositor surface the orchestrator drives.
type Renderer interface {
	Start(ctx context.Context) error
	Stop()
	SetLayout(layout domain.Layout)
	Layout() domain.Layout
}

// BroadcastStatus is the control-surface view of the whole session.
type BroadcastStatus struct {
	BroadcastID  domain.BroadcastID         `json:"broadcast_id"`
	IsLive       bool                       `json:"is_live"`
	IsRecording  bool                       `json:"is_recording"`
	StartedAt    time.Time                  `json:"started_at,omitempty"`
	Participants int                        `json:"participants"`
	OnStage      int                        `json:"on_stage"`
	Viewers      int                        `json:"viewers"`
	Destinations []domain.DestinationStatus `json:"destinations"`
}

// Orchestrator ties the registry, compositor and destination manager into one
// broadcast lifecycle. It is the only component that flips the live flag.
type Orchestrator struct {
	broadcastID domain.BroadcastID
	registry    ports.RegistryService
	renderer    Renderer
	streams     ports.DestinationManager

	mu          sync.RWMutex
	live        bool
	recording   bool
	startedAt   time.Time
	viewers     map[domain.Platform]int
	runCancel   context.CancelFunc
	destination []domain.Destination

	logger *zap.SugaredLogger
}

func NewOrchestrator(
	broadcastID domain.BroadcastID,
	registry ports.RegistryService,
	renderer Renderer,
	streams ports.DestinationManager,
	logger *zap.SugaredLogger,
) *Orchestrator {
	return &Orchestrator{
		broadcastID: broadcastID,
		registry:    registry,
		renderer:    renderer,
		streams:     streams,
		viewers:     make(map[domain.Platform]int),
		logger:      logger.With("broadcast_id", broadcastID),
	}
}

// Start takes the broadcast live: the compositor begins rendering and every
// configured destination starts its own connection cycle.
func (o *Orchestrator) Start(ctx context.Context, destinations []domain.Destination) error {
	ctx, span := tracing.TraceBroadcast(ctx, "start", string(o.broadcastID))
	defer span.End()

	o.mu.Lock()
	if o.live {
		o.mu.Unlock()
		return domain.ErrBroadcastAlreadyLive
	}

	runCtx, cancel := context.WithCancel(context.Background())
	if err := o.renderer.Start(runCtx); err != nil {
		cancel()
		o.mu.Unlock()
		tracing.RecordError(ctx, err)
		return fmt.Errorf("start compositor: %w", err)
	}

	if err := o.streams.StartAll(runCtx, destinations); err != nil {
		o.renderer.Stop()
		cancel()
		o.mu.Unlock()
		tracing.RecordError(ctx, err)
		return fmt.Errorf("start destinations: %w", err)
	}

	o.live = true
	o.startedAt = time.Now()
	o.runCancel = cancel
	o.destination = destinations
	o.mu.Unlock()

	o.logger.Infow("broadcast started", "destinations", len(destinations))
	return nil
}

// Stop ends the broadcast: destination sessions terminate, then the
// compositor stops. Participants keep their stage state for a possible
// restart.
func (o *Orchestrator) Stop(ctx context.Context) error {
	ctx, span := tracing.TraceBroadcast(ctx, "stop", string(o.broadcastID))
	defer span.End()

	o.mu.Lock()
	if !o.live {
		o.mu.Unlock()
		return domain.ErrBroadcastNotLive
	}
	cancel := o.runCancel
	o.live = false
	o.recording = false
	o.runCancel = nil
	o.mu.Unlock()

	o.streams.StopAll()
	o.renderer.Stop()
	if cancel != nil {
		cancel()
	}

	o.logger.Infow("broadcast stopped")
	return nil
}

// AddDestination attaches a destination to a live broadcast.
func (o *Orchestrator) AddDestination(ctx context.Context, dest domain.Destination) error {
	ctx, span := tracing.TraceDestination(ctx, "add", string(dest.ID), string(dest.Platform))
	defer span.End()

	o.mu.RLock()
	live := o.live
	o.mu.RUnlock()
	if !live {
		return domain.ErrBroadcastNotLive
	}

	if err := o.streams.Add(ctx, dest); err != nil {
		tracing.RecordError(ctx, err)
		return err
	}

	o.mu.Lock()
	o.destination = append(o.destination, dest)
	o.mu.Unlock()
	return nil
}

// RemoveDestination terminates one destination without touching the rest.
func (o *Orchestrator) RemoveDestination(id domain.DestinationID) {
	o.streams.Stop(id)
}

func (o *Orchestrator) SetRecording(enabled bool) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	if enabled && !o.live {
		return domain.ErrBroadcastNotLive
	}
	o.recording = enabled
	o.logger.Infow("recording flag changed", "recording", enabled)
	return nil
}

func (o *Orchestrator) IsLive() bool {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.live
}

func (o *Orchestrator) IsRecording() bool {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.recording
}

// ReportViewers records a per-platform viewer count pushed from platform
// statistics polling.
func (o *Orchestrator) ReportViewers(platform domain.Platform, count int) {
	o.mu.Lock()
	o.viewers[platform] = count
	o.mu.Unlock()
}

func (o *Orchestrator) Status(ctx context.Context) (*BroadcastStatus, error) {
	participants, err := o.registry.Snapshot(ctx)
	if err != nil {
		return nil, err
	}

	onStage := 0
	for _, p := range participants {
		if p.State == domain.StageLive {
			onStage++
		}
	}

	o.mu.RLock()
	status := &BroadcastStatus{
		BroadcastID:  o.broadcastID,
		IsLive:       o.live,
		IsRecording:  o.recording,
		StartedAt:    o.startedAt,
		Participants: len(participants),
		OnStage:      onStage,
	}
	for _, count := range o.viewers {
		status.Viewers += count
	}
	o.mu.RUnlock()

	status.Destinations = o.streams.Status()
	return status, nil
}

// CurrentSnapshot builds the full state a signaling client resynchronizes
// from after a reconnect.
func (o *Orchestrator) CurrentSnapshot(ctx context.Context) (*domain.Snapshot, error) {
	participants, err := o.registry.Snapshot(ctx)
	if err != nil {
		return nil, err
	}

	layout := o.renderer.Layout()
	layoutPayload := domain.LayoutUpdatedPayload{Type: layout.Type}
	for _, slot := range layout.Slots {
		layoutPayload.Slots = append(layoutPayload.Slots, domain.SlotRef{
			Index:         slot.Index,
			ParticipantID: slot.ParticipantID,
			SourceID:      slot.SourceID,
		})
	}

	o.mu.RLock()
	live := o.live
	o.mu.RUnlock()

	return &domain.Snapshot{
		BroadcastID:  o.broadcastID,
		IsLive:       live,
		Participants: participants,
		Layout:       layoutPayload,
		TakenAt:      time.Now(),
	}, nil
}
