package compositor

import (
	"context"
	"sync"
	"time"

	"stagecast/internal/core/domain"
	"stagecast/internal/core/ports"

	"go.uber.org/zap"
)

// SourceProvider hands the compositor the most recent frame/audio of a media
// source. Implementations must never block: when a fresh frame is not ready
// the last available one is returned, and ok=false means the source has no
// usable media at all (its slot renders the placeholder).
type SourceProvider interface {
	LatestFrame(id domain.SourceID) (domain.VideoFrame, bool)
	LatestAudio(id domain.SourceID) (domain.AudioChunk, bool)
}

// MetricsRecorder receives per-frame observations. Optional.
type MetricsRecorder interface {
	RecordFrame(d time.Duration)
	SetLiveParticipants(n int)
}

type Config struct {
	FrameRate  int
	Width      int
	Height     int
	MasterGain float64
}

// Compositor renders the current live participant set and active layout into
// one continuous frame stream plus a mixed audio track. It is the only writer
// of its composite output.
type Compositor struct {
	cfg      Config
	registry ports.RegistryService
	sources  SourceProvider
	metrics  MetricsRecorder

	mu       sync.RWMutex
	layout   domain.Layout
	overlays OverlayState

	output  *CompositeOutput
	preview *CompositeOutput

	runMu   sync.Mutex
	cancel  context.CancelFunc
	done    chan struct{}
	running bool

	logger *zap.SugaredLogger
}

func New(cfg Config, registry ports.RegistryService, sources SourceProvider, metrics MetricsRecorder, logger *zap.SugaredLogger) *Compositor {
	return &Compositor{
		cfg:      cfg,
		registry: registry,
		sources:  sources,
		metrics:  metrics,
		layout:   domain.DefaultLayout(),
		output:   NewCompositeOutput(),
		preview:  NewCompositeOutput(),
		logger:   logger,
	}
}

// Output is the published composite stream, shared read-only with the
// destination streaming manager and any recording consumer.
func (c *Compositor) Output() *CompositeOutput { return c.output }

// Preview is the studio-side surface; identical to Output plus the
// teleprompter layer.
func (c *Compositor) Preview() *CompositeOutput { return c.preview }

// SetLayout swaps the active layout. The swap is atomic from the renderer's
// perspective: the next frame uses the new layout in full.
func (c *Compositor) SetLayout(layout domain.Layout) {
	c.mu.Lock()
	c.layout = layout
	c.mu.Unlock()
}

func (c *Compositor) Layout() domain.Layout {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.layout
}

func (c *Compositor) SetOverlays(state OverlayState) {
	c.mu.Lock()
	c.overlays = state
	c.mu.Unlock()
}

// ApplyOverlayControls replaces the host-controlled overlay layers while
// keeping the accumulated chat lines.
func (c *Compositor) ApplyOverlayControls(p domain.OverlayUpdatedPayload) {
	c.mu.Lock()
	c.overlays.NameTags = p.NameTags
	c.overlays.ChatEnabled = p.ChatEnabled
	c.overlays.Captions = p.Captions
	c.overlays.Teleprompter = p.Teleprompter
	c.overlays.LowerThird = p.LowerThird
	c.mu.Unlock()
}

// AppendChatLine feeds the chat bubble overlay. Only the most recent lines
// are rendered.
func (c *Compositor) AppendChatLine(msg domain.ChatMessagePayload) {
	c.mu.Lock()
	c.overlays.Chat = append(c.overlays.Chat, msg)
	if len(c.overlays.Chat) > maxChatOverlayLines {
		c.overlays.Chat = c.overlays.Chat[len(c.overlays.Chat)-maxChatOverlayLines:]
	}
	c.mu.Unlock()
}

// Start launches the frame loop at the configured rate.
func (c *Compositor) Start(ctx context.Context) error {
	c.runMu.Lock()
	defer c.runMu.Unlock()
	if c.running {
		return domain.ErrBroadcastAlreadyLive
	}

	// A previous Stop closed the outputs; arm them again so destination
	// sessions and preview consumers can subscribe to the new broadcast.
	c.output.reopen()
	c.preview.reopen()

	loopCtx, cancel := context.WithCancel(ctx)
	c.cancel = cancel
	c.done = make(chan struct{})
	c.running = true

	go c.run(loopCtx)

	c.logger.Infow("compositor started",
		"frame_rate", c.cfg.FrameRate,
		"width", c.cfg.Width,
		"height", c.cfg.Height,
	)
	return nil
}

// Stop halts rendering and closes the composite outputs.
func (c *Compositor) Stop() {
	c.runMu.Lock()
	defer c.runMu.Unlock()
	if !c.running {
		return
	}
	c.cancel()
	<-c.done
	c.running = false

	c.output.Close()
	c.preview.Close()
	c.logger.Info("compositor stopped")
}

func (c *Compositor) run(ctx context.Context) {
	defer close(c.done)

	interval := time.Second / time.Duration(c.cfg.FrameRate)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.RenderFrame(ctx)
		}
	}
}

// RenderFrame renders one composite frame and one mixed audio chunk from the
// current live set. Per-source failures render the placeholder for that slot;
// nothing here stops rendering of the other slots.
func (c *Compositor) RenderFrame(ctx context.Context) []ResolvedSlot {
	start := time.Now()

	live, err := c.registry.Live(ctx)
	if err != nil {
		c.logger.Errorw("failed to resolve live participants", "error", err)
		return nil
	}

	c.mu.RLock()
	layout := c.layout
	overlays := c.overlays
	c.mu.RUnlock()

	slots := ResolveSlots(layout, live, c.cfg.Width, c.cfg.Height)

	byID := make(map[domain.ParticipantID]*domain.Participant, len(live))
	for _, p := range live {
		byID[p.ID] = p
	}

	frame := newCanvas(c.cfg.Width, c.cfg.Height)
	frame.Captured = start

	for _, slot := range slots {
		if !c.drawSlot(&frame, slot, byID) {
			drawPlaceholder(&frame, slot.Rect)
		}
	}

	drawOverlays(&frame, slots, overlays)
	c.output.publishVideo(frame)

	previewFrame := frame.Clone()
	drawTeleprompter(&previewFrame, overlays.Teleprompter)
	c.preview.publishVideo(previewFrame)

	if chunk, ok := c.mixAudio(live); ok {
		c.output.publishAudio(chunk)
		c.preview.publishAudio(chunk)
	}

	if c.metrics != nil {
		c.metrics.RecordFrame(time.Since(start))
		c.metrics.SetLiveParticipants(len(live))
	}

	return slots
}

// drawSlot reports whether a real frame was drawn; false falls back to the
// placeholder.
func (c *Compositor) drawSlot(dst *domain.VideoFrame, slot ResolvedSlot, byID map[domain.ParticipantID]*domain.Participant) bool {
	if slot.Placeholder || slot.SourceID == "" {
		return false
	}
	if p, ok := byID[slot.ParticipantID]; ok && !p.Media.VideoEnabled {
		return false
	}

	src, ok := c.sources.LatestFrame(slot.SourceID)
	if !ok {
		return false
	}

	blitFrame(dst, src, slot.Rect)
	return true
}

// mixAudio sums every audible live participant's latest chunk. Per-source
// gain is the product of the participant volume and the master input gain.
func (c *Compositor) mixAudio(live []*domain.Participant) (domain.AudioChunk, bool) {
	var (
		mixed      []float32
		sampleRate int
		channels   int
	)

	for _, p := range live {
		if !p.Audible() || p.SourceID == "" {
			continue
		}
		chunk, ok := c.sources.LatestAudio(p.SourceID)
		if !ok || len(chunk.Samples) == 0 {
			continue
		}

		if sampleRate == 0 {
			sampleRate = chunk.SampleRate
			channels = chunk.Channels
		}

		gain := float32(p.Media.Volume * c.cfg.MasterGain)
		if len(chunk.Samples) > len(mixed) {
			grown := make([]float32, len(chunk.Samples))
			copy(grown, mixed)
			mixed = grown
		}
		for i, s := range chunk.Samples {
			mixed[i] += s * gain
		}
	}

	if len(mixed) == 0 {
		return domain.AudioChunk{}, false
	}

	for i, s := range mixed {
		if s > 1 {
			mixed[i] = 1
		} else if s < -1 {
			mixed[i] = -1
		}
	}

	return domain.AudioChunk{
		Samples:    mixed,
		SampleRate: sampleRate,
		Channels:   channels,
		Captured:   time.Now(),
	}, true
}
