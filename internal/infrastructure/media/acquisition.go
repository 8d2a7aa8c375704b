package media

import (
	"fmt"
	"sync"

	"stagecast/internal/core/domain"
	"stagecast/pkg/utils"

	"go.uber.org/zap"
)

// CaptureDevice opens the underlying hardware (or upstream ingest) track for
// one source. Opening can fail when the device is busy or missing; closing
// must release it synchronously so indicator lights turn off deterministically.
type CaptureDevice interface {
	Open(kind domain.SourceKind) error
	Close() error
}

// Source is one acquired media track. Producers push decoded media in;
// the compositor reads the latest frame without ever blocking on a producer.
type Source struct {
	ID   domain.SourceID
	Kind domain.SourceKind

	mu       sync.RWMutex
	frame    domain.VideoFrame
	hasFrame bool
	audio    domain.AudioChunk
	hasAudio bool
	ended    bool
	device   CaptureDevice
	onEnded  func(domain.SourceID)
}

// PushFrame stores the newest decoded frame. Pushes after the source ended
// are dropped.
func (s *Source) PushFrame(frame domain.VideoFrame) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ended {
		return
	}
	s.frame = frame
	s.hasFrame = true
}

// PushAudio stores the newest audio chunk.
func (s *Source) PushAudio(chunk domain.AudioChunk) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ended {
		return
	}
	s.audio = chunk
	s.hasAudio = true
}

// Fail marks the source as ended mid-broadcast (track error or device loss).
// Its slot renders the placeholder from the next frame on.
func (s *Source) Fail() {
	s.mu.Lock()
	alreadyEnded := s.ended
	s.ended = true
	cb := s.onEnded
	s.mu.Unlock()

	if !alreadyEnded && cb != nil {
		cb(s.ID)
	}
}

func (s *Source) latestFrame() (domain.VideoFrame, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.ended || !s.hasFrame {
		return domain.VideoFrame{}, false
	}
	return s.frame, true
}

func (s *Source) latestAudio() (domain.AudioChunk, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.ended || !s.hasAudio {
		return domain.AudioChunk{}, false
	}
	return s.audio, true
}

// Acquisition owns every local capture source of a session and implements the
// compositor's SourceProvider.
type Acquisition struct {
	mu      sync.RWMutex
	sources map[domain.SourceID]*Source
	logger  *zap.SugaredLogger
}

func NewAcquisition(logger *zap.SugaredLogger) *Acquisition {
	return &Acquisition{
		sources: make(map[domain.SourceID]*Source),
		logger:  logger,
	}
}

// Acquire opens a device and registers a source for it. Device failure
// surfaces ErrMediaAcquisition; the broadcast may proceed degraded.
func (a *Acquisition) Acquire(kind domain.SourceKind, device CaptureDevice) (*Source, error) {
	if device != nil {
		if err := device.Open(kind); err != nil {
			a.logger.Errorw("device acquisition failed", "kind", kind, "error", err)
			return nil, fmt.Errorf("%w: %v", domain.ErrMediaAcquisition, err)
		}
	}

	src := &Source{
		ID:     domain.SourceID(utils.GenerateSourceID()),
		Kind:   kind,
		device: device,
	}
	src.onEnded = func(id domain.SourceID) {
		a.logger.Warnw("media source ended", "source_id", id, "kind", kind)
	}

	a.mu.Lock()
	a.sources[src.ID] = src
	a.mu.Unlock()

	a.logger.Infow("media source acquired", "source_id", src.ID, "kind", kind)
	return src, nil
}

// Release stops one source and closes its device synchronously.
func (a *Acquisition) Release(id domain.SourceID) error {
	a.mu.Lock()
	src, ok := a.sources[id]
	delete(a.sources, id)
	a.mu.Unlock()

	if !ok {
		return nil
	}

	src.mu.Lock()
	src.ended = true
	device := src.device
	src.mu.Unlock()

	if device != nil {
		if err := device.Close(); err != nil {
			return fmt.Errorf("failed to close device for %s: %w", id, err)
		}
	}
	return nil
}

// ReleaseAll closes every device synchronously before returning.
func (a *Acquisition) ReleaseAll() {
	a.mu.Lock()
	sources := make([]*Source, 0, len(a.sources))
	for _, src := range a.sources {
		sources = append(sources, src)
	}
	a.sources = make(map[domain.SourceID]*Source)
	a.mu.Unlock()

	for _, src := range sources {
		src.mu.Lock()
		src.ended = true
		device := src.device
		src.mu.Unlock()
		if device != nil {
			if err := device.Close(); err != nil {
				a.logger.Errorw("failed to close device", "source_id", src.ID, "error", err)
			}
		}
	}
	a.logger.Infow("released all media sources", "count", len(sources))
}

// LatestFrame implements compositor.SourceProvider.
func (a *Acquisition) LatestFrame(id domain.SourceID) (domain.VideoFrame, bool) {
	a.mu.RLock()
	src, ok := a.sources[id]
	a.mu.RUnlock()
	if !ok {
		return domain.VideoFrame{}, false
	}
	return src.latestFrame()
}

// LatestAudio implements compositor.SourceProvider.
func (a *Acquisition) LatestAudio(id domain.SourceID) (domain.AudioChunk, bool) {
	a.mu.RLock()
	src, ok := a.sources[id]
	a.mu.RUnlock()
	if !ok {
		return domain.AudioChunk{}, false
	}
	return src.latestAudio()
}
