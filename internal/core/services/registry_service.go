package services

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"stagecast/internal/core/domain"
	"stagecast/internal/core/ports"

	"go.uber.org/zap"
)

// RegistryConfig bounds the participant set.
type RegistryConfig struct {
	MaxParticipants int
	MaxOnStage      int
}

type registryService struct {
	repo ports.ParticipantRepository
	sink ports.EventSink
	cfg  RegistryConfig

	banned   map[domain.Fingerprint]struct{}
	bannedMu sync.RWMutex

	logger *zap.SugaredLogger
}

func NewRegistryService(repo ports.ParticipantRepository, sink ports.EventSink, cfg RegistryConfig, logger *zap.SugaredLogger) ports.RegistryService {
	return &registryService{
		repo:   repo,
		sink:   sink,
		cfg:    cfg,
		banned: make(map[domain.Fingerprint]struct{}),
		logger: logger,
	}
}

func (s *registryService) Join(ctx context.Context, id domain.ParticipantID, name string, role domain.Role, fp domain.Fingerprint) (*domain.Participant, error) {
	s.bannedMu.RLock()
	_, isBanned := s.banned[fp]
	s.bannedMu.RUnlock()
	if isBanned {
		return nil, domain.ErrIdentityBanned
	}

	count, err := s.repo.Count(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to count participants: %w", err)
	}
	if count >= s.cfg.MaxParticipants {
		return nil, domain.ErrSessionFull
	}

	p := &domain.Participant{
		ID:          id,
		Name:        name,
		Role:        role,
		State:       domain.StageGreenroom,
		Media:       domain.MediaFlags{AudioEnabled: true, VideoEnabled: true, Volume: 1.0},
		Fingerprint: fp,
		JoinedAt:    time.Now(),
	}

	if err := s.repo.Add(ctx, p); err != nil {
		return nil, fmt.Errorf("failed to add participant: %w", err)
	}

	s.logger.Infow("participant joined", "participant_id", id, "role", role)
	s.emitTransition(id, domain.StageGreenroom)
	return p, nil
}

func (s *registryService) Promote(ctx context.Context, id domain.ParticipantID) error {
	p, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return err
	}

	switch p.State {
	case domain.StageLive:
		// Duplicate promote events arrive over the signaling channel; applying
		// one to an already-live participant is a no-op, not an error.
		return nil
	case domain.StageGreenroom, domain.StageBackstage:
	default:
		s.logger.Warnw("rejected promote", "participant_id", id, "state", p.State)
		return fmt.Errorf("promote from %s: %w", p.State, domain.ErrInvalidTransition)
	}

	onStage, err := s.repo.FindByState(ctx, domain.StageLive)
	if err != nil {
		return fmt.Errorf("failed to list live participants: %w", err)
	}
	if len(onStage) >= s.cfg.MaxOnStage {
		return domain.ErrStageFull
	}

	p.State = domain.StageLive
	if err := s.repo.Update(ctx, p); err != nil {
		return fmt.Errorf("failed to update participant: %w", err)
	}

	s.logger.Infow("participant promoted to stage", "participant_id", id)
	s.emitTransition(id, domain.StageLive)
	return nil
}

func (s *registryService) Demote(ctx context.Context, id domain.ParticipantID) error {
	return s.transition(ctx, id, domain.StageBackstage, domain.StageLive)
}

func (s *registryService) MoveToGreenroom(ctx context.Context, id domain.ParticipantID) error {
	return s.transition(ctx, id, domain.StageGreenroom, domain.StageBackstage)
}

// transition moves a participant to target when it currently sits in from.
// Already being at target is a no-op so duplicate events converge.
func (s *registryService) transition(ctx context.Context, id domain.ParticipantID, target, from domain.StageState) error {
	p, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return err
	}

	if p.State == target {
		return nil
	}
	if p.State != from {
		s.logger.Warnw("rejected transition",
			"participant_id", id,
			"state", p.State,
			"target", target,
		)
		return fmt.Errorf("transition %s -> %s: %w", p.State, target, domain.ErrInvalidTransition)
	}

	p.State = target
	if err := s.repo.Update(ctx, p); err != nil {
		return fmt.Errorf("failed to update participant: %w", err)
	}

	s.emitTransition(id, target)
	return nil
}

func (s *registryService) Ban(ctx context.Context, id domain.ParticipantID) error {
	p, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return err
	}
	if p.State == domain.StageBanned {
		return nil
	}

	p.State = domain.StageBanned
	if err := s.repo.Update(ctx, p); err != nil {
		return fmt.Errorf("failed to update participant: %w", err)
	}

	s.bannedMu.Lock()
	s.banned[p.Fingerprint] = struct{}{}
	s.bannedMu.Unlock()

	s.logger.Infow("participant banned", "participant_id", id)
	s.emitTransition(id, domain.StageBanned)
	s.sink.Disconnect(id)
	return nil
}

func (s *registryService) Leave(ctx context.Context, id domain.ParticipantID) error {
	if err := s.repo.Remove(ctx, id); err != nil {
		return err
	}

	s.logger.Infow("participant left", "participant_id", id)
	s.emit(domain.EventLeaveStudio, id, nil)
	return nil
}

func (s *registryService) SetAudio(ctx context.Context, id domain.ParticipantID, enabled bool) error {
	return s.updateMedia(ctx, id, func(m *domain.MediaFlags) { m.AudioEnabled = enabled })
}

func (s *registryService) SetVideo(ctx context.Context, id domain.ParticipantID, enabled bool) error {
	return s.updateMedia(ctx, id, func(m *domain.MediaFlags) { m.VideoEnabled = enabled })
}

func (s *registryService) SetVolume(ctx context.Context, id domain.ParticipantID, volume float64) error {
	if volume < 0 {
		volume = 0
	}
	if volume > 1 {
		volume = 1
	}
	return s.updateMedia(ctx, id, func(m *domain.MediaFlags) { m.Volume = volume })
}

func (s *registryService) updateMedia(ctx context.Context, id domain.ParticipantID, mutate func(*domain.MediaFlags)) error {
	p, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return err
	}

	mutate(&p.Media)
	if err := s.repo.Update(ctx, p); err != nil {
		return fmt.Errorf("failed to update participant: %w", err)
	}

	payload, _ := json.Marshal(domain.MediaStatePayload{
		ParticipantID: id,
		Audio:         p.Media.AudioEnabled,
		Video:         p.Media.VideoEnabled,
		Volume:        p.Media.Volume,
	})
	s.emit(domain.EventMediaStateChanged, id, payload)
	return nil
}

func (s *registryService) BindSource(ctx context.Context, id domain.ParticipantID, source domain.SourceID) error {
	p, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return err
	}

	p.SourceID = source
	if err := s.repo.Update(ctx, p); err != nil {
		return fmt.Errorf("failed to update participant: %w", err)
	}
	return nil
}

func (s *registryService) Live(ctx context.Context) ([]*domain.Participant, error) {
	return s.repo.FindByState(ctx, domain.StageLive)
}

func (s *registryService) Snapshot(ctx context.Context) ([]domain.ParticipantSnapshot, error) {
	all, err := s.repo.List(ctx)
	if err != nil {
		return nil, err
	}

	out := make([]domain.ParticipantSnapshot, 0, len(all))
	for _, p := range all {
		out = append(out, domain.ParticipantSnapshot{
			ID:     p.ID,
			Name:   p.Name,
			Role:   p.Role,
			State:  p.State,
			Audio:  p.Media.AudioEnabled,
			Video:  p.Media.VideoEnabled,
			Volume: p.Media.Volume,
		})
	}
	return out, nil
}

func (s *registryService) emitTransition(id domain.ParticipantID, state domain.StageState) {
	payload, _ := json.Marshal(domain.StageTransitionPayload{
		ParticipantID: id,
		NewState:      state,
	})
	s.emit(domain.EventStageTransition, id, payload)
}

func (s *registryService) emit(t domain.EventType, id domain.ParticipantID, payload json.RawMessage) {
	s.sink.Broadcast(&domain.StudioEvent{
		Type:          t,
		ParticipantID: id,
		Timestamp:     time.Now(),
		Payload:       payload,
	})
}
