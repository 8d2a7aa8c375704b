package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"stagecast/internal/core/domain"
	"stagecast/internal/core/ports"
)

type MemoryParticipantRepository struct {
	participants map[domain.ParticipantID]*domain.Participant
	mu           sync.RWMutex
}

func NewMemoryParticipantRepository() ports.ParticipantRepository {
	return &MemoryParticipantRepository{
		participants: make(map[domain.ParticipantID]*domain.Participant),
	}
}

func (r *MemoryParticipantRepository) Add(ctx context.Context, p *domain.Participant) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.participants[p.ID]; exists {
		return fmt.Errorf("participant already exists: %s", p.ID)
	}

	clone := *p
	r.participants[p.ID] = &clone
	return nil
}

func (r *MemoryParticipantRepository) GetByID(ctx context.Context, id domain.ParticipantID) (*domain.Participant, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	p, exists := r.participants[id]
	if !exists {
		return nil, domain.ErrParticipantNotFound
	}

	clone := *p
	return &clone, nil
}

func (r *MemoryParticipantRepository) Remove(ctx context.Context, id domain.ParticipantID) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.participants[id]; !exists {
		return domain.ErrParticipantNotFound
	}

	delete(r.participants, id)
	return nil
}

func (r *MemoryParticipantRepository) List(ctx context.Context) ([]*domain.Participant, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*domain.Participant, 0, len(r.participants))
	for _, p := range r.participants {
		clone := *p
		out = append(out, &clone)
	}

	// Stable order keeps slot assignment deterministic across frames.
	sort.Slice(out, func(i, j int) bool {
		if out[i].JoinedAt.Equal(out[j].JoinedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].JoinedAt.Before(out[j].JoinedAt)
	})

	return out, nil
}

func (r *MemoryParticipantRepository) FindByState(ctx context.Context, state domain.StageState) ([]*domain.Participant, error) {
	all, err := r.List(ctx)
	if err != nil {
		return nil, err
	}

	var matched []*domain.Participant
	for _, p := range all {
		if p.State == state {
			matched = append(matched, p)
		}
	}

	return matched, nil
}

func (r *MemoryParticipantRepository) Update(ctx context.Context, p *domain.Participant) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.participants[p.ID]; !exists {
		return domain.ErrParticipantNotFound
	}

	clone := *p
	r.participants[p.ID] = &clone
	return nil
}

func (r *MemoryParticipantRepository) Count(ctx context.Context) (int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.participants), nil
}
