package ports

import (
	"context"

	"stagecast/internal/core/domain"
)

type ParticipantRepository interface {
	Add(ctx context.Context, p *domain.Participant) error
	GetByID(ctx context.Context, id domain.ParticipantID) (*domain.Participant, error)
	Remove(ctx context.Context, id domain.ParticipantID) error
	List(ctx context.Context) ([]*domain.Participant, error)
	FindByState(ctx context.Context, state domain.StageState) ([]*domain.Participant, error)
	Update(ctx context.Context, p *domain.Participant) error
	Count(ctx context.Context) (int, error)
}
