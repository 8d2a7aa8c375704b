package memory

import (
	"context"
	"testing"
	"time"

	"stagecast/internal/core/domain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func participant(id string, joined time.Time, state domain.StageState) *domain.Participant {
	return &domain.Participant{
		ID:       domain.ParticipantID(id),
		Name:     id,
		Role:     domain.RoleGuest,
		State:    state,
		Media:    domain.MediaFlags{AudioEnabled: true, VideoEnabled: true, Volume: 1},
		JoinedAt: joined,
	}
}

func TestAddAndGet(t *testing.T) {
	repo := NewMemoryParticipantRepository()
	ctx := context.Background()

	p := participant("p1", time.Now(), domain.StageGreenroom)
	require.NoError(t, repo.Add(ctx, p))

	got, err := repo.GetByID(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, p.ID, got.ID)
	assert.Equal(t, domain.StageGreenroom, got.State)

	err = repo.Add(ctx, p)
	assert.Error(t, err, "duplicate add must be rejected")
}

func TestGet_NotFound(t *testing.T) {
	repo := NewMemoryParticipantRepository()

	_, err := repo.GetByID(context.Background(), "missing")
	assert.ErrorIs(t, err, domain.ErrParticipantNotFound)
}

func TestStoredCopiesAreIsolated(t *testing.T) {
	repo := NewMemoryParticipantRepository()
	ctx := context.Background()

	p := participant("p1", time.Now(), domain.StageGreenroom)
	require.NoError(t, repo.Add(ctx, p))

	// Mutating the caller's struct after Add must not leak into the store.
	p.State = domain.StageLive

	got, err := repo.GetByID(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, domain.StageGreenroom, got.State)

	// And mutating a fetched copy must not leak either.
	got.Media.Volume = 0
	again, err := repo.GetByID(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, 1.0, again.Media.Volume)
}

func TestList_OrderedByJoinTime(t *testing.T) {
	repo := NewMemoryParticipantRepository()
	ctx := context.Background()
	base := time.Now()

	require.NoError(t, repo.Add(ctx, participant("late", base.Add(2*time.Second), domain.StageLive)))
	require.NoError(t, repo.Add(ctx, participant("early", base, domain.StageLive)))
	require.NoError(t, repo.Add(ctx, participant("mid", base.Add(time.Second), domain.StageLive)))

	// Same join instant falls back to ID order.
	require.NoError(t, repo.Add(ctx, participant("b-tie", base.Add(3*time.Second), domain.StageLive)))
	require.NoError(t, repo.Add(ctx, participant("a-tie", base.Add(3*time.Second), domain.StageLive)))

	all, err := repo.List(ctx)
	require.NoError(t, err)

	ids := make([]domain.ParticipantID, 0, len(all))
	for _, p := range all {
		ids = append(ids, p.ID)
	}
	assert.Equal(t, []domain.ParticipantID{"early", "mid", "late", "a-tie", "b-tie"}, ids)
}

func TestFindByState(t *testing.T) {
	repo := NewMemoryParticipantRepository()
	ctx := context.Background()
	base := time.Now()

	require.NoError(t, repo.Add(ctx, participant("g1", base, domain.StageGreenroom)))
	require.NoError(t, repo.Add(ctx, participant("l1", base.Add(time.Second), domain.StageLive)))
	require.NoError(t, repo.Add(ctx, participant("l2", base.Add(2*time.Second), domain.StageLive)))

	live, err := repo.FindByState(ctx, domain.StageLive)
	require.NoError(t, err)
	require.Len(t, live, 2)
	assert.Equal(t, domain.ParticipantID("l1"), live[0].ID)
	assert.Equal(t, domain.ParticipantID("l2"), live[1].ID)

	banned, err := repo.FindByState(ctx, domain.StageBanned)
	require.NoError(t, err)
	assert.Empty(t, banned)
}

func TestUpdateAndRemove(t *testing.T) {
	repo := NewMemoryParticipantRepository()
	ctx := context.Background()

	p := participant("p1", time.Now(), domain.StageGreenroom)
	require.NoError(t, repo.Add(ctx, p))

	p.State = domain.StageLive
	require.NoError(t, repo.Update(ctx, p))

	got, err := repo.GetByID(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, domain.StageLive, got.State)

	assert.ErrorIs(t, repo.Update(ctx, participant("ghost", time.Now(), domain.StageLive)), domain.ErrParticipantNotFound)

	require.NoError(t, repo.Remove(ctx, "p1"))
	assert.ErrorIs(t, repo.Remove(ctx, "p1"), domain.ErrParticipantNotFound)

	n, err := repo.Count(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
}
