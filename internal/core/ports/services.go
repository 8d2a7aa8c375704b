package ports

import (
	"context"

	"stagecast/internal/core/domain"
)

// RegistryService is the single writer of participant stage state. Every
// transition is applied to the repository synchronously and broadcast over the
// signaling channel asynchronously.
type RegistryService interface {
	Join(ctx context.Context, id domain.ParticipantID, name string, role domain.Role, fp domain.Fingerprint) (*domain.Participant, error)
	Promote(ctx context.Context, id domain.ParticipantID) error
	Demote(ctx context.Context, id domain.ParticipantID) error
	MoveToGreenroom(ctx context.Context, id domain.ParticipantID) error
	Ban(ctx context.Context, id domain.ParticipantID) error
	Leave(ctx context.Context, id domain.ParticipantID) error
	SetAudio(ctx context.Context, id domain.ParticipantID, enabled bool) error
	SetVideo(ctx context.Context, id domain.ParticipantID, enabled bool) error
	SetVolume(ctx context.Context, id domain.ParticipantID, volume float64) error
	BindSource(ctx context.Context, id domain.ParticipantID, source domain.SourceID) error
	Live(ctx context.Context) ([]*domain.Participant, error)
	Snapshot(ctx context.Context) ([]domain.ParticipantSnapshot, error)
}

// EventSink receives registry and layout events for fan-out to every
// connected browser. Broadcast is fire-and-forget; the registry never waits
// for delivery.
type EventSink interface {
	Broadcast(event *domain.StudioEvent)
	Disconnect(id domain.ParticipantID)
}

// DestinationManager owns all destination sessions for a broadcast and is the
// sole mutator of their connection state.
type DestinationManager interface {
	StartAll(ctx context.Context, destinations []domain.Destination) error
	Add(ctx context.Context, destination domain.Destination) error
	Stop(id domain.DestinationID)
	StopAll()
	Status() []domain.DestinationStatus
}

// PublishSession is one negotiated connection pushing the composite output to
// a single destination.
type PublishSession interface {
	WriteSample(sample domain.StreamSample) error
	Health() (domain.HealthSample, error)
	Close() error
}

// Negotiator establishes a publishing session against one destination's
// ingest endpoint. Implementations vary by platform.
type Negotiator interface {
	Negotiate(ctx context.Context, dest domain.Destination) (PublishSession, error)
}
