package domain

import "time"

type ParticipantID string
type BroadcastID string
type SourceID string
type Fingerprint string

// Role determines what a participant may do in the studio.
type Role string

const (
	RoleHost        Role = "host"
	RoleGuest       Role = "guest"
	RoleViewerProxy Role = "viewer-proxy"
)

// StageState is the lifecycle position of a participant within a session.
type StageState string

const (
	StageInvited   StageState = "invited"
	StageGreenroom StageState = "greenroom"
	StageBackstage StageState = "backstage"
	StageLive      StageState = "live"
	StageBanned    StageState = "banned"
)

// MediaFlags carry per-participant audio/video switches and gain.
// Volume is 0..1; 0 is effectively muted regardless of AudioEnabled.
type MediaFlags struct {
	AudioEnabled bool
	VideoEnabled bool
	Volume       float64
}

type Participant struct {
	ID          ParticipantID
	Name        string
	Role        Role
	State       StageState
	Media       MediaFlags
	SourceID    SourceID // empty until a stream is bound after the device test
	Fingerprint Fingerprint
	JoinedAt    time.Time
}

// OnStage reports whether the participant is composited into the output.
func (p *Participant) OnStage() bool {
	return p.State == StageLive
}

// Audible reports whether the participant contributes to the mixed audio track.
func (p *Participant) Audible() bool {
	return p.State == StageLive && p.Media.AudioEnabled && p.Media.Volume > 0
}
