package domain

import "time"

type DestinationID string

// Platform selects the ingest negotiation strategy for a destination.
type Platform string

const (
	// PlatformWebRTC destinations accept a direct peer-based ingest
	// negotiation (WHIP-style offer/answer over HTTP).
	PlatformWebRTC Platform = "webrtc"
	// PlatformRelay destinations only accept a legacy push protocol and are
	// reached through a relay hand-off.
	PlatformRelay Platform = "relay"
)

// Destination is the immutable per-session configuration of one external
// streaming target, supplied by the surrounding settings surfaces.
type Destination struct {
	ID            DestinationID
	Platform      Platform
	IngestURL     string
	CredentialRef string
	Label         string
}

// ConnectionState is the publishing state of one destination session.
type ConnectionState string

const (
	ConnIdle         ConnectionState = "idle"
	ConnConnecting   ConnectionState = "connecting"
	ConnConnected    ConnectionState = "connected"
	ConnDegraded     ConnectionState = "degraded"
	ConnDisconnected ConnectionState = "disconnected"
	ConnTerminated   ConnectionState = "terminated"
)

// HealthSample is one periodic measurement of a connected destination.
type HealthSample struct {
	BitrateKbps int
	RTT         time.Duration
	PacketLoss  float64
	SampledAt   time.Time
}

// DestinationStatus is the externally visible snapshot of one session.
type DestinationStatus struct {
	ID           DestinationID
	Platform     Platform
	State        ConnectionState
	RetryCount   int
	LastHealth   HealthSample
	LastError    string
	ConnectedAt  time.Time
	TerminatedAt time.Time
}
