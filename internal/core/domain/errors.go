package domain

import "errors"

var (
	ErrParticipantNotFound   = errors.New("participant not found")
	ErrInvalidTransition     = errors.New("invalid stage transition")
	ErrSessionFull           = errors.New("session is at capacity")
	ErrStageFull             = errors.New("maximum on-stage participants reached")
	ErrIdentityBanned        = errors.New("identity is banned for this session")
	ErrDestinationNotFound   = errors.New("destination not found")
	ErrNegotiationFailed     = errors.New("ingest negotiation failed")
	ErrDestinationExhausted  = errors.New("destination retries exhausted")
	ErrMediaAcquisition      = errors.New("media device acquisition failed")
	ErrBroadcastNotLive      = errors.New("broadcast is not live")
	ErrBroadcastAlreadyLive  = errors.New("broadcast is already live")
	ErrSignalingDisconnected = errors.New("signaling channel disconnected")
)
