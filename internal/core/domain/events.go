package domain

import (
	"encoding/json"
	"time"
)

// EventType enumerates signaling messages exchanged with connected browsers.
type EventType string

const (
	EventJoinStudio        EventType = "join-studio"
	EventLeaveStudio       EventType = "leave-studio"
	EventStageTransition   EventType = "stage-transition"
	EventLayoutUpdated     EventType = "layout-updated"
	EventMediaStateChanged EventType = "media-state-changed"
	EventChatMessage       EventType = "chat-message"
	EventOverlayUpdated    EventType = "overlay-updated"
	EventSyncRequest       EventType = "sync-request"
	EventSyncSnapshot      EventType = "sync-snapshot"
)

// StudioEvent is the wire format of one signaling message. Payload shape
// depends on Type.
type StudioEvent struct {
	Type          EventType       `json:"type"`
	BroadcastID   BroadcastID     `json:"broadcast_id,omitempty"`
	ParticipantID ParticipantID   `json:"participant_id,omitempty"`
	Timestamp     time.Time       `json:"timestamp"`
	Payload       json.RawMessage `json:"payload,omitempty"`
}

type StageTransitionPayload struct {
	ParticipantID ParticipantID `json:"participant_id"`
	NewState      StageState    `json:"new_state"`
}

type MediaStatePayload struct {
	ParticipantID ParticipantID `json:"participant_id"`
	Audio         bool          `json:"audio"`
	Video         bool          `json:"video"`
	Volume        float64       `json:"volume"`
}

type LayoutUpdatedPayload struct {
	Type  LayoutType `json:"type"`
	Slots []SlotRef  `json:"slots"`
}

type SlotRef struct {
	Index         int           `json:"index"`
	ParticipantID ParticipantID `json:"participant_id,omitempty"`
	SourceID      SourceID      `json:"source_id,omitempty"`
}

// OverlayUpdatedPayload carries the host-controlled overlay layers. Chat
// bubble content is fed separately from the chat stream itself.
type OverlayUpdatedPayload struct {
	NameTags     bool   `json:"name_tags"`
	ChatEnabled  bool   `json:"chat_enabled"`
	Captions     string `json:"captions,omitempty"`
	Teleprompter string `json:"teleprompter,omitempty"`
	LowerThird   string `json:"lower_third,omitempty"`
}

type ChatMessagePayload struct {
	From ParticipantID `json:"from"`
	Name string        `json:"name"`
	Body string        `json:"body"`
}

// Snapshot is the full session state a client re-synchronizes from after a
// signaling reconnect; no missed-event replay is attempted.
type Snapshot struct {
	BroadcastID  BroadcastID           `json:"broadcast_id"`
	IsLive       bool                  `json:"is_live"`
	Participants []ParticipantSnapshot `json:"participants"`
	Layout       LayoutUpdatedPayload  `json:"layout"`
	TakenAt      time.Time             `json:"taken_at"`
}

type ParticipantSnapshot struct {
	ID     ParticipantID `json:"id"`
	Name   string        `json:"name"`
	Role   Role          `json:"role"`
	State  StageState    `json:"state"`
	Audio  bool          `json:"audio"`
	Video  bool          `json:"video"`
	Volume float64       `json:"volume"`
}
