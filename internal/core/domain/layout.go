package domain

// LayoutType selects the slot arrangement used by the compositor.
type LayoutType string

const (
	LayoutGrid        LayoutType = "grid"
	LayoutSpotlight   LayoutType = "spotlight"
	LayoutSidebar     LayoutType = "sidebar"
	LayoutPIP         LayoutType = "pip"
	LayoutScreenshare LayoutType = "screenshare"
)

// StageSlot binds one visual position to a participant or a screenshare source.
// A slot with neither binding renders the placeholder.
type StageSlot struct {
	Index         int
	ParticipantID ParticipantID
	SourceID      SourceID // set for screenshare slots
}

// Layout is the declarative description of who occupies which position.
// Exactly one layout is active per session; the compositor swaps it atomically
// between frames.
type Layout struct {
	Type  LayoutType
	Slots []StageSlot
}

// SlotFor returns the slot index assigned to the participant, or -1.
func (l Layout) SlotFor(id ParticipantID) int {
	for _, s := range l.Slots {
		if s.ParticipantID == id {
			return s.Index
		}
	}
	return -1
}

// DefaultLayout is the layout a session starts with before the host picks one.
func DefaultLayout() Layout {
	return Layout{Type: LayoutGrid}
}
