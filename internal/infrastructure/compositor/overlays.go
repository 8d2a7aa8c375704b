package compositor

import "stagecast/internal/core/domain"

// OverlayState describes everything drawn on top of the base composite.
// The teleprompter is studio-only: it appears on the preview surface and is
// never included in the published output.
type OverlayState struct {
	NameTags     bool
	ChatEnabled  bool
	Chat         []domain.ChatMessagePayload
	Captions     string
	Teleprompter string
	LowerThird   string
}

const maxChatOverlayLines = 4

// drawOverlays renders the overlay stack in its fixed z-order on top of the
// base composite: lower-thirds/name tags, then chat, then captions. The
// teleprompter layer is handled separately by the preview render.
func drawOverlays(dst *domain.VideoFrame, slots []ResolvedSlot, state OverlayState) {
	if state.NameTags {
		for _, slot := range slots {
			if slot.ParticipantID == "" {
				continue
			}
			tag := Rect{
				X: slot.Rect.X,
				Y: slot.Rect.Y + slot.Rect.H - slot.Rect.H/10,
				W: slot.Rect.W / 2,
				H: slot.Rect.H / 10,
			}
			blendRect(dst, tag, 0x10, 0x10, 0x14, 180)
		}
	}

	if state.LowerThird != "" {
		bar := Rect{
			X: dst.Width / 16,
			Y: dst.Height * 3 / 4,
			W: dst.Width / 2,
			H: dst.Height / 12,
		}
		blendRect(dst, bar, 0xc8, 0x33, 0x3c, 220)
	}

	if state.ChatEnabled && len(state.Chat) > 0 {
		lines := len(state.Chat)
		if lines > maxChatOverlayLines {
			lines = maxChatOverlayLines
		}
		lineH := dst.Height / 18
		for i := 0; i < lines; i++ {
			bubble := Rect{
				X: dst.Width * 2 / 3,
				Y: dst.Height - (lines-i)*lineH - dst.Height/24,
				W: dst.Width / 3,
				H: lineH - 2,
			}
			blendRect(dst, bubble, 0x20, 0x24, 0x2c, 160)
		}
	}

	if state.Captions != "" {
		bar := Rect{
			X: dst.Width / 8,
			Y: dst.Height - dst.Height/10,
			W: dst.Width * 3 / 4,
			H: dst.Height / 12,
		}
		blendRect(dst, bar, 0x00, 0x00, 0x00, 200)
	}
}

// drawTeleprompter adds the studio-only script band to a preview frame.
func drawTeleprompter(dst *domain.VideoFrame, script string) {
	if script == "" {
		return
	}
	band := Rect{
		X: 0,
		Y: 0,
		W: dst.Width,
		H: dst.Height / 6,
	}
	blendRect(dst, band, 0x08, 0x08, 0x0a, 210)
}
