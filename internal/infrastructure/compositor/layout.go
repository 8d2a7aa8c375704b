package compositor

import (
	"math"

	"stagecast/internal/core/domain"
)

// Rect is a pixel rectangle inside the composite canvas.
type Rect struct {
	X, Y, W, H int
}

// ResolvedSlot is one visual position for the current frame, bound to a live
// participant or a screenshare source. Placeholder slots have no frame to
// draw yet.
type ResolvedSlot struct {
	Index         int
	ParticipantID domain.ParticipantID
	SourceID      domain.SourceID
	Rect          Rect
	Placeholder   bool
}

// ResolveSlots maps the active layout and the current live set onto concrete
// rectangles. It is the single source of truth for slot geometry: the
// interactive preview renderer and the output renderer both consume it, so
// the two surfaces can never drift apart.
//
// Ordering: participants explicitly bound to a layout slot keep the slot
// order; live participants the layout does not mention are appended in join
// order. Participants that are not live never get a slot, and slots bound to
// participants that are no longer live fall through to the next live
// participant.
func ResolveSlots(layout domain.Layout, live []*domain.Participant, width, height int) []ResolvedSlot {
	liveByID := make(map[domain.ParticipantID]*domain.Participant, len(live))
	for _, p := range live {
		liveByID[p.ID] = p
	}

	var ordered []ResolvedSlot
	seen := make(map[domain.ParticipantID]struct{})

	for _, slot := range layout.Slots {
		if slot.SourceID != "" && slot.ParticipantID == "" {
			ordered = append(ordered, ResolvedSlot{SourceID: slot.SourceID})
			continue
		}
		p, ok := liveByID[slot.ParticipantID]
		if !ok {
			continue
		}
		if _, dup := seen[p.ID]; dup {
			continue
		}
		seen[p.ID] = struct{}{}
		ordered = append(ordered, ResolvedSlot{ParticipantID: p.ID, SourceID: p.SourceID})
	}

	for _, p := range live {
		if _, ok := seen[p.ID]; ok {
			continue
		}
		seen[p.ID] = struct{}{}
		ordered = append(ordered, ResolvedSlot{ParticipantID: p.ID, SourceID: p.SourceID})
	}

	rects := slotRects(layout.Type, len(ordered), width, height)
	for i := range ordered {
		ordered[i].Index = i
		if i < len(rects) {
			ordered[i].Rect = rects[i]
		}
		if ordered[i].SourceID == "" {
			ordered[i].Placeholder = true
		}
	}

	return ordered
}

// slotRects computes the geometry for n visible slots under the given layout
// type on a width x height canvas.
func slotRects(t domain.LayoutType, n, width, height int) []Rect {
	if n == 0 {
		return nil
	}

	switch t {
	case domain.LayoutSpotlight:
		return spotlightRects(n, width, height)
	case domain.LayoutSidebar:
		return sidebarRects(n, width, height)
	case domain.LayoutPIP:
		return pipRects(n, width, height)
	case domain.LayoutScreenshare:
		// Screenshare emphasis shares the sidebar geometry: big surface left,
		// participant strip right.
		return sidebarRects(n, width, height)
	default:
		return gridRects(n, width, height)
	}
}

func gridRects(n, width, height int) []Rect {
	cols := int(math.Ceil(math.Sqrt(float64(n))))
	rows := (n + cols - 1) / cols

	cellW := width / cols
	cellH := height / rows

	rects := make([]Rect, n)
	for i := 0; i < n; i++ {
		col := i % cols
		row := i / cols
		rects[i] = Rect{X: col * cellW, Y: row * cellH, W: cellW, H: cellH}
	}
	return rects
}

func spotlightRects(n, width, height int) []Rect {
	if n == 1 {
		return []Rect{{0, 0, width, height}}
	}

	// First slot fills the canvas above a thumbnail strip for the rest.
	stripH := height / 5
	rects := make([]Rect, n)
	rects[0] = Rect{X: 0, Y: 0, W: width, H: height - stripH}

	thumbW := width / (n - 1)
	for i := 1; i < n; i++ {
		rects[i] = Rect{X: (i - 1) * thumbW, Y: height - stripH, W: thumbW, H: stripH}
	}
	return rects
}

func sidebarRects(n, width, height int) []Rect {
	if n == 1 {
		return []Rect{{0, 0, width, height}}
	}

	mainW := width * 3 / 4
	rects := make([]Rect, n)
	rects[0] = Rect{X: 0, Y: 0, W: mainW, H: height}

	sideH := height / (n - 1)
	for i := 1; i < n; i++ {
		rects[i] = Rect{X: mainW, Y: (i - 1) * sideH, W: width - mainW, H: sideH}
	}
	return rects
}

func pipRects(n, width, height int) []Rect {
	rects := make([]Rect, n)
	rects[0] = Rect{0, 0, width, height}

	// Remaining slots stack as small inset tiles from the bottom-right corner.
	insetW := width / 4
	insetH := height / 4
	margin := height / 36
	for i := 1; i < n; i++ {
		rects[i] = Rect{
			X: width - insetW - margin,
			Y: height - i*(insetH+margin),
			W: insetW,
			H: insetH,
		}
	}
	return rects
}
