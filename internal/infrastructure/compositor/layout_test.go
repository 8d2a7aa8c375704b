package compositor

import (
	"testing"

	"stagecast/internal/core/domain"
)

func liveSet(ids ...string) []*domain.Participant {
	out := make([]*domain.Participant, 0, len(ids))
	for _, id := range ids {
		out = append(out, &domain.Participant{
			ID:       domain.ParticipantID(id),
			State:    domain.StageLive,
			SourceID: domain.SourceID("src-" + id),
		})
	}
	return out
}

func TestResolveSlots_MatchesLiveSet(t *testing.T) {
	live := liveSet("a", "b", "c")
	slots := ResolveSlots(domain.Layout{Type: domain.LayoutGrid}, live, 1280, 720)

	if len(slots) != len(live) {
		t.Fatalf("slots = %d, want %d", len(slots), len(live))
	}
	for i, slot := range slots {
		if slot.ParticipantID != live[i].ID {
			t.Errorf("slot %d = %s, want join order %s", i, slot.ParticipantID, live[i].ID)
		}
		if slot.Index != i {
			t.Errorf("slot %d carries index %d", i, slot.Index)
		}
	}
}

func TestResolveSlots_LayoutOrderWins(t *testing.T) {
	live := liveSet("a", "b", "c")
	layout := domain.Layout{
		Type: domain.LayoutSpotlight,
		Slots: []domain.StageSlot{
			{Index: 0, ParticipantID: "c"},
			{Index: 1, ParticipantID: "a"},
		},
	}

	slots := ResolveSlots(layout, live, 1280, 720)
	if len(slots) != 3 {
		t.Fatalf("slots = %d, want 3", len(slots))
	}
	want := []domain.ParticipantID{"c", "a", "b"}
	for i, id := range want {
		if slots[i].ParticipantID != id {
			t.Errorf("slot %d = %s, want %s", i, slots[i].ParticipantID, id)
		}
	}
}

func TestResolveSlots_SkipsDepartedBindings(t *testing.T) {
	live := liveSet("a")
	layout := domain.Layout{
		Type: domain.LayoutGrid,
		Slots: []domain.StageSlot{
			{Index: 0, ParticipantID: "gone"},
			{Index: 1, ParticipantID: "a"},
		},
	}

	slots := ResolveSlots(layout, live, 1280, 720)
	if len(slots) != 1 {
		t.Fatalf("slots = %d, want 1", len(slots))
	}
	if slots[0].ParticipantID != "a" {
		t.Errorf("slot 0 = %s, want a", slots[0].ParticipantID)
	}
}

func TestResolveSlots_ScreenshareSource(t *testing.T) {
	live := liveSet("a")
	layout := domain.Layout{
		Type: domain.LayoutScreenshare,
		Slots: []domain.StageSlot{
			{Index: 0, SourceID: "screen-1"},
			{Index: 1, ParticipantID: "a"},
		},
	}

	slots := ResolveSlots(layout, live, 1280, 720)
	if len(slots) != 2 {
		t.Fatalf("slots = %d, want 2", len(slots))
	}
	if slots[0].SourceID != "screen-1" || slots[0].ParticipantID != "" {
		t.Errorf("slot 0 should carry the screenshare source, got %+v", slots[0])
	}
	if slots[0].Placeholder {
		t.Error("screenshare slot with a source must not be a placeholder")
	}
}

func TestResolveSlots_MissingSourceIsPlaceholder(t *testing.T) {
	live := []*domain.Participant{{ID: "a", State: domain.StageLive}} // no SourceID yet

	slots := ResolveSlots(domain.Layout{Type: domain.LayoutGrid}, live, 1280, 720)
	if len(slots) != 1 {
		t.Fatalf("slots = %d, want 1", len(slots))
	}
	if !slots[0].Placeholder {
		t.Error("slot without a bound source should render the placeholder")
	}
}

func inCanvas(r Rect, width, height int) bool {
	return r.X >= 0 && r.Y >= 0 && r.X+r.W <= width && r.Y+r.H <= height
}

func TestSlotRects_WithinCanvas(t *testing.T) {
	const width, height = 1280, 720
	layouts := []domain.LayoutType{
		domain.LayoutGrid,
		domain.LayoutSpotlight,
		domain.LayoutSidebar,
		domain.LayoutPIP,
		domain.LayoutScreenshare,
	}

	for _, lt := range layouts {
		for n := 1; n <= 10; n++ {
			rects := slotRects(lt, n, width, height)
			if len(rects) != n {
				t.Fatalf("%s n=%d: got %d rects", lt, n, len(rects))
			}
			for i, r := range rects {
				if r.W <= 0 || r.H <= 0 {
					t.Errorf("%s n=%d rect %d has empty area: %+v", lt, n, i, r)
				}
			}
		}
	}
}

func TestGridRects_SquareishGrid(t *testing.T) {
	rects := gridRects(4, 1280, 720)
	for i, r := range rects {
		if r.W != 640 || r.H != 360 {
			t.Errorf("rect %d = %+v, want 640x360 cells", i, r)
		}
		if !inCanvas(r, 1280, 720) {
			t.Errorf("rect %d outside canvas: %+v", i, r)
		}
	}
}

func TestSpotlightRects_SingleFillsCanvas(t *testing.T) {
	rects := spotlightRects(1, 1280, 720)
	if rects[0] != (Rect{0, 0, 1280, 720}) {
		t.Errorf("single spotlight slot = %+v, want full canvas", rects[0])
	}
}

func TestSpotlightRects_ThumbnailStrip(t *testing.T) {
	rects := spotlightRects(3, 1280, 720)

	if rects[0].H >= 720 {
		t.Error("main slot should leave room for the strip")
	}
	for _, thumb := range rects[1:] {
		if thumb.Y != rects[0].H {
			t.Errorf("thumbnail should sit below the main slot, got %+v", thumb)
		}
		if !inCanvas(thumb, 1280, 720) {
			t.Errorf("thumbnail outside canvas: %+v", thumb)
		}
	}
}

func TestSidebarRects_MainLeft(t *testing.T) {
	rects := sidebarRects(3, 1280, 720)
	if rects[0].X != 0 || rects[0].H != 720 {
		t.Errorf("main slot = %+v, want full-height left pane", rects[0])
	}
	for _, side := range rects[1:] {
		if side.X != rects[0].W {
			t.Errorf("sidebar tile should start at main width, got %+v", side)
		}
	}
}

func TestPIPRects_FirstFillsCanvas(t *testing.T) {
	rects := pipRects(2, 1280, 720)
	if rects[0] != (Rect{0, 0, 1280, 720}) {
		t.Errorf("pip base = %+v, want full canvas", rects[0])
	}
	if !inCanvas(rects[1], 1280, 720) {
		t.Errorf("inset tile outside canvas: %+v", rects[1])
	}
}
