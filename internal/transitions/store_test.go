package transitions

import (
	"testing"
	"time"

	"agesignal/internal/model"
)

func TestStoreKeepsNewest(t *testing.T) {
	s := NewStore(3)
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < 5; i++ {
		s.Add(model.Transition{ID: string(rune('a' + i)), Subject: "cam1", Timestamp: base.Add(time.Duration(i) * time.Second)})
	}
	got := s.List("", 0)
	if len(got) != 3 {
		t.Fatalf("expected 3 transitions, got %d", len(got))
	}
	if got[0].ID != "c" || got[2].ID != "e" {
		t.Fatalf("unexpected order: %s..%s", got[0].ID, got[2].ID)
	}
	if last := s.List("", 1); len(last) != 1 || last[0].ID != "e" {
		t.Fatalf("expected newest transition, got %+v", last)
	}
	if since := s.Since(base.Add(3 * time.Second)); len(since) != 2 {
		t.Fatalf("expected 2 transitions since t+3s, got %d", len(since))
	}
}

func TestStoreFiltersSubject(t *testing.T) {
	s := NewStore(10)
	s.Add(model.Transition{Subject: "cam1"})
	s.Add(model.Transition{Subject: "cam2"})
	s.Add(model.Transition{Subject: "cam1"})
	if got := s.List("cam1", 0); len(got) != 2 {
		t.Fatalf("expected 2 cam1 transitions, got %d", len(got))
	}
	s.Clear()
	if got := s.List("", 0); len(got) != 0 {
		t.Fatalf("expected empty store after clear")
	}
}
