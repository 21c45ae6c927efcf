package state

import (
	"testing"

	"github.com/emberworks/ember/internal/turn"
)

func collectEvents(s *State) *[]Event {
	events := &[]Event{}
	s.Subscribe(func(ev Event) { *events = append(*events, ev) })
	return events
}

func TestDefaults(t *testing.T) {
	t.Parallel()

	s := New("neutral", nil)
	snap := s.Snapshot()
	if snap.Mode != ModeIdle {
		t.Fatalf("initial mode = %q, want idle", snap.Mode)
	}
	if snap.OutputActive {
		t.Fatal("output must start inactive")
	}
	if snap.Mood != "neutral" {
		t.Fatalf("mood = %q", snap.Mood)
	}
}

func TestSetModeEmitsOnce(t *testing.T) {
	t.Parallel()

	s := New("neutral", nil)
	events := collectEvents(s)

	s.SetMode(ModeListening)
	s.SetMode(ModeListening) // no-op, no event

	if len(*events) != 1 {
		t.Fatalf("events = %d, want 1", len(*events))
	}
	if (*events)[0].Type != EventMode || (*events)[0].Snapshot.Mode != ModeListening {
		t.Fatalf("event = %+v", (*events)[0])
	}
}

func TestToggleMode(t *testing.T) {
	t.Parallel()

	s := New("neutral", nil)
	if got := s.ToggleMode(); got != ModeListening {
		t.Fatalf("first toggle = %q, want listening", got)
	}
	if got := s.ToggleMode(); got != ModeIdle {
		t.Fatalf("second toggle = %q, want idle", got)
	}
}

func TestTurnPublishing(t *testing.T) {
	t.Parallel()

	s := New("neutral", nil)
	events := collectEvents(s)

	s.SetCurrentTurn(turn.OriginChat, "viewer42")
	snap := s.Snapshot()
	if snap.TurnOrigin != turn.OriginChat || snap.TurnUser != "viewer42" {
		t.Fatalf("turn snapshot = %+v", snap)
	}

	s.ClearCurrentTurn()
	snap = s.Snapshot()
	if snap.TurnOrigin != "" || snap.TurnUser != "" {
		t.Fatalf("turn not cleared: %+v", snap)
	}

	if len(*events) != 2 {
		t.Fatalf("events = %d, want 2 turn events", len(*events))
	}
	for _, ev := range *events {
		if ev.Type != EventTurn {
			t.Fatalf("event type = %q", ev.Type)
		}
	}
}

func TestOutputMoodForcedState(t *testing.T) {
	t.Parallel()

	s := New("neutral", nil)
	events := collectEvents(s)

	s.SetOutputActive(true)
	if !s.OutputActive() {
		t.Fatal("output not active")
	}
	s.SetOutputActive(true) // no event

	s.SetMood("excited")
	if s.Mood() != "excited" {
		t.Fatalf("mood = %q", s.Mood())
	}

	s.SetForcedState("sleeping")
	if s.Snapshot().ForcedState != "sleeping" {
		t.Fatal("forced state not set")
	}
	s.SetForcedState("")
	if s.Snapshot().ForcedState != "" {
		t.Fatal("forced state not released")
	}

	want := []EventType{EventOutput, EventMood, EventForcedState, EventForcedState}
	if len(*events) != len(want) {
		t.Fatalf("events = %d, want %d", len(*events), len(want))
	}
	for i, ev := range *events {
		if ev.Type != want[i] {
			t.Fatalf("event[%d] = %q, want %q", i, ev.Type, want[i])
		}
	}
}
