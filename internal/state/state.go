// Package state holds the mutable runtime state shared by the input gates,
// the turn arbiter, and the control surface: whether the co-host is
// listening, whether it is speaking, whose turn currently holds the
// pipeline, and presentation hints (mood, forced avatar state) for the
// overlay.
//
// State changes fan out to registered listeners as [Event] values carrying a
// consistent [Snapshot], so the overlay websocket can mirror every change
// without polling.
package state

import (
	"log/slog"
	"sync"

	"github.com/emberworks/ember/internal/turn"
)

// Mode is the listening mode of the voice input path.
type Mode string

const (
	// ModeIdle drops all incoming audio.
	ModeIdle Mode = "idle"

	// ModeListening forwards audio to speech-to-text while no output is
	// active.
	ModeListening Mode = "listening"
)

// EventType names what changed in a state event.
type EventType string

const (
	EventMode        EventType = "mode"
	EventOutput      EventType = "output"
	EventTurn        EventType = "turn"
	EventMood        EventType = "mood"
	EventForcedState EventType = "forced_state"
)

// Snapshot is an immutable copy of the full state, taken at event time.
type Snapshot struct {
	Mode         Mode        `json:"mode"`
	OutputActive bool        `json:"output_active"`
	TurnOrigin   turn.Origin `json:"turn_origin,omitempty"`
	TurnUser     string      `json:"turn_user,omitempty"`
	Mood         string      `json:"mood"`
	ForcedState  string      `json:"forced_state,omitempty"`
}

// Event pairs a change type with the snapshot after the change.
type Event struct {
	Type     EventType `json:"type"`
	Snapshot Snapshot  `json:"snapshot"`
}

// Listener receives state events. Listeners are invoked synchronously under
// the state lock and must return quickly without calling back into State.
type Listener func(Event)

// State is the shared runtime state. Safe for concurrent use.
type State struct {
	mu           sync.Mutex
	mode         Mode
	outputActive bool
	turnOrigin   turn.Origin
	turnUser     string
	mood         string
	forcedState  string
	listeners    []Listener
	log          *slog.Logger
}

// New creates a State starting in ModeIdle with the given default mood.
func New(defaultMood string, log *slog.Logger) *State {
	if log == nil {
		log = slog.Default()
	}
	return &State{
		mode: ModeIdle,
		mood: defaultMood,
		log:  log,
	}
}

// Subscribe registers a listener for all subsequent state events.
func (s *State) Subscribe(l Listener) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listeners = append(s.listeners, l)
}

// Snapshot returns a copy of the current state.
func (s *State) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked()
}

// Mode returns the current listening mode.
func (s *State) Mode() Mode {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.mode
}

// OutputActive reports whether the co-host is currently speaking.
func (s *State) OutputActive() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.outputActive
}

// SetMode switches the listening mode. Setting the current mode is a no-op
// and emits no event.
func (s *State) SetMode(m Mode) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.mode == m {
		return
	}
	s.mode = m
	s.log.Info("listening mode changed", slog.String("mode", string(m)))
	s.emitLocked(EventMode)
}

// ToggleMode flips between idle and listening and returns the new mode.
func (s *State) ToggleMode() Mode {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.mode == ModeListening {
		s.mode = ModeIdle
	} else {
		s.mode = ModeListening
	}
	s.log.Info("listening mode toggled", slog.String("mode", string(s.mode)))
	s.emitLocked(EventMode)
	return s.mode
}

// SetOutputActive marks the start or end of co-host speech output.
func (s *State) SetOutputActive(active bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.outputActive == active {
		return
	}
	s.outputActive = active
	s.emitLocked(EventOutput)
}

// SetMood updates the overlay mood hint.
func (s *State) SetMood(mood string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.mood == mood {
		return
	}
	s.mood = mood
	s.emitLocked(EventMood)
}

// Mood returns the current mood hint.
func (s *State) Mood() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.mood
}

// SetForcedState pins the overlay avatar to a fixed visual state. An empty
// value releases the pin.
func (s *State) SetForcedState(forced string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.forcedState == forced {
		return
	}
	s.forcedState = forced
	s.emitLocked(EventForcedState)
}

// SetCurrentTurn implements turn.StatePublisher.
func (s *State) SetCurrentTurn(origin turn.Origin, user string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.turnOrigin = origin
	s.turnUser = user
	s.emitLocked(EventTurn)
}

// ClearCurrentTurn implements turn.StatePublisher.
func (s *State) ClearCurrentTurn() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.turnOrigin = ""
	s.turnUser = ""
	s.emitLocked(EventTurn)
}

func (s *State) snapshotLocked() Snapshot {
	return Snapshot{
		Mode:         s.mode,
		OutputActive: s.outputActive,
		TurnOrigin:   s.turnOrigin,
		TurnUser:     s.turnUser,
		Mood:         s.mood,
		ForcedState:  s.forcedState,
	}
}

func (s *State) emitLocked(t EventType) {
	ev := Event{Type: t, Snapshot: s.snapshotLocked()}
	for _, l := range s.listeners {
		l(ev)
	}
}

var _ turn.StatePublisher = (*State)(nil)
