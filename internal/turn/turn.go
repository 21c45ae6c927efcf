// Package turn implements turn arbitration for the conversation pipeline.
//
// Voice and chat inputs compete for a single response pipeline. The
// [Arbiter] serialises them: at most one turn is active at a time, each
// origin keeps FIFO order, voice wins ties, and a fairness counter prevents
// a steady voice stream from starving chat. A watchdog force-completes turns
// whose downstream processing never reports back.
package turn

import (
	"strings"
	"time"
)

// Origin identifies which input path produced a turn request.
type Origin string

const (
	// OriginVoice is the microphone / speech-to-text path.
	OriginVoice Origin = "voice"

	// OriginChat is the stream-chat path.
	OriginChat Origin = "chat"
)

// Valid reports whether o is a known origin.
func (o Origin) Valid() bool {
	return o == OriginVoice || o == OriginChat
}

// Request is one queued conversation input awaiting its turn.
type Request struct {
	// Origin is the input path that produced this request.
	Origin Origin

	// User is the display name of the speaker. Empty for voice requests
	// without speaker identification.
	User string

	// Content is the transcribed or typed text.
	Content string

	// EnqueuedAt is when the request entered the arbiter. The arbiter stamps
	// it on Submit when zero.
	EnqueuedAt time.Time
}

// FromVoice builds a voice-origin request from a final transcript.
func FromVoice(content string) Request {
	return Request{
		Origin:  OriginVoice,
		Content: strings.TrimSpace(content),
	}
}

// FromChat builds a chat-origin request from a triggered chat message.
func FromChat(user, content string) Request {
	return Request{
		Origin:  OriginChat,
		User:    user,
		Content: strings.TrimSpace(content),
	}
}

// Active describes the turn currently holding the pipeline.
type Active struct {
	Origin     Origin
	User       string
	ReleasedAt time.Time
}

// Token identifies one released turn. The holder passes it back via
// [Arbiter.Complete]; a stale token (from an already-expired turn) is a
// no-op, which makes completion idempotent against the watchdog.
type Token struct {
	id uint64
}

// StatePublisher receives current-turn changes as the arbiter releases and
// completes turns. Implementations must not call back into the arbiter.
type StatePublisher interface {
	SetCurrentTurn(origin Origin, user string)
	ClearCurrentTurn()
}
