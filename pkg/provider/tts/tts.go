// Package tts defines the Provider interface for text-to-speech backends.
//
// A TTS provider wraps a synthesis service (e.g. ElevenLabs) behind a uniform
// streaming interface: Synthesize returns a channel of raw PCM chunks as they
// become available, so playback can begin before the full reply is rendered.
//
// Implementations must be safe for concurrent use.
package tts

import "context"

// VoiceProfile selects and tunes the synthesis voice.
type VoiceProfile struct {
	// ID is the provider-specific voice identifier.
	ID string

	// Stability controls variance between renditions (0.0–1.0). Zero uses
	// the provider default.
	Stability float64

	// SimilarityBoost controls adherence to the original voice (0.0–1.0).
	// Zero uses the provider default.
	SimilarityBoost float64
}

// Provider is the abstraction over any TTS backend.
type Provider interface {
	// Synthesize renders text with the given voice and returns a channel
	// emitting raw PCM audio chunks as they are produced. The channel is
	// closed when synthesis completes or ctx is cancelled; callers must
	// drain it. A non-nil error is returned only when the synthesis request
	// cannot be started.
	Synthesize(ctx context.Context, text string, voice VoiceProfile) (<-chan []byte, error)
}
