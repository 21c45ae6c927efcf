// Package stt defines the Provider interface for speech-to-text backends.
//
// An STT provider wraps a transcription engine (a local whisper.cpp model via
// CGO bindings, or a whisper.cpp HTTP server) behind a uniform streaming
// interface. The central abstraction is [SessionHandle]: once opened, a
// session accepts raw PCM audio and emits two streams of [Transcript] values —
// low-latency partials for overlay captions and authoritative finals for the
// conversation pipeline.
//
// Implementations must be safe for concurrent use.
package stt

import (
	"context"
	"time"
)

// Transcript is a speech-to-text result. Both partial (interim) and final
// transcripts use this type; only finals may enter the turn pipeline.
type Transcript struct {
	// Text is the transcribed speech content.
	Text string

	// IsFinal reports whether this is an authoritative result. Partials are
	// preliminary guesses and are never forwarded past the mute filter.
	IsFinal bool

	// Confidence is the overall confidence score (0.0–1.0). Zero when the
	// backend does not report confidence.
	Confidence float64

	// Timestamp marks when the utterance started, relative to session start.
	Timestamp time.Duration

	// Duration is the length of the utterance.
	Duration time.Duration
}

// StreamConfig describes the audio format for a new STT session.
type StreamConfig struct {
	// SampleRate is the PCM sample rate in Hz (16000 recommended).
	SampleRate int

	// Channels is the channel count; 1 is required by whisper.
	Channels int

	// Language is the BCP-47 language tag (e.g. "en"). Empty lets the
	// backend auto-detect, if supported.
	Language string
}

// SessionHandle is an open STT streaming session. Callers must call Close
// when the session is no longer needed; failing to do so leaks the session
// goroutine. All methods are safe for concurrent use.
type SessionHandle interface {
	// SendAudio delivers raw 16-bit little-endian PCM to the session. The
	// data must match the SampleRate and Channels agreed in StreamConfig.
	// Calling SendAudio after Close returns an error.
	SendAudio(chunk []byte) error

	// Partials returns a read-only channel emitting interim transcripts.
	// Closed when the session ends.
	Partials() <-chan Transcript

	// Finals returns a read-only channel emitting authoritative transcripts.
	// Closed when the session ends.
	Finals() <-chan Transcript

	// Close terminates the session, flushes pending audio, and closes both
	// transcript channels. Safe to call more than once.
	Close() error
}

// Provider is the abstraction over any STT backend.
type Provider interface {
	// StartStream opens a new streaming transcription session. The returned
	// handle is ready to accept audio immediately. The caller owns the
	// handle and must Close it.
	StartStream(ctx context.Context, cfg StreamConfig) (SessionHandle, error)
}
