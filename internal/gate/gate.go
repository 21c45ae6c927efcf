// Package gate filters the voice input path against the shared state.
//
// Two gates protect the pipeline from hearing itself and from hot-mic
// capture: the [AudioGate] sits in front of speech-to-text and admits raw
// frames only while the co-host is listening and silent, and the
// [TranscriptFilter] drops final transcripts that slipped in while output
// was already playing.
package gate

import (
	"context"
	"log/slog"

	"github.com/emberworks/ember/internal/observe"
	"github.com/emberworks/ember/internal/state"
	"github.com/emberworks/ember/pkg/audio"
	"github.com/emberworks/ember/pkg/provider/stt"
)

// AudioGate admits audio frames into speech-to-text. Safe for concurrent use.
type AudioGate struct {
	state   *state.State
	metrics *observe.Metrics
	log     *slog.Logger
}

// NewAudioGate creates an AudioGate reading st on every decision.
func NewAudioGate(st *state.State, metrics *observe.Metrics, log *slog.Logger) *AudioGate {
	if metrics == nil {
		metrics = observe.DefaultMetrics()
	}
	if log == nil {
		log = slog.Default()
	}
	return &AudioGate{state: st, metrics: metrics, log: log}
}

// Admit reports whether the frame may be forwarded to speech-to-text. A
// frame passes only while the mode is listening and no output is active;
// the state is re-read on every call so a mid-stream mode flip takes effect
// on the next frame.
func (g *AudioGate) Admit(frame audio.Frame) bool {
	if g.state.Mode() != state.ModeListening {
		g.metrics.RecordDroppedFrame(context.Background(), "not_listening")
		return false
	}
	if g.state.OutputActive() {
		g.metrics.RecordDroppedFrame(context.Background(), "output_active")
		g.log.Debug("audio frame dropped, output active",
			slog.Int("bytes", len(frame.Data)))
		return false
	}
	return true
}

// TranscriptFilter drops speech-to-text results that must not become turns.
// Safe for concurrent use.
type TranscriptFilter struct {
	state   *state.State
	metrics *observe.Metrics
	log     *slog.Logger
}

// NewTranscriptFilter creates a TranscriptFilter reading st on every
// decision.
func NewTranscriptFilter(st *state.State, metrics *observe.Metrics, log *slog.Logger) *TranscriptFilter {
	if metrics == nil {
		metrics = observe.DefaultMetrics()
	}
	if log == nil {
		log = slog.Default()
	}
	return &TranscriptFilter{state: st, metrics: metrics, log: log}
}

// Admit reports whether the transcript may be submitted as a voice turn.
// Partials never pass (only finals become turns), and finals arriving while
// output is active are discarded: they are almost always the co-host's own
// speech or crosstalk recorded before the gate closed.
func (f *TranscriptFilter) Admit(tr stt.Transcript) bool {
	if !tr.IsFinal {
		return false
	}
	if f.state.OutputActive() {
		f.metrics.MutedTranscripts.Add(context.Background(), 1)
		f.log.Debug("final transcript muted, output active",
			slog.String("text", tr.Text))
		return false
	}
	return tr.Text != ""
}
