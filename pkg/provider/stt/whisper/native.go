// This file contains the NativeProvider implementation backed by the
// whisper.cpp CGO bindings. The whisper.cpp static library (libwhisper.a)
// and headers must be available at link time via LIBRARY_PATH and
// C_INCLUDE_PATH.

package whisper

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"

	whisperlib "github.com/ggerganov/whisper.cpp/bindings/go/pkg/whisper"

	"github.com/emberworks/ember/pkg/provider/stt"
)

// NativeOption is a functional option for configuring a [NativeProvider].
type NativeOption func(*NativeProvider)

// WithNativeLanguage sets the transcription language code. Defaults to "en".
func WithNativeLanguage(lang string) NativeOption {
	return func(p *NativeProvider) { p.language = lang }
}

// WithNativeSilenceThresholdMs sets the consecutive-silence duration (ms)
// that ends an utterance. Defaults to 500 ms.
func WithNativeSilenceThresholdMs(ms int) NativeOption {
	return func(p *NativeProvider) { p.silenceThresholdMs = ms }
}

// NativeProvider implements stt.Provider using the whisper.cpp Go bindings,
// eliminating HTTP overhead entirely. The model is loaded once and shared
// across all sessions; each inference gets a fresh whisper context because
// contexts are not safe for concurrent use.
type NativeProvider struct {
	model               whisperlib.Model
	language            string
	silenceThresholdMs  int
	maxBufferDurationMs int
}

// NewNative creates a NativeProvider that loads the model from modelPath.
// The caller must call Close when the provider is no longer needed.
func NewNative(modelPath string, opts ...NativeOption) (*NativeProvider, error) {
	if modelPath == "" {
		return nil, errors.New("whisper: modelPath must not be empty")
	}
	model, err := whisperlib.New(modelPath)
	if err != nil {
		return nil, fmt.Errorf("whisper: load model %q: %w", modelPath, err)
	}

	p := &NativeProvider{
		model:               model,
		language:            defaultLanguage,
		silenceThresholdMs:  defaultSilenceThresholdMs,
		maxBufferDurationMs: defaultMaxBufferDurationMs,
	}
	for _, o := range opts {
		o(p)
	}
	return p, nil
}

// Close releases the whisper model.
func (p *NativeProvider) Close() error {
	if p.model != nil {
		return p.model.Close()
	}
	return nil
}

// StartStream opens a new transcription session backed by the shared model.
func (p *NativeProvider) StartStream(ctx context.Context, cfg stt.StreamConfig) (stt.SessionHandle, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("whisper: context already cancelled: %w", err)
	}
	sr, ch, lang := streamDefaults(cfg, p.language)

	return newSession(sr, ch, p.silenceThresholdMs, p.maxBufferDurationMs, func(pcm []byte) (string, error) {
		return p.infer(pcm, ch, lang)
	}), nil
}

// infer converts the buffered PCM to float32 mono and runs whisper.cpp
// inference on a fresh context.
func (p *NativeProvider) infer(pcm []byte, channels int, language string) (string, error) {
	samples := pcmToFloat32Mono(pcm, channels)

	wctx, err := p.model.NewContext()
	if err != nil {
		return "", fmt.Errorf("whisper: create context: %w", err)
	}
	if err := wctx.SetLanguage(language); err != nil {
		slog.Warn("whisper: failed to set language, using default", "language", language, "err", err)
	}
	if err := wctx.Process(samples, nil, nil, nil); err != nil {
		return "", fmt.Errorf("whisper: process audio: %w", err)
	}

	var parts []string
	for {
		segment, err := wctx.NextSegment()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return "", fmt.Errorf("whisper: read segment: %w", err)
		}
		if text := strings.TrimSpace(segment.Text); text != "" {
			parts = append(parts, text)
		}
	}
	return strings.Join(parts, " "), nil
}

// Compile-time assertion that *NativeProvider satisfies stt.Provider.
var _ stt.Provider = (*NativeProvider)(nil)
