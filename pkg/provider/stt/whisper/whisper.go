// Package whisper provides two whisper.cpp-backed STT providers: [Provider]
// talks to a whisper.cpp HTTP server, [NativeProvider] loads the model
// in-process through the CGO bindings. Both buffer audio per utterance using
// RMS silence detection and emit one final transcript per utterance.
package whisper

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"github.com/emberworks/ember/pkg/provider/stt"
)

// Option is a functional option for configuring the HTTP [Provider].
type Option func(*Provider)

// WithLanguage sets the transcription language code (e.g. "en", "de").
// Defaults to "en".
func WithLanguage(lang string) Option {
	return func(p *Provider) { p.language = lang }
}

// WithSilenceThresholdMs sets the consecutive-silence duration (ms) that ends
// an utterance and triggers inference. Defaults to 500 ms.
func WithSilenceThresholdMs(ms int) Option {
	return func(p *Provider) { p.silenceThresholdMs = ms }
}

// WithMaxBufferDurationMs sets the maximum buffered audio duration (ms)
// before a forced flush during continuous speech. Defaults to 10 s.
func WithMaxBufferDurationMs(ms int) Option {
	return func(p *Provider) { p.maxBufferDurationMs = ms }
}

// Provider implements stt.Provider against a whisper.cpp HTTP server
// (the `server` example binary). Each session keeps its own utterance buffer;
// multiple sessions may be open at once.
type Provider struct {
	serverURL           string
	language            string
	silenceThresholdMs  int
	maxBufferDurationMs int
	httpClient          *http.Client
}

// New creates a Provider for the whisper.cpp server at serverURL
// (e.g. "http://localhost:8080"). serverURL must be non-empty.
func New(serverURL string, opts ...Option) (*Provider, error) {
	if serverURL == "" {
		return nil, errors.New("whisper: serverURL must not be empty")
	}
	p := &Provider{
		serverURL:           strings.TrimRight(serverURL, "/"),
		language:            defaultLanguage,
		silenceThresholdMs:  defaultSilenceThresholdMs,
		maxBufferDurationMs: defaultMaxBufferDurationMs,
		httpClient:          &http.Client{Timeout: 30 * time.Second},
	}
	for _, o := range opts {
		o(p)
	}
	return p, nil
}

// StartStream opens a new transcription session. No network connection is
// established until the first utterance flush.
func (p *Provider) StartStream(ctx context.Context, cfg stt.StreamConfig) (stt.SessionHandle, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("whisper: context already cancelled: %w", err)
	}
	sr, ch, lang := streamDefaults(cfg, p.language)

	return newSession(sr, ch, p.silenceThresholdMs, p.maxBufferDurationMs, func(pcm []byte) (string, error) {
		return p.infer(pcm, sr, ch, lang)
	}), nil
}

// infer posts the utterance as a WAV file to the server's /inference endpoint
// and returns the recognised text.
func (p *Provider) infer(pcm []byte, sampleRate, channels int, language string) (string, error) {
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)

	fw, err := mw.CreateFormFile("file", "audio.wav")
	if err != nil {
		return "", fmt.Errorf("whisper: build request: %w", err)
	}
	if _, err := fw.Write(buildWAV(pcm, sampleRate, channels)); err != nil {
		return "", fmt.Errorf("whisper: build request: %w", err)
	}
	if language != "" {
		mw.WriteField("language", language)
	}
	mw.WriteField("response_format", "json")
	if err := mw.Close(); err != nil {
		return "", fmt.Errorf("whisper: build request: %w", err)
	}

	req, err := http.NewRequest(http.MethodPost, p.serverURL+"/inference", &body)
	if err != nil {
		return "", fmt.Errorf("whisper: build request: %w", err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("whisper: inference request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return "", fmt.Errorf("whisper: server returned %d: %s", resp.StatusCode, strings.TrimSpace(string(msg)))
	}

	var out struct {
		Text string `json:"text"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("whisper: decode response: %w", err)
	}
	return strings.TrimSpace(out.Text), nil
}

// streamDefaults resolves zero-value StreamConfig fields to provider defaults.
func streamDefaults(cfg stt.StreamConfig, language string) (sampleRate, channels int, lang string) {
	sampleRate = cfg.SampleRate
	if sampleRate <= 0 {
		sampleRate = defaultSampleRate
	}
	channels = cfg.Channels
	if channels <= 0 {
		channels = 1
	}
	lang = cfg.Language
	if lang == "" {
		lang = language
	}
	return sampleRate, channels, lang
}

// Compile-time assertion that *Provider satisfies stt.Provider.
var _ stt.Provider = (*Provider)(nil)
