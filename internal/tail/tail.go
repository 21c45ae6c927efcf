// Package tail is the response pipeline behind the turn arbiter.
//
// For every released turn the [Responder] builds the model context (persona
// prompt, rolling session history, semantic recall), asks the LLM for a
// reply, streams synthesized speech to the audio output, persists both
// sides of the exchange, and finally reports completion back to the
// arbiter. The output-active flag in shared state brackets the audible part
// so the input gates stay closed while the co-host is speaking.
package tail

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/emberworks/ember/internal/observe"
	"github.com/emberworks/ember/internal/resilience"
	"github.com/emberworks/ember/internal/state"
	"github.com/emberworks/ember/internal/turn"
	"github.com/emberworks/ember/pkg/memory"
	"github.com/emberworks/ember/pkg/provider/embeddings"
	"github.com/emberworks/ember/pkg/provider/llm"
	"github.com/emberworks/ember/pkg/provider/tts"
)

// Completer is the arbiter-facing surface the responder needs.
type Completer interface {
	Complete(tok turn.Token)
}

// ChatEchoer posts the co-host's reply back into stream chat.
type ChatEchoer interface {
	Send(text string) error
}

// AudioSink receives synthesized PCM chunks as they are produced.
type AudioSink func(chunk []byte)

// Persona describes who the co-host is and how it speaks.
type Persona struct {
	// Name is the co-host's display name, used when tagging its own lines.
	Name string

	// HostName tags voice-origin inputs; the streamer's name.
	HostName string

	// SystemPrompt is the character instruction for the LLM.
	SystemPrompt string

	// Voice selects the TTS voice.
	Voice tts.VoiceProfile

	// Temperature and MaxTokens are passed through to the LLM. Zero selects
	// provider defaults.
	Temperature float64
	MaxTokens   int
}

// Config tunes the responder. Zero values select the defaults.
type Config struct {
	// SessionID groups persisted turns.
	SessionID string

	// HistoryLimit is how many recent turns feed the prompt. Default 20.
	HistoryLimit int

	// RecallTopK is how many semantically recalled turns are injected.
	// Default 3.
	RecallTopK int
}

func (c Config) withDefaults() Config {
	if c.HistoryLimit <= 0 {
		c.HistoryLimit = 20
	}
	if c.RecallTopK <= 0 {
		c.RecallTopK = 3
	}
	return c
}

// Option configures a Responder.
type Option func(*Responder)

// WithMemory attaches a transcript store and the embedder used to index and
// recall turns. Without it turns are not persisted and no recall happens.
func WithMemory(store memory.Store, embedder embeddings.Provider) Option {
	return func(r *Responder) {
		r.store = store
		r.embedder = embedder
	}
}

// WithChatEchoer attaches a chat connection used to echo replies to
// chat-origin turns.
func WithChatEchoer(e ChatEchoer) Option {
	return func(r *Responder) { r.echo = e }
}

// WithMetrics attaches a metrics instance. Defaults to observe.DefaultMetrics.
func WithMetrics(m *observe.Metrics) Option {
	return func(r *Responder) { r.metrics = m }
}

// WithLogger sets the logger. Defaults to slog.Default.
func WithLogger(l *slog.Logger) Option {
	return func(r *Responder) { r.log = l }
}

// Responder turns released requests into spoken replies. Safe for concurrent
// use, though the arbiter guarantees at most one active turn at a time.
type Responder struct {
	cfg       Config
	persona   Persona
	llm       llm.Provider
	tts       tts.Provider
	state     *state.State
	completer Completer
	audioOut  AudioSink

	store    memory.Store
	embedder embeddings.Provider
	echo     ChatEchoer
	metrics  *observe.Metrics
	log      *slog.Logger

	llmBreaker *resilience.CircuitBreaker
	ttsBreaker *resilience.CircuitBreaker
}

// New creates a Responder.
func New(cfg Config, persona Persona, llmP llm.Provider, ttsP tts.Provider, st *state.State, completer Completer, audioOut AudioSink, opts ...Option) (*Responder, error) {
	if llmP == nil || ttsP == nil {
		return nil, fmt.Errorf("tail: llm and tts providers must not be nil")
	}
	if st == nil || completer == nil {
		return nil, fmt.Errorf("tail: state and completer must not be nil")
	}
	r := &Responder{
		cfg:        cfg.withDefaults(),
		persona:    persona,
		llm:        llmP,
		tts:        ttsP,
		state:      st,
		completer:  completer,
		audioOut:   audioOut,
		llmBreaker: resilience.NewCircuitBreaker(resilience.CircuitBreakerConfig{Name: "llm"}),
		ttsBreaker: resilience.NewCircuitBreaker(resilience.CircuitBreakerConfig{Name: "tts"}),
	}
	for _, o := range opts {
		o(r)
	}
	if r.metrics == nil {
		r.metrics = observe.DefaultMetrics()
	}
	if r.log == nil {
		r.log = slog.Default()
	}
	return r, nil
}

// HandleTurn processes one released turn end to end. It always reports
// completion to the arbiter, even when a pipeline stage fails.
func (r *Responder) HandleTurn(ctx context.Context, req turn.Request, tok turn.Token) {
	defer r.completer.Complete(tok)

	input := tagInput(r.persona, req)
	reply, err := r.complete(ctx, req, input)

	// Persist after prompt assembly so the rolling history does not contain
	// the turn being answered twice.
	r.persistTurn(ctx, req.Origin, req.User, "user", req.Content)

	if err != nil {
		r.log.Error("turn failed at completion stage",
			slog.String("origin", string(req.Origin)), slog.Any("error", err))
		r.metrics.RecordProviderError(ctx, "llm", "completion")
		return
	}
	if reply == "" {
		r.log.Warn("empty completion, skipping output",
			slog.String("origin", string(req.Origin)))
		return
	}

	r.speak(ctx, reply)
	r.persistTurn(ctx, req.Origin, r.persona.Name, "assistant", reply)

	if req.Origin == turn.OriginChat && r.echo != nil {
		echoText := reply
		if req.User != "" {
			echoText = "@" + req.User + " " + reply
		}
		if err := r.echo.Send(echoText); err != nil {
			r.log.Warn("chat echo failed", slog.Any("error", err))
		}
	}
}

// complete builds the prompt and asks the LLM for a reply.
func (r *Responder) complete(ctx context.Context, req turn.Request, input string) (string, error) {
	messages := r.buildHistory(ctx)
	messages = append(messages, llm.Message{Role: "user", Content: input, Name: req.User})

	creq := llm.CompletionRequest{
		SystemPrompt: r.buildSystemPrompt(ctx, req.Content),
		Messages:     messages,
		Temperature:  r.persona.Temperature,
		MaxTokens:    r.persona.MaxTokens,
	}

	var resp *llm.CompletionResponse
	start := time.Now()
	err := r.llmBreaker.Execute(func() error {
		var err error
		resp, err = r.llm.Complete(ctx, creq)
		return err
	})
	r.metrics.LLMDuration.Record(ctx, time.Since(start).Seconds())
	if err != nil {
		return "", err
	}
	return resp.Content, nil
}

// speak synthesizes the reply and streams it to the audio sink, holding the
// output-active flag for the duration so the input gates stay closed.
func (r *Responder) speak(ctx context.Context, reply string) {
	r.state.SetOutputActive(true)
	defer r.state.SetOutputActive(false)

	start := time.Now()
	var stream <-chan []byte
	err := r.ttsBreaker.Execute(func() error {
		var err error
		stream, err = r.tts.Synthesize(ctx, reply, r.persona.Voice)
		return err
	})
	if err != nil {
		r.log.Error("speech synthesis failed", slog.Any("error", err))
		r.metrics.RecordProviderError(ctx, "tts", "synthesis")
		return
	}
	for chunk := range stream {
		if r.audioOut != nil {
			r.audioOut(chunk)
		}
	}
	r.metrics.TTSDuration.Record(ctx, time.Since(start).Seconds())
}

// buildHistory loads the rolling session history as LLM messages.
func (r *Responder) buildHistory(ctx context.Context) []llm.Message {
	if r.store == nil {
		return nil
	}
	turns, err := r.store.Recent(ctx, r.cfg.SessionID, r.cfg.HistoryLimit)
	if err != nil {
		r.log.Warn("loading session history failed", slog.Any("error", err))
		return nil
	}
	messages := make([]llm.Message, 0, len(turns))
	for _, t := range turns {
		messages = append(messages, llm.Message{
			Role:    t.Role,
			Content: t.Text,
			Name:    t.User,
		})
	}
	return messages
}

// buildSystemPrompt combines the persona prompt with semantically recalled
// context for the current input.
func (r *Responder) buildSystemPrompt(ctx context.Context, query string) string {
	prompt := r.persona.SystemPrompt
	recalled := r.recall(ctx, query)
	if len(recalled) == 0 {
		return prompt
	}
	prompt += "\n\nRelevant earlier conversation:\n"
	for _, t := range recalled {
		prompt += "- " + t + "\n"
	}
	return prompt
}

// recall embeds the query and fetches similar past turns.
func (r *Responder) recall(ctx context.Context, query string) []string {
	if r.store == nil || r.embedder == nil {
		return nil
	}
	vec, err := r.embedder.Embed(ctx, query)
	if err != nil {
		r.log.Warn("recall embedding failed", slog.Any("error", err))
		return nil
	}
	results, err := r.store.Recall(ctx, vec, r.cfg.RecallTopK, memory.RecallFilter{})
	if err != nil {
		r.log.Warn("recall query failed", slog.Any("error", err))
		return nil
	}
	lines := make([]string, 0, len(results))
	for _, res := range results {
		lines = append(lines, res.Turn.Text)
	}
	return lines
}

// persistTurn writes one side of the exchange, embedding it when possible.
func (r *Responder) persistTurn(ctx context.Context, origin turn.Origin, user, role, text string) {
	if r.store == nil || text == "" {
		return
	}
	var vec []float32
	if r.embedder != nil {
		var err error
		if vec, err = r.embedder.Embed(ctx, text); err != nil {
			r.log.Warn("turn embedding failed", slog.Any("error", err))
			vec = nil
		}
	}
	t := memory.Turn{
		SessionID: r.cfg.SessionID,
		Origin:    string(origin),
		User:      user,
		Role:      role,
		Text:      text,
		Timestamp: time.Now(),
	}
	if err := r.store.WriteTurn(ctx, t, vec); err != nil {
		r.log.Warn("turn persistence failed", slog.Any("error", err))
	}
}

// tagInput prefixes the raw content so the model can tell voice from chat
// and knows who is speaking.
func tagInput(p Persona, req turn.Request) string {
	switch req.Origin {
	case turn.OriginChat:
		user := req.User
		if user == "" {
			user = "someone"
		}
		return fmt.Sprintf("[CHAT] [%s] says %s", user, req.Content)
	default:
		host := p.HostName
		if host == "" {
			host = "the host"
		}
		return fmt.Sprintf("[%s] says %s", host, req.Content)
	}
}
