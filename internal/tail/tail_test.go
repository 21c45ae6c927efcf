package tail

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/emberworks/ember/internal/state"
	"github.com/emberworks/ember/internal/turn"
	"github.com/emberworks/ember/pkg/memory"
	"github.com/emberworks/ember/pkg/memory/mock"
	"github.com/emberworks/ember/pkg/provider/llm"
	"github.com/emberworks/ember/pkg/provider/tts"
)

type fakeLLM struct {
	mu    sync.Mutex
	reqs  []llm.CompletionRequest
	reply string
	err   error
}

func (f *fakeLLM) Complete(_ context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reqs = append(f.reqs, req)
	if f.err != nil {
		return nil, f.err
	}
	return &llm.CompletionResponse{Content: f.reply}, nil
}

func (f *fakeLLM) lastRequest(t *testing.T) llm.CompletionRequest {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.reqs) == 0 {
		t.Fatal("no completion request recorded")
	}
	return f.reqs[len(f.reqs)-1]
}

type fakeTTS struct {
	chunks [][]byte
	err    error
	calls  int
}

func (f *fakeTTS) Synthesize(_ context.Context, _ string, _ tts.VoiceProfile) (<-chan []byte, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	ch := make(chan []byte, len(f.chunks))
	for _, c := range f.chunks {
		ch <- c
	}
	close(ch)
	return ch, nil
}

func (f *fakeTTS) Close() error { return nil }

type fakeEmbedder struct{}

func (fakeEmbedder) Embed(_ context.Context, _ string) ([]float32, error) {
	return []float32{1, 0, 0}, nil
}

func (fakeEmbedder) EmbedBatch(_ context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = []float32{1, 0, 0}
	}
	return out, nil
}

func (fakeEmbedder) Dimensions() int { return 3 }
func (fakeEmbedder) ModelID() string { return "fake" }

type recordingCompleter struct {
	mu   sync.Mutex
	toks []turn.Token
}

func (c *recordingCompleter) Complete(tok turn.Token) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.toks = append(c.toks, tok)
}

func (c *recordingCompleter) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.toks)
}

type recordingEcho struct {
	mu    sync.Mutex
	texts []string
	err   error
}

func (e *recordingEcho) Send(text string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.texts = append(e.texts, text)
	return e.err
}

type fixture struct {
	responder *Responder
	llm       *fakeLLM
	tts       *fakeTTS
	store     *mock.Store
	completer *recordingCompleter
	state     *state.State
	audio     *[][]byte
}

func newFixture(t *testing.T, opts ...Option) *fixture {
	t.Helper()

	f := &fixture{
		llm:       &fakeLLM{reply: "hello chat!"},
		tts:       &fakeTTS{chunks: [][]byte{{1, 2}, {3, 4}}},
		store:     mock.New(),
		completer: &recordingCompleter{},
		state:     state.New("neutral", slog.Default()),
		audio:     &[][]byte{},
	}
	sink := func(chunk []byte) { *f.audio = append(*f.audio, chunk) }

	opts = append([]Option{WithMemory(f.store, fakeEmbedder{})}, opts...)
	r, err := New(
		Config{SessionID: "s1", HistoryLimit: 10},
		Persona{Name: "Ember", HostName: "Riley", SystemPrompt: "you are Ember"},
		f.llm, f.tts, f.state, f.completer, sink, opts...,
	)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	f.responder = r
	return f
}

func TestNewValidation(t *testing.T) {
	t.Parallel()

	st := state.New("neutral", slog.Default())
	if _, err := New(Config{}, Persona{}, nil, &fakeTTS{}, st, &recordingCompleter{}, nil); err == nil {
		t.Fatal("expected error for nil llm provider")
	}
	if _, err := New(Config{}, Persona{}, &fakeLLM{}, &fakeTTS{}, nil, &recordingCompleter{}, nil); err == nil {
		t.Fatal("expected error for nil state")
	}
}

func TestHandleTurnVoice(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.responder.HandleTurn(t.Context(), turn.FromVoice("what game is this"), turn.Token{})

	if f.completer.count() != 1 {
		t.Fatalf("completer calls = %d, want 1", f.completer.count())
	}
	if len(*f.audio) != 2 {
		t.Fatalf("audio chunks = %d, want 2", len(*f.audio))
	}

	req := f.llm.lastRequest(t)
	last := req.Messages[len(req.Messages)-1]
	if want := "[Riley] says what game is this"; last.Content != want {
		t.Fatalf("tagged input = %q, want %q", last.Content, want)
	}
	if !strings.HasPrefix(req.SystemPrompt, "you are Ember") {
		t.Fatalf("system prompt = %q", req.SystemPrompt)
	}

	turns := f.store.Turns()
	if len(turns) != 2 {
		t.Fatalf("persisted turns = %d, want 2", len(turns))
	}
	if turns[0].Role != "user" || turns[0].Text != "what game is this" {
		t.Fatalf("user turn = %+v", turns[0])
	}
	if turns[1].Role != "assistant" || turns[1].Text != "hello chat!" {
		t.Fatalf("assistant turn = %+v", turns[1])
	}
}

func TestHandleTurnChatEchoes(t *testing.T) {
	t.Parallel()

	echo := &recordingEcho{}
	f := newFixture(t, WithChatEchoer(echo))
	f.responder.HandleTurn(t.Context(), turn.FromChat("viewer42", "ember hi"), turn.Token{})

	req := f.llm.lastRequest(t)
	last := req.Messages[len(req.Messages)-1]
	if want := "[CHAT] [viewer42] says ember hi"; last.Content != want {
		t.Fatalf("tagged input = %q, want %q", last.Content, want)
	}

	echo.mu.Lock()
	defer echo.mu.Unlock()
	if len(echo.texts) != 1 || echo.texts[0] != "@viewer42 hello chat!" {
		t.Fatalf("echoed = %v", echo.texts)
	}
}

func TestHandleTurnVoiceDoesNotEcho(t *testing.T) {
	t.Parallel()

	echo := &recordingEcho{}
	f := newFixture(t, WithChatEchoer(echo))
	f.responder.HandleTurn(t.Context(), turn.FromVoice("hello"), turn.Token{})

	echo.mu.Lock()
	defer echo.mu.Unlock()
	if len(echo.texts) != 0 {
		t.Fatalf("voice turn must not echo to chat, got %v", echo.texts)
	}
}

func TestHandleTurnLLMFailureStillCompletes(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.llm.err = errors.New("provider down")
	f.responder.HandleTurn(t.Context(), turn.FromVoice("hello"), turn.Token{})

	if f.completer.count() != 1 {
		t.Fatal("arbiter must be released even when the LLM fails")
	}
	if f.tts.calls != 0 {
		t.Fatal("tts must not run without a reply")
	}
	if f.state.OutputActive() {
		t.Fatal("output must not be active after a failed turn")
	}
}

func TestHandleTurnTTSFailureClearsOutput(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.tts.err = errors.New("synthesis down")
	f.responder.HandleTurn(t.Context(), turn.FromVoice("hello"), turn.Token{})

	if f.completer.count() != 1 {
		t.Fatal("arbiter must be released even when synthesis fails")
	}
	if f.state.OutputActive() {
		t.Fatal("output-active must be cleared after synthesis failure")
	}
}

func TestOutputActiveDuringSpeech(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	var activeDuringChunk bool
	r, err := New(
		Config{SessionID: "s1"},
		Persona{Name: "Ember"},
		f.llm, f.tts, f.state, f.completer,
		func([]byte) { activeDuringChunk = f.state.OutputActive() },
	)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	r.HandleTurn(t.Context(), turn.FromVoice("hello"), turn.Token{})
	if !activeDuringChunk {
		t.Fatal("output must be active while audio chunks are delivered")
	}
	if f.state.OutputActive() {
		t.Fatal("output must be inactive after the stream drains")
	}
}

func TestHistoryFeedsPrompt(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	seed := []struct{ role, text string }{
		{"user", "earlier question"},
		{"assistant", "earlier answer"},
	}
	for _, s := range seed {
		err := f.store.WriteTurn(t.Context(), memoryTurn("s1", s.role, s.text), nil)
		if err != nil {
			t.Fatalf("seed: %v", err)
		}
	}

	f.responder.HandleTurn(t.Context(), turn.FromVoice("follow-up"), turn.Token{})

	req := f.llm.lastRequest(t)
	// Two history turns plus the current input.
	if len(req.Messages) != 3 {
		t.Fatalf("messages = %d, want 3", len(req.Messages))
	}
	if req.Messages[0].Content != "earlier question" || req.Messages[1].Content != "earlier answer" {
		t.Fatalf("history order = %q, %q", req.Messages[0].Content, req.Messages[1].Content)
	}
}

func TestRecallEntersSystemPrompt(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	err := f.store.WriteTurn(t.Context(), memoryTurn("s1", "user", "we talked about speedruns"), []float32{1, 0, 0})
	if err != nil {
		t.Fatalf("seed: %v", err)
	}

	f.responder.HandleTurn(t.Context(), turn.FromVoice("remember speedruns?"), turn.Token{})

	req := f.llm.lastRequest(t)
	if !strings.Contains(req.SystemPrompt, "we talked about speedruns") {
		t.Fatalf("system prompt missing recalled context: %q", req.SystemPrompt)
	}
}

func memoryTurn(sessionID, role, text string) memory.Turn {
	return memory.Turn{
		SessionID: sessionID,
		Origin:    "voice",
		Role:      role,
		Text:      text,
		Timestamp: time.Now(),
	}
}
