// Package app wires all Ember subsystems into a running application.
//
// The App struct owns the full lifecycle: New creates and connects all
// subsystems, Run serves until the context is cancelled, and Shutdown tears
// everything down in order.
//
// For testing, inject doubles via functional options (WithMemoryStore,
// WithChatEchoer). When an option is not provided, New creates real
// implementations from the config.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/emberworks/ember/internal/chat"
	"github.com/emberworks/ember/internal/chat/discord"
	"github.com/emberworks/ember/internal/chat/twitch"
	"github.com/emberworks/ember/internal/config"
	"github.com/emberworks/ember/internal/gate"
	"github.com/emberworks/ember/internal/health"
	"github.com/emberworks/ember/internal/server"
	"github.com/emberworks/ember/internal/state"
	"github.com/emberworks/ember/internal/tail"
	"github.com/emberworks/ember/internal/turn"
	"github.com/emberworks/ember/pkg/memory"
	"github.com/emberworks/ember/pkg/memory/postgres"
	"github.com/emberworks/ember/pkg/provider/embeddings"
	"github.com/emberworks/ember/pkg/provider/llm"
	"github.com/emberworks/ember/pkg/provider/stt"
	"github.com/emberworks/ember/pkg/provider/tts"
)

// Providers holds one interface value per provider slot. Nil means the
// provider is not configured. Populated by main.go via the config registry.
type Providers struct {
	LLM        llm.Provider
	STT        stt.Provider
	TTS        tts.Provider
	Embeddings embeddings.Provider
}

// App owns all subsystem lifetimes and orchestrates the Ember turn pipeline.
type App struct {
	cfg       *config.Config
	providers *Providers
	log       *slog.Logger

	state     *state.State
	arbiter   *turn.Arbiter
	responder *tail.Responder
	ingress   *chat.Ingress
	server    *server.Server
	twitch    *twitch.Client
	discord   *discord.Source
	store     memory.Store
	echo      tail.ChatEchoer

	// runCtx is the lifetime context of Run, used by the arbiter sink when
	// dispatching turns into the responder.
	runMu  sync.Mutex
	runCtx context.Context

	// closers are called in order during Shutdown.
	closers  []func() error
	stopOnce sync.Once
}

// Option is a functional option for New. Use these to inject test doubles.
type Option func(*App)

// WithMemoryStore injects a transcript store instead of connecting to
// PostgreSQL from config.
func WithMemoryStore(s memory.Store) Option {
	return func(a *App) { a.store = s }
}

// WithChatEchoer injects a chat echo target instead of deriving one from the
// configured chat sources.
func WithChatEchoer(e tail.ChatEchoer) Option {
	return func(a *App) { a.echo = e }
}

// WithLogger sets the logger. Defaults to slog.Default.
func WithLogger(l *slog.Logger) Option {
	return func(a *App) { a.log = l }
}

// New creates an App by wiring all subsystems together. The providers struct
// comes from main.go (populated via the config registry).
func New(ctx context.Context, cfg *config.Config, providers *Providers, opts ...Option) (*App, error) {
	if providers == nil || providers.LLM == nil || providers.TTS == nil {
		return nil, fmt.Errorf("app: llm and tts providers are required")
	}

	a := &App{
		cfg:       cfg,
		providers: providers,
		runCtx:    context.Background(),
	}
	for _, o := range opts {
		o(a)
	}
	if a.log == nil {
		a.log = slog.Default()
	}

	a.state = state.New(cfg.Persona.DefaultMood, a.log)

	if err := a.initMemory(ctx); err != nil {
		return nil, fmt.Errorf("app: init memory: %w", err)
	}
	if err := a.initArbiter(); err != nil {
		return nil, fmt.Errorf("app: init arbiter: %w", err)
	}
	if err := a.initChat(); err != nil {
		return nil, fmt.Errorf("app: init chat: %w", err)
	}
	if err := a.initResponder(); err != nil {
		return nil, fmt.Errorf("app: init responder: %w", err)
	}
	if err := a.initServer(); err != nil {
		return nil, fmt.Errorf("app: init server: %w", err)
	}

	return a, nil
}

// State exposes the shared state, mainly for tests.
func (a *App) State() *state.State { return a.state }

// Handler returns the control server's HTTP handler, mainly for tests.
func (a *App) Handler() http.Handler { return a.server.Handler() }

// initMemory connects the pgvector transcript store when a DSN is configured
// and no store was injected.
func (a *App) initMemory(ctx context.Context) error {
	if a.store != nil {
		return nil
	}
	dsn := a.cfg.Memory.PostgresDSN
	if dsn == "" {
		a.log.Warn("memory.postgres_dsn is empty; transcripts are not persisted and recall is disabled")
		return nil
	}

	dims := a.cfg.Memory.EmbeddingDimensions
	if dims <= 0 {
		dims = 1536
	}
	store, err := postgres.New(ctx, dsn, dims)
	if err != nil {
		return err
	}
	a.store = store
	a.closers = append(a.closers, func() error {
		store.Close()
		return nil
	})
	return nil
}

// initArbiter creates the turn arbiter with a sink that dispatches released
// turns into the responder.
func (a *App) initArbiter() error {
	sink := func(req turn.Request, tok turn.Token) {
		a.runMu.Lock()
		ctx := a.runCtx
		a.runMu.Unlock()
		a.responder.HandleTurn(ctx, req, tok)
	}

	arb, err := turn.New(turn.Config{
		FairnessAfterVoice: a.cfg.Arbiter.FairnessAfterVoice,
		TurnTimeout:        a.cfg.Arbiter.TurnTimeout.Std(),
	}, sink, turn.WithStatePublisher(a.state), turn.WithLogger(a.log))
	if err != nil {
		return err
	}
	a.arbiter = arb
	return nil
}

// initChat creates the ingress pipeline and the configured chat sources.
// Twitch is preferred for echo replies when both platforms are configured.
func (a *App) initChat() error {
	trigger := chat.NewKeywordTrigger(a.cfg.Chat.Keywords...)
	a.ingress = chat.NewIngress(chat.Config{
		Cooldown:           a.cfg.Chat.Cooldown.Std(),
		DuplicateThreshold: a.cfg.Chat.DuplicateThreshold,
		DuplicateWindow:    a.cfg.Chat.DuplicateWindow,
	}, trigger, a.arbiter, nil, a.log)

	onMessage := func(user, text string) {
		a.ingress.HandleMessage(user, text)
	}

	if a.cfg.Twitch.Channel != "" {
		client, err := twitch.New(twitch.Config{
			Channel: a.cfg.Twitch.Channel,
			Nick:    a.cfg.Twitch.Nick,
			Token:   a.cfg.Twitch.Token,
		}, onMessage, a.log)
		if err != nil {
			return err
		}
		a.twitch = client
		if a.echo == nil && a.cfg.Twitch.Token != "" {
			a.echo = &twitchEchoer{client: client}
		}
	}

	if a.cfg.Discord.Token != "" {
		src, err := discord.New(discord.Config{
			Token:     a.cfg.Discord.Token,
			ChannelID: a.cfg.Discord.ChannelID,
		}, onMessage, a.log)
		if err != nil {
			return err
		}
		a.discord = src
		a.closers = append(a.closers, src.Close)
		if a.echo == nil {
			a.echo = src
		}
	}

	return nil
}

// initResponder assembles the response pipeline behind the arbiter.
func (a *App) initResponder() error {
	sessionID := a.cfg.Memory.SessionID
	if sessionID == "" {
		sessionID = "stream-" + time.Now().UTC().Format("2006-01-02")
	}

	persona := tail.Persona{
		Name:         a.cfg.Persona.Name,
		HostName:     a.cfg.Persona.HostName,
		SystemPrompt: a.cfg.Persona.SystemPrompt,
		Voice: tts.VoiceProfile{
			ID:              a.cfg.Persona.Voice.VoiceID,
			Stability:       a.cfg.Persona.Voice.Stability,
			SimilarityBoost: a.cfg.Persona.Voice.SimilarityBoost,
		},
		Temperature: a.cfg.Persona.Temperature,
		MaxTokens:   a.cfg.Persona.MaxTokens,
	}

	opts := []tail.Option{tail.WithLogger(a.log)}
	if a.store != nil {
		opts = append(opts, tail.WithMemory(a.store, a.providers.Embeddings))
	}
	if a.echo != nil {
		opts = append(opts, tail.WithChatEchoer(a.echo))
	}

	// Synthesized audio goes out over the overlay socket; the server is
	// created after the responder, so route through the App.
	audioOut := func(chunk []byte) {
		if a.server != nil {
			a.server.BroadcastAudio(chunk)
		}
	}

	responder, err := tail.New(tail.Config{
		SessionID:    sessionID,
		HistoryLimit: a.cfg.Memory.HistoryLimit,
		RecallTopK:   a.cfg.Memory.RecallTopK,
	}, persona, a.providers.LLM, a.providers.TTS, a.state, a.arbiter, audioOut, opts...)
	if err != nil {
		return err
	}
	a.responder = responder
	return nil
}

// initServer assembles the control server, including the overlay voice path
// when an STT provider is configured.
func (a *App) initServer() error {
	var voice *server.VoicePipeline
	if a.providers.STT != nil {
		audioGate := gate.NewAudioGate(a.state, nil, a.log)
		filter := gate.NewTranscriptFilter(a.state, nil, a.log)
		vp, err := server.NewVoicePipeline(a.providers.STT, audioGate, filter, a.arbiter, "", a.log)
		if err != nil {
			return err
		}
		voice = vp
	}

	checkers := []health.Checker{}
	if store, ok := a.store.(*postgres.Store); ok {
		checkers = append(checkers, health.Checker{
			Name:  "database",
			Check: store.Ping,
		})
	}

	srv, err := server.New(server.Config{
		ListenAddr: a.cfg.Server.ListenAddr,
		ControlKey: a.cfg.Server.ControlKey,
	}, a.state, a.arbiter, voice,
		server.WithChatIngress(a.ingress),
		server.WithHealth(health.New(checkers...)),
		server.WithLogger(a.log),
	)
	if err != nil {
		return err
	}
	a.server = srv
	return nil
}

// Run serves until ctx is cancelled. The control server and the Twitch chat
// connection run as a group; a fatal error in either brings the app down.
func (a *App) Run(ctx context.Context) error {
	a.runMu.Lock()
	a.runCtx = ctx
	a.runMu.Unlock()

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return a.server.ListenAndServe()
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return a.server.Shutdown(shutdownCtx)
	})

	if a.twitch != nil {
		g.Go(func() error {
			return a.runTwitch(gctx)
		})
	}

	a.log.Info("ember running",
		slog.String("listen_addr", a.cfg.Server.ListenAddr),
		slog.Bool("twitch", a.twitch != nil),
		slog.Bool("discord", a.discord != nil),
		slog.Bool("memory", a.store != nil))

	return g.Wait()
}

// runTwitch keeps the chat connection alive, reconnecting with a small
// backoff until ctx is cancelled.
func (a *App) runTwitch(ctx context.Context) error {
	for {
		err := a.twitch.Run(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		a.log.Warn("twitch connection lost, reconnecting", slog.Any("error", err))
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(5 * time.Second):
		}
	}
}

// Shutdown tears down all subsystems in reverse-init order. It respects the
// context deadline: if ctx expires before all closers finish, remaining
// closers are skipped and the context error is returned.
func (a *App) Shutdown(ctx context.Context) error {
	var shutdownErr error
	a.stopOnce.Do(func() {
		a.log.Info("shutting down", slog.Int("closers", len(a.closers)))

		for i := len(a.closers) - 1; i >= 0; i-- {
			select {
			case <-ctx.Done():
				a.log.Warn("shutdown deadline exceeded", slog.Int("remaining", i+1))
				shutdownErr = ctx.Err()
				return
			default:
			}
			if err := a.closers[i](); err != nil {
				a.log.Warn("closer error", slog.Int("index", i), slog.Any("error", err))
			}
		}

		a.log.Info("shutdown complete")
	})
	return shutdownErr
}

// twitchEchoer adapts the Twitch client to the responder's echo interface.
type twitchEchoer struct {
	client *twitch.Client
}

func (e *twitchEchoer) Send(text string) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return e.client.Send(ctx, text)
}
