package turn

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel/metric"

	"github.com/emberworks/ember/internal/observe"
)

const (
	// DefaultFairnessAfterVoice is how many consecutive voice turns may be
	// released while chat requests wait before one chat turn is served.
	DefaultFairnessAfterVoice = 1

	// DefaultTurnTimeout bounds how long a released turn may stay active
	// before the watchdog force-completes it.
	DefaultTurnTimeout = 60 * time.Second
)

// Config tunes arbitration behaviour. Zero values select the defaults.
type Config struct {
	// FairnessAfterVoice is the consecutive-voice-release threshold after
	// which a waiting chat request is served ahead of further voice.
	FairnessAfterVoice int

	// TurnTimeout is the watchdog deadline for an active turn.
	TurnTimeout time.Duration
}

func (c Config) withDefaults() Config {
	if c.FairnessAfterVoice <= 0 {
		c.FairnessAfterVoice = DefaultFairnessAfterVoice
	}
	if c.TurnTimeout <= 0 {
		c.TurnTimeout = DefaultTurnTimeout
	}
	return c
}

// Sink receives released turns. The arbiter invokes it on its own goroutine
// so Submit and Complete never block on downstream processing. The sink must
// eventually call [Arbiter.Complete] with the token it was handed; if it
// never does, the watchdog completes the turn after the configured timeout.
type Sink func(req Request, tok Token)

// Option configures an Arbiter.
type Option func(*Arbiter)

// WithStatePublisher attaches a publisher that mirrors the current turn into
// shared state.
func WithStatePublisher(p StatePublisher) Option {
	return func(a *Arbiter) { a.publisher = p }
}

// WithMetrics attaches a metrics instance. Defaults to observe.DefaultMetrics.
func WithMetrics(m *observe.Metrics) Option {
	return func(a *Arbiter) { a.metrics = m }
}

// WithLogger sets the logger. Defaults to slog.Default.
func WithLogger(l *slog.Logger) Option {
	return func(a *Arbiter) { a.log = l }
}

// Arbiter serialises voice and chat requests into single-occupancy turns.
// It is safe for concurrent use.
type Arbiter struct {
	cfg       Config
	sink      Sink
	publisher StatePublisher
	metrics   *observe.Metrics
	log       *slog.Logger

	mu sync.Mutex

	voiceQ []Request
	chatQ  []Request

	busy    bool
	current Active
	gen     uint64

	// voicesSinceChat counts consecutive voice releases while chat waited.
	voicesSinceChat int

	watchdog *time.Timer
}

// New creates an Arbiter delivering released turns to sink.
func New(cfg Config, sink Sink, opts ...Option) (*Arbiter, error) {
	if sink == nil {
		return nil, fmt.Errorf("turn: sink must not be nil")
	}
	a := &Arbiter{
		cfg:  cfg.withDefaults(),
		sink: sink,
	}
	for _, o := range opts {
		o(a)
	}
	if a.metrics == nil {
		a.metrics = observe.DefaultMetrics()
	}
	if a.log == nil {
		a.log = slog.Default()
	}
	return a, nil
}

// Submit enqueues a request and releases it immediately when the pipeline is
// idle. It never blocks on downstream processing.
func (a *Arbiter) Submit(req Request) error {
	if !req.Origin.Valid() {
		return fmt.Errorf("turn: unknown origin %q", req.Origin)
	}
	if req.Content == "" {
		return fmt.Errorf("turn: empty content")
	}
	if req.EnqueuedAt.IsZero() {
		req.EnqueuedAt = time.Now()
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	switch req.Origin {
	case OriginVoice:
		a.voiceQ = append(a.voiceQ, req)
	case OriginChat:
		a.chatQ = append(a.chatQ, req)
	}
	a.metrics.QueueDepth.Add(context.Background(), 1,
		metric.WithAttributes(observe.Attr("origin", string(req.Origin))))

	a.releaseNextLocked()
	return nil
}

// Complete finishes the turn identified by tok and releases the next queued
// request, if any. A token from a turn the watchdog already completed is a
// no-op; completing while no turn is active logs a warning and is otherwise
// ignored.
func (a *Arbiter) Complete(tok Token) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if !a.busy {
		a.log.Warn("turn completion while idle", slog.Uint64("token", tok.id))
		return
	}
	if tok.id != a.gen {
		a.log.Debug("stale turn completion ignored",
			slog.Uint64("token", tok.id), slog.Uint64("active", a.gen))
		return
	}

	a.finishLocked()
	a.releaseNextLocked()
}

// Current returns the active turn, if any.
func (a *Arbiter) Current() (Active, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.current, a.busy
}

// QueueDepths returns the number of pending voice and chat requests.
func (a *Arbiter) QueueDepths() (voice, chat int) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.voiceQ), len(a.chatQ)
}

// expire is the watchdog path: it force-completes the turn identified by tok
// unless a regular completion got there first.
func (a *Arbiter) expire(tok Token) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if !a.busy || tok.id != a.gen {
		return
	}

	a.log.Warn("turn watchdog fired, forcing release",
		slog.String("origin", string(a.current.Origin)),
		slog.String("user", a.current.User),
		slog.Duration("timeout", a.cfg.TurnTimeout))
	a.metrics.ForcedReleases.Add(context.Background(), 1)

	a.finishLocked()
	a.releaseNextLocked()
}

// finishLocked tears down the active turn. Caller holds a.mu.
func (a *Arbiter) finishLocked() {
	if a.watchdog != nil {
		a.watchdog.Stop()
		a.watchdog = nil
	}
	a.metrics.TurnDuration.Record(context.Background(),
		time.Since(a.current.ReleasedAt).Seconds(),
		metric.WithAttributes(observe.Attr("origin", string(a.current.Origin))))
	a.busy = false
	a.current = Active{}
	if a.publisher != nil {
		a.publisher.ClearCurrentTurn()
	}
}

// releaseNextLocked releases the next queued request when idle. Caller holds
// a.mu.
func (a *Arbiter) releaseNextLocked() {
	if a.busy {
		return
	}

	req, ok := a.dequeueLocked()
	if !ok {
		return
	}

	a.gen++
	tok := Token{id: a.gen}
	a.busy = true
	a.current = Active{
		Origin:     req.Origin,
		User:       req.User,
		ReleasedAt: time.Now(),
	}
	if a.publisher != nil {
		a.publisher.SetCurrentTurn(req.Origin, req.User)
	}

	ctx := context.Background()
	a.metrics.TurnReleases.Add(ctx, 1,
		metric.WithAttributes(observe.Attr("origin", string(req.Origin))))
	a.metrics.QueueDepth.Add(ctx, -1,
		metric.WithAttributes(observe.Attr("origin", string(req.Origin))))

	a.log.Info("turn released",
		slog.String("origin", string(req.Origin)),
		slog.String("user", req.User),
		slog.Duration("queued", time.Since(req.EnqueuedAt)))

	a.watchdog = time.AfterFunc(a.cfg.TurnTimeout, func() { a.expire(tok) })

	go a.sink(req, tok)
}

// dequeueLocked picks the next request: voice first, unless the fairness
// threshold has been reached while chat is waiting. Caller holds a.mu.
func (a *Arbiter) dequeueLocked() (Request, bool) {
	chatDue := len(a.chatQ) > 0 &&
		(len(a.voiceQ) == 0 || a.voicesSinceChat >= a.cfg.FairnessAfterVoice)

	if chatDue {
		req := a.chatQ[0]
		a.chatQ = a.chatQ[1:]
		a.voicesSinceChat = 0
		return req, true
	}
	if len(a.voiceQ) > 0 {
		req := a.voiceQ[0]
		a.voiceQ = a.voiceQ[1:]
		if len(a.chatQ) > 0 {
			a.voicesSinceChat++
		} else {
			a.voicesSinceChat = 0
		}
		return req, true
	}
	return Request{}, false
}
