// Package chat turns stream-chat messages into turn requests.
//
// Raw chat is far too chatty to answer wholesale, so the [Ingress] applies
// three filters before anything reaches the arbiter: a trigger predicate
// (did the message address the co-host at all), a per-user cooldown, and
// near-duplicate suppression so a chat raid repeating the same question
// does not queue the same turn twenty times.
package chat

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/antzucaro/matchr"

	"github.com/emberworks/ember/internal/observe"
	"github.com/emberworks/ember/internal/turn"
)

// Trigger decides whether a chat message addresses the co-host.
type Trigger interface {
	Match(text string) bool
}

// KeywordTrigger matches messages containing any configured keyword,
// case-insensitively.
type KeywordTrigger struct {
	keywords []string
}

// NewKeywordTrigger builds a trigger for the given keywords. Keywords are
// lowercased once at construction.
func NewKeywordTrigger(keywords ...string) *KeywordTrigger {
	lowered := make([]string, 0, len(keywords))
	for _, k := range keywords {
		if k = strings.ToLower(strings.TrimSpace(k)); k != "" {
			lowered = append(lowered, k)
		}
	}
	return &KeywordTrigger{keywords: lowered}
}

// Match implements Trigger.
func (t *KeywordTrigger) Match(text string) bool {
	lower := strings.ToLower(text)
	for _, k := range t.keywords {
		if strings.Contains(lower, k) {
			return true
		}
	}
	return false
}

const (
	// DefaultCooldown is the minimum gap between accepted messages from the
	// same user.
	DefaultCooldown = 30 * time.Second

	// DefaultDuplicateThreshold is the Jaro-Winkler similarity above which
	// a message counts as a repeat of a recently accepted one.
	DefaultDuplicateThreshold = 0.92

	// DefaultDuplicateWindow is how many recently accepted messages are
	// compared against.
	DefaultDuplicateWindow = 10
)

// Config tunes the ingress filters. Zero values select the defaults.
type Config struct {
	Cooldown           time.Duration
	DuplicateThreshold float64
	DuplicateWindow    int
}

func (c Config) withDefaults() Config {
	if c.Cooldown <= 0 {
		c.Cooldown = DefaultCooldown
	}
	if c.DuplicateThreshold <= 0 {
		c.DuplicateThreshold = DefaultDuplicateThreshold
	}
	if c.DuplicateWindow <= 0 {
		c.DuplicateWindow = DefaultDuplicateWindow
	}
	return c
}

// Submitter is the arbiter-facing surface the ingress needs.
type Submitter interface {
	Submit(req turn.Request) error
}

// Ingress filters chat messages and submits the survivors as chat-origin
// turn requests. Safe for concurrent use.
type Ingress struct {
	cfg       Config
	trigger   Trigger
	submitter Submitter
	metrics   *observe.Metrics
	log       *slog.Logger

	now func() time.Time

	mu         sync.Mutex
	lastByUser map[string]time.Time
	recent     []string
}

// NewIngress creates an Ingress feeding submitter.
func NewIngress(cfg Config, trigger Trigger, submitter Submitter, metrics *observe.Metrics, log *slog.Logger) *Ingress {
	if metrics == nil {
		metrics = observe.DefaultMetrics()
	}
	if log == nil {
		log = slog.Default()
	}
	return &Ingress{
		cfg:        cfg.withDefaults(),
		trigger:    trigger,
		submitter:  submitter,
		metrics:    metrics,
		log:        log,
		now:        time.Now,
		lastByUser: make(map[string]time.Time),
	}
}

// HandleMessage runs a chat message through the filters and submits it as a
// turn request when it survives. Returns true when the message was accepted.
func (i *Ingress) HandleMessage(user, text string) bool {
	text = strings.TrimSpace(text)
	if text == "" {
		return false
	}

	if !i.trigger.Match(text) {
		i.metrics.RecordChatSuppressed(context.Background(), "no_trigger")
		return false
	}

	i.mu.Lock()
	now := i.now()

	if last, ok := i.lastByUser[user]; ok && now.Sub(last) < i.cfg.Cooldown {
		i.mu.Unlock()
		i.metrics.RecordChatSuppressed(context.Background(), "cooldown")
		i.log.Debug("chat message suppressed by cooldown",
			slog.String("user", user))
		return false
	}

	if i.isDuplicateLocked(text) {
		i.mu.Unlock()
		i.metrics.RecordChatSuppressed(context.Background(), "duplicate")
		i.log.Debug("near-duplicate chat message suppressed",
			slog.String("user", user))
		return false
	}

	i.lastByUser[user] = now
	i.recent = append(i.recent, strings.ToLower(text))
	if len(i.recent) > i.cfg.DuplicateWindow {
		i.recent = i.recent[len(i.recent)-i.cfg.DuplicateWindow:]
	}
	i.mu.Unlock()

	if err := i.submitter.Submit(turn.FromChat(user, text)); err != nil {
		i.log.Warn("chat turn submission failed",
			slog.String("user", user), slog.Any("error", err))
		return false
	}
	return true
}

// isDuplicateLocked compares text against recently accepted messages using
// Jaro-Winkler similarity. Caller holds i.mu.
func (i *Ingress) isDuplicateLocked(text string) bool {
	lower := strings.ToLower(text)
	for _, prev := range i.recent {
		if matchr.JaroWinkler(lower, prev, false) >= i.cfg.DuplicateThreshold {
			return true
		}
	}
	return false
}
