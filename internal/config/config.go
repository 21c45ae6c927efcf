// Package config provides the configuration schema, loader, and provider
// registry for the Ember co-host server.
package config

import (
	"fmt"
	"time"

	"gopkg.in/yaml.v3"
)

// LogLevel controls log verbosity for the Ember server.
type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// IsValid reports whether l is a recognised log level.
func (l LogLevel) IsValid() bool {
	switch l {
	case LogDebug, LogInfo, LogWarn, LogError:
		return true
	}
	return false
}

// Duration wraps time.Duration so YAML values like "30s" or "1m" parse
// directly.
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	var raw string
	if err := node.Decode(&raw); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", raw, err)
	}
	*d = Duration(parsed)
	return nil
}

// MarshalYAML implements yaml.Marshaler.
func (d Duration) MarshalYAML() (any, error) {
	return time.Duration(d).String(), nil
}

// Std returns the value as a time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// Config is the root configuration structure for Ember.
// It is typically loaded from a YAML file using [Load] or [LoadFromReader].
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Providers ProvidersConfig `yaml:"providers"`
	Persona   PersonaConfig   `yaml:"persona"`
	Arbiter   ArbiterConfig   `yaml:"arbiter"`
	Chat      ChatConfig      `yaml:"chat"`
	Twitch    TwitchConfig    `yaml:"twitch"`
	Discord   DiscordConfig   `yaml:"discord"`
	Memory    MemoryConfig    `yaml:"memory"`
}

// ServerConfig holds network and logging settings for the Ember server.
type ServerConfig struct {
	// ListenAddr is the TCP address the server listens on (e.g., ":8080").
	ListenAddr string `yaml:"listen_addr"`

	// LogLevel controls verbosity.
	LogLevel LogLevel `yaml:"log_level"`

	// ControlKey guards the control endpoints and the overlay socket. Empty
	// disables auth; only do that when binding to localhost.
	ControlKey string `yaml:"control_key"`
}

// ProvidersConfig declares which provider implementation to use for each
// pipeline stage. Each field selects a named provider registered in the
// [Registry].
type ProvidersConfig struct {
	LLM        ProviderEntry `yaml:"llm"`
	STT        ProviderEntry `yaml:"stt"`
	TTS        ProviderEntry `yaml:"tts"`
	Embeddings ProviderEntry `yaml:"embeddings"`
}

// ProviderEntry is the common configuration block shared by all provider
// types. The Name field is used to look up the constructor in the [Registry].
type ProviderEntry struct {
	// Name selects the registered provider implementation (e.g., "openai",
	// "whisper", "elevenlabs").
	Name string `yaml:"name"`

	// APIKey is the authentication key for the provider's API if any.
	APIKey string `yaml:"api_key"`

	// BaseURL overrides the provider's default API endpoint.
	// Leave empty to use the provider's built-in default.
	BaseURL string `yaml:"base_url"`

	// Model selects a specific model within the provider (e.g., "gpt-4o").
	Model string `yaml:"model"`

	// Options holds provider-specific configuration values not covered by
	// the standard fields above.
	Options map[string]any `yaml:"options"`
}

// PersonaConfig describes the co-host character.
type PersonaConfig struct {
	// Name is the co-host's display name (e.g., "Ember").
	Name string `yaml:"name"`

	// HostName is the streamer's name, used to tag voice input.
	HostName string `yaml:"host_name"`

	// SystemPrompt is the free-text character instruction injected into the
	// LLM system prompt.
	SystemPrompt string `yaml:"system_prompt"`

	// DefaultMood is the overlay mood hint at startup (e.g., "neutral").
	DefaultMood string `yaml:"default_mood"`

	// Voice configures the TTS voice profile.
	Voice VoiceConfig `yaml:"voice"`

	// Temperature is passed to the LLM. Zero uses the provider default.
	Temperature float64 `yaml:"temperature"`

	// MaxTokens caps reply length. Zero uses the provider default.
	MaxTokens int `yaml:"max_tokens"`
}

// VoiceConfig specifies the TTS voice parameters for the co-host.
type VoiceConfig struct {
	// VoiceID is the provider-specific voice identifier.
	VoiceID string `yaml:"voice_id"`

	// Stability controls variance between renditions in [0, 1].
	// 0 means provider default.
	Stability float64 `yaml:"stability"`

	// SimilarityBoost controls adherence to the original voice in [0, 1].
	// 0 means provider default.
	SimilarityBoost float64 `yaml:"similarity_boost"`
}

// ArbiterConfig tunes the turn arbiter.
type ArbiterConfig struct {
	// FairnessAfterVoice is how many consecutive voice turns may run while
	// chat waits before a queued chat turn is served. Zero uses the default.
	FairnessAfterVoice int `yaml:"fairness_after_voice"`

	// TurnTimeout is the watchdog deadline for a single turn. Zero uses the
	// default.
	TurnTimeout Duration `yaml:"turn_timeout"`
}

// ChatConfig tunes the chat ingress pipeline.
type ChatConfig struct {
	// Keywords are the trigger words; a message must contain one to become a
	// turn candidate. Matching is case-insensitive.
	Keywords []string `yaml:"keywords"`

	// Cooldown is the per-user minimum interval between accepted messages.
	// Zero uses the default.
	Cooldown Duration `yaml:"cooldown"`

	// DuplicateThreshold is the Jaro-Winkler similarity above which a
	// message is suppressed as a near-duplicate, in [0, 1]. Zero uses the
	// default.
	DuplicateThreshold float64 `yaml:"duplicate_threshold"`

	// DuplicateWindow is how many recent accepted messages are checked for
	// near-duplicates. Zero uses the default.
	DuplicateWindow int `yaml:"duplicate_window"`
}

// TwitchConfig connects the Twitch chat source.
type TwitchConfig struct {
	// Channel is the channel to join, without the leading '#'.
	Channel string `yaml:"channel"`

	// Nick is the bot account name. Empty connects anonymously (read-only).
	Nick string `yaml:"nick"`

	// Token is the IRC OAuth token, in the "oauth:..." form.
	Token string `yaml:"token"`
}

// DiscordConfig connects the Discord chat source.
type DiscordConfig struct {
	// Token is the bot token, without the "Bot " prefix.
	Token string `yaml:"token"`

	// ChannelID is the text channel to watch and reply in.
	ChannelID string `yaml:"channel_id"`
}

// MemoryConfig holds settings for the transcript store and recall layer.
type MemoryConfig struct {
	// PostgresDSN is the PostgreSQL connection string for the pgvector
	// transcript store. Empty disables persistence and recall.
	PostgresDSN string `yaml:"postgres_dsn"`

	// EmbeddingDimensions is the vector dimension of the embeddings column.
	// Must match the model configured in Providers.Embeddings.
	EmbeddingDimensions int `yaml:"embedding_dimensions"`

	// SessionID groups persisted turns. Empty derives one from the date.
	SessionID string `yaml:"session_id"`

	// HistoryLimit is how many recent turns feed the prompt.
	HistoryLimit int `yaml:"history_limit"`

	// RecallTopK is how many semantically recalled turns are injected into
	// the system prompt.
	RecallTopK int `yaml:"recall_top_k"`
}
