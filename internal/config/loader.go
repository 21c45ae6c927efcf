package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"
	"strings"

	"gopkg.in/yaml.v3"
)

// ValidProviderNames lists known provider names per provider kind.
// Used by [Validate] to warn about unrecognised provider names.
var ValidProviderNames = map[string][]string{
	"llm":        {"openai", "anthropic", "ollama", "gemini", "deepseek", "mistral", "groq", "llamacpp", "llamafile"},
	"stt":        {"whisper", "whisper-native"},
	"tts":        {"elevenlabs"},
	"embeddings": {"openai", "ollama"},
}

// Load reads the YAML configuration file at path and returns a validated
// [Config]. It is a convenience wrapper around [LoadFromReader] and
// [Validate].
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r and validates the result.
// Useful in tests where configs are constructed from string literals.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	// Server
	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}
	if cfg.Server.ControlKey == "" {
		slog.Warn("server.control_key is empty; control endpoints are unauthenticated")
	}

	// Provider name validation — warn for unknown provider names.
	validateProviderName("llm", cfg.Providers.LLM.Name)
	validateProviderName("stt", cfg.Providers.STT.Name)
	validateProviderName("tts", cfg.Providers.TTS.Name)
	validateProviderName("embeddings", cfg.Providers.Embeddings.Name)

	if cfg.Providers.LLM.Name == "" {
		errs = append(errs, errors.New("providers.llm is required; the co-host cannot respond without one"))
	}
	if cfg.Providers.TTS.Name == "" {
		errs = append(errs, errors.New("providers.tts is required; the co-host cannot speak without one"))
	}
	if cfg.Providers.STT.Name == "" {
		slog.Warn("providers.stt is not configured; the voice input path is disabled")
	}

	// Persona
	if cfg.Persona.Name == "" {
		errs = append(errs, errors.New("persona.name is required"))
	}
	if cfg.Persona.SystemPrompt == "" {
		slog.Warn("persona.system_prompt is empty; the co-host has no character instructions")
	}
	if v := cfg.Persona.Voice; v.Stability < 0 || v.Stability > 1 {
		errs = append(errs, fmt.Errorf("persona.voice.stability %.2f is out of range [0, 1]", v.Stability))
	}
	if v := cfg.Persona.Voice; v.SimilarityBoost < 0 || v.SimilarityBoost > 1 {
		errs = append(errs, fmt.Errorf("persona.voice.similarity_boost %.2f is out of range [0, 1]", v.SimilarityBoost))
	}
	if cfg.Persona.Temperature < 0 || cfg.Persona.Temperature > 2 {
		errs = append(errs, fmt.Errorf("persona.temperature %.2f is out of range [0, 2]", cfg.Persona.Temperature))
	}

	// Arbiter
	if cfg.Arbiter.FairnessAfterVoice < 0 {
		errs = append(errs, fmt.Errorf("arbiter.fairness_after_voice %d must not be negative", cfg.Arbiter.FairnessAfterVoice))
	}
	if cfg.Arbiter.TurnTimeout < 0 {
		errs = append(errs, errors.New("arbiter.turn_timeout must not be negative"))
	}

	// Chat
	if t := cfg.Chat.DuplicateThreshold; t < 0 || t > 1 {
		errs = append(errs, fmt.Errorf("chat.duplicate_threshold %.2f is out of range [0, 1]", t))
	}
	if cfg.Chat.Cooldown < 0 {
		errs = append(errs, errors.New("chat.cooldown must not be negative"))
	}
	chatConfigured := cfg.Twitch.Channel != "" || cfg.Discord.Token != ""
	if chatConfigured && len(cfg.Chat.Keywords) == 0 {
		slog.Warn("chat sources are configured but chat.keywords is empty; every message will be ignored")
	}

	// Twitch
	if cfg.Twitch.Token != "" && !strings.HasPrefix(cfg.Twitch.Token, "oauth:") {
		errs = append(errs, errors.New(`twitch.token must start with "oauth:"`))
	}
	if strings.HasPrefix(cfg.Twitch.Channel, "#") {
		errs = append(errs, errors.New("twitch.channel must not include the leading '#'"))
	}

	// Discord
	if cfg.Discord.Token != "" && cfg.Discord.ChannelID == "" {
		errs = append(errs, errors.New("discord.channel_id is required when discord.token is set"))
	}

	// Memory ↔ embeddings
	if cfg.Memory.PostgresDSN != "" {
		if cfg.Providers.Embeddings.Name == "" {
			slog.Warn("memory.postgres_dsn is set but providers.embeddings is not; turns will be stored without recall vectors")
		}
		if cfg.Memory.EmbeddingDimensions <= 0 {
			slog.Warn("memory.embedding_dimensions is not set; defaulting to 1536")
		}
	}

	return errors.Join(errs...)
}

// validateProviderName logs a warning if name is non-empty and not found in
// the [ValidProviderNames] list for the given kind.
func validateProviderName(kind, name string) {
	if name == "" {
		return
	}
	known, ok := ValidProviderNames[kind]
	if !ok {
		return
	}
	if slices.Contains(known, name) {
		return
	}
	slog.Warn("unknown provider name — may be a typo or third-party provider",
		"kind", kind,
		"name", name,
		"known", known,
	)
}
