package config

import "slices"

// ConfigDiff describes what changed between two configs.
// Only fields that can be safely hot-reloaded are tracked.
type ConfigDiff struct {
	// LogLevelChanged is true when server.log_level changed; NewLogLevel
	// carries the new value.
	LogLevelChanged bool
	NewLogLevel     LogLevel

	// PersonaChanged is true when the system prompt, default mood, voice,
	// or sampling settings changed. Applies on the next turn.
	PersonaChanged bool

	// ChatChanged is true when keywords, cooldown, or duplicate suppression
	// settings changed. Applies to the next chat message.
	ChatChanged bool
}

// Any reports whether the diff contains at least one change.
func (d ConfigDiff) Any() bool {
	return d.LogLevelChanged || d.PersonaChanged || d.ChatChanged
}

// Diff compares old and new configs and returns what changed.
// Only tracks changes that are safe to apply without restart; provider,
// server, and chat connection settings require one.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}

	if old.Persona != new.Persona {
		d.PersonaChanged = true
	}

	if !slices.Equal(old.Chat.Keywords, new.Chat.Keywords) ||
		old.Chat.Cooldown != new.Chat.Cooldown ||
		old.Chat.DuplicateThreshold != new.Chat.DuplicateThreshold ||
		old.Chat.DuplicateWindow != new.Chat.DuplicateWindow {
		d.ChatChanged = true
	}

	return d
}
