// Package discord provides a Discord chat source. It owns the
// discordgo.Session lifecycle, forwards messages from the configured channel
// to a message callback, and can reply to the channel for chat echo.
package discord

import (
	"fmt"
	"log/slog"

	"github.com/bwmarrin/discordgo"
)

// MessageHandler receives chat messages from the watched channel.
type MessageHandler func(user, text string)

// Config holds Discord chat source configuration.
type Config struct {
	// Token is the Discord bot token, without the "Bot " prefix.
	Token string

	// ChannelID is the text channel to watch and reply in.
	ChannelID string
}

// Source is a Discord-backed chat source. Safe for concurrent use.
type Source struct {
	session   *discordgo.Session
	channelID string
	onMessage MessageHandler
	log       *slog.Logger
}

// New creates a Source, connects to the Discord gateway, and registers the
// message handler.
func New(cfg Config, onMessage MessageHandler, log *slog.Logger) (*Source, error) {
	if cfg.Token == "" {
		return nil, fmt.Errorf("discord: token must not be empty")
	}
	if cfg.ChannelID == "" {
		return nil, fmt.Errorf("discord: channelID must not be empty")
	}
	if log == nil {
		log = slog.Default()
	}

	session, err := discordgo.New("Bot " + cfg.Token)
	if err != nil {
		return nil, fmt.Errorf("discord: create session: %w", err)
	}
	session.Identify.Intents = discordgo.IntentsGuildMessages |
		discordgo.IntentMessageContent

	s := &Source{
		session:   session,
		channelID: cfg.ChannelID,
		onMessage: onMessage,
		log:       log,
	}
	session.AddHandler(func(_ *discordgo.Session, m *discordgo.MessageCreate) {
		s.handleMessage(m)
	})

	if err := session.Open(); err != nil {
		return nil, fmt.Errorf("discord: open session: %w", err)
	}
	log.Info("discord chat connected", slog.String("channel_id", cfg.ChannelID))
	return s, nil
}

// handleMessage filters gateway messages down to human messages in the
// watched channel.
func (s *Source) handleMessage(m *discordgo.MessageCreate) {
	if !s.accepts(m) {
		return
	}
	if s.onMessage != nil {
		s.onMessage(m.Author.Username, m.Content)
	}
}

func (s *Source) accepts(m *discordgo.MessageCreate) bool {
	if m == nil || m.Message == nil || m.Author == nil {
		return false
	}
	if m.Author.Bot {
		return false
	}
	if m.ChannelID != s.channelID {
		return false
	}
	return m.Content != ""
}

// Send posts a reply to the watched channel.
func (s *Source) Send(text string) error {
	if _, err := s.session.ChannelMessageSend(s.channelID, text); err != nil {
		return fmt.Errorf("discord: send: %w", err)
	}
	return nil
}

// Close shuts down the gateway connection.
func (s *Source) Close() error {
	if err := s.session.Close(); err != nil {
		return fmt.Errorf("discord: close session: %w", err)
	}
	return nil
}
