// Package twitch connects to Twitch chat over the IRC websocket gateway.
//
// The client joins a single channel, forwards PRIVMSG lines to a message
// callback, and can send messages back for chat echo replies. Anonymous
// read-only access (justinfan nick, no token) is supported for setups that
// only listen.
package twitch

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand"
	"strings"
	"sync"
	"time"

	"github.com/coder/websocket"
)

// DefaultGatewayURL is the Twitch IRC websocket endpoint.
const DefaultGatewayURL = "wss://irc-ws.chat.twitch.tv:443"

// MessageHandler receives parsed chat messages.
type MessageHandler func(user, text string)

// Config holds Twitch connection settings.
type Config struct {
	// Channel is the channel to join, without the leading '#'.
	Channel string

	// Nick is the bot account name. Empty selects an anonymous justinfan
	// nick, which can read but not send.
	Nick string

	// Token is the OAuth token ("oauth:..."). Required to send.
	Token string

	// GatewayURL overrides the IRC websocket endpoint. Used in tests.
	GatewayURL string
}

// Client is a minimal Twitch IRC chat client. Safe for concurrent use.
type Client struct {
	cfg       Config
	onMessage MessageHandler
	log       *slog.Logger

	mu   sync.Mutex
	conn *websocket.Conn
}

// New creates a Client delivering messages to onMessage.
func New(cfg Config, onMessage MessageHandler, log *slog.Logger) (*Client, error) {
	if cfg.Channel == "" {
		return nil, fmt.Errorf("twitch: channel must not be empty")
	}
	if cfg.Nick == "" {
		cfg.Nick = fmt.Sprintf("justinfan%d", 10000+rand.Intn(90000))
	}
	if cfg.GatewayURL == "" {
		cfg.GatewayURL = DefaultGatewayURL
	}
	if log == nil {
		log = slog.Default()
	}
	return &Client{cfg: cfg, onMessage: onMessage, log: log}, nil
}

// Run connects, joins the channel, and reads messages until ctx is cancelled
// or the connection drops. Reconnection is the caller's responsibility.
func (c *Client) Run(ctx context.Context) error {
	conn, _, err := websocket.Dial(ctx, c.cfg.GatewayURL, nil)
	if err != nil {
		return fmt.Errorf("twitch: dial %s: %w", c.cfg.GatewayURL, err)
	}
	conn.SetReadLimit(1 << 20)
	defer conn.Close(websocket.StatusNormalClosure, "shutting down")

	c.mu.Lock()
	c.conn = conn
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		c.conn = nil
		c.mu.Unlock()
	}()

	handshake := []string{
		"PASS " + c.cfg.Token,
		"NICK " + c.cfg.Nick,
		"JOIN #" + c.cfg.Channel,
	}
	if c.cfg.Token == "" {
		handshake = handshake[1:]
	}
	for _, line := range handshake {
		if err := conn.Write(ctx, websocket.MessageText, []byte(line)); err != nil {
			return fmt.Errorf("twitch: handshake: %w", err)
		}
	}
	c.log.Info("twitch chat connected",
		slog.String("channel", c.cfg.Channel),
		slog.String("nick", c.cfg.Nick))

	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("twitch: read: %w", err)
		}
		for _, line := range strings.Split(string(data), "\r\n") {
			c.handleLine(ctx, line)
		}
	}
}

// Send posts a message to the joined channel. It fails when the client is
// not connected or was configured without a token.
func (c *Client) Send(ctx context.Context, text string) error {
	if c.cfg.Token == "" {
		return fmt.Errorf("twitch: cannot send with anonymous connection")
	}
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return fmt.Errorf("twitch: not connected")
	}
	line := fmt.Sprintf("PRIVMSG #%s :%s", c.cfg.Channel, text)
	if err := conn.Write(ctx, websocket.MessageText, []byte(line)); err != nil {
		return fmt.Errorf("twitch: send: %w", err)
	}
	return nil
}

func (c *Client) handleLine(ctx context.Context, line string) {
	line = strings.TrimSpace(line)
	if line == "" {
		return
	}

	if strings.HasPrefix(line, "PING") {
		pong := "PONG" + strings.TrimPrefix(line, "PING")
		c.mu.Lock()
		conn := c.conn
		c.mu.Unlock()
		if conn != nil {
			writeCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
			if err := conn.Write(writeCtx, websocket.MessageText, []byte(pong)); err != nil {
				c.log.Warn("twitch pong failed", slog.Any("error", err))
			}
			cancel()
		}
		return
	}

	user, channel, text, ok := parsePrivmsg(line)
	if !ok || !strings.EqualFold(channel, c.cfg.Channel) {
		return
	}
	if c.onMessage != nil {
		c.onMessage(user, text)
	}
}

// parsePrivmsg extracts the sender, channel, and message text from an IRC
// PRIVMSG line. IRCv3 tags and non-PRIVMSG lines yield ok == false.
func parsePrivmsg(line string) (user, channel, text string, ok bool) {
	// Strip IRCv3 tags.
	if strings.HasPrefix(line, "@") {
		idx := strings.Index(line, " ")
		if idx < 0 {
			return "", "", "", false
		}
		line = line[idx+1:]
	}

	if !strings.HasPrefix(line, ":") {
		return "", "", "", false
	}
	prefixEnd := strings.Index(line, " ")
	if prefixEnd < 0 {
		return "", "", "", false
	}
	prefix := line[1:prefixEnd]
	rest := line[prefixEnd+1:]

	if !strings.HasPrefix(rest, "PRIVMSG ") {
		return "", "", "", false
	}
	rest = strings.TrimPrefix(rest, "PRIVMSG ")

	sep := strings.Index(rest, " :")
	if sep < 0 {
		return "", "", "", false
	}
	channel = strings.TrimPrefix(rest[:sep], "#")
	text = rest[sep+2:]

	user = prefix
	if bang := strings.Index(prefix, "!"); bang >= 0 {
		user = prefix[:bang]
	}
	if user == "" || channel == "" || text == "" {
		return "", "", "", false
	}
	return user, channel, text, true
}
