package discord

import (
	"testing"

	"github.com/bwmarrin/discordgo"
)

func msg(channelID, user, content string, bot bool) *discordgo.MessageCreate {
	return &discordgo.MessageCreate{
		Message: &discordgo.Message{
			ChannelID: channelID,
			Content:   content,
			Author:    &discordgo.User{Username: user, Bot: bot},
		},
	}
}

func TestAccepts(t *testing.T) {
	t.Parallel()

	s := &Source{channelID: "chan-1"}

	cases := []struct {
		name string
		m    *discordgo.MessageCreate
		want bool
	}{
		{"human message in channel", msg("chan-1", "viewer", "ember hi", false), true},
		{"bot message", msg("chan-1", "somebot", "ember hi", true), false},
		{"other channel", msg("chan-2", "viewer", "ember hi", false), false},
		{"empty content", msg("chan-1", "viewer", "", false), false},
		{"nil message", &discordgo.MessageCreate{}, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			if got := s.accepts(tc.m); got != tc.want {
				t.Fatalf("accepts = %v, want %v", got, tc.want)
			}
		})
	}
}

func TestHandleMessageForwards(t *testing.T) {
	t.Parallel()

	var gotUser, gotText string
	s := &Source{
		channelID: "chan-1",
		onMessage: func(user, text string) { gotUser, gotText = user, text },
	}

	s.handleMessage(msg("chan-1", "viewer42", "ember what's up", false))
	if gotUser != "viewer42" || gotText != "ember what's up" {
		t.Fatalf("forwarded (%q, %q)", gotUser, gotText)
	}

	gotUser, gotText = "", ""
	s.handleMessage(msg("chan-1", "somebot", "beep", true))
	if gotUser != "" {
		t.Fatal("bot message must not be forwarded")
	}
}

func TestNewValidation(t *testing.T) {
	t.Parallel()

	if _, err := New(Config{ChannelID: "c"}, nil, nil); err == nil {
		t.Fatal("expected error for empty token")
	}
	if _, err := New(Config{Token: "t"}, nil, nil); err == nil {
		t.Fatal("expected error for empty channelID")
	}
}
