package notify

import (
	"context"
	"net/http"
)

const (
	discordTitleMax       = 256
	discordDescriptionMax = 4096
	discordColor          = 0xF5A623
)

// DiscordSender posts alerts to a channel webhook as a single embed.
type DiscordSender struct {
	webhookURL string
	client     *http.Client
}

type discordEmbed struct {
	Title       string `json:"title"`
	Description string `json:"description"`
	Color       int    `json:"color"`
}

type discordPayload struct {
	Username string         `json:"username"`
	Embeds   []discordEmbed `json:"embeds"`
}

// NewDiscordSender creates a DiscordSender for the given webhook URL.
func NewDiscordSender(webhookURL string) *DiscordSender {
	return &DiscordSender{webhookURL: webhookURL, client: newHTTPClient()}
}

// Send posts the alert. Discord answers 204 No Content on success.
func (d *DiscordSender) Send(ctx context.Context, title, message string) error {
	return postJSON(ctx, d.client, "discord", d.webhookURL, discordPayload{
		Username: "latencybot",
		Embeds: []discordEmbed{{
			Title:       truncate(title, discordTitleMax),
			Description: truncate(message, discordDescriptionMax),
			Color:       discordColor,
		}},
	})
}

// Name returns the sender identifier.
func (d *DiscordSender) Name() string { return "discord" }
