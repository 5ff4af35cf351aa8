package notify

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/bwmarrin/discordgo"
)

// Discord posts every message through a channel webhook.
type Discord struct {
	session *discordgo.Session
	id      string
	token   string
}

// NewDiscord takes a webhook URL of the form
// https://discord.com/api/webhooks/<id>/<token>.
func NewDiscord(webhookURL string) (*Discord, error) {
	id, token, err := parseWebhookURL(webhookURL)
	if err != nil {
		return nil, err
	}
	s, err := discordgo.New("")
	if err != nil {
		return nil, fmt.Errorf("discord session: %w", err)
	}
	return &Discord{session: s, id: id, token: token}, nil
}

func parseWebhookURL(raw string) (id, token string, err error) {
	u, err := url.Parse(raw)
	if err != nil {
		return "", "", fmt.Errorf("discord webhook url: %w", err)
	}
	parts := strings.Split(strings.Trim(u.Path, "/"), "/")
	for i := 0; i+2 < len(parts); i++ {
		if parts[i] == "webhooks" && parts[i+1] != "" && parts[i+2] != "" {
			return parts[i+1], parts[i+2], nil
		}
	}
	return "", "", errors.New("discord webhook url: expected .../webhooks/<id>/<token>")
}

func (d *Discord) Send(ctx context.Context, m Message) error {
	content := "**" + m.Subject + "**\n" + m.Body
	// Discord rejects content over 2000 characters.
	if len(content) > 2000 {
		content = content[:1997] + "..."
	}
	_, err := d.session.WebhookExecute(d.id, d.token, false,
		&discordgo.WebhookParams{Content: content},
		discordgo.WithContext(ctx),
	)
	if err != nil {
		return fmt.Errorf("discord: %w", err)
	}
	return nil
}
