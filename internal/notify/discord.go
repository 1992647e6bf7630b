package notify

import (
	"context"
	"net/http"
	"strings"
	"time"
)

const (
	colorInfo    = 0x3498db
	colorSuccess = 0x2ecc71
	colorWarning = 0xe67e22
)

// DiscordSender posts each alert as a single embed to a Discord webhook.
type DiscordSender struct {
	webhookURL string
	username   string
	client     *http.Client
	now        func() time.Time
}

func NewDiscordSender(webhookURL string) *DiscordSender {
	return &DiscordSender{
		webhookURL: webhookURL,
		username:   "polystakes",
		client:     &http.Client{Timeout: sendTimeout},
		now:        time.Now,
	}
}

type discordEmbed struct {
	Title       string `json:"title"`
	Description string `json:"description"`
	Color       int    `json:"color"`
	Timestamp   string `json:"timestamp"`
}

type discordMessage struct {
	Username string         `json:"username"`
	Embeds   []discordEmbed `json:"embeds"`
}

// Send delivers the alert. A 429 answer comes back as a *StatusError whose
// RetryAfter carries Discord's back-off hint.
func (d *DiscordSender) Send(ctx context.Context, title, message string) error {
	msg := discordMessage{
		Username: d.username,
		Embeds: []discordEmbed{{
			Title:       truncate(title, 256),
			Description: truncate(message, 4096),
			Color:       embedColor(title),
			Timestamp:   d.now().UTC().Format(time.RFC3339),
		}},
	}
	return postJSON(ctx, d.client, d.Name(), d.webhookURL, msg, nil)
}

func (d *DiscordSender) Name() string {
	return "discord"
}

func embedColor(title string) int {
	t := strings.ToLower(title)
	switch {
	case strings.Contains(t, "resolved"):
		return colorSuccess
	case strings.Contains(t, "fee"), strings.Contains(t, "admin"):
		return colorWarning
	default:
		return colorInfo
	}
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}
