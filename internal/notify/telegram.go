package notify

import (
	"context"
	"fmt"
	"net/http"
	"strings"
)

// TelegramSender delivers alerts through the Bot API sendMessage method.
type TelegramSender struct {
	token   string
	chatID  string
	baseURL string
	client  *http.Client
}

// NewTelegramSender targets one chat with one bot token.
func NewTelegramSender(token, chatID string) *TelegramSender {
	return &TelegramSender{
		token:   token,
		chatID:  chatID,
		baseURL: "https://api.telegram.org",
		client:  &http.Client{Timeout: sendTimeout},
	}
}

var markdownEscaper = strings.NewReplacer("_", `\_`, "*", `\*`, "`", "\\`", "[", `\[`)

// Send renders the title in bold. Principals and market questions are
// escaped so legacy Markdown parsing cannot reject the message.
func (t *TelegramSender) Send(ctx context.Context, title, message string) error {
	payload := map[string]string{
		"chat_id":                  t.chatID,
		"text":                     fmt.Sprintf("*%s*\n%s", markdownEscaper.Replace(title), markdownEscaper.Replace(message)),
		"parse_mode":               "Markdown",
		"disable_web_page_preview": "true",
	}
	url := fmt.Sprintf("%s/bot%s/sendMessage", t.baseURL, t.token)
	return postJSON(ctx, t.client, t.Name(), url, payload, nil)
}

func (t *TelegramSender) Name() string {
	return "telegram"
}
