package notify

import (
	"context"
	"net/http"
	"time"

	"github.com/alanyoungcy/polystakes/internal/crypto"
)

// WebhookSender posts {title, message, sent_at} to an arbitrary endpoint.
// With a signer configured every delivery carries HMAC signature headers.
type WebhookSender struct {
	url    string
	signer *crypto.WebhookSigner
	client *http.Client
}

// NewWebhookSender creates a WebhookSender. signer may be nil.
func NewWebhookSender(url string, signer *crypto.WebhookSigner) *WebhookSender {
	return &WebhookSender{url: url, signer: signer, client: &http.Client{Timeout: sendTimeout}}
}

type webhookPayload struct {
	Title   string    `json:"title"`
	Message string    `json:"message"`
	SentAt  time.Time `json:"sent_at"`
}

func (w *WebhookSender) Send(ctx context.Context, title, message string) error {
	var headers func([]byte) map[string]string
	if w.signer != nil {
		headers = w.signer.Headers
	}
	payload := webhookPayload{Title: title, Message: message, SentAt: time.Now().UTC()}
	return postJSON(ctx, w.client, w.Name(), w.url, payload, headers)
}

func (w *WebhookSender) Name() string {
	return "webhook"
}
