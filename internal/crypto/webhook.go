package crypto

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"strconv"
	"time"
)

// Webhook signature headers.
const (
	HeaderWebhookTimestamp = "X-Polystakes-Timestamp"
	HeaderWebhookSignature = "X-Polystakes-Signature"
)

// WebhookSigner authenticates outbound webhook deliveries with
// HMAC-SHA256(secret, timestamp + "." + body).
type WebhookSigner struct {
	secret []byte
	now    func() time.Time
}

// NewWebhookSigner creates a WebhookSigner for the shared secret.
func NewWebhookSigner(secret string) *WebhookSigner {
	return &WebhookSigner{secret: []byte(secret), now: time.Now}
}

// Headers returns the timestamp and signature headers for body.
func (w *WebhookSigner) Headers(body []byte) map[string]string {
	return w.HeadersAt(body, w.now().Unix())
}

// HeadersAt is like Headers with a caller-supplied Unix timestamp.
func (w *WebhookSigner) HeadersAt(body []byte, unixTS int64) map[string]string {
	ts := strconv.FormatInt(unixTS, 10)
	return map[string]string{
		HeaderWebhookTimestamp: ts,
		HeaderWebhookSignature: hmacSHA256Hex(w.secret, ts, body),
	}
}

// Verify reports whether sig is the signature of body at timestamp ts.
func (w *WebhookSigner) Verify(ts string, body []byte, sig string) bool {
	want := hmacSHA256Hex(w.secret, ts, body)
	return hmac.Equal([]byte(want), []byte(sig))
}

// String returns a redacted representation suitable for logging.
func (w *WebhookSigner) String() string {
	return "WebhookSigner{secret=****}"
}

func hmacSHA256Hex(key []byte, ts string, body []byte) string {
	mac := hmac.New(sha256.New, key)
	mac.Write([]byte(ts))
	mac.Write([]byte{'.'})
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}
