package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"
)

const sendTimeout = 10 * time.Second

// StatusError reports a non-2xx answer from a notification endpoint.
type StatusError struct {
	Sender     string
	Status     int
	Body       string
	RetryAfter time.Duration
}

func (e *StatusError) Error() string {
	if e.RetryAfter > 0 {
		return fmt.Sprintf("%s: unexpected status %d (retry after %s): %s", e.Sender, e.Status, e.RetryAfter, e.Body)
	}
	return fmt.Sprintf("%s: unexpected status %d: %s", e.Sender, e.Status, e.Body)
}

// postJSON marshals payload, posts it with the extra headers and maps any
// non-2xx answer to a *StatusError.
func postJSON(ctx context.Context, client *http.Client, sender, url string, payload any, headers func(body []byte) map[string]string) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("%s: marshal payload: %w", sender, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("%s: create request: %w", sender, err)
	}
	req.Header.Set("Content-Type", "application/json")
	if headers != nil {
		for k, v := range headers(body) {
			req.Header.Set(k, v)
		}
	}

	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("%s: send request: %w", sender, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return nil
	}
	respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
	return &StatusError{
		Sender:     sender,
		Status:     resp.StatusCode,
		Body:       string(respBody),
		RetryAfter: retryAfter(resp.Header.Get("Retry-After")),
	}
}

// retryAfter parses a Retry-After header given in (possibly fractional)
// seconds. Anything else yields zero.
func retryAfter(v string) time.Duration {
	if v == "" {
		return 0
	}
	secs, err := strconv.ParseFloat(v, 64)
	if err != nil || secs <= 0 {
		return 0
	}
	return time.Duration(secs * float64(time.Second))
}
