package middleware

import (
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	cachemem "github.com/alanyoungcy/polystakes/internal/cache/memory"
)

func okHandler(w http.ResponseWriter, _ *http.Request) {
	_, _ = w.Write([]byte("ok"))
}

func TestCORSAllowList(t *testing.T) {
	h := CORS([]string{"https://App.example.com/"})(http.HandlerFunc(okHandler))

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api/markets", nil)
	req.Header.Set("Origin", "https://app.example.com")
	h.ServeHTTP(rec, req)
	assert.Equal(t, "https://app.example.com", rec.Header().Get("Access-Control-Allow-Origin"))
	assert.Contains(t, rec.Header().Get("Access-Control-Allow-Headers"), HeaderSignature)
	assert.Equal(t, "Origin", rec.Header().Get("Vary"))

	rec = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodGet, "/api/markets", nil)
	req.Header.Set("Origin", "https://evil.example.com")
	h.ServeHTTP(rec, req)
	assert.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))
	assert.Equal(t, "ok", rec.Body.String())
}

func TestCORSPreflightShortCircuits(t *testing.T) {
	called := false
	h := CORS([]string{"*"})(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
	}))

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodOptions, "/api/tx/stake", nil)
	req.Header.Set("Origin", "http://anything")
	h.ServeHTTP(rec, req)

	assert.False(t, called)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "http://anything", rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestLoggingRecordsRequest(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))

	var seen string
	h := Logging(logger)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = RequestID(r.Context())
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte("down"))
	}))

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/tx/stake", nil)
	req.Header.Set(HeaderRequestID, "req-1")
	req.Header.Set(HeaderPrincipal, "alice")
	h.ServeHTTP(rec, req)

	assert.Equal(t, "req-1", seen)
	assert.Equal(t, "req-1", rec.Header().Get(HeaderRequestID))

	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "WARN", line["level"])
	assert.Equal(t, "req-1", line["request_id"])
	assert.EqualValues(t, 503, line["status"])
	assert.EqualValues(t, 4, line["bytes"])
	assert.Equal(t, "alice", line["principal"])
}

func TestLoggingAssignsRequestID(t *testing.T) {
	logger := slog.New(slog.NewJSONHandler(&bytes.Buffer{}, nil))
	h := Logging(logger)(http.HandlerFunc(okHandler))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Len(t, rec.Header().Get(HeaderRequestID), 36)
	assert.Empty(t, RequestID(httptest.NewRequest(http.MethodGet, "/", nil).Context()))
}

func TestRateLimitSplitsBudgets(t *testing.T) {
	limiter := cachemem.NewRateLimiter()
	h := RateLimit(limiter, RateLimitConfig{Limit: 5, TxLimit: 1, Window: time.Minute},
		slog.New(slog.NewJSONHandler(io.Discard, nil)))(http.HandlerFunc(okHandler))

	send := func(method, path, principal string) *httptest.ResponseRecorder {
		rec := httptest.NewRecorder()
		req := httptest.NewRequest(method, path, nil)
		req.RemoteAddr = "10.0.0.1:5000"
		if principal != "" {
			req.Header.Set(HeaderPrincipal, principal)
		}
		h.ServeHTTP(rec, req)
		return rec
	}

	rec := send(http.MethodPost, "/api/tx/stake-yes", "alice")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "0", rec.Header().Get("X-RateLimit-Remaining"))

	rec = send(http.MethodPost, "/api/tx/stake-yes", "alice")
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "61", rec.Header().Get("Retry-After"))

	assert.Equal(t, http.StatusOK, send(http.MethodPost, "/api/tx/stake-no", "bob").Code)
	rec = send(http.MethodGet, "/api/markets", "alice")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "5", rec.Header().Get("X-RateLimit-Limit"))
	assert.Equal(t, "1", rec.Header().Get("X-RateLimit-Remaining"))

	assert.Equal(t, http.StatusOK, send(http.MethodGet, "/api/markets", "").Code)
	assert.Equal(t, http.StatusTooManyRequests, send(http.MethodGet, "/api/markets", "").Code)
}

func TestClientIP(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "192.0.2.7:1234"
	assert.Equal(t, "192.0.2.7", clientIP(req))
	req.Header.Set("X-Real-IP", " 198.51.100.2 ")
	assert.Equal(t, "198.51.100.2", clientIP(req))
	req.Header.Set("X-Forwarded-For", "203.0.113.9, 10.0.0.1")
	assert.Equal(t, "203.0.113.9", clientIP(req))
}

func TestAuth(t *testing.T) {
	h := Auth("k3y")(http.HandlerFunc(okHandler))
	send := func(set func(*http.Request)) *httptest.ResponseRecorder {
		rec := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodPost, "/api/chain/mine", nil)
		set(req)
		h.ServeHTTP(rec, req)
		return rec
	}

	rec := send(func(*http.Request) {})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Contains(t, rec.Header().Get("WWW-Authenticate"), "Bearer")

	assert.Equal(t, http.StatusUnauthorized, send(func(r *http.Request) { r.Header.Set(HeaderAPIKey, "nope") }).Code)
	assert.Equal(t, http.StatusOK, send(func(r *http.Request) { r.Header.Set(HeaderAPIKey, "k3y") }).Code)
	assert.Equal(t, http.StatusOK, send(func(r *http.Request) { r.Header.Set("Authorization", "bearer k3y") }).Code)
	assert.Equal(t, http.StatusUnauthorized, send(func(r *http.Request) { r.Header.Set("Authorization", "Basic k3y") }).Code)

	rec = httptest.NewRecorder()
	Auth("")(http.HandlerFunc(okHandler)).ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/faucet", nil))
	assert.Equal(t, http.StatusForbidden, rec.Code)
}
