package middleware

import (
	"bytes"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/alanyoungcy/polystakes/internal/domain"
)

// Call authentication headers.
const (
	HeaderPrincipal = "X-Principal"
	HeaderTimestamp = "X-Timestamp"
	HeaderSignature = "X-Signature"
)

const maxSignedBody = 64 << 10

// PrincipalRecoverer recovers the signer of a call. *crypto.Verifier
// satisfies it.
type PrincipalRecoverer interface {
	RecoverPrincipal(fn domain.Function, body []byte, timestamp int64, sig string) (domain.Principal, error)
}

// SignatureConfig configures the Signature middleware.
type SignatureConfig struct {
	// Verifier is required when Require is set.
	Verifier PrincipalRecoverer
	// Nonces rejects replayed signatures; nil disables replay protection.
	Nonces domain.NonceGuard
	// MaxSkew bounds the distance between X-Timestamp and the server clock.
	MaxSkew time.Duration
	// Require rejects unsigned calls. When false X-Principal is trusted.
	Require bool
	Now     func() time.Time
	Logger  *slog.Logger
}

// Signature authenticates calls to a route with a {function} path value and
// stores the caller's principal in the request context. The signature covers
// the function name, the exact body bytes and the timestamp.
func Signature(cfg SignatureConfig) func(http.Handler) http.Handler {
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			claimed, ok := domain.ParsePrincipal(r.Header.Get(HeaderPrincipal))
			if !ok {
				writeUnauthorized(w, "missing or invalid "+HeaderPrincipal)
				return
			}
			if !cfg.Require {
				next.ServeHTTP(w, r.WithContext(WithPrincipal(r.Context(), claimed)))
				return
			}

			body, err := io.ReadAll(io.LimitReader(r.Body, maxSignedBody+1))
			if err != nil || len(body) > maxSignedBody {
				writeJSONError(w, http.StatusRequestEntityTooLarge, "request body too large")
				return
			}
			r.Body = io.NopCloser(bytes.NewReader(body))

			ts, err := strconv.ParseInt(r.Header.Get(HeaderTimestamp), 10, 64)
			if err != nil {
				writeUnauthorized(w, "missing or invalid "+HeaderTimestamp)
				return
			}
			if skew := cfg.Now().Sub(time.Unix(ts, 0)); skew > cfg.MaxSkew || skew < -cfg.MaxSkew {
				writeUnauthorized(w, domain.ErrStaleRequest.Error())
				return
			}

			sig := r.Header.Get(HeaderSignature)
			fn := domain.Function(r.PathValue("function"))
			signer, err := cfg.Verifier.RecoverPrincipal(fn, body, ts, sig)
			if err != nil || !strings.EqualFold(signer.String(), claimed.String()) {
				writeUnauthorized(w, domain.ErrInvalidSignature.Error())
				return
			}

			if cfg.Nonces != nil {
				if err := cfg.Nonces.Claim(r.Context(), strings.ToLower(sig), 2*cfg.MaxSkew); err != nil {
					if errors.Is(err, domain.ErrDuplicateRequest) {
						writeJSONError(w, http.StatusConflict, err.Error())
						return
					}
					// Fail closed: a replay cannot be ruled out.
					cfg.Logger.ErrorContext(r.Context(), "middleware: nonce guard failed",
						slog.String("error", err.Error()),
					)
					writeJSONError(w, http.StatusServiceUnavailable, "nonce guard unavailable")
					return
				}
			}

			next.ServeHTTP(w, r.WithContext(WithPrincipal(r.Context(), signer)))
		})
	}
}
