package handler

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"reflect"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/alanyoungcy/polystakes/internal/domain"
)

// maxBodyBytes bounds request bodies read by handlers.
const maxBodyBytes = 64 << 10

// validate is shared by every handler; validator caches struct metadata.
var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	_ = v.RegisterValidation("principal", func(fl validator.FieldLevel) bool {
		_, ok := domain.ParsePrincipal(fl.Field().String())
		return ok
	})
	return v
}

// writeJSON encodes v with a trailing newline. Encoding failures become a
// bare 500 since the status line has not been written yet.
func writeJSON(w http.ResponseWriter, status int, v any) {
	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(v); err != nil {
		http.Error(w, `{"error":"internal server error"}`, http.StatusInternalServerError)
		return
	}
	h := w.Header()
	h.Set("Content-Type", "application/json; charset=utf-8")
	h.Set("X-Content-Type-Options", "nosniff")
	w.WriteHeader(status)
	_, _ = w.Write(buf.Bytes())
}

type errorBody struct {
	Error string `json:"error"`
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorBody{Error: msg})
}

// decodeJSON reads a bounded JSON body into dst and validates it. An empty
// body decodes as the zero value.
func decodeJSON(r *http.Request, dst any) error {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes+1))
	if err != nil {
		return fmt.Errorf("read body: %w", err)
	}
	if len(body) > maxBodyBytes {
		return errors.New("request body too large")
	}
	if len(bytes.TrimSpace(body)) > 0 {
		dec := json.NewDecoder(bytes.NewReader(body))
		dec.DisallowUnknownFields()
		if err := dec.Decode(dst); err != nil {
			return fmt.Errorf("decode body: %w", err)
		}
	}
	if err := validate.Struct(dst); err != nil {
		return validationError(err)
	}
	return nil
}

// validationError flattens validator errors into "field: tag" pairs.
func validationError(err error) error {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err
	}
	parts := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		if fe.Param() != "" {
			parts = append(parts, fmt.Sprintf("%s: %s=%s", fe.Field(), fe.Tag(), fe.Param()))
			continue
		}
		parts = append(parts, fmt.Sprintf("%s: %s", fe.Field(), fe.Tag()))
	}
	return errors.New(strings.Join(parts, "; "))
}

const (
	defaultPageSize = 50
	maxPageSize     = 500
)

// parseListOpts reads limit and offset. Missing or malformed values fall
// back to limit 50 and offset 0; limits above 500 are clamped.
func parseListOpts(r *http.Request) domain.ListOpts {
	q := r.URL.Query()
	opts := domain.ListOpts{Limit: defaultPageSize}
	if n, err := strconv.Atoi(q.Get("limit")); err == nil && n > 0 {
		opts.Limit = min(n, maxPageSize)
	}
	if n, err := strconv.Atoi(q.Get("offset")); err == nil && n > 0 {
		opts.Offset = n
	}
	return opts
}

// parseMarketFilter reads the optional resolved and resolver query
// parameters. Unlike paging, a malformed filter is an error.
func parseMarketFilter(r *http.Request) (domain.MarketFilter, error) {
	var f domain.MarketFilter
	q := r.URL.Query()
	if v := q.Get("resolved"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return f, fmt.Errorf("resolved: %q is not a boolean", v)
		}
		f.Resolved = &b
	}
	if v := q.Get("resolver"); v != "" {
		p, ok := domain.ParsePrincipal(v)
		if !ok {
			return f, fmt.Errorf("resolver: %q is not a principal", v)
		}
		f.Resolver = p
	}
	return f, nil
}

// marketIDParam parses the {id} path parameter.
func marketIDParam(r *http.Request) (uint64, bool) {
	id, err := strconv.ParseUint(r.PathValue("id"), 10, 64)
	if err != nil || id == 0 {
		return 0, false
	}
	return id, true
}

// principalArg canonicalizes a validated principal field. An empty field
// stays empty so the ledger reports it with its own code.
func principalArg(s string) domain.Principal {
	p, _ := domain.ParsePrincipal(s)
	return p
}

// principalParam parses the {principal} path parameter.
func principalParam(r *http.Request) (domain.Principal, bool) {
	return domain.ParsePrincipal(r.PathValue("principal"))
}
