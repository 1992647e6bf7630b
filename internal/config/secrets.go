package config

import (
	"maps"
	"net/url"
	"slices"
	"strings"
)

const redacted = "***"

// RedactedConfig returns a copy of cfg that is safe to log. Secrets become
// "***"; URLs keep their scheme and host so the target stays visible. Slices
// and maps are cloned.
func RedactedConfig(cfg *Config) Config {
	out := *cfg

	for _, s := range []*string{
		&out.Database.Password,
		&out.Redis.Password,
		&out.S3.AccessKey,
		&out.S3.SecretKey,
		&out.Server.APIKey,
		&out.Notify.TelegramToken,
		&out.Notify.WebhookSecret,
		&out.Signer.PrivateKey,
		&out.Signer.KeyPassword,
	} {
		if *s != "" {
			*s = redacted
		}
	}

	// Connection strings may carry credentials in the userinfo.
	out.Database.DSN = redactCredentials(out.Database.DSN)
	out.Redis.Addr = redactCredentials(out.Redis.Addr)

	// Webhook URLs are bearer secrets in their path and query.
	out.Notify.DiscordWebhookURL = redactPath(out.Notify.DiscordWebhookURL)
	out.Notify.WebhookURL = redactPath(out.Notify.WebhookURL)

	out.Notify.Events = slices.Clone(cfg.Notify.Events)
	out.Server.CORSOrigins = slices.Clone(cfg.Server.CORSOrigins)
	out.Ledger.Genesis = maps.Clone(cfg.Ledger.Genesis)
	return out
}

// redactCredentials masks the password of a URL-form value. Values that do
// not parse as a URL with a scheme are masked entirely when they could hold
// key=value credentials.
func redactCredentials(s string) string {
	if s == "" {
		return s
	}
	u, err := url.Parse(s)
	if err != nil || u.Scheme == "" || u.Host == "" {
		if strings.Contains(s, "password=") || strings.Contains(s, "@") {
			return redacted
		}
		return s
	}
	if q := u.Query(); q.Has("password") {
		q.Set("password", redacted)
		u.RawQuery = q.Encode()
	}
	return u.Redacted()
}

// redactPath keeps scheme and host and masks everything after them.
func redactPath(s string) string {
	if s == "" {
		return s
	}
	u, err := url.Parse(s)
	if err != nil || u.Host == "" {
		return redacted
	}
	if u.Path == "" && u.RawQuery == "" {
		return u.Scheme + "://" + u.Host
	}
	return u.Scheme + "://" + u.Host + "/" + redacted
}
