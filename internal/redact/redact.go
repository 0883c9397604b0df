// Package redact strips secrets and PII from anything that is about to be
// logged or returned in an error. The catalogue is fixed; every match is
// replaced with a typed [XXX_REDACTED] marker. Redaction is idempotent:
// markers never re-match any rule.
package redact

import (
	"net/url"
	"regexp"
	"strings"
)

// rule pairs a compiled pattern with its replacement marker.
// Order matters: broader structured secrets run before generic PII so a
// connection string is not half-eaten by the email rule first.
type rule struct {
	name   string
	re     *regexp.Regexp
	marker string
}

var rules = []rule{
	{"conn_string", regexp.MustCompile(`(?i)\b(?:postgres(?:ql)?|mysql|mongodb(?:\+srv)?|redis|amqp)://[^\s"']+`), "[CONN_STRING_REDACTED]"},
	{"jwt", regexp.MustCompile(`\beyJ[A-Za-z0-9_-]{8,}\.[A-Za-z0-9_-]{8,}\.[A-Za-z0-9_-]+\b`), "[JWT_REDACTED]"},
	{"bearer", regexp.MustCompile(`(?i)\bbearer\s+[A-Za-z0-9._~+/-]+=*`), "[TOKEN_REDACTED]"},
	{"api_key", regexp.MustCompile(`\b(?:sk-[A-Za-z0-9-]{16,}|pk_(?:live|test)_[A-Za-z0-9]{16,}|nova_[A-Za-z0-9._-]{8,}|AKIA[A-Z0-9]{16}|ghp_[A-Za-z0-9]{36}|xox[abprs]-[A-Za-z0-9-]{10,})`), "[API_KEY_REDACTED]"},
	{"card", regexp.MustCompile(`\b\d{4}[ -]?\d{4}[ -]?\d{4}[ -]?\d{2,4}\b`), "[CARD_REDACTED]"},
	{"ssn", regexp.MustCompile(`\b\d{3}-\d{2}-\d{4}\b`), "[SSN_REDACTED]"},
	{"email", regexp.MustCompile(`\b[A-Za-z0-9._%+-]+@[A-Za-z0-9.-]+\.[A-Za-z]{2,}\b`), "[EMAIL_REDACTED]"},
	{"phone", regexp.MustCompile(`(?:\+\d{1,3}[ .-]?)?\(?\d{3}\)?[ .-]?\d{3}[ .-]?\d{4}\b`), "[PHONE_REDACTED]"},
	{"ipv4", regexp.MustCompile(`\b(?:\d{1,3}\.){3}\d{1,3}\b`), "[IP_REDACTED]"},
}

// sensitiveFields are redacted by name regardless of their value.
var sensitiveFields = map[string]bool{
	"password":      true,
	"passphrase":    true,
	"secret":        true,
	"token":         true,
	"access_token":  true,
	"refresh_token": true,
	"api_key":       true,
	"apikey":        true,
	"authorization": true,
	"jwt":           true,
	"private_key":   true,
	"ssn":           true,
	"credit_card":   true,
	"card_number":   true,
	"cvv":           true,
	"encryption_key": true,
}

// sensitiveParams are query parameters whose values never reach a log line.
var sensitiveParams = map[string]bool{
	"token":     true,
	"key":       true,
	"api_key":   true,
	"apikey":    true,
	"secret":    true,
	"signature": true,
	"sig":       true,
	"password":  true,
	"appid":     true,
}

// Redact applies the full pattern catalogue to s.
func Redact(s string) string {
	for _, r := range rules {
		s = r.re.ReplaceAllString(s, r.marker)
	}
	return s
}

// RedactFields walks a details map and blanks values under sensitive names,
// then runs pattern redaction on remaining string values. Nested maps are
// handled; other value types pass through untouched.
func RedactFields(fields map[string]any) map[string]any {
	if fields == nil {
		return nil
	}

	out := make(map[string]any, len(fields))
	for k, v := range fields {
		if sensitiveFields[strings.ToLower(k)] {
			out[k] = "[REDACTED]"
			continue
		}
		switch val := v.(type) {
		case string:
			out[k] = Redact(val)
		case map[string]any:
			out[k] = RedactFields(val)
		default:
			out[k] = v
		}
	}
	return out
}

// RedactURL removes userinfo and blanks sensitive query parameter values.
// Unparseable input falls back to full pattern redaction.
func RedactURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return Redact(raw)
	}

	if u.User != nil {
		u.User = url.User("[CREDENTIALS_REDACTED]")
	}

	q := u.Query()
	changed := false
	for param := range q {
		if sensitiveParams[strings.ToLower(param)] {
			q.Set(param, "REDACTED")
			changed = true
		}
	}
	if changed {
		u.RawQuery = q.Encode()
	}

	return u.String()
}

// Error redacts an error message for safe logging. Nil-safe.
func Error(err error) string {
	if err == nil {
		return ""
	}
	return Redact(err.Error())
}
