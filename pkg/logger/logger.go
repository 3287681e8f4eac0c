package logger

import (
	"log/slog"
	"os"
	"strings"
)

// New returns a JSON slog.Logger configured for the given service name.
func New(service string, level slog.Level) *slog.Logger {
	h := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level})
	return slog.New(h).With("service", service)
}

// Redact masks credential material before it reaches a log field or a
// stored error message. Short values are masked wholesale; longer ones
// keep a four character prefix for correlation.
func Redact(secret string) string {
	s := strings.TrimSpace(secret)
	if s == "" {
		return ""
	}
	if len(s) <= 8 {
		return "***"
	}
	return s[:4] + "***"
}

// RedactAll replaces every occurrence of the provided secrets in msg.
// Applied to upstream error text before it is persisted to a job record.
func RedactAll(msg string, secrets ...string) string {
	for _, secret := range secrets {
		if strings.TrimSpace(secret) == "" {
			continue
		}
		msg = strings.ReplaceAll(msg, secret, "***")
	}
	return msg
}
