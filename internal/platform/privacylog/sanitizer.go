package privacylog

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"strings"
)

const (
	redactedValue = "[REDACTED]"
	// hex length of a 64-byte secret key field in an identity record
	secretFieldLen = 128
)

var (
	bootNonce = randomNonce()
	// Admission sources are peer network locations; logs keep only a per-process fingerprint.
	fingerprintKeys   = map[string]struct{}{"source": {}, "peer": {}, "remote_addr": {}}
	sensitiveKeyParts = []string{"secret", "private", "mnemonic", "passphrase", "password", "token", "seed"}
)

// SanitizingHandler redacts key material before records reach the next handler.
type SanitizingHandler struct {
	next slog.Handler
}

func WrapHandler(next slog.Handler) slog.Handler {
	if next == nil {
		return nil
	}
	return &SanitizingHandler{next: next}
}

func (h *SanitizingHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.next.Enabled(ctx, level)
}

func (h *SanitizingHandler) Handle(ctx context.Context, rec slog.Record) error {
	out := slog.NewRecord(rec.Time, rec.Level, RedactRecordText(rec.Message), rec.PC)
	rec.Attrs(func(attr slog.Attr) bool {
		out.AddAttrs(SanitizeAttr(attr))
		return true
	})
	return h.next.Handle(ctx, out)
}

func (h *SanitizingHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &SanitizingHandler{next: h.next.WithAttrs(sanitizeAttrs(attrs))}
}

func (h *SanitizingHandler) WithGroup(name string) slog.Handler {
	return &SanitizingHandler{next: h.next.WithGroup(name)}
}

func SanitizeAttr(attr slog.Attr) slog.Attr {
	key := strings.TrimSpace(attr.Key)
	lowerKey := strings.ToLower(key)
	switch {
	case isSensitiveKey(lowerKey):
		return slog.String(key, redactedValue)
	case isFingerprintKey(lowerKey):
		return slog.String(fingerprintKeyName(key), Fingerprint(attr.Value.Resolve().String()))
	}
	v := attr.Value.Resolve()
	switch v.Kind() {
	case slog.KindGroup:
		return slog.Attr{Key: key, Value: slog.GroupValue(sanitizeAttrs(v.Group())...)}
	case slog.KindString:
		return slog.String(key, RedactRecordText(v.String()))
	case slog.KindAny:
		if s, ok := v.Any().(fmt.Stringer); ok {
			return slog.String(key, RedactRecordText(s.String()))
		}
	}
	return attr
}

// RedactRecordText hides the secret key field of anything shaped like "addr:0:public:secret".
func RedactRecordText(s string) string {
	if strings.Count(s, ":") < 3 {
		return s
	}
	words := strings.Fields(s)
	changed := false
	for i, w := range words {
		parts := strings.Split(w, ":")
		if len(parts) != 4 || len(parts[3]) < secretFieldLen || !isHex(parts[3][:secretFieldLen]) {
			continue
		}
		parts[3] = redactedValue + parts[3][secretFieldLen:]
		words[i] = strings.Join(parts, ":")
		changed = true
	}
	if !changed {
		return s
	}
	return strings.Join(words, " ")
}

// Fingerprint is stable within one process and unlinkable across restarts.
func Fingerprint(value string) string {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return ""
	}
	sum := sha256.Sum256([]byte(trimmed + "|" + bootNonce))
	return "fp_" + hex.EncodeToString(sum[:8])
}

func sanitizeAttrs(attrs []slog.Attr) []slog.Attr {
	out := make([]slog.Attr, 0, len(attrs))
	for _, attr := range attrs {
		out = append(out, SanitizeAttr(attr))
	}
	return out
}

func isFingerprintKey(key string) bool {
	_, ok := fingerprintKeys[key]
	return ok
}

func fingerprintKeyName(key string) string {
	if strings.HasSuffix(strings.ToLower(key), "_fp") {
		return key
	}
	return key + "_fp"
}

func isSensitiveKey(key string) bool {
	for _, part := range sensitiveKeyParts {
		if strings.Contains(key, part) {
			return true
		}
	}
	return false
}

func isHex(s string) bool {
	for i := 0; i < len(s); i++ {
		c := s[i]
		if !('0' <= c && c <= '9' || 'a' <= c && c <= 'f' || 'A' <= c && c <= 'F') {
			return false
		}
	}
	return true
}

func randomNonce() string {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		return "fallback_nonce"
	}
	return hex.EncodeToString(buf)
}
