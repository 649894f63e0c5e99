// Package redact masks personal data in transcripts before they reach logs.
package redact

import (
	"encoding/json"
	"regexp"
	"strconv"
	"strings"
	"sync/atomic"
	"unicode/utf8"
)

var enabled atomic.Bool

var (
	emailRe = regexp.MustCompile(`(?i)[a-z0-9._%+\-]+@[a-z0-9.\-]+\.[a-z]{2,}`)
	cardRe  = regexp.MustCompile(`\b\d(?:[ \-]?\d){12,15}\b`)
	phoneRe = regexp.MustCompile(`\b\+?\d[\d\s\-]{7,}\d\b`)
)

// transcriptKeys are the JSON fields a backend reply may carry its text in.
var transcriptKeys = []string{"text", "transcript", "transcription"}

func SetEnabled(v bool) { enabled.Store(v) }

func Enabled() bool { return enabled.Load() }

// Text masks emails, card numbers and phone numbers when redaction is on.
// Cards run before phones so a card is not reported as a phone number.
func Text(in string) string {
	if !enabled.Load() || strings.TrimSpace(in) == "" {
		return in
	}
	out := emailRe.ReplaceAllString(in, "[REDACTED_EMAIL]")
	out = maskCards(out)
	return phoneRe.ReplaceAllString(out, "[REDACTED_PHONE]")
}

// maskCards replaces digit runs that pass the Luhn check. Runs prefixed with
// '+' are international phone numbers and are left for the phone rule.
func maskCards(in string) string {
	locs := cardRe.FindAllStringIndex(in, -1)
	if len(locs) == 0 {
		return in
	}
	var b strings.Builder
	last := 0
	for _, loc := range locs {
		start, end := loc[0], loc[1]
		if start > 0 && in[start-1] == '+' {
			continue
		}
		if !luhn(in[start:end]) {
			continue
		}
		b.WriteString(in[last:start])
		b.WriteString("[REDACTED_CARD]")
		last = end
	}
	b.WriteString(in[last:])
	return b.String()
}

func luhn(s string) bool {
	sum, n := 0, 0
	for i := len(s) - 1; i >= 0; i-- {
		c := s[i]
		if c < '0' || c > '9' {
			continue
		}
		d := int(c - '0')
		if n%2 == 1 {
			d *= 2
			if d > 9 {
				d -= 9
			}
		}
		sum += d
		n++
	}
	return n > 0 && sum%10 == 0
}

// Transcript renders a backend reply body for a log line. A JSON object with
// a text field is reduced to that field. Non UTF-8 bodies are shown by size.
// The result is redacted and cut to max runes when max > 0.
func Transcript(body []byte, max int) string {
	if !utf8.Valid(body) {
		return "[binary body, " + strconv.Itoa(len(body)) + " bytes]"
	}
	out := Text(extractText(strings.TrimSpace(string(body))))
	if max > 0 && utf8.RuneCountInString(out) > max {
		out = string([]rune(out)[:max]) + "…"
	}
	return out
}

func extractText(body string) string {
	if !strings.HasPrefix(body, "{") {
		return body
	}
	var obj map[string]any
	if err := json.Unmarshal([]byte(body), &obj); err != nil {
		return body
	}
	for _, k := range transcriptKeys {
		if s, ok := obj[k].(string); ok {
			return strings.TrimSpace(s)
		}
	}
	return body
}
