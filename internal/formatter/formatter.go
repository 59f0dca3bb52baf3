// Package formatter produces the exact bytes handed to the chat API for one
// recipient (spec.md §4.4). Grounded on the teacher's own
// internal/formatter/formatter.go for shape — strings.Builder composition,
// a fixed header template, and paragraph-boundary splitting with
// reapplied numbered headers — but the escaping contract itself has no
// corpus analogue: the teacher emits legacy Markdown links and unescaped
// bold, which the target chat API's "extended-markdown" parse mode would
// reject outright. The reserved-character escaper below is built directly
// from spec.md §4.4's worked contract.
package formatter

import (
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/maine/newsdigest/internal/apperr"
)

const (
	// telegramMaxMessageLength is the chat API's approximate per-message
	// byte ceiling.
	telegramMaxMessageLength = 4096
	headerEmoji              = "📰"
	bulletPrefix             = "•  "
)

// reservedChars is the exact set spec.md §4.4 names, in the order the
// spec lists them.
const reservedChars = "_*[]()~`>#+-=|{}.!"

// Formatter implements spec.md §4.4.
type Formatter struct{}

// New builds a Formatter. It is stateless.
func New() *Formatter {
	return &Formatter{}
}

// Format renders digestBody (already plain text — either the base digest
// or a Translator output) under the given localized title, returning one
// or more message strings ready for the Sender. Splitting and `(i/N)`
// numbering follow spec.md §4.4's length rule.
func (f *Formatter) Format(title, digestBody string, generatedAt time.Time) ([]string, error) {
	if strings.TrimSpace(digestBody) == "" {
		return nil, apperr.New(apperr.KindValidation, "format", fmt.Errorf("empty digest body"))
	}

	timestamp := generatedAt.UTC().Format("2006-01-02 15:04") + " UTC"
	normalized := normalizeBullets(digestBody)

	full := renderMessage(title, "", timestamp, escapeBody(normalized))
	if len(full) <= telegramMaxMessageLength {
		return []string{full}, nil
	}

	paragraphs := splitParagraphs(normalized)
	chunks := packParagraphs(paragraphs, title, timestamp)

	messages := make([]string, 0, len(chunks))
	for i, chunk := range chunks {
		suffix := fmt.Sprintf(" (%d/%d)", i+1, len(chunks))
		messages = append(messages, renderMessage(title, suffix, timestamp, escapeBody(chunk)))
	}
	return messages, nil
}

func renderMessage(title, headerSuffix, timestamp, escapedBody string) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "%s *%s*%s\n", headerEmoji, escape(title), escape(headerSuffix))
	sb.WriteString(escape(timestamp))
	sb.WriteString("\n\n")
	sb.WriteString(escapedBody)
	return sb.String()
}

// escape backslash-escapes every character in reservedChars.
func escape(s string) string {
	var sb strings.Builder
	sb.Grow(len(s) + len(s)/4)
	for _, r := range s {
		if strings.ContainsRune(reservedChars, r) {
			sb.WriteByte('\\')
		}
		sb.WriteRune(r)
	}
	return sb.String()
}

// normalizeBullets rewrites lines whose first non-whitespace rune is one
// of •, -, * to a uniform bullet prefix, per spec.md §4.4.
func normalizeBullets(body string) string {
	lines := strings.Split(body, "\n")
	for i, line := range lines {
		trimmed := strings.TrimLeft(line, " \t")
		if trimmed == "" {
			continue
		}
		first, size := utf8.DecodeRuneInString(trimmed)
		if first == '•' || first == '-' || first == '*' {
			rest := strings.TrimLeft(trimmed[size:], " \t")
			lines[i] = bulletPrefix + rest
		}
	}
	return strings.Join(lines, "\n")
}

// escapeBody escapes a normalized body line-by-line, leaving the bullet
// prefix itself (which contains no reserved characters) untouched.
func escapeBody(body string) string {
	lines := strings.Split(body, "\n")
	for i, line := range lines {
		if strings.HasPrefix(line, bulletPrefix) {
			lines[i] = bulletPrefix + escape(strings.TrimPrefix(line, bulletPrefix))
			continue
		}
		lines[i] = escape(line)
	}
	return strings.Join(lines, "\n")
}

func splitParagraphs(body string) []string {
	raw := strings.Split(body, "\n\n")
	out := make([]string, 0, len(raw))
	for _, p := range raw {
		if strings.TrimSpace(p) != "" {
			out = append(out, p)
		}
	}
	return out
}

// packParagraphs greedily groups paragraphs into chunks that fit under
// telegramMaxMessageLength once wrapped with a numbered header. A single
// paragraph too large to ever fit is kept whole in its own chunk rather
// than split mid-paragraph (spec.md §4.4 only mandates paragraph-boundary
// splitting).
func packParagraphs(paragraphs []string, title, timestamp string) []string {
	overhead := len(renderMessage(title, " (99/99)", timestamp, ""))
	budget := telegramMaxMessageLength - overhead
	if budget < 1 {
		budget = 1
	}

	var chunks []string
	var current strings.Builder
	currentLen := 0 // escaped length of current
	flush := func() {
		if current.Len() > 0 {
			chunks = append(chunks, current.String())
			current.Reset()
			currentLen = 0
		}
	}

	for _, p := range paragraphs {
		pLen := len(escapeBody(p))
		candidateLen := currentLen + pLen
		if current.Len() > 0 {
			candidateLen += len("\n\n")
		}
		if candidateLen > budget && current.Len() > 0 {
			flush()
		}
		if current.Len() > 0 {
			current.WriteString("\n\n")
			currentLen += len("\n\n")
		}
		current.WriteString(p)
		currentLen += pLen
	}
	flush()
	return chunks
}
