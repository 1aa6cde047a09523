// Package extract isolates the variable part of template-generated email bodies.
package extract

import (
	"strings"

	"MailPrompter/internal/domain"
)

// Between returns the text strictly between the first occurrence of start and the
// following occurrence of end, trimmed. When end never follows start, everything after
// start is returned. When start is absent the input comes back unchanged and found is false.
func Between(text, start, end string) (content string, found bool) {
	if start == "" {
		return text, false
	}

	idx := strings.Index(text, start)
	if idx == -1 {
		return text, false
	}
	rest := text[idx+len(start):]

	if end == "" {
		return strings.TrimSpace(rest), true
	}

	stop := strings.Index(rest, end)
	if stop == -1 {
		return strings.TrimSpace(rest), true
	}

	return strings.TrimSpace(rest[:stop]), true
}

// Content applies the category markers to a body. A category without markers keeps the
// whole body, which counts as found.
func Content(body string, markers *domain.Markers) (string, bool) {
	if markers == nil {
		return body, true
	}
	return Between(body, markers.Start, markers.End)
}
