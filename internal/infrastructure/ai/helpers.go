package ai

import (
	"io"
	"net/http"
	"strings"

	"github.com/doeshing/stm-gateway/internal/domain"
)

// normalizeMessages prepends an explicit system prompt, displacing any system
// messages already present in the conversation.
func normalizeMessages(messages []domain.ChatMessage, system string) []domain.ChatMessage {
	if system == "" {
		return messages
	}
	out := make([]domain.ChatMessage, 0, len(messages)+1)
	out = append(out, domain.ChatMessage{Role: domain.RoleSystem, Content: system})
	for _, m := range messages {
		if m.Role == domain.RoleSystem {
			continue
		}
		out = append(out, m)
	}
	return out
}

// extractSystem returns the effective system prompt and the remaining
// non-system messages, preferring the request-level system field.
func extractSystem(messages []domain.ChatMessage, system string) (string, []domain.ChatMessage) {
	rest := make([]domain.ChatMessage, 0, len(messages))
	for _, m := range messages {
		if m.Role == domain.RoleSystem {
			if system == "" {
				system = m.Content
			}
			continue
		}
		rest = append(rest, m)
	}
	return system, rest
}

func floatOrDefault(value, fallback *float64, def float64) float64 {
	if value != nil {
		return *value
	}
	if fallback != nil {
		return *fallback
	}
	return def
}

func intOrDefault(value, fallback, def int) int {
	if value > 0 {
		return value
	}
	if fallback > 0 {
		return fallback
	}
	return def
}

// responseText reads a bounded amount of an error response body for
// inclusion in http_error messages.
func responseText(resp *http.Response) string {
	body, err := io.ReadAll(io.LimitReader(resp.Body, 8*1024))
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(body))
}
