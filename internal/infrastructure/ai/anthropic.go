package ai

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/doeshing/stm-gateway/internal/domain"
	"github.com/doeshing/stm-gateway/internal/ports"
)

const defaultAnthropicBaseURL = "https://api.anthropic.com"

// AnthropicAdapter streams message-block chat completions from the Anthropic
// messages API. Frames arrive as SSE `data:` lines carrying typed events
// (content_block_delta, message_delta, message_stop).
type AnthropicAdapter struct {
	client *http.Client
	log    *logrus.Entry
}

// NewAnthropic builds the adapter.
func NewAnthropic(client *http.Client, log *logrus.Logger) *AnthropicAdapter {
	return &AnthropicAdapter{
		client: client,
		log:    log.WithField("adapter", "anthropic"),
	}
}

// Name implements ports.ProviderAdapter.
func (a *AnthropicAdapter) Name() string {
	return string(domain.ProviderAnthropic)
}

type anthropicMessage struct {
	Role    string             `json:"role"`
	Content []anthropicContent `json:"content"`
}

type anthropicContent struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

type anthropicRequest struct {
	Model       string             `json:"model"`
	Stream      bool               `json:"stream"`
	MaxTokens   int                `json:"max_tokens"`
	Temperature float64            `json:"temperature"`
	System      string             `json:"system,omitempty"`
	Messages    []anthropicMessage `json:"messages"`
}

type anthropicEvent struct {
	Type  string `json:"type"`
	Delta struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"delta"`
	Usage *struct {
		InputTokens  int `json:"input_tokens"`
		OutputTokens int `json:"output_tokens"`
	} `json:"usage"`
}

func convertAnthropicMessages(messages []domain.ChatMessage, system string) (string, []anthropicMessage) {
	system, rest := extractSystem(messages, system)
	out := make([]anthropicMessage, 0, len(rest))
	for _, m := range rest {
		role := "user"
		if m.Role == domain.RoleAssistant {
			role = "assistant"
		}
		out = append(out, anthropicMessage{
			Role:    role,
			Content: []anthropicContent{{Type: "text", Text: m.Content}},
		})
	}
	return system, out
}

// StreamChat implements ports.ProviderAdapter.
func (a *AnthropicAdapter) StreamChat(ctx context.Context, req domain.ChatRequest, cfg domain.AIConfig, emit ports.EmitFunc) {
	if cfg.APIKey == "" {
		emit(domain.StreamError(domain.CodeConfigError, "Anthropic API key not configured"))
		return
	}

	baseURL := cfg.Anthropic.BaseURL
	if baseURL == "" {
		baseURL = defaultAnthropicBaseURL
	}
	system, messages := convertAnthropicMessages(req.Messages, req.System)

	body := anthropicRequest{
		Model:       req.Model,
		Stream:      true,
		MaxTokens:   intOrDefault(req.MaxTokens, cfg.MaxTokens, 2048),
		Temperature: floatOrDefault(req.Temperature, cfg.Temperature, 0.7),
		System:      system,
		Messages:    messages,
	}

	raw, err := json.Marshal(body)
	if err != nil {
		emit(domain.StreamError(domain.CodeUnexpectedError, err.Error()))
		return
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, strings.TrimRight(baseURL, "/")+"/v1/messages", bytes.NewReader(raw))
	if err != nil {
		emit(domain.StreamError(domain.CodeUnexpectedError, err.Error()))
		return
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-api-key", cfg.APIKey)
	httpReq.Header.Set("anthropic-version", "2023-06-01")

	resp, err := a.client.Do(httpReq)
	if err != nil {
		if ctx.Err() != nil {
			emit(domain.StreamError(domain.CodeCancelled, "Request cancelled"))
		} else {
			emit(domain.StreamError(domain.CodeNetworkError, fmt.Sprintf("Network error: %v", err)))
		}
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		emit(domain.StreamError(domain.CodeHTTPError, strings.TrimSpace(fmt.Sprintf("HTTP %s %s", resp.Status, responseText(resp)))))
		return
	}

	finished := false
	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if !strings.HasPrefix(line, "data:") {
			continue
		}
		data := strings.TrimSpace(strings.TrimPrefix(line, "data:"))

		var event anthropicEvent
		if err := json.Unmarshal([]byte(data), &event); err != nil {
			a.log.WithError(err).WithField("line", line).Warn("skipping malformed stream line")
			continue
		}

		switch {
		case event.Type == "content_block_delta" && event.Delta.Type == "text_delta":
			emit(domain.Delta(event.Delta.Text))
		case event.Type == "message_delta" && event.Usage != nil:
			emit(domain.Done(&domain.Usage{
				PromptTokens:     event.Usage.InputTokens,
				CompletionTokens: event.Usage.OutputTokens,
				TotalTokens:      event.Usage.InputTokens + event.Usage.OutputTokens,
			}))
			finished = true
		case event.Type == "message_stop":
			emit(domain.Done(nil))
			finished = true
		}
		if finished {
			break
		}
	}

	if err := scanner.Err(); err != nil && !finished {
		if ctx.Err() != nil {
			emit(domain.StreamError(domain.CodeCancelled, "Request cancelled"))
		} else {
			emit(domain.StreamError(domain.CodeStreamError, fmt.Sprintf("Stream error: %v", err)))
		}
		return
	}

	if !finished {
		emit(domain.Done(nil))
	}
}

var _ ports.ProviderAdapter = (*AnthropicAdapter)(nil)
