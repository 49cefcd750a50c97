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

// OpenAICompatAdapter streams chat completions from any OpenAI-compatible
// backend. The wire format is SSE: newline-delimited `data: <json>` frames
// terminated by a `[DONE]` sentinel.
type OpenAICompatAdapter struct {
	client *http.Client
	log    *logrus.Entry
}

// NewOpenAICompat builds the adapter.
func NewOpenAICompat(client *http.Client, log *logrus.Logger) *OpenAICompatAdapter {
	return &OpenAICompatAdapter{
		client: client,
		log:    log.WithField("adapter", "openai_compat"),
	}
}

// Name implements ports.ProviderAdapter.
func (a *OpenAICompatAdapter) Name() string {
	return string(domain.ProviderOpenAICompat)
}

type openAIRequest struct {
	Model       string               `json:"model"`
	Stream      bool                 `json:"stream"`
	Temperature float64              `json:"temperature"`
	TopP        float64              `json:"top_p"`
	MaxTokens   int                  `json:"max_tokens,omitempty"`
	Messages    []domain.ChatMessage `json:"messages"`
}

type openAIChunk struct {
	Choices []struct {
		Delta struct {
			Content string `json:"content"`
		} `json:"delta"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
	Usage *domain.Usage `json:"usage"`
}

// StreamChat implements ports.ProviderAdapter.
func (a *OpenAICompatAdapter) StreamChat(ctx context.Context, req domain.ChatRequest, cfg domain.AIConfig, emit ports.EmitFunc) {
	baseURL := cfg.OpenAICompat.BaseURL
	if baseURL == "" || cfg.APIKey == "" {
		emit(domain.StreamError(domain.CodeConfigError, "OpenAI-compatible API not configured"))
		return
	}

	url := strings.TrimRight(baseURL, "/") + "/v1/chat/completions"
	body := openAIRequest{
		Model:       req.Model,
		Stream:      true,
		Temperature: floatOrDefault(req.Temperature, cfg.Temperature, 0.7),
		TopP:        floatOrDefault(req.TopP, cfg.TopP, 1),
		MaxTokens:   intOrDefault(req.MaxTokens, cfg.MaxTokens, 0),
		Messages:    normalizeMessages(req.Messages, req.System),
	}

	raw, err := json.Marshal(body)
	if err != nil {
		emit(domain.StreamError(domain.CodeUnexpectedError, err.Error()))
		return
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(raw))
	if err != nil {
		emit(domain.StreamError(domain.CodeUnexpectedError, err.Error()))
		return
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+cfg.APIKey)

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
		if data == "[DONE]" {
			finished = true
			break
		}

		var chunk openAIChunk
		if err := json.Unmarshal([]byte(data), &chunk); err != nil {
			// Some backends interleave non-JSON frames; skip them.
			a.log.WithError(err).WithField("line", line).Warn("skipping malformed stream line")
			continue
		}
		if len(chunk.Choices) == 0 {
			continue
		}
		if text := chunk.Choices[0].Delta.Content; text != "" {
			emit(domain.Delta(text))
		}
		if chunk.Usage != nil && chunk.Choices[0].FinishReason != "" {
			emit(domain.Done(chunk.Usage))
			finished = true
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

	// Silent end of stream counts as success.
	if !finished {
		emit(domain.Done(nil))
	}
}

var _ ports.ProviderAdapter = (*OpenAICompatAdapter)(nil)
