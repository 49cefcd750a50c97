package ai

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/doeshing/stm-gateway/internal/domain"
	"github.com/doeshing/stm-gateway/internal/ports"
)

const defaultGeminiBaseURL = "https://generativelanguage.googleapis.com"

// GeminiAdapter streams generative-content completions. The wire format is
// not SSE: the body is a sequence of concatenated JSON objects with no
// delimiter, each carrying candidates[0].content.parts[].text and, on the
// final object, a finishReason plus optional usage metadata.
//
// In Vertex mode authentication goes through a service-account token
// exchange; tokens are cached in-process by the shared token source.
type GeminiAdapter struct {
	client *http.Client
	tokens *VertexTokenSource
	log    *logrus.Entry
}

// NewGemini builds the adapter.
func NewGemini(client *http.Client, tokens *VertexTokenSource, log *logrus.Logger) *GeminiAdapter {
	return &GeminiAdapter{
		client: client,
		tokens: tokens,
		log:    log.WithField("adapter", "gemini"),
	}
}

// Name implements ports.ProviderAdapter.
func (a *GeminiAdapter) Name() string {
	return string(domain.ProviderGemini)
}

type geminiPart struct {
	Text string `json:"text,omitempty"`
}

type geminiContent struct {
	Role  string       `json:"role,omitempty"`
	Parts []geminiPart `json:"parts"`
}

type geminiRequest struct {
	Contents          []geminiContent `json:"contents"`
	SystemInstruction *geminiContent  `json:"systemInstruction,omitempty"`
	GenerationConfig  struct {
		Temperature     float64 `json:"temperature"`
		TopP            float64 `json:"topP"`
		MaxOutputTokens int     `json:"maxOutputTokens"`
	} `json:"generationConfig"`
}

type geminiChunk struct {
	Candidates []struct {
		Content      geminiContent `json:"content"`
		FinishReason string        `json:"finishReason"`
	} `json:"candidates"`
	UsageMetadata *struct {
		PromptTokenCount     int `json:"promptTokenCount"`
		CandidatesTokenCount int `json:"candidatesTokenCount"`
		TotalTokenCount      int `json:"totalTokenCount"`
	} `json:"usageMetadata"`
}

func convertGeminiMessages(messages []domain.ChatMessage, system string) (*geminiContent, []geminiContent) {
	system, rest := extractSystem(messages, system)
	var instruction *geminiContent
	if system != "" {
		instruction = &geminiContent{Parts: []geminiPart{{Text: system}}}
	}
	contents := make([]geminiContent, 0, len(rest))
	for _, m := range rest {
		role := "user"
		if m.Role == domain.RoleAssistant {
			role = "model"
		}
		contents = append(contents, geminiContent{
			Role:  role,
			Parts: []geminiPart{{Text: m.Content}},
		})
	}
	return instruction, contents
}

// StreamChat implements ports.ProviderAdapter.
func (a *GeminiAdapter) StreamChat(ctx context.Context, req domain.ChatRequest, cfg domain.AIConfig, emit ports.EmitFunc) {
	instruction, contents := convertGeminiMessages(req.Messages, req.System)

	var url string
	headers := http.Header{}
	headers.Set("Content-Type", "application/json")

	if cfg.Gemini.UseVertex {
		if cfg.Gemini.ProjectID == "" || cfg.Gemini.Location == "" || cfg.Gemini.ServiceAccountJSONPath == "" {
			emit(domain.StreamError(domain.CodeConfigError, "Gemini Vertex mode requires projectId, location, and serviceAccountJsonPath"))
			return
		}
		token, err := a.tokens.Token(ctx, cfg.Gemini.ServiceAccountJSONPath)
		if err != nil {
			emit(domain.StreamError(domain.CodeAuthError, err.Error()))
			return
		}
		headers.Set("Authorization", "Bearer "+token)
		url = fmt.Sprintf("https://%s-aiplatform.googleapis.com/v1/projects/%s/locations/%s/publishers/google/models/%s:streamGenerateContent",
			cfg.Gemini.Location, cfg.Gemini.ProjectID, cfg.Gemini.Location, req.Model)
	} else {
		if cfg.APIKey == "" {
			emit(domain.StreamError(domain.CodeConfigError, "Gemini API key not configured"))
			return
		}
		base := cfg.Gemini.BaseURL
		if base == "" {
			base = defaultGeminiBaseURL
		}
		url = fmt.Sprintf("%s/v1beta/models/%s:streamGenerateContent?key=%s", strings.TrimRight(base, "/"), req.Model, cfg.APIKey)
	}

	body := geminiRequest{Contents: contents, SystemInstruction: instruction}
	body.GenerationConfig.Temperature = floatOrDefault(req.Temperature, cfg.Temperature, 0.7)
	body.GenerationConfig.TopP = floatOrDefault(req.TopP, cfg.TopP, 1)
	body.GenerationConfig.MaxOutputTokens = intOrDefault(req.MaxTokens, cfg.MaxTokens, 2048)

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
	httpReq.Header = headers

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

	var buffer []byte
	chunk := make([]byte, 4096)
	for {
		n, readErr := resp.Body.Read(chunk)
		if n > 0 {
			buffer = append(buffer, chunk[:n]...)
			var done bool
			buffer, done = a.drain(buffer, emit)
			if done {
				return
			}
		}
		if readErr != nil {
			if errors.Is(readErr, io.EOF) {
				break
			}
			if ctx.Err() != nil {
				emit(domain.StreamError(domain.CodeCancelled, "Request cancelled"))
			} else {
				emit(domain.StreamError(domain.CodeStreamError, fmt.Sprintf("Stream error: %v", readErr)))
			}
			return
		}
	}

	emit(domain.Done(nil))
}

// drain parses as many complete JSON objects out of buffer as possible,
// emitting deltas as they surface. It returns the remaining buffer and
// whether a terminal event was emitted.
//
// The resynchronization heuristic mirrors the historical behavior: parsing
// starts at the first `{`; if a pass parses nothing at all, the buffer skips
// ahead to the next `{` so corrupt leading bytes cannot stall the stream
// forever. A malformed-but-recoverable object can be dropped by this skip.
func (a *GeminiAdapter) drain(buffer []byte, emit ports.EmitFunc) ([]byte, bool) {
	parsed := false
	for len(buffer) > 0 {
		brace := bytes.IndexByte(buffer, '{')
		if brace == -1 {
			break
		}
		buffer = buffer[brace:]

		dec := json.NewDecoder(bytes.NewReader(buffer))
		var obj geminiChunk
		if err := dec.Decode(&obj); err != nil {
			if !parsed {
				if next := bytes.IndexByte(buffer[1:], '{'); next != -1 {
					a.log.WithError(err).Warn("skipping unparseable stream bytes")
					buffer = buffer[next+1:]
				}
			}
			break
		}
		buffer = buffer[dec.InputOffset():]
		parsed = true

		if len(obj.Candidates) == 0 {
			continue
		}
		candidate := obj.Candidates[0]
		for _, part := range candidate.Content.Parts {
			if part.Text != "" {
				emit(domain.Delta(part.Text))
			}
		}
		if candidate.FinishReason != "" {
			if obj.UsageMetadata != nil {
				emit(domain.Done(&domain.Usage{
					PromptTokens:     obj.UsageMetadata.PromptTokenCount,
					CompletionTokens: obj.UsageMetadata.CandidatesTokenCount,
					TotalTokens:      obj.UsageMetadata.TotalTokenCount,
				}))
			} else {
				emit(domain.Done(nil))
			}
			return buffer, true
		}
	}
	return buffer, false
}

var _ ports.ProviderAdapter = (*GeminiAdapter)(nil)
