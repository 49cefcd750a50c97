package domain

// Role identifies the author of a chat message.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// ChatMessage is a single turn in a conversation. Immutable once constructed.
type ChatMessage struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
	Name    string `json:"name,omitempty"`
}

// ChatRequest describes one streaming chat call. Optional sampling fields are
// pointers so that an absent value can fall back to the configured default.
type ChatRequest struct {
	Messages    []ChatMessage `json:"messages"`
	Model       string        `json:"model,omitempty"`
	Temperature *float64      `json:"temperature,omitempty"`
	TopP        *float64      `json:"top_p,omitempty"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
	System      string        `json:"system,omitempty"`
	TimeoutMS   int           `json:"timeoutMs,omitempty"`
}

// Usage carries the token accounting a provider reports alongside completion.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// StreamEventType tags the variants of StreamEvent.
type StreamEventType string

const (
	EventDelta StreamEventType = "delta"
	EventDone  StreamEventType = "done"
	EventError StreamEventType = "error"
)

// StreamEvent is the uniform event every provider adapter emits: zero or more
// deltas followed by exactly one terminal event (done or error).
type StreamEvent struct {
	Type    StreamEventType `json:"type"`
	Text    string          `json:"text,omitempty"`
	Usage   *Usage          `json:"usage,omitempty"`
	Message string          `json:"message,omitempty"`
	Code    ErrorCode       `json:"code,omitempty"`
}

// Terminal reports whether the event ends a stream session.
func (e StreamEvent) Terminal() bool {
	return e.Type == EventDone || e.Type == EventError
}

// Delta builds an incremental content event.
func Delta(text string) StreamEvent {
	return StreamEvent{Type: EventDelta, Text: text}
}

// Done builds the success terminal event. Usage may be nil when the vendor
// did not report token counts.
func Done(usage *Usage) StreamEvent {
	return StreamEvent{Type: EventDone, Usage: usage}
}

// StreamError builds the failure terminal event.
func StreamError(code ErrorCode, message string) StreamEvent {
	return StreamEvent{Type: EventError, Code: code, Message: message}
}

// CancelResult is the outcome of cancelling a stream session.
type CancelResult struct {
	OK     bool   `json:"ok"`
	Reason string `json:"reason,omitempty"`
}

// ConnectionTestResult reports the outcome of a minimal probe call against
// the configured provider.
type ConnectionTestResult struct {
	OK        bool   `json:"ok"`
	Message   string `json:"message,omitempty"`
	LatencyMS int64  `json:"latencyMs,omitempty"`
}
