package domain

// Provider identifies a configured LLM backend.
type Provider string

const (
	ProviderOpenAICompat Provider = "openai_compat"
	ProviderAnthropic    Provider = "anthropic"
	ProviderGemini       Provider = "gemini"
)

// Config mirrors ~/.stmgw/config.yaml.
type Config struct {
	ConfigFormatVersion string             `yaml:"config_format_version" json:"config_format_version"`
	AI                  AISettings         `yaml:"ai" json:"ai"`
	Permissions         PermissionSettings `yaml:"permissions" json:"permissions"`
	Server              ServerSettings     `yaml:"server" json:"server"`
	Profiles            []Profile          `yaml:"profiles,omitempty" json:"profiles,omitempty"`
}

// AISettings is the non-secret provider configuration.
type AISettings struct {
	Provider     Provider             `yaml:"provider" json:"provider"`
	Model        string               `yaml:"model" json:"model"`
	Temperature  *float64             `yaml:"temperature,omitempty" json:"temperature,omitempty"`
	TopP         *float64             `yaml:"top_p,omitempty" json:"top_p,omitempty"`
	MaxTokens    int                  `yaml:"max_tokens" json:"max_tokens"`
	TimeoutMS    int                  `yaml:"timeout_ms" json:"timeoutMs"`
	OpenAICompat OpenAICompatSettings `yaml:"openai_compat" json:"openaiCompat"`
	Anthropic    AnthropicSettings    `yaml:"anthropic" json:"anthropic"`
	Gemini       GeminiSettings       `yaml:"gemini" json:"gemini"`
}

// OpenAICompatSettings configures any OpenAI-compatible chat completion API.
type OpenAICompatSettings struct {
	BaseURL string `yaml:"base_url" json:"baseUrl"`
}

// AnthropicSettings configures the Anthropic messages API. BaseURL is only
// overridden for proxies and tests.
type AnthropicSettings struct {
	BaseURL string `yaml:"base_url,omitempty" json:"baseUrl,omitempty"`
}

// GeminiSettings configures the generative content API, either in API key
// mode or through Vertex with a service account.
type GeminiSettings struct {
	BaseURL                string `yaml:"base_url,omitempty" json:"baseUrl,omitempty"`
	UseVertex              bool   `yaml:"use_vertex" json:"useVertex"`
	ProjectID              string `yaml:"project_id,omitempty" json:"projectId,omitempty"`
	Location               string `yaml:"location,omitempty" json:"location,omitempty"`
	ServiceAccountJSONPath string `yaml:"service_account_json_path,omitempty" json:"serviceAccountJsonPath,omitempty"`
}

// AIConfig is the merged provider configuration for a single call: the
// non-secret settings plus the secret freshly fetched from the secret store.
// Its lifetime is the call; the secret never serializes.
type AIConfig struct {
	AISettings `yaml:",inline"`

	APIKey string `yaml:"-" json:"-"`
}

// PermissionSettings configures the permission engine and audit log.
type PermissionSettings struct {
	AuditDir   string `yaml:"audit_dir" json:"auditDir"`
	RulesDB    string `yaml:"rules_db" json:"rulesDb"`
	PromptMode string `yaml:"prompt_mode" json:"promptMode"`
}

// ServerSettings controls the local HTTP surface.
type ServerSettings struct {
	ListenAddr string `yaml:"listen_addr" json:"listenAddr"`
}

// Profile is a named snapshot of AI settings that can be applied as a unit.
type Profile struct {
	ID   string      `yaml:"id" json:"id"`
	Name string      `yaml:"name" json:"name"`
	AI   *AISettings `yaml:"ai,omitempty" json:"ai,omitempty"`
}

// ConfigPatch is a partial configuration update; nil sections are untouched.
type ConfigPatch struct {
	AI          *AISettings         `json:"ai,omitempty"`
	Permissions *PermissionSettings `json:"permissions,omitempty"`
	Server      *ServerSettings     `json:"server,omitempty"`
	Profiles    *[]Profile          `json:"profiles,omitempty"`
}

// SecretStatus reports which secrets are configured for a provider without
// exposing their values.
type SecretStatus struct {
	Provider          string `json:"provider"`
	HasAPIKey         bool   `json:"hasApiKey"`
	HasGeminiAPIKey   bool   `json:"hasGeminiApiKey"`
	HasServiceAccount bool   `json:"hasServiceAccount"`
	HasGroupID        bool   `json:"hasGroupId"`
}

// SecretSetRequest stores one credential value.
type SecretSetRequest struct {
	Provider string `json:"provider"`
	Kind     string `json:"kind"`
	Value    string `json:"value"`
}
