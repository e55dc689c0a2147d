package types

import "time"

type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

type Message struct {
	Role      Role   `json:"role"`
	Content   string `json:"content,omitempty"`
	Reasoning string `json:"reasoning,omitempty"`
}

// GenerationParams are the sampling settings passed to a provider. Nil
// pointers leave the provider default in place.
type GenerationParams struct {
	Temperature     *float32 `json:"temperature,omitempty"`
	TopP            *float32 `json:"topP,omitempty"`
	TopK            *float32 `json:"topK,omitempty"`
	MaxOutputTokens int      `json:"maxOutputTokens,omitempty"`
}

type Request struct {
	Model        string           `json:"model,omitempty"`
	SystemPrompt string           `json:"systemPrompt,omitempty"`
	Messages     []Message        `json:"messages"`
	Params       GenerationParams `json:"params"`
}

type Usage struct {
	InputTokens  int `json:"inputTokens,omitempty"`
	OutputTokens int `json:"outputTokens,omitempty"`
	TotalTokens  int `json:"totalTokens,omitempty"`
}

type Response struct {
	Message Message `json:"message"`
	Usage   *Usage  `json:"usage,omitempty"`
}

type RunResult struct {
	Output      string     `json:"output"`
	Usage       *Usage     `json:"usage,omitempty"`
	Provider    string     `json:"provider,omitempty"`
	RunID       string     `json:"runId,omitempty"`
	SessionID   string     `json:"sessionId,omitempty"`
	Turn        int        `json:"turn"`
	StartedAt   *time.Time `json:"startedAt,omitempty"`
	CompletedAt *time.Time `json:"completedAt,omitempty"`
}

// Float32 returns a pointer to v, for filling GenerationParams.
func Float32(v float32) *float32 { return &v }
