package gemini

import (
	"context"
	"errors"
	"fmt"
	"math"
	"net/http"
	"strings"
	"time"

	"google.golang.org/genai"

	"github.com/PipeOpsHQ/agent-web/llm"
	"github.com/PipeOpsHQ/agent-web/types"
)

const (
	defaultModel = "gemini-2.5-flash"
	providerName = "gemini"

	statusResourceExhausted = "RESOURCE_EXHAUSTED"
	retryInfoType           = "type.googleapis.com/google.rpc.RetryInfo"
)

type Client struct {
	client  *genai.Client
	model   string
	baseURL string
	params  types.GenerationParams
}

type Option func(*Client)

func WithModel(model string) Option {
	return func(c *Client) {
		if strings.TrimSpace(model) != "" {
			c.model = strings.TrimSpace(model)
		}
	}
}

// WithParams sets the sampling parameters applied to every request that does
// not carry its own.
func WithParams(params types.GenerationParams) Option {
	return func(c *Client) { c.params = params }
}

// WithBaseURL points the client at a different API endpoint.
func WithBaseURL(baseURL string) Option {
	return func(c *Client) { c.baseURL = strings.TrimSpace(baseURL) }
}

func New(ctx context.Context, apiKey string, opts ...Option) (*Client, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("GEMINI_API_KEY is required")
	}
	c := &Client{model: defaultModel}
	for _, opt := range opts {
		opt(c)
	}

	cfg := &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	}
	if c.baseURL != "" {
		cfg.HTTPOptions = genai.HTTPOptions{BaseURL: c.baseURL}
	}
	gc, err := genai.NewClient(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create gemini client: %w", err)
	}
	c.client = gc
	return c, nil
}

func (c *Client) Name() string { return providerName }

func (c *Client) Model() string { return c.model }

func (c *Client) Capabilities() llm.Capabilities {
	return llm.Capabilities{
		Streaming:        false,
		StructuredOutput: true,
	}
}

func (c *Client) Generate(ctx context.Context, req types.Request) (types.Response, error) {
	model := c.model
	if req.Model != "" {
		model = req.Model
	}

	resp, err := c.client.Models.GenerateContent(ctx, model, toGeminiContents(req.Messages), c.buildConfig(req))
	if err != nil {
		return types.Response{}, classifyError(err)
	}
	return parseGeminiResponse(resp), nil
}

func (c *Client) buildConfig(req types.Request) *genai.GenerateContentConfig {
	params := mergeParams(c.params, req.Params)

	config := &genai.GenerateContentConfig{
		Temperature: params.Temperature,
		TopP:        params.TopP,
		TopK:        params.TopK,
	}
	if req.SystemPrompt != "" {
		config.SystemInstruction = genai.NewContentFromText(req.SystemPrompt, genai.RoleUser)
	}
	if params.MaxOutputTokens > 0 {
		config.MaxOutputTokens = clampInt32(params.MaxOutputTokens)
	}
	return config
}

func mergeParams(base, override types.GenerationParams) types.GenerationParams {
	out := base
	if override.Temperature != nil {
		out.Temperature = override.Temperature
	}
	if override.TopP != nil {
		out.TopP = override.TopP
	}
	if override.TopK != nil {
		out.TopK = override.TopK
	}
	if override.MaxOutputTokens > 0 {
		out.MaxOutputTokens = override.MaxOutputTokens
	}
	return out
}

// classifyError turns rate-limit rejections into *llm.ThrottledError and
// wraps everything else.
func classifyError(err error) error {
	var apiErr genai.APIError
	if errors.As(err, &apiErr) && isThrottledAPIError(apiErr) {
		return throttled(apiErr, err)
	}
	var apiErrPtr *genai.APIError
	if errors.As(err, &apiErrPtr) && apiErrPtr != nil && isThrottledAPIError(*apiErrPtr) {
		return throttled(*apiErrPtr, err)
	}
	if strings.Contains(err.Error(), statusResourceExhausted) {
		return &llm.ThrottledError{Provider: providerName, Detail: err.Error(), Err: err}
	}
	return fmt.Errorf("gemini generation failed: %w", err)
}

func isThrottledAPIError(apiErr genai.APIError) bool {
	return apiErr.Code == http.StatusTooManyRequests || apiErr.Status == statusResourceExhausted
}

func throttled(apiErr genai.APIError, err error) *llm.ThrottledError {
	detail := strings.TrimSpace(apiErr.Message)
	if detail == "" {
		detail = err.Error()
	}
	return &llm.ThrottledError{
		Provider:   providerName,
		Detail:     detail,
		RetryAfter: retryDelay(apiErr.Details),
		Err:        err,
	}
}

// retryDelay extracts google.rpc.RetryInfo.retryDelay ("37s") when present.
func retryDelay(details []map[string]any) time.Duration {
	for _, d := range details {
		if t, _ := d["@type"].(string); t != retryInfoType {
			continue
		}
		raw, _ := d["retryDelay"].(string)
		if delay, err := time.ParseDuration(raw); err == nil {
			return delay
		}
	}
	return 0
}

func parseGeminiResponse(resp *genai.GenerateContentResponse) types.Response {
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		fallback := "I could not produce a response for this request."
		if resp != nil && resp.PromptFeedback != nil && strings.TrimSpace(resp.PromptFeedback.BlockReasonMessage) != "" {
			fallback = "Gemini returned no candidates: " + strings.TrimSpace(resp.PromptFeedback.BlockReasonMessage)
		}
		return types.Response{Message: types.Message{Role: types.RoleAssistant, Content: fallback}}
	}

	candidate := resp.Candidates[0].Content
	out := types.Message{Role: types.RoleAssistant}
	for _, part := range candidate.Parts {
		if part == nil || part.Text == "" {
			continue
		}
		if part.Thought {
			out.Reasoning += part.Text
		} else {
			out.Content += part.Text
		}
	}
	out.Reasoning = strings.TrimSpace(out.Reasoning)

	var usage *types.Usage
	if resp.UsageMetadata != nil {
		usage = &types.Usage{
			InputTokens:  int(resp.UsageMetadata.PromptTokenCount),
			OutputTokens: int(resp.UsageMetadata.CandidatesTokenCount),
			TotalTokens:  int(resp.UsageMetadata.TotalTokenCount),
		}
	}

	return types.Response{Message: out, Usage: usage}
}

func clampInt32(v int) int32 {
	if v <= 0 {
		return 0
	}
	if v > math.MaxInt32 {
		return math.MaxInt32
	}
	return int32(v)
}

func toGeminiContents(messages []types.Message) []*genai.Content {
	contents := make([]*genai.Content, 0, len(messages))
	for _, m := range messages {
		if m.Content == "" {
			continue
		}
		switch m.Role {
		case types.RoleUser:
			contents = append(contents, genai.NewContentFromText(m.Content, genai.RoleUser))
		case types.RoleAssistant:
			contents = append(contents, genai.NewContentFromText(m.Content, genai.RoleModel))
		}
	}
	return contents
}

var _ llm.Provider = (*Client)(nil)
