package factory

import (
	"context"
	"fmt"
	"strings"

	"github.com/PipeOpsHQ/agent-web/internal/config"
	"github.com/PipeOpsHQ/agent-web/llm"
	geminiprov "github.com/PipeOpsHQ/agent-web/providers/gemini"
)

// FromConfig builds the model provider described by cfg.
func FromConfig(ctx context.Context, cfg config.ModelConfig) (llm.Provider, error) {
	provider := strings.ToLower(strings.TrimSpace(cfg.Provider))
	switch provider {
	case "", "gemini":
		key := strings.TrimSpace(cfg.APIKey)
		if key == "" {
			return nil, fmt.Errorf("GEMINI_API_KEY is required when model.provider=gemini")
		}
		opts := []geminiprov.Option{
			geminiprov.WithModel(cfg.Name),
			geminiprov.WithParams(cfg.Params()),
		}
		if cfg.BaseURL != "" {
			opts = append(opts, geminiprov.WithBaseURL(cfg.BaseURL))
		}
		return geminiprov.New(ctx, key, opts...)
	}

	return nil, fmt.Errorf("unsupported model.provider %q (use gemini)", provider)
}
