// Package config loads agent-web settings from a YAML file, the environment
// and an optional .env file.
package config

import (
	"log/slog"
	"strings"
	"time"

	"github.com/PipeOpsHQ/agent-web/types"
)

const maskedValue = "****"

type Config struct {
	Server     ServerConfig     `mapstructure:"server" yaml:"server"`
	Static     StaticConfig     `mapstructure:"static" yaml:"static"`
	Model      ModelConfig      `mapstructure:"model" yaml:"model"`
	Agent      AgentConfig      `mapstructure:"agent" yaml:"agent"`
	Log        LogConfig        `mapstructure:"log" yaml:"log"`
	Metrics    MetricsConfig    `mapstructure:"metrics" yaml:"metrics"`
	Tracing    TracingConfig    `mapstructure:"tracing" yaml:"tracing"`
	TraceStore TraceStoreConfig `mapstructure:"trace_store" yaml:"trace_store"`
}

type ServerConfig struct {
	// Addr is the listener address, e.g. "127.0.0.1:8000".
	Addr      string `mapstructure:"addr" yaml:"addr" validate:"required,hostname_port"`
	AgentPath string `mapstructure:"agent_path" yaml:"agent_path" validate:"required,startswith=/"`
	// MaxBodyBytes bounds how much of a request body is read.
	MaxBodyBytes int64 `mapstructure:"max_body_bytes" yaml:"max_body_bytes" validate:"gt=0"`
	// ExposeErrors appends the failure detail to error bodies.
	ExposeErrors      bool          `mapstructure:"expose_errors" yaml:"expose_errors"`
	ReadHeaderTimeout time.Duration `mapstructure:"read_header_timeout" yaml:"read_header_timeout" validate:"gte=0"`
}

type StaticConfig struct {
	IndexPath string `mapstructure:"index_path" yaml:"index_path" validate:"required"`
}

type ModelConfig struct {
	Provider        string  `mapstructure:"provider" yaml:"provider" validate:"required,oneof=gemini"`
	Name            string  `mapstructure:"name" yaml:"name" validate:"required"`
	APIKey          string  `mapstructure:"api_key" yaml:"api_key"`
	BaseURL         string  `mapstructure:"base_url" yaml:"base_url,omitempty" validate:"omitempty,url"`
	Temperature     float32 `mapstructure:"temperature" yaml:"temperature" validate:"gte=0,lte=2"`
	MaxOutputTokens int     `mapstructure:"max_output_tokens" yaml:"max_output_tokens" validate:"gt=0"`
	TopP            float32 `mapstructure:"top_p" yaml:"top_p" validate:"gte=0,lte=1"`
	TopK            float32 `mapstructure:"top_k" yaml:"top_k" validate:"gte=0"`
}

// Params returns the generation parameters sent with every request.
func (m ModelConfig) Params() types.GenerationParams {
	return types.GenerationParams{
		Temperature:     types.Float32(m.Temperature),
		TopP:            types.Float32(m.TopP),
		TopK:            types.Float32(m.TopK),
		MaxOutputTokens: m.MaxOutputTokens,
	}
}

type AgentConfig struct {
	SystemPrompt string        `mapstructure:"system_prompt" yaml:"system_prompt"`
	Timeout      time.Duration `mapstructure:"timeout" yaml:"timeout" validate:"gt=0"`
	// MaxHistory caps remembered messages; 0 keeps everything.
	MaxHistory int `mapstructure:"max_history" yaml:"max_history" validate:"gte=0"`
}

type LogConfig struct {
	Level  string `mapstructure:"level" yaml:"level" validate:"oneof=debug info warn error"`
	Format string `mapstructure:"format" yaml:"format" validate:"oneof=text json"`
}

// SlogLevel maps Level onto a slog level, defaulting to info.
func (l LogConfig) SlogLevel() slog.Level {
	switch strings.ToLower(l.Level) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

type MetricsConfig struct {
	// Addr enables the /metrics and /healthz listener when set.
	Addr string `mapstructure:"addr" yaml:"addr" validate:"omitempty,hostname_port"`
}

type TracingConfig struct {
	Enabled  bool   `mapstructure:"enabled" yaml:"enabled"`
	Exporter string `mapstructure:"exporter" yaml:"exporter" validate:"oneof=stdout none"`
}

type TraceStoreConfig struct {
	// Path of the sqlite trace database; empty disables the store.
	Path string `mapstructure:"path" yaml:"path"`
}

// Default returns the configuration used when nothing overrides it.
func Default() Config {
	return Config{
		Server: ServerConfig{
			Addr:              "127.0.0.1:8000",
			AgentPath:         "/cgi-bin/agent_script.py",
			MaxBodyBytes:      1 << 20,
			ExposeErrors:      true,
			ReadHeaderTimeout: 10 * time.Second,
		},
		Static: StaticConfig{IndexPath: "index.html"},
		Model: ModelConfig{
			Provider:        "gemini",
			Name:            "gemini-2.5-flash",
			Temperature:     0.7,
			MaxOutputTokens: 2048,
			TopP:            0.9,
			TopK:            40,
		},
		Agent: AgentConfig{
			Timeout: 120 * time.Second,
		},
		Log: LogConfig{Level: "info", Format: "text"},
		Tracing: TracingConfig{
			Enabled:  false,
			Exporter: "stdout",
		},
	}
}

// Masked returns a copy safe to print.
func (c Config) Masked() Config {
	out := c
	if out.Model.APIKey != "" {
		out.Model.APIKey = maskedValue
	}
	return out
}
