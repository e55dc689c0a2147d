package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/goccy/go-yaml"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

const (
	envPrefix  = "AGENT_WEB"
	configName = "agent-web"
)

// LoadDotEnv loads variables from the given .env files (".env" when none are
// named) without overriding the existing environment. Missing files are
// ignored.
func LoadDotEnv(paths ...string) error {
	if len(paths) == 0 {
		paths = []string{".env"}
	}
	for _, path := range paths {
		if err := godotenv.Load(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("failed to load %s: %w", path, err)
		}
	}
	return nil
}

// Load reads configFile (or agent-web.yaml from the standard locations when
// empty), applies AGENT_WEB_* and GEMINI_* environment overrides on top of
// the defaults, and validates the result.
func Load(configFile string) (*Config, error) {
	v := newViper(configFile)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	cfg.Model.APIKey = strings.TrimSpace(cfg.Model.APIKey)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return &cfg, nil
}

func newViper(configFile string) *viper.Viper {
	v := viper.New()
	if configFile != "" {
		v.SetConfigFile(configFile)
	} else if found := findConfigFile(); found != "" {
		v.SetConfigFile(found)
	} else {
		v.SetConfigName(configName)
		v.SetConfigType("yaml")
	}

	// AGENT_WEB_SERVER_ADDR overrides server.addr
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	_ = v.BindEnv("model.api_key", envPrefix+"_MODEL_API_KEY", "GEMINI_API_KEY")
	_ = v.BindEnv("model.name", envPrefix+"_MODEL_NAME", "GEMINI_MODEL")
	return v
}

func setDefaults(v *viper.Viper) {
	d := Default()
	v.SetDefault("server.addr", d.Server.Addr)
	v.SetDefault("server.agent_path", d.Server.AgentPath)
	v.SetDefault("server.max_body_bytes", d.Server.MaxBodyBytes)
	v.SetDefault("server.expose_errors", d.Server.ExposeErrors)
	v.SetDefault("server.read_header_timeout", d.Server.ReadHeaderTimeout)
	v.SetDefault("static.index_path", d.Static.IndexPath)
	v.SetDefault("model.provider", d.Model.Provider)
	v.SetDefault("model.name", d.Model.Name)
	v.SetDefault("model.api_key", "")
	v.SetDefault("model.base_url", "")
	v.SetDefault("model.temperature", d.Model.Temperature)
	v.SetDefault("model.max_output_tokens", d.Model.MaxOutputTokens)
	v.SetDefault("model.top_p", d.Model.TopP)
	v.SetDefault("model.top_k", d.Model.TopK)
	v.SetDefault("agent.system_prompt", d.Agent.SystemPrompt)
	v.SetDefault("agent.timeout", d.Agent.Timeout)
	v.SetDefault("agent.max_history", d.Agent.MaxHistory)
	v.SetDefault("log.level", d.Log.Level)
	v.SetDefault("log.format", d.Log.Format)
	v.SetDefault("metrics.addr", d.Metrics.Addr)
	v.SetDefault("tracing.enabled", d.Tracing.Enabled)
	v.SetDefault("tracing.exporter", d.Tracing.Exporter)
	v.SetDefault("trace_store.path", d.TraceStore.Path)
}

// findConfigFile looks for agent-web.yaml or .yml with an explicit extension
// so the binary itself is never matched.
func findConfigFile() string {
	home, _ := os.UserHomeDir()
	return findConfigFileInPaths([]string{".", filepath.Join(home, ".agent-web")})
}

func findConfigFileInPaths(paths []string) string {
	for _, dir := range paths {
		for _, ext := range []string{".yaml", ".yml"} {
			path := filepath.Join(dir, configName+ext)
			if _, err := os.Stat(path); err == nil {
				return path
			}
		}
	}
	return ""
}

// YAML renders the configuration with the credential masked.
func (c Config) YAML() ([]byte, error) {
	out, err := yaml.Marshal(c.Masked())
	if err != nil {
		return nil, fmt.Errorf("failed to render config: %w", err)
	}
	return out, nil
}
