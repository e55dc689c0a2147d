package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "agent-web.yaml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestDefault_IsValid(t *testing.T) {
	cfg := Default()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config should validate: %v", err)
	}
	if cfg.Server.Addr != "127.0.0.1:8000" {
		t.Errorf("Addr = %q, want 127.0.0.1:8000", cfg.Server.Addr)
	}
	if cfg.Server.AgentPath != "/cgi-bin/agent_script.py" {
		t.Errorf("AgentPath = %q", cfg.Server.AgentPath)
	}
	if cfg.Model.Name != "gemini-2.5-flash" || cfg.Model.MaxOutputTokens != 2048 {
		t.Errorf("unexpected model defaults: %+v", cfg.Model)
	}
}

func TestModelConfig_Params(t *testing.T) {
	params := Default().Model.Params()
	if params.Temperature == nil || *params.Temperature != 0.7 {
		t.Fatalf("Temperature = %v", params.Temperature)
	}
	if params.TopP == nil || *params.TopP != 0.9 {
		t.Fatalf("TopP = %v", params.TopP)
	}
	if params.TopK == nil || *params.TopK != 40 {
		t.Fatalf("TopK = %v", params.TopK)
	}
	if params.MaxOutputTokens != 2048 {
		t.Fatalf("MaxOutputTokens = %d", params.MaxOutputTokens)
	}
}

func TestLoad_File(t *testing.T) {
	path := writeConfig(t, `
server:
  addr: "127.0.0.1:9090"
  expose_errors: false
agent:
  timeout: 30s
  system_prompt: "be helpful"
log:
  level: debug
  format: json
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Server.Addr != "127.0.0.1:9090" {
		t.Errorf("Addr = %q", cfg.Server.Addr)
	}
	if cfg.Server.ExposeErrors {
		t.Error("ExposeErrors should be false")
	}
	if cfg.Agent.Timeout != 30*time.Second {
		t.Errorf("Timeout = %s", cfg.Agent.Timeout)
	}
	if cfg.Agent.SystemPrompt != "be helpful" {
		t.Errorf("SystemPrompt = %q", cfg.Agent.SystemPrompt)
	}
	if cfg.Log.Format != "json" {
		t.Errorf("Format = %q", cfg.Log.Format)
	}
	// untouched keys keep their defaults
	if cfg.Server.AgentPath != "/cgi-bin/agent_script.py" {
		t.Errorf("AgentPath = %q", cfg.Server.AgentPath)
	}
	if cfg.Model.TopK != 40 {
		t.Errorf("TopK = %v", cfg.Model.TopK)
	}
}

func TestLoad_EnvOverrides(t *testing.T) {
	path := writeConfig(t, "log:\n  level: info\n")
	t.Setenv("AGENT_WEB_SERVER_ADDR", "0.0.0.0:8081")
	t.Setenv("AGENT_WEB_SERVER_EXPOSE_ERRORS", "false")
	t.Setenv("AGENT_WEB_AGENT_MAX_HISTORY", "12")
	t.Setenv("GEMINI_API_KEY", "  secret-key  ")
	t.Setenv("GEMINI_MODEL", "gemini-2.5-pro")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Server.Addr != "0.0.0.0:8081" {
		t.Errorf("Addr = %q", cfg.Server.Addr)
	}
	if cfg.Server.ExposeErrors {
		t.Error("ExposeErrors should be overridden to false")
	}
	if cfg.Agent.MaxHistory != 12 {
		t.Errorf("MaxHistory = %d", cfg.Agent.MaxHistory)
	}
	if cfg.Model.APIKey != "secret-key" {
		t.Errorf("APIKey = %q", cfg.Model.APIKey)
	}
	if cfg.Model.Name != "gemini-2.5-pro" {
		t.Errorf("Name = %q", cfg.Model.Name)
	}
}

func TestLoad_PrefixedKeyWinsOverProviderVariable(t *testing.T) {
	path := writeConfig(t, "log:\n  level: info\n")
	t.Setenv("AGENT_WEB_MODEL_API_KEY", "prefixed")
	t.Setenv("GEMINI_API_KEY", "provider")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Model.APIKey != "prefixed" {
		t.Errorf("APIKey = %q, want prefixed", cfg.Model.APIKey)
	}
}

func TestLoad_ValidationErrors(t *testing.T) {
	tests := []struct {
		name string
		body string
		want string
	}{
		{"bad level", "log:\n  level: verbose\n", "must be one of"},
		{"bad provider", "model:\n  provider: openai\n", "must be one of"},
		{"relative agent path", "server:\n  agent_path: agent\n", "must start with"},
		{"bad addr", "server:\n  addr: nope\n", "host:port"},
		{"agent path shadows index", "server:\n  agent_path: /\n", "shadow"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tt.body))
			if err == nil {
				t.Fatal("expected validation error")
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Fatalf("error %q does not contain %q", err, tt.want)
			}
		})
	}
}

func TestLoad_MissingExplicitFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatal("expected error for missing config file")
	}
}

func TestConfig_YAMLMasksCredential(t *testing.T) {
	cfg := Default()
	cfg.Model.APIKey = "super-secret"

	out, err := cfg.YAML()
	if err != nil {
		t.Fatalf("YAML failed: %v", err)
	}
	text := string(out)
	if strings.Contains(text, "super-secret") {
		t.Fatalf("credential leaked:\n%s", text)
	}
	if !strings.Contains(text, maskedValue) {
		t.Fatalf("expected masked credential:\n%s", text)
	}
	if !strings.Contains(text, "gemini-2.5-flash") {
		t.Fatalf("expected model name:\n%s", text)
	}
	if cfg.Model.APIKey != "super-secret" {
		t.Fatal("Masked must not modify the receiver")
	}
}

func TestLoadDotEnv(t *testing.T) {
	const key = "AGENT_WEB_DOTENV_TEST_VALUE"
	t.Cleanup(func() { _ = os.Unsetenv(key) })

	path := filepath.Join(t.TempDir(), ".env")
	if err := os.WriteFile(path, []byte(key+"=from-dotenv\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	if err := LoadDotEnv(path); err != nil {
		t.Fatalf("LoadDotEnv failed: %v", err)
	}
	if got := os.Getenv(key); got != "from-dotenv" {
		t.Fatalf("%s = %q", key, got)
	}
}

func TestLoadDotEnv_MissingFileIgnored(t *testing.T) {
	if err := LoadDotEnv(filepath.Join(t.TempDir(), ".env")); err != nil {
		t.Fatalf("missing .env should be ignored: %v", err)
	}
}

func TestFindConfigFileInPaths(t *testing.T) {
	dir := t.TempDir()
	if got := findConfigFileInPaths([]string{dir}); got != "" {
		t.Fatalf("expected no match, got %q", got)
	}
	path := filepath.Join(dir, "agent-web.yml")
	if err := os.WriteFile(path, []byte("{}"), 0o600); err != nil {
		t.Fatal(err)
	}
	if got := findConfigFileInPaths([]string{dir}); got != path {
		t.Fatalf("got %q, want %q", got, path)
	}
}
