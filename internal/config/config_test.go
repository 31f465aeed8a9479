// ABOUTME: Tests for configuration loading and parsing
// ABOUTME: Covers YAML loading, env var expansion, defaults and validation

package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	configPath := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(configPath, []byte(content), 0644); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}
	return configPath
}

func TestLoad_ValidConfig(t *testing.T) {
	configPath := writeConfig(t, `
server:
  http_addr: "0.0.0.0:8080"

database:
  path: "./test.db"

bot:
  mode: "assisted"

ai:
  provider: "azure"
  azure:
    api_key: "test-key"
    endpoint: "https://example.openai.azure.com"
    deployment: "gpt-4o"
    api_version: "2024-02-15-preview"

messaging:
  provider: "whatsapp"
  whatsapp:
    phone_number_id: "123456"
    access_token: "wa-token"

logging:
  level: "debug"
  format: "json"
`)

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Server.HTTPAddr != "0.0.0.0:8080" {
		t.Errorf("Server.HTTPAddr = %q, want %q", cfg.Server.HTTPAddr, "0.0.0.0:8080")
	}
	if cfg.Database.Path != "./test.db" {
		t.Errorf("Database.Path = %q, want %q", cfg.Database.Path, "./test.db")
	}
	if cfg.Bot.Mode != "assisted" {
		t.Errorf("Bot.Mode = %q, want %q", cfg.Bot.Mode, "assisted")
	}

	if cfg.AI.Provider != "azure" {
		t.Errorf("AI.Provider = %q, want %q", cfg.AI.Provider, "azure")
	}
	if cfg.AI.Azure.APIKey != "test-key" {
		t.Errorf("AI.Azure.APIKey = %q, want %q", cfg.AI.Azure.APIKey, "test-key")
	}
	if cfg.AI.Azure.Deployment != "gpt-4o" {
		t.Errorf("AI.Azure.Deployment = %q, want %q", cfg.AI.Azure.Deployment, "gpt-4o")
	}

	if cfg.Messaging.Provider != "whatsapp" {
		t.Errorf("Messaging.Provider = %q, want %q", cfg.Messaging.Provider, "whatsapp")
	}
	if cfg.Messaging.WhatsApp.PhoneNumberID != "123456" {
		t.Errorf("Messaging.WhatsApp.PhoneNumberID = %q, want %q", cfg.Messaging.WhatsApp.PhoneNumberID, "123456")
	}
	if cfg.Messaging.WhatsApp.BaseURL != "https://graph.facebook.com" {
		t.Errorf("Messaging.WhatsApp.BaseURL = %q, want default", cfg.Messaging.WhatsApp.BaseURL)
	}

	if cfg.Logging.Level != "debug" {
		t.Errorf("Logging.Level = %q, want %q", cfg.Logging.Level, "debug")
	}
	if cfg.Logging.Format != "json" {
		t.Errorf("Logging.Format = %q, want %q", cfg.Logging.Format, "json")
	}
}

func TestLoad_Defaults(t *testing.T) {
	configPath := writeConfig(t, `
database:
  path: "./test.db"
`)

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Server.HTTPAddr != ":8080" {
		t.Errorf("Server.HTTPAddr = %q, want default %q", cfg.Server.HTTPAddr, ":8080")
	}
	if cfg.Bot.Mode != "assisted" {
		t.Errorf("Bot.Mode = %q, want default %q", cfg.Bot.Mode, "assisted")
	}
	if cfg.AI.Provider != "mock" {
		t.Errorf("AI.Provider = %q, want default %q", cfg.AI.Provider, "mock")
	}
	if cfg.Messaging.Provider != "mock" {
		t.Errorf("Messaging.Provider = %q, want default %q", cfg.Messaging.Provider, "mock")
	}
	if cfg.Logging.Level != "info" {
		t.Errorf("Logging.Level = %q, want default %q", cfg.Logging.Level, "info")
	}
	if cfg.Logging.Format != "text" {
		t.Errorf("Logging.Format = %q, want default %q", cfg.Logging.Format, "text")
	}
}

func TestLoad_EnvVarExpansion(t *testing.T) {
	t.Setenv("TEST_AZURE_API_KEY", "azure-from-env")
	t.Setenv("TEST_WA_TOKEN", "wa-from-env")

	configPath := writeConfig(t, `
database:
  path: "./test.db"

ai:
  provider: "azure"
  azure:
    api_key: "${TEST_AZURE_API_KEY}"
    endpoint: "https://example.openai.azure.com"
    deployment: "gpt-4o"

messaging:
  provider: "whatsapp"
  whatsapp:
    phone_number_id: "123456"
    access_token: "${TEST_WA_TOKEN}"
`)

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.AI.Azure.APIKey != "azure-from-env" {
		t.Errorf("AI.Azure.APIKey = %q, want %q", cfg.AI.Azure.APIKey, "azure-from-env")
	}
	if cfg.Messaging.WhatsApp.AccessToken != "wa-from-env" {
		t.Errorf("Messaging.WhatsApp.AccessToken = %q, want %q", cfg.Messaging.WhatsApp.AccessToken, "wa-from-env")
	}
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load("/nonexistent/path/config.yaml")
	if err == nil {
		t.Error("Load() expected error for missing file, got nil")
	}
}

func TestLoad_InvalidYAML(t *testing.T) {
	configPath := writeConfig(t, `
server:
  http_addr "missing colon"
`)

	_, err := Load(configPath)
	if err == nil {
		t.Error("Load() expected error for invalid YAML, got nil")
	}
}

func TestLoad_ValidationErrors(t *testing.T) {
	tests := []struct {
		name          string
		configContent string
		wantErrSubstr string
	}{
		{
			name: "missing database path",
			configContent: `
server:
  http_addr: ":8080"
`,
			wantErrSubstr: "database.path is required",
		},
		{
			name: "unsupported bot mode",
			configContent: `
database:
  path: "./test.db"
bot:
  mode: "autonomous"
`,
			wantErrSubstr: "bot.mode",
		},
		{
			name: "azure without api key",
			configContent: `
database:
  path: "./test.db"
ai:
  provider: "azure"
  azure:
    endpoint: "https://example.openai.azure.com"
    deployment: "gpt-4o"
`,
			wantErrSubstr: "ai.azure.api_key is required",
		},
		{
			name: "unknown ai provider",
			configContent: `
database:
  path: "./test.db"
ai:
  provider: "chatgpt"
`,
			wantErrSubstr: "ai.provider",
		},
		{
			name: "whatsapp without access token",
			configContent: `
database:
  path: "./test.db"
messaging:
  provider: "whatsapp"
  whatsapp:
    phone_number_id: "123456"
`,
			wantErrSubstr: "messaging.whatsapp.access_token is required",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			configPath := writeConfig(t, tt.configContent)

			_, err := Load(configPath)
			if err == nil {
				t.Errorf("Load() expected error containing %q, got nil", tt.wantErrSubstr)
				return
			}
			if !strings.Contains(err.Error(), tt.wantErrSubstr) {
				t.Errorf("Load() error = %q, want error containing %q", err.Error(), tt.wantErrSubstr)
			}
		})
	}
}

func TestExpandEnvVars(t *testing.T) {
	t.Setenv("FOO", "bar")
	t.Setenv("BAZ", "qux")

	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{name: "single env var", input: "${FOO}", expected: "bar"},
		{name: "env var with surrounding text", input: "prefix-${FOO}-suffix", expected: "prefix-bar-suffix"},
		{name: "multiple env vars", input: "${FOO}/${BAZ}", expected: "bar/qux"},
		{name: "no env vars", input: "no-vars-here", expected: "no-vars-here"},
		{name: "unset env var", input: "${UNSET_VAR}", expected: ""},
		{name: "empty string", input: "", expected: ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := expandEnvVars(tt.input)
			if result != tt.expected {
				t.Errorf("expandEnvVars(%q) = %q, want %q", tt.input, result, tt.expected)
			}
		})
	}
}
