// ABOUTME: Configuration loading and parsing for the whatsapp-bot service
// ABOUTME: Supports YAML files with environment variable expansion and defaults

package config

import (
	"fmt"
	"os"
	"regexp"

	"gopkg.in/yaml.v3"
)

// Config represents the complete service configuration
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Database  DatabaseConfig  `yaml:"database"`
	Bot       BotConfig       `yaml:"bot"`
	AI        AIConfig        `yaml:"ai"`
	Messaging MessagingConfig `yaml:"messaging"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// ServerConfig holds the HTTP listener configuration
type ServerConfig struct {
	HTTPAddr string `yaml:"http_addr"`
}

// DatabaseConfig holds database configuration
type DatabaseConfig struct {
	Path string `yaml:"path"`
}

// BotConfig holds conversation-handling configuration
type BotConfig struct {
	// Mode selects how user messages are answered. Only "assisted" is
	// currently supported.
	Mode string `yaml:"mode"`
}

// AIConfig selects and configures the response provider
type AIConfig struct {
	// Provider is "mock" or "azure"
	Provider string      `yaml:"provider"`
	Azure    AzureConfig `yaml:"azure"`
}

// AzureConfig holds Azure OpenAI connection settings
type AzureConfig struct {
	APIKey     string `yaml:"api_key"`
	Endpoint   string `yaml:"endpoint"`
	Deployment string `yaml:"deployment"`
	APIVersion string `yaml:"api_version"`
}

// MessagingConfig selects and configures the outbound message provider
type MessagingConfig struct {
	// Provider is "mock" or "whatsapp"
	Provider string         `yaml:"provider"`
	WhatsApp WhatsAppConfig `yaml:"whatsapp"`
}

// WhatsAppConfig holds WhatsApp Cloud API settings
type WhatsAppConfig struct {
	BaseURL       string `yaml:"base_url"`
	APIVersion    string `yaml:"api_version"`
	PhoneNumberID string `yaml:"phone_number_id"`
	AccessToken   string `yaml:"access_token"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Load reads a configuration file from the given path and returns a parsed Config.
// Environment variables in the format ${VAR_NAME} are expanded.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	// Expand environment variables in the raw YAML content
	expandedData := expandEnvVars(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expandedData), &cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}

// expandEnvVars replaces ${VAR_NAME} patterns with the corresponding environment variable values.
// If the environment variable is not set, it is replaced with an empty string.
func expandEnvVars(s string) string {
	// Match ${VAR_NAME} pattern
	re := regexp.MustCompile(`\$\{([^}]+)\}`)

	return re.ReplaceAllStringFunc(s, func(match string) string {
		// Extract variable name from ${VAR_NAME}
		varName := re.FindStringSubmatch(match)[1]
		return os.Getenv(varName)
	})
}

func (c *Config) applyDefaults() {
	if c.Server.HTTPAddr == "" {
		c.Server.HTTPAddr = ":8080"
	}
	if c.Bot.Mode == "" {
		c.Bot.Mode = "assisted"
	}
	if c.AI.Provider == "" {
		c.AI.Provider = "mock"
	}
	if c.AI.Azure.APIVersion == "" {
		c.AI.Azure.APIVersion = "2024-02-15-preview"
	}
	if c.Messaging.Provider == "" {
		c.Messaging.Provider = "mock"
	}
	if c.Messaging.WhatsApp.BaseURL == "" {
		c.Messaging.WhatsApp.BaseURL = "https://graph.facebook.com"
	}
	if c.Messaging.WhatsApp.APIVersion == "" {
		c.Messaging.WhatsApp.APIVersion = "v19.0"
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "text"
	}
}

// Validate checks that all required configuration fields are present and valid.
// Returns an error describing the first validation failure encountered.
func (c *Config) Validate() error {
	if c.Database.Path == "" {
		return fmt.Errorf("database.path is required")
	}

	if c.Bot.Mode != "assisted" {
		return fmt.Errorf("bot.mode %q is not supported", c.Bot.Mode)
	}

	switch c.AI.Provider {
	case "mock":
	case "azure":
		if c.AI.Azure.APIKey == "" {
			return fmt.Errorf("ai.azure.api_key is required when ai.provider is azure")
		}
		if c.AI.Azure.Endpoint == "" {
			return fmt.Errorf("ai.azure.endpoint is required when ai.provider is azure")
		}
		if c.AI.Azure.Deployment == "" {
			return fmt.Errorf("ai.azure.deployment is required when ai.provider is azure")
		}
	default:
		return fmt.Errorf("ai.provider %q is not supported", c.AI.Provider)
	}

	switch c.Messaging.Provider {
	case "mock":
	case "whatsapp":
		if c.Messaging.WhatsApp.PhoneNumberID == "" {
			return fmt.Errorf("messaging.whatsapp.phone_number_id is required when messaging.provider is whatsapp")
		}
		if c.Messaging.WhatsApp.AccessToken == "" {
			return fmt.Errorf("messaging.whatsapp.access_token is required when messaging.provider is whatsapp")
		}
	default:
		return fmt.Errorf("messaging.provider %q is not supported", c.Messaging.Provider)
	}

	return nil
}
