// Package config handles configuration loading for the whatsapp-bot service.
//
// # Overview
//
// Configuration is loaded from YAML files with environment variable expansion.
// The package provides validation and sensible defaults.
//
// # Environment Variable Expansion
//
// Configuration values can reference environment variables:
//
//	ai:
//	  azure:
//	    api_key: "${AZURE_OPENAI_API_KEY}"
//
// Syntax: ${VAR_NAME}. Unset variables expand to the empty string.
//
// # Configuration Sections
//
// Server settings:
//
//	server:
//	  http_addr: ":8080"   # webhook and health endpoints
//
// Database:
//
//	database:
//	  path: "/var/lib/whatsapp-bot/bot.db"
//
// Bot behavior:
//
//	bot:
//	  mode: "assisted"     # only supported mode
//
// AI provider:
//
//	ai:
//	  provider: "mock"     # mock, azure
//	  azure:
//	    api_key: "${AZURE_OPENAI_API_KEY}"
//	    endpoint: "https://example.openai.azure.com"
//	    deployment: "gpt-4o"
//	    api_version: "2024-02-15-preview"
//
// Messaging provider:
//
//	messaging:
//	  provider: "mock"     # mock, whatsapp
//	  whatsapp:
//	    phone_number_id: "${WHATSAPP_PHONE_NUMBER_ID}"
//	    access_token: "${WHATSAPP_ACCESS_TOKEN}"
//
// Logging:
//
//	logging:
//	  level: "info"   # debug, info, warn, error
//	  format: "text"  # text, json
//
// # Usage
//
// Load configuration:
//
//	cfg, err := config.Load("config.yaml")
//	if err != nil {
//	    log.Fatal(err)
//	}
package config
