// ABOUTME: WhatsApp Cloud API implementation of the MessagingProvider contract
// ABOUTME: Sends text messages through the Graph API messages endpoint

package messaging

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// WhatsAppConfig holds the Cloud API connection settings
type WhatsAppConfig struct {
	BaseURL       string // defaults to the Graph API host
	AccessToken   string
	PhoneNumberID string
	APIVersion    string // defaults to v21.0
}

// WhatsAppProvider delivers messages through the WhatsApp Cloud API
type WhatsAppProvider struct {
	cfg    WhatsAppConfig
	client *http.Client
}

// NewWhatsAppProvider creates a WhatsAppProvider.
// A missing access token or phone number id is a configuration error.
func NewWhatsAppProvider(cfg WhatsAppConfig) (*WhatsAppProvider, error) {
	if cfg.AccessToken == "" || cfg.PhoneNumberID == "" {
		return nil, fmt.Errorf("whatsapp access token and phone number id are required")
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://graph.facebook.com"
	}
	if cfg.APIVersion == "" {
		cfg.APIVersion = "v21.0"
	}
	return &WhatsAppProvider{
		cfg:    cfg,
		client: &http.Client{Timeout: 15 * time.Second},
	}, nil
}

type textPayload struct {
	Body string `json:"body"`
}

type messagePayload struct {
	MessagingProduct string      `json:"messaging_product"`
	To               string      `json:"to"`
	Type             string      `json:"type"`
	Text             textPayload `json:"text"`
}

// SendMessage posts one text message to the Cloud API
func (p *WhatsAppProvider) SendMessage(ctx context.Context, destination, text string) error {
	body, err := json.Marshal(messagePayload{
		MessagingProduct: "whatsapp",
		To:               destination,
		Type:             "text",
		Text:             textPayload{Body: text},
	})
	if err != nil {
		return fmt.Errorf("encoding message payload: %w", err)
	}

	url := fmt.Sprintf("%s/%s/%s/messages",
		strings.TrimRight(p.cfg.BaseURL, "/"), p.cfg.APIVersion, p.cfg.PhoneNumberID)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("building message request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+p.cfg.AccessToken)

	resp, err := p.client.Do(req)
	if err != nil {
		return fmt.Errorf("calling whatsapp cloud api: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("whatsapp cloud api returned %d: %s", resp.StatusCode, strings.TrimSpace(string(data)))
	}
	return nil
}

// Ensure WhatsAppProvider implements Provider
var _ Provider = (*WhatsAppProvider)(nil)
