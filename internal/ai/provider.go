// ABOUTME: AIProvider contract for free-form response generation
// ABOUTME: Includes the mock provider used for local runs and tests

package ai

import "context"

// Provider generates free-form responses when no flow response applies.
// The context bag carries conversation id, business id, control mode, stored
// conversation context, and the detected intent.
type Provider interface {
	GenerateResponse(ctx context.Context, message string, contextData map[string]string) (string, error)
}

// MockProvider is a canned AI provider for local testing
type MockProvider struct{}

// NewMockProvider creates a MockProvider
func NewMockProvider() *MockProvider {
	return &MockProvider{}
}

// GenerateResponse returns a fixed reply regardless of input
func (p *MockProvider) GenerateResponse(ctx context.Context, message string, contextData map[string]string) (string, error) {
	return "[MOCK AI] No entendi tu solicitud. Puedes reformularla?", nil
}

// Ensure MockProvider implements Provider
var _ Provider = (*MockProvider)(nil)
