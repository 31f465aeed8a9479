// ABOUTME: MessagingProvider contract for outbound message delivery
// ABOUTME: Includes the logging mock provider used for local runs and tests

package messaging

import (
	"context"
	"log/slog"
	"sync"
)

// Provider delivers outbound messages to a destination address (user phone or
// agent contact). Delivery is fire-and-forget from the router's perspective.
type Provider interface {
	SendMessage(ctx context.Context, destination, text string) error
}

// MockProvider logs outbound messages and records them for assertions
type MockProvider struct {
	mu     sync.Mutex
	sent   []SentMessage
	logger *slog.Logger
}

// SentMessage is one recorded outbound delivery
type SentMessage struct {
	Destination string
	Text        string
}

// NewMockProvider creates a MockProvider
func NewMockProvider(logger *slog.Logger) *MockProvider {
	if logger == nil {
		logger = slog.Default()
	}
	return &MockProvider{logger: logger.With("component", "messaging")}
}

// SendMessage records and logs the delivery
func (p *MockProvider) SendMessage(ctx context.Context, destination, text string) error {
	p.mu.Lock()
	p.sent = append(p.sent, SentMessage{Destination: destination, Text: text})
	p.mu.Unlock()

	p.logger.Info("mock message sent", "destination", destination, "text", text)
	return nil
}

// Sent returns a copy of all recorded deliveries
func (p *MockProvider) Sent() []SentMessage {
	p.mu.Lock()
	defer p.mu.Unlock()

	out := make([]SentMessage, len(p.sent))
	copy(out, p.sent)
	return out
}

// SentTo returns the deliveries recorded for one destination
func (p *MockProvider) SentTo(destination string) []SentMessage {
	p.mu.Lock()
	defer p.mu.Unlock()

	var out []SentMessage
	for _, m := range p.sent {
		if m.Destination == destination {
			out = append(out, m)
		}
	}
	return out
}

// Ensure MockProvider implements Provider
var _ Provider = (*MockProvider)(nil)
