// ABOUTME: Inbound event shape shared by every transport that feeds the router
// ABOUTME: Sender phone, text and sender kind are extracted from prioritized aliases

package router

import "fmt"

// SenderKind classifies who authored an inbound event.
type SenderKind string

const (
	SenderUser  SenderKind = "user"
	SenderAgent SenderKind = "agent"
)

// Event is a normalized inbound message. Transports map their native payloads
// onto it; field aliases cover the shapes different providers emit.
type Event struct {
	// Sender phone aliases, highest priority first.
	Phone       string `json:"phone,omitempty"`
	User        string `json:"user,omitempty"`
	From        string `json:"from,omitempty"`
	FromPhone   string `json:"from_phone,omitempty"`
	SenderPhone string `json:"sender_phone,omitempty"`
	WaID        string `json:"wa_id,omitempty"`

	// Text aliases, highest priority first.
	Message string `json:"message,omitempty"`
	Text    string `json:"text,omitempty"`
	Body    string `json:"body,omitempty"`

	BusinessID string `json:"business_id,omitempty"`
	UserID     string `json:"user_id,omitempty"`

	// Sender-kind hints. SenderType wins over the boolean flags.
	SenderType string `json:"sender_type,omitempty"`
	IsAgent    bool   `json:"is_agent,omitempty"`
	IsAdvisor  bool   `json:"is_advisor,omitempty"`
	FromMe     bool   `json:"from_me,omitempty"`

	MessageID string `json:"message_id,omitempty"`
	Timestamp string `json:"timestamp,omitempty"`
}

// SenderResolver decides whether an event came from an agent or a user.
// Multi-tenant deployments can install their own policy.
type SenderResolver func(phone string, event *Event) SenderKind

// DefaultSenderResolver checks the explicit sender_type hint first, then the
// boolean flags, and treats everything else as a user message.
func DefaultSenderResolver(phone string, event *Event) SenderKind {
	switch event.SenderType {
	case "agent", "advisor":
		return SenderAgent
	case "user":
		return SenderUser
	}
	if event.IsAgent || event.IsAdvisor || event.FromMe {
		return SenderAgent
	}
	return SenderUser
}

func (e *Event) senderPhone() (string, error) {
	for _, candidate := range []string{e.Phone, e.User, e.From, e.FromPhone, e.SenderPhone, e.WaID} {
		if candidate != "" {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("%w: missing sender phone", ErrInvalidEvent)
}

func (e *Event) messageText() (string, error) {
	for _, candidate := range []string{e.Message, e.Text, e.Body} {
		if candidate != "" {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("%w: missing message text", ErrInvalidEvent)
}

// payload builds the persistence payload for an inbound message.
func (e *Event) payload(phone string) map[string]string {
	payload := map[string]string{"phone": phone}
	if e.MessageID != "" {
		payload["message_id"] = e.MessageID
	}
	if e.Timestamp != "" {
		payload["timestamp"] = e.Timestamp
	}
	return payload
}
