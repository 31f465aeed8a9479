// ABOUTME: Store interface and entity types for whatsapp-bot persistence
// ABOUTME: Defines Business, User, Agent, Conversation, Message and the Store interface

package store

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a requested entity does not exist
var ErrNotFound = errors.New("not found")

// ErrDuplicateUser is returned when a user already exists for (business_id, external_id)
var ErrDuplicateUser = errors.New("user already exists")

// ErrDuplicateConversation is returned when an active conversation already
// exists for (business_id, user_id)
var ErrDuplicateConversation = errors.New("active conversation already exists")

// Conversation status values
const (
	StatusActive = "active"
	StatusClosed = "closed"
)

// Conversation flow mode values
const (
	ModeAssisted   = "assisted"
	ModeAutonomous = "autonomous"
)

// Conversation control mode values: who currently owns outbound responses
const (
	ControlModeAI    = "ai"
	ControlModeHuman = "human"
)

// Human status values, meaningful only while control_mode is "human".
// An empty string means the conversation is not in the human workflow.
const (
	HumanStatusWaiting = "waiting"
	HumanStatusActive  = "active"
)

// Message sender types
const (
	SenderTypeUser      = "user"
	SenderTypeAgent     = "agent"
	SenderTypeAssistant = "assistant"
	SenderTypeSystem    = "system"
)

// Message directions
const (
	DirectionInbound  = "inbound"
	DirectionOutbound = "outbound"
	DirectionInternal = "internal"
)

// Business is a tenant of the bot
type Business struct {
	ID        string
	Name      string
	CreatedAt time.Time
}

// User is an end customer scoped to a business.
// Users are resolved or created idempotently keyed on (business_id, external_id);
// for WhatsApp the external id is the sender phone.
type User struct {
	ID         string
	BusinessID string
	ExternalID string
	Phone      string
	Name       string
	Locale     string
	IsActive   bool
	Profile    map[string]string
	CreatedAt  time.Time
}

// Agent is a human responder scoped to a business.
// Contact is the delivery address for forwarded messages (phone or email).
type Agent struct {
	ID         string
	BusinessID string
	Name       string
	Contact    string
	IsActive   bool
	CreatedAt  time.Time
}

// Conversation is one ongoing session between a user and a business.
// At most one conversation per (business_id, user_id) may have status "active";
// the store enforces this with a partial unique index.
type Conversation struct {
	ID              string
	BusinessID      string
	UserID          string
	Channel         string
	Status          string
	Mode            string
	ControlMode     string
	HumanStatus     string // "" unless control_mode is "human"
	AssignedAgentID string // "" when unassigned
	Context         map[string]string
	StartedAt       time.Time
	LastMessageAt   *time.Time
	ClosedAt        *time.Time
}

// Message is one unit of conversation content, append-only.
type Message struct {
	ID             string
	ConversationID string
	UserID         string
	SenderType     string
	Direction      string
	Content        string
	Payload        map[string]string
	CreatedAt      time.Time
}

// FlowState is the assisted-flow cursor for one user, keyed by phone.
type FlowState struct {
	Phone     string
	State     string
	RequestID string
	UpdatedAt time.Time
}

// Store defines the persistence interface consumed by the routing core.
// All mutations are transactional; lookup-or-create races surface as the
// duplicate sentinels above so callers can recover with a re-read.
type Store interface {
	// Businesses
	CreateBusiness(ctx context.Context, business *Business) error
	GetBusiness(ctx context.Context, id string) (*Business, error)

	// Users
	CreateUser(ctx context.Context, user *User) error
	GetUser(ctx context.Context, id string) (*User, error)
	GetUserByPhone(ctx context.Context, businessID, phone string) (*User, error)

	// Agents
	CreateAgent(ctx context.Context, agent *Agent) error
	GetAgent(ctx context.Context, id string) (*Agent, error)
	GetActiveAgentByContact(ctx context.Context, contact string) (*Agent, error)
	FirstActiveAgent(ctx context.Context, businessID string) (*Agent, error)

	// Conversations
	CreateConversation(ctx context.Context, conv *Conversation) error
	GetConversation(ctx context.Context, id string) (*Conversation, error)
	GetActiveConversation(ctx context.Context, businessID, userID string) (*Conversation, error)
	GetActiveConversationByPhone(ctx context.Context, phone string) (*Conversation, error)
	GetActiveHumanConversation(ctx context.Context, businessID string) (*Conversation, error)
	GetActiveConversationForAgent(ctx context.Context, agentID string) (*Conversation, error)
	GetActiveHumanConversationForClient(ctx context.Context, agentID, clientPhone string) (*Conversation, error)
	UpdateConversationControl(ctx context.Context, conv *Conversation) error
	TouchConversation(ctx context.Context, id string, at time.Time) error

	// CloseAndPromote closes conversationID (control back to AI, unassigned,
	// status closed) and promotes the FIFO-oldest waiting conversation of the
	// same business to active under agentID, all in a single transaction.
	// The returned conversation is nil when no one was waiting.
	CloseAndPromote(ctx context.Context, conversationID, agentID string) (*Conversation, error)

	// Messages
	SaveMessage(ctx context.Context, msg *Message) error
	GetConversationMessages(ctx context.Context, conversationID string, limit int) ([]*Message, error)

	// Flow state
	GetFlowState(ctx context.Context, phone string) (*FlowState, error)
	SetFlowState(ctx context.Context, phone, state, requestID string) error
	ResetFlowState(ctx context.Context, phone string) error

	// Close releases any resources held by the store
	Close() error
}
