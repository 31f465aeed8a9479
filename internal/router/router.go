// ABOUTME: MessageRouter is the single entry point for every inbound chat event
// ABOUTME: Classifies the sender, persists messages, and routes between flow, AI and human support

package router

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/TomiGarbe/whatsapp-bot/internal/ai"
	"github.com/TomiGarbe/whatsapp-bot/internal/flow"
	"github.com/TomiGarbe/whatsapp-bot/internal/intent"
	"github.com/TomiGarbe/whatsapp-bot/internal/messaging"
	"github.com/TomiGarbe/whatsapp-bot/internal/store"
)

// ErrInvalidEvent is returned when an inbound event is missing required
// identifiers. Validation happens before any state mutation.
var ErrInvalidEvent = errors.New("invalid inbound event")

// RouterStore defines what the router needs from storage
type RouterStore interface {
	CreateUser(ctx context.Context, user *store.User) error
	GetUserByPhone(ctx context.Context, businessID, phone string) (*store.User, error)
	CreateConversation(ctx context.Context, conv *store.Conversation) error
	GetActiveConversation(ctx context.Context, businessID, userID string) (*store.Conversation, error)
	GetActiveConversationByPhone(ctx context.Context, phone string) (*store.Conversation, error)
	GetActiveAgentByContact(ctx context.Context, contact string) (*store.Agent, error)
	GetActiveConversationForAgent(ctx context.Context, agentID string) (*store.Conversation, error)
	SaveMessage(ctx context.Context, msg *store.Message) error
	TouchConversation(ctx context.Context, id string, at time.Time) error
}

// HumanSupport is the capability set the router needs from the human-support
// collaborator. support.Service is the default implementation.
type HumanSupport interface {
	RequestHumanSupport(ctx context.Context, conv *store.Conversation) error
	HandleUserHumanMessage(ctx context.Context, phone, text string, conv *store.Conversation) error
	HandleAgentMessage(ctx context.Context, phone, text string) error
}

// Router routes inbound events using the conversation control mode.
// It is the only component that mutates conversation control state.
type Router struct {
	store     RouterStore
	engine    *intent.Engine
	flow      *flow.Manager
	human     HumanSupport
	provider  ai.Provider
	messenger messaging.Provider
	resolver  SenderResolver
	logger    *slog.Logger

	mu            sync.RWMutex
	lastResponses map[string]string
}

// New creates a Router. A nil resolver uses DefaultSenderResolver.
func New(
	st RouterStore,
	engine *intent.Engine,
	flowManager *flow.Manager,
	human HumanSupport,
	provider ai.Provider,
	messenger messaging.Provider,
	resolver SenderResolver,
	logger *slog.Logger,
) *Router {
	if resolver == nil {
		resolver = DefaultSenderResolver
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Router{
		store:         st,
		engine:        engine,
		flow:          flowManager,
		human:         human,
		provider:      provider,
		messenger:     messenger,
		resolver:      resolver,
		logger:        logger.With("component", "router"),
		lastResponses: make(map[string]string),
	}
}

// Route processes one inbound event end to end.
// Validation failures return ErrInvalidEvent before any mutation; persistence
// and collaborator failures propagate so the transport layer can reject the
// event rather than silently dropping it.
func (r *Router) Route(ctx context.Context, event *Event) error {
	phone, err := event.senderPhone()
	if err != nil {
		return err
	}
	text, err := event.messageText()
	if err != nil {
		return err
	}

	if r.resolver(phone, event) == SenderAgent {
		return r.routeAgentMessage(ctx, phone, text, event)
	}
	return r.routeUserMessage(ctx, phone, text, event)
}

// LastResponse returns the last outbound response sent to a user phone.
// Test/debug helper for synchronous retrieval.
func (r *Router) LastResponse(phone string) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	resp, ok := r.lastResponses[phone]
	return resp, ok
}

func (r *Router) routeAgentMessage(ctx context.Context, phone, text string, event *Event) error {
	// Persist the inbound message against the agent's current conversation
	// when one exists. Command handling itself belongs to the support service.
	agent, err := r.store.GetActiveAgentByContact(ctx, phone)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return fmt.Errorf("resolving agent: %w", err)
	}
	if err == nil {
		conv, err := r.store.GetActiveConversationForAgent(ctx, agent.ID)
		if errors.Is(err, store.ErrNotFound) {
			// Best-effort fallback: without an assignment, the sender phone
			// may still resolve an active conversation to persist against.
			conv, err = r.store.GetActiveConversationByPhone(ctx, phone)
		}
		if err != nil && !errors.Is(err, store.ErrNotFound) {
			return fmt.Errorf("resolving agent conversation: %w", err)
		}
		if err == nil {
			if err := r.persistMessage(ctx, conv, store.SenderTypeAgent, store.DirectionInbound, text, event.payload(phone)); err != nil {
				return err
			}
		}
	}

	return r.human.HandleAgentMessage(ctx, phone, text)
}

func (r *Router) routeUserMessage(ctx context.Context, phone, text string, event *Event) error {
	if event.BusinessID == "" {
		return fmt.Errorf("%w: missing business_id", ErrInvalidEvent)
	}
	if _, err := uuid.Parse(event.BusinessID); err != nil {
		return fmt.Errorf("%w: invalid business_id", ErrInvalidEvent)
	}

	user, err := r.getOrCreateUser(ctx, event.BusinessID, phone)
	if err != nil {
		return err
	}
	conv, err := r.getOrCreateConversation(ctx, event.BusinessID, user.ID)
	if err != nil {
		return err
	}

	if err := r.persistMessage(ctx, conv, store.SenderTypeUser, store.DirectionInbound, text, event.payload(phone)); err != nil {
		return err
	}

	// A human owns this conversation: the flow/AI path must not run.
	if conv.ControlMode == store.ControlModeHuman {
		return r.human.HandleUserHumanMessage(ctx, phone, text, conv)
	}

	label := r.engine.Detect(text)
	r.logger.Debug("detected intent", "phone", phone, "intent", label)

	if label == intent.HumanHandoff {
		// No flow or AI response is generated for a handoff trigger; the
		// support service notifies both sides itself.
		return r.human.RequestHumanSupport(ctx, conv)
	}

	response, handled, err := r.flow.Handle(ctx, label, phone, text)
	if err != nil {
		return fmt.Errorf("flow handling failed: %w", err)
	}
	if !handled {
		response, err = r.provider.GenerateResponse(ctx, text, r.buildAIContext(conv, phone, label))
		if err != nil {
			return fmt.Errorf("ai response failed: %w", err)
		}
	}

	if err := r.persistMessage(ctx, conv, store.SenderTypeAssistant, store.DirectionOutbound, response, map[string]string{"intent": string(label)}); err != nil {
		return err
	}
	if err := r.messenger.SendMessage(ctx, phone, response); err != nil {
		return fmt.Errorf("dispatching response: %w", err)
	}

	r.mu.Lock()
	r.lastResponses[phone] = response
	r.mu.Unlock()
	return nil
}

// getOrCreateUser resolves a user idempotently keyed on (business, phone).
// A concurrent insert surfaces as ErrDuplicateUser and is recovered by
// re-reading the row the other writer created.
func (r *Router) getOrCreateUser(ctx context.Context, businessID, phone string) (*store.User, error) {
	user, err := r.store.GetUserByPhone(ctx, businessID, phone)
	if err == nil {
		return user, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("looking up user: %w", err)
	}

	user = &store.User{
		ID:         uuid.New().String(),
		BusinessID: businessID,
		ExternalID: phone,
		Phone:      phone,
		Locale:     "es",
		IsActive:   true,
		Profile:    map[string]string{},
		CreatedAt:  time.Now(),
	}
	err = r.store.CreateUser(ctx, user)
	if errors.Is(err, store.ErrDuplicateUser) {
		existing, lookupErr := r.store.GetUserByPhone(ctx, businessID, phone)
		if lookupErr == nil {
			r.logger.Debug("found existing user after race", "user_id", existing.ID)
			return existing, nil
		}
		return nil, fmt.Errorf("re-reading user after duplicate: %w", lookupErr)
	}
	if err != nil {
		return nil, fmt.Errorf("creating user: %w", err)
	}
	return user, nil
}

// getOrCreateConversation resolves the unique active conversation for a
// (business, user) pair, creating it lazily on first contact. Creation races
// recover by re-reading the row guarded by the partial unique index.
func (r *Router) getOrCreateConversation(ctx context.Context, businessID, userID string) (*store.Conversation, error) {
	conv, err := r.store.GetActiveConversation(ctx, businessID, userID)
	if err == nil {
		return conv, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("looking up conversation: %w", err)
	}

	conv = &store.Conversation{
		ID:          uuid.New().String(),
		BusinessID:  businessID,
		UserID:      userID,
		Channel:     "whatsapp",
		Status:      store.StatusActive,
		Mode:        r.flow.Mode(),
		ControlMode: store.ControlModeAI,
		Context:     map[string]string{},
		StartedAt:   time.Now(),
	}
	err = r.store.CreateConversation(ctx, conv)
	if errors.Is(err, store.ErrDuplicateConversation) {
		existing, lookupErr := r.store.GetActiveConversation(ctx, businessID, userID)
		if lookupErr == nil {
			r.logger.Debug("found existing conversation after race", "conversation_id", existing.ID)
			return existing, nil
		}
		return nil, fmt.Errorf("re-reading conversation after duplicate: %w", lookupErr)
	}
	if err != nil {
		return nil, fmt.Errorf("creating conversation: %w", err)
	}
	r.logger.Debug("created conversation", "conversation_id", conv.ID, "user_id", userID)
	return conv, nil
}

func (r *Router) persistMessage(ctx context.Context, conv *store.Conversation, senderType, direction, content string, payload map[string]string) error {
	now := time.Now()
	msg := &store.Message{
		ID:             uuid.New().String(),
		ConversationID: conv.ID,
		UserID:         conv.UserID,
		SenderType:     senderType,
		Direction:      direction,
		Content:        content,
		Payload:        payload,
		CreatedAt:      now,
	}
	if err := r.store.SaveMessage(ctx, msg); err != nil {
		return fmt.Errorf("persisting message: %w", err)
	}
	if err := r.store.TouchConversation(ctx, conv.ID, now); err != nil {
		return fmt.Errorf("updating conversation activity: %w", err)
	}
	return nil
}

func (r *Router) buildAIContext(conv *store.Conversation, phone string, label intent.Intent) map[string]string {
	contextData := map[string]string{
		"user":            phone,
		"conversation_id": conv.ID,
		"business_id":     conv.BusinessID,
		"user_id":         conv.UserID,
		"control_mode":    conv.ControlMode,
		"intent":          string(label),
		"mode":            r.flow.Mode(),
	}
	for k, v := range conv.Context {
		contextData["context."+k] = v
	}
	return contextData
}
