// ABOUTME: Human support workflow: agent assignment, handoff queueing, agent commands
// ABOUTME: Implements the single-active-conversation-per-business discipline with FIFO promotion

package support

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/TomiGarbe/whatsapp-bot/internal/messaging"
	"github.com/TomiGarbe/whatsapp-bot/internal/store"
)

// ErrNoActiveAgent is returned by RequestHumanSupport when the business has no
// active agent to hand the conversation to.
var ErrNoActiveAgent = errors.New("no active agent configured")

// CloseCommand is the agent-side command that closes their current
// conversation. With an argument ("/cerrar <phone>") it targets a client.
const CloseCommand = "/cerrar"

// contextMessageCount is how many recent messages are pushed to an agent on assignment
const contextMessageCount = 5

// SupportStore defines what the service needs from storage
type SupportStore interface {
	GetUser(ctx context.Context, id string) (*store.User, error)
	GetAgent(ctx context.Context, id string) (*store.Agent, error)
	GetActiveAgentByContact(ctx context.Context, contact string) (*store.Agent, error)
	FirstActiveAgent(ctx context.Context, businessID string) (*store.Agent, error)
	GetActiveHumanConversation(ctx context.Context, businessID string) (*store.Conversation, error)
	GetActiveConversationForAgent(ctx context.Context, agentID string) (*store.Conversation, error)
	GetActiveHumanConversationForClient(ctx context.Context, agentID, clientPhone string) (*store.Conversation, error)
	UpdateConversationControl(ctx context.Context, conv *store.Conversation) error
	CloseAndPromote(ctx context.Context, conversationID, agentID string) (*store.Conversation, error)
	GetConversationMessages(ctx context.Context, conversationID string, limit int) ([]*store.Message, error)
}

// Service owns agent assignment, handoff queueing, and the agent-facing
// command surface. Only one conversation per business is serviced by a human
// at a time; the rest wait in a strictly FIFO queue ordered by start time.
type Service struct {
	store     SupportStore
	messenger messaging.Provider
	logger    *slog.Logger
}

// New creates a Service
func New(st SupportStore, messenger messaging.Provider, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		store:     st,
		messenger: messenger,
		logger:    logger.With("component", "support"),
	}
}

// RequestHumanSupport switches a conversation to human control.
// When no other conversation for the business is being serviced, the
// earliest-created active agent is assigned immediately and receives the
// conversation context; otherwise the conversation queues as waiting.
// Returns ErrNoActiveAgent when the business has no active agent.
func (s *Service) RequestHumanSupport(ctx context.Context, conv *store.Conversation) error {
	agent, err := s.store.FirstActiveAgent(ctx, conv.BusinessID)
	if errors.Is(err, store.ErrNotFound) {
		return fmt.Errorf("business %s: %w", conv.BusinessID, ErrNoActiveAgent)
	}
	if err != nil {
		return fmt.Errorf("resolving agent: %w", err)
	}

	_, err = s.store.GetActiveHumanConversation(ctx, conv.BusinessID)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return fmt.Errorf("checking active human conversation: %w", err)
	}
	agentBusy := err == nil

	if agentBusy {
		conv.ControlMode = store.ControlModeHuman
		conv.HumanStatus = store.HumanStatusWaiting
		conv.AssignedAgentID = ""
		if err := s.store.UpdateConversationControl(ctx, conv); err != nil {
			return fmt.Errorf("queueing conversation: %w", err)
		}
		s.logger.Info("conversation queued for human support",
			"conversation_id", conv.ID,
			"business_id", conv.BusinessID)
		s.sendToUser(ctx, conv, "Todos nuestros asesores están ocupados. Estás en la cola de espera.")
		return nil
	}

	conv.ControlMode = store.ControlModeHuman
	conv.HumanStatus = store.HumanStatusActive
	conv.AssignedAgentID = agent.ID
	if err := s.store.UpdateConversationControl(ctx, conv); err != nil {
		return fmt.Errorf("assigning conversation: %w", err)
	}
	s.logger.Info("conversation assigned to agent",
		"conversation_id", conv.ID,
		"agent_id", agent.ID)

	s.sendConversationContext(ctx, conv, agent)
	s.sendToUser(ctx, conv, "Un asesor está tomando tu conversación.")
	return nil
}

// HandleUserHumanMessage processes a user message while the conversation is
// human-controlled. Waiting conversations only record the message; active
// ones forward it verbatim to the assigned agent.
func (s *Service) HandleUserHumanMessage(ctx context.Context, phone, text string, conv *store.Conversation) error {
	switch conv.HumanStatus {
	case store.HumanStatusWaiting:
		s.logger.Info("user message recorded while waiting for human support",
			"phone", phone,
			"conversation_id", conv.ID)
		return nil

	case store.HumanStatusActive:
		if conv.AssignedAgentID == "" {
			s.logger.Warn("human conversation active without assigned agent",
				"conversation_id", conv.ID)
			return nil
		}
		agent, err := s.store.GetAgent(ctx, conv.AssignedAgentID)
		if errors.Is(err, store.ErrNotFound) || (err == nil && !agent.IsActive) {
			s.logger.Warn("assigned agent not found or inactive",
				"agent_id", conv.AssignedAgentID,
				"conversation_id", conv.ID)
			return nil
		}
		if err != nil {
			return fmt.Errorf("resolving assigned agent: %w", err)
		}
		if agent.Contact == "" {
			s.logger.Warn("assigned agent has no contact destination",
				"agent_id", agent.ID,
				"conversation_id", conv.ID)
			return nil
		}
		if err := s.messenger.SendMessage(ctx, agent.Contact, text); err != nil {
			return fmt.Errorf("forwarding message to agent: %w", err)
		}
		s.logger.Info("forwarded user message to agent",
			"phone", phone,
			"agent_id", agent.ID,
			"conversation_id", conv.ID)
		return nil
	}

	s.logger.Warn("human conversation has unsupported human_status",
		"conversation_id", conv.ID,
		"human_status", conv.HumanStatus)
	return nil
}

// HandleAgentMessage processes one inbound message from an agent: either a
// close command or a relay to the user they are currently servicing.
// Unresolvable state degrades to an informational reply, never an error.
func (s *Service) HandleAgentMessage(ctx context.Context, phone, text string) error {
	agent, err := s.store.GetActiveAgentByContact(ctx, phone)
	if errors.Is(err, store.ErrNotFound) {
		s.logger.Info("ignoring message from unknown or inactive agent", "phone", phone)
		return nil
	}
	if err != nil {
		return fmt.Errorf("resolving agent: %w", err)
	}

	trimmed := strings.TrimSpace(text)
	if strings.EqualFold(trimmed, CloseCommand) {
		return s.closeCurrent(ctx, agent, phone)
	}
	if clientPhone, ok := parseCloseCommand(trimmed); ok {
		return s.closeForClient(ctx, agent, phone, clientPhone)
	}

	conv, err := s.store.GetActiveConversationForAgent(ctx, agent.ID)
	if errors.Is(err, store.ErrNotFound) {
		s.logger.Info("no active human conversation assigned to agent", "agent_id", agent.ID)
		s.sendToAgent(ctx, agent, phone, "No hay clientes activos.")
		return nil
	}
	if err != nil {
		return fmt.Errorf("resolving agent conversation: %w", err)
	}

	userPhone := s.resolveUserPhone(ctx, conv)
	if userPhone == "" {
		s.logger.Warn("could not resolve user phone", "conversation_id", conv.ID)
		return nil
	}
	if err := s.messenger.SendMessage(ctx, userPhone, text); err != nil {
		return fmt.Errorf("forwarding message to user: %w", err)
	}
	s.logger.Info("forwarded agent message to user",
		"agent_id", agent.ID,
		"user_phone", userPhone,
		"conversation_id", conv.ID)
	return nil
}

// closeCurrent handles a bare close command: close the agent's current
// conversation and promote the FIFO-oldest waiting one.
func (s *Service) closeCurrent(ctx context.Context, agent *store.Agent, phone string) error {
	conv, err := s.store.GetActiveConversationForAgent(ctx, agent.ID)
	if errors.Is(err, store.ErrNotFound) {
		s.logger.Info("agent tried to close but no conversation is active", "agent_id", agent.ID)
		return nil
	}
	if err != nil {
		return fmt.Errorf("resolving agent conversation: %w", err)
	}
	return s.closeAndPromote(ctx, conv, agent, phone, "")
}

// closeForClient handles "/cerrar <phone>": close the agent's active human
// conversation with that client, then promote the next waiting one.
func (s *Service) closeForClient(ctx context.Context, agent *store.Agent, phone, clientPhone string) error {
	conv, err := s.store.GetActiveHumanConversationForClient(ctx, agent.ID, clientPhone)
	if errors.Is(err, store.ErrNotFound) {
		s.logger.Info("close command matched no conversation",
			"agent_id", agent.ID,
			"client_phone", clientPhone)
		s.sendToAgent(ctx, agent, phone, "No se encontró conversación activa con ese cliente.")
		return nil
	}
	if err != nil {
		return fmt.Errorf("resolving client conversation: %w", err)
	}
	return s.closeAndPromote(ctx, conv, agent, phone, "Conversación cerrada correctamente.")
}

// closeAndPromote performs the close-and-promote transaction and notifies the
// agent: either the promoted conversation's context or a queue-empty notice.
func (s *Service) closeAndPromote(ctx context.Context, conv *store.Conversation, agent *store.Agent, phone, confirmation string) error {
	promoted, err := s.store.CloseAndPromote(ctx, conv.ID, agent.ID)
	if errors.Is(err, store.ErrNotFound) {
		// Closed by a concurrent command between lookup and transaction.
		s.logger.Info("conversation already closed", "conversation_id", conv.ID)
		return nil
	}
	if err != nil {
		return fmt.Errorf("closing conversation: %w", err)
	}
	s.logger.Info("closed conversation",
		"conversation_id", conv.ID,
		"agent_id", agent.ID)

	if confirmation != "" {
		s.sendToAgent(ctx, agent, phone, confirmation)
	}

	if promoted == nil {
		s.sendToAgent(ctx, agent, phone, "No hay más clientes en espera.")
		return nil
	}

	s.logger.Info("promoted waiting conversation",
		"conversation_id", promoted.ID,
		"agent_id", agent.ID)
	s.sendConversationContext(ctx, promoted, agent)
	return nil
}

// parseCloseCommand extracts the client phone from "/cerrar <phone>"
func parseCloseCommand(text string) (string, bool) {
	parts := strings.Fields(text)
	if len(parts) != 2 || !strings.EqualFold(parts[0], CloseCommand) {
		return "", false
	}
	return parts[1], true
}

// sendConversationContext pushes the customer identity and the last messages
// (oldest first) to the agent's contact address.
func (s *Service) sendConversationContext(ctx context.Context, conv *store.Conversation, agent *store.Agent) {
	if agent.Contact == "" {
		s.logger.Warn("agent has no contact destination", "agent_id", agent.ID)
		return
	}

	userName, userPhone := s.resolveUserIdentity(ctx, conv)
	contextMessage := fmt.Sprintf(
		"Nuevo cliente asignado:\nNombre: %s\nTeléfono: %s\nÚltimos mensajes (últimos %d):\n%s",
		userName, userPhone, contextMessageCount, s.formatRecentMessages(ctx, conv))

	if err := s.messenger.SendMessage(ctx, agent.Contact, contextMessage); err != nil {
		s.logger.Error("failed to send conversation context to agent",
			"error", err,
			"agent_id", agent.ID,
			"conversation_id", conv.ID)
	}
}

func (s *Service) formatRecentMessages(ctx context.Context, conv *store.Conversation) string {
	messages, err := s.store.GetConversationMessages(ctx, conv.ID, contextMessageCount)
	if err != nil {
		s.logger.Error("failed to load recent messages",
			"error", err,
			"conversation_id", conv.ID)
		messages = nil
	}
	if len(messages) == 0 {
		return "- Sin mensajes previos."
	}

	lines := make([]string, 0, len(messages))
	for _, msg := range messages {
		lines = append(lines, fmt.Sprintf("- %s: %s", capitalize(msg.SenderType), strings.TrimSpace(msg.Content)))
	}
	return strings.Join(lines, "\n")
}

func (s *Service) resolveUserIdentity(ctx context.Context, conv *store.Conversation) (name, phone string) {
	name = "Sin nombre"
	phone = "Sin teléfono"

	user, err := s.store.GetUser(ctx, conv.UserID)
	if err != nil {
		return name, phone
	}
	if user.Name != "" {
		name = user.Name
	}
	if user.Phone != "" {
		phone = user.Phone
	}
	return name, phone
}

func (s *Service) resolveUserPhone(ctx context.Context, conv *store.Conversation) string {
	user, err := s.store.GetUser(ctx, conv.UserID)
	if err != nil {
		return ""
	}
	if user.Phone != "" {
		return user.Phone
	}
	return user.ExternalID
}

func (s *Service) sendToUser(ctx context.Context, conv *store.Conversation, text string) {
	userPhone := s.resolveUserPhone(ctx, conv)
	if userPhone == "" {
		s.logger.Warn("could not resolve user phone", "conversation_id", conv.ID)
		return
	}
	if err := s.messenger.SendMessage(ctx, userPhone, text); err != nil {
		s.logger.Error("failed to notify user",
			"error", err,
			"conversation_id", conv.ID)
	}
}

// sendToAgent delivers to the agent contact, falling back to the sender phone
func (s *Service) sendToAgent(ctx context.Context, agent *store.Agent, fallback, text string) {
	destination := agent.Contact
	if destination == "" {
		destination = fallback
	}
	if err := s.messenger.SendMessage(ctx, destination, text); err != nil {
		s.logger.Error("failed to notify agent",
			"error", err,
			"agent_id", agent.ID)
	}
}

func capitalize(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}
