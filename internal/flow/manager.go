// ABOUTME: Assisted-mode conversation flow state machine
// ABOUTME: Maps intents to canned responses and per-user state transitions

package flow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/TomiGarbe/whatsapp-bot/internal/catalog"
	"github.com/TomiGarbe/whatsapp-bot/internal/intent"
	"github.com/TomiGarbe/whatsapp-bot/internal/store"
)

// AssistedMode is the only supported flow mode. The autonomous variant is
// reserved in the data model but has no state machine yet.
const AssistedMode = "assisted"

// Flow states
const (
	StateIdle                   = "idle"
	StateCollectingData         = "collecting_data"
	StateAwaitingConfirmation   = "awaiting_confirmation"
	StatePendingHumanValidation = "pending_human_validation"
	StateCompleted              = "completed"
	StateCancelled              = "cancelled"
)

// StateStore persists the per-user flow cursor.
// Both store implementations satisfy this.
type StateStore interface {
	GetFlowState(ctx context.Context, phone string) (*store.FlowState, error)
	SetFlowState(ctx context.Context, phone, state, requestID string) error
	ResetFlowState(ctx context.Context, phone string) error
}

// Manager controls conversational state transitions and canned responses for
// assisted mode. Intents it does not handle defer to the AI provider.
type Manager struct {
	states StateStore
	source catalog.DataSource
	mode   string
	logger *slog.Logger
}

// NewManager creates a flow manager.
// Any mode other than AssistedMode is a configuration error.
func NewManager(states StateStore, source catalog.DataSource, mode string, logger *slog.Logger) (*Manager, error) {
	if mode != AssistedMode {
		return nil, fmt.Errorf("unsupported flow mode %q: only %q is available", mode, AssistedMode)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		states: states,
		source: source,
		mode:   mode,
		logger: logger.With("component", "flow"),
	}, nil
}

// Mode returns the configured flow mode
func (m *Manager) Mode() string {
	return m.mode
}

// Handle processes one intent for a user.
// The boolean is false when the intent is not handled here and the caller
// should fall back to the AI provider.
func (m *Manager) Handle(ctx context.Context, label intent.Intent, user, message string) (string, bool, error) {
	currentState, requestID, err := m.currentState(ctx, user)
	if err != nil {
		return "", false, err
	}

	switch label {
	case intent.Greeting:
		return "Hola, soy tu asistente de WhatsApp Bot AI. En que te puedo ayudar hoy?", true, nil

	case intent.InfoRequest:
		items, err := m.source.GetItems(ctx)
		if err != nil {
			return "", false, fmt.Errorf("fetching catalog: %w", err)
		}
		return formatItemList(items), true, nil

	case intent.AvailabilityRequest:
		return "Tenemos disponibilidad simulada para esta semana. Si quieres, iniciamos la solicitud.", true, nil

	case intent.BookingIntent:
		request, err := m.source.CreateRequest(ctx, user, map[string]string{
			"message":              message,
			"state_before_booking": currentState,
			"mode":                 m.mode,
		})
		if err != nil {
			return "", false, fmt.Errorf("creating request: %w", err)
		}
		if err := m.states.SetFlowState(ctx, user, StateCollectingData, request.ID); err != nil {
			return "", false, fmt.Errorf("saving flow state: %w", err)
		}
		m.logger.Debug("booking started", "user", user, "request_id", request.ID)
		return "Perfecto. Para avanzar, comparteme fecha, hora y el producto o servicio que necesitas.", true, nil

	case intent.Confirmation:
		if currentState == StateCollectingData || currentState == StateAwaitingConfirmation {
			// Assisted mode never auto-confirms; a human validates first.
			if err := m.states.SetFlowState(ctx, user, StatePendingHumanValidation, requestID); err != nil {
				return "", false, fmt.Errorf("saving flow state: %w", err)
			}
			return "Perfecto. Un asesor validara y confirmara tu solicitud en breve.", true, nil
		}
		return "Primero debes iniciar una solicitud para poder confirmarla.", true, nil

	case intent.Cancellation:
		if err := m.states.ResetFlowState(ctx, user); err != nil {
			return "", false, fmt.Errorf("resetting flow state: %w", err)
		}
		if err := m.states.SetFlowState(ctx, user, StateCancelled, ""); err != nil {
			return "", false, fmt.Errorf("saving flow state: %w", err)
		}
		return "Operacion cancelada. Si quieres, puedo ayudarte a iniciar una nueva solicitud.", true, nil
	}

	// Fallback and anything else defers to the AI provider.
	return "", false, nil
}

// LastRequestID returns the request id created by the latest booking for a
// user, or empty when none exists.
func (m *Manager) LastRequestID(ctx context.Context, user string) (string, error) {
	fs, err := m.states.GetFlowState(ctx, user)
	if errors.Is(err, store.ErrNotFound) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return fs.RequestID, nil
}

func (m *Manager) currentState(ctx context.Context, user string) (state, requestID string, err error) {
	fs, err := m.states.GetFlowState(ctx, user)
	if errors.Is(err, store.ErrNotFound) {
		return StateIdle, "", nil
	}
	if err != nil {
		return "", "", fmt.Errorf("loading flow state: %w", err)
	}
	return fs.State, fs.RequestID, nil
}

// formatItemList builds a compact listing of available items/services
func formatItemList(items []catalog.Item) string {
	if len(items) == 0 {
		return "No hay opciones disponibles en este momento."
	}

	lines := []string{"Estas son las opciones disponibles:"}
	for _, item := range items {
		lines = append(lines, fmt.Sprintf("- %s (%s): $%d", item.Name, item.Type, item.Price))
	}
	return strings.Join(lines, "\n")
}
