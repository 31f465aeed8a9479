// ABOUTME: Tests for the message router orchestration
// ABOUTME: Covers validation, user/agent paths, handoff interception and AI fallback

package router

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/TomiGarbe/whatsapp-bot/internal/ai"
	"github.com/TomiGarbe/whatsapp-bot/internal/catalog"
	"github.com/TomiGarbe/whatsapp-bot/internal/flow"
	"github.com/TomiGarbe/whatsapp-bot/internal/intent"
	"github.com/TomiGarbe/whatsapp-bot/internal/messaging"
	"github.com/TomiGarbe/whatsapp-bot/internal/store"
	"github.com/TomiGarbe/whatsapp-bot/internal/support"
)

const (
	userPhone    = "+5491100000001"
	agentContact = "+5491200000001"
)

type fixture struct {
	router    *Router
	store     *store.MockStore
	messenger *messaging.MockProvider
	business  *store.Business
	agent     *store.Agent
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()
	st := store.NewMockStore()

	business := &store.Business{ID: uuid.New().String(), Name: "Test Business", CreatedAt: time.Now()}
	require.NoError(t, st.CreateBusiness(ctx, business))

	agent := &store.Agent{
		ID:         uuid.New().String(),
		BusinessID: business.ID,
		Name:       "Sofia",
		Contact:    agentContact,
		IsActive:   true,
		CreatedAt:  time.Now(),
	}
	require.NoError(t, st.CreateAgent(ctx, agent))

	messenger := messaging.NewMockProvider(nil)
	flowManager, err := flow.NewManager(st, catalog.NewMockDataSource(), flow.AssistedMode, nil)
	require.NoError(t, err)
	human := support.New(st, messenger, nil)

	r := New(st, intent.NewEngine(), flowManager, human, ai.NewMockProvider(), messenger, nil, nil)
	return &fixture{router: r, store: st, messenger: messenger, business: business, agent: agent}
}

func (f *fixture) userEvent(text string) *Event {
	return &Event{
		Phone:      userPhone,
		Message:    text,
		BusinessID: f.business.ID,
	}
}

func TestRoute_InvalidEvents(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	tests := []struct {
		name  string
		event *Event
	}{
		{name: "missing phone", event: &Event{Message: "hola", BusinessID: f.business.ID}},
		{name: "missing text", event: &Event{Phone: userPhone, BusinessID: f.business.ID}},
		{name: "missing business", event: &Event{Phone: userPhone, Message: "hola"}},
		{name: "malformed business id", event: &Event{Phone: userPhone, Message: "hola", BusinessID: "not-a-uuid"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := f.router.Route(ctx, tt.event)
			assert.ErrorIs(t, err, ErrInvalidEvent)
		})
	}

	// Validation failures leave no state behind.
	assert.Empty(t, f.messenger.Sent())
	_, err := f.store.GetUserByPhone(ctx, f.business.ID, userPhone)
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestRoute_FirstContactCreatesUserAndConversation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	require.NoError(t, f.router.Route(ctx, f.userEvent("hola")))

	user, err := f.store.GetUserByPhone(ctx, f.business.ID, userPhone)
	require.NoError(t, err)
	assert.Equal(t, userPhone, user.Phone)

	conv, err := f.store.GetActiveConversation(ctx, f.business.ID, user.ID)
	require.NoError(t, err)
	assert.Equal(t, store.ControlModeAI, conv.ControlMode)
	assert.Equal(t, store.ModeAssisted, conv.Mode)
	assert.NotNil(t, conv.LastMessageAt)

	// Inbound user message and outbound assistant response are persisted.
	msgs, err := f.store.GetConversationMessages(ctx, conv.ID, 0)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, store.SenderTypeUser, msgs[0].SenderType)
	assert.Equal(t, "hola", msgs[0].Content)
	assert.Equal(t, store.SenderTypeAssistant, msgs[1].SenderType)
	assert.Equal(t, string(intent.Greeting), msgs[1].Payload["intent"])

	// The greeting response went out to the user.
	sent := f.messenger.SentTo(userPhone)
	require.Len(t, sent, 1)
	assert.Contains(t, sent[0].Text, "asistente")

	response, ok := f.router.LastResponse(userPhone)
	require.True(t, ok)
	assert.Equal(t, sent[0].Text, response)
}

func TestRoute_SecondMessageReusesConversation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	require.NoError(t, f.router.Route(ctx, f.userEvent("hola")))
	require.NoError(t, f.router.Route(ctx, f.userEvent("que servicios tienen")))

	user, err := f.store.GetUserByPhone(ctx, f.business.ID, userPhone)
	require.NoError(t, err)
	conv, err := f.store.GetActiveConversation(ctx, f.business.ID, user.ID)
	require.NoError(t, err)

	msgs, err := f.store.GetConversationMessages(ctx, conv.ID, 0)
	require.NoError(t, err)
	assert.Len(t, msgs, 4)

	// The catalog listing answered the second message.
	sent := f.messenger.SentTo(userPhone)
	require.Len(t, sent, 2)
	assert.Contains(t, sent[1].Text, "Consulta Inicial")
}

func TestRoute_FallbackUsesAIProvider(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	require.NoError(t, f.router.Route(ctx, f.userEvent("xyzzy frobnicate")))

	sent := f.messenger.SentTo(userPhone)
	require.Len(t, sent, 1)
	assert.Contains(t, sent[0].Text, "[MOCK AI]")
}

func TestRoute_HandoffIntentEscalates(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	require.NoError(t, f.router.Route(ctx, f.userEvent("quiero hablar con un asesor")))

	user, err := f.store.GetUserByPhone(ctx, f.business.ID, userPhone)
	require.NoError(t, err)
	conv, err := f.store.GetActiveConversation(ctx, f.business.ID, user.ID)
	require.NoError(t, err)
	assert.Equal(t, store.ControlModeHuman, conv.ControlMode)
	assert.Equal(t, store.HumanStatusActive, conv.HumanStatus)
	assert.Equal(t, f.agent.ID, conv.AssignedAgentID)

	// Only the support takeover notice reaches the user; no flow/AI response.
	sent := f.messenger.SentTo(userPhone)
	require.Len(t, sent, 1)
	assert.Equal(t, "Un asesor está tomando tu conversación.", sent[0].Text)

	_, ok := f.router.LastResponse(userPhone)
	assert.False(t, ok)

	// The agent got the conversation context including the trigger message.
	agentMsgs := f.messenger.SentTo(agentContact)
	require.Len(t, agentMsgs, 1)
	assert.Contains(t, agentMsgs[0].Text, "quiero hablar con un asesor")
}

func TestRoute_HumanControlSuppressesBot(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	require.NoError(t, f.router.Route(ctx, f.userEvent("quiero hablar con un asesor")))
	require.NoError(t, f.router.Route(ctx, f.userEvent("hola, sigo aca")))

	// The second message was forwarded to the agent verbatim, and the user
	// received nothing new.
	agentMsgs := f.messenger.SentTo(agentContact)
	require.Len(t, agentMsgs, 2)
	assert.Equal(t, "hola, sigo aca", agentMsgs[1].Text)

	sent := f.messenger.SentTo(userPhone)
	assert.Len(t, sent, 1)

	// Even a greeting-looking message stays with the human.
	require.NoError(t, f.router.Route(ctx, f.userEvent("hola")))
	assert.Len(t, f.messenger.SentTo(userPhone), 1)
}

func TestRoute_AgentMessageRelayed(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	require.NoError(t, f.router.Route(ctx, f.userEvent("quiero hablar con un asesor")))

	agentEvent := &Event{
		Phone:      agentContact,
		Message:    "Hola, en que te ayudo?",
		SenderType: "agent",
	}
	require.NoError(t, f.router.Route(ctx, agentEvent))

	sent := f.messenger.SentTo(userPhone)
	require.Len(t, sent, 2)
	assert.Equal(t, "Hola, en que te ayudo?", sent[1].Text)

	// The agent's inbound message was persisted against the conversation.
	user, err := f.store.GetUserByPhone(ctx, f.business.ID, userPhone)
	require.NoError(t, err)
	conv, err := f.store.GetActiveConversation(ctx, f.business.ID, user.ID)
	require.NoError(t, err)
	msgs, err := f.store.GetConversationMessages(ctx, conv.ID, 0)
	require.NoError(t, err)

	var agentPersisted bool
	for _, m := range msgs {
		if m.SenderType == store.SenderTypeAgent && m.Content == "Hola, en que te ayudo?" {
			agentPersisted = true
		}
	}
	assert.True(t, agentPersisted)
}

func TestRoute_AgentMessagePersistsViaPhoneFallback(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	// The agent's contact phone is also registered as a user with an active
	// conversation. With no conversation assigned to the agent, persistence
	// falls back to resolving the active conversation by sender phone.
	require.NoError(t, f.router.Route(ctx, &Event{
		Phone:      agentContact,
		Message:    "hola",
		BusinessID: f.business.ID,
		SenderType: "user",
	}))

	require.NoError(t, f.router.Route(ctx, &Event{
		Phone:      agentContact,
		Message:    "sigo disponible",
		SenderType: "agent",
	}))

	conv, err := f.store.GetActiveConversationByPhone(ctx, agentContact)
	require.NoError(t, err)
	msgs, err := f.store.GetConversationMessages(ctx, conv.ID, 0)
	require.NoError(t, err)

	var persisted bool
	for _, m := range msgs {
		if m.SenderType == store.SenderTypeAgent && m.Content == "sigo disponible" {
			persisted = true
		}
	}
	assert.True(t, persisted)
}

func TestRoute_AgentCloseCommand(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	require.NoError(t, f.router.Route(ctx, f.userEvent("quiero hablar con un asesor")))

	require.NoError(t, f.router.Route(ctx, &Event{
		Phone:      agentContact,
		Message:    "/cerrar",
		SenderType: "agent",
	}))

	user, err := f.store.GetUserByPhone(ctx, f.business.ID, userPhone)
	require.NoError(t, err)
	_, err = f.store.GetActiveConversation(ctx, f.business.ID, user.ID)
	assert.ErrorIs(t, err, store.ErrNotFound)

	// After closing, a new message reopens a fresh AI conversation.
	require.NoError(t, f.router.Route(ctx, f.userEvent("hola")))
	conv, err := f.store.GetActiveConversation(ctx, f.business.ID, user.ID)
	require.NoError(t, err)
	assert.Equal(t, store.ControlModeAI, conv.ControlMode)
}

// duplicateOnCreateStore simulates losing a create race: inserts fail with the
// duplicate sentinel after seeding the row another writer would have created.
type duplicateOnCreateStore struct {
	*store.MockStore
}

func (d *duplicateOnCreateStore) CreateUser(ctx context.Context, user *store.User) error {
	if err := d.MockStore.CreateUser(ctx, user); err != nil {
		return err
	}
	return store.ErrDuplicateUser
}

func (d *duplicateOnCreateStore) CreateConversation(ctx context.Context, conv *store.Conversation) error {
	if err := d.MockStore.CreateConversation(ctx, conv); err != nil {
		return err
	}
	return store.ErrDuplicateConversation
}

func TestRoute_RecoversFromCreateRaces(t *testing.T) {
	ctx := context.Background()
	mock := store.NewMockStore()
	st := &duplicateOnCreateStore{MockStore: mock}

	business := &store.Business{ID: uuid.New().String(), Name: "Test Business", CreatedAt: time.Now()}
	require.NoError(t, mock.CreateBusiness(ctx, business))

	messenger := messaging.NewMockProvider(nil)
	flowManager, err := flow.NewManager(mock, catalog.NewMockDataSource(), flow.AssistedMode, nil)
	require.NoError(t, err)
	human := support.New(mock, messenger, nil)
	r := New(st, intent.NewEngine(), flowManager, human, ai.NewMockProvider(), messenger, nil, nil)

	err = r.Route(ctx, &Event{Phone: userPhone, Message: "hola", BusinessID: business.ID})
	require.NoError(t, err)

	// Exactly one user and one conversation exist despite the simulated races.
	user, err := mock.GetUserByPhone(ctx, business.ID, userPhone)
	require.NoError(t, err)
	_, err = mock.GetActiveConversation(ctx, business.ID, user.ID)
	require.NoError(t, err)
	assert.Len(t, messenger.SentTo(userPhone), 1)
}
