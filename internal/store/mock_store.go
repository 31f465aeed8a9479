// ABOUTME: Mock Store implementation for testing
// ABOUTME: Allows tests to run without SQLite while enforcing the same uniqueness rules

package store

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MockStore is an in-memory Store implementation for testing.
// It enforces the same uniqueness constraints as the SQLite store so
// lookup-or-create race recovery can be exercised without a database.
type MockStore struct {
	mu            sync.RWMutex
	businesses    map[string]*Business
	users         map[string]*User         // keyed by user ID
	userIndex     map[string]string        // keyed by "businessID:externalID" -> user ID
	agents        map[string]*Agent        // keyed by agent ID
	conversations map[string]*Conversation // keyed by conversation ID
	messages      map[string][]*Message    // keyed by conversation ID
	flowStates    map[string]*FlowState    // keyed by phone
	convSeq       map[string]int           // insertion order, for FIFO ties
	seq           int
}

// NewMockStore creates a new MockStore
func NewMockStore() *MockStore {
	return &MockStore{
		businesses:    make(map[string]*Business),
		users:         make(map[string]*User),
		userIndex:     make(map[string]string),
		agents:        make(map[string]*Agent),
		conversations: make(map[string]*Conversation),
		messages:      make(map[string][]*Message),
		flowStates:    make(map[string]*FlowState),
		convSeq:       make(map[string]int),
	}
}

// CreateBusiness stores a new business
func (m *MockStore) CreateBusiness(ctx context.Context, business *Business) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	b := *business
	m.businesses[b.ID] = &b
	return nil
}

// GetBusiness retrieves a business by ID
func (m *MockStore) GetBusiness(ctx context.Context, id string) (*Business, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	b, ok := m.businesses[id]
	if !ok {
		return nil, ErrNotFound
	}
	result := *b
	return &result, nil
}

// CreateUser stores a new user, enforcing uniqueness on (business_id, external_id)
func (m *MockStore) CreateUser(ctx context.Context, user *User) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := user.BusinessID + ":" + user.ExternalID
	if _, exists := m.userIndex[key]; exists {
		return ErrDuplicateUser
	}

	u := *user
	m.users[u.ID] = &u
	m.userIndex[key] = u.ID
	return nil
}

// GetUser retrieves a user by ID
func (m *MockStore) GetUser(ctx context.Context, id string) (*User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	u, ok := m.users[id]
	if !ok {
		return nil, ErrNotFound
	}
	result := *u
	return &result, nil
}

// GetUserByPhone retrieves a user by business and phone
func (m *MockStore) GetUserByPhone(ctx context.Context, businessID, phone string) (*User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	id, ok := m.userIndex[businessID+":"+phone]
	if !ok {
		return nil, ErrNotFound
	}
	result := *m.users[id]
	return &result, nil
}

// CreateAgent stores a new agent
func (m *MockStore) CreateAgent(ctx context.Context, agent *Agent) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	a := *agent
	m.agents[a.ID] = &a
	return nil
}

// GetAgent retrieves an agent by ID
func (m *MockStore) GetAgent(ctx context.Context, id string) (*Agent, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	a, ok := m.agents[id]
	if !ok {
		return nil, ErrNotFound
	}
	result := *a
	return &result, nil
}

// GetActiveAgentByContact retrieves an active agent by contact address
func (m *MockStore) GetActiveAgentByContact(ctx context.Context, contact string) (*Agent, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var match *Agent
	for _, a := range m.agents {
		if a.Contact != contact || !a.IsActive {
			continue
		}
		if match == nil || a.CreatedAt.Before(match.CreatedAt) {
			match = a
		}
	}
	if match == nil {
		return nil, ErrNotFound
	}
	result := *match
	return &result, nil
}

// FirstActiveAgent retrieves the earliest-created active agent for a business
func (m *MockStore) FirstActiveAgent(ctx context.Context, businessID string) (*Agent, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var match *Agent
	for _, a := range m.agents {
		if a.BusinessID != businessID || !a.IsActive {
			continue
		}
		if match == nil || a.CreatedAt.Before(match.CreatedAt) {
			match = a
		}
	}
	if match == nil {
		return nil, ErrNotFound
	}
	result := *match
	return &result, nil
}

// CreateConversation stores a new conversation, enforcing the
// one-active-conversation-per-(business, user) constraint
func (m *MockStore) CreateConversation(ctx context.Context, conv *Conversation) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if conv.Status == StatusActive {
		for _, existing := range m.conversations {
			if existing.BusinessID == conv.BusinessID && existing.UserID == conv.UserID && existing.Status == StatusActive {
				return ErrDuplicateConversation
			}
		}
	}

	c := *conv
	m.conversations[c.ID] = &c
	m.seq++
	m.convSeq[c.ID] = m.seq
	return nil
}

// GetConversation retrieves a conversation by ID
func (m *MockStore) GetConversation(ctx context.Context, id string) (*Conversation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	c, ok := m.conversations[id]
	if !ok {
		return nil, ErrNotFound
	}
	result := *c
	return &result, nil
}

// GetActiveConversation retrieves the active conversation for a (business, user) pair
func (m *MockStore) GetActiveConversation(ctx context.Context, businessID, userID string) (*Conversation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, c := range m.conversations {
		if c.BusinessID == businessID && c.UserID == userID && c.Status == StatusActive {
			result := *c
			return &result, nil
		}
	}
	return nil, ErrNotFound
}

// GetActiveConversationByPhone retrieves the most recently started active
// conversation whose user has the given phone
func (m *MockStore) GetActiveConversationByPhone(ctx context.Context, phone string) (*Conversation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var match *Conversation
	for _, c := range m.conversations {
		if c.Status != StatusActive {
			continue
		}
		u, ok := m.users[c.UserID]
		if !ok || u.ExternalID != phone {
			continue
		}
		if match == nil || c.StartedAt.After(match.StartedAt) {
			match = c
		}
	}
	if match == nil {
		return nil, ErrNotFound
	}
	result := *match
	return &result, nil
}

// GetActiveHumanConversation retrieves the conversation currently serviced by
// a human for the business
func (m *MockStore) GetActiveHumanConversation(ctx context.Context, businessID string) (*Conversation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	match := m.oldestLocked(func(c *Conversation) bool {
		return c.BusinessID == businessID && c.ControlMode == ControlModeHuman &&
			c.HumanStatus == HumanStatusActive && c.Status == StatusActive
	})
	if match == nil {
		return nil, ErrNotFound
	}
	result := *match
	return &result, nil
}

// GetActiveConversationForAgent retrieves the conversation an agent is assigned to
func (m *MockStore) GetActiveConversationForAgent(ctx context.Context, agentID string) (*Conversation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	match := m.oldestLocked(func(c *Conversation) bool {
		return c.AssignedAgentID == agentID && c.ControlMode == ControlModeHuman &&
			c.HumanStatus == HumanStatusActive && c.Status == StatusActive
	})
	if match == nil {
		return nil, ErrNotFound
	}
	result := *match
	return &result, nil
}

// GetActiveHumanConversationForClient retrieves the active human conversation
// assigned to the agent whose user has the given phone
func (m *MockStore) GetActiveHumanConversationForClient(ctx context.Context, agentID, clientPhone string) (*Conversation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var match *Conversation
	for _, c := range m.conversations {
		if c.AssignedAgentID != agentID || c.ControlMode != ControlModeHuman ||
			c.HumanStatus != HumanStatusActive || c.Status != StatusActive {
			continue
		}
		u, ok := m.users[c.UserID]
		if !ok || u.ExternalID != clientPhone {
			continue
		}
		if match == nil || c.StartedAt.After(match.StartedAt) {
			match = c
		}
	}
	if match == nil {
		return nil, ErrNotFound
	}
	result := *match
	return &result, nil
}

// UpdateConversationControl replaces the control fields of a stored conversation
func (m *MockStore) UpdateConversationControl(ctx context.Context, conv *Conversation) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	existing, ok := m.conversations[conv.ID]
	if !ok {
		return ErrNotFound
	}
	existing.Status = conv.Status
	existing.ControlMode = conv.ControlMode
	existing.HumanStatus = conv.HumanStatus
	existing.AssignedAgentID = conv.AssignedAgentID
	existing.Context = conv.Context
	existing.ClosedAt = conv.ClosedAt
	return nil
}

// TouchConversation updates last_message_at
func (m *MockStore) TouchConversation(ctx context.Context, id string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	existing, ok := m.conversations[id]
	if !ok {
		return ErrNotFound
	}
	t := at
	existing.LastMessageAt = &t
	return nil
}

// CloseAndPromote closes a conversation and promotes the FIFO-oldest waiting one
func (m *MockStore) CloseAndPromote(ctx context.Context, conversationID, agentID string) (*Conversation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	conv, ok := m.conversations[conversationID]
	if !ok || conv.Status != StatusActive {
		return nil, ErrNotFound
	}

	now := time.Now()
	conv.Status = StatusClosed
	conv.ControlMode = ControlModeAI
	conv.HumanStatus = ""
	conv.AssignedAgentID = ""
	conv.ClosedAt = &now

	next := m.oldestLocked(func(c *Conversation) bool {
		return c.BusinessID == conv.BusinessID && c.ControlMode == ControlModeHuman &&
			c.HumanStatus == HumanStatusWaiting && c.Status == StatusActive
	})
	if next == nil {
		return nil, nil
	}
	next.HumanStatus = HumanStatusActive
	next.AssignedAgentID = agentID
	result := *next
	return &result, nil
}

// oldestLocked returns the matching conversation with the earliest start time,
// breaking ties by insertion order. Callers must hold the lock.
func (m *MockStore) oldestLocked(match func(*Conversation) bool) *Conversation {
	var best *Conversation
	for _, c := range m.conversations {
		if !match(c) {
			continue
		}
		if best == nil {
			best = c
			continue
		}
		if c.StartedAt.Before(best.StartedAt) ||
			(c.StartedAt.Equal(best.StartedAt) && m.convSeq[c.ID] < m.convSeq[best.ID]) {
			best = c
		}
	}
	return best
}

// SaveMessage appends a message to its conversation
func (m *MockStore) SaveMessage(ctx context.Context, msg *Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	msgCopy := *msg
	m.messages[msg.ConversationID] = append(m.messages[msg.ConversationID], &msgCopy)
	return nil
}

// GetConversationMessages retrieves the most recent `limit` messages in
// chronological order
func (m *MockStore) GetConversationMessages(ctx context.Context, conversationID string, limit int) ([]*Message, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	stored := m.messages[conversationID]
	msgs := make([]*Message, len(stored))
	for i, msg := range stored {
		msgCopy := *msg
		msgs[i] = &msgCopy
	}
	sort.SliceStable(msgs, func(i, j int) bool {
		return msgs[i].CreatedAt.Before(msgs[j].CreatedAt)
	})
	if limit > 0 && len(msgs) > limit {
		msgs = msgs[len(msgs)-limit:]
	}
	return msgs, nil
}

// GetFlowState retrieves the assisted-flow cursor for a phone
func (m *MockStore) GetFlowState(ctx context.Context, phone string) (*FlowState, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	fs, ok := m.flowStates[phone]
	if !ok {
		return nil, ErrNotFound
	}
	result := *fs
	return &result, nil
}

// SetFlowState upserts the assisted-flow cursor for a phone
func (m *MockStore) SetFlowState(ctx context.Context, phone, state, requestID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.flowStates[phone] = &FlowState{
		Phone:     phone,
		State:     state,
		RequestID: requestID,
		UpdatedAt: time.Now(),
	}
	return nil
}

// ResetFlowState removes the assisted-flow cursor for a phone
func (m *MockStore) ResetFlowState(ctx context.Context, phone string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.flowStates, phone)
	return nil
}

// Close is a no-op for the mock store
func (m *MockStore) Close() error {
	return nil
}

// Ensure MockStore implements Store interface
var _ Store = (*MockStore)(nil)
