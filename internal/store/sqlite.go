// ABOUTME: SQLite implementation of the Store interface using modernc.org/sqlite
// ABOUTME: Provides conversation/user/agent/message persistence with automatic schema creation

package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

// SQLiteStore implements the Store interface using SQLite
type SQLiteStore struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewSQLiteStore creates a new SQLite store at the given path.
// The schema is automatically created if it doesn't exist.
// Parent directories are created if needed.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	logger := slog.Default().With("component", "store")

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("creating database directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	// Enable WAL mode for better concurrent performance
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling WAL mode: %w", err)
	}

	// Enable foreign keys
	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling foreign keys: %w", err)
	}

	s := &SQLiteStore{
		db:     db,
		logger: logger,
	}

	if err := s.createSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	logger.Info("SQLite store initialized", "path", path)
	return s, nil
}

// createSchema creates the database tables if they don't exist
func (s *SQLiteStore) createSchema() error {
	schema := `
		CREATE TABLE IF NOT EXISTS businesses (
			id         TEXT PRIMARY KEY,
			name       TEXT NOT NULL,
			created_at TEXT NOT NULL
		);

		CREATE TABLE IF NOT EXISTS users (
			id          TEXT PRIMARY KEY,
			business_id TEXT NOT NULL REFERENCES businesses(id) ON DELETE CASCADE,
			external_id TEXT NOT NULL,
			phone       TEXT,
			name        TEXT,
			locale      TEXT NOT NULL DEFAULT 'es',
			is_active   INTEGER NOT NULL DEFAULT 1,
			profile_json TEXT,
			created_at  TEXT NOT NULL,

			UNIQUE(business_id, external_id)
		);

		CREATE INDEX IF NOT EXISTS idx_users_business ON users(business_id);
		CREATE INDEX IF NOT EXISTS idx_users_phone ON users(phone);

		CREATE TABLE IF NOT EXISTS agents (
			id          TEXT PRIMARY KEY,
			business_id TEXT NOT NULL REFERENCES businesses(id) ON DELETE CASCADE,
			name        TEXT NOT NULL,
			contact     TEXT NOT NULL,
			is_active   INTEGER NOT NULL DEFAULT 1,
			created_at  TEXT NOT NULL,

			UNIQUE(business_id, contact)
		);

		CREATE INDEX IF NOT EXISTS idx_agents_business ON agents(business_id);
		CREATE INDEX IF NOT EXISTS idx_agents_contact ON agents(contact);

		CREATE TABLE IF NOT EXISTS conversations (
			id                TEXT PRIMARY KEY,
			business_id       TEXT NOT NULL REFERENCES businesses(id) ON DELETE CASCADE,
			user_id           TEXT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
			assigned_agent_id TEXT REFERENCES agents(id) ON DELETE SET NULL,
			channel           TEXT NOT NULL DEFAULT 'whatsapp',
			status            TEXT NOT NULL DEFAULT 'active',
			mode              TEXT NOT NULL DEFAULT 'assisted',
			control_mode      TEXT NOT NULL DEFAULT 'ai',
			human_status      TEXT,
			context_json      TEXT,
			started_at        TEXT NOT NULL,
			last_message_at   TEXT,
			closed_at         TEXT,

			CHECK (status IN ('active', 'closed')),
			CHECK (mode IN ('assisted', 'autonomous')),
			CHECK (control_mode IN ('ai', 'human')),
			CHECK (human_status IS NULL OR human_status IN ('waiting', 'active'))
		);

		CREATE UNIQUE INDEX IF NOT EXISTS uq_conversations_active_user
			ON conversations(business_id, user_id) WHERE status = 'active';

		CREATE INDEX IF NOT EXISTS idx_conversations_business ON conversations(business_id);
		CREATE INDEX IF NOT EXISTS idx_conversations_agent ON conversations(assigned_agent_id);
		CREATE INDEX IF NOT EXISTS idx_conversations_waiting
			ON conversations(business_id, human_status, started_at);

		CREATE TABLE IF NOT EXISTS messages (
			id              TEXT PRIMARY KEY,
			conversation_id TEXT NOT NULL REFERENCES conversations(id) ON DELETE CASCADE,
			user_id         TEXT REFERENCES users(id) ON DELETE SET NULL,
			sender_type     TEXT NOT NULL,
			direction       TEXT NOT NULL,
			content         TEXT NOT NULL,
			payload_json    TEXT,
			created_at      TEXT NOT NULL,

			CHECK (sender_type IN ('user', 'agent', 'assistant', 'system')),
			CHECK (direction IN ('inbound', 'outbound', 'internal'))
		);

		CREATE INDEX IF NOT EXISTS idx_messages_conversation ON messages(conversation_id);
		CREATE INDEX IF NOT EXISTS idx_messages_conversation_created
			ON messages(conversation_id, created_at);

		CREATE TABLE IF NOT EXISTS flow_states (
			phone      TEXT PRIMARY KEY,
			state      TEXT NOT NULL,
			request_id TEXT,
			updated_at TEXT NOT NULL
		);
	`

	_, err := s.db.Exec(schema)
	return err
}

// Close closes the database connection
func (s *SQLiteStore) Close() error {
	s.logger.Info("closing SQLite store")
	return s.db.Close()
}

// isConstraintViolation checks if the error is a SQLite UNIQUE constraint violation
func isConstraintViolation(err error) bool {
	if err == nil {
		return false
	}
	errStr := err.Error()
	return strings.Contains(errStr, "UNIQUE constraint failed") ||
		strings.Contains(errStr, "constraint failed")
}

func encodeMap(m map[string]string) (any, error) {
	if len(m) == 0 {
		return nil, nil
	}
	data, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("encoding json field: %w", err)
	}
	return string(data), nil
}

func decodeMap(raw sql.NullString) (map[string]string, error) {
	if !raw.Valid || raw.String == "" {
		return map[string]string{}, nil
	}
	m := map[string]string{}
	if err := json.Unmarshal([]byte(raw.String), &m); err != nil {
		return nil, fmt.Errorf("decoding json field: %w", err)
	}
	return m, nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(s string) (time.Time, error) {
	return time.Parse(time.RFC3339Nano, s)
}

func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func nullTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return formatTime(*t)
}

// CreateBusiness inserts a new business row
func (s *SQLiteStore) CreateBusiness(ctx context.Context, business *Business) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO businesses (id, name, created_at) VALUES (?, ?, ?)
	`, business.ID, business.Name, formatTime(business.CreatedAt))
	if err != nil {
		return fmt.Errorf("inserting business: %w", err)
	}
	s.logger.Debug("created business", "id", business.ID, "name", business.Name)
	return nil
}

// GetBusiness retrieves a business by ID.
// Returns ErrNotFound if the business doesn't exist.
func (s *SQLiteStore) GetBusiness(ctx context.Context, id string) (*Business, error) {
	var b Business
	var createdAt string
	err := s.db.QueryRowContext(ctx, `
		SELECT id, name, created_at FROM businesses WHERE id = ?
	`, id).Scan(&b.ID, &b.Name, &createdAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying business: %w", err)
	}
	if b.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, fmt.Errorf("parsing created_at: %w", err)
	}
	return &b, nil
}

// CreateUser inserts a new user row.
// Returns ErrDuplicateUser if a user already exists for (business_id, external_id).
func (s *SQLiteStore) CreateUser(ctx context.Context, user *User) error {
	profile, err := encodeMap(user.Profile)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO users (id, business_id, external_id, phone, name, locale, is_active, profile_json, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		user.ID,
		user.BusinessID,
		user.ExternalID,
		nullString(user.Phone),
		nullString(user.Name),
		user.Locale,
		user.IsActive,
		profile,
		formatTime(user.CreatedAt),
	)
	if err != nil {
		if isConstraintViolation(err) {
			return ErrDuplicateUser
		}
		return fmt.Errorf("inserting user: %w", err)
	}
	s.logger.Debug("created user", "id", user.ID, "business_id", user.BusinessID, "phone", user.Phone)
	return nil
}

const userColumns = `id, business_id, external_id, phone, name, locale, is_active, profile_json, created_at`

func scanUser(row interface{ Scan(...any) error }) (*User, error) {
	var u User
	var phone, name, profile sql.NullString
	var createdAt string

	err := row.Scan(&u.ID, &u.BusinessID, &u.ExternalID, &phone, &name, &u.Locale, &u.IsActive, &profile, &createdAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scanning user: %w", err)
	}

	u.Phone = phone.String
	u.Name = name.String
	if u.Profile, err = decodeMap(profile); err != nil {
		return nil, err
	}
	if u.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, fmt.Errorf("parsing created_at: %w", err)
	}
	return &u, nil
}

// GetUser retrieves a user by ID.
// Returns ErrNotFound if the user doesn't exist.
func (s *SQLiteStore) GetUser(ctx context.Context, id string) (*User, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE id = ?`, id)
	return scanUser(row)
}

// GetUserByPhone retrieves a user by business and phone.
// Returns ErrNotFound if no user exists for the pair.
func (s *SQLiteStore) GetUserByPhone(ctx context.Context, businessID, phone string) (*User, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+userColumns+` FROM users WHERE business_id = ? AND external_id = ?
	`, businessID, phone)
	return scanUser(row)
}

// CreateAgent inserts a new agent row
func (s *SQLiteStore) CreateAgent(ctx context.Context, agent *Agent) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO agents (id, business_id, name, contact, is_active, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, agent.ID, agent.BusinessID, agent.Name, agent.Contact, agent.IsActive, formatTime(agent.CreatedAt))
	if err != nil {
		return fmt.Errorf("inserting agent: %w", err)
	}
	s.logger.Debug("created agent", "id", agent.ID, "business_id", agent.BusinessID)
	return nil
}

const agentColumns = `id, business_id, name, contact, is_active, created_at`

func scanAgent(row interface{ Scan(...any) error }) (*Agent, error) {
	var a Agent
	var createdAt string

	err := row.Scan(&a.ID, &a.BusinessID, &a.Name, &a.Contact, &a.IsActive, &createdAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scanning agent: %w", err)
	}
	if a.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, fmt.Errorf("parsing created_at: %w", err)
	}
	return &a, nil
}

// GetAgent retrieves an agent by ID.
// Returns ErrNotFound if the agent doesn't exist.
func (s *SQLiteStore) GetAgent(ctx context.Context, id string) (*Agent, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+agentColumns+` FROM agents WHERE id = ?`, id)
	return scanAgent(row)
}

// GetActiveAgentByContact retrieves an active agent by contact address.
// Returns ErrNotFound if no active agent matches.
func (s *SQLiteStore) GetActiveAgentByContact(ctx context.Context, contact string) (*Agent, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+agentColumns+` FROM agents
		WHERE contact = ? AND is_active = 1
		ORDER BY created_at ASC
		LIMIT 1
	`, contact)
	return scanAgent(row)
}

// FirstActiveAgent retrieves the earliest-created active agent for a business.
// Returns ErrNotFound when the business has no active agents.
func (s *SQLiteStore) FirstActiveAgent(ctx context.Context, businessID string) (*Agent, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+agentColumns+` FROM agents
		WHERE business_id = ? AND is_active = 1
		ORDER BY created_at ASC
		LIMIT 1
	`, businessID)
	return scanAgent(row)
}

// CreateConversation inserts a new conversation row.
// Returns ErrDuplicateConversation when an active conversation already exists
// for (business_id, user_id); callers are expected to re-read after that.
func (s *SQLiteStore) CreateConversation(ctx context.Context, conv *Conversation) error {
	contextJSON, err := encodeMap(conv.Context)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO conversations (
			id, business_id, user_id, assigned_agent_id, channel, status, mode,
			control_mode, human_status, context_json, started_at, last_message_at, closed_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		conv.ID,
		conv.BusinessID,
		conv.UserID,
		nullString(conv.AssignedAgentID),
		conv.Channel,
		conv.Status,
		conv.Mode,
		conv.ControlMode,
		nullString(conv.HumanStatus),
		contextJSON,
		formatTime(conv.StartedAt),
		nullTime(conv.LastMessageAt),
		nullTime(conv.ClosedAt),
	)
	if err != nil {
		if isConstraintViolation(err) {
			return ErrDuplicateConversation
		}
		return fmt.Errorf("inserting conversation: %w", err)
	}
	s.logger.Debug("created conversation", "id", conv.ID, "business_id", conv.BusinessID, "user_id", conv.UserID)
	return nil
}

const conversationColumns = `id, business_id, user_id, assigned_agent_id, channel, status, mode,
	control_mode, human_status, context_json, started_at, last_message_at, closed_at`

func scanConversation(row interface{ Scan(...any) error }) (*Conversation, error) {
	var c Conversation
	var agentID, humanStatus, contextJSON, lastMessageAt, closedAt sql.NullString
	var startedAt string

	err := row.Scan(
		&c.ID, &c.BusinessID, &c.UserID, &agentID, &c.Channel, &c.Status, &c.Mode,
		&c.ControlMode, &humanStatus, &contextJSON, &startedAt, &lastMessageAt, &closedAt,
	)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scanning conversation: %w", err)
	}

	c.AssignedAgentID = agentID.String
	c.HumanStatus = humanStatus.String
	if c.Context, err = decodeMap(contextJSON); err != nil {
		return nil, err
	}
	if c.StartedAt, err = parseTime(startedAt); err != nil {
		return nil, fmt.Errorf("parsing started_at: %w", err)
	}
	if lastMessageAt.Valid {
		t, err := parseTime(lastMessageAt.String)
		if err != nil {
			return nil, fmt.Errorf("parsing last_message_at: %w", err)
		}
		c.LastMessageAt = &t
	}
	if closedAt.Valid {
		t, err := parseTime(closedAt.String)
		if err != nil {
			return nil, fmt.Errorf("parsing closed_at: %w", err)
		}
		c.ClosedAt = &t
	}
	return &c, nil
}

// GetConversation retrieves a conversation by ID.
// Returns ErrNotFound if the conversation doesn't exist.
func (s *SQLiteStore) GetConversation(ctx context.Context, id string) (*Conversation, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+conversationColumns+` FROM conversations WHERE id = ?`, id)
	return scanConversation(row)
}

// GetActiveConversation retrieves the unique active conversation for a
// (business, user) pair. Returns ErrNotFound if none is active.
func (s *SQLiteStore) GetActiveConversation(ctx context.Context, businessID, userID string) (*Conversation, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+conversationColumns+` FROM conversations
		WHERE business_id = ? AND user_id = ? AND status = 'active'
	`, businessID, userID)
	return scanConversation(row)
}

// GetActiveConversationByPhone retrieves the most recently started active
// conversation whose user has the given phone, across businesses.
func (s *SQLiteStore) GetActiveConversationByPhone(ctx context.Context, phone string) (*Conversation, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT c.id, c.business_id, c.user_id, c.assigned_agent_id, c.channel, c.status, c.mode,
			c.control_mode, c.human_status, c.context_json, c.started_at, c.last_message_at, c.closed_at
		FROM conversations c
		JOIN users u ON c.user_id = u.id
		WHERE u.external_id = ? AND c.status = 'active'
		ORDER BY c.started_at DESC
		LIMIT 1
	`, phone)
	return scanConversation(row)
}

// GetActiveHumanConversation retrieves the conversation currently being
// serviced by a human for the business (human_status = active).
func (s *SQLiteStore) GetActiveHumanConversation(ctx context.Context, businessID string) (*Conversation, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+conversationColumns+` FROM conversations
		WHERE business_id = ? AND control_mode = 'human' AND human_status = 'active' AND status = 'active'
		ORDER BY started_at ASC
		LIMIT 1
	`, businessID)
	return scanConversation(row)
}

// GetActiveConversationForAgent retrieves the conversation an agent is
// currently assigned to, if any.
func (s *SQLiteStore) GetActiveConversationForAgent(ctx context.Context, agentID string) (*Conversation, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+conversationColumns+` FROM conversations
		WHERE assigned_agent_id = ? AND control_mode = 'human' AND human_status = 'active' AND status = 'active'
		ORDER BY started_at ASC
		LIMIT 1
	`, agentID)
	return scanConversation(row)
}

// GetActiveHumanConversationForClient retrieves the active human conversation
// assigned to the agent whose user has the given phone.
func (s *SQLiteStore) GetActiveHumanConversationForClient(ctx context.Context, agentID, clientPhone string) (*Conversation, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT c.id, c.business_id, c.user_id, c.assigned_agent_id, c.channel, c.status, c.mode,
			c.control_mode, c.human_status, c.context_json, c.started_at, c.last_message_at, c.closed_at
		FROM conversations c
		JOIN users u ON c.user_id = u.id
		WHERE c.assigned_agent_id = ? AND u.external_id = ?
			AND c.control_mode = 'human' AND c.human_status = 'active' AND c.status = 'active'
		ORDER BY c.started_at DESC
		LIMIT 1
	`, agentID, clientPhone)
	return scanConversation(row)
}

// UpdateConversationControl persists the control fields of a conversation
// (status, control_mode, human_status, assigned_agent_id, context, closed_at).
// Returns ErrNotFound if the conversation doesn't exist.
func (s *SQLiteStore) UpdateConversationControl(ctx context.Context, conv *Conversation) error {
	contextJSON, err := encodeMap(conv.Context)
	if err != nil {
		return err
	}
	result, err := s.db.ExecContext(ctx, `
		UPDATE conversations
		SET status = ?, control_mode = ?, human_status = ?, assigned_agent_id = ?, context_json = ?, closed_at = ?
		WHERE id = ?
	`,
		conv.Status,
		conv.ControlMode,
		nullString(conv.HumanStatus),
		nullString(conv.AssignedAgentID),
		contextJSON,
		nullTime(conv.ClosedAt),
		conv.ID,
	)
	if err != nil {
		return fmt.Errorf("updating conversation: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("getting rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return ErrNotFound
	}

	s.logger.Debug("updated conversation control",
		"id", conv.ID,
		"control_mode", conv.ControlMode,
		"human_status", conv.HumanStatus)
	return nil
}

// TouchConversation updates last_message_at for a conversation
func (s *SQLiteStore) TouchConversation(ctx context.Context, id string, at time.Time) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE conversations SET last_message_at = ? WHERE id = ?
	`, formatTime(at), id)
	if err != nil {
		return fmt.Errorf("touching conversation: %w", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("getting rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// CloseAndPromote closes the given conversation and promotes the FIFO-oldest
// waiting conversation of the same business to the agent, in one transaction.
// Returns ErrNotFound when the conversation is not active; the returned
// conversation is nil when nobody was waiting.
func (s *SQLiteStore) CloseAndPromote(ctx context.Context, conversationID, agentID string) (*Conversation, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	var businessID string
	err = tx.QueryRowContext(ctx, `
		SELECT business_id FROM conversations WHERE id = ? AND status = 'active'
	`, conversationID).Scan(&businessID)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying conversation for close: %w", err)
	}

	now := formatTime(time.Now())
	if _, err := tx.ExecContext(ctx, `
		UPDATE conversations
		SET status = 'closed', control_mode = 'ai', human_status = NULL, assigned_agent_id = NULL, closed_at = ?
		WHERE id = ? AND status = 'active'
	`, now, conversationID); err != nil {
		return nil, fmt.Errorf("closing conversation: %w", err)
	}

	row := tx.QueryRowContext(ctx, `
		SELECT `+conversationColumns+` FROM conversations
		WHERE business_id = ? AND control_mode = 'human' AND human_status = 'waiting' AND status = 'active'
		ORDER BY started_at ASC, rowid ASC
		LIMIT 1
	`, businessID)
	promoted, err := scanConversation(row)
	if errors.Is(err, ErrNotFound) {
		if err := tx.Commit(); err != nil {
			return nil, fmt.Errorf("committing close: %w", err)
		}
		s.logger.Debug("closed conversation, queue empty", "id", conversationID)
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	// Guard against the row changing under us between the select and the
	// update; zero rows affected means another writer promoted it first.
	result, err := tx.ExecContext(ctx, `
		UPDATE conversations
		SET human_status = 'active', assigned_agent_id = ?
		WHERE id = ? AND human_status = 'waiting' AND status = 'active'
	`, agentID, promoted.ID)
	if err != nil {
		return nil, fmt.Errorf("promoting conversation: %w", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("getting rows affected: %w", err)
	}
	if rowsAffected == 0 {
		if err := tx.Commit(); err != nil {
			return nil, fmt.Errorf("committing close: %w", err)
		}
		return nil, nil
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("committing close and promote: %w", err)
	}

	promoted.HumanStatus = HumanStatusActive
	promoted.AssignedAgentID = agentID
	s.logger.Debug("closed conversation and promoted next",
		"closed_id", conversationID,
		"promoted_id", promoted.ID,
		"agent_id", agentID)
	return promoted, nil
}

// SaveMessage appends a message to its conversation
func (s *SQLiteStore) SaveMessage(ctx context.Context, msg *Message) error {
	payload, err := encodeMap(msg.Payload)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO messages (id, conversation_id, user_id, sender_type, direction, content, payload_json, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`,
		msg.ID,
		msg.ConversationID,
		nullString(msg.UserID),
		msg.SenderType,
		msg.Direction,
		msg.Content,
		payload,
		formatTime(msg.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("inserting message: %w", err)
	}
	s.logger.Debug("saved message", "id", msg.ID, "conversation_id", msg.ConversationID, "sender_type", msg.SenderType)
	return nil
}

// GetConversationMessages retrieves the most recent `limit` messages of a
// conversation in chronological order (oldest first). A non-positive limit
// returns all messages.
func (s *SQLiteStore) GetConversationMessages(ctx context.Context, conversationID string, limit int) ([]*Message, error) {
	var query string
	var args []any

	if limit > 0 {
		// Get the N most recent messages, but return them in chronological order
		query = `
			SELECT id, conversation_id, user_id, sender_type, direction, content, payload_json, created_at
			FROM (
				SELECT id, conversation_id, user_id, sender_type, direction, content, payload_json, created_at, rowid
				FROM messages
				WHERE conversation_id = ?
				ORDER BY created_at DESC, rowid DESC
				LIMIT ?
			)
			ORDER BY created_at ASC, rowid ASC
		`
		args = []any{conversationID, limit}
	} else {
		query = `
			SELECT id, conversation_id, user_id, sender_type, direction, content, payload_json, created_at
			FROM messages
			WHERE conversation_id = ?
			ORDER BY created_at ASC, rowid ASC
		`
		args = []any{conversationID}
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying messages: %w", err)
	}
	defer rows.Close()

	var messages []*Message
	for rows.Next() {
		var msg Message
		var userID, payload sql.NullString
		var createdAt string

		if err := rows.Scan(&msg.ID, &msg.ConversationID, &userID, &msg.SenderType, &msg.Direction, &msg.Content, &payload, &createdAt); err != nil {
			return nil, fmt.Errorf("scanning message row: %w", err)
		}
		msg.UserID = userID.String
		if msg.Payload, err = decodeMap(payload); err != nil {
			return nil, err
		}
		if msg.CreatedAt, err = parseTime(createdAt); err != nil {
			return nil, fmt.Errorf("parsing message created_at: %w", err)
		}
		messages = append(messages, &msg)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating message rows: %w", err)
	}
	return messages, nil
}

// GetFlowState retrieves the assisted-flow cursor for a phone.
// Returns ErrNotFound when the user has no stored state.
func (s *SQLiteStore) GetFlowState(ctx context.Context, phone string) (*FlowState, error) {
	var fs FlowState
	var requestID sql.NullString
	var updatedAt string

	err := s.db.QueryRowContext(ctx, `
		SELECT phone, state, request_id, updated_at FROM flow_states WHERE phone = ?
	`, phone).Scan(&fs.Phone, &fs.State, &requestID, &updatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying flow state: %w", err)
	}
	fs.RequestID = requestID.String
	if fs.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return nil, fmt.Errorf("parsing updated_at: %w", err)
	}
	return &fs, nil
}

// SetFlowState upserts the assisted-flow cursor for a phone
func (s *SQLiteStore) SetFlowState(ctx context.Context, phone, state, requestID string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO flow_states (phone, state, request_id, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(phone) DO UPDATE SET state = excluded.state, request_id = excluded.request_id, updated_at = excluded.updated_at
	`, phone, state, nullString(requestID), formatTime(time.Now()))
	if err != nil {
		return fmt.Errorf("saving flow state: %w", err)
	}
	return nil
}

// ResetFlowState removes the assisted-flow cursor for a phone.
// Resetting a phone with no state is not an error.
func (s *SQLiteStore) ResetFlowState(ctx context.Context, phone string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM flow_states WHERE phone = ?`, phone); err != nil {
		return fmt.Errorf("resetting flow state: %w", err)
	}
	return nil
}

// Ensure SQLiteStore implements Store interface
var _ Store = (*SQLiteStore)(nil)
