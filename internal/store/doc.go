// Package store provides persistent storage for the bot using SQLite.
//
// # Architecture
//
// A single Store interface covers every repository operation the routing core
// needs: idempotent user/conversation creation, message append, agent lookup,
// human-queue queries, and the transactional close-and-promote operation.
//
// Two implementations are provided:
//
//   - SQLiteStore: production store backed by modernc.org/sqlite. Uniqueness
//     rules (one active conversation per business/user pair, one user per
//     business/external id) are enforced by the schema; violations surface as
//     ErrDuplicateConversation and ErrDuplicateUser so callers can recover
//     with a re-read instead of holding locks.
//   - MockStore: in-memory store for tests, enforcing the same rules.
//
// # Data Models
//
//   - Business: tenant
//   - User: end customer, keyed by (business_id, external_id)
//   - Agent: human responder with a contact address
//   - Conversation: session with status, flow mode, control mode and
//     human-queue state
//   - Message: append-only conversation content
//   - FlowState: per-phone assisted-flow cursor
package store
