// ABOUTME: Package documentation for the message router
// ABOUTME: Orchestrates intent detection, flow handling, AI fallback and human handoff

// Package router dispatches every inbound chat event to exactly one handling
// path. Agent messages go to the support service; user messages are persisted,
// then either forwarded to the assigned agent (human control), escalated
// (handoff intent), answered by the assisted flow, or answered by the AI
// provider. Event validation happens before any state is written, so invalid
// payloads can be rejected at the transport with no side effects.
package router
