// Package flow implements the assisted-mode conversation state machine:
// idle -> collecting_data -> pending_human_validation, with cancellation and
// canned responses for informational intents. Unhandled intents defer to the
// AI provider.
package flow
