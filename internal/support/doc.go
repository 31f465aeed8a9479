// Package support implements the human side of conversation control: agent
// assignment, FIFO handoff queueing per business, and the agent command
// surface for closing conversations and relaying messages.
package support
