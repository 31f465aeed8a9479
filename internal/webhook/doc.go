// ABOUTME: Package documentation for the inbound webhook
// ABOUTME: HTTP transport that feeds normalized events into the router

// Package webhook receives inbound messaging events over HTTP and hands them
// to the message router. It understands the flat, listed and nested payload
// shapes messaging providers emit, so the router only ever sees one event
// structure.
package webhook
