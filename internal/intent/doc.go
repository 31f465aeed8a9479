// Package intent classifies inbound message text into symbolic intent labels
// using deterministic keyword scoring with a fixed tie-break priority.
package intent
