// Package agent provides the Agent-side signaling client: a thin wrapper
// over the fabric connection that enforces the event direction policy,
// issues forwarded requests to Computers, and fans office notifications out
// to user handlers.
package agent
