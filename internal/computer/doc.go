// Package computer implements the Computer Facade: the process-local owner
// of an MCP client manager, input resolver, confirm gate, and tool call
// history, plus the signaling client that registers the Computer in an
// office and answers forwarded agent requests.
package computer
