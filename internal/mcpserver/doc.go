// Package mcpserver manages the MCP server connections of one Computer.
//
// Client supervises a single connection over stdio, SSE, or streamable
// HTTP: handshake, keep-alive, tool listing and calls, and window
// resource discovery. Manager aggregates many clients into one tool
// surface with globally unique visible names, applying per-tool metadata,
// aliases, forbidden-tool filtering, and optional result transforms.
package mcpserver
