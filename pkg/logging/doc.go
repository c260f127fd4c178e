// Package logging provides a structured logging system for a2csmcp with
// unified log handling and level filtering.
//
// The package wraps Go's standard slog package. Every log entry carries a
// subsystem identifier so that hub, computer, and client logs can be told
// apart in a shared stream.
//
// # Usage
//
//	import "a2csmcp/pkg/logging"
//
//	// Initialize from the A2C_SMCP_LOG_* environment variables
//	logging.InitFromEnv()
//
//	// Log messages
//	logging.Info("Hub", "listening on %s", addr)
//	logging.Debug("Manager", "rebuilt tool tables for %s", serverName)
//	logging.Error("Client", err, "keep-alive terminated")
//
// # Environment configuration
//
//   - A2C_SMCP_LOG_LEVEL: debug, info, warn, or error. Unknown values and
//     the empty string select info.
//   - A2C_SMCP_LOG_SILENT: a truthy value (1, true, yes, on) discards all
//     log output.
//   - A2C_SMCP_LOG_FILE: append log output to this file instead of stderr.
//     Missing parent directories are created.
//
// # Subsystem organization
//
//   - Hub: signaling hub sessions, rooms, and forwarding
//   - Computer: computer facade and socket client
//   - Agent: agent client operations
//   - Manager: MCP server supervision and tool tables
//   - Client: individual MCP client connections
//   - Inputs: input resolution and config rendering
//   - Desktop: window aggregation
//
// The logging system is safe for concurrent use from multiple goroutines.
package logging
