// Package smcp defines the wire-level contract between Agents, Computers,
// and the Signaling Hub: the namespace, event names, direction policy, and
// the JSON payload shapes exchanged over it.
package smcp

import (
	"fmt"
	"strings"
)

// Namespace is the single namespace all signaling traffic flows through.
const Namespace = "/smcp"

// Roles a session may hold. A session's role is fixed on first join.
const (
	RoleAgent    = "agent"
	RoleComputer = "computer"
)

// Events sent by clients to the Hub.
const (
	EventJoinOffice     = "server:join_office"
	EventLeaveOffice    = "server:leave_office"
	EventUpdateConfig   = "server:update_config"
	EventUpdateToolList = "server:update_tool_list"
	EventUpdateDesktop  = "server:update_desktop"
	EventCancelToolCall = "server:cancel_tool_call"
	EventListRoom       = "server:list_room"
)

// Events forwarded point-to-point by the Hub to a Computer on behalf of an
// Agent; the Computer's response travels back as the Agent's ack.
const (
	EventToolCall   = "client:tool_call"
	EventGetTools   = "client:get_tools"
	EventGetConfig  = "client:get_config"
	EventGetDesktop = "client:get_desktop"
)

// Notifications broadcast by the Hub. Clients never emit these.
const (
	NotifyEnterOffice    = "notify:enter_office"
	NotifyLeaveOffice    = "notify:leave_office"
	NotifyUpdateConfig   = "notify:update_config"
	NotifyUpdateToolList = "notify:update_tool_list"
	NotifyUpdateDesktop  = "notify:update_desktop"
	NotifyCancelToolCall = "notify:cancel_tool_call"
)

// NormalizeEvent maps an event name to its dispatch form (`:` becomes `_`).
func NormalizeEvent(event string) string {
	return strings.ReplaceAll(event, ":", "_")
}

func IsNotifyEvent(event string) bool { return strings.HasPrefix(event, "notify:") }
func IsServerEvent(event string) bool { return strings.HasPrefix(event, "server:") }
func IsClientEvent(event string) bool { return strings.HasPrefix(event, "client:") }
func IsAgentEvent(event string) bool  { return strings.HasPrefix(event, "agent:") }

// ValidateAgentEmit rejects events an Agent must never originate.
func ValidateAgentEmit(event string) error {
	if IsNotifyEvent(event) {
		return fmt.Errorf("agents may not emit notification event %q", event)
	}
	if IsAgentEvent(event) {
		return fmt.Errorf("agents may not emit agent-targeted event %q", event)
	}
	return nil
}

// ValidateComputerEmit rejects events a Computer must never originate.
// client:* requests are Hub-to-Computer only; the Computer answers them but
// never sends them.
func ValidateComputerEmit(event string) error {
	if IsNotifyEvent(event) {
		return fmt.Errorf("computers may not emit notification event %q", event)
	}
	if IsClientEvent(event) {
		return fmt.Errorf("computers may not emit forwarded request event %q", event)
	}
	return nil
}

// EnterOfficeReq asks the Hub to join the named office.
type EnterOfficeReq struct {
	Role     string `json:"role"`
	Name     string `json:"name"`
	OfficeID string `json:"office_id"`
}

// LeaveOfficeReq asks the Hub to leave the named office.
type LeaveOfficeReq struct {
	OfficeID string `json:"office_id"`
}

// UpdateComputerReq announces that a Computer's config, tool list, or
// desktop changed. The Hub rebroadcasts it as the matching notify:* event.
type UpdateComputerReq struct {
	Computer string `json:"computer"`
}

// ToolCallReq is forwarded from an Agent to the named Computer.
// Timeout is in seconds.
type ToolCallReq struct {
	Agent    string         `json:"agent"`
	Computer string         `json:"computer"`
	ToolName string         `json:"tool_name"`
	Params   map[string]any `json:"params"`
	ReqID    string         `json:"req_id"`
	Timeout  float64        `json:"timeout"`
}

// CancelToolCallReq tells Computers to abandon an in-flight call.
type CancelToolCallReq struct {
	Agent string `json:"agent"`
	ReqID string `json:"req_id"`
}

// SMCPTool describes one callable tool in a Computer's surface.
type SMCPTool struct {
	Name         string         `json:"name"`
	Description  string         `json:"description"`
	ParamsSchema map[string]any `json:"params_schema"`
	ReturnSchema map[string]any `json:"return_schema,omitempty"`
	Meta         map[string]any `json:"meta,omitempty"`
}

// GetToolsReq asks a Computer for its tool surface.
type GetToolsReq struct {
	Computer string `json:"computer"`
	Agent    string `json:"agent"`
	ReqID    string `json:"req_id"`
}

// GetToolsRet carries the Computer's tool surface back to the Agent.
type GetToolsRet struct {
	Tools []SMCPTool `json:"tools"`
	ReqID string     `json:"req_id"`
}

// GetDesktopReq asks a Computer for its rendered desktop.
type GetDesktopReq struct {
	Computer    string  `json:"computer"`
	Agent       string  `json:"agent"`
	ReqID       string  `json:"req_id"`
	DesktopSize *int    `json:"desktop_size,omitempty"`
	Window      *string `json:"window,omitempty"`
}

// GetDesktopRet carries rendered window strings, already ordered and capped.
type GetDesktopRet struct {
	Desktops []string `json:"desktops"`
	ReqID    string   `json:"req_id"`
}

// GetConfigReq asks a Computer for its rendered server configs and input
// definitions.
type GetConfigReq struct {
	Computer string `json:"computer"`
	Agent    string `json:"agent"`
}

// GetConfigRet carries server configs keyed by name plus input definitions.
// Both are protocol-opaque JSON objects; the Computer defines their schema.
type GetConfigRet struct {
	Servers map[string]any `json:"servers"`
	Inputs  []any          `json:"inputs"`
}

// ListRoomReq asks the Hub to enumerate the requester's own office.
type ListRoomReq struct {
	Agent    string `json:"agent"`
	OfficeID string `json:"office_id"`
	ReqID    string `json:"req_id"`
}

// RoomSession is one member of an office as seen by list_room.
type RoomSession struct {
	SID      string `json:"sid"`
	Name     string `json:"name"`
	Role     string `json:"role"`
	OfficeID string `json:"office_id"`
}

// ListRoomRet lists every known-role session in the office.
type ListRoomRet struct {
	Sessions []RoomSession `json:"sessions"`
	ReqID    string        `json:"req_id"`
}

// OfficeNotification is the payload of notify:enter_office and
// notify:leave_office. Exactly one of Computer or Agent is set, matching
// the role of the member that moved.
type OfficeNotification struct {
	OfficeID string  `json:"office_id"`
	Computer *string `json:"computer,omitempty"`
	Agent    *string `json:"agent,omitempty"`
}

// ToolCallResult is the structured result of a forwarded tool call. Content
// carries MCP content blocks verbatim; Meta carries merged tool metadata and
// transform output.
type ToolCallResult struct {
	Content []any          `json:"content"`
	IsError bool           `json:"isError"`
	Meta    map[string]any `json:"meta,omitempty"`
}

// TextResult builds a single-text-block result, the common shape for both
// success payloads and structured errors.
func TextResult(text string, isError bool) *ToolCallResult {
	return &ToolCallResult{
		Content: []any{map[string]any{"type": "text", "text": text}},
		IsError: isError,
	}
}
