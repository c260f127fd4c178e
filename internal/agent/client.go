package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"

	"a2csmcp/internal/socketio"
	"a2csmcp/pkg/logging"
	"a2csmcp/pkg/smcp"
)

// Handlers receive office notifications. Every handler gets the payload and
// the client instance, so stateless handlers can reach client metadata.
type Handlers struct {
	OnComputerEnterOffice  func(notification smcp.OfficeNotification, client *Client)
	OnComputerLeaveOffice  func(notification smcp.OfficeNotification, client *Client)
	OnComputerUpdateConfig func(update smcp.UpdateComputerReq, client *Client)
	OnDesktopUpdated       func(update smcp.UpdateComputerReq, client *Client)
	OnToolsReceived        func(computer string, tools []smcp.SMCPTool, client *Client)
}

const defaultRequestTimeout = 30 * time.Second

// Client is the Agent-side signaling client. It enforces the direction
// policy locally, issues forwarded requests to Computers, and fans incoming
// notifications out to the registered handlers. After a Computer enters the
// office or updates its config or tool list, the client proactively
// refetches that Computer's tools.
type Client struct {
	name     string
	handlers Handlers

	mu       sync.Mutex
	conn     *socketio.Conn
	officeID string
}

// NewClient creates an agent client named name.
func NewClient(name string, handlers Handlers) *Client {
	return &Client{name: name, handlers: handlers}
}

// Name returns the agent's name.
func (c *Client) Name() string {
	return c.name
}

// OfficeID returns the joined office, if any.
func (c *Client) OfficeID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.officeID
}

// Connect dials the hub.
func (c *Client) Connect(ctx context.Context, url string, headers http.Header) error {
	conn, err := socketio.Dial(ctx, url, headers, c.handleEvent)
	if err != nil {
		return err
	}
	c.mu.Lock()
	c.conn = conn
	c.mu.Unlock()
	return nil
}

// Close closes the connection.
func (c *Client) Close() error {
	c.mu.Lock()
	conn := c.conn
	c.conn = nil
	c.officeID = ""
	c.mu.Unlock()
	if conn == nil {
		return nil
	}
	return conn.Close()
}

func (c *Client) activeConn() (*socketio.Conn, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil {
		return nil, fmt.Errorf("not connected to a hub")
	}
	return c.conn, nil
}

// emit sends a fire-and-forget event with the direction policy enforced.
func (c *Client) emit(ctx context.Context, event string, payload any) error {
	if err := smcp.ValidateAgentEmit(event); err != nil {
		return err
	}
	conn, err := c.activeConn()
	if err != nil {
		return err
	}
	return conn.Emit(ctx, event, payload)
}

// request sends an event expecting an ack, with the direction policy
// enforced.
func (c *Client) request(ctx context.Context, event string, payload any) (json.RawMessage, error) {
	if err := smcp.ValidateAgentEmit(event); err != nil {
		return nil, err
	}
	conn, err := c.activeConn()
	if err != nil {
		return nil, err
	}
	if _, hasDeadline := ctx.Deadline(); !hasDeadline {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, defaultRequestTimeout)
		defer cancel()
	}
	return conn.Request(ctx, event, payload)
}

// JoinOffice joins the named office as an agent.
func (c *Client) JoinOffice(ctx context.Context, officeID string) error {
	_, err := c.request(ctx, smcp.EventJoinOffice, smcp.EnterOfficeReq{
		Role:     smcp.RoleAgent,
		Name:     c.name,
		OfficeID: officeID,
	})
	if err != nil {
		return err
	}
	c.mu.Lock()
	c.officeID = officeID
	c.mu.Unlock()
	return nil
}

// LeaveOffice leaves the current office.
func (c *Client) LeaveOffice(ctx context.Context) error {
	c.mu.Lock()
	officeID := c.officeID
	c.mu.Unlock()
	if officeID == "" {
		return fmt.Errorf("not a member of any office")
	}
	if _, err := c.request(ctx, smcp.EventLeaveOffice, smcp.LeaveOfficeReq{OfficeID: officeID}); err != nil {
		return err
	}
	c.mu.Lock()
	c.officeID = ""
	c.mu.Unlock()
	return nil
}

// EmitToolCall invokes a tool on the named Computer. On timeout it emits
// server:cancel_tool_call and returns a structured error result instead of
// an error, keeping the caller's control flow.
func (c *Client) EmitToolCall(ctx context.Context, computerName, toolName string, params map[string]any, timeout time.Duration) (*smcp.ToolCallResult, error) {
	reqID := uuid.NewString()
	req := smcp.ToolCallReq{
		Agent:    c.name,
		Computer: computerName,
		ToolName: toolName,
		Params:   params,
		ReqID:    reqID,
		Timeout:  timeout.Seconds(),
	}

	callCtx := ctx
	if timeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	raw, err := c.request(callCtx, smcp.EventToolCall, req)
	if err != nil {
		if callCtx.Err() == context.DeadlineExceeded {
			c.cancelToolCall(reqID)
			return smcp.TextResult(fmt.Sprintf("tool call %s timed out after %s", toolName, timeout), true), nil
		}
		return nil, err
	}

	var result smcp.ToolCallResult
	if err := json.Unmarshal(raw, &result); err != nil {
		return nil, fmt.Errorf("failed to decode tool result: %w", err)
	}
	return &result, nil
}

// cancelToolCall tells the office to abandon an in-flight call.
func (c *Client) cancelToolCall(reqID string) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	err := c.emit(ctx, smcp.EventCancelToolCall, smcp.CancelToolCallReq{
		Agent: c.name,
		ReqID: reqID,
	})
	if err != nil {
		logging.Warn("Agent", "failed to emit cancel for %s: %v", reqID, err)
	}
}

// GetToolsFromComputer fetches a Computer's tool surface.
func (c *Client) GetToolsFromComputer(ctx context.Context, computerName string) ([]smcp.SMCPTool, error) {
	raw, err := c.request(ctx, smcp.EventGetTools, smcp.GetToolsReq{
		Computer: computerName,
		Agent:    c.name,
		ReqID:    uuid.NewString(),
	})
	if err != nil {
		return nil, err
	}
	var ret smcp.GetToolsRet
	if err := json.Unmarshal(raw, &ret); err != nil {
		return nil, fmt.Errorf("failed to decode tool list: %w", err)
	}
	return ret.Tools, nil
}

// GetDesktopFromComputer fetches a Computer's rendered desktop.
func (c *Client) GetDesktopFromComputer(ctx context.Context, computerName string, size *int, window *string) ([]string, error) {
	raw, err := c.request(ctx, smcp.EventGetDesktop, smcp.GetDesktopReq{
		Computer:    computerName,
		Agent:       c.name,
		ReqID:       uuid.NewString(),
		DesktopSize: size,
		Window:      window,
	})
	if err != nil {
		return nil, err
	}
	var ret smcp.GetDesktopRet
	if err := json.Unmarshal(raw, &ret); err != nil {
		return nil, fmt.Errorf("failed to decode desktop: %w", err)
	}
	return ret.Desktops, nil
}

// GetConfigFromComputer fetches a Computer's rendered configuration.
func (c *Client) GetConfigFromComputer(ctx context.Context, computerName string) (*smcp.GetConfigRet, error) {
	raw, err := c.request(ctx, smcp.EventGetConfig, smcp.GetConfigReq{
		Computer: computerName,
		Agent:    c.name,
	})
	if err != nil {
		return nil, err
	}
	var ret smcp.GetConfigRet
	if err := json.Unmarshal(raw, &ret); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	return &ret, nil
}

// ListRoom enumerates the agent's own office.
func (c *Client) ListRoom(ctx context.Context) ([]smcp.RoomSession, error) {
	c.mu.Lock()
	officeID := c.officeID
	c.mu.Unlock()
	if officeID == "" {
		return nil, fmt.Errorf("not a member of any office")
	}

	raw, err := c.request(ctx, smcp.EventListRoom, smcp.ListRoomReq{
		Agent:    c.name,
		OfficeID: officeID,
		ReqID:    uuid.NewString(),
	})
	if err != nil {
		return nil, err
	}
	var ret smcp.ListRoomRet
	if err := json.Unmarshal(raw, &ret); err != nil {
		return nil, fmt.Errorf("failed to decode room listing: %w", err)
	}
	return ret.Sessions, nil
}

// GetComputersInOffice filters the room listing to computers.
func (c *Client) GetComputersInOffice(ctx context.Context) ([]smcp.RoomSession, error) {
	sessions, err := c.ListRoom(ctx)
	if err != nil {
		return nil, err
	}
	var computers []smcp.RoomSession
	for _, session := range sessions {
		if session.Role == smcp.RoleComputer {
			computers = append(computers, session)
		}
	}
	return computers, nil
}

// handleEvent consumes hub broadcasts.
func (c *Client) handleEvent(ctx context.Context, event string, data json.RawMessage) (any, error) {
	switch event {
	case smcp.NotifyEnterOffice:
		var notification smcp.OfficeNotification
		if err := json.Unmarshal(data, &notification); err != nil {
			return nil, err
		}
		if notification.Computer == nil {
			return nil, nil
		}
		if c.handlers.OnComputerEnterOffice != nil {
			c.handlers.OnComputerEnterOffice(notification, c)
		}
		c.refreshTools(ctx, *notification.Computer)

	case smcp.NotifyLeaveOffice:
		var notification smcp.OfficeNotification
		if err := json.Unmarshal(data, &notification); err != nil {
			return nil, err
		}
		if notification.Computer != nil && c.handlers.OnComputerLeaveOffice != nil {
			c.handlers.OnComputerLeaveOffice(notification, c)
		}

	case smcp.NotifyUpdateConfig:
		var update smcp.UpdateComputerReq
		if err := json.Unmarshal(data, &update); err != nil {
			return nil, err
		}
		if c.handlers.OnComputerUpdateConfig != nil {
			c.handlers.OnComputerUpdateConfig(update, c)
		}
		c.refreshTools(ctx, update.Computer)

	case smcp.NotifyUpdateToolList:
		var update smcp.UpdateComputerReq
		if err := json.Unmarshal(data, &update); err != nil {
			return nil, err
		}
		c.refreshTools(ctx, update.Computer)

	case smcp.NotifyUpdateDesktop:
		var update smcp.UpdateComputerReq
		if err := json.Unmarshal(data, &update); err != nil {
			return nil, err
		}
		if c.handlers.OnDesktopUpdated != nil {
			c.handlers.OnDesktopUpdated(update, c)
		}

	case smcp.NotifyCancelToolCall:
		// Agents originate cancels; nothing to do when one echoes back.
	}
	return nil, nil
}

// refreshTools fetches the computer's tools and hands them to the handler.
func (c *Client) refreshTools(ctx context.Context, computerName string) {
	if c.handlers.OnToolsReceived == nil || computerName == "" {
		return
	}
	tools, err := c.GetToolsFromComputer(ctx, computerName)
	if err != nil {
		logging.Warn("Agent", "failed to fetch tools from %s: %v", computerName, err)
		return
	}
	c.handlers.OnToolsReceived(computerName, tools, c)
}
