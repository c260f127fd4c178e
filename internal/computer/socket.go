package computer

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"a2csmcp/internal/socketio"
	"a2csmcp/pkg/logging"
	"a2csmcp/pkg/smcp"
)

// SocketClient connects a Computer to the Signaling Hub. It answers the
// forwarded client:* requests out of the facade and emits server:update_*
// events when the facade reports changes. It implements Notifier.
type SocketClient struct {
	computer *Computer

	mu       sync.Mutex
	conn     *socketio.Conn
	officeID string

	callsMu sync.Mutex
	calls   map[string]context.CancelFunc // req_id -> cancel of in-flight call
}

// NewSocketClient wires a client to the facade and attaches itself for
// upstream notifications.
func NewSocketClient(computer *Computer) *SocketClient {
	c := &SocketClient{
		computer: computer,
		calls:    make(map[string]context.CancelFunc),
	}
	computer.AttachClient(c)
	return c
}

// Connect dials the hub. Headers may carry authentication material.
func (c *SocketClient) Connect(ctx context.Context, url string, headers http.Header) error {
	conn, err := socketio.Dial(ctx, url, headers, c.handleEvent)
	if err != nil {
		return err
	}
	c.mu.Lock()
	c.conn = conn
	c.mu.Unlock()
	return nil
}

// Close detaches from the facade and closes the connection.
func (c *SocketClient) Close() error {
	c.computer.DetachClient()
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

func (c *SocketClient) activeConn() (*socketio.Conn, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil {
		return nil, fmt.Errorf("not connected to a hub")
	}
	return c.conn, nil
}

// JoinOffice registers the Computer in the named office.
func (c *SocketClient) JoinOffice(ctx context.Context, officeID string) error {
	conn, err := c.activeConn()
	if err != nil {
		return err
	}
	if err := smcp.ValidateComputerEmit(smcp.EventJoinOffice); err != nil {
		return err
	}
	_, err = conn.Request(ctx, smcp.EventJoinOffice, smcp.EnterOfficeReq{
		Role:     smcp.RoleComputer,
		Name:     c.computer.Name(),
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
func (c *SocketClient) LeaveOffice(ctx context.Context) error {
	conn, err := c.activeConn()
	if err != nil {
		return err
	}
	c.mu.Lock()
	officeID := c.officeID
	c.mu.Unlock()
	if officeID == "" {
		return fmt.Errorf("not a member of any office")
	}
	if _, err := conn.Request(ctx, smcp.EventLeaveOffice, smcp.LeaveOfficeReq{OfficeID: officeID}); err != nil {
		return err
	}
	c.mu.Lock()
	c.officeID = ""
	c.mu.Unlock()
	return nil
}

// OfficeID returns the joined office, if any.
func (c *SocketClient) OfficeID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.officeID
}

// handleEvent answers forwarded requests and consumes broadcasts.
func (c *SocketClient) handleEvent(ctx context.Context, event string, data json.RawMessage) (any, error) {
	switch event {
	case smcp.EventToolCall:
		return c.handleToolCall(ctx, data)
	case smcp.EventGetTools:
		return c.handleGetTools(ctx, data)
	case smcp.EventGetDesktop:
		return c.handleGetDesktop(ctx, data)
	case smcp.EventGetConfig:
		return c.handleGetConfig(data)
	case smcp.NotifyCancelToolCall:
		c.handleCancel(data)
		return nil, nil
	default:
		if smcp.IsNotifyEvent(event) {
			// Other broadcasts carry nothing a Computer acts on.
			return nil, nil
		}
		return nil, fmt.Errorf("unsupported event %q", event)
	}
}

func (c *SocketClient) handleToolCall(ctx context.Context, data json.RawMessage) (any, error) {
	var req smcp.ToolCallReq
	if err := json.Unmarshal(data, &req); err != nil {
		return nil, fmt.Errorf("invalid tool call payload: %w", err)
	}

	callCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	c.trackCall(req.ReqID, cancel)
	defer c.untrackCall(req.ReqID)

	timeout := time.Duration(req.Timeout * float64(time.Second))
	result := c.computer.ExecuteTool(callCtx, req.ReqID, req.ToolName, req.Params, timeout)
	return result, nil
}

func (c *SocketClient) handleGetTools(ctx context.Context, data json.RawMessage) (any, error) {
	var req smcp.GetToolsReq
	if err := json.Unmarshal(data, &req); err != nil {
		return nil, fmt.Errorf("invalid get_tools payload: %w", err)
	}
	return &smcp.GetToolsRet{
		Tools: c.computer.GetTools(ctx),
		ReqID: req.ReqID,
	}, nil
}

func (c *SocketClient) handleGetDesktop(ctx context.Context, data json.RawMessage) (any, error) {
	var req smcp.GetDesktopReq
	if err := json.Unmarshal(data, &req); err != nil {
		return nil, fmt.Errorf("invalid get_desktop payload: %w", err)
	}
	desktops, err := c.computer.GetDesktop(ctx, req.DesktopSize, req.Window)
	if err != nil {
		return nil, err
	}
	if desktops == nil {
		desktops = []string{}
	}
	return &smcp.GetDesktopRet{Desktops: desktops, ReqID: req.ReqID}, nil
}

func (c *SocketClient) handleGetConfig(data json.RawMessage) (any, error) {
	var req smcp.GetConfigReq
	if err := json.Unmarshal(data, &req); err != nil {
		return nil, fmt.Errorf("invalid get_config payload: %w", err)
	}
	ret := c.computer.GetConfig()
	return &ret, nil
}

func (c *SocketClient) handleCancel(data json.RawMessage) {
	var req smcp.CancelToolCallReq
	if err := json.Unmarshal(data, &req); err != nil {
		logging.Debug("Computer", "invalid cancel payload: %v", err)
		return
	}
	c.callsMu.Lock()
	cancel, ok := c.calls[req.ReqID]
	c.callsMu.Unlock()
	if ok {
		logging.Info("Computer", "cancelling tool call %s on request of agent %s", req.ReqID, req.Agent)
		cancel()
	}
}

func (c *SocketClient) trackCall(reqID string, cancel context.CancelFunc) {
	if reqID == "" {
		return
	}
	c.callsMu.Lock()
	defer c.callsMu.Unlock()
	c.calls[reqID] = cancel
}

func (c *SocketClient) untrackCall(reqID string) {
	if reqID == "" {
		return
	}
	c.callsMu.Lock()
	defer c.callsMu.Unlock()
	delete(c.calls, reqID)
}

// emitUpdate sends one server:update_* event with the direction policy
// enforced locally.
func (c *SocketClient) emitUpdate(ctx context.Context, event string) {
	if err := smcp.ValidateComputerEmit(event); err != nil {
		logging.Error("Computer", err, "refusing to emit %s", event)
		return
	}
	conn, err := c.activeConn()
	if err != nil {
		return
	}
	if err := conn.Emit(ctx, event, smcp.UpdateComputerReq{Computer: c.computer.Name()}); err != nil {
		logging.Warn("Computer", "failed to emit %s: %v", event, err)
	}
}

// NotifyToolListChanged implements Notifier.
func (c *SocketClient) NotifyToolListChanged(ctx context.Context) {
	c.emitUpdate(ctx, smcp.EventUpdateToolList)
}

// NotifyDesktopChanged implements Notifier.
func (c *SocketClient) NotifyDesktopChanged(ctx context.Context) {
	c.emitUpdate(ctx, smcp.EventUpdateDesktop)
}

// NotifyConfigChanged implements Notifier.
func (c *SocketClient) NotifyConfigChanged(ctx context.Context) {
	c.emitUpdate(ctx, smcp.EventUpdateConfig)
}
