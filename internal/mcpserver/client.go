package mcpserver

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/mark3labs/mcp-go/client"
	"github.com/mark3labs/mcp-go/mcp"

	"a2csmcp/internal/desktop"
	"a2csmcp/pkg/logging"
)

// State is the lifecycle state of a client connection.
type State string

const (
	StateInitialized  State = "initialized"
	StateConnected    State = "connected"
	StateDisconnected State = "disconnected"
	StateError        State = "error"
)

// Server-initiated notification methods surfaced to handlers.
const (
	NotificationToolsListChanged     = "notifications/tools/list_changed"
	NotificationResourcesListChanged = "notifications/resources/list_changed"
	NotificationResourceUpdated      = "notifications/resources/updated"
	NotificationPromptsListChanged   = "notifications/prompts/list_changed"
)

// NotificationHandler receives server-initiated notifications. It is invoked
// on its own goroutine and must be reentrant.
type NotificationHandler func(serverName string, notification mcp.JSONRPCNotification)

// StateChangeHandler is called after every successful state transition.
type StateChangeHandler func(serverName string, from, to State)

// transportFactory builds the underlying mcp-go client for a connection
// attempt. Tests substitute an in-process factory.
type transportFactory func() (*client.Client, error)

const (
	defaultInitTimeout  = 10 * time.Second
	defaultPingInterval = 30 * time.Second
	pingTimeout         = 5 * time.Second
)

// Client supervises a single MCP server connection over one transport.
//
// The connection follows initialized → connected → disconnected →
// initialized, with error branching back to initialized on the next
// Connect. While connected, a keep-alive goroutine owns the session: the
// transport is torn down only after that goroutine exits, so no half-open
// session is ever observable.
type Client struct {
	config  ServerConfig
	factory transportFactory

	mu         sync.RWMutex
	state      State
	session    *client.Client
	initResult *mcp.InitializeResult

	keepAliveCancel context.CancelFunc
	keepAliveDone   chan struct{}

	onNotification NotificationHandler
	onStateChange  StateChangeHandler
	pingInterval   time.Duration
}

// NewClient creates a client for the config's transport type.
func NewClient(config ServerConfig) *Client {
	c := &Client{
		config:       config,
		state:        StateInitialized,
		pingInterval: defaultPingInterval,
	}
	c.factory = func() (*client.Client, error) { return newTransportClient(config) }
	return c
}

// NewClientWithFactory creates a client with a custom transport factory,
// used by tests to connect in process.
func NewClientWithFactory(config ServerConfig, factory func() (*client.Client, error)) *Client {
	c := NewClient(config)
	c.factory = factory
	return c
}

// SetNotificationHandler installs the handler for server-initiated
// notifications. Must be called before Connect.
func (c *Client) SetNotificationHandler(handler NotificationHandler) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onNotification = handler
}

// SetStateChangeHandler installs the transition callback.
func (c *Client) SetStateChangeHandler(handler StateChangeHandler) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onStateChange = handler
}

// Name returns the configured server name.
func (c *Client) Name() string {
	return c.config.Name
}

// Config returns the config this client was built from.
func (c *Client) Config() ServerConfig {
	return c.config
}

// State returns the current lifecycle state.
func (c *Client) State() State {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state
}

func (c *Client) setState(to State) {
	c.mu.Lock()
	from := c.state
	c.state = to
	handler := c.onStateChange
	c.mu.Unlock()

	if handler != nil && from != to {
		handler(c.config.Name, from, to)
	}
}

// Connect establishes the transport, performs the MCP handshake, and spawns
// the keep-alive goroutine. Connecting an already connected client is a
// no-op.
func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	if c.state == StateConnected {
		c.mu.Unlock()
		return nil
	}
	notify := c.onNotification
	c.mu.Unlock()

	logging.Debug("Client", "connecting to %s (%s)", c.config.Name, c.config.Type)

	session, err := c.factory()
	if err != nil {
		c.setState(StateError)
		return fmt.Errorf("failed to create %s client for %s: %w", c.config.Type, c.config.Name, err)
	}

	if notify != nil {
		name := c.config.Name
		session.OnNotification(func(notification mcp.JSONRPCNotification) {
			go notify(name, notification)
		})
	}

	if c.config.Type != TypeStdio {
		if err := session.Start(ctx); err != nil {
			c.setState(StateError)
			return fmt.Errorf("failed to start %s transport for %s: %w", c.config.Type, c.config.Name, err)
		}
	}

	initCtx := ctx
	if _, hasDeadline := ctx.Deadline(); !hasDeadline {
		var cancel context.CancelFunc
		initCtx, cancel = context.WithTimeout(ctx, defaultInitTimeout)
		defer cancel()
	}

	initResult, err := session.Initialize(initCtx, initializeRequest())
	if err != nil {
		if closeErr := session.Close(); closeErr != nil {
			logging.Debug("Client", "error closing failed session for %s: %v", c.config.Name, closeErr)
		}
		c.setState(StateError)
		return fmt.Errorf("failed to initialize MCP protocol for %s: %w", c.config.Name, err)
	}

	keepAliveCtx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})

	c.mu.Lock()
	c.session = session
	c.initResult = initResult
	c.keepAliveCancel = cancel
	c.keepAliveDone = done
	c.mu.Unlock()

	go c.keepAlive(keepAliveCtx, session, done)

	c.setState(StateConnected)
	logging.Debug("Client", "connected to %s (server: %s %s)",
		c.config.Name, initResult.ServerInfo.Name, initResult.ServerInfo.Version)
	return nil
}

// keepAlive owns the session lifetime: it pings periodically and performs
// the only teardown path, so the session cannot be closed while in use.
func (c *Client) keepAlive(ctx context.Context, session *client.Client, done chan struct{}) {
	defer close(done)

	ticker := time.NewTicker(c.pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			if err := session.Close(); err != nil && !errors.Is(err, context.Canceled) {
				// Non-cancellation teardown errors are logged and swallowed.
				logging.Warn("Client", "error closing session for %s: %v", c.config.Name, err)
			}
			return
		case <-ticker.C:
			pingCtx, cancel := context.WithTimeout(context.Background(), pingTimeout)
			err := session.Ping(pingCtx)
			cancel()
			if err != nil {
				logging.Warn("Client", "keep-alive ping failed for %s: %v", c.config.Name, err)
				if closeErr := session.Close(); closeErr != nil && !errors.Is(closeErr, context.Canceled) {
					logging.Warn("Client", "error closing session for %s: %v", c.config.Name, closeErr)
				}
				c.mu.Lock()
				c.session = nil
				c.initResult = nil
				c.mu.Unlock()
				c.setState(StateError)
				return
			}
		}
	}
}

// Disconnect stops the keep-alive goroutine and waits for it to tear the
// session down.
func (c *Client) Disconnect() error {
	c.mu.Lock()
	if c.state != StateConnected {
		c.mu.Unlock()
		return nil
	}
	cancel := c.keepAliveCancel
	done := c.keepAliveDone
	c.session = nil
	c.initResult = nil
	c.keepAliveCancel = nil
	c.keepAliveDone = nil
	c.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if done != nil {
		<-done
	}

	c.setState(StateDisconnected)
	return nil
}

// activeSession returns the session if connected.
func (c *Client) activeSession() (*client.Client, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.state != StateConnected || c.session == nil {
		return nil, fmt.Errorf("client %s not connected", c.config.Name)
	}
	return c.session, nil
}

// InitializeResult returns the handshake snapshot, or nil when not
// connected.
func (c *Client) InitializeResult() *mcp.InitializeResult {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.initResult
}

// ListTools aggregates the server's tools across all pages.
func (c *Client) ListTools(ctx context.Context) ([]mcp.Tool, error) {
	session, err := c.activeSession()
	if err != nil {
		return nil, err
	}

	var tools []mcp.Tool
	req := mcp.ListToolsRequest{}
	for {
		result, err := session.ListTools(ctx, req)
		if err != nil {
			return nil, fmt.Errorf("failed to list tools for %s: %w", c.config.Name, err)
		}
		tools = append(tools, result.Tools...)
		if result.NextCursor == "" {
			break
		}
		req.Params.Cursor = result.NextCursor
	}
	return tools, nil
}

// CallTool invokes one tool and returns its raw result.
func (c *Client) CallTool(ctx context.Context, name string, args map[string]any) (*mcp.CallToolResult, error) {
	session, err := c.activeSession()
	if err != nil {
		return nil, err
	}

	req := mcp.CallToolRequest{}
	req.Params.Name = name
	req.Params.Arguments = args

	result, err := session.CallTool(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("failed to call tool %s on %s: %w", name, c.config.Name, err)
	}
	return result, nil
}

// SupportsWindows reports whether the server advertises resource
// subscription, the prerequisite for contributing windows.
func (c *Client) SupportsWindows() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.initResult != nil &&
		c.initResult.Capabilities.Resources != nil &&
		c.initResult.Capabilities.Resources.Subscribe
}

// ListWindows enumerates the server's window:// resources, subscribes to
// each, and returns them sorted by priority descending. Servers without
// subscribe capability contribute nothing. Transport errors yield an empty
// list; partial failures are hidden from callers but logged.
func (c *Client) ListWindows(ctx context.Context) ([]mcp.Resource, error) {
	if !c.SupportsWindows() {
		return nil, nil
	}
	session, err := c.activeSession()
	if err != nil {
		return nil, err
	}

	var windows []mcp.Resource
	req := mcp.ListResourcesRequest{}
	for {
		result, err := session.ListResources(ctx, req)
		if err != nil {
			logging.Warn("Client", "failed to list resources for %s, returning no windows: %v", c.config.Name, err)
			return nil, nil
		}
		for _, resource := range result.Resources {
			if desktop.IsWindowURI(resource.URI) {
				windows = append(windows, resource)
			}
		}
		if result.NextCursor == "" {
			break
		}
		req.Params.Cursor = result.NextCursor
	}

	for _, window := range windows {
		subReq := mcp.SubscribeRequest{}
		subReq.Params.URI = window.URI
		if err := session.Subscribe(ctx, subReq); err != nil {
			logging.Debug("Client", "failed to subscribe to %s on %s: %v", window.URI, c.config.Name, err)
		}
	}

	sort.SliceStable(windows, func(i, j int) bool {
		return desktop.PriorityOf(windows[i].URI) > desktop.PriorityOf(windows[j].URI)
	})
	return windows, nil
}

// GetWindowDetail reads one window's content. On error a minimal result
// carrying just the URI is returned so aggregation can proceed.
func (c *Client) GetWindowDetail(ctx context.Context, uri string) *mcp.ReadResourceResult {
	session, err := c.activeSession()
	if err != nil {
		return minimalWindowDetail(uri)
	}

	req := mcp.ReadResourceRequest{}
	req.Params.URI = uri

	result, err := session.ReadResource(ctx, req)
	if err != nil {
		logging.Debug("Client", "failed to read window %s on %s: %v", uri, c.config.Name, err)
		return minimalWindowDetail(uri)
	}
	return result
}

func minimalWindowDetail(uri string) *mcp.ReadResourceResult {
	return &mcp.ReadResourceResult{
		Contents: []mcp.ResourceContents{
			mcp.TextResourceContents{URI: uri},
		},
	}
}

// Ping checks server responsiveness.
func (c *Client) Ping(ctx context.Context) error {
	session, err := c.activeSession()
	if err != nil {
		return err
	}
	return session.Ping(ctx)
}

func initializeRequest() mcp.InitializeRequest {
	req := mcp.InitializeRequest{}
	req.Params.ProtocolVersion = mcp.LATEST_PROTOCOL_VERSION
	req.Params.ClientInfo = mcp.Implementation{
		Name:    "a2csmcp",
		Version: "1.0.0",
	}
	req.Params.Capabilities = mcp.ClientCapabilities{}
	return req
}
