package mcpserver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"golang.org/x/sync/errgroup"

	"a2csmcp/internal/transform"
	"a2csmcp/pkg/logging"
)

// ErrCallTimeout marks tool calls that exceeded their deadline. Callers
// surface these distinctly from other failures.
var ErrCallTimeout = errors.New("tool call timed out")

// ManagerOptions tune supervision behavior.
type ManagerOptions struct {
	// AutoConnect starts a server right after AddOrUpdateServer installs it.
	AutoConnect bool
	// AutoReconnect allows AddOrUpdateServer to replace an active server by
	// stopping it first. When off, updating an active server fails.
	AutoReconnect bool
}

type aliasTarget struct {
	server       string
	originalName string
}

// WindowRef pairs a window resource with its owning server.
type WindowRef struct {
	Server   string
	Resource mcp.Resource
}

// WindowDetail additionally carries the window's content.
type WindowDetail struct {
	Server   string
	Resource mcp.Resource
	Detail   *mcp.ReadResourceResult
}

// ToolInfo is one entry of the aggregated tool surface.
type ToolInfo struct {
	Server      string
	VisibleName string
	Tool        mcp.Tool
	Meta        *ToolMeta
}

// Manager supervises the MCP clients of one Computer and maintains the
// globally unique visible tool-name table across them.
//
// Mutating operations (initialize, add/update/remove, start/stop, rebuild)
// are serialized by a single mutex; the lock is never held across network
// I/O to a server being called.
type Manager struct {
	mu      sync.Mutex
	options ManagerOptions

	configs map[string]ServerConfig
	order   []string
	clients map[string]*Client
	scripts map[string]*transform.Script

	// toolsCache holds the last tool list per active server; rebuilds read
	// from it so table state reflects the triggering start/stop.
	toolsCache map[string][]mcp.Tool

	tablesMu      sync.RWMutex
	toolMapping   map[string]string
	aliasMapping  map[string]aliasTarget
	disabledTools map[string]bool

	onNotification NotificationHandler
	onStateChange  StateChangeHandler

	// newClient builds the client for a server start; tests substitute
	// in-process constructions.
	newClient func(ServerConfig) *Client
}

// NewManager creates an empty manager.
func NewManager(options ManagerOptions) *Manager {
	return &Manager{
		options:       options,
		newClient:     NewClient,
		configs:       make(map[string]ServerConfig),
		clients:       make(map[string]*Client),
		scripts:       make(map[string]*transform.Script),
		toolsCache:    make(map[string][]mcp.Tool),
		toolMapping:   make(map[string]string),
		aliasMapping:  make(map[string]aliasTarget),
		disabledTools: make(map[string]bool),
	}
}

// SetClientBuilder overrides how clients are constructed, letting embedders
// connect to in-process servers. Call before any server starts.
func (m *Manager) SetClientBuilder(build func(ServerConfig) *Client) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.newClient = build
}

// SetNotificationHandler installs the upstream handler that receives every
// notification fanned in from all clients.
func (m *Manager) SetNotificationHandler(handler NotificationHandler) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onNotification = handler
}

// SetStateChangeHandler installs a callback for client state transitions.
func (m *Manager) SetStateChangeHandler(handler StateChangeHandler) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onStateChange = handler
}

// Initialize replaces the config set without connecting anything.
func (m *Manager) Initialize(configs []ServerConfig) error {
	compiled := make(map[string]*transform.Script)
	for i := range configs {
		if err := configs[i].Validate(); err != nil {
			return err
		}
		if configs[i].VRL != "" {
			script, err := transform.Compile(configs[i].VRL)
			if err != nil {
				return fmt.Errorf("server %s: %w", configs[i].Name, err)
			}
			compiled[configs[i].Name] = script
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.configs = make(map[string]ServerConfig)
	m.order = nil
	m.scripts = compiled
	for _, config := range configs {
		if _, exists := m.configs[config.Name]; !exists {
			m.order = append(m.order, config.Name)
		}
		m.configs[config.Name] = config
	}
	return nil
}

// StartAll connects every non-disabled server in insertion order.
func (m *Manager) StartAll(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, name := range m.order {
		config := m.configs[name]
		if config.Disabled {
			continue
		}
		if err := m.startClientLocked(ctx, name); err != nil {
			return err
		}
	}
	return nil
}

// StopAll disconnects every active server in reverse insertion order.
func (m *Manager) StopAll(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.stopAllLocked(ctx)
}

func (m *Manager) stopAllLocked(ctx context.Context) error {
	var firstErr error
	for i := len(m.order) - 1; i >= 0; i-- {
		name := m.order[i]
		if _, active := m.clients[name]; !active {
			continue
		}
		if err := m.stopClientLocked(ctx, name); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// StartClient connects one server by name.
func (m *Manager) StartClient(ctx context.Context, name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.configs[name]; !ok {
		return fmt.Errorf("server %s not found", name)
	}
	return m.startClientLocked(ctx, name)
}

// StopClient disconnects one server by name.
func (m *Manager) StopClient(ctx context.Context, name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, active := m.clients[name]; !active {
		return fmt.Errorf("server %s is not active", name)
	}
	return m.stopClientLocked(ctx, name)
}

// startClientLocked connects the named server, caches its tools, and
// rebuilds the tool tables. A rebuild conflict rolls the start back.
func (m *Manager) startClientLocked(ctx context.Context, name string) error {
	if existing, active := m.clients[name]; active && existing.State() == StateConnected {
		return nil
	}

	config := m.configs[name]
	if config.Disabled {
		return fmt.Errorf("server %s is disabled", name)
	}

	c := m.newClient(config)
	c.SetNotificationHandler(m.handleNotification)
	c.SetStateChangeHandler(m.handleStateChange)

	if err := c.Connect(ctx); err != nil {
		return err
	}

	tools, err := c.ListTools(ctx)
	if err != nil {
		_ = c.Disconnect()
		return err
	}

	m.clients[name] = c
	m.toolsCache[name] = tools

	if err := m.rebuildToolTablesLocked(); err != nil {
		// Roll back the start that introduced the conflict.
		delete(m.clients, name)
		delete(m.toolsCache, name)
		_ = c.Disconnect()
		if rebuildErr := m.rebuildToolTablesLocked(); rebuildErr != nil {
			logging.Error("Manager", rebuildErr, "failed to restore tool tables after rollback of %s", name)
		}
		return err
	}

	logging.Info("Manager", "started server %s with %d tools", name, len(tools))
	return nil
}

func (m *Manager) stopClientLocked(ctx context.Context, name string) error {
	c, active := m.clients[name]
	if !active {
		return nil
	}

	err := c.Disconnect()
	delete(m.clients, name)
	delete(m.toolsCache, name)

	if rebuildErr := m.rebuildToolTablesLocked(); rebuildErr != nil {
		logging.Error("Manager", rebuildErr, "tool table rebuild failed after stopping %s", name)
	}

	logging.Info("Manager", "stopped server %s", name)
	return err
}

// AddOrUpdateServer upserts a config. An active server is replaced only
// when auto-reconnect is on; the restarted server is rolled back if its
// tools conflict.
func (m *Manager) AddOrUpdateServer(ctx context.Context, config ServerConfig) error {
	if err := config.Validate(); err != nil {
		return err
	}
	var script *transform.Script
	if config.VRL != "" {
		var err error
		script, err = transform.Compile(config.VRL)
		if err != nil {
			return fmt.Errorf("server %s: %w", config.Name, err)
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	_, active := m.clients[config.Name]
	if active && !m.options.AutoReconnect {
		return fmt.Errorf("server %s is active and auto-reconnect is disabled", config.Name)
	}

	if active {
		if err := m.stopClientLocked(ctx, config.Name); err != nil {
			logging.Warn("Manager", "error stopping %s before update: %v", config.Name, err)
		}
	}

	if _, exists := m.configs[config.Name]; !exists {
		m.order = append(m.order, config.Name)
	}
	m.configs[config.Name] = config
	if script != nil {
		m.scripts[config.Name] = script
	} else {
		delete(m.scripts, config.Name)
	}

	if (active || m.options.AutoConnect) && !config.Disabled {
		return m.startClientLocked(ctx, config.Name)
	}
	return nil
}

// RemoveServer stops and forgets a server. Unknown names fail.
func (m *Manager) RemoveServer(ctx context.Context, name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.configs[name]; !ok {
		return fmt.Errorf("server %s not found", name)
	}

	if _, active := m.clients[name]; active {
		if err := m.stopClientLocked(ctx, name); err != nil {
			logging.Warn("Manager", "error stopping %s during removal: %v", name, err)
		}
	}

	delete(m.configs, name)
	delete(m.scripts, name)
	for i, existing := range m.order {
		if existing == name {
			m.order = append(m.order[:i], m.order[i+1:]...)
			break
		}
	}
	return nil
}

// Close stops everything; servers are drained in reverse insertion order.
func (m *Manager) Close(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.stopAllLocked(ctx)
}

// rebuildToolTablesLocked recomputes the three tool tables from the cached
// tool lists of all active servers, iterating in insertion order. The first
// visible-name collision aborts the rebuild.
func (m *Manager) rebuildToolTablesLocked() error {
	toolMapping := make(map[string]string)
	aliasMapping := make(map[string]aliasTarget)
	disabledTools := make(map[string]bool)

	for _, serverName := range m.order {
		tools, active := m.toolsCache[serverName]
		if !active {
			continue
		}
		config := m.configs[serverName]

		for _, tool := range tools {
			meta := config.EffectiveToolMeta(tool.Name)

			visible := tool.Name
			hasAlias := false
			if meta != nil && meta.Alias != nil && *meta.Alias != "" {
				visible = *meta.Alias
				hasAlias = true
			}

			if config.IsForbidden(tool.Name) {
				disabledTools[visible] = true
				continue
			}

			_, inMapping := toolMapping[visible]
			_, inAlias := aliasMapping[visible]
			if inMapping || inAlias {
				return &ToolNameDuplicatedError{Server: serverName, Name: visible}
			}

			if hasAlias {
				aliasMapping[visible] = aliasTarget{server: serverName, originalName: tool.Name}
			}
			toolMapping[visible] = serverName
		}
	}

	m.tablesMu.Lock()
	m.toolMapping = toolMapping
	m.aliasMapping = aliasMapping
	m.disabledTools = disabledTools
	m.tablesMu.Unlock()
	return nil
}

// ValidateToolCall resolves a visible name to (server, original name).
// Resolution order: disabled, alias, mapping, not found.
func (m *Manager) ValidateToolCall(name string) (string, string, error) {
	m.tablesMu.RLock()
	defer m.tablesMu.RUnlock()

	if m.disabledTools[name] {
		return "", "", &ToolDisabledError{Name: name}
	}
	if target, ok := m.aliasMapping[name]; ok {
		return target.server, target.originalName, nil
	}
	if server, ok := m.toolMapping[name]; ok {
		return server, name, nil
	}
	return "", "", &ToolNotFoundError{Name: name}
}

// CallTool forwards to the named server's client, runs the configured
// transform, and injects merged meta. Timeouts surface as ErrCallTimeout.
func (m *Manager) CallTool(ctx context.Context, server, tool string, params map[string]any, timeout time.Duration) (*mcp.CallToolResult, error) {
	m.mu.Lock()
	c, active := m.clients[server]
	config := m.configs[server]
	script := m.scripts[server]
	m.mu.Unlock()

	if !active {
		return nil, fmt.Errorf("server %s is not active", server)
	}

	callCtx := ctx
	if timeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	result, err := c.CallTool(callCtx, tool, params)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, fmt.Errorf("%w: %s on %s after %s", ErrCallTimeout, tool, server, timeout)
		}
		return nil, err
	}

	if script != nil {
		m.applyTransform(script, config.Name, tool, params, result)
	}

	meta := config.EffectiveToolMeta(tool)
	if meta != nil {
		setResultMeta(result, MetaToolMeta, meta)
	}

	return result, nil
}

// applyTransform runs the server's transform script against the call
// context and stores its JSON-serialized output in the result meta. Runtime
// failures are logged and skipped; the call still succeeds with the
// original content untouched.
func (m *Manager) applyTransform(script *transform.Script, server, tool string, params map[string]any, result *mcp.CallToolResult) {
	input := map[string]any{
		"tool_name":  tool,
		"server":     server,
		"parameters": params,
		"isError":    result.IsError,
		"content":    result.Content,
	}
	if result.Meta != nil {
		input["meta"] = result.Meta.AdditionalFields
	}

	output, err := script.Run(input)
	if err != nil {
		logging.Warn("Manager", "transform script failed for %s on %s, skipping: %v", tool, server, err)
		return
	}

	serialized, err := json.Marshal(output)
	if err != nil {
		logging.Warn("Manager", "failed to serialize transform output for %s on %s: %v", tool, server, err)
		return
	}
	setResultMeta(result, MetaVRLTransformed, string(serialized))
}

func setResultMeta(result *mcp.CallToolResult, key string, value any) {
	if result.Meta == nil {
		result.Meta = &mcp.Meta{}
	}
	if result.Meta.AdditionalFields == nil {
		result.Meta.AdditionalFields = make(map[string]any)
	}
	result.Meta.AdditionalFields[key] = value
}

// GetToolMeta returns the merged meta for a server's tool.
func (m *Manager) GetToolMeta(server, tool string) *ToolMeta {
	m.mu.Lock()
	defer m.mu.Unlock()
	config, ok := m.configs[server]
	if !ok {
		return nil
	}
	return config.EffectiveToolMeta(tool)
}

// AvailableTools enumerates every visible tool from every active server
// with its merged meta attached.
func (m *Manager) AvailableTools() []ToolInfo {
	m.mu.Lock()
	order := make([]string, len(m.order))
	copy(order, m.order)
	cache := make(map[string][]mcp.Tool, len(m.toolsCache))
	for name, tools := range m.toolsCache {
		cache[name] = tools
	}
	configs := make(map[string]ServerConfig, len(m.configs))
	for name, config := range m.configs {
		configs[name] = config
	}
	m.mu.Unlock()

	m.tablesMu.RLock()
	defer m.tablesMu.RUnlock()

	var result []ToolInfo
	for _, serverName := range order {
		tools, active := cache[serverName]
		if !active {
			continue
		}
		config := configs[serverName]
		for _, tool := range tools {
			meta := config.EffectiveToolMeta(tool.Name)
			visible := tool.Name
			if meta != nil && meta.Alias != nil && *meta.Alias != "" {
				visible = *meta.Alias
			}
			if m.disabledTools[visible] {
				continue
			}
			result = append(result, ToolInfo{
				Server:      serverName,
				VisibleName: visible,
				Tool:        tool,
				Meta:        meta,
			})
		}
	}
	return result
}

// ListWindows returns (server, resource) pairs from every active server
// that supports subscription. A URI filter returns exact matches only.
func (m *Manager) ListWindows(ctx context.Context, uriFilter string) ([]WindowRef, error) {
	clients := m.activeClientsSnapshot()

	var refs []WindowRef
	for _, c := range clients {
		if !c.SupportsWindows() {
			continue
		}
		windows, err := c.ListWindows(ctx)
		if err != nil {
			logging.Warn("Manager", "failed to list windows for %s: %v", c.Name(), err)
			continue
		}
		for _, resource := range windows {
			if uriFilter != "" && resource.URI != uriFilter {
				continue
			}
			refs = append(refs, WindowRef{Server: c.Name(), Resource: resource})
		}
	}
	return refs, nil
}

// GetWindowsDetails fetches content for every matching window. Reads fan
// out concurrently per window.
func (m *Manager) GetWindowsDetails(ctx context.Context, uriFilter string) ([]WindowDetail, error) {
	refs, err := m.ListWindows(ctx, uriFilter)
	if err != nil {
		return nil, err
	}

	clientsByName := make(map[string]*Client)
	for _, c := range m.activeClientsSnapshot() {
		clientsByName[c.Name()] = c
	}

	details := make([]WindowDetail, len(refs))
	g, gctx := errgroup.WithContext(ctx)
	for i, ref := range refs {
		c, ok := clientsByName[ref.Server]
		if !ok {
			continue
		}
		g.Go(func() error {
			details[i] = WindowDetail{
				Server:   ref.Server,
				Resource: ref.Resource,
				Detail:   c.GetWindowDetail(gctx, ref.Resource.URI),
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	// Drop slots whose client disappeared mid-flight.
	result := details[:0]
	for _, d := range details {
		if d.Server != "" {
			result = append(result, d)
		}
	}
	return result, nil
}

func (m *Manager) activeClientsSnapshot() []*Client {
	m.mu.Lock()
	defer m.mu.Unlock()
	clients := make([]*Client, 0, len(m.clients))
	for _, name := range m.order {
		if c, active := m.clients[name]; active {
			clients = append(clients, c)
		}
	}
	return clients
}

// ServerNames returns all configured server names in insertion order.
func (m *Manager) ServerNames() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	names := make([]string, len(m.order))
	copy(names, m.order)
	return names
}

// ServerConfigs returns a snapshot of all configs keyed by name.
func (m *Manager) ServerConfigs() map[string]ServerConfig {
	m.mu.Lock()
	defer m.mu.Unlock()
	snapshot := make(map[string]ServerConfig, len(m.configs))
	for name, config := range m.configs {
		snapshot[name] = config
	}
	return snapshot
}

// ServerState returns the lifecycle state of one server.
func (m *Manager) ServerState(name string) State {
	m.mu.Lock()
	defer m.mu.Unlock()
	if c, active := m.clients[name]; active {
		return c.State()
	}
	if _, ok := m.configs[name]; ok {
		return StateInitialized
	}
	return ""
}

// handleNotification fans client notifications in: tool-list changes
// refresh that server's cached tools and rebuild the tables, then every
// notification is forwarded upstream.
func (m *Manager) handleNotification(serverName string, notification mcp.JSONRPCNotification) {
	if notification.Method == NotificationToolsListChanged {
		m.refreshServerTools(serverName)
	}

	m.mu.Lock()
	handler := m.onNotification
	m.mu.Unlock()
	if handler != nil {
		handler(serverName, notification)
	}
}

func (m *Manager) refreshServerTools(serverName string) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	m.mu.Lock()
	defer m.mu.Unlock()

	c, active := m.clients[serverName]
	if !active {
		return
	}
	tools, err := c.ListTools(ctx)
	if err != nil {
		logging.Warn("Manager", "failed to refresh tools for %s: %v", serverName, err)
		return
	}
	m.toolsCache[serverName] = tools
	if err := m.rebuildToolTablesLocked(); err != nil {
		logging.Error("Manager", err, "tool table rebuild failed after refresh of %s", serverName)
	}
}

func (m *Manager) handleStateChange(serverName string, from, to State) {
	logging.Debug("Manager", "server %s transitioned %s -> %s", serverName, from, to)
	m.mu.Lock()
	handler := m.onStateChange
	m.mu.Unlock()
	if handler != nil {
		handler(serverName, from, to)
	}
}
