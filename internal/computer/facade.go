package computer

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/santhosh-tekuri/jsonschema/v6"

	"a2csmcp/internal/desktop"
	"a2csmcp/internal/inputs"
	"a2csmcp/internal/mcpserver"
	"a2csmcp/pkg/logging"
	"a2csmcp/pkg/smcp"
)

// ConfirmFunc is the second-factor gate for tool calls whose meta does not
// carry auto_apply=true. Returning false rejects the call.
type ConfirmFunc func(ctx context.Context, reqID, server, tool string, params map[string]any) (bool, error)

// Notifier is the attached signaling client's upstream surface. The facade
// calls it when MCP servers report changes worth rebroadcasting.
type Notifier interface {
	NotifyToolListChanged(ctx context.Context)
	NotifyDesktopChanged(ctx context.Context)
	NotifyConfigChanged(ctx context.Context)
}

const defaultConfirmTimeout = 60 * time.Second

// Computer owns a Manager, a Resolver, the confirm gate, and the call
// history, and routes MCP notifications to the attached signaling client.
type Computer struct {
	name     string
	manager  *mcpserver.Manager
	resolver *inputs.Resolver
	renderer *inputs.Renderer
	history  *History

	confirm        ConfirmFunc
	confirmTimeout time.Duration

	rawConfigs []map[string]any

	notifierMu sync.RWMutex
	notifier   Notifier

	windowMu   sync.Mutex
	windowURIs map[string]struct{}
}

// Options configure a Computer.
type Options struct {
	// Confirm gates non-auto-apply tool calls. Nil rejects every gated call.
	Confirm ConfirmFunc
	// ConfirmTimeout bounds one confirm decision. Zero means the default.
	ConfirmTimeout time.Duration
	// AutoConnect and AutoReconnect are passed through to the Manager.
	AutoConnect   bool
	AutoReconnect bool
	// InputIO answers input prompts; nil falls back to defaults.
	InputIO inputs.IO
}

// NewComputer assembles a facade around raw (unrendered) server configs and
// input definitions.
func NewComputer(name string, rawConfigs []map[string]any, definitions []inputs.Definition, options Options) *Computer {
	resolver := inputs.NewResolver(definitions, options.InputIO)
	confirmTimeout := options.ConfirmTimeout
	if confirmTimeout == 0 {
		confirmTimeout = defaultConfirmTimeout
	}

	c := &Computer{
		name: name,
		manager: mcpserver.NewManager(mcpserver.ManagerOptions{
			AutoConnect:   options.AutoConnect,
			AutoReconnect: options.AutoReconnect,
		}),
		resolver:       resolver,
		renderer:       inputs.NewRenderer(resolver),
		history:        NewHistory(),
		confirm:        options.Confirm,
		confirmTimeout: confirmTimeout,
		rawConfigs:     rawConfigs,
		windowURIs:     make(map[string]struct{}),
	}
	c.manager.SetNotificationHandler(c.handleNotification)
	return c
}

// Name returns the Computer's name as registered in an office.
func (c *Computer) Name() string {
	return c.name
}

// Manager exposes the underlying MCP client manager.
func (c *Computer) Manager() *mcpserver.Manager {
	return c.manager
}

// Resolver exposes the input resolver for the interactive surface.
func (c *Computer) Resolver() *inputs.Resolver {
	return c.resolver
}

// History exposes the tool call history.
func (c *Computer) History() *History {
	return c.history
}

// AttachClient registers the signaling client for upstream broadcasts.
func (c *Computer) AttachClient(n Notifier) {
	c.notifierMu.Lock()
	defer c.notifierMu.Unlock()
	c.notifier = n
}

// DetachClient removes the signaling client.
func (c *Computer) DetachClient() {
	c.notifierMu.Lock()
	defer c.notifierMu.Unlock()
	c.notifier = nil
}

func (c *Computer) attachedNotifier() Notifier {
	c.notifierMu.RLock()
	defer c.notifierMu.RUnlock()
	return c.notifier
}

// BootUp renders every initial server config and installs the result into
// the Manager without connecting. A config that fails to render or decode
// is installed unrendered when possible, or skipped with a log.
func (c *Computer) BootUp(ctx context.Context) error {
	var configs []mcpserver.ServerConfig
	for _, raw := range c.rawConfigs {
		config, err := c.renderConfig(ctx, raw)
		if err != nil {
			logging.Warn("Computer", "config render failed, using unrendered config: %v", err)
			config, err = decodeServerConfig(raw)
			if err != nil {
				logging.Error("Computer", err, "skipping undecodable server config")
				continue
			}
		}
		configs = append(configs, config)
	}
	return c.manager.Initialize(configs)
}

// Start connects all non-disabled servers.
func (c *Computer) Start(ctx context.Context) error {
	return c.manager.StartAll(ctx)
}

// Shutdown stops all servers.
func (c *Computer) Shutdown(ctx context.Context) error {
	return c.manager.Close(ctx)
}

// AddOrUpdateServer renders a raw config, validates it, and forwards it to
// the Manager.
func (c *Computer) AddOrUpdateServer(ctx context.Context, raw map[string]any) error {
	config, err := c.renderConfig(ctx, raw)
	if err != nil {
		return err
	}
	return c.manager.AddOrUpdateServer(ctx, config)
}

// AddOrUpdateServerConfig forwards an already typed config.
func (c *Computer) AddOrUpdateServerConfig(ctx context.Context, config mcpserver.ServerConfig) error {
	return c.manager.AddOrUpdateServer(ctx, config)
}

// RemoveServer stops and forgets a server.
func (c *Computer) RemoveServer(ctx context.Context, name string) error {
	return c.manager.RemoveServer(ctx, name)
}

func (c *Computer) renderConfig(ctx context.Context, raw map[string]any) (mcpserver.ServerConfig, error) {
	rendered := c.renderer.Render(ctx, raw)
	renderedMap, ok := rendered.(map[string]any)
	if !ok {
		return mcpserver.ServerConfig{}, fmt.Errorf("rendered config is not an object")
	}
	config, err := decodeServerConfig(renderedMap)
	if err != nil {
		return mcpserver.ServerConfig{}, err
	}
	if err := config.Validate(); err != nil {
		return mcpserver.ServerConfig{}, err
	}
	return config, nil
}

func decodeServerConfig(raw map[string]any) (mcpserver.ServerConfig, error) {
	data, err := json.Marshal(raw)
	if err != nil {
		return mcpserver.ServerConfig{}, fmt.Errorf("failed to encode server config: %w", err)
	}
	var config mcpserver.ServerConfig
	if err := json.Unmarshal(data, &config); err != nil {
		return mcpserver.ServerConfig{}, fmt.Errorf("failed to decode server config: %w", err)
	}
	return config, nil
}

// RenderValue runs the placeholder renderer over an arbitrary JSON-shaped
// value, for interactive inspection of what a config would resolve to.
func (c *Computer) RenderValue(ctx context.Context, value any) any {
	return c.renderer.Render(ctx, value)
}

// GetTools enumerates the visible tool surface in wire form.
func (c *Computer) GetTools(ctx context.Context) []smcp.SMCPTool {
	infos := c.manager.AvailableTools()
	tools := make([]smcp.SMCPTool, 0, len(infos))
	for _, info := range infos {
		tool := smcp.SMCPTool{
			Name:        info.VisibleName,
			Description: info.Tool.Description,
			Meta:        map[string]any{},
		}

		fields := toolFields(info.Tool)
		if schema, ok := fields["inputSchema"].(map[string]any); ok {
			tool.ParamsSchema = schema
		}
		if schema, ok := fields["outputSchema"].(map[string]any); ok {
			tool.ReturnSchema = schema
		}
		if annotations, ok := fields["annotations"]; ok {
			tool.Meta[mcpserver.MetaToolAnnotation] = annotations
		}
		if info.Meta != nil {
			tool.Meta[mcpserver.MetaToolMeta] = info.Meta
		}
		if len(tool.Meta) == 0 {
			tool.Meta = nil
		}
		tools = append(tools, tool)
	}
	return tools
}

// toolFields flattens an mcp.Tool to its wire representation.
func toolFields(tool mcp.Tool) map[string]any {
	data, err := json.Marshal(tool)
	if err != nil {
		return nil
	}
	var fields map[string]any
	if err := json.Unmarshal(data, &fields); err != nil {
		return nil
	}
	return fields
}

// GetConfig exposes rendered server configs and input definitions in wire
// form.
func (c *Computer) GetConfig() smcp.GetConfigRet {
	ret := smcp.GetConfigRet{Servers: map[string]any{}, Inputs: []any{}}
	for name, config := range c.manager.ServerConfigs() {
		ret.Servers[name] = config
	}
	for _, def := range c.resolver.Definitions() {
		ret.Inputs = append(ret.Inputs, def)
	}
	return ret
}

// GetDesktop assembles the ordered, capped desktop view from every active
// server's windows and the recent call history.
func (c *Computer) GetDesktop(ctx context.Context, size *int, windowURI *string) ([]string, error) {
	filter := ""
	if windowURI != nil {
		filter = *windowURI
	}
	details, err := c.manager.GetWindowsDetails(ctx, filter)
	if err != nil {
		return nil, err
	}

	windows := make([]desktop.WindowInfo, 0, len(details))
	uris := make(map[string]struct{}, len(details))
	for _, detail := range details {
		uris[detail.Resource.URI] = struct{}{}
		info := desktop.WindowInfo{
			Server: detail.Server,
			URI:    detail.Resource.URI,
		}
		if detail.Detail != nil {
			for _, contents := range detail.Detail.Contents {
				if text, ok := contents.(mcp.TextResourceContents); ok && text.Text != "" {
					info.Texts = append(info.Texts, text.Text)
				}
			}
		}
		windows = append(windows, info)
	}

	if filter == "" {
		c.windowMu.Lock()
		c.windowURIs = uris
		c.windowMu.Unlock()
	}

	return desktop.Organize(windows, size, c.history.Servers()), nil
}

// ExecuteTool validates, gates, and performs one tool call, recording the
// outcome in history on every path. Failures come back as structured
// results, not errors, so the Agent's control flow stays intact.
func (c *Computer) ExecuteTool(ctx context.Context, reqID, toolName string, params map[string]any, timeout time.Duration) *smcp.ToolCallResult {
	record := CallRecord{
		ReqID:      reqID,
		Tool:       toolName,
		Parameters: params,
		Timeout:    timeout.Seconds(),
		Timestamp:  time.Now(),
	}
	fail := func(message string) *smcp.ToolCallResult {
		record.Error = message
		c.history.Add(record)
		return smcp.TextResult(message, true)
	}

	server, original, err := c.manager.ValidateToolCall(toolName)
	if err != nil {
		return fail(err.Error())
	}
	record.Server = server

	if err := c.validateParams(server, original, params); err != nil {
		return fail(fmt.Sprintf("invalid parameters for %s: %v", toolName, err))
	}

	meta := c.manager.GetToolMeta(server, original)
	autoApply := meta != nil && meta.AutoApply != nil && *meta.AutoApply
	if !autoApply {
		approved, err := c.runConfirm(ctx, reqID, server, original, params)
		if err != nil {
			return fail(fmt.Sprintf("tool call confirmation failed: %v", err))
		}
		if !approved {
			return fail(fmt.Sprintf("tool call %s rejected by operator", toolName))
		}
	}

	result, err := c.manager.CallTool(ctx, server, original, params, timeout)
	if err != nil {
		return fail(err.Error())
	}

	record.Success = true
	c.history.Add(record)
	return convertResult(result)
}

// runConfirm invokes the confirm callback off the calling goroutine with a
// deadline and panic containment.
func (c *Computer) runConfirm(ctx context.Context, reqID, server, tool string, params map[string]any) (bool, error) {
	if c.confirm == nil {
		return false, nil
	}

	confirmCtx, cancel := context.WithTimeout(ctx, c.confirmTimeout)
	defer cancel()

	type verdict struct {
		approved bool
		err      error
	}
	resultCh := make(chan verdict, 1)

	go func() {
		defer func() {
			if r := recover(); r != nil {
				resultCh <- verdict{err: fmt.Errorf("confirm callback panicked: %v", r)}
			}
		}()
		approved, err := c.confirm(confirmCtx, reqID, server, tool, params)
		resultCh <- verdict{approved: approved, err: err}
	}()

	select {
	case <-confirmCtx.Done():
		return false, fmt.Errorf("confirmation timed out after %s", c.confirmTimeout)
	case v := <-resultCh:
		return v.approved, v.err
	}
}

// validateParams checks the call parameters against the tool's declared
// input schema. Tools without a usable schema pass.
func (c *Computer) validateParams(server, original string, params map[string]any) error {
	var schemaFields map[string]any
	for _, info := range c.manager.AvailableTools() {
		if info.Server == server && info.Tool.Name == original {
			fields := toolFields(info.Tool)
			if s, ok := fields["inputSchema"].(map[string]any); ok {
				schemaFields = s
			}
			break
		}
	}
	if schemaFields == nil {
		return nil
	}

	schemaBytes, err := json.Marshal(schemaFields)
	if err != nil {
		return nil
	}
	doc, err := jsonschema.UnmarshalJSON(bytes.NewReader(schemaBytes))
	if err != nil {
		logging.Debug("Computer", "unusable input schema for %s on %s: %v", original, server, err)
		return nil
	}

	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource("params.json", doc); err != nil {
		return nil
	}
	schema, err := compiler.Compile("params.json")
	if err != nil {
		logging.Debug("Computer", "input schema for %s on %s does not compile: %v", original, server, err)
		return nil
	}

	normalized, err := normalizeJSON(params)
	if err != nil {
		return err
	}
	return schema.Validate(normalized)
}

// normalizeJSON round-trips a value through JSON so numbers and nested
// shapes match what a decoder would produce.
func normalizeJSON(v any) (any, error) {
	if v == nil {
		return map[string]any{}, nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var out any
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// convertResult maps an MCP tool result to the wire shape.
func convertResult(result *mcp.CallToolResult) *smcp.ToolCallResult {
	data, err := json.Marshal(result)
	if err != nil {
		return smcp.TextResult(fmt.Sprintf("failed to encode tool result: %v", err), true)
	}
	var decoded struct {
		Content []any          `json:"content"`
		IsError bool           `json:"isError"`
		Meta    map[string]any `json:"_meta"`
	}
	if err := json.Unmarshal(data, &decoded); err != nil {
		return smcp.TextResult(fmt.Sprintf("failed to decode tool result: %v", err), true)
	}
	return &smcp.ToolCallResult{
		Content: decoded.Content,
		IsError: decoded.IsError,
		Meta:    decoded.Meta,
	}
}

// handleNotification routes MCP server notifications to the attached
// signaling client. Desktop refreshes are emitted only when the window set
// genuinely changed.
func (c *Computer) handleNotification(serverName string, notification mcp.JSONRPCNotification) {
	notifier := c.attachedNotifier()
	if notifier == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	switch notification.Method {
	case mcpserver.NotificationToolsListChanged:
		notifier.NotifyToolListChanged(ctx)

	case mcpserver.NotificationResourcesListChanged:
		if c.windowSetChanged(ctx) {
			notifier.NotifyDesktopChanged(ctx)
		}

	case mcpserver.NotificationResourceUpdated:
		uri, _ := notification.Params.AdditionalFields["uri"].(string)
		if desktop.IsWindowURI(uri) {
			notifier.NotifyDesktopChanged(ctx)
		}
	}
}

// windowSetChanged recollects window URIs and compares them with the cached
// set, updating the cache when they differ.
func (c *Computer) windowSetChanged(ctx context.Context) bool {
	refs, err := c.manager.ListWindows(ctx, "")
	if err != nil {
		return false
	}
	current := make(map[string]struct{}, len(refs))
	for _, ref := range refs {
		current[ref.Resource.URI] = struct{}{}
	}

	c.windowMu.Lock()
	defer c.windowMu.Unlock()

	if len(current) == len(c.windowURIs) {
		same := true
		for uri := range current {
			if _, ok := c.windowURIs[uri]; !ok {
				same = false
				break
			}
		}
		if same {
			return false
		}
	}
	c.windowURIs = current
	return true
}
