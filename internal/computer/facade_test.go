package computer

import (
	"context"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	mcpclient "github.com/mark3labs/mcp-go/client"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"a2csmcp/internal/inputs"
	"a2csmcp/internal/mcpserver"
)

// echoServer exposes echo(msg: string, required) plus a slow tool that
// honors cancellation.
func echoServer(name string) *server.MCPServer {
	srv := server.NewMCPServer(name, "1.0.0", server.WithToolCapabilities(true))

	echo := mcp.NewTool("echo",
		mcp.WithDescription("echo a message back"),
		mcp.WithString("msg", mcp.Required(), mcp.Description("message to echo")),
	)
	srv.AddTool(echo, func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		msg, _ := request.GetArguments()["msg"].(string)
		return mcp.NewToolResultText(msg), nil
	})

	slow := mcp.NewTool("slow", mcp.WithDescription("sleeps until cancelled"))
	srv.AddTool(slow, func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(30 * time.Second):
			return mcp.NewToolResultText("done"), nil
		}
	})

	return srv
}

func windowServer(name string, windows map[string]string) *server.MCPServer {
	srv := server.NewMCPServer(name, "1.0.0",
		server.WithToolCapabilities(true),
		server.WithResourceCapabilities(true, true),
	)
	for uri, body := range windows {
		resource := mcp.NewResource(uri, uri)
		content := body
		srv.AddResource(resource, func(ctx context.Context, request mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
			return []mcp.ResourceContents{
				mcp.TextResourceContents{URI: request.Params.URI, Text: content},
			}, nil
		})
	}
	return srv
}

// wireInProcess points the facade's manager at in-process servers.
func wireInProcess(comp *Computer, servers map[string]*server.MCPServer) {
	comp.Manager().SetClientBuilder(func(config mcpserver.ServerConfig) *mcpserver.Client {
		srv := servers[config.Name]
		return mcpserver.NewClientWithFactory(config, func() (*mcpclient.Client, error) {
			c, err := mcpclient.NewInProcessClient(srv)
			if err != nil {
				return nil, err
			}
			if err := c.Start(context.Background()); err != nil {
				return nil, err
			}
			return c, nil
		})
	})
}

func stdioConfig(name string) map[string]any {
	return map[string]any{
		"name": name,
		"type": "stdio",
		"server_parameters": map[string]any{
			"command": "unused",
		},
	}
}

// startComputer boots a facade against in-process servers and starts them.
func startComputer(t *testing.T, options Options, rawConfigs []map[string]any, defs []inputs.Definition, servers map[string]*server.MCPServer) *Computer {
	t.Helper()

	comp := NewComputer("c1", rawConfigs, defs, options)
	wireInProcess(comp, servers)

	ctx := context.Background()
	require.NoError(t, comp.BootUp(ctx))
	require.NoError(t, comp.Start(ctx))
	t.Cleanup(func() { comp.Shutdown(context.Background()) })
	return comp
}

func TestHistory_Capacity(t *testing.T) {
	h := NewHistory()
	for i := 0; i < 15; i++ {
		h.Add(CallRecord{ReqID: fmt.Sprintf("r%d", i), Server: "s", Success: true})
	}

	require.Equal(t, 10, h.Len())
	entries := h.Entries()
	for i, entry := range entries {
		assert.Equal(t, fmt.Sprintf("r%d", i+5), entry.ReqID)
	}
}

func TestComputer_ExecuteToolAutoApply(t *testing.T) {
	var confirmCalls atomic.Int32
	options := Options{
		Confirm: func(ctx context.Context, reqID, server, tool string, params map[string]any) (bool, error) {
			confirmCalls.Add(1)
			return true, nil
		},
	}

	raw := stdioConfig("srv")
	raw["default_tool_meta"] = map[string]any{"auto_apply": true}

	comp := startComputer(t, options, []map[string]any{raw}, nil,
		map[string]*server.MCPServer{"srv": echoServer("srv")})

	result := comp.ExecuteTool(context.Background(), "r1", "echo", map[string]any{"msg": "hi"}, 5*time.Second)
	require.False(t, result.IsError)
	block := result.Content[0].(map[string]any)
	assert.Equal(t, "hi", block["text"])
	assert.Equal(t, int32(0), confirmCalls.Load(), "auto-apply skips the confirm gate")

	entries := comp.History().Entries()
	require.Len(t, entries, 1)
	assert.Equal(t, "r1", entries[0].ReqID)
	assert.True(t, entries[0].Success)
	assert.Equal(t, "srv", entries[0].Server)
}

func TestComputer_ExecuteToolConfirmGate(t *testing.T) {
	type confirmCall struct {
		reqID, server, tool string
	}
	calls := make(chan confirmCall, 1)
	var approve atomic.Bool
	approve.Store(true)

	options := Options{
		Confirm: func(ctx context.Context, reqID, server, tool string, params map[string]any) (bool, error) {
			calls <- confirmCall{reqID, server, tool}
			return approve.Load(), nil
		},
	}

	comp := startComputer(t, options, []map[string]any{stdioConfig("srv")}, nil,
		map[string]*server.MCPServer{"srv": echoServer("srv")})

	result := comp.ExecuteTool(context.Background(), "r1", "echo", map[string]any{"msg": "ok"}, 5*time.Second)
	require.False(t, result.IsError)
	call := <-calls
	assert.Equal(t, confirmCall{"r1", "srv", "echo"}, call)

	approve.Store(false)
	result = comp.ExecuteTool(context.Background(), "r2", "echo", map[string]any{"msg": "no"}, 5*time.Second)
	require.True(t, result.IsError)
	block := result.Content[0].(map[string]any)
	assert.Contains(t, block["text"], "rejected")

	entries := comp.History().Entries()
	require.Len(t, entries, 2)
	assert.True(t, entries[0].Success)
	assert.False(t, entries[1].Success)
}

func TestComputer_ConfirmTimeout(t *testing.T) {
	options := Options{
		ConfirmTimeout: 50 * time.Millisecond,
		Confirm: func(ctx context.Context, reqID, server, tool string, params map[string]any) (bool, error) {
			<-ctx.Done()
			return false, ctx.Err()
		},
	}

	comp := startComputer(t, options, []map[string]any{stdioConfig("srv")}, nil,
		map[string]*server.MCPServer{"srv": echoServer("srv")})

	result := comp.ExecuteTool(context.Background(), "r1", "echo", map[string]any{"msg": "x"}, 5*time.Second)
	require.True(t, result.IsError)
	block := result.Content[0].(map[string]any)
	assert.Contains(t, block["text"], "timed out")
}

func TestComputer_ConfirmPanic(t *testing.T) {
	options := Options{
		Confirm: func(ctx context.Context, reqID, server, tool string, params map[string]any) (bool, error) {
			panic("confirm ui crashed")
		},
	}

	comp := startComputer(t, options, []map[string]any{stdioConfig("srv")}, nil,
		map[string]*server.MCPServer{"srv": echoServer("srv")})

	result := comp.ExecuteTool(context.Background(), "r1", "echo", map[string]any{"msg": "x"}, 5*time.Second)
	require.True(t, result.IsError)
	block := result.Content[0].(map[string]any)
	assert.Contains(t, block["text"], "panicked")

	entries := comp.History().Entries()
	require.Len(t, entries, 1)
	assert.False(t, entries[0].Success)
}

func TestComputer_ExecuteToolUnknown(t *testing.T) {
	comp := startComputer(t, Options{}, []map[string]any{stdioConfig("srv")}, nil,
		map[string]*server.MCPServer{"srv": echoServer("srv")})

	result := comp.ExecuteTool(context.Background(), "r1", "nope", nil, time.Second)
	require.True(t, result.IsError)

	entries := comp.History().Entries()
	require.Len(t, entries, 1)
	assert.False(t, entries[0].Success)
}

func TestComputer_ExecuteToolParamValidation(t *testing.T) {
	raw := stdioConfig("srv")
	raw["default_tool_meta"] = map[string]any{"auto_apply": true}

	comp := startComputer(t, Options{}, []map[string]any{raw}, nil,
		map[string]*server.MCPServer{"srv": echoServer("srv")})

	// msg must be a string per the tool's input schema.
	result := comp.ExecuteTool(context.Background(), "r1", "echo", map[string]any{"msg": 12}, 5*time.Second)
	require.True(t, result.IsError)
	block := result.Content[0].(map[string]any)
	assert.Contains(t, block["text"], "invalid parameters")
}

func TestComputer_ExecuteToolTimeout(t *testing.T) {
	raw := stdioConfig("srv")
	raw["default_tool_meta"] = map[string]any{"auto_apply": true}

	comp := startComputer(t, Options{}, []map[string]any{raw}, nil,
		map[string]*server.MCPServer{"srv": echoServer("srv")})

	result := comp.ExecuteTool(context.Background(), "r1", "slow", nil, 100*time.Millisecond)
	require.True(t, result.IsError)

	entries := comp.History().Entries()
	require.Len(t, entries, 1)
	assert.False(t, entries[0].Success)
}

func TestComputer_GetTools(t *testing.T) {
	raw := stdioConfig("srv")
	raw["default_tool_meta"] = map[string]any{"auto_apply": true}

	comp := startComputer(t, Options{}, []map[string]any{raw}, nil,
		map[string]*server.MCPServer{"srv": echoServer("srv")})

	tools := comp.GetTools(context.Background())
	require.Len(t, tools, 2)

	byName := map[string]bool{}
	for _, tool := range tools {
		byName[tool.Name] = true
	}
	assert.True(t, byName["echo"])
	assert.True(t, byName["slow"])

	for _, tool := range tools {
		if tool.Name != "echo" {
			continue
		}
		assert.Equal(t, "echo a message back", tool.Description)
		require.NotNil(t, tool.ParamsSchema)
		assert.Equal(t, "object", tool.ParamsSchema["type"])
		require.NotNil(t, tool.Meta)
		assert.Contains(t, tool.Meta, mcpserver.MetaToolMeta)
	}
}

func TestComputer_BootUpRendersConfigs(t *testing.T) {
	raw := map[string]any{
		"name": "srv",
		"type": "stdio",
		"server_parameters": map[string]any{
			"command": "${input:cmd}",
		},
	}
	defs := []inputs.Definition{
		{Type: inputs.TypePromptString, ID: "cmd", Default: strPtr("run-server")},
	}

	comp := NewComputer("c1", []map[string]any{raw}, defs, Options{})
	require.NoError(t, comp.BootUp(context.Background()))

	configs := comp.Manager().ServerConfigs()
	require.Contains(t, configs, "srv")
	assert.Equal(t, "run-server", configs["srv"].ServerParameters.Command)
}

func strPtr(s string) *string { return &s }

func TestComputer_BootUpKeepsUnrenderedOnFailure(t *testing.T) {
	// The placeholder cannot resolve; the config installs unrendered.
	raw := map[string]any{
		"name": "srv",
		"type": "stdio",
		"server_parameters": map[string]any{
			"command": "${input:missing}",
		},
	}

	comp := NewComputer("c1", []map[string]any{raw}, nil, Options{})
	require.NoError(t, comp.BootUp(context.Background()))

	configs := comp.Manager().ServerConfigs()
	require.Contains(t, configs, "srv")
	assert.Equal(t, "${input:missing}", configs["srv"].ServerParameters.Command)
}

func TestComputer_GetConfig(t *testing.T) {
	defs := []inputs.Definition{
		{Type: inputs.TypePromptString, ID: "token", Password: true},
	}
	comp := NewComputer("c1", []map[string]any{stdioConfig("srv")}, defs, Options{})
	require.NoError(t, comp.BootUp(context.Background()))

	ret := comp.GetConfig()
	assert.Contains(t, ret.Servers, "srv")
	require.Len(t, ret.Inputs, 1)
}

func TestComputer_GetDesktop(t *testing.T) {
	servers := map[string]*server.MCPServer{
		"desk": windowServer("desk", map[string]string{
			"window://term/?priority=20":   "shell",
			"window://editor/?priority=80": "buffer",
		}),
	}

	comp := startComputer(t, Options{}, []map[string]any{stdioConfig("desk")}, nil, servers)

	desktops, err := comp.GetDesktop(context.Background(), nil, nil)
	require.NoError(t, err)
	require.Len(t, desktops, 2)
	assert.Equal(t, "window://editor/?priority=80\n\nbuffer", desktops[0])
	assert.Equal(t, "window://term/?priority=20\n\nshell", desktops[1])

	one := 1
	desktops, err = comp.GetDesktop(context.Background(), &one, nil)
	require.NoError(t, err)
	require.Len(t, desktops, 1)

	zero := 0
	desktops, err = comp.GetDesktop(context.Background(), &zero, nil)
	require.NoError(t, err)
	assert.Empty(t, desktops)
}

func TestComputer_AddOrUpdateServerFromRaw(t *testing.T) {
	comp := NewComputer("c1", nil, nil, Options{})
	require.NoError(t, comp.BootUp(context.Background()))

	require.NoError(t, comp.AddOrUpdateServer(context.Background(), stdioConfig("late")))
	assert.Contains(t, comp.Manager().ServerConfigs(), "late")

	err := comp.AddOrUpdateServer(context.Background(), map[string]any{"name": "bad", "type": "fax"})
	assert.Error(t, err)
}
