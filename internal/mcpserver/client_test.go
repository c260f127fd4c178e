package mcpserver

import (
	"context"
	"testing"

	mcpclient "github.com/mark3labs/mcp-go/client"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClient_Lifecycle(t *testing.T) {
	srv := buildTestServer(testServerSpec{name: "calc", tools: []string{"add"}})
	c := NewClientWithFactory(testConfig("calc"), inProcessFactory(srv))

	assert.Equal(t, StateInitialized, c.State())

	ctx := context.Background()
	require.NoError(t, c.Connect(ctx))
	assert.Equal(t, StateConnected, c.State())

	// Connecting again is a no-op.
	require.NoError(t, c.Connect(ctx))

	result := c.InitializeResult()
	require.NotNil(t, result)
	assert.Equal(t, "calc", result.ServerInfo.Name)

	require.NoError(t, c.Disconnect())
	assert.Equal(t, StateDisconnected, c.State())
	assert.Nil(t, c.InitializeResult())

	_, err := c.ListTools(ctx)
	assert.Error(t, err)
}

func TestClient_StateChangeHandler(t *testing.T) {
	srv := buildTestServer(testServerSpec{name: "calc", tools: []string{"add"}})
	c := NewClientWithFactory(testConfig("calc"), inProcessFactory(srv))

	var transitions []State
	c.SetStateChangeHandler(func(name string, from, to State) {
		assert.Equal(t, "calc", name)
		transitions = append(transitions, to)
	})

	require.NoError(t, c.Connect(context.Background()))
	require.NoError(t, c.Disconnect())

	assert.Equal(t, []State{StateConnected, StateDisconnected}, transitions)
}

func TestClient_ListTools(t *testing.T) {
	srv := buildTestServer(testServerSpec{name: "calc", tools: []string{"add", "sub"}})
	c := NewClientWithFactory(testConfig("calc"), inProcessFactory(srv))

	ctx := context.Background()
	require.NoError(t, c.Connect(ctx))
	defer c.Disconnect()

	tools, err := c.ListTools(ctx)
	require.NoError(t, err)
	require.Len(t, tools, 2)

	names := []string{tools[0].Name, tools[1].Name}
	assert.Contains(t, names, "add")
	assert.Contains(t, names, "sub")
}

func TestClient_CallTool(t *testing.T) {
	srv := buildTestServer(testServerSpec{name: "calc", tools: []string{"add"}})
	c := NewClientWithFactory(testConfig("calc"), inProcessFactory(srv))

	ctx := context.Background()
	require.NoError(t, c.Connect(ctx))
	defer c.Disconnect()

	result, err := c.CallTool(ctx, "add", map[string]any{"a": 1})
	require.NoError(t, err)
	require.NotEmpty(t, result.Content)

	text, ok := result.Content[0].(mcp.TextContent)
	require.True(t, ok)
	assert.Contains(t, text.Text, "add:")
}

func TestClient_Windows(t *testing.T) {
	srv := buildTestServer(testServerSpec{
		name: "desk",
		windows: map[string]string{
			"window://shell/?priority=10": "shell output",
			"window://editor/?priority=90": "editor buffer",
		},
		resources: []string{"file:///notes.txt"},
	})
	c := NewClientWithFactory(testConfig("desk"), inProcessFactory(srv))

	ctx := context.Background()
	require.NoError(t, c.Connect(ctx))
	defer c.Disconnect()

	require.True(t, c.SupportsWindows())

	windows, err := c.ListWindows(ctx)
	require.NoError(t, err)
	require.Len(t, windows, 2, "non-window resources are filtered out")

	// Sorted by priority descending.
	assert.Equal(t, "window://editor/?priority=90", windows[0].URI)
	assert.Equal(t, "window://shell/?priority=10", windows[1].URI)

	detail := c.GetWindowDetail(ctx, windows[0].URI)
	require.NotEmpty(t, detail.Contents)
	text, ok := detail.Contents[0].(mcp.TextResourceContents)
	require.True(t, ok)
	assert.Equal(t, "editor buffer", text.Text)
}

func TestClient_WindowsUnsupported(t *testing.T) {
	srv := buildTestServer(testServerSpec{name: "plain", tools: []string{"noop"}})
	c := NewClientWithFactory(testConfig("plain"), inProcessFactory(srv))

	ctx := context.Background()
	require.NoError(t, c.Connect(ctx))
	defer c.Disconnect()

	assert.False(t, c.SupportsWindows())

	windows, err := c.ListWindows(ctx)
	require.NoError(t, err)
	assert.Empty(t, windows)
}

func TestClient_GetWindowDetailFallback(t *testing.T) {
	srv := buildTestServer(testServerSpec{
		name:    "desk",
		windows: map[string]string{"window://shell/": "out"},
	})
	c := NewClientWithFactory(testConfig("desk"), inProcessFactory(srv))

	ctx := context.Background()
	require.NoError(t, c.Connect(ctx))
	defer c.Disconnect()

	// Unknown URI degrades to a minimal result carrying the URI only.
	detail := c.GetWindowDetail(ctx, "window://missing/")
	require.Len(t, detail.Contents, 1)
	text, ok := detail.Contents[0].(mcp.TextResourceContents)
	require.True(t, ok)
	assert.Equal(t, "window://missing/", text.URI)
	assert.Empty(t, text.Text)
}

func TestClient_ConnectFactoryError(t *testing.T) {
	c := NewClientWithFactory(testConfig("broken"), func() (*mcpclient.Client, error) {
		return nil, assert.AnError
	})

	err := c.Connect(context.Background())
	require.Error(t, err)
	assert.Equal(t, StateError, c.State())
}
