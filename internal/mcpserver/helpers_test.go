package mcpserver

import (
	"context"
	"fmt"

	"github.com/mark3labs/mcp-go/client"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
)

// testServerSpec describes an in-process MCP server used by tests.
type testServerSpec struct {
	name      string
	tools     []string
	windows   map[string]string // uri -> content
	resources []string          // non-window resource URIs
}

// buildTestServer assembles an in-process MCP server whose tools echo their
// own name and arguments back as text.
func buildTestServer(spec testServerSpec) *server.MCPServer {
	opts := []server.ServerOption{
		server.WithToolCapabilities(true),
	}
	if len(spec.windows) > 0 || len(spec.resources) > 0 {
		opts = append(opts, server.WithResourceCapabilities(true, true))
	}

	srv := server.NewMCPServer(spec.name, "1.0.0", opts...)

	for _, toolName := range spec.tools {
		tool := mcp.NewTool(toolName, mcp.WithDescription(fmt.Sprintf("test tool %s", toolName)))
		name := toolName
		srv.AddTool(tool, func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			args := request.GetArguments()
			return mcp.NewToolResultText(fmt.Sprintf("%s:%v", name, args)), nil
		})
	}

	for uri, content := range spec.windows {
		resource := mcp.NewResource(uri, uri)
		body := content
		srv.AddResource(resource, func(ctx context.Context, request mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
			return []mcp.ResourceContents{
				mcp.TextResourceContents{URI: request.Params.URI, Text: body},
			}, nil
		})
	}

	for _, uri := range spec.resources {
		resource := mcp.NewResource(uri, uri)
		srv.AddResource(resource, func(ctx context.Context, request mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
			return []mcp.ResourceContents{
				mcp.TextResourceContents{URI: request.Params.URI, Text: "not a window"},
			}, nil
		})
	}

	return srv
}

// inProcessFactory starts an in-process transport against srv. The returned
// factory hands the Client an already started session, matching the stdio
// path where the constructor brings the transport up.
func inProcessFactory(srv *server.MCPServer) func() (*client.Client, error) {
	return func() (*client.Client, error) {
		c, err := client.NewInProcessClient(srv)
		if err != nil {
			return nil, err
		}
		if err := c.Start(context.Background()); err != nil {
			return nil, err
		}
		return c, nil
	}
}

// testConfig is a minimal valid stdio config. The command is never executed
// because tests replace the transport factory.
func testConfig(name string) ServerConfig {
	return ServerConfig{
		Name: name,
		Type: TypeStdio,
		ServerParameters: ServerParameters{
			Command: "unused",
		},
	}
}

// newTestManager builds a manager whose started clients connect in process
// to the given servers, keyed by server name.
func newTestManager(options ManagerOptions, servers map[string]*server.MCPServer) *Manager {
	m := NewManager(options)
	m.SetClientBuilder(func(config ServerConfig) *Client {
		srv, ok := servers[config.Name]
		if !ok {
			return NewClient(config)
		}
		return NewClientWithFactory(config, inProcessFactory(srv))
	})
	return m
}
