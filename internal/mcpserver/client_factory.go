package mcpserver

import (
	"fmt"

	"github.com/mark3labs/mcp-go/client"
	"github.com/mark3labs/mcp-go/client/transport"
)

// newTransportClient builds the mcp-go client matching the config's
// transport type. The stdio variant spawns the subprocess immediately;
// remote variants need Start before the handshake.
func newTransportClient(config ServerConfig) (*client.Client, error) {
	params := config.ServerParameters

	switch config.Type {
	case TypeStdio:
		var env []string
		for k, v := range params.Env {
			env = append(env, fmt.Sprintf("%s=%s", k, v))
		}
		return client.NewStdioMCPClient(params.Command, env, params.Args...)

	case TypeSSE:
		var opts []transport.ClientOption
		if len(params.Headers) > 0 {
			opts = append(opts, transport.WithHeaders(params.Headers))
		}
		return client.NewSSEMCPClient(params.URL, opts...)

	case TypeStreamableHTTP:
		var opts []transport.StreamableHTTPCOption
		if len(params.Headers) > 0 {
			opts = append(opts, transport.WithHTTPHeaders(params.Headers))
		}
		return client.NewStreamableHttpClient(params.URL, opts...)

	default:
		return nil, fmt.Errorf("unsupported MCP server type: %s", config.Type)
	}
}
