package mcpserver

import (
	"fmt"

	"a2csmcp/internal/transform"
)

// Meta keys injected into tool results and tool listings.
const (
	// MetaToolMeta carries the merged ToolMeta of the called tool.
	MetaToolMeta = "a2c_tool_meta"
	// MetaVRLTransformed carries the JSON-serialized transform output.
	MetaVRLTransformed = "a2c_vrl_transformed"
	// MetaToolAnnotation carries server-originated tool annotations verbatim.
	MetaToolAnnotation = "MCP_TOOL_ANNOTATION"
)

// Server transport types.
const (
	TypeStdio          = "stdio"
	TypeSSE            = "sse"
	TypeStreamableHTTP = "streamable_http"
)

// ToolMeta is per-tool metadata. Per-tool entries shallowly override the
// config's default meta field by field.
type ToolMeta struct {
	AutoApply       *bool             `json:"auto_apply,omitempty" yaml:"auto_apply,omitempty"`
	Alias           *string           `json:"alias,omitempty" yaml:"alias,omitempty"`
	Tags            []string          `json:"tags,omitempty" yaml:"tags,omitempty"`
	RetObjectMapper map[string]string `json:"ret_object_mapper,omitempty" yaml:"ret_object_mapper,omitempty"`
}

// MergeToolMeta overlays per-tool meta on a default, field by field. Either
// side may be nil.
func MergeToolMeta(defaultMeta, toolMeta *ToolMeta) *ToolMeta {
	if defaultMeta == nil && toolMeta == nil {
		return nil
	}
	merged := &ToolMeta{}
	if defaultMeta != nil {
		*merged = *defaultMeta
	}
	if toolMeta != nil {
		if toolMeta.AutoApply != nil {
			merged.AutoApply = toolMeta.AutoApply
		}
		if toolMeta.Alias != nil {
			merged.Alias = toolMeta.Alias
		}
		if toolMeta.Tags != nil {
			merged.Tags = toolMeta.Tags
		}
		if toolMeta.RetObjectMapper != nil {
			merged.RetObjectMapper = toolMeta.RetObjectMapper
		}
	}
	return merged
}

// ServerParameters holds the transport-specific connection settings. Which
// fields apply is determined by the config's Type.
type ServerParameters struct {
	// Stdio transport
	Command string            `json:"command,omitempty" yaml:"command,omitempty"`
	Args    []string          `json:"args,omitempty" yaml:"args,omitempty"`
	Env     map[string]string `json:"env,omitempty" yaml:"env,omitempty"`
	Cwd     string            `json:"cwd,omitempty" yaml:"cwd,omitempty"`

	// SSE and streamable-HTTP transports
	URL     string            `json:"url,omitempty" yaml:"url,omitempty"`
	Headers map[string]string `json:"headers,omitempty" yaml:"headers,omitempty"`
}

// ServerConfig describes one MCP server a Computer hosts.
type ServerConfig struct {
	Name             string              `json:"name" yaml:"name"`
	Type             string              `json:"type" yaml:"type"`
	Disabled         bool                `json:"disabled,omitempty" yaml:"disabled,omitempty"`
	ForbiddenTools   []string            `json:"forbidden_tools,omitempty" yaml:"forbidden_tools,omitempty"`
	ToolMeta         map[string]ToolMeta `json:"tool_meta,omitempty" yaml:"tool_meta,omitempty"`
	DefaultToolMeta  *ToolMeta           `json:"default_tool_meta,omitempty" yaml:"default_tool_meta,omitempty"`
	VRL              string              `json:"vrl,omitempty" yaml:"vrl,omitempty"`
	ServerParameters ServerParameters    `json:"server_parameters" yaml:"server_parameters"`
}

// Validate checks structural validity, including that the transform script
// (if any) compiles. An invalid config must be rejected at install time.
func (c *ServerConfig) Validate() error {
	if c.Name == "" {
		return fmt.Errorf("server config requires a name")
	}
	switch c.Type {
	case TypeStdio:
		if c.ServerParameters.Command == "" {
			return fmt.Errorf("server %s: command is required for stdio type", c.Name)
		}
	case TypeSSE, TypeStreamableHTTP:
		if c.ServerParameters.URL == "" {
			return fmt.Errorf("server %s: url is required for %s type", c.Name, c.Type)
		}
	default:
		return fmt.Errorf("server %s: unsupported type %q (supported: %s, %s, %s)",
			c.Name, c.Type, TypeStdio, TypeSSE, TypeStreamableHTTP)
	}
	if c.VRL != "" {
		if _, err := transform.Compile(c.VRL); err != nil {
			return fmt.Errorf("server %s: %w", c.Name, err)
		}
	}
	return nil
}

// EffectiveToolMeta returns the merged meta for a tool name.
func (c *ServerConfig) EffectiveToolMeta(toolName string) *ToolMeta {
	var perTool *ToolMeta
	if meta, ok := c.ToolMeta[toolName]; ok {
		perTool = &meta
	}
	return MergeToolMeta(c.DefaultToolMeta, perTool)
}

// IsForbidden reports whether the tool's MCP-declared name is forbidden.
func (c *ServerConfig) IsForbidden(toolName string) bool {
	for _, name := range c.ForbiddenTools {
		if name == toolName {
			return true
		}
	}
	return false
}

// ToolNameDuplicatedError reports a visible tool-name collision found during
// a tool-table rebuild. The operation that triggered the rebuild is rolled
// back.
type ToolNameDuplicatedError struct {
	Server string
	Name   string
}

func (e *ToolNameDuplicatedError) Error() string {
	return fmt.Sprintf("tool name %q from server %q duplicates an existing visible tool name", e.Name, e.Server)
}

// ToolNotFoundError reports a call to a name absent from the tool surface.
type ToolNotFoundError struct {
	Name string
}

func (e *ToolNotFoundError) Error() string {
	return fmt.Sprintf("tool %q not found", e.Name)
}

// ToolDisabledError reports a call to a forbidden tool.
type ToolDisabledError struct {
	Name string
}

func (e *ToolDisabledError) Error() string {
	return fmt.Sprintf("tool %q is disabled", e.Name)
}
