package inputs

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"a2csmcp/pkg/logging"
)

var placeholderPattern = regexp.MustCompile(`\$\{input:([^}]+)\}`)

// DefaultMaxDepth bounds config-tree recursion during rendering.
const DefaultMaxDepth = 8

// Renderer substitutes ${input:ID} placeholders in JSON-shaped values.
// Rendering never fails the overall operation: unresolved placeholders stay
// literal with a warning, and subtrees past the depth bound are returned
// unchanged with an error log.
type Renderer struct {
	resolver *Resolver
	maxDepth int
}

// NewRenderer creates a renderer over the given resolver.
func NewRenderer(resolver *Resolver) *Renderer {
	return &Renderer{resolver: resolver, maxDepth: DefaultMaxDepth}
}

// WithMaxDepth overrides the recursion bound.
func (r *Renderer) WithMaxDepth(depth int) *Renderer {
	r.maxDepth = depth
	return r
}

// Render walks the value tree and substitutes placeholders.
func (r *Renderer) Render(ctx context.Context, value any) any {
	return r.render(ctx, value, 0)
}

func (r *Renderer) render(ctx context.Context, value any, depth int) any {
	if depth > r.maxDepth {
		logging.Error("Inputs", fmt.Errorf("depth %d exceeds limit %d", depth, r.maxDepth),
			"rendering depth exceeded, returning subtree unchanged")
		return value
	}

	switch v := value.(type) {
	case map[string]any:
		result := make(map[string]any, len(v))
		for key, child := range v {
			result[key] = r.render(ctx, child, depth+1)
		}
		return result
	case []any:
		result := make([]any, len(v))
		for i, child := range v {
			result[i] = r.render(ctx, child, depth+1)
		}
		return result
	case string:
		return r.renderString(ctx, v)
	default:
		return value
	}
}

func (r *Renderer) renderString(ctx context.Context, s string) any {
	matches := placeholderPattern.FindAllStringSubmatchIndex(s, -1)
	if len(matches) == 0 {
		return s
	}

	// A string that is exactly one placeholder keeps the native value type.
	if len(matches) == 1 && matches[0][0] == 0 && matches[0][1] == len(s) {
		id := s[matches[0][2]:matches[0][3]]
		value, err := r.resolver.Resolve(ctx, id)
		if err != nil {
			logging.Warn("Inputs", "unresolved placeholder %s left in place: %v", id, err)
			return s
		}
		return value
	}

	var sb strings.Builder
	last := 0
	for _, m := range matches {
		sb.WriteString(s[last:m[0]])
		id := s[m[2]:m[3]]
		value, err := r.resolver.Resolve(ctx, id)
		if err != nil {
			logging.Warn("Inputs", "unresolved placeholder %s left in place: %v", id, err)
			sb.WriteString(s[m[0]:m[1]])
		} else {
			sb.WriteString(stringify(value))
		}
		last = m[1]
	}
	sb.WriteString(s[last:])
	return sb.String()
}

func stringify(value any) string {
	if s, ok := value.(string); ok {
		return s
	}
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Sprintf("%v", value)
	}
	return string(data)
}
