// Package inputs resolves ${input:ID} placeholders in configuration trees.
// Input definitions describe how a value is obtained (prompted, picked from
// options, or produced by a command); the resolver caches resolved values
// and the renderer substitutes them into JSON-shaped config data.
package inputs

import (
	"fmt"
)

// Input definition kinds.
const (
	TypePromptString = "promptString"
	TypePickString   = "pickString"
	TypeCommand      = "command"
)

// Definition is a tagged input definition. Type selects which of the
// kind-specific fields apply.
type Definition struct {
	Type        string            `json:"type" yaml:"type"`
	ID          string            `json:"id" yaml:"id"`
	Description string            `json:"description" yaml:"description"`
	Default     *string           `json:"default,omitempty" yaml:"default,omitempty"`
	Password    bool              `json:"password,omitempty" yaml:"password,omitempty"`
	Options     []string          `json:"options,omitempty" yaml:"options,omitempty"`
	Command     string            `json:"command,omitempty" yaml:"command,omitempty"`
	Args        map[string]string `json:"args,omitempty" yaml:"args,omitempty"`
}

// Validate checks structural validity of a definition.
func (d *Definition) Validate() error {
	if d.ID == "" {
		return fmt.Errorf("input definition requires an id")
	}
	switch d.Type {
	case TypePromptString:
	case TypePickString:
		if len(d.Options) == 0 {
			return fmt.Errorf("pickString input %s requires options", d.ID)
		}
	case TypeCommand:
		if d.Command == "" {
			return fmt.Errorf("command input %s requires a command", d.ID)
		}
	default:
		return fmt.Errorf("input %s has unknown type %q", d.ID, d.Type)
	}
	return nil
}
