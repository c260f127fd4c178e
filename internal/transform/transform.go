// Package transform compiles and runs the return-value transform scripts
// that MCP server configs may carry. Scripts are jq programs evaluated
// against a context object built from the raw tool result.
package transform

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/itchyny/gojq"
)

// Script is a compiled transform program. Compilation happens once at
// config-install time; a Script is safe for concurrent use.
type Script struct {
	source string
	code   *gojq.Code
}

const runTimeout = 5 * time.Second

// Compile parses and compiles a transform script. An invalid script must
// reject the config update that carries it.
func Compile(source string) (*Script, error) {
	query, err := gojq.Parse(source)
	if err != nil {
		return nil, fmt.Errorf("failed to parse transform script: %w", err)
	}
	code, err := gojq.Compile(query)
	if err != nil {
		return nil, fmt.Errorf("failed to compile transform script: %w", err)
	}
	return &Script{source: source, code: code}, nil
}

// Source returns the original script text.
func (s *Script) Source() string {
	return s.source
}

// Run evaluates the script against input and returns the first produced
// value. Input is normalized through JSON so arbitrary Go values are
// accepted.
func (s *Script) Run(input any) (any, error) {
	data, err := json.Marshal(input)
	if err != nil {
		return nil, fmt.Errorf("failed to serialize transform input: %w", err)
	}
	var normalized any
	if err := json.Unmarshal(data, &normalized); err != nil {
		return nil, fmt.Errorf("failed to normalize transform input: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), runTimeout)
	defer cancel()

	iter := s.code.RunWithContext(ctx, normalized)
	v, ok := iter.Next()
	if !ok {
		return nil, fmt.Errorf("transform script produced no output")
	}
	if err, isErr := v.(error); isErr {
		return nil, fmt.Errorf("transform script failed: %w", err)
	}
	return v, nil
}
