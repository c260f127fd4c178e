package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jedib0t/go-pretty/v6/table"

	"a2csmcp/internal/computer"
	"a2csmcp/internal/inputs"
	"a2csmcp/pkg/smcp"
)

const defaultHubURL = "ws://127.0.0.1:7650" + smcp.Namespace

// jsonArg resolves a JSON argument; a leading @ reads the payload from a
// file.
func jsonArg(arg string) ([]byte, error) {
	if arg == "" {
		return nil, fmt.Errorf("expected a JSON argument or @file")
	}
	if arg[0] == '@' {
		data, err := os.ReadFile(arg[1:])
		if err != nil {
			return nil, fmt.Errorf("failed to read %s: %w", arg[1:], err)
		}
		return data, nil
	}
	return []byte(arg), nil
}

func (r *REPL) newTable(headers ...any) table.Writer {
	tw := table.NewWriter()
	tw.SetOutputMirror(r.out)
	tw.SetStyle(table.StyleLight)
	tw.AppendHeader(headers)
	return tw
}

func (r *REPL) cmdServer(ctx context.Context, args []string, rest string) error {
	if len(args) == 0 {
		return fmt.Errorf("usage: server add <json|@file> | server rm <name>")
	}
	switch args[0] {
	case "add":
		payload, err := jsonArg(restAfter(rest, "add"))
		if err != nil {
			return err
		}
		var raw map[string]any
		if err := json.Unmarshal(payload, &raw); err != nil {
			return fmt.Errorf("invalid server config: %w", err)
		}
		if err := r.computer.AddOrUpdateServer(ctx, raw); err != nil {
			return err
		}
		fmt.Fprintf(r.out, "server %v installed\n", raw["name"])
		return nil
	case "rm":
		if len(args) < 2 {
			return fmt.Errorf("usage: server rm <name>")
		}
		if err := r.computer.RemoveServer(ctx, args[1]); err != nil {
			return err
		}
		fmt.Fprintf(r.out, "server %s removed\n", args[1])
		return nil
	default:
		return fmt.Errorf("unknown server subcommand %q", args[0])
	}
}

// restAfter strips the leading subcommand token from rest, leaving the raw
// argument text (JSON payloads must not be split on whitespace).
func restAfter(rest, sub string) string {
	return strings.TrimSpace(strings.TrimPrefix(rest, sub))
}

func (r *REPL) cmdStart(ctx context.Context, args []string) error {
	target := "all"
	if len(args) > 0 {
		target = args[0]
	}
	manager := r.computer.Manager()
	if target == "all" {
		if err := manager.StartAll(ctx); err != nil {
			return err
		}
		fmt.Fprintln(r.out, "all servers started")
		return nil
	}
	if err := manager.StartClient(ctx, target); err != nil {
		return err
	}
	fmt.Fprintf(r.out, "server %s started\n", target)
	return nil
}

func (r *REPL) cmdStop(ctx context.Context, args []string) error {
	target := "all"
	if len(args) > 0 {
		target = args[0]
	}
	manager := r.computer.Manager()
	if target == "all" {
		if err := manager.StopAll(ctx); err != nil {
			return err
		}
		fmt.Fprintln(r.out, "all servers stopped")
		return nil
	}
	if err := manager.StopClient(ctx, target); err != nil {
		return err
	}
	fmt.Fprintf(r.out, "server %s stopped\n", target)
	return nil
}

func (r *REPL) cmdStatus() error {
	manager := r.computer.Manager()
	configs := manager.ServerConfigs()

	tw := r.newTable("NAME", "TYPE", "STATE")
	for _, name := range manager.ServerNames() {
		state := manager.ServerState(name)
		if state == "" {
			state = "unknown"
		}
		tw.AppendRow(table.Row{name, configs[name].Type, string(state)})
	}
	tw.Render()
	return nil
}

func (r *REPL) cmdTools(ctx context.Context) error {
	tools := r.computer.GetTools(ctx)
	tw := r.newTable("TOOL", "DESCRIPTION")
	for _, tool := range tools {
		tw.AppendRow(table.Row{tool.Name, tool.Description})
	}
	tw.Render()
	return nil
}

func (r *REPL) cmdMCP() error {
	configs := r.computer.Manager().ServerConfigs()
	tw := r.newTable("NAME", "TYPE", "DISABLED")
	for _, name := range r.computer.Manager().ServerNames() {
		config := configs[name]
		tw.AppendRow(table.Row{config.Name, config.Type, config.Disabled})
	}
	tw.Render()
	return nil
}

func (r *REPL) cmdInputs(ctx context.Context, args []string, rest string) error {
	if len(args) == 0 {
		return fmt.Errorf("usage: inputs {add|update|rm|get|list|load|value}")
	}
	resolver := r.computer.Resolver()

	switch args[0] {
	case "add", "update":
		payload, err := jsonArg(restAfter(rest, args[0]))
		if err != nil {
			return err
		}
		var def inputs.Definition
		if err := json.Unmarshal(payload, &def); err != nil {
			return fmt.Errorf("invalid input definition: %w", err)
		}
		if err := resolver.SetDefinition(def); err != nil {
			return err
		}
		fmt.Fprintf(r.out, "input %s stored\n", def.ID)
		return nil

	case "rm":
		if len(args) < 2 {
			return fmt.Errorf("usage: inputs rm <id>")
		}
		if !resolver.RemoveDefinition(args[1]) {
			return fmt.Errorf("input %s not found", args[1])
		}
		fmt.Fprintf(r.out, "input %s removed\n", args[1])
		return nil

	case "get":
		if len(args) < 2 {
			return fmt.Errorf("usage: inputs get <id>")
		}
		def, ok := resolver.GetDefinition(args[1])
		if !ok {
			return fmt.Errorf("input %s not found", args[1])
		}
		return r.printJSON(def)

	case "list":
		tw := r.newTable("ID", "TYPE", "DESCRIPTION")
		for _, def := range resolver.Definitions() {
			tw.AppendRow(table.Row{def.ID, def.Type, def.Description})
		}
		tw.Render()
		return nil

	case "load":
		payload, err := jsonArg(restAfter(rest, "load"))
		if err != nil {
			return err
		}
		var defs []inputs.Definition
		if err := json.Unmarshal(payload, &defs); err != nil {
			return fmt.Errorf("invalid input definitions: %w", err)
		}
		if err := resolver.LoadDefinitions(defs); err != nil {
			return err
		}
		fmt.Fprintf(r.out, "%d inputs loaded\n", len(defs))
		return nil

	case "value":
		return r.cmdInputValue(args[1:])

	default:
		return fmt.Errorf("unknown inputs subcommand %q", args[0])
	}
}

func (r *REPL) cmdInputValue(args []string) error {
	if len(args) == 0 {
		return fmt.Errorf("usage: inputs value {set|get|rm|clear|list}")
	}
	resolver := r.computer.Resolver()

	switch args[0] {
	case "set":
		if len(args) < 3 {
			return fmt.Errorf("usage: inputs value set <id> <json-or-string>")
		}
		var value any
		if err := json.Unmarshal([]byte(args[2]), &value); err != nil {
			value = args[2]
		}
		resolver.SetValue(args[1], value)
		fmt.Fprintf(r.out, "value %s set\n", args[1])
		return nil

	case "get":
		if len(args) < 2 {
			return fmt.Errorf("usage: inputs value get <id>")
		}
		value, ok := resolver.GetValue(args[1])
		if !ok {
			return fmt.Errorf("no cached value for %s", args[1])
		}
		return r.printJSON(value)

	case "rm":
		if len(args) < 2 {
			return fmt.Errorf("usage: inputs value rm <id>")
		}
		if !resolver.DeleteValue(args[1]) {
			return fmt.Errorf("no cached value for %s", args[1])
		}
		fmt.Fprintf(r.out, "value %s removed\n", args[1])
		return nil

	case "clear":
		resolver.ClearValues()
		fmt.Fprintln(r.out, "values cleared")
		return nil

	case "list":
		tw := r.newTable("ID", "VALUE")
		for id, value := range resolver.Values() {
			tw.AppendRow(table.Row{id, fmt.Sprintf("%v", value)})
		}
		tw.Render()
		return nil

	default:
		return fmt.Errorf("unknown value subcommand %q", args[0])
	}
}

func (r *REPL) cmdSocket(ctx context.Context, args []string) error {
	if len(args) == 0 {
		return fmt.Errorf("usage: socket {connect [url] [auth] | join <office> | leave}")
	}

	switch args[0] {
	case "connect":
		url := defaultHubURL
		if len(args) > 1 {
			url = args[1]
		}
		headers := http.Header{}
		if len(args) > 2 {
			headers.Set("Authorization", args[2])
		}
		if len(args) > 3 {
			var extra map[string]string
			if err := json.Unmarshal([]byte(args[3]), &extra); err != nil {
				return fmt.Errorf("invalid headers: %w", err)
			}
			for k, v := range extra {
				headers.Set(k, v)
			}
		}
		if r.socket == nil {
			r.socket = computer.NewSocketClient(r.computer)
		}
		if err := r.socket.Connect(ctx, url, headers); err != nil {
			return err
		}
		fmt.Fprintf(r.out, "connected to %s\n", url)
		return nil

	case "join":
		if len(args) < 2 {
			return fmt.Errorf("usage: socket join <office> [name]")
		}
		if r.socket == nil {
			return fmt.Errorf("not connected (socket connect first)")
		}
		if len(args) > 2 && args[2] != r.computer.Name() {
			return fmt.Errorf("this computer is registered as %s, cannot join as %s", r.computer.Name(), args[2])
		}
		if err := r.socket.JoinOffice(ctx, args[1]); err != nil {
			return err
		}
		fmt.Fprintf(r.out, "joined office %s\n", args[1])
		return nil

	case "leave":
		if r.socket == nil {
			return fmt.Errorf("not connected")
		}
		if err := r.socket.LeaveOffice(ctx); err != nil {
			return err
		}
		fmt.Fprintln(r.out, "left office")
		return nil

	default:
		return fmt.Errorf("unknown socket subcommand %q", args[0])
	}
}

func (r *REPL) cmdNotify(ctx context.Context, args []string) error {
	if len(args) == 0 || args[0] != "update" {
		return fmt.Errorf("usage: notify update")
	}
	if r.socket == nil {
		return fmt.Errorf("not connected (socket connect first)")
	}
	r.socket.NotifyConfigChanged(ctx)
	fmt.Fprintln(r.out, "update broadcast")
	return nil
}

// toolCallInput is the tc command's request shape.
type toolCallInput struct {
	ReqID    string         `json:"req_id"`
	ToolName string         `json:"tool_name"`
	Params   map[string]any `json:"params"`
	Timeout  float64        `json:"timeout"`
}

func (r *REPL) cmdToolCall(ctx context.Context, rest string) error {
	payload, err := jsonArg(rest)
	if err != nil {
		return err
	}
	var req toolCallInput
	if err := json.Unmarshal(payload, &req); err != nil {
		return fmt.Errorf("invalid tool call request: %w", err)
	}
	if req.ToolName == "" {
		return fmt.Errorf("tool_name is required")
	}
	if req.ReqID == "" {
		req.ReqID = uuid.NewString()
	}
	timeout := 30 * time.Second
	if req.Timeout > 0 {
		timeout = time.Duration(req.Timeout * float64(time.Second))
	}

	result := r.computer.ExecuteTool(ctx, req.ReqID, req.ToolName, req.Params, timeout)
	return r.printJSON(result)
}

func (r *REPL) cmdRender(ctx context.Context, rest string) error {
	payload, err := jsonArg(rest)
	if err != nil {
		return err
	}
	var value any
	if err := json.Unmarshal(payload, &value); err != nil {
		return fmt.Errorf("invalid JSON: %w", err)
	}
	return r.printJSON(r.computer.RenderValue(ctx, value))
}

func (r *REPL) cmdHistory() error {
	tw := r.newTable("REQ_ID", "SERVER", "TOOL", "SUCCESS", "ERROR", "TIME")
	for _, record := range r.computer.History().Entries() {
		tw.AppendRow(table.Row{
			record.ReqID,
			record.Server,
			record.Tool,
			record.Success,
			record.Error,
			record.Timestamp.Format(time.RFC3339),
		})
	}
	tw.Render()
	return nil
}

func (r *REPL) cmdDesktop(ctx context.Context, args []string) error {
	var size *int
	var window *string
	if len(args) > 0 {
		n, err := strconv.Atoi(args[0])
		if err != nil {
			return fmt.Errorf("invalid size %q", args[0])
		}
		size = &n
	}
	if len(args) > 1 {
		window = &args[1]
	}

	desktops, err := r.computer.GetDesktop(ctx, size, window)
	if err != nil {
		return err
	}
	if len(desktops) == 0 {
		fmt.Fprintln(r.out, "no windows")
		return nil
	}
	for i, block := range desktops {
		if i > 0 {
			fmt.Fprintln(r.out, "---")
		}
		fmt.Fprintln(r.out, block)
	}
	return nil
}

func (r *REPL) printJSON(value any) error {
	data, err := json.MarshalIndent(value, "", "  ")
	if err != nil {
		return err
	}
	fmt.Fprintln(r.out, string(data))
	return nil
}
