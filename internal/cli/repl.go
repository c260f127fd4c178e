package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/chzyer/readline"

	"a2csmcp/internal/computer"
)

const prompt = "a2c» "

// REPL is the interactive operator surface of a Computer: server and input
// management, socket membership, tool calls, and desktop inspection.
type REPL struct {
	computer *computer.Computer
	socket   *computer.SocketClient
	out      io.Writer
	rl       *readline.Instance
	quit     bool
}

// NewREPL wraps a facade. Output defaults to stdout.
func NewREPL(comp *computer.Computer, out io.Writer) *REPL {
	if out == nil {
		out = os.Stdout
	}
	return &REPL{computer: comp, out: out}
}

// AttachSocket hands the REPL an already connected signaling client, so
// socket join/leave and notify act on it instead of dialing a new one.
func (r *REPL) AttachSocket(s *computer.SocketClient) {
	r.socket = s
}

// Run reads and executes commands until exit or EOF.
func (r *REPL) Run(ctx context.Context) error {
	rl, err := readline.NewEx(&readline.Config{
		Prompt:          prompt,
		HistoryFile:     filepath.Join(os.TempDir(), ".a2csmcp_history"),
		AutoComplete:    r.completer(),
		InterruptPrompt: "^C",
		EOFPrompt:       "exit",
	})
	if err != nil {
		return fmt.Errorf("failed to initialize readline: %w", err)
	}
	defer rl.Close()
	r.rl = rl

	for !r.quit {
		line, err := rl.Readline()
		if errors.Is(err, readline.ErrInterrupt) {
			continue
		}
		if err == io.EOF {
			break
		}
		if err != nil {
			return err
		}

		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if err := r.Execute(ctx, line); err != nil {
			fmt.Fprintf(r.out, "error: %v\n", err)
		}
	}
	return nil
}

// Execute runs one command line.
func (r *REPL) Execute(ctx context.Context, line string) error {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return nil
	}
	command := fields[0]
	rest := strings.TrimSpace(strings.TrimPrefix(line, command))

	switch command {
	case "help":
		r.printHelp()
		return nil
	case "exit", "quit":
		r.quit = true
		return nil
	case "server":
		return r.cmdServer(ctx, fields[1:], rest)
	case "start":
		return r.cmdStart(ctx, fields[1:])
	case "stop":
		return r.cmdStop(ctx, fields[1:])
	case "status":
		return r.cmdStatus()
	case "tools":
		return r.cmdTools(ctx)
	case "mcp":
		return r.cmdMCP()
	case "inputs":
		return r.cmdInputs(ctx, fields[1:], rest)
	case "socket":
		return r.cmdSocket(ctx, fields[1:])
	case "notify":
		return r.cmdNotify(ctx, fields[1:])
	case "tc":
		return r.cmdToolCall(ctx, rest)
	case "render":
		return r.cmdRender(ctx, rest)
	case "history":
		return r.cmdHistory()
	case "desktop":
		return r.cmdDesktop(ctx, fields[1:])
	default:
		return fmt.Errorf("unknown command %q (try help)", command)
	}
}

func (r *REPL) completer() readline.AutoCompleter {
	return readline.NewPrefixCompleter(
		readline.PcItem("server",
			readline.PcItem("add"),
			readline.PcItem("rm"),
		),
		readline.PcItem("start", readline.PcItem("all")),
		readline.PcItem("stop", readline.PcItem("all")),
		readline.PcItem("status"),
		readline.PcItem("tools"),
		readline.PcItem("mcp"),
		readline.PcItem("inputs",
			readline.PcItem("add"),
			readline.PcItem("update"),
			readline.PcItem("rm"),
			readline.PcItem("get"),
			readline.PcItem("list"),
			readline.PcItem("load"),
			readline.PcItem("value",
				readline.PcItem("set"),
				readline.PcItem("get"),
				readline.PcItem("rm"),
				readline.PcItem("clear"),
				readline.PcItem("list"),
			),
		),
		readline.PcItem("socket",
			readline.PcItem("connect"),
			readline.PcItem("join"),
			readline.PcItem("leave"),
		),
		readline.PcItem("notify", readline.PcItem("update")),
		readline.PcItem("tc"),
		readline.PcItem("render"),
		readline.PcItem("history"),
		readline.PcItem("desktop"),
		readline.PcItem("help"),
		readline.PcItem("exit"),
	)
}

func (r *REPL) printHelp() {
	help := [][2]string{
		{"server add <json|@file>", "install or update an MCP server config"},
		{"server rm <name>", "stop and remove a server"},
		{"start [name|all]", "connect one server or all of them"},
		{"stop [name|all]", "disconnect one server or all of them"},
		{"status", "show server lifecycle states"},
		{"tools", "list the visible tool surface"},
		{"mcp", "list configured MCP servers"},
		{"inputs ...", "manage input definitions and cached values"},
		{"socket connect [url] [auth]", "connect to a signaling hub"},
		{"socket join <office>", "join an office as this computer"},
		{"socket leave", "leave the current office"},
		{"notify update", "broadcast a config update to the office"},
		{"tc <json|@file>", "execute a tool call request"},
		{"render <json|@file>", "render input placeholders in a value"},
		{"history", "show recent tool calls"},
		{"desktop [size] [window]", "show the aggregated desktop"},
		{"help", "show this help"},
		{"exit", "leave the shell"},
	}
	for _, entry := range help {
		fmt.Fprintf(r.out, "  %-30s %s\n", entry[0], entry[1])
	}
}
