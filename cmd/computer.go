package cmd

import (
	"bufio"
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"

	"github.com/spf13/cobra"

	"a2csmcp/internal/cli"
	"a2csmcp/internal/computer"
	"a2csmcp/internal/config"
	"a2csmcp/pkg/logging"
)

var (
	computerConfigPath  string
	computerDebug       bool
	computerAutoApprove bool
	computerNoREPL      bool
	computerNoWatch     bool
)

var computerCmd = &cobra.Command{
	Use:   "computer",
	Short: "Run a computer hosting MCP servers",
	Long: `Starts a Computer from a YAML config: boots the configured MCP
servers, optionally joins an office on a signaling hub, and opens an
interactive shell for managing servers, inputs, and tool calls.

Tool calls whose meta does not carry auto_apply are confirmed on the
terminal unless --auto-approve is set. The config file is watched for
changes and reapplied on save.`,
	Args: cobra.NoArgs,
	RunE: runComputer,
}

func runComputer(cmd *cobra.Command, args []string) error {
	if err := setupLogging(computerDebug); err != nil {
		return err
	}

	cfg, err := config.Load(computerConfigPath)
	if err != nil {
		return err
	}

	confirm := terminalConfirm()
	if computerAutoApprove {
		confirm = func(context.Context, string, string, string, map[string]any) (bool, error) {
			return true, nil
		}
	}

	comp := computer.NewComputer(cfg.Name, cfg.Servers, cfg.Inputs, computer.Options{
		Confirm:       confirm,
		AutoReconnect: true,
	})

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := comp.BootUp(ctx); err != nil {
		return fmt.Errorf("failed to boot: %w", err)
	}
	if err := comp.Start(ctx); err != nil {
		logging.Warn("Computer", "not all servers started: %v", err)
	}
	defer comp.Shutdown(context.Background())

	socket, err := connectSocket(ctx, comp, cfg.Socket)
	if err != nil {
		return err
	}
	if socket != nil {
		defer socket.Close()
	}

	if !computerNoWatch {
		go watchConfig(ctx, computerConfigPath, comp, socket)
	}

	if computerNoREPL {
		<-ctx.Done()
		return nil
	}

	repl := cli.NewREPL(comp, os.Stdout)
	if socket != nil {
		repl.AttachSocket(socket)
	}
	return repl.Run(ctx)
}

// connectSocket dials the hub and joins the office named in the config.
// An empty URL means the Computer runs detached.
func connectSocket(ctx context.Context, comp *computer.Computer, cfg config.SocketConfig) (*computer.SocketClient, error) {
	if cfg.URL == "" {
		return nil, nil
	}

	headers := http.Header{}
	if cfg.Auth != "" {
		headers.Set("Authorization", cfg.Auth)
	}
	for k, v := range cfg.Header {
		headers.Set(k, v)
	}

	socket := computer.NewSocketClient(comp)
	if err := socket.Connect(ctx, cfg.URL, headers); err != nil {
		return nil, fmt.Errorf("failed to connect to hub %s: %w", cfg.URL, err)
	}
	if cfg.Office != "" {
		if err := socket.JoinOffice(ctx, cfg.Office); err != nil {
			socket.Close()
			return nil, fmt.Errorf("failed to join office %s: %w", cfg.Office, err)
		}
		logging.Info("Computer", "joined office %s on %s", cfg.Office, cfg.URL)
	}
	return socket, nil
}

// watchConfig reapplies server and input definitions on every config save
// and broadcasts the change to the office.
func watchConfig(ctx context.Context, path string, comp *computer.Computer, socket *computer.SocketClient) {
	err := config.Watch(ctx, path, func(cfg *config.Config) {
		if err := comp.Resolver().LoadDefinitions(cfg.Inputs); err != nil {
			logging.Warn("Computer", "config reload: inputs rejected: %v", err)
		}
		for _, raw := range cfg.Servers {
			if err := comp.AddOrUpdateServer(ctx, raw); err != nil {
				logging.Warn("Computer", "config reload: server %v rejected: %v", raw["name"], err)
			}
		}
		logging.Info("Computer", "config reloaded from %s", path)
		if socket != nil {
			socket.NotifyConfigChanged(ctx)
		}
	})
	if err != nil && ctx.Err() == nil {
		logging.Error("Computer", err, "config watcher stopped")
	}
}

// terminalConfirm asks the operator to approve a gated tool call on the
// terminal. Anything but an explicit yes rejects.
func terminalConfirm() computer.ConfirmFunc {
	var mu sync.Mutex
	reader := bufio.NewReader(os.Stdin)

	return func(ctx context.Context, reqID, server, tool string, params map[string]any) (bool, error) {
		mu.Lock()
		defer mu.Unlock()

		fmt.Fprintf(os.Stderr, "\ntool call %s: %s on %s with %v\napprove? [y/N] ", reqID, tool, server, params)
		line, err := reader.ReadString('\n')
		if err != nil {
			return false, err
		}
		answer := strings.ToLower(strings.TrimSpace(line))
		return answer == "y" || answer == "yes", nil
	}
}

func init() {
	rootCmd.AddCommand(computerCmd)

	computerCmd.Flags().StringVar(&computerConfigPath, "config", config.DefaultPath(), "Path to the computer config file")
	computerCmd.Flags().BoolVar(&computerDebug, "debug", false, "Enable debug logging")
	computerCmd.Flags().BoolVar(&computerAutoApprove, "auto-approve", false, "Approve every gated tool call without prompting")
	computerCmd.Flags().BoolVar(&computerNoREPL, "no-repl", false, "Run headless without the interactive shell")
	computerCmd.Flags().BoolVar(&computerNoWatch, "no-watch", false, "Do not watch the config file for changes")
}
