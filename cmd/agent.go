package cmd

import (
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"a2csmcp/internal/agent"
	"a2csmcp/pkg/logging"
	"a2csmcp/pkg/smcp"
)

var (
	agentURL    string
	agentOffice string
	agentName   string
	agentAuth   string
	agentDebug  bool
)

var agentCmd = &cobra.Command{
	Use:   "agent",
	Short: "Run a demo agent that observes an office",
	Long: `Connects to a signaling hub as an agent, joins an office, and
prints every office notification and each computer's tool list as they
arrive. Useful for checking what an AI agent in the same office would
see.`,
	Args: cobra.NoArgs,
	RunE: runAgent,
}

func runAgent(cmd *cobra.Command, args []string) error {
	if err := setupLogging(agentDebug); err != nil {
		return err
	}

	handlers := agent.Handlers{
		OnComputerEnterOffice: func(n smcp.OfficeNotification, c *agent.Client) {
			if n.Computer != nil {
				fmt.Printf("computer %s entered %s\n", *n.Computer, n.OfficeID)
			}
		},
		OnComputerLeaveOffice: func(n smcp.OfficeNotification, c *agent.Client) {
			if n.Computer != nil {
				fmt.Printf("computer %s left %s\n", *n.Computer, n.OfficeID)
			}
		},
		OnComputerUpdateConfig: func(req smcp.UpdateComputerReq, c *agent.Client) {
			fmt.Printf("computer %s changed its config\n", req.Computer)
		},
		OnDesktopUpdated: func(req smcp.UpdateComputerReq, c *agent.Client) {
			fmt.Printf("computer %s refreshed its desktop\n", req.Computer)
		},
		OnToolsReceived: func(computerName string, tools []smcp.SMCPTool, c *agent.Client) {
			fmt.Printf("computer %s offers %d tools:\n", computerName, len(tools))
			for _, tool := range tools {
				fmt.Printf("  %s: %s\n", tool.Name, tool.Description)
			}
		},
	}

	client := agent.NewClient(agentName, handlers)

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	headers := http.Header{}
	if agentAuth != "" {
		headers.Set("Authorization", agentAuth)
	}
	if err := client.Connect(ctx, agentURL, headers); err != nil {
		return fmt.Errorf("failed to connect to hub %s: %w", agentURL, err)
	}
	defer client.Close()

	if err := client.JoinOffice(ctx, agentOffice); err != nil {
		return fmt.Errorf("failed to join office %s: %w", agentOffice, err)
	}
	logging.Info("Agent", "joined office %s as %s", agentOffice, agentName)

	computers, err := client.GetComputersInOffice(ctx)
	if err != nil {
		return err
	}
	for _, session := range computers {
		tools, err := client.GetToolsFromComputer(ctx, session.Name)
		if err != nil {
			logging.Warn("Agent", "failed to fetch tools from %s: %v", session.Name, err)
			continue
		}
		handlers.OnToolsReceived(session.Name, tools, client)
	}

	<-ctx.Done()
	return nil
}

func init() {
	rootCmd.AddCommand(agentCmd)

	agentCmd.Flags().StringVar(&agentURL, "url", "ws://127.0.0.1:7650"+smcp.Namespace, "Hub WebSocket URL")
	agentCmd.Flags().StringVar(&agentOffice, "office", "", "Office to join")
	agentCmd.Flags().StringVar(&agentName, "name", "agent-"+hostnameSuffix(), "Agent name")
	agentCmd.Flags().StringVar(&agentAuth, "auth", "", "Authorization header value")
	agentCmd.Flags().BoolVar(&agentDebug, "debug", false, "Enable debug logging")
	_ = agentCmd.MarkFlagRequired("office")
}

func hostnameSuffix() string {
	host, err := os.Hostname()
	if err != nil {
		return "local"
	}
	return host
}
