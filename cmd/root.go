package cmd

import (
	"os"

	"github.com/spf13/cobra"

	"a2csmcp/pkg/logging"
)

// rootCmd is the entry point when the binary is called without a subcommand.
var rootCmd = &cobra.Command{
	Use:   "a2c-smcp",
	Short: "Signaling fabric connecting Agents to MCP-hosting Computers",
	Long: `a2c-smcp runs the pieces of an Agent-to-Computer tool fabric:
a signaling hub that groups sessions into offices, and a computer host
that manages local MCP servers and answers tool calls forwarded by
agents in the same office.`,
	SilenceUsage: true,
}

// SetVersion injects the build version into the root command.
func SetVersion(v string) {
	rootCmd.Version = v
}

// Execute runs the CLI. Called by main.main().
func Execute() {
	rootCmd.SetVersionTemplate(`{{printf "a2c-smcp version %s\n" .Version}}`)
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// setupLogging honors --debug and otherwise defers to the A2C_SMCP_LOG_*
// environment variables.
func setupLogging(debug bool) error {
	if debug {
		logging.Init(logging.LevelDebug, os.Stderr)
		return nil
	}
	return logging.InitFromEnv()
}

func init() {
	rootCmd.AddCommand(newVersionCmd())
}
