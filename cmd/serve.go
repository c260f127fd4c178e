package cmd

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"a2csmcp/internal/hub"
	"a2csmcp/pkg/logging"
	"a2csmcp/pkg/smcp"
)

var (
	serveAddr  string
	serveToken string
	serveDebug bool
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the signaling hub",
	Long: `Starts the signaling hub that agents and computers connect to.
Sessions join named offices; the hub relays notifications within an
office and forwards agent requests to the addressed computer.

With --token set, every connection must present the token in its
Authorization header.`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	if err := setupLogging(serveDebug); err != nil {
		return err
	}

	var auth hub.Authenticator
	if serveToken != "" {
		auth = tokenAuthenticator(serveToken)
	}
	h := hub.NewHub(auth)

	mux := http.NewServeMux()
	mux.Handle(smcp.Namespace, h)

	server := &http.Server{
		Addr:    serveAddr,
		Handler: mux,
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		logging.Info("Serve", "hub listening on %s%s", serveAddr, smcp.Namespace)
		errCh <- server.ListenAndServe()
	}()

	go logStats(ctx, h)

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logging.Info("Serve", "shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// logStats reports connection counts once a minute while sessions exist.
func logStats(ctx context.Context, h *hub.Hub) {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			stats := h.Stats()
			if stats.Total == 0 {
				continue
			}
			logging.Info("Serve", "sessions: %d total, %d agents, %d computers",
				stats.Total, stats.Agents, stats.Computers)
		}
	}
}

func tokenAuthenticator(token string) hub.Authenticator {
	return func(r *http.Request) error {
		presented := r.Header.Get("Authorization")
		if subtle.ConstantTimeCompare([]byte(presented), []byte(token)) != 1 {
			return fmt.Errorf("invalid or missing token")
		}
		return nil
	}
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().StringVar(&serveAddr, "addr", ":7650", "Listen address for the hub")
	serveCmd.Flags().StringVar(&serveToken, "token", "", "Require this Authorization header value on every connection")
	serveCmd.Flags().BoolVar(&serveDebug, "debug", false, "Enable debug logging")
}
