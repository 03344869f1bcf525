package commands

import (
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/pathforge/pathforge/internal/app"
	"github.com/pathforge/pathforge/internal/logger"
	"github.com/pathforge/pathforge/internal/views"
)

// NewServeCmd creates the serve command
func NewServeCmd(newApp AppFactory, version string) *cobra.Command {
	var addr string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the local view server",
		Long: `Run the local view server.

It serves the login and signup views, receives OAuth callbacks at
/auth/success and guards the dashboard with the current session.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(newApp, func(a *app.App) error {
				if addr == "" {
					addr = a.Config().Views.Addr
				}

				ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
				defer stop()

				fmt.Fprintf(cmd.OutOrStdout(), "Serving on http://%s (Ctrl+C to stop)\n", addr)
				return views.New(a, logger.GetLogger(), version).Start(ctx, addr)
			})
		},
	}

	cmd.Flags().StringVar(&addr, "addr", "", "Listen address (or set PATHFORGE_VIEW_ADDR)")

	return cmd
}
