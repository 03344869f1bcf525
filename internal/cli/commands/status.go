package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/pathforge/pathforge/internal/app"
	"github.com/pathforge/pathforge/internal/session"
)

// NewStatusCmd creates the status command
func NewStatusCmd(newApp AppFactory) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Resolve and print the session status",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(newApp, func(a *app.App) error {
				snap := a.Mount(cmd.Context())
				cfg := a.Config()

				out := cmd.OutOrStdout()
				fmt.Fprintf(out, "Backend:    %s\n", cfg.API.BaseURL)
				fmt.Fprintf(out, "Credential: %s store\n", cfg.Credential.Backend)
				fmt.Fprintf(out, "Session:    %s\n", snap.Status)
				if snap.Status == session.Authenticated {
					fmt.Fprintf(out, "User:       %s\n", snap.User.Name())
				}
				return nil
			})
		},
	}
}
