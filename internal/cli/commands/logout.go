package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/pathforge/pathforge/internal/app"
)

// NewLogoutCmd creates the logout command
func NewLogoutCmd(newApp AppFactory) *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "End the current session",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(newApp, func(a *app.App) error {
				if err := a.Logout(cmd.Context()); err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), "✓ Logged out")
				return nil
			})
		},
	}
}
