package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/pathforge/pathforge/internal/app"
)

// NewSignupCmd creates the signup command
func NewSignupCmd(newApp AppFactory) *cobra.Command {
	var name, email, password string

	cmd := &cobra.Command{
		Use:   "signup",
		Short: "Create a Pathforge account",
		RunE: func(cmd *cobra.Command, args []string) error {
			email = envOr(email, "PATHFORGE_EMAIL")
			password = envOr(password, "PATHFORGE_PASSWORD")

			if name == "" || email == "" {
				return fmt.Errorf("--name and --email are required")
			}
			if password == "" {
				var err error
				password, err = readPassword("Choose a password: ", "use --password flag or PATHFORGE_PASSWORD env var")
				if err != nil {
					return err
				}
			}

			return withApp(newApp, func(a *app.App) error {
				if err := a.Signup(cmd.Context(), name, email, password); err != nil {
					return fmt.Errorf("signup failed: %w", err)
				}

				fmt.Fprintln(cmd.OutOrStdout(), "✓ Account created. Run 'pathforge login' to sign in.")
				return nil
			})
		},
	}

	cmd.Flags().StringVar(&name, "name", "", "Display name")
	cmd.Flags().StringVar(&email, "email", "", "Email address (or set PATHFORGE_EMAIL)")
	cmd.Flags().StringVar(&password, "password", "", "Password (or set PATHFORGE_PASSWORD, will prompt if not provided)")

	return cmd
}
