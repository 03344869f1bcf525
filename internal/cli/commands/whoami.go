package commands

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/pathforge/pathforge/internal/app"
)

// NewWhoamiCmd creates the whoami command. It is the CLI's protected view.
func NewWhoamiCmd(newApp AppFactory) *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "whoami",
		Short: "Show the signed-in user",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(newApp, func(a *app.App) error {
				user, err := requireSession(cmd.Context(), a)
				if err != nil {
					return err
				}

				out := cmd.OutOrStdout()
				if asJSON {
					enc := json.NewEncoder(out)
					enc.SetIndent("", "  ")
					return enc.Encode(user)
				}

				fmt.Fprintf(out, "Signed in as %s\n", user.Name())
				if email, ok := user["email"].(string); ok {
					fmt.Fprintf(out, "  Email: %s\n", email)
				}
				return nil
			})
		},
	}

	cmd.Flags().BoolVar(&asJSON, "json", false, "Print the full profile as JSON")

	return cmd
}
