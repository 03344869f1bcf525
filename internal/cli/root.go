package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/pathforge/pathforge/internal/cli/commands"
)

var version = "dev" // Will be set during build

// NewRootCmd builds the command tree around newApp
func NewRootCmd(newApp commands.AppFactory) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "pathforge",
		Short: "Pathforge - session client for the Pathforge learning platform",
		Long: `Pathforge CLI - sign in to Pathforge and keep your session alive.

The access credential is kept in the configured credential store and renewed
automatically when the backend reports it expired.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print the version number",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "pathforge version %s\n", version)
		},
	})

	rootCmd.AddCommand(commands.NewSignupCmd(newApp))
	rootCmd.AddCommand(commands.NewLoginCmd(newApp))
	rootCmd.AddCommand(commands.NewLogoutCmd(newApp))
	rootCmd.AddCommand(commands.NewWhoamiCmd(newApp))
	rootCmd.AddCommand(commands.NewStatusCmd(newApp))
	rootCmd.AddCommand(commands.NewServeCmd(newApp, version))

	return rootCmd
}

// Execute runs the root command
func Execute() error {
	if err := NewRootCmd(commands.DefaultApp).Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return err
	}
	return nil
}
