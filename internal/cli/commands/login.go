package commands

import (
	"fmt"
	"io"
	"strings"

	"github.com/manifoldco/promptui"
	"github.com/spf13/cobra"

	"github.com/pathforge/pathforge/internal/app"
)

const methodPassword = "password"

// NewLoginCmd creates the login command
func NewLoginCmd(newApp AppFactory) *cobra.Command {
	var email, password, provider, token string

	cmd := &cobra.Command{
		Use:   "login",
		Short: "Sign in with email and password or an OAuth provider",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(newApp, func(a *app.App) error {
				email = envOr(email, "PATHFORGE_EMAIL")
				password = envOr(password, "PATHFORGE_PASSWORD")

				if provider == "" && email == "" {
					choice, err := promptLoginMethod()
					if err != nil {
						return err
					}
					if choice != methodPassword {
						provider = choice
					}
				}

				if provider != "" {
					return runProviderLogin(cmd, a, provider, token)
				}
				return runLogin(cmd, a, email, password)
			})
		},
	}

	cmd.Flags().StringVar(&email, "email", "", "Email address (or set PATHFORGE_EMAIL)")
	cmd.Flags().StringVar(&password, "password", "", "Password (or set PATHFORGE_PASSWORD, will prompt if not provided)")
	cmd.Flags().StringVar(&provider, "provider", "", "Sign in with an OAuth provider (google or github)")
	cmd.Flags().StringVar(&token, "token", "", "Token from the provider callback URL (will prompt if not provided)")

	return cmd
}

func runLogin(cmd *cobra.Command, a *app.App, email, password string) error {
	if email == "" {
		email = promptLine("Email")
	}
	if email == "" {
		return fmt.Errorf("email is required (use --email flag or PATHFORGE_EMAIL env var)")
	}

	if password == "" {
		var err error
		password, err = readPassword("Password: ", "use --password flag or PATHFORGE_PASSWORD env var")
		if err != nil {
			return err
		}
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Logging in to %s...\n", a.Config().API.BaseURL)

	snap, err := a.Login(cmd.Context(), email, password)
	if err != nil {
		return fmt.Errorf("login failed: %w", err)
	}

	printSignedIn(out, snap.User.Name(), email)
	return nil
}

// runProviderLogin sends the user to the provider and completes the callback
// with the token the backend put in the redirect URL.
func runProviderLogin(cmd *cobra.Command, a *app.App, provider, token string) error {
	target, err := a.ProviderURL(strings.ToLower(provider))
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if token == "" {
		fmt.Fprintf(out, "Open this URL in your browser to continue:\n  %s\n", target)
		fmt.Fprintln(out, "When redirected, copy the token parameter from the address bar.")

		prompt := promptui.Prompt{Label: "Token", Mask: '*'}
		token, err = prompt.Run()
		if err != nil {
			return fmt.Errorf("login cancelled: %w", err)
		}
	}

	snap, err := a.CompleteOAuth(cmd.Context(), strings.TrimSpace(token))
	if err != nil {
		return fmt.Errorf("login failed: %w", err)
	}

	printSignedIn(out, snap.User.Name(), provider)
	return nil
}

// promptLoginMethod shows an interactive chooser between password and providers
func promptLoginMethod() (string, error) {
	type option struct {
		Label  string
		Method string
	}

	options := []option{{Label: "Email and password", Method: methodPassword}}
	for _, p := range app.Providers {
		options = append(options, option{Label: "Continue with " + strings.ToUpper(p[:1]) + p[1:], Method: p})
	}

	templates := &promptui.SelectTemplates{
		Label:    "{{ . }}",
		Active:   "> {{ .Label | cyan }}",
		Inactive: "  {{ .Label }}",
		Selected: "{{ .Label | green }}",
	}

	prompt := promptui.Select{
		Label:     "Sign in to Pathforge",
		Items:     options,
		Templates: templates,
	}

	index, _, err := prompt.Run()
	if err != nil {
		return "", fmt.Errorf("login cancelled: %w", err)
	}
	return options[index].Method, nil
}

func promptLine(label string) string {
	prompt := promptui.Prompt{Label: label}
	value, err := prompt.Run()
	if err != nil {
		return ""
	}
	return strings.TrimSpace(value)
}

func printSignedIn(out io.Writer, name, via string) {
	fmt.Fprintln(out, "✓ Login successful!")
	fmt.Fprintf(out, "  User: %s (%s)\n", name, via)
}
