package cli

import (
	"bufio"
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

// NewLoginCmd creates the "login" subcommand.
func NewLoginCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "login",
		Short: "Authenticate against the storefront backend",
		Args:  cobra.NoArgs,
		RunE:  runLogin,
	}

	cmd.Flags().StringP("email", "e", "", "Account email")
	cmd.Flags().StringP("password", "p", "", "Account password (omit to read from stdin)")
	cmd.Flags().Bool("remember", true, "Persist the session across restarts")

	return cmd
}

func runLogin(cmd *cobra.Command, _ []string) error {
	email, _ := cmd.Flags().GetString("email")
	password, _ := cmd.Flags().GetString("password")
	remember, _ := cmd.Flags().GetBool("remember")

	if email == "" {
		return exitError(exitUsage, "--email is required")
	}
	if password == "" {
		var err error
		password, err = readLine(cmd, "Password: ")
		if err != nil {
			return exitError(exitUsage, "reading password: %v", err)
		}
	}
	if password == "" {
		return exitError(exitUsage, "password is required")
	}

	client, _, err := buildClient(cmd)
	if err != nil {
		return err
	}
	defer client.Close()

	if err := client.Login(cmd.Context(), email, password, remember); err != nil {
		return classifyExit(err)
	}

	user, _ := client.CurrentUser()
	name := user.Name
	if name == "" {
		name = user.Email
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Signed in as %s\n", name)
	return nil
}

// NewLogoutCmd creates the "logout" subcommand.
func NewLogoutCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Clear the local session",
		Args:  cobra.NoArgs,
		RunE:  runLogout,
	}
}

func runLogout(cmd *cobra.Command, _ []string) error {
	client, _, err := buildClient(cmd)
	if err != nil {
		return err
	}
	defer client.Close()

	// Local state clears even when the server notification fails.
	client.Logout(cmd.Context())
	fmt.Fprintln(cmd.OutOrStdout(), "Signed out")
	return nil
}

// NewWhoamiCmd creates the "whoami" subcommand.
func NewWhoamiCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "whoami",
		Short: "Show the authenticated identity",
		Args:  cobra.NoArgs,
		RunE:  runWhoami,
	}
}

func runWhoami(cmd *cobra.Command, _ []string) error {
	client, _, err := buildClient(cmd)
	if err != nil {
		return err
	}
	defer client.Close()

	if err := client.CheckAuth(cmd.Context()); err != nil {
		return classifyExit(err)
	}

	user, ok := client.CurrentUser()
	if !ok {
		return exitError(exitAuth, "not signed in; run `trellis login` first")
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "ID:    %d\n", user.ID)
	fmt.Fprintf(out, "Name:  %s\n", user.Name)
	fmt.Fprintf(out, "Email: %s\n", user.Email)
	return nil
}

func readLine(cmd *cobra.Command, prompt string) (string, error) {
	fmt.Fprint(cmd.ErrOrStderr(), prompt)
	reader := bufio.NewReader(cmd.InOrStdin())
	line, err := reader.ReadString('\n')
	if err != nil && line == "" {
		return "", err
	}
	return strings.TrimRight(line, "\r\n"), nil
}
