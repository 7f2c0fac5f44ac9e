package cli

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/evcraddock/street-kams/internal/auth"
)

func newLoginCmd() *cobra.Command {
	var server, email, password, keyName string

	cmd := &cobra.Command{
		Use:   "login",
		Short: "Sign in and store an API key",
		Long:  "Signs in with email and password and stores a new API key in ~/.config/kams/config.yaml.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runLogin(cmd, server, email, password, keyName)
		},
	}

	cmd.Flags().StringVar(&server, "server", "", "server URL (default: from config or http://localhost:8080)")
	cmd.Flags().StringVar(&email, "email", "", "account email (prompted when omitted)")
	cmd.Flags().StringVar(&password, "password", "", "password (prompted when omitted)")
	cmd.Flags().StringVar(&keyName, "key-name", "", "label for the issued API key")

	return cmd
}

func runLogin(cmd *cobra.Command, serverFlag, email, password, keyName string) error {
	out := cmd.OutOrStdout()
	in := bufio.NewReader(cmd.InOrStdin())

	if serverFlag != "" {
		cfg, err := loadConfig()
		if err != nil {
			cfg = CLIConfig{}
		}
		cfg.ServerURL = strings.TrimRight(serverFlag, "/")
		if err := saveConfig(cfg); err != nil {
			return fmt.Errorf("saving config: %w", err)
		}
	}

	if email == "" {
		fmt.Fprint(out, "Email: ")
		line, err := in.ReadString('\n')
		if err != nil && !(errors.Is(err, io.EOF) && line != "") {
			return fmt.Errorf("reading input: %w", err)
		}
		email = strings.TrimSpace(line)
	}
	if password == "" {
		var err error
		password, err = promptPassword(cmd.InOrStdin(), in, out)
		if err != nil {
			return err
		}
	}
	if err := validateCredentials(email, password); err != nil {
		return err
	}

	me, err := newController().SignIn(cmd.Context(), email, password, keyName)
	if errors.Is(err, auth.ErrInvalidCredentials) {
		return errors.New("invalid email or password")
	}
	if err != nil {
		return err
	}

	fmt.Fprintf(out, "✓ Signed in as %s. API key saved.\n", me.Email)
	return nil
}

// validateCredentials rejects input that cannot possibly sign in.
func validateCredentials(email, password string) error {
	if strings.TrimSpace(email) == "" {
		return errors.New("no email provided")
	}
	if !strings.Contains(email, "@") {
		return fmt.Errorf("invalid email %q", email)
	}
	if password == "" {
		return errors.New("no password provided")
	}
	return nil
}
