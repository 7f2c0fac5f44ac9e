package cli

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/evcraddock/street-kams/internal/session"
)

const statusTimeout = 5 * time.Second

func newStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Check connection and sign-in status",
		Long:  "Tests the connection to the server and checks whether the stored API key is still valid.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStatus(cmd)
		},
	}
}

func runStatus(cmd *cobra.Command) error {
	out := cmd.OutOrStdout()
	serverURL := getServerURL()
	apiKey := getAPIKey()

	fmt.Fprintf(out, "Server:  %s\n", serverURL)

	if apiKey == "" {
		fmt.Fprintln(out, "API Key: not configured")
		fmt.Fprintln(out, "\nRun 'kams login' to sign in.")
		return nil
	}

	prefix := apiKey
	if len(prefix) > 11 {
		prefix = prefix[:11]
	}
	fmt.Fprintf(out, "API Key: %s…\n", prefix)

	ctx, cancel := context.WithTimeout(cmd.Context(), statusTimeout)
	defer cancel()

	ctl := newController()
	state, err := ctl.Restore(ctx)
	switch {
	case err != nil:
		fmt.Fprintf(out, "Status:  ✗ cannot reach server (%v)\n", err)
	case state == session.SignedIn:
		me := ctl.Identity()
		role := "KAM"
		if me.Admin {
			role = "admin"
		}
		fmt.Fprintf(out, "Status:  ✓ signed in as %s (%s)\n", me.Email, role)
	default:
		fmt.Fprintln(out, "Status:  ✗ API key is no longer valid")
		fmt.Fprintln(out, "\nRun 'kams login' to sign in again.")
	}

	return nil
}
