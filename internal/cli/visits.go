package cli

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/evcraddock/street-kams/internal/client"
	"github.com/evcraddock/street-kams/internal/session"
	"github.com/evcraddock/street-kams/internal/visit"
)

func newVisitsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "visits",
		Short: "List your recorded visits",
		Long:  "Shows every visit recorded by the signed-in account, newest first.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runListVisits(cmd, (*client.Client).ListVisits, false)
		},
	}
}

func newAdminCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "admin",
		Short: "List every KAM's visits",
		Long:  "Shows the visits of every account. Only accounts listed in KAMS_ADMIN_EMAILS may use it.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runListVisits(cmd, (*client.Client).AdminVisits, true)
		},
	}
}

func runListVisits(cmd *cobra.Command, list func(*client.Client, context.Context) ([]*visit.Visit, error), withOwner bool) error {
	api, err := signedInClient(cmd.Context())
	if err != nil {
		return err
	}

	visits, err := list(api, cmd.Context())
	if err != nil {
		return err
	}

	if isJSON() {
		if visits == nil {
			visits = []*visit.Visit{}
		}
		return printJSON(cmd.OutOrStdout(), visits)
	}
	return printVisitTable(cmd.OutOrStdout(), visits, withOwner)
}

func newFieldsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "fields",
		Short: "List the survey fields the server records",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			schema, err := newAPIClient().Schema(cmd.Context())
			if err != nil {
				return err
			}
			if isJSON() {
				return printJSON(cmd.OutOrStdout(), schema)
			}
			printSchema(cmd, schema)
			return nil
		},
	}
}

func printSchema(cmd *cobra.Command, schema *visit.Schema) {
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "%s (%s)\n", schema.Title, schema.Name)
	for _, b := range schema.Blocks() {
		fmt.Fprintf(out, "\n%s\n", b.Title)
		for _, f := range b.Fields {
			values := f.Kind.String()
			if len(f.Options) > 0 {
				values = strings.Join(f.Options, " | ")
			}
			req := ""
			if f.Required {
				req = " (required)"
			}
			fmt.Fprintf(out, "  %-26s %s%s\n", f.Name, values, req)
		}
	}
	if schema.HasCampaigns() {
		fmt.Fprintf(out, "\nCampaigns (pick 1 to %d with --campaign)\n  %s\n", schema.MaxCampaigns, strings.Join(schema.Campaigns, " | "))
	}
}

var errNotSignedIn = errors.New("not signed in (run 'kams login')")

// signedInClient restores the stored key and returns a client for it.
func signedInClient(ctx context.Context) (*client.Client, error) {
	ctl := newController()
	if _, err := ctl.Restore(ctx); err != nil {
		return nil, err
	}
	if ctl.State() != session.SignedIn {
		return nil, errNotSignedIn
	}
	return ctl.Client(), nil
}
