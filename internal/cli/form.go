package cli

import (
	"errors"
	"fmt"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"

	"github.com/evcraddock/street-kams/internal/geo"
	"github.com/evcraddock/street-kams/internal/session"
	"github.com/evcraddock/street-kams/internal/tui"
)

func newFormCmd() *cobra.Command {
	var lat, lon float64

	cmd := &cobra.Command{
		Use:   "form",
		Short: "Fill in visits interactively",
		Long: `Opens the visit form in the terminal. The form stays open after each
submission so several visits can be recorded in a row.

Terminals have no geolocation: pass --lat/--lon to check in at a known
position, otherwise check-ins use the simulated location.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			var source geo.PositionSource
			if cmd.Flags().Changed("lat") && cmd.Flags().Changed("lon") {
				source = geo.Fixed{Lat: lat, Lon: lon}
			}
			return runForm(cmd, source)
		},
	}

	cmd.Flags().Float64Var(&lat, "lat", 0, "check-in latitude")
	cmd.Flags().Float64Var(&lon, "lon", 0, "check-in longitude")

	return cmd
}

func runForm(cmd *cobra.Command, source geo.PositionSource) error {
	ctl := newController()
	if _, err := ctl.Restore(cmd.Context()); err != nil {
		return err
	}
	if ctl.State() != session.SignedIn {
		return errNotSignedIn
	}

	ctx, cancel := ctl.Scope(cmd.Context())
	defer cancel()

	api := ctl.Client()
	schema, err := api.Schema(ctx)
	if err != nil {
		return fmt.Errorf("loading survey schema: %w", err)
	}

	err = tui.Run(ctx, tui.Options{
		Schema:   schema,
		API:      api,
		Source:   source,
		Resolver: geo.NewResolver(),
		Owner:    ctl.Identity().Email,
	})
	if errors.Is(err, tea.ErrProgramKilled) && ctx.Err() != nil {
		return errors.New("signed out while the form was open")
	}
	return err
}
