package cli

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/evcraddock/street-kams/internal/client"
	"github.com/evcraddock/street-kams/internal/geo"
	"github.com/evcraddock/street-kams/internal/session"
	"github.com/evcraddock/street-kams/internal/visit"
)

type submitFlags struct {
	visitType     string
	zone          string
	brandID       string
	restaurant    string
	decisionMaker string
	evidence      string
	details       string
	answers       []string
	campaigns     []string
	lat, lon      float64
}

func newSubmitCmd() *cobra.Command {
	var f submitFlags

	cmd := &cobra.Command{
		Use:   "submit",
		Short: "Record a visit",
		Long: `Records a visit from flags. On-site visits are checked in with --lat/--lon;
without them a simulated location is used and a warning is printed.

Survey answers are given as --answer name=value, one per field. Run
'kams fields' to list the fields the server expects.`,
		Example: `  kams submit --zone Suba --brand B-10 --restaurant "La Esquina" \
    --decision-maker "Ana" --details "Menu review" --lat 4.65 --lon -74.1 \
    --answer catalogPhotos=Ok --answer priceParity=98 ...`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			draft, err := f.draft()
			if err != nil {
				return err
			}
			var source geo.PositionSource
			if cmd.Flags().Changed("lat") || cmd.Flags().Changed("lon") {
				if !cmd.Flags().Changed("lat") || !cmd.Flags().Changed("lon") {
					return errors.New("--lat and --lon must be given together")
				}
				source = geo.Fixed{Lat: f.lat, Lon: f.lon}
			}
			return runSubmit(cmd, draft, source)
		},
	}

	cmd.Flags().StringVar(&f.visitType, "type", string(visit.OnSite), "visit type: Presencial (on-site) or Virtual (remote)")
	cmd.Flags().StringVar(&f.zone, "zone", "", "operating zone ("+strings.Join(visit.Zones, ", ")+")")
	cmd.Flags().StringVar(&f.brandID, "brand", "", "brand ID")
	cmd.Flags().StringVar(&f.restaurant, "restaurant", "", "restaurant name")
	cmd.Flags().StringVar(&f.decisionMaker, "decision-maker", "", "person met")
	cmd.Flags().StringVar(&f.evidence, "evidence", "", "photo evidence file name or URL (remote visits)")
	cmd.Flags().StringVar(&f.details, "details", "", "visit details")
	cmd.Flags().StringArrayVar(&f.answers, "answer", nil, "survey answer as name=value (repeatable)")
	cmd.Flags().StringArrayVar(&f.campaigns, "campaign", nil, "campaign to select (repeatable)")
	cmd.Flags().Float64Var(&f.lat, "lat", 0, "check-in latitude")
	cmd.Flags().Float64Var(&f.lon, "lon", 0, "check-in longitude")

	return cmd
}

// draft builds a visit draft from the flags.
func (f submitFlags) draft() (visit.Draft, error) {
	d := visit.EmptyDraft()
	t, err := parseVisitType(f.visitType)
	if err != nil {
		return d, err
	}
	d.VisitType = t
	d.Zone = f.zone
	d.BrandID = f.brandID
	d.RestaurantName = f.restaurant
	d.DecisionMaker = f.decisionMaker
	d.PhotoEvidence = f.evidence
	d.Details = f.details
	d.Campaigns = f.campaigns

	for _, a := range f.answers {
		name, value, ok := strings.Cut(a, "=")
		if !ok || strings.TrimSpace(name) == "" {
			return d, fmt.Errorf("invalid --answer %q (want name=value)", a)
		}
		d.Survey[strings.TrimSpace(name)] = strings.TrimSpace(value)
	}
	return d, nil
}

// parseVisitType accepts the stored values and their English labels.
func parseVisitType(s string) (visit.VisitType, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "presencial", "on-site", "onsite":
		return visit.OnSite, nil
	case "virtual", "remote":
		return visit.Remote, nil
	}
	return "", fmt.Errorf("invalid visit type %q (want Presencial or Virtual)", s)
}

func runSubmit(cmd *cobra.Command, draft visit.Draft, source geo.PositionSource) error {
	out := cmd.OutOrStdout()

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

	form, err := visit.FormFromDraft(schema, draft, nil)
	if err != nil {
		return err
	}

	if draft.VisitType == visit.OnSite {
		res, err := form.CheckIn(ctx, geo.NewResolver(), source)
		if err != nil {
			return err
		}
		if res.Warning != "" {
			fmt.Fprintf(cmd.ErrOrStderr(), "warning: %s\n", res.Warning)
		}
		fmt.Fprintf(out, "Location registered: %s\n", res.Fact)
	}

	v, err := submitForm(ctx, api, form)
	if err != nil {
		return err
	}

	if isJSON() {
		return printJSON(out, v)
	}
	fmt.Fprintln(out, "✓ Visit recorded.")
	printVisitSummary(out, v)
	return nil
}

// submitForm checks the form locally and sends it. Rule violations name
// their category so scripts can tell them apart.
func submitForm(ctx context.Context, api *client.Client, form *visit.Form) (*visit.Visit, error) {
	state := form.State()
	if state.Unmet != nil {
		return nil, describeRejection(state.Unmet)
	}
	if err := form.BeginSubmit(); err != nil {
		return nil, err
	}
	defer form.EndSubmit()

	v, err := api.SubmitVisit(ctx, client.SubmitRequest{Draft: state.Draft, Location: state.Location})
	if err != nil {
		return nil, describeRejection(err)
	}
	return v, nil
}

func describeRejection(err error) error {
	var verr *visit.ValidationError
	if errors.As(err, &verr) {
		return fmt.Errorf("visit not recorded [%s]: %w", verr.Category, err)
	}
	return err
}
