package visit

import (
	"context"
	"errors"
	"log/slog"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/evcraddock/street-kams/internal/telemetry"
)

// Submitter validates a form, stores it as a visit and resets it.
type Submitter struct {
	store    Store
	notifier Notifier
	appID    string
}

// NewSubmitter creates a submitter. notifier may be nil.
func NewSubmitter(store Store, notifier Notifier, appID string) *Submitter {
	return &Submitter{store: store, notifier: notifier, appID: appID}
}

// Submit stores the form's draft for owner. It returns ErrSubmitInFlight when
// another submission on the same form has not finished, a *ValidationError
// when a rule is unmet, ErrSignInRequired when owner is nil, and a
// *PersistenceError when the store rejects the write. Only a successful write
// resets the form.
func (s *Submitter) Submit(ctx context.Context, form *Form, owner *Owner) (*Visit, error) {
	if err := form.BeginSubmit(); err != nil {
		return nil, err
	}
	defer form.EndSubmit()

	ctx, span := telemetry.Tracer("visit").Start(ctx, "visit.Submit")
	defer span.End()

	state := form.State()
	if state.Unmet != nil {
		span.SetStatus(codes.Error, "validation")
		return nil, state.Unmet
	}
	if owner == nil || owner.ID == "" {
		return nil, ErrSignInRequired
	}

	v := Build(form.Schema(), state, *owner)
	v.OwnerPath = CollectionPath(s.appID, owner.ID)
	span.SetAttributes(
		attribute.String("visit.type", string(v.VisitType)),
		attribute.String("visit.zone", v.Zone),
		attribute.Bool("visit.location_simulated", v.LocationSimulated),
	)

	stored, err := s.store.Create(ctx, v)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "persist")
		slog.ErrorContext(ctx, "saving visit", "owner", owner.ID, "error", err)
		return nil, &PersistenceError{Err: err}
	}

	form.Reset()
	if s.notifier != nil {
		s.notifier.VisitCreated(owner.ID)
	}
	slog.InfoContext(ctx, "visit recorded", "id", stored.ID, "owner", owner.ID, "type", stored.VisitType)
	return stored, nil
}

// Build flattens a validated form state into a visit for owner. Visits
// without a check-in carry nil coordinates and LocationSimulated false.
func Build(schema *Schema, state State, owner Owner) *Visit {
	d := state.Draft
	label := owner.Label
	if label == "" {
		label = NotApplicable
	}

	v := &Visit{
		OwnerID:        owner.ID,
		OwnerLabel:     label,
		Schema:         schema.Name,
		VisitType:      d.VisitType,
		Zone:           d.Zone,
		BrandID:        d.BrandID,
		RestaurantName: d.RestaurantName,
		DecisionMaker:  d.DecisionMaker,
		PhotoEvidence:  d.PhotoEvidence,
		Survey:         d.Survey,
		Campaigns:      d.Campaigns,
		Details:        d.Details,
	}
	if loc := state.Location; loc != nil {
		lat, lon, at := loc.Lat, loc.Lon, loc.CapturedAt
		v.Latitude, v.Longitude = &lat, &lon
		v.LocationSimulated = loc.Simulated
		v.CheckedInAt = &at
	}
	return v
}

// IsValidation reports whether err is a *ValidationError.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}
