package visit

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/evcraddock/street-kams/internal/geo"
)

// Draft field names accepted by Form.SetField besides the schema's survey fields.
const (
	FieldVisitType      = "visitType"
	FieldZone           = "zone"
	FieldBrandID        = "brandId"
	FieldRestaurantName = "restaurantName"
	FieldDecisionMaker  = "decisionMaker"
	FieldPhotoEvidence  = "photoEvidence"
	FieldDetails        = "details"
)

// Draft is the visit being filled in.
type Draft struct {
	VisitType      VisitType         `json:"visitType"`
	Zone           string            `json:"zone"`
	BrandID        string            `json:"brandId"`
	RestaurantName string            `json:"restaurantName"`
	DecisionMaker  string            `json:"decisionMaker"`
	PhotoEvidence  string            `json:"photoEvidence"`
	Survey         map[string]string `json:"survey"`
	Campaigns      []string          `json:"campaigns"`
	Details        string            `json:"details"`
}

// EmptyDraft returns the initial draft: an on-site visit with nothing filled in.
func EmptyDraft() Draft {
	return Draft{VisitType: OnSite, Survey: map[string]string{}}
}

func (d Draft) clone() Draft {
	c := d
	c.Survey = make(map[string]string, len(d.Survey))
	for k, v := range d.Survey {
		c.Survey[k] = v
	}
	c.Campaigns = append([]string(nil), d.Campaigns...)
	return c
}

// HasCampaign reports whether c is selected.
func (d Draft) HasCampaign(c string) bool {
	for _, v := range d.Campaigns {
		if v == c {
			return true
		}
	}
	return false
}

// Validate checks a draft and its location against the submission rules and
// returns a *ValidationError for the first unmet one.
func Validate(schema *Schema, d Draft, location *geo.Fact) error {
	var missing []string
	for _, f := range []struct{ name, value string }{
		{FieldZone, d.Zone},
		{FieldBrandID, d.BrandID},
		{FieldRestaurantName, d.RestaurantName},
		{FieldDecisionMaker, d.DecisionMaker},
		{FieldDetails, d.Details},
	} {
		if strings.TrimSpace(f.value) == "" {
			missing = append(missing, f.name)
		}
	}
	if len(missing) > 0 || !d.VisitType.IsValid() {
		return &ValidationError{Category: CategoryGeneral, Fields: missing}
	}

	switch d.VisitType {
	case OnSite:
		if location == nil {
			return &ValidationError{Category: CategoryCheckIn}
		}
	case Remote:
		if strings.TrimSpace(d.PhotoEvidence) == "" {
			return &ValidationError{Category: CategoryEvidence, Fields: []string{FieldPhotoEvidence}}
		}
	}

	if schema.HasCampaigns() && len(d.Campaigns) == 0 {
		return &ValidationError{Category: CategoryCampaigns}
	}

	missing = nil
	for _, f := range schema.Fields {
		v := strings.TrimSpace(d.Survey[f.Name])
		if v == "" {
			if f.Required {
				missing = append(missing, f.Label)
			}
			continue
		}
		if f.Check(v) != nil {
			missing = append(missing, f.Label)
		}
	}
	if len(missing) > 0 {
		return &ValidationError{Category: CategorySurvey, Fields: missing}
	}

	return nil
}

// State is a consistent copy of the form.
type State struct {
	Draft      Draft
	Location   *geo.Fact
	CheckingIn bool
	Submitting bool
	// Ready is derived from Draft and Location when the copy is taken.
	Ready bool
	// Unmet is the rule blocking submission, nil when Ready.
	Unmet error
}

// CanCheckIn reports whether the check-in control should be enabled.
func (s State) CanCheckIn() bool {
	return s.Draft.VisitType == OnSite && s.Location == nil && !s.CheckingIn && !s.Submitting
}

// CanSubmit reports whether the submit control should be enabled.
func (s State) CanSubmit() bool {
	return s.Ready && !s.Submitting && !s.CheckingIn
}

// Form holds one user's draft visit and check-in location. It is safe for
// concurrent use.
type Form struct {
	schema *Schema

	mu         sync.Mutex
	draft      Draft
	location   *geo.Fact
	checkingIn bool
	submitting bool
}

// NewForm creates an empty form for the given survey schema.
func NewForm(schema *Schema) *Form {
	return &Form{schema: schema, draft: EmptyDraft()}
}

// Schema returns the survey schema the form was created with.
func (f *Form) Schema() *Schema { return f.schema }

// SetField replaces the named field's value. Changing the visit type always
// clears the photo evidence, and switching to a remote visit drops any
// check-in location.
func (f *Form) SetField(name, value string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	switch name {
	case FieldVisitType:
		t := VisitType(value)
		if !t.IsValid() {
			return fmt.Errorf("%w: visit type %q", ErrInvalidValue, value)
		}
		f.draft.VisitType = t
		f.draft.PhotoEvidence = ""
		if t == Remote {
			f.location = nil
		}
	case FieldZone:
		if value != "" && !IsZone(value) {
			return fmt.Errorf("%w: zone %q", ErrInvalidValue, value)
		}
		f.draft.Zone = value
	case FieldBrandID:
		f.draft.BrandID = value
	case FieldRestaurantName:
		f.draft.RestaurantName = value
	case FieldDecisionMaker:
		f.draft.DecisionMaker = value
	case FieldPhotoEvidence:
		f.draft.PhotoEvidence = value
	case FieldDetails:
		f.draft.Details = value
	default:
		field, ok := f.schema.Field(name)
		if !ok {
			return fmt.Errorf("%w: %q", ErrUnknownField, name)
		}
		if value != "" {
			if err := field.Check(value); err != nil {
				return err
			}
		}
		if f.draft.Survey == nil {
			f.draft.Survey = map[string]string{}
		}
		f.draft.Survey[name] = value
	}
	return nil
}

// Toggle adds a campaign when absent and removes it when present. Adding a
// campaign beyond the cap returns ErrCampaignLimit and leaves the draft as is.
func (f *Form) Toggle(campaign string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if !f.schema.IsCampaign(campaign) {
		return fmt.Errorf("%w: campaign %q", ErrInvalidValue, campaign)
	}

	for i, c := range f.draft.Campaigns {
		if c == campaign {
			f.draft.Campaigns = append(f.draft.Campaigns[:i:i], f.draft.Campaigns[i+1:]...)
			return nil
		}
	}

	if len(f.draft.Campaigns) >= f.schema.MaxCampaigns {
		return ErrCampaignLimit
	}
	f.draft.Campaigns = append(f.draft.Campaigns, campaign)
	return nil
}

// Reset restores the empty draft and clears the location.
func (f *Form) Reset() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.draft = EmptyDraft()
	f.location = nil
}

// State returns a copy of the form with readiness computed from it.
func (f *Form) State() State {
	f.mu.Lock()
	defer f.mu.Unlock()

	s := State{
		Draft:      f.draft.clone(),
		CheckingIn: f.checkingIn,
		Submitting: f.submitting,
	}
	if f.location != nil {
		loc := *f.location
		s.Location = &loc
	}
	s.Unmet = Validate(f.schema, s.Draft, s.Location)
	s.Ready = s.Unmet == nil
	return s
}

// Ready reports whether the draft may be submitted.
func (f *Form) Ready() bool {
	return f.State().Ready
}

// BeginCheckIn marks a location request as running. It fails when one is
// already running, a location is already set, the visit is remote, or a
// submission is in flight.
func (f *Form) BeginCheckIn() error {
	f.mu.Lock()
	defer f.mu.Unlock()

	switch {
	case f.checkingIn:
		return ErrCheckInPending
	case f.submitting:
		return ErrSubmitInFlight
	case f.location != nil:
		return ErrAlreadyCheckedIn
	case f.draft.VisitType != OnSite:
		return ErrCheckInNotRequired
	}
	f.checkingIn = true
	return nil
}

// CompleteCheckIn stores the resolved location and ends the check-in. The
// fact is dropped if the visit became remote while it was being resolved.
func (f *Form) CompleteCheckIn(fact geo.Fact) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.checkingIn = false
	if f.draft.VisitType != OnSite {
		return
	}
	f.location = &fact
}

// CheckIn runs a full check-in: it claims the check-in slot, resolves one
// location from source and stores it.
func (f *Form) CheckIn(ctx context.Context, resolver *geo.Resolver, source geo.PositionSource) (geo.Result, error) {
	if err := f.BeginCheckIn(); err != nil {
		return geo.Result{}, err
	}
	res := resolver.Resolve(ctx, source)
	f.CompleteCheckIn(res.Fact)
	return res, nil
}

// BeginSubmit sets the in-flight flag, or returns ErrSubmitInFlight.
func (f *Form) BeginSubmit() error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.submitting {
		return ErrSubmitInFlight
	}
	f.submitting = true
	return nil
}

// EndSubmit clears the in-flight flag.
func (f *Form) EndSubmit() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.submitting = false
}

// FormFromDraft builds a form by applying every field of d in order, the
// way an interactive client would. location is kept only for on-site visits.
func FormFromDraft(schema *Schema, d Draft, location *geo.Fact) (*Form, error) {
	f := NewForm(schema)
	if d.VisitType == "" {
		d.VisitType = OnSite
	}

	fields := []struct{ name, value string }{
		{FieldVisitType, string(d.VisitType)},
		{FieldZone, d.Zone},
		{FieldBrandID, d.BrandID},
		{FieldRestaurantName, d.RestaurantName},
		{FieldDecisionMaker, d.DecisionMaker},
		{FieldPhotoEvidence, d.PhotoEvidence},
		{FieldDetails, d.Details},
	}
	for _, fv := range fields {
		if err := f.SetField(fv.name, fv.value); err != nil {
			return nil, err
		}
	}
	for name, value := range d.Survey {
		if err := f.SetField(name, value); err != nil {
			return nil, err
		}
	}
	for _, c := range d.Campaigns {
		if err := f.Toggle(c); err != nil {
			return nil, err
		}
	}

	if location != nil && d.VisitType == OnSite {
		if err := geo.ValidateCoordinates(location.Lat, location.Lon); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidValue, err)
		}
		if err := f.BeginCheckIn(); err != nil {
			return nil, err
		}
		f.CompleteCheckIn(*location)
	}
	return f, nil
}
