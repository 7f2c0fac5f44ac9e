package visit

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrSignInRequired means a submission was attempted without an identity.
	ErrSignInRequired = errors.New("you must sign in to record visits")
	// ErrSubmitInFlight means a previous submission has not finished.
	ErrSubmitInFlight = errors.New("a submission is already in progress")
	// ErrCampaignLimit means a toggle would exceed the campaign cap.
	ErrCampaignLimit = errors.New("you can select at most 2 campaigns")
	// ErrUnknownField means a field name is not part of the form.
	ErrUnknownField = errors.New("unknown field")
	// ErrInvalidValue means a value is not allowed for its field.
	ErrInvalidValue = errors.New("invalid value")
	// ErrCheckInPending means a location request is already running.
	ErrCheckInPending = errors.New("check-in already in progress")
	// ErrAlreadyCheckedIn means the form already holds a location.
	ErrAlreadyCheckedIn = errors.New("location already registered")
	// ErrCheckInNotRequired means the visit type takes no check-in.
	ErrCheckInNotRequired = errors.New("remote visits do not take a check-in")
)

// Category names which submission rule was unmet.
type Category string

const (
	CategoryGeneral   Category = "general"
	CategoryCheckIn   Category = "check-in"
	CategoryEvidence  Category = "evidence"
	CategoryCampaigns Category = "campaigns"
	CategorySurvey    Category = "survey"
)

// ValidationError reports the first unmet submission rule.
type ValidationError struct {
	Category Category
	Fields   []string
}

func (e *ValidationError) Error() string {
	switch e.Category {
	case CategoryGeneral:
		return "complete the required fields (general info, restaurant and details)"
	case CategoryCheckIn:
		return "on-site visits require a location check-in"
	case CategoryEvidence:
		return "remote visits require photo evidence (file name or URL)"
	case CategoryCampaigns:
		return "select at least one campaign"
	case CategorySurvey:
		return "complete the survey fields: " + strings.Join(e.Fields, ", ")
	default:
		return "invalid visit"
	}
}

// PersistenceError wraps a store failure during submission.
type PersistenceError struct {
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("saving visit: %v", e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }
