// Package visit provides the KAM field-visit domain model, the draft form
// state container, the submission pipeline and data access.
package visit

import (
	"fmt"
	"time"
)

// VisitType represents how a restaurant was visited.
type VisitType string

const (
	OnSite VisitType = "Presencial"
	Remote VisitType = "Virtual"
)

// ValidTypes is the set of allowed visit types.
var ValidTypes = []VisitType{OnSite, Remote}

// IsValid checks if a visit type is recognized.
func (t VisitType) IsValid() bool {
	for _, v := range ValidTypes {
		if t == v {
			return true
		}
	}
	return false
}

// Label returns a human-readable label for the visit type.
func (t VisitType) Label() string {
	switch t {
	case OnSite:
		return "On-site"
	case Remote:
		return "Remote"
	default:
		return string(t)
	}
}

// Zones is the fixed set of operating areas.
var Zones = []string{"Kennedy", "Antonio Nariño", "Suba", "Engativá", "Fontibon"}

// IsZone checks if z is one of Zones.
func IsZone(z string) bool {
	for _, v := range Zones {
		if v == z {
			return true
		}
	}
	return false
}

// NotApplicable is written wherever a value does not apply to a visit.
const NotApplicable = "N/A"

// CollectionName is the per-owner visit collection.
const CollectionName = "kams_visits"

// CollectionPath returns the owner-scoped path visits are recorded under.
func CollectionPath(appID, ownerID string) string {
	return fmt.Sprintf("artifacts/%s/users/%s/%s", appID, ownerID, CollectionName)
}

// Owner is the identity a visit is recorded for.
type Owner struct {
	ID    string `json:"id"`
	Label string `json:"label"` // usually the email
}

// Visit is a stored field visit. It is never modified after creation.
type Visit struct {
	ID                string            `json:"id"`
	OwnerID           string            `json:"owner_id"`
	OwnerLabel        string            `json:"owner_label"`
	OwnerPath         string            `json:"owner_path,omitempty"`
	Schema            string            `json:"schema"`
	VisitType         VisitType         `json:"visit_type"`
	Zone              string            `json:"zone"`
	BrandID           string            `json:"brand_id"`
	RestaurantName    string            `json:"restaurant_name"`
	DecisionMaker     string            `json:"decision_maker"`
	PhotoEvidence     string            `json:"photo_evidence"`
	Latitude          *float64          `json:"latitude"` // nil means not applicable
	Longitude         *float64          `json:"longitude"`
	LocationSimulated bool              `json:"location_simulated"`
	CheckedInAt       *time.Time        `json:"checked_in_at,omitempty"`
	Survey            map[string]string `json:"survey"`
	Campaigns         []string          `json:"campaigns,omitempty"`
	Details           string            `json:"details"`
	RecordedAt        *time.Time        `json:"recorded_at"` // assigned by the store
}

// HasLocation reports whether the visit carries check-in coordinates.
func (v *Visit) HasLocation() bool {
	return v.Latitude != nil && v.Longitude != nil
}

// Answer returns a survey answer, or "" when unanswered.
func (v *Visit) Answer(field string) string {
	if v.Survey == nil {
		return ""
	}
	return v.Survey[field]
}
