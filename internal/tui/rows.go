package tui

import (
	"github.com/evcraddock/street-kams/internal/visit"
)

type rowKind int

const (
	rowText rowKind = iota
	rowChoice
	rowCampaign
)

// row is one editable line of the terminal form.
type row struct {
	name    string // field name passed to visit.Form.SetField
	label   string
	block   string
	kind    rowKind
	options []string
}

var visitTypeOptions = []string{string(visit.OnSite), string(visit.Remote)}

// buildRows lays out the form for the draft's current visit type. Photo
// evidence only appears for remote visits.
func buildRows(schema *visit.Schema, d visit.Draft) []row {
	const general = "General"
	rows := []row{
		{name: visit.FieldVisitType, label: "Visit type", block: general, kind: rowChoice, options: visitTypeOptions},
		{name: visit.FieldZone, label: "Zone", block: general, kind: rowChoice, options: visit.Zones},
		{name: visit.FieldBrandID, label: "Brand ID", block: "Restaurant", kind: rowText},
		{name: visit.FieldRestaurantName, label: "Restaurant", block: "Restaurant", kind: rowText},
		{name: visit.FieldDecisionMaker, label: "Decision maker", block: "Restaurant", kind: rowText},
	}
	if d.VisitType == visit.Remote {
		rows = append(rows, row{name: visit.FieldPhotoEvidence, label: "Photo evidence", block: "Restaurant", kind: rowText})
	}

	for _, f := range schema.Fields {
		r := row{name: f.Name, label: f.Label, block: f.Block, kind: rowText}
		if f.Kind == visit.Choice {
			r.kind = rowChoice
			r.options = f.Options
		}
		rows = append(rows, r)
	}

	for _, c := range schema.Campaigns {
		rows = append(rows, row{name: c, label: c, block: schema.CampaignsColumn, kind: rowCampaign})
	}

	return append(rows, row{name: visit.FieldDetails, label: "Details", block: "Details", kind: rowText})
}

// value reads the row's current value from the draft.
func (r row) value(d visit.Draft) string {
	switch r.name {
	case visit.FieldVisitType:
		return string(d.VisitType)
	case visit.FieldZone:
		return d.Zone
	case visit.FieldBrandID:
		return d.BrandID
	case visit.FieldRestaurantName:
		return d.RestaurantName
	case visit.FieldDecisionMaker:
		return d.DecisionMaker
	case visit.FieldPhotoEvidence:
		return d.PhotoEvidence
	case visit.FieldDetails:
		return d.Details
	}
	if r.kind == rowCampaign {
		if d.HasCampaign(r.name) {
			return "[x]"
		}
		return "[ ]"
	}
	return d.Survey[r.name]
}

// cycle returns the option step positions away from current, wrapping.
func (r row) cycle(current string, step int) string {
	n := len(r.options)
	if n == 0 {
		return current
	}
	idx := -1
	for i, o := range r.options {
		if o == current {
			idx = i
			break
		}
	}
	if idx < 0 {
		if step < 0 {
			return r.options[n-1]
		}
		return r.options[0]
	}
	return r.options[((idx+step)%n+n)%n]
}
