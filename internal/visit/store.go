package visit

import (
	"context"
	"sort"
)

// Store persists visits. Every write is a fresh create.
type Store interface {
	// Create stores v, assigning its ID and RecordedAt.
	Create(ctx context.Context, v *Visit) (*Visit, error)
	// ListByOwner returns one owner's visits.
	ListByOwner(ctx context.Context, ownerID string) ([]*Visit, error)
	// ListAll returns every owner's visits.
	ListAll(ctx context.Context) ([]*Visit, error)
}

// Notifier is told when a visit has been stored.
type Notifier interface {
	VisitCreated(ownerID string)
}

// SortByRecordedDesc orders visits newest first. Visits whose RecordedAt is
// not yet known sort as the earliest. Equal times are ordered by ID.
func SortByRecordedDesc(visits []*Visit) {
	sort.SliceStable(visits, func(i, j int) bool {
		a, b := visits[i].RecordedAt, visits[j].RecordedAt
		switch {
		case a == nil && b == nil:
		case a == nil:
			return false
		case b == nil:
			return true
		case !a.Equal(*b):
			return a.After(*b)
		}
		return visits[i].ID < visits[j].ID
	})
}
