package pgstore

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/evcraddock/street-kams/internal/visit"
)

// testStore connects to KAMS_TEST_DATABASE_URL, skipping when it is unset.
func testStore(t *testing.T) *Store {
	t.Helper()
	dsn := os.Getenv("KAMS_TEST_DATABASE_URL")
	if dsn == "" {
		t.Skip("KAMS_TEST_DATABASE_URL not set")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	s, err := Open(ctx, dsn)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(s.Close)
	return s
}

func TestCreateAndList(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()
	owner := "test-" + uuid.NewString()

	lat, lon := 4.629199, -74.15403
	in := &visit.Visit{
		OwnerID:           owner,
		OwnerLabel:        "kam@example.com",
		OwnerPath:         visit.CollectionPath("street-kams-v2", owner),
		Schema:            "campaigns",
		VisitType:         visit.OnSite,
		Zone:              "Engativá",
		BrandID:           "42",
		RestaurantName:    "Arepas",
		DecisionMaker:     "Luisa",
		Latitude:          &lat,
		Longitude:         &lon,
		LocationSimulated: true,
		Survey:            map[string]string{"outcome": "Seguimiento"},
		Campaigns:         []string{"Ads"},
		Details:           "needs photos",
	}

	created, err := s.Create(ctx, in)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if created.ID == "" || created.RecordedAt == nil {
		t.Fatalf("expected ID and RecordedAt, got %+v", created)
	}
	if !created.LocationSimulated || *created.Latitude != lat {
		t.Errorf("location = %v simulated=%v", created.Latitude, created.LocationSimulated)
	}

	visits, err := s.ListByOwner(ctx, owner)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(visits) != 1 || visits[0].ID != created.ID {
		t.Fatalf("got %d visits", len(visits))
	}
	if visits[0].Answer("outcome") != "Seguimiento" || len(visits[0].Campaigns) != 1 {
		t.Errorf("survey = %+v campaigns = %v", visits[0].Survey, visits[0].Campaigns)
	}
}

var _ visit.Store = (*Store)(nil)
