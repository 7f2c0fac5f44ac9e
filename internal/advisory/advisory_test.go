package advisory

import (
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/evcraddock/street-kams/internal/export"
	"github.com/evcraddock/street-kams/internal/geo"
	"github.com/evcraddock/street-kams/internal/visit"
)

func TestFromError(t *testing.T) {
	tests := []struct {
		name      string
		err       error
		kind      Kind
		message   string
		transient bool
	}{
		{"validation", &visit.ValidationError{Category: visit.CategoryCheckIn}, Error, "", false},
		{"persistence", &visit.PersistenceError{Err: errors.New("denied")}, Error, MsgPersistence, false},
		{"wrapped persistence", fmt.Errorf("submit: %w", &visit.PersistenceError{Err: errors.New("x")}), Error, MsgPersistence, false},
		{"campaign limit", visit.ErrCampaignLimit, Warning, "", true},
		{"nothing to export", export.ErrNothingToExport, Info, MsgNothingExport, true},
		{"sign in", visit.ErrSignInRequired, Error, MsgSignInFirst, false},
		{"in flight", visit.ErrSubmitInFlight, Info, MsgSubmitting, true},
		{"unsupported", geo.ErrUnsupported, Warning, "", false},
		{"other", errors.New("boom"), Error, "boom", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := FromError(tt.err)
			if a.Kind != tt.kind {
				t.Errorf("Kind = %q, want %q", a.Kind, tt.kind)
			}
			if tt.message != "" && a.Message != tt.message {
				t.Errorf("Message = %q, want %q", a.Message, tt.message)
			}
			if a.Message == "" {
				t.Error("empty message")
			}
			if a.Transient != tt.transient {
				t.Errorf("Transient = %v, want %v", a.Transient, tt.transient)
			}
		})
	}
}

func TestStandingPersistenceAdvisory(t *testing.T) {
	a := FromError(&visit.PersistenceError{Err: errors.New("x")})
	if a.TTLMillis() != 0 {
		t.Errorf("persistence advisory TTL = %d, want 0", a.TTLMillis())
	}
	if s := Submitted(); s.TTLMillis() != 3500 {
		t.Errorf("success TTL = %d, want 3500", s.TTLMillis())
	}
}

func TestSignedIn(t *testing.T) {
	a := SignedIn("kam@example.com")
	if a.Kind != Success || !a.Transient || !strings.Contains(a.Message, "kam@example.com") {
		t.Errorf("SignedIn = %+v", a)
	}
}

func TestSubmittedDoesNotClaimVisibility(t *testing.T) {
	msg := strings.ToLower(Submitted().Message)
	if strings.Contains(msg, "history") {
		t.Errorf("success message mentions history: %q", msg)
	}
}

func TestExported(t *testing.T) {
	ok := Exported(&export.Result{FileName: "f.csv", Rows: 3, Key: "artifacts/a/exports/u/f.csv"})
	if ok.Kind != Success || !strings.Contains(ok.Message, "artifacts/a/exports/u/f.csv") {
		t.Errorf("success advisory = %+v", ok)
	}

	partial := Exported(&export.Result{FileName: "f.csv", Rows: 3, UploadErr: &export.UploadError{Key: "k", Err: errors.New("x")}})
	if partial.Kind != Warning || !strings.Contains(partial.Message, "f.csv") {
		t.Errorf("partial advisory = %+v", partial)
	}
}

func TestCheckInAdvisory(t *testing.T) {
	sim := CheckIn(geo.Result{Fact: geo.Fact{Lat: geo.FallbackLat, Lon: geo.FallbackLon, Simulated: true}, Warning: "simulated"})
	if sim.Kind != Warning {
		t.Errorf("simulated check-in kind = %q", sim.Kind)
	}
	real := CheckIn(geo.Result{Fact: geo.Fact{Lat: 4.7, Lon: -74}})
	if real.Kind != Success || !real.Transient {
		t.Errorf("real check-in advisory = %+v", real)
	}
}

func TestBoard(t *testing.T) {
	b := NewBoard()
	if _, ok := b.Take("s"); ok {
		t.Fatal("empty board returned an advisory")
	}
	b.Post("s", Submitted())
	b.Post("s", SignedOut())
	a, ok := b.Take("s")
	if !ok || a.Message != MsgSignedOut {
		t.Errorf("Take = %+v, %v", a, ok)
	}
	if _, ok := b.Take("s"); ok {
		t.Error("advisory taken twice")
	}
	b.Post("t", Submitted())
	b.Drop("t")
	if _, ok := b.Take("t"); ok {
		t.Error("dropped advisory still present")
	}
}
