package tui

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/google/go-cmp/cmp"

	"github.com/evcraddock/street-kams/internal/advisory"
	"github.com/evcraddock/street-kams/internal/client"
	"github.com/evcraddock/street-kams/internal/geo"
	"github.com/evcraddock/street-kams/internal/visit"
)

type fakeAPI struct {
	mu   sync.Mutex
	reqs []client.SubmitRequest
	err  error
}

func (f *fakeAPI) SubmitVisit(ctx context.Context, req client.SubmitRequest) (*visit.Visit, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reqs = append(f.reqs, req)
	if f.err != nil {
		return nil, f.err
	}
	return &visit.Visit{ID: "v1", RestaurantName: req.Draft.RestaurantName}, nil
}

func newTestModel(t *testing.T, schema *visit.Schema, api Submitter, source geo.PositionSource) Model {
	t.Helper()
	resolver := geo.NewResolver()
	resolver.Now = func() time.Time { return time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC) }
	return New(Options{Schema: schema, API: api, Source: source, Resolver: resolver, Owner: "kam@example.com"})
}

func update(t *testing.T, m Model, msg tea.Msg) (Model, tea.Cmd) {
	t.Helper()
	next, cmd := m.Update(msg)
	nm, ok := next.(Model)
	if !ok {
		t.Fatalf("update returned %T", next)
	}
	return nm, cmd
}

func press(t *testing.T, m Model, keys ...string) Model {
	t.Helper()
	for _, k := range keys {
		var msg tea.KeyMsg
		switch k {
		case "enter":
			msg = tea.KeyMsg{Type: tea.KeyEnter}
		case "esc":
			msg = tea.KeyMsg{Type: tea.KeyEsc}
		case "down":
			msg = tea.KeyMsg{Type: tea.KeyDown}
		case "up":
			msg = tea.KeyMsg{Type: tea.KeyUp}
		case "right":
			msg = tea.KeyMsg{Type: tea.KeyRight}
		case "left":
			msg = tea.KeyMsg{Type: tea.KeyLeft}
		case "space":
			msg = tea.KeyMsg{Type: tea.KeySpace, Runes: []rune{' '}}
		case "ctrl+l":
			msg = tea.KeyMsg{Type: tea.KeyCtrlL}
		case "ctrl+s":
			msg = tea.KeyMsg{Type: tea.KeyCtrlS}
		case "ctrl+r":
			msg = tea.KeyMsg{Type: tea.KeyCtrlR}
		default:
			msg = tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune(k)}
		}
		m, _ = update(t, m, msg)
	}
	return m
}

// moveTo puts the cursor on the named row.
func moveTo(t *testing.T, m Model, name string) Model {
	t.Helper()
	for i, r := range m.rows {
		if r.name == name {
			m.cursor = i
			return m
		}
	}
	t.Fatalf("no row %q", name)
	return m
}

func fill(t *testing.T, m Model) Model {
	t.Helper()
	d := visit.Draft{
		VisitType:      visit.OnSite,
		Zone:           "Suba",
		BrandID:        "B-10",
		RestaurantName: "La Esquina",
		DecisionMaker:  "Ana",
		Details:        "Menu review",
		Survey:         map[string]string{},
	}
	for _, f := range m.form.Schema().Fields {
		switch f.Kind {
		case visit.Choice:
			d.Survey[f.Name] = f.Options[0]
		case visit.Number:
			d.Survey[f.Name] = "98"
		}
	}
	form, err := visit.FormFromDraft(m.form.Schema(), d, nil)
	if err != nil {
		t.Fatalf("form from draft: %v", err)
	}
	m.form = form
	m.relayout()
	return m
}

func TestTextFieldEdit(t *testing.T) {
	m := newTestModel(t, visit.BlocksSchema, &fakeAPI{}, nil)
	m = moveTo(t, m, visit.FieldRestaurantName)

	m = press(t, m, "enter")
	if !m.editing {
		t.Fatal("enter should start editing a text row")
	}
	m = press(t, m, "La", " ", "Esquina", "enter")
	if m.editing {
		t.Error("enter should commit the edit")
	}
	if got := m.form.State().Draft.RestaurantName; got != "La Esquina" {
		t.Errorf("restaurant = %q, want La Esquina", got)
	}

	m = press(t, m, "enter", "XYZ", "esc")
	if got := m.form.State().Draft.RestaurantName; got != "La Esquina" {
		t.Errorf("esc should discard the edit, got %q", got)
	}
}

func TestQuitKeyIsTextWhileEditing(t *testing.T) {
	m := newTestModel(t, visit.BlocksSchema, &fakeAPI{}, nil)
	m = moveTo(t, m, visit.FieldBrandID)

	m = press(t, m, "enter", "q", "enter")
	if m.quitting {
		t.Fatal("q quit while editing")
	}
	if got := m.form.State().Draft.BrandID; got != "q" {
		t.Errorf("brand = %q, want q", got)
	}

	_, cmd := update(t, m, tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("q")})
	if cmd == nil {
		t.Fatal("q should quit outside editing")
	}
	if _, ok := cmd().(tea.QuitMsg); !ok {
		t.Error("expected tea.Quit")
	}
}

func TestChoiceCycling(t *testing.T) {
	m := newTestModel(t, visit.BlocksSchema, &fakeAPI{}, nil)
	m = moveTo(t, m, visit.FieldZone)

	m = press(t, m, "right")
	if got := m.form.State().Draft.Zone; got != visit.Zones[0] {
		t.Errorf("zone = %q, want %q", got, visit.Zones[0])
	}
	m = press(t, m, "left")
	if got := m.form.State().Draft.Zone; got != visit.Zones[len(visit.Zones)-1] {
		t.Errorf("zone = %q, want wrap to %q", got, visit.Zones[len(visit.Zones)-1])
	}
}

func TestRemoteVisitShowsEvidenceRow(t *testing.T) {
	m := newTestModel(t, visit.BlocksSchema, &fakeAPI{}, nil)
	hasEvidence := func(m Model) bool {
		for _, r := range m.rows {
			if r.name == visit.FieldPhotoEvidence {
				return true
			}
		}
		return false
	}

	if hasEvidence(m) {
		t.Fatal("on-site visits have no evidence row")
	}
	m = moveTo(t, m, visit.FieldVisitType)
	m = press(t, m, "right")
	if got := m.form.State().Draft.VisitType; got != visit.Remote {
		t.Fatalf("visit type = %q, want remote", got)
	}
	if !hasEvidence(m) {
		t.Error("remote visits need an evidence row")
	}
	if m.rows[m.cursor].name != visit.FieldVisitType {
		t.Error("cursor moved off the visit type after relayout")
	}
}

func TestCampaignToggleLimit(t *testing.T) {
	m := newTestModel(t, visit.CampaignsSchema, &fakeAPI{}, nil)

	for _, c := range []string{"Ads", "Combos"} {
		m = moveTo(t, m, c)
		m = press(t, m, "space")
	}
	m = moveTo(t, m, "Markdown")
	m = press(t, m, "space")

	if diff := cmp.Diff([]string{"Ads", "Combos"}, m.form.State().Draft.Campaigns); diff != "" {
		t.Errorf("campaigns mismatch (-want +got):\n%s", diff)
	}
	if m.adv == nil || !strings.Contains(m.adv.Message, "at most 2") {
		t.Errorf("advisory = %+v, want the campaign limit", m.adv)
	}
}

func TestCheckInUsesSource(t *testing.T) {
	m := newTestModel(t, visit.BlocksSchema, &fakeAPI{}, geo.Fixed{Lat: 4.65, Lon: -74.1})

	m, cmd := update(t, m, tea.KeyMsg{Type: tea.KeyCtrlL})
	if cmd == nil || !m.form.State().CheckingIn {
		t.Fatal("check-in did not start")
	}
	if !strings.Contains(m.View(), "Getting your location") {
		t.Error("expected the check-in spinner")
	}

	msg := resolveLocation(context.Background(), m.resolver, m.source)()
	m, _ = update(t, m, msg)

	loc := m.form.State().Location
	if loc == nil || loc.Simulated || loc.Lat != 4.65 {
		t.Fatalf("location = %+v", loc)
	}
	if m.adv == nil || m.adv.Kind != advisory.Success {
		t.Errorf("advisory = %+v, want success", m.adv)
	}

	m = press(t, m, "ctrl+l")
	if m.adv == nil || !strings.Contains(m.adv.Message, "already registered") {
		t.Errorf("second check-in advisory = %+v", m.adv)
	}
}

func TestCheckInWithoutSourceIsSimulated(t *testing.T) {
	m := newTestModel(t, visit.BlocksSchema, &fakeAPI{}, nil)
	m = press(t, m, "ctrl+l")

	m, _ = update(t, m, resolveLocation(context.Background(), m.resolver, nil)())
	loc := m.form.State().Location
	if loc == nil || !loc.Simulated {
		t.Fatalf("location = %+v, want simulated", loc)
	}
	if m.adv == nil || m.adv.Kind != advisory.Warning {
		t.Errorf("advisory = %+v, want warning", m.adv)
	}
}

func TestSubmitBlockedUntilReady(t *testing.T) {
	api := &fakeAPI{}
	m := newTestModel(t, visit.BlocksSchema, api, nil)

	m = press(t, m, "ctrl+s")
	if m.adv == nil || m.adv.Kind != advisory.Error {
		t.Fatalf("advisory = %+v, want validation error", m.adv)
	}
	if m.form.State().Submitting {
		t.Error("incomplete form entered submission")
	}

	m = fill(t, m)
	m = press(t, m, "ctrl+s")
	if !strings.Contains(m.adv.Message, "check-in") {
		t.Errorf("advisory = %q, want the check-in rule", m.adv.Message)
	}
}

func TestSubmitRecordsAndResets(t *testing.T) {
	api := &fakeAPI{}
	m := newTestModel(t, visit.BlocksSchema, api, geo.Fixed{Lat: 4.65, Lon: -74.1})
	m = fill(t, m)
	m = press(t, m, "ctrl+l")
	m, _ = update(t, m, resolveLocation(context.Background(), m.resolver, m.source)())

	m, cmd := update(t, m, tea.KeyMsg{Type: tea.KeyCtrlS})
	if cmd == nil || !m.form.State().Submitting {
		t.Fatal("submit did not start")
	}

	// A second submit while in flight is refused.
	m = press(t, m, "ctrl+s")
	if m.adv == nil || m.adv.Message != advisory.MsgSubmitting {
		t.Errorf("advisory = %+v, want in-flight notice", m.adv)
	}

	req := client.SubmitRequest{Draft: m.form.State().Draft, Location: m.form.State().Location}
	m, _ = update(t, m, sendVisit(context.Background(), api, req)())

	if len(api.reqs) != 1 {
		t.Fatalf("requests = %d, want 1", len(api.reqs))
	}
	if api.reqs[0].Location == nil || api.reqs[0].Draft.RestaurantName != "La Esquina" {
		t.Errorf("request = %+v", api.reqs[0])
	}
	s := m.form.State()
	if s.Submitting || s.Draft.RestaurantName != "" || s.Location != nil {
		t.Errorf("form not reset: %+v", s)
	}
	if m.recorded != 1 || m.adv.Message != advisory.MsgSubmitted {
		t.Errorf("recorded = %d, advisory = %+v", m.recorded, m.adv)
	}
}

func TestSubmitFailureKeepsDraft(t *testing.T) {
	api := &fakeAPI{err: &visit.PersistenceError{Err: errors.New("disk full")}}
	m := newTestModel(t, visit.BlocksSchema, api, geo.Fixed{Lat: 4.65, Lon: -74.1})
	m = fill(t, m)
	m = press(t, m, "ctrl+l")
	m, _ = update(t, m, resolveLocation(context.Background(), m.resolver, m.source)())
	m = press(t, m, "ctrl+s")

	m, _ = update(t, m, submitDoneMsg{err: api.err})
	if m.adv == nil || m.adv.Message != advisory.MsgPersistence {
		t.Errorf("advisory = %+v, want persistence failure", m.adv)
	}
	s := m.form.State()
	if s.Submitting || s.Draft.RestaurantName != "La Esquina" {
		t.Errorf("state after failure = %+v", s)
	}
}

func TestTransientAdvisoryClears(t *testing.T) {
	m := newTestModel(t, visit.BlocksSchema, &fakeAPI{}, nil)

	m, cmd := update(t, m, tea.KeyMsg{Type: tea.KeyCtrlR})
	if cmd == nil || m.adv == nil {
		t.Fatal("reset should show a transient advisory")
	}

	stale := clearAdvisoryMsg{id: m.advID - 1}
	m, _ = update(t, m, stale)
	if m.adv == nil {
		t.Error("stale clear removed the current advisory")
	}
	m, _ = update(t, m, clearAdvisoryMsg{id: m.advID})
	if m.adv != nil {
		t.Error("advisory not cleared")
	}
}

func TestRowValueAndCycle(t *testing.T) {
	r := row{name: "x", kind: rowChoice, options: []string{"a", "b", "c"}}
	tests := []struct {
		current string
		step    int
		want    string
	}{
		{"", 1, "a"},
		{"", -1, "c"},
		{"a", 1, "b"},
		{"c", 1, "a"},
		{"a", -1, "c"},
	}
	for _, tt := range tests {
		if got := r.cycle(tt.current, tt.step); got != tt.want {
			t.Errorf("cycle(%q, %d) = %q, want %q", tt.current, tt.step, got, tt.want)
		}
	}

	d := visit.EmptyDraft()
	d.Campaigns = []string{"Ads"}
	if got := (row{name: "Ads", kind: rowCampaign}).value(d); got != "[x]" {
		t.Errorf("campaign value = %q", got)
	}
}
