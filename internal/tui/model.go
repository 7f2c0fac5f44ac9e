// Package tui is the interactive terminal visit form.
package tui

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/evcraddock/street-kams/internal/advisory"
	"github.com/evcraddock/street-kams/internal/client"
	"github.com/evcraddock/street-kams/internal/geo"
	"github.com/evcraddock/street-kams/internal/visit"
)

// Submitter records a visit on the server. *client.Client implements it.
type Submitter interface {
	SubmitVisit(ctx context.Context, req client.SubmitRequest) (*visit.Visit, error)
}

// Options configures the terminal form.
type Options struct {
	Schema *visit.Schema
	API    Submitter
	// Source supplies the check-in position. Nil means the terminal has no
	// geolocation and every check-in falls back to the simulated location.
	Source   geo.PositionSource
	Resolver *geo.Resolver
	// Owner is shown in the header.
	Owner string
	// Context bounds every request. Cancel it when the identity goes away.
	Context context.Context
}

type checkInDoneMsg struct{ res geo.Result }

type submitDoneMsg struct {
	visit *visit.Visit
	err   error
}

type clearAdvisoryMsg struct{ id int }

// advisoryTTL is how long transient advisories stay up.
var advisoryTTL = advisory.TransientTTL

// Model is the bubbletea model for the visit form.
type Model struct {
	ctx      context.Context
	api      Submitter
	source   geo.PositionSource
	resolver *geo.Resolver
	owner    string

	form   *visit.Form
	rows   []row
	cursor int

	editing bool
	input   textinput.Model
	spinner spinner.Model
	help    help.Model
	keys    keyMap

	adv      *advisory.Advisory
	advID    int
	recorded int
	width    int
	quitting bool
}

// New creates the form model.
func New(opts Options) Model {
	ctx := opts.Context
	if ctx == nil {
		ctx = context.Background()
	}
	resolver := opts.Resolver
	if resolver == nil {
		resolver = geo.NewResolver()
	}

	in := textinput.New()
	in.CharLimit = 200
	in.Width = 40

	sp := spinner.New()
	sp.Spinner = spinner.Dot

	form := visit.NewForm(opts.Schema)
	return Model{
		ctx:      ctx,
		api:      opts.API,
		source:   opts.Source,
		resolver: resolver,
		owner:    opts.Owner,
		form:     form,
		rows:     buildRows(opts.Schema, form.State().Draft),
		input:    in,
		spinner:  sp,
		help:     help.New(),
		keys:     defaultKeyMap(),
	}
}

// Run shows the form until the user quits or ctx is cancelled.
func Run(ctx context.Context, opts Options) error {
	opts.Context = ctx
	_, err := tea.NewProgram(New(opts), tea.WithAltScreen(), tea.WithContext(ctx)).Run()
	return err
}

// Init implements tea.Model.
func (m Model) Init() tea.Cmd {
	return nil
}

// Update implements tea.Model.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.help.Width = msg.Width
		return m, nil

	case tea.KeyMsg:
		if m.editing {
			return m.updateEditing(msg)
		}
		return m.updateKeys(msg)

	case checkInDoneMsg:
		m.form.CompleteCheckIn(msg.res.Fact)
		return m.announce(advisory.CheckIn(msg.res))

	case submitDoneMsg:
		m.form.EndSubmit()
		if msg.err != nil {
			return m.announce(advisory.FromError(msg.err))
		}
		m.recorded++
		m.form.Reset()
		m.relayout()
		return m.announce(advisory.Submitted())

	case clearAdvisoryMsg:
		if msg.id == m.advID {
			m.adv = nil
		}
		return m, nil

	case spinner.TickMsg:
		if !m.busy() {
			return m, nil
		}
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	}

	if m.editing {
		var cmd tea.Cmd
		m.input, cmd = m.input.Update(msg)
		return m, cmd
	}
	return m, nil
}

func (m Model) updateEditing(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch {
	case msg.Type == tea.KeyCtrlC:
		m.quitting = true
		return m, tea.Quit
	case key.Matches(msg, m.keys.Cancel):
		m.editing = false
		m.input.Blur()
		return m, nil
	case key.Matches(msg, m.keys.Edit):
		m.editing = false
		m.input.Blur()
		return m.set(m.rows[m.cursor].name, strings.TrimSpace(m.input.Value()))
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

func (m Model) updateKeys(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	r := m.rows[m.cursor]
	draft := m.form.State().Draft

	switch {
	case key.Matches(msg, m.keys.Quit):
		m.quitting = true
		return m, tea.Quit
	case key.Matches(msg, m.keys.Up):
		if m.cursor > 0 {
			m.cursor--
		}
	case key.Matches(msg, m.keys.Down):
		if m.cursor < len(m.rows)-1 {
			m.cursor++
		}
	case key.Matches(msg, m.keys.CheckIn):
		return m.checkIn()
	case key.Matches(msg, m.keys.Submit):
		return m.submit()
	case key.Matches(msg, m.keys.Reset):
		m.form.Reset()
		m.relayout()
		return m.announce(advisory.Advisory{Kind: advisory.Info, Message: "Form cleared.", Transient: true})
	case key.Matches(msg, m.keys.Next), key.Matches(msg, m.keys.Prev):
		if r.kind != rowChoice {
			return m, nil
		}
		step := 1
		if key.Matches(msg, m.keys.Prev) {
			step = -1
		}
		return m.set(r.name, r.cycle(r.value(draft), step))
	case key.Matches(msg, m.keys.Edit), key.Matches(msg, m.keys.Toggle):
		switch r.kind {
		case rowCampaign:
			if err := m.form.Toggle(r.name); err != nil {
				return m.announce(advisory.FromError(err))
			}
		case rowChoice:
			return m.set(r.name, r.cycle(r.value(draft), 1))
		case rowText:
			m.editing = true
			m.input.SetValue(r.value(draft))
			m.input.CursorEnd()
			cmd := m.input.Focus()
			return m, cmd
		}
	}
	return m, nil
}

// set writes one field and re-lays the rows, since the visit type decides
// whether the evidence row exists.
func (m Model) set(name, value string) (tea.Model, tea.Cmd) {
	if err := m.form.SetField(name, value); err != nil {
		return m.announce(advisory.FromError(err))
	}
	m.relayout()
	return m, nil
}

func (m *Model) relayout() {
	var current string
	if m.cursor < len(m.rows) {
		current = m.rows[m.cursor].name
	}
	m.rows = buildRows(m.form.Schema(), m.form.State().Draft)
	m.cursor = 0
	for i, r := range m.rows {
		if r.name == current {
			m.cursor = i
			return
		}
	}
}

func (m Model) checkIn() (tea.Model, tea.Cmd) {
	if err := m.form.BeginCheckIn(); err != nil {
		return m.announce(advisory.FromError(err))
	}
	return m, tea.Batch(m.spinner.Tick, resolveLocation(m.ctx, m.resolver, m.source))
}

func (m Model) submit() (tea.Model, tea.Cmd) {
	state := m.form.State()
	if state.Unmet != nil {
		return m.announce(advisory.FromError(state.Unmet))
	}
	if err := m.form.BeginSubmit(); err != nil {
		return m.announce(advisory.FromError(err))
	}
	req := client.SubmitRequest{Draft: state.Draft, Location: state.Location}
	return m, tea.Batch(m.spinner.Tick, sendVisit(m.ctx, m.api, req))
}

// resolveLocation runs one geolocation attempt off the update loop.
func resolveLocation(ctx context.Context, resolver *geo.Resolver, source geo.PositionSource) tea.Cmd {
	return func() tea.Msg {
		return checkInDoneMsg{res: resolver.Resolve(ctx, source)}
	}
}

func sendVisit(ctx context.Context, api Submitter, req client.SubmitRequest) tea.Cmd {
	return func() tea.Msg {
		v, err := api.SubmitVisit(ctx, req)
		return submitDoneMsg{visit: v, err: err}
	}
}

// announce shows a and, for transient advisories, schedules its removal.
func (m Model) announce(a advisory.Advisory) (tea.Model, tea.Cmd) {
	m.advID++
	m.adv = &a
	if !a.Transient {
		return m, nil
	}
	id := m.advID
	return m, tea.Tick(advisoryTTL, func(time.Time) tea.Msg { return clearAdvisoryMsg{id: id} })
}

func (m Model) busy() bool {
	s := m.form.State()
	return s.CheckingIn || s.Submitting
}

// View implements tea.Model.
func (m Model) View() string {
	if m.quitting {
		return ""
	}
	state := m.form.State()
	var b strings.Builder

	b.WriteString(titleStyle.Render("street-kams · new visit"))
	if m.owner != "" {
		b.WriteString(subtleStyle.Render("  " + m.owner))
	}
	if m.recorded > 0 {
		b.WriteString(subtleStyle.Render(fmt.Sprintf("  (%d recorded)", m.recorded)))
	}
	b.WriteString("\n")

	block := ""
	for i, r := range m.rows {
		if r.block != block {
			block = r.block
			b.WriteString(blockStyle.Render(block) + "\n")
		}
		marker := "  "
		if i == m.cursor {
			marker = cursorStyle.Render("› ")
		}
		b.WriteString(marker + labelStyle.Render(r.label) + m.renderValue(i, r, state.Draft) + "\n")
	}

	b.WriteString("\n" + m.renderLocation(state) + "\n")
	b.WriteString(m.renderReadiness(state) + "\n")

	if m.adv != nil {
		b.WriteString(advisoryStyle(m.adv.Kind).Render(m.adv.Message) + "\n")
	}

	b.WriteString("\n" + m.help.View(m.keys))
	return b.String()
}

func (m Model) renderValue(i int, r row, d visit.Draft) string {
	if m.editing && i == m.cursor {
		return m.input.View()
	}
	v := r.value(d)
	if v == "" {
		return emptyStyle.Render("—")
	}
	if r.kind == rowChoice {
		return "‹ " + v + " ›"
	}
	return v
}

func (m Model) renderLocation(s visit.State) string {
	switch {
	case s.Draft.VisitType != visit.OnSite:
		return subtleStyle.Render("Location: not needed for remote visits")
	case s.CheckingIn:
		return m.spinner.View() + " Getting your location…"
	case s.Location != nil:
		return "Location: " + s.Location.String()
	default:
		return blockedStyle.Render("Location: not checked in (ctrl+l)")
	}
}

func (m Model) renderReadiness(s visit.State) string {
	switch {
	case s.Submitting:
		return m.spinner.View() + " Submitting…"
	case s.Ready:
		return readyStyle.Render("Ready to submit (ctrl+s)")
	default:
		return blockedStyle.Render("Not ready: " + s.Unmet.Error())
	}
}
