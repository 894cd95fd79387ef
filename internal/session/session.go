// Package session holds the process-wide calendar state with a defined
// lifecycle: catalogs loaded once at startup, a current-month pointer
// mutated only through navigation, and month data rebuilt wholesale on
// every navigation under a latest-request-wins discipline.
package session

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"presencecal/internal/calendar"
	"presencecal/internal/classify"
	appLog "presencecal/internal/log"
	"presencecal/internal/model"
	"presencecal/internal/presence"
)

// Provider is the upstream feed contract: the two catalogs plus the
// per-person day-event history. Implementations must be safe for
// concurrent DayEvents calls; month loads fan out one call per person.
type Provider interface {
	Persons(ctx context.Context) ([]model.Person, error)
	Zones(ctx context.Context) ([]model.Zone, error)
	DayEvents(ctx context.Context, personID string, start, end time.Time) ([]presence.DayEvent, error)
}

// Options configures a Session.
type Options struct {
	// Location is the display timezone. Nil means time.Local.
	Location *time.Location

	// Overrides is the classifier's per-person office table.
	Overrides map[string]string

	// DefaultPerson is preselected when a roster entry's display name
	// matches it case-insensitively; otherwise the first person wins.
	DefaultPerson string

	// TopLocations caps each day's ranked location list.
	TopLocations int

	// Now supplies the initial month. Nil means time.Now.
	Now func() time.Time
}

// MonthData maps person id -> day key -> summary.
type MonthData map[string]map[string]model.DayPresenceSummary

// View is an immutable snapshot of the session for the rendering layer.
type View struct {
	Persons  []model.Person
	Zones    []model.Zone
	Selected string
	Year     int
	Month    time.Month
	Loading  bool
	Data     MonthData
}

// Session is the explicit state object replacing the original's ambient
// globals. All mutation goes through Init, navigation and selection.
type Session struct {
	provider Provider
	opts     Options
	loc      *time.Location

	mu         sync.Mutex
	persons    []model.Person
	zones      []model.Zone
	classifier *classify.Classifier
	selected   string
	year       int
	month      time.Month
	loading    bool
	data       MonthData

	// generation implements latest-request-wins: a finished load only
	// merges if no newer load started meanwhile. cancelLoad stops the
	// superseded load's outstanding fetches early.
	generation uint64
	cancelLoad context.CancelFunc
}

// New creates a Session. Call Init before anything else.
func New(provider Provider, opts Options) *Session {
	loc := opts.Location
	if loc == nil {
		loc = time.Local
	}
	return &Session{
		provider: provider,
		opts:     opts,
		loc:      loc,
		data:     MonthData{},
	}
}

// Init fetches both catalogs concurrently, selects the default person
// and loads the current month. Catalogs are read-only afterwards until
// ReloadCatalogs.
func (s *Session) Init(ctx context.Context) error {
	persons, zones, err := s.fetchCatalogs(ctx)
	if err != nil {
		return err
	}
	if len(persons) == 0 {
		return errors.New("session: no persons in feed")
	}

	now := time.Now
	if s.opts.Now != nil {
		now = s.opts.Now
	}
	n := now().In(s.loc)

	s.mu.Lock()
	s.persons = persons
	s.zones = zones
	s.classifier = classify.New(zones, s.opts.Overrides)
	s.selected = defaultSelection(persons, s.opts.DefaultPerson)
	s.year = n.Year()
	s.month = n.Month()
	s.mu.Unlock()

	appLog.Info("session initialized",
		"persons", len(persons), "zones", len(zones),
		"selected", s.Selected(), "year", n.Year(), "month", int(n.Month()))

	return s.LoadMonth(ctx)
}

// ReloadCatalogs refreshes persons and zones in place, used by the
// periodic refresh. The selected person is kept when still present.
func (s *Session) ReloadCatalogs(ctx context.Context) error {
	persons, zones, err := s.fetchCatalogs(ctx)
	if err != nil {
		return err
	}
	if len(persons) == 0 {
		return errors.New("session: no persons in feed")
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.persons = persons
	s.zones = zones
	s.classifier = classify.New(zones, s.opts.Overrides)
	if !rosterContains(persons, s.selected) {
		s.selected = defaultSelection(persons, s.opts.DefaultPerson)
	}
	return nil
}

func (s *Session) fetchCatalogs(ctx context.Context) ([]model.Person, []model.Zone, error) {
	var (
		wg      sync.WaitGroup
		persons []model.Person
		zones   []model.Zone
		pErr    error
		zErr    error
	)
	wg.Add(2)
	go func() {
		defer wg.Done()
		persons, pErr = s.provider.Persons(ctx)
	}()
	go func() {
		defer wg.Done()
		zones, zErr = s.provider.Zones(ctx)
	}()
	wg.Wait()

	if pErr != nil {
		return nil, nil, pErr
	}
	if zErr != nil {
		return nil, nil, zErr
	}
	return persons, zones, nil
}

// LoadMonth rebuilds the month data for the current month pointer.
//
// Per-person fetches run concurrently and are merged only after all of
// them settle; a person whose fetch fails is omitted from the merged
// map and never corrupts another person's entry. If a newer load starts
// while this one is in flight, this one's result is discarded on
// arrival and its fetches are canceled.
func (s *Session) LoadMonth(ctx context.Context) error {
	s.mu.Lock()
	s.generation++
	gen := s.generation
	if s.cancelLoad != nil {
		s.cancelLoad()
	}
	loadCtx, cancel := context.WithCancel(ctx)
	s.cancelLoad = cancel
	s.loading = true
	year, month := s.year, s.month
	persons := s.persons
	s.mu.Unlock()

	start, end := calendar.MonthBounds(year, month, s.loc)
	aggCfg := presence.Config{TopLocations: s.opts.TopLocations}

	var (
		wg     sync.WaitGroup
		mergeM sync.Mutex
		merged = MonthData{}
		failed int
	)
	for _, p := range persons {
		wg.Add(1)
		go func(p model.Person) {
			defer wg.Done()
			events, err := s.provider.DayEvents(loadCtx, p.ID, start, end)
			if err != nil {
				// Degrade to "no data" for this person only.
				appLog.Warn("history fetch failed, omitting person",
					"person", p.ID, "year", year, "month", int(month), "err", err)
				mergeM.Lock()
				failed++
				mergeM.Unlock()
				return
			}
			summary := presence.Aggregate(events, aggCfg)
			mergeM.Lock()
			merged[p.ID] = summary
			mergeM.Unlock()
		}(p)
	}
	wg.Wait()

	s.mu.Lock()
	defer s.mu.Unlock()
	if gen != s.generation {
		// A newer navigation superseded this load; its data belongs
		// to an abandoned month and must not be merged.
		appLog.Debug("discarding stale month load", "year", year, "month", int(month))
		return nil
	}
	s.data = merged
	s.loading = false

	appLog.Info("month loaded",
		"year", year, "month", int(month),
		"persons", len(merged), "failed", failed)
	return nil
}

// Navigate shifts the current month by delta calendar months (negative
// for prev) and reloads. Navigation is unbounded in both directions.
func (s *Session) Navigate(ctx context.Context, delta int) error {
	s.mu.Lock()
	s.year, s.month = calendar.AddMonths(s.year, s.month, delta)
	s.mu.Unlock()
	return s.LoadMonth(ctx)
}

// SetMonth points the session at an explicit month and reloads.
func (s *Session) SetMonth(ctx context.Context, year int, month time.Month) error {
	s.mu.Lock()
	changed := s.year != year || s.month != month
	s.year, s.month = year, month
	s.mu.Unlock()
	if !changed {
		return nil
	}
	return s.LoadMonth(ctx)
}

// SelectPerson switches the displayed person. Unknown ids are ignored.
func (s *Session) SelectPerson(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if rosterContains(s.persons, id) {
		s.selected = id
	}
}

// Selected returns the selected person id.
func (s *Session) Selected() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.selected
}

// Classifier returns the catalog-bound classifier.
func (s *Session) Classifier() *classify.Classifier {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.classifier
}

// Snapshot returns a consistent copy of the session state for the
// rendering layer. The data map is shared but never mutated after a
// merge, so readers can walk it freely.
func (s *Session) Snapshot() View {
	s.mu.Lock()
	defer s.mu.Unlock()
	return View{
		Persons:  s.persons,
		Zones:    s.zones,
		Selected: s.selected,
		Year:     s.year,
		Month:    s.month,
		Loading:  s.loading,
		Data:     s.data,
	}
}

// defaultSelection prefers the person whose display name matches the
// configured identity case-insensitively, else the first roster entry.
func defaultSelection(persons []model.Person, identity string) string {
	if identity != "" {
		for _, p := range persons {
			if strings.EqualFold(p.DisplayName, identity) {
				return p.ID
			}
		}
	}
	if len(persons) > 0 {
		return persons[0].ID
	}
	return ""
}

func rosterContains(persons []model.Person, id string) bool {
	for _, p := range persons {
		if p.ID == id {
			return true
		}
	}
	return false
}
