package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"presencecal/internal/model"
	"presencecal/internal/presence"
)

// fakeProvider serves canned catalogs and per-month day events, with
// optional per-person errors and a per-month gate to hold fetches open.
type fakeProvider struct {
	persons []model.Person
	zones   []model.Zone

	mu    sync.Mutex
	errs  map[string]error
	gates map[string]chan struct{} // key: "2006-01" of the window start
	calls int
}

func (f *fakeProvider) Persons(context.Context) ([]model.Person, error) { return f.persons, nil }
func (f *fakeProvider) Zones(context.Context) ([]model.Zone, error)     { return f.zones, nil }

func (f *fakeProvider) DayEvents(ctx context.Context, personID string, start, _ time.Time) ([]presence.DayEvent, error) {
	monthKey := start.Format("2006-01")

	f.mu.Lock()
	f.calls++
	gate := f.gates[monthKey]
	err := f.errs[personID]
	f.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if err != nil {
		return nil, err
	}

	// One synthetic day tagged with the fetched month so tests can
	// tell which load produced the merged data.
	return []presence.DayEvent{{
		Date: monthKey + "-01",
		Locations: []presence.RawLocation{
			{Location: "home", Count: 1, DurationMinutes: 540},
		},
	}}, nil
}

func newTestSession(p *fakeProvider) *Session {
	return New(p, Options{
		Location:      time.UTC,
		DefaultPerson: "jp",
		Now: func() time.Time {
			return time.Date(2025, time.June, 15, 12, 0, 0, 0, time.UTC)
		},
	})
}

func roster() []model.Person {
	return []model.Person{
		{ID: "person.alice", DisplayName: "Alice"},
		{ID: "person.jp", DisplayName: "JP"},
	}
}

func TestInit_DefaultSelectionPrefersIdentity(t *testing.T) {
	p := &fakeProvider{persons: roster()}
	s := newTestSession(p)

	if err := s.Init(context.Background()); err != nil {
		t.Fatalf("init: %v", err)
	}
	if got := s.Selected(); got != "person.jp" {
		t.Fatalf("selected = %q, want person.jp", got)
	}
}

func TestInit_DefaultSelectionFallsBackToFirst(t *testing.T) {
	p := &fakeProvider{persons: []model.Person{
		{ID: "person.alice", DisplayName: "Alice"},
		{ID: "person.bob", DisplayName: "Bob"},
	}}
	s := newTestSession(p)

	if err := s.Init(context.Background()); err != nil {
		t.Fatalf("init: %v", err)
	}
	if got := s.Selected(); got != "person.alice" {
		t.Fatalf("selected = %q, want first roster entry", got)
	}
}

func TestLoadMonth_MergesAllPersons(t *testing.T) {
	p := &fakeProvider{persons: roster()}
	s := newTestSession(p)

	if err := s.Init(context.Background()); err != nil {
		t.Fatalf("init: %v", err)
	}

	view := s.Snapshot()
	if view.Loading {
		t.Fatalf("loading flag did not clear")
	}
	if len(view.Data) != 2 {
		t.Fatalf("got %d persons in data, want 2", len(view.Data))
	}
	day, ok := view.Data["person.jp"]["2025-06-01"]
	if !ok {
		t.Fatalf("missing day summary: %#v", view.Data)
	}
	if day.PrimaryState != "home" {
		t.Fatalf("primary = %q", day.PrimaryState)
	}
}

func TestLoadMonth_FailedPersonIsOmitted(t *testing.T) {
	p := &fakeProvider{
		persons: roster(),
		errs:    map[string]error{"person.alice": errors.New("upstream 500")},
	}
	s := newTestSession(p)

	if err := s.Init(context.Background()); err != nil {
		t.Fatalf("init: %v", err)
	}

	view := s.Snapshot()
	if view.Loading {
		t.Fatalf("a failed fetch must still clear the loading flag")
	}
	if _, ok := view.Data["person.alice"]; ok {
		t.Fatalf("failed person must be omitted from the merged map")
	}
	if _, ok := view.Data["person.jp"]; !ok {
		t.Fatalf("one person's failure corrupted another's entry")
	}
}

func TestNavigate_StaleLoadIsDiscarded(t *testing.T) {
	julyGate := make(chan struct{})
	p := &fakeProvider{
		persons: roster(),
		gates:   map[string]chan struct{}{"2025-07": julyGate},
	}
	s := newTestSession(p)

	if err := s.Init(context.Background()); err != nil {
		t.Fatalf("init: %v", err)
	}

	// Navigate to July; its fetches park on the gate.
	julyDone := make(chan struct{})
	go func() {
		defer close(julyDone)
		_ = s.Navigate(context.Background(), 1)
	}()

	// Give the July load a moment to start and register itself.
	time.Sleep(50 * time.Millisecond)

	// Navigate again before July resolves: August supersedes it.
	if err := s.Navigate(context.Background(), 1); err != nil {
		t.Fatalf("navigate to august: %v", err)
	}

	// Let July's late fetches finish; their result must be dropped.
	close(julyGate)
	select {
	case <-julyDone:
	case <-time.After(2 * time.Second):
		t.Fatalf("stale july load never settled")
	}

	view := s.Snapshot()
	if view.Year != 2025 || view.Month != time.August {
		t.Fatalf("month pointer = %d-%02d, want 2025-08", view.Year, view.Month)
	}
	for personID, days := range view.Data {
		for key := range days {
			if key != "2025-08-01" {
				t.Fatalf("stale data %q leaked into august for %s", key, personID)
			}
		}
	}
}

func TestNavigate_Unbounded(t *testing.T) {
	p := &fakeProvider{persons: roster()}
	s := newTestSession(p)
	if err := s.Init(context.Background()); err != nil {
		t.Fatalf("init: %v", err)
	}

	for i := 0; i < 15; i++ {
		if err := s.Navigate(context.Background(), -1); err != nil {
			t.Fatalf("navigate back %d: %v", i, err)
		}
	}
	view := s.Snapshot()
	if view.Year != 2024 || view.Month != time.March {
		t.Fatalf("15 months back from 2025-06: got %d-%02d", view.Year, view.Month)
	}
	if _, ok := view.Data["person.jp"]["2024-03-01"]; !ok {
		t.Fatalf("data was not rebuilt for the navigated month: %#v", view.Data)
	}
}

func TestSelectPerson_IgnoresUnknown(t *testing.T) {
	p := &fakeProvider{persons: roster()}
	s := newTestSession(p)
	if err := s.Init(context.Background()); err != nil {
		t.Fatalf("init: %v", err)
	}

	s.SelectPerson("person.alice")
	if got := s.Selected(); got != "person.alice" {
		t.Fatalf("selected = %q", got)
	}
	s.SelectPerson("person.ghost")
	if got := s.Selected(); got != "person.alice" {
		t.Fatalf("unknown id must be ignored, selected = %q", got)
	}
}

func TestReloadCatalogs_KeepsSelectionWhenPresent(t *testing.T) {
	p := &fakeProvider{persons: roster()}
	s := newTestSession(p)
	if err := s.Init(context.Background()); err != nil {
		t.Fatalf("init: %v", err)
	}

	s.SelectPerson("person.alice")
	if err := s.ReloadCatalogs(context.Background()); err != nil {
		t.Fatalf("reload: %v", err)
	}
	if got := s.Selected(); got != "person.alice" {
		t.Fatalf("selection lost on catalog reload: %q", got)
	}

	// Drop alice from the roster: selection falls back to default.
	p.persons = []model.Person{{ID: "person.jp", DisplayName: "JP"}}
	if err := s.ReloadCatalogs(context.Background()); err != nil {
		t.Fatalf("reload: %v", err)
	}
	if got := s.Selected(); got != "person.jp" {
		t.Fatalf("selection = %q, want fallback to default", got)
	}
}

func TestLoadMonth_FanOut(t *testing.T) {
	// All persons' fetches park on one gate; if loads ran
	// sequentially, the first fetch would deadlock the rest.
	gate := make(chan struct{})
	many := make([]model.Person, 8)
	for i := range many {
		many[i] = model.Person{ID: fmt.Sprintf("person.p%d", i), DisplayName: fmt.Sprintf("P%d", i)}
	}
	p := &fakeProvider{
		persons: many,
		gates:   map[string]chan struct{}{"2025-06": gate},
	}
	s := newTestSession(p)

	done := make(chan error, 1)
	go func() { done <- s.Init(context.Background()) }()

	// Wait until every fetch is in flight, then release them all.
	deadline := time.After(2 * time.Second)
	for {
		p.mu.Lock()
		calls := p.calls
		p.mu.Unlock()
		if calls >= len(many) {
			break
		}
		select {
		case <-deadline:
			t.Fatalf("only %d of %d fetches started; load is not concurrent", calls, len(many))
		case <-time.After(5 * time.Millisecond):
		}
	}
	close(gate)

	if err := <-done; err != nil {
		t.Fatalf("init: %v", err)
	}
	if got := len(s.Snapshot().Data); got != len(many) {
		t.Fatalf("merged %d persons, want %d", got, len(many))
	}
}
