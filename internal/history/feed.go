package history

import (
	"context"
	"sync"
	"time"

	"presencecal/internal/ha"
	"presencecal/internal/model"
	"presencecal/internal/presence"
)

// Feed binds the Home Assistant client and the reducer into the
// session's Provider contract. Zone and tracker knowledge is captured
// while serving the catalog calls, so DayEvents can resolve not_home
// samples without re-fetching the state list.
type Feed struct {
	client *ha.Client
	cfg    Config

	mu       sync.RWMutex
	reducer  *Reducer
	trackers map[string][]string
}

// NewFeed creates a Feed. cfg.Zones is ignored; the catalog fetched
// through Zones takes its place.
func NewFeed(client *ha.Client, cfg Config) *Feed {
	cfg.Zones = nil
	return &Feed{
		client:   client,
		cfg:      cfg,
		reducer:  NewReducer(cfg),
		trackers: map[string][]string{},
	}
}

// Persons serves the person catalog and remembers each person's device
// trackers for the not_home fallback.
func (f *Feed) Persons(ctx context.Context) ([]model.Person, error) {
	persons, entities, err := f.client.Persons(ctx)
	if err != nil {
		return nil, err
	}

	trackers := make(map[string][]string, len(entities))
	for _, e := range entities {
		if len(e.Attributes.DeviceTrackers) > 0 {
			trackers[e.EntityID] = e.Attributes.DeviceTrackers
		}
	}

	f.mu.Lock()
	f.trackers = trackers
	f.mu.Unlock()
	return persons, nil
}

// Zones serves the zone catalog and rebinds the reducer to it.
func (f *Feed) Zones(ctx context.Context) ([]model.Zone, error) {
	zones, err := f.client.Zones(ctx)
	if err != nil {
		return nil, err
	}

	cfg := f.cfg
	cfg.Zones = zones

	f.mu.Lock()
	f.reducer = NewReducer(cfg)
	f.mu.Unlock()
	return zones, nil
}

// DayEvents fetches one person's raw history for [start, end] and
// reduces it to day events. Safe for concurrent use; month loads call
// it once per person in parallel.
func (f *Feed) DayEvents(ctx context.Context, personID string, start, end time.Time) ([]presence.DayEvent, error) {
	samples, err := f.client.History(ctx, personID, start, end)
	if err != nil {
		return nil, err
	}

	f.mu.RLock()
	reducer := f.reducer
	trackers := f.trackers[personID]
	f.mu.RUnlock()

	return reducer.Reduce(ctx, samples, trackers, f.client, start, end), nil
}
