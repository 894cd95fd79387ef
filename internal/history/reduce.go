// Package history reduces raw presence state changes into per-day
// location durations. The output feeds the presence aggregator, which
// owns percentage computation; this package only measures minutes.
package history

import (
	"context"
	"math"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/teambition/rrule-go"

	"presencecal/internal/ha"
	appLog "presencecal/internal/log"
	"presencecal/internal/model"
	"presencecal/internal/presence"
)

const (
	// defaultZoneRadius is applied when a zone reports no radius, in
	// meters, matching the upstream default.
	defaultZoneRadius = 100

	// stateNotHome is the feed's marker for "outside every zone";
	// the device-tracker fallback tries to resolve it.
	stateNotHome = "not_home"
)

// TrackerLocator resolves a device tracker's coordinates at a given
// instant. ok is false when no position is known; errors are treated
// the same way (the sample keeps its original state).
type TrackerLocator interface {
	Locate(ctx context.Context, trackerID string, at time.Time) (lat, lon float64, ok bool)
}

// Config controls the reduction.
type Config struct {
	// Zones is the session catalog, used by the coordinate fallback.
	Zones []model.Zone

	// WorkStart / WorkEnd bound the working window as "HH:MM" local
	// times. Days matched by Workweek aggregate only inside this
	// window; other days aggregate over the whole day.
	WorkStart string
	WorkEnd   string

	// Workweek is an RRULE (e.g. "FREQ=WEEKLY;BYDAY=MO,TU,WE,TH,FR")
	// selecting the days that use the working window. An empty or
	// unparsable rule means every day does.
	Workweek string

	// Location is the display timezone. Nil means time.Local.
	Location *time.Location

	// Now clamps the open-ended last segment of a day. Nil means
	// time.Now; tests inject a fixed clock.
	Now func() time.Time
}

// Reducer is a reusable reduction pipeline for one configuration.
type Reducer struct {
	cfg       Config
	loc       *time.Location
	workStart time.Duration
	workEnd   time.Duration
}

// NewReducer validates cfg and returns a Reducer. Invalid work hours
// fall back to 09:00-18:00 with a log line rather than failing.
func NewReducer(cfg Config) *Reducer {
	loc := cfg.Location
	if loc == nil {
		loc = time.Local
	}

	ws, okS := parseClock(cfg.WorkStart)
	we, okE := parseClock(cfg.WorkEnd)
	if !okS || !okE || we <= ws {
		if cfg.WorkStart != "" || cfg.WorkEnd != "" {
			appLog.Warn("invalid working window, using 09:00-18:00",
				"work_start", cfg.WorkStart, "work_end", cfg.WorkEnd)
		}
		ws = 9 * time.Hour
		we = 18 * time.Hour
	}

	return &Reducer{cfg: cfg, loc: loc, workStart: ws, workEnd: we}
}

// Reduce turns one person's raw state changes over [start, end] into
// day events ordered by date. trackers are the person's device
// trackers, tried in order when a sample reads not_home; locator may
// be nil to disable the fallback.
func (r *Reducer) Reduce(ctx context.Context, samples []ha.StateChange, trackers []string, locator TrackerLocator, start, end time.Time) []presence.DayEvent {
	type obs struct {
		ts    time.Time
		state string
	}

	workdays := r.expandWorkdays(start, end)

	// Group by day, resolving not_home through the tracker fallback.
	byDay := make(map[string][]obs)
	for _, s := range samples {
		ts := s.Timestamp()
		if ts.IsZero() {
			continue
		}
		ts = ts.In(r.loc)

		state := s.State
		if state == stateNotHome && locator != nil && len(trackers) > 0 {
			if zone, ok := r.zoneForTracker(ctx, trackers, locator, ts); ok {
				state = zone
			}
		}

		key := ts.Format(model.DayKey)
		byDay[key] = append(byDay[key], obs{ts: ts, state: state})
	}

	days := make([]string, 0, len(byDay))
	for day := range byDay {
		days = append(days, day)
	}
	sort.Strings(days)

	now := time.Now
	if r.cfg.Now != nil {
		now = r.cfg.Now
	}

	events := make([]presence.DayEvent, 0, len(days))
	for _, day := range days {
		obsList := byDay[day]
		sort.SliceStable(obsList, func(i, j int) bool {
			return obsList[i].ts.Before(obsList[j].ts)
		})

		dayStart, _ := time.ParseInLocation(model.DayKey, day, r.loc)
		winStart := dayStart
		winEnd := dayStart.Add(24*time.Hour - time.Second)
		if workdays == nil || workdays[day] {
			winStart = dayStart.Add(r.workStart)
			winEnd = dayStart.Add(r.workEnd)
		}

		minutes := make(map[string]float64)
		counts := make(map[string]int)
		var total float64

		for i, o := range obsList {
			counts[o.state]++

			segEnd := winEnd
			if i+1 < len(obsList) {
				segEnd = obsList[i+1].ts
			} else if n := now().In(r.loc); n.Before(segEnd) {
				// Open-ended last state of the day: it only lasted
				// until now.
				segEnd = n
			}

			from := maxTime(o.ts, winStart)
			to := minTime(segEnd, winEnd)
			if from.Before(to) {
				m := to.Sub(from).Minutes()
				minutes[o.state] += m
				total += m
			}
		}

		// Nothing overlapped the window but the day has samples:
		// attribute the whole window to the state observed closest
		// to its start, like the upstream feed does.
		if total == 0 && len(obsList) > 0 {
			closest := obsList[0]
			best := math.Abs(closest.ts.Sub(winStart).Seconds())
			for _, o := range obsList[1:] {
				if d := math.Abs(o.ts.Sub(winStart).Seconds()); d < best {
					best = d
					closest = o
				}
			}
			minutes[closest.state] = winEnd.Sub(winStart).Minutes()
		}

		locations := make([]presence.RawLocation, 0, len(minutes))
		for state, m := range minutes {
			locations = append(locations, presence.RawLocation{
				Location:        state,
				Count:           counts[state],
				DurationMinutes: m,
			})
		}
		// Map iteration order is random; fix it so the reduction is
		// byte-identical across runs.
		sort.Slice(locations, func(i, j int) bool {
			return locations[i].Location < locations[j].Location
		})

		events = append(events, presence.DayEvent{Date: day, Locations: locations})
	}

	return events
}

// zoneForTracker locates the first tracker that yields coordinates and
// matches them against the zone catalog. Returns the zone's friendly
// name (or entity key when unnamed).
func (r *Reducer) zoneForTracker(ctx context.Context, trackers []string, locator TrackerLocator, at time.Time) (string, bool) {
	for _, id := range trackers {
		lat, lon, ok := locator.Locate(ctx, id, at)
		if !ok {
			continue
		}
		if zone, ok := r.zoneForCoordinates(lat, lon); ok {
			return zone, true
		}
		// Position known but inside no zone: keep not_home.
		return "", false
	}
	return "", false
}

func (r *Reducer) zoneForCoordinates(lat, lon float64) (string, bool) {
	for _, z := range r.cfg.Zones {
		if z.Latitude == 0 && z.Longitude == 0 {
			continue
		}
		radius := z.Radius
		if radius <= 0 {
			radius = defaultZoneRadius
		}
		if haversineMeters(lat, lon, z.Latitude, z.Longitude) <= radius {
			if z.FriendlyName != "" {
				return z.FriendlyName, true
			}
			return strings.TrimPrefix(z.ID, "zone."), true
		}
	}
	return "", false
}

// expandWorkdays evaluates the workweek rule over [start, end] and
// returns the matching day-key set. nil means "every day is a workday".
func (r *Reducer) expandWorkdays(start, end time.Time) map[string]bool {
	if r.cfg.Workweek == "" {
		return nil
	}

	rule, err := rrule.StrToRRule(r.cfg.Workweek)
	if err != nil {
		appLog.Error("failed to parse workweek rule, treating all days as workdays", err,
			"rrule", r.cfg.Workweek)
		return nil
	}

	dtstart := time.Date(start.Year(), start.Month(), start.Day(), 0, 0, 0, 0, r.loc)
	rule.DTStart(dtstart)

	set := make(map[string]bool)
	for _, t := range rule.Between(dtstart, end.In(r.loc), true) {
		set[t.In(r.loc).Format(model.DayKey)] = true
	}
	return set
}

// haversineMeters is the great-circle distance between two WGS84
// coordinates.
func haversineMeters(lat1, lon1, lat2, lon2 float64) float64 {
	const earthRadius = 6371000

	phi1 := lat1 * math.Pi / 180
	phi2 := lat2 * math.Pi / 180
	dPhi := (lat2 - lat1) * math.Pi / 180
	dLambda := (lon2 - lon1) * math.Pi / 180

	a := math.Sin(dPhi/2)*math.Sin(dPhi/2) +
		math.Cos(phi1)*math.Cos(phi2)*math.Sin(dLambda/2)*math.Sin(dLambda/2)
	return 2 * earthRadius * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))
}

// parseClock parses "HH:MM" into an offset from midnight.
func parseClock(s string) (time.Duration, bool) {
	parts := strings.SplitN(s, ":", 2)
	if len(parts) != 2 {
		return 0, false
	}
	h, err1 := strconv.Atoi(parts[0])
	m, err2 := strconv.Atoi(parts[1])
	if err1 != nil || err2 != nil || h < 0 || h > 23 || m < 0 || m > 59 {
		return 0, false
	}
	return time.Duration(h)*time.Hour + time.Duration(m)*time.Minute, true
}

// maxTime / minTime keep segment clamping readable.
func maxTime(a, b time.Time) time.Time {
	if a.After(b) {
		return a
	}
	return b
}

func minTime(a, b time.Time) time.Time {
	if a.Before(b) {
		return a
	}
	return b
}
