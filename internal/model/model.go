package model

import "time"

// DayKey is the canonical map-key format for a calendar day in the
// display timezone.
const DayKey = "2006-01-02"

// Person is a tracked person from the presence feed.
// Identity is used both for display and for classification overrides.
type Person struct {
	// ID is the upstream entity id (e.g. "person.jp").
	ID string
	// DisplayName is the friendly name, or the entity id when the
	// feed did not provide one.
	DisplayName string
}

// Zone is a catalog entry resolving a raw location key ("zone.<key>")
// to a human label. Coordinates are carried for the device-tracker
// fallback; they may be zero when the feed omits them.
type Zone struct {
	// ID is the upstream entity id (e.g. "zone.boulot_jp").
	ID           string
	FriendlyName string

	Latitude  float64
	Longitude float64
	// Radius is the zone radius in meters. Zero means "use default".
	Radius float64
}

// LocationShare is one ranked entry of a day's presence breakdown.
type LocationShare struct {
	Location        string  `json:"location"`
	Count           int     `json:"count"`
	DurationMinutes float64 `json:"duration"`
	// Percentage is the share of the day's tracked time, 0..100.
	Percentage float64 `json:"percentage"`
}

// DayPresenceSummary is the derived per-day summary for one person.
//
// TopLocations is sorted descending by percentage. Percentages sum to
// at most 100; any gap is untracked or truncated time and is not
// represented as an explicit bucket.
type DayPresenceSummary struct {
	// PrimaryState is the highest-share location, or "unknown" when
	// TopLocations is empty.
	PrimaryState string          `json:"state"`
	TopLocations []LocationShare `json:"top_locations"`
}

// CalendarCell is one cell of the month grid. A zero Date marks a
// padding cell outside the month; it never carries data.
type CalendarCell struct {
	Date time.Time
}

// Empty reports whether the cell is grid padding.
func (c CalendarCell) Empty() bool { return c.Date.IsZero() }

// Key returns the day key for a non-empty cell.
func (c CalendarCell) Key() string { return c.Date.Format(DayKey) }

// WeekRow is one Monday-first ISO week of the grid.
type WeekRow [7]CalendarCell

// MonthGrid is the week-major grid the calendar view walks over.
type MonthGrid []WeekRow
