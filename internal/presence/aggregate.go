// Package presence turns per-day location durations into ranked
// DayPresenceSummary records. Percentage computation happens here and
// nowhere else; upstream feeds report raw minutes and counts only.
package presence

import (
	"math"
	"sort"

	"presencecal/internal/model"
)

const defaultTopLocations = 3

// RawLocation is one location's raw share of a day, before percentage
// computation.
type RawLocation struct {
	Location        string
	Count           int
	DurationMinutes float64
}

// DayEvent is the pre-aggregated history feed shape for one day:
// the per-location minutes observed for one person on Date.
type DayEvent struct {
	// Date is the day key in model.DayKey format. Keys are unique
	// within one input sequence.
	Date string
	// State is the feed's own idea of the day's primary location.
	// It is ignored: PrimaryState is recomputed from the ranked list
	// so that feed and summary can never disagree.
	State     string
	Locations []RawLocation
}

// Config controls aggregation.
type Config struct {
	// TopLocations caps the ranked list per day. Entries beyond the
	// cap are dropped silently; their share is the gap below 100%.
	// Zero means defaultTopLocations.
	TopLocations int
}

// Aggregate reduces a sequence of day events into a day-keyed summary
// map. For each day:
//
//   - percentage = 100 * minutes / total minutes that day; if the day
//     has zero total minutes, counts are used instead; if both are
//     zero, the day's list is empty (never a division by zero)
//   - the list is sorted by descending percentage, ties by descending
//     count then ascending location
//   - PrimaryState is the first entry's location, or "unknown"
//
// The result is deterministic: the same input always yields an
// identical map.
func Aggregate(events []DayEvent, cfg Config) map[string]model.DayPresenceSummary {
	top := cfg.TopLocations
	if top <= 0 {
		top = defaultTopLocations
	}

	out := make(map[string]model.DayPresenceSummary, len(events))
	for _, ev := range events {
		out[ev.Date] = summarizeDay(ev.Locations, top)
	}
	return out
}

func summarizeDay(locations []RawLocation, top int) model.DayPresenceSummary {
	var totalMinutes float64
	var totalCount int
	for _, l := range locations {
		totalMinutes += l.DurationMinutes
		totalCount += l.Count
	}

	shares := make([]model.LocationShare, 0, len(locations))
	for _, l := range locations {
		var pct float64
		switch {
		case totalMinutes > 0:
			pct = 100 * l.DurationMinutes / totalMinutes
		case totalCount > 0:
			pct = 100 * float64(l.Count) / float64(totalCount)
		default:
			// No tracked time at all: emit an empty list.
			continue
		}
		shares = append(shares, model.LocationShare{
			Location:        l.Location,
			Count:           l.Count,
			DurationMinutes: round1(l.DurationMinutes),
			Percentage:      round1(pct),
		})
	}

	sort.SliceStable(shares, func(i, j int) bool {
		if shares[i].Percentage != shares[j].Percentage {
			return shares[i].Percentage > shares[j].Percentage
		}
		if shares[i].Count != shares[j].Count {
			return shares[i].Count > shares[j].Count
		}
		return shares[i].Location < shares[j].Location
	})

	if len(shares) > top {
		shares = shares[:top]
	}

	primary := "unknown"
	if len(shares) > 0 {
		primary = shares[0].Location
	}

	return model.DayPresenceSummary{
		PrimaryState: primary,
		TopLocations: shares,
	}
}

// round1 rounds to one decimal, matching the feed's wire precision.
func round1(v float64) float64 {
	return math.Round(v*10) / 10
}
