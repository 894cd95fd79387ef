// Package export renders a person's month presence as an iCalendar
// feed: one all-day event per day, labeled with the classified
// location, so the inferred whereabouts can be subscribed to from any
// calendar client.
package export

import (
	"fmt"
	"sort"
	"strings"
	"time"

	ics "github.com/arran4/golang-ical"

	"presencecal/internal/classify"
	"presencecal/internal/model"
)

// MonthCalendar serializes the day summaries of one person into an
// iCalendar document. days maps day keys to summaries; loc anchors the
// all-day event dates. Days without data are simply absent from the
// feed.
func MonthCalendar(person model.Person, days map[string]model.DayPresenceSummary, cls *classify.Classifier, loc *time.Location) (string, error) {
	if loc == nil {
		loc = time.Local
	}

	cal := ics.NewCalendar()
	cal.SetMethod(ics.MethodPublish)
	cal.SetProductId("-//presencecal//presence calendar//FR")

	keys := make([]string, 0, len(days))
	for k := range days {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	now := time.Now().UTC()
	for _, key := range keys {
		summary := days[key]
		if len(summary.TopLocations) == 0 {
			continue
		}

		date, err := time.ParseInLocation(model.DayKey, key, loc)
		if err != nil {
			// Malformed day keys never come from the aggregator;
			// skip rather than poison the whole feed.
			continue
		}

		label := classify.LabelUnknown
		if cls != nil {
			label = cls.FriendlyName(summary.PrimaryState, person.DisplayName)
		}

		ev := cal.AddEvent(fmt.Sprintf("%s-%s@presencecal", person.ID, key))
		ev.SetDtStampTime(now)
		ev.SetAllDayStartAt(date)
		ev.SetAllDayEndAt(date.AddDate(0, 0, 1))
		ev.SetSummary(fmt.Sprintf("%s (%.0f%%)", label, summary.TopLocations[0].Percentage))
		ev.SetDescription(describeDay(person, summary, cls))
	}

	return cal.Serialize(), nil
}

// describeDay lists the full ranked breakdown for the event body.
func describeDay(person model.Person, summary model.DayPresenceSummary, cls *classify.Classifier) string {
	lines := make([]string, 0, len(summary.TopLocations))
	for _, share := range summary.TopLocations {
		label := share.Location
		if cls != nil {
			label = cls.FriendlyName(share.Location, person.DisplayName)
		}
		lines = append(lines, fmt.Sprintf("%s: %.1f%%", label, share.Percentage))
	}
	return strings.Join(lines, "\n")
}
