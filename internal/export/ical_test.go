package export

import (
	"strings"
	"testing"
	"time"

	"presencecal/internal/classify"
	"presencecal/internal/model"
)

func TestMonthCalendar(t *testing.T) {
	cls := classify.New(
		[]model.Zone{{ID: "zone.boulot_jp", FriendlyName: "Boulot JP"}},
		map[string]string{"jp": "boulot"},
	)
	person := model.Person{ID: "person.jp", DisplayName: "JP"}

	days := map[string]model.DayPresenceSummary{
		"2025-06-02": {
			PrimaryState: "home",
			TopLocations: []model.LocationShare{
				{Location: "home", Count: 3, DurationMinutes: 405, Percentage: 75},
				{Location: "gym", Count: 1, DurationMinutes: 135, Percentage: 25},
			},
		},
		"2025-06-03": {
			PrimaryState: "boulot_jp",
			TopLocations: []model.LocationShare{
				{Location: "boulot_jp", Count: 2, DurationMinutes: 540, Percentage: 100},
			},
		},
		// Empty day: no event in the feed.
		"2025-06-04": {PrimaryState: "unknown"},
	}

	body, err := MonthCalendar(person, days, cls, time.UTC)
	if err != nil {
		t.Fatalf("export: %v", err)
	}

	if got := strings.Count(body, "BEGIN:VEVENT"); got != 2 {
		t.Fatalf("got %d events, want 2 (empty day skipped)\n%s", got, body)
	}
	if !strings.Contains(body, "SUMMARY:Maison (75%)") {
		t.Fatalf("missing home summary:\n%s", body)
	}
	// JP's override zone exports with the office label.
	if !strings.Contains(body, "SUMMARY:Bureau (100%)") {
		t.Fatalf("missing office summary:\n%s", body)
	}
	if !strings.Contains(body, "UID:person.jp-2025-06-02@presencecal") {
		t.Fatalf("missing stable UID:\n%s", body)
	}
}

func TestMonthCalendar_EmptyMonth(t *testing.T) {
	person := model.Person{ID: "person.alice", DisplayName: "Alice"}
	body, err := MonthCalendar(person, nil, classify.New(nil, nil), time.UTC)
	if err != nil {
		t.Fatalf("export: %v", err)
	}
	if strings.Count(body, "BEGIN:VEVENT") != 0 {
		t.Fatalf("empty month must serialize without events:\n%s", body)
	}
	if !strings.Contains(body, "BEGIN:VCALENDAR") {
		t.Fatalf("not a calendar document:\n%s", body)
	}
}
