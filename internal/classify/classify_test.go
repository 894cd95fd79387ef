package classify

import (
	"testing"

	"presencecal/internal/model"
)

func testClassifier() *Classifier {
	zones := []model.Zone{
		{ID: "zone.boulot_jp", FriendlyName: "Boulot JP"},
		{ID: "zone.gym", FriendlyName: "Salle de sport"},
		{ID: "zone.nameless"},
	}
	return New(zones, map[string]string{"jp": "boulot"})
}

func TestCategorize_FixedStates(t *testing.T) {
	c := testClassifier()

	cases := []struct {
		raw    string
		person string
		want   Category
	}{
		{"", "JP", CategoryUnknown},
		{"unknown", "Alice", CategoryUnknown},
		{"home", "JP", CategoryHome},
		{"home", "", CategoryHome},
		{"office", "Alice", CategoryOffice},
		{"gym", "Alice", CategoryOther},
	}
	for _, tc := range cases {
		if got := c.Categorize(tc.raw, tc.person); got != tc.want {
			t.Fatalf("Categorize(%q, %q) = %q, want %q", tc.raw, tc.person, got, tc.want)
		}
	}
}

func TestCategorize_PersonOverride(t *testing.T) {
	c := testClassifier()

	// The override is person-scoped: JP's workplace zone is an office
	// for JP only.
	if got := c.Categorize("boulot_jp", "JP"); got != CategoryOffice {
		t.Fatalf("JP at boulot_jp: got %q, want office", got)
	}
	if got := c.Categorize("boulot_jp", "jp"); got != CategoryOffice {
		t.Fatalf("identity match must be case-insensitive: got %q", got)
	}
	if got := c.Categorize("boulot_jp", "Alice"); got != CategoryOther {
		t.Fatalf("Alice at boulot_jp: got %q, want other", got)
	}
}

func TestCategorize_OverrideViaZoneLabel(t *testing.T) {
	// Raw key without the substring, but the zone's friendly name
	// carries it.
	zones := []model.Zone{{ID: "zone.bureau2", FriendlyName: "Boulot annexe"}}
	c := New(zones, map[string]string{"jp": "boulot"})

	if got := c.Categorize("bureau2", "JP"); got != CategoryOffice {
		t.Fatalf("zone-label override: got %q, want office", got)
	}
}

func TestCategorize_Total(t *testing.T) {
	c := New(nil, nil)

	// Every input, including empties and junk, yields a category.
	inputs := []struct{ raw, person string }{
		{"", ""},
		{"unknown", ""},
		{"zone.with.dots", "Some One"},
		{"🏠", "JP"},
		{"home", "nobody"},
	}
	for _, in := range inputs {
		got := c.Categorize(in.raw, in.person)
		switch got {
		case CategoryHome, CategoryOffice, CategoryOther, CategoryUnknown:
		default:
			t.Fatalf("Categorize(%q, %q) returned unexpected %q", in.raw, in.person, got)
		}
	}
}

func TestFriendlyName(t *testing.T) {
	c := testClassifier()

	cases := []struct {
		raw    string
		person string
		want   string
	}{
		{"home", "Alice", "Maison"},
		{"home", "JP", "Maison"},
		{"office", "Alice", "Bureau"},
		{"", "Alice", "Inconnu"},
		{"unknown", "Alice", "Inconnu"},
		{"gym", "Alice", "Salle de sport"},
		// JP's override substitutes the office label.
		{"boulot_jp", "JP", "Bureau"},
		// Alice sees the catalog label instead.
		{"boulot_jp", "Alice", "Boulot JP"},
		// Unresolvable key falls back to the raw identifier.
		{"somewhere", "Alice", "somewhere"},
		// Catalog entry without a friendly name falls back too.
		{"nameless", "Alice", "nameless"},
	}
	for _, tc := range cases {
		if got := c.FriendlyName(tc.raw, tc.person); got != tc.want {
			t.Fatalf("FriendlyName(%q, %q) = %q, want %q", tc.raw, tc.person, got, tc.want)
		}
	}
}

func TestNew_SkipsEmptyOverrideEntries(t *testing.T) {
	c := New(nil, map[string]string{"": "boulot", "jp": ""})
	if got := c.Categorize("boulot_jp", "JP"); got != CategoryOther {
		t.Fatalf("empty override entries must be ignored, got %q", got)
	}
}
