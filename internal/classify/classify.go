// Package classify maps raw presence locations to semantic categories
// and display labels. All functions are total: unresolvable input
// degrades to CategoryUnknown / CategoryOther, never an error.
package classify

import (
	"strings"

	"presencecal/internal/model"
)

// Category is the semantic bucket a location falls into.
type Category string

const (
	CategoryHome    Category = "home"
	CategoryOffice  Category = "office"
	CategoryOther   Category = "other"
	CategoryUnknown Category = "unknown"
)

// Fixed display labels. The zone catalog never overrides these.
const (
	LabelHome    = "Maison"
	LabelOffice  = "Bureau"
	LabelUnknown = "Inconnu"
)

// zonePrefix joins a raw location key to its catalog entity id.
const zonePrefix = "zone."

// Classifier resolves raw locations against the zone catalog and the
// configured per-person overrides. It is immutable once built and safe
// for concurrent use.
type Classifier struct {
	zones map[string]model.Zone
	// overrides maps a lowercased person identity to a lowercased
	// substring; a location (or its zone label) containing that
	// substring counts as that person's office.
	overrides map[string]string
}

// New builds a Classifier from the session's zone catalog and the
// configured override table {personIdentity -> substring}.
func New(zones []model.Zone, overrides map[string]string) *Classifier {
	c := &Classifier{
		zones:     make(map[string]model.Zone, len(zones)),
		overrides: make(map[string]string, len(overrides)),
	}
	for _, z := range zones {
		c.zones[z.ID] = z
	}
	for person, substr := range overrides {
		if person == "" || substr == "" {
			continue
		}
		c.overrides[strings.ToLower(person)] = strings.ToLower(substr)
	}
	return c
}

// Categorize maps a raw location and the observed person's display name
// to a Category. Rules apply in order, first match wins:
//
//  1. empty or "unknown"                       -> unknown
//  2. "home"                                   -> home
//  3. "office"                                 -> office
//  4. person has an override and the raw key
//     or its zone label contains the substring -> office
//  5. anything else                            -> other
func (c *Classifier) Categorize(rawLocation, personName string) Category {
	if rawLocation == "" || rawLocation == "unknown" {
		return CategoryUnknown
	}
	if rawLocation == "home" {
		return CategoryHome
	}
	if rawLocation == "office" {
		return CategoryOffice
	}
	if c.matchesOverride(rawLocation, personName) {
		return CategoryOffice
	}
	return CategoryOther
}

// FriendlyName resolves the display label for a raw location.
// home/office/unknown have fixed labels regardless of the catalog; a
// zone match returns its friendly name, except that a person-override
// hit substitutes the office label. Unresolvable keys fall back to the
// raw identifier.
func (c *Classifier) FriendlyName(rawLocation, personName string) string {
	if rawLocation == "" || rawLocation == "unknown" {
		return LabelUnknown
	}
	if rawLocation == "home" {
		return LabelHome
	}
	if rawLocation == "office" {
		return LabelOffice
	}
	if c.matchesOverride(rawLocation, personName) {
		return LabelOffice
	}
	if z, ok := c.zones[zonePrefix+rawLocation]; ok && z.FriendlyName != "" {
		return z.FriendlyName
	}
	return rawLocation
}

// matchesOverride reports whether rawLocation (or its zone friendly
// name) contains the override substring configured for personName.
// The identity comparison is case-insensitive.
func (c *Classifier) matchesOverride(rawLocation, personName string) bool {
	if personName == "" {
		return false
	}
	substr, ok := c.overrides[strings.ToLower(personName)]
	if !ok {
		return false
	}
	if strings.Contains(strings.ToLower(rawLocation), substr) {
		return true
	}
	if z, ok := c.zones[zonePrefix+rawLocation]; ok {
		if strings.Contains(strings.ToLower(z.FriendlyName), substr) {
			return true
		}
	}
	return false
}
