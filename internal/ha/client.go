// Package ha is a thin client for the Home Assistant REST API: the
// state catalog (persons, zones) and the history feed the presence
// model is derived from. No retries are attempted; callers decide how
// to degrade.
package ha

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	appLog "presencecal/internal/log"
	"presencecal/internal/model"
)

// instantFormat is the local-time, second-precision format the history
// endpoint expects for its inclusive window bounds.
const instantFormat = "2006-01-02T15:04:05"

// Entity is one /api/states entry. Only the attributes the presence
// model needs are decoded; everything else is dropped.
type Entity struct {
	EntityID   string     `json:"entity_id"`
	State      string     `json:"state"`
	Attributes Attributes `json:"attributes"`
}

// Attributes is the subset of entity attributes used here. Optional
// numeric fields are pointers so absence is distinguishable from zero.
type Attributes struct {
	FriendlyName   string   `json:"friendly_name,omitempty"`
	Latitude       *float64 `json:"latitude,omitempty"`
	Longitude      *float64 `json:"longitude,omitempty"`
	Radius         *float64 `json:"radius,omitempty"`
	DeviceTrackers []string `json:"device_trackers,omitempty"`
}

// StateChange is one history sample for an entity.
type StateChange struct {
	EntityID    string     `json:"entity_id"`
	State       string     `json:"state"`
	LastChanged time.Time  `json:"last_changed"`
	LastUpdated time.Time  `json:"last_updated"`
	Attributes  Attributes `json:"attributes"`
}

// Timestamp returns the sample's observation time, preferring
// last_changed like the upstream feed does.
func (s StateChange) Timestamp() time.Time {
	if !s.LastChanged.IsZero() {
		return s.LastChanged
	}
	return s.LastUpdated
}

// Client talks to one Home Assistant instance.
type Client struct {
	baseURL string
	token   string
	client  *http.Client
}

// NewClient creates a Client for baseURL (e.g. "http://localhost:8123")
// authenticating with a long-lived access token.
func NewClient(baseURL, token string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		client: &http.Client{
			Timeout: 15 * time.Second,
		},
	}
}

// States fetches the full entity state list.
func (c *Client) States(ctx context.Context) ([]Entity, error) {
	var entities []Entity
	if err := c.getJSON(ctx, "/api/states", nil, &entities); err != nil {
		return nil, fmt.Errorf("ha: states: %w", err)
	}
	return entities, nil
}

// Persons returns the person catalog in feed order. A missing friendly
// name falls back to the entity id, never an error.
func (c *Client) Persons(ctx context.Context) ([]model.Person, []Entity, error) {
	entities, err := c.States(ctx)
	if err != nil {
		return nil, nil, err
	}

	persons := make([]model.Person, 0)
	raw := make([]Entity, 0)
	for _, e := range entities {
		if !strings.HasPrefix(e.EntityID, "person.") {
			continue
		}
		name := e.Attributes.FriendlyName
		if name == "" {
			appLog.Warn("person without friendly name, using entity id", "entity_id", e.EntityID)
			name = e.EntityID
		}
		persons = append(persons, model.Person{ID: e.EntityID, DisplayName: name})
		raw = append(raw, e)
	}
	return persons, raw, nil
}

// Zones returns the zone catalog in feed order.
func (c *Client) Zones(ctx context.Context) ([]model.Zone, error) {
	entities, err := c.States(ctx)
	if err != nil {
		return nil, err
	}

	zones := make([]model.Zone, 0)
	for _, e := range entities {
		if !strings.HasPrefix(e.EntityID, "zone.") {
			continue
		}
		z := model.Zone{ID: e.EntityID, FriendlyName: e.Attributes.FriendlyName}
		if e.Attributes.Latitude != nil {
			z.Latitude = *e.Attributes.Latitude
		}
		if e.Attributes.Longitude != nil {
			z.Longitude = *e.Attributes.Longitude
		}
		if e.Attributes.Radius != nil {
			z.Radius = *e.Attributes.Radius
		}
		zones = append(zones, z)
	}
	return zones, nil
}

// History fetches the raw state changes for one entity within the
// inclusive [start, end] window. The endpoint returns one list per
// requested entity; only the first is relevant here.
func (c *Client) History(ctx context.Context, entityID string, start, end time.Time) ([]StateChange, error) {
	if entityID == "" {
		return nil, errors.New("ha: history: entity id is empty")
	}

	path := "/api/history/period/" + url.PathEscape(start.Format(instantFormat))
	q := url.Values{}
	q.Set("filter_entity_id", entityID)
	q.Set("end_time", end.Format(instantFormat))

	var lists [][]StateChange
	if err := c.getJSON(ctx, path, q, &lists); err != nil {
		return nil, fmt.Errorf("ha: history %s: %w", entityID, err)
	}
	if len(lists) == 0 {
		return nil, nil
	}
	return lists[0], nil
}

// Locate resolves a device tracker's coordinates at a given instant by
// asking the history endpoint for the tracker's state around that time.
// It satisfies the reducer's TrackerLocator contract: failures and
// missing coordinates report ok=false instead of an error.
func (c *Client) Locate(ctx context.Context, trackerID string, at time.Time) (lat, lon float64, ok bool) {
	samples, err := c.History(ctx, trackerID, at, at)
	if err != nil {
		appLog.Warn("tracker lookup failed", "tracker", trackerID, "err", err)
		return 0, 0, false
	}
	if len(samples) == 0 {
		return 0, 0, false
	}

	last := samples[len(samples)-1]
	if last.Attributes.Latitude == nil || last.Attributes.Longitude == nil {
		return 0, 0, false
	}
	return *last.Attributes.Latitude, *last.Attributes.Longitude, true
}

// getJSON performs an authenticated GET and decodes the JSON body.
func (c *Client) getJSON(ctx context.Context, path string, query url.Values, out any) error {
	u := c.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("Content-Type", "application/json")

	appLog.Debug("ha request", "url", redactURL(u))

	resp, err := c.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		// Drain a little of the body for the log, then discard.
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 256))
		appLog.Error("ha non-OK response", errors.New(resp.Status),
			"url", redactURL(u), "status", resp.StatusCode, "body", string(snippet))
		return errors.New(resp.Status)
	}

	return json.NewDecoder(resp.Body).Decode(out)
}

// redactURL strips query strings from a URL before it reaches the logs.
// The token travels in a header, but entity ids and window bounds are
// noise there too.
func redactURL(u string) string {
	parsed, err := url.Parse(u)
	if err != nil {
		return "ha://...(redacted)"
	}
	parsed.RawQuery = ""
	return parsed.String()
}
