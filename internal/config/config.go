package config

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// BasicAuthConfig holds HTTP Basic Auth credentials for the Web UI/API.
type BasicAuthConfig struct {
	Username string `yaml:"username" json:"username"`
	Password string `yaml:"password" json:"password"`
}

// HomeAssistantConfig points at the upstream presence feed.
type HomeAssistantConfig struct {
	// URL is the Home Assistant base URL, e.g. "http://localhost:8123".
	URL string `yaml:"url" json:"url"`
	// Token is a long-lived access token.
	Token string `yaml:"token" json:"token"`
}

// Config is the top-level application configuration.
type Config struct {
	// Listen is the HTTP listen address for the Web UI and API.
	Listen string `yaml:"listen" json:"listen"`

	// Timezone is the IANA display timezone (e.g. "Europe/Paris").
	// Day keys and the working window are evaluated in it.
	Timezone string `yaml:"timezone" json:"timezone"`

	// HomeAssistant is the upstream feed endpoint.
	HomeAssistant HomeAssistantConfig `yaml:"home_assistant" json:"home_assistant"`

	// RefreshCron is a cron-style schedule (e.g. "*/15 * * * *") for
	// refreshing the catalogs and the currently displayed month.
	RefreshCron string `yaml:"refresh" json:"refresh"`

	// WorkStart / WorkEnd bound the working window as "HH:MM".
	WorkStart string `yaml:"work_start" json:"work_start"`
	WorkEnd   string `yaml:"work_end" json:"work_end"`

	// Workweek is an RRULE selecting the days aggregated inside the
	// working window; other days aggregate over the whole day.
	Workweek string `yaml:"workweek" json:"workweek"`

	// Overrides maps a person identity (friendly name, matched
	// case-insensitively) to a substring; locations or zone labels
	// containing it classify as that person's office.
	Overrides map[string]string `yaml:"overrides" json:"overrides"`

	// DefaultPerson is the identity preselected in the UI. If no
	// roster entry matches, the first person is used.
	DefaultPerson string `yaml:"default_person" json:"default_person"`

	// TopLocations caps the ranked per-day location list.
	TopLocations int `yaml:"top_locations" json:"top_locations"`

	// SnapshotPath is where the PNG preview of the calendar page is
	// written; served back at /preview.png.
	SnapshotPath string `yaml:"snapshot_path" json:"snapshot_path"`

	// BasicAuth, if non-nil, enables HTTP Basic Authentication on all
	// endpoints except /health.
	BasicAuth *BasicAuthConfig `yaml:"basic_auth,omitempty" json:"basic_auth,omitempty"`
}

// DefaultConfig returns an in-memory default configuration.
func DefaultConfig() *Config {
	return &Config{
		Listen:   "127.0.0.1:8080",
		Timezone: "Europe/Paris",
		HomeAssistant: HomeAssistantConfig{
			URL: "http://localhost:8123",
		},
		RefreshCron:   "*/15 * * * *",
		WorkStart:     "09:00",
		WorkEnd:       "18:00",
		Workweek:      "FREQ=WEEKLY;BYDAY=MO,TU,WE,TH,FR",
		Overrides:     map[string]string{"jp": "boulot"},
		DefaultPerson: "jp",
		TopLocations:  3,
		SnapshotPath:  "/var/lib/presencecal/preview.png",
		BasicAuth:     nil,
	}
}

// Normalize fills in missing/zero values with sensible defaults so that
// partially-filled configs still behave correctly.
func (c *Config) Normalize() {
	if c.Listen == "" {
		c.Listen = "127.0.0.1:8080"
	}
	if c.Timezone == "" {
		c.Timezone = "Europe/Paris"
	}
	if c.HomeAssistant.URL == "" {
		c.HomeAssistant.URL = "http://localhost:8123"
	}
	if c.RefreshCron == "" {
		c.RefreshCron = "*/15 * * * *"
	}
	if c.WorkStart == "" {
		c.WorkStart = "09:00"
	}
	if c.WorkEnd == "" {
		c.WorkEnd = "18:00"
	}
	if c.Workweek == "" {
		c.Workweek = "FREQ=WEEKLY;BYDAY=MO,TU,WE,TH,FR"
	}
	if c.Overrides == nil {
		c.Overrides = map[string]string{"jp": "boulot"}
	}
	if c.DefaultPerson == "" {
		c.DefaultPerson = "jp"
	}
	if c.TopLocations <= 0 {
		c.TopLocations = 3
	}
	if c.SnapshotPath == "" {
		c.SnapshotPath = "/var/lib/presencecal/preview.png"
	}
}

// Load loads configuration from the given YAML path.
//
// Behavior:
//   - If the file does not exist:
//   - create parent directory if needed
//   - write a default config with 0600 perms
//   - return the default config
//   - If the file exists:
//   - read YAML and unmarshal into Config
//   - normalize defaults
func Load(path string) (*Config, error) {
	if path == "" {
		return nil, errors.New("config path is empty")
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			// First run: create default config file.
			cfg := DefaultConfig()
			if err := Save(path, cfg); err != nil {
				// Even if save fails, return cfg with error so caller can decide.
				return cfg, err
			}
			return cfg, nil
		}
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}
	cfg.Normalize()

	return &cfg, nil
}

// Save writes the given configuration to the specified path.
//
// The token lives in this file, so it is written atomically (temp file
// + rename) with 0600 permissions, under a 0700 parent directory.
func Save(path string, cfg *Config) error {
	if path == "" {
		return errors.New("config path is empty")
	}
	if cfg == nil {
		return errors.New("config is nil")
	}

	cfg.Normalize()

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return err
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}

	tmp, err := os.CreateTemp(dir, ".presencecal-config-*.tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()

	// Ensure we clean up temp file on error.
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}

	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}

	if err := os.Chmod(tmpName, 0o600); err != nil {
		return err
	}

	if err := os.Rename(tmpName, path); err != nil {
		return err
	}

	return nil
}

// Save delegates to the package-level Save function.
func (c *Config) Save(path string) error {
	return Save(path, c)
}
