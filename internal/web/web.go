package web

import (
	"context"
	"crypto/subtle"
	"embed"
	"encoding/json"
	"io/fs"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"presencecal/internal/calendar"
	"presencecal/internal/classify"
	"presencecal/internal/config"
	"presencecal/internal/export"
	appLog "presencecal/internal/log"
	"presencecal/internal/model"
	"presencecal/internal/presence"
	"presencecal/internal/session"
)

// instantFormat matches the history window bounds on the wire.
const instantFormat = "2006-01-02T15:04:05"

// weekDays are the Monday-first column headers.
var weekDays = []string{"Lun", "Mar", "Mer", "Jeu", "Ven", "Sam", "Dim"}

// Server provides the HTTP API and the embedded calendar UI.
type Server struct {
	cfg   *config.Config
	sess  *session.Session
	feed  session.Provider
	loc   *time.Location
	debug bool
	mux   *http.ServeMux

	// In-memory cache for /api/history responses to avoid repeating
	// the upstream fetch/reduce work on every HTTP request. Month data
	// is already held by the session; this covers only the raw window
	// endpoint.
	historyMu    sync.RWMutex
	historyCache map[string]*historyCache
}

// historyCache holds one cached /api/history response and its timestamp.
type historyCache struct {
	resp      []historyDayDTO
	updatedAt time.Time
}

const historyCacheTTL = 30 * time.Second

// embeddedStatic contains the static calendar UI served at /.
//
//go:embed all:static
var embeddedStatic embed.FS

// NewServer constructs a new Server around an initialized session.
// feed serves the raw /api/history passthrough; loc is the display
// timezone.
func NewServer(cfg *config.Config, sess *session.Session, feed session.Provider, loc *time.Location, debug bool) *Server {
	if loc == nil {
		loc = time.Local
	}
	s := &Server{
		cfg:          cfg,
		sess:         sess,
		feed:         feed,
		loc:          loc,
		debug:        debug,
		mux:          http.NewServeMux(),
		historyCache: map[string]*historyCache{},
	}
	s.registerRoutes()
	return s
}

// Handler returns the underlying http.Handler for this server.
func (s *Server) Handler() http.Handler {
	h := http.Handler(s.mux)
	if s.basicAuthEnabled() {
		appLog.Info("HTTP basic auth enabled", "listen", "http://"+s.cfg.Listen)
		return s.basicAuthMiddleware(h)
	}
	return h
}

func (s *Server) basicAuthEnabled() bool {
	if s.cfg == nil || s.cfg.BasicAuth == nil {
		return false
	}
	// Empty credentials disable auth rather than locking everyone out.
	if s.cfg.BasicAuth.Username == "" || s.cfg.BasicAuth.Password == "" {
		return false
	}
	return true
}

// basicAuthMiddleware wraps all handlers except /health with HTTP Basic Auth.
func (s *Server) basicAuthMiddleware(next http.Handler) http.Handler {
	username := s.cfg.BasicAuth.Username
	password := s.cfg.BasicAuth.Password

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// /health stays unauthenticated for probes.
		if r.URL.Path == "/health" {
			next.ServeHTTP(w, r)
			return
		}

		u, p, ok := r.BasicAuth()
		if !ok || !secureCompare(u, username) || !secureCompare(p, password) {
			w.Header().Set("WWW-Authenticate", `Basic realm="PresenceCal", charset="UTF-8"`)
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// secureCompare compares two strings in constant time.
func secureCompare(a, b string) bool {
	if len(a) != len(b) {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}

// Serve runs the HTTP server until ctx is canceled, then shuts down
// gracefully.
func (s *Server) Serve(ctx context.Context) error {
	srv := &http.Server{
		Addr:    s.cfg.Listen,
		Handler: s.Handler(),
	}

	errCh := make(chan error, 1)
	go func() {
		appLog.Info("starting HTTP server", "listen", "http://"+s.cfg.Listen, "debug", s.debug)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}

func (s *Server) registerRoutes() {
	s.mux.HandleFunc("/health", s.handleHealth)
	s.mux.HandleFunc("/api/persons", s.handlePersons)
	s.mux.HandleFunc("/api/zones", s.handleZones)
	s.mux.HandleFunc("/api/history", s.handleHistory)
	s.mux.HandleFunc("/api/month", s.handleMonth)
	s.mux.HandleFunc("/api/export.ics", s.handleExport)
	s.mux.HandleFunc("/preview.png", s.handlePreview)

	// Everything else is the embedded static UI.
	s.mux.Handle("/", s.staticFileServer())
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

// entityDTO is the catalog wire shape for persons and zones.
type entityDTO struct {
	EntityID   string        `json:"entity_id"`
	Attributes attributesDTO `json:"attributes"`
}

type attributesDTO struct {
	FriendlyName string `json:"friendly_name,omitempty"`
}

func (s *Server) handlePersons(w http.ResponseWriter, _ *http.Request) {
	view := s.sess.Snapshot()
	out := make([]entityDTO, 0, len(view.Persons))
	for _, p := range view.Persons {
		out = append(out, entityDTO{
			EntityID:   p.ID,
			Attributes: attributesDTO{FriendlyName: p.DisplayName},
		})
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleZones(w http.ResponseWriter, _ *http.Request) {
	view := s.sess.Snapshot()
	out := make([]entityDTO, 0, len(view.Zones))
	for _, z := range view.Zones {
		out = append(out, entityDTO{
			EntityID:   z.ID,
			Attributes: attributesDTO{FriendlyName: z.FriendlyName},
		})
	}
	writeJSON(w, http.StatusOK, out)
}

// historyDayDTO is the /api/history wire shape: one pre-aggregated
// entry per day with ranked locations.
type historyDayDTO struct {
	Date         string                `json:"date"`
	State        string                `json:"state"`
	TopLocations []model.LocationShare `json:"top_locations"`
}

// handleHistory serves the raw aggregated history for one person over
// an arbitrary window.
//
// GET /api/history?entity_id=person.jp&start=2025-06-01T00:00:00&end=2025-06-30T23:59:59
func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	entityID := q.Get("entity_id")
	start, err1 := time.ParseInLocation(instantFormat, q.Get("start"), s.loc)
	end, err2 := time.ParseInLocation(instantFormat, q.Get("end"), s.loc)
	if entityID == "" || err1 != nil || err2 != nil {
		writeError(w, http.StatusBadRequest, "missing or malformed parameters")
		return
	}

	cacheKey := entityID + "|" + q.Get("start") + "|" + q.Get("end")
	now := time.Now()

	// Fast path: return the cached response while it is still fresh.
	s.historyMu.RLock()
	hc := s.historyCache[cacheKey]
	s.historyMu.RUnlock()
	if hc != nil && now.Sub(hc.updatedAt) < historyCacheTTL {
		writeJSON(w, http.StatusOK, hc.resp)
		return
	}

	events, err := s.feed.DayEvents(r.Context(), entityID, start, end)
	if err != nil {
		appLog.Error("api history fetch failed", err, "entity_id", entityID)
		writeError(w, http.StatusBadGateway, "history fetch failed")
		return
	}

	summaries := presence.Aggregate(events, presence.Config{TopLocations: s.cfg.TopLocations})

	// Emit in date order; the events slice already is.
	out := make([]historyDayDTO, 0, len(events))
	for _, ev := range events {
		summary := summaries[ev.Date]
		out = append(out, historyDayDTO{
			Date:         ev.Date,
			State:        summary.PrimaryState,
			TopLocations: summary.TopLocations,
		})
	}

	s.historyMu.Lock()
	s.historyCache[cacheKey] = &historyCache{resp: out, updatedAt: time.Now()}
	s.historyMu.Unlock()

	writeJSON(w, http.StatusOK, out)
}

// monthResponse is the assembled view-model the UI renders from.
type monthResponse struct {
	Year     int         `json:"year"`
	Month    int         `json:"month"`
	WeekDays []string    `json:"week_days"`
	Grid     [][]cellDTO `json:"grid"`

	Persons  []entityDTO `json:"persons"`
	Selected string      `json:"selected"`
	Loading  bool        `json:"loading"`

	// Days maps person id -> day key -> summary with resolved labels.
	Days  map[string]map[string]dayDTO `json:"days"`
	Stats statsDTO                     `json:"stats"`
}

type cellDTO struct {
	// Date is empty for padding cells.
	Date string `json:"date,omitempty"`
	Day  int    `json:"day,omitempty"`
}

type dayDTO struct {
	State        string     `json:"state"`
	Category     string     `json:"category"`
	Label        string     `json:"label"`
	TopLocations []shareDTO `json:"top_locations"`
}

type shareDTO struct {
	Location   string  `json:"location"`
	Label      string  `json:"label"`
	Category   string  `json:"category"`
	Count      int     `json:"count"`
	Duration   float64 `json:"duration"`
	Percentage float64 `json:"percentage"`
}

// statsDTO summarizes the selected person's month.
type statsDTO struct {
	HomeDays   int `json:"home_days"`
	OfficeDays int `json:"office_days"`
	OtherDays  int `json:"other_days"`
	TotalDays  int `json:"total_days"`
}

// handleMonth serves the calendar view-model.
//
// GET /api/month                        current month
// GET /api/month?nav=prev|next          navigate and reload
// GET /api/month?year=2025&month=6      explicit month
// GET /api/month?person=person.jp       switch the selected person
func (s *Server) handleMonth(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	if person := q.Get("person"); person != "" {
		s.sess.SelectPerson(person)
	}

	switch q.Get("nav") {
	case "prev":
		if err := s.sess.Navigate(r.Context(), -1); err != nil {
			appLog.Error("month navigation failed", err, "nav", "prev")
		}
	case "next":
		if err := s.sess.Navigate(r.Context(), 1); err != nil {
			appLog.Error("month navigation failed", err, "nav", "next")
		}
	default:
		if y := q.Get("year"); y != "" {
			year := parseIntDefault(y, 0)
			month := parseIntDefault(q.Get("month"), 0)
			if year != 0 && month >= 1 && month <= 12 {
				if err := s.sess.SetMonth(r.Context(), year, time.Month(month)); err != nil {
					appLog.Error("month load failed", err, "year", year, "month", month)
				}
			}
		}
	}

	view := s.sess.Snapshot()
	writeJSON(w, http.StatusOK, s.buildMonthResponse(view))
}

func (s *Server) buildMonthResponse(view session.View) monthResponse {
	cls := s.sess.Classifier()
	grid := calendar.BuildMonthGrid(view.Year, view.Month, s.loc)

	cells := make([][]cellDTO, 0, len(grid))
	for _, week := range grid {
		row := make([]cellDTO, 0, 7)
		for _, cell := range week {
			if cell.Empty() {
				row = append(row, cellDTO{})
				continue
			}
			row = append(row, cellDTO{Date: cell.Key(), Day: cell.Date.Day()})
		}
		cells = append(cells, row)
	}

	nameByID := make(map[string]string, len(view.Persons))
	persons := make([]entityDTO, 0, len(view.Persons))
	for _, p := range view.Persons {
		nameByID[p.ID] = p.DisplayName
		persons = append(persons, entityDTO{
			EntityID:   p.ID,
			Attributes: attributesDTO{FriendlyName: p.DisplayName},
		})
	}

	days := make(map[string]map[string]dayDTO, len(view.Data))
	for personID, personDays := range view.Data {
		personName := nameByID[personID]
		resolved := make(map[string]dayDTO, len(personDays))
		for key, summary := range personDays {
			resolved[key] = resolveDay(summary, personName, cls)
		}
		days[personID] = resolved
	}

	return monthResponse{
		Year:     view.Year,
		Month:    int(view.Month),
		WeekDays: weekDays,
		Grid:     cells,
		Persons:  persons,
		Selected: view.Selected,
		Loading:  view.Loading,
		Days:     days,
		Stats:    monthStats(view, nameByID, cls),
	}
}

func resolveDay(summary model.DayPresenceSummary, personName string, cls *classify.Classifier) dayDTO {
	shares := make([]shareDTO, 0, len(summary.TopLocations))
	for _, share := range summary.TopLocations {
		shares = append(shares, shareDTO{
			Location:   share.Location,
			Label:      cls.FriendlyName(share.Location, personName),
			Category:   string(cls.Categorize(share.Location, personName)),
			Count:      share.Count,
			Duration:   share.DurationMinutes,
			Percentage: share.Percentage,
		})
	}
	return dayDTO{
		State:        summary.PrimaryState,
		Category:     string(cls.Categorize(summary.PrimaryState, personName)),
		Label:        cls.FriendlyName(summary.PrimaryState, personName),
		TopLocations: shares,
	}
}

// monthStats counts the selected person's days by primary category.
func monthStats(view session.View, nameByID map[string]string, cls *classify.Classifier) statsDTO {
	var stats statsDTO
	personDays, ok := view.Data[view.Selected]
	if !ok {
		return stats
	}
	personName := nameByID[view.Selected]

	for _, summary := range personDays {
		if len(summary.TopLocations) == 0 {
			continue
		}
		stats.TotalDays++
		switch cls.Categorize(summary.TopLocations[0].Location, personName) {
		case classify.CategoryHome:
			stats.HomeDays++
		case classify.CategoryOffice:
			stats.OfficeDays++
		default:
			stats.OtherDays++
		}
	}
	return stats
}

// handleExport serves the month as an iCalendar feed.
//
// GET /api/export.ics?person=person.jp (default: selected person)
func (s *Server) handleExport(w http.ResponseWriter, r *http.Request) {
	view := s.sess.Snapshot()

	personID := r.URL.Query().Get("person")
	if personID == "" {
		personID = view.Selected
	}

	var person model.Person
	found := false
	for _, p := range view.Persons {
		if p.ID == personID {
			person = p
			found = true
			break
		}
	}
	if !found {
		writeError(w, http.StatusNotFound, "unknown person")
		return
	}

	body, err := export.MonthCalendar(person, view.Data[personID], s.sess.Classifier(), s.loc)
	if err != nil {
		appLog.Error("ical export failed", err, "person", personID)
		writeError(w, http.StatusInternalServerError, "export failed")
		return
	}

	w.Header().Set("Content-Type", "text/calendar; charset=utf-8")
	w.Header().Set("Content-Disposition", `attachment; filename="presence.ics"`)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(body))
}

// handlePreview serves the last rendered PNG snapshot from disk.
// Path rule matches the snapshot pipeline in cmd/presencecal:
//   - default: cfg.SnapshotPath
//   - debug:   ./cache/preview.png
func (s *Server) handlePreview(w http.ResponseWriter, r *http.Request) {
	previewPath := s.cfg.SnapshotPath
	if s.debug {
		previewPath = "./cache/preview.png"
	}
	http.ServeFile(w, r, previewPath)
}

// staticFileServer serves the embedded UI from internal/web/static.
func (s *Server) staticFileServer() http.Handler {
	sub, err := fs.Sub(embeddedStatic, "static")
	if err != nil {
		appLog.Error("failed to initialize embedded static filesystem", err)
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, "static UI not available", http.StatusServiceUnavailable)
		})
	}

	fileServer := http.FileServer(http.FS(sub))

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// API paths never fall through to the static UI; a missing
		// handler must 404, not return HTML.
		if r.URL.Path == "/api" || strings.HasPrefix(r.URL.Path, "/api/") {
			http.NotFound(w, r)
			return
		}
		fileServer.ServeHTTP(w, r)
	})
}

func parseIntDefault(s string, def int) int {
	if s == "" {
		return def
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return def
	}
	return n
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		appLog.Error("failed to write JSON response", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	type errResp struct {
		Error string `json:"error"`
	}
	writeJSON(w, status, errResp{Error: msg})
}
