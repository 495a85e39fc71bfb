package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/example/move-calendar/internal/calendar"
	"github.com/example/move-calendar/internal/dispatch"
	"github.com/example/move-calendar/internal/ingest"
	"github.com/example/move-calendar/internal/models"
	"github.com/example/move-calendar/internal/storage"
)

const maxBodyBytes = 1 << 16

// ScheduleCache is the part of *schedule.Cache the API reads and writes.
type ScheduleCache interface {
	Get(ctx context.Context, city, day string) models.ScheduleEntry
	ApplyIncomingUpdate(city, day string, e models.ScheduleEntry) bool
}

// EventPublisher forwards ingested events to the shared feed.
type EventPublisher interface {
	PublishEvent(ctx context.Context, ev models.ScheduleEvent) error
}

type Server struct {
	Sessions *calendar.Registry
	Cache    ScheduleCache
	Store    storage.ScheduleStore
	Events   EventPublisher // nil when no broker is configured
	Hub      *dispatch.Hub
	// Ready reports backing store health for /ready; nil means always ready.
	Ready func(ctx context.Context) error

	logger *slog.Logger
	now    func() time.Time
	mux    *mux.Router
}

// NewServer wires routes and middleware. events may be nil.
func NewServer(sessions *calendar.Registry, cache ScheduleCache, store storage.ScheduleStore, events EventPublisher, hub *dispatch.Hub, logger *slog.Logger) *Server {
	s := &Server{
		Sessions: sessions,
		Cache:    cache,
		Store:    store,
		Events:   events,
		Hub:      hub,
		logger:   logger,
		now:      time.Now,
		mux:      mux.NewRouter(),
	}
	s.registerMiddleware()
	s.routes()
	return s
}

func (s *Server) routes() {
	api := s.mux.PathPrefix("/api/v1").Subrouter()
	api.HandleFunc("/calendar/sessions", s.handleCreateSession).Methods(http.MethodPost)
	api.HandleFunc("/calendar/sessions/{id}/route", s.handleSetRoute).Methods(http.MethodPut)
	api.HandleFunc("/calendar/sessions/{id}/prices", s.handlePrices).Methods(http.MethodGet)
	api.HandleFunc("/calendar/sessions/{id}/clicks", s.handleClick).Methods(http.MethodPost)
	api.HandleFunc("/calendar/sessions/{id}", s.handleDeleteSession).Methods(http.MethodDelete)
	api.HandleFunc("/schedule/{city}/{date}", s.handleScheduleEntry).Methods(http.MethodGet)

	s.mux.HandleFunc("/internal/schedule/events", s.handleScheduleEvent).Methods(http.MethodPost)
	s.mux.HandleFunc("/internal/blocked/{date}", s.handleSetBlocked).Methods(http.MethodPut)
	s.mux.HandleFunc("/ws/schedule", s.handleWS).Methods(http.MethodGet)
	s.mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	}).Methods(http.MethodGet)
	s.mux.HandleFunc("/ready", s.handleReady).Methods(http.MethodGet)
	s.mux.Handle("/metrics", promhttp.Handler())
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) { s.mux.ServeHTTP(w, r) }

type createSessionRequest struct {
	models.Route
	Month string `json:"month,omitempty"`
}

func (s *Server) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	var req createSessionRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := validateRoute(req.Route); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	month, err := s.monthParam(req.Month)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	sess := s.Sessions.Create(req.Route)
	s.load(r.Context(), sess, month)
	writeJSON(w, http.StatusCreated, sess.Snapshot(month))
}

func (s *Server) handleSetRoute(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.session(w, r)
	if !ok {
		return
	}
	var route models.Route
	if err := decodeBody(r, &route); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := validateRoute(route); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	sess.SetRoute(route)
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handlePrices(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.session(w, r)
	if !ok {
		return
	}
	month, err := s.monthParam(r.URL.Query().Get("month"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	s.load(r.Context(), sess, month)
	writeJSON(w, http.StatusOK, sess.Snapshot(month))
}

type clickRequest struct {
	Date string `json:"date"`
}

type clickResponse struct {
	Applied bool `json:"applied"`
	calendar.View
}

func (s *Server) handleClick(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.session(w, r)
	if !ok {
		return
	}
	var req clickRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	day, err := models.ParseDay(req.Date)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	applied := sess.Click(req.Date)
	writeJSON(w, http.StatusOK, clickResponse{Applied: applied, View: sess.Snapshot(models.MonthOf(day))})
}

func (s *Server) handleDeleteSession(w http.ResponseWriter, r *http.Request) {
	if err := s.Sessions.Delete(mux.Vars(r)["id"]); err != nil {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type scheduleEntryResponse struct {
	City string `json:"city"`
	Date string `json:"date"`
	models.ScheduleEntry
}

func (s *Server) handleScheduleEntry(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	if !models.ValidDay(vars["date"]) {
		writeError(w, http.StatusBadRequest, models.ErrInvalidDay.Error())
		return
	}
	e := s.Cache.Get(r.Context(), vars["city"], vars["date"])
	writeJSON(w, http.StatusOK, scheduleEntryResponse{City: vars["city"], Date: vars["date"], ScheduleEntry: e})
}

// handleScheduleEvent accepts one push event. With a broker configured the
// event is forwarded and reaches this process back through the feed;
// otherwise it is persisted and applied in place.
func (s *Server) handleScheduleEvent(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	ev, err := ingest.DecodeEvent(body)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if s.Events != nil {
		if err := s.Events.PublishEvent(r.Context(), ev); err != nil {
			s.logger.Error("publish schedule event failed", "city", ev.City, "date", ev.Date, "error", err)
			writeError(w, http.StatusBadGateway, "publish failed")
			return
		}
		w.WriteHeader(http.StatusAccepted)
		return
	}
	if s.Store != nil {
		if _, err := s.Store.PutEntry(r.Context(), ev.City, ev.Date, ev.Entry()); err != nil {
			s.logger.Error("persist schedule event failed", "city", ev.City, "date", ev.Date, "error", err)
			writeError(w, http.StatusInternalServerError, "persist failed")
			return
		}
	}
	accepted := s.Cache.ApplyIncomingUpdate(ev.City, ev.Date, ev.Entry())
	writeJSON(w, http.StatusOK, map[string]bool{"accepted": accepted})
}

type blockedRequest struct {
	Blocked bool `json:"blocked"`
}

// handleSetBlocked marks a day unavailable for every route. Open sessions see
// it on their next month load.
func (s *Server) handleSetBlocked(w http.ResponseWriter, r *http.Request) {
	day := mux.Vars(r)["date"]
	if !models.ValidDay(day) {
		writeError(w, http.StatusBadRequest, models.ErrInvalidDay.Error())
		return
	}
	var req blockedRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := s.Store.SetBlocked(r.Context(), day, req.Blocked); err != nil {
		s.logger.Error("set blocked day failed", "date", day, "error", err)
		writeError(w, http.StatusInternalServerError, "store failed")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

var upgrader = websocket.Upgrader{ReadBufferSize: 1024, WriteBufferSize: 1024}

// handleWS streams accepted updates. ?city=a,b limits the stream.
func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already replied
		s.logger.Debug("ws upgrade failed", "error", err)
		return
	}
	var cities []string
	for _, c := range strings.Split(r.URL.Query().Get("city"), ",") {
		if c = strings.TrimSpace(c); c != "" {
			cities = append(cities, c)
		}
	}
	remove := s.Hub.Add(conn, cities)
	defer remove()
	dispatch.ReadPump(conn)
}

func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	if s.Ready != nil {
		if err := s.Ready(r.Context()); err != nil {
			http.Error(w, "store not ready", http.StatusServiceUnavailable)
			return
		}
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ready"))
}

func (s *Server) session(w http.ResponseWriter, r *http.Request) (*calendar.Session, bool) {
	sess, err := s.Sessions.Get(mux.Vars(r)["id"])
	if err != nil {
		writeError(w, http.StatusNotFound, err.Error())
		return nil, false
	}
	return sess, true
}

// load fetches month when needed. Failures are reported through the view's
// error field, not the HTTP status.
func (s *Server) load(ctx context.Context, sess *calendar.Session, month models.Month) {
	if !sess.NeedsFetch(month) {
		return
	}
	if err := sess.LoadMonth(ctx, month); err != nil && !errors.Is(err, calendar.ErrSuperseded) {
		s.logger.Warn("month fetch failed", "session_id", sess.ID, "month", month.String(), "error", err)
	}
}

func (s *Server) monthParam(v string) (models.Month, error) {
	if v == "" {
		return models.MonthOf(s.now()), nil
	}
	return models.ParseMonth(v)
}

func validateRoute(r models.Route) error {
	if strings.TrimSpace(r.Pickup) == "" || strings.TrimSpace(r.Dropoff) == "" {
		return errors.New("pickup and dropoff are required")
	}
	switch r.ServiceType {
	case models.ServiceHouseMove, models.ServiceItemTransport:
	default:
		return errors.New("service_type must be house_move or item_transport")
	}
	switch r.DateOption {
	case models.DateFixed, models.DateFlexible:
	default:
		return errors.New("date_option must be fixed or flexible")
	}
	return nil
}

func decodeBody(r *http.Request, v any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
