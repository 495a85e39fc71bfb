package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/example/move-calendar/internal/calendar"
	"github.com/example/move-calendar/internal/dispatch"
	"github.com/example/move-calendar/internal/logging"
	"github.com/example/move-calendar/internal/models"
	"github.com/example/move-calendar/internal/provider"
	"github.com/example/move-calendar/internal/schedule"
	"github.com/example/move-calendar/internal/storage"
)

type testEnv struct {
	srv   *Server
	store *storage.MemoryStore
	cache *schedule.Cache
}

func newTestEnv(t *testing.T, events EventPublisher) *testEnv {
	t.Helper()
	store := storage.NewMemoryStore()
	store.SetCityCharges("berlin", models.CityCharges{Cheap: 50, Standard: 90})
	cache := schedule.NewCache(schedule.StoreFetcher{Store: store}, nil)
	reg := calendar.NewRegistry(&provider.StoreProvider{Schedule: cache, Store: store, Charges: store}, time.Hour, logging.Discard())
	if err := reg.Attach(cache); err != nil {
		t.Fatal(err)
	}
	hub := dispatch.NewHub(logging.Discard())
	t.Cleanup(func() {
		reg.Close()
		hub.Close()
		_ = cache.Shutdown()
	})
	return &testEnv{srv: NewServer(reg, cache, store, events, hub, logging.Discard()), store: store, cache: cache}
}

func (e *testEnv) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if s, ok := body.(string); ok {
			buf.WriteString(s)
		} else if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatal(err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	rr := httptest.NewRecorder()
	e.srv.ServeHTTP(rr, req)
	return rr
}

func decode[T any](t *testing.T, rr *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.NewDecoder(rr.Body).Decode(&v); err != nil {
		t.Fatalf("decode: %v (body %q)", err, rr.Body.String())
	}
	return v
}

func event(city, date string, scheduled bool, version int64) models.ScheduleEvent {
	return models.ScheduleEvent{City: city, Date: date, IsScheduled: scheduled, Version: version}
}

var houseRoute = map[string]string{
	"pickup":       "berlin",
	"dropoff":      "berlin",
	"service_type": "house_move",
	"date_option":  "fixed",
	"month":        "2030-01",
}

func TestCalendarFlow(t *testing.T) {
	env := newTestEnv(t, nil)

	rr := env.do(t, http.MethodPost, "/internal/schedule/events", event("berlin", "2030-01-15", true, 1))
	if rr.Code != http.StatusOK || !decode[map[string]bool](t, rr)["accepted"] {
		t.Fatalf("event not accepted: %d", rr.Code)
	}

	rr = env.do(t, http.MethodPost, "/api/v1/calendar/sessions", houseRoute)
	if rr.Code != http.StatusCreated {
		t.Fatalf("create: status %d body %s", rr.Code, rr.Body.String())
	}
	view := decode[calendar.View](t, rr)
	if len(view.Prices) != 31 || view.Mode != "house_move" || view.Prompt != "Select your moving date" {
		t.Fatalf("unexpected view: prices=%d mode=%s prompt=%q", len(view.Prices), view.Mode, view.Prompt)
	}
	if p := view.Prices["2030-01-15"]; p.Price != 50 || p.ColorCode != models.ColorGreen || !p.Selectable {
		t.Fatalf("scheduled day: %+v", p)
	}
	if p := view.Prices["2030-01-16"]; p.Price != 67.5 || p.ColorCode != models.ColorOrange {
		t.Fatalf("empty day: %+v", p)
	}

	base := "/api/v1/calendar/sessions/" + view.SessionID
	rr = env.do(t, http.MethodPost, base+"/clicks", map[string]string{"date": "2030-01-15"})
	click := decode[struct {
		Applied bool `json:"applied"`
		calendar.View
	}](t, rr)
	if !click.Applied || click.Quote == nil || click.Quote.Price != 50 || click.Prompt != "Moving date selected" {
		t.Fatalf("unexpected click response %+v", click)
	}

	// a pushed update for a loaded day marks the month for refetch
	rr = env.do(t, http.MethodPost, "/internal/schedule/events", event("berlin", "2030-01-16", true, 1))
	if !decode[map[string]bool](t, rr)["accepted"] {
		t.Fatal("second event not accepted")
	}
	rr = env.do(t, http.MethodGet, base+"/prices?month=2030-01", nil)
	view = decode[calendar.View](t, rr)
	if p := view.Prices["2030-01-16"]; p.Price != 50 || p.ColorCode != models.ColorGreen {
		t.Fatalf("pushed update not reflected: %+v", p)
	}

	rr = env.do(t, http.MethodPost, "/internal/schedule/events", event("berlin", "2030-01-16", false, 1))
	if decode[map[string]bool](t, rr)["accepted"] {
		t.Fatal("replayed version accepted")
	}
	if e, _ := env.store.GetEntry(context.Background(), "berlin", "2030-01-16"); !e.IsScheduled {
		t.Fatal("replay overwrote the stored entry")
	}

	rr = env.do(t, http.MethodGet, "/api/v1/schedule/berlin/2030-01-16", nil)
	if rr.Code != http.StatusOK || !decode[scheduleEntryResponse](t, rr).IsScheduled {
		t.Fatalf("schedule read: %d", rr.Code)
	}

	if rr = env.do(t, http.MethodDelete, base, nil); rr.Code != http.StatusNoContent {
		t.Fatalf("delete: %d", rr.Code)
	}
	if rr = env.do(t, http.MethodGet, base+"/prices", nil); rr.Code != http.StatusNotFound {
		t.Fatalf("expected 404 after delete, got %d", rr.Code)
	}
}

func TestRouteChangeResetsSelection(t *testing.T) {
	env := newTestEnv(t, nil)
	view := decode[calendar.View](t, env.do(t, http.MethodPost, "/api/v1/calendar/sessions", houseRoute))
	base := "/api/v1/calendar/sessions/" + view.SessionID
	env.do(t, http.MethodPost, base+"/clicks", map[string]string{"date": "2030-01-20"})

	item := models.Route{Pickup: "berlin", Dropoff: "hamburg", ServiceType: models.ServiceItemTransport, DateOption: models.DateFixed}
	if rr := env.do(t, http.MethodPut, base+"/route", item); rr.Code != http.StatusNoContent {
		t.Fatalf("set route: %d", rr.Code)
	}
	view = decode[calendar.View](t, env.do(t, http.MethodGet, base+"/prices?month=2030-01", nil))
	if view.Mode != "item_transport" || view.Selection.Kind != "none" || view.Prompt != "Select pickup date" {
		t.Fatalf("unexpected view after route change %+v", view)
	}
	if !view.Charges.IsIntercity || view.Charges.DropoffCheap != provider.FallbackCheap {
		t.Fatalf("unexpected charges %+v", view.Charges)
	}
}

func TestBadRequests(t *testing.T) {
	env := newTestEnv(t, nil)
	cases := []struct {
		name   string
		method string
		path   string
		body   any
		want   int
	}{
		{"missing dropoff", http.MethodPost, "/api/v1/calendar/sessions", map[string]string{"pickup": "berlin", "service_type": "house_move", "date_option": "fixed"}, http.StatusBadRequest},
		{"bad service", http.MethodPost, "/api/v1/calendar/sessions", map[string]string{"pickup": "a", "dropoff": "b", "service_type": "boat", "date_option": "fixed"}, http.StatusBadRequest},
		{"bad month", http.MethodPost, "/api/v1/calendar/sessions", map[string]string{"pickup": "a", "dropoff": "b", "service_type": "house_move", "date_option": "fixed", "month": "2030-13"}, http.StatusBadRequest},
		{"unknown field", http.MethodPost, "/api/v1/calendar/sessions", `{"pickup":"a","dropoff":"b","service_type":"house_move","date_option":"fixed","extra":1}`, http.StatusBadRequest},
		{"unknown session", http.MethodGet, "/api/v1/calendar/sessions/nope/prices", nil, http.StatusNotFound},
		{"delete unknown", http.MethodDelete, "/api/v1/calendar/sessions/nope", nil, http.StatusNotFound},
		{"bad date", http.MethodGet, "/api/v1/schedule/berlin/2030-02-30", nil, http.StatusBadRequest},
		{"event missing version", http.MethodPost, "/internal/schedule/events", `{"city":"berlin","date":"2030-01-01","isScheduled":true,"isEmpty":false}`, http.StatusBadRequest},
		{"event not json", http.MethodPost, "/internal/schedule/events", `nope`, http.StatusBadRequest},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if rr := env.do(t, tc.method, tc.path, tc.body); rr.Code != tc.want {
				t.Fatalf("got %d, want %d (body %s)", rr.Code, tc.want, rr.Body.String())
			}
		})
	}
}

type fakePublisher struct{ got []models.ScheduleEvent }

func (f *fakePublisher) PublishEvent(_ context.Context, ev models.ScheduleEvent) error {
	f.got = append(f.got, ev)
	return nil
}

func TestScheduleEvent_ForwardedWhenBrokerConfigured(t *testing.T) {
	pub := &fakePublisher{}
	env := newTestEnv(t, pub)
	rr := env.do(t, http.MethodPost, "/internal/schedule/events", event("berlin", "2030-01-15", true, 3))
	if rr.Code != http.StatusAccepted || len(pub.got) != 1 || pub.got[0].Version != 3 {
		t.Fatalf("expected forwarded event, status=%d got=%+v", rr.Code, pub.got)
	}
	if _, ok := env.cache.Peek("berlin", "2030-01-15"); ok {
		t.Fatal("forwarded event must arrive through the feed, not be applied directly")
	}
}

func TestBlockedDayShowsAfterReload(t *testing.T) {
	env := newTestEnv(t, nil)
	if rr := env.do(t, http.MethodPut, "/internal/blocked/2030-01-10", map[string]bool{"blocked": true}); rr.Code != http.StatusNoContent {
		t.Fatalf("set blocked: %d", rr.Code)
	}
	view := decode[calendar.View](t, env.do(t, http.MethodPost, "/api/v1/calendar/sessions", houseRoute))
	p := view.Prices["2030-01-10"]
	if !p.IsBlocked || p.Price != 0 || p.Selectable || p.ColorCode != models.ColorGrey {
		t.Fatalf("expected blocked day, got %+v", p)
	}
	rr := env.do(t, http.MethodPost, "/api/v1/calendar/sessions/"+view.SessionID+"/clicks", map[string]string{"date": "2030-01-10"})
	if decode[map[string]any](t, rr)["applied"] != false {
		t.Fatal("click on blocked day applied")
	}
}

func TestHealthzSetsRequestID(t *testing.T) {
	env := newTestEnv(t, nil)
	rr := env.do(t, http.MethodGet, "/healthz", nil)
	if rr.Code != http.StatusOK || rr.Header().Get("X-Request-ID") == "" {
		t.Fatalf("status=%d request id=%q", rr.Code, rr.Header().Get("X-Request-ID"))
	}
}
