package farmcalendar

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/compostwatch/compostwatch/pkg/types"
)

var now = time.Date(2025, 7, 1, 12, 34, 56, 0, time.UTC)

func TestNewObservation(t *testing.T) {
	obs, err := NewObservation(types.VarTemperature, types.DailyStat{Min: 21, Max: 55.5, Avg: 40.25}, "temp-act", now)
	if err != nil {
		t.Fatalf("NewObservation() error = %v", err)
	}
	if obs.Type != "Observation" || obs.HasResult.Type != "QuantityValue" {
		t.Errorf("types = %q/%q", obs.Type, obs.HasResult.Type)
	}
	if obs.ObservedProperty != "https://vocab.nerc.ac.uk/standard_name/air_temperature/" {
		t.Errorf("ObservedProperty = %q", obs.ObservedProperty)
	}
	if obs.HasResult.Unit != "http://qudt.org/vocab/unit/DEG_C" || obs.HasResult.HasValue != 40.25 {
		t.Errorf("HasResult = %+v", obs.HasResult)
	}
	if obs.ActivityType != "urn:farmcalendar:FarmActivityType:temp-act" {
		t.Errorf("ActivityType = %q", obs.ActivityType)
	}
	if obs.Details != "Values range from MIN: 21.0 to MAX: 55.5" {
		t.Errorf("Details = %q", obs.Details)
	}
	if obs.PhenomenonTime != "2025-07-01T12:34Z" || obs.HasEndDatetime != obs.PhenomenonTime {
		t.Errorf("times = %q/%q", obs.PhenomenonTime, obs.HasEndDatetime)
	}

	b, _ := json.Marshal(obs)
	var generic map[string]any
	_ = json.Unmarshal(b, &generic)
	if generic["@type"] != "Observation" {
		t.Errorf("json @type = %v", generic["@type"])
	}
}

func TestNewObservation_Vocabulary(t *testing.T) {
	tests := []struct {
		variable string
		unit     string
	}{
		{types.VarMoisture, "http://qudt.org/vocab/unit/PERCENT"},
		{types.VarPH, "http://qudt.org/vocab/unit/UNITLESS"},
	}
	for _, tt := range tests {
		obs, err := NewObservation(tt.variable, types.DailyStat{}, "x", now)
		if err != nil {
			t.Fatalf("%s: %v", tt.variable, err)
		}
		if obs.HasResult.Unit != tt.unit {
			t.Errorf("%s unit = %q, want %q", tt.variable, obs.HasResult.Unit, tt.unit)
		}
	}
	if _, err := NewObservation("nitrogen", types.DailyStat{}, "x", now); err == nil {
		t.Error("expected error for unknown variable")
	}
}

// calendarServer fakes the gatekeeper login and the calendar API.
func calendarServer(t *testing.T, logins *atomic.Int32, posted chan<- Observation) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/api/login/", func(w http.ResponseWriter, r *http.Request) {
		var creds map[string]string
		_ = json.NewDecoder(r.Body).Decode(&creds)
		if creds["password"] != "fc-secret" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		logins.Add(1)
		_ = json.NewEncoder(w).Encode(map[string]string{"access": "gk-token", "refresh": "r"})
	})
	mux.HandleFunc("/CompostOperations/", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer gk-token" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		_, _ = w.Write([]byte(`{"@graph": [
			{"@id": "urn:farmcalendar:CompostOperation:op-1", "isOperatedOn": {"@id": "urn:farmcalendar:CompostPile:Pile A"}},
			{"@id": "urn:farmcalendar:CompostOperation:op-2", "isOperatedOn": {"@id": "urn:farmcalendar:CompostPile:Pile B"}}
		]}`))
	})
	mux.HandleFunc("/CompostOperations/op-1/Observations/", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		var obs Observation
		if err := json.NewDecoder(r.Body).Decode(&obs); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		posted <- obs
		w.WriteHeader(http.StatusCreated)
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func TestClient_PostObservation(t *testing.T) {
	var logins atomic.Int32
	posted := make(chan Observation, 2)
	srv := calendarServer(t, &logins, posted)

	gk := NewGatekeeper(srv.URL+"/api/login/", "agent", func() string { return "fc-secret" }, time.Hour, time.Second)
	c := NewClient(srv.URL+"/", gk, time.Second)

	obs, _ := NewObservation(types.VarPH, types.DailyStat{Min: 6.5, Max: 7.5, Avg: 7}, "ph-act", now)
	for i := 0; i < 2; i++ {
		if err := c.PostObservation(context.Background(), "op-1", obs); err != nil {
			t.Fatalf("PostObservation() error = %v", err)
		}
	}
	got := <-posted
	if got.HasResult.HasValue != 7 || got.Details != "Values range from MIN: 6.5 to MAX: 7.5" {
		t.Errorf("posted = %+v", got)
	}
	if n := logins.Load(); n != 1 {
		t.Errorf("logins = %d, want 1 (token cached)", n)
	}

	if err := c.PostObservation(context.Background(), "", obs); err == nil {
		t.Error("expected error without operation id")
	}
}

func TestClient_OperationFor(t *testing.T) {
	var logins atomic.Int32
	srv := calendarServer(t, &logins, make(chan Observation, 1))
	gk := NewGatekeeper(srv.URL+"/api/login/", "agent", func() string { return "fc-secret" }, time.Hour, time.Second)
	c := NewClient(srv.URL, gk, time.Second)

	id, ok, err := c.OperationFor(context.Background(), "Pile B")
	if err != nil || !ok || id != "op-2" {
		t.Errorf("OperationFor(Pile B) = %q, %v, %v", id, ok, err)
	}
	if _, ok, err := c.OperationFor(context.Background(), "Pile Z"); ok || err != nil {
		t.Errorf("OperationFor(Pile Z) = %v, %v; want not found", ok, err)
	}
}

func TestGatekeeper_TokenExpiry(t *testing.T) {
	var logins atomic.Int32
	srv := calendarServer(t, &logins, nil)
	gk := NewGatekeeper(srv.URL+"/api/login/", "agent", func() string { return "fc-secret" }, time.Minute, time.Second)
	clock := now
	gk.now = func() time.Time { return clock }

	for i := 0; i < 3; i++ {
		if _, err := gk.Token(context.Background()); err != nil {
			t.Fatal(err)
		}
	}
	clock = clock.Add(2 * time.Minute)
	if _, err := gk.Token(context.Background()); err != nil {
		t.Fatal(err)
	}
	if n := logins.Load(); n != 2 {
		t.Errorf("logins = %d, want 2", n)
	}

	gk.Invalidate()
	_, _ = gk.Token(context.Background())
	if n := logins.Load(); n != 3 {
		t.Errorf("logins after Invalidate = %d, want 3", n)
	}
}

func TestGatekeeper_BadPassword(t *testing.T) {
	var logins atomic.Int32
	srv := calendarServer(t, &logins, nil)
	gk := NewGatekeeper(srv.URL+"/api/login/", "agent", func() string { return "nope" }, time.Minute, time.Second)
	if _, err := gk.Token(context.Background()); err == nil {
		t.Error("expected login failure")
	}
}
