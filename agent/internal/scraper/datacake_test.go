package scraper

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/compostwatch/compostwatch/agent/internal/config"
)

func datacakeServer(t *testing.T, handle func(query string) any) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "Token dc-key" {
			t.Errorf("Authorization = %q", got)
		}
		var body struct {
			Query string `json:"query"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Fatalf("decode body: %v", err)
		}
		_ = json.NewEncoder(w).Encode(handle(body.Query))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func newTestDatacake(t *testing.T, endpoint string, devices []config.Device) Scraper {
	t.Helper()
	t.Setenv("DC_TOKEN", "dc-key")
	s, err := New(config.Source{
		ID:       "dc",
		Type:     "datacake",
		Endpoint: endpoint,
		Auth:     config.AuthConfig{Mode: "token", TokenEnv: "DC_TOKEN"},
		Devices:  devices,
	})
	if err != nil {
		t.Fatal(err)
	}
	return s
}

func TestDatacake_WorkspaceQuery(t *testing.T) {
	history := `[{"time":"2025-06-22T00:00:00Z","SOIL_TEMPERATURE":21.5,"SOIL_MOISTURE":"44"},` +
		`{"time":"2025-06-22T01:00:00Z","SOIL_TEMPERATURE":22.5,"SOIL_MOISTURE":null,"BATTERY":3.5}]`
	var seen string
	srv := datacakeServer(t, func(q string) any {
		seen = q
		return map[string]any{"data": map[string]any{"allDevices": []map[string]any{
			{"id": "d1", "verboseName": "Soil Sensor 1", "history": history},
			{"id": "d2", "verboseName": "Weather Station", "history": `[{"time":"2025-06-22T00:00:00Z","TEMP":12}]`},
		}}}
	})
	s := newTestDatacake(t, srv.URL, []config.Device{
		{Name: "Soil Sensor 1", Keys: []string{"SOIL_TEMPERATURE", "SOIL_MOISTURE"}},
	})

	from := time.Date(2025, 6, 22, 0, 0, 0, 0, time.UTC)
	raw, err := s.Fetch(context.Background(), Request{PileID: "ws-1", From: from, To: from.Add(24 * time.Hour)})
	if err != nil {
		t.Fatalf("Fetch() error = %v", err)
	}
	if !strings.Contains(seen, `allDevices(inWorkspace: "ws-1")`) {
		t.Errorf("query = %s", seen)
	}
	if !strings.Contains(seen, `timerangestart: "2025-06-22T00:00", timerangeend: "2025-06-23T00:00", resolution: "60m"`) {
		t.Errorf("query window = %s", seen)
	}
	if got := raw["SOIL_TEMPERATURE"]; len(got) != 2 {
		t.Errorf("temperature = %+v", got)
	}
	// Null values are skipped; the string value is kept for the reducer to parse.
	if got := raw["SOIL_MOISTURE"]; len(got) != 1 || got[0].Value != "44" {
		t.Errorf("moisture = %+v", got)
	}
	if _, ok := raw["TEMP"]; ok {
		t.Error("unconfigured device must be ignored")
	}
	if _, ok := raw["BATTERY"]; ok {
		t.Error("unconfigured field must be ignored")
	}
}

func TestDatacake_PinnedDevice(t *testing.T) {
	srv := datacakeServer(t, func(q string) any {
		if !strings.Contains(q, `device(deviceId: "dev-uuid")`) {
			t.Errorf("query = %s", q)
		}
		return map[string]any{"data": map[string]any{"device": map[string]any{
			"id": "dev-uuid", "verboseName": "sensor",
			"history": `[{"time":"2025-06-22T00:00","PH1_SOIL":6.9}]`,
		}}}
	})
	s := newTestDatacake(t, srv.URL, []config.Device{
		{ID: "dev-uuid", Name: "sensor", Pile: "pile-7", Keys: []string{"PH1_SOIL"}},
	})
	raw, err := s.Fetch(context.Background(), Request{PileID: "pile-7", From: scrapeTime, To: scrapeTime})
	if err != nil {
		t.Fatal(err)
	}
	if got := raw["PH1_SOIL"]; len(got) != 1 || !got[0].Time.Equal(time.Date(2025, 6, 22, 0, 0, 0, 0, time.UTC)) {
		t.Errorf("ph = %+v", got)
	}
}

func TestDatacake_GraphQLError(t *testing.T) {
	srv := datacakeServer(t, func(string) any {
		return map[string]any{"errors": []map[string]string{{"message": "workspace not found"}}}
	})
	s := newTestDatacake(t, srv.URL, nil)
	_, err := s.Fetch(context.Background(), Request{PileID: "nope", From: scrapeTime, To: scrapeTime})
	if err == nil || !strings.Contains(err.Error(), "workspace not found") {
		t.Errorf("err = %v", err)
	}
}
