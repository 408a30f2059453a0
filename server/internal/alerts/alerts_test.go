package alerts

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/compostwatch/compostwatch/pkg/types"
	"github.com/compostwatch/compostwatch/server/internal/config"
)

func report(phase string, remaining int, avgTemp float64) *types.ReportEnvelope {
	return &types.ReportEnvelope{
		PileID:   "p1",
		PileName: "North pile",
		Report: types.CompostStatusReport{
			CompostAgeDays:         20,
			Phase:                  phase,
			EstimatedDurationDays:  20 + remaining,
			EstimatedDaysRemaining: remaining,
			Recommendation:         []string{"a", "b"},
			WeatherRecommendation:  []string{"c"},
		},
		DailyStats: map[string]types.DailyStat{
			types.VarTemperature: {Min: avgTemp - 5, Max: avgTemp + 5, Avg: avgTemp, Std: 2},
		},
	}
}

func TestCondition_Eval(t *testing.T) {
	env := report("Possible sensor error or overheating", 5, 75)
	failed := &types.ReportEnvelope{PileID: "p1", Error: "fetch failed"}

	tests := []struct {
		expr  string
		env   *types.ReportEnvelope
		want  bool
		known bool
	}{
		{"days_remaining < 7", env, true, true},
		{"days_remaining < 5", env, false, true},
		{"days_remaining <= 5", env, true, true},
		{"age_days >= 20", env, true, true},
		{"duration_days == 25", env, true, true},
		{"advisories >= 3", env, true, true},
		{"advisories > 3", env, false, true},
		{"transitions > 0", env, false, true},
		{"avg_temperature > 70", env, true, true},
		{"max_temperature > 85", env, false, true},
		{"std_temperature != 0", env, true, true},
		{"avg_moisture < 30", env, false, false}, // no moisture stat
		{"phase == Possible sensor error or overheating", env, true, true},
		{"phase != Possible sensor error or overheating", env, false, true},
		{"phase == Stable Mesophilic", env, false, true},
		{"status == error", env, false, true},
		{"status == error", failed, true, true},
		{"status == ok", env, true, true},
		{"days_remaining < 7", failed, false, false},
		{"phase != Stable Mesophilic", failed, false, false},
	}
	for _, tt := range tests {
		t.Run(tt.expr, func(t *testing.T) {
			c, err := parseCondition(tt.expr)
			if err != nil {
				t.Fatalf("parse: %v", err)
			}
			got, _, known := c.eval(tt.env)
			if got != tt.want || known != tt.known {
				t.Errorf("eval = %v (known %v), want %v (known %v)", got, known, tt.want, tt.known)
			}
		})
	}
}

func TestParseCondition_Invalid(t *testing.T) {
	for _, expr := range []string{
		"days_remaining <",
		"drop_pct > 10",
		"avg_nitrogen > 1",
		"days_remaining ~ 3",
		"days_remaining < soon",
		"phase > Maturation Phase",
	} {
		if _, err := parseCondition(expr); err == nil {
			t.Errorf("parseCondition(%q): expected error", expr)
		}
	}
}

func TestNew_RejectsBadRule(t *testing.T) {
	_, err := New(config.AlertsConfig{Rules: []config.AlertRule{{Name: "bad", Condition: "foo > 1"}}})
	if err == nil {
		t.Fatal("expected error for unknown field")
	}
}

// newTestEngine returns an engine whose deliveries are recorded synchronously.
func newTestEngine(t *testing.T, rules ...config.AlertRule) (*Engine, *[]Alert, *time.Time) {
	t.Helper()
	e, err := New(config.AlertsConfig{Rules: rules})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	now := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	e.now = func() time.Time { return now }
	var delivered []Alert
	e.deliverF = func(a *Alert) { delivered = append(delivered, *a) }
	return e, &delivered, &now
}

func TestEngine_FireCooldownResolve(t *testing.T) {
	e, delivered, now := newTestEngine(t, config.AlertRule{
		Name:      "finishing",
		Condition: "days_remaining < 7",
		Cooldown:  time.Hour,
	})

	e.Evaluate(report("Maturation Phase", 5, 30))
	if len(*delivered) != 1 || (*delivered)[0].State != "firing" {
		t.Fatalf("delivered = %+v, want one firing alert", *delivered)
	}
	first := (*delivered)[0]
	if first.Severity != "warning" || first.PileID != "p1" || first.Value != 5 || first.ID == "" {
		t.Errorf("alert = %+v", first)
	}

	// Still firing inside the cooldown: no new notification.
	*now = now.Add(30 * time.Minute)
	e.Evaluate(report("Maturation Phase", 4, 30))
	if len(*delivered) != 1 {
		t.Fatalf("re-fired inside cooldown: %d deliveries", len(*delivered))
	}

	// Outside the cooldown the alert fires again.
	*now = now.Add(time.Hour)
	e.Evaluate(report("Maturation Phase", 3, 30))
	if len(*delivered) != 2 {
		t.Fatalf("expected a re-fire after cooldown, got %d deliveries", len(*delivered))
	}
	if e.Firing("p1") != 1 {
		t.Errorf("Firing = %d, want 1", e.Firing("p1"))
	}

	e.Evaluate(report("Maturation Phase", 30, 30))
	if len(*delivered) != 3 || (*delivered)[2].State != "resolved" {
		t.Fatalf("expected a resolve notification, got %+v", *delivered)
	}
	if e.Firing("p1") != 0 {
		t.Errorf("Firing after resolve = %d, want 0", e.Firing("p1"))
	}

	active := e.Active()
	if len(active) != 1 || active[0].State != "resolved" || active[0].ResolvedAt == nil {
		t.Errorf("Active = %+v, want the recently resolved alert", active)
	}
}

func TestEngine_FailedEnvelopeKeepsAlertFiring(t *testing.T) {
	e, delivered, now := newTestEngine(t,
		config.AlertRule{Name: "finishing", Condition: "days_remaining < 7", Cooldown: 6 * time.Hour},
		config.AlertRule{Name: "broken", Condition: "status == error", Cooldown: time.Minute},
	)

	e.Evaluate(report("Maturation Phase", 3, 30))
	*now = now.Add(5 * time.Minute)
	e.Evaluate(&types.ReportEnvelope{PileID: "p1", Error: "fetch daily telemetry: timeout"})
	*now = now.Add(5 * time.Minute)
	e.Evaluate(report("Maturation Phase", 3, 30))

	var states []string
	for _, a := range *delivered {
		states = append(states, a.RuleName+":"+a.State)
	}
	want := []string{"finishing:firing", "broken:firing", "broken:resolved"}
	if len(states) != len(want) {
		t.Fatalf("deliveries = %v, want %v", states, want)
	}
	for i := range want {
		if states[i] != want[i] {
			t.Fatalf("deliveries = %v, want %v", states, want)
		}
	}
	if got := e.Firing("p1"); got != 1 {
		t.Errorf("Firing = %d, want the days_remaining alert still firing", got)
	}
}

func TestEngine_MissingStatKeepsState(t *testing.T) {
	e, delivered, _ := newTestEngine(t, config.AlertRule{Name: "hot", Condition: "avg_temperature > 70"})
	e.Evaluate(report("x", 50, 75))

	noTemp := report("x", 50, 75)
	noTemp.DailyStats = nil
	e.Evaluate(noTemp)

	if len(*delivered) != 1 || e.Firing("p1") != 1 {
		t.Errorf("deliveries = %d, firing = %d; want the alert untouched", len(*delivered), e.Firing("p1"))
	}
}

func TestEngine_ResolvedAgeOut(t *testing.T) {
	e, _, now := newTestEngine(t, config.AlertRule{Name: "hot", Condition: "avg_temperature > 70"})
	e.Evaluate(report("x", 50, 75))
	e.Evaluate(report("x", 50, 50))

	*now = now.Add(recentWindow + time.Minute)
	if got := e.Active(); len(got) != 0 {
		t.Errorf("Active = %d alerts, want resolved alerts aged out", len(got))
	}
}

func TestEngine_NoRules(t *testing.T) {
	e, delivered, _ := newTestEngine(t)
	e.Evaluate(report("x", 1, 99))
	if len(*delivered) != 0 || len(e.Active()) != 0 {
		t.Error("engine without rules must not alert")
	}
}

func TestDeliver_Webhooks(t *testing.T) {
	var mu sync.Mutex
	bodies := map[string]map[string]any{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw, _ := io.ReadAll(r.Body)
		var m map[string]any
		_ = json.Unmarshal(raw, &m)
		mu.Lock()
		bodies[r.URL.Path] = m
		mu.Unlock()
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	t.Setenv("TEST_SLACK_URL", srv.URL+"/slack")
	t.Setenv("TEST_TEAMS_URL", srv.URL+"/teams")
	t.Setenv("TEST_HTTP_URL", srv.URL+"/http")

	e, err := New(config.AlertsConfig{Webhooks: []config.WebhookConfig{
		{Type: "slack", URLEnv: "TEST_SLACK_URL"},
		{Type: "teams", URLEnv: "TEST_TEAMS_URL"},
		{Type: "http", URLEnv: "TEST_HTTP_URL"},
		{Type: "http", URLEnv: "TEST_UNSET_URL"},
	}})
	if err != nil {
		t.Fatal(err)
	}

	e.deliver(&Alert{RuleName: "hot", PileID: "p1", PileName: "North pile", Severity: "critical", Message: "too hot", State: "firing"})

	mu.Lock()
	defer mu.Unlock()
	if len(bodies) != 3 {
		t.Fatalf("got %d webhook calls, want 3", len(bodies))
	}
	if text, _ := bodies["/slack"]["text"].(string); text != "*[CRITICAL]* too hot" {
		t.Errorf("slack text = %q", text)
	}
	if title, _ := bodies["/teams"]["title"].(string); title != "Compost alert: hot on North pile" {
		t.Errorf("teams title = %q", title)
	}
	alert, _ := bodies["/http"]["alert"].(map[string]any)
	if alert["pile_id"] != "p1" {
		t.Errorf("http payload = %v", bodies["/http"])
	}
}
