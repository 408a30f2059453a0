package history

import (
	"testing"
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"

	"github.com/compostwatch/compostwatch/pkg/types"
)

var at = time.Date(2024, 6, 10, 12, 0, 0, 0, time.UTC)

func tagsOf(p *write.Point) map[string]string {
	out := map[string]string{}
	for _, t := range p.TagList() {
		out[t.Key] = t.Value
	}
	return out
}

func fieldsOf(p *write.Point) map[string]interface{} {
	out := map[string]interface{}{}
	for _, f := range p.FieldList() {
		out[f.Key] = f.Value
	}
	return out
}

func TestPoints_Report(t *testing.T) {
	env := &types.ReportEnvelope{
		PileID:      "p1",
		PileName:    "North bay",
		GeneratedAt: at,
		Report: types.CompostStatusReport{
			CompostAgeDays:         9,
			Phase:                  "Stable Thermophilic Phase",
			EstimatedDurationDays:  90,
			EstimatedDaysRemaining: 81,
			Recommendation:         []string{"water"},
			WeatherRecommendation:  []string{},
		},
		DailyStats: map[string]types.DailyStat{
			types.VarTemperature: {Min: 50, Max: 60, Avg: 55, Std: 2},
			types.VarMoisture:    {Min: 30, Max: 40, Avg: 35, Std: 1},
		},
		Transitions: []types.Transition{
			{PileID: "p1", From: "mesophilic", To: "thermophilic", At: at.Add(-time.Hour), Temperature: 47.5},
		},
	}

	points := Points(env)
	if len(points) != 4 {
		t.Fatalf("points: got %d, want 4", len(points))
	}

	status := points[0]
	if status.Name() != MeasurementStatus || !status.Time().Equal(at) {
		t.Errorf("status point: %s at %v", status.Name(), status.Time())
	}
	tags := tagsOf(status)
	if tags["pile_id"] != "p1" || tags["pile_name"] != "North bay" || tags["phase"] != "Stable Thermophilic Phase" {
		t.Errorf("status tags: %v", tags)
	}
	fields := fieldsOf(status)
	if fields["days_remaining"] != int64(81) || fields["advisories"] != int64(1) || fields["error"] != false {
		t.Errorf("status fields: %v", fields)
	}

	// Daily stats are emitted in variable order.
	if v := tagsOf(points[1])["variable"]; v != types.VarMoisture {
		t.Errorf("points[1] variable: got %q, want moisture", v)
	}
	if v := fieldsOf(points[2])["avg"]; v != 55.0 {
		t.Errorf("temperature avg: got %v", v)
	}

	tr := points[3]
	if tr.Name() != MeasurementTransition || !tr.Time().Equal(at.Add(-time.Hour)) {
		t.Errorf("transition point: %s at %v", tr.Name(), tr.Time())
	}
	if tagsOf(tr)["to"] != "thermophilic" {
		t.Errorf("transition tags: %v", tagsOf(tr))
	}
}

func TestPoints_FailedEnvelope(t *testing.T) {
	env := &types.ReportEnvelope{
		PileID:      "p1",
		GeneratedAt: at,
		Error:       "fetch daily telemetry: timeout",
		DailyStats:  map[string]types.DailyStat{types.VarTemperature: {}},
	}
	points := Points(env)
	if len(points) != 1 {
		t.Fatalf("points: got %d, want 1", len(points))
	}
	if fieldsOf(points[0])["error"] != true {
		t.Errorf("fields: %v", fieldsOf(points[0]))
	}
	if _, ok := tagsOf(points[0])["pile_name"]; ok {
		t.Error("empty pile name should not become a tag")
	}
}
