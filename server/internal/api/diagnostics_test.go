package api

import (
	"testing"

	"github.com/compostwatch/compostwatch/pkg/types"
)

func keys(hints []DiagnosticHint) []string {
	out := make([]string, len(hints))
	for i, h := range hints {
		out[i] = h.Key
	}
	return out
}

func TestComputeDiagnostics(t *testing.T) {
	tests := []struct {
		name string
		env  types.ReportEnvelope
		want []string
	}{
		{
			name: "failed evaluation short-circuits",
			env:  types.ReportEnvelope{Error: "boom", Report: types.CompostStatusReport{Phase: "Inactive"}},
			want: []string{"evaluation_failed"},
		},
		{
			name: "healthy",
			env:  types.ReportEnvelope{Report: types.CompostStatusReport{Phase: "Stable Mesophilic", EstimatedDaysRemaining: 40}},
			want: []string{"healthy"},
		},
		{
			name: "overheating sorts before advisories",
			env: types.ReportEnvelope{Report: types.CompostStatusReport{
				Phase:                  "Possible sensor error or overheating",
				EstimatedDaysRemaining: 40,
				Recommendation:         []string{"a", "b", "c"},
			}},
			want: []string{"sensor_overheating", "advisories"},
		},
		{
			name: "insufficient data skips remaining-days hints",
			env:  types.ReportEnvelope{Report: types.CompostStatusReport{Phase: "Insufficient data"}},
			want: []string{"insufficient_data"},
		},
		{
			name: "finishing and uneven",
			env: types.ReportEnvelope{
				Report:     types.CompostStatusReport{Phase: "Maturation Phase", EstimatedDaysRemaining: 5},
				DailyStats: map[string]types.DailyStat{types.VarTemperature: {Min: 20, Max: 45, Std: 9}},
			},
			want: []string{"uneven_temperature", "finishing"},
		},
		{
			name: "ready",
			env:  types.ReportEnvelope{Report: types.CompostStatusReport{Phase: "Maturation Phase"}},
			want: []string{"ready"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := keys(computeDiagnostics(&tt.env))
			if len(got) != len(tt.want) {
				t.Fatalf("got %v, want %v", got, tt.want)
			}
			for i := range got {
				if got[i] != tt.want[i] {
					t.Errorf("got %v, want %v", got, tt.want)
					break
				}
			}
		})
	}
}

func TestComputeDiagnostics_AdvisoryLevel(t *testing.T) {
	env := types.ReportEnvelope{Report: types.CompostStatusReport{
		Phase:                  "Stable Mesophilic",
		EstimatedDaysRemaining: 40,
		Recommendation:         []string{"water"},
	}}
	h := computeDiagnostics(&env)
	if h[0].Level != "info" || *h[0].Value != 1 {
		t.Errorf("one advisory: got level %q value %v", h[0].Level, *h[0].Value)
	}
}
