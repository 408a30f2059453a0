package types

import "time"

// Normalized telemetry variable names.
const (
	VarTemperature = "temperature"
	VarMoisture    = "moisture"
	VarPH          = "ph"
)

// CompostStatusReport is the result of evaluating one pile at one instant.
// The JSON field names are part of the external contract.
type CompostStatusReport struct {
	CompostAgeDays         int      `json:"compost_age_days"`
	Phase                  string   `json:"phase"`
	EstimatedDurationDays  int      `json:"estimated_duration_days"`
	EstimatedDaysRemaining int      `json:"estimated_days_remaining"`
	Recommendation         []string `json:"recommendation"`
	WeatherRecommendation  []string `json:"weather_recommendation"`
}

// DailyStat summarises all samples of one variable inside the evaluation window.
type DailyStat struct {
	Min float64 `json:"min"`
	Max float64 `json:"max"`
	Avg float64 `json:"avg"`
	Std float64 `json:"std"`
}

// PileState is the pile metadata the analytics read but never modify.
type PileState struct {
	StartDate time.Time `json:"start_date"`
	GreensKg  float64   `json:"greens_kg"`
	BrownsKg  float64   `json:"browns_kg"`
	Latitude  float64   `json:"latitude"`
	Longitude float64   `json:"longitude"`
}

// Transition records a hysteresis regime change of a pile's smoothed temperature.
type Transition struct {
	PileID      string    `json:"pile_id"`
	From        string    `json:"from"`
	To          string    `json:"to"`
	At          time.Time `json:"at"`
	Temperature float64   `json:"temperature"`
}

// ReportEnvelope is what the agent ships to the server after every evaluation.
// Error is set when the evaluation failed; Report is then the zero value.
type ReportEnvelope struct {
	PileID      string               `json:"pile_id"`
	PileName    string               `json:"pile_name"`
	GeneratedAt time.Time            `json:"generated_at"`
	Report      CompostStatusReport  `json:"report"`
	DailyStats  map[string]DailyStat `json:"daily_stats,omitempty"`
	Transitions []Transition         `json:"transitions,omitempty"`
	Error       string               `json:"error,omitempty"`
}

// AdvisoryCount returns the number of sensor and weather advisories in the report.
func (e *ReportEnvelope) AdvisoryCount() int {
	return len(e.Report.Recommendation) + len(e.Report.WeatherRecommendation)
}
