package api

import (
	"fmt"
	"sort"

	"github.com/compostwatch/compostwatch/pkg/types"
)

// Phase labels the diagnostics react to.
const (
	phaseInsufficientData = "Insufficient data"
	phaseInactive         = "Inactive"
	phaseUnstable         = "Phase unstable"
	phaseSensorError      = "Possible sensor error or overheating"
)

const (
	finishingDays     = 7
	manyAdvisories    = 3
	unevenTemperature = 8.0 // °C standard deviation over the day
)

// DiagnosticHint is one plain-language insight about a pile. The dashboard
// shows Title on a chip and Detail on click.
type DiagnosticHint struct {
	Key    string   `json:"key"`
	Level  string   `json:"level"` // "ok" | "info" | "warning" | "critical"
	Title  string   `json:"title"`
	Detail string   `json:"detail"`
	Value  *float64 `json:"value,omitempty"`
}

var levelRank = map[string]int{"critical": 0, "warning": 1, "info": 2, "ok": 3}

// computeDiagnostics derives hints from the latest envelope of a pile,
// critical first.
func computeDiagnostics(env *types.ReportEnvelope) []DiagnosticHint {
	if env.Error != "" {
		return []DiagnosticHint{{
			Key:   "evaluation_failed",
			Level: "critical",
			Title: "Evaluation failed",
			Detail: fmt.Sprintf(
				"The agent could not evaluate this pile: %q. "+
					"Check that the sensor platform is reachable and the pile metadata is complete. "+
					"The last successful report is shown until this clears.",
				env.Error,
			),
		}}
	}

	var hints []DiagnosticHint
	r := env.Report

	switch r.Phase {
	case phaseSensorError:
		hints = append(hints, DiagnosticHint{
			Key:   "sensor_overheating",
			Level: "critical",
			Title: "Check the sensor",
			Detail: "The smoothed temperature is above what a healthy pile reaches. " +
				"Either the sensor is faulty or the pile is overheating. " +
				"Verify with a second thermometer and turn the pile if it is really that hot.",
		})
	case phaseInsufficientData:
		hints = append(hints, DiagnosticHint{
			Key:   "insufficient_data",
			Level: "warning",
			Title: "Not enough readings",
			Detail: "No temperature samples arrived for today, so the phase cannot be classified. " +
				"Check the sensor battery and its connection to the platform.",
		})
	case phaseInactive:
		hints = append(hints, DiagnosticHint{
			Key:   "inactive",
			Level: "warning",
			Title: "Pile is inactive",
			Detail: "The pile stays cold early in the process. " +
				"It usually needs more greens, more water or a turn to get going.",
		})
	case phaseUnstable:
		hints = append(hints, DiagnosticHint{
			Key:   "phase_unstable",
			Level: "info",
			Title: "Temperature swinging",
			Detail: "The temperature trend does not match any composting phase yet. " +
				"This often settles after a few more days of readings.",
		})
	}

	if n := env.AdvisoryCount(); n > 0 {
		v := float64(n)
		level := "info"
		if n >= manyAdvisories {
			level = "warning"
		}
		hints = append(hints, DiagnosticHint{
			Key:    "advisories",
			Level:  level,
			Title:  fmt.Sprintf("%d advisories", n),
			Detail: "Today's readings or the weather forecast call for action. See the recommendations in the report.",
			Value:  &v,
		})
	}

	if st, ok := env.DailyStats[types.VarTemperature]; ok && st.Std >= unevenTemperature {
		v := st.Std
		hints = append(hints, DiagnosticHint{
			Key:   "uneven_temperature",
			Level: "info",
			Title: "Uneven heating",
			Detail: fmt.Sprintf(
				"Temperature varied by a standard deviation of %.1f °C today (%.1f to %.1f). "+
					"Large swings often mean the sensor sits near the edge of the pile.",
				st.Std, st.Min, st.Max,
			),
			Value: &v,
		})
	}

	if r.Phase != phaseInsufficientData {
		switch {
		case r.EstimatedDaysRemaining == 0:
			hints = append(hints, DiagnosticHint{
				Key:    "ready",
				Level:  "info",
				Title:  "Estimated done",
				Detail: "The estimated composting time has elapsed. Check maturity before using the compost.",
			})
		case r.EstimatedDaysRemaining <= finishingDays:
			v := float64(r.EstimatedDaysRemaining)
			hints = append(hints, DiagnosticHint{
				Key:    "finishing",
				Level:  "info",
				Title:  fmt.Sprintf("%d days left", r.EstimatedDaysRemaining),
				Detail: "The pile is close to the end of its estimated duration.",
				Value:  &v,
			})
		}
	}

	if len(hints) == 0 {
		return []DiagnosticHint{{
			Key:    "healthy",
			Level:  "ok",
			Title:  "All clear",
			Detail: fmt.Sprintf("Current phase: %s. No open advisories.", r.Phase),
		}}
	}

	sort.SliceStable(hints, func(i, j int) bool { return levelRank[hints[i].Level] < levelRank[hints[j].Level] })
	return hints
}
