package alerts

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/compostwatch/compostwatch/pkg/types"
)

// condition is a parsed rule expression "<field> <op> <value>".
//
// Numeric fields:
//
//	age_days, duration_days, days_remaining, advisories, transitions
//	<stat>_<variable> with stat in avg|min|max|std and variable in
//	temperature|moisture|ph, e.g. avg_temperature > 70
//
// String fields (== and != only; the value may contain spaces):
//
//	phase == Possible sensor error or overheating
//	status == error
type condition struct {
	field     string
	op        string
	text      string
	threshold float64
	numeric   bool
}

var statFields = map[string]func(types.DailyStat) float64{
	"avg": func(s types.DailyStat) float64 { return s.Avg },
	"min": func(s types.DailyStat) float64 { return s.Min },
	"max": func(s types.DailyStat) float64 { return s.Max },
	"std": func(s types.DailyStat) float64 { return s.Std },
}

func parseCondition(expr string) (condition, error) {
	parts := strings.Fields(expr)
	if len(parts) < 3 {
		return condition{}, fmt.Errorf("condition %q: want <field> <op> <value>", expr)
	}
	c := condition{field: parts[0], op: parts[1], text: strings.Join(parts[2:], " ")}

	switch c.field {
	case "phase", "status":
		if c.op != "==" && c.op != "!=" {
			return condition{}, fmt.Errorf("condition %q: %s supports == and != only", expr, c.field)
		}
		return c, nil
	}

	if !knownNumericField(c.field) {
		return condition{}, fmt.Errorf("condition %q: unknown field %q", expr, c.field)
	}
	switch c.op {
	case ">", ">=", "<", "<=", "==", "!=":
	default:
		return condition{}, fmt.Errorf("condition %q: unknown operator %q", expr, c.op)
	}
	v, err := strconv.ParseFloat(c.text, 64)
	if err != nil {
		return condition{}, fmt.Errorf("condition %q: value is not a number", expr)
	}
	c.threshold = v
	c.numeric = true
	return c, nil
}

func knownNumericField(field string) bool {
	switch field {
	case "age_days", "duration_days", "days_remaining", "advisories", "transitions":
		return true
	}
	stat, variable, ok := strings.Cut(field, "_")
	if !ok {
		return false
	}
	_, known := statFields[stat]
	switch variable {
	case types.VarTemperature, types.VarMoisture, types.VarPH:
		return known
	}
	return false
}

// eval reports whether the condition fires for env and the value it saw.
// known is false when env carries nothing the condition can judge: report
// fields of a failed evaluation, or a daily statistic that was not sent.
// Such envelopes leave the alert state untouched.
func (c condition) eval(env *types.ReportEnvelope) (fires bool, value float64, known bool) {
	if c.field == "status" {
		status := "ok"
		if env.Error != "" {
			status = "error"
		}
		return compareText(status, c.op, c.text), 0, true
	}
	if env.Error != "" {
		return false, 0, false
	}
	if c.field == "phase" {
		return compareText(env.Report.Phase, c.op, c.text), 0, true
	}
	v, ok := numericField(c.field, env)
	if !ok {
		return false, 0, false
	}
	return compareFloat(v, c.op, c.threshold), v, true
}

func numericField(field string, env *types.ReportEnvelope) (float64, bool) {
	switch field {
	case "age_days":
		return float64(env.Report.CompostAgeDays), true
	case "duration_days":
		return float64(env.Report.EstimatedDurationDays), true
	case "days_remaining":
		return float64(env.Report.EstimatedDaysRemaining), true
	case "advisories":
		return float64(env.AdvisoryCount()), true
	case "transitions":
		return float64(len(env.Transitions)), true
	}
	stat, variable, _ := strings.Cut(field, "_")
	s, ok := env.DailyStats[variable]
	if !ok {
		return 0, false
	}
	return statFields[stat](s), true
}

func compareText(v, op, want string) bool {
	if op == "!=" {
		return v != want
	}
	return v == want
}

func compareFloat(v float64, op string, threshold float64) bool {
	switch op {
	case ">":
		return v > threshold
	case ">=":
		return v >= threshold
	case "<":
		return v < threshold
	case "<=":
		return v <= threshold
	case "==":
		return v == threshold
	case "!=":
		return v != threshold
	default:
		return false
	}
}
