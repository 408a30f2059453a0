package farmcalendar

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/compostwatch/compostwatch/pkg/types"
)

// phenomenonLayout is the minute-precision UTC timestamp the calendar expects.
const phenomenonLayout = "2006-01-02T15:04Z"

// QuantityValue is the result of an observation.
type QuantityValue struct {
	Type     string  `json:"@type"`
	HasValue float64 `json:"hasValue"`
	Unit     string  `json:"unit"`
}

// Observation is a farm calendar Observation resource.
type Observation struct {
	Type             string        `json:"@type"`
	ObservedProperty string        `json:"observedProperty"`
	ActivityType     string        `json:"activityType"`
	Details          string        `json:"details"`
	PhenomenonTime   string        `json:"phenomenonTime"`
	HasEndDatetime   string        `json:"hasEndDatetime"`
	HasResult        QuantityValue `json:"hasResult"`
}

type vocabulary struct {
	property string
	unit     string
}

var vocab = map[string]vocabulary{
	types.VarTemperature: {"https://vocab.nerc.ac.uk/standard_name/air_temperature/", "http://qudt.org/vocab/unit/DEG_C"},
	types.VarMoisture:    {"http://vocab.nerc.ac.uk/standard_name/moisture_content_of_soil_layer/", "http://qudt.org/vocab/unit/PERCENT"},
	types.VarPH:          {"http://vocab.nerc.ac.uk/standard_name/pH_of_soil_layer/", "http://qudt.org/vocab/unit/UNITLESS"},
}

// NewObservation describes the daily statistic of variable as an observation
// of the given farm activity type, stamped at at.
func NewObservation(variable string, stat types.DailyStat, activityType string, at time.Time) (Observation, error) {
	v, ok := vocab[variable]
	if !ok {
		return Observation{}, fmt.Errorf("farmcalendar: no vocabulary for variable %q", variable)
	}
	ts := at.UTC().Format(phenomenonLayout)
	return Observation{
		Type:             "Observation",
		ObservedProperty: v.property,
		ActivityType:     "urn:farmcalendar:FarmActivityType:" + activityType,
		Details:          fmt.Sprintf("Values range from MIN: %s to MAX: %s", formatValue(stat.Min), formatValue(stat.Max)),
		PhenomenonTime:   ts,
		HasEndDatetime:   ts,
		HasResult: QuantityValue{
			Type:     "QuantityValue",
			HasValue: stat.Avg,
			Unit:     v.unit,
		},
	}, nil
}

// formatValue prints f in shortest form, always with a decimal point.
func formatValue(f float64) string {
	s := strconv.FormatFloat(f, 'f', -1, 64)
	if !strings.Contains(s, ".") {
		s += ".0"
	}
	return s
}
