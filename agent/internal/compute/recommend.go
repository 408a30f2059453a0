package compute

import (
	"errors"
	"fmt"

	"github.com/compostwatch/compostwatch/pkg/types"
)

// Sensor advisories.
const (
	AdviceTempLow      = "Temperature too low → Add greens, turn pile, insulate pile."
	AdviceTempMeso     = "Mesophilic phase → Add greens and increase pile size if slow."
	AdviceTempHigh     = "Temperature too high → Turn pile, add browns, moisten pile."
	AdviceMoistureLow  = "Moisture too low → Add water and turn pile."
	AdviceMoistureHigh = "Moisture too high → Add dry browns and turn pile."
	AdvicePHLow        = "pH too low → Add lime or wood ash."
	AdvicePHHigh       = "pH too high → Add acidic greens and water."
)

// Weather advisories.
const (
	AdviceColdDay         = "Consistently cold day → Insulate or enlarge pile."
	AdviceHotDay          = "Very warm day → Monitor for overheating and drying."
	AdviceAvgTempLow      = "Average temp low → May slow decomposition, consider insulation."
	AdviceAvgTempHigh     = "Average temp high → Monitor for overheating."
	AdviceTempOptimal     = "Temperature forecast optimal → No temperature action needed."
	AdviceHeavyRain       = "Heavy rain expected → Cover pile or add extra dry browns."
	AdviceNoRain          = "No rain forecast → Monitor moisture and consider watering."
	AdviceShowers         = "Several heavy showers → Check drainage and cover pile."
	AdviceHumidityLow     = "Low humidity forecast → Moisten pile and reduce turning."
	AdviceHumidityHigh    = "High humidity forecast → Risk of anaerobic conditions, turn pile."
	AdviceHumidityOptimal = "Humidity forecast optimal → No humidity action needed."
)

// Forecast holds hourly values for the next 24 hours, ascending by time.
type Forecast struct {
	Temperature   []float64 `json:"temperature"`
	Humidity      []float64 `json:"humidity"`
	Precipitation []float64 `json:"precipitation"`
}

// sensorVariables is the evaluation order of the sensor rules.
var sensorVariables = []string{types.VarTemperature, types.VarMoisture, types.VarPH}

// SensorRecommendations applies the per-variable rules to the daily averages.
// Each variable contributes at most one advisory. Variables without a
// statistic are skipped and reported as joined *MissingVariableError values.
func SensorRecommendations(stats map[string]types.DailyStat) ([]string, error) {
	out := []string{}
	var errs []error
	for _, variable := range sensorVariables {
		stat, ok := stats[variable]
		if !ok {
			errs = append(errs, &MissingVariableError{Variable: variable})
			continue
		}
		if advice := sensorAdvice(variable, stat.Avg); advice != "" {
			out = append(out, advice)
		}
	}
	return out, errors.Join(errs...)
}

func sensorAdvice(variable string, avg float64) string {
	switch variable {
	case types.VarTemperature:
		switch {
		case avg < 20:
			return AdviceTempLow
		case avg < 40:
			return AdviceTempMeso
		case avg > 70:
			return AdviceTempHigh
		}
	case types.VarMoisture:
		switch {
		case avg < 30:
			return AdviceMoistureLow
		case avg > 65:
			return AdviceMoistureHigh
		}
	case types.VarPH:
		switch {
		case avg < 5.5:
			return AdvicePHLow
		case avg > 8.5:
			return AdvicePHHigh
		}
	}
	return ""
}

// ValidateForecast rejects forecasts the weather rules cannot evaluate.
// Precipitation is only checked when precipitation rules are enabled and
// values are present.
func ValidateForecast(f Forecast, precipitation bool) error {
	if len(f.Temperature) == 0 {
		return &InvalidForecastError{Reason: "empty temperature sequence"}
	}
	if len(f.Humidity) == 0 {
		return &InvalidForecastError{Reason: "empty humidity sequence"}
	}
	if len(f.Temperature) != len(f.Humidity) {
		return &InvalidForecastError{Reason: fmt.Sprintf(
			"temperature has %d values, humidity %d", len(f.Temperature), len(f.Humidity))}
	}
	if precipitation && len(f.Precipitation) > 0 && len(f.Precipitation) != len(f.Temperature) {
		return &InvalidForecastError{Reason: fmt.Sprintf(
			"precipitation has %d values, temperature %d", len(f.Precipitation), len(f.Temperature))}
	}
	return nil
}

// WeatherRecommendations evaluates the temperature, precipitation and humidity
// rules in that order. Precipitation rules run only when enabled and the
// forecast carries precipitation values.
func WeatherRecommendations(f Forecast, precipitation bool) ([]string, error) {
	if err := ValidateForecast(f, precipitation); err != nil {
		return nil, err
	}
	out := []string{}

	avgTemp, minTemp, maxTemp := mean(f.Temperature), minOf(f.Temperature), maxOf(f.Temperature)
	switch {
	case maxTemp < 10:
		out = append(out, AdviceColdDay)
	case minTemp > 30:
		out = append(out, AdviceHotDay)
	case avgTemp < 10:
		out = append(out, AdviceAvgTempLow)
	case avgTemp > 30:
		out = append(out, AdviceAvgTempHigh)
	default:
		out = append(out, AdviceTempOptimal)
	}

	if precipitation && len(f.Precipitation) > 0 {
		var total float64
		showers := 0
		for _, p := range f.Precipitation {
			total += p
			if p > 5 {
				showers++
			}
		}
		switch {
		case total > 10:
			out = append(out, AdviceHeavyRain)
		case total == 0:
			out = append(out, AdviceNoRain)
		case showers >= 2:
			out = append(out, AdviceShowers)
		}
	}

	switch avgHumidity := mean(f.Humidity); {
	case avgHumidity < 40:
		out = append(out, AdviceHumidityLow)
	case avgHumidity > 80:
		out = append(out, AdviceHumidityHigh)
	default:
		out = append(out, AdviceHumidityOptimal)
	}
	return out, nil
}

func mean(xs []float64) float64 {
	var sum float64
	for _, x := range xs {
		sum += x
	}
	return sum / float64(len(xs))
}

func minOf(xs []float64) float64 {
	m := xs[0]
	for _, x := range xs[1:] {
		if x < m {
			m = x
		}
	}
	return m
}

func maxOf(xs []float64) float64 {
	m := xs[0]
	for _, x := range xs[1:] {
		if x > m {
			m = x
		}
	}
	return m
}
