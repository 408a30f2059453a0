package compute

import (
	"errors"
	"testing"

	"github.com/compostwatch/compostwatch/pkg/types"
)

func stats(temp, moisture, ph float64) map[string]types.DailyStat {
	return map[string]types.DailyStat{
		types.VarTemperature: {Avg: temp, Min: temp, Max: temp},
		types.VarMoisture:    {Avg: moisture, Min: moisture, Max: moisture},
		types.VarPH:          {Avg: ph, Min: ph, Max: ph},
	}
}

func count(list []string, s string) int {
	n := 0
	for _, v := range list {
		if v == s {
			n++
		}
	}
	return n
}

func equalStrings(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func TestSensorRecommendations(t *testing.T) {
	tests := []struct {
		name  string
		stats map[string]types.DailyStat
		want  []string
	}{
		{"all optimal", stats(55, 50, 7), []string{}},
		{"cold dry acidic", stats(10, 20, 5), []string{AdviceTempLow, AdviceMoistureLow, AdvicePHLow}},
		{"meso wet alkaline", stats(30, 70, 9), []string{AdviceTempMeso, AdviceMoistureHigh, AdvicePHHigh}},
		{"overheated", stats(75, 50, 7), []string{AdviceTempHigh}},
		{"temp 40 is silent", stats(40, 30, 5.5), []string{}},
		{"temp 70 is silent", stats(70, 65, 8.5), []string{}},
		{"temp 20 is mesophilic", stats(20, 50, 7), []string{AdviceTempMeso}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := SensorRecommendations(tt.stats)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if !equalStrings(got, tt.want) {
				t.Errorf("got %q, want %q", got, tt.want)
			}
		})
	}
}

func TestSensorRecommendations_DryOnce(t *testing.T) {
	got, _ := SensorRecommendations(stats(55, 20, 7))
	if n := count(got, AdviceMoistureLow); n != 1 {
		t.Errorf("too-dry advisory appears %d times, want 1", n)
	}
}

func TestSensorRecommendations_AtMostOnePerVariable(t *testing.T) {
	temps := []float64{-5, 0, 19.9, 20, 39.9, 40, 55, 70, 70.1, 100}
	moist := []float64{0, 29.9, 30, 50, 65, 65.1, 100}
	for _, tv := range temps {
		for _, mv := range moist {
			got, _ := SensorRecommendations(stats(tv, mv, 7))
			tempCount := count(got, AdviceTempLow) + count(got, AdviceTempMeso) + count(got, AdviceTempHigh)
			moistCount := count(got, AdviceMoistureLow) + count(got, AdviceMoistureHigh)
			if tempCount > 1 || moistCount > 1 {
				t.Fatalf("temp=%v moisture=%v: %q", tv, mv, got)
			}
		}
	}
}

func TestSensorRecommendations_MissingVariable(t *testing.T) {
	in := map[string]types.DailyStat{types.VarMoisture: {Avg: 20}}
	got, err := SensorRecommendations(in)
	if !equalStrings(got, []string{AdviceMoistureLow}) {
		t.Errorf("got %q, want only the moisture advisory", got)
	}
	var mv *MissingVariableError
	if !errors.As(err, &mv) {
		t.Fatalf("err = %v, want *MissingVariableError", err)
	}
	if missing := missingVariables(err); !equalStrings(missing, []string{types.VarTemperature, types.VarPH}) {
		t.Errorf("missing = %q, want [temperature ph]", missing)
	}
}

func TestWeatherRecommendations_ColdHumidDry(t *testing.T) {
	f := Forecast{
		Temperature:   []float64{5, 6, 7},
		Humidity:      []float64{90, 92, 95},
		Precipitation: []float64{0, 0, 0},
	}
	got, err := WeatherRecommendations(f, true)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := []string{AdviceColdDay, AdviceNoRain, AdviceHumidityHigh}
	if !equalStrings(got, want) {
		t.Errorf("got %q, want %q", got, want)
	}
}

func TestWeatherRecommendations_Rules(t *testing.T) {
	tests := []struct {
		name   string
		f      Forecast
		precip bool
		want   []string
	}{
		{
			name:   "hot day low humidity",
			f:      Forecast{Temperature: []float64{31, 35}, Humidity: []float64{30, 35}, Precipitation: []float64{1, 1}},
			precip: true,
			want:   []string{AdviceHotDay, AdviceHumidityLow},
		},
		{
			name: "mild cold average",
			f:    Forecast{Temperature: []float64{2, 4, 15}, Humidity: []float64{50, 50, 50}},
			want: []string{AdviceAvgTempLow, AdviceHumidityOptimal},
		},
		{
			name: "mild hot average",
			f:    Forecast{Temperature: []float64{28, 33, 34}, Humidity: []float64{60, 60, 60}},
			want: []string{AdviceAvgTempHigh, AdviceHumidityOptimal},
		},
		{
			name:   "heavy rain wins over showers",
			f:      Forecast{Temperature: []float64{15, 20, 18}, Humidity: []float64{70, 70, 70}, Precipitation: []float64{6, 7, 0}},
			precip: true,
			want:   []string{AdviceTempOptimal, AdviceHeavyRain, AdviceHumidityOptimal},
		},
		{
			// Two hours above 5 mm already exceed the heavy-rain total.
			name:   "two showers count as heavy rain",
			f:      Forecast{Temperature: []float64{15, 20, 18}, Humidity: []float64{70, 70, 70}, Precipitation: []float64{5.5, 0, 5.5}},
			precip: true,
			want:   []string{AdviceTempOptimal, AdviceHeavyRain, AdviceHumidityOptimal},
		},
		{
			name:   "light rain gives no precipitation advice",
			f:      Forecast{Temperature: []float64{15, 20}, Humidity: []float64{70, 70}, Precipitation: []float64{2, 6}},
			precip: true,
			want:   []string{AdviceTempOptimal, AdviceHumidityOptimal},
		},
		{
			name:   "precipitation rules disabled",
			f:      Forecast{Temperature: []float64{15}, Humidity: []float64{70}, Precipitation: []float64{0}},
			precip: false,
			want:   []string{AdviceTempOptimal, AdviceHumidityOptimal},
		},
		{
			name:   "precipitation absent",
			f:      Forecast{Temperature: []float64{15}, Humidity: []float64{70}},
			precip: true,
			want:   []string{AdviceTempOptimal, AdviceHumidityOptimal},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := WeatherRecommendations(tt.f, tt.precip)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if !equalStrings(got, tt.want) {
				t.Errorf("got %q, want %q", got, tt.want)
			}
		})
	}
}

func TestWeatherRecommendations_InvalidForecast(t *testing.T) {
	tests := []struct {
		name string
		f    Forecast
	}{
		{"empty", Forecast{}},
		{"empty humidity", Forecast{Temperature: []float64{10}}},
		{"length mismatch", Forecast{Temperature: []float64{10, 11}, Humidity: []float64{50}}},
		{"precipitation mismatch", Forecast{Temperature: []float64{10}, Humidity: []float64{50}, Precipitation: []float64{0, 1}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := WeatherRecommendations(tt.f, true)
			var fe *InvalidForecastError
			if !errors.As(err, &fe) {
				t.Fatalf("err = %v, want *InvalidForecastError", err)
			}
			if got != nil {
				t.Errorf("got %q, want nil advisories", got)
			}
		})
	}
}
