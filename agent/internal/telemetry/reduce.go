package telemetry

import (
	"encoding/json"
	"math"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/compostwatch/compostwatch/pkg/types"
)

// DefaultWindow is the trailing moving-average window, about two hours of
// readings at a 20 minute sampling interval.
const DefaultWindow = 6

// RawPoint is one reading as delivered by a telemetry source.
// Value is a number or a numeric string.
type RawPoint struct {
	Time  time.Time
	Value any
}

// Raw is the telemetry of one evaluation window keyed by source channel name.
type Raw map[string][]RawPoint

// Sample is a parsed reading of a normalized variable.
type Sample struct {
	Time  time.Time
	Value float64
}

// Reducer turns Raw telemetry into statistics and the smoothed temperature series.
// The zero value uses DefaultRules and DefaultWindow.
type Reducer struct {
	Rules  []Rule
	Window int
}

func (r Reducer) rules() []Rule {
	if len(r.Rules) == 0 {
		return DefaultRules
	}
	return r.Rules
}

func (r Reducer) window() int {
	if r.Window <= 0 {
		return DefaultWindow
	}
	return r.Window
}

// Samples groups all parseable readings of raw by normalized variable.
// Readings of several channels mapped to the same variable are merged in
// channel name order, so the float sums downstream do not depend on map
// iteration.
func (r Reducer) Samples(raw Raw) map[string][]Sample {
	channels := make([]string, 0, len(raw))
	for channel := range raw {
		channels = append(channels, channel)
	}
	sort.Strings(channels)

	out := make(map[string][]Sample)
	for _, channel := range channels {
		variable, ok := Normalize(r.rules(), channel)
		if !ok {
			continue
		}
		var parsed []Sample
		for _, p := range raw[channel] {
			v, ok := ParseValue(p.Value)
			if !ok {
				continue
			}
			parsed = append(parsed, Sample{Time: p.Time, Value: v})
		}
		if len(parsed) == 0 {
			continue
		}
		out[variable] = append(out[variable], parsed...)
	}
	return out
}

// Reduce returns a DailyStat for every variable with at least one reading.
func (r Reducer) Reduce(raw Raw) map[string]types.DailyStat {
	stats := make(map[string]types.DailyStat)
	for variable, samples := range r.Samples(raw) {
		values := make([]float64, len(samples))
		for i, s := range samples {
			values[i] = s.Value
		}
		stats[variable] = Stat(values)
	}
	return stats
}

// Series returns the ascending, smoothed temperature series of raw.
// It is empty when no channel maps to temperature.
func (r Reducer) Series(raw Raw) TemperatureSeries {
	samples := r.Samples(raw)[types.VarTemperature]
	if len(samples) == 0 {
		return TemperatureSeries{}
	}
	ordered := dedupe(samples)
	ma := MovingAverage(valuesOf(ordered), r.window())
	points := make([]SeriesPoint, len(ordered))
	for i, s := range ordered {
		points[i] = SeriesPoint{Time: s.Time, Value: s.Value, MA: ma[i]}
	}
	return TemperatureSeries{Points: points}
}

// Stat computes population statistics of values, which must be non-empty.
func Stat(values []float64) types.DailyStat {
	lo, hi := values[0], values[0]
	var sum float64
	for _, v := range values {
		lo = math.Min(lo, v)
		hi = math.Max(hi, v)
		sum += v
	}
	n := float64(len(values))
	avg := sum / n
	var sq float64
	for _, v := range values {
		d := v - avg
		sq += d * d
	}
	// Rounding can push the mean of near-equal values a ulp outside [min, max].
	avg = math.Max(lo, math.Min(hi, avg))
	return types.DailyStat{Min: lo, Max: hi, Avg: avg, Std: math.Sqrt(sq / n)}
}

// MovingAverage returns the trailing simple moving average of values.
// The first window-1 entries average over the samples available so far.
func MovingAverage(values []float64, window int) []float64 {
	if window <= 0 {
		window = DefaultWindow
	}
	out := make([]float64, len(values))
	for i := range values {
		start := i - window + 1
		if start < 0 {
			start = 0
		}
		var sum float64
		for _, v := range values[start : i+1] {
			sum += v
		}
		out[i] = sum / float64(i+1-start)
	}
	return out
}

// ParseValue converts a raw reading to a finite float64.
func ParseValue(v any) (float64, bool) {
	var f float64
	switch x := v.(type) {
	case float64:
		f = x
	case float32:
		f = float64(x)
	case int:
		f = float64(x)
	case int64:
		f = float64(x)
	case json.Number:
		parsed, err := x.Float64()
		if err != nil {
			return 0, false
		}
		f = parsed
	case string:
		parsed, err := strconv.ParseFloat(strings.TrimSpace(x), 64)
		if err != nil {
			return 0, false
		}
		f = parsed
	default:
		return 0, false
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false
	}
	return f, true
}

// dedupe sorts samples by time and averages readings sharing a timestamp,
// leaving strictly increasing timestamps.
func dedupe(samples []Sample) []Sample {
	sorted := make([]Sample, len(samples))
	copy(sorted, samples)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Time.Before(sorted[j].Time) })

	out := make([]Sample, 0, len(sorted))
	for i := 0; i < len(sorted); {
		j := i
		var sum float64
		for j < len(sorted) && sorted[j].Time.Equal(sorted[i].Time) {
			sum += sorted[j].Value
			j++
		}
		out = append(out, Sample{Time: sorted[i].Time, Value: sum / float64(j-i)})
		i = j
	}
	return out
}

func valuesOf(samples []Sample) []float64 {
	out := make([]float64, len(samples))
	for i, s := range samples {
		out[i] = s.Value
	}
	return out
}
