package telemetry

import "time"

// SeriesPoint is one temperature reading with its smoothed value.
type SeriesPoint struct {
	Time  time.Time
	Value float64
	MA    float64
}

// TemperatureSeries is ordered by strictly increasing Time.
type TemperatureSeries struct {
	Points []SeriesPoint
}

// Len returns the number of points.
func (s TemperatureSeries) Len() int { return len(s.Points) }

// Smoothed returns the moving-average column.
func (s TemperatureSeries) Smoothed() []float64 {
	out := make([]float64, len(s.Points))
	for i, p := range s.Points {
		out[i] = p.MA
	}
	return out
}

// After returns the points strictly later than t.
func (s TemperatureSeries) After(t time.Time) []SeriesPoint {
	for i, p := range s.Points {
		if p.Time.After(t) {
			return s.Points[i:]
		}
	}
	return nil
}
