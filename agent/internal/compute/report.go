package compute

import (
	"errors"
	"time"

	"github.com/compostwatch/compostwatch/agent/internal/telemetry"
	"github.com/compostwatch/compostwatch/pkg/types"
)

// Options tunes an evaluation. The zero value disables precipitation rules
// and rejects any future start date; use DefaultOptions otherwise.
type Options struct {
	// Strict turns a missing daily statistic into an evaluation error.
	Strict bool
	// PrecipitationRules enables the rain advisories.
	PrecipitationRules bool
	// FutureStartTolerance is how far after the evaluation time a pile's
	// start date may lie before it is rejected. Within the tolerance the
	// pile counts as zero days old.
	FutureStartTolerance time.Duration
	// TrendWindow is the number of trailing differences averaged into the trend.
	TrendWindow int
}

// DefaultOptions returns the options used when nothing is configured.
func DefaultOptions() Options {
	return Options{
		PrecipitationRules:   true,
		FutureStartTolerance: 24 * time.Hour,
		TrendWindow:          DefaultTrendWindow,
	}
}

// Input is everything one pile evaluation reads.
type Input struct {
	Pile   types.PileState
	Stats  map[string]types.DailyStat
	Series telemetry.TemperatureSeries
	// Forecast is nil when no weather data is available; weather rules are
	// then skipped. A non-nil forecast must be valid.
	Forecast *Forecast
	// At is the evaluation time.
	At time.Time
}

// Evaluation is the report plus the intermediate values behind it.
type Evaluation struct {
	Report   types.CompostStatusReport
	Duration Duration
	Trend    float64
	// Missing lists variables whose sensor rules were skipped.
	Missing []string
}

// Evaluate runs the full analytics for one pile. It is pure: identical
// inputs produce identical evaluations.
func Evaluate(in Input, opts Options) (*Evaluation, error) {
	if err := validatePile(in.Pile, in.At, opts.FutureStartTolerance); err != nil {
		return nil, err
	}
	if in.Forecast != nil {
		if err := ValidateForecast(*in.Forecast, opts.PrecipitationRules); err != nil {
			return nil, err
		}
	}

	d := EstimateDuration(in.Pile.GreensKg, in.Pile.BrownsKg, in.Pile.StartDate, in.At)

	advice, err := SensorRecommendations(in.Stats)
	missing := missingVariables(err)
	if err != nil && opts.Strict {
		return nil, err
	}

	ma := in.Series.Smoothed()
	phase := ClassifyPhase(ma, d.ElapsedDays, opts.TrendWindow)
	if _, ok := in.Stats[types.VarTemperature]; !ok {
		phase = PhaseInsufficientData
	}

	weather := []string{}
	if in.Forecast != nil {
		weather, err = WeatherRecommendations(*in.Forecast, opts.PrecipitationRules)
		if err != nil {
			return nil, err
		}
	}

	return &Evaluation{
		Report:   Assemble(d, phase, advice, weather),
		Duration: d,
		Trend:    Trend(ma, opts.TrendWindow),
		Missing:  missing,
	}, nil
}

// Assemble maps the component outputs onto the report schema.
func Assemble(d Duration, phase string, advice, weather []string) types.CompostStatusReport {
	return types.CompostStatusReport{
		CompostAgeDays:         d.ElapsedDays,
		Phase:                  phase,
		EstimatedDurationDays:  d.ElapsedDays + d.RemainingDays,
		EstimatedDaysRemaining: d.RemainingDays,
		Recommendation:         advice,
		WeatherRecommendation:  weather,
	}
}

func validatePile(p types.PileState, at time.Time, tolerance time.Duration) error {
	switch {
	case p.GreensKg < 0:
		return &InvalidPileStateError{Field: "greens_kg", Reason: "is negative"}
	case p.BrownsKg < 0:
		return &InvalidPileStateError{Field: "browns_kg", Reason: "is negative"}
	case p.StartDate.IsZero():
		return &InvalidPileStateError{Field: "start_date", Reason: "is not set"}
	case p.StartDate.After(at.Add(tolerance)):
		return &InvalidPileStateError{Field: "start_date", Reason: "is in the future"}
	}
	return nil
}

func missingVariables(err error) []string {
	if err == nil {
		return nil
	}
	var out []string
	if joined, ok := err.(interface{ Unwrap() []error }); ok {
		for _, e := range joined.Unwrap() {
			var mv *MissingVariableError
			if errors.As(e, &mv) {
				out = append(out, mv.Variable)
			}
		}
	}
	return out
}
