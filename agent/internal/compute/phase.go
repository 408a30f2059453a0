package compute

// Phase labels.
const (
	PhaseInsufficientData      = "Insufficient data"
	PhaseInactive              = "Inactive"
	PhaseMaturation            = "Maturation Phase"
	PhaseMesophilicHeating     = "Mesophilic Phase (heating up)"
	PhaseCooling               = "Cooling Phase (declining)"
	PhaseStableMesophilic      = "Stable Mesophilic"
	PhaseLateCooling           = "Late Cooling"
	PhaseUnstable              = "Phase unstable"
	PhaseThermophilicActive    = "Thermophilic Phase (active)"
	PhaseThermophilicCooling   = "Thermophilic Cooling Phase (declining)"
	PhaseStableThermophilic    = "Stable Thermophilic Phase"
	PhaseSensorErrorOverheated = "Possible sensor error or overheating"
)

// DefaultTrendWindow is the number of trailing successive differences averaged
// into the trend, about one day at a 20 minute sampling interval.
const DefaultTrendWindow = 70

// Temperature band edges in °C.
const (
	mesophilicFloor  = 20.0
	thermophilicEdge = 40.0
	overheatCeiling  = 70.0
)

// Trend returns the mean of the last window successive differences of ma,
// or 0 when ma has fewer than two values.
func Trend(ma []float64, window int) float64 {
	if len(ma) < 2 {
		return 0
	}
	if window <= 0 {
		window = DefaultTrendWindow
	}
	start := len(ma) - 1 - window
	if start < 0 {
		start = 0
	}
	var sum float64
	for i := start + 1; i < len(ma); i++ {
		sum += ma[i] - ma[i-1]
	}
	return sum / float64(len(ma)-1-start)
}

// ClassifyPhase labels the pile from its smoothed temperature series and age.
func ClassifyPhase(ma []float64, daysSinceStart, trendWindow int) string {
	if len(ma) < 2 {
		return PhaseInsufficientData
	}
	return classify(ma[len(ma)-1], Trend(ma, trendWindow), daysSinceStart)
}

func classify(latest, trend float64, days int) string {
	switch {
	case latest < mesophilicFloor:
		if days > 30 {
			return PhaseMaturation
		}
		return PhaseInactive

	case latest <= thermophilicEdge:
		switch {
		case trend > 2:
			return PhaseMesophilicHeating
		case trend < -2:
			return PhaseCooling
		case days < 8:
			return PhaseStableMesophilic
		case days > 30:
			return PhaseLateCooling
		default:
			return PhaseUnstable
		}

	case latest <= overheatCeiling:
		switch {
		case trend > 0:
			return PhaseThermophilicActive
		case trend < -1:
			return PhaseThermophilicCooling
		default:
			return PhaseStableThermophilic
		}

	default:
		return PhaseSensorErrorOverheated
	}
}
