package compute

import "fmt"

// MissingVariableError reports a normalized variable without a daily statistic.
// The rules of that variable are skipped.
type MissingVariableError struct {
	Variable string
}

func (e *MissingVariableError) Error() string {
	return fmt.Sprintf("compute: no daily statistic for %q", e.Variable)
}

// InvalidForecastError reports forecast input that cannot be evaluated.
type InvalidForecastError struct {
	Reason string
}

func (e *InvalidForecastError) Error() string {
	return "compute: invalid forecast: " + e.Reason
}

// InvalidPileStateError reports pile metadata outside the accepted domain.
type InvalidPileStateError struct {
	Field  string
	Reason string
}

func (e *InvalidPileStateError) Error() string {
	return fmt.Sprintf("compute: invalid pile state: %s %s", e.Field, e.Reason)
}
