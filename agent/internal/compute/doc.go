// Package compute is the compost analytics engine.
//
// duration.go estimates total and remaining composting days from the
// greens/browns C:N ratio. phase.go classifies the current decomposition
// phase from the smoothed temperature series; it is stateless and
// re-evaluated from the full series on every call. recommend.go holds the
// sensor and weather advisory rules. report.go composes them into a
// types.CompostStatusReport via Evaluate, which takes the evaluation time as
// input and never reads the clock.
//
// transition.go is the one stateful part: Tracker logs cold / mesophilic /
// thermophilic regime changes with hysteresis, persisting its state through a
// StateStore (in memory here, Redis in package coord).
//
// Errors: *MissingVariableError (rules skipped, fatal only in strict mode),
// *InvalidForecastError and *InvalidPileStateError (always fatal for the
// evaluation of that pile).
package compute
