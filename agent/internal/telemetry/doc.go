// Package telemetry reduces raw per-channel sensor readings into the inputs of
// the analytics engine.
//
// Channel names are source specific (data_TEMP_SOIL, SOIL_MOISTURE, PH1_SOIL).
// They are mapped to the normalized variables temperature, moisture and ph by
// an ordered keyword rule list evaluated first-match and case-insensitive:
//
//	temp     -> temperature
//	water    -> moisture
//	moisture -> moisture
//	ph       -> ph
//
// A channel that matches no rule is ignored. Values may be numbers or numeric
// strings; anything else (including NaN and ±Inf) is dropped, and a channel
// left without values is dropped entirely.
//
// Reduce produces a population-statistics DailyStat per variable. Series builds
// the ascending temperature series with a trailing moving average (window 6,
// one sample minimum), so the smoothed column always has the length of the
// series.
package telemetry
