package compute

import (
	"math"
	"time"
)

// BaseDurationDays is the composting duration at the optimal C:N ratio.
const BaseDurationDays = 90

// C:N ratios of the two material classes.
const (
	greensCN = 15
	brownsCN = 60
)

// Duration is the estimate derived from pile composition and age.
type Duration struct {
	CNRatio       float64
	SpeedFactor   float64
	TotalDays     int
	ElapsedDays   int
	RemainingDays int
}

// CNRatio returns the mass-weighted C:N ratio, or 0 for an empty pile.
func CNRatio(greensKg, brownsKg float64) float64 {
	total := greensKg + brownsKg
	if total == 0 {
		return 0
	}
	return (greensKg*greensCN + brownsKg*brownsCN) / total
}

// SpeedFactor maps a C:N ratio to its decomposition speed band.
func SpeedFactor(cn float64) float64 {
	switch {
	case cn >= 25 && cn <= 30:
		return 1.0
	case (cn >= 20 && cn < 25) || (cn > 30 && cn <= 35):
		return 0.8
	case (cn >= 15 && cn < 20) || (cn > 35 && cn <= 40):
		return 0.6
	default:
		return 0.4
	}
}

// TotalDays returns the expected total duration for speed, rounding halves to even.
func TotalDays(speed float64) int {
	return int(math.RoundToEven(BaseDurationDays / speed))
}

// ElapsedDays returns the whole days from start to at, floored.
// It is negative when start is after at.
func ElapsedDays(start, at time.Time) int {
	return int(math.Floor(at.Sub(start).Hours() / 24))
}

// EstimateDuration computes the duration estimate for a pile evaluated at at.
// Negative elapsed time is clamped to 0; rejecting far-future start dates is
// left to Evaluate.
func EstimateDuration(greensKg, brownsKg float64, start, at time.Time) Duration {
	cn := CNRatio(greensKg, brownsKg)
	speed := SpeedFactor(cn)
	total := TotalDays(speed)
	elapsed := ElapsedDays(start, at)
	if elapsed < 0 {
		elapsed = 0
	}
	remaining := total - elapsed
	if remaining < 0 {
		remaining = 0
	}
	return Duration{
		CNRatio:       cn,
		SpeedFactor:   speed,
		TotalDays:     total,
		ElapsedDays:   elapsed,
		RemainingDays: remaining,
	}
}
