package domain

import "time"

// TimerState classifies how long an open activity has been running
// against its type's thresholds.
type TimerState string

const (
	TimerNormal   TimerState = "normal"
	TimerWarning  TimerState = "warning"
	TimerCritical TimerState = "critical"
)

// EvaluateTimer classifies the elapsed time of an open instance. The
// warning and max boundaries are inclusive: hitting warning_minutes
// exactly is a warning, hitting max_minutes exactly is critical.
// ResolveRegistry already guarantees warning is below max.
func EvaluateTimer(startedAt time.Time, def ActivityTypeDefinition, now time.Time) TimerState {
	elapsed := now.Sub(startedAt)
	switch {
	case elapsed >= time.Duration(def.MaxMinutes)*time.Minute:
		return TimerCritical
	case elapsed >= time.Duration(def.WarningMinutes)*time.Minute:
		return TimerWarning
	default:
		return TimerNormal
	}
}
