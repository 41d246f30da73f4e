// Package sla maps complaint priority and age to breach status. Everything
// here is a pure function of its inputs; escalation history is never
// consulted.
package sla

import (
	"time"

	"civicdesk.org/internal/complaint"
)

// Threshold hours per priority. An unrecognized priority falls back to the
// most lenient threshold; intake validation makes that a defensive case
// rather than a normal one.
const (
	HighThresholdHours   = 24
	MediumThresholdHours = 48
	LowThresholdHours    = 72
)

// ThresholdHours returns the SLA window for a priority.
func ThresholdHours(p complaint.Priority) int {
	switch p {
	case complaint.PriorityHigh:
		return HighThresholdHours
	case complaint.PriorityMedium:
		return MediumThresholdHours
	default:
		return LowThresholdHours
	}
}

// Evaluation is the breach assessment for one complaint at one instant.
type Evaluation struct {
	ThresholdHours int
	ElapsedHours   int
	OverdueHours   int
	Breached       bool
}

// Evaluate computes elapsed whole hours since creation (floor division) and
// the resulting breach status.
func Evaluate(p complaint.Priority, createdAt, now time.Time) Evaluation {
	threshold := ThresholdHours(p)
	elapsedMs := now.UnixMilli() - createdAt.UnixMilli()
	if elapsedMs < 0 {
		elapsedMs = 0
	}
	elapsed := int(elapsedMs / time.Hour.Milliseconds())
	ev := Evaluation{ThresholdHours: threshold, ElapsedHours: elapsed}
	if elapsed > threshold {
		ev.Breached = true
		ev.OverdueHours = elapsed - threshold
	}
	return ev
}

// TargetLevel is the single escalation policy shared by the scheduled and
// manual sweep paths: level 0 within the threshold, one level at first
// breach, one more for each full additional SLA period overdue. Monotone in
// elapsed time.
func TargetLevel(p complaint.Priority, createdAt, now time.Time) int {
	ev := Evaluate(p, createdAt, now)
	if !ev.Breached {
		return 0
	}
	return 1 + ev.OverdueHours/ev.ThresholdHours
}
