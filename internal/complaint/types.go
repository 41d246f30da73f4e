package complaint

import (
	"strings"
	"time"
)

// Priority orders complaints by urgency and selects the SLA threshold.
type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityMedium Priority = "medium"
	PriorityHigh   Priority = "high"
)

var priorityRank = map[Priority]int{
	PriorityLow:    0,
	PriorityMedium: 1,
	PriorityHigh:   2,
}

// ParsePriority normalizes and validates a priority string.
func ParsePriority(s string) (Priority, bool) {
	p := Priority(strings.TrimSpace(strings.ToLower(s)))
	_, ok := priorityRank[p]
	return p, ok
}

// Valid reports whether the priority belongs to the closed set.
func (p Priority) Valid() bool {
	_, ok := priorityRank[p]
	return ok
}

// Status tracks a complaint through triage. Transitions move forward only.
type Status string

const (
	StatusNew         Status = "new"
	StatusUnderReview Status = "under-review"
	StatusResolved    Status = "resolved"
)

var statusRank = map[Status]int{
	StatusNew:         0,
	StatusUnderReview: 1,
	StatusResolved:    2,
}

// ParseStatus normalizes and validates a status string.
func ParseStatus(s string) (Status, bool) {
	st := Status(strings.TrimSpace(strings.ToLower(s)))
	_, ok := statusRank[st]
	return st, ok
}

// CanTransition reports whether next is a strictly forward move.
func (s Status) CanTransition(next Status) bool {
	from, ok := statusRank[s]
	if !ok {
		return false
	}
	to, ok := statusRank[next]
	if !ok {
		return false
	}
	return to > from
}

// Complaint is a citizen-submitted grievance. OwnerEmail is empty for
// anonymous submissions. Status and resolution fields are mutated by triage
// only; escalation fields by the escalation engine only.
type Complaint struct {
	ID              string
	Category        string
	Description     string
	Priority        Priority
	Status          Status
	OwnerEmail      string
	CreatedAt       time.Time
	ResolvedAt      *time.Time
	EscalationLevel int
	LastEscalatedAt *time.Time
}

// Resolved reports whether the complaint has reached its terminal status.
func (c *Complaint) Resolved() bool {
	return c != nil && c.Status == StatusResolved
}

// Anonymous reports whether the complaint has no owning principal.
func (c *Complaint) Anonymous() bool {
	return c != nil && c.OwnerEmail == ""
}

// EscalationRecord is an immutable audit entry, one per escalation level
// crossed. It is never the source of truth for the current level; that
// lives on the complaint so the idempotency check needs no history scan.
type EscalationRecord struct {
	ID          string
	ComplaintID string
	Level       int
	Reason      string
	CreatedAt   time.Time
}
