// Package domain defines the control room entities, value types, and rule
// evaluation primitives shared by every window of the dispatch system.
package domain

import (
	"slices"
	"time"
)

// EntityType identifies the type of record stored in the core domain.
type EntityType string

// Supported entity type identifiers used in Change records and persistence buckets.
const (
	// EntityCAD identifies a call-for-dispatch record.
	EntityCAD EntityType = "cad"
	// EntityUnit identifies a response unit record.
	EntityUnit EntityType = "unit"
	// EntityOperator identifies an operator presence record.
	EntityOperator EntityType = "operator"
	EntityForm     EntityType = "form"
)

// Grading is the severity classification of a CAD.
type Grading string

// Gradings drive display priority and notification colour.
const (
	GradingImmediate Grading = "IMMEDIATE"
	GradingDelayed   Grading = "DELAYED"
	GradingStandard  Grading = "STANDARD"
)

// Valid reports whether g is a known grading.
func (g Grading) Valid() bool {
	switch g {
	case GradingImmediate, GradingDelayed, GradingStandard:
		return true
	}
	return false
}

// Color returns the embed colour used for notifications about this grading.
func (g Grading) Color() int {
	switch g {
	case GradingImmediate:
		return 15158332
	case GradingDelayed:
		return 16098851
	default:
		return 3447003
	}
}

// Priority orders gradings for display; lower sorts first.
func (g Grading) Priority() int {
	switch g {
	case GradingImmediate:
		return 0
	case GradingDelayed:
		return 1
	case GradingStandard:
		return 2
	}
	return 3
}

// CADStatus enumerates CAD lifecycle states.
type CADStatus string

// CAD statuses. CLOSED is terminal.
const (
	CADStatusOnScene CADStatus = "ON_SCENE"
	CADStatusClosed  CADStatus = "CLOSED"
)

// Valid reports whether s is a known CAD status.
func (s CADStatus) Valid() bool {
	return s == CADStatusOnScene || s == CADStatusClosed
}

// UnitStatus enumerates unit availability states.
type UnitStatus string

// Unit statuses. AVAILABLE is reserved for units with no assignment.
const (
	UnitStatusAvailable   UnitStatus = "AVAILABLE"
	UnitStatusEnRoute     UnitStatus = "EN_ROUTE"
	UnitStatusOnScene     UnitStatus = "ON_SCENE"
	UnitStatusUnavailable UnitStatus = "UNAVAILABLE"
)

// Valid reports whether s is a known unit status.
func (s UnitStatus) Valid() bool {
	switch s {
	case UnitStatusAvailable, UnitStatusEnRoute, UnitStatusOnScene, UnitStatusUnavailable:
		return true
	}
	return false
}

// Comment is an append-only log entry on a CAD.
type Comment struct {
	Operator  string    `json:"operator"`
	Timestamp time.Time `json:"timestamp"`
	Text      string    `json:"text" validate:"required"`
}

// CAD is a single logged call for dispatch.
type CAD struct {
	ID            string     `json:"id"`
	Reference     string     `json:"reference"`
	Type          string     `json:"type" validate:"required"`
	Location      string     `json:"location" validate:"required"`
	Grading       Grading    `json:"grading" validate:"required"`
	Description   string     `json:"description" validate:"required"`
	Channel       string     `json:"channel"`
	Status        CADStatus  `json:"status"`
	StartTime     time.Time  `json:"startTime"`
	EndTime       *time.Time `json:"endTime,omitempty"`
	AssignedUnits []string   `json:"assignedUnits"`
	Comments      []Comment  `json:"comments"`
	CreatedBy     string     `json:"createdBy,omitempty"`
	UpdatedAt     time.Time  `json:"updatedAt"`
}

// Closed reports whether the call has been ended.
func (c CAD) Closed() bool {
	return c.Status == CADStatusClosed
}

// HasUnit reports whether callsign is in the assignment set.
func (c CAD) HasUnit(callsign string) bool {
	return slices.Contains(c.AssignedUnits, callsign)
}

// Clone returns a deep copy of the CAD.
func (c CAD) Clone() CAD {
	out := c
	out.AssignedUnits = append([]string(nil), c.AssignedUnits...)
	out.Comments = append([]Comment(nil), c.Comments...)
	if c.EndTime != nil {
		end := *c.EndTime
		out.EndTime = &end
	}
	return out
}

// Unit is a response resource identified by callsign.
type Unit struct {
	ID        string     `json:"id"`
	Callsign  string     `json:"callsign" validate:"required"`
	Type      string     `json:"type" validate:"required"`
	Crew      string     `json:"crew" validate:"required"`
	Status    UnitStatus `json:"status"`
	Notes     string     `json:"notes"`
	UpdatedAt time.Time  `json:"updatedAt"`
}

// Operator is a session identity with a presence heartbeat.
type Operator struct {
	Name       string    `json:"name" validate:"required"`
	ID         string    `json:"id" validate:"required"`
	LastSeen   time.Time `json:"lastSeen"`
	BookedOnAt time.Time `json:"bookedOnAt"`
}

// OnDuty reports whether the operator heartbeat falls within window of now.
func (o Operator) OnDuty(now time.Time, window time.Duration) bool {
	return !o.LastSeen.Before(now.Add(-window))
}

// Action represents the type of modification performed in a change.
type Action string

// Change actions enumerate the mutations captured for rule evaluation.
const (
	ActionCreate Action = "create"
	ActionUpdate Action = "update"
	ActionDelete Action = "delete"
)

// Change describes a single record mutation. Before and After hold the record
// value (CAD or Unit) and are nil for creates and deletes respectively.
type Change struct {
	Entity EntityType
	Action Action
	Key    string
	Before any
	After  any
}

// Severity captures rule outcomes.
type Severity string

// Rule evaluation severities determine commit behavior and logging.
const (
	// SeverityBlock blocks the mutation.
	SeverityBlock Severity = "block"
	SeverityWarn  Severity = "warn"
	SeverityLog   Severity = "log"
)

// Violation reports a failed rule evaluation.
type Violation struct {
	Rule     string
	Severity Severity
	Message  string
	Entity   EntityType
	EntityID string
}

// Result aggregates violations from the rules engine.
type Result struct {
	Violations []Violation
}

// Merge appends violations from another result.
func (r *Result) Merge(other Result) {
	if len(other.Violations) == 0 {
		return
	}
	r.Violations = append(r.Violations, other.Violations...)
}

// HasBlocking returns true if the result contains blocking violations.
func (r Result) HasBlocking() bool {
	for _, v := range r.Violations {
		if v.Severity == SeverityBlock {
			return true
		}
	}
	return false
}

// RuleViolationError is returned when blocking violations are present.
type RuleViolationError struct {
	Result Result
}

func (e RuleViolationError) Error() string {
	for _, v := range e.Result.Violations {
		if v.Severity == SeverityBlock {
			return "mutation blocked by rules: " + v.Message
		}
	}
	return "mutation blocked by rules"
}
