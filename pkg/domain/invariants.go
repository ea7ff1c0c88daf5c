package domain

import (
	"context"
	"fmt"
)

// InvariantRuleName labels violations produced by CheckInvariants.
const InvariantRuleName = "assignment_invariants"

// CheckInvariants reports every cross-entity invariant the state breaks:
// closed calls hold no units, assigned callsigns exist, a unit is AVAILABLE
// exactly when unassigned, a unit sits on at most one open call, callsigns are
// unique, and endTime is set exactly for closed calls.
func CheckInvariants(view RuleView) []Violation {
	var out []Violation
	block := func(entity EntityType, id, format string, args ...any) {
		out = append(out, Violation{
			Rule:     InvariantRuleName,
			Severity: SeverityBlock,
			Message:  fmt.Sprintf(format, args...),
			Entity:   entity,
			EntityID: id,
		})
	}

	units := make(map[string]Unit)
	for _, u := range view.ListUnits() {
		if _, dup := units[u.Callsign]; dup {
			block(EntityUnit, u.Callsign, "duplicate callsign %s", u.Callsign)
			continue
		}
		units[u.Callsign] = u
	}

	assignedTo := make(map[string]string)
	for _, c := range view.ListCADs() {
		if c.Closed() != (c.EndTime != nil) {
			block(EntityCAD, c.Reference, "cad %s status %s inconsistent with end time", c.Reference, c.Status)
		}
		if c.Closed() && len(c.AssignedUnits) > 0 {
			block(EntityCAD, c.Reference, "closed cad %s still holds %d units", c.Reference, len(c.AssignedUnits))
		}
		for _, cs := range c.AssignedUnits {
			if _, ok := units[cs]; !ok {
				block(EntityCAD, c.Reference, "cad %s references missing unit %s", c.Reference, cs)
				continue
			}
			if c.Closed() {
				continue
			}
			if other, ok := assignedTo[cs]; ok && other != c.Reference {
				block(EntityUnit, cs, "unit %s assigned to both %s and %s", cs, other, c.Reference)
				continue
			}
			assignedTo[cs] = c.Reference
		}
	}

	for cs, u := range units {
		_, assigned := assignedTo[cs]
		switch {
		case assigned && u.Status == UnitStatusAvailable:
			block(EntityUnit, cs, "unit %s is assigned to %s but AVAILABLE", cs, assignedTo[cs])
		case !assigned && u.Status != UnitStatusAvailable:
			block(EntityUnit, cs, "unit %s is unassigned but %s", cs, u.Status)
		}
	}
	return out
}

// InvariantRule blocks any mutation whose resulting state breaks CheckInvariants
// for a record touched by the mutation. Pre-existing violations on untouched
// records are reported as warnings so that one corrupt record never freezes the room.
func InvariantRule() Rule {
	return invariantRule{}
}

type invariantRule struct{}

func (invariantRule) Name() string { return InvariantRuleName }

func (invariantRule) Evaluate(_ context.Context, view RuleView, changes []Change) (Result, error) {
	touched := make(map[string]struct{}, len(changes))
	for _, ch := range changes {
		touched[string(ch.Entity)+":"+ch.Key] = struct{}{}
	}
	res := Result{}
	for _, v := range CheckInvariants(view) {
		if _, ok := touched[string(v.Entity)+":"+v.EntityID]; !ok {
			v.Severity = SeverityWarn
		}
		res.Violations = append(res.Violations, v)
	}
	return res, nil
}
