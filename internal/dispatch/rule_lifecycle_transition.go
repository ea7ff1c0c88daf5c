package dispatch

import (
	"context"
	"fmt"

	"controlroom/pkg/domain"
)

// LifecycleTransitionRule blocks unknown statuses and any move out of a
// terminal status.
func LifecycleTransitionRule() domain.Rule {
	return lifecycleTransitionRule{}
}

type lifecycleTransitionRule struct{}

type lifecycleMachine struct {
	entity    domain.EntityType
	label     string
	terminal  map[string]struct{}
	valid     map[string]struct{}
	extractor func(record any) (key string, state string, ok bool)
}

var lifecycleMachines = map[domain.EntityType]lifecycleMachine{
	domain.EntityCAD: {
		entity:   domain.EntityCAD,
		label:    "cad",
		terminal: toSet(string(domain.CADStatusClosed)),
		valid:    toSet(string(domain.CADStatusOnScene), string(domain.CADStatusClosed)),
		extractor: func(record any) (string, string, bool) {
			cad, ok := record.(domain.CAD)
			if !ok {
				return "", "", false
			}
			return cad.Reference, string(cad.Status), true
		},
	},
	domain.EntityUnit: {
		entity:   domain.EntityUnit,
		label:    "unit",
		terminal: toSet(),
		valid: toSet(
			string(domain.UnitStatusAvailable),
			string(domain.UnitStatusEnRoute),
			string(domain.UnitStatusOnScene),
			string(domain.UnitStatusUnavailable),
		),
		extractor: func(record any) (string, string, bool) {
			unit, ok := record.(domain.Unit)
			if !ok {
				return "", "", false
			}
			return unit.Callsign, string(unit.Status), true
		},
	},
}

func (lifecycleTransitionRule) Name() string { return "lifecycle_transition" }

func (lifecycleTransitionRule) Evaluate(_ context.Context, _ domain.RuleView, changes []domain.Change) (domain.Result, error) {
	res := domain.Result{}
	for _, change := range changes {
		machine, ok := lifecycleMachines[change.Entity]
		if !ok {
			continue
		}

		afterKey, newState, ok := machine.extractor(change.After)
		if ok {
			if _, valid := machine.valid[newState]; !valid {
				res.Violations = append(res.Violations, domain.Violation{
					Rule:     "lifecycle_transition",
					Severity: domain.SeverityBlock,
					Message:  fmt.Sprintf("%s %s is set to invalid state %s", machine.label, afterKey, newState),
					Entity:   machine.entity,
					EntityID: afterKey,
				})
				continue
			}
		}

		beforeKey, beforeState, ok := machine.extractor(change.Before)
		if !ok {
			continue
		}
		if _, ok := machine.terminal[beforeState]; !ok {
			continue
		}
		if change.Action == domain.ActionDelete {
			continue
		}
		if newState != beforeState {
			res.Violations = append(res.Violations, domain.Violation{
				Rule:     "lifecycle_transition",
				Severity: domain.SeverityBlock,
				Message:  fmt.Sprintf("cannot move %s %s from terminal state %s to %s", machine.label, beforeKey, beforeState, newState),
				Entity:   machine.entity,
				EntityID: afterKey,
			})
		}
	}
	return res, nil
}

func toSet(values ...string) map[string]struct{} {
	set := make(map[string]struct{}, len(values))
	for _, v := range values {
		set[v] = struct{}{}
	}
	return set
}
