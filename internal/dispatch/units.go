package dispatch

import (
	"context"
	"errors"
	"slices"
	"strings"

	"controlroom/internal/notifier"
	"controlroom/pkg/domain"
)

// NewUnit carries the operator-entered fields of a new unit.
type NewUnit struct {
	Callsign string
	Type     string
	Crew     string
	Notes    string
}

// UnitEdit is a partial manual edit; nil fields are left unchanged.
type UnitEdit struct {
	Status *domain.UnitStatus
	Type   *string
	Crew   *string
	Notes  *string
}

// CreateUnit adds an AVAILABLE unit under a unique callsign.
func (s *Service) CreateUnit(ctx context.Context, op domain.Operator, in NewUnit) (unit domain.Unit, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	defer s.observe(ctx, "create_unit", s.now(), &err)

	snap, err := s.load(ctx)
	if err != nil {
		return domain.Unit{}, err
	}
	unit = domain.Unit{
		ID:        s.newID(),
		Callsign:  domain.NormalizeCallsign(in.Callsign),
		Type:      strings.TrimSpace(in.Type),
		Crew:      strings.TrimSpace(in.Crew),
		Status:    domain.UnitStatusAvailable,
		Notes:     strings.TrimSpace(in.Notes),
		UpdatedAt: s.now(),
	}
	if err := domain.ValidateNewUnit(unit, snap.Units); err != nil {
		return domain.Unit{}, err
	}
	m := newMutation(snap)
	m.saveUnit(unit)
	if err := s.commit(ctx, m); err != nil {
		return domain.Unit{}, err
	}
	s.log.WithOperator(op.Name).WithField("callsign", unit.Callsign).Info("unit created")
	s.notify(ctx, notifier.UnitAdded(unit, op.Name))
	return unit, nil
}

// UpdateUnit applies a manual edit. Assigned units may move freely between
// EN_ROUTE, ON_SCENE and UNAVAILABLE; AVAILABLE is reached only by
// unassignment, and unassigned units stay AVAILABLE.
func (s *Service) UpdateUnit(ctx context.Context, op domain.Operator, callsign string, edit UnitEdit) (unit domain.Unit, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	defer s.observe(ctx, "update_unit", s.now(), &err)

	snap, err := s.load(ctx)
	if err != nil {
		return domain.Unit{}, err
	}
	unit, err = requireUnit(snap, callsign)
	if err != nil {
		return domain.Unit{}, err
	}
	if edit.Type != nil {
		unit.Type = strings.TrimSpace(*edit.Type)
	}
	if edit.Crew != nil {
		unit.Crew = strings.TrimSpace(*edit.Crew)
	}
	if edit.Notes != nil {
		unit.Notes = strings.TrimSpace(*edit.Notes)
	}
	if edit.Status != nil && *edit.Status != unit.Status {
		if err := checkManualStatus(snap, unit, *edit.Status); err != nil {
			return domain.Unit{}, err
		}
		unit.Status = *edit.Status
	}
	if err := domain.ValidateUnit(unit); err != nil {
		return domain.Unit{}, err
	}
	unit.UpdatedAt = s.now()
	m := newMutation(snap)
	m.saveUnit(unit)
	if err := s.commit(ctx, m); err != nil {
		return domain.Unit{}, err
	}
	s.log.WithOperator(op.Name).WithFields(map[string]any{"callsign": unit.Callsign, "status": unit.Status}).Info("unit updated")
	return unit, nil
}

func checkManualStatus(snap domain.Snapshot, unit domain.Unit, to domain.UnitStatus) error {
	if !to.Valid() {
		return &domain.ValidationError{Field: "status", Reason: domain.ReasonInvalid, Detail: string(to)}
	}
	reference, assigned := snap.AssignmentIndex()[unit.Callsign]
	switch {
	case assigned && to == domain.UnitStatusAvailable:
		return &domain.TransitionError{Entity: domain.EntityUnit, Key: unit.Callsign, From: string(unit.Status), To: string(to), Reason: "unassign it from " + reference + " first"}
	case !assigned && to != domain.UnitStatusAvailable:
		return &domain.TransitionError{Entity: domain.EntityUnit, Key: unit.Callsign, From: string(unit.Status), To: string(to), Reason: "unit is not assigned to a call"}
	}
	return nil
}

// stripUnits removes every callsign in remove from every CAD holding it.
func stripUnits(m *mutation, snap domain.Snapshot, remove map[string]struct{}) {
	for _, c := range snap.CADs {
		if !slices.ContainsFunc(c.AssignedUnits, func(cs string) bool { _, ok := remove[cs]; return ok }) {
			continue
		}
		cad := c.Clone()
		cad.AssignedUnits = slices.DeleteFunc(cad.AssignedUnits, func(cs string) bool { _, ok := remove[cs]; return ok })
		m.saveCAD(cad)
	}
}

// DeleteUnit removes a unit after stripping it from every call.
func (s *Service) DeleteUnit(ctx context.Context, op domain.Operator, callsign string) (err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	defer s.observe(ctx, "delete_unit", s.now(), &err)

	snap, err := s.load(ctx)
	if err != nil {
		return err
	}
	unit, err := requireUnit(snap, callsign)
	if err != nil {
		return err
	}
	m := newMutation(snap)
	stripUnits(m, snap, map[string]struct{}{unit.Callsign: {}})
	m.deleteUnit(unit.Callsign)
	if err := s.commit(ctx, m); err != nil {
		return err
	}
	s.log.WithOperator(op.Name).WithField("callsign", unit.Callsign).Info("unit deleted")
	s.notify(ctx, notifier.UnitDeleted(unit, op.Name))
	return nil
}

// RemoveUnits deletes a set of units in one cascade: every selected callsign
// is stripped from every call before any unit record is removed. Unknown
// callsigns and write failures are reported together once the cascade has
// run as far as it can.
func (s *Service) RemoveUnits(ctx context.Context, op domain.Operator, callsigns []string) (err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	defer s.observe(ctx, "remove_units", s.now(), &err)

	snap, err := s.load(ctx)
	if err != nil {
		return err
	}
	var errs []error
	remove := make(map[string]struct{}, len(callsigns))
	var removed []domain.Unit
	for _, cs := range callsigns {
		unit, err := requireUnit(snap, cs)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if _, dup := remove[unit.Callsign]; dup {
			continue
		}
		remove[unit.Callsign] = struct{}{}
		removed = append(removed, unit)
	}
	if len(remove) > 0 {
		m := newMutation(snap)
		stripUnits(m, snap, remove)
		for _, u := range removed {
			m.deleteUnit(u.Callsign)
		}
		if err := s.commit(ctx, m); err != nil {
			errs = append(errs, err)
		} else {
			for _, u := range removed {
				s.notify(ctx, notifier.UnitDeleted(u, op.Name))
			}
		}
	}
	s.log.WithOperator(op.Name).WithFields(map[string]any{"requested": len(callsigns), "removed": len(removed)}).Info("units removed")
	return errors.Join(errs...)
}
