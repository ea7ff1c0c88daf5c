package dispatch

import (
	"context"
	"slices"
	"strings"
	"time"

	"controlroom/internal/notifier"
	"controlroom/pkg/domain"
)

// NewCAD carries the operator-entered fields of a new call.
type NewCAD struct {
	Type        string
	Location    string
	Grading     domain.Grading
	Description string
	Channel     string
}

// CreateCAD logs a new call with the next reference number.
func (s *Service) CreateCAD(ctx context.Context, op domain.Operator, in NewCAD) (cad domain.CAD, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	defer s.observe(ctx, "create_cad", s.now(), &err)

	now := s.now()
	cad = domain.CAD{
		ID:            s.newID(),
		Type:          strings.TrimSpace(in.Type),
		Location:      strings.TrimSpace(in.Location),
		Grading:       in.Grading,
		Description:   strings.TrimSpace(in.Description),
		Channel:       strings.TrimSpace(in.Channel),
		Status:        domain.CADStatusOnScene,
		StartTime:     now,
		AssignedUnits: []string{},
		Comments:      []domain.Comment{},
		CreatedBy:     op.Name,
		UpdatedAt:     now,
	}
	if err := domain.ValidateCAD(cad); err != nil {
		return domain.CAD{}, err
	}
	snap, err := s.load(ctx)
	if err != nil {
		return domain.CAD{}, err
	}
	n := s.next
	cad.Reference = domain.FormatReference(n, now)
	s.next = n + 1
	if err := s.store.SaveCounter(ctx, s.next); err != nil {
		return domain.CAD{}, err
	}

	m := newMutation(snap)
	m.saveCAD(cad)
	if err := s.commit(ctx, m); err != nil {
		return domain.CAD{}, err
	}
	s.log.WithOperator(op.Name).WithField("reference", cad.Reference).Info("cad created")
	s.notify(ctx, notifier.CADCreated(cad, op.Name))
	return cad, nil
}

// AssignUnit commits a unit to an open call and sets it EN_ROUTE.
func (s *Service) AssignUnit(ctx context.Context, op domain.Operator, reference, callsign string) (err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	defer s.observe(ctx, "assign_unit", s.now(), &err)

	snap, err := s.load(ctx)
	if err != nil {
		return err
	}
	cad, err := requireCAD(snap, reference)
	if err != nil {
		return err
	}
	unit, err := requireUnit(snap, callsign)
	if err != nil {
		return err
	}
	if cad.Closed() {
		return &domain.TransitionError{Entity: domain.EntityCAD, Key: cad.Reference, From: string(cad.Status), To: "assigned", Reason: "call is closed"}
	}
	if cad.HasUnit(unit.Callsign) {
		return &domain.ValidationError{Field: "callsign", Reason: domain.ReasonDuplicate, Detail: unit.Callsign + " already assigned to " + cad.Reference}
	}
	if other, ok := snap.AssignmentIndex()[unit.Callsign]; ok {
		return &domain.TransitionError{Entity: domain.EntityUnit, Key: unit.Callsign, From: string(unit.Status), To: string(domain.UnitStatusEnRoute), Reason: "already assigned to " + other}
	}

	now := s.now()
	unit.Status = domain.UnitStatusEnRoute
	unit.UpdatedAt = now
	cad.AssignedUnits = append(cad.AssignedUnits, unit.Callsign)
	cad.UpdatedAt = now

	m := newMutation(snap)
	m.saveUnit(unit)
	m.saveCAD(cad)
	if err := s.commit(ctx, m); err != nil {
		return err
	}
	s.log.WithOperator(op.Name).WithFields(map[string]any{"reference": cad.Reference, "callsign": unit.Callsign}).Info("unit assigned")
	s.notify(ctx, notifier.UnitAssigned(cad.Reference, unit.Callsign, op.Name))
	return nil
}

// UnassignUnit releases a unit from a call and makes it AVAILABLE.
func (s *Service) UnassignUnit(ctx context.Context, op domain.Operator, reference, callsign string) (err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	defer s.observe(ctx, "unassign_unit", s.now(), &err)

	snap, err := s.load(ctx)
	if err != nil {
		return err
	}
	cad, err := requireCAD(snap, reference)
	if err != nil {
		return err
	}
	callsign = domain.NormalizeCallsign(callsign)
	if !cad.HasUnit(callsign) {
		return &domain.ValidationError{Field: "callsign", Reason: domain.ReasonInvalid, Detail: callsign + " is not assigned to " + cad.Reference}
	}

	now := s.now()
	m := newMutation(snap)
	if unit, ok := snap.FindUnit(callsign); ok {
		unit.Status = domain.UnitStatusAvailable
		unit.UpdatedAt = now
		m.saveUnit(unit)
	}
	cad.AssignedUnits = slices.DeleteFunc(cad.AssignedUnits, func(cs string) bool { return cs == callsign })
	cad.UpdatedAt = now
	m.saveCAD(cad)
	if err := s.commit(ctx, m); err != nil {
		return err
	}
	s.log.WithOperator(op.Name).WithFields(map[string]any{"reference": cad.Reference, "callsign": callsign}).Info("unit unassigned")
	s.notify(ctx, notifier.UnitUnassigned(cad.Reference, callsign, op.Name))
	return nil
}

// releaseUnits makes every unit on cad AVAILABLE and empties its assignment
// set. Callsigns without a unit record are dropped.
func releaseUnits(m *mutation, snap domain.Snapshot, cad *domain.CAD, now time.Time) []string {
	released := append([]string(nil), cad.AssignedUnits...)
	for _, cs := range released {
		if unit, ok := snap.FindUnit(cs); ok {
			unit.Status = domain.UnitStatusAvailable
			unit.UpdatedAt = now
			m.saveUnit(unit)
		}
	}
	cad.AssignedUnits = []string{}
	return released
}

// EndCall closes a call, releasing all of its units, and archives it.
func (s *Service) EndCall(ctx context.Context, op domain.Operator, reference string) (cad domain.CAD, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	defer s.observe(ctx, "end_call", s.now(), &err)

	snap, err := s.load(ctx)
	if err != nil {
		return domain.CAD{}, err
	}
	cad, err = requireCAD(snap, reference)
	if err != nil {
		return domain.CAD{}, err
	}
	if cad.Closed() {
		return domain.CAD{}, &domain.TransitionError{Entity: domain.EntityCAD, Key: cad.Reference, From: string(cad.Status), To: string(domain.CADStatusClosed), Reason: "call already ended"}
	}

	now := s.now()
	m := newMutation(snap)
	released := releaseUnits(m, snap, &cad, now)
	cad.Status = domain.CADStatusClosed
	cad.EndTime = &now
	cad.UpdatedAt = now
	m.saveCAD(cad)
	if err := s.commit(ctx, m); err != nil {
		return domain.CAD{}, err
	}
	s.log.WithOperator(op.Name).WithFields(map[string]any{"reference": cad.Reference, "released": len(released)}).Info("call ended")
	if s.archiver != nil {
		if key, err := s.archiver.ArchiveCAD(ctx, cad); err != nil {
			s.log.WithError(err).WithField("reference", cad.Reference).Warn("archive closed cad")
		} else {
			s.log.WithField("key", key).Debug("closed cad archived")
		}
	}
	s.notify(ctx, notifier.CADClosed(cad, released, op.Name))
	return cad, nil
}

// DeleteCAD removes a call outright after releasing its units.
func (s *Service) DeleteCAD(ctx context.Context, op domain.Operator, reference string) (err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	defer s.observe(ctx, "delete_cad", s.now(), &err)

	snap, err := s.load(ctx)
	if err != nil {
		return err
	}
	cad, err := requireCAD(snap, reference)
	if err != nil {
		return err
	}
	m := newMutation(snap)
	releaseUnits(m, snap, &cad, s.now())
	m.deleteCAD(cad.Reference)
	if err := s.commit(ctx, m); err != nil {
		return err
	}
	s.log.WithOperator(op.Name).WithField("reference", cad.Reference).Info("cad deleted")
	s.notify(ctx, notifier.CADDeleted(cad, op.Name))
	return nil
}

// AddComment appends an operator comment to a call.
func (s *Service) AddComment(ctx context.Context, op domain.Operator, reference, text string) (err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	defer s.observe(ctx, "add_comment", s.now(), &err)

	text = strings.TrimSpace(text)
	if text == "" {
		return &domain.ValidationError{Field: "text", Reason: domain.ReasonMissing}
	}
	snap, err := s.load(ctx)
	if err != nil {
		return err
	}
	cad, err := requireCAD(snap, reference)
	if err != nil {
		return err
	}
	now := s.now()
	cad.Comments = append(cad.Comments, domain.Comment{Operator: op.Name, Timestamp: now, Text: text})
	cad.UpdatedAt = now
	m := newMutation(snap)
	m.saveCAD(cad)
	return s.commit(ctx, m)
}

// SetGrading regrades an open call.
func (s *Service) SetGrading(ctx context.Context, op domain.Operator, reference string, grading domain.Grading) (err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	defer s.observe(ctx, "set_grading", s.now(), &err)

	if !grading.Valid() {
		return &domain.ValidationError{Field: "grading", Reason: domain.ReasonInvalid, Detail: string(grading)}
	}
	snap, err := s.load(ctx)
	if err != nil {
		return err
	}
	cad, err := requireCAD(snap, reference)
	if err != nil {
		return err
	}
	if cad.Closed() {
		return &domain.TransitionError{Entity: domain.EntityCAD, Key: cad.Reference, From: string(cad.Status), To: string(grading), Reason: "call is closed"}
	}
	cad.Grading = grading
	cad.UpdatedAt = s.now()
	m := newMutation(snap)
	m.saveCAD(cad)
	if err := s.commit(ctx, m); err != nil {
		return err
	}
	s.log.WithOperator(op.Name).WithFields(map[string]any{"reference": cad.Reference, "grading": grading}).Info("cad regraded")
	return nil
}
