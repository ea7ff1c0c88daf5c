package dispatch

import (
	"context"

	"controlroom/pkg/domain"
)

// mutation accumulates record changes against a working copy of the state so
// rules can see the post-state before anything is written.
type mutation struct {
	post    domain.Snapshot
	changes []domain.Change
}

func newMutation(snap domain.Snapshot) *mutation {
	return &mutation{post: snap.Clone()}
}

func (m *mutation) cadIndex(reference string) int {
	for i, c := range m.post.CADs {
		if c.Reference == reference {
			return i
		}
	}
	return -1
}

func (m *mutation) unitIndex(callsign string) int {
	for i, u := range m.post.Units {
		if u.Callsign == callsign {
			return i
		}
	}
	return -1
}

func (m *mutation) saveCAD(cad domain.CAD) {
	change := domain.Change{Entity: domain.EntityCAD, Action: domain.ActionCreate, Key: cad.Reference, After: cad.Clone()}
	if i := m.cadIndex(cad.Reference); i >= 0 {
		change.Action = domain.ActionUpdate
		change.Before = m.post.CADs[i].Clone()
		m.post.CADs[i] = cad.Clone()
	} else {
		m.post.CADs = append(m.post.CADs, cad.Clone())
	}
	m.changes = append(m.changes, change)
}

func (m *mutation) deleteCAD(reference string) {
	i := m.cadIndex(reference)
	if i < 0 {
		return
	}
	m.changes = append(m.changes, domain.Change{Entity: domain.EntityCAD, Action: domain.ActionDelete, Key: reference, Before: m.post.CADs[i].Clone()})
	m.post.CADs = append(m.post.CADs[:i], m.post.CADs[i+1:]...)
}

func (m *mutation) saveUnit(unit domain.Unit) {
	change := domain.Change{Entity: domain.EntityUnit, Action: domain.ActionCreate, Key: unit.Callsign, After: unit}
	if i := m.unitIndex(unit.Callsign); i >= 0 {
		change.Action = domain.ActionUpdate
		change.Before = m.post.Units[i]
		m.post.Units[i] = unit
	} else {
		m.post.Units = append(m.post.Units, unit)
	}
	m.changes = append(m.changes, change)
}

func (m *mutation) deleteUnit(callsign string) {
	i := m.unitIndex(callsign)
	if i < 0 {
		return
	}
	m.changes = append(m.changes, domain.Change{Entity: domain.EntityUnit, Action: domain.ActionDelete, Key: callsign, Before: m.post.Units[i]})
	m.post.Units = append(m.post.Units[:i], m.post.Units[i+1:]...)
}

// persist writes every change, atomically when the store supports batches.
func (m *mutation) persist(ctx context.Context, store domain.Store) error {
	return domain.WriteChanges(ctx, store, m.changes)
}
