package domain

import (
	"slices"
	"sort"
	"time"
)

// Snapshot is the full persisted control room state as read by LoadAll.
type Snapshot struct {
	CADs          []CAD        `json:"cads"`
	Units         []Unit       `json:"units"`
	Operators     []Operator   `json:"operators"`
	Forms         []FormRecord `json:"forms"`
	NextCADNumber int          `json:"nextCadNumber"`
}

// Clone returns a deep copy safe to mutate.
func (s Snapshot) Clone() Snapshot {
	out := Snapshot{NextCADNumber: s.NextCADNumber}
	out.CADs = make([]CAD, len(s.CADs))
	for i, c := range s.CADs {
		out.CADs[i] = c.Clone()
	}
	out.Units = append([]Unit(nil), s.Units...)
	out.Operators = append([]Operator(nil), s.Operators...)
	out.Forms = append([]FormRecord(nil), s.Forms...)
	return out
}

// ListCADs implements RuleView.
func (s Snapshot) ListCADs() []CAD { return s.CADs }

// ListUnits implements RuleView.
func (s Snapshot) ListUnits() []Unit { return s.Units }

// FindCAD returns the CAD with the given reference.
func (s Snapshot) FindCAD(reference string) (CAD, bool) {
	for _, c := range s.CADs {
		if c.Reference == reference {
			return c, true
		}
	}
	return CAD{}, false
}

// FindUnit returns the unit with the given callsign.
func (s Snapshot) FindUnit(callsign string) (Unit, bool) {
	callsign = NormalizeCallsign(callsign)
	for _, u := range s.Units {
		if u.Callsign == callsign {
			return u, true
		}
	}
	return Unit{}, false
}

// AssignmentIndex maps each callsign assigned to an open CAD onto that CAD's reference.
func (s Snapshot) AssignmentIndex() map[string]string {
	index := make(map[string]string)
	for _, c := range s.CADs {
		if c.Closed() {
			continue
		}
		for _, cs := range c.AssignedUnits {
			if _, seen := index[cs]; !seen {
				index[cs] = c.Reference
			}
		}
	}
	return index
}

// OpenCADs returns open calls ordered by grading priority then newest first.
func (s Snapshot) OpenCADs() []CAD {
	out := make([]CAD, 0, len(s.CADs))
	for _, c := range s.CADs {
		if !c.Closed() {
			out = append(out, c)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if pi, pj := out[i].Grading.Priority(), out[j].Grading.Priority(); pi != pj {
			return pi < pj
		}
		return out[i].StartTime.After(out[j].StartTime)
	})
	return out
}

// AvailableUnits returns units currently AVAILABLE, sorted by callsign.
func (s Snapshot) AvailableUnits() []Unit {
	out := make([]Unit, 0, len(s.Units))
	for _, u := range s.Units {
		if u.Status == UnitStatusAvailable {
			out = append(out, u)
		}
	}
	slices.SortFunc(out, func(a, b Unit) int {
		switch {
		case a.Callsign < b.Callsign:
			return -1
		case a.Callsign > b.Callsign:
			return 1
		}
		return 0
	})
	return out
}

// OnDutyOperators filters operators by heartbeat recency.
func (s Snapshot) OnDutyOperators(now time.Time, window time.Duration) []Operator {
	out := make([]Operator, 0, len(s.Operators))
	for _, op := range s.Operators {
		if op.OnDuty(now, window) {
			out = append(out, op)
		}
	}
	return out
}
