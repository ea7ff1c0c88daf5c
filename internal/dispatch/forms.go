package dispatch

import (
	"context"

	"controlroom/pkg/domain"
)

// LogIncident records an incident log entry.
func (s *Service) LogIncident(ctx context.Context, op domain.Operator, entry domain.IncidentLog) (domain.FormRecord, error) {
	return s.appendForm(ctx, op, domain.FormRecord{Kind: domain.FormIncidentLog, IncidentLog: &entry}, entry)
}

// LogMajorIncident records a major incident declaration.
func (s *Service) LogMajorIncident(ctx context.Context, op domain.Operator, entry domain.MajorIncident) (domain.FormRecord, error) {
	return s.appendForm(ctx, op, domain.FormRecord{Kind: domain.FormMajorIncident, MajorIncident: &entry}, entry)
}

// LogCallTaking records an inbound call. A CAD reference, when given, must
// exist.
func (s *Service) LogCallTaking(ctx context.Context, op domain.Operator, entry domain.CallTakingRecord) (domain.FormRecord, error) {
	if entry.CADRef != "" {
		snap, err := s.store.LoadAll(ctx)
		if err != nil {
			return domain.FormRecord{}, err
		}
		if _, ok := snap.FindCAD(entry.CADRef); !ok {
			return domain.FormRecord{}, &domain.NotFoundError{Entity: domain.EntityCAD, Key: entry.CADRef}
		}
	}
	return s.appendForm(ctx, op, domain.FormRecord{Kind: domain.FormCallTaking, CallTaking: &entry}, entry)
}

func (s *Service) appendForm(ctx context.Context, op domain.Operator, rec domain.FormRecord, payload any) (out domain.FormRecord, err error) {
	defer s.observe(ctx, "log_"+string(rec.Kind), s.now(), &err)
	if err := domain.ValidateStruct(payload); err != nil {
		return domain.FormRecord{}, err
	}
	rec.ID = s.newID()
	rec.SubmittedBy = op.Name
	rec.SubmittedAt = s.now()
	if err := s.store.AppendForm(ctx, rec); err != nil {
		return domain.FormRecord{}, err
	}
	s.log.WithOperator(op.Name).WithFields(map[string]any{"kind": rec.Kind, "id": rec.ID}).Info("form logged")
	return rec, nil
}
