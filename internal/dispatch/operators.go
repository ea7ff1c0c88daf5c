package dispatch

import (
	"context"
	"errors"
	"strings"
	"time"

	"controlroom/internal/notifier"
	"controlroom/pkg/domain"
)

// ErrNoGate is returned by BookOn when the service has no access gate.
var ErrNoGate = errors.New("dispatch: no access gate configured")

// BookOn checks the shared access code and starts an operator's shift.
// A rejected code leaves every record untouched.
func (s *Service) BookOn(ctx context.Context, accessCode, name, id string) (op domain.Operator, err error) {
	defer s.observe(ctx, "book_on", s.now(), &err)
	if s.gate == nil {
		return domain.Operator{}, ErrNoGate
	}
	if err := s.gate.Check(accessCode); err != nil {
		s.log.WithField("operator", strings.TrimSpace(name)).Warn("access code rejected")
		return domain.Operator{}, err
	}
	now := s.now()
	op = domain.Operator{Name: strings.TrimSpace(name), ID: strings.TrimSpace(id), LastSeen: now, BookedOnAt: now}
	if err := domain.ValidateStruct(op); err != nil {
		return domain.Operator{}, err
	}
	if err := s.store.SaveOperator(ctx, op); err != nil {
		return domain.Operator{}, err
	}
	s.log.WithOperator(op.Name).WithField("id", op.ID).Info("operator booked on")
	s.notify(ctx, notifier.OperatorBookedOn(op))
	return op, nil
}

// Heartbeat refreshes the operator's presence.
func (s *Service) Heartbeat(ctx context.Context, op domain.Operator) error {
	op.LastSeen = s.now()
	return s.store.SaveOperator(ctx, op)
}

// BookOff ends the operator's shift and removes their presence.
func (s *Service) BookOff(ctx context.Context, op domain.Operator) (err error) {
	defer s.observe(ctx, "book_off", s.now(), &err)
	if err := s.store.RemoveOperator(ctx, op.Name); err != nil {
		return err
	}
	s.log.WithOperator(op.Name).Info("operator booked off")
	s.notify(ctx, notifier.OperatorBookedOff(op))
	return nil
}

// RunHeartbeat refreshes presence every interval until ctx is done.
func (s *Service) RunHeartbeat(ctx context.Context, op domain.Operator, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := s.Heartbeat(ctx, op); err != nil && ctx.Err() == nil {
				s.log.WithOperator(op.Name).WithError(err).Warn("heartbeat failed")
			}
		}
	}
}
