// Package dispatch holds the lifecycle and assignment state machine. Every
// mutation of calls, units, operators and forms originates here.
package dispatch

import (
	"context"
	"fmt"
	"sync"
	"time"

	"controlroom/internal/archive"
	"controlroom/internal/auth"
	"controlroom/internal/logger"
	"controlroom/internal/metrics"
	"controlroom/internal/notifier"
	"controlroom/pkg/domain"

	"github.com/google/uuid"
)

// Options configures a Service. Zero values select working defaults.
type Options struct {
	Now      func() time.Time
	NewID    func() string
	Notifier notifier.Sink
	Archiver *archive.Archiver
	Gate     *auth.Gate
	Logger   *logger.Logger
	Metrics  metrics.Recorder
	// Rules replaces the default engine (invariants plus lifecycle transitions).
	Rules *domain.RulesEngine
}

// Service applies operator mutations for one window. Calls are serialized.
type Service struct {
	store    domain.Store
	now      func() time.Time
	newID    func() string
	sink     notifier.Sink
	archiver *archive.Archiver
	gate     *auth.Gate
	log      *logger.Logger
	rec      metrics.Recorder
	rules    *domain.RulesEngine

	mu   sync.Mutex
	next int
}

// DefaultRules returns the rules every mutation is checked against.
func DefaultRules() *domain.RulesEngine {
	engine := domain.NewRulesEngine()
	engine.Register(domain.InvariantRule())
	engine.Register(LifecycleTransitionRule())
	return engine
}

// NewService constructs a service writing through store.
func NewService(store domain.Store, opts Options) *Service {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.NewID == nil {
		opts.NewID = uuid.NewString
	}
	if opts.Rules == nil {
		opts.Rules = DefaultRules()
	}
	return &Service{
		store:    store,
		now:      opts.Now,
		newID:    opts.NewID,
		sink:     notifier.OrNop(opts.Notifier),
		archiver: opts.Archiver,
		gate:     opts.Gate,
		log:      logger.OrDiscard(opts.Logger).WithComponent("dispatch"),
		rec:      metrics.OrNop(opts.Metrics),
		rules:    opts.Rules,
		next:     1,
	}
}

// NextCADNumber returns the counter value the next CAD will use.
func (s *Service) NextCADNumber() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.next
}

// SyncCounter raises the local counter to at least n. It never lowers it.
func (s *Service) SyncCounter(n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.raiseCounterLocked(n)
}

func (s *Service) raiseCounterLocked(n int) {
	if n > s.next {
		s.next = n
	}
}

// observe records duration and outcome of operation.
func (s *Service) observe(ctx context.Context, operation string, start time.Time, err *error) {
	success := *err == nil
	s.rec.Observe(ctx, operation, success, s.now().Sub(start))
	if !success {
		s.log.WithError(*err).WithField("operation", operation).Debug("operation rejected")
	}
}

// load reads the current state and raises the counter past every persisted
// reference.
func (s *Service) load(ctx context.Context) (domain.Snapshot, error) {
	snap, err := s.store.LoadAll(ctx)
	if err != nil {
		return domain.Snapshot{}, fmt.Errorf("load state: %w", err)
	}
	s.raiseCounterLocked(snap.NextCADNumber)
	s.raiseCounterLocked(domain.HighestReferenceNumber(snap.CADs) + 1)
	return snap, nil
}

// commit evaluates the rules on the post-state and writes the changes.
func (s *Service) commit(ctx context.Context, m *mutation) error {
	res, err := s.rules.Evaluate(ctx, m.post, m.changes)
	if err != nil {
		return fmt.Errorf("evaluate rules: %w", err)
	}
	for _, v := range res.Violations {
		if v.Severity == domain.SeverityWarn {
			s.log.WithFields(map[string]any{"rule": v.Rule, "entity": v.Entity, "key": v.EntityID}).Warn(v.Message)
		}
	}
	if res.HasBlocking() {
		return domain.RuleViolationError{Result: res}
	}
	return m.persist(ctx, s.store)
}

func (s *Service) notify(ctx context.Context, msg notifier.Message) {
	s.sink.Notify(context.WithoutCancel(ctx), msg)
}

func requireCAD(snap domain.Snapshot, reference string) (domain.CAD, error) {
	cad, ok := snap.FindCAD(reference)
	if !ok {
		return domain.CAD{}, &domain.NotFoundError{Entity: domain.EntityCAD, Key: reference}
	}
	return cad.Clone(), nil
}

func requireUnit(snap domain.Snapshot, callsign string) (domain.Unit, error) {
	unit, ok := snap.FindUnit(callsign)
	if !ok {
		return domain.Unit{}, &domain.NotFoundError{Entity: domain.EntityUnit, Key: domain.NormalizeCallsign(callsign)}
	}
	return unit, nil
}
