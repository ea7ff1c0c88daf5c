// Package reconcile turns change signals into a fresh view of the control
// room and decides what each window re-renders.
package reconcile

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"controlroom/internal/logger"
	"controlroom/internal/metrics"
	"controlroom/pkg/domain"

	"github.com/cespare/xxhash/v2"
)

// Renderer receives rendering instructions. Calls are made while the engine
// holds its lock and must not call back into the engine.
type Renderer interface {
	RenderLists(view View)
	RenderDetail(cad domain.CAD, units []domain.Unit)
	CloseDetail(reference string)
}

// Outcome describes what a reconcile pass did.
type Outcome string

// Reconcile outcomes, also used as metric labels.
const (
	OutcomeRendered  Outcome = "rendered"
	OutcomeUnchanged Outcome = "unchanged"
	OutcomeDetail    Outcome = "detail"
	OutcomeStale     Outcome = "stale"
	OutcomeDeferred  Outcome = "deferred"
	OutcomeError     Outcome = "error"
)

// View is the normalized state a window renders from.
type View struct {
	Snapshot        domain.Snapshot
	OpenCADs        []domain.CAD
	AssignmentIndex map[string]string
	AvailableUnits  []domain.Unit
	OnDutyOperators []domain.Operator
	Warnings        []domain.Violation
	Fingerprint     uint64
	Version         uint64
	LoadedAt        time.Time
}

// Options tunes an Engine.
type Options struct {
	Logger  *logger.Logger
	Metrics metrics.Recorder
	Now     func() time.Time
	Recency time.Duration
	// OnApplied runs after every successful load with the fresh view, outside
	// the engine's view lock.
	OnApplied func(View)
}

// Engine owns one window's view of the shared state.
type Engine struct {
	store    domain.Store
	feed     domain.ChangeFeed
	renderer Renderer
	log      *logger.Logger
	rec      metrics.Recorder
	now      func() time.Time
	recency  time.Duration
	applied  func(View)

	// passMu serializes passes; mu guards view and UI context only and is
	// never held across storage I/O.
	passMu sync.Mutex
	mu     sync.Mutex
	view   View
	ui     UIContext
	listed uint64
}

// New builds an engine. feed may be nil when the host drives Reconcile itself.
func New(store domain.Store, feed domain.ChangeFeed, renderer Renderer, opts Options) *Engine {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Recency <= 0 {
		opts.Recency = domain.DefaultOperatorRecency
	}
	return &Engine{
		store:    store,
		feed:     feed,
		renderer: renderer,
		log:      logger.OrDiscard(opts.Logger).WithComponent("reconcile"),
		rec:      metrics.OrNop(opts.Metrics),
		now:      opts.Now,
		recency:  opts.Recency,
		applied:  opts.OnApplied,
	}
}

// View returns the most recently applied view.
func (e *Engine) View() View {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.view
}

// Reconcile re-reads the full state and applies it according to the UI
// context. Passes are serialized; the UI context stays usable while a pass
// waits on storage.
func (e *Engine) Reconcile(ctx context.Context) (Outcome, error) {
	e.passMu.Lock()
	defer e.passMu.Unlock()

	snap, err := e.store.LoadAll(ctx)
	if err != nil {
		e.rec.Reconcile(string(OutcomeError))
		return OutcomeError, fmt.Errorf("load state: %w", err)
	}
	next := e.normalize(snap)

	e.mu.Lock()
	changed := e.view.Version == 0 || next.Fingerprint != e.view.Fingerprint
	if changed {
		next.Version = e.view.Version + 1
		for _, w := range next.Warnings {
			e.log.WithFields(map[string]any{"rule": w.Rule, "entity": w.Entity, "key": w.EntityID}).Warn(w.Message)
		}
		e.view = next
	}
	current := e.view
	outcome := e.apply(changed)
	e.mu.Unlock()

	if e.applied != nil {
		e.applied(current)
	}
	e.rec.Reconcile(string(outcome))
	return outcome, nil
}

func (e *Engine) apply(changed bool) Outcome {
	switch e.ui.Kind {
	case ContextDetail:
		ref := e.ui.Reference
		cad, ok := e.view.Snapshot.FindCAD(ref)
		if !ok {
			e.ui = UIContext{}
			e.renderer.CloseDetail(ref)
			e.log.WithError(&domain.StaleReferenceError{Entity: domain.EntityCAD, Key: ref}).Info("closing detail view")
			e.renderLists()
			return OutcomeStale
		}
		if !changed {
			return OutcomeUnchanged
		}
		e.renderer.RenderDetail(cad, assignedUnits(e.view, cad))
		return OutcomeDetail
	case ContextModal, ContextForm:
		return OutcomeDeferred
	}
	if !changed && e.listed == e.view.Fingerprint {
		return OutcomeUnchanged
	}
	e.renderLists()
	return OutcomeRendered
}

func (e *Engine) renderLists() {
	e.renderer.RenderLists(e.view)
	e.listed = e.view.Fingerprint
}

func (e *Engine) normalize(snap domain.Snapshot) View {
	now := e.now()
	return View{
		Snapshot:        snap,
		OpenCADs:        snap.OpenCADs(),
		AssignmentIndex: snap.AssignmentIndex(),
		AvailableUnits:  snap.AvailableUnits(),
		OnDutyOperators: snap.OnDutyOperators(now, e.recency),
		Warnings:        domain.CheckInvariants(snap),
		Fingerprint:     fingerprint(snap),
		LoadedAt:        now,
	}
}

func fingerprint(snap domain.Snapshot) uint64 {
	data, err := json.Marshal(snap)
	if err != nil {
		return 0
	}
	return xxhash.Sum64(data)
}

func assignedUnits(view View, cad domain.CAD) []domain.Unit {
	out := make([]domain.Unit, 0, len(cad.AssignedUnits))
	for _, callsign := range cad.AssignedUnits {
		if u, ok := view.Snapshot.FindUnit(callsign); ok {
			out = append(out, u)
		}
	}
	return out
}

// Run reconciles once, then once per change signal until ctx is done.
// Failed passes are logged and the loop carries on.
func (e *Engine) Run(ctx context.Context) error {
	if e.feed == nil {
		return errors.New("reconcile: no change feed")
	}
	signals, err := e.feed.Subscribe(ctx)
	if err != nil {
		return fmt.Errorf("subscribe: %w", err)
	}
	e.pass(ctx, "initial")
	for {
		select {
		case <-ctx.Done():
			return nil
		case sig, ok := <-signals:
			if !ok {
				if ctx.Err() != nil {
					return nil
				}
				return errors.New("reconcile: change feed closed")
			}
			e.rec.Signal(string(sig.Source))
			e.pass(ctx, string(sig.Source))
		}
	}
}

func (e *Engine) pass(ctx context.Context, trigger string) {
	if _, err := e.Reconcile(ctx); err != nil && ctx.Err() == nil {
		e.log.WithError(err).WithField("trigger", trigger).Error("reconcile failed")
	}
}
