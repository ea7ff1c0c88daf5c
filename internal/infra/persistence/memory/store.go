// Package memory provides an in-memory implementation of the control room
// store used for tests and ephemeral environments.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"controlroom/internal/infra/persistence/feed"
	"controlroom/pkg/domain"
)

// Compile-time contract assertions ensuring memory.Store adheres to the domain persistence interfaces.
var (
	_ domain.Store      = (*Store)(nil)
	_ domain.ChangeFeed = (*Store)(nil)
)

type memoryState struct {
	cads      map[string]domain.CAD
	units     map[string]domain.Unit
	operators map[string]domain.Operator
	forms     []domain.FormRecord
	counter   int
}

func newMemoryState() memoryState {
	return memoryState{
		cads:      make(map[string]domain.CAD),
		units:     make(map[string]domain.Unit),
		operators: make(map[string]domain.Operator),
	}
}

// Option customises a Store.
type Option func(*Store)

// WithClock overrides the time source used for presence stamping and filtering.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// WithRecency overrides the operator on-duty window.
func WithRecency(window time.Duration) Option {
	return func(s *Store) { s.recency = window }
}

// Store keeps state in process memory and broadcasts a signal after each write.
type Store struct {
	mu      sync.RWMutex
	state   memoryState
	hub     *feed.Hub
	now     func() time.Time
	recency time.Duration
	seq     int64
}

// NewStore constructs an empty store.
func NewStore(opts ...Option) *Store {
	s := &Store{
		state:   newMemoryState(),
		hub:     feed.NewHub(),
		now:     time.Now,
		recency: domain.DefaultOperatorRecency,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Store) changed(collection string) {
	s.seq++
	s.hub.Broadcast(domain.Signal{Source: domain.SourceMemory, Collection: collection, Token: s.seq, At: s.now()})
}

// Subscribe implements domain.ChangeFeed.
func (s *Store) Subscribe(ctx context.Context) (<-chan domain.Signal, error) {
	return s.hub.Subscribe(ctx)
}

// SaveCAD upserts by reference.
func (s *Store) SaveCAD(_ context.Context, cad domain.CAD) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state.cads[cad.Reference] = cad.Clone()
	s.changed("cads")
	return nil
}

// GetCADs returns every CAD ordered by reference.
func (s *Store) GetCADs(_ context.Context) ([]domain.CAD, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cadsLocked(), nil
}

func (s *Store) cadsLocked() []domain.CAD {
	out := make([]domain.CAD, 0, len(s.state.cads))
	for _, c := range s.state.cads {
		out = append(out, c.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Reference < out[j].Reference })
	return out
}

// DeleteCAD removes a CAD by reference. Missing records are ignored.
func (s *Store) DeleteCAD(_ context.Context, reference string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.state.cads, reference)
	s.changed("cads")
	return nil
}

// SaveUnit upserts by callsign.
func (s *Store) SaveUnit(_ context.Context, unit domain.Unit) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state.units[unit.Callsign] = unit
	s.changed("units")
	return nil
}

// GetUnits returns every unit ordered by callsign.
func (s *Store) GetUnits(_ context.Context) ([]domain.Unit, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.unitsLocked(), nil
}

func (s *Store) unitsLocked() []domain.Unit {
	out := make([]domain.Unit, 0, len(s.state.units))
	for _, u := range s.state.units {
		out = append(out, u)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Callsign < out[j].Callsign })
	return out
}

// DeleteUnit removes a unit by callsign. Missing records are ignored.
func (s *Store) DeleteUnit(_ context.Context, callsign string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.state.units, callsign)
	s.changed("units")
	return nil
}

// SaveOperator upserts by name, stamping LastSeen when unset.
func (s *Store) SaveOperator(_ context.Context, op domain.Operator) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if op.LastSeen.IsZero() {
		op.LastSeen = s.now()
	}
	s.state.operators[op.Name] = op
	s.changed("operators")
	return nil
}

// GetOperators returns operators seen within the recency window.
func (s *Store) GetOperators(_ context.Context) ([]domain.Operator, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.operatorsLocked(), nil
}

func (s *Store) operatorsLocked() []domain.Operator {
	now := s.now()
	out := make([]domain.Operator, 0, len(s.state.operators))
	for _, op := range s.state.operators {
		if op.OnDuty(now, s.recency) {
			out = append(out, op)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// RemoveOperator deletes the presence record for name.
func (s *Store) RemoveOperator(_ context.Context, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.state.operators, name)
	s.changed("operators")
	return nil
}

// SaveCounter raises the persisted CAD counter; lower values are ignored.
func (s *Store) SaveCounter(_ context.Context, next int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if next > s.state.counter {
		s.state.counter = next
		s.changed("counter")
	}
	return nil
}

// AppendForm records a submitted form.
func (s *Store) AppendForm(_ context.Context, form domain.FormRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state.forms = append(s.state.forms, form)
	s.changed("forms")
	return nil
}

// LoadAll returns a consistent snapshot of every collection.
func (s *Store) LoadAll(_ context.Context) (domain.Snapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return domain.Snapshot{
		CADs:          s.cadsLocked(),
		Units:         s.unitsLocked(),
		Operators:     s.operatorsLocked(),
		Forms:         append([]domain.FormRecord(nil), s.state.forms...),
		NextCADNumber: s.state.counter,
	}, nil
}

// ImportState replaces the store contents, used to seed fixtures.
func (s *Store) ImportState(snapshot domain.Snapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	state := newMemoryState()
	for _, c := range snapshot.CADs {
		state.cads[c.Reference] = c.Clone()
	}
	for _, u := range snapshot.Units {
		state.units[u.Callsign] = u
	}
	for _, op := range snapshot.Operators {
		state.operators[op.Name] = op
	}
	state.forms = append(state.forms, snapshot.Forms...)
	state.counter = snapshot.NextCADNumber
	s.state = state
	s.changed("all")
}

// Close ends every change subscription.
func (s *Store) Close() error {
	s.hub.Close()
	return nil
}
